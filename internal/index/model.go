package index

import (
	"context"

	"github.com/Aman-CERP/ferretbind/internal/fields"
)

// Record is one data store row bound to an index.
type Record interface {
	fields.Source
	ID() string
	ClassName() string
}

// Filter narrows a FindByIDs lookup with extra data store conditions.
// Conditions uses the data store's placeholder syntax.
type Filter struct {
	Conditions string
	Args       []any
}

// Model is the data store side of a bound model type.
type Model interface {
	// Name is the model's class name, stored in shared indexes.
	Name() string
	// Fields returns the model's field configuration.
	Fields() []fields.Config
	// Count returns the number of records.
	Count(ctx context.Context) (int, error)
	// EachBatch walks every record in batches within a single data store
	// transaction. fn returning an error stops the walk.
	EachBatch(ctx context.Context, batchSize int, fn func([]Record) error) error
	// FindByIDs loads the records with the given ids. Missing ids are
	// silently absent from the result. filter may be nil.
	FindByIDs(ctx context.Context, ids []string, filter *Filter) ([]Record, error)
}

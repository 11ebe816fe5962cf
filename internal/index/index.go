// Package index binds models to full-text indexes. It owns the index
// lifecycle (open, rebuild, versioned directory rotation), federated
// search across several indexes, and the per-model binding facade.
package index

import (
	"context"
	"log/slog"

	"github.com/Aman-CERP/ferretbind/internal/engine"
)

// ModelsAll disables the shared-index model filter.
const ModelsAll = "all"

// Index is the contract shared by local and remote indexes.
type Index interface {
	Definition() *Definition
	// EnsureReady opens the newest valid version or rebuilds one.
	EnsureReady(ctx context.Context) error
	// RebuildIndex rebuilds from the data store and returns the new
	// active directory. Empty models means every registered model.
	RebuildIndex(ctx context.Context, models []string) (string, error)
	Add(ctx context.Context, rec Record) error
	AddDocument(ctx context.Context, doc engine.Document) error
	Remove(ctx context.Context, id, classNameHint string) error
	// FindIDByContents streams ranked hits to fn and returns the total.
	FindIDByContents(ctx context.Context, query string, opts SearchOptions, fn func(IDHit) bool) (int, error)
	Highlight(ctx context.Context, id, className, query string, opts HighlightOptions) ([]string, error)
	MoreLikeThis(ctx context.Context, id, className string, opts MLTOptions) (*IDResult, error)
	TotalHits(ctx context.Context, query string, opts SearchOptions) (int, error)
	Status(ctx context.Context) (Status, error)
	Close() error
}

// MultiSearcher is implemented by indexes that federate searches
// themselves, such as a remote index whose server owns the members.
type MultiSearcher interface {
	MultiSearchIDs(ctx context.Context, models []string, query string, opts SearchOptions) (*IDResult, error)
}

// SearchOptions controls a search.
type SearchOptions struct {
	Offset int      `json:"offset,omitempty" msgpack:"offset,omitempty"`
	Limit  int      `json:"limit,omitempty" msgpack:"limit,omitempty"`
	Sort   []string `json:"sort,omitempty" msgpack:"sort,omitempty"`
	// Models restricts a shared index to these class names. ModelsAll
	// searches every model.
	Models     []string `json:"models,omitempty" msgpack:"models,omitempty"`
	Lazy       bool     `json:"lazy,omitempty" msgpack:"lazy,omitempty"`
	LazyFields []string `json:"lazy_fields,omitempty" msgpack:"lazy_fields,omitempty"`
	OrDefault  bool     `json:"or_default,omitempty" msgpack:"or_default,omitempty"`
	// Filter narrows eager materialization. It never crosses the wire.
	Filter *Filter `json:"-" msgpack:"-"`

	// Deprecated: use Offset.
	FirstDoc int `json:"first_doc,omitempty" msgpack:"first_doc,omitempty"`
	// Deprecated: use Limit.
	NumDocs int `json:"num_docs,omitempty" msgpack:"num_docs,omitempty"`
}

// Normalize maps deprecated paging options onto Offset and Limit.
func (o SearchOptions) Normalize() SearchOptions {
	if o.FirstDoc != 0 {
		slog.Warn("deprecated_search_option", slog.String("option", "first_doc"), slog.String("use", "offset"))
		if o.Offset == 0 {
			o.Offset = o.FirstDoc
		}
		o.FirstDoc = 0
	}
	if o.NumDocs != 0 {
		slog.Warn("deprecated_search_option", slog.String("option", "num_docs"), slog.String("use", "limit"))
		if o.Limit == 0 {
			o.Limit = o.NumDocs
		}
		o.NumDocs = 0
	}
	return o
}

func (o SearchOptions) lazy(def *Definition) bool {
	return o.Lazy || len(o.LazyFields) > 0 || def.IsLazy()
}

func (o SearchOptions) lazyFields(def *Definition) []string {
	switch {
	case len(o.LazyFields) > 0:
		return o.LazyFields
	case len(def.LazyFields) > 0:
		return def.LazyFields
	default:
		return def.Fields().StoredFields()
	}
}

// modelFilter returns the class names a search is restricted to, nil
// meaning no restriction.
func (o SearchOptions) modelFilter() []string {
	for _, m := range o.Models {
		if m == ModelsAll {
			return nil
		}
	}
	return o.Models
}

// IDHit is one ranked search result.
type IDHit struct {
	Model string  `json:"model" msgpack:"model"`
	ID    string  `json:"id" msgpack:"id"`
	Score float64 `json:"score" msgpack:"score"`
	// Data holds stored field values in lazy mode.
	Data map[string]string `json:"data,omitempty" msgpack:"data,omitempty"`
}

// IDResult is a page of hits plus the total number of matches.
type IDResult struct {
	Total int     `json:"total" msgpack:"total"`
	Hits  []IDHit `json:"hits" msgpack:"hits"`
}

// HighlightOptions controls excerpt generation.
type HighlightOptions struct {
	// Field restricts excerpts to one field. Empty means every
	// highlightable field.
	Field       string `json:"field,omitempty" msgpack:"field,omitempty"`
	NumExcerpts int    `json:"num_excerpts,omitempty" msgpack:"num_excerpts,omitempty"`
	PreTag      string `json:"pre_tag,omitempty" msgpack:"pre_tag,omitempty"`
	PostTag     string `json:"post_tag,omitempty" msgpack:"post_tag,omitempty"`
}

// State is the lifecycle state of a local index.
type State int

const (
	StateUninitialized State = iota
	StateReady
	StateRebuilding
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateRebuilding:
		return "rebuilding"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Status describes an index for operators.
type Status struct {
	Name       string   `json:"name" msgpack:"name"`
	Dir        string   `json:"dir" msgpack:"dir"`
	State      string   `json:"state" msgpack:"state"`
	DocCount   int      `json:"doc_count" msgpack:"doc_count"`
	Generation uint64   `json:"generation" msgpack:"generation"`
	Models     []string `json:"models" msgpack:"models"`
	Remote     string   `json:"remote,omitempty" msgpack:"remote,omitempty"`
}

// Progress reports rebuild advancement.
type Progress struct {
	Index string
	Model string
	Done  int
	Total int
}

// ProgressFunc receives rebuild progress. It is called from the
// rebuilding goroutine.
type ProgressFunc func(Progress)

package index

import (
	"sync"

	"github.com/Aman-CERP/ferretbind/internal/engine"
	ferrors "github.com/Aman-CERP/ferretbind/internal/errors"
	"github.com/Aman-CERP/ferretbind/internal/fields"
)

// Config describes one logical index before models register into it.
type Config struct {
	Name                   string
	Remote                 string
	RaiseOnConnectionError bool
	Lazy                   bool
	LazyFields             []string
	DefaultSearchFields    []string
	// StoreClassName keeps class_name on every document. Nil means true.
	StoreClassName *bool
}

// Definition is the runtime configuration of one logical index, possibly
// shared by several model types. Models register during startup; the
// active index directory changes on every rebuild.
type Definition struct {
	Name                   string
	BaseDir                string
	Remote                 string
	RaiseOnConnectionError bool
	Lazy                   bool
	LazyFields             []string
	StoreClassName         bool

	mu       sync.RWMutex
	fields   *fields.Set
	models   []string
	byName   map[string]Model
	indexDir string
}

func newDefinition(cfg Config, baseDir string) *Definition {
	store := true
	if cfg.StoreClassName != nil {
		store = *cfg.StoreClassName
	}
	d := &Definition{
		Name:                   cfg.Name,
		BaseDir:                baseDir,
		Remote:                 cfg.Remote,
		RaiseOnConnectionError: cfg.RaiseOnConnectionError,
		Lazy:                   cfg.Lazy,
		LazyFields:             append([]string(nil), cfg.LazyFields...),
		StoreClassName:         store,
		fields:                 fields.NewSet(),
		byName:                 make(map[string]Model),
	}
	if len(cfg.DefaultSearchFields) > 0 {
		d.fields.Pin(cfg.DefaultSearchFields)
	}
	return d
}

func (d *Definition) register(m Model) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fields.Register(m.Name(), m.Fields())
	d.models = append(d.models, m.Name())
	d.byName[m.Name()] = m
}

// Fields returns the merged field set.
func (d *Definition) Fields() *fields.Set {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.fields
}

// Models returns the registered model names in registration order.
func (d *Definition) Models() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]string(nil), d.models...)
}

// Model returns a registered model by name.
func (d *Definition) Model(name string) (Model, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	m, ok := d.byName[name]
	if !ok {
		return nil, ferrors.New(ferrors.ErrCodeUnknownModel, "model "+name+" is not bound to index "+d.Name, nil).
			WithDetail("model", name)
	}
	return m, nil
}

// Shared reports whether more than one model type lives in the index.
func (d *Definition) Shared() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.models) > 1
}

// IndexDir returns the active version directory, empty before the first
// open or rebuild.
func (d *Definition) IndexDir() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.indexDir
}

// SetIndexDir records a new active version directory.
func (d *Definition) SetIndexDir(dir string) {
	d.mu.Lock()
	d.indexDir = dir
	d.mu.Unlock()
}

// IsLazy reports whether searches return stored data by default.
func (d *Definition) IsLazy() bool {
	return d.Lazy || len(d.LazyFields) > 0
}

// modelFields returns the merged configuration of the fields a model
// declares. Unknown models get every field.
func (d *Definition) modelFields(model string) []fields.Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	m, ok := d.byName[model]
	if !ok {
		return d.fields.Fields()
	}
	return mergedFields(d.fields, m)
}

// Document builds the index document of rec.
func (d *Definition) Document(rec Record) engine.Document {
	return fields.ToDocument(d.modelFields(rec.ClassName()), rec.ID(), rec.ClassName(), rec)
}

func mergedFields(set *fields.Set, m Model) []fields.Config {
	own := m.Fields()
	out := make([]fields.Config, 0, len(own))
	for _, c := range own {
		if merged, ok := set.Get(c.Name); ok {
			out = append(out, merged)
		}
	}
	return out
}

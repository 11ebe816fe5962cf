package index

import (
	"context"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	ferrors "github.com/Aman-CERP/ferretbind/internal/errors"
	"github.com/Aman-CERP/ferretbind/internal/metrics"
)

// DefaultMultiCacheSize bounds the number of cached multi indexes.
const DefaultMultiCacheSize = 32

// RemoteFactory builds the remote proxy for a definition with a Remote
// endpoint.
type RemoteFactory func(def *Definition) (Index, error)

// Registry holds every index definition and the one Index instance per
// index directory. It is built at startup and passed explicitly.
type Registry struct {
	baseDir   string
	remote    RemoteFactory
	progress  ProgressFunc
	batchSize int
	metrics   *metrics.Metrics
	watcher   *Watcher
	cacheSize int

	mu      sync.Mutex
	defs    map[string]*Definition
	order   []string
	byModel map[string]*Definition
	indexes map[string]Index
	multi   *lru.Cache[string, *MultiIndex]
}

// Option configures a Registry.
type Option func(*Registry)

// WithRemoteFactory sets how remote indexes are built.
func WithRemoteFactory(f RemoteFactory) Option {
	return func(r *Registry) { r.remote = f }
}

// WithProgress reports rebuild progress of every local index.
func WithProgress(fn ProgressFunc) Option {
	return func(r *Registry) { r.progress = fn }
}

// WithRebuildBatchSize sets the rebuild batch size of local indexes.
func WithRebuildBatchSize(n int) Option {
	return func(r *Registry) { r.batchSize = n }
}

// WithMetrics records index activity.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithWatcher invalidates local indexes whose directory disappears. The
// registry takes ownership and closes it.
func WithWatcher(w *Watcher) Option {
	return func(r *Registry) { r.watcher = w }
}

// WithMultiCacheSize bounds the multi index cache.
func WithMultiCacheSize(n int) Option {
	return func(r *Registry) { r.cacheSize = n }
}

// NewRegistry creates an empty registry rooted at baseDir.
func NewRegistry(baseDir string, opts ...Option) (*Registry, error) {
	r := &Registry{
		baseDir:   baseDir,
		batchSize: DefaultBatchSize,
		cacheSize: DefaultMultiCacheSize,
		defs:      make(map[string]*Definition),
		byModel:   make(map[string]*Definition),
		indexes:   make(map[string]Index),
	}
	for _, opt := range opts {
		opt(r)
	}

	multi, err := lru.NewWithEvict[string, *MultiIndex](r.cacheSize, func(key string, mi *MultiIndex) {
		if err := mi.Close(); err != nil {
			slog.Warn("multi_index_close_failed", slog.String("key", key), slog.String("error", err.Error()))
		}
	})
	if err != nil {
		return nil, ferrors.ConfigError("invalid multi index cache size", err)
	}
	r.multi = multi
	return r, nil
}

// BaseDir returns the root of all index directories.
func (r *Registry) BaseDir() string {
	return r.baseDir
}

// Register binds models to the index named by cfg, creating the
// definition on first use. Registering into an existing index grows its
// model list and merges fields.
func (r *Registry) Register(cfg Config, models ...Model) (*Definition, error) {
	if cfg.Name == "" {
		return nil, ferrors.ConfigError("index name is required", nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	def, ok := r.defs[cfg.Name]
	if !ok {
		def = newDefinition(cfg, filepath.Join(r.baseDir, cfg.Name))
		r.defs[cfg.Name] = def
		r.order = append(r.order, cfg.Name)
	}

	for _, m := range models {
		name := m.Name()
		if name == "" {
			return nil, ferrors.ConfigError("model name is required", nil)
		}
		if other, ok := r.byModel[name]; ok {
			return nil, ferrors.ConfigError("model "+name+" is already bound to index "+other.Name, nil).
				WithDetail("model", name)
		}
		def.register(m)
		r.byModel[name] = def
		slog.Debug("model_registered", slog.String("model", name), slog.String("index", def.Name))
	}
	return def, nil
}

// Definitions returns every definition in registration order.
func (r *Registry) Definitions() []*Definition {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Definition, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.defs[name])
	}
	return out
}

// Definition returns the definition of an index by name.
func (r *Registry) Definition(name string) (*Definition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	def, ok := r.defs[name]
	if !ok {
		return nil, ferrors.ConfigError("unknown index "+name, nil)
	}
	return def, nil
}

// DefinitionFor returns the definition a model is bound to.
func (r *Registry) DefinitionFor(model string) (*Definition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.definitionForLocked(model)
}

func (r *Registry) definitionForLocked(model string) (*Definition, error) {
	def, ok := r.byModel[model]
	if !ok {
		return nil, ferrors.New(ferrors.ErrCodeUnknownModel, "model "+model+" is not bound to any index", nil).
			WithDetail("model", model)
	}
	return def, nil
}

// Model returns a bound model by name.
func (r *Registry) Model(name string) (Model, error) {
	def, err := r.DefinitionFor(name)
	if err != nil {
		return nil, err
	}
	return def.Model(name)
}

// Index returns the index a model is bound to.
func (r *Registry) Index(model string) (Index, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	def, err := r.definitionForLocked(model)
	if err != nil {
		return nil, err
	}
	return r.indexLocked(def)
}

// IndexNamed returns an index by its definition name.
func (r *Registry) IndexNamed(name string) (Index, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	def, ok := r.defs[name]
	if !ok {
		return nil, ferrors.ConfigError("unknown index "+name, nil)
	}
	return r.indexLocked(def)
}

// indexLocked returns the single Index instance of def's directory.
func (r *Registry) indexLocked(def *Definition) (Index, error) {
	if idx, ok := r.indexes[def.BaseDir]; ok {
		return idx, nil
	}

	var idx Index
	if def.Remote != "" {
		if r.remote == nil {
			return nil, ferrors.ConfigError("index "+def.Name+" is remote but no remote factory is configured", nil)
		}
		remote, err := r.remote(def)
		if err != nil {
			return nil, err
		}
		idx = remote
	} else {
		opts := []LocalOption{
			WithBatchSize(r.batchSize),
			WithProgressFunc(r.progress),
			WithLocalMetrics(r.metrics),
		}
		if r.watcher != nil {
			opts = append(opts, WithSwapHook(r.watcher.Track))
		}
		local := NewLocalIndex(def, opts...)
		if r.watcher != nil {
			if err := r.watcher.Watch(local); err != nil {
				slog.Warn("index_watch_failed", slog.String("index", def.Name), slog.String("error", err.Error()))
			}
		}
		idx = local
	}
	r.indexes[def.BaseDir] = idx
	return idx, nil
}

// MultiKey is the cache key of a multi index over models.
func MultiKey(models []string) string {
	sorted := append([]string(nil), models...)
	sort.Strings(sorted)
	out := sorted[:0]
	for i, m := range sorted {
		if i == 0 || m != sorted[i-1] {
			out = append(out, m)
		}
	}
	return strings.Join(out, ",")
}

// MultiIndex returns the cached federation over models, building it on
// first use. Every model must be bound to a local index.
func (r *Registry) MultiIndex(ctx context.Context, models []string) (*MultiIndex, error) {
	if len(models) == 0 {
		return nil, ferrors.ConfigError("multi index needs at least one model", nil)
	}
	key := MultiKey(models)
	if mi, ok := r.multi.Get(key); ok {
		return mi, nil
	}

	names := strings.Split(key, ",")
	r.mu.Lock()
	var members []*LocalIndex
	seen := make(map[*Definition]bool)
	for _, name := range names {
		def, err := r.definitionForLocked(name)
		if err != nil {
			r.mu.Unlock()
			return nil, err
		}
		if seen[def] {
			continue
		}
		seen[def] = true
		idx, err := r.indexLocked(def)
		if err != nil {
			r.mu.Unlock()
			return nil, err
		}
		local, ok := idx.(*LocalIndex)
		if !ok {
			r.mu.Unlock()
			return nil, ferrors.ConfigError("model "+name+" is served remotely and cannot join a local multi index", nil)
		}
		members = append(members, local)
	}
	r.mu.Unlock()

	mi, err := newMultiIndex(ctx, key, names, members, r.Model, r.metrics)
	if err != nil {
		return nil, err
	}
	if prev, ok, _ := r.multi.PeekOrAdd(key, mi); ok {
		_ = mi.Close()
		return prev, nil
	}
	return mi, nil
}

// Close closes every multi index and index.
func (r *Registry) Close() error {
	r.multi.Purge()

	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for dir, idx := range r.indexes {
		if err := idx.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(r.indexes, dir)
	}
	if r.watcher != nil {
		if err := r.watcher.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

package index

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/Aman-CERP/ferretbind/internal/engine"
	ferrors "github.com/Aman-CERP/ferretbind/internal/errors"
	"github.com/Aman-CERP/ferretbind/internal/metrics"
)

var _ Index = (*LocalIndex)(nil)

// DefaultBatchSize is the number of records loaded per rebuild batch.
const DefaultBatchSize = 1000

// LocalIndex owns the index directory of one Definition in this process.
//
// The engine pointer is guarded by mu. Searches take a reference on the
// engine they resolved, so a rebuild can swap in a new engine while they
// finish against the old one.
type LocalIndex struct {
	def       *Definition
	batchSize int
	progress  ProgressFunc
	metrics   *metrics.Metrics
	onSwap    func(l *LocalIndex, dir string)

	mu    sync.RWMutex
	eng   *engine.Engine
	state State

	ensureMu   sync.Mutex
	rebuilding atomic.Bool
}

// LocalOption configures a LocalIndex.
type LocalOption func(*LocalIndex)

// WithBatchSize sets the rebuild batch size.
func WithBatchSize(n int) LocalOption {
	return func(l *LocalIndex) {
		if n > 0 {
			l.batchSize = n
		}
	}
}

// WithProgressFunc sets the rebuild progress callback.
func WithProgressFunc(fn ProgressFunc) LocalOption {
	return func(l *LocalIndex) { l.progress = fn }
}

// WithLocalMetrics records rebuilds and writes.
func WithLocalMetrics(m *metrics.Metrics) LocalOption {
	return func(l *LocalIndex) { l.metrics = m }
}

// WithSwapHook is called after a new version directory became active.
func WithSwapHook(fn func(l *LocalIndex, dir string)) LocalOption {
	return func(l *LocalIndex) { l.onSwap = fn }
}

// NewLocalIndex returns an uninitialized index for def. Nothing touches
// the disk until EnsureReady or the first operation.
func NewLocalIndex(def *Definition, opts ...LocalOption) *LocalIndex {
	l := &LocalIndex{def: def, batchSize: DefaultBatchSize}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Definition returns the index definition.
func (l *LocalIndex) Definition() *Definition {
	return l.def
}

// State returns the lifecycle state.
func (l *LocalIndex) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

func (l *LocalIndex) ready() (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.state == StateClosed {
		return false, ferrors.New(ferrors.ErrCodeIndexClosed, "index "+l.def.Name+" is closed", nil)
	}
	return l.eng != nil && !l.eng.Closed(), nil
}

// EnsureReady opens the newest valid version directory, rebuilding when
// there is none. Concurrent callers wait for a single open or rebuild.
func (l *LocalIndex) EnsureReady(ctx context.Context) error {
	if ok, err := l.ready(); ok || err != nil {
		return err
	}

	l.ensureMu.Lock()
	defer l.ensureMu.Unlock()
	if ok, err := l.ready(); ok || err != nil {
		return err
	}

	dir, err := latestVersion(l.def.BaseDir)
	if err != nil {
		return err
	}
	if dir != "" {
		eng, err := engine.Open(dir)
		if err == nil {
			l.swap(eng, dir)
			slog.Info("index_opened", slog.String("index", l.def.Name), slog.String("dir", dir))
			return nil
		}
		slog.Warn("index_open_failed",
			slog.String("index", l.def.Name),
			slog.String("dir", dir),
			slog.String("error", err.Error()))
	}

	slog.Info("index_missing_rebuilding", slog.String("index", l.def.Name), slog.String("base_dir", l.def.BaseDir))
	_, err = l.RebuildIndex(ctx, nil)
	return err
}

// swap installs eng as the active engine and retires the previous one.
func (l *LocalIndex) swap(eng *engine.Engine, dir string) {
	l.mu.Lock()
	old := l.eng
	l.eng = eng
	l.state = StateReady
	l.mu.Unlock()

	l.def.SetIndexDir(dir)
	if old != nil && old != eng {
		old.Retire()
	}
	if n, err := eng.NumDocs(); err == nil && l.metrics != nil {
		l.metrics.IndexDocCount.WithLabelValues(l.def.Name).Set(float64(n))
	}
	if l.onSwap != nil {
		l.onSwap(l, dir)
	}
}

// current returns the active engine without taking a reference.
func (l *LocalIndex) current(ctx context.Context) (*engine.Engine, error) {
	if err := l.EnsureReady(ctx); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.eng == nil {
		return nil, ferrors.New(ferrors.ErrCodeIndexClosed, "index "+l.def.Name+" is not open", nil)
	}
	return l.eng, nil
}

// acquire resolves the active engine and takes a reference on it. The
// returned release must be called when done.
func (l *LocalIndex) acquire(ctx context.Context) (*engine.Engine, func(), error) {
	for attempt := 0; attempt < 3; attempt++ {
		eng, err := l.current(ctx)
		if err != nil {
			return nil, nil, err
		}
		if eng.Acquire() {
			return eng, eng.Release, nil
		}
	}
	return nil, nil, ferrors.New(ferrors.ErrCodeIndexClosed, "index "+l.def.Name+" was closed while resolving it", nil)
}

// Invalidate drops the active engine so the next operation reopens or
// rebuilds. Used when the active directory disappears underneath us.
func (l *LocalIndex) Invalidate() {
	l.mu.Lock()
	old := l.eng
	l.eng = nil
	if l.state != StateClosed {
		l.state = StateUninitialized
	}
	l.mu.Unlock()

	if old != nil {
		slog.Warn("index_invalidated", slog.String("index", l.def.Name), slog.String("dir", old.Path()))
		old.Retire()
	}
}

// Add indexes a record, replacing any document with the same key.
func (l *LocalIndex) Add(ctx context.Context, rec Record) error {
	return l.AddDocument(ctx, l.def.Document(rec))
}

// AddDocument indexes a prebuilt document, replacing any document with
// the same key.
func (l *LocalIndex) AddDocument(ctx context.Context, doc engine.Document) error {
	if doc.ID == "" {
		return ferrors.New(ferrors.ErrCodeInternal, "document without id", nil)
	}
	if doc.ClassName == "" {
		if models := l.def.Models(); len(models) == 1 {
			doc.ClassName = models[0]
		}
	}

	eng, release, err := l.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	if err := eng.Add(doc); err != nil {
		return err
	}
	l.metrics.AddDocs(l.def.Name, 1)
	return nil
}

// Remove deletes a record's document. In an index storing class names
// the delete also matches classNameHint.
func (l *LocalIndex) Remove(ctx context.Context, id, classNameHint string) error {
	eng, release, err := l.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	n, err := eng.DeleteByQuery(ctx, l.recordQuery(id, classNameHint))
	if err != nil {
		return err
	}
	slog.Debug("index_remove", slog.String("index", l.def.Name), slog.String("id", id), slog.Int("deleted", n))
	return nil
}

func (l *LocalIndex) recordQuery(id, className string) engine.Query {
	q := engine.Term(engine.IDField, id)
	if l.def.StoreClassName && className != "" {
		q = engine.And(q, engine.Term(engine.ClassNameField, className))
	}
	return q
}

func (l *LocalIndex) parseOptions(opts SearchOptions) engine.ParseOptions {
	set := l.def.Fields()
	return engine.ParseOptions{
		DefaultFields: set.DefaultSearchFields(),
		Boosts:        set.Boosts(),
		OrDefault:     opts.OrDefault,
	}
}

// restrict limits q to the given class names.
func restrict(q engine.Query, models []string) engine.Query {
	if len(models) == 0 || q.IsZero() {
		return q
	}
	terms := make([]engine.Query, 0, len(models))
	for _, m := range models {
		terms = append(terms, engine.Term(engine.ClassNameField, m))
	}
	return engine.And(q, engine.Or(terms...))
}

func (l *LocalIndex) engineOptions(opts SearchOptions) engine.SearchOptions {
	eo := engine.SearchOptions{Offset: opts.Offset, Limit: opts.Limit, Sort: opts.Sort}
	if opts.lazy(l.def) {
		eo.Fields = opts.lazyFields(l.def)
	}
	return eo
}

// hitModel names the model of a hit, falling back to the only model of
// an index without class names.
func (l *LocalIndex) hitModel(h engine.Hit) string {
	if h.ClassName != "" {
		return h.ClassName
	}
	if models := l.def.Models(); len(models) > 0 {
		return models[0]
	}
	return ""
}

// FindIDByContents runs query and streams ranked hits to fn. The query is
// parsed under the engine's read lock against the merged default fields.
func (l *LocalIndex) FindIDByContents(ctx context.Context, query string, opts SearchOptions, fn func(IDHit) bool) (int, error) {
	opts = opts.Normalize()
	eng, release, err := l.acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer release()

	q, err := eng.ParseQuery(query, l.parseOptions(opts))
	if err != nil {
		return 0, err
	}
	if l.def.StoreClassName {
		q = restrict(q, opts.modelFilter())
	}

	lazy := opts.lazy(l.def)
	return eng.SearchEach(ctx, q, l.engineOptions(opts), func(h engine.Hit) bool {
		hit := IDHit{Model: l.hitModel(h), ID: h.ID, Score: h.Score}
		if lazy {
			hit.Data = h.Fields
		}
		return fn(hit)
	})
}

// TotalHits counts the matches of query.
func (l *LocalIndex) TotalHits(ctx context.Context, query string, opts SearchOptions) (int, error) {
	eng, release, err := l.acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer release()

	q, err := eng.ParseQuery(query, l.parseOptions(opts))
	if err != nil {
		return 0, err
	}
	if l.def.StoreClassName {
		q = restrict(q, opts.modelFilter())
	}
	res, err := eng.Search(ctx, q, engine.SearchOptions{Limit: 1})
	if err != nil {
		return 0, err
	}
	return res.Total, nil
}

// resolve finds the single engine document of a record.
func (l *LocalIndex) resolve(ctx context.Context, eng *engine.Engine, id, className string) (string, error) {
	res, err := eng.Search(ctx, l.recordQuery(id, className), engine.SearchOptions{Limit: 2})
	if err != nil {
		return "", err
	}
	switch res.Total {
	case 0:
		return "", ferrors.NotFoundError(id)
	case 1:
		return res.Hits[0].DocID, nil
	default:
		return "", ferrors.AmbiguousRecordError(id, res.Total)
	}
}

// Highlight returns excerpts of the record's highlightable fields that
// match query.
func (l *LocalIndex) Highlight(ctx context.Context, id, className, query string, opts HighlightOptions) ([]string, error) {
	eng, release, err := l.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	q, err := eng.ParseQuery(query, l.parseOptions(SearchOptions{}))
	if err != nil {
		return nil, err
	}
	docID, err := l.resolve(ctx, eng, id, className)
	if err != nil {
		return nil, err
	}

	targets := l.def.Fields().HighlightFields()
	if opts.Field != "" {
		targets = nil
		if c, ok := l.def.Fields().Get(opts.Field); ok && c.Highlightable() {
			targets = []string{opts.Field}
		}
	}

	limit := opts.NumExcerpts
	if limit <= 0 {
		limit = engine.DefaultNumExcerpts
	}
	hopts := engine.HighlightOptions{NumExcerpts: limit, PreTag: opts.PreTag, PostTag: opts.PostTag}
	var out []string
	for _, field := range targets {
		if len(out) >= limit {
			break
		}
		frags, err := eng.Highlight(ctx, docID, q, field, hopts)
		if err != nil {
			return nil, err
		}
		out = append(out, frags...)
	}
	// The cap applies across fields, not just within one.
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Status reports the active directory and document count.
func (l *LocalIndex) Status(_ context.Context) (Status, error) {
	l.mu.RLock()
	eng, state := l.eng, l.state
	l.mu.RUnlock()

	st := Status{
		Name:   l.def.Name,
		Dir:    l.def.IndexDir(),
		State:  state.String(),
		Models: l.def.Models(),
	}
	if l.rebuilding.Load() {
		st.State = StateRebuilding.String()
	}
	if eng != nil && eng.Acquire() {
		defer eng.Release()
		n, err := eng.NumDocs()
		if err != nil {
			return st, err
		}
		st.DocCount = n
		st.Generation = eng.Generation()
	}
	return st, nil
}

// Close closes the index. The engine is closed once in-flight searches
// release it.
func (l *LocalIndex) Close() error {
	l.mu.Lock()
	old := l.eng
	l.eng = nil
	l.state = StateClosed
	l.mu.Unlock()
	if old != nil {
		old.Retire()
	}
	return nil
}

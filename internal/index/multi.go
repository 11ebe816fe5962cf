package index

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/ferretbind/internal/engine"
	ferrors "github.com/Aman-CERP/ferretbind/internal/errors"
	"github.com/Aman-CERP/ferretbind/internal/metrics"
)

// MultiIndex federates several local indexes into one searchable view.
// Queries run once against a composite reader, so scores and ordering
// come from a single merged search.
//
// A MultiIndex is meant for one caller at a time. Its methods serialize
// on an internal mutex, and Close must not race a running search.
type MultiIndex struct {
	key     string
	models  []string
	members []*LocalIndex
	lookup  modelLookup
	metrics *metrics.Metrics

	defaultFields []string
	boosts        map[string]float64
	storedFields  []string

	mu      sync.Mutex
	comp    *engine.Composite
	engines []*engine.Engine
	closed  bool
}

// newMultiIndex ensures every member is ready, concurrently, and merges
// their search fields.
func newMultiIndex(ctx context.Context, key string, models []string, members []*LocalIndex, lookup modelLookup, m *metrics.Metrics) (*MultiIndex, error) {
	g, gctx := errgroup.WithContext(ctx)
	for _, member := range members {
		g.Go(func() error {
			return member.EnsureReady(gctx)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	mi := &MultiIndex{
		key:     key,
		models:  models,
		members: members,
		lookup:  lookup,
		metrics: m,
		boosts:  make(map[string]float64),
	}
	seen := make(map[string]bool)
	seenStored := make(map[string]bool)
	for _, member := range members {
		set := member.def.Fields()
		for _, f := range set.DefaultSearchFields() {
			if !seen[f] {
				seen[f] = true
				mi.defaultFields = append(mi.defaultFields, f)
			}
		}
		for f, b := range set.Boosts() {
			if _, ok := mi.boosts[f]; !ok {
				mi.boosts[f] = b
			}
		}
		for _, f := range set.StoredFields() {
			if !seenStored[f] {
				seenStored[f] = true
				mi.storedFields = append(mi.storedFields, f)
			}
		}
	}
	return mi, nil
}

// Models returns the federated model names.
func (mi *MultiIndex) Models() []string {
	return append([]string(nil), mi.models...)
}

// DefaultFields returns the union of the members' default search fields.
func (mi *MultiIndex) DefaultFields() []string {
	return append([]string(nil), mi.defaultFields...)
}

// latest returns a composite over the members' current engines. A
// single stale member reopens the whole composite.
func (mi *MultiIndex) latest(ctx context.Context) (*engine.Composite, error) {
	if mi.closed {
		return nil, ferrors.New(ferrors.ErrCodeIndexClosed, "multi index "+mi.key+" is closed", nil)
	}

	engines := make([]*engine.Engine, len(mi.members))
	for i, member := range mi.members {
		eng, err := member.current(ctx)
		if err != nil {
			return nil, err
		}
		if !eng.Schema().StoreClassName {
			return nil, ferrors.New(ferrors.ErrCodeMissingClassName,
				"index "+member.def.Name+" does not store class names and cannot be searched together with other models", nil).
				WithSuggestion("enable store_class_name and rebuild the index")
		}
		engines[i] = eng
	}

	if mi.comp != nil && mi.comp.Latest() && sameEngines(mi.engines, engines) {
		return mi.comp, nil
	}

	if mi.comp != nil {
		_ = mi.comp.Close()
		mi.comp = nil
		mi.metrics.CompositeReopened()
		slog.Debug("multi_index_reopen", slog.String("key", mi.key))
	}
	comp, err := engine.OpenComposite(engines...)
	if err != nil {
		return nil, err
	}
	mi.comp = comp
	mi.engines = engines
	return comp, nil
}

func sameEngines(a, b []*engine.Engine) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// FindIDs runs query across the members and returns ranked hits
// restricted to the federated models.
func (mi *MultiIndex) FindIDs(ctx context.Context, query string, opts SearchOptions) (*IDResult, error) {
	mi.mu.Lock()
	defer mi.mu.Unlock()

	start := time.Now()
	res, err := mi.findIDs(ctx, query, opts.Normalize())
	mi.metrics.ObserveSearch("multi", time.Since(start), err)
	return res, err
}

func (mi *MultiIndex) findIDs(ctx context.Context, query string, opts SearchOptions) (*IDResult, error) {
	var res *IDResult
	var err error
	// A member may be swapped between resolving and pinning its engine.
	for attempt := 0; attempt < 2; attempt++ {
		res, err = mi.search(ctx, query, opts)
		if err == nil || !ferrors.HasCode(err, ferrors.ErrCodeIndexClosed) || mi.closed {
			return res, err
		}
		if mi.comp != nil {
			_ = mi.comp.Close()
			mi.comp = nil
		}
	}
	return res, err
}

func (mi *MultiIndex) search(ctx context.Context, query string, opts SearchOptions) (*IDResult, error) {
	comp, err := mi.latest(ctx)
	if err != nil {
		return nil, err
	}

	q, err := comp.ParseQuery(query, engine.ParseOptions{
		DefaultFields: mi.defaultFields,
		Boosts:        mi.boosts,
		OrDefault:     opts.OrDefault,
	})
	if err != nil {
		return nil, err
	}
	models := mi.models
	if filter := opts.modelFilter(); len(filter) > 0 {
		models = filter
	}
	q = restrict(q, models)

	eo := engine.SearchOptions{Offset: opts.Offset, Limit: opts.Limit, Sort: opts.Sort}
	lazy := opts.Lazy || len(opts.LazyFields) > 0
	if lazy {
		eo.Fields = opts.LazyFields
		if len(eo.Fields) == 0 {
			eo.Fields = mi.storedFields
		}
	}

	out := &IDResult{}
	var missing error
	total, err := comp.SearchEach(ctx, q, eo, func(h engine.Hit) bool {
		if h.ClassName == "" {
			missing = ferrors.New(ferrors.ErrCodeMissingClassName, "hit "+h.DocID+" has no stored class_name", nil)
			return false
		}
		hit := IDHit{Model: h.ClassName, ID: h.ID, Score: h.Score}
		if lazy {
			hit.Data = h.Fields
		}
		out.Hits = append(out.Hits, hit)
		return true
	})
	if err != nil {
		return nil, err
	}
	if missing != nil {
		return nil, missing
	}
	out.Total = total
	return out, nil
}

// FindRecords runs query and materializes the hits. Eager mode loads
// every hit from the data store, re-ranks and then pages; lazy mode
// pages in the engine and hydrates on demand.
func (mi *MultiIndex) FindRecords(ctx context.Context, query string, opts SearchOptions) (*Result, error) {
	opts = mi.lazyDefaults(opts.Normalize())
	mat := materializer{lookup: mi.lookup, metrics: mi.metrics}

	if opts.Lazy || len(opts.LazyFields) > 0 {
		res, err := mi.FindIDs(ctx, query, opts)
		if err != nil {
			return nil, err
		}
		return mat.lazy(res)
	}

	unpaged := opts
	unpaged.Offset, unpaged.Limit = 0, -1
	res, err := mi.FindIDs(ctx, query, unpaged)
	if err != nil {
		return nil, err
	}
	return mat.eager(ctx, res, opts)
}

// lazyDefaults turns lazy loading on when the options leave it unset and
// every member index is lazy. The lazy fields are the union of the
// members' lazy fields, in member order.
func (mi *MultiIndex) lazyDefaults(opts SearchOptions) SearchOptions {
	if opts.Lazy || len(opts.LazyFields) > 0 || len(mi.members) == 0 {
		return opts
	}
	seen := make(map[string]bool)
	var lazyFields []string
	for _, m := range mi.members {
		def := m.Definition()
		if !def.IsLazy() {
			return opts
		}
		for _, f := range opts.lazyFields(def) {
			if !seen[f] {
				seen[f] = true
				lazyFields = append(lazyFields, f)
			}
		}
	}
	opts.Lazy, opts.LazyFields = true, lazyFields
	return opts
}

// TotalHits counts matches across the members.
func (mi *MultiIndex) TotalHits(ctx context.Context, query string, opts SearchOptions) (int, error) {
	opts.Limit = 1
	opts.Offset = 0
	opts.Lazy, opts.LazyFields = false, nil
	res, err := mi.FindIDs(ctx, query, opts)
	if err != nil {
		return 0, err
	}
	return res.Total, nil
}

// Close releases the composite reader. Members stay open.
func (mi *MultiIndex) Close() error {
	mi.mu.Lock()
	defer mi.mu.Unlock()
	if mi.closed {
		return nil
	}
	mi.closed = true
	if mi.comp != nil {
		err := mi.comp.Close()
		mi.comp = nil
		return err
	}
	return nil
}

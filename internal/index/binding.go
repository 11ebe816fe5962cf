package index

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Binding is the per-model facade. It turns record lifecycle events into
// index operations and runs searches that return records.
type Binding struct {
	reg      *Registry
	model    Model
	disabled atomic.Bool
}

// Bind returns the binding of a registered model.
func (r *Registry) Bind(model string) (*Binding, error) {
	m, err := r.Model(model)
	if err != nil {
		return nil, err
	}
	return &Binding{reg: r, model: m}, nil
}

// Model returns the bound model.
func (b *Binding) Model() Model {
	return b.model
}

// Index returns the index the model is bound to.
func (b *Binding) Index() (Index, error) {
	return b.reg.Index(b.model.Name())
}

// DisableIndexing turns Add and Remove into no-ops.
func (b *Binding) DisableIndexing() {
	b.disabled.Store(true)
}

// EnableIndexing undoes DisableIndexing.
func (b *Binding) EnableIndexing() {
	b.disabled.Store(false)
}

// IndexingEnabled reports whether Add and Remove reach the index.
func (b *Binding) IndexingEnabled() bool {
	return !b.disabled.Load()
}

// Add indexes a saved record.
func (b *Binding) Add(ctx context.Context, rec Record) error {
	if b.disabled.Load() {
		return nil
	}
	idx, err := b.Index()
	if err != nil {
		return err
	}
	return idx.Add(ctx, rec)
}

// Remove drops a destroyed record from the index.
func (b *Binding) Remove(ctx context.Context, id string) error {
	if b.disabled.Load() {
		return nil
	}
	idx, err := b.Index()
	if err != nil {
		return err
	}
	return idx.Remove(ctx, id, b.model.Name())
}

// Rebuild rebuilds the model's index from every model bound to it.
func (b *Binding) Rebuild(ctx context.Context) (string, error) {
	idx, err := b.Index()
	if err != nil {
		return "", err
	}
	return idx.RebuildIndex(ctx, idx.Definition().Models())
}

// BulkIndex loads records by id in batches and indexes them.
func (b *Binding) BulkIndex(ctx context.Context, ids []string, batchSize int) error {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	idx, err := b.Index()
	if err != nil {
		return err
	}
	for start := 0; start < len(ids); start += batchSize {
		end := min(start+batchSize, len(ids))
		recs, err := b.model.FindByIDs(ctx, ids[start:end], nil)
		if err != nil {
			return err
		}
		for _, rec := range recs {
			if err := idx.Add(ctx, rec); err != nil {
				return err
			}
		}
		slog.Debug("bulk_index_batch", slog.String("model", b.model.Name()), slog.Int("indexed", end))
	}
	return nil
}

// searchOptions applies the shared-index model filter: a shared index
// only returns this model's records unless other models are requested.
func (b *Binding) searchOptions(def *Definition, opts SearchOptions) SearchOptions {
	opts = opts.Normalize()
	if len(opts.Models) == 0 && def.Shared() {
		opts.Models = []string{b.model.Name()}
	}
	return opts
}

// FindIDByContents streams ranked id hits to fn and returns the total.
func (b *Binding) FindIDByContents(ctx context.Context, query string, opts SearchOptions, fn func(IDHit) bool) (int, error) {
	idx, err := b.Index()
	if err != nil {
		return 0, err
	}
	start := time.Now()
	total, err := idx.FindIDByContents(ctx, query, b.searchOptions(idx.Definition(), opts), fn)
	b.reg.metrics.ObserveSearch("single", time.Since(start), err)
	return total, err
}

// FindByContents searches and returns records.
func (b *Binding) FindByContents(ctx context.Context, query string, opts SearchOptions) (*Result, error) {
	idx, err := b.Index()
	if err != nil {
		return nil, err
	}
	def := idx.Definition()
	opts = b.searchOptions(def, opts)
	if def.IsLazy() {
		opts.Lazy = true
		if len(opts.LazyFields) == 0 {
			opts.LazyFields = opts.lazyFields(def)
		}
	}

	mat := materializer{lookup: b.reg.Model, metrics: b.reg.metrics}
	if opts.lazy(def) {
		res, err := b.collect(ctx, idx, query, opts)
		if err != nil {
			return nil, err
		}
		return mat.lazy(res)
	}

	unpaged := opts
	unpaged.Offset, unpaged.Limit = 0, -1
	res, err := b.collect(ctx, idx, query, unpaged)
	if err != nil {
		return nil, err
	}
	return mat.eager(ctx, res, opts)
}

func (b *Binding) collect(ctx context.Context, idx Index, query string, opts SearchOptions) (*IDResult, error) {
	res := &IDResult{}
	total, err := idx.FindIDByContents(ctx, query, opts, func(h IDHit) bool {
		res.Hits = append(res.Hits, h)
		return true
	})
	if err != nil {
		return nil, err
	}
	res.Total = total
	return res, nil
}

// MultiSearch searches this model together with additional models and
// returns records ranked by one merged search.
func (b *Binding) MultiSearch(ctx context.Context, query string, additional []string, opts SearchOptions) (*Result, error) {
	models := append([]string{b.model.Name()}, additional...)
	opts = opts.Normalize()

	idx, err := b.Index()
	if err != nil {
		return nil, err
	}
	if remote, ok := idx.(MultiSearcher); ok && idx.Definition().Remote != "" {
		return b.remoteMultiSearch(ctx, remote, models, query, opts)
	}

	mi, err := b.reg.MultiIndex(ctx, models)
	if err != nil {
		return nil, err
	}
	return mi.FindRecords(ctx, query, opts)
}

func (b *Binding) remoteMultiSearch(ctx context.Context, remote MultiSearcher, models []string, query string, opts SearchOptions) (*Result, error) {
	mat := materializer{lookup: b.reg.Model, metrics: b.reg.metrics}
	if opts.Lazy || len(opts.LazyFields) > 0 {
		res, err := remote.MultiSearchIDs(ctx, models, query, opts)
		if err != nil {
			return nil, err
		}
		return mat.lazy(res)
	}
	unpaged := opts
	unpaged.Offset, unpaged.Limit = 0, -1
	res, err := remote.MultiSearchIDs(ctx, models, query, unpaged)
	if err != nil {
		return nil, err
	}
	return mat.eager(ctx, res, opts)
}

// Highlight returns excerpts of a record matching query.
func (b *Binding) Highlight(ctx context.Context, id, query string, opts HighlightOptions) ([]string, error) {
	idx, err := b.Index()
	if err != nil {
		return nil, err
	}
	return idx.Highlight(ctx, id, b.model.Name(), query, opts)
}

// MoreLikeThis returns records similar to rec.
func (b *Binding) MoreLikeThis(ctx context.Context, rec Record, opts MLTOptions) (*Result, error) {
	idx, err := b.Index()
	if err != nil {
		return nil, err
	}
	def := idx.Definition()
	opts.Search = b.searchOptions(def, opts.Search)

	res, err := idx.MoreLikeThis(ctx, rec.ID(), b.model.Name(), opts)
	if err != nil {
		return nil, err
	}
	mat := materializer{lookup: b.reg.Model, metrics: b.reg.metrics}
	if opts.Search.lazy(def) {
		return mat.lazy(res)
	}
	// The engine already paged; materialize the page as is.
	page := opts.Search
	page.Offset, page.Limit = 0, -1
	out, err := mat.eager(ctx, res, page)
	if err != nil {
		return nil, err
	}
	out.Total = res.Total
	return out, nil
}

// TotalHits counts the matches of query.
func (b *Binding) TotalHits(ctx context.Context, query string, opts SearchOptions) (int, error) {
	idx, err := b.Index()
	if err != nil {
		return 0, err
	}
	return idx.TotalHits(ctx, query, b.searchOptions(idx.Definition(), opts))
}

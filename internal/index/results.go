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

// Result is a page of records in rank order.
type Result struct {
	// Total counts every match. With a caller filter in eager mode it
	// counts the matches that passed the filter.
	Total   int
	Records []Record
	// Scores holds the rank score of each record.
	Scores []float64
}

type modelLookup func(name string) (Model, error)

// materializer turns id hits into records.
type materializer struct {
	lookup  modelLookup
	metrics *metrics.Metrics
}

// eager loads every hit from the data store, one query per model,
// restores the rank order and slices the requested page. hits must be
// the complete, unpaged ranking.
func (m materializer) eager(ctx context.Context, res *IDResult, opts SearchOptions) (*Result, error) {
	byModel := make(map[string][]string)
	var order []string
	for _, h := range res.Hits {
		if _, ok := byModel[h.Model]; !ok {
			order = append(order, h.Model)
		}
		byModel[h.Model] = append(byModel[h.Model], h.ID)
	}

	type key struct{ model, id string }
	found := make(map[key]Record, len(res.Hits))
	for _, name := range order {
		model, err := m.lookup(name)
		if err != nil {
			return nil, err
		}
		recs, err := model.FindByIDs(ctx, byModel[name], opts.Filter)
		if err != nil {
			return nil, err
		}
		for _, r := range recs {
			found[key{name, r.ID()}] = r
		}
	}

	ranked := &Result{}
	for _, h := range res.Hits {
		r, ok := found[key{h.Model, h.ID}]
		if !ok {
			if opts.Filter == nil {
				err := ferrors.StaleIndexReferenceError(h.Model, h.ID)
				slog.Warn("stale_index_reference",
					slog.String("model", h.Model),
					slog.String("id", h.ID),
					slog.String("hint", "rebuild your index"),
					slog.String("code", err.Code))
				m.metrics.StaleReference(h.Model)
			}
			continue
		}
		ranked.Records = append(ranked.Records, r)
		ranked.Scores = append(ranked.Scores, h.Score)
	}

	ranked.Total = res.Total
	if opts.Filter != nil {
		ranked.Total = len(ranked.Records)
	}
	ranked.Records, ranked.Scores = page(ranked.Records, ranked.Scores, opts.Offset, opts.Limit)
	return ranked, nil
}

func page(recs []Record, scores []float64, offset, limit int) ([]Record, []float64) {
	if offset >= len(recs) {
		return nil, nil
	}
	if offset < 0 {
		offset = 0
	}
	end := len(recs)
	if limit == 0 {
		limit = engine.DefaultLimit
	}
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return recs[offset:end], scores[offset:end]
}

// lazy wraps already paged hits into records backed by stored data.
func (m materializer) lazy(res *IDResult) (*Result, error) {
	out := &Result{Total: res.Total}
	for _, h := range res.Hits {
		model, err := m.lookup(h.Model)
		if err != nil {
			return nil, err
		}
		out.Records = append(out.Records, &LazyRecord{model: model, id: h.ID, className: h.Model, data: h.Data, metrics: m.metrics})
		out.Scores = append(out.Scores, h.Score)
	}
	return out, nil
}

// LazyRecord serves stored index values and loads the data store record
// the first time a value the index does not hold is read.
type LazyRecord struct {
	model     Model
	id        string
	className string
	data      map[string]string
	metrics   *metrics.Metrics

	once   sync.Once
	loaded atomic.Bool
	record Record
	err    error
}

// ID returns the record id.
func (r *LazyRecord) ID() string { return r.id }

// ClassName returns the model name.
func (r *LazyRecord) ClassName() string { return r.className }

// Data returns the stored values the hit carried.
func (r *LazyRecord) Data() map[string]string { return r.data }

// Loaded reports whether the data store record was fetched.
func (r *LazyRecord) Loaded() bool { return r.loaded.Load() }

// Value returns a stored value, hydrating from the data store on a miss.
func (r *LazyRecord) Value(attr string) (any, error) {
	if v, ok := r.data[attr]; ok {
		return v, nil
	}
	rec, err := r.Record(context.Background())
	if err != nil {
		return nil, err
	}
	return rec.Value(attr)
}

// Record loads the full data store record.
func (r *LazyRecord) Record(ctx context.Context) (Record, error) {
	r.once.Do(func() {
		recs, err := r.model.FindByIDs(ctx, []string{r.id}, nil)
		if err != nil {
			r.err = err
			return
		}
		if len(recs) == 0 {
			r.metrics.StaleReference(r.className)
			r.err = ferrors.StaleIndexReferenceError(r.className, r.id)
			return
		}
		r.record = recs[0]
		r.loaded.Store(true)
	})
	return r.record, r.err
}

package index

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/ferretbind/internal/engine"
	"github.com/Aman-CERP/ferretbind/internal/fields"
)

type memRecord struct {
	class string
	id    string
	attrs map[string]any
}

func (r memRecord) ID() string        { return r.id }
func (r memRecord) ClassName() string { return r.class }

func (r memRecord) Value(attr string) (any, error) {
	v, ok := r.attrs[attr]
	if !ok {
		return nil, fmt.Errorf("no attribute %s", attr)
	}
	return v, nil
}

// memModel is an in-memory data store table.
type memModel struct {
	name string
	cfgs []fields.Config

	mu   sync.Mutex
	recs map[string]memRecord

	walks   atomic.Int32
	lookups atomic.Int32
	// gate blocks EachBatch until closed. started is closed on entry.
	gate    chan struct{}
	started chan struct{}
	failErr error
}

func newMemModel(t *testing.T, name string, decl any) *memModel {
	t.Helper()
	cfgs, err := fields.Build(decl)
	require.NoError(t, err)
	return &memModel{name: name, cfgs: cfgs, recs: make(map[string]memRecord)}
}

func (m *memModel) put(id string, attrs map[string]any) memRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := memRecord{class: m.name, id: id, attrs: attrs}
	m.recs[id] = r
	return r
}

func (m *memModel) drop(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.recs, id)
}

func (m *memModel) Name() string            { return m.name }
func (m *memModel) Fields() []fields.Config { return m.cfgs }

func (m *memModel) Count(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.recs), nil
}

func (m *memModel) sorted() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.recs))
	for id := range m.recs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]Record, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.recs[id])
	}
	return out
}

func (m *memModel) EachBatch(ctx context.Context, batchSize int, fn func([]Record) error) error {
	m.walks.Add(1)
	if m.started != nil {
		close(m.started)
		m.started = nil
	}
	if m.gate != nil {
		select {
		case <-m.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if m.failErr != nil {
		return m.failErr
	}
	all := m.sorted()
	for start := 0; start < len(all); start += batchSize {
		end := min(start+batchSize, len(all))
		if err := fn(all[start:end]); err != nil {
			return err
		}
	}
	return nil
}

// FindByIDs supports a single "attr = ?" filter.
func (m *memModel) FindByIDs(_ context.Context, ids []string, filter *Filter) ([]Record, error) {
	m.lookups.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Record
	for _, id := range ids {
		r, ok := m.recs[id]
		if !ok {
			continue
		}
		if filter != nil {
			var attr string
			if _, err := fmt.Sscanf(filter.Conditions, "%s = ?", &attr); err != nil {
				return nil, err
			}
			if fmt.Sprint(r.attrs[attr]) != fmt.Sprint(filter.Args[0]) {
				continue
			}
		}
		out = append(out, r)
	}
	return out, nil
}

var articleFields = map[string]any{
	"title": map[string]any{"boost": 2, "store": "yes"},
	"body":  map[string]any{},
}

func newTestRegistry(t *testing.T, opts ...Option) *Registry {
	t.Helper()
	reg, err := NewRegistry(t.TempDir(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })
	return reg
}

func collectIDs(t *testing.T, idx Index, query string, opts SearchOptions) ([]IDHit, int) {
	t.Helper()
	var hits []IDHit
	total, err := idx.FindIDByContents(context.Background(), query, opts, func(h IDHit) bool {
		hits = append(hits, h)
		return true
	})
	require.NoError(t, err)
	return hits, total
}

func ids(hits []IDHit) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.ID
	}
	return out
}

func recordIDs(res *Result) []string {
	out := make([]string, len(res.Records))
	for i, r := range res.Records {
		out[i] = r.ClassName() + ":" + r.ID()
	}
	return out
}

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return ts
}

// mkdirMarked creates a directory holding a segments marker.
func mkdirMarked(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, engine.MarkerFile), []byte("{}"), 0o644)
}

func filepathBase(p string) string { return filepath.Base(p) }

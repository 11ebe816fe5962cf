package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/ferretbind/internal/datastore"
	ferrors "github.com/Aman-CERP/ferretbind/internal/errors"
	"github.com/Aman-CERP/ferretbind/internal/fields"
	"github.com/Aman-CERP/ferretbind/internal/index"
)

// testSocketPath creates a unique socket path. Unix socket paths are
// length limited, so they live directly under /tmp.
func testSocketPath(t *testing.T) string {
	t.Helper()
	socketPath := filepath.Join("/tmp", fmt.Sprintf("ferret-daemon-test-%d.sock", time.Now().UnixNano()))
	t.Cleanup(func() { os.Remove(socketPath) })
	return socketPath
}

type article struct {
	id, title, body string
}

var seedArticles = []article{
	{"1", "ruby on rails", "a web framework"},
	{"2", "go concurrency", "goroutines and channels"},
	{"3", "rails routing", "resources and nested routes"},
}

func openDB(t *testing.T) *datastore.DB {
	t.Helper()
	db, err := datastore.Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "ferret.sqlite3"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// newTable creates a table of title/body rows and binds it as model.
func newTable(t *testing.T, db *datastore.DB, model, table string, rows []article) *datastore.Model {
	t.Helper()
	_, err := db.SQL().Exec(`CREATE TABLE ` + table + ` (id INTEGER PRIMARY KEY, title TEXT, body TEXT)`)
	require.NoError(t, err)
	for _, a := range rows {
		insertRow(t, db, table, a)
	}

	cfgs, err := fields.Build(map[string]any{
		"title": map[string]any{"store": "yes", "boost": 2},
		"body":  map[string]any{},
	})
	require.NoError(t, err)
	m, err := datastore.NewModel(db, model, table, "id", cfgs)
	require.NoError(t, err)
	return m
}

func openArticles(t *testing.T, rows []article) (*datastore.DB, *datastore.Model) {
	t.Helper()
	db := openDB(t)
	return db, newTable(t, db, "Article", "articles", rows)
}

func insertRow(t *testing.T, db *datastore.DB, table string, a article) {
	t.Helper()
	_, err := db.SQL().Exec(`INSERT INTO `+table+` (id, title, body) VALUES (?, ?, ?)`, a.id, a.title, a.body)
	require.NoError(t, err)
}

func insertArticle(t *testing.T, db *datastore.DB, a article) {
	t.Helper()
	insertRow(t, db, "articles", a)
}

func indexName(m index.Model) string {
	return strings.ToLower(m.Name())
}

// flakyModel fails FindByIDs with a transient data store error while
// failures remain.
type flakyModel struct {
	index.Model
	failures atomic.Int32
}

func (m *flakyModel) FindByIDs(ctx context.Context, ids []string, filter *index.Filter) ([]index.Record, error) {
	if m.failures.Add(-1) >= 0 {
		return nil, ferrors.TransientDBError("connection reset by peer", nil)
	}
	return m.Model.FindByIDs(ctx, ids, filter)
}

// slowModel delays every batch walk, standing in for a large table.
type slowModel struct {
	index.Model
	delay time.Duration
}

func (m *slowModel) EachBatch(ctx context.Context, batchSize int, fn func([]index.Record) error) error {
	select {
	case <-time.After(m.delay):
	case <-ctx.Done():
		return ctx.Err()
	}
	return m.Model.EachBatch(ctx, batchSize, fn)
}

// startServer serves a registry with one index per model on a fresh
// socket and returns the endpoint config.
func startServer(t *testing.T, models []index.Model, opts ...ServerOption) (Config, *index.Registry) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Timeout = 10 * time.Second
	return startServerWith(t, cfg, models, opts...)
}

// startServerWith is startServer with caller-chosen timeouts.
func startServerWith(t *testing.T, cfg Config, models []index.Model, opts ...ServerOption) (Config, *index.Registry) {
	t.Helper()
	reg, err := index.NewRegistry(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })
	for _, m := range models {
		_, err = reg.Register(index.Config{Name: indexName(m)}, m)
		require.NoError(t, err)
	}

	cfg.Address = "unix:" + testSocketPath(t)

	srv, err := NewServer(cfg, reg, opts...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})

	select {
	case <-srv.Ready():
	case err := <-done:
		t.Fatalf("server failed to start: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}
	return cfg, reg
}

// clientRegistry binds each model to a remote index at cfg.Address.
func clientRegistry(t *testing.T, cfg Config, models []index.Model, raise bool) *index.Registry {
	t.Helper()
	reg, err := index.NewRegistry(t.TempDir(), index.WithRemoteFactory(RemoteFactory(cfg, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })
	for _, m := range models {
		_, err = reg.Register(index.Config{
			Name:                   indexName(m),
			Remote:                 cfg.Address,
			RaiseOnConnectionError: raise,
		}, m)
		require.NoError(t, err)
	}
	return reg
}

func hitIDs(hits []index.IDHit) []string {
	out := make([]string, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.ID)
	}
	return out
}

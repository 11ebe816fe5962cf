package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/ferretbind/internal/datastore"
	"github.com/Aman-CERP/ferretbind/internal/fields"
	"github.com/Aman-CERP/ferretbind/internal/index"
	"github.com/Aman-CERP/ferretbind/internal/metrics"
)

// fakeReader hands out queued messages, then blocks until ctx is done.
type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []kafka.Message
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		msg := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeReader) committedKeys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var keys []string
	for _, m := range r.committed {
		keys = append(keys, string(m.Key))
	}
	return keys
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

type fixture struct {
	db      *datastore.DB
	reg     *index.Registry
	metrics *metrics.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	db, err := datastore.Open(ctx, "sqlite", filepath.Join(t.TempDir(), "ferret.sqlite3"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.SQL().Exec(`CREATE TABLE articles (id INTEGER PRIMARY KEY, title TEXT)`)
	require.NoError(t, err)
	_, err = db.SQL().Exec(`INSERT INTO articles (id, title) VALUES (1, 'ruby on rails')`)
	require.NoError(t, err)

	cfgs, err := fields.Build([]string{"title"})
	require.NoError(t, err)
	model, err := datastore.NewModel(db, "Article", "articles", "id", cfgs)
	require.NoError(t, err)

	m := metrics.New()
	reg, err := index.NewRegistry(t.TempDir(), index.WithMetrics(m))
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })
	_, err = reg.Register(index.Config{Name: "article"}, model)
	require.NoError(t, err)
	return &fixture{db: db, reg: reg, metrics: m}
}

func (f *fixture) hits(t *testing.T, query string) int {
	t.Helper()
	b, err := f.reg.Bind("Article")
	require.NoError(t, err)
	n, err := b.TotalHits(context.Background(), query, index.SearchOptions{})
	require.NoError(t, err)
	return n
}

func message(t *testing.T, e Event) kafka.Message {
	t.Helper()
	value, err := json.Marshal(e)
	require.NoError(t, err)
	return kafka.Message{Key: []byte(e.Key()), Value: value}
}

func TestDecode(t *testing.T) {
	e, err := Decode([]byte(`{"action":"add","model":"Article","id":"7"}`))
	require.NoError(t, err)
	assert.Equal(t, Event{Action: ActionAdd, Model: "Article", ID: "7"}, e)
	assert.Equal(t, "Article/7", e.Key())

	for _, bad := range []string{
		`not json`,
		`{"action":"update","model":"Article","id":"7"}`,
		`{"action":"add","id":"7"}`,
		`{"action":"remove","model":"Article"}`,
	} {
		_, err := Decode([]byte(bad))
		assert.Error(t, err, bad)
	}
}

func TestApplier_AddAndRemove(t *testing.T) {
	// Given: an index built from one article
	f := newFixture(t)
	a := NewApplier(f.reg, f.metrics)
	ctx := context.Background()
	assert.Equal(t, 1, f.hits(t, "rails"))

	// When: a second article is saved and announced
	_, err := f.db.SQL().Exec(`INSERT INTO articles (id, title) VALUES (2, 'rails routing')`)
	require.NoError(t, err)
	require.NoError(t, a.Apply(ctx, Event{Action: ActionAdd, Model: "Article", ID: "2"}))

	// Then: it is searchable
	assert.Equal(t, 2, f.hits(t, "rails"))

	// When: the first is destroyed and announced
	require.NoError(t, a.Apply(ctx, Event{Action: ActionRemove, Model: "Article", ID: "1"}))

	// Then: only the second remains
	assert.Equal(t, 1, f.hits(t, "rails"))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.IngestEventsTotal.WithLabelValues("add", "ok")))
}

func TestApplier_AddOfMissingRecordRemoves(t *testing.T) {
	// Given: an indexed article that was deleted from the data store
	f := newFixture(t)
	a := NewApplier(f.reg, nil)
	assert.Equal(t, 1, f.hits(t, "rails"))
	_, err := f.db.SQL().Exec(`DELETE FROM articles WHERE id = 1`)
	require.NoError(t, err)

	// When: a stale add event arrives
	require.NoError(t, a.Apply(context.Background(), Event{Action: ActionAdd, Model: "Article", ID: "1"}))

	// Then: the index follows the data store
	assert.Equal(t, 0, f.hits(t, "rails"))
}

func TestConsumer_AppliesAndCommits(t *testing.T) {
	// Given: a valid event, a malformed one and one for an unbound model
	f := newFixture(t)
	_, err := f.db.SQL().Exec(`INSERT INTO articles (id, title) VALUES (2, 'rails routing')`)
	require.NoError(t, err)
	reader := &fakeReader{queue: []kafka.Message{
		message(t, Event{Action: ActionAdd, Model: "Article", ID: "2"}),
		{Key: []byte("junk"), Value: []byte("{")},
		message(t, Event{Action: ActionAdd, Model: "Comment", ID: "1"}),
	}}
	c := NewConsumer(reader, NewApplier(f.reg, f.metrics).Handle())

	// When: consuming until the queue drains
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	require.Eventually(t, func() bool { return len(reader.committedKeys()) == 3 }, 5*time.Second, 20*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	// Then: every message is committed, the good one applied
	assert.Equal(t, []string{"Article/2", "junk", "Comment/1"}, reader.committedKeys())
	assert.Equal(t, 2, f.hits(t, "rails"))
	assert.True(t, reader.closed)
}

func TestConsumer_LeavesFailedMessagesUncommitted(t *testing.T) {
	reader := &fakeReader{queue: []kafka.Message{{Key: []byte("a")}, {Key: []byte("b")}}}
	c := NewConsumer(reader, func(_ context.Context, key, _ []byte) error {
		if string(key) == "a" {
			return errors.New("boom")
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	require.Eventually(t, func() bool { return len(reader.committedKeys()) == 1 }, 5*time.Second, 20*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []string{"b"}, reader.committedKeys())
}

func TestPublisher(t *testing.T) {
	w := &fakeWriter{}
	p := NewPublisher(w)

	require.NoError(t, p.Publish(context.Background(),
		Event{Action: ActionAdd, Model: "Article", ID: "1"},
		Event{Action: ActionRemove, Model: "Article", ID: "2"}))

	require.Len(t, w.msgs, 2)
	assert.Equal(t, "Article/1", string(w.msgs[0].Key))
	e, err := Decode(w.msgs[1].Value)
	require.NoError(t, err)
	assert.Equal(t, ActionRemove, e.Action)

	assert.Error(t, p.Publish(context.Background(), Event{Action: "bogus", Model: "Article", ID: "1"}))
	w.err = errors.New("broker down")
	assert.ErrorContains(t, p.Publish(context.Background(), Event{Action: ActionAdd, Model: "Article", ID: "1"}), "broker down")
}

package daemon

import (
	"context"
	"log/slog"

	"github.com/Aman-CERP/ferretbind/internal/engine"
	ferrors "github.com/Aman-CERP/ferretbind/internal/errors"
	"github.com/Aman-CERP/ferretbind/internal/index"
	"github.com/Aman-CERP/ferretbind/internal/metrics"
)

var (
	_ index.Index         = (*RemoteIndex)(nil)
	_ index.MultiSearcher = (*RemoteIndex)(nil)
)

// StateUnreachable is reported by Status when the server cannot be reached.
const StateUnreachable = "unreachable"

// RemoteIndex forwards index operations to an index server.
//
// When the server is unreachable, calls either fail with a connection
// error (Definition.RaiseOnConnectionError) or log it and return an
// empty result.
type RemoteIndex struct {
	def     *index.Definition
	client  *Client
	breaker *ferrors.CircuitBreaker
	metrics *metrics.Metrics
}

// NewRemoteIndex creates the proxy for def served at client's address.
func NewRemoteIndex(def *index.Definition, client *Client, m *metrics.Metrics) *RemoteIndex {
	return &RemoteIndex{
		def:     def,
		client:  client,
		breaker: ferrors.NewCircuitBreaker("remote:" + def.Name),
		metrics: m,
	}
}

// RemoteFactory builds RemoteIndexes for a registry. cfg supplies the
// codec and timeout; the address comes from each definition.
func RemoteFactory(cfg Config, m *metrics.Metrics) index.RemoteFactory {
	return func(def *index.Definition) (index.Index, error) {
		if def.Remote == "" {
			return nil, ferrors.ConfigError("index "+def.Name+" has no remote address", nil)
		}
		c := cfg
		c.Address = def.Remote
		return NewRemoteIndex(def, NewClient(c), m), nil
	}
}

// Definition returns the index definition.
func (r *RemoteIndex) Definition() *index.Definition {
	return r.def
}

// model names the index on the server: the first model bound to it.
func (r *RemoteIndex) model() string {
	if models := r.def.Models(); len(models) > 0 {
		return models[0]
	}
	return r.def.Name
}

func (r *RemoteIndex) modelFor(className string) string {
	if className != "" {
		return className
	}
	return r.model()
}

// call runs one RPC through the circuit breaker and applies the
// connection error policy. A degraded call returns nil and leaves result
// untouched.
func (r *RemoteIndex) call(ctx context.Context, method string, params, result any) error {
	err := r.breaker.Execute(func() error {
		return r.client.Call(ctx, method, params, result)
	})
	r.metrics.SetCircuitState(r.breaker.Name(), int(r.breaker.State()))
	if err == nil || !ferrors.IsConnection(err) {
		return err
	}
	if r.def.RaiseOnConnectionError {
		return err
	}

	attrs := append([]any{
		slog.String("index", r.def.Name),
		slog.String("method", method),
	}, ferrors.LogAttrs(err)...)
	slog.Error("remote_index_unavailable", attrs...)
	r.metrics.RemoteFallback(method)
	return nil
}

// EnsureReady pings the server, which opens or rebuilds the index on
// first use.
func (r *RemoteIndex) EnsureReady(ctx context.Context) error {
	return r.call(ctx, MethodPing, nil, &PingResult{})
}

// RebuildIndex rebuilds on the server and adopts the new directory.
func (r *RemoteIndex) RebuildIndex(ctx context.Context, models []string) (string, error) {
	var res RebuildResult
	if err := r.call(ctx, MethodRebuild, RebuildParams{Model: r.model(), Models: models}, &res); err != nil {
		return "", err
	}
	if res.Dir != "" {
		r.def.SetIndexDir(res.Dir)
	}
	return res.Dir, nil
}

// Add converts rec locally and ships the document.
func (r *RemoteIndex) Add(ctx context.Context, rec index.Record) error {
	return r.AddDocument(ctx, r.def.Document(rec))
}

// AddDocument indexes a prepared document on the server.
func (r *RemoteIndex) AddDocument(ctx context.Context, doc engine.Document) error {
	return r.call(ctx, MethodAddDocument, AddDocumentParams{Model: r.modelFor(doc.ClassName), Document: doc}, nil)
}

// AddByID asks the server to load the record from its own data store
// and index it.
func (r *RemoteIndex) AddByID(ctx context.Context, model, id string) error {
	return r.call(ctx, MethodAdd, AddParams{Model: r.modelFor(model), ID: id}, nil)
}

// Remove deletes a record on the server.
func (r *RemoteIndex) Remove(ctx context.Context, id, classNameHint string) error {
	return r.call(ctx, MethodRemove, RemoveParams{Model: r.modelFor(classNameHint), ID: id, ClassName: classNameHint}, nil)
}

// FindIDByContents runs the search on the server and streams the
// returned page to fn.
func (r *RemoteIndex) FindIDByContents(ctx context.Context, query string, opts index.SearchOptions, fn func(index.IDHit) bool) (int, error) {
	var res index.IDResult
	if err := r.call(ctx, MethodFindIDByContents, SearchParams{Model: r.model(), Query: query, Options: opts}, &res); err != nil {
		return 0, err
	}
	for _, h := range res.Hits {
		if !fn(h) {
			break
		}
	}
	return res.Total, nil
}

// MultiSearchIDs federates a search on the server.
func (r *RemoteIndex) MultiSearchIDs(ctx context.Context, models []string, query string, opts index.SearchOptions) (*index.IDResult, error) {
	res := &index.IDResult{}
	params := MultiSearchParams{Model: r.model(), Models: models, Query: query, Options: opts}
	if err := r.call(ctx, MethodMultiSearch, params, res); err != nil {
		return nil, err
	}
	return res, nil
}

// Highlight returns excerpts computed on the server.
func (r *RemoteIndex) Highlight(ctx context.Context, id, className, query string, opts index.HighlightOptions) ([]string, error) {
	var res HighlightResult
	params := HighlightParams{Model: r.modelFor(className), ID: id, ClassName: className, Query: query, Options: opts}
	if err := r.call(ctx, MethodHighlight, params, &res); err != nil {
		return nil, err
	}
	return res.Excerpts, nil
}

// MoreLikeThis finds similar records on the server.
func (r *RemoteIndex) MoreLikeThis(ctx context.Context, id, className string, opts index.MLTOptions) (*index.IDResult, error) {
	res := &index.IDResult{}
	params := MoreLikeThisParams{Model: r.modelFor(className), ID: id, ClassName: className, Options: opts}
	if err := r.call(ctx, MethodMoreLikeThis, params, res); err != nil {
		return nil, err
	}
	return res, nil
}

// TotalHits counts matches on the server.
func (r *RemoteIndex) TotalHits(ctx context.Context, query string, opts index.SearchOptions) (int, error) {
	var res CountResult
	if err := r.call(ctx, MethodTotalHits, SearchParams{Model: r.model(), Query: query, Options: opts}, &res); err != nil {
		return 0, err
	}
	return res.Count, nil
}

// Status reports the server's view of the index.
func (r *RemoteIndex) Status(ctx context.Context) (index.Status, error) {
	var res StatusResult
	if err := r.call(ctx, MethodStatus, StatusParams{Model: r.model()}, &res); err != nil {
		return index.Status{}, err
	}
	if len(res.Indexes) == 0 {
		return index.Status{
			Name:   r.def.Name,
			Dir:    r.def.IndexDir(),
			State:  StateUnreachable,
			Models: r.def.Models(),
			Remote: r.def.Remote,
		}, nil
	}
	st := res.Indexes[0]
	st.Remote = r.def.Remote
	return st, nil
}

// Close is a no-op: connections are per call.
func (r *RemoteIndex) Close() error {
	return nil
}

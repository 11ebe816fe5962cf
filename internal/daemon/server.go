package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/Aman-CERP/ferretbind/internal/cache"
	ferrors "github.com/Aman-CERP/ferretbind/internal/errors"
	"github.com/Aman-CERP/ferretbind/internal/index"
	"github.com/Aman-CERP/ferretbind/internal/metrics"
	"github.com/Aman-CERP/ferretbind/pkg/version"
)

// method is one entry of the dispatch table.
type method func(ctx context.Context, f wireFormat, params any) (any, error)

// typed decodes params into P before calling fn.
func typed[P, R any](fn func(context.Context, P) (R, error)) method {
	return func(ctx context.Context, f wireFormat, raw any) (any, error) {
		var p P
		if err := f.convert(raw, &p); err != nil {
			return nil, invalidParams("failed to decode params: %v", err)
		}
		return fn(ctx, p)
	}
}

// Server hosts the registry's local indexes behind a JSON-RPC endpoint.
// Calls are handled one at a time.
type Server struct {
	network  string
	address  string
	timeout  time.Duration
	rebuild  time.Duration
	registry *index.Registry
	recover  func(context.Context) error
	metrics  *metrics.Metrics
	results  *cache.Cache
	methods  map[string]method

	listener net.Listener
	started  time.Time
	ready    chan struct{}

	dispatchMu sync.Mutex

	mu       sync.Mutex
	shutdown bool
	wg       sync.WaitGroup
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithReconnect sets how the server recovers from a transient data store
// failure before retrying the call once.
func WithReconnect(fn func(context.Context) error) ServerOption {
	return func(s *Server) { s.recover = fn }
}

// WithServerMetrics records per-method call counts and latency.
func WithServerMetrics(m *metrics.Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// WithResultCache caches search results. Keys include each searched
// index's directory and generation, so writes and rebuilds miss.
func WithResultCache(c *cache.Cache) ServerOption {
	return func(s *Server) { s.results = c }
}

// NewServer creates a server for cfg.Address serving reg. The registry
// must build local indexes: the server is where remote indexes end up.
func NewServer(cfg Config, reg *index.Registry, opts ...ServerOption) (*Server, error) {
	if reg == nil {
		return nil, fmt.Errorf("registry is required")
	}
	network, address := ParseAddress(cfg.Address)
	s := &Server{
		network:  network,
		address:  address,
		timeout:  cfg.Timeout,
		rebuild:  cfg.RebuildTimeout,
		registry: reg,
		ready:    make(chan struct{}),
	}
	if s.timeout <= 0 {
		s.timeout = DefaultConfig().Timeout
	}
	for _, opt := range opts {
		opt(s)
	}

	s.methods = map[string]method{
		MethodAdd:              typed(s.add),
		MethodAddDocument:      typed(s.addDocument),
		MethodRemove:           typed(s.remove),
		MethodRebuild:          typed(s.rebuildIndex),
		MethodFindIDByContents: typed(s.findIDByContents),
		MethodMultiSearch:      typed(s.multiSearch),
		MethodHighlight:        typed(s.highlight),
		MethodMoreLikeThis:     typed(s.moreLikeThis),
		MethodTotalHits:        typed(s.totalHits),
		MethodStatus:           typed(s.status),
		MethodPing:             typed(s.ping),
	}
	return s, nil
}

// Ready is closed once the listener accepts connections.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound address, useful when listening on port 0.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ListenAndServe starts the server and blocks until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s.network == "unix" {
		// Clean up any stale socket
		_ = os.Remove(s.address)
	}

	listener, err := net.Listen(s.network, s.address)
	if err != nil {
		return ferrors.New(ferrors.ErrCodeConnection, fmt.Sprintf("failed to listen on %s", s.address), err)
	}
	s.mu.Lock()
	s.listener = listener
	s.started = time.Now()
	s.mu.Unlock()

	defer func() {
		_ = listener.Close()
		if s.network == "unix" {
			_ = os.Remove(s.address)
		}
	}()

	slog.Info("server_listening", slog.String("network", s.network), slog.String("addr", listener.Addr().String()))
	close(s.ready)

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		s.shutdown = true
		s.mu.Unlock()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			s.mu.Lock()
			shutdown := s.shutdown
			s.mu.Unlock()
			if shutdown {
				break
			}
			slog.Error("accept_failed", slog.String("error", err.Error()))
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	// Wait for active connections to finish
	s.wg.Wait()

	return ctx.Err()
}

// handleConnection serves the single request of one connection.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(s.timeout)); err != nil {
		slog.Warn("connection_deadline_failed", slog.String("error", err.Error()))
	}

	var header [1]byte
	if _, err := io.ReadFull(conn, header[:]); err != nil {
		return
	}
	format, err := parseHeader(header[0])
	if err != nil {
		plain := wireFormat{codec: CodecJSON}
		_ = plain.writeMessage(conn, NewErrorResponse("", ErrCodeParseError, err.Error()))
		return
	}

	var req Request
	if err := format.readMessage(conn, &req); err != nil {
		_ = format.writeMessage(conn, NewErrorResponse("", ErrCodeParseError, "failed to parse request"))
		return
	}

	callCtx, cancel := s.callContext(ctx, req.Method)
	defer cancel()
	deadline, _ := callCtx.Deadline()
	if err := conn.SetDeadline(deadline); err != nil {
		slog.Warn("connection_deadline_failed", slog.String("error", err.Error()))
	}
	resp := s.handleRequest(callCtx, format, req)
	if err := format.writeMessage(conn, resp); err != nil {
		slog.Warn("response_write_failed", slog.String("method", req.Method), slog.String("error", err.Error()))
	}
}

// callContext bounds one call. Rebuilds get the rebuild budget, which
// may be unlimited; every other method gets the call timeout.
func (s *Server) callContext(ctx context.Context, method string) (context.Context, context.CancelFunc) {
	if method != MethodRebuild {
		return context.WithTimeout(ctx, s.timeout)
	}
	if s.rebuild > 0 {
		return context.WithTimeout(ctx, s.rebuild)
	}
	return context.WithCancel(ctx)
}

// buildContext detaches a first-use build from the caller's deadline so
// a slow load finishes instead of being abandoned.
func (s *Server) buildContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = context.WithoutCancel(ctx)
	if s.rebuild > 0 {
		return context.WithTimeout(ctx, s.rebuild)
	}
	return context.WithCancel(ctx)
}

// handleRequest validates the envelope and dispatches it.
func (s *Server) handleRequest(ctx context.Context, f wireFormat, req Request) Response {
	if req.JSONRPC != "2.0" {
		return NewErrorResponse(req.ID, ErrCodeInvalidRequest, "jsonrpc must be \"2.0\"")
	}
	m, ok := s.methods[req.Method]
	if !ok {
		return NewErrorResponse(req.ID, ErrCodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
	}

	start := time.Now()
	result, err := s.dispatch(ctx, f, m, req.Params)
	s.metrics.ObserveRPC(req.Method, time.Since(start), err)
	if err != nil {
		slog.Warn("rpc_failed", append([]any{slog.String("method", req.Method)}, ferrors.LogAttrs(err)...)...)
		return newFailureResponse(req.ID, err)
	}
	return NewSuccessResponse(req.ID, result)
}

// dispatch runs one call under the dispatch mutex, reconnecting and
// retrying once on a transient data store failure.
func (s *Server) dispatch(ctx context.Context, f wireFormat, m method, params any) (any, error) {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	return ferrors.RetryOnce(ctx, ferrors.IsTransientDB, s.reconnect, func() (any, error) {
		return m(ctx, f, params)
	})
}

func (s *Server) reconnect(ctx context.Context) error {
	if s.recover == nil {
		return nil
	}
	slog.Warn("data_store_reconnect")
	return s.recover(ctx)
}

// lookup resolves the model's index without loading it.
func (s *Server) lookup(model string) (index.Index, error) {
	if model == "" {
		return nil, invalidParams("model is required")
	}
	return s.registry.Index(model)
}

// index resolves the model's index and makes sure a version is loaded,
// building one on first use under the rebuild budget.
func (s *Server) index(ctx context.Context, model string) (index.Index, error) {
	idx, err := s.lookup(model)
	if err != nil {
		return nil, err
	}
	buildCtx, cancel := s.buildContext(ctx)
	defer cancel()
	if err := idx.EnsureReady(buildCtx); err != nil {
		return nil, err
	}
	return idx, nil
}

func (s *Server) add(ctx context.Context, p AddParams) (OKResult, error) {
	idx, err := s.index(ctx, p.Model)
	if err != nil {
		return OKResult{}, err
	}
	model, err := s.registry.Model(p.Model)
	if err != nil {
		return OKResult{}, err
	}
	recs, err := model.FindByIDs(ctx, []string{p.ID}, nil)
	if err != nil {
		return OKResult{}, err
	}
	if len(recs) == 0 {
		return OKResult{}, ferrors.NotFoundError(p.ID).WithDetail("model", p.Model)
	}
	if err := idx.Add(ctx, recs[0]); err != nil {
		return OKResult{}, err
	}
	return OKResult{OK: true}, nil
}

func (s *Server) addDocument(ctx context.Context, p AddDocumentParams) (OKResult, error) {
	idx, err := s.index(ctx, p.Model)
	if err != nil {
		return OKResult{}, err
	}
	if p.Document.ID == "" {
		return OKResult{}, invalidParams("document id is required")
	}
	if err := idx.AddDocument(ctx, p.Document); err != nil {
		return OKResult{}, err
	}
	return OKResult{OK: true}, nil
}

func (s *Server) remove(ctx context.Context, p RemoveParams) (OKResult, error) {
	idx, err := s.index(ctx, p.Model)
	if err != nil {
		return OKResult{}, err
	}
	className := p.ClassName
	if className == "" {
		className = p.Model
	}
	if err := idx.Remove(ctx, p.ID, className); err != nil {
		return OKResult{}, err
	}
	return OKResult{OK: true}, nil
}

func (s *Server) rebuildIndex(ctx context.Context, p RebuildParams) (RebuildResult, error) {
	idx, err := s.lookup(p.Model)
	if err != nil {
		return RebuildResult{}, err
	}
	dir, err := idx.RebuildIndex(ctx, p.Models)
	if err != nil {
		return RebuildResult{}, err
	}
	return RebuildResult{Dir: dir}, nil
}

func (s *Server) findIDByContents(ctx context.Context, p SearchParams) (*index.IDResult, error) {
	idx, err := s.index(ctx, p.Model)
	if err != nil {
		return nil, err
	}
	key := s.resultKey(ctx, MethodFindIDByContents, p.Query, p.Options, idx)
	res, _, err := cache.GetOrCompute(ctx, s.results, key, func() (*index.IDResult, error) {
		res := &index.IDResult{Hits: []index.IDHit{}}
		total, err := idx.FindIDByContents(ctx, p.Query, p.Options, func(h index.IDHit) bool {
			res.Hits = append(res.Hits, h)
			return true
		})
		if err != nil {
			return nil, err
		}
		res.Total = total
		return res, nil
	})
	return res, err
}

func (s *Server) multiSearch(ctx context.Context, p MultiSearchParams) (*index.IDResult, error) {
	models := p.Models
	if len(models) == 0 {
		if p.Model == "" {
			return nil, invalidParams("models are required")
		}
		models = []string{p.Model}
	}
	members := make([]index.Index, 0, len(models))
	for _, m := range models {
		idx, err := s.index(ctx, m)
		if err != nil {
			return nil, err
		}
		members = append(members, idx)
	}
	var key string
	if s.results != nil {
		key = s.resultKey(ctx, MethodMultiSearch, p.Query, p.Options, members...)
	}
	res, _, err := cache.GetOrCompute(ctx, s.results, key, func() (*index.IDResult, error) {
		mi, err := s.registry.MultiIndex(ctx, models)
		if err != nil {
			return nil, err
		}
		return mi.FindIDs(ctx, p.Query, p.Options)
	})
	return res, err
}

func (s *Server) highlight(ctx context.Context, p HighlightParams) (HighlightResult, error) {
	idx, err := s.index(ctx, p.Model)
	if err != nil {
		return HighlightResult{}, err
	}
	className := p.ClassName
	if className == "" {
		className = p.Model
	}
	excerpts, err := idx.Highlight(ctx, p.ID, className, p.Query, p.Options)
	if err != nil {
		return HighlightResult{}, err
	}
	if excerpts == nil {
		excerpts = []string{}
	}
	return HighlightResult{Excerpts: excerpts}, nil
}

func (s *Server) moreLikeThis(ctx context.Context, p MoreLikeThisParams) (*index.IDResult, error) {
	idx, err := s.index(ctx, p.Model)
	if err != nil {
		return nil, err
	}
	className := p.ClassName
	if className == "" {
		className = p.Model
	}
	return idx.MoreLikeThis(ctx, p.ID, className, p.Options)
}

func (s *Server) totalHits(ctx context.Context, p SearchParams) (CountResult, error) {
	idx, err := s.index(ctx, p.Model)
	if err != nil {
		return CountResult{}, err
	}
	key := s.resultKey(ctx, MethodTotalHits, p.Query, p.Options, idx)
	n, _, err := cache.GetOrCompute(ctx, s.results, key, func() (int, error) {
		return idx.TotalHits(ctx, p.Query, p.Options)
	})
	if err != nil {
		return CountResult{}, err
	}
	return CountResult{Count: n}, nil
}

// resultKey fingerprints a search against the opened state of idxs. An
// empty key bypasses the cache: caching is off, a filter is set, or an
// index could not be opened.
func (s *Server) resultKey(ctx context.Context, method, query string, opts index.SearchOptions, idxs ...index.Index) string {
	if s.results == nil || opts.Filter != nil {
		return ""
	}
	parts := []any{method, query, opts}
	for _, idx := range idxs {
		if err := idx.EnsureReady(ctx); err != nil {
			return ""
		}
		st, err := idx.Status(ctx)
		if err != nil {
			return ""
		}
		parts = append(parts, st.Name, st.Dir, st.State, st.Generation)
	}
	return cache.Key(parts...)
}

func (s *Server) status(ctx context.Context, p StatusParams) (StatusResult, error) {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()

	out := StatusResult{
		Running: true,
		PID:     os.Getpid(),
		Uptime:  time.Since(started).Round(time.Second).String(),
		Version: version.Short(),
		Indexes: []index.Status{},
	}

	var defs []*index.Definition
	if p.Model != "" {
		def, err := s.registry.DefinitionFor(p.Model)
		if err != nil {
			return StatusResult{}, err
		}
		defs = []*index.Definition{def}
	} else {
		defs = s.registry.Definitions()
	}

	for _, def := range defs {
		idx, err := s.registry.IndexNamed(def.Name)
		if err != nil {
			return StatusResult{}, err
		}
		st, err := idx.Status(ctx)
		if err != nil {
			return StatusResult{}, err
		}
		out.Indexes = append(out.Indexes, st)
	}
	return out, nil
}

func (s *Server) ping(context.Context, struct{}) (PingResult, error) {
	return PingResult{Pong: true}, nil
}

// Close stops accepting connections.
func (s *Server) Close() error {
	s.mu.Lock()
	s.shutdown = true
	listener := s.listener
	s.mu.Unlock()

	if listener != nil {
		if err := listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			return err
		}
	}
	return nil
}

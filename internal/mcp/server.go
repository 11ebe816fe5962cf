package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/ferretbind/internal/index"
	"github.com/Aman-CERP/ferretbind/pkg/version"
)

const (
	serverName   = "ferret"
	defaultLimit = 10
	maxLimit     = 50
)

// Server bridges AI clients with the registry's indexes.
type Server struct {
	mcp      *mcp.Server
	registry *index.Registry
	logger   *slog.Logger
}

// ToolInfo names a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

var tools = []ToolInfo{
	{
		Name:        "search",
		Description: "Full-text search over one model's index. Returns matching records with their indexed fields, best first.",
	},
	{
		Name:        "multi_search",
		Description: "Search several models at once with one merged ranking. Use when the answer may live in more than one record type.",
	},
	{
		Name:        "highlight",
		Description: "Return excerpts of one record with the query terms highlighted. Only stored fields can be highlighted.",
	},
	{
		Name:        "total_hits",
		Description: "Count the records of a model matching a query without fetching them.",
	},
	{
		Name:        "index_status",
		Description: "Report each index's state and document count. Use before searching to check an index is ready.",
	},
}

// NewServer creates an MCP server over reg.
func NewServer(reg *index.Registry) (*Server, error) {
	if reg == nil {
		return nil, errors.New("registry is required")
	}
	s := &Server{
		registry: reg,
		logger:   slog.Default(),
	}
	s.mcp = mcp.NewServer(&mcp.Implementation{Name: serverName, Version: version.Version}, nil)
	s.registerTools()
	return s, nil
}

// MCPServer returns the underlying MCP server.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// ListTools returns the registered tools.
func (s *Server) ListTools() []ToolInfo {
	return append([]ToolInfo(nil), tools...)
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[0].Name, Description: tools[0].Description}, s.mcpSearchHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[1].Name, Description: tools[1].Description}, s.mcpMultiSearchHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[2].Name, Description: tools[2].Description}, s.mcpHighlightHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[3].Name, Description: tools[3].Description}, s.mcpTotalHitsHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[4].Name, Description: tools[4].Description}, s.mcpIndexStatusHandler)
	s.logger.Debug("mcp_tools_registered", slog.Int("count", len(tools)))
}

// CallTool invokes a tool by name, decoding args into its input.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case "search":
		return call(ctx, args, s.search)
	case "multi_search":
		return call(ctx, args, s.multiSearch)
	case "highlight":
		return call(ctx, args, s.highlight)
	case "total_hits":
		return call(ctx, args, s.totalHits)
	case "index_status":
		return call(ctx, args, s.indexStatus)
	default:
		return nil, NewMethodNotFoundError(name)
	}
}

func call[In, Out any](ctx context.Context, args map[string]any, fn func(context.Context, In) (Out, error)) (any, error) {
	var in In
	if args != nil {
		data, err := json.Marshal(args)
		if err != nil {
			return nil, NewInvalidParamsError(err.Error())
		}
		if err := json.Unmarshal(data, &in); err != nil {
			return nil, NewInvalidParamsError(err.Error())
		}
	}
	out, err := fn(ctx, in)
	if err != nil {
		return nil, MapError(err)
	}
	return out, nil
}

func (s *Server) mcpSearchHandler(ctx context.Context, _ *mcp.CallToolRequest, in SearchInput) (*mcp.CallToolResult, SearchOutput, error) {
	out, err := s.search(ctx, in)
	if err != nil {
		return nil, SearchOutput{}, MapError(err)
	}
	return textResult(FormatSearchResults(in.Query, out)), out, nil
}

func (s *Server) mcpMultiSearchHandler(ctx context.Context, _ *mcp.CallToolRequest, in MultiSearchInput) (*mcp.CallToolResult, SearchOutput, error) {
	out, err := s.multiSearch(ctx, in)
	if err != nil {
		return nil, SearchOutput{}, MapError(err)
	}
	return textResult(FormatSearchResults(in.Query, out)), out, nil
}

func (s *Server) mcpHighlightHandler(ctx context.Context, _ *mcp.CallToolRequest, in HighlightInput) (*mcp.CallToolResult, HighlightOutput, error) {
	out, err := s.highlight(ctx, in)
	if err != nil {
		return nil, HighlightOutput{}, MapError(err)
	}
	return nil, out, nil
}

func (s *Server) mcpTotalHitsHandler(ctx context.Context, _ *mcp.CallToolRequest, in TotalHitsInput) (*mcp.CallToolResult, TotalHitsOutput, error) {
	out, err := s.totalHits(ctx, in)
	if err != nil {
		return nil, TotalHitsOutput{}, MapError(err)
	}
	return nil, out, nil
}

func (s *Server) mcpIndexStatusHandler(ctx context.Context, _ *mcp.CallToolRequest, in IndexStatusInput) (*mcp.CallToolResult, IndexStatusOutput, error) {
	out, err := s.indexStatus(ctx, in)
	if err != nil {
		return nil, IndexStatusOutput{}, MapError(err)
	}
	return nil, out, nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}

func requireQuery(q string) error {
	if strings.TrimSpace(q) == "" {
		return NewInvalidParamsError("query parameter is required")
	}
	return nil
}

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return defaultLimit
	case n > maxLimit:
		return maxLimit
	default:
		return n
	}
}

func (s *Server) search(ctx context.Context, in SearchInput) (SearchOutput, error) {
	if err := requireQuery(in.Query); err != nil {
		return SearchOutput{}, err
	}
	if in.Model == "" {
		return SearchOutput{}, NewInvalidParamsError("model parameter is required")
	}
	b, err := s.registry.Bind(in.Model)
	if err != nil {
		return SearchOutput{}, err
	}

	start := time.Now()
	res, err := b.FindByContents(ctx, in.Query, index.SearchOptions{Offset: in.Offset, Limit: clampLimit(in.Limit)})
	if err != nil {
		s.logger.Warn("mcp_search_failed", slog.String("model", in.Model), slog.String("error", err.Error()))
		return SearchOutput{}, err
	}
	s.logger.Info("mcp_search",
		slog.String("model", in.Model),
		slog.Int("total", res.Total),
		slog.Duration("duration", time.Since(start)))
	return s.toOutput(res), nil
}

func (s *Server) multiSearch(ctx context.Context, in MultiSearchInput) (SearchOutput, error) {
	if err := requireQuery(in.Query); err != nil {
		return SearchOutput{}, err
	}
	if len(in.Models) == 0 {
		return SearchOutput{}, NewInvalidParamsError("models parameter needs at least one model")
	}
	b, err := s.registry.Bind(in.Models[0])
	if err != nil {
		return SearchOutput{}, err
	}

	start := time.Now()
	res, err := b.MultiSearch(ctx, in.Query, in.Models[1:], index.SearchOptions{Offset: in.Offset, Limit: clampLimit(in.Limit)})
	if err != nil {
		s.logger.Warn("mcp_multi_search_failed", slog.Any("models", in.Models), slog.String("error", err.Error()))
		return SearchOutput{}, err
	}
	s.logger.Info("mcp_multi_search",
		slog.Any("models", in.Models),
		slog.Int("total", res.Total),
		slog.Duration("duration", time.Since(start)))
	return s.toOutput(res), nil
}

func (s *Server) highlight(ctx context.Context, in HighlightInput) (HighlightOutput, error) {
	if err := requireQuery(in.Query); err != nil {
		return HighlightOutput{}, err
	}
	if in.Model == "" || in.ID == "" {
		return HighlightOutput{}, NewInvalidParamsError("model and id parameters are required")
	}
	b, err := s.registry.Bind(in.Model)
	if err != nil {
		return HighlightOutput{}, err
	}
	excerpts, err := b.Highlight(ctx, in.ID, in.Query, index.HighlightOptions{Field: in.Field, NumExcerpts: in.NumExcerpts})
	if err != nil {
		return HighlightOutput{}, err
	}
	if excerpts == nil {
		excerpts = []string{}
	}
	return HighlightOutput{Excerpts: excerpts}, nil
}

func (s *Server) totalHits(ctx context.Context, in TotalHitsInput) (TotalHitsOutput, error) {
	if err := requireQuery(in.Query); err != nil {
		return TotalHitsOutput{}, err
	}
	if in.Model == "" {
		return TotalHitsOutput{}, NewInvalidParamsError("model parameter is required")
	}
	b, err := s.registry.Bind(in.Model)
	if err != nil {
		return TotalHitsOutput{}, err
	}
	n, err := b.TotalHits(ctx, in.Query, index.SearchOptions{})
	if err != nil {
		return TotalHitsOutput{}, err
	}
	return TotalHitsOutput{Count: n}, nil
}

func (s *Server) indexStatus(ctx context.Context, in IndexStatusInput) (IndexStatusOutput, error) {
	var defs []*index.Definition
	if in.Model != "" {
		def, err := s.registry.DefinitionFor(in.Model)
		if err != nil {
			return IndexStatusOutput{}, err
		}
		defs = []*index.Definition{def}
	} else {
		defs = s.registry.Definitions()
	}

	out := IndexStatusOutput{Indexes: make([]IndexInfo, 0, len(defs))}
	for _, def := range defs {
		idx, err := s.registry.IndexNamed(def.Name)
		if err != nil {
			return IndexStatusOutput{}, err
		}
		st, err := idx.Status(ctx)
		if err != nil {
			return IndexStatusOutput{}, err
		}
		out.Indexes = append(out.Indexes, IndexInfo{
			Name:     st.Name,
			State:    st.State,
			DocCount: st.DocCount,
			Models:   st.Models,
			Remote:   st.Remote,
		})
	}
	return out, nil
}

// toOutput renders records with the values of their configured fields.
func (s *Server) toOutput(res *index.Result) SearchOutput {
	out := SearchOutput{Total: res.Total, Records: make([]RecordOutput, 0, len(res.Records))}
	for i, rec := range res.Records {
		ro := RecordOutput{Model: rec.ClassName(), ID: rec.ID()}
		if i < len(res.Scores) {
			ro.Score = res.Scores[i]
		}
		if model, err := s.registry.Model(rec.ClassName()); err == nil {
			ro.Fields = make(map[string]string)
			for _, cfg := range model.Fields() {
				v, err := rec.Value(cfg.Name)
				if err != nil || v == nil {
					continue
				}
				ro.Fields[cfg.Name] = fmt.Sprint(v)
			}
		}
		out.Records = append(out.Records, ro)
	}
	return out
}

// Serve runs the server over stdio until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("mcp_server_starting", slog.String("transport", "stdio"))
	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("mcp_server_stopped", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("mcp_server_stopped")
	return nil
}

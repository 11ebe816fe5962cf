package daemon

import (
	"errors"
	"fmt"

	"github.com/Aman-CERP/ferretbind/internal/engine"
	ferrors "github.com/Aman-CERP/ferretbind/internal/errors"
	"github.com/Aman-CERP/ferretbind/internal/index"
)

// JSON-RPC 2.0 method names.
const (
	MethodAdd              = "add"
	MethodAddDocument      = "add_document"
	MethodRemove           = "remove"
	MethodRebuild          = "rebuild"
	MethodFindIDByContents = "find_id_by_contents"
	MethodMultiSearch      = "multi_search"
	MethodHighlight        = "highlight"
	MethodMoreLikeThis     = "more_like_this"
	MethodTotalHits        = "total_hits"
	MethodStatus           = "status"
	MethodPing             = "ping"
)

// Standard JSON-RPC 2.0 error codes.
const (
	ErrCodeParseError     = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// ErrCodeApplication marks errors raised by the index layer. The
// ferret error code travels in Error.Data.
const ErrCodeApplication = -32000

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string `json:"jsonrpc" msgpack:"jsonrpc"`
	Method  string `json:"method" msgpack:"method"`
	Params  any    `json:"params,omitempty" msgpack:"params,omitempty"`
	ID      string `json:"id" msgpack:"id"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string `json:"jsonrpc" msgpack:"jsonrpc"`
	Result  any    `json:"result,omitempty" msgpack:"result,omitempty"`
	Error   *Error `json:"error,omitempty" msgpack:"error,omitempty"`
	ID      string `json:"id" msgpack:"id"`
}

// Error represents a JSON-RPC 2.0 error.
type Error struct {
	Code    int        `json:"code" msgpack:"code"`
	Message string     `json:"message" msgpack:"message"`
	Data    *ErrorData `json:"data,omitempty" msgpack:"data,omitempty"`
}

// ErrorData carries the structured index-layer error across the wire.
type ErrorData struct {
	Code       string            `json:"code" msgpack:"code"`
	Details    map[string]string `json:"details,omitempty" msgpack:"details,omitempty"`
	Suggestion string            `json:"suggestion,omitempty" msgpack:"suggestion,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// NewSuccessResponse creates a successful response.
func NewSuccessResponse(id string, result any) Response {
	return Response{
		JSONRPC: "2.0",
		Result:  result,
		ID:      id,
	}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(id string, code int, message string) Response {
	return Response{
		JSONRPC: "2.0",
		Error: &Error{
			Code:    code,
			Message: message,
		},
		ID: id,
	}
}

// newFailureResponse maps a handler error onto the wire. Ferret errors
// keep their code so the client can rebuild them.
func newFailureResponse(id string, err error) Response {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return Response{JSONRPC: "2.0", Error: rpcErr, ID: id}
	}

	resp := NewErrorResponse(id, ErrCodeInternalError, err.Error())
	var fe *ferrors.FerretError
	if errors.As(err, &fe) {
		resp.Error.Code = ErrCodeApplication
		resp.Error.Message = fe.Message
		resp.Error.Data = &ErrorData{Code: fe.Code, Details: fe.Details, Suggestion: fe.Suggestion}
	}
	return resp
}

// remoteError turns a wire error back into a ferret error.
func remoteError(e *Error) error {
	if e.Data == nil || e.Data.Code == "" {
		return ferrors.New(ferrors.ErrCodeInternal, e.Message, e)
	}
	fe := ferrors.New(e.Data.Code, e.Message, nil)
	for k, v := range e.Data.Details {
		fe.WithDetail(k, v)
	}
	if e.Data.Suggestion != "" {
		fe.WithSuggestion(e.Data.Suggestion)
	}
	return fe
}

func invalidParams(format string, args ...any) *Error {
	return &Error{Code: ErrCodeInvalidParams, Message: fmt.Sprintf(format, args...)}
}

// ModelParams names the model whose index serves the call. Every method
// except ping carries it.
type ModelParams struct {
	Model string `json:"model" msgpack:"model"`
}

func (p ModelParams) validate() error {
	if p.Model == "" {
		return invalidParams("model is required")
	}
	return nil
}

// AddParams indexes the record with the given id, loaded by the server
// from its own data store.
type AddParams struct {
	Model string `json:"model" msgpack:"model"`
	ID    string `json:"id" msgpack:"id"`
}

// AddDocumentParams indexes a document built by the caller.
type AddDocumentParams struct {
	Model    string          `json:"model" msgpack:"model"`
	Document engine.Document `json:"document" msgpack:"document"`
}

// RemoveParams deletes one record from the index.
type RemoveParams struct {
	Model     string `json:"model" msgpack:"model"`
	ID        string `json:"id" msgpack:"id"`
	ClassName string `json:"class_name,omitempty" msgpack:"class_name,omitempty"`
}

// RebuildParams rebuilds the model's index. Empty Models rebuilds every
// model of the index.
type RebuildParams struct {
	Model  string   `json:"model" msgpack:"model"`
	Models []string `json:"models,omitempty" msgpack:"models,omitempty"`
}

// RebuildResult carries the new active version directory.
type RebuildResult struct {
	Dir string `json:"dir" msgpack:"dir"`
}

// SearchParams runs a single-index search.
type SearchParams struct {
	Model   string              `json:"model" msgpack:"model"`
	Query   string              `json:"query" msgpack:"query"`
	Options index.SearchOptions `json:"options" msgpack:"options"`
}

// MultiSearchParams federates a search over several models.
type MultiSearchParams struct {
	Model   string              `json:"model" msgpack:"model"`
	Models  []string            `json:"models" msgpack:"models"`
	Query   string              `json:"query" msgpack:"query"`
	Options index.SearchOptions `json:"options" msgpack:"options"`
}

// HighlightParams requests excerpts for one record.
type HighlightParams struct {
	Model     string                 `json:"model" msgpack:"model"`
	ID        string                 `json:"id" msgpack:"id"`
	ClassName string                 `json:"class_name,omitempty" msgpack:"class_name,omitempty"`
	Query     string                 `json:"query" msgpack:"query"`
	Options   index.HighlightOptions `json:"options" msgpack:"options"`
}

// MoreLikeThisParams finds records similar to one record.
type MoreLikeThisParams struct {
	Model     string           `json:"model" msgpack:"model"`
	ID        string           `json:"id" msgpack:"id"`
	ClassName string           `json:"class_name,omitempty" msgpack:"class_name,omitempty"`
	Options   index.MLTOptions `json:"options" msgpack:"options"`
}

// HighlightResult carries the excerpts of a highlight call.
type HighlightResult struct {
	Excerpts []string `json:"excerpts" msgpack:"excerpts"`
}

// CountResult wraps a bare count.
type CountResult struct {
	Count int `json:"count" msgpack:"count"`
}

// StatusParams optionally restricts status to one model's index.
type StatusParams struct {
	Model string `json:"model,omitempty" msgpack:"model,omitempty"`
}

// StatusResult is the response for the status method.
type StatusResult struct {
	Running bool           `json:"running" msgpack:"running"`
	PID     int            `json:"pid" msgpack:"pid"`
	Uptime  string         `json:"uptime" msgpack:"uptime"`
	Version string         `json:"version" msgpack:"version"`
	Indexes []index.Status `json:"indexes" msgpack:"indexes"`
}

// PingResult is the response for the ping method.
type PingResult struct {
	Pong bool `json:"pong" msgpack:"pong"`
}

// OKResult acknowledges a write.
type OKResult struct {
	OK bool `json:"ok" msgpack:"ok"`
}

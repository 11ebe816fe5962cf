package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	ferrors "github.com/Aman-CERP/ferretbind/internal/errors"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
	// ErrorCode is the ferret error code, when there is one.
	ErrorCode string `json:"error_code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("http_encode_failed", slog.String("error", err.Error()))
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Code:    status,
	})
}

// writeError maps err to a status code by its ferret error code.
func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("http_request_failed", ferrors.LogAttrs(err)...)
	}
	writeJSON(w, status, ErrorResponse{
		Error:     http.StatusText(status),
		Message:   err.Error(),
		Code:      status,
		ErrorCode: ferrors.GetCode(err),
	})
}

func statusFor(err error) int {
	switch ferrors.GetCode(err) {
	case ferrors.ErrCodeUnknownModel, ferrors.ErrCodeIndexNotFound, ferrors.ErrCodeNotFound:
		return http.StatusNotFound
	case ferrors.ErrCodeInvalidQuery, ferrors.ErrCodeUnknownOption, ferrors.ErrCodeMissingClassName:
		return http.StatusBadRequest
	case ferrors.ErrCodeRebuildInProgress:
		return http.StatusConflict
	case ferrors.ErrCodeConnection, ferrors.ErrCodeCircuitOpen, ferrors.ErrCodeTransientDB:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

package mcp

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	ferrors "github.com/Aman-CERP/ferretbind/internal/errors"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"unknown model", ferrors.New(ferrors.ErrCodeUnknownModel, "model X is not bound", nil), ErrCodeNotFound},
		{"invalid query", ferrors.New(ferrors.ErrCodeInvalidQuery, "bad", nil), ErrCodeInvalidParams},
		{"connection", ferrors.ConnectionError("localhost:9009", errors.New("refused")), ErrCodeIndexUnavailable},
		{"storage", ferrors.StorageError("disk", nil), ErrCodeIndexUnavailable},
		{"wrapped ferret", fmt.Errorf("ctx: %w", ferrors.NotFoundError("7")), ErrCodeNotFound},
		{"deadline", context.DeadlineExceeded, ErrCodeTimeout},
		{"canceled", context.Canceled, ErrCodeTimeout},
		{"plain", errors.New("boom"), ErrCodeInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, MapError(tt.err).Code)
		})
	}
	assert.Nil(t, MapError(nil))
}

func TestMapError_KeepsSuggestion(t *testing.T) {
	err := ferrors.New(ferrors.ErrCodeMissingClassName, "cannot federate", nil).WithSuggestion("enable store_class_name")

	me := MapError(err)

	assert.Equal(t, ErrCodeInvalidParams, me.Code)
	assert.Equal(t, "cannot federate (enable store_class_name)", me.Message)
}

func TestMapError_PassesThroughMCPError(t *testing.T) {
	in := NewInvalidParamsError("x")
	assert.Same(t, in, MapError(in))
}

package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeFrom_SentinelMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"model not found", ErrModelNotFound, CodeNotFound},
		{"spec unavailable", fmt.Errorf("synthesize: %w", ErrSpecUnavailable), CodeNotFound},
		{"no input schema", ErrNoInputSchema, CodeNotFound},
		{"tool not generated", ErrToolNotGenerated, CodeFailedPrecond},
		{"credential missing", ErrCredentialMissing, CodeFailedPrecond},
		{"rerank unavailable", ErrRerankUnavailable, CodeUnavailable},
		{"canceled", context.Canceled, CodeCanceled},
		{"deadline", context.DeadlineExceeded, CodeDeadlineExceeded},
		{"validation", &ValidationError{ToolName: "x"}, CodeInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, ok := CodeFrom(tt.err)
			require.True(t, ok)
			assert.Equal(t, tt.want, code)
		})
	}

	_, ok := CodeFrom(errors.New("plain"))
	assert.False(t, ok)
	_, ok = CodeFrom(nil)
	assert.False(t, ok)
}

func TestUpstream_CarriesStatus(t *testing.T) {
	err := Upstream("queue.submit", 429, "Too Many Requests")
	status, ok := HTTPStatusFrom(err)
	require.True(t, ok)
	assert.Equal(t, 429, status)
	assert.True(t, err.Retryable)

	code, ok := CodeFrom(err)
	require.True(t, ok)
	assert.Equal(t, CodeUnavailable, code)

	// Status survives wrapping.
	wrapped := fmt.Errorf("execute fal_ai_flux_dev: %w", err)
	status, ok = HTTPStatusFrom(wrapped)
	require.True(t, ok)
	assert.Equal(t, 429, status)
}

func TestUpstream_Retryable(t *testing.T) {
	assert.True(t, Upstream("op", 503, "unavailable").Retryable)
	assert.False(t, Upstream("op", 404, "not found").Retryable)
	assert.False(t, Upstream("op", 400, "bad request").Retryable)
}

func TestError_Format(t *testing.T) {
	err := E(CodeNotFound, "forge.synthesize", "", ErrSpecUnavailable)
	assert.Equal(t, "forge.synthesize: NOT_FOUND: model spec unavailable", err.Error())
	assert.ErrorIs(t, err, ErrSpecUnavailable)
}

func TestWrap_PreservesExisting(t *testing.T) {
	inner := Upstream("queue.submit", 429, "slow down")
	wrapped := Wrap(CodeInternal, "registry.execute", inner)
	assert.Equal(t, CodeUnavailable, wrapped.Code)
	assert.Equal(t, 429, wrapped.HTTPStatus)
	assert.Nil(t, Wrap(CodeInternal, "op", nil))
}

func TestValidationError_ListsFields(t *testing.T) {
	err := &ValidationError{
		ToolName: "fal_ai_flux_dev",
		Violations: []FieldViolation{
			{Field: "prompt", Reason: "prompt is required"},
			{Field: "seed", Reason: "invalid type, expected integer"},
		},
	}
	assert.Contains(t, err.Error(), "prompt is required")
	assert.Contains(t, err.Error(), "seed")
}

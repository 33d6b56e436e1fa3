package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructors_StatusAndType(t *testing.T) {
	tests := []struct {
		name   string
		err    *Error
		typ    ErrorType
		status int
	}{
		{"validation", ValidationError("bad input"), TypeValidation, http.StatusBadRequest},
		{"unauthorized", UnauthorizedError("no session"), TypeUnauthorized, http.StatusUnauthorized},
		{"forbidden", ForbiddenError("admins only"), TypeForbidden, http.StatusForbidden},
		{"not found", NotFoundError("no such unit"), TypeNotFound, http.StatusNotFound},
		{"conflict", ConflictError("already closed"), TypeConflict, http.StatusConflict},
		{"rate limited", RateLimitedError("slow down"), TypeRateLimited, http.StatusTooManyRequests},
		{"unavailable", UnavailableError("no agents", nil), TypeUnavailable, http.StatusServiceUnavailable},
		{"internal", InternalError("boom", nil), TypeInternal, http.StatusInternalServerError},
		{"external", ExternalError("broker down", nil), TypeExternal, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.typ, tt.err.Type)
			assert.Equal(t, tt.status, tt.err.HTTPStatus())
			assert.NotNil(t, tt.err.Context)
			assert.Contains(t, tt.err.Error(), string(tt.typ))
		})
	}
}

func TestError_MessageIncludesCause(t *testing.T) {
	err := InternalError("failed to save notification", fmt.Errorf("connection reset"))

	assert.Contains(t, err.Error(), "failed to save notification")
	assert.Contains(t, err.Error(), "connection reset")

	noCause := InternalError("something went wrong", nil)
	assert.NotContains(t, noCause.Error(), "<nil>")
}

func TestError_UnwrapSupportsErrorsIs(t *testing.T) {
	sentinel := errors.New("db closed")
	err := InternalError("failed", sentinel)

	assert.ErrorIs(t, err, sentinel)
	assert.ErrorIs(t, NotFoundError("gone").Wrap(sentinel), sentinel)
}

func TestMissingFieldsError(t *testing.T) {
	err := MissingFieldsError("title", "message", "userId")

	assert.Equal(t, TypeValidation, err.Type)
	assert.Equal(t, []string{"message", "title", "userId"}, err.Context["fields"])
}

func TestToResponse(t *testing.T) {
	resp := ForbiddenError("not your notification").WithField("notification_id", "n1").ToResponse()

	assert.Equal(t, "not your notification", resp.Error)
	assert.Equal(t, TypeForbidden, resp.Type)
	assert.Equal(t, "n1", resp.Context["notification_id"])
}

func TestAsStructuredError(t *testing.T) {
	assert.Nil(t, AsStructuredError(nil))

	original := ValidationError("bad")
	wrapped := fmt.Errorf("handler: %w", original)
	assert.Same(t, original, AsStructuredError(wrapped))

	plain := errors.New("raw")
	converted := AsStructuredError(plain)
	require.NotNil(t, converted)
	assert.Equal(t, TypeInternal, converted.Type)
	assert.Equal(t, "internal server error", converted.Message)
	assert.ErrorIs(t, converted, plain)
}

func TestIsType(t *testing.T) {
	err := fmt.Errorf("wrap: %w", UnavailableError("no eligible agents", nil))

	assert.True(t, IsType(err, TypeUnavailable))
	assert.False(t, IsType(err, TypeInternal))
	assert.False(t, IsType(errors.New("plain"), TypeInternal))
}

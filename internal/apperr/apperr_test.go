package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	assert.Equal(t, CodeNotFound, CodeOf(NotFound("gone")))
	assert.Equal(t, CodeCapacityExceeded, CodeOf(New(CodeCapacityExceeded, "full")))

	// Wrapped AppErrors are still recognized
	wrapped := fmt.Errorf("handler: %w", Forbidden("nope"))
	assert.Equal(t, CodeForbidden, CodeOf(wrapped))

	// Anything else is treated as an upstream failure
	assert.Equal(t, CodeUnavailable, CodeOf(errors.New("boom")))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{NotFound("x"), http.StatusNotFound},
		{Unauthorized("x"), http.StatusUnauthorized},
		{Forbidden("x"), http.StatusForbidden},
		{New(CodeAlreadyMember, "x"), http.StatusConflict},
		{New(CodeDuplicateFeedback, "x"), http.StatusConflict},
		{New(CodeAlreadyFlagged, "x"), http.StatusConflict},
		{New(CodeCapacityExceeded, "x"), http.StatusConflict},
		{New(CodeNotAMember, "x"), http.StatusBadRequest},
		{New(CodeNotPending, "x"), http.StatusBadRequest},
		{New(CodeNotEligible, "x"), http.StatusBadRequest},
		{InvalidInput("x"), http.StatusBadRequest},
		{Unavailable(errors.New("db down")), http.StatusServiceUnavailable},
		{errors.New("untyped"), http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.status, HTTPStatus(tt.err), "for %v", tt.err)
	}
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(Unavailable(errors.New("timeout"))))
	assert.False(t, Retryable(New(CodeCapacityExceeded, "full")))
	assert.False(t, Retryable(NotFound("x")))
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "no seat", New(CodeCapacityExceeded, "no seat").Error())

	cause := errors.New("connection refused")
	err := Unavailable(cause)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, cause, errors.Unwrap(err))
}

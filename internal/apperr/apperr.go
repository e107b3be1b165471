package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeNotFound          Code = "NOT_FOUND"
	CodeUnauthorized      Code = "UNAUTHORIZED"
	CodeForbidden         Code = "FORBIDDEN"
	CodeAlreadyMember     Code = "ALREADY_MEMBER"
	CodeNotAMember        Code = "NOT_A_MEMBER"
	CodeNotPending        Code = "NOT_PENDING"
	CodeNotAPlayer        Code = "NOT_A_PLAYER"
	CodeCapacityExceeded  Code = "CAPACITY_EXCEEDED"
	CodeDuplicateFeedback Code = "DUPLICATE_FEEDBACK"
	CodeAlreadyFlagged    Code = "ALREADY_FLAGGED"
	CodeNotEligible       Code = "NOT_ELIGIBLE"
	CodeInvalidInput      Code = "INVALID_INPUT"
	CodeUnavailable       Code = "UNAVAILABLE"
)

// AppError is the result variant the engines hand back to the web layer.
// Expected precondition failures (AlreadyMember, CapacityExceeded, ...) are
// values callers branch on, never faults. Cause carries the internal error
// for logging and is never serialized to clients.
type AppError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Cause }

func New(code Code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *AppError {
	return &AppError{Code: code, Message: message, Cause: cause}
}

func NotFound(msg string) *AppError     { return New(CodeNotFound, msg) }
func Unauthorized(msg string) *AppError { return New(CodeUnauthorized, msg) }
func Forbidden(msg string) *AppError    { return New(CodeForbidden, msg) }
func InvalidInput(msg string) *AppError { return New(CodeInvalidInput, msg) }

// Unavailable wraps an internal store or collaborator failure. The detail
// stays in Cause for the logs; clients only ever see the generic message.
func Unavailable(cause error) *AppError {
	return Wrap(CodeUnavailable, "service temporarily unavailable", cause)
}

// CodeOf returns the taxonomy code of err, or CodeUnavailable for anything
// that is not an AppError.
func CodeOf(err error) Code {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeUnavailable
}

// HTTPStatus maps a failure code to its transport status. Kept here so the
// handlers never invent their own mapping per route.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeAlreadyMember, CodeDuplicateFeedback, CodeAlreadyFlagged:
		return http.StatusConflict
	case CodeNotAMember, CodeNotPending, CodeNotAPlayer, CodeNotEligible, CodeInvalidInput:
		return http.StatusBadRequest
	case CodeCapacityExceeded:
		return http.StatusConflict
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether the caller may retry the same request with
// backoff. Only upstream failures qualify; every other failure is terminal
// for the given input.
func Retryable(err error) bool {
	return CodeOf(err) == CodeUnavailable
}

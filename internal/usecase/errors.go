package usecase

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	ErrorInvalidInput       ErrorCode = "INVALID_INPUT"
	ErrorUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrorPreconditionFailed ErrorCode = "PRECONDITION_FAILED"
	ErrorRateLimited        ErrorCode = "RATE_LIMITED"
	ErrorNotFound           ErrorCode = "NOT_FOUND"
	ErrorUpstream           ErrorCode = "UPSTREAM_ERROR"
	ErrorStore              ErrorCode = "STORE_ERROR"
	ErrorInternal           ErrorCode = "INTERNAL_ERROR"
)

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Retryable reports whether repeating the operation may succeed.
func (e *Error) Retryable() bool {
	if e == nil {
		return false
	}
	return e.Code == ErrorStore || e.Code == ErrorInternal
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// CodeOf returns the usecase error code carried by err, or ErrorInternal.
func CodeOf(err error) ErrorCode {
	var ue *Error
	if errors.As(err, &ue) {
		return ue.Code
	}
	return ErrorInternal
}

// IsRetryable reports whether err should be retried by the caller.
// Errors that are not usecase errors are treated as retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var ue *Error
	if errors.As(err, &ue) {
		return ue.Retryable()
	}
	return true
}

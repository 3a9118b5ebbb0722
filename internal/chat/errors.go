package chat

import (
	"errors"
	"fmt"
)

// ErrShuttingDown is carried by the STORAGE error returned for turns refused
// after Drain.
var ErrShuttingDown = errors.New("chat: service is shutting down")

type ErrorCode string

const (
	ErrorValidation ErrorCode = "VALIDATION"
	ErrorNotFound   ErrorCode = "NOT_FOUND"
	ErrorStorage    ErrorCode = "STORAGE"
)

// Error is the failure type returned by Service operations. Reason is a
// stable snake_case token suitable for API responses.
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
		return fmt.Sprintf("chat: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("chat: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// CodeOf returns the ErrorCode carried by err, or "" when err is not an *Error.
func CodeOf(err error) ErrorCode {
	var chatErr *Error
	if !errors.As(err, &chatErr) {
		return ""
	}
	return chatErr.Code
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

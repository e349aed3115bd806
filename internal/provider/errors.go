package provider

import (
	"errors"
	"fmt"
)

// Error is a failed provider call. Message is the provider's own text and is
// never interpreted beyond NotFound.
type Error struct {
	Op         string
	Message    string
	StatusCode int
	NotFound   bool
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Op, msg, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err as a provider error for op.
func NewError(op string, err error) *Error {
	var pErr *Error
	if errors.As(err, &pErr) {
		return pErr
	}
	return &Error{Op: op, Message: err.Error(), Err: err}
}

// NotFoundError reports a missing resource.
func NotFoundError(op, format string, args ...any) *Error {
	return &Error{Op: op, Message: fmt.Sprintf(format, args...), NotFound: true, StatusCode: 404}
}

// IsNotFound checks if an error indicates a resource was not found.
func IsNotFound(err error) bool {
	var pErr *Error
	return errors.As(err, &pErr) && pErr.NotFound
}

package tools

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies tool execution failures.
type ErrorKind string

const (
	// KindHandlerPanic means the handler panicked and was recovered.
	KindHandlerPanic ErrorKind = "handler_panic"
	// KindTimeout means the handler exceeded the tool's deadline.
	KindTimeout ErrorKind = "timeout"
	// KindHandlerError means the handler returned an error.
	KindHandlerError ErrorKind = "handler_error"
	// KindNotConfigured means the tool or its handler is not registered.
	KindNotConfigured ErrorKind = "not_configured"
)

// Error is a classified tool execution failure.
type Error struct {
	Kind    ErrorKind
	ToolID  string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("tool %s: %s: %s", e.ToolID, e.Kind, e.Message)
}

// ValidationError reports schema violations in tool call arguments.
type ValidationError struct {
	ToolID string
	Causes []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("tool %s: invalid arguments: %s", e.ToolID, strings.Join(e.Causes, "; "))
}

// retryableError marks a handler failure as transient. Execute retries these
// up to the tool's max_retries.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// Retryable wraps err so Execute will retry it.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

// IsRetryable reports whether err was marked with Retryable.
func IsRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

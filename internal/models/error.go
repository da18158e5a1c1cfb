package models

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"runtime/debug"
)

// ErrorCategory classifies a node failure for retry decisions and DLQ triage.
type ErrorCategory string

const (
	// CategoryTimeout means the handler exceeded its deadline. Retryable.
	CategoryTimeout ErrorCategory = "timeout"
	// CategoryConnection means a transient infrastructure failure. Retryable.
	CategoryConnection ErrorCategory = "connection"
	// CategoryValidation means bad input: malformed DAG, unknown handler,
	// unresolved template. Never retried.
	CategoryValidation ErrorCategory = "validation"
	// CategoryHandler means a business-logic error raised by the handler.
	// Retryable by default.
	CategoryHandler ErrorCategory = "handler"
	// CategoryCircuitOpen means the call was gated by an open circuit
	// breaker. Counts as a failure for retry purposes but the handler was
	// never invoked.
	CategoryCircuitOpen ErrorCategory = "circuit_open"
	// CategoryUnknown is any unclassified error. Retryable.
	CategoryUnknown ErrorCategory = "unknown"
)

// maxTracebackLen caps the stack trace stored in error records.
const maxTracebackLen = 4096

// ErrorDetail is the structured error record attached to failed nodes,
// completion messages, and dead-letter entries. It is plain JSON across
// process boundaries; never embed language-native error values.
type ErrorDetail struct {
	Category  ErrorCategory `json:"category"`
	Message   string        `json:"message"`
	Traceback string        `json:"traceback,omitempty"`
	Retryable bool          `json:"retryable"`
}

// NewErrorDetail builds an ErrorDetail for the given category, capturing a
// truncated stack trace of the current goroutine.
func NewErrorDetail(category ErrorCategory, err error) ErrorDetail {
	tb := string(debug.Stack())
	if len(tb) > maxTracebackLen {
		tb = tb[:maxTracebackLen]
	}
	return ErrorDetail{
		Category:  category,
		Message:   err.Error(),
		Traceback: tb,
		Retryable: category != CategoryValidation,
	}
}

// ClassifyError maps an error to its category. Handlers may signal a
// category explicitly by returning a HandlerError; otherwise classification
// falls back on well-known error types.
func ClassifyError(err error) ErrorCategory {
	var herr *HandlerError
	if errors.As(err, &herr) {
		if herr.Category == "" {
			return CategoryHandler
		}
		return herr.Category
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTimeout
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		if nerr.Timeout() {
			return CategoryTimeout
		}
		return CategoryConnection
	}
	return CategoryUnknown
}

// HandlerError lets a handler annotate a failure with an explicit category
// and retryability. The zero Category defaults to CategoryHandler.
type HandlerError struct {
	Category ErrorCategory
	Err      error
}

// NewHandlerError wraps err with the given category.
func NewHandlerError(category ErrorCategory, err error) *HandlerError {
	return &HandlerError{Category: category, Err: err}
}

func (e *HandlerError) Error() string {
	return e.Err.Error()
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

// MarshalErrorDetail serialises an ErrorDetail to its JSON wire form.
func MarshalErrorDetail(d ErrorDetail) string {
	b, err := json.Marshal(d)
	if err != nil {
		return `{"category":"unknown","message":"marshal error","retryable":true}`
	}
	return string(b)
}

// UnmarshalErrorDetail parses the JSON wire form of an ErrorDetail. A plain
// string payload is accepted for backward compatibility and mapped to an
// unknown-category record.
func UnmarshalErrorDetail(s string) ErrorDetail {
	var d ErrorDetail
	if err := json.Unmarshal([]byte(s), &d); err != nil {
		return ErrorDetail{Category: CategoryUnknown, Message: s, Retryable: true}
	}
	if d.Category == "" {
		d.Category = CategoryUnknown
	}
	return d
}

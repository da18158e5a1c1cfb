// Package tag provides standardized tag functions for structured logging.
//
// Use these functions instead of raw strings to ensure consistent and
// type-safe log output across the codebase.
package tag

import (
	"log/slog"
	"time"
)

// Error creates a tag for error objects.
func Error(err any) slog.Attr {
	return slog.Any("err", err)
}

// Workflow creates a tag for workflow ids.
func Workflow(id string) slog.Attr {
	return slog.String("workflow-id", id)
}

// Execution creates a tag for execution ids.
func Execution(id string) slog.Attr {
	return slog.String("execution-id", id)
}

// Node creates a tag for node ids.
func Node(id string) slog.Attr {
	return slog.String("node-id", id)
}

// Handler creates a tag for handler names.
func Handler(name string) slog.Attr {
	return slog.String("handler", name)
}

// Status creates a tag for status values.
func Status(status string) slog.Attr {
	return slog.String("status", status)
}

// Consumer creates a tag for stream consumer names.
func Consumer(name string) slog.Attr {
	return slog.String("consumer", name)
}

// Stream creates a tag for stream names.
func Stream(name string) slog.Attr {
	return slog.String("stream", name)
}

// MessageID creates a tag for broker message ids.
func MessageID(id string) slog.Attr {
	return slog.String("message-id", id)
}

// RetryCount creates a tag for retry counters.
func RetryCount(n int) slog.Attr {
	return slog.Int("retry-count", n)
}

// Count creates a tag for generic counts.
func Count(n int) slog.Attr {
	return slog.Int("count", n)
}

// Delay creates a tag for retry or backoff delays.
func Delay(d time.Duration) slog.Attr {
	return slog.Duration("delay", d)
}

// Category creates a tag for error categories.
func Category(c string) slog.Attr {
	return slog.String("category", c)
}

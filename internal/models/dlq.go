package models

import (
	"encoding/json"
	"time"
)

// DeadLetterEntry is the persisted record for a task that exhausted its retry
// budget or was rejected without retry. Entries are append-only and deleted
// only by explicit operator action.
type DeadLetterEntry struct {
	ID             string          `json:"entry_id"`
	ExecutionID    string          `json:"execution_id"`
	NodeID         string          `json:"node_id"`
	Handler        string          `json:"handler"`
	OriginalConfig json.RawMessage `json:"original_config,omitempty"`
	ResolvedConfig json.RawMessage `json:"resolved_config,omitempty"`
	Error          ErrorDetail     `json:"error_detail"`
	RetryCount     int             `json:"retry_count"`
	CreatedAt      time.Time       `json:"created_at"`
}

package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// SchemaVersion is the wire schema version this build reads and writes.
// Consumers that encounter a newer version must leave the message
// un-acknowledged so the reaper can reclaim it after operator intervention.
const SchemaVersion = 1

// ErrUnknownSchemaVersion is returned when a message carries a schema version
// newer than this build understands.
var ErrUnknownSchemaVersion = errors.New("unknown schema version")

// TaskMessage is the payload published on the tasks stream. Config is fully
// resolved before dispatch; workers never look up upstream outputs.
type TaskMessage struct {
	ExecutionID   string          `json:"execution_id"`
	NodeID        string          `json:"node_id"`
	Handler       string          `json:"handler"`
	Config        json.RawMessage `json:"config"`
	RetryCount    int             `json:"retry_count"`
	SchemaVersion int             `json:"schema_version"`
}

// Fields returns the stream field map for XADD.
func (t TaskMessage) Fields() map[string]any {
	return map[string]any{
		"execution_id":   t.ExecutionID,
		"node_id":        t.NodeID,
		"handler":        t.Handler,
		"config":         string(t.Config),
		"retry_count":    strconv.Itoa(t.RetryCount),
		"schema_version": strconv.Itoa(t.SchemaVersion),
	}
}

// TaskFromFields parses a task message from stream fields.
func TaskFromFields(fields map[string]string) (TaskMessage, error) {
	version, err := parseSchemaVersion(fields)
	if err != nil {
		return TaskMessage{}, err
	}
	retryCount, err := strconv.Atoi(fields["retry_count"])
	if err != nil {
		return TaskMessage{}, fmt.Errorf("invalid retry_count %q: %w", fields["retry_count"], err)
	}
	msg := TaskMessage{
		ExecutionID:   fields["execution_id"],
		NodeID:        fields["node_id"],
		Handler:       fields["handler"],
		RetryCount:    retryCount,
		SchemaVersion: version,
	}
	if cfg := fields["config"]; cfg != "" {
		msg.Config = json.RawMessage(cfg)
	}
	if msg.ExecutionID == "" || msg.NodeID == "" {
		return TaskMessage{}, errors.New("task message missing execution_id or node_id")
	}
	return msg, nil
}

// Fingerprint identifies one logical execution attempt of a node. The
// idempotency mark keyed by this value is written only after the completion
// has been published, so a reclaimed in-flight task is re-executable.
func (t TaskMessage) Fingerprint() string {
	sum := sha256.Sum256([]byte(t.ExecutionID + ":" + t.NodeID + ":" + strconv.Itoa(t.RetryCount)))
	return hex.EncodeToString(sum[:])
}

// CompletionMessage is the payload published on the completions stream after
// a node reaches a terminal state.
type CompletionMessage struct {
	ExecutionID   string          `json:"execution_id"`
	NodeID        string          `json:"node_id"`
	Status        NodeStatus      `json:"status"`
	Output        json.RawMessage `json:"output,omitempty"`
	Error         *ErrorDetail    `json:"error,omitempty"`
	SchemaVersion int             `json:"schema_version"`
}

// Fields returns the stream field map for XADD.
func (c CompletionMessage) Fields() map[string]any {
	fields := map[string]any{
		"execution_id":   c.ExecutionID,
		"node_id":        c.NodeID,
		"status":         string(c.Status),
		"schema_version": strconv.Itoa(c.SchemaVersion),
	}
	if len(c.Output) > 0 {
		fields["output"] = string(c.Output)
	}
	if c.Error != nil {
		fields["error"] = MarshalErrorDetail(*c.Error)
	}
	return fields
}

// CompletionFromFields parses a completion message from stream fields.
func CompletionFromFields(fields map[string]string) (CompletionMessage, error) {
	version, err := parseSchemaVersion(fields)
	if err != nil {
		return CompletionMessage{}, err
	}
	msg := CompletionMessage{
		ExecutionID:   fields["execution_id"],
		NodeID:        fields["node_id"],
		Status:        NodeStatus(fields["status"]),
		SchemaVersion: version,
	}
	if msg.ExecutionID == "" || msg.NodeID == "" {
		return CompletionMessage{}, errors.New("completion message missing execution_id or node_id")
	}
	if msg.Status != NodeCompleted && msg.Status != NodeFailed {
		return CompletionMessage{}, fmt.Errorf("invalid completion status %q", fields["status"])
	}
	if out, ok := fields["output"]; ok && out != "" {
		msg.Output = json.RawMessage(out)
	}
	if errStr, ok := fields["error"]; ok && errStr != "" {
		detail := UnmarshalErrorDetail(errStr)
		msg.Error = &detail
	}
	return msg, nil
}

func parseSchemaVersion(fields map[string]string) (int, error) {
	raw, ok := fields["schema_version"]
	if !ok {
		return 0, errors.New("message missing schema_version")
	}
	version, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid schema_version %q: %w", raw, err)
	}
	if version > SchemaVersion {
		return 0, fmt.Errorf("%w: %d", ErrUnknownSchemaVersion, version)
	}
	return version, nil
}

package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func stringValues(fields map[string]any) map[string]string {
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		out[k] = v.(string)
	}
	return out
}

func TestTaskMessageFieldsRoundTrip(t *testing.T) {
	msg := TaskMessage{
		ExecutionID:   "exec-1",
		NodeID:        "node-a",
		Handler:       "echo",
		Config:        json.RawMessage(`{"v":1}`),
		RetryCount:    2,
		SchemaVersion: SchemaVersion,
	}

	parsed, err := TaskFromFields(stringValues(msg.Fields()))
	require.NoError(t, err)
	require.Equal(t, msg, parsed)
}

func TestTaskFromFieldsRejectsFutureSchema(t *testing.T) {
	msg := TaskMessage{ExecutionID: "e", NodeID: "n", SchemaVersion: SchemaVersion + 1}
	_, err := TaskFromFields(stringValues(msg.Fields()))
	require.ErrorIs(t, err, ErrUnknownSchemaVersion)
}

func TestTaskFromFieldsMissingIdentity(t *testing.T) {
	_, err := TaskFromFields(map[string]string{
		"schema_version": "1",
		"retry_count":    "0",
	})
	require.Error(t, err)
}

func TestFingerprintVariesByAttempt(t *testing.T) {
	base := TaskMessage{ExecutionID: "e", NodeID: "n", RetryCount: 0}
	retried := base
	retried.RetryCount = 1
	other := base
	other.NodeID = "m"

	require.Equal(t, base.Fingerprint(), base.Fingerprint())
	require.NotEqual(t, base.Fingerprint(), retried.Fingerprint())
	require.NotEqual(t, base.Fingerprint(), other.Fingerprint())
	require.Len(t, base.Fingerprint(), 64)
}

func TestCompletionMessageFieldsRoundTrip(t *testing.T) {
	detail := ErrorDetail{Category: CategoryHandler, Message: "boom", Retryable: true}
	msg := CompletionMessage{
		ExecutionID:   "exec-1",
		NodeID:        "node-a",
		Status:        NodeFailed,
		Error:         &detail,
		SchemaVersion: SchemaVersion,
	}

	parsed, err := CompletionFromFields(stringValues(msg.Fields()))
	require.NoError(t, err)
	require.Equal(t, msg, parsed)
}

func TestCompletionMessageOutputRoundTrip(t *testing.T) {
	msg := CompletionMessage{
		ExecutionID:   "exec-1",
		NodeID:        "node-a",
		Status:        NodeCompleted,
		Output:        json.RawMessage(`{"v":10}`),
		SchemaVersion: SchemaVersion,
	}
	parsed, err := CompletionFromFields(stringValues(msg.Fields()))
	require.NoError(t, err)
	require.Equal(t, msg, parsed)
}

func TestCompletionFromFieldsRejectsBadStatus(t *testing.T) {
	_, err := CompletionFromFields(map[string]string{
		"execution_id":   "e",
		"node_id":        "n",
		"status":         "RUNNING",
		"schema_version": "1",
	})
	require.Error(t, err)
}

func TestNodeStatusTransitions(t *testing.T) {
	require.True(t, NodeWaiting.CanTransition(NodePending))
	require.True(t, NodeWaiting.CanTransition(NodeSkipped))
	require.True(t, NodeWaiting.CanTransition(NodeFailed))
	require.True(t, NodePending.CanTransition(NodeRunning))
	require.True(t, NodePending.CanTransition(NodeCompleted))
	require.True(t, NodeRunning.CanTransition(NodeFailed))

	require.False(t, NodeWaiting.CanTransition(NodeRunning))
	require.False(t, NodeCompleted.CanTransition(NodeFailed))
	require.False(t, NodeSkipped.CanTransition(NodePending))
	require.False(t, NodeRunning.CanTransition(NodeSkipped))
}

func TestTerminalStatuses(t *testing.T) {
	require.True(t, NodeCompleted.IsTerminal())
	require.True(t, NodeFailed.IsTerminal())
	require.True(t, NodeSkipped.IsTerminal())
	require.False(t, NodeWaiting.IsTerminal())
	require.False(t, NodePending.IsTerminal())
	require.False(t, NodeRunning.IsTerminal())

	require.True(t, ExecutionCompleted.IsTerminal())
	require.True(t, ExecutionCancelled.IsTerminal())
	require.False(t, ExecutionRunning.IsTerminal())
}

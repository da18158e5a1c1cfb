package state

import "fmt"

// Key namespace of the hot store. Per-node state lives under status:/output:
// keys, execution-level state under meta:execution:, and ephemeral
// coordination state under idempotency:/lock:/rate: keys.

func statusKey(executionID, nodeID string) string {
	return fmt.Sprintf("status:%s:%s", executionID, nodeID)
}

func outputKey(executionID, nodeID string) string {
	return fmt.Sprintf("output:%s:%s", executionID, nodeID)
}

func idempotencyKey(fingerprint string) string {
	return fmt.Sprintf("idempotency:%s", fingerprint)
}

// EvalLockKey is the fan-in serialization lock for one (execution, node) pair.
func EvalLockKey(executionID, nodeID string) string {
	return fmt.Sprintf("lock:eval:%s:%s", executionID, nodeID)
}

func executionMetaKey(executionID string) string {
	return fmt.Sprintf("meta:execution:%s", executionID)
}

func rateKey(key string, windowStart int64) string {
	return fmt.Sprintf("rate:%s:%d", key, windowStart)
}

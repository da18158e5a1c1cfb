// Package state is a narrow façade over Redis for the engine's hot state:
// per-node status hashes, node outputs, idempotency marks, distributed
// evaluation locks, execution metadata, and the fixed-window rate counter.
// Status transitions and lock releases are atomic (Lua compare-and-set);
// every ephemeral key carries a TTL so stalled operators cannot deadlock
// the system indefinitely.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/floworc/floworc/internal/config"
	"github.com/floworc/floworc/internal/models"
)

// ErrNotFound is returned when a requested key does not exist.
var ErrNotFound = errors.New("state: not found")

// Store provides the hot-state operations the engine depends on.
type Store struct {
	rdb            redis.UniversalClient
	terminalTTL    time.Duration
	idempotencyTTL time.Duration
	lockTTL        time.Duration
}

// New creates a Store over the given Redis client.
func New(rdb redis.UniversalClient, cfg config.State) *Store {
	return &Store{
		rdb:            rdb,
		terminalTTL:    cfg.TerminalTTL,
		idempotencyTTL: cfg.IdempotencyTTL,
		lockTTL:        cfg.LockTTL,
	}
}

// LockTTL returns the configured evaluation lock TTL.
func (s *Store) LockTTL() time.Duration {
	return s.lockTTL
}

// InitNodes seeds the per-node status hashes for a fresh execution. Every
// node starts in WAITING with a zero retry count.
func (s *Store) InitNodes(ctx context.Context, executionID string, nodeIDs []string) error {
	pipe := s.rdb.Pipeline()
	for _, nodeID := range nodeIDs {
		pipe.HSet(ctx, statusKey(executionID, nodeID),
			"status", string(models.NodeWaiting),
			"retry_count", "0",
		)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("init node statuses for execution %s: %w", executionID, err)
	}
	return nil
}

// NodeStatus returns the status of one node. ErrNotFound when unknown.
func (s *Store) NodeStatus(ctx context.Context, executionID, nodeID string) (models.NodeStatus, error) {
	value, err := s.rdb.HGet(ctx, statusKey(executionID, nodeID), "status").Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get status of node %s: %w", nodeID, err)
	}
	return models.NodeStatus(value), nil
}

// NodeStatuses returns the statuses of several nodes in a single round trip.
// Nodes without state are absent from the result.
func (s *Store) NodeStatuses(ctx context.Context, executionID string, nodeIDs []string) (map[string]models.NodeStatus, error) {
	pipe := s.rdb.Pipeline()
	cmds := make(map[string]*redis.StringCmd, len(nodeIDs))
	for _, nodeID := range nodeIDs {
		cmds[nodeID] = pipe.HGet(ctx, statusKey(executionID, nodeID), "status")
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get statuses for execution %s: %w", executionID, err)
	}

	result := make(map[string]models.NodeStatus, len(nodeIDs))
	for nodeID, cmd := range cmds {
		value, err := cmd.Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get status of node %s: %w", nodeID, err)
		}
		result[nodeID] = models.NodeStatus(value)
	}
	return result, nil
}

// CASNodeStatus transitions a node's status only when the current value
// matches expected, atomically updating the extra hash fields on success.
// Terminal statuses arm the terminal-state TTL.
func (s *Store) CASNodeStatus(ctx context.Context, executionID, nodeID string, expected, next models.NodeStatus, extra map[string]string) (bool, error) {
	ttlMillis := int64(0)
	if next.IsTerminal() {
		ttlMillis = s.terminalTTL.Milliseconds()
	}
	args := []any{string(expected), string(next), ttlMillis}
	for field, value := range extra {
		args = append(args, field, value)
	}

	n, err := casStatusScript.Run(ctx, s.rdb, []string{statusKey(executionID, nodeID)}, args...).Int()
	if err != nil {
		return false, fmt.Errorf("cas status of node %s (%s -> %s): %w", nodeID, expected, next, err)
	}
	return n == 1, nil
}

// PutOutput stores the JSON output of a completed node.
func (s *Store) PutOutput(ctx context.Context, executionID, nodeID string, output json.RawMessage) error {
	if err := s.rdb.Set(ctx, outputKey(executionID, nodeID), string(output), s.terminalTTL).Err(); err != nil {
		return fmt.Errorf("put output of node %s: %w", nodeID, err)
	}
	return nil
}

// Output returns the stored output of one node. ErrNotFound when absent.
func (s *Store) Output(ctx context.Context, executionID, nodeID string) (json.RawMessage, error) {
	value, err := s.rdb.Get(ctx, outputKey(executionID, nodeID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get output of node %s: %w", nodeID, err)
	}
	return json.RawMessage(value), nil
}

// Outputs returns the outputs of several nodes in a single round trip.
// Nodes without output are absent from the result.
func (s *Store) Outputs(ctx context.Context, executionID string, nodeIDs []string) (map[string]json.RawMessage, error) {
	pipe := s.rdb.Pipeline()
	cmds := make(map[string]*redis.StringCmd, len(nodeIDs))
	for _, nodeID := range nodeIDs {
		cmds[nodeID] = pipe.Get(ctx, outputKey(executionID, nodeID))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get outputs for execution %s: %w", executionID, err)
	}

	result := make(map[string]json.RawMessage, len(nodeIDs))
	for nodeID, cmd := range cmds {
		value, err := cmd.Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get output of node %s: %w", nodeID, err)
		}
		result[nodeID] = json.RawMessage(value)
	}
	return result, nil
}

// IsClaimed reports whether the idempotency mark for a task fingerprint
// exists. The mark is written only after successful completion publication,
// so an absent mark means the attempt has not completed yet.
func (s *Store) IsClaimed(ctx context.Context, fingerprint string) (bool, error) {
	n, err := s.rdb.Exists(ctx, idempotencyKey(fingerprint)).Result()
	if err != nil {
		return false, fmt.Errorf("check idempotency mark: %w", err)
	}
	return n > 0, nil
}

// TryClaim sets the idempotency mark if absent. Returns true iff this caller
// claimed it.
func (s *Store) TryClaim(ctx context.Context, fingerprint string) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, idempotencyKey(fingerprint), "1", s.idempotencyTTL).Result()
	if err != nil {
		return false, fmt.Errorf("claim idempotency mark: %w", err)
	}
	return ok, nil
}

// AcquireLock takes the named lock with an owner token and TTL. Returns true
// iff this caller now holds the lock.
func (s *Store) AcquireLock(ctx context.Context, key, ownerToken string, ttl time.Duration) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, key, ownerToken, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	return ok, nil
}

// ReleaseLock releases the named lock only when still held by ownerToken.
func (s *Store) ReleaseLock(ctx context.Context, key, ownerToken string) (bool, error) {
	n, err := releaseLockScript.Run(ctx, s.rdb, []string{key}, ownerToken).Int()
	if err != nil {
		return false, fmt.Errorf("release lock %s: %w", key, err)
	}
	return n == 1, nil
}

// ExecutionMeta is the execution-level hot record: the bound workflow,
// overall status, and timestamps.
type ExecutionMeta struct {
	WorkflowID string
	Status     models.ExecutionStatus
	CreatedAt  time.Time
	StartedAt  time.Time
	FinishedAt time.Time
}

// PutExecutionMeta writes the execution meta hash.
func (s *Store) PutExecutionMeta(ctx context.Context, executionID string, meta ExecutionMeta) error {
	fields := []any{
		"workflow_id", meta.WorkflowID,
		"status", string(meta.Status),
		"created_at", meta.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if !meta.StartedAt.IsZero() {
		fields = append(fields, "started_at", meta.StartedAt.UTC().Format(time.RFC3339Nano))
	}
	if !meta.FinishedAt.IsZero() {
		fields = append(fields, "finished_at", meta.FinishedAt.UTC().Format(time.RFC3339Nano))
	}
	if err := s.rdb.HSet(ctx, executionMetaKey(executionID), fields...).Err(); err != nil {
		return fmt.Errorf("put execution meta %s: %w", executionID, err)
	}
	return nil
}

// ExecutionMeta reads the execution meta hash. ErrNotFound when absent.
func (s *Store) ExecutionMeta(ctx context.Context, executionID string) (ExecutionMeta, error) {
	values, err := s.rdb.HGetAll(ctx, executionMetaKey(executionID)).Result()
	if err != nil {
		return ExecutionMeta{}, fmt.Errorf("get execution meta %s: %w", executionID, err)
	}
	if len(values) == 0 {
		return ExecutionMeta{}, ErrNotFound
	}
	meta := ExecutionMeta{
		WorkflowID: values["workflow_id"],
		Status:     models.ExecutionStatus(values["status"]),
	}
	meta.CreatedAt = parseTime(values["created_at"])
	meta.StartedAt = parseTime(values["started_at"])
	meta.FinishedAt = parseTime(values["finished_at"])
	return meta, nil
}

// CASExecutionStatus transitions the overall execution status with
// compare-and-set semantics. Terminal statuses arm the terminal-state TTL
// and record finished_at.
func (s *Store) CASExecutionStatus(ctx context.Context, executionID string, expected, next models.ExecutionStatus) (bool, error) {
	ttlMillis := int64(0)
	args := []any{string(expected), string(next), ttlMillis}
	if next.IsTerminal() {
		args[2] = s.terminalTTL.Milliseconds()
		args = append(args, "finished_at", time.Now().UTC().Format(time.RFC3339Nano))
	}
	if next == models.ExecutionRunning {
		args = append(args, "started_at", time.Now().UTC().Format(time.RFC3339Nano))
	}

	n, err := casExecutionStatusScript.Run(ctx, s.rdb, []string{executionMetaKey(executionID)}, args...).Int()
	if err != nil {
		return false, fmt.Errorf("cas execution status %s (%s -> %s): %w", executionID, expected, next, err)
	}
	return n == 1, nil
}

// RateLimitResult is the outcome of a fixed-window rate check.
type RateLimitResult struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// RateWindowIncr increments the fixed-window counter for key and reports
// whether the call is within the limit.
func (s *Store) RateWindowIncr(ctx context.Context, key string, window time.Duration, limit int) (RateLimitResult, error) {
	windowSeconds := int64(window.Seconds())
	windowStart := time.Now().Unix() / windowSeconds * windowSeconds
	redisKey := rateKey(key, windowStart)

	count, err := s.rdb.Incr(ctx, redisKey).Result()
	if err != nil {
		return RateLimitResult{}, fmt.Errorf("rate window incr %s: %w", key, err)
	}
	if count == 1 {
		if err := s.rdb.Expire(ctx, redisKey, window).Err(); err != nil {
			return RateLimitResult{}, fmt.Errorf("rate window expire %s: %w", key, err)
		}
	}

	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return RateLimitResult{
		Allowed:   count <= int64(limit),
		Remaining: remaining,
		ResetAt:   time.Unix(windowStart+windowSeconds, 0).UTC(),
	}, nil
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}

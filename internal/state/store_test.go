package state

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/floworc/floworc/internal/config"
	"github.com/floworc/floworc/internal/models"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := New(rdb, config.State{
		TerminalTTL:    24 * time.Hour,
		IdempotencyTTL: time.Hour,
		LockTTL:        30 * time.Second,
	})
	return store, mr
}

func TestInitNodesAndStatuses(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.InitNodes(ctx, "exec-1", []string{"a", "b", "c"}))

	status, err := store.NodeStatus(ctx, "exec-1", "a")
	require.NoError(t, err)
	require.Equal(t, models.NodeWaiting, status)

	statuses, err := store.NodeStatuses(ctx, "exec-1", []string{"a", "b", "c", "ghost"})
	require.NoError(t, err)
	require.Len(t, statuses, 3)
	require.Equal(t, models.NodeWaiting, statuses["b"])
	require.NotContains(t, statuses, "ghost")

	_, err = store.NodeStatus(ctx, "exec-1", "ghost")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCASNodeStatus(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.InitNodes(ctx, "exec-1", []string{"a"}))

	ok, err := store.CASNodeStatus(ctx, "exec-1", "a", models.NodeWaiting, models.NodePending, nil)
	require.NoError(t, err)
	require.True(t, ok)

	// Stale expectation fails and leaves state untouched.
	ok, err = store.CASNodeStatus(ctx, "exec-1", "a", models.NodeWaiting, models.NodeRunning, nil)
	require.NoError(t, err)
	require.False(t, ok)

	status, err := store.NodeStatus(ctx, "exec-1", "a")
	require.NoError(t, err)
	require.Equal(t, models.NodePending, status)

	// Extra fields land atomically with the transition.
	ok, err = store.CASNodeStatus(ctx, "exec-1", "a", models.NodePending, models.NodeRunning,
		map[string]string{"started_at": "2026-01-01T00:00:00Z"})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "2026-01-01T00:00:00Z", mr.HGet("status:exec-1:a", "started_at"))
	require.Equal(t, time.Duration(0), mr.TTL("status:exec-1:a"))

	// Terminal transition arms the TTL.
	ok, err = store.CASNodeStatus(ctx, "exec-1", "a", models.NodeRunning, models.NodeCompleted, nil)
	require.NoError(t, err)
	require.True(t, ok)
	require.Greater(t, mr.TTL("status:exec-1:a"), time.Duration(0))
}

func TestOutputs(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.PutOutput(ctx, "exec-1", "a", json.RawMessage(`{"v":1}`)))
	require.NoError(t, store.PutOutput(ctx, "exec-1", "b", json.RawMessage(`{"v":2}`)))

	out, err := store.Output(ctx, "exec-1", "a")
	require.NoError(t, err)
	require.JSONEq(t, `{"v":1}`, string(out))

	_, err = store.Output(ctx, "exec-1", "ghost")
	require.ErrorIs(t, err, ErrNotFound)

	all, err := store.Outputs(ctx, "exec-1", []string{"a", "b", "ghost"})
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.JSONEq(t, `{"v":2}`, string(all["b"]))
}

func TestIdempotencyClaims(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	claimed, err := store.IsClaimed(ctx, "fp-1")
	require.NoError(t, err)
	require.False(t, claimed)

	ok, err := store.TryClaim(ctx, "fp-1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.TryClaim(ctx, "fp-1")
	require.NoError(t, err)
	require.False(t, ok)

	claimed, err = store.IsClaimed(ctx, "fp-1")
	require.NoError(t, err)
	require.True(t, claimed)
}

func TestLockOwnership(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	key := EvalLockKey("exec-1", "a")

	ok, err := store.AcquireLock(ctx, key, "owner-1", 30*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.AcquireLock(ctx, key, "owner-2", 30*time.Second)
	require.NoError(t, err)
	require.False(t, ok)

	// A non-owner cannot release.
	released, err := store.ReleaseLock(ctx, key, "owner-2")
	require.NoError(t, err)
	require.False(t, released)
	require.True(t, mr.Exists(key))

	released, err = store.ReleaseLock(ctx, key, "owner-1")
	require.NoError(t, err)
	require.True(t, released)
	require.False(t, mr.Exists(key))

	// After TTL expiry a new holder takes over; the old token must not
	// release the new lock.
	ok, err = store.AcquireLock(ctx, key, "owner-1", 10*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)
	mr.FastForward(20 * time.Millisecond)

	ok, err = store.AcquireLock(ctx, key, "owner-3", 30*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	released, err = store.ReleaseLock(ctx, key, "owner-1")
	require.NoError(t, err)
	require.False(t, released)
}

func TestExecutionMetaLifecycle(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	created := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	_, err := store.ExecutionMeta(ctx, "exec-1")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.PutExecutionMeta(ctx, "exec-1", ExecutionMeta{
		WorkflowID: "wf-1",
		Status:     models.ExecutionPending,
		CreatedAt:  created,
	}))

	meta, err := store.ExecutionMeta(ctx, "exec-1")
	require.NoError(t, err)
	require.Equal(t, "wf-1", meta.WorkflowID)
	require.Equal(t, models.ExecutionPending, meta.Status)
	require.True(t, meta.CreatedAt.Equal(created))
	require.True(t, meta.StartedAt.IsZero())

	ok, err := store.CASExecutionStatus(ctx, "exec-1", models.ExecutionPending, models.ExecutionRunning)
	require.NoError(t, err)
	require.True(t, ok)

	// Repeating the same transition fails: status already moved.
	ok, err = store.CASExecutionStatus(ctx, "exec-1", models.ExecutionPending, models.ExecutionRunning)
	require.NoError(t, err)
	require.False(t, ok)

	meta, err = store.ExecutionMeta(ctx, "exec-1")
	require.NoError(t, err)
	require.Equal(t, models.ExecutionRunning, meta.Status)
	require.False(t, meta.StartedAt.IsZero())
	require.True(t, meta.FinishedAt.IsZero())

	ok, err = store.CASExecutionStatus(ctx, "exec-1", models.ExecutionRunning, models.ExecutionCompleted)
	require.NoError(t, err)
	require.True(t, ok)

	meta, err = store.ExecutionMeta(ctx, "exec-1")
	require.NoError(t, err)
	require.Equal(t, models.ExecutionCompleted, meta.Status)
	require.False(t, meta.FinishedAt.IsZero())
}

func TestRateWindow(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		result, err := store.RateWindowIncr(ctx, "submit", time.Minute, 3)
		require.NoError(t, err)
		require.True(t, result.Allowed)
		require.Equal(t, 3-i, result.Remaining)
	}

	result, err := store.RateWindowIncr(ctx, "submit", time.Minute, 3)
	require.NoError(t, err)
	require.False(t, result.Allowed)
	require.Equal(t, 0, result.Remaining)
	require.False(t, result.ResetAt.IsZero())

	// A fresh window admits again.
	mr.FastForward(2 * time.Minute)
	result, err = store.RateWindowIncr(ctx, "submit", time.Minute, 3)
	require.NoError(t, err)
	require.True(t, result.Allowed)
}

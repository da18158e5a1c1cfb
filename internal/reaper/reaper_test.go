package reaper

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/floworc/floworc/internal/broker"
	"github.com/floworc/floworc/internal/config"
	"github.com/floworc/floworc/internal/models"
)

type harness struct {
	reaper *Reaper
	broker *broker.Broker
	dlq    *broker.DLQ
	mr     *miniredis.Miniredis
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	streams := config.Streams{
		Tasks:             "workflow:tasks",
		Completions:       "workflow:completions",
		DLQ:               "workflow:dlq",
		OrchestratorGroup: "g:orchestrator",
		WorkerGroup:       "g:worker",
		MaxLen:            100000,
	}
	b := broker.New(rdb, streams)
	require.NoError(t, b.EnsureGroups(context.Background()))
	dlq := broker.NewDLQ(rdb, streams.DLQ)

	return &harness{
		reaper: New(b, dlq, config.Reaper{
			CheckInterval: 5 * time.Second,
			MinIdle:       25 * time.Second,
			BatchSize:     10,
			MaxReclaims:   10,
		}, "reaper-test"),
		broker: b,
		dlq:    dlq,
		mr:     mr,
	}
}

// abandon publishes a task and delivers it to a consumer that never acks.
func (h *harness) abandon(t *testing.T, msg models.TaskMessage) {
	t.Helper()
	_, err := h.broker.PublishTask(context.Background(), msg)
	require.NoError(t, err)
	deliveries, err := h.broker.ConsumeTasks(context.Background(), "dead-worker", 10, time.Millisecond)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
}

func TestSweepTasksRequeuesStalled(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	msg := models.TaskMessage{
		ExecutionID:   "exec-1",
		NodeID:        "a",
		Handler:       "echo",
		Config:        json.RawMessage(`{"v":1}`),
		RetryCount:    2,
		SchemaVersion: models.SchemaVersion,
	}
	h.abandon(t, msg)

	// Not idle long enough; nothing moves.
	h.reaper.sweepTasks(ctx)
	deliveries, err := h.broker.ConsumeTasks(ctx, "live-worker", 10, time.Millisecond)
	require.NoError(t, err)
	require.Empty(t, deliveries)

	h.mr.SetTime(time.Now().Add(time.Minute))
	h.reaper.sweepTasks(ctx)

	// The task is back on the stream for a surviving consumer, payload intact.
	deliveries, err = h.broker.ConsumeTasks(ctx, "live-worker", 10, time.Millisecond)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	require.NoError(t, deliveries[0].Err)
	require.Equal(t, msg, deliveries[0].Msg)
	require.NoError(t, h.broker.AckTasks(ctx, deliveries[0].ID))

	// The stalled original was acknowledged; a later sweep finds nothing.
	h.mr.SetTime(time.Now().Add(2 * time.Minute))
	reclaimed, err := h.broker.ReclaimTasks(ctx, "probe", time.Second, 10)
	require.NoError(t, err)
	require.Empty(t, reclaimed)

	n, err := h.dlq.Count(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestSweepTasksBuriesOverCap(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	msg := models.TaskMessage{
		ExecutionID:   "exec-1",
		NodeID:        "a",
		Handler:       "echo",
		Config:        json.RawMessage(`{"v":1}`),
		RetryCount:    11,
		SchemaVersion: models.SchemaVersion,
	}
	h.abandon(t, msg)

	h.mr.SetTime(time.Now().Add(time.Minute))
	h.reaper.sweepTasks(ctx)

	// Not requeued; routed to the dead-letter store instead.
	deliveries, err := h.broker.ConsumeTasks(ctx, "live-worker", 10, time.Millisecond)
	require.NoError(t, err)
	require.Empty(t, deliveries)

	entries, err := h.dlq.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "exec-1", entries[0].ExecutionID)
	require.Equal(t, "a", entries[0].NodeID)
	require.Equal(t, 11, entries[0].RetryCount)
	require.False(t, entries[0].Error.Retryable)
}

func TestSweepCompletionsRequeuesStalled(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	msg := models.CompletionMessage{
		ExecutionID:   "exec-1",
		NodeID:        "a",
		Status:        models.NodeCompleted,
		Output:        json.RawMessage(`{"v":1}`),
		SchemaVersion: models.SchemaVersion,
	}
	_, err := h.broker.PublishCompletion(ctx, msg)
	require.NoError(t, err)
	deliveries, err := h.broker.ConsumeCompletions(ctx, "dead-orch", 10, time.Millisecond)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)

	h.mr.SetTime(time.Now().Add(time.Minute))
	h.reaper.sweepCompletions(ctx)

	redelivered, err := h.broker.ConsumeCompletions(ctx, "live-orch", 10, time.Millisecond)
	require.NoError(t, err)
	require.Len(t, redelivered, 1)
	require.NoError(t, redelivered[0].Err)
	require.Equal(t, msg, redelivered[0].Msg)
}

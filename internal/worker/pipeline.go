package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/floworc/floworc/internal/backoff"
	"github.com/floworc/floworc/internal/logger"
	"github.com/floworc/floworc/internal/logger/tag"
	"github.com/floworc/floworc/internal/models"
	"github.com/floworc/floworc/internal/state"
)

// process runs the per-task pipeline. A nil return means the delivery can be
// acknowledged; an error leaves it un-acknowledged for the reaper.
func (w *Worker) process(ctx context.Context, msg models.TaskMessage) error {
	fingerprint := msg.Fingerprint()

	// The idempotency mark is written only after completion publication, so
	// its presence means this logical attempt already finished somewhere.
	claimed, err := w.store.IsClaimed(ctx, fingerprint)
	if err != nil {
		return err
	}
	if claimed {
		logger.Debug(ctx, "Skipping completed attempt",
			tag.Execution(msg.ExecutionID),
			tag.Node(msg.NodeID),
			tag.RetryCount(msg.RetryCount))
		return nil
	}

	meta, err := w.store.ExecutionMeta(ctx, msg.ExecutionID)
	if errors.Is(err, state.ErrNotFound) {
		logger.Warn(ctx, "Task for unknown execution", tag.Execution(msg.ExecutionID))
		return nil
	}
	if err != nil {
		return err
	}
	if meta.Status == models.ExecutionCancelled {
		return nil
	}

	ok, err := w.store.CASNodeStatus(ctx, msg.ExecutionID, msg.NodeID,
		models.NodePending, models.NodeRunning,
		map[string]string{
			"started_at":  time.Now().UTC().Format(time.RFC3339Nano),
			"retry_count": strconv.Itoa(msg.RetryCount),
		})
	if err != nil {
		return err
	}
	if !ok {
		current, err := w.store.NodeStatus(ctx, msg.ExecutionID, msg.NodeID)
		if errors.Is(err, state.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if current != models.NodeRunning {
			// Raced or already terminal.
			return nil
		}
		// RUNNING with no idempotency mark: the previous owner died mid
		// attempt and the reaper redelivered the task. Re-execute.
	}

	handler, ok := w.registry.Get(msg.Handler)
	if !ok {
		detail := models.NewErrorDetail(models.CategoryValidation,
			fmt.Errorf("unknown handler %q", msg.Handler))
		return w.deadLetter(ctx, meta.WorkflowID, msg, detail)
	}

	// An attempt that has started is driven to its end even during shutdown:
	// the handler finishes (or hits its own timeout), the outcome is
	// published, and the delivery is acked before Run returns.
	dctx := context.WithoutCancel(ctx)

	output, err := w.invoke(dctx, handler, msg)
	if err != nil {
		return w.fail(ctx, meta.WorkflowID, msg, err)
	}

	// Cancellation observed after the handler: discard the outcome and
	// publish nothing.
	meta, err = w.store.ExecutionMeta(dctx, msg.ExecutionID)
	if errors.Is(err, state.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if meta.Status == models.ExecutionCancelled {
		return nil
	}

	if err := w.store.PutOutput(dctx, msg.ExecutionID, msg.NodeID, output); err != nil {
		return err
	}
	if err := w.publishCompletion(dctx, fingerprint, models.CompletionMessage{
		ExecutionID: msg.ExecutionID,
		NodeID:      msg.NodeID,
		Status:      models.NodeCompleted,
		Output:      output,
	}); err != nil {
		return err
	}

	logger.Info(ctx, "Task completed",
		tag.Execution(msg.ExecutionID),
		tag.Node(msg.NodeID),
		tag.Handler(msg.Handler),
		tag.RetryCount(msg.RetryCount))
	return nil
}

// invoke runs the handler through its circuit breaker with a hard timeout.
func (w *Worker) invoke(ctx context.Context, handler Handler, msg models.TaskMessage) (json.RawMessage, error) {
	return w.breakers.execute(msg.Handler, func() (json.RawMessage, error) {
		hctx, cancel := context.WithTimeout(ctx, w.cfg.HandlerTimeout)
		defer cancel()
		return handler(hctx, msg.Config)
	})
}

// fail classifies a handler failure and either republishes the task with an
// incremented retry count after the backoff delay, or routes it to the
// dead-letter store.
func (w *Worker) fail(ctx context.Context, workflowID string, msg models.TaskMessage, cause error) error {
	category := models.ClassifyError(cause)
	if errors.Is(cause, gobreaker.ErrOpenState) || errors.Is(cause, gobreaker.ErrTooManyRequests) {
		// The handler was never invoked; still a failure for retry purposes.
		category = models.CategoryCircuitOpen
	}
	detail := models.NewErrorDetail(category, cause)

	if detail.Retryable && msg.RetryCount+1 <= w.cfg.MaxRetries {
		delay, err := w.retryPolicy.ComputeNextInterval(msg.RetryCount, 0, cause)
		if err != nil {
			return err
		}
		logger.Warn(ctx, "Task failed, retrying",
			tag.Execution(msg.ExecutionID),
			tag.Node(msg.NodeID),
			tag.Handler(msg.Handler),
			tag.Category(string(category)),
			tag.RetryCount(msg.RetryCount+1),
			tag.Delay(delay),
			tag.Error(cause))

		// Sleeping in-process keeps the delay cancellable; on shutdown the
		// un-acked message is reclaimed by the reaper.
		if err := backoff.Sleep(ctx, delay); err != nil {
			return err
		}
		retry := msg
		retry.RetryCount++
		if _, err := w.broker.PublishTask(ctx, retry); err != nil {
			return err
		}
		return nil
	}

	return w.deadLetter(ctx, workflowID, msg, detail)
}

// deadLetter writes a dead-letter entry and publishes the FAILED completion.
// The attempt has a verdict at this point, so the writes go through even when
// shutdown is in progress.
func (w *Worker) deadLetter(ctx context.Context, workflowID string, msg models.TaskMessage, detail models.ErrorDetail) error {
	ctx = context.WithoutCancel(ctx)
	entry := models.DeadLetterEntry{
		ID:             uuid.NewString(),
		ExecutionID:    msg.ExecutionID,
		NodeID:         msg.NodeID,
		Handler:        msg.Handler,
		OriginalConfig: w.originalConfig(ctx, workflowID, msg.NodeID),
		ResolvedConfig: msg.Config,
		Error:          detail,
		RetryCount:     msg.RetryCount,
		CreatedAt:      time.Now().UTC(),
	}
	if err := w.dlq.Push(ctx, entry); err != nil {
		return err
	}

	logger.Error(ctx, "Task dead-lettered",
		tag.Execution(msg.ExecutionID),
		tag.Node(msg.NodeID),
		tag.Handler(msg.Handler),
		tag.Category(string(detail.Category)),
		tag.RetryCount(msg.RetryCount))

	return w.publishCompletion(ctx, msg.Fingerprint(), models.CompletionMessage{
		ExecutionID: msg.ExecutionID,
		NodeID:      msg.NodeID,
		Status:      models.NodeFailed,
		Error:       &detail,
	})
}

// publishCompletion publishes the completion, then writes the idempotency
// mark. The mark follows publication so that a crash in between re-executes
// the attempt rather than losing the completion.
func (w *Worker) publishCompletion(ctx context.Context, fingerprint string, msg models.CompletionMessage) error {
	msg.SchemaVersion = models.SchemaVersion
	if _, err := w.broker.PublishCompletion(ctx, msg); err != nil {
		return err
	}
	if _, err := w.store.TryClaim(ctx, fingerprint); err != nil {
		// The completion is already durable; the mark is best effort.
		logger.Warn(ctx, "Idempotency mark failed",
			tag.Execution(msg.ExecutionID),
			tag.Node(msg.NodeID),
			tag.Error(err))
	}
	return nil
}

// originalConfig looks up the unresolved node configuration for DLQ triage.
func (w *Worker) originalConfig(ctx context.Context, workflowID, nodeID string) json.RawMessage {
	graph, err := w.dags.Get(ctx, workflowID)
	if err != nil {
		return nil
	}
	node, ok := graph.Node(nodeID)
	if !ok {
		return nil
	}
	return node.Config
}

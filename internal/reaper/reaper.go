// Package reaper reclaims stalled in-flight messages from the broker's
// pending lists and republishes them so surviving consumers pick them up.
// It never inspects business state; decisions are made purely on pending
// entry idle time and the retry counter carried in the task payload.
package reaper

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/floworc/floworc/internal/broker"
	"github.com/floworc/floworc/internal/config"
	"github.com/floworc/floworc/internal/logger"
	"github.com/floworc/floworc/internal/logger/tag"
	"github.com/floworc/floworc/internal/models"
)

// Reaper is the zombie-recovery service for both streams.
type Reaper struct {
	broker   *broker.Broker
	dlq      *broker.DLQ
	cfg      config.Reaper
	consumer string
}

// New creates a Reaper with a unique consumer name.
func New(b *broker.Broker, dlq *broker.DLQ, cfg config.Reaper, consumer string) *Reaper {
	return &Reaper{
		broker:   b,
		dlq:      dlq,
		cfg:      cfg,
		consumer: consumer,
	}
}

// Run sweeps both streams every check interval until the context is
// cancelled.
func (r *Reaper) Run(ctx context.Context) error {
	if err := r.broker.EnsureGroups(ctx); err != nil {
		return err
	}

	logger.Info(ctx, "Reaper started", tag.Consumer(r.consumer))

	ticker := time.NewTicker(r.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "Reaper stopped", tag.Consumer(r.consumer))
			return nil
		case <-ticker.C:
			r.sweepTasks(ctx)
			r.sweepCompletions(ctx)
		}
	}
}

// sweepTasks reclaims stalled tasks. Payloads whose retry count exceeds the
// reclaim cap go to the dead-letter store instead of looping forever.
func (r *Reaper) sweepTasks(ctx context.Context) {
	deliveries, err := r.broker.ReclaimTasks(ctx, r.consumer, r.cfg.MinIdle, r.cfg.BatchSize)
	if err != nil {
		logger.Error(ctx, "Reclaim tasks failed", tag.Error(err))
		return
	}

	for _, d := range deliveries {
		if d.Err != nil {
			if errors.Is(d.Err, models.ErrUnknownSchemaVersion) {
				// Keep it in the pending list until an operator intervenes.
				logger.Warn(ctx, "Reclaimed task with unknown schema version",
					tag.MessageID(d.ID),
					tag.Error(d.Err))
				continue
			}
			logger.Error(ctx, "Dropping malformed reclaimed task",
				tag.MessageID(d.ID),
				tag.Error(d.Err))
			r.ackTask(ctx, d.ID)
			continue
		}

		if d.Msg.RetryCount > r.cfg.MaxReclaims {
			r.bury(ctx, d.Msg)
			r.ackTask(ctx, d.ID)
			continue
		}

		if _, err := r.broker.PublishTask(ctx, d.Msg); err != nil {
			logger.Error(ctx, "Republish reclaimed task failed",
				tag.MessageID(d.ID),
				tag.Error(err))
			continue
		}
		r.ackTask(ctx, d.ID)
		logger.Info(ctx, "Task requeued",
			tag.Execution(d.Msg.ExecutionID),
			tag.Node(d.Msg.NodeID),
			tag.RetryCount(d.Msg.RetryCount))
	}
}

// sweepCompletions reclaims stalled completions and republishes them; the
// orchestrator's CAS-guarded evaluation tolerates the redelivery.
func (r *Reaper) sweepCompletions(ctx context.Context) {
	deliveries, err := r.broker.ReclaimCompletions(ctx, r.consumer, r.cfg.MinIdle, r.cfg.BatchSize)
	if err != nil {
		logger.Error(ctx, "Reclaim completions failed", tag.Error(err))
		return
	}

	for _, d := range deliveries {
		if d.Err != nil {
			if errors.Is(d.Err, models.ErrUnknownSchemaVersion) {
				logger.Warn(ctx, "Reclaimed completion with unknown schema version",
					tag.MessageID(d.ID),
					tag.Error(d.Err))
				continue
			}
			logger.Error(ctx, "Dropping malformed reclaimed completion",
				tag.MessageID(d.ID),
				tag.Error(d.Err))
			r.ackCompletion(ctx, d.ID)
			continue
		}

		if _, err := r.broker.PublishCompletion(ctx, d.Msg); err != nil {
			logger.Error(ctx, "Republish reclaimed completion failed",
				tag.MessageID(d.ID),
				tag.Error(err))
			continue
		}
		r.ackCompletion(ctx, d.ID)
		logger.Info(ctx, "Completion requeued",
			tag.Execution(d.Msg.ExecutionID),
			tag.Node(d.Msg.NodeID))
	}
}

// bury writes a dead-letter entry for a task that exceeded the reclaim cap.
func (r *Reaper) bury(ctx context.Context, msg models.TaskMessage) {
	entry := models.DeadLetterEntry{
		ID:             uuid.NewString(),
		ExecutionID:    msg.ExecutionID,
		NodeID:         msg.NodeID,
		Handler:        msg.Handler,
		ResolvedConfig: msg.Config,
		Error: models.ErrorDetail{
			Category:  models.CategoryUnknown,
			Message:   "reclaim budget exhausted; message repeatedly abandoned by consumers",
			Retryable: false,
		},
		RetryCount: msg.RetryCount,
		CreatedAt:  time.Now().UTC(),
	}
	if err := r.dlq.Push(ctx, entry); err != nil {
		logger.Error(ctx, "Dead-letter push failed",
			tag.Execution(msg.ExecutionID),
			tag.Node(msg.NodeID),
			tag.Error(err))
		return
	}
	logger.Error(ctx, "Task buried after repeated reclaims",
		tag.Execution(msg.ExecutionID),
		tag.Node(msg.NodeID),
		tag.RetryCount(msg.RetryCount))
}

func (r *Reaper) ackTask(ctx context.Context, id string) {
	if err := r.broker.AckTasks(ctx, id); err != nil {
		logger.Error(ctx, "Ack reclaimed task failed", tag.MessageID(id), tag.Error(err))
	}
}

func (r *Reaper) ackCompletion(ctx context.Context, id string) {
	if err := r.broker.AckCompletions(ctx, id); err != nil {
		logger.Error(ctx, "Ack reclaimed completion failed", tag.MessageID(id), tag.Error(err))
	}
}

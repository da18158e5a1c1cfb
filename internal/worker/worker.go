// Package worker consumes task events and executes handlers reliably:
// idempotency gating, cancellation checks, a per-handler circuit breaker,
// bounded handler timeouts, retry with exponential backoff, and dead-letter
// routing once the retry budget is spent. Replicas compete on one consumer
// group; every step is idempotent under redelivery.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/floworc/floworc/internal/backoff"
	"github.com/floworc/floworc/internal/broker"
	"github.com/floworc/floworc/internal/config"
	"github.com/floworc/floworc/internal/dag"
	"github.com/floworc/floworc/internal/logger"
	"github.com/floworc/floworc/internal/logger/tag"
	"github.com/floworc/floworc/internal/models"
	"github.com/floworc/floworc/internal/state"
)

// consumeErrorBackoff paces the loop after a broker read failure.
const consumeErrorBackoff = time.Second

// Worker is one replica of the task consumer.
type Worker struct {
	store    *state.Store
	broker   *broker.Broker
	dlq      *broker.DLQ
	registry *Registry
	dags     *dag.Cache
	cfg      config.Worker
	consumer string

	breakers    *breakerSet
	retryPolicy *backoff.ExponentialBackoffPolicy
}

// New creates a Worker replica with a unique consumer name.
func New(store *state.Store, b *broker.Broker, dlq *broker.DLQ, registry *Registry, dags *dag.Cache, cfg config.Worker, consumer string) *Worker {
	return &Worker{
		store:    store,
		broker:   b,
		dlq:      dlq,
		registry: registry,
		dags:     dags,
		cfg:      cfg,
		consumer: consumer,
		breakers: newBreakerSet(cfg),
		retryPolicy: &backoff.ExponentialBackoffPolicy{
			InitialInterval: cfg.RetryBase,
			BackoffFactor:   2,
			MaxInterval:     cfg.RetryCap,
			MaxJitter:       cfg.RetryJitter,
		},
	}
}

// Run consumes tasks until the context is cancelled: a single reader feeds a
// bounded pool of handler runners, so a slow or retrying task never holds up
// the rest of a batch long enough for the reaper to reclaim it. On shutdown
// the reader stops, in-flight deliveries drain to completion and are acked,
// then Run returns. Pipeline failures leave the message un-acknowledged so
// the reaper reassigns it.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.broker.EnsureGroups(ctx); err != nil {
		return err
	}

	logger.Info(ctx, "Worker started", tag.Consumer(w.consumer))

	tasks := make(chan broker.TaskDelivery)
	var wg sync.WaitGroup
	for i := 0; i < w.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range tasks {
				w.handle(ctx, d)
			}
		}()
	}

	for {
		if ctx.Err() != nil {
			close(tasks)
			wg.Wait()
			logger.Info(ctx, "Worker stopped", tag.Consumer(w.consumer))
			return nil
		}

		deliveries, err := w.broker.ConsumeTasks(ctx, w.consumer, w.cfg.BatchSize, w.cfg.BlockTime)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			logger.Error(ctx, "Consume tasks failed", tag.Error(err))
			_ = backoff.Sleep(ctx, consumeErrorBackoff)
			continue
		}
		for _, d := range deliveries {
			tasks <- d
		}
	}
}

// handle runs the pipeline for one delivery and acknowledges on success.
func (w *Worker) handle(ctx context.Context, d broker.TaskDelivery) {
	if d.Err != nil {
		if errors.Is(d.Err, models.ErrUnknownSchemaVersion) {
			// Newer writer; leave un-acked for operator intervention.
			logger.Warn(ctx, "Task with unknown schema version",
				tag.MessageID(d.ID),
				tag.Error(d.Err))
			return
		}
		logger.Error(ctx, "Dropping malformed task",
			tag.MessageID(d.ID),
			tag.Error(d.Err))
		w.ack(ctx, d.ID)
		return
	}

	if err := w.process(ctx, d.Msg); err != nil {
		logger.Error(ctx, "Task processing failed",
			tag.Execution(d.Msg.ExecutionID),
			tag.Node(d.Msg.NodeID),
			tag.MessageID(d.ID),
			tag.Error(err))
		return
	}
	w.ack(ctx, d.ID)
}

// ack acknowledges the delivery. The ack must land even when the shutdown
// signal has already fired, or a finished attempt is redone after reclaim.
func (w *Worker) ack(ctx context.Context, id string) {
	if err := w.broker.AckTasks(context.WithoutCancel(ctx), id); err != nil {
		logger.Error(ctx, "Ack task failed", tag.MessageID(id), tag.Error(err))
	}
}

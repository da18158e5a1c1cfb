// Package orchestrator consumes completion events and advances the graph:
// it applies node terminal states, propagates fail-fast skips, resolves
// templates, and dispatches ready children. Replicas compete on one consumer
// group; fan-in dispatch is serialised by a per-child distributed lock so at
// most one replica publishes the task for any (execution, node) pair.
package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/floworc/floworc/internal/backoff"
	"github.com/floworc/floworc/internal/broker"
	"github.com/floworc/floworc/internal/config"
	"github.com/floworc/floworc/internal/dag"
	"github.com/floworc/floworc/internal/logger"
	"github.com/floworc/floworc/internal/logger/tag"
	"github.com/floworc/floworc/internal/models"
	"github.com/floworc/floworc/internal/persistence"
	"github.com/floworc/floworc/internal/state"
)

// reclaimInterval is how often the periodic completion reclaim runs.
const reclaimInterval = 5 * time.Second

// consumeErrorBackoff paces the loop after a broker read failure.
const consumeErrorBackoff = time.Second

// Orchestrator is one replica of the completion consumer.
type Orchestrator struct {
	store    *state.Store
	broker   *broker.Broker
	repo     persistence.Repository
	dags     *dag.Cache
	cfg      config.Orchestrator
	consumer string

	// evalPolicy bounds in-process retries of one evaluation before the
	// message is left for the reaper.
	evalPolicy backoff.RetryPolicy
}

// New creates an Orchestrator replica with a unique consumer name.
func New(store *state.Store, b *broker.Broker, repo persistence.Repository, dags *dag.Cache, cfg config.Orchestrator, consumer string) *Orchestrator {
	return &Orchestrator{
		store:    store,
		broker:   b,
		repo:     repo,
		dags:     dags,
		cfg:      cfg,
		consumer: consumer,
		evalPolicy: &backoff.ConstantBackoffPolicy{
			Interval:   100 * time.Millisecond,
			MaxRetries: 2,
		},
	}
}

// Run consumes completions until the context is cancelled. Evaluation
// failures leave the message un-acknowledged so the reaper reassigns it.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.broker.EnsureGroups(ctx); err != nil {
		return err
	}

	logger.Info(ctx, "Orchestrator started", tag.Consumer(o.consumer))

	reclaimTicker := time.NewTicker(reclaimInterval)
	defer reclaimTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "Orchestrator stopped", tag.Consumer(o.consumer))
			return nil
		case <-reclaimTicker.C:
			o.reclaim(ctx)
		default:
		}

		deliveries, err := o.broker.ConsumeCompletions(ctx, o.consumer, o.cfg.BatchSize, o.cfg.BlockTime)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			logger.Error(ctx, "Consume completions failed", tag.Error(err))
			_ = backoff.Sleep(ctx, consumeErrorBackoff)
			continue
		}
		for _, d := range deliveries {
			o.handle(ctx, d)
		}
	}
}

// reclaim takes over completions idle beyond the configured threshold and
// re-processes them in place.
func (o *Orchestrator) reclaim(ctx context.Context) {
	deliveries, err := o.broker.ReclaimCompletions(ctx, o.consumer, o.cfg.CompletionReclaimIdle, o.cfg.BatchSize)
	if err != nil {
		logger.Error(ctx, "Reclaim completions failed", tag.Error(err))
		return
	}
	if len(deliveries) > 0 {
		logger.Info(ctx, "Reclaimed stalled completions",
			tag.Consumer(o.consumer),
			tag.Count(len(deliveries)))
	}
	for _, d := range deliveries {
		o.handle(ctx, d)
	}
}

// handle runs the evaluation for one delivery and acknowledges on success.
func (o *Orchestrator) handle(ctx context.Context, d broker.CompletionDelivery) {
	if d.Err != nil {
		if errors.Is(d.Err, models.ErrUnknownSchemaVersion) {
			// Newer writer; leave un-acked for operator intervention.
			logger.Warn(ctx, "Completion with unknown schema version",
				tag.MessageID(d.ID),
				tag.Error(d.Err))
			return
		}
		logger.Error(ctx, "Dropping malformed completion",
			tag.MessageID(d.ID),
			tag.Error(d.Err))
		o.ack(ctx, d.ID)
		return
	}

	err := backoff.Retry(ctx, func(ctx context.Context) error {
		return o.evaluate(ctx, d.Msg)
	}, o.evalPolicy, nil)
	if err != nil {
		logger.Error(ctx, "Completion evaluation failed",
			tag.Execution(d.Msg.ExecutionID),
			tag.Node(d.Msg.NodeID),
			tag.MessageID(d.ID),
			tag.Error(err))
		return
	}
	o.ack(ctx, d.ID)
}

func (o *Orchestrator) ack(ctx context.Context, id string) {
	if err := o.broker.AckCompletions(ctx, id); err != nil {
		logger.Error(ctx, "Ack completion failed", tag.MessageID(id), tag.Error(err))
	}
}

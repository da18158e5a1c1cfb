// Package broker implements the durable message layer over Redis streams:
// task and completion publication with approximate trimming, consumer-group
// reads, acknowledgements, and pending-entry reclaim for the reaper.
// Delivery is at-least-once; consumers must be idempotent under redelivery.
package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/floworc/floworc/internal/config"
	"github.com/floworc/floworc/internal/models"
)

// Broker provides stream operations for tasks and completions.
type Broker struct {
	rdb    redis.UniversalClient
	cfg    config.Streams
}

// New creates a Broker over the given Redis client.
func New(rdb redis.UniversalClient, cfg config.Streams) *Broker {
	return &Broker{rdb: rdb, cfg: cfg}
}

// TaskDelivery is one task message read from the tasks stream. Err is set
// when the payload could not be parsed; such deliveries must not be
// acknowledged when Err wraps models.ErrUnknownSchemaVersion.
type TaskDelivery struct {
	ID  string
	Msg models.TaskMessage
	Err error
}

// CompletionDelivery is one completion message read from the completions stream.
type CompletionDelivery struct {
	ID  string
	Msg models.CompletionMessage
	Err error
}

// EnsureGroups creates the consumer groups for both streams, tolerating
// already-existing groups.
func (b *Broker) EnsureGroups(ctx context.Context) error {
	pairs := []struct{ stream, group string }{
		{b.cfg.Tasks, b.cfg.WorkerGroup},
		{b.cfg.Completions, b.cfg.OrchestratorGroup},
	}
	for _, p := range pairs {
		err := b.rdb.XGroupCreateMkStream(ctx, p.stream, p.group, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			return fmt.Errorf("create consumer group %s on %s: %w", p.group, p.stream, err)
		}
	}
	return nil
}

// PublishTask appends a task message to the tasks stream.
func (b *Broker) PublishTask(ctx context.Context, msg models.TaskMessage) (string, error) {
	id, err := b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: b.cfg.Tasks,
		MaxLen: b.cfg.MaxLen,
		Approx: true,
		Values: msg.Fields(),
	}).Result()
	if err != nil {
		return "", fmt.Errorf("publish task %s/%s: %w", msg.ExecutionID, msg.NodeID, err)
	}
	return id, nil
}

// PublishCompletion appends a completion message to the completions stream.
func (b *Broker) PublishCompletion(ctx context.Context, msg models.CompletionMessage) (string, error) {
	id, err := b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: b.cfg.Completions,
		MaxLen: b.cfg.MaxLen,
		Approx: true,
		Values: msg.Fields(),
	}).Result()
	if err != nil {
		return "", fmt.Errorf("publish completion %s/%s: %w", msg.ExecutionID, msg.NodeID, err)
	}
	return id, nil
}

// ConsumeTasks reads up to count new task messages for the worker group.
// A zero-length result after the block timeout is not an error.
func (b *Broker) ConsumeTasks(ctx context.Context, consumer string, count int, block time.Duration) ([]TaskDelivery, error) {
	messages, err := b.readGroup(ctx, b.cfg.Tasks, b.cfg.WorkerGroup, consumer, count, block)
	if err != nil {
		return nil, err
	}
	deliveries := make([]TaskDelivery, 0, len(messages))
	for _, m := range messages {
		msg, err := models.TaskFromFields(stringFields(m.Values))
		deliveries = append(deliveries, TaskDelivery{ID: m.ID, Msg: msg, Err: err})
	}
	return deliveries, nil
}

// ConsumeCompletions reads up to count new completion messages for the
// orchestrator group.
func (b *Broker) ConsumeCompletions(ctx context.Context, consumer string, count int, block time.Duration) ([]CompletionDelivery, error) {
	messages, err := b.readGroup(ctx, b.cfg.Completions, b.cfg.OrchestratorGroup, consumer, count, block)
	if err != nil {
		return nil, err
	}
	deliveries := make([]CompletionDelivery, 0, len(messages))
	for _, m := range messages {
		msg, err := models.CompletionFromFields(stringFields(m.Values))
		deliveries = append(deliveries, CompletionDelivery{ID: m.ID, Msg: msg, Err: err})
	}
	return deliveries, nil
}

// AckTasks acknowledges task messages for the worker group.
func (b *Broker) AckTasks(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := b.rdb.XAck(ctx, b.cfg.Tasks, b.cfg.WorkerGroup, ids...).Err(); err != nil {
		return fmt.Errorf("ack tasks: %w", err)
	}
	return nil
}

// AckCompletions acknowledges completion messages for the orchestrator group.
func (b *Broker) AckCompletions(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := b.rdb.XAck(ctx, b.cfg.Completions, b.cfg.OrchestratorGroup, ids...).Err(); err != nil {
		return fmt.Errorf("ack completions: %w", err)
	}
	return nil
}

// ReclaimTasks takes ownership of task messages idle longer than minIdle and
// returns them for re-delivery.
func (b *Broker) ReclaimTasks(ctx context.Context, consumer string, minIdle time.Duration, count int) ([]TaskDelivery, error) {
	messages, err := b.autoClaim(ctx, b.cfg.Tasks, b.cfg.WorkerGroup, consumer, minIdle, count)
	if err != nil {
		return nil, err
	}
	deliveries := make([]TaskDelivery, 0, len(messages))
	for _, m := range messages {
		msg, err := models.TaskFromFields(stringFields(m.Values))
		deliveries = append(deliveries, TaskDelivery{ID: m.ID, Msg: msg, Err: err})
	}
	return deliveries, nil
}

// ReclaimCompletions takes ownership of completion messages idle longer than
// minIdle and returns them for re-delivery.
func (b *Broker) ReclaimCompletions(ctx context.Context, consumer string, minIdle time.Duration, count int) ([]CompletionDelivery, error) {
	messages, err := b.autoClaim(ctx, b.cfg.Completions, b.cfg.OrchestratorGroup, consumer, minIdle, count)
	if err != nil {
		return nil, err
	}
	deliveries := make([]CompletionDelivery, 0, len(messages))
	for _, m := range messages {
		msg, err := models.CompletionFromFields(stringFields(m.Values))
		deliveries = append(deliveries, CompletionDelivery{ID: m.ID, Msg: msg, Err: err})
	}
	return deliveries, nil
}

func (b *Broker) readGroup(ctx context.Context, stream, group, consumer string, count int, block time.Duration) ([]redis.XMessage, error) {
	streams, err := b.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    int64(count),
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		if strings.Contains(err.Error(), "NOGROUP") {
			if gerr := b.EnsureGroups(ctx); gerr != nil {
				return nil, gerr
			}
			return nil, nil
		}
		return nil, fmt.Errorf("read %s as %s: %w", stream, consumer, err)
	}

	var messages []redis.XMessage
	for _, s := range streams {
		messages = append(messages, s.Messages...)
	}
	return messages, nil
}

func (b *Broker) autoClaim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, count int) ([]redis.XMessage, error) {
	messages, _, err := b.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Start:    "0-0",
		Count:    int64(count),
	}).Result()
	if err != nil {
		if strings.Contains(err.Error(), "NOGROUP") {
			return nil, nil
		}
		return nil, fmt.Errorf("autoclaim %s for %s: %w", stream, consumer, err)
	}
	return messages, nil
}

func stringFields(values map[string]any) map[string]string {
	fields := make(map[string]string, len(values))
	for k, v := range values {
		if s, ok := v.(string); ok {
			fields[k] = s
		} else {
			fields[k] = fmt.Sprintf("%v", v)
		}
	}
	return fields
}

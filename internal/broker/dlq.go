package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/floworc/floworc/internal/models"
)

// DLQ is the dead-letter store. Entries live on their own stream as opaque
// JSON records; they are appended by workers and the reaper and removed only
// by explicit operator action.
type DLQ struct {
	rdb    redis.UniversalClient
	stream string
}

// NewDLQ creates a DLQ over the given Redis client.
func NewDLQ(rdb redis.UniversalClient, stream string) *DLQ {
	return &DLQ{rdb: rdb, stream: stream}
}

// Push appends a dead-letter entry.
func (d *DLQ) Push(ctx context.Context, entry models.DeadLetterEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal dead-letter entry: %w", err)
	}
	err = d.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: d.stream,
		Values: map[string]any{"id": entry.ID, "data": string(data)},
	}).Err()
	if err != nil {
		return fmt.Errorf("push dead-letter entry %s: %w", entry.ID, err)
	}
	return nil
}

// List returns up to limit entries in insertion order. Entries that fail to
// decode are skipped.
func (d *DLQ) List(ctx context.Context, limit int) ([]models.DeadLetterEntry, error) {
	messages, err := d.rdb.XRangeN(ctx, d.stream, "-", "+", int64(limit)).Result()
	if err != nil {
		return nil, fmt.Errorf("list dead-letter entries: %w", err)
	}
	entries := make([]models.DeadLetterEntry, 0, len(messages))
	for _, m := range messages {
		raw, ok := m.Values["data"].(string)
		if !ok {
			continue
		}
		var entry models.DeadLetterEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Count returns the number of entries.
func (d *DLQ) Count(ctx context.Context) (int64, error) {
	n, err := d.rdb.XLen(ctx, d.stream).Result()
	if err != nil {
		return 0, fmt.Errorf("count dead-letter entries: %w", err)
	}
	return n, nil
}

// Delete removes the entry with the given id. Returns true when an entry
// was found and removed.
func (d *DLQ) Delete(ctx context.Context, entryID string) (bool, error) {
	messages, err := d.rdb.XRange(ctx, d.stream, "-", "+").Result()
	if err != nil {
		return false, fmt.Errorf("scan dead-letter entries: %w", err)
	}
	for _, m := range messages {
		if id, ok := m.Values["id"].(string); ok && id == entryID {
			if err := d.rdb.XDel(ctx, d.stream, m.ID).Err(); err != nil {
				return false, fmt.Errorf("delete dead-letter entry %s: %w", entryID, err)
			}
			return true, nil
		}
	}
	return false, nil
}

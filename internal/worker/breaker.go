package worker

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/sony/gobreaker"

	"github.com/floworc/floworc/internal/config"
	"github.com/floworc/floworc/internal/logger"
	"github.com/floworc/floworc/internal/logger/tag"
)

// breakerSet holds one circuit breaker per handler name. State is process
// local; a partially open cluster is tolerated because retries and the reaper
// rebalance work onto healthy workers.
type breakerSet struct {
	cfg config.Worker

	mu        sync.Mutex
	byHandler map[string]*gobreaker.CircuitBreaker
}

func newBreakerSet(cfg config.Worker) *breakerSet {
	return &breakerSet{
		cfg:       cfg,
		byHandler: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// get returns the breaker for a handler, creating it on first use.
func (b *breakerSet) get(handler string) *gobreaker.CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cb, ok := b.byHandler[handler]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: handler,
		// One probe call in half-open; a single success closes the breaker.
		MaxRequests: 1,
		Timeout:     b.cfg.CBOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= b.cfg.CBThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn(context.Background(), "Circuit breaker state change",
				tag.Handler(name),
				tag.Status(from.String()+" -> "+to.String()))
		},
	})
	b.byHandler[handler] = cb
	return cb
}

// execute runs fn through the handler's breaker. An open breaker returns
// gobreaker.ErrOpenState without invoking fn.
func (b *breakerSet) execute(handler string, fn func() (json.RawMessage, error)) (json.RawMessage, error) {
	result, err := b.get(handler).Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		return nil, err
	}
	output, _ := result.(json.RawMessage)
	return output, nil
}

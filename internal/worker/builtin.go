package worker

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/floworc/floworc/internal/backoff"
)

// RegisterBuiltins adds the handlers that ship with the worker binary.
// Deployments embedding the worker register their own handlers instead of,
// or in addition to, these.
func RegisterBuiltins(r *Registry) {
	r.Register("echo", echoHandler)
	r.Register("sleep", sleepHandler)
}

// echoHandler returns its resolved configuration unchanged. Useful for
// wiring tests and template debugging.
func echoHandler(_ context.Context, config json.RawMessage) (json.RawMessage, error) {
	if len(config) == 0 {
		return json.RawMessage(`{}`), nil
	}
	return config, nil
}

// sleepHandler waits for the configured number of milliseconds, honoring the
// handler timeout and cancellation.
func sleepHandler(ctx context.Context, config json.RawMessage) (json.RawMessage, error) {
	var cfg struct {
		Millis int `json:"millis"`
	}
	if len(config) > 0 {
		if err := json.Unmarshal(config, &cfg); err != nil {
			return nil, err
		}
	}
	if cfg.Millis > 0 {
		if err := backoff.Sleep(ctx, time.Duration(cfg.Millis)*time.Millisecond); err != nil {
			return nil, err
		}
	}
	return json.RawMessage(`{"slept_ms":` + strconv.Itoa(cfg.Millis) + `}`), nil
}

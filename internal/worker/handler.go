package worker

import (
	"context"
	"encoding/json"
	"sync"
)

// Handler executes one task. It receives the fully resolved configuration and
// returns a JSON-serialisable output. Errors may carry an explicit category
// via models.HandlerError; anything else is classified at the worker boundary.
type Handler func(ctx context.Context, config json.RawMessage) (json.RawMessage, error)

// Registry maps handler names to implementations. Registration normally
// happens at process start, but the registry is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds a handler name. Later registrations overwrite earlier ones.
func (r *Registry) Register(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

// Get returns the handler bound to name.
func (r *Registry) Get(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

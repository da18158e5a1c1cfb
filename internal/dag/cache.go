package dag

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// LoadFunc fetches the raw definition of a workflow from the cold store.
type LoadFunc func(ctx context.Context, workflowID string) (json.RawMessage, error)

// Cache memoizes validated graphs per workflow id. Definitions are immutable,
// so entries never invalidate.
type Cache struct {
	load LoadFunc

	mu     sync.RWMutex
	graphs map[string]*DAG
}

// NewCache creates a Cache backed by the given loader.
func NewCache(load LoadFunc) *Cache {
	return &Cache{
		load:   load,
		graphs: make(map[string]*DAG),
	}
}

// Get returns the validated graph for a workflow, loading and building it on
// first use.
func (c *Cache) Get(ctx context.Context, workflowID string) (*DAG, error) {
	c.mu.RLock()
	cached, ok := c.graphs[workflowID]
	c.mu.RUnlock()
	if ok {
		return cached, nil
	}

	raw, err := c.load(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("load workflow %s: %w", workflowID, err)
	}
	def, err := ParseDefinition(raw)
	if err != nil {
		return nil, err
	}
	graph, err := Build(def)
	if err != nil {
		return nil, err
	}

	c.Put(workflowID, graph)
	return graph, nil
}

// Put seeds the cache with an already-built graph.
func (c *Cache) Put(workflowID string, graph *DAG) {
	c.mu.Lock()
	c.graphs[workflowID] = graph
	c.mu.Unlock()
}

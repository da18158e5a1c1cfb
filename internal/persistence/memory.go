package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/floworc/floworc/internal/models"
)

var _ Repository = (*MemoryRepository)(nil)

// MemoryRepository is an in-process Repository used by tests and local
// single-process runs where no database is available.
type MemoryRepository struct {
	mu         sync.RWMutex
	workflows  map[string]Workflow
	executions map[string]Execution
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		workflows:  make(map[string]Workflow),
		executions: make(map[string]Execution),
	}
}

// SaveWorkflow implements Repository.
func (r *MemoryRepository) SaveWorkflow(_ context.Context, w Workflow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.workflows[w.ID]; ok {
		return fmt.Errorf("workflow %s already exists", w.ID)
	}
	r.workflows[w.ID] = w
	return nil
}

// LoadWorkflow implements Repository.
func (r *MemoryRepository) LoadWorkflow(_ context.Context, workflowID string) (Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workflows[workflowID]
	if !ok {
		return Workflow{}, ErrNotFound
	}
	return w, nil
}

// CreateExecution implements Repository.
func (r *MemoryRepository) CreateExecution(_ context.Context, e Execution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.executions[e.ID]; ok {
		return fmt.Errorf("execution %s already exists", e.ID)
	}
	r.executions[e.ID] = e
	return nil
}

// GetExecution implements Repository.
func (r *MemoryRepository) GetExecution(_ context.Context, executionID string) (Execution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.executions[executionID]
	if !ok {
		return Execution{}, ErrNotFound
	}
	return e, nil
}

// RecordTerminal implements Repository.
func (r *MemoryRepository) RecordTerminal(_ context.Context, executionID string, status models.ExecutionStatus, outputs map[string]json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.executions[executionID]
	if !ok {
		return ErrNotFound
	}
	e.Status = status
	e.FinishedAt = time.Now().UTC()
	if outputs != nil {
		data, err := json.Marshal(outputs)
		if err != nil {
			return fmt.Errorf("marshal outputs: %w", err)
		}
		e.Outputs = data
	}
	r.executions[executionID] = e
	return nil
}

// Close implements Repository.
func (r *MemoryRepository) Close() {}

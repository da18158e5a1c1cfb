package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/floworc/floworc/internal/models"
	"github.com/floworc/floworc/internal/persistence"
	"github.com/floworc/floworc/internal/state"
)

// StatusReport is the execution-level view returned by Status.
type StatusReport struct {
	ExecutionID string                       `json:"execution_id"`
	WorkflowID  string                       `json:"workflow_id"`
	Status      models.ExecutionStatus       `json:"status"`
	CreatedAt   time.Time                    `json:"created_at"`
	Nodes       map[string]models.NodeStatus `json:"nodes"`
}

// Status returns the execution status and per-node statuses. While the hot
// state is live it is served from the state store; after expiry the terminal
// record comes from the cold store.
func (e *Engine) Status(ctx context.Context, executionID string) (StatusReport, error) {
	meta, err := e.store.ExecutionMeta(ctx, executionID)
	if errors.Is(err, state.ErrNotFound) {
		return e.coldStatus(ctx, executionID)
	}
	if err != nil {
		return StatusReport{}, err
	}

	graph, err := e.dags.Get(ctx, meta.WorkflowID)
	if err != nil {
		return StatusReport{}, err
	}
	statuses, err := e.store.NodeStatuses(ctx, executionID, graph.NodeIDs())
	if err != nil {
		return StatusReport{}, err
	}

	return StatusReport{
		ExecutionID: executionID,
		WorkflowID:  meta.WorkflowID,
		Status:      meta.Status,
		CreatedAt:   meta.CreatedAt,
		Nodes:       statuses,
	}, nil
}

func (e *Engine) coldStatus(ctx context.Context, executionID string) (StatusReport, error) {
	exec, err := e.repo.GetExecution(ctx, executionID)
	if errors.Is(err, persistence.ErrNotFound) {
		return StatusReport{}, fmt.Errorf("%w: %s", ErrExecutionNotFound, executionID)
	}
	if err != nil {
		return StatusReport{}, err
	}
	return StatusReport{
		ExecutionID: exec.ID,
		WorkflowID:  exec.WorkflowID,
		Status:      exec.Status,
		CreatedAt:   exec.CreatedAt,
	}, nil
}

// Results returns the outputs of all nodes that produced one.
func (e *Engine) Results(ctx context.Context, executionID string) (map[string]json.RawMessage, error) {
	meta, err := e.store.ExecutionMeta(ctx, executionID)
	if errors.Is(err, state.ErrNotFound) {
		// Hot state expired; fall back to the terminal record.
		exec, cerr := e.repo.GetExecution(ctx, executionID)
		if errors.Is(cerr, persistence.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrExecutionNotFound, executionID)
		}
		if cerr != nil {
			return nil, cerr
		}
		var outputs map[string]json.RawMessage
		if len(exec.Outputs) > 0 {
			if uerr := json.Unmarshal(exec.Outputs, &outputs); uerr != nil {
				return nil, fmt.Errorf("decode stored outputs: %w", uerr)
			}
		}
		return outputs, nil
	}
	if err != nil {
		return nil, err
	}

	graph, err := e.dags.Get(ctx, meta.WorkflowID)
	if err != nil {
		return nil, err
	}
	return e.store.Outputs(ctx, executionID, graph.NodeIDs())
}

// DeadLetters returns up to limit dead-letter entries.
func (e *Engine) DeadLetters(ctx context.Context, limit int) ([]models.DeadLetterEntry, error) {
	return e.dlq.List(ctx, limit)
}

// DeadLetterCount returns the number of dead-letter entries.
func (e *Engine) DeadLetterCount(ctx context.Context) (int64, error) {
	return e.dlq.Count(ctx)
}

// DeleteDeadLetter removes one dead-letter entry by id.
func (e *Engine) DeleteDeadLetter(ctx context.Context, entryID string) (bool, error) {
	return e.dlq.Delete(ctx, entryID)
}

// Package persistence is the cold store for immutable workflow definitions
// and terminal execution history. The hot path never reads it; the
// orchestrator touches it only at submission and at terminal transitions.
package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/floworc/floworc/internal/models"
)

// ErrNotFound is returned when a workflow or execution does not exist.
var ErrNotFound = errors.New("persistence: not found")

// Workflow is a stored workflow definition. Definitions are write-once.
type Workflow struct {
	ID         string
	Name       string
	Definition json.RawMessage
	CreatedAt  time.Time
}

// Execution is the cold-store record of one workflow run. Only terminal
// fields are updated after creation.
type Execution struct {
	ID         string
	WorkflowID string
	Status     models.ExecutionStatus
	CreatedAt  time.Time
	FinishedAt time.Time
	Outputs    json.RawMessage
}

// Repository is the narrow persistence surface the engine depends on.
type Repository interface {
	// SaveWorkflow stores a validated definition. Definitions are immutable;
	// saving an existing id is an error.
	SaveWorkflow(ctx context.Context, w Workflow) error
	// LoadWorkflow returns the stored definition. ErrNotFound when unknown.
	LoadWorkflow(ctx context.Context, workflowID string) (Workflow, error)
	// CreateExecution records a new execution bound to a workflow.
	CreateExecution(ctx context.Context, e Execution) error
	// GetExecution returns the stored execution record. ErrNotFound when unknown.
	GetExecution(ctx context.Context, executionID string) (Execution, error)
	// RecordTerminal stores the final status and per-node outputs of a
	// finished execution.
	RecordTerminal(ctx context.Context, executionID string, status models.ExecutionStatus, outputs map[string]json.RawMessage) error
	// Close releases the underlying connections.
	Close()
}

package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/floworc/floworc/internal/logger"
	"github.com/floworc/floworc/internal/logger/tag"
	"github.com/floworc/floworc/internal/models"
	"github.com/floworc/floworc/internal/state"
)

// Trigger starts a PENDING execution. It stores the optional parameters as
// the output of the reserved params node and publishes one synthetic
// completion for the virtual root; the orchestrator consumes it and
// dispatches the DAG roots.
func (e *Engine) Trigger(ctx context.Context, executionID string, params json.RawMessage) error {
	meta, err := e.store.ExecutionMeta(ctx, executionID)
	if errors.Is(err, state.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrExecutionNotFound, executionID)
	}
	if err != nil {
		return err
	}

	if len(params) > 0 {
		if err := e.store.PutOutput(ctx, executionID, models.ParamsNode, params); err != nil {
			return err
		}
	}

	ok, err := e.store.CASExecutionStatus(ctx, executionID, models.ExecutionPending, models.ExecutionRunning)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s is %s", ErrNotTriggerable, executionID, meta.Status)
	}

	if _, err := e.broker.PublishCompletion(ctx, models.CompletionMessage{
		ExecutionID:   executionID,
		NodeID:        models.VirtualRoot,
		Status:        models.NodeCompleted,
		SchemaVersion: models.SchemaVersion,
	}); err != nil {
		return err
	}

	logger.Info(ctx, "Execution triggered",
		tag.Execution(executionID),
		tag.Workflow(meta.WorkflowID))
	return nil
}

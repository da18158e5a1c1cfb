package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/floworc/floworc/internal/logger"
	"github.com/floworc/floworc/internal/logger/tag"
	"github.com/floworc/floworc/internal/models"
	"github.com/floworc/floworc/internal/state"
)

// Cancel marks an execution CANCELLED. The orchestrator stops dispatching
// and workers stop claiming tasks for it; in-flight handlers are allowed to
// finish but their outcomes are ignored.
func (e *Engine) Cancel(ctx context.Context, executionID string) error {
	meta, err := e.store.ExecutionMeta(ctx, executionID)
	if errors.Is(err, state.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrExecutionNotFound, executionID)
	}
	if err != nil {
		return err
	}
	if meta.Status.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", ErrAlreadyTerminal, executionID, meta.Status)
	}

	// The execution may be PENDING or RUNNING; try both edges.
	ok, err := e.store.CASExecutionStatus(ctx, executionID, models.ExecutionRunning, models.ExecutionCancelled)
	if err != nil {
		return err
	}
	if !ok {
		ok, err = e.store.CASExecutionStatus(ctx, executionID, models.ExecutionPending, models.ExecutionCancelled)
		if err != nil {
			return err
		}
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrAlreadyTerminal, executionID)
	}

	if err := e.repo.RecordTerminal(ctx, executionID, models.ExecutionCancelled, nil); err != nil {
		return err
	}

	logger.Info(ctx, "Execution cancelled", tag.Execution(executionID))
	return nil
}

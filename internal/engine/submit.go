package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/floworc/floworc/internal/dag"
	"github.com/floworc/floworc/internal/logger"
	"github.com/floworc/floworc/internal/logger/tag"
	"github.com/floworc/floworc/internal/models"
	"github.com/floworc/floworc/internal/persistence"
	"github.com/floworc/floworc/internal/state"
)

// Submit validates the definition, stores it, and creates a PENDING
// execution with every node seeded WAITING in the hot store. No task runs
// until Trigger is called. Validation failures leave no execution behind.
func (e *Engine) Submit(ctx context.Context, name string, definition json.RawMessage) (workflowID, executionID string, err error) {
	if e.rateLimit.Enabled {
		result, err := e.store.RateWindowIncr(ctx, "submit", time.Minute, e.rateLimit.RequestsPerMin)
		if err != nil {
			return "", "", err
		}
		if !result.Allowed {
			return "", "", fmt.Errorf("%w: retry after %s", ErrRateLimited, result.ResetAt.Format(time.RFC3339))
		}
	}

	def, err := dag.ParseDefinition(definition)
	if err != nil {
		return "", "", err
	}
	if def.Name == "" {
		def.Name = name
	}
	for _, node := range def.Nodes {
		if node.ID == models.VirtualRoot || node.ID == models.ParamsNode {
			return "", "", fmt.Errorf("%w: %q", ErrReservedNodeID, node.ID)
		}
	}
	graph, err := dag.Build(def)
	if err != nil {
		return "", "", err
	}

	workflowID = newID()
	executionID = newID()
	now := nowUTC()

	canonical, err := def.Marshal()
	if err != nil {
		return "", "", err
	}
	if err := e.repo.SaveWorkflow(ctx, persistence.Workflow{
		ID:         workflowID,
		Name:       def.Name,
		Definition: canonical,
		CreatedAt:  now,
	}); err != nil {
		return "", "", err
	}
	if err := e.repo.CreateExecution(ctx, persistence.Execution{
		ID:         executionID,
		WorkflowID: workflowID,
		Status:     models.ExecutionPending,
		CreatedAt:  now,
	}); err != nil {
		return "", "", err
	}

	if err := e.store.InitNodes(ctx, executionID, graph.NodeIDs()); err != nil {
		return "", "", err
	}
	if err := e.store.PutExecutionMeta(ctx, executionID, state.ExecutionMeta{
		WorkflowID: workflowID,
		Status:     models.ExecutionPending,
		CreatedAt:  now,
	}); err != nil {
		return "", "", err
	}

	e.dags.Put(workflowID, graph)

	logger.Info(ctx, "Workflow submitted",
		tag.Workflow(workflowID),
		tag.Execution(executionID),
		tag.Count(graph.Len()))

	return workflowID, executionID, nil
}

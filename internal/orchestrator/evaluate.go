package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/floworc/floworc/internal/dag"
	"github.com/floworc/floworc/internal/logger"
	"github.com/floworc/floworc/internal/logger/tag"
	"github.com/floworc/floworc/internal/models"
	"github.com/floworc/floworc/internal/state"
	"github.com/floworc/floworc/internal/template"
)

// evaluate runs the evaluation transaction for one completion: apply the
// node's terminal state, propagate fail-fast skips, dispatch ready children,
// and close the execution when nothing runnable remains. Every state
// mutation is CAS-guarded, so re-running the transaction on a redelivered
// completion converges to the same state.
func (o *Orchestrator) evaluate(ctx context.Context, msg models.CompletionMessage) error {
	meta, err := o.store.ExecutionMeta(ctx, msg.ExecutionID)
	if errors.Is(err, state.ErrNotFound) {
		// Hot state expired; the completion is stale.
		logger.Warn(ctx, "Completion for unknown execution",
			tag.Execution(msg.ExecutionID),
			tag.Node(msg.NodeID))
		return nil
	}
	if err != nil {
		return err
	}
	graph, err := o.dags.Get(ctx, meta.WorkflowID)
	if err != nil {
		return err
	}

	virtual := msg.NodeID == models.VirtualRoot
	if !virtual {
		if !graph.Has(msg.NodeID) {
			logger.Warn(ctx, "Completion for unknown node",
				tag.Execution(msg.ExecutionID),
				tag.Node(msg.NodeID))
			return nil
		}
		applied, err := o.applyCompletion(ctx, msg)
		if err != nil {
			return err
		}
		if !applied {
			current, err := o.store.NodeStatus(ctx, msg.ExecutionID, msg.NodeID)
			if err != nil {
				return err
			}
			if current != msg.Status {
				// Conflicting terminal state; the earlier completion won.
				logger.Warn(ctx, "Dropping conflicting completion",
					tag.Execution(msg.ExecutionID),
					tag.Node(msg.NodeID),
					tag.Status(string(msg.Status)))
				return nil
			}
			// Same terminal state already recorded. Re-run the propagation
			// anyway; it is idempotent and a redelivery may mean the first
			// processing died before dispatching children.
		}
	}

	// The node's terminal state is recorded even for a cancelled execution,
	// so Status never reports a finished node as still running. Dispatch
	// stops here.
	if meta.Status == models.ExecutionCancelled {
		return nil
	}

	failed := !virtual && msg.Status == models.NodeFailed
	if failed {
		if err := o.skipDescendants(ctx, graph, msg.ExecutionID, msg.NodeID); err != nil {
			return err
		}
	} else {
		children := graph.Children(msg.NodeID)
		if virtual {
			children = graph.Roots()
		}
		for _, child := range children {
			if err := o.dispatchChild(ctx, graph, msg.ExecutionID, child); err != nil {
				return err
			}
		}
	}

	return o.maybeFinish(ctx, graph, msg.ExecutionID)
}

// applyCompletion moves the node to its terminal state. The usual edge is
// RUNNING to terminal; PENDING covers workers that never reached the RUNNING
// CAS, and WAITING covers orchestrator-originated validation failures.
func (o *Orchestrator) applyCompletion(ctx context.Context, msg models.CompletionMessage) (bool, error) {
	extra := map[string]string{
		"finished_at": time.Now().UTC().Format(time.RFC3339Nano),
	}
	if msg.Error != nil {
		extra["error"] = models.MarshalErrorDetail(*msg.Error)
	}

	for _, from := range []models.NodeStatus{models.NodeRunning, models.NodePending, models.NodeWaiting} {
		if !from.CanTransition(msg.Status) {
			continue
		}
		ok, err := o.store.CASNodeStatus(ctx, msg.ExecutionID, msg.NodeID, from, msg.Status, extra)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// skipDescendants marks every WAITING strict descendant of the failed node
// SKIPPED. Running or terminal descendants are left alone.
func (o *Orchestrator) skipDescendants(ctx context.Context, graph *dag.DAG, executionID, nodeID string) error {
	finishedAt := time.Now().UTC().Format(time.RFC3339Nano)
	for _, descendant := range graph.Descendants(nodeID) {
		ok, err := o.store.CASNodeStatus(ctx, executionID, descendant,
			models.NodeWaiting, models.NodeSkipped,
			map[string]string{"finished_at": finishedAt})
		if err != nil {
			return err
		}
		if ok {
			logger.Info(ctx, "Node skipped",
				tag.Execution(executionID),
				tag.Node(descendant))
		}
	}
	return nil
}

// dispatchChild dispatches one child if all its parents are terminal and it
// is still WAITING. The per-child lock serialises fan-in evaluation across
// replicas; losing the lock or any CAS race means another replica owns the
// dispatch.
func (o *Orchestrator) dispatchChild(ctx context.Context, graph *dag.DAG, executionID, childID string) error {
	parents := graph.Parents(childID)
	if len(parents) > 0 {
		statuses, err := o.store.NodeStatuses(ctx, executionID, parents)
		if err != nil {
			return err
		}
		for _, parent := range parents {
			s, ok := statuses[parent]
			if !ok || (s != models.NodeCompleted && s != models.NodeSkipped) {
				return nil
			}
		}
	}

	token := uuid.NewString()
	lockKey := state.EvalLockKey(executionID, childID)
	acquired, err := o.store.AcquireLock(ctx, lockKey, token, o.store.LockTTL())
	if err != nil {
		return err
	}
	if !acquired {
		return nil
	}
	defer func() {
		if _, err := o.store.ReleaseLock(ctx, lockKey, token); err != nil {
			logger.Error(ctx, "Release evaluation lock failed",
				tag.Execution(executionID),
				tag.Node(childID),
				tag.Error(err))
		}
	}()

	status, err := o.store.NodeStatus(ctx, executionID, childID)
	if err != nil {
		return err
	}
	if status != models.NodeWaiting {
		return nil
	}

	node, ok := graph.Node(childID)
	if !ok {
		return fmt.Errorf("node %s missing from graph", childID)
	}

	// Templates may reference any upstream node, so fetch every output plus
	// the trigger parameters.
	outputs, err := o.store.Outputs(ctx, executionID, append(graph.NodeIDs(), models.ParamsNode))
	if err != nil {
		return err
	}
	resolved, err := template.Resolve(node.Config, outputs)
	if err != nil {
		return o.failResolution(ctx, executionID, childID, err)
	}

	ok, err = o.store.CASNodeStatus(ctx, executionID, childID, models.NodeWaiting, models.NodePending, nil)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	if _, err := o.broker.PublishTask(ctx, models.TaskMessage{
		ExecutionID:   executionID,
		NodeID:        childID,
		Handler:       node.Handler,
		Config:        resolved,
		RetryCount:    0,
		SchemaVersion: models.SchemaVersion,
	}); err != nil {
		return err
	}

	logger.Info(ctx, "Task dispatched",
		tag.Execution(executionID),
		tag.Node(childID),
		tag.Handler(node.Handler))
	return nil
}

// failResolution records a template failure as a validation-category node
// failure and publishes the matching completion; the failure then propagates
// through the normal evaluation path.
func (o *Orchestrator) failResolution(ctx context.Context, executionID, nodeID string, cause error) error {
	detail := models.NewErrorDetail(models.CategoryValidation, cause)
	ok, err := o.store.CASNodeStatus(ctx, executionID, nodeID,
		models.NodeWaiting, models.NodeFailed,
		map[string]string{
			"finished_at": time.Now().UTC().Format(time.RFC3339Nano),
			"error":       models.MarshalErrorDetail(detail),
		})
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	logger.Error(ctx, "Template resolution failed",
		tag.Execution(executionID),
		tag.Node(nodeID),
		tag.Error(cause))

	if _, err := o.broker.PublishCompletion(ctx, models.CompletionMessage{
		ExecutionID:   executionID,
		NodeID:        nodeID,
		Status:        models.NodeFailed,
		Error:         &detail,
		SchemaVersion: models.SchemaVersion,
	}); err != nil {
		return err
	}
	return nil
}

// maybeFinish closes the execution once no node remains runnable. The final
// status is FAILED when any node failed, COMPLETED otherwise.
func (o *Orchestrator) maybeFinish(ctx context.Context, graph *dag.DAG, executionID string) error {
	statuses, err := o.store.NodeStatuses(ctx, executionID, graph.NodeIDs())
	if err != nil {
		return err
	}

	anyFailed := false
	for _, id := range graph.NodeIDs() {
		s, ok := statuses[id]
		if !ok || !s.IsTerminal() {
			return nil
		}
		if s == models.NodeFailed {
			anyFailed = true
		}
	}

	final := models.ExecutionCompleted
	if anyFailed {
		final = models.ExecutionFailed
	}

	ok, err := o.store.CASExecutionStatus(ctx, executionID, models.ExecutionRunning, final)
	if err != nil {
		return err
	}
	if !ok {
		// Another replica already closed it.
		return nil
	}

	outputs, err := o.store.Outputs(ctx, executionID, graph.NodeIDs())
	if err != nil {
		return err
	}
	if err := o.repo.RecordTerminal(ctx, executionID, final, outputs); err != nil {
		return err
	}

	logger.Info(ctx, "Execution finished",
		tag.Execution(executionID),
		tag.Status(string(final)))
	return nil
}

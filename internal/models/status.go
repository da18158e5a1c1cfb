package models

// NodeStatus represents the lifecycle state of a single node within an
// execution. Transitions are guarded by compare-and-set in the state store;
// see the allowed edges below.
type NodeStatus string

const (
	// NodeWaiting is the initial state of every node after submission.
	NodeWaiting NodeStatus = "WAITING"
	// NodePending means the node has been dispatched on the tasks stream but
	// no worker has started it yet.
	NodePending NodeStatus = "PENDING"
	// NodeRunning means a worker has claimed the node and is executing its handler.
	NodeRunning NodeStatus = "RUNNING"
	// NodeCompleted is a terminal success state.
	NodeCompleted NodeStatus = "COMPLETED"
	// NodeFailed is a terminal failure state.
	NodeFailed NodeStatus = "FAILED"
	// NodeSkipped marks descendants of a failed node. Terminal.
	NodeSkipped NodeStatus = "SKIPPED"
)

// IsTerminal reports whether the status is a terminal node state.
func (s NodeStatus) IsTerminal() bool {
	switch s {
	case NodeCompleted, NodeFailed, NodeSkipped:
		return true
	default:
		return false
	}
}

// allowedTransitions enumerates the legal edges of the node state machine.
var allowedTransitions = map[NodeStatus][]NodeStatus{
	NodeWaiting: {NodePending, NodeSkipped, NodeFailed},
	NodePending: {NodeRunning, NodeCompleted, NodeFailed},
	NodeRunning: {NodeCompleted, NodeFailed},
}

// CanTransition reports whether the edge from s to next is allowed.
func (s NodeStatus) CanTransition(next NodeStatus) bool {
	for _, t := range allowedTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// ExecutionStatus represents the overall state of an execution.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "PENDING"
	ExecutionRunning   ExecutionStatus = "RUNNING"
	ExecutionCompleted ExecutionStatus = "COMPLETED"
	ExecutionFailed    ExecutionStatus = "FAILED"
	ExecutionCancelled ExecutionStatus = "CANCELLED"
)

// IsTerminal reports whether the status is a terminal execution state.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionCompleted, ExecutionFailed, ExecutionCancelled:
		return true
	default:
		return false
	}
}

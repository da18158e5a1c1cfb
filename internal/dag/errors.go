package dag

import "fmt"

// ValidationCode identifies the kind of DAG validation failure.
type ValidationCode string

const (
	// CodeEmptyWorkflow means the definition contains no nodes.
	CodeEmptyWorkflow ValidationCode = "empty_workflow"
	// CodeDuplicateID means two nodes share the same id.
	CodeDuplicateID ValidationCode = "duplicate_id"
	// CodeUnknownReference means a dependency names a node that does not exist.
	CodeUnknownReference ValidationCode = "unknown_reference"
	// CodeEmptyRoot means a non-empty DAG has no node with zero dependencies.
	CodeEmptyRoot ValidationCode = "empty_root"
	// CodeCycleDetected means the dependency graph contains a directed cycle.
	CodeCycleDetected ValidationCode = "cycle_detected"
)

// ValidationError reports a DAG validation failure, naming the offending
// node and, for reference errors, the dangling dependency.
type ValidationError struct {
	Code   ValidationCode
	NodeID string
	Ref    string
}

func (e *ValidationError) Error() string {
	switch e.Code {
	case CodeEmptyWorkflow:
		return "dag validation failed: workflow has no nodes"
	case CodeDuplicateID:
		return fmt.Sprintf("dag validation failed: duplicate node id %q", e.NodeID)
	case CodeUnknownReference:
		return fmt.Sprintf("dag validation failed: node %q depends on unknown node %q", e.NodeID, e.Ref)
	case CodeEmptyRoot:
		return "dag validation failed: no root node (every node has dependencies)"
	case CodeCycleDetected:
		return fmt.Sprintf("dag validation failed: cycle detected involving node %q", e.NodeID)
	default:
		return fmt.Sprintf("dag validation failed: %s", e.Code)
	}
}

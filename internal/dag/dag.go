// Package dag provides the validated, immutable graph model of a workflow
// definition: reference checks, cycle detection via iterative Kahn's
// algorithm, and the traversal queries the orchestrator depends on.
package dag

import (
	"sort"
)

// DAG is a validated workflow graph. It stores nodes in id-keyed maps and
// adjacency as id sets, so no owning pointers exist between nodes. All
// methods are read-only; a DAG never changes after Build returns it.
type DAG struct {
	name      string
	nodes     map[string]NodeDefinition
	children  map[string][]string
	parents   map[string][]string
	roots     []string
	topoOrder []string
}

// Build validates the definition and returns the graph form. Validation order:
// empty check, duplicate ids, unknown references, then cycle detection with
// Kahn's algorithm (iterative, to tolerate deep graphs). Complexity O(V+E).
func Build(def *Definition) (*DAG, error) {
	if len(def.Nodes) == 0 {
		return nil, &ValidationError{Code: CodeEmptyWorkflow}
	}

	d := &DAG{
		name:     def.Name,
		nodes:    make(map[string]NodeDefinition, len(def.Nodes)),
		children: make(map[string][]string),
		parents:  make(map[string][]string),
	}

	for _, node := range def.Nodes {
		if _, ok := d.nodes[node.ID]; ok {
			return nil, &ValidationError{Code: CodeDuplicateID, NodeID: node.ID}
		}
		d.nodes[node.ID] = node
	}

	for _, node := range def.Nodes {
		for _, dep := range node.Dependencies {
			if _, ok := d.nodes[dep]; !ok {
				return nil, &ValidationError{Code: CodeUnknownReference, NodeID: node.ID, Ref: dep}
			}
			d.children[dep] = append(d.children[dep], node.ID)
			d.parents[node.ID] = append(d.parents[node.ID], dep)
		}
	}

	// Sort adjacency for deterministic traversal.
	for id := range d.children {
		sort.Strings(d.children[id])
	}
	for id := range d.parents {
		sort.Strings(d.parents[id])
	}

	if err := d.topoSort(); err != nil {
		return nil, err
	}
	return d, nil
}

// topoSort runs Kahn's algorithm. It populates roots and topoOrder, and
// fails when no root exists or when the order does not cover all nodes.
func (d *DAG) topoSort() error {
	inDegree := make(map[string]int, len(d.nodes))
	for id := range d.nodes {
		inDegree[id] = len(d.parents[id])
	}

	var queue []string
	for id, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)
	if len(queue) == 0 {
		return &ValidationError{Code: CodeEmptyRoot}
	}
	d.roots = append([]string(nil), queue...)

	order := make([]string, 0, len(d.nodes))
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		order = append(order, current)

		for _, child := range d.children[current] {
			inDegree[child]--
			if inDegree[child] == 0 {
				queue = append(queue, child)
			}
		}
	}

	if len(order) != len(d.nodes) {
		// Report one node still on a cycle. Pick deterministically.
		var remaining []string
		for id, degree := range inDegree {
			if degree > 0 {
				remaining = append(remaining, id)
			}
		}
		sort.Strings(remaining)
		return &ValidationError{Code: CodeCycleDetected, NodeID: remaining[0]}
	}

	d.topoOrder = order
	return nil
}

// Name returns the workflow name.
func (d *DAG) Name() string {
	return d.name
}

// Len returns the number of nodes.
func (d *DAG) Len() int {
	return len(d.nodes)
}

// Has reports whether the node id exists in the DAG.
func (d *DAG) Has(id string) bool {
	_, ok := d.nodes[id]
	return ok
}

// Node returns the definition of the given node.
func (d *DAG) Node(id string) (NodeDefinition, bool) {
	node, ok := d.nodes[id]
	return node, ok
}

// NodeIDs returns all node ids in topological order.
func (d *DAG) NodeIDs() []string {
	return append([]string(nil), d.topoOrder...)
}

// Children returns the ids of nodes that depend on the given node.
func (d *DAG) Children(id string) []string {
	return append([]string(nil), d.children[id]...)
}

// Parents returns the dependency ids of the given node.
func (d *DAG) Parents(id string) []string {
	return append([]string(nil), d.parents[id]...)
}

// Roots returns the ids of nodes with no dependencies.
func (d *DAG) Roots() []string {
	return append([]string(nil), d.roots...)
}

// Descendants returns every strict descendant of the given node, computed
// iteratively over the child adjacency.
func (d *DAG) Descendants(id string) []string {
	seen := make(map[string]bool)
	stack := append([]string(nil), d.children[id]...)
	var result []string
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[current] {
			continue
		}
		seen[current] = true
		result = append(result, current)
		stack = append(stack, d.children[current]...)
	}
	sort.Strings(result)
	return result
}

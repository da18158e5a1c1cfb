package dag

import (
	"encoding/json"
	"fmt"
)

// Definition is the raw, parsed form of a workflow definition as submitted.
// It is immutable once stored; the validated graph form is built by Build.
type Definition struct {
	Name  string           `json:"name"`
	Nodes []NodeDefinition `json:"nodes"`
}

// NodeDefinition describes one task in the workflow.
type NodeDefinition struct {
	// ID is unique within the DAG. Opaque to the engine.
	ID string `json:"id"`
	// Handler names a registered handler.
	Handler string `json:"handler"`
	// Config is an arbitrary JSON tree; string leaves may contain
	// {{node.path}} templates referencing upstream outputs.
	Config json.RawMessage `json:"config,omitempty"`
	// Dependencies lists the ids of nodes that must finish first.
	Dependencies []string `json:"dependencies,omitempty"`
}

// ParseDefinition decodes a JSON definition payload.
func ParseDefinition(data []byte) (*Definition, error) {
	var def Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("invalid workflow definition: %w", err)
	}
	return &def, nil
}

// Marshal encodes the definition to its canonical JSON form.
func (d *Definition) Marshal() ([]byte, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("marshal workflow definition: %w", err)
	}
	return data, nil
}

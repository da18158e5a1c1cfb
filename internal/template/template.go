// Package template resolves {{node.path}} references in node configurations
// against the outputs of upstream nodes. Resolution is a pure function of
// (config, outputs): it never reads engine state.
package template

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// pattern matches {{node.path}} tokens. The path is a dot-separated sequence
// of keys; at least one key is required after the node id.
var pattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_-]+)((?:\.[A-Za-z0-9_-]+)+)\s*\}\}`)

// UnresolvedError reports a template token whose node output or path segment
// could not be found.
type UnresolvedError struct {
	Token string
}

func (e *UnresolvedError) Error() string {
	return fmt.Sprintf("template unresolved: %s", e.Token)
}

// Resolve walks the config tree and substitutes every template token with the
// referenced upstream output value. When a string leaf consists of exactly one
// token and the referenced value is a scalar, the raw JSON value replaces the
// leaf, preserving its type; otherwise the value is stringified in place.
func Resolve(config json.RawMessage, outputs map[string]json.RawMessage) (json.RawMessage, error) {
	if len(config) == 0 {
		return config, nil
	}

	var tree any
	if err := json.Unmarshal(config, &tree); err != nil {
		return nil, fmt.Errorf("invalid config JSON: %w", err)
	}

	r := &resolver{outputs: outputs, decoded: make(map[string]any)}
	resolved, err := r.resolveValue(tree)
	if err != nil {
		return nil, err
	}

	out, err := json.Marshal(resolved)
	if err != nil {
		return nil, fmt.Errorf("marshal resolved config: %w", err)
	}
	return out, nil
}

type resolver struct {
	outputs map[string]json.RawMessage
	decoded map[string]any
}

func (r *resolver) resolveValue(value any) (any, error) {
	switch v := value.(type) {
	case string:
		return r.resolveString(v)
	case map[string]any:
		resolved := make(map[string]any, len(v))
		for key, item := range v {
			rv, err := r.resolveValue(item)
			if err != nil {
				return nil, err
			}
			resolved[key] = rv
		}
		return resolved, nil
	case []any:
		resolved := make([]any, len(v))
		for i, item := range v {
			rv, err := r.resolveValue(item)
			if err != nil {
				return nil, err
			}
			resolved[i] = rv
		}
		return resolved, nil
	default:
		return value, nil
	}
}

func (r *resolver) resolveString(s string) (any, error) {
	matches := pattern.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s, nil
	}

	// Whole-token scalar substitution preserves the JSON type.
	if len(matches) == 1 && s[matches[0][0]:matches[0][1]] == s {
		value, err := r.lookup(s, s[matches[0][2]:matches[0][3]], s[matches[0][4]:matches[0][5]])
		if err != nil {
			return nil, err
		}
		if isScalar(value) {
			return value, nil
		}
		return stringify(value), nil
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		token := s[m[0]:m[1]]
		value, err := r.lookup(token, s[m[2]:m[3]], s[m[4]:m[5]])
		if err != nil {
			return nil, err
		}
		b.WriteString(s[last:m[0]])
		b.WriteString(stringify(value))
		last = m[1]
	}
	b.WriteString(s[last:])
	return b.String(), nil
}

// lookup finds the output of nodeID and traverses the dotted path.
func (r *resolver) lookup(token, nodeID, dottedPath string) (any, error) {
	root, err := r.output(nodeID)
	if err != nil {
		return nil, &UnresolvedError{Token: token}
	}

	current := root
	for _, segment := range strings.Split(strings.TrimPrefix(dottedPath, "."), ".") {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, &UnresolvedError{Token: token}
		}
		current, ok = obj[segment]
		if !ok {
			return nil, &UnresolvedError{Token: token}
		}
	}
	return current, nil
}

func (r *resolver) output(nodeID string) (any, error) {
	if decoded, ok := r.decoded[nodeID]; ok {
		return decoded, nil
	}
	raw, ok := r.outputs[nodeID]
	if !ok {
		return nil, fmt.Errorf("no output for node %q", nodeID)
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("invalid output JSON for node %q: %w", nodeID, err)
	}
	r.decoded[nodeID] = decoded
	return decoded, nil
}

func isScalar(value any) bool {
	switch value.(type) {
	case map[string]any, []any:
		return false
	default:
		return true
	}
}

func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case nil:
		return "null"
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

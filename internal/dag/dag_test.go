package dag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func mustBuild(t *testing.T, def *Definition) *DAG {
	t.Helper()
	graph, err := Build(def)
	require.NoError(t, err)
	return graph
}

func node(id string, deps ...string) NodeDefinition {
	return NodeDefinition{ID: id, Handler: "echo", Dependencies: deps}
}

func TestBuildDiamond(t *testing.T) {
	graph := mustBuild(t, &Definition{
		Name:  "diamond",
		Nodes: []NodeDefinition{node("a"), node("b", "a"), node("c", "a"), node("d", "b", "c")},
	})

	require.Equal(t, "diamond", graph.Name())
	require.Equal(t, 4, graph.Len())
	require.Equal(t, []string{"a"}, graph.Roots())
	require.Equal(t, []string{"b", "c"}, graph.Children("a"))
	require.Equal(t, []string{"b", "c"}, graph.Parents("d"))
	require.Equal(t, []string{"b", "c", "d"}, graph.Descendants("a"))
	require.Equal(t, []string{"d"}, graph.Descendants("b"))
	require.Empty(t, graph.Descendants("d"))
	require.True(t, graph.Has("c"))
	require.False(t, graph.Has("x"))

	// Topological order respects every edge.
	pos := make(map[string]int)
	for i, id := range graph.NodeIDs() {
		pos[id] = i
	}
	for _, id := range graph.NodeIDs() {
		for _, child := range graph.Children(id) {
			require.Less(t, pos[id], pos[child])
		}
	}
}

func TestBuildSingleNode(t *testing.T) {
	graph := mustBuild(t, &Definition{Nodes: []NodeDefinition{node("only")}})
	require.Equal(t, []string{"only"}, graph.Roots())
	require.Equal(t, []string{"only"}, graph.NodeIDs())
}

func TestBuildEmpty(t *testing.T) {
	_, err := Build(&Definition{})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, CodeEmptyWorkflow, verr.Code)
}

func TestBuildDuplicateID(t *testing.T) {
	_, err := Build(&Definition{Nodes: []NodeDefinition{node("a"), node("a")}})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, CodeDuplicateID, verr.Code)
	require.Equal(t, "a", verr.NodeID)
}

func TestBuildUnknownReference(t *testing.T) {
	_, err := Build(&Definition{Nodes: []NodeDefinition{node("a", "ghost")}})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, CodeUnknownReference, verr.Code)
	require.Equal(t, "ghost", verr.Ref)
}

func TestBuildCycle(t *testing.T) {
	_, err := Build(&Definition{Nodes: []NodeDefinition{node("a", "b"), node("b", "a")}})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, CodeEmptyRoot, verr.Code)
}

func TestBuildCycleWithRoot(t *testing.T) {
	// A valid root exists but b, c, d form a cycle downstream.
	_, err := Build(&Definition{Nodes: []NodeDefinition{
		node("a"),
		node("b", "a", "d"),
		node("c", "b"),
		node("d", "c"),
	}})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, CodeCycleDetected, verr.Code)
	require.NotEmpty(t, verr.NodeID)
}

func TestBuildDeepLinearChain(t *testing.T) {
	// Thousands of nodes must validate without recursion depth issues.
	const n = 5000
	nodes := make([]NodeDefinition, n)
	nodes[0] = node("n0")
	for i := 1; i < n; i++ {
		nodes[i] = node(fmt.Sprintf("n%d", i), fmt.Sprintf("n%d", i-1))
	}
	graph := mustBuild(t, &Definition{Nodes: nodes})
	require.Equal(t, n, graph.Len())
	require.Equal(t, []string{"n0"}, graph.Roots())
	require.Len(t, graph.Descendants("n0"), n-1)
}

func TestParseDefinitionRoundTrip(t *testing.T) {
	raw := []byte(`{"name":"wf","nodes":[{"id":"a","handler":"echo","config":{"v":1}},{"id":"b","handler":"echo","dependencies":["a"]}]}`)
	def, err := ParseDefinition(raw)
	require.NoError(t, err)
	require.Equal(t, "wf", def.Name)
	require.Len(t, def.Nodes, 2)
	require.JSONEq(t, `{"v":1}`, string(def.Nodes[0].Config))

	out, err := def.Marshal()
	require.NoError(t, err)
	again, err := ParseDefinition(out)
	require.NoError(t, err)
	require.Equal(t, def, again)
}

func TestParseDefinitionInvalid(t *testing.T) {
	_, err := ParseDefinition([]byte(`{"nodes":`))
	require.Error(t, err)
}

func TestCacheLoadsOnce(t *testing.T) {
	calls := 0
	cache := NewCache(func(_ context.Context, workflowID string) (json.RawMessage, error) {
		calls++
		require.Equal(t, "wf-1", workflowID)
		return json.RawMessage(`{"name":"wf","nodes":[{"id":"a","handler":"echo"}]}`), nil
	})

	first, err := cache.Get(context.Background(), "wf-1")
	require.NoError(t, err)
	second, err := cache.Get(context.Background(), "wf-1")
	require.NoError(t, err)
	require.Same(t, first, second)
	require.Equal(t, 1, calls)
}

func TestCacheLoadError(t *testing.T) {
	sentinel := errors.New("boom")
	cache := NewCache(func(context.Context, string) (json.RawMessage, error) {
		return nil, sentinel
	})
	_, err := cache.Get(context.Background(), "missing")
	require.ErrorIs(t, err, sentinel)
}

func TestCachePut(t *testing.T) {
	cache := NewCache(func(context.Context, string) (json.RawMessage, error) {
		t.Fatal("loader must not be called")
		return nil, nil
	})
	graph := mustBuild(t, &Definition{Nodes: []NodeDefinition{node("a")}})
	cache.Put("wf-1", graph)

	got, err := cache.Get(context.Background(), "wf-1")
	require.NoError(t, err)
	require.Same(t, graph, got)
}

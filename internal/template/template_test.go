package template

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func outputs(pairs map[string]string) map[string]json.RawMessage {
	m := make(map[string]json.RawMessage, len(pairs))
	for k, v := range pairs {
		m[k] = json.RawMessage(v)
	}
	return m
}

func TestResolveScalarPreservesType(t *testing.T) {
	resolved, err := Resolve(
		json.RawMessage(`{"from_b":"{{B.v}}","from_c":"{{C.v}}"}`),
		outputs(map[string]string{"B": `{"v":10}`, "C": `{"v":20}`}),
	)
	require.NoError(t, err)
	require.JSONEq(t, `{"from_b":10,"from_c":20}`, string(resolved))
}

func TestResolveScalarKinds(t *testing.T) {
	out := outputs(map[string]string{
		"a": `{"s":"text","n":1.5,"b":true,"z":null}`,
	})
	resolved, err := Resolve(
		json.RawMessage(`{"s":"{{a.s}}","n":"{{a.n}}","b":"{{a.b}}","z":"{{a.z}}"}`),
		out,
	)
	require.NoError(t, err)
	require.JSONEq(t, `{"s":"text","n":1.5,"b":true,"z":null}`, string(resolved))
}

func TestResolveEmbeddedTokensStringify(t *testing.T) {
	resolved, err := Resolve(
		json.RawMessage(`{"msg":"user {{a.name}} scored {{a.score}}"}`),
		outputs(map[string]string{"a": `{"name":"kim","score":42}`}),
	)
	require.NoError(t, err)
	require.JSONEq(t, `{"msg":"user kim scored 42"}`, string(resolved))
}

func TestResolveNestedPath(t *testing.T) {
	resolved, err := Resolve(
		json.RawMessage(`{"id":"{{a.user.profile.id}}"}`),
		outputs(map[string]string{"a": `{"user":{"profile":{"id":7}}}`}),
	)
	require.NoError(t, err)
	require.JSONEq(t, `{"id":7}`, string(resolved))
}

func TestResolveWholeTokenObjectStringifies(t *testing.T) {
	resolved, err := Resolve(
		json.RawMessage(`{"blob":"{{a.obj}}"}`),
		outputs(map[string]string{"a": `{"obj":{"k":1}}`}),
	)
	require.NoError(t, err)
	require.JSONEq(t, `{"blob":"{\"k\":1}"}`, string(resolved))
}

func TestResolveInsideArraysAndNesting(t *testing.T) {
	resolved, err := Resolve(
		json.RawMessage(`{"items":["{{a.v}}",{"deep":"{{a.v}}"}],"plain":5}`),
		outputs(map[string]string{"a": `{"v":3}`}),
	)
	require.NoError(t, err)
	require.JSONEq(t, `{"items":[3,{"deep":3}],"plain":5}`, string(resolved))
}

func TestResolveNoTemplatesUntouched(t *testing.T) {
	config := json.RawMessage(`{"v":1,"s":"hello","curly":"{not a template}"}`)
	resolved, err := Resolve(config, nil)
	require.NoError(t, err)
	require.JSONEq(t, string(config), string(resolved))
}

func TestResolveEmptyConfig(t *testing.T) {
	resolved, err := Resolve(nil, nil)
	require.NoError(t, err)
	require.Nil(t, resolved)
}

func TestResolveUnknownNode(t *testing.T) {
	_, err := Resolve(json.RawMessage(`{"v":"{{ghost.v}}"}`), nil)
	var uerr *UnresolvedError
	require.ErrorAs(t, err, &uerr)
	require.Equal(t, "{{ghost.v}}", uerr.Token)
}

func TestResolveMissingPathSegment(t *testing.T) {
	_, err := Resolve(
		json.RawMessage(`{"v":"{{a.missing.deep}}"}`),
		outputs(map[string]string{"a": `{"present":1}`}),
	)
	var uerr *UnresolvedError
	require.ErrorAs(t, err, &uerr)
	require.Equal(t, "{{a.missing.deep}}", uerr.Token)
}

func TestResolvePathThroughScalar(t *testing.T) {
	_, err := Resolve(
		json.RawMessage(`{"v":"{{a.v.deeper}}"}`),
		outputs(map[string]string{"a": `{"v":1}`}),
	)
	var uerr *UnresolvedError
	require.ErrorAs(t, err, &uerr)
}

func TestResolveWhitespaceInToken(t *testing.T) {
	resolved, err := Resolve(
		json.RawMessage(`{"v":"{{ a.v }}"}`),
		outputs(map[string]string{"a": `{"v":9}`}),
	)
	require.NoError(t, err)
	require.JSONEq(t, `{"v":9}`, string(resolved))
}

func TestResolveIsPure(t *testing.T) {
	out := outputs(map[string]string{"a": `{"v":1}`})
	config := json.RawMessage(`{"v":"{{a.v}}"}`)

	first, err := Resolve(config, out)
	require.NoError(t, err)
	second, err := Resolve(config, out)
	require.NoError(t, err)
	require.JSONEq(t, string(first), string(second))
	require.JSONEq(t, `{"v":1}`, string(out["a"]), "outputs must not be mutated")
}

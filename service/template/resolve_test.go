package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_NoVariables(t *testing.T) {
	result, err := Resolve(Context{}, "hello world")
	require.NoError(t, err)
	assert.Equal(t, "hello world", result)
}

func TestResolve_SimpleOutput(t *testing.T) {
	ctx := Context{Outputs: map[string]interface{}{
		"node1": map[string]interface{}{"message": "hello"},
	}}
	result, err := Resolve(ctx, "{{#node1.message#}}")
	require.NoError(t, err)
	assert.Equal(t, "hello", result)
}

func TestResolve_NestedOutput(t *testing.T) {
	ctx := Context{Outputs: map[string]interface{}{
		"node1": map[string]interface{}{
			"data": map[string]interface{}{"user": map[string]interface{}{"name": "Alice"}},
		},
	}}
	result, err := Resolve(ctx, "{{#node1.data.user.name#}}")
	require.NoError(t, err)
	assert.Equal(t, "Alice", result)
}

func TestResolve_NumberOutput(t *testing.T) {
	ctx := Context{Outputs: map[string]interface{}{
		"node1": map[string]interface{}{"count": float64(42)},
	}}
	result, err := Resolve(ctx, "count: {{#node1.count#}}")
	require.NoError(t, err)
	assert.Equal(t, "count: 42", result)
}

func TestResolve_BoolOutput(t *testing.T) {
	ctx := Context{Outputs: map[string]interface{}{
		"node1": map[string]interface{}{"active": true},
	}}
	result, err := Resolve(ctx, "active: {{#node1.active#}}")
	require.NoError(t, err)
	assert.Equal(t, "active: true", result)
}

func TestResolve_MultipleOutputs(t *testing.T) {
	ctx := Context{Outputs: map[string]interface{}{
		"node1": map[string]interface{}{"name": "Alice"},
		"node2": map[string]interface{}{"age": float64(30)},
	}}
	result, err := Resolve(ctx, "{{#node1.name#}} is {{#node2.age#}} years old")
	require.NoError(t, err)
	assert.Equal(t, "Alice is 30 years old", result)
}

func TestResolve_MissingNode(t *testing.T) {
	_, err := Resolve(Context{}, "{{#unknown.value#}}")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestResolve_MissingKey(t *testing.T) {
	ctx := Context{Outputs: map[string]interface{}{
		"node1": map[string]interface{}{"name": "Alice"},
	}}
	_, err := Resolve(ctx, "{{#node1.unknown#}}")
	require.Error(t, err)
}

func TestResolve_ArrayIndex(t *testing.T) {
	ctx := Context{Outputs: map[string]interface{}{
		"node1": map[string]interface{}{"items": []interface{}{"a", "b", "c"}},
	}}
	result, err := Resolve(ctx, "{{#node1.items.1#}}")
	require.NoError(t, err)
	assert.Equal(t, "b", result)
}

func TestResolve_EnvVariable(t *testing.T) {
	ctx := Context{Env: map[string]string{"TEST_VAR": "test_value"}}
	result, err := Resolve(ctx, "{{$TEST_VAR$}}")
	require.NoError(t, err)
	assert.Equal(t, "test_value", result)
}

func TestResolve_MissingEnvVariable(t *testing.T) {
	_, err := Resolve(Context{}, "{{$NONEXISTENT_VAR$}}")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "env variable")
}

func TestResolve_MixedEnvAndOutput(t *testing.T) {
	ctx := Context{
		Env:     map[string]string{"PREFIX": "Hello"},
		Outputs: map[string]interface{}{"node1": map[string]interface{}{"name": "World"}},
	}
	result, err := Resolve(ctx, "{{$PREFIX$}}, {{#node1.name#}}!")
	require.NoError(t, err)
	assert.Equal(t, "Hello, World!", result)
}

func TestResolve_MultipleEnvVariables(t *testing.T) {
	ctx := Context{Env: map[string]string{"HOST": "localhost", "PORT": "8080"}}
	result, err := Resolve(ctx, "http://{{$HOST$}}:{{$PORT$}}/api")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/api", result)
}

func TestResolveValue_WholeLeafKeepsNativeType(t *testing.T) {
	ctx := Context{Outputs: map[string]interface{}{
		"node1": map[string]interface{}{"data": map[string]interface{}{"key": "value"}},
	}}
	result, err := ResolveValue(ctx, "{{#node1.data#}}")
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"key": "value"}, result)
}

func TestResolveValue_String(t *testing.T) {
	ctx := Context{Outputs: map[string]interface{}{
		"node1": map[string]interface{}{"msg": "hello"},
	}}
	result, err := ResolveValue(ctx, "{{#node1.msg#}}")
	require.NoError(t, err)
	assert.Equal(t, "hello", result)
}

func TestResolveValue_Array(t *testing.T) {
	ctx := Context{Outputs: map[string]interface{}{
		"node1": map[string]interface{}{"x": "a", "y": "b"},
	}}
	result, err := ResolveValue(ctx, []interface{}{"{{#node1.x#}}", "{{#node1.y#}}"})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"a", "b"}, result)
}

func TestResolveValue_Object(t *testing.T) {
	ctx := Context{Outputs: map[string]interface{}{
		"node1": map[string]interface{}{"name": "Alice", "age": float64(25)},
	}}
	result, err := ResolveValue(ctx, map[string]interface{}{
		"user":  "{{#node1.name#}}",
		"years": "{{#node1.age#}}",
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"user": "Alice", "years": float64(25)}, result)
}

func TestResolveValue_NestedObject(t *testing.T) {
	ctx := Context{Outputs: map[string]interface{}{
		"node1": map[string]interface{}{"value": "test"},
	}}
	input := map[string]interface{}{
		"level1": map[string]interface{}{
			"level2": map[string]interface{}{
				"data": "{{#node1.value#}}",
			},
		},
	}
	result, err := ResolveValue(ctx, input)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{
		"level1": map[string]interface{}{
			"level2": map[string]interface{}{"data": "test"},
		},
	}, result)
}

func TestResolveValue_NonStringPassthrough(t *testing.T) {
	for _, v := range []interface{}{float64(42), true, nil} {
		result, err := ResolveValue(Context{}, v)
		require.NoError(t, err)
		assert.Equal(t, v, result)
	}
}

func TestResolveValue_EmbeddedObjectStaysString(t *testing.T) {
	ctx := Context{Outputs: map[string]interface{}{
		"node1": map[string]interface{}{"obj": map[string]interface{}{"foo": "bar"}},
	}}
	result, err := ResolveValue(ctx, "prefix {{#node1.obj#}}")
	require.NoError(t, err)
	assert.Equal(t, `prefix {"foo":"bar"}`, result)
}

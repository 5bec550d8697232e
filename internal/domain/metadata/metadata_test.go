package metadata

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValue(t *testing.T) {
	tests := []struct {
		name  string
		input interface{}
		want  Value
	}{
		{"int", 3, IntValue(3)},
		{"int64", int64(7), IntValue(7)},
		{"float", 0.5, DoubleValue(0.5)},
		{"string", "adam", StringValue("adam")},
		{"bool", true, BoolValue(true)},
		{"json int", json.Number("10"), IntValue(10)},
		{"json float", json.Number("1.5"), DoubleValue(1.5)},
		{"typed value", StringValue("x"), StringValue("x")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewValue(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("struct", func(t *testing.T) {
		got, err := NewValue(map[string]interface{}{"layers": []int{1, 2}})
		require.NoError(t, err)
		assert.Equal(t, KindStruct, got.Kind)
	})

	t.Run("unsupported", func(t *testing.T) {
		_, err := NewValue(make(chan int))
		assert.Error(t, err)

		_, err = NewValue(nil)
		assert.Error(t, err)

		_, err = NewValue(map[string]interface{}{"c": make(chan int)})
		assert.Error(t, err)
	})
}

func TestValue_Interface(t *testing.T) {
	assert.Equal(t, int64(1), IntValue(1).Interface())
	assert.Equal(t, "s", StringValue("s").Interface())
	assert.Nil(t, Value{}.Interface())
}

func TestProperties_Clone(t *testing.T) {
	var nilProps Properties
	assert.Nil(t, nilProps.Clone())

	props := Properties{"a": IntValue(1)}
	cloned := props.Clone()
	cloned["b"] = IntValue(2)
	assert.Len(t, props, 1)
}

func TestExecution_Result(t *testing.T) {
	execution := &Execution{}

	_, ok, err := execution.Result()
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, execution.SetResult(ExecutionResult{Code: 3, ResultMessage: "bad input"}))
	assert.Equal(t, KindString, execution.CustomProperties[ExecutionResultPropertyKey].Kind)

	result, ok, err := execution.Result()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int32(3), result.Code)
	assert.Equal(t, "bad input", result.ResultMessage)

	execution.SetCustomProperty(ExecutionResultPropertyKey, StringValue("{"))
	_, ok, err = execution.Result()
	assert.True(t, ok)
	assert.Error(t, err)
}

func TestExecutionResult_IsEmpty(t *testing.T) {
	assert.True(t, ExecutionResult{}.IsEmpty())
	assert.False(t, ExecutionResult{Code: 1}.IsEmpty())
	assert.False(t, ExecutionResult{MetadataDetails: []map[string]interface{}{{"k": "v"}}}.IsEmpty())
}

func TestExecutionState_IsTerminal(t *testing.T) {
	for _, s := range []ExecutionState{ExecutionComplete, ExecutionFailed, ExecutionCached, ExecutionCanceled} {
		assert.True(t, s.IsTerminal(), s)
	}
	for _, s := range []ExecutionState{ExecutionNew, ExecutionRunning} {
		assert.False(t, s.IsTerminal(), s)
	}
}

func TestExecutionState_IsValid(t *testing.T) {
	for _, s := range []ExecutionState{ExecutionNew, ExecutionRunning, ExecutionComplete, ExecutionFailed, ExecutionCached, ExecutionCanceled} {
		assert.True(t, s.IsValid(), s)
	}
	for _, s := range []ExecutionState{"", "BOGUS", "running"} {
		assert.False(t, s.IsValid(), s)
	}
}

func TestArtifactMultiMap(t *testing.T) {
	var absent ArtifactMultiMap
	assert.Nil(t, absent.Clone())
	assert.Equal(t, 0, absent.Len())

	m := ArtifactMultiMap{
		"b": {{URI: "/b0"}, {URI: "/b1"}},
		"a": {{URI: "/a0", Properties: Properties{"p": IntValue(1)}}},
	}
	assert.Equal(t, []string{"a", "b"}, m.Keys())
	assert.Equal(t, 3, m.Len())

	cloned := m.Clone()
	cloned["a"][0].URI = "/changed"
	cloned["a"][0].Properties["p"] = IntValue(2)
	assert.Equal(t, "/a0", m["a"][0].URI)
	assert.Equal(t, IntValue(1), m["a"][0].Properties["p"])
}

func TestMergeError(t *testing.T) {
	err := fmt.Errorf("publish: %w", NewMergeError("model", "index %d out of range", 3))
	assert.ErrorIs(t, err, ErrMerge)

	var mergeErr *MergeError
	require.True(t, errors.As(err, &mergeErr))
	assert.Equal(t, "model", mergeErr.Key)
	assert.Contains(t, err.Error(), `key "model"`)
}

package workflow

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tddYAML = `
name: tdd
initial: pending
metadata:
  version: "2"
  autoActions:
    red: runTests
states:
  pending:
    on:
      START: in_progress
  in_progress:
    on:
      TESTS_WRITTEN: red
      ERROR_OCCURRED: ERROR
  red:
    entry: [notifyTester]
    on:
      TESTS_PASS:
        target: green
        guard: hasTests
  green:
    type: final
  ERROR:
    type: final
`

func TestParseDefinitionYAML(t *testing.T) {
	def, err := ParseDefinitionYAML([]byte(tddYAML))
	require.NoError(t, err)

	assert.Equal(t, "tdd", def.Name)
	assert.Equal(t, "pending", def.Initial)
	assert.Equal(t, "runTests", def.Metadata.AutoActions["red"])
	assert.Equal(t, TransitionSpec{Target: "in_progress"}, def.States["pending"].On["START"])
	assert.Equal(t, TransitionSpec{Target: "green", Guard: "hasTests"}, def.States["red"].On["TESTS_PASS"])
	assert.Equal(t, []string{"notifyTester"}, def.States["red"].Entry)
	assert.True(t, def.States["green"].IsFinal())
}

func TestTransitionSpec_JSONShapes(t *testing.T) {
	var spec StateSpec
	raw := `{"on":{"START":"in_progress","TESTS_PASS":{"target":"green","guard":"hasTests"}}}`
	require.NoError(t, json.Unmarshal([]byte(raw), &spec))

	assert.Equal(t, "in_progress", spec.On["START"].Target)
	assert.Equal(t, "hasTests", spec.On["TESTS_PASS"].Guard)

	out, err := json.Marshal(spec.On["START"])
	require.NoError(t, err)
	assert.JSONEq(t, `"in_progress"`, string(out))
}

func TestDefinition_Validate(t *testing.T) {
	t.Run("initial state must be declared", func(t *testing.T) {
		def := &Definition{Name: "x", Initial: "nowhere", States: map[string]StateSpec{"a": {}}}
		assert.True(t, errors.Is(def.Validate(), ErrInvalidDefinition))
	})

	t.Run("targets must be declared", func(t *testing.T) {
		def := &Definition{Name: "x", Initial: "a", States: map[string]StateSpec{
			"a": {On: map[string]TransitionSpec{"GO": {Target: "b"}}},
		}}
		err := def.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), `unknown state "b"`)
	})

	t.Run("final states have no transitions", func(t *testing.T) {
		def := &Definition{Name: "x", Initial: "a", States: map[string]StateSpec{
			"a": {Type: StateTypeFinal, On: map[string]TransitionSpec{"GO": {Target: "a"}}},
		}}
		assert.True(t, errors.Is(def.Validate(), ErrInvalidDefinition))
	})

	t.Run("lifecycle definition is valid", func(t *testing.T) {
		assert.NoError(t, SubtaskLifecycleDefinition().Validate())
	})
}

func TestDefinition_Lookup(t *testing.T) {
	def, err := ParseDefinitionYAML([]byte(tddYAML))
	require.NoError(t, err)

	tr, err := def.Lookup("pending", "START")
	require.NoError(t, err)
	assert.Equal(t, "in_progress", tr.Target)

	_, err = def.Lookup("pending", "TESTS_PASS")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = def.Lookup("unknown", "START")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestDefinition_CloneIsIndependent(t *testing.T) {
	def, err := ParseDefinitionYAML([]byte(tddYAML))
	require.NoError(t, err)

	clone := def.Clone()
	clone.States["pending"].On["START"] = TransitionSpec{Target: "red"}
	clone.Metadata.AutoActions["red"] = "other"
	clone.States["red"].Entry[0] = "changed"

	assert.Equal(t, "in_progress", def.States["pending"].On["START"].Target)
	assert.Equal(t, "runTests", def.Metadata.AutoActions["red"])
	assert.Equal(t, "notifyTester", def.States["red"].Entry[0])
}

func TestGuardRegistry(t *testing.T) {
	r := NewGuardRegistry()

	passed, known := r.Evaluate("hasTests", Vars{"testsExist": true})
	assert.True(t, known)
	assert.True(t, passed)

	passed, _ = r.Evaluate("hasTests", Vars{"testsExist": false})
	assert.False(t, passed)

	passed, known = r.Evaluate("nope", Vars{})
	assert.False(t, known)
	assert.False(t, passed)

	r.Register("always", func(Vars) bool { return true })
	passed, _ = r.Evaluate("always", nil)
	assert.True(t, passed)
}

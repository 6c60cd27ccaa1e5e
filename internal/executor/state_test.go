package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestState_String(t *testing.T) {
	cases := map[State]string{
		Reasoning: "reasoning",
		Idle:      "idle",
		Adapting:  "adapting",
		Executing: "executing",
		Finished:  "finished",
		Failed:    "failed",
		State(42): "unknown",
	}
	for s, want := range cases {
		assert.Equal(t, want, s.String())
	}
}

func TestExecutionError_Format(t *testing.T) {
	err := &ExecutionError{Code: ErrCodeUnsat, Message: "no plan", Solver: "s1"}
	assert.Equal(t, "UNSAT: no plan (solver=s1)", err.Error())

	bare := &ExecutionError{Code: ErrCodeXiFalse, Message: "dead"}
	assert.Equal(t, "XI_FALSE: dead", bare.Error())

	assert.True(t, IsExecutionError(err))
	assert.Equal(t, ErrCodeUnsat, ExecutionErrorCodeOf(err))
	assert.False(t, IsExecutionError(assert.AnError))
	assert.Empty(t, ExecutionErrorCodeOf(assert.AnError))
}

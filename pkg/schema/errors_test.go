package schema

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlowError_Format(t *testing.T) {
	err := NewError(ErrCodeValidation, "plan has no steps")
	assert.Equal(t, "[VALIDATION_ERROR] plan has no steps", err.Error())

	err = NewErrorf(ErrCodeUnknownDependency, "depends on unknown step: %s", "x").WithStep("b")
	assert.Equal(t, "[UNKNOWN_DEPENDENCY] step b: depends on unknown step: x", err.Error())
}

func TestFlowError_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	err := NewError(ErrCodeStore, "save failed").WithCause(cause)

	require.ErrorIs(t, err, cause)

	var ferr *FlowError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, ErrCodeStore, ferr.Code)
}

func TestFlowError_Details(t *testing.T) {
	err := NewError(ErrCodeExecution, "unresolved").
		WithDetails(map[string]any{"reference": "step_1.x"})
	assert.Equal(t, "step_1.x", err.Details["reference"])
}

package entity

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func strPtr(s string) *string { return &s }

func step(n int, typ StepType) WorkflowStep {
	return WorkflowStep{StepName: "step", StepNumber: n, DepartmentID: "finance", Type: typ}
}

func TestValidateSteps(t *testing.T) {
	tests := []struct {
		name    string
		steps   []WorkflowStep
		wantErr string
	}{
		{"single step", []WorkflowStep{step(1, StepTypeStandard)}, ""},
		{"unordered but contiguous", []WorkflowStep{step(2, StepTypeBudget), step(1, StepTypeStandard)}, ""},
		{"final last", []WorkflowStep{step(1, StepTypeStandard), step(2, StepTypeFinal)}, ""},
		{"empty", nil, "at least one step"},
		{"gap", []WorkflowStep{step(1, StepTypeStandard), step(3, StepTypeStandard)}, "contiguous"},
		{"zero based", []WorkflowStep{step(0, StepTypeStandard)}, "contiguous"},
		{"duplicate", []WorkflowStep{step(1, StepTypeStandard), step(1, StepTypeStandard)}, "duplicate"},
		{"final not last", []WorkflowStep{step(1, StepTypeFinal), step(2, StepTypeStandard)}, "must be the last"},
		{"unknown type", []WorkflowStep{step(1, StepType("vip"))}, "unknown step type"},
		{"missing department", []WorkflowStep{{StepName: "a", StepNumber: 1, Type: StepTypeStandard}}, "department_id"},
		{"missing name", []WorkflowStep{{StepNumber: 1, DepartmentID: "ops", Type: StepTypeStandard}}, "step_name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSteps(tt.steps)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, ErrValidation))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNormalizeSteps(t *testing.T) {
	steps := []WorkflowStep{
		{StepName: "  Review ", StepNumber: 1, DepartmentID: " ops ", ApproverUserID: strPtr("  ")},
		{StepName: "Sign", StepNumber: 2, DepartmentID: "finance", ApproverUserID: strPtr("U1"), Type: StepTypeFinal},
	}

	NormalizeSteps(steps)

	assert.Equal(t, "Review", steps[0].StepName)
	assert.Equal(t, "ops", steps[0].DepartmentID)
	assert.Equal(t, StepTypeStandard, steps[0].Type)
	assert.Nil(t, steps[0].ApproverUserID)
	approver, ok := steps[1].NamedApprover()
	assert.True(t, ok)
	assert.Equal(t, "U1", approver)
}

func TestWorkflowTemplate_StepIDsFollowStepNumber(t *testing.T) {
	tmpl := WorkflowTemplate{Steps: []WorkflowStep{
		{ID: "c", StepNumber: 3},
		{ID: "a", StepNumber: 1},
		{ID: "b", StepNumber: 2},
	}}

	assert.Equal(t, []string{"a", "b", "c"}, tmpl.StepIDs())
	assert.Equal(t, 3, LastStepNumber(tmpl.Steps))

	s, ok := tmpl.StepByNumber(2)
	assert.True(t, ok)
	assert.Equal(t, "b", s.ID)
	_, ok = tmpl.StepByNumber(4)
	assert.False(t, ok)
}

package entity

import (
	"sort"
	"strings"
	"time"
)

// WorkflowTemplate is the ordered approval chain used for one document type
type WorkflowTemplate struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	DocumentTypeID string         `json:"document_type_id"`
	Version        int            `json:"version"`
	Steps          []WorkflowStep `json:"steps"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      *time.Time     `json:"deleted_at"`
}

// WorkflowStep is one position in a template
type WorkflowStep struct {
	ID             string   `json:"id"`
	TemplateID     string   `json:"template_id"`
	StepName       string   `json:"step_name"`
	StepNumber     int      `json:"step_number"`
	DepartmentID   string   `json:"department_id"`
	ApproverUserID *string  `json:"approver_user_id"`
	Type           StepType `json:"type"`
	RequiresFile   bool     `json:"requires_file"`
	RequiresOTP    bool     `json:"requires_otp"`
}

// IsDeleted reports whether the template was soft-deleted
func (t *WorkflowTemplate) IsDeleted() bool {
	return t.DeletedAt != nil
}

// StepByNumber finds the step at the given position
func (t *WorkflowTemplate) StepByNumber(n int) (*WorkflowStep, bool) {
	return findStep(t.Steps, n)
}

// StepIDs returns step ids in step-number order
func (t *WorkflowTemplate) StepIDs() []string {
	steps := SortedSteps(t.Steps)
	ids := make([]string, len(steps))
	for i, s := range steps {
		ids[i] = s.ID
	}
	return ids
}

// NamedApprover returns the fixed approver, if the step has one
func (s *WorkflowStep) NamedApprover() (string, bool) {
	if s.ApproverUserID == nil || strings.TrimSpace(*s.ApproverUserID) == "" {
		return "", false
	}
	return *s.ApproverUserID, true
}

// SortedSteps returns a copy of steps ordered by step number
func SortedSteps(steps []WorkflowStep) []WorkflowStep {
	out := append([]WorkflowStep(nil), steps...)
	sort.Slice(out, func(i, j int) bool { return out[i].StepNumber < out[j].StepNumber })
	return out
}

// LastStepNumber returns the highest step number, 0 for an empty list
func LastStepNumber(steps []WorkflowStep) int {
	last := 0
	for _, s := range steps {
		if s.StepNumber > last {
			last = s.StepNumber
		}
	}
	return last
}

func findStep(steps []WorkflowStep, n int) (*WorkflowStep, bool) {
	for i := range steps {
		if steps[i].StepNumber == n {
			return &steps[i], true
		}
	}
	return nil, false
}

// NormalizeSteps trims text fields and clears blank approver ids in place.
func NormalizeSteps(steps []WorkflowStep) {
	for i := range steps {
		steps[i].StepName = strings.TrimSpace(steps[i].StepName)
		steps[i].DepartmentID = strings.TrimSpace(steps[i].DepartmentID)
		if steps[i].Type == "" {
			steps[i].Type = StepTypeStandard
		}
		if _, ok := steps[i].NamedApprover(); !ok {
			steps[i].ApproverUserID = nil
		}
	}
}

// ValidateSteps checks the shape of a step list: at least one step, numbers
// forming 1..n with no gaps or duplicates, required fields present, and a
// final-type step only in the last position.
func ValidateSteps(steps []WorkflowStep) error {
	if len(steps) == 0 {
		return Validationf("template must have at least one step")
	}

	seen := make(map[int]bool, len(steps))
	for _, s := range steps {
		if strings.TrimSpace(s.StepName) == "" {
			return Validationf("step %d: step_name is required", s.StepNumber)
		}
		if strings.TrimSpace(s.DepartmentID) == "" {
			return Validationf("step %d: department_id is required", s.StepNumber)
		}
		if !s.Type.IsValid() {
			return Validationf("step %d: unknown step type %q", s.StepNumber, s.Type)
		}
		if s.StepNumber < 1 || s.StepNumber > len(steps) {
			return Validationf("step numbers must be contiguous from 1, got %d for %d steps", s.StepNumber, len(steps))
		}
		if seen[s.StepNumber] {
			return Validationf("duplicate step number %d", s.StepNumber)
		}
		seen[s.StepNumber] = true
	}

	for _, s := range steps {
		if s.Type == StepTypeFinal && s.StepNumber != len(steps) {
			return Validationf("final step %q must be the last step", s.StepName)
		}
	}

	return nil
}

package entity

import "strings"

// StepType discriminates how a workflow step picks its approver
type StepType string

const (
	StepTypeStandard StepType = "standard"
	StepTypeBudget   StepType = "budget"
	StepTypeFinal    StepType = "final"
)

// IsValid returns true for the known step types
func (t StepType) IsValid() bool {
	switch t {
	case StepTypeStandard, StepTypeBudget, StepTypeFinal:
		return true
	}
	return false
}

// Decision is the outcome an approver records for a step
type Decision string

const (
	DecisionApproved Decision = "APPROVED"
	DecisionRejected Decision = "REJECTED"
)

// IsValid returns true for APPROVED and REJECTED
func (d Decision) IsValid() bool {
	return d == DecisionApproved || d == DecisionRejected
}

// ParseDecision accepts "approved"/"rejected" in any case.
func ParseDecision(s string) (Decision, error) {
	d := Decision(strings.ToUpper(strings.TrimSpace(s)))
	if !d.IsValid() {
		return "", Validationf("unknown decision %q", s)
	}
	return d, nil
}

// Document kinds known to the procurement platform. Other kinds are accepted
// as long as they are non-empty.
const (
	DocumentKindPurchaseRequest = "purchase_request"
	DocumentKindPurchaseOrder   = "purchase_order"
	DocumentKindReceipt         = "receipt"
)

package entity

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// BudgetApprovalRule names the approver for amounts inside [MinAmount, MaxAmount]
// within one department.
type BudgetApprovalRule struct {
	ID           string          `json:"id"`
	DepartmentID string          `json:"department_id"`
	ApproverID   string          `json:"approver_id"`
	MinAmount    decimal.Decimal `json:"min_amount"`
	MaxAmount    decimal.Decimal `json:"max_amount"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	DeletedAt    *time.Time      `json:"deleted_at"`
}

// IsDeleted reports whether the rule was soft-deleted
func (r *BudgetApprovalRule) IsDeleted() bool {
	return r.DeletedAt != nil
}

// Covers reports whether amount falls inside the inclusive range
func (r *BudgetApprovalRule) Covers(amount decimal.Decimal) bool {
	return amount.GreaterThanOrEqual(r.MinAmount) && amount.LessThanOrEqual(r.MaxAmount)
}

// Overlaps reports whether two rules of the same department share any amount
func (r *BudgetApprovalRule) Overlaps(other *BudgetApprovalRule) bool {
	if r.DepartmentID != other.DepartmentID {
		return false
	}
	return r.MinAmount.LessThanOrEqual(other.MaxAmount) && other.MinAmount.LessThanOrEqual(r.MaxAmount)
}

// Validate checks required fields and the range bounds
func (r *BudgetApprovalRule) Validate() error {
	if strings.TrimSpace(r.DepartmentID) == "" {
		return Validationf("department_id is required")
	}
	if strings.TrimSpace(r.ApproverID) == "" {
		return Validationf("approver_id is required")
	}
	if r.MinAmount.IsNegative() || r.MaxAmount.IsNegative() {
		return Validationf("amounts must not be negative")
	}
	if r.MinAmount.GreaterThan(r.MaxAmount) {
		return Validationf("min_amount %s exceeds max_amount %s", r.MinAmount, r.MaxAmount)
	}
	return nil
}

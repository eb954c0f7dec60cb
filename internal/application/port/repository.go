package port

import (
	"context"

	"github.com/garyjia/procure-approval/internal/domain/entity"
	"github.com/garyjia/procure-approval/internal/domain/workflow"
)

// Lookups return (nil, nil) when the row does not exist. Writes guarded by a
// version return an entity.ErrConflict error when the version moved.

// TemplateRepository defines persistence operations for WorkflowTemplate and its steps
type TemplateRepository interface {
	// Create inserts the template row and all of its steps
	Create(ctx context.Context, tmpl *entity.WorkflowTemplate) error
	GetByID(ctx context.Context, id string) (*entity.WorkflowTemplate, error)
	GetActiveByDocumentType(ctx context.Context, documentTypeID string) (*entity.WorkflowTemplate, error)
	List(ctx context.Context, params entity.ListParams) ([]*entity.WorkflowTemplate, int, error)

	// Update writes name, document type and deleted_at, and moves the version
	// from expectedVersion to expectedVersion+1
	Update(ctx context.Context, tmpl *entity.WorkflowTemplate, expectedVersion int) error

	// ReplaceSteps drops the current steps and inserts the given ones
	ReplaceSteps(ctx context.Context, templateID string, steps []entity.WorkflowStep) error

	// RenumberSteps assigns step_number = index+1 following orderedStepIDs
	RenumberSteps(ctx context.Context, templateID string, orderedStepIDs []string) error
}

// BudgetRuleRepository defines persistence operations for BudgetApprovalRule
type BudgetRuleRepository interface {
	Create(ctx context.Context, rule *entity.BudgetApprovalRule) error
	GetByID(ctx context.Context, id string) (*entity.BudgetApprovalRule, error)
	Update(ctx context.Context, rule *entity.BudgetApprovalRule) error
	ListActiveByDepartment(ctx context.Context, departmentID string) ([]*entity.BudgetApprovalRule, error)
	ListActive(ctx context.Context) ([]*entity.BudgetApprovalRule, error)
	List(ctx context.Context, params entity.ListParams) ([]*entity.BudgetApprovalRule, int, error)
}

// InstanceRepository defines persistence operations for ApprovalInstance and its records
type InstanceRepository interface {
	Create(ctx context.Context, inst *entity.ApprovalInstance) error
	GetByID(ctx context.Context, id string) (*entity.ApprovalInstance, error)

	// GetLatestForDocument returns the most recently opened instance for the document
	GetLatestForDocument(ctx context.Context, ref entity.DocumentRef) (*entity.ApprovalInstance, error)

	// Update writes pending step, status, amount and completion time under a version check
	Update(ctx context.Context, inst *entity.ApprovalInstance, expectedVersion int) error

	// AppendRecord inserts a decision; a second record for the same step is a conflict
	AppendRecord(ctx context.Context, rec *entity.StepApprovalRecord) error

	List(ctx context.Context, params entity.ListParams, status workflow.State) ([]*entity.ApprovalInstance, int, error)
	ListByStatus(ctx context.Context, status workflow.State) ([]*entity.ApprovalInstance, error)
}

// DepartmentRepository defines persistence operations for Department
type DepartmentRepository interface {
	Create(ctx context.Context, dept *entity.Department) error
	GetByID(ctx context.Context, id string) (*entity.Department, error)
	List(ctx context.Context, params entity.ListParams) ([]*entity.Department, int, error)
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

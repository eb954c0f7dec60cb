package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/procure-approval/internal/application/port"
	"github.com/garyjia/procure-approval/internal/domain/entity"
)

// BudgetRuleRepository implements port.BudgetRuleRepository.
// Amounts are stored as decimal strings so no precision is lost.
type BudgetRuleRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewBudgetRuleRepository creates a new budget rule repository
func NewBudgetRuleRepository(db *sql.DB, logger *zap.Logger) port.BudgetRuleRepository {
	return &BudgetRuleRepository{db: db, logger: logger}
}

const ruleColumns = `id, department_id, approver_id, min_amount, max_amount, created_at, updated_at, deleted_at`

// Create inserts a rule
func (r *BudgetRuleRepository) Create(ctx context.Context, rule *entity.BudgetApprovalRule) error {
	query := `INSERT INTO budget_approval_rules (` + ruleColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := executorFor(ctx, r.db).ExecContext(ctx, query,
		rule.ID,
		rule.DepartmentID,
		rule.ApproverID,
		rule.MinAmount.String(),
		rule.MaxAmount.String(),
		rule.CreatedAt,
		rule.UpdatedAt,
		nullTime(rule.DeletedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return entity.Conflictf("budget rule %s already exists", rule.ID)
		}
		r.logger.Error("Failed to create budget rule", zap.String("id", rule.ID), zap.Error(err))
		return fmt.Errorf("failed to create budget rule: %w", err)
	}
	return nil
}

// GetByID retrieves a rule, including soft-deleted ones
func (r *BudgetRuleRepository) GetByID(ctx context.Context, id string) (*entity.BudgetApprovalRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM budget_approval_rules WHERE id = ?`
	rule, err := scanRule(executorFor(ctx, r.db).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get budget rule", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get budget rule: %w", err)
	}
	return rule, nil
}

// Update rewrites every mutable column of the rule
func (r *BudgetRuleRepository) Update(ctx context.Context, rule *entity.BudgetApprovalRule) error {
	query := `
		UPDATE budget_approval_rules
		SET department_id = ?, approver_id = ?, min_amount = ?, max_amount = ?,
			updated_at = ?, deleted_at = ?
		WHERE id = ?
	`
	result, err := executorFor(ctx, r.db).ExecContext(ctx, query,
		rule.DepartmentID,
		rule.ApproverID,
		rule.MinAmount.String(),
		rule.MaxAmount.String(),
		rule.UpdatedAt,
		nullTime(rule.DeletedAt),
		rule.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update budget rule", zap.String("id", rule.ID), zap.Error(err))
		return fmt.Errorf("failed to update budget rule: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return entity.NotFoundf("budget rule %s", rule.ID)
	}
	return nil
}

// ListActiveByDepartment returns live rules of one department
func (r *BudgetRuleRepository) ListActiveByDepartment(ctx context.Context, departmentID string) ([]*entity.BudgetApprovalRule, error) {
	query := `
		SELECT ` + ruleColumns + ` FROM budget_approval_rules
		WHERE department_id = ? AND deleted_at IS NULL
		ORDER BY created_at, id
	`
	return r.query(ctx, query, departmentID)
}

// ListActive returns every live rule
func (r *BudgetRuleRepository) ListActive(ctx context.Context) ([]*entity.BudgetApprovalRule, error) {
	query := `
		SELECT ` + ruleColumns + ` FROM budget_approval_rules
		WHERE deleted_at IS NULL
		ORDER BY department_id, created_at, id
	`
	return r.query(ctx, query)
}

// List returns a page of rules. Search matches the department id exactly.
func (r *BudgetRuleRepository) List(ctx context.Context, params entity.ListParams) ([]*entity.BudgetApprovalRule, int, error) {
	where := ` WHERE 1=1`
	args := []interface{}{}
	if !params.IncludeDeleted {
		where += ` AND deleted_at IS NULL`
	}
	if params.Search != "" {
		where += ` AND department_id = ?`
		args = append(args, params.Search)
	}

	var total int
	if err := executorFor(ctx, r.db).QueryRowContext(ctx, `SELECT COUNT(*) FROM budget_approval_rules`+where, args...).Scan(&total); err != nil {
		r.logger.Error("Failed to count budget rules", zap.Error(err))
		return nil, 0, fmt.Errorf("failed to count budget rules: %w", err)
	}

	query := `SELECT ` + ruleColumns + ` FROM budget_approval_rules` + where +
		` ORDER BY department_id, created_at, id LIMIT ? OFFSET ?`
	rules, err := r.query(ctx, query, append(args, params.Limit, params.Offset())...)
	if err != nil {
		return nil, 0, err
	}
	return rules, total, nil
}

func (r *BudgetRuleRepository) query(ctx context.Context, query string, args ...interface{}) ([]*entity.BudgetApprovalRule, error) {
	rows, err := executorFor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to query budget rules", zap.Error(err))
		return nil, fmt.Errorf("failed to query budget rules: %w", err)
	}
	defer rows.Close()

	rules := make([]*entity.BudgetApprovalRule, 0)
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan budget rule: %w", err)
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func scanRule(row rowScanner) (*entity.BudgetApprovalRule, error) {
	var (
		rule      entity.BudgetApprovalRule
		deletedAt sql.NullTime
	)
	if err := row.Scan(
		&rule.ID,
		&rule.DepartmentID,
		&rule.ApproverID,
		&rule.MinAmount,
		&rule.MaxAmount,
		&rule.CreatedAt,
		&rule.UpdatedAt,
		&deletedAt,
	); err != nil {
		return nil, err
	}
	rule.DeletedAt = timePtr(deletedAt)
	return &rule, nil
}

// Verify interface compliance
var _ port.BudgetRuleRepository = (*BudgetRuleRepository)(nil)

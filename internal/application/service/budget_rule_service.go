package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/garyjia/procure-approval/internal/application/port"
	"github.com/garyjia/procure-approval/internal/domain/entity"
)

// BudgetRuleInput carries the editable fields of a budget rule
type BudgetRuleInput struct {
	DepartmentID string
	ApproverID   string
	MinAmount    decimal.Decimal
	MaxAmount    decimal.Decimal
}

// RuleOverlap pairs two active rules of one department whose ranges intersect
type RuleOverlap struct {
	DepartmentID string                     `json:"department_id"`
	First        *entity.BudgetApprovalRule `json:"first"`
	Second       *entity.BudgetApprovalRule `json:"second"`
}

// BudgetRuleService maintains department budget rules and resolves the
// approver for an amount. Active ranges inside a department never overlap, so
// resolution has at most one answer.
type BudgetRuleService interface {
	ResolveApprover(ctx context.Context, departmentID string, amount decimal.Decimal) (string, error)
	Create(ctx context.Context, in BudgetRuleInput) (*entity.BudgetApprovalRule, error)
	Update(ctx context.Context, id string, in BudgetRuleInput) (*entity.BudgetApprovalRule, error)
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*entity.BudgetApprovalRule, error)
	List(ctx context.Context, params entity.ListParams) (entity.Page[*entity.BudgetApprovalRule], error)
	FindOverlaps(ctx context.Context) ([]RuleOverlap, error)
}

type budgetRuleServiceImpl struct {
	ruleRepo  port.BudgetRuleRepository
	deptRepo  port.DepartmentRepository
	txManager port.TransactionManager
	logger    Logger
	now       func() time.Time
}

// NewBudgetRuleService creates a new BudgetRuleService
func NewBudgetRuleService(
	ruleRepo port.BudgetRuleRepository,
	deptRepo port.DepartmentRepository,
	txManager port.TransactionManager,
	logger Logger,
) BudgetRuleService {
	return &budgetRuleServiceImpl{
		ruleRepo:  ruleRepo,
		deptRepo:  deptRepo,
		txManager: txManager,
		logger:    logger,
		now:       utcNow,
	}
}

// ResolveApprover returns the approver of the single active rule covering
// amount. No match is NotFound; several matches (legacy data) is Conflict.
func (s *budgetRuleServiceImpl) ResolveApprover(ctx context.Context, departmentID string, amount decimal.Decimal) (string, error) {
	departmentID = strings.TrimSpace(departmentID)
	if departmentID == "" {
		return "", entity.Validationf("department_id is required")
	}
	if amount.IsNegative() {
		return "", entity.Validationf("amount must not be negative")
	}

	rules, err := s.ruleRepo.ListActiveByDepartment(ctx, departmentID)
	if err != nil {
		s.logger.Error("Failed to load budget rules", "error", err, "department_id", departmentID)
		return "", fmt.Errorf("load budget rules: %w", err)
	}

	var matches []*entity.BudgetApprovalRule
	for _, r := range rules {
		if r.Covers(amount) {
			matches = append(matches, r)
		}
	}

	switch len(matches) {
	case 0:
		return "", entity.NotFoundf("no budget rule in department %s covers amount %s", departmentID, amount)
	case 1:
		return matches[0].ApproverID, nil
	default:
		s.logger.Error("Ambiguous budget rules", "department_id", departmentID, "amount", amount.String(), "matches", len(matches))
		return "", entity.Conflictf("%d budget rules in department %s cover amount %s", len(matches), departmentID, amount)
	}
}

// Create adds a rule after checking it against the department's active ranges
func (s *budgetRuleServiceImpl) Create(ctx context.Context, in BudgetRuleInput) (*entity.BudgetApprovalRule, error) {
	now := s.now()
	rule := &entity.BudgetApprovalRule{
		ID:           uuid.NewString(),
		DepartmentID: strings.TrimSpace(in.DepartmentID),
		ApproverID:   strings.TrimSpace(in.ApproverID),
		MinAmount:    in.MinAmount,
		MaxAmount:    in.MaxAmount,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := rule.Validate(); err != nil {
		return nil, err
	}

	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.checkDepartment(txCtx, rule.DepartmentID); err != nil {
			return err
		}
		if err := s.checkOverlap(txCtx, rule); err != nil {
			return err
		}
		return s.ruleRepo.Create(txCtx, rule)
	})
	if err != nil {
		s.logger.Error("Failed to create budget rule", "error", err, "department_id", rule.DepartmentID)
		return nil, err
	}

	s.logger.Info("Budget rule created", "id", rule.ID, "department_id", rule.DepartmentID,
		"min_amount", rule.MinAmount.String(), "max_amount", rule.MaxAmount.String())
	return rule, nil
}

// Update replaces the editable fields of an active rule
func (s *budgetRuleServiceImpl) Update(ctx context.Context, id string, in BudgetRuleInput) (*entity.BudgetApprovalRule, error) {
	var rule *entity.BudgetApprovalRule
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		var err error
		rule, err = s.loadActive(txCtx, id)
		if err != nil {
			return err
		}

		rule.DepartmentID = strings.TrimSpace(in.DepartmentID)
		rule.ApproverID = strings.TrimSpace(in.ApproverID)
		rule.MinAmount = in.MinAmount
		rule.MaxAmount = in.MaxAmount
		rule.UpdatedAt = s.now()
		if err := rule.Validate(); err != nil {
			return err
		}
		if err := s.checkDepartment(txCtx, rule.DepartmentID); err != nil {
			return err
		}
		if err := s.checkOverlap(txCtx, rule); err != nil {
			return err
		}
		return s.ruleRepo.Update(txCtx, rule)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Budget rule updated", "id", id)
	return rule, nil
}

// Delete soft-deletes an active rule
func (s *budgetRuleServiceImpl) Delete(ctx context.Context, id string) error {
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		rule, err := s.loadActive(txCtx, id)
		if err != nil {
			return err
		}
		now := s.now()
		rule.DeletedAt = &now
		rule.UpdatedAt = now
		return s.ruleRepo.Update(txCtx, rule)
	})
	if err != nil {
		return err
	}

	s.logger.Info("Budget rule deleted", "id", id)
	return nil
}

// Get returns a rule by id, including soft-deleted ones
func (s *budgetRuleServiceImpl) Get(ctx context.Context, id string) (*entity.BudgetApprovalRule, error) {
	rule, err := s.ruleRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rule == nil {
		return nil, entity.NotFoundf("budget rule %s", id)
	}
	return rule, nil
}

// List returns a page of rules; Search filters by department id
func (s *budgetRuleServiceImpl) List(ctx context.Context, params entity.ListParams) (entity.Page[*entity.BudgetApprovalRule], error) {
	params = params.Normalize()
	items, total, err := s.ruleRepo.List(ctx, params)
	if err != nil {
		s.logger.Error("Failed to list budget rules", "error", err)
		return entity.Page[*entity.BudgetApprovalRule]{}, err
	}
	return entity.NewPage(items, total, params), nil
}

// FindOverlaps reports intersecting active ranges left over from data
// written before overlaps were rejected
func (s *budgetRuleServiceImpl) FindOverlaps(ctx context.Context) ([]RuleOverlap, error) {
	rules, err := s.ruleRepo.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("load budget rules: %w", err)
	}

	sort.Slice(rules, func(i, j int) bool {
		if rules[i].DepartmentID != rules[j].DepartmentID {
			return rules[i].DepartmentID < rules[j].DepartmentID
		}
		return rules[i].MinAmount.LessThan(rules[j].MinAmount)
	})

	overlaps := make([]RuleOverlap, 0)
	for i := 0; i < len(rules); i++ {
		for j := i + 1; j < len(rules) && rules[j].DepartmentID == rules[i].DepartmentID; j++ {
			if rules[i].Overlaps(rules[j]) {
				overlaps = append(overlaps, RuleOverlap{
					DepartmentID: rules[i].DepartmentID,
					First:        rules[i],
					Second:       rules[j],
				})
			}
		}
	}
	return overlaps, nil
}

func (s *budgetRuleServiceImpl) loadActive(ctx context.Context, id string) (*entity.BudgetApprovalRule, error) {
	rule, err := s.ruleRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get budget rule: %w", err)
	}
	if rule == nil {
		return nil, entity.NotFoundf("budget rule %s", id)
	}
	if rule.IsDeleted() {
		return nil, entity.AlreadyDeletedf("budget rule %s", id)
	}
	return rule, nil
}

func (s *budgetRuleServiceImpl) checkDepartment(ctx context.Context, departmentID string) error {
	dept, err := s.deptRepo.GetByID(ctx, departmentID)
	if err != nil {
		return fmt.Errorf("get department: %w", err)
	}
	if dept == nil || dept.IsDeleted() {
		return entity.Validationf("unknown department %s", departmentID)
	}
	return nil
}

func (s *budgetRuleServiceImpl) checkOverlap(ctx context.Context, rule *entity.BudgetApprovalRule) error {
	existing, err := s.ruleRepo.ListActiveByDepartment(ctx, rule.DepartmentID)
	if err != nil {
		return fmt.Errorf("load budget rules: %w", err)
	}
	for _, other := range existing {
		if other.ID == rule.ID {
			continue
		}
		if rule.Overlaps(other) {
			return entity.Conflictf("range %s-%s overlaps rule %s (%s-%s) in department %s",
				rule.MinAmount, rule.MaxAmount, other.ID, other.MinAmount, other.MaxAmount, rule.DepartmentID)
		}
	}
	return nil
}

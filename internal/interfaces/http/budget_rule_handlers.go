package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/garyjia/procure-approval/internal/application/service"
	"github.com/garyjia/procure-approval/internal/domain/entity"
	"github.com/garyjia/procure-approval/pkg/utils"
)

// BudgetRuleRequest represents the body of budget rule create and update.
// Amounts may be sent as JSON numbers or decimal strings.
type BudgetRuleRequest struct {
	DepartmentID string          `json:"department_id"`
	ApproverID   string          `json:"approver_id"`
	MinAmount    decimal.Decimal `json:"min_amount"`
	MaxAmount    decimal.Decimal `json:"max_amount"`
}

// ResolveResponse is the body of GET /api/v1/budget-rules/resolve
type ResolveResponse struct {
	DepartmentID string          `json:"department_id"`
	Amount       decimal.Decimal `json:"amount"`
	ApproverID   string          `json:"approver_id"`
}

func (r BudgetRuleRequest) input() service.BudgetRuleInput {
	return service.BudgetRuleInput{
		DepartmentID: strings.TrimSpace(r.DepartmentID),
		ApproverID:   strings.TrimSpace(r.ApproverID),
		MinAmount:    r.MinAmount,
		MaxAmount:    r.MaxAmount,
	}
}

// CreateBudgetRule handles POST /api/v1/budget-rules
func (h *Handlers) CreateBudgetRule(c *gin.Context) {
	var req BudgetRuleRequest
	if !h.bindJSON(c, "create budget rule", &req) {
		return
	}
	rule, err := h.services.BudgetRules.Create(c.Request.Context(), req.input())
	if err != nil {
		h.respondError(c, "create budget rule", err)
		return
	}
	respondOK(c, http.StatusCreated, rule)
}

// ListBudgetRules handles GET /api/v1/budget-rules. search filters by department.
func (h *Handlers) ListBudgetRules(c *gin.Context) {
	params, ok := h.listParams(c, "list budget rules")
	if !ok {
		return
	}
	page, err := h.services.BudgetRules.List(c.Request.Context(), params)
	if err != nil {
		h.respondError(c, "list budget rules", err)
		return
	}
	respondPage(c, page)
}

// GetBudgetRule handles GET /api/v1/budget-rules/:id
func (h *Handlers) GetBudgetRule(c *gin.Context) {
	rule, err := h.services.BudgetRules.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, "get budget rule", err)
		return
	}
	respondOK(c, http.StatusOK, rule)
}

// UpdateBudgetRule handles PUT /api/v1/budget-rules/:id
func (h *Handlers) UpdateBudgetRule(c *gin.Context) {
	var req BudgetRuleRequest
	if !h.bindJSON(c, "update budget rule", &req) {
		return
	}
	rule, err := h.services.BudgetRules.Update(c.Request.Context(), c.Param("id"), req.input())
	if err != nil {
		h.respondError(c, "update budget rule", err)
		return
	}
	respondOK(c, http.StatusOK, rule)
}

// DeleteBudgetRule handles DELETE /api/v1/budget-rules/:id
func (h *Handlers) DeleteBudgetRule(c *gin.Context) {
	if err := h.services.BudgetRules.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, "delete budget rule", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true})
}

// ResolveApprover handles GET /api/v1/budget-rules/resolve?department_id=&amount=
func (h *Handlers) ResolveApprover(c *gin.Context) {
	departmentID := strings.TrimSpace(c.Query("department_id"))
	if departmentID == "" {
		h.respondError(c, "resolve approver", entity.Validationf("department_id is required"))
		return
	}
	amount, err := utils.ParseAmount(c.Query("amount"))
	if err != nil {
		h.respondError(c, "resolve approver", entity.Validationf("%v", err))
		return
	}

	approver, err := h.services.BudgetRules.ResolveApprover(c.Request.Context(), departmentID, amount)
	if err != nil {
		h.respondError(c, "resolve approver", err)
		return
	}
	respondOK(c, http.StatusOK, ResolveResponse{
		DepartmentID: departmentID,
		Amount:       amount,
		ApproverID:   approver,
	})
}

// ListRuleOverlaps handles GET /api/v1/budget-rules/overlaps
func (h *Handlers) ListRuleOverlaps(c *gin.Context) {
	overlaps, err := h.services.BudgetRules.FindOverlaps(c.Request.Context())
	if err != nil {
		h.respondError(c, "find overlaps", err)
		return
	}
	respondOK(c, http.StatusOK, overlaps)
}

package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/procure-approval/internal/application/service"
	"github.com/garyjia/procure-approval/internal/domain/entity"
	"github.com/garyjia/procure-approval/pkg/utils"
)

// StepRequest is one workflow step in a create or replace request.
// ID is optional; when it names an existing step of the template the step
// keeps its identity.
type StepRequest struct {
	ID             string             `json:"id"`
	StepName       string             `json:"step_name"`
	StepNumber     int                `json:"step_number"`
	DepartmentID   string             `json:"department_id"`
	ApproverUserID *string            `json:"approver_user_id"`
	Type           string             `json:"type"`
	RequiresFile   utils.FlexibleBool `json:"requires_file"`
	RequiresOTP    utils.FlexibleBool `json:"requires_otp"`
}

// CreateWorkflowRequest represents POST /api/v1/workflows
type CreateWorkflowRequest struct {
	Name           string        `json:"name"`
	DocumentTypeID string        `json:"document_type_id"`
	Steps          []StepRequest `json:"steps"`
}

// UpdateWorkflowRequest represents PUT /api/v1/workflows/:id
type UpdateWorkflowRequest struct {
	Name           string `json:"name"`
	DocumentTypeID string `json:"document_type_id"`
}

// ReplaceStepsRequest represents PUT /api/v1/workflows/:id/steps
type ReplaceStepsRequest struct {
	Steps []StepRequest `json:"steps"`
}

// ReorderRequest represents POST /api/v1/workflows/:id/reorder
type ReorderRequest struct {
	StepIDs []string `json:"step_ids"`
}

func toSteps(in []StepRequest) []entity.WorkflowStep {
	steps := make([]entity.WorkflowStep, 0, len(in))
	for _, s := range in {
		steps = append(steps, entity.WorkflowStep{
			ID:             strings.TrimSpace(s.ID),
			StepName:       utils.SanitizeString(s.StepName),
			StepNumber:     s.StepNumber,
			DepartmentID:   strings.TrimSpace(s.DepartmentID),
			ApproverUserID: s.ApproverUserID,
			Type:           entity.StepType(strings.ToLower(strings.TrimSpace(s.Type))),
			RequiresFile:   bool(s.RequiresFile),
			RequiresOTP:    bool(s.RequiresOTP),
		})
	}
	return steps
}

// CreateWorkflow handles POST /api/v1/workflows
func (h *Handlers) CreateWorkflow(c *gin.Context) {
	var req CreateWorkflowRequest
	if !h.bindJSON(c, "create workflow", &req) {
		return
	}

	tmpl, err := h.services.Templates.Create(c.Request.Context(), service.CreateTemplateInput{
		Name:           utils.SanitizeString(req.Name),
		DocumentTypeID: strings.TrimSpace(req.DocumentTypeID),
		Steps:          toSteps(req.Steps),
	})
	if err != nil {
		h.respondError(c, "create workflow", err)
		return
	}
	respondOK(c, http.StatusCreated, tmpl)
}

// ListWorkflows handles GET /api/v1/workflows
func (h *Handlers) ListWorkflows(c *gin.Context) {
	params, ok := h.listParams(c, "list workflows")
	if !ok {
		return
	}
	page, err := h.services.Templates.List(c.Request.Context(), params)
	if err != nil {
		h.respondError(c, "list workflows", err)
		return
	}
	respondPage(c, page)
}

// GetWorkflow handles GET /api/v1/workflows/:id.
// Soft-deleted templates are returned with deleted_at set.
func (h *Handlers) GetWorkflow(c *gin.Context) {
	tmpl, err := h.services.Templates.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, "get workflow", err)
		return
	}
	respondOK(c, http.StatusOK, tmpl)
}

// UpdateWorkflow handles PUT /api/v1/workflows/:id
func (h *Handlers) UpdateWorkflow(c *gin.Context) {
	var req UpdateWorkflowRequest
	if !h.bindJSON(c, "update workflow", &req) {
		return
	}
	tmpl, err := h.services.Templates.Update(c.Request.Context(), c.Param("id"),
		utils.SanitizeString(req.Name), strings.TrimSpace(req.DocumentTypeID))
	if err != nil {
		h.respondError(c, "update workflow", err)
		return
	}
	respondOK(c, http.StatusOK, tmpl)
}

// ReplaceWorkflowSteps handles PUT /api/v1/workflows/:id/steps
func (h *Handlers) ReplaceWorkflowSteps(c *gin.Context) {
	var req ReplaceStepsRequest
	if !h.bindJSON(c, "replace steps", &req) {
		return
	}
	tmpl, err := h.services.Templates.ReplaceSteps(c.Request.Context(), c.Param("id"), toSteps(req.Steps))
	if err != nil {
		h.respondError(c, "replace steps", err)
		return
	}
	respondOK(c, http.StatusOK, tmpl)
}

// ReorderWorkflow handles POST /api/v1/workflows/:id/reorder
func (h *Handlers) ReorderWorkflow(c *gin.Context) {
	var req ReorderRequest
	if !h.bindJSON(c, "reorder workflow", &req) {
		return
	}
	if err := h.services.Templates.Reorder(c.Request.Context(), c.Param("id"), req.StepIDs); err != nil {
		h.respondError(c, "reorder workflow", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true})
}

// DeleteWorkflow handles DELETE /api/v1/workflows/:id
func (h *Handlers) DeleteWorkflow(c *gin.Context) {
	if err := h.services.Templates.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, "delete workflow", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true})
}

// RestoreWorkflow handles POST /api/v1/workflows/:id/restore
func (h *Handlers) RestoreWorkflow(c *gin.Context) {
	tmpl, err := h.services.Templates.Restore(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, "restore workflow", err)
		return
	}
	respondOK(c, http.StatusOK, tmpl)
}

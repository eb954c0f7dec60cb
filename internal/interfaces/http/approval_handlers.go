package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/garyjia/procure-approval/internal/application/service"
	"github.com/garyjia/procure-approval/internal/domain/entity"
	"github.com/garyjia/procure-approval/internal/domain/workflow"
	"github.com/garyjia/procure-approval/pkg/utils"
)

// SubmitApprovalRequest represents POST /api/v1/approvals, the call document
// services make when an approver acts on a document.
type SubmitApprovalRequest struct {
	DocumentID     string             `json:"document_id"`
	DocumentKind   string             `json:"document_kind"`
	DocumentTypeID string             `json:"document_type_id"`
	Amount         *decimal.Decimal   `json:"amount"`
	ActorUserID    string             `json:"actor_user_id"`
	Decision       string             `json:"decision"`
	AttachmentRef  *string            `json:"attached_file_reference"`
	OTPVerified    utils.FlexibleBool `json:"otp_verified"`
	Remark         *string            `json:"remark"`
	StepNumber     *int               `json:"step_number"`
}

// ApprovalListQuery adds the status filter to ListQuery
type ApprovalListQuery struct {
	Status string `form:"status"`
}

// SubmitApproval handles POST /api/v1/approvals
func (h *Handlers) SubmitApproval(c *gin.Context) {
	var req SubmitApprovalRequest
	if !h.bindJSON(c, "submit approval", &req) {
		return
	}

	decision, err := entity.ParseDecision(req.Decision)
	if err != nil {
		h.respondError(c, "submit approval", err)
		return
	}
	if req.Amount != nil && req.Amount.IsNegative() {
		h.respondError(c, "submit approval", entity.Validationf("amount must not be negative"))
		return
	}

	var remark *string
	if req.Remark != nil {
		r := utils.SanitizeString(*req.Remark)
		remark = &r
	}

	result, err := h.services.Approvals.SubmitApproval(c.Request.Context(), service.SubmitApprovalInput{
		Document: entity.DocumentRef{
			DocumentID:   strings.TrimSpace(req.DocumentID),
			DocumentKind: strings.TrimSpace(req.DocumentKind),
		},
		DocumentTypeID: strings.TrimSpace(req.DocumentTypeID),
		Amount:         req.Amount,
		ActorUserID:    strings.TrimSpace(req.ActorUserID),
		Decision:       decision,
		AttachmentRef:  req.AttachmentRef,
		OTPVerified:    bool(req.OTPVerified),
		Remark:         remark,
		StepNumber:     req.StepNumber,
	})
	if err != nil {
		h.respondError(c, "submit approval", err)
		return
	}

	h.logger.Info("Approval decision recorded",
		"instance_id", result.InstanceID,
		"document_id", req.DocumentID,
		"actor", req.ActorUserID,
		"status", result.Status.String(),
	)
	respondOK(c, http.StatusOK, result)
}

// ListApprovals handles GET /api/v1/approvals?status=
func (h *Handlers) ListApprovals(c *gin.Context) {
	params, ok := h.listParams(c, "list approvals")
	if !ok {
		return
	}
	var q ApprovalListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.respondError(c, "list approvals", entity.Validationf("invalid query parameters: %v", err))
		return
	}

	status := workflow.State(strings.ToUpper(strings.TrimSpace(q.Status)))
	page, err := h.services.Instances.List(c.Request.Context(), params, status)
	if err != nil {
		h.respondError(c, "list approvals", err)
		return
	}
	respondPage(c, page)
}

// GetApproval handles GET /api/v1/approvals/:id
func (h *Handlers) GetApproval(c *gin.Context) {
	inst, err := h.services.Instances.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, "get approval", err)
		return
	}
	respondOK(c, http.StatusOK, inst)
}

// PendingApprovals handles GET /api/v1/approvals/pending?approver_id=
func (h *Handlers) PendingApprovals(c *gin.Context) {
	items, err := h.services.Instances.PendingForApprover(c.Request.Context(), strings.TrimSpace(c.Query("approver_id")))
	if err != nil {
		h.respondError(c, "pending approvals", err)
		return
	}
	respondOK(c, http.StatusOK, items)
}

// GetDocumentApproval handles GET /api/v1/documents/:kind/:id/approval
func (h *Handlers) GetDocumentApproval(c *gin.Context) {
	result, err := h.services.Approvals.GetDocumentApproval(c.Request.Context(), entity.DocumentRef{
		DocumentID:   c.Param("id"),
		DocumentKind: c.Param("kind"),
	})
	if err != nil {
		h.respondError(c, "get document approval", err)
		return
	}
	respondOK(c, http.StatusOK, result)
}

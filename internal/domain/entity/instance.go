package entity

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/garyjia/procure-approval/internal/domain/workflow"
)

// DocumentRef identifies the business document an approval belongs to
type DocumentRef struct {
	DocumentID   string `json:"document_id"`
	DocumentKind string `json:"document_kind"`
}

// Validate checks that both parts of the reference are present
func (d DocumentRef) Validate() error {
	if strings.TrimSpace(d.DocumentID) == "" {
		return Validationf("document_id is required")
	}
	if strings.TrimSpace(d.DocumentKind) == "" {
		return Validationf("document_kind is required")
	}
	return nil
}

// ApprovalInstance is one document travelling through a snapshot of a template.
// Steps is copied from the template at open time and never changes afterwards.
type ApprovalInstance struct {
	ID                string               `json:"id"`
	Document          DocumentRef          `json:"document_ref"`
	DocumentTypeID    string               `json:"document_type_id"`
	TemplateID        string               `json:"template_id"`
	TemplateVersion   int                  `json:"template_version"`
	Steps             []WorkflowStep       `json:"steps"`
	PendingStepNumber int                  `json:"pending_step_number"`
	Status            workflow.State       `json:"status"`
	Amount            *decimal.Decimal     `json:"amount,omitempty"`
	OpenedBy          string               `json:"opened_by"`
	Version           int                  `json:"version"`
	Records           []StepApprovalRecord `json:"history"`
	CreatedAt         time.Time            `json:"created_at"`
	UpdatedAt         time.Time            `json:"updated_at"`
	CompletedAt       *time.Time           `json:"completed_at,omitempty"`
}

// StepApprovalRecord is the immutable trace of one decision
type StepApprovalRecord struct {
	ID            string           `json:"id"`
	InstanceID    string           `json:"instance_id"`
	StepNumber    int              `json:"step_number"`
	ActorUserID   string           `json:"actor_user_id"`
	Decision      Decision         `json:"decision"`
	AttachmentRef *string          `json:"attached_file_reference,omitempty"`
	OTPVerified   bool             `json:"otp_verified"`
	Amount        *decimal.Decimal `json:"amount,omitempty"`
	DecidedAt     time.Time        `json:"decided_at"`
	Remark        *string          `json:"remark,omitempty"`
}

// IsTerminal reports whether the instance accepts no more decisions
func (i *ApprovalInstance) IsTerminal() bool {
	return i.Status.IsTerminal()
}

// PendingStep returns the snapshotted step awaiting a decision
func (i *ApprovalInstance) PendingStep() (*WorkflowStep, bool) {
	return findStep(i.Steps, i.PendingStepNumber)
}

// Position reports the pending step against the snapshot length
func (i *ApprovalInstance) Position() workflow.StepPosition {
	return workflow.StepPosition{
		Pending: i.PendingStepNumber,
		Last:    LastStepNumber(i.Steps),
	}
}

// RecordFor returns the decision recorded for a step, if any
func (i *ApprovalInstance) RecordFor(stepNumber int) (*StepApprovalRecord, bool) {
	for idx := range i.Records {
		if i.Records[idx].StepNumber == stepNumber {
			return &i.Records[idx], true
		}
	}
	return nil, false
}

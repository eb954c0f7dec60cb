package service

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/garyjia/procure-approval/internal/application/port"
	"github.com/garyjia/procure-approval/internal/domain/entity"
	"github.com/garyjia/procure-approval/internal/domain/event"
	"github.com/garyjia/procure-approval/internal/domain/workflow"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// SubmitApprovalInput is a document service's request to act on its document's approval
type SubmitApprovalInput struct {
	Document       entity.DocumentRef
	DocumentTypeID string
	Amount         *decimal.Decimal
	ActorUserID    string
	Decision       entity.Decision
	AttachmentRef  *string
	OTPVerified    bool
	Remark         *string
	StepNumber     *int
}

// ApprovalResult is what document services see of an approval.
// History is only filled once the instance is terminal; Finalize is true
// only when the document has been fully approved.
type ApprovalResult struct {
	InstanceID        string                      `json:"instance_id"`
	Status            workflow.State              `json:"status"`
	PendingStepNumber *int                        `json:"pending_step_number,omitempty"`
	History           []entity.StepApprovalRecord `json:"history,omitempty"`
	Finalize          bool                        `json:"finalize"`
}

// ApprovalService is the single entry point document services use
type ApprovalService interface {
	SubmitApproval(ctx context.Context, in SubmitApprovalInput) (*ApprovalResult, error)
	GetDocumentApproval(ctx context.Context, ref entity.DocumentRef) (*ApprovalResult, error)
}

type approvalServiceImpl struct {
	tracker   *tracker
	templates TemplateService
	txManager port.TransactionManager
	events    EventPublisher
	logger    Logger
}

// NewApprovalService creates a new ApprovalService
func NewApprovalService(
	instanceRepo port.InstanceRepository,
	templateRepo port.TemplateRepository,
	templates TemplateService,
	resolver BudgetRuleService,
	txManager port.TransactionManager,
	events EventPublisher,
	logger Logger,
) ApprovalService {
	return &approvalServiceImpl{
		tracker:   newTracker(instanceRepo, templateRepo, resolver),
		templates: templates,
		txManager: txManager,
		events:    events,
		logger:    logger,
	}
}

// SubmitApproval finds the document's open instance, opening one on the active
// template for the document type when there is none or the last one was
// rejected, and applies the decision. Opening and deciding commit together.
func (s *approvalServiceImpl) SubmitApproval(ctx context.Context, in SubmitApprovalInput) (*ApprovalResult, error) {
	if err := in.Document.Validate(); err != nil {
		return nil, err
	}

	var (
		inst   *entity.ApprovalInstance
		opened *event.Event
		evt    *event.Event
	)
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		latest, err := s.tracker.instanceRepo.GetLatestForDocument(txCtx, in.Document)
		if err != nil {
			return err
		}

		// A retried terminal decision is answered from the record it left
		// instead of being refused or opening a new instance.
		if latest != nil && latest.IsTerminal() && terminalReplay(latest, in) {
			inst = latest
			return nil
		}

		current := latest
		switch {
		case latest != nil && latest.Status == workflow.StateApproved:
			return entity.Conflictf("document %s/%s already approved", in.Document.DocumentKind, in.Document.DocumentID)
		case latest == nil || latest.Status == workflow.StateRejected:
			docType := strings.TrimSpace(in.DocumentTypeID)
			if docType == "" {
				return entity.Validationf("document_type_id is required to open an approval")
			}
			tmpl, err := s.templates.GetActiveForDocumentType(txCtx, docType)
			if err != nil {
				return err
			}
			current, opened, err = s.tracker.open(txCtx, in.Document, tmpl.ID, in.ActorUserID, in.Amount)
			if err != nil {
				return err
			}
		}

		inst, evt, err = s.tracker.decide(txCtx, DecideInput{
			InstanceID:    current.ID,
			ActorUserID:   in.ActorUserID,
			Decision:      in.Decision,
			AttachmentRef: in.AttachmentRef,
			OTPVerified:   in.OTPVerified,
			Amount:        in.Amount,
			Remark:        in.Remark,
			StepNumber:    in.StepNumber,
		})
		return err
	})
	if err != nil {
		if kind := entity.KindOf(err); kind == entity.KindInternal {
			s.logger.Error("Failed to submit approval", "error", err, "document_id", in.Document.DocumentID)
		} else {
			s.logger.Info("Approval submission refused", "kind", kind, "reason", err.Error(), "document_id", in.Document.DocumentID)
		}
		return nil, err
	}

	publish(ctx, s.events, s.logger, opened)
	publish(ctx, s.events, s.logger, evt)

	if evt == nil {
		s.logger.Info("Approval submission replayed", "id", inst.ID, "document_id", in.Document.DocumentID, "status", inst.Status)
		return toResult(inst), nil
	}
	s.logger.Info("Approval submitted", "id", inst.ID, "document_id", in.Document.DocumentID, "status", inst.Status)
	return toResult(inst), nil
}

// terminalReplay reports whether in repeats a decision recorded on the
// terminal instance. For a rejected instance only the rejecting decision
// counts: an earlier approval step may legitimately be submitted again on a
// reopened instance.
func terminalReplay(latest *entity.ApprovalInstance, in SubmitApprovalInput) bool {
	replay, err := replayOf(latest, in.StepNumber, in.ActorUserID, in.Decision)
	if err != nil || !replay {
		return false
	}
	if latest.Status == workflow.StateRejected {
		last := latest.Records[len(latest.Records)-1]
		return last.StepNumber == *in.StepNumber
	}
	return true
}

// GetDocumentApproval reports the latest approval of a document
func (s *approvalServiceImpl) GetDocumentApproval(ctx context.Context, ref entity.DocumentRef) (*ApprovalResult, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	inst, err := s.tracker.instanceRepo.GetLatestForDocument(ctx, ref)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return nil, entity.NotFoundf("no approval for document %s/%s", ref.DocumentKind, ref.DocumentID)
	}
	return toResult(inst), nil
}

func toResult(inst *entity.ApprovalInstance) *ApprovalResult {
	res := &ApprovalResult{
		InstanceID: inst.ID,
		Status:     inst.Status,
	}
	if inst.IsTerminal() {
		res.History = inst.Records
	} else {
		pending := inst.PendingStepNumber
		res.PendingStepNumber = &pending
	}
	res.Finalize = inst.Status == workflow.StateApproved
	return res
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/garyjia/procure-approval/internal/application/port"
	"github.com/garyjia/procure-approval/internal/domain/entity"
	"github.com/garyjia/procure-approval/internal/domain/event"
	"github.com/garyjia/procure-approval/internal/domain/workflow"
)

// DecideInput is one approver action against the pending step of an instance.
// StepNumber, when set, makes the call safe to retry: replaying a decision
// already recorded for that step returns the instance unchanged.
type DecideInput struct {
	InstanceID    string
	ActorUserID   string
	Decision      entity.Decision
	AttachmentRef *string
	OTPVerified   bool
	Amount        *decimal.Decimal
	Remark        *string
	StepNumber    *int
}

// EventPublisher receives approval events after their transaction commits
type EventPublisher interface {
	Dispatch(ctx context.Context, evt *event.Event) error
}

// tracker holds the state transitions shared by InstanceService and the
// document facade. Its methods expect to run inside a transaction and return
// the event to publish once that transaction commits.
type tracker struct {
	instanceRepo port.InstanceRepository
	templateRepo port.TemplateRepository
	resolver     BudgetRuleService
	now          func() time.Time
}

func (t *tracker) open(ctx context.Context, ref entity.DocumentRef, templateID, openedBy string, amount *decimal.Decimal) (*entity.ApprovalInstance, *event.Event, error) {
	if err := ref.Validate(); err != nil {
		return nil, nil, err
	}
	if amount != nil && amount.IsNegative() {
		return nil, nil, entity.Validationf("amount must not be negative")
	}

	tmpl, err := t.templateRepo.GetByID(ctx, templateID)
	if err != nil {
		return nil, nil, fmt.Errorf("get template: %w", err)
	}
	if tmpl == nil {
		return nil, nil, entity.NotFoundf("workflow template %s", templateID)
	}
	if tmpl.IsDeleted() {
		return nil, nil, entity.AlreadyDeletedf("workflow template %s", templateID)
	}
	if len(tmpl.Steps) == 0 {
		return nil, nil, entity.Validationf("workflow template %s has no steps", templateID)
	}

	latest, err := t.instanceRepo.GetLatestForDocument(ctx, ref)
	if err != nil {
		return nil, nil, fmt.Errorf("get latest instance: %w", err)
	}
	if latest != nil && latest.Status == workflow.StateInProgress {
		return nil, nil, entity.Conflictf("document %s/%s already has open approval %s", ref.DocumentKind, ref.DocumentID, latest.ID)
	}

	now := t.now()
	inst := &entity.ApprovalInstance{
		ID:                uuid.NewString(),
		Document:          ref,
		DocumentTypeID:    tmpl.DocumentTypeID,
		TemplateID:        tmpl.ID,
		TemplateVersion:   tmpl.Version,
		Steps:             entity.SortedSteps(tmpl.Steps),
		PendingStepNumber: 1,
		Status:            workflow.StateInProgress,
		Amount:            amount,
		OpenedBy:          strings.TrimSpace(openedBy),
		Version:           1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := t.instanceRepo.Create(ctx, inst); err != nil {
		return nil, nil, err
	}

	evt := event.NewEvent(event.TypeApprovalOpened, inst.ID, basePayload(inst))
	return inst, evt, nil
}

// decide applies one decision. A nil event with a nil error means the call
// replayed an already recorded decision.
func (t *tracker) decide(ctx context.Context, in DecideInput) (*entity.ApprovalInstance, *event.Event, error) {
	actor := strings.TrimSpace(in.ActorUserID)
	if actor == "" {
		return nil, nil, entity.Validationf("actor_user_id is required")
	}
	if !in.Decision.IsValid() {
		return nil, nil, entity.Validationf("unknown decision %q", in.Decision)
	}

	inst, err := t.instanceRepo.GetByID(ctx, in.InstanceID)
	if err != nil {
		return nil, nil, fmt.Errorf("get instance: %w", err)
	}
	if inst == nil {
		return nil, nil, entity.NotFoundf("approval instance %s", in.InstanceID)
	}

	if replay, err := replayOf(inst, in.StepNumber, actor, in.Decision); replay || err != nil {
		if err != nil {
			return nil, nil, err
		}
		return inst, nil, nil
	}
	if inst.IsTerminal() {
		return nil, nil, entity.Conflictf("approval %s is already %s", inst.ID, inst.Status)
	}
	if in.StepNumber != nil && *in.StepNumber != inst.PendingStepNumber {
		return nil, nil, entity.Conflictf("step %d is not pending on approval %s (pending step %d)", *in.StepNumber, inst.ID, inst.PendingStepNumber)
	}

	step, ok := inst.PendingStep()
	if !ok {
		return nil, nil, entity.Conflictf("approval %s has no step %d", inst.ID, inst.PendingStepNumber)
	}

	attachment := trimmedOrNil(in.AttachmentRef)
	if step.RequiresFile && attachment == nil {
		return nil, nil, entity.Validationf("file required")
	}
	if step.RequiresOTP && !in.OTPVerified {
		return nil, nil, entity.Validationf("otp required")
	}

	amount := inst.Amount
	if in.Amount != nil {
		if in.Amount.IsNegative() {
			return nil, nil, entity.Validationf("amount must not be negative")
		}
		if inst.Amount != nil && !inst.Amount.Equal(*in.Amount) {
			return nil, nil, entity.Validationf("amount %s differs from amount %s already set on approval %s", in.Amount.String(), inst.Amount.String(), inst.ID)
		}
		amount = in.Amount
	}
	if err := t.authorize(ctx, step, actor, amount); err != nil {
		return nil, nil, err
	}

	machine := workflow.NewApprovalMachine(inst.Status, inst.Position())
	trigger := workflow.TriggerApprove
	if in.Decision == entity.DecisionRejected {
		trigger = workflow.TriggerReject
	}
	if err := machine.Fire(ctx, trigger); err != nil {
		if errors.Is(err, workflow.ErrInvalidTransition) || errors.Is(err, workflow.ErrGuardFailed) {
			return nil, nil, entity.Conflictf("approval %s cannot %s: %v", inst.ID, strings.ToLower(trigger.String()), err)
		}
		return nil, nil, err
	}

	now := t.now()
	rec := entity.StepApprovalRecord{
		ID:            uuid.NewString(),
		InstanceID:    inst.ID,
		StepNumber:    step.StepNumber,
		ActorUserID:   actor,
		Decision:      in.Decision,
		AttachmentRef: attachment,
		OTPVerified:   in.OTPVerified,
		Amount:        amount,
		DecidedAt:     now,
		Remark:        trimmedOrNil(in.Remark),
	}
	if err := t.instanceRepo.AppendRecord(ctx, &rec); err != nil {
		return nil, nil, err
	}

	decidedStep := inst.PendingStepNumber
	inst.Status = machine.State()
	if inst.Status == workflow.StateInProgress {
		inst.PendingStepNumber++
	}
	if inst.IsTerminal() {
		inst.CompletedAt = &now
	}
	inst.Amount = amount
	inst.UpdatedAt = now
	inst.Records = append(inst.Records, rec)

	expected := inst.Version
	if err := t.instanceRepo.Update(ctx, inst, expected); err != nil {
		return nil, nil, err
	}
	inst.Version = expected + 1

	payload := basePayload(inst)
	payload["step_number"] = decidedStep
	payload["actor_user_id"] = actor
	payload["decision"] = string(in.Decision)

	var evt *event.Event
	switch inst.Status {
	case workflow.StateApproved:
		payload["history"] = inst.Records
		payload["finalize"] = true
		evt = event.NewEvent(event.TypeApprovalApproved, inst.ID, payload)
	case workflow.StateRejected:
		payload["history"] = inst.Records
		evt = event.NewEvent(event.TypeApprovalRejected, inst.ID, payload)
	default:
		evt = event.NewEvent(event.TypeApprovalAdvanced, inst.ID, payload)
	}
	return inst, evt, nil
}

// replayOf reports whether a decision keyed by stepNumber is already recorded
// on inst by the same actor with the same outcome. A record for that step by
// anyone else, or with the other outcome, is a Conflict.
func replayOf(inst *entity.ApprovalInstance, stepNumber *int, actor string, decision entity.Decision) (bool, error) {
	if stepNumber == nil {
		return false, nil
	}
	rec, ok := inst.RecordFor(*stepNumber)
	if !ok {
		return false, nil
	}
	if rec.ActorUserID == strings.TrimSpace(actor) && rec.Decision == decision {
		return true, nil
	}
	return false, entity.Conflictf("step %d of approval %s was already decided", *stepNumber, inst.ID)
}

// authorize checks the actor against the step. Budget steps route through the
// resolver, which takes precedence over any fixed approver on the step. An
// amount no rule covers cannot be routed and is a validation failure here.
func (t *tracker) authorize(ctx context.Context, step *entity.WorkflowStep, actor string, amount *decimal.Decimal) error {
	if step.Type == entity.StepTypeBudget {
		if amount == nil {
			return entity.Validationf("amount required for budget step %d", step.StepNumber)
		}
		approver, err := t.resolver.ResolveApprover(ctx, step.DepartmentID, *amount)
		if errors.Is(err, entity.ErrNotFound) {
			return entity.Validationf("amount %s is outside every budget rule of department %s", amount.String(), step.DepartmentID)
		}
		if err != nil {
			return err
		}
		if approver != actor {
			return entity.Forbiddenf("user %s is not the budget approver for step %d", actor, step.StepNumber)
		}
		return nil
	}

	if approver, ok := step.NamedApprover(); ok && approver != actor {
		return entity.Forbiddenf("user %s is not the approver for step %d", actor, step.StepNumber)
	}
	return nil
}

// approverFor names who may act on the pending step, "" when anyone may
func (t *tracker) approverFor(ctx context.Context, inst *entity.ApprovalInstance) (string, error) {
	step, ok := inst.PendingStep()
	if !ok {
		return "", nil
	}
	if step.Type == entity.StepTypeBudget {
		if inst.Amount == nil {
			return "", nil
		}
		return t.resolver.ResolveApprover(ctx, step.DepartmentID, *inst.Amount)
	}
	approver, _ := step.NamedApprover()
	return approver, nil
}

func basePayload(inst *entity.ApprovalInstance) map[string]interface{} {
	payload := map[string]interface{}{
		"document_id":         inst.Document.DocumentID,
		"document_kind":       inst.Document.DocumentKind,
		"document_type_id":    inst.DocumentTypeID,
		"template_id":         inst.TemplateID,
		"status":              inst.Status.String(),
		"pending_step_number": inst.PendingStepNumber,
	}
	if inst.OpenedBy != "" {
		payload["opened_by"] = inst.OpenedBy
	}
	if inst.Amount != nil {
		payload["amount"] = inst.Amount.String()
	}
	return payload
}

func trimmedOrNil(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

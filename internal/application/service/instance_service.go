package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/garyjia/procure-approval/internal/application/port"
	"github.com/garyjia/procure-approval/internal/domain/entity"
	"github.com/garyjia/procure-approval/internal/domain/event"
	"github.com/garyjia/procure-approval/internal/domain/workflow"
)

// InstanceService attaches templates to documents and moves each instance
// through its steps strictly in order.
type InstanceService interface {
	Open(ctx context.Context, ref entity.DocumentRef, templateID, openedBy string, amount *decimal.Decimal) (*entity.ApprovalInstance, error)
	Decide(ctx context.Context, in DecideInput) (*entity.ApprovalInstance, error)
	Get(ctx context.Context, id string) (*entity.ApprovalInstance, error)
	FindForDocument(ctx context.Context, ref entity.DocumentRef) (*entity.ApprovalInstance, error)
	List(ctx context.Context, params entity.ListParams, status workflow.State) (entity.Page[*entity.ApprovalInstance], error)
	PendingForApprover(ctx context.Context, userID string) ([]*entity.ApprovalInstance, error)
}

type instanceServiceImpl struct {
	tracker   *tracker
	txManager port.TransactionManager
	events    EventPublisher
	logger    Logger
}

// NewInstanceService creates a new InstanceService. events may be nil.
func NewInstanceService(
	instanceRepo port.InstanceRepository,
	templateRepo port.TemplateRepository,
	resolver BudgetRuleService,
	txManager port.TransactionManager,
	events EventPublisher,
	logger Logger,
) InstanceService {
	return &instanceServiceImpl{
		tracker:   newTracker(instanceRepo, templateRepo, resolver),
		txManager: txManager,
		events:    events,
		logger:    logger,
	}
}

func newTracker(instanceRepo port.InstanceRepository, templateRepo port.TemplateRepository, resolver BudgetRuleService) *tracker {
	return &tracker{
		instanceRepo: instanceRepo,
		templateRepo: templateRepo,
		resolver:     resolver,
		now:          utcNow,
	}
}

// Open starts a new instance on a snapshot of the template
func (s *instanceServiceImpl) Open(ctx context.Context, ref entity.DocumentRef, templateID, openedBy string, amount *decimal.Decimal) (*entity.ApprovalInstance, error) {
	var (
		inst *entity.ApprovalInstance
		evt  *event.Event
	)
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		var err error
		inst, evt, err = s.tracker.open(txCtx, ref, templateID, openedBy, amount)
		return err
	})
	if err != nil {
		s.logger.Error("Failed to open approval", "error", err, "document_id", ref.DocumentID, "template_id", templateID)
		return nil, err
	}

	s.logger.Info("Approval opened", "id", inst.ID, "document_id", ref.DocumentID, "template_id", templateID)
	publish(ctx, s.events, s.logger, evt)
	return inst, nil
}

// Decide records a decision on the pending step
func (s *instanceServiceImpl) Decide(ctx context.Context, in DecideInput) (*entity.ApprovalInstance, error) {
	var (
		inst *entity.ApprovalInstance
		evt  *event.Event
	)
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		var err error
		inst, evt, err = s.tracker.decide(txCtx, in)
		return err
	})
	if err != nil {
		s.logger.Error("Failed to decide approval step", "error", err, "id", in.InstanceID, "actor", in.ActorUserID)
		return nil, err
	}

	s.logger.Info("Approval step decided", "id", inst.ID, "status", inst.Status, "pending_step_number", inst.PendingStepNumber)
	publish(ctx, s.events, s.logger, evt)
	return inst, nil
}

// Get returns an instance with its full decision history
func (s *instanceServiceImpl) Get(ctx context.Context, id string) (*entity.ApprovalInstance, error) {
	inst, err := s.tracker.instanceRepo.GetByID(ctx, id)
	if err != nil {
		s.logger.Error("Failed to get approval", "error", err, "id", id)
		return nil, err
	}
	if inst == nil {
		return nil, entity.NotFoundf("approval instance %s", id)
	}
	return inst, nil
}

// FindForDocument returns the latest instance opened for the document
func (s *instanceServiceImpl) FindForDocument(ctx context.Context, ref entity.DocumentRef) (*entity.ApprovalInstance, error) {
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
	return inst, nil
}

// List returns a page of instances, optionally filtered by status
func (s *instanceServiceImpl) List(ctx context.Context, params entity.ListParams, status workflow.State) (entity.Page[*entity.ApprovalInstance], error) {
	if status != "" && !status.IsValid() {
		return entity.Page[*entity.ApprovalInstance]{}, entity.Validationf("unknown status %q", status)
	}
	params = params.Normalize()
	items, total, err := s.tracker.instanceRepo.List(ctx, params, status)
	if err != nil {
		s.logger.Error("Failed to list approvals", "error", err)
		return entity.Page[*entity.ApprovalInstance]{}, err
	}
	return entity.NewPage(items, total, params), nil
}

// PendingForApprover lists open instances whose pending step the user may decide.
// Steps open to anyone are not included.
func (s *instanceServiceImpl) PendingForApprover(ctx context.Context, userID string) ([]*entity.ApprovalInstance, error) {
	if userID == "" {
		return nil, entity.Validationf("approver_id is required")
	}
	open, err := s.tracker.instanceRepo.ListByStatus(ctx, workflow.StateInProgress)
	if err != nil {
		return nil, err
	}

	result := make([]*entity.ApprovalInstance, 0)
	for _, inst := range open {
		approver, err := s.tracker.approverFor(ctx, inst)
		if err != nil {
			s.logger.Info("Cannot resolve approver for pending step", "id", inst.ID, "error", err)
			continue
		}
		if approver == userID {
			result = append(result, inst)
		}
	}
	return result, nil
}

// publish hands the event to the dispatcher. Failures are logged only: the
// state change has already committed.
func publish(ctx context.Context, events EventPublisher, logger Logger, evt *event.Event) {
	if events == nil || evt == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := events.Dispatch(pubCtx, evt); err != nil {
		logger.Error("Failed to publish approval event", "error", err, "event_type", evt.Type, "instance_id", evt.InstanceID)
	}
}

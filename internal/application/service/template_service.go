package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/garyjia/procure-approval/internal/application/port"
	"github.com/garyjia/procure-approval/internal/domain/entity"
)

// CreateTemplateInput carries the fields of a new workflow template
type CreateTemplateInput struct {
	Name           string
	DocumentTypeID string
	Steps          []entity.WorkflowStep
}

// TemplateService owns workflow templates: one active template per document
// type, each an ordered, versioned list of steps.
type TemplateService interface {
	Create(ctx context.Context, in CreateTemplateInput) (*entity.WorkflowTemplate, error)
	Update(ctx context.Context, id, name, documentTypeID string) (*entity.WorkflowTemplate, error)
	ReplaceSteps(ctx context.Context, id string, steps []entity.WorkflowStep) (*entity.WorkflowTemplate, error)
	Reorder(ctx context.Context, id string, orderedStepIDs []string) error
	Delete(ctx context.Context, id string) error
	Restore(ctx context.Context, id string) (*entity.WorkflowTemplate, error)
	Get(ctx context.Context, id string) (*entity.WorkflowTemplate, error)
	GetActiveForDocumentType(ctx context.Context, documentTypeID string) (*entity.WorkflowTemplate, error)
	List(ctx context.Context, params entity.ListParams) (entity.Page[*entity.WorkflowTemplate], error)
}

type templateServiceImpl struct {
	templateRepo port.TemplateRepository
	deptRepo     port.DepartmentRepository
	txManager    port.TransactionManager
	logger       Logger
	now          func() time.Time
}

// NewTemplateService creates a new TemplateService
func NewTemplateService(
	templateRepo port.TemplateRepository,
	deptRepo port.DepartmentRepository,
	txManager port.TransactionManager,
	logger Logger,
) TemplateService {
	return &templateServiceImpl{
		templateRepo: templateRepo,
		deptRepo:     deptRepo,
		txManager:    txManager,
		logger:       logger,
		now:          utcNow,
	}
}

// Create validates and persists a template with its steps in one transaction
func (s *templateServiceImpl) Create(ctx context.Context, in CreateTemplateInput) (*entity.WorkflowTemplate, error) {
	name := strings.TrimSpace(in.Name)
	docType := strings.TrimSpace(in.DocumentTypeID)
	if name == "" {
		return nil, entity.Validationf("name is required")
	}
	if docType == "" {
		return nil, entity.Validationf("document_type_id is required")
	}

	steps := append([]entity.WorkflowStep(nil), in.Steps...)
	entity.NormalizeSteps(steps)
	if err := entity.ValidateSteps(steps); err != nil {
		return nil, err
	}

	now := s.now()
	tmpl := &entity.WorkflowTemplate{
		ID:             uuid.NewString(),
		Name:           name,
		DocumentTypeID: docType,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	tmpl.Steps = s.assignStepIDs(tmpl.ID, steps, nil)

	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.checkDepartments(txCtx, tmpl.Steps); err != nil {
			return err
		}
		if err := s.ensureDocumentTypeFree(txCtx, docType, ""); err != nil {
			return err
		}
		return s.templateRepo.Create(txCtx, tmpl)
	})
	if err != nil {
		s.logger.Error("Failed to create workflow template", "error", err, "document_type_id", docType)
		return nil, err
	}

	s.logger.Info("Workflow template created", "id", tmpl.ID, "document_type_id", docType, "steps", len(tmpl.Steps))
	return tmpl, nil
}

// Update changes the name and document type of an active template
func (s *templateServiceImpl) Update(ctx context.Context, id, name, documentTypeID string) (*entity.WorkflowTemplate, error) {
	name = strings.TrimSpace(name)
	documentTypeID = strings.TrimSpace(documentTypeID)
	if name == "" {
		return nil, entity.Validationf("name is required")
	}
	if documentTypeID == "" {
		return nil, entity.Validationf("document_type_id is required")
	}

	var tmpl *entity.WorkflowTemplate
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		var err error
		tmpl, err = s.loadActive(txCtx, id)
		if err != nil {
			return err
		}
		if tmpl.DocumentTypeID != documentTypeID {
			if err := s.ensureDocumentTypeFree(txCtx, documentTypeID, tmpl.ID); err != nil {
				return err
			}
		}

		tmpl.Name = name
		tmpl.DocumentTypeID = documentTypeID
		return s.save(txCtx, tmpl)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Workflow template updated", "id", id, "version", tmpl.Version)
	return tmpl, nil
}

// ReplaceSteps swaps the whole step list. Steps whose id already belongs to
// the template keep it; the rest get new ids.
func (s *templateServiceImpl) ReplaceSteps(ctx context.Context, id string, steps []entity.WorkflowStep) (*entity.WorkflowTemplate, error) {
	steps = append([]entity.WorkflowStep(nil), steps...)
	entity.NormalizeSteps(steps)
	if err := entity.ValidateSteps(steps); err != nil {
		return nil, err
	}

	var tmpl *entity.WorkflowTemplate
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		var err error
		tmpl, err = s.loadActive(txCtx, id)
		if err != nil {
			return err
		}
		if err := s.checkDepartments(txCtx, steps); err != nil {
			return err
		}

		existing := make(map[string]bool, len(tmpl.Steps))
		for _, st := range tmpl.Steps {
			existing[st.ID] = true
		}
		tmpl.Steps = s.assignStepIDs(tmpl.ID, steps, existing)

		if err := s.templateRepo.ReplaceSteps(txCtx, tmpl.ID, tmpl.Steps); err != nil {
			return fmt.Errorf("replace steps: %w", err)
		}
		return s.save(txCtx, tmpl)
	})
	if err != nil {
		s.logger.Error("Failed to replace template steps", "error", err, "id", id)
		return nil, err
	}

	s.logger.Info("Workflow template steps replaced", "id", id, "version", tmpl.Version, "steps", len(tmpl.Steps))
	return tmpl, nil
}

// Reorder renumbers steps to follow orderedStepIDs. The id set must match the
// template's current steps exactly. Submitting the current order changes nothing.
func (s *templateServiceImpl) Reorder(ctx context.Context, id string, orderedStepIDs []string) error {
	var changed bool
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		tmpl, err := s.loadActive(txCtx, id)
		if err != nil {
			return err
		}

		current := tmpl.StepIDs()
		if err := sameIDSet(current, orderedStepIDs); err != nil {
			return err
		}
		if equalOrder(current, orderedStepIDs) {
			return nil
		}

		position := make(map[string]int, len(orderedStepIDs))
		for i, stepID := range orderedStepIDs {
			position[stepID] = i + 1
		}
		for i := range tmpl.Steps {
			tmpl.Steps[i].StepNumber = position[tmpl.Steps[i].ID]
		}
		if err := entity.ValidateSteps(tmpl.Steps); err != nil {
			return err
		}

		if err := s.templateRepo.RenumberSteps(txCtx, tmpl.ID, orderedStepIDs); err != nil {
			return fmt.Errorf("renumber steps: %w", err)
		}
		changed = true
		return s.save(txCtx, tmpl)
	})
	if err != nil {
		s.logger.Error("Failed to reorder template steps", "error", err, "id", id)
		return err
	}

	if changed {
		s.logger.Info("Workflow template steps reordered", "id", id)
	}
	return nil
}

// Delete soft-deletes an active template
func (s *templateServiceImpl) Delete(ctx context.Context, id string) error {
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		tmpl, err := s.loadActive(txCtx, id)
		if err != nil {
			return err
		}
		now := s.now()
		tmpl.DeletedAt = &now
		return s.save(txCtx, tmpl)
	})
	if err != nil {
		return err
	}

	s.logger.Info("Workflow template deleted", "id", id)
	return nil
}

// Restore reactivates a soft-deleted template if its document type is free
func (s *templateServiceImpl) Restore(ctx context.Context, id string) (*entity.WorkflowTemplate, error) {
	var tmpl *entity.WorkflowTemplate
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		var err error
		tmpl, err = s.templateRepo.GetByID(txCtx, id)
		if err != nil {
			return fmt.Errorf("get template: %w", err)
		}
		if tmpl == nil {
			return entity.NotFoundf("workflow template %s", id)
		}
		if !tmpl.IsDeleted() {
			return entity.Conflictf("workflow template %s is not deleted", id)
		}
		if err := s.ensureDocumentTypeFree(txCtx, tmpl.DocumentTypeID, tmpl.ID); err != nil {
			return err
		}
		tmpl.DeletedAt = nil
		return s.save(txCtx, tmpl)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Workflow template restored", "id", id)
	return tmpl, nil
}

// Get returns a template by id, including soft-deleted ones
func (s *templateServiceImpl) Get(ctx context.Context, id string) (*entity.WorkflowTemplate, error) {
	tmpl, err := s.templateRepo.GetByID(ctx, id)
	if err != nil {
		s.logger.Error("Failed to get workflow template", "error", err, "id", id)
		return nil, err
	}
	if tmpl == nil {
		return nil, entity.NotFoundf("workflow template %s", id)
	}
	return tmpl, nil
}

// GetActiveForDocumentType returns the template that new instances of the document type use
func (s *templateServiceImpl) GetActiveForDocumentType(ctx context.Context, documentTypeID string) (*entity.WorkflowTemplate, error) {
	tmpl, err := s.templateRepo.GetActiveByDocumentType(ctx, documentTypeID)
	if err != nil {
		return nil, err
	}
	if tmpl == nil {
		return nil, entity.NotFoundf("no active workflow template for document type %s", documentTypeID)
	}
	return tmpl, nil
}

// List returns a page of templates
func (s *templateServiceImpl) List(ctx context.Context, params entity.ListParams) (entity.Page[*entity.WorkflowTemplate], error) {
	params = params.Normalize()
	items, total, err := s.templateRepo.List(ctx, params)
	if err != nil {
		s.logger.Error("Failed to list workflow templates", "error", err)
		return entity.Page[*entity.WorkflowTemplate]{}, err
	}
	return entity.NewPage(items, total, params), nil
}

func (s *templateServiceImpl) loadActive(ctx context.Context, id string) (*entity.WorkflowTemplate, error) {
	tmpl, err := s.templateRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	if tmpl == nil {
		return nil, entity.NotFoundf("workflow template %s", id)
	}
	if tmpl.IsDeleted() {
		return nil, entity.AlreadyDeletedf("workflow template %s", id)
	}
	return tmpl, nil
}

// save persists header changes and advances the version on success
func (s *templateServiceImpl) save(ctx context.Context, tmpl *entity.WorkflowTemplate) error {
	expected := tmpl.Version
	tmpl.UpdatedAt = s.now()
	if err := s.templateRepo.Update(ctx, tmpl, expected); err != nil {
		return err
	}
	tmpl.Version = expected + 1
	return nil
}

func (s *templateServiceImpl) ensureDocumentTypeFree(ctx context.Context, documentTypeID, selfID string) error {
	active, err := s.templateRepo.GetActiveByDocumentType(ctx, documentTypeID)
	if err != nil {
		return fmt.Errorf("get active template: %w", err)
	}
	if active != nil && active.ID != selfID {
		return entity.Conflictf("document type %s already has active workflow template %s", documentTypeID, active.ID)
	}
	return nil
}

func (s *templateServiceImpl) checkDepartments(ctx context.Context, steps []entity.WorkflowStep) error {
	checked := make(map[string]bool)
	for _, st := range steps {
		if checked[st.DepartmentID] {
			continue
		}
		dept, err := s.deptRepo.GetByID(ctx, st.DepartmentID)
		if err != nil {
			return fmt.Errorf("get department: %w", err)
		}
		if dept == nil || dept.IsDeleted() {
			return entity.Validationf("step %d: unknown department %s", st.StepNumber, st.DepartmentID)
		}
		checked[st.DepartmentID] = true
	}
	return nil
}

func (s *templateServiceImpl) assignStepIDs(templateID string, steps []entity.WorkflowStep, keep map[string]bool) []entity.WorkflowStep {
	out := entity.SortedSteps(steps)
	used := make(map[string]bool, len(out))
	for i := range out {
		out[i].TemplateID = templateID
		if out[i].ID == "" || !keep[out[i].ID] || used[out[i].ID] {
			out[i].ID = uuid.NewString()
		}
		used[out[i].ID] = true
	}
	return out
}

func sameIDSet(current, supplied []string) error {
	if len(current) != len(supplied) {
		return entity.Validationf("reorder expects %d step ids, got %d", len(current), len(supplied))
	}
	known := make(map[string]bool, len(current))
	for _, id := range current {
		known[id] = true
	}
	seen := make(map[string]bool, len(supplied))
	for _, id := range supplied {
		if !known[id] {
			return entity.Validationf("step %s does not belong to the template", id)
		}
		if seen[id] {
			return entity.Validationf("step %s listed more than once", id)
		}
		seen[id] = true
	}
	return nil
}

func equalOrder(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func utcNow() time.Time {
	return time.Now().UTC()
}

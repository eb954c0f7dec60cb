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

// TemplateRepository implements port.TemplateRepository
type TemplateRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewTemplateRepository creates a new template repository
func NewTemplateRepository(db *sql.DB, logger *zap.Logger) port.TemplateRepository {
	return &TemplateRepository{db: db, logger: logger}
}

const templateColumns = `id, name, document_type_id, version, created_at, updated_at, deleted_at`

// Create inserts the template and its steps
func (r *TemplateRepository) Create(ctx context.Context, tmpl *entity.WorkflowTemplate) error {
	query := `
		INSERT INTO workflow_templates (` + templateColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := executorFor(ctx, r.db).ExecContext(ctx, query,
		tmpl.ID,
		tmpl.Name,
		tmpl.DocumentTypeID,
		tmpl.Version,
		tmpl.CreatedAt,
		tmpl.UpdatedAt,
		nullTime(tmpl.DeletedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return entity.Conflictf("an active workflow template already exists for document type %s", tmpl.DocumentTypeID)
		}
		r.logger.Error("Failed to create template", zap.String("id", tmpl.ID), zap.Error(err))
		return fmt.Errorf("failed to create template: %w", err)
	}

	return r.insertSteps(ctx, tmpl.ID, tmpl.Steps)
}

func (r *TemplateRepository) insertSteps(ctx context.Context, templateID string, steps []entity.WorkflowStep) error {
	query := `
		INSERT INTO workflow_steps (
			id, template_id, step_name, step_number, department_id,
			approver_user_id, step_type, requires_file, requires_otp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	exec := executorFor(ctx, r.db)
	for _, st := range steps {
		_, err := exec.ExecContext(ctx, query,
			st.ID,
			templateID,
			st.StepName,
			st.StepNumber,
			st.DepartmentID,
			nullString(st.ApproverUserID),
			string(st.Type),
			st.RequiresFile,
			st.RequiresOTP,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return entity.Conflictf("step %d of template %s already exists", st.StepNumber, templateID)
			}
			r.logger.Error("Failed to insert step", zap.String("template_id", templateID), zap.Error(err))
			return fmt.Errorf("failed to insert step: %w", err)
		}
	}
	return nil
}

// GetByID retrieves a template with its steps, including soft-deleted ones
func (r *TemplateRepository) GetByID(ctx context.Context, id string) (*entity.WorkflowTemplate, error) {
	query := `SELECT ` + templateColumns + ` FROM workflow_templates WHERE id = ?`
	return r.getOne(ctx, query, id)
}

// GetActiveByDocumentType retrieves the live template for a document type
func (r *TemplateRepository) GetActiveByDocumentType(ctx context.Context, documentTypeID string) (*entity.WorkflowTemplate, error) {
	query := `
		SELECT ` + templateColumns + ` FROM workflow_templates
		WHERE document_type_id = ? AND deleted_at IS NULL
	`
	return r.getOne(ctx, query, documentTypeID)
}

func (r *TemplateRepository) getOne(ctx context.Context, query string, arg interface{}) (*entity.WorkflowTemplate, error) {
	tmpl, err := scanTemplate(executorFor(ctx, r.db).QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get template", zap.Any("key", arg), zap.Error(err))
		return nil, fmt.Errorf("failed to get template: %w", err)
	}

	steps, err := r.loadSteps(ctx, tmpl.ID)
	if err != nil {
		return nil, err
	}
	tmpl.Steps = steps
	return tmpl, nil
}

func (r *TemplateRepository) loadSteps(ctx context.Context, templateID string) ([]entity.WorkflowStep, error) {
	query := `
		SELECT id, template_id, step_name, step_number, department_id,
			approver_user_id, step_type, requires_file, requires_otp
		FROM workflow_steps
		WHERE template_id = ?
		ORDER BY step_number
	`
	rows, err := executorFor(ctx, r.db).QueryContext(ctx, query, templateID)
	if err != nil {
		return nil, fmt.Errorf("failed to load steps: %w", err)
	}
	defer rows.Close()

	steps := make([]entity.WorkflowStep, 0)
	for rows.Next() {
		var (
			st       entity.WorkflowStep
			approver sql.NullString
			stepType string
		)
		if err := rows.Scan(
			&st.ID,
			&st.TemplateID,
			&st.StepName,
			&st.StepNumber,
			&st.DepartmentID,
			&approver,
			&stepType,
			&st.RequiresFile,
			&st.RequiresOTP,
		); err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		st.ApproverUserID = stringPtr(approver)
		st.Type = entity.StepType(stepType)
		steps = append(steps, st)
	}
	return steps, rows.Err()
}

// List returns a page of templates ordered by name, with steps
func (r *TemplateRepository) List(ctx context.Context, params entity.ListParams) ([]*entity.WorkflowTemplate, int, error) {
	where := ` WHERE 1=1`
	args := []interface{}{}
	if !params.IncludeDeleted {
		where += ` AND deleted_at IS NULL`
	}
	if params.Search != "" {
		where += ` AND name LIKE ? ESCAPE '\'`
		args = append(args, likePattern(params.Search))
	}

	exec := executorFor(ctx, r.db)
	var total int
	if err := exec.QueryRowContext(ctx, `SELECT COUNT(*) FROM workflow_templates`+where, args...).Scan(&total); err != nil {
		r.logger.Error("Failed to count templates", zap.Error(err))
		return nil, 0, fmt.Errorf("failed to count templates: %w", err)
	}

	query := `SELECT ` + templateColumns + ` FROM workflow_templates` + where + ` ORDER BY name, id LIMIT ? OFFSET ?`
	rows, err := exec.QueryContext(ctx, query, append(args, params.Limit, params.Offset())...)
	if err != nil {
		r.logger.Error("Failed to list templates", zap.Error(err))
		return nil, 0, fmt.Errorf("failed to list templates: %w", err)
	}

	var templates []*entity.WorkflowTemplate
	for rows.Next() {
		tmpl, err := scanTemplate(rows)
		if err != nil {
			rows.Close()
			return nil, 0, fmt.Errorf("failed to scan template: %w", err)
		}
		templates = append(templates, tmpl)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, 0, err
	}
	rows.Close()

	// steps are loaded after the cursor closes so a single-connection pool
	// inside a transaction does not deadlock
	for _, tmpl := range templates {
		if tmpl.Steps, err = r.loadSteps(ctx, tmpl.ID); err != nil {
			return nil, 0, err
		}
	}
	return templates, total, nil
}

// Update writes the header fields under an optimistic version check
func (r *TemplateRepository) Update(ctx context.Context, tmpl *entity.WorkflowTemplate, expectedVersion int) error {
	query := `
		UPDATE workflow_templates
		SET name = ?, document_type_id = ?, deleted_at = ?, updated_at = ?, version = ?
		WHERE id = ? AND version = ?
	`
	result, err := executorFor(ctx, r.db).ExecContext(ctx, query,
		tmpl.Name,
		tmpl.DocumentTypeID,
		nullTime(tmpl.DeletedAt),
		tmpl.UpdatedAt,
		expectedVersion+1,
		tmpl.ID,
		expectedVersion,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return entity.Conflictf("an active workflow template already exists for document type %s", tmpl.DocumentTypeID)
		}
		r.logger.Error("Failed to update template", zap.String("id", tmpl.ID), zap.Error(err))
		return fmt.Errorf("failed to update template: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return entity.Conflictf("workflow template %s was modified concurrently", tmpl.ID)
	}
	return nil
}

// ReplaceSteps deletes every step of the template and inserts steps
func (r *TemplateRepository) ReplaceSteps(ctx context.Context, templateID string, steps []entity.WorkflowStep) error {
	if _, err := executorFor(ctx, r.db).ExecContext(ctx, `DELETE FROM workflow_steps WHERE template_id = ?`, templateID); err != nil {
		r.logger.Error("Failed to delete steps", zap.String("template_id", templateID), zap.Error(err))
		return fmt.Errorf("failed to delete steps: %w", err)
	}
	return r.insertSteps(ctx, templateID, steps)
}

// RenumberSteps rewrites step numbers in two passes so the
// (template_id, step_number) unique index holds after every statement.
func (r *TemplateRepository) RenumberSteps(ctx context.Context, templateID string, orderedStepIDs []string) error {
	exec := executorFor(ctx, r.db)

	for i, id := range orderedStepIDs {
		result, err := exec.ExecContext(ctx,
			`UPDATE workflow_steps SET step_number = ? WHERE id = ? AND template_id = ?`,
			-(i + 1), id, templateID,
		)
		if err != nil {
			r.logger.Error("Failed to renumber step", zap.String("step_id", id), zap.Error(err))
			return fmt.Errorf("failed to renumber step: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return entity.NotFoundf("step %s in template %s", id, templateID)
		}
	}

	if _, err := exec.ExecContext(ctx,
		`UPDATE workflow_steps SET step_number = -step_number WHERE template_id = ? AND step_number < 0`,
		templateID,
	); err != nil {
		r.logger.Error("Failed to finalize renumbering", zap.String("template_id", templateID), zap.Error(err))
		return fmt.Errorf("failed to renumber steps: %w", err)
	}
	return nil
}

func scanTemplate(row rowScanner) (*entity.WorkflowTemplate, error) {
	var (
		tmpl      entity.WorkflowTemplate
		deletedAt sql.NullTime
	)
	if err := row.Scan(
		&tmpl.ID,
		&tmpl.Name,
		&tmpl.DocumentTypeID,
		&tmpl.Version,
		&tmpl.CreatedAt,
		&tmpl.UpdatedAt,
		&deletedAt,
	); err != nil {
		return nil, err
	}
	tmpl.DeletedAt = timePtr(deletedAt)
	return &tmpl, nil
}

// Verify interface compliance
var _ port.TemplateRepository = (*TemplateRepository)(nil)

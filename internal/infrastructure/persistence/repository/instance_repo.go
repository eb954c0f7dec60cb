package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/garyjia/procure-approval/internal/application/port"
	"github.com/garyjia/procure-approval/internal/domain/entity"
	"github.com/garyjia/procure-approval/internal/domain/workflow"
)

// InstanceRepository implements port.InstanceRepository.
// The step snapshot is stored as a JSON column; decisions live in
// step_approval_records and are loaded with the instance.
type InstanceRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewInstanceRepository creates a new instance repository
func NewInstanceRepository(db *sql.DB, logger *zap.Logger) port.InstanceRepository {
	return &InstanceRepository{
		db:     db,
		logger: logger,
	}
}

const instanceColumns = `
	id, document_id, document_kind, document_type_id, template_id, template_version,
	steps, pending_step_number, status, amount, opened_by, version,
	created_at, updated_at, completed_at`

// Create inserts a new approval instance
func (r *InstanceRepository) Create(ctx context.Context, inst *entity.ApprovalInstance) error {
	steps, err := json.Marshal(inst.Steps)
	if err != nil {
		return fmt.Errorf("failed to encode steps: %w", err)
	}

	query := `INSERT INTO approval_instances (` + instanceColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = executorFor(ctx, r.db).ExecContext(ctx, query,
		inst.ID,
		inst.Document.DocumentID,
		inst.Document.DocumentKind,
		inst.DocumentTypeID,
		inst.TemplateID,
		inst.TemplateVersion,
		string(steps),
		inst.PendingStepNumber,
		inst.Status.String(),
		nullDecimal(inst.Amount),
		inst.OpenedBy,
		inst.Version,
		inst.CreatedAt,
		inst.UpdatedAt,
		nullTime(inst.CompletedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return entity.Conflictf("document %s/%s already has an open approval", inst.Document.DocumentKind, inst.Document.DocumentID)
		}
		r.logger.Error("Failed to create instance", zap.String("document_id", inst.Document.DocumentID), zap.Error(err))
		return fmt.Errorf("failed to create instance: %w", err)
	}
	return nil
}

// GetByID retrieves an approval instance and its records
func (r *InstanceRepository) GetByID(ctx context.Context, id string) (*entity.ApprovalInstance, error) {
	query := `SELECT ` + instanceColumns + ` FROM approval_instances WHERE id = ?`
	return r.getOne(ctx, query, id)
}

// GetLatestForDocument retrieves the most recently opened instance of a document
func (r *InstanceRepository) GetLatestForDocument(ctx context.Context, ref entity.DocumentRef) (*entity.ApprovalInstance, error) {
	query := `
		SELECT ` + instanceColumns + ` FROM approval_instances
		WHERE document_kind = ? AND document_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1
	`
	return r.getOne(ctx, query, ref.DocumentKind, ref.DocumentID)
}

func (r *InstanceRepository) getOne(ctx context.Context, query string, args ...interface{}) (*entity.ApprovalInstance, error) {
	inst, err := scanInstance(executorFor(ctx, r.db).QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get instance", zap.Any("key", args), zap.Error(err))
		return nil, fmt.Errorf("failed to get instance: %w", err)
	}

	if inst.Records, err = r.loadRecords(ctx, inst.ID); err != nil {
		return nil, err
	}
	return inst, nil
}

// Update moves the instance forward when its version still matches
func (r *InstanceRepository) Update(ctx context.Context, inst *entity.ApprovalInstance, expectedVersion int) error {
	query := `
		UPDATE approval_instances
		SET pending_step_number = ?, status = ?, amount = ?, updated_at = ?,
			completed_at = ?, version = ?
		WHERE id = ? AND version = ?
	`
	result, err := executorFor(ctx, r.db).ExecContext(ctx, query,
		inst.PendingStepNumber,
		inst.Status.String(),
		nullDecimal(inst.Amount),
		inst.UpdatedAt,
		nullTime(inst.CompletedAt),
		expectedVersion+1,
		inst.ID,
		expectedVersion,
	)
	if err != nil {
		r.logger.Error("Failed to update instance", zap.String("id", inst.ID), zap.Error(err))
		return fmt.Errorf("failed to update instance: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return entity.Conflictf("approval %s was modified concurrently", inst.ID)
	}
	return nil
}

// AppendRecord inserts a decision record
func (r *InstanceRepository) AppendRecord(ctx context.Context, rec *entity.StepApprovalRecord) error {
	query := `
		INSERT INTO step_approval_records (
			id, instance_id, step_number, actor_user_id, decision,
			attachment_ref, otp_verified, amount, decided_at, remark
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := executorFor(ctx, r.db).ExecContext(ctx, query,
		rec.ID,
		rec.InstanceID,
		rec.StepNumber,
		rec.ActorUserID,
		string(rec.Decision),
		nullString(rec.AttachmentRef),
		rec.OTPVerified,
		nullDecimal(rec.Amount),
		rec.DecidedAt,
		nullString(rec.Remark),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return entity.Conflictf("step %d of approval %s was already decided", rec.StepNumber, rec.InstanceID)
		}
		r.logger.Error("Failed to append record", zap.String("instance_id", rec.InstanceID), zap.Error(err))
		return fmt.Errorf("failed to append record: %w", err)
	}
	return nil
}

func (r *InstanceRepository) loadRecords(ctx context.Context, instanceID string) ([]entity.StepApprovalRecord, error) {
	query := `
		SELECT id, instance_id, step_number, actor_user_id, decision,
			attachment_ref, otp_verified, amount, decided_at, remark
		FROM step_approval_records
		WHERE instance_id = ?
		ORDER BY step_number
	`
	rows, err := executorFor(ctx, r.db).QueryContext(ctx, query, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load records: %w", err)
	}
	defer rows.Close()

	records := make([]entity.StepApprovalRecord, 0)
	for rows.Next() {
		var (
			rec        entity.StepApprovalRecord
			decision   string
			attachment sql.NullString
			amount     decimal.NullDecimal
			remark     sql.NullString
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.InstanceID,
			&rec.StepNumber,
			&rec.ActorUserID,
			&decision,
			&attachment,
			&rec.OTPVerified,
			&amount,
			&rec.DecidedAt,
			&remark,
		); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		rec.Decision = entity.Decision(decision)
		rec.AttachmentRef = stringPtr(attachment)
		rec.Remark = stringPtr(remark)
		if amount.Valid {
			d := amount.Decimal
			rec.Amount = &d
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// List returns a page of instances, newest first. Search matches the document id.
func (r *InstanceRepository) List(ctx context.Context, params entity.ListParams, status workflow.State) ([]*entity.ApprovalInstance, int, error) {
	where := ` WHERE 1=1`
	args := []interface{}{}
	if status != "" {
		where += ` AND status = ?`
		args = append(args, status.String())
	}
	if params.Search != "" {
		where += ` AND document_id LIKE ? ESCAPE '\'`
		args = append(args, likePattern(params.Search))
	}

	var total int
	if err := executorFor(ctx, r.db).QueryRowContext(ctx, `SELECT COUNT(*) FROM approval_instances`+where, args...).Scan(&total); err != nil {
		r.logger.Error("Failed to count instances", zap.Error(err))
		return nil, 0, fmt.Errorf("failed to count instances: %w", err)
	}

	query := `SELECT ` + instanceColumns + ` FROM approval_instances` + where +
		` ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`
	items, err := r.query(ctx, query, append(args, params.Limit, params.Offset())...)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// ListByStatus returns every instance in a status, oldest first
func (r *InstanceRepository) ListByStatus(ctx context.Context, status workflow.State) ([]*entity.ApprovalInstance, error) {
	query := `SELECT ` + instanceColumns + ` FROM approval_instances WHERE status = ? ORDER BY created_at, rowid`
	return r.query(ctx, query, status.String())
}

func (r *InstanceRepository) query(ctx context.Context, query string, args ...interface{}) ([]*entity.ApprovalInstance, error) {
	rows, err := executorFor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to query instances", zap.Error(err))
		return nil, fmt.Errorf("failed to query instances: %w", err)
	}

	items := make([]*entity.ApprovalInstance, 0)
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}
		items = append(items, inst)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for _, inst := range items {
		if inst.Records, err = r.loadRecords(ctx, inst.ID); err != nil {
			return nil, err
		}
	}
	return items, nil
}

func scanInstance(row rowScanner) (*entity.ApprovalInstance, error) {
	var (
		inst        entity.ApprovalInstance
		steps       string
		status      string
		amount      decimal.NullDecimal
		completedAt sql.NullTime
	)
	if err := row.Scan(
		&inst.ID,
		&inst.Document.DocumentID,
		&inst.Document.DocumentKind,
		&inst.DocumentTypeID,
		&inst.TemplateID,
		&inst.TemplateVersion,
		&steps,
		&inst.PendingStepNumber,
		&status,
		&amount,
		&inst.OpenedBy,
		&inst.Version,
		&inst.CreatedAt,
		&inst.UpdatedAt,
		&completedAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(steps), &inst.Steps); err != nil {
		return nil, fmt.Errorf("failed to decode steps of instance %s: %w", inst.ID, err)
	}
	inst.Status = workflow.State(status)
	if amount.Valid {
		d := amount.Decimal
		inst.Amount = &d
	}
	inst.CompletedAt = timePtr(completedAt)
	return &inst, nil
}

func nullDecimal(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

// Verify interface compliance
var _ port.InstanceRepository = (*InstanceRepository)(nil)

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

// DepartmentRepository implements port.DepartmentRepository
type DepartmentRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDepartmentRepository creates a new department repository
func NewDepartmentRepository(db *sql.DB, logger *zap.Logger) port.DepartmentRepository {
	return &DepartmentRepository{db: db, logger: logger}
}

// Create inserts a department
func (r *DepartmentRepository) Create(ctx context.Context, dept *entity.Department) error {
	_, err := executorFor(ctx, r.db).ExecContext(ctx,
		`INSERT INTO departments (id, name, created_at, deleted_at) VALUES (?, ?, ?, ?)`,
		dept.ID, dept.Name, dept.CreatedAt, nullTime(dept.DeletedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return entity.Conflictf("department %s already exists", dept.ID)
		}
		r.logger.Error("Failed to create department", zap.String("id", dept.ID), zap.Error(err))
		return fmt.Errorf("failed to create department: %w", err)
	}
	return nil
}

// GetByID returns a live department
func (r *DepartmentRepository) GetByID(ctx context.Context, id string) (*entity.Department, error) {
	var (
		dept      entity.Department
		deletedAt sql.NullTime
	)
	err := executorFor(ctx, r.db).QueryRowContext(ctx,
		`SELECT id, name, created_at, deleted_at FROM departments WHERE id = ? AND deleted_at IS NULL`, id,
	).Scan(&dept.ID, &dept.Name, &dept.CreatedAt, &deletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get department", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get department: %w", err)
	}
	dept.DeletedAt = timePtr(deletedAt)
	return &dept, nil
}

// List returns a page of live departments ordered by name
func (r *DepartmentRepository) List(ctx context.Context, params entity.ListParams) ([]*entity.Department, int, error) {
	where := ` WHERE deleted_at IS NULL`
	args := []interface{}{}
	if params.Search != "" {
		where += ` AND name LIKE ? ESCAPE '\'`
		args = append(args, likePattern(params.Search))
	}

	exec := executorFor(ctx, r.db)
	var total int
	if err := exec.QueryRowContext(ctx, `SELECT COUNT(*) FROM departments`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count departments: %w", err)
	}

	rows, err := exec.QueryContext(ctx,
		`SELECT id, name, created_at, deleted_at FROM departments`+where+` ORDER BY name, id LIMIT ? OFFSET ?`,
		append(args, params.Limit, params.Offset())...,
	)
	if err != nil {
		r.logger.Error("Failed to list departments", zap.Error(err))
		return nil, 0, fmt.Errorf("failed to list departments: %w", err)
	}
	defer rows.Close()

	depts := make([]*entity.Department, 0)
	for rows.Next() {
		var (
			dept      entity.Department
			deletedAt sql.NullTime
		)
		if err := rows.Scan(&dept.ID, &dept.Name, &dept.CreatedAt, &deletedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan department: %w", err)
		}
		dept.DeletedAt = timePtr(deletedAt)
		depts = append(depts, &dept)
	}
	return depts, total, rows.Err()
}

// Verify interface compliance
var _ port.DepartmentRepository = (*DepartmentRepository)(nil)

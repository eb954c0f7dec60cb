package service

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/garyjia/procure-approval/internal/application/port"
	"github.com/garyjia/procure-approval/internal/domain/entity"
)

// DepartmentService manages the departments steps and budget rules refer to
type DepartmentService interface {
	Create(ctx context.Context, id, name string) (*entity.Department, error)
	Get(ctx context.Context, id string) (*entity.Department, error)
	List(ctx context.Context, params entity.ListParams) (entity.Page[*entity.Department], error)
}

type departmentServiceImpl struct {
	deptRepo port.DepartmentRepository
	logger   Logger
}

// NewDepartmentService creates a new DepartmentService
func NewDepartmentService(deptRepo port.DepartmentRepository, logger Logger) DepartmentService {
	return &departmentServiceImpl{deptRepo: deptRepo, logger: logger}
}

// Create adds a department. An empty id gets a generated one.
func (s *departmentServiceImpl) Create(ctx context.Context, id, name string) (*entity.Department, error) {
	id = strings.TrimSpace(id)
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, entity.Validationf("name is required")
	}
	if id == "" {
		id = uuid.NewString()
	}

	existing, err := s.deptRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, entity.Conflictf("department %s already exists", id)
	}

	dept := &entity.Department{ID: id, Name: name, CreatedAt: utcNow()}
	if err := s.deptRepo.Create(ctx, dept); err != nil {
		s.logger.Error("Failed to create department", "error", err, "id", id)
		return nil, err
	}

	s.logger.Info("Department created", "id", id, "name", name)
	return dept, nil
}

// Get returns a department by id
func (s *departmentServiceImpl) Get(ctx context.Context, id string) (*entity.Department, error) {
	dept, err := s.deptRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if dept == nil {
		return nil, entity.NotFoundf("department %s", id)
	}
	return dept, nil
}

// List returns a page of departments
func (s *departmentServiceImpl) List(ctx context.Context, params entity.ListParams) (entity.Page[*entity.Department], error) {
	params = params.Normalize()
	items, total, err := s.deptRepo.List(ctx, params)
	if err != nil {
		return entity.Page[*entity.Department]{}, err
	}
	return entity.NewPage(items, total, params), nil
}

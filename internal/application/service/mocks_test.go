package service

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/garyjia/procure-approval/internal/domain/entity"
	"github.com/garyjia/procure-approval/internal/domain/event"
	"github.com/garyjia/procure-approval/internal/domain/workflow"
)

// memStore is an in-memory backing store shared by the fake repositories.
// The fake transaction manager snapshots it and restores on error, so tests
// can observe all-or-nothing behaviour.
type memStore struct {
	mu        sync.Mutex
	templates map[string]entity.WorkflowTemplate
	rules     map[string]entity.BudgetApprovalRule
	instances map[string]entity.ApprovalInstance
	instOrder []string
	depts     map[string]entity.Department

	appendErr error
	updateErr error
}

func newMemStore() *memStore {
	return &memStore{
		templates: map[string]entity.WorkflowTemplate{},
		rules:     map[string]entity.BudgetApprovalRule{},
		instances: map[string]entity.ApprovalInstance{},
		depts:     map[string]entity.Department{},
	}
}

func cloneTemplate(t entity.WorkflowTemplate) entity.WorkflowTemplate {
	t.Steps = append([]entity.WorkflowStep(nil), t.Steps...)
	return t
}

func cloneInstance(i entity.ApprovalInstance) entity.ApprovalInstance {
	i.Steps = append([]entity.WorkflowStep(nil), i.Steps...)
	i.Records = append([]entity.StepApprovalRecord(nil), i.Records...)
	return i
}

type memSnapshot struct {
	templates map[string]entity.WorkflowTemplate
	rules     map[string]entity.BudgetApprovalRule
	instances map[string]entity.ApprovalInstance
	instOrder []string
	depts     map[string]entity.Department
}

func (s *memStore) snapshot() memSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := memSnapshot{
		templates: map[string]entity.WorkflowTemplate{},
		rules:     map[string]entity.BudgetApprovalRule{},
		instances: map[string]entity.ApprovalInstance{},
		instOrder: append([]string(nil), s.instOrder...),
		depts:     map[string]entity.Department{},
	}
	for k, v := range s.templates {
		snap.templates[k] = cloneTemplate(v)
	}
	for k, v := range s.rules {
		snap.rules[k] = v
	}
	for k, v := range s.instances {
		snap.instances[k] = cloneInstance(v)
	}
	for k, v := range s.depts {
		snap.depts[k] = v
	}
	return snap
}

func (s *memStore) restore(snap memSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates = snap.templates
	s.rules = snap.rules
	s.instances = snap.instances
	s.instOrder = snap.instOrder
	s.depts = snap.depts
}

type txMarker struct{}

type mockTxManager struct {
	store   *memStore
	commits int
}

func (m *mockTxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txMarker{}) != nil {
		return fn(ctx)
	}
	snap := m.store.snapshot()
	if err := fn(context.WithValue(ctx, txMarker{}, true)); err != nil {
		m.store.restore(snap)
		return err
	}
	m.commits++
	return nil
}

type mockLogger struct{}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{})  {}
func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*event.Event
	err    error
}

func (p *recordingPublisher) Dispatch(ctx context.Context, evt *event.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return p.err
}

func (p *recordingPublisher) types() []event.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]event.Type, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

// --- templates ---

type memTemplateRepo struct{ s *memStore }

func (r *memTemplateRepo) Create(ctx context.Context, tmpl *entity.WorkflowTemplate) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.templates[tmpl.ID] = cloneTemplate(*tmpl)
	return nil
}

func (r *memTemplateRepo) GetByID(ctx context.Context, id string) (*entity.WorkflowTemplate, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.templates[id]
	if !ok {
		return nil, nil
	}
	c := cloneTemplate(t)
	c.Steps = entity.SortedSteps(c.Steps)
	return &c, nil
}

func (r *memTemplateRepo) GetActiveByDocumentType(ctx context.Context, documentTypeID string) (*entity.WorkflowTemplate, error) {
	r.s.mu.Lock()
	var id string
	for _, t := range r.s.templates {
		if t.DocumentTypeID == documentTypeID && t.DeletedAt == nil {
			id = t.ID
		}
	}
	r.s.mu.Unlock()
	if id == "" {
		return nil, nil
	}
	return r.GetByID(ctx, id)
}

func (r *memTemplateRepo) List(ctx context.Context, params entity.ListParams) ([]*entity.WorkflowTemplate, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var all []*entity.WorkflowTemplate
	for _, t := range r.s.templates {
		if t.DeletedAt != nil && !params.IncludeDeleted {
			continue
		}
		if params.Search != "" && !strings.Contains(strings.ToLower(t.Name), strings.ToLower(params.Search)) {
			continue
		}
		c := cloneTemplate(t)
		all = append(all, &c)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	total := len(all)
	start := params.Offset()
	if start > total {
		start = total
	}
	end := start + params.Limit
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

func (r *memTemplateRepo) Update(ctx context.Context, tmpl *entity.WorkflowTemplate, expectedVersion int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored, ok := r.s.templates[tmpl.ID]
	if !ok || stored.Version != expectedVersion {
		return entity.Conflictf("workflow template %s was modified concurrently", tmpl.ID)
	}
	stored.Name = tmpl.Name
	stored.DocumentTypeID = tmpl.DocumentTypeID
	stored.DeletedAt = tmpl.DeletedAt
	stored.UpdatedAt = tmpl.UpdatedAt
	stored.Version = expectedVersion + 1
	r.s.templates[tmpl.ID] = stored
	return nil
}

func (r *memTemplateRepo) ReplaceSteps(ctx context.Context, templateID string, steps []entity.WorkflowStep) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored := r.s.templates[templateID]
	stored.Steps = append([]entity.WorkflowStep(nil), steps...)
	r.s.templates[templateID] = stored
	return nil
}

func (r *memTemplateRepo) RenumberSteps(ctx context.Context, templateID string, orderedStepIDs []string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored := cloneTemplate(r.s.templates[templateID])
	for i, id := range orderedStepIDs {
		for j := range stored.Steps {
			if stored.Steps[j].ID == id {
				stored.Steps[j].StepNumber = i + 1
			}
		}
	}
	r.s.templates[templateID] = stored
	return nil
}

// --- budget rules ---

type memRuleRepo struct{ s *memStore }

func (r *memRuleRepo) Create(ctx context.Context, rule *entity.BudgetApprovalRule) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.rules[rule.ID] = *rule
	return nil
}

func (r *memRuleRepo) GetByID(ctx context.Context, id string) (*entity.BudgetApprovalRule, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rule, ok := r.s.rules[id]
	if !ok {
		return nil, nil
	}
	return &rule, nil
}

func (r *memRuleRepo) Update(ctx context.Context, rule *entity.BudgetApprovalRule) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.rules[rule.ID] = *rule
	return nil
}

func (r *memRuleRepo) ListActiveByDepartment(ctx context.Context, departmentID string) ([]*entity.BudgetApprovalRule, error) {
	all, _ := r.ListActive(ctx)
	var out []*entity.BudgetApprovalRule
	for _, rule := range all {
		if rule.DepartmentID == departmentID {
			out = append(out, rule)
		}
	}
	return out, nil
}

func (r *memRuleRepo) ListActive(ctx context.Context) ([]*entity.BudgetApprovalRule, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*entity.BudgetApprovalRule
	for _, rule := range r.s.rules {
		if rule.DeletedAt == nil {
			c := rule
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r *memRuleRepo) List(ctx context.Context, params entity.ListParams) ([]*entity.BudgetApprovalRule, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*entity.BudgetApprovalRule
	for _, rule := range r.s.rules {
		if rule.DeletedAt != nil && !params.IncludeDeleted {
			continue
		}
		if params.Search != "" && rule.DepartmentID != params.Search {
			continue
		}
		c := rule
		out = append(out, &c)
	}
	return out, len(out), nil
}

// seedRule writes a rule directly, bypassing overlap checks
func (s *memStore) seedRule(id, dept, approver string, min, max int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[id] = entity.BudgetApprovalRule{
		ID:           id,
		DepartmentID: dept,
		ApproverID:   approver,
		MinAmount:    decimal.NewFromInt(min),
		MaxAmount:    decimal.NewFromInt(max),
	}
}

// --- instances ---

type memInstanceRepo struct{ s *memStore }

func (r *memInstanceRepo) Create(ctx context.Context, inst *entity.ApprovalInstance) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.instances {
		if existing.Document == inst.Document && existing.Status == workflow.StateInProgress {
			return entity.Conflictf("document already has an open approval")
		}
	}
	r.s.instances[inst.ID] = cloneInstance(*inst)
	r.s.instOrder = append(r.s.instOrder, inst.ID)
	return nil
}

func (r *memInstanceRepo) GetByID(ctx context.Context, id string) (*entity.ApprovalInstance, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	inst, ok := r.s.instances[id]
	if !ok {
		return nil, nil
	}
	c := cloneInstance(inst)
	return &c, nil
}

func (r *memInstanceRepo) GetLatestForDocument(ctx context.Context, ref entity.DocumentRef) (*entity.ApprovalInstance, error) {
	r.s.mu.Lock()
	var latest string
	for _, id := range r.s.instOrder {
		if r.s.instances[id].Document == ref {
			latest = id
		}
	}
	r.s.mu.Unlock()
	if latest == "" {
		return nil, nil
	}
	return r.GetByID(ctx, latest)
}

func (r *memInstanceRepo) Update(ctx context.Context, inst *entity.ApprovalInstance, expectedVersion int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.updateErr != nil {
		return r.s.updateErr
	}
	stored, ok := r.s.instances[inst.ID]
	if !ok || stored.Version != expectedVersion {
		return entity.Conflictf("approval %s was modified concurrently", inst.ID)
	}
	stored.PendingStepNumber = inst.PendingStepNumber
	stored.Status = inst.Status
	stored.Amount = inst.Amount
	stored.UpdatedAt = inst.UpdatedAt
	stored.CompletedAt = inst.CompletedAt
	stored.Version = expectedVersion + 1
	r.s.instances[inst.ID] = stored
	return nil
}

func (r *memInstanceRepo) AppendRecord(ctx context.Context, rec *entity.StepApprovalRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.appendErr != nil {
		return r.s.appendErr
	}
	stored := r.s.instances[rec.InstanceID]
	for _, existing := range stored.Records {
		if existing.StepNumber == rec.StepNumber {
			return entity.Conflictf("step %d already decided", rec.StepNumber)
		}
	}
	stored.Records = append(append([]entity.StepApprovalRecord(nil), stored.Records...), *rec)
	r.s.instances[rec.InstanceID] = stored
	return nil
}

func (r *memInstanceRepo) List(ctx context.Context, params entity.ListParams, status workflow.State) ([]*entity.ApprovalInstance, int, error) {
	all, _ := r.ListByStatus(ctx, status)
	return all, len(all), nil
}

func (r *memInstanceRepo) ListByStatus(ctx context.Context, status workflow.State) ([]*entity.ApprovalInstance, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*entity.ApprovalInstance
	for _, id := range r.s.instOrder {
		inst := r.s.instances[id]
		if status == "" || inst.Status == status {
			c := cloneInstance(inst)
			out = append(out, &c)
		}
	}
	return out, nil
}

// --- departments ---

type memDeptRepo struct{ s *memStore }

func (r *memDeptRepo) Create(ctx context.Context, dept *entity.Department) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.depts[dept.ID] = *dept
	return nil
}

func (r *memDeptRepo) GetByID(ctx context.Context, id string) (*entity.Department, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.depts[id]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (r *memDeptRepo) List(ctx context.Context, params entity.ListParams) ([]*entity.Department, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*entity.Department
	for _, d := range r.s.depts {
		c := d
		out = append(out, &c)
	}
	return out, len(out), nil
}

// fixture wires every service against one memStore
type fixture struct {
	store     *memStore
	tx        *mockTxManager
	events    *recordingPublisher
	templates TemplateService
	rules     BudgetRuleService
	instances InstanceService
	approvals ApprovalService
	depts     DepartmentService
}

func newFixture(deptIDs ...string) *fixture {
	store := newMemStore()
	for _, id := range deptIDs {
		store.depts[id] = entity.Department{ID: id, Name: id}
	}

	tx := &mockTxManager{store: store}
	events := &recordingPublisher{}
	logger := &mockLogger{}

	tmplRepo := &memTemplateRepo{s: store}
	ruleRepo := &memRuleRepo{s: store}
	instRepo := &memInstanceRepo{s: store}
	deptRepo := &memDeptRepo{s: store}

	templates := NewTemplateService(tmplRepo, deptRepo, tx, logger)
	rules := NewBudgetRuleService(ruleRepo, deptRepo, tx, logger)

	return &fixture{
		store:     store,
		tx:        tx,
		events:    events,
		templates: templates,
		rules:     rules,
		instances: NewInstanceService(instRepo, tmplRepo, rules, tx, events, logger),
		approvals: NewApprovalService(instRepo, tmplRepo, templates, rules, tx, events, logger),
		depts:     NewDepartmentService(deptRepo, logger),
	}
}

func strPtr(s string) *string { return &s }

func intPtr(n int) *int { return &n }

func amount(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

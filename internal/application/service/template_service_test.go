package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/procure-approval/internal/domain/entity"
)

func prSteps() []entity.WorkflowStep {
	return []entity.WorkflowStep{
		{StepName: "Finance review", StepNumber: 1, DepartmentID: "finance", Type: entity.StepTypeStandard, RequiresOTP: true},
		{StepName: "Budget owner", StepNumber: 2, DepartmentID: "ops", Type: entity.StepTypeBudget},
	}
}

func createPRTemplate(t *testing.T, f *fixture) *entity.WorkflowTemplate {
	t.Helper()
	tmpl, err := f.templates.Create(context.Background(), CreateTemplateInput{
		Name:           "PR-Approval",
		DocumentTypeID: "purchase_request",
		Steps:          prSteps(),
	})
	require.NoError(t, err)
	return tmpl
}

func TestTemplateService_Create(t *testing.T) {
	tests := []struct {
		name     string
		input    CreateTemplateInput
		wantKind entity.ErrorKind
	}{
		{
			name:  "valid",
			input: CreateTemplateInput{Name: "PR-Approval", DocumentTypeID: "purchase_request", Steps: prSteps()},
		},
		{
			name:     "blank name",
			input:    CreateTemplateInput{Name: " ", DocumentTypeID: "purchase_request", Steps: prSteps()},
			wantKind: entity.KindValidation,
		},
		{
			name:     "blank document type",
			input:    CreateTemplateInput{Name: "PR", Steps: prSteps()},
			wantKind: entity.KindValidation,
		},
		{
			name:     "no steps",
			input:    CreateTemplateInput{Name: "PR", DocumentTypeID: "purchase_request"},
			wantKind: entity.KindValidation,
		},
		{
			name: "non-contiguous numbering",
			input: CreateTemplateInput{Name: "PR", DocumentTypeID: "purchase_request", Steps: []entity.WorkflowStep{
				{StepName: "a", StepNumber: 1, DepartmentID: "finance"},
				{StepName: "b", StepNumber: 3, DepartmentID: "finance"},
			}},
			wantKind: entity.KindValidation,
		},
		{
			name: "unknown department",
			input: CreateTemplateInput{Name: "PR", DocumentTypeID: "purchase_request", Steps: []entity.WorkflowStep{
				{StepName: "a", StepNumber: 1, DepartmentID: "legal"},
			}},
			wantKind: entity.KindValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture("finance", "ops")

			tmpl, err := f.templates.Create(context.Background(), tt.input)

			if tt.wantKind != "" {
				assert.Equal(t, tt.wantKind, entity.KindOf(err), "error: %v", err)
				assert.Nil(t, tmpl)
				assert.Empty(t, f.store.templates)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, tmpl.ID)
			assert.Equal(t, 1, tmpl.Version)
			require.Len(t, tmpl.Steps, 2)
			for i, st := range tmpl.Steps {
				assert.NotEmpty(t, st.ID)
				assert.Equal(t, tmpl.ID, st.TemplateID)
				assert.Equal(t, i+1, st.StepNumber)
			}
			assert.False(t, tmpl.CreatedAt.IsZero())
			assert.Nil(t, tmpl.DeletedAt)
		})
	}
}

func TestTemplateService_CreateSecondActiveForDocumentTypeConflicts(t *testing.T) {
	f := newFixture("finance", "ops")
	createPRTemplate(t, f)

	_, err := f.templates.Create(context.Background(), CreateTemplateInput{
		Name: "PR-Approval v2", DocumentTypeID: "purchase_request", Steps: prSteps(),
	})
	assert.Equal(t, entity.KindConflict, entity.KindOf(err))
}

func TestTemplateService_Update(t *testing.T) {
	ctx := context.Background()
	f := newFixture("finance", "ops")
	tmpl := createPRTemplate(t, f)

	updated, err := f.templates.Update(ctx, tmpl.ID, "PR approval chain", "purchase_request")
	require.NoError(t, err)
	assert.Equal(t, "PR approval chain", updated.Name)
	assert.Equal(t, 2, updated.Version)

	_, err = f.templates.Update(ctx, "missing", "x", "y")
	assert.Equal(t, entity.KindNotFound, entity.KindOf(err))

	require.NoError(t, f.templates.Delete(ctx, tmpl.ID))
	_, err = f.templates.Update(ctx, tmpl.ID, "x", "purchase_request")
	assert.Equal(t, entity.KindAlreadyDeleted, entity.KindOf(err))
}

func TestTemplateService_Reorder(t *testing.T) {
	ctx := context.Background()
	f := newFixture("finance", "ops")
	tmpl := createPRTemplate(t, f)
	ids := tmpl.StepIDs()

	t.Run("current order is a no-op", func(t *testing.T) {
		require.NoError(t, f.templates.Reorder(ctx, tmpl.ID, ids))

		got, err := f.templates.Get(ctx, tmpl.ID)
		require.NoError(t, err)
		assert.Equal(t, tmpl.Version, got.Version)
		assert.Equal(t, tmpl.Steps, got.Steps)
		assert.Equal(t, tmpl.UpdatedAt, got.UpdatedAt)
	})

	t.Run("id set mismatch", func(t *testing.T) {
		cases := [][]string{
			{ids[0]},
			{ids[0], ids[0]},
			{ids[0], ids[1], "extra"},
			{ids[0], "stranger"},
		}
		for _, c := range cases {
			err := f.templates.Reorder(ctx, tmpl.ID, c)
			assert.Equal(t, entity.KindValidation, entity.KindOf(err), "ids %v", c)
		}

		got, err := f.templates.Get(ctx, tmpl.ID)
		require.NoError(t, err)
		assert.Equal(t, ids, got.StepIDs())
	})

	t.Run("swap keeps identity and bumps version", func(t *testing.T) {
		require.NoError(t, f.templates.Reorder(ctx, tmpl.ID, []string{ids[1], ids[0]}))

		got, err := f.templates.Get(ctx, tmpl.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{ids[1], ids[0]}, got.StepIDs())
		assert.Equal(t, tmpl.Version+1, got.Version)

		first, _ := got.StepByNumber(1)
		assert.Equal(t, "Budget owner", first.StepName)
	})

	t.Run("missing template", func(t *testing.T) {
		err := f.templates.Reorder(ctx, "missing", ids)
		assert.Equal(t, entity.KindNotFound, entity.KindOf(err))
	})
}

func TestTemplateService_ReorderCannotMoveFinalStep(t *testing.T) {
	ctx := context.Background()
	f := newFixture("finance", "ops")
	tmpl, err := f.templates.Create(ctx, CreateTemplateInput{
		Name: "PO", DocumentTypeID: "purchase_order",
		Steps: []entity.WorkflowStep{
			{StepName: "Review", StepNumber: 1, DepartmentID: "ops"},
			{StepName: "Sign off", StepNumber: 2, DepartmentID: "finance", Type: entity.StepTypeFinal},
		},
	})
	require.NoError(t, err)

	ids := tmpl.StepIDs()
	err = f.templates.Reorder(ctx, tmpl.ID, []string{ids[1], ids[0]})
	assert.Equal(t, entity.KindValidation, entity.KindOf(err))

	got, _ := f.templates.Get(ctx, tmpl.ID)
	assert.Equal(t, ids, got.StepIDs())
	assert.Equal(t, tmpl.Version, got.Version)
}

func TestTemplateService_ReorderLosesRace(t *testing.T) {
	ctx := context.Background()
	f := newFixture("finance", "ops")
	tmpl := createPRTemplate(t, f)
	ids := tmpl.StepIDs()

	// another writer bumps the version between our read and our write
	repo := &racingTemplateRepo{memTemplateRepo: memTemplateRepo{s: f.store}}
	svc := NewTemplateService(repo, &memDeptRepo{s: f.store}, f.tx, &mockLogger{})

	err := svc.Reorder(ctx, tmpl.ID, []string{ids[1], ids[0]})
	assert.Equal(t, entity.KindConflict, entity.KindOf(err))

	got, _ := f.templates.Get(ctx, tmpl.ID)
	assert.Equal(t, ids, got.StepIDs(), "numbering must be untouched after a lost race")
}

type racingTemplateRepo struct {
	memTemplateRepo
}

func (r *racingTemplateRepo) Update(ctx context.Context, tmpl *entity.WorkflowTemplate, expectedVersion int) error {
	return r.memTemplateRepo.Update(ctx, tmpl, expectedVersion-1)
}

func TestTemplateService_ReplaceSteps(t *testing.T) {
	ctx := context.Background()
	f := newFixture("finance", "ops")
	tmpl := createPRTemplate(t, f)
	keptID := tmpl.Steps[0].ID

	replaced, err := f.templates.ReplaceSteps(ctx, tmpl.ID, []entity.WorkflowStep{
		{ID: keptID, StepName: "Finance review", StepNumber: 1, DepartmentID: "finance"},
		{StepName: "Ops lead", StepNumber: 2, DepartmentID: "ops", ApproverUserID: strPtr("U5")},
		{StepName: "Final", StepNumber: 3, DepartmentID: "finance", Type: entity.StepTypeFinal},
	})
	require.NoError(t, err)
	require.Len(t, replaced.Steps, 3)
	assert.Equal(t, keptID, replaced.Steps[0].ID)
	assert.Equal(t, tmpl.Version+1, replaced.Version)

	_, err = f.templates.ReplaceSteps(ctx, tmpl.ID, nil)
	assert.Equal(t, entity.KindValidation, entity.KindOf(err))
}

func TestTemplateService_DeleteAndRestore(t *testing.T) {
	ctx := context.Background()
	f := newFixture("finance", "ops")
	tmpl := createPRTemplate(t, f)

	require.NoError(t, f.templates.Delete(ctx, tmpl.ID))

	err := f.templates.Delete(ctx, tmpl.ID)
	assert.Equal(t, entity.KindAlreadyDeleted, entity.KindOf(err))

	deleted, err := f.templates.Get(ctx, tmpl.ID)
	require.NoError(t, err, "soft-deleted templates stay resolvable by id")
	assert.True(t, deleted.IsDeleted())

	_, err = f.templates.GetActiveForDocumentType(ctx, "purchase_request")
	assert.Equal(t, entity.KindNotFound, entity.KindOf(err))

	page, err := f.templates.List(ctx, entity.ListParams{})
	require.NoError(t, err)
	assert.Equal(t, 0, page.Total)
	page, err = f.templates.List(ctx, entity.ListParams{IncludeDeleted: true})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)

	// a replacement takes the document type, so restoring the old one conflicts
	replacement := createPRTemplate(t, f)
	_, err = f.templates.Restore(ctx, tmpl.ID)
	assert.Equal(t, entity.KindConflict, entity.KindOf(err))

	require.NoError(t, f.templates.Delete(ctx, replacement.ID))
	restored, err := f.templates.Restore(ctx, tmpl.ID)
	require.NoError(t, err)
	assert.False(t, restored.IsDeleted())

	_, err = f.templates.Restore(ctx, tmpl.ID)
	assert.Equal(t, entity.KindConflict, entity.KindOf(err))
}

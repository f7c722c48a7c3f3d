package repository

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinical-report-engine/internal/domain"
)

func createTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "report-engine-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	store, err := NewSQLiteStore(filepath.Join(tmpDir, "test.db"), allTypesExist, logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func allTypesExist(string) bool { return true }

func assessmentSchema() domain.TemplateSchema {
	return domain.TemplateSchema{
		Sections: []domain.Section{
			{
				Name:  "assessment",
				Title: "Assessment",
				Order: 1,
				Fields: []domain.Field{
					{Name: "pain_score", Label: "Pain score", Type: "number"},
					{Name: "escalation_note", Label: "Escalation note", Type: "textarea"},
				},
			},
		},
	}
}

func createTestTemplate(t *testing.T, store *SQLiteStore) *domain.Template {
	t.Helper()
	tmpl := &domain.Template{
		Name:  "Progress Report",
		Type:  domain.PROGRESS,
		Scope: domain.SCOPE_SYSTEM,
	}
	require.NoError(t, store.CreateTemplate(context.Background(), tmpl))
	return tmpl
}

func TestNewSQLiteStore(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "report-engine-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	dbPath := filepath.Join(tmpDir, "engine.db")
	logger := logrus.New()

	store, err := NewSQLiteStore(dbPath, allTypesExist, logger)
	require.NoError(t, err)
	require.NotNil(t, store)
	defer store.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "Database file should exist")
}

func TestSQLiteStore_TemplateCRUD(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	tmpl := createTestTemplate(t, store)
	assert.NotEqual(t, uuid.Nil, tmpl.ID)
	assert.False(t, tmpl.CreatedAt.IsZero())

	loaded, err := store.GetTemplate(ctx, tmpl.ID)
	require.NoError(t, err)
	assert.Equal(t, tmpl.Name, loaded.Name)
	assert.Equal(t, domain.SCOPE_SYSTEM, loaded.Scope)

	listed, err := store.ListTemplates(ctx, domain.SCOPE_SYSTEM, 10, 0)
	require.NoError(t, err)
	assert.Len(t, listed, 1)

	listed, err = store.ListTemplates(ctx, domain.SCOPE_PRACTICE, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, listed)

	require.NoError(t, store.DeleteTemplate(ctx, tmpl.ID))
	_, err = store.GetTemplate(ctx, tmpl.ID)
	assert.ErrorIs(t, err, domain.ErrTemplateNotFound)
}

func TestSQLiteStore_CreateDraftVersion(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()
	tmpl := createTestTemplate(t, store)

	v1, err := store.CreateDraftVersion(ctx, tmpl.ID, assessmentSchema(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, v1.VersionNumber)
	assert.Equal(t, domain.STATUS_DRAFT, v1.ApprovalStatus)
	assert.False(t, v1.IsActive)

	v2, err := store.CreateDraftVersion(ctx, tmpl.ID, assessmentSchema(), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, v2.VersionNumber)

	versions, err := store.ListVersions(ctx, tmpl.ID)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, 1, versions[0].VersionNumber)
	assert.Equal(t, 2, versions[1].VersionNumber)
}

func TestSQLiteStore_CreateDraftVersion_RejectsInvalidSchema(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()
	tmpl := createTestTemplate(t, store)

	rules := []domain.ConditionalRule{
		{
			ID:               uuid.New(),
			TriggerFieldPath: "assessment.undeclared",
			Condition:        domain.TriggerCondition{Operator: domain.OP_IS_EMPTY},
			ActionType:       domain.ACTION_SHOW,
			TargetFieldPaths: []domain.FieldPath{"assessment.escalation_note"},
		},
	}

	_, err := store.CreateDraftVersion(ctx, tmpl.ID, assessmentSchema(), rules)
	require.Error(t, err)

	var schemaErr *domain.SchemaError
	assert.ErrorAs(t, err, &schemaErr)

	versions, err := store.ListVersions(ctx, tmpl.ID)
	require.NoError(t, err)
	assert.Empty(t, versions, "rejected draft must not be stored")
}

func TestSQLiteStore_CreateDraftVersion_UnknownTemplate(t *testing.T) {
	store := createTestStore(t)

	_, err := store.CreateDraftVersion(context.Background(), uuid.New(), assessmentSchema(), nil)
	assert.ErrorIs(t, err, domain.ErrTemplateNotFound)
}

func TestSQLiteStore_ApprovalLifecycle(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()
	tmpl := createTestTemplate(t, store)

	version, err := store.CreateDraftVersion(ctx, tmpl.ID, assessmentSchema(), nil)
	require.NoError(t, err)

	require.NoError(t, store.SubmitForApproval(ctx, version.ID))
	loaded, err := store.GetVersion(ctx, version.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.STATUS_PENDING, loaded.ApprovalStatus)

	require.NoError(t, store.Approve(ctx, version.ID, "dr.smith"))
	loaded, err = store.GetVersion(ctx, version.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.STATUS_APPROVED, loaded.ApprovalStatus)
	assert.Equal(t, "dr.smith", loaded.ApprovedBy)
}

func TestSQLiteStore_Reject(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()
	tmpl := createTestTemplate(t, store)

	version, err := store.CreateDraftVersion(ctx, tmpl.ID, assessmentSchema(), nil)
	require.NoError(t, err)
	require.NoError(t, store.SubmitForApproval(ctx, version.ID))
	require.NoError(t, store.Reject(ctx, version.ID, "missing discharge section"))

	loaded, err := store.GetVersion(ctx, version.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.STATUS_REJECTED, loaded.ApprovalStatus)
	assert.Equal(t, "missing discharge section", loaded.RejectedReason)
}

func TestSQLiteStore_IllegalTransitions(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()
	tmpl := createTestTemplate(t, store)

	version, err := store.CreateDraftVersion(ctx, tmpl.ID, assessmentSchema(), nil)
	require.NoError(t, err)

	// Approve straight from draft is illegal.
	err = store.Approve(ctx, version.ID, "dr.smith")
	var stateErr *domain.VersionStateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, domain.STATUS_DRAFT, stateErr.From)

	// Activate without approval is illegal.
	err = store.Activate(ctx, version.ID)
	var notApproved *domain.VersionNotApprovedError
	require.ErrorAs(t, err, &notApproved)

	// Unknown version is a not-found, not a state error.
	err = store.SubmitForApproval(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrVersionNotFound)
}

func TestSQLiteStore_Activate(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()
	tmpl := createTestTemplate(t, store)

	_, err := store.GetActive(ctx, tmpl.ID)
	assert.ErrorIs(t, err, domain.ErrNoActiveVersion)

	approve := func(v *domain.TemplateVersion) {
		require.NoError(t, store.SubmitForApproval(ctx, v.ID))
		require.NoError(t, store.Approve(ctx, v.ID, "dr.smith"))
	}

	v1, err := store.CreateDraftVersion(ctx, tmpl.ID, assessmentSchema(), nil)
	require.NoError(t, err)
	approve(v1)
	require.NoError(t, store.Activate(ctx, v1.ID))

	active, err := store.GetActive(ctx, tmpl.ID)
	require.NoError(t, err)
	assert.Equal(t, v1.ID, active.ID)

	// Activating a newer version atomically swaps the active flag.
	v2, err := store.CreateDraftVersion(ctx, tmpl.ID, assessmentSchema(), nil)
	require.NoError(t, err)
	approve(v2)
	require.NoError(t, store.Activate(ctx, v2.ID))

	active, err = store.GetActive(ctx, tmpl.ID)
	require.NoError(t, err)
	assert.Equal(t, v2.ID, active.ID)

	old, err := store.GetVersion(ctx, v1.ID)
	require.NoError(t, err)
	assert.False(t, old.IsActive)
}

func TestSQLiteStore_ConcurrentActivation_SingleActive(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()
	tmpl := createTestTemplate(t, store)

	var approved []*domain.TemplateVersion
	for i := 0; i < 5; i++ {
		v, err := store.CreateDraftVersion(ctx, tmpl.ID, assessmentSchema(), nil)
		require.NoError(t, err)
		require.NoError(t, store.SubmitForApproval(ctx, v.ID))
		require.NoError(t, store.Approve(ctx, v.ID, "dr.smith"))
		approved = append(approved, v)
	}

	var wg sync.WaitGroup
	wg.Add(len(approved))
	for _, v := range approved {
		go func(id uuid.UUID) {
			defer wg.Done()
			_ = store.Activate(ctx, id)
		}(v.ID)
	}
	wg.Wait()

	versions, err := store.ListVersions(ctx, tmpl.ID)
	require.NoError(t, err)

	activeCount := 0
	for _, v := range versions {
		if v.IsActive {
			activeCount++
		}
	}
	assert.Equal(t, 1, activeCount, "exactly one version must be active after racing activations")
}

func TestSQLiteStore_VersionRoundTripsRules(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()
	tmpl := createTestTemplate(t, store)

	rules := []domain.ConditionalRule{
		{
			ID:               uuid.New(),
			TriggerFieldPath: "assessment.pain_score",
			Condition:        domain.TriggerCondition{Operator: domain.OP_GREATER_THAN, Value: 7.0},
			ActionType:       domain.ACTION_SHOW,
			TargetFieldPaths: []domain.FieldPath{"assessment.escalation_note"},
			ExecutionOrder:   1,
		},
	}

	version, err := store.CreateDraftVersion(ctx, tmpl.ID, assessmentSchema(), rules)
	require.NoError(t, err)

	loaded, err := store.GetVersion(ctx, version.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Rules, 1)
	assert.Equal(t, domain.ACTION_SHOW, loaded.Rules[0].ActionType)
	assert.Equal(t, domain.FieldPath("assessment.pain_score"), loaded.Rules[0].TriggerFieldPath)
	require.Len(t, loaded.Schema.Sections, 1)
	assert.Equal(t, "assessment", loaded.Schema.Sections[0].Name)
}

func TestSQLiteStore_ReportInstanceLifecycle(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()
	tmpl := createTestTemplate(t, store)
	version, err := store.CreateDraftVersion(ctx, tmpl.ID, assessmentSchema(), nil)
	require.NoError(t, err)

	instance := &domain.ReportInstance{
		PatientID:         "patient_123",
		TemplateVersionID: version.ID,
		Answers:           domain.AnswerMap{"assessment.pain_score": 6.0},
		Status:            domain.REPORT_DRAFT,
	}
	require.NoError(t, store.CreateInstance(ctx, instance))
	assert.NotEqual(t, uuid.Nil, instance.ID)

	loaded, err := store.GetInstance(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, "patient_123", loaded.PatientID)
	assert.Equal(t, 6.0, loaded.Answers["assessment.pain_score"])
	assert.Equal(t, domain.REPORT_DRAFT, loaded.Status)
	assert.Nil(t, loaded.CompletedAt)

	now := time.Now().UTC()
	loaded.Answers["assessment.escalation_note"] = "escalated to supervisor"
	loaded.Provenance["assessment.escalation_note"] = domain.PROVENANCE_MANUAL
	loaded.Status = domain.REPORT_COMPLETED
	loaded.CompletedAt = &now
	require.NoError(t, store.UpdateInstance(ctx, loaded))

	reloaded, err := store.GetInstance(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.REPORT_COMPLETED, reloaded.Status)
	assert.NotNil(t, reloaded.CompletedAt)
	assert.Equal(t, domain.PROVENANCE_MANUAL, reloaded.Provenance["assessment.escalation_note"])

	byPatient, err := store.ListInstancesByPatient(ctx, "patient_123", 10, 0)
	require.NoError(t, err)
	assert.Len(t, byPatient, 1)
}

func TestSQLiteStore_GetInstance_NotFound(t *testing.T) {
	store := createTestStore(t)

	_, err := store.GetInstance(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrInstanceNotFound)
	assert.True(t, errors.Is(err, domain.ErrInstanceNotFound))
}

func TestSQLiteStore_ContentVersionAudit(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()
	tmpl := createTestTemplate(t, store)
	version, err := store.CreateDraftVersion(ctx, tmpl.ID, assessmentSchema(), nil)
	require.NoError(t, err)

	instance := &domain.ReportInstance{
		PatientID:         "patient_123",
		TemplateVersionID: version.ID,
		Status:            domain.REPORT_DRAFT,
	}
	require.NoError(t, store.CreateInstance(ctx, instance))

	fieldPath := domain.FieldPath("assessment.escalation_note")
	values := []string{"first draft", "ai rewrite", "final wording"}
	var ids []int64
	for i, value := range values {
		cv := &domain.ContentVersion{
			InstanceID: instance.ID,
			FieldPath:  fieldPath,
			Value:      value,
			Author:     "dr.smith",
			AISourced:  i == 1,
		}
		require.NoError(t, store.Append(ctx, cv))
		assert.NotZero(t, cv.ID)
		ids = append(ids, cv.ID)
	}

	history, err := store.ListByField(ctx, instance.ID, fieldPath)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "final wording", history[0].Value, "newest first")
	assert.True(t, history[1].AISourced)

	prior, err := store.LatestBefore(ctx, instance.ID, fieldPath, ids[2])
	require.NoError(t, err)
	assert.Equal(t, "ai rewrite", prior.Value)

	_, err = store.LatestBefore(ctx, instance.ID, fieldPath, ids[0])
	assert.ErrorIs(t, err, domain.ErrNotFound)

	all, err := store.ListByInstance(ctx, instance.ID, 2, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

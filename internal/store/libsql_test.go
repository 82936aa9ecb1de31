package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/triage/pkg/schema"
)

func newTestStore(t *testing.T) *LibSQLStore {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	s, err := NewLibSQLStore("file:" + dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() {
		_ = s.Close()
		_ = os.RemoveAll(dir)
	})
	return s
}

func seedSubmission(t *testing.T, s *LibSQLStore, templateID string, status schema.Status, submittedAt time.Time) *Submission {
	t.Helper()
	sub := &Submission{
		ID:          uuid.New().String(),
		TemplateID:  templateID,
		TenantID:    "tenant-1",
		Status:      status,
		SubmittedAt: submittedAt,
		FieldValues: []FieldValue{
			{FieldID: "severity", Value: "Critical Injury", Field: Field{Label: "Severity", Type: "select", Order: 1}},
			{FieldID: "age", Value: float64(17), Field: Field{Label: "Athlete Age", Type: "number", Order: 0}},
		},
	}
	require.NoError(t, s.CreateSubmission(context.Background(), sub))
	return sub
}

// --- Migrations ---

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))

	var version int
	require.NoError(t, s.db.QueryRow(`SELECT MAX(version) FROM schema_version`).Scan(&version))
	assert.Equal(t, 1, version)
}

func TestSplitStatements_SkipsComments(t *testing.T) {
	stmts := splitStatements("-- header\nCREATE TABLE a (x INT);\n-- only comment;\nCREATE TABLE b (y INT);")
	require.Len(t, stmts, 2)
	assert.Equal(t, "CREATE TABLE a (x INT)", stmts[0])
	assert.Equal(t, "CREATE TABLE b (y INT)", stmts[1])
}

// --- Submission Tests ---

func TestCreateAndGetSubmission(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	submitted := time.Now().UTC().Add(-2 * time.Hour).Truncate(time.Second)
	sub := seedSubmission(t, s, "tpl-1", schema.StatusNew, submitted)

	got, err := s.GetSubmission(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, sub.ID, got.ID)
	assert.Equal(t, schema.StatusNew, got.Status)
	assert.Equal(t, schema.PriorityUnset, got.Priority)
	assert.Empty(t, got.AssignedUserID)
	assert.WithinDuration(t, submitted, got.SubmittedAt, time.Second)

	// Values come back ordered by descriptor order.
	require.Len(t, got.FieldValues, 2)
	assert.Equal(t, "age", got.FieldValues[0].FieldID)
	assert.Equal(t, float64(17), got.FieldValues[0].Value)
	assert.Equal(t, "Athlete Age", got.FieldValues[0].Field.Label)
	assert.Equal(t, "Critical Injury", got.FieldValues[1].Value)
}

func TestGetSubmission_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetSubmission(context.Background(), "nonexistent")
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeNotFound))
}

func TestUpdateSubmission_PartialWrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sub := seedSubmission(t, s, "tpl-1", schema.StatusNew, time.Now().UTC())

	critical := schema.PriorityCritical
	require.NoError(t, s.UpdateSubmission(ctx, sub.ID, SubmissionUpdate{Priority: &critical}))

	review := schema.StatusUnderReview
	user := "user-9"
	now := time.Now().UTC()
	require.NoError(t, s.UpdateSubmission(ctx, sub.ID, SubmissionUpdate{
		Status:         &review,
		AssignedUserID: &user,
		AssignedAt:     &now,
	}))

	got, err := s.GetSubmission(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.PriorityCritical, got.Priority, "earlier update must survive")
	assert.Equal(t, schema.StatusUnderReview, got.Status)
	assert.Equal(t, "user-9", got.AssignedUserID)
	assert.NotNil(t, got.AssignedAt)
}

func TestUpdateSubmission_NotFound(t *testing.T) {
	s := newTestStore(t)
	closed := schema.StatusClosed
	err := s.UpdateSubmission(context.Background(), "missing", SubmissionUpdate{Status: &closed})
	assert.True(t, schema.HasCode(err, schema.ErrCodeNotFound))
}

func TestListSubmissions_FilterByStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-48 * time.Hour)

	open1 := seedSubmission(t, s, "tpl-1", schema.StatusNew, base)
	open2 := seedSubmission(t, s, "tpl-1", schema.StatusUnderReview, base.Add(time.Hour))
	seedSubmission(t, s, "tpl-1", schema.StatusResolved, base)
	seedSubmission(t, s, "tpl-2", schema.StatusNew, base)

	got, err := s.ListSubmissions(ctx, SubmissionFilter{
		TemplateID: "tpl-1",
		Statuses:   schema.OpenStatuses,
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, open1.ID, got[0].ID)
	assert.Equal(t, open2.ID, got[1].ID)
	assert.Len(t, got[1].FieldValues, 2, "field values are loaded for listed submissions")
}

// --- Automation Tests ---

func TestListAutomations_OrderedAndFiltered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mk := func(name string, order int, active, escalate bool) *Automation {
		a := &Automation{
			ID:                uuid.New().String(),
			TemplateID:        "tpl-1",
			Name:              name,
			Active:            active,
			Order:             order,
			TriggerConditions: json.RawMessage(`{"trigger":"ON_SUBMIT","conditions":[],"logic":"AND"}`),
			EscalationEnabled: escalate,
		}
		require.NoError(t, s.CreateAutomation(ctx, a))
		return a
	}
	second := mk("second", 1, true, true)
	first := mk("first", 0, true, false)
	mk("disabled", 2, false, true)

	got, err := s.ListAutomations(ctx, AutomationFilter{TemplateID: "tpl-1", ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, first.ID, got[0].ID)
	assert.Equal(t, second.ID, got[1].ID)
	assert.JSONEq(t, `{"actions":[]}`, string(got[0].Actions))
	assert.Equal(t, DefaultEscalationHours, got[0].EscalationHours)

	esc, err := s.ListAutomations(ctx, AutomationFilter{ActiveOnly: true, EscalationOnly: true})
	require.NoError(t, err)
	require.Len(t, esc, 1)
	assert.Equal(t, second.ID, esc[0].ID)
}

func TestIncrementExecution(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := &Automation{ID: "a1", TemplateID: "tpl-1", Name: "n", Active: true}
	require.NoError(t, s.CreateAutomation(ctx, a))

	now := time.Now().UTC()
	require.NoError(t, s.IncrementExecution(ctx, "a1", now))
	require.NoError(t, s.IncrementExecution(ctx, "a1", now))

	got, err := s.GetAutomation(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.ExecutionCount)
	require.NotNil(t, got.LastExecutedAt)

	assert.True(t, schema.HasCode(s.IncrementExecution(ctx, "nope", now), schema.ErrCodeNotFound))
}

// --- Audit / Notification / User Tests ---

func TestAppendAndListAudit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendAudit(ctx, &AuditRecord{
		SubmissionID: "s1", Action: schema.AuditStatusSet, OldValue: "NEW", NewValue: "UNDER_REVIEW", AutomationID: "a1",
	}))
	require.NoError(t, s.AppendAudit(ctx, &AuditRecord{
		SubmissionID: "s1", Action: schema.AuditPrioritySet, NewValue: "HIGH",
	}))

	recs, err := s.ListAudit(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, schema.AuditStatusSet, recs[0].Action)
	assert.Equal(t, "a1", recs[0].AutomationID)
	assert.Empty(t, recs[1].OldValue)
}

func TestNotificationsAndActiveUsers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertUser(ctx, &User{ID: "u1", TenantID: "t1", Email: "a@example.com", Active: true}))
	require.NoError(t, s.UpsertUser(ctx, &User{ID: "u2", TenantID: "t1", Email: "b@example.com", Active: false}))
	require.NoError(t, s.UpsertUser(ctx, &User{ID: "u3", TenantID: "t2", Email: "c@example.com", Active: true}))

	users, err := s.ListActiveUsers(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "u1", users[0].ID)

	require.NoError(t, s.CreateNotification(ctx, &Notification{
		ID: uuid.New().String(), TenantID: "t1", RecipientUserID: "u1", SubmissionID: "s1",
		Type: schema.NotificationTypeAutomation, Title: "hi", Message: "there", Priority: schema.NotificationPriorityNormal,
	}))

	notes, err := s.ListNotifications(ctx, NotificationFilter{RecipientUserID: "u1", UnreadOnly: true})
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "s1", notes[0].SubmissionID)
	assert.False(t, notes[0].Read)
}

func TestSubmissionDocument(t *testing.T) {
	sub := &Submission{
		ID:          "s1",
		Status:      schema.StatusNew,
		SubmittedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		FieldValues: []FieldValue{
			{FieldID: "f1", Value: "x", DisplayValue: "X", Field: Field{Label: "Label"}},
		},
	}
	doc := sub.Document()
	assert.Equal(t, "NEW", doc["status"])
	assert.Equal(t, "2026-01-02T03:04:05Z", doc["submittedAt"])
	f1 := doc["fields"].(map[string]any)["f1"].(map[string]any)
	assert.Equal(t, "X", f1["displayValue"])
	assert.Equal(t, "Label", f1["label"])
}

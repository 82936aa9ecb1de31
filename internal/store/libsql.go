package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/triage/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/triage.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// --- Submissions ---

// CreateSubmission inserts a submission with its field values. Field
// descriptors carried on the values are upserted into template_fields.
func (s *LibSQLStore) CreateSubmission(ctx context.Context, sub *Submission) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	status := sub.Status
	if status == "" {
		status = schema.StatusNew
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO submissions (id, template_id, tenant_id, status, priority, assigned_user_id, assigned_at, submitted_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.TemplateID, sub.TenantID, string(status), nullStr(string(sub.Priority)),
		nullStr(sub.AssignedUserID), nullTime(sub.AssignedAt), timeOrNow(sub.SubmittedAt), timeOrNow(sub.UpdatedAt),
	)
	if err != nil {
		return err
	}

	for _, fv := range sub.FieldValues {
		if fv.Field.Label != "" {
			_, err = tx.ExecContext(ctx,
				`INSERT INTO template_fields (id, template_id, label, field_type, sort_order) VALUES (?, ?, ?, ?, ?)
				 ON CONFLICT(template_id, id) DO UPDATE SET label=excluded.label, field_type=excluded.field_type, sort_order=excluded.sort_order`,
				fv.FieldID, sub.TemplateID, fv.Field.Label, fieldType(fv.Field.Type), fv.Field.Order,
			)
			if err != nil {
				return fmt.Errorf("upsert field %s: %w", fv.FieldID, err)
			}
		}
		value, err := marshalValue(fv.Value)
		if err != nil {
			return fmt.Errorf("marshal value %s: %w", fv.FieldID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO submission_values (submission_id, field_id, value, display_value) VALUES (?, ?, ?, ?)`,
			sub.ID, fv.FieldID, value, nullStr(fv.DisplayValue),
		); err != nil {
			return fmt.Errorf("insert value %s: %w", fv.FieldID, err)
		}
	}
	return tx.Commit()
}

const submissionColumns = `id, template_id, tenant_id, status, priority, assigned_user_id, assigned_at, submitted_at, updated_at`

// GetSubmission loads a submission with its field values and descriptors.
func (s *LibSQLStore) GetSubmission(ctx context.Context, id string) (*Submission, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE id = ?`, id)
	sub, err := scanSubmission(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("submission", id)
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadFieldValues(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// ListSubmissions returns submissions matching the filter, oldest first.
func (s *LibSQLStore) ListSubmissions(ctx context.Context, filter SubmissionFilter) ([]*Submission, error) {
	var where []string
	var args []any

	if filter.TemplateID != "" {
		where = append(where, "template_id = ?")
		args = append(args, filter.TemplateID)
	}
	if len(filter.Statuses) > 0 {
		marks := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			marks[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "status IN ("+strings.Join(marks, ", ")+")")
	}

	query := "SELECT " + submissionColumns + " FROM submissions"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY submitted_at ASC, id ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var subs []*Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	// Single connection: the cursor must be released before loading values.
	rows.Close()

	for _, sub := range subs {
		if err := s.loadFieldValues(ctx, sub); err != nil {
			return nil, err
		}
	}
	return subs, nil
}

// UpdateSubmission writes only the non-nil fields of update.
func (s *LibSQLStore) UpdateSubmission(ctx context.Context, id string, update SubmissionUpdate) error {
	var sets []string
	var args []any

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.Priority != nil {
		sets = append(sets, "priority = ?")
		args = append(args, nullStr(string(*update.Priority)))
	}
	if update.AssignedUserID != nil {
		sets = append(sets, "assigned_user_id = ?")
		args = append(args, nullStr(*update.AssignedUserID))
	}
	if update.AssignedAt != nil {
		sets = append(sets, "assigned_at = ?")
		args = append(args, *update.AssignedAt)
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().UTC(), id)

	res, err := s.db.ExecContext(ctx,
		"UPDATE submissions SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "submission", id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubmission(r rowScanner) (*Submission, error) {
	sub := &Submission{}
	var (
		status             string
		priority, assignee sql.NullString
		assignedAt         sql.NullTime
	)
	if err := r.Scan(&sub.ID, &sub.TemplateID, &sub.TenantID, &status, &priority, &assignee,
		&assignedAt, &sub.SubmittedAt, &sub.UpdatedAt); err != nil {
		return nil, err
	}
	sub.Status = schema.Status(status)
	sub.Priority = schema.Priority(priority.String)
	sub.AssignedUserID = assignee.String
	if assignedAt.Valid {
		sub.AssignedAt = &assignedAt.Time
	}
	return sub, nil
}

// loadFieldValues attaches field values, ordered by descriptor order.
// A value whose stored JSON cannot be parsed is loaded as absent.
func (s *LibSQLStore) loadFieldValues(ctx context.Context, sub *Submission) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT v.field_id, v.value, v.display_value, f.label, f.field_type, COALESCE(f.sort_order, 0) AS ord
		 FROM submission_values v
		 LEFT JOIN template_fields f ON f.template_id = ? AND f.id = v.field_id
		 WHERE v.submission_id = ?
		 ORDER BY ord ASC, v.field_id ASC`,
		sub.TemplateID, sub.ID,
	)
	if err != nil {
		return fmt.Errorf("load field values for %s: %w", sub.ID, err)
	}
	defer rows.Close()

	sub.FieldValues = sub.FieldValues[:0]
	for rows.Next() {
		var (
			fv                        FieldValue
			value, display, label, ft sql.NullString
		)
		if err := rows.Scan(&fv.FieldID, &value, &display, &label, &ft, &fv.Field.Order); err != nil {
			return err
		}
		fv.Value = unmarshalValue(value)
		fv.DisplayValue = display.String
		fv.Field.ID = fv.FieldID
		fv.Field.TemplateID = sub.TemplateID
		fv.Field.Label = label.String
		fv.Field.Type = fieldType(ft.String)
		sub.FieldValues = append(sub.FieldValues, fv)
	}
	return rows.Err()
}

// --- Automations ---

func (s *LibSQLStore) CreateAutomation(ctx context.Context, a *Automation) error {
	hours := a.EscalationHours
	if hours <= 0 {
		hours = DefaultEscalationHours
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO automations (id, template_id, name, active, run_order, trigger_conditions, actions,
		   escalation_enabled, escalation_hours, escalation_actions, execution_count, last_executed_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.TemplateID, a.Name, a.Active, a.Order, rawOrEmpty(a.TriggerConditions, "{}"),
		rawOrEmpty(a.Actions, `{"actions":[]}`), a.EscalationEnabled, hours, nullRaw(a.EscalationActions),
		a.ExecutionCount, nullTime(a.LastExecutedAt), timeOrNow(a.CreatedAt),
	)
	return err
}

const automationColumns = `id, template_id, name, active, run_order, trigger_conditions, actions,
	escalation_enabled, escalation_hours, escalation_actions, execution_count, last_executed_at, created_at`

func (s *LibSQLStore) GetAutomation(ctx context.Context, id string) (*Automation, error) {
	a, err := scanAutomation(s.db.QueryRowContext(ctx,
		`SELECT `+automationColumns+` FROM automations WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, storeNotFound("automation", id)
	}
	return a, err
}

// ListAutomations returns automations ordered by run order ascending, with
// creation time and id as tie breakers so equal orders stay deterministic.
func (s *LibSQLStore) ListAutomations(ctx context.Context, filter AutomationFilter) ([]*Automation, error) {
	var where []string
	var args []any

	if filter.TemplateID != "" {
		where = append(where, "template_id = ?")
		args = append(args, filter.TemplateID)
	}
	if filter.ActiveOnly {
		where = append(where, "active = 1")
	}
	if filter.EscalationOnly {
		where = append(where, "escalation_enabled = 1")
	}

	query := "SELECT " + automationColumns + " FROM automations"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY run_order ASC, created_at ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Automation
	for rows.Next() {
		a, err := scanAutomation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *LibSQLStore) IncrementExecution(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE automations SET execution_count = execution_count + 1, last_executed_at = ? WHERE id = ?`,
		at, id,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "automation", id)
}

func scanAutomation(r rowScanner) (*Automation, error) {
	a := &Automation{}
	var (
		trigger, actions string
		escalation       sql.NullString
		lastExecuted     sql.NullTime
	)
	if err := r.Scan(&a.ID, &a.TemplateID, &a.Name, &a.Active, &a.Order, &trigger, &actions,
		&a.EscalationEnabled, &a.EscalationHours, &escalation, &a.ExecutionCount, &lastExecuted, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.TriggerConditions = json.RawMessage(trigger)
	a.Actions = json.RawMessage(actions)
	a.EscalationActions = rawOrNil(escalation)
	if lastExecuted.Valid {
		a.LastExecutedAt = &lastExecuted.Time
	}
	return a, nil
}

// --- Audit ---

func (s *LibSQLStore) AppendAudit(ctx context.Context, rec *AuditRecord) error {
	at := timeOrNow(rec.At)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (submission_id, action, old_value, new_value, automation_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.SubmissionID, rec.Action, nullStr(rec.OldValue), nullStr(rec.NewValue), nullStr(rec.AutomationID), at,
	)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err == nil {
		rec.ID = id
	}
	rec.At = at
	return nil
}

func (s *LibSQLStore) ListAudit(ctx context.Context, submissionID string) ([]*AuditRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, submission_id, action, old_value, new_value, automation_id, created_at
		 FROM audit_log WHERE submission_id = ? ORDER BY id ASC`, submissionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*AuditRecord
	for rows.Next() {
		rec := &AuditRecord{}
		var oldV, newV, automationID sql.NullString
		if err := rows.Scan(&rec.ID, &rec.SubmissionID, &rec.Action, &oldV, &newV, &automationID, &rec.At); err != nil {
			return nil, err
		}
		rec.OldValue = oldV.String
		rec.NewValue = newV.String
		rec.AutomationID = automationID.String
		out = append(out, rec)
	}
	return out, rows.Err()
}

// --- Notifications ---

func (s *LibSQLStore) CreateNotification(ctx context.Context, n *Notification) error {
	n.CreatedAt = timeOrNow(n.CreatedAt)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications (id, tenant_id, recipient_user_id, submission_id, type, title, message, priority, is_read, action_url, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.TenantID, n.RecipientUserID, nullStr(n.SubmissionID), n.Type, n.Title, n.Message,
		n.Priority, n.Read, nullStr(n.ActionURL), n.CreatedAt,
	)
	return err
}

func (s *LibSQLStore) ListNotifications(ctx context.Context, filter NotificationFilter) ([]*Notification, error) {
	var where []string
	var args []any

	if filter.RecipientUserID != "" {
		where = append(where, "recipient_user_id = ?")
		args = append(args, filter.RecipientUserID)
	}
	if filter.SubmissionID != "" {
		where = append(where, "submission_id = ?")
		args = append(args, filter.SubmissionID)
	}
	if filter.UnreadOnly {
		where = append(where, "is_read = 0")
	}

	query := `SELECT id, tenant_id, recipient_user_id, submission_id, type, title, message, priority, is_read, action_url, created_at FROM notifications`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Notification
	for rows.Next() {
		n := &Notification{}
		var submissionID, actionURL sql.NullString
		if err := rows.Scan(&n.ID, &n.TenantID, &n.RecipientUserID, &submissionID, &n.Type, &n.Title,
			&n.Message, &n.Priority, &n.Read, &actionURL, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.SubmissionID = submissionID.String
		n.ActionURL = actionURL.String
		out = append(out, n)
	}
	return out, rows.Err()
}

// --- Users ---

func (s *LibSQLStore) UpsertUser(ctx context.Context, u *User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, tenant_id, email, name, active, created_at) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET tenant_id=excluded.tenant_id, email=excluded.email, name=excluded.name, active=excluded.active`,
		u.ID, u.TenantID, u.Email, nullStr(u.Name), u.Active, timeOrNow(u.CreatedAt),
	)
	return err
}

func (s *LibSQLStore) ListActiveUsers(ctx context.Context, tenantID string) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, email, name, active, created_at FROM users
		 WHERE tenant_id = ? AND active = 1 ORDER BY id ASC`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*User
	for rows.Next() {
		u := &User{}
		var name sql.NullString
		if err := rows.Scan(&u.ID, &u.TenantID, &u.Email, &name, &u.Active, &u.CreatedAt); err != nil {
			return nil, err
		}
		u.Name = name.String
		out = append(out, u)
	}
	return out, rows.Err()
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.TriageError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

func rawOrEmpty(r json.RawMessage, empty string) string {
	if len(r) == 0 {
		return empty
	}
	return string(r)
}

func fieldType(t string) string {
	if t == "" {
		return "text"
	}
	return t
}

func marshalValue(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func unmarshalValue(ns sql.NullString) any {
	if !ns.Valid {
		return nil
	}
	var v any
	if err := json.Unmarshal([]byte(ns.String), &v); err != nil {
		return nil
	}
	return v
}

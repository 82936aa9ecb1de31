package escalation

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/triage/internal/engine"
	"github.com/rendis/triage/internal/expressions"
	"github.com/rendis/triage/internal/rules"
	"github.com/rendis/triage/internal/store"
	"github.com/rendis/triage/internal/validation"
	"github.com/rendis/triage/pkg/schema"
)

var sweepNow = time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC)

// mockSweepStore satisfies store.Store for sweeper tests.
type mockSweepStore struct {
	store.Store
	mu          sync.Mutex
	automations []*store.Automation
	submissions []*store.Submission
	increments  int
}

func (m *mockSweepStore) ListAutomations(_ context.Context, filter store.AutomationFilter) ([]*store.Automation, error) {
	var out []*store.Automation
	for _, a := range m.automations {
		if filter.ActiveOnly && !a.Active {
			continue
		}
		if filter.EscalationOnly && !a.EscalationEnabled {
			continue
		}
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

func (m *mockSweepStore) ListSubmissions(_ context.Context, filter store.SubmissionFilter) ([]*store.Submission, error) {
	var out []*store.Submission
	for _, s := range m.submissions {
		if filter.TemplateID != "" && s.TemplateID != filter.TemplateID {
			continue
		}
		if len(filter.Statuses) > 0 {
			keep := false
			for _, st := range filter.Statuses {
				keep = keep || s.Status == st
			}
			if !keep {
				continue
			}
		}
		out = append(out, s.Clone())
	}
	return out, nil
}

func (m *mockSweepStore) IncrementExecution(context.Context, string, time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.increments++
	return nil
}

type firedAction struct {
	AutomationID string
	SubmissionID string
	Type         schema.ActionType
}

type recordingExecutor struct {
	mu    sync.Mutex
	fired []firedAction
}

func (r *recordingExecutor) Execute(_ context.Context, automationID string, p schema.ActionParams, sub *store.Submission) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fired = append(r.fired, firedAction{automationID, sub.ID, p.Type()})
	return nil
}

func (r *recordingExecutor) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.fired)
}

func newCompiler(t *testing.T) *engine.Compiler {
	t.Helper()
	v, err := validation.NewJSONSchemaValidator()
	require.NoError(t, err)
	return engine.NewCompiler(v, rules.NewEvaluator(nil, expressions.NewExprEngine(), nil))
}

func escalating(id string, order int, conditions string) *store.Automation {
	return &store.Automation{
		ID:                id,
		TemplateID:        "tpl-1",
		Active:            true,
		Order:             order,
		TriggerConditions: json.RawMessage(`{"trigger":"ON_SUBMIT","logic":"AND","conditions":` + conditions + `}`),
		Actions:           json.RawMessage(`{"actions":[{"type":"SET_STATUS","config":{"status":"CLOSED"}}]}`),
		EscalationEnabled: true,
		EscalationHours:   24,
		EscalationActions: json.RawMessage(`{"actions":[{"type":"SET_PRIORITY","config":{"priority":"CRITICAL"}}]}`),
	}
}

func submission(id string, status schema.Status, age time.Duration) *store.Submission {
	return &store.Submission{
		ID:          id,
		TemplateID:  "tpl-1",
		TenantID:    "t1",
		Status:      status,
		SubmittedAt: sweepNow.Add(-age),
		FieldValues: []store.FieldValue{{FieldID: "severity", Value: "Severe"}},
	}
}

func newTestSweeper(t *testing.T, st *mockSweepStore, exec *recordingExecutor, pool *engine.WorkerPool) *Sweeper {
	return NewSweeper(SweeperDeps{
		Store:    st,
		Compiler: newCompiler(t),
		Executor: exec,
		Pool:     pool,
		Now:      func() time.Time { return sweepNow },
	})
}

func TestSweep_FiresOncePerSweepAndRefires(t *testing.T) {
	st := &mockSweepStore{
		automations: []*store.Automation{escalating("a1", 0, `[{"field":"severity","operator":"equals","value":"Severe"}]`)},
		submissions: []*store.Submission{submission("s1", schema.StatusUnderReview, 25*time.Hour)},
	}
	exec := &recordingExecutor{}
	sw := newTestSweeper(t, st, exec, nil)

	report := sw.Sweep(context.Background())
	require.Equal(t, 1, exec.count())
	assert.Equal(t, firedAction{"a1", "s1", schema.ActionSetPriority}, exec.fired[0])
	assert.Equal(t, int64(1), report.Escalated)

	sw.Sweep(context.Background())
	assert.Equal(t, 2, exec.count(), "no escalated marker: a second sweep fires again")
	assert.Zero(t, st.increments, "sweeps do not touch execution counters")
}

func TestSweep_ResolvedNeverEscalated(t *testing.T) {
	st := &mockSweepStore{
		automations: []*store.Automation{escalating("a1", 0, `[]`)},
		submissions: []*store.Submission{
			submission("resolved", schema.StatusResolved, 100*time.Hour),
			submission("closed", schema.StatusClosed, 100*time.Hour),
		},
	}
	exec := &recordingExecutor{}

	newTestSweeper(t, st, exec, nil).Sweep(context.Background())
	assert.Zero(t, exec.count())
}

func TestSweep_Threshold(t *testing.T) {
	st := &mockSweepStore{
		automations: []*store.Automation{escalating("a1", 0, `[]`)},
		submissions: []*store.Submission{
			submission("young", schema.StatusNew, 23*time.Hour),
			submission("exact", schema.StatusNew, 24*time.Hour),
		},
	}
	exec := &recordingExecutor{}

	newTestSweeper(t, st, exec, nil).Sweep(context.Background())
	require.Equal(t, 1, exec.count())
	assert.Equal(t, "exact", exec.fired[0].SubmissionID)
}

func TestSweep_ConditionsMustMatch(t *testing.T) {
	st := &mockSweepStore{
		automations: []*store.Automation{escalating("a1", 0, `[{"field":"severity","operator":"equals","value":"Minor"}]`)},
		submissions: []*store.Submission{submission("s1", schema.StatusNew, 48*time.Hour)},
	}
	exec := &recordingExecutor{}

	report := newTestSweeper(t, st, exec, nil).Sweep(context.Background())
	assert.Zero(t, exec.count())
	assert.Equal(t, int64(1), report.Examined)
	assert.Zero(t, report.Escalated)
}

func TestSweep_DisabledEscalationIgnored(t *testing.T) {
	a := escalating("a1", 0, `[]`)
	a.EscalationEnabled = false
	st := &mockSweepStore{
		automations: []*store.Automation{a},
		submissions: []*store.Submission{submission("s1", schema.StatusNew, 48*time.Hour)},
	}
	exec := &recordingExecutor{}

	newTestSweeper(t, st, exec, nil).Sweep(context.Background())
	assert.Zero(t, exec.count())
}

func TestSweep_MalformedAutomationSkipped(t *testing.T) {
	broken := escalating("broken", 0, `[]`)
	broken.EscalationActions = json.RawMessage(`{"actions":[{"type":"SET_STATUS","config":{"status":"OPEN"}}]}`)
	st := &mockSweepStore{
		automations: []*store.Automation{broken, escalating("ok", 1, `[]`)},
		submissions: []*store.Submission{submission("s1", schema.StatusNew, 48*time.Hour)},
	}
	exec := &recordingExecutor{}

	report := newTestSweeper(t, st, exec, nil).Sweep(context.Background())
	require.Equal(t, 1, exec.count())
	assert.Equal(t, "ok", exec.fired[0].AutomationID)
	assert.Equal(t, 1, report.Skipped)
}

func TestSweep_PoolKeepsAutomationOrder(t *testing.T) {
	var subs []*store.Submission
	for _, id := range []string{"s1", "s2", "s3", "s4", "s5"} {
		subs = append(subs, submission(id, schema.StatusUnderReview, 30*time.Hour))
	}
	st := &mockSweepStore{
		automations: []*store.Automation{escalating("second", 1, `[]`), escalating("first", 0, `[]`)},
		submissions: subs,
	}
	exec := &recordingExecutor{}
	pool := engine.NewWorkerPool(3)
	defer pool.Shutdown()

	report := newTestSweeper(t, st, exec, pool).Sweep(context.Background())

	require.Equal(t, 10, exec.count())
	assert.Equal(t, int64(10), report.Escalated)
	for i, f := range exec.fired {
		want := "first"
		if i >= 5 {
			want = "second"
		}
		assert.Equal(t, want, f.AutomationID, "position %d", i)
	}
}

// trailingNilStore appends a nil submission to every listing, which makes
// sweepAutomation panic after it has submitted the valid ones.
type trailingNilStore struct {
	*mockSweepStore
}

func (s trailingNilStore) ListSubmissions(ctx context.Context, filter store.SubmissionFilter) ([]*store.Submission, error) {
	subs, err := s.mockSweepStore.ListSubmissions(ctx, filter)
	return append(subs, nil), err
}

// delayedExecutor sleeps per automation before recording.
type delayedExecutor struct {
	recordingExecutor
	delays map[string]time.Duration
}

func (d *delayedExecutor) Execute(ctx context.Context, automationID string, p schema.ActionParams, sub *store.Submission) error {
	time.Sleep(d.delays[automationID])
	return d.recordingExecutor.Execute(ctx, automationID, p, sub)
}

func TestSweep_PanicStillWaitsForSubmittedEscalations(t *testing.T) {
	st := trailingNilStore{&mockSweepStore{
		automations: []*store.Automation{escalating("first", 0, `[]`), escalating("second", 1, `[]`)},
		submissions: []*store.Submission{
			submission("s1", schema.StatusNew, 30*time.Hour),
			submission("s2", schema.StatusNew, 30*time.Hour),
			submission("s3", schema.StatusNew, 30*time.Hour),
		},
	}}
	exec := &delayedExecutor{delays: map[string]time.Duration{"first": 50 * time.Millisecond}}
	pool := engine.NewWorkerPool(8)
	defer pool.Shutdown()

	report := NewSweeper(SweeperDeps{
		Store:    st,
		Compiler: newCompiler(t),
		Executor: exec,
		Pool:     pool,
		Now:      func() time.Time { return sweepNow },
	}).Sweep(context.Background())

	assert.Equal(t, 2, report.Skipped, "both automations hit the nil submission")
	require.Equal(t, 6, exec.count())
	for i, f := range exec.fired {
		want := "first"
		if i >= 3 {
			want = "second"
		}
		assert.Equal(t, want, f.AutomationID, "position %d", i)
	}
}

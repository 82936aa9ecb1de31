package validation

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/triage/internal/store"
	"github.com/rendis/triage/pkg/schema"
)

func newValidator(t *testing.T) *JSONSchemaValidator {
	t.Helper()
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)
	return v
}

func TestNewJSONSchemaValidator(t *testing.T) {
	v := newValidator(t)
	assert.NotNil(t, v.triggerSchema)
	assert.NotNil(t, v.actionsSchema)
}

// --- DecodeTrigger ---

func TestDecodeTrigger_Valid(t *testing.T) {
	v := newValidator(t)
	spec, err := v.DecodeTrigger(json.RawMessage(`{
		"trigger": "ON_SUBMIT",
		"logic": "OR",
		"conditions": [
			{"field": "_priority", "operator": "equals", "value": "CRITICAL"},
			{"field": "F2", "operator": "greaterThan", "value": 5},
			{"operator": "cel", "value": "fields.F1 == 'knee'"}
		]
	}`))
	require.NoError(t, err)
	assert.Equal(t, schema.TriggerOnSubmit, spec.Trigger)
	assert.Equal(t, schema.LogicOr, spec.Logic)
	require.Len(t, spec.Conditions, 3)
	assert.Equal(t, float64(5), spec.Conditions[1].Value)
	assert.Equal(t, schema.OpCEL, spec.Conditions[2].Operator)
}

func TestDecodeTrigger_LogicDefaultsToAnd(t *testing.T) {
	v := newValidator(t)
	spec, err := v.DecodeTrigger(json.RawMessage(`{"trigger":"ON_STATUS_CHANGE","conditions":[]}`))
	require.NoError(t, err)
	assert.Equal(t, schema.LogicAnd, spec.Logic)
	assert.Empty(t, spec.Conditions)
}

func TestDecodeTrigger_Malformed(t *testing.T) {
	v := newValidator(t)
	cases := map[string]string{
		"empty":            ``,
		"null":             `null`,
		"not json":         `{"trigger":`,
		"missing trigger":  `{"conditions":[]}`,
		"unknown trigger":  `{"trigger":"ON_DELETE"}`,
		"unknown operator": `{"trigger":"ON_SUBMIT","conditions":[{"field":"F1","operator":"startsWith","value":"a"}]}`,
		"unknown logic":    `{"trigger":"ON_SUBMIT","logic":"XOR"}`,
		"missing field":    `{"trigger":"ON_SUBMIT","conditions":[{"operator":"equals","value":"a"}]}`,
		"cel without expr": `{"trigger":"ON_SUBMIT","conditions":[{"operator":"cel"}]}`,
		"expr not string":  `{"trigger":"ON_SUBMIT","conditions":[{"operator":"expr","value":3}]}`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := v.DecodeTrigger(json.RawMessage(doc))
			require.Error(t, err)
			assert.True(t, schema.HasCode(err, schema.ErrCodeMalformedRule))
		})
	}
}

func TestDecodeTrigger_ErrorDetails(t *testing.T) {
	v := newValidator(t)
	_, err := v.DecodeTrigger(json.RawMessage(`{"trigger":"ON_SUBMIT","conditions":[{"field":"F1","operator":"nope"}]}`))
	require.Error(t, err)

	var te *schema.TriageError
	require.ErrorAs(t, err, &te)
	issues, ok := te.Details["errors"].([]schema.ValidationIssue)
	require.True(t, ok)
	require.NotEmpty(t, issues)
	assert.Equal(t, DocTrigger, issues[0].Document)
	assert.Contains(t, issues[0].Path, "/conditions/0")
}

// --- DecodeActions ---

func TestDecodeActions_AllTypes(t *testing.T) {
	v := newValidator(t)
	params, err := v.DecodeActions(DocActions, json.RawMessage(`{"actions":[
		{"type":"SEND_EMAIL","config":{"to":["coach@example.com","field:F1","jq:.fields.c.value[]"],"subject":"s","body":"b"}},
		{"type":"SET_PRIORITY","config":{"priority":"HIGH"}},
		{"type":"ASSIGN_USER","config":{"userId":"u1"}},
		{"type":"CREATE_NOTIFICATION","config":{"title":"t","message":"m","userIds":[]}},
		{"type":"SET_STATUS","config":{"status":"UNDER_REVIEW"}}
	]}`))
	require.NoError(t, err)
	require.Len(t, params, 5)

	assert.Equal(t, []string{"coach@example.com", "field:F1", "jq:.fields.c.value[]"}, params[0].(*schema.SendEmail).To)
	assert.Equal(t, schema.PriorityHigh, params[1].(*schema.SetPriority).Priority)
	assert.Equal(t, "u1", params[2].(*schema.AssignUser).UserID)
	assert.Equal(t, "t", params[3].(*schema.CreateNotification).Title)
	assert.Equal(t, schema.StatusUnderReview, params[4].(*schema.SetStatus).Status)
}

func TestDecodeActions_EmptyDocument(t *testing.T) {
	v := newValidator(t)
	for _, doc := range []string{``, `null`, `{}`, `{"actions":[]}`} {
		params, err := v.DecodeActions(DocEscalationActions, json.RawMessage(doc))
		require.NoError(t, err, doc)
		assert.Empty(t, params, doc)
	}
}

func TestDecodeActions_Malformed(t *testing.T) {
	v := newValidator(t)
	cases := map[string]string{
		"unknown type":         `{"actions":[{"type":"DELETE_SUBMISSION","config":{}}]}`,
		"missing type":         `{"actions":[{"config":{}}]}`,
		"bad priority":         `{"actions":[{"type":"SET_PRIORITY","config":{"priority":"URGENT"}}]}`,
		"bad status":           `{"actions":[{"type":"SET_STATUS","config":{"status":"OPEN"}}]}`,
		"assign without user":  `{"actions":[{"type":"ASSIGN_USER","config":{}}]}`,
		"email without to":     `{"actions":[{"type":"SEND_EMAIL","config":{"subject":"x"}}]}`,
		"email to not strings": `{"actions":[{"type":"SEND_EMAIL","config":{"to":[1]}}]}`,
		"actions not array":    `{"actions":{}}`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := v.DecodeActions(DocActions, json.RawMessage(doc))
			require.Error(t, err)
			assert.True(t, schema.HasCode(err, schema.ErrCodeMalformedRule))
		})
	}
}

// --- Lint ---

func TestLint_CollectsAllDocuments(t *testing.T) {
	v := newValidator(t)
	res := v.Lint(&store.Automation{
		TriggerConditions: json.RawMessage(`{"trigger":"ON_SUBMIT","conditions":[{"field":"F1","operator":"bogus"}]}`),
		Actions:           json.RawMessage(`{"actions":[{"type":"SET_STATUS","config":{"status":"OPEN"}}]}`),
		EscalationEnabled: true,
		EscalationHours:   0,
	})
	assert.False(t, res.Valid())

	docs := map[string]bool{}
	for _, issue := range res.Errors {
		docs[issue.Document] = true
	}
	assert.True(t, docs[DocTrigger])
	assert.True(t, docs[DocActions])
	assert.True(t, docs[DocEscalationActions])
}

func TestLint_RecipientChecks(t *testing.T) {
	v := newValidator(t)
	res := v.Lint(&store.Automation{
		TriggerConditions: json.RawMessage(`{"trigger":"ON_SUBMIT","conditions":[]}`),
		Actions: json.RawMessage(`{"actions":[{"type":"SEND_EMAIL","config":{
			"to":["coach","jq:.fields[","field:"],"subject":"s","body":"b"}}]}`),
	})
	assert.False(t, res.Valid())
	assert.Len(t, res.Errors, 2, "bad jq query and empty field reference")

	var warned bool
	for _, w := range res.Warnings {
		if w.Path == "/actions/0/config/to" {
			warned = true
		}
	}
	assert.True(t, warned, "literal without @ is a warning")
}

func TestLint_ValidAutomation(t *testing.T) {
	v := newValidator(t)
	res := v.Lint(&store.Automation{
		TriggerConditions: json.RawMessage(`{"trigger":"ON_SUBMIT","conditions":[{"field":"_priority","operator":"equals","value":"CRITICAL"}],"logic":"AND"}`),
		Actions:           json.RawMessage(`{"actions":[{"type":"SET_STATUS","config":{"status":"UNDER_REVIEW"}}]}`),
		EscalationEnabled: true,
		EscalationHours:   24,
		EscalationActions: json.RawMessage(`{"actions":[{"type":"SET_PRIORITY","config":{"priority":"CRITICAL"}}]}`),
	})
	assert.True(t, res.Valid())
	assert.Empty(t, res.Warnings)
	assert.NoError(t, res.ToError())
}

func TestDecode_ConcurrentAccess(t *testing.T) {
	v := newValidator(t)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := v.DecodeTrigger(json.RawMessage(`{"trigger":"ON_SUBMIT"}`))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
}

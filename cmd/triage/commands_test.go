package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/triage/internal/validation"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "automation.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestValidateFile(t *testing.T) {
	v, err := validation.NewJSONSchemaValidator()
	require.NoError(t, err)

	t.Run("single valid object", func(t *testing.T) {
		path := writeFile(t, `{
			"id": "a1",
			"name": "critical injuries",
			"trigger_conditions": {"trigger": "ON_SUBMIT", "logic": "AND",
				"conditions": [{"field": "severity", "operator": "equals", "value": "Critical"}]},
			"actions": {"actions": [{"type": "SET_PRIORITY", "config": {"priority": "CRITICAL"}}]}
		}`)
		got, err := validateFile(path, v)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "a1", got[0].ID)
		assert.True(t, got[0].Result.Valid(), "%+v", got[0].Result.Errors)
	})

	t.Run("array with malformed entry", func(t *testing.T) {
		path := writeFile(t, `[
			{"id": "ok", "trigger_conditions": {"trigger": "ON_SUBMIT"}},
			{"id": "bad", "trigger_conditions": {"trigger": "ON_DELETE"}}
		]`)
		got, err := validateFile(path, v)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.True(t, got[0].Result.Valid())
		assert.False(t, got[1].Result.Valid())
	})

	t.Run("unparseable file", func(t *testing.T) {
		_, err := validateFile(writeFile(t, `{"id": `), v)
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := validateFile(filepath.Join(t.TempDir(), "nope.json"), v)
		assert.Error(t, err)
	})
}

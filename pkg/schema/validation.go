package schema

import "fmt"

// ValidationSeverity indicates whether an issue is an error or warning.
type ValidationSeverity string

const (
	SeverityError   ValidationSeverity = "error"
	SeverityWarning ValidationSeverity = "warning"
)

// ValidationIssue is one problem found in a stored automation document.
type ValidationIssue struct {
	Document string             `json:"document"` // trigger_conditions | actions | escalation_actions
	Path     string             `json:"path"`
	Message  string             `json:"message"`
	Severity ValidationSeverity `json:"severity"`
}

// ValidationResult aggregates the issues of all documents of one automation.
type ValidationResult struct {
	Errors   []ValidationIssue `json:"errors,omitempty"`
	Warnings []ValidationIssue `json:"warnings,omitempty"`
}

// Valid returns true if there are no errors (warnings are acceptable).
func (r *ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

// AddError appends an error-severity issue.
func (r *ValidationResult) AddError(document, path, message string) {
	r.Errors = append(r.Errors, ValidationIssue{
		Document: document, Path: path, Message: message, Severity: SeverityError,
	})
}

// AddWarning appends a warning-severity issue.
func (r *ValidationResult) AddWarning(document, path, message string) {
	r.Warnings = append(r.Warnings, ValidationIssue{
		Document: document, Path: path, Message: message, Severity: SeverityWarning,
	})
}

// ToError converts the result into a MALFORMED_RULE error, or nil when valid.
func (r *ValidationResult) ToError() error {
	if r.Valid() {
		return nil
	}

	first := r.Errors[0]
	msg := fmt.Sprintf("%s %s: %s", first.Document, first.Path, first.Message)
	if len(r.Errors) > 1 {
		msg = fmt.Sprintf("automation has %d invalid entries", len(r.Errors))
	}

	return NewError(ErrCodeMalformedRule, msg).
		WithDetails(map[string]any{
			"errors":   r.Errors,
			"warnings": r.Warnings,
		})
}

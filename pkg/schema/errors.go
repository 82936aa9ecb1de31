package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeValidation    = "VALIDATION_ERROR"
	ErrCodeMalformedRule = "MALFORMED_RULE"
	ErrCodeActionFailed  = "ACTION_FAILED"
	ErrCodeEvaluation    = "EVALUATION_ERROR"
	ErrCodeEmailFailed   = "EMAIL_FAILED"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeStore         = "STORE_ERROR"
)

// TriageError is the structured error type used across the engine.
type TriageError struct {
	Code         string         `json:"code"`
	Message      string         `json:"message"`
	Details      map[string]any `json:"details,omitempty"`
	AutomationID string         `json:"automation_id,omitempty"`
	Cause        error          `json:"-"`
}

func (e *TriageError) Error() string {
	if e.AutomationID != "" {
		return fmt.Sprintf("[%s] automation %s: %s", e.Code, e.AutomationID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *TriageError) Unwrap() error {
	return e.Cause
}

// NewError creates a new TriageError.
func NewError(code, message string) *TriageError {
	return &TriageError{Code: code, Message: message}
}

// NewErrorf creates a new TriageError with a formatted message.
func NewErrorf(code, format string, args ...any) *TriageError {
	return &TriageError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithAutomation attaches an automation ID to the error.
func (e *TriageError) WithAutomation(id string) *TriageError {
	e.AutomationID = id
	return e
}

// WithCause attaches an underlying cause.
func (e *TriageError) WithCause(err error) *TriageError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *TriageError) WithDetails(details map[string]any) *TriageError {
	e.Details = details
	return e
}

// HasCode reports whether err, or any error it wraps, is a TriageError with the given code.
func HasCode(err error, code string) bool {
	var te *TriageError
	for err != nil {
		if !errors.As(err, &te) {
			return false
		}
		if te.Code == code {
			return true
		}
		err = te.Cause
	}
	return false
}

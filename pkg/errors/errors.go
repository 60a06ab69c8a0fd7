package errors

import (
	"fmt"
)

// ParseError represents a plan document parsing failure with optional line metadata.
type ParseError struct {
	Path    string
	Line    int
	Message string
	Err     error
}

// NewParseError constructs a ParseError.
func NewParseError(path string, line int, err error) error {
	message := ""
	if err != nil {
		message = err.Error()
	}
	return &ParseError{Path: path, Line: line, Message: message, Err: err}
}

func (e *ParseError) Error() string {
	if e == nil {
		return ""
	}

	if e.Line > 0 {
		return fmt.Sprintf("parse error: %s:%d: %s", e.Path, e.Line, e.Message)
	}
	return fmt.Sprintf("parse error: %s: %s", e.Path, e.Message)
}

// Unwrap exposes the underlying error.
func (e *ParseError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ValidationError captures plan or answer validation issues. Fields maps an
// offending key to its message so every invalid field is reported at once.
type ValidationError struct {
	Field   string
	Message string
	Fields  map[string]string
	Err     error
}

// NewValidationError constructs a ValidationError for a single field.
func NewValidationError(field, message string, err error) error {
	return &ValidationError{Field: field, Message: message, Err: err}
}

// NewFieldErrors constructs a ValidationError covering multiple keys.
func NewFieldErrors(fields map[string]string) error {
	return &ValidationError{Message: "one or more fields are invalid", Fields: fields}
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	if e.Field != "" {
		return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// Unwrap exposes the underlying error.
func (e *ValidationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ExecutionError represents a runtime failure while executing a step.
type ExecutionError struct {
	StepID string
	Err    error
}

// NewExecutionError constructs an ExecutionError.
func NewExecutionError(stepID string, err error) error {
	return &ExecutionError{StepID: stepID, Err: err}
}

func (e *ExecutionError) Error() string {
	if e == nil {
		return ""
	}
	if e.StepID != "" {
		return fmt.Sprintf("execution error on step %s: %v", e.StepID, e.Err)
	}
	return fmt.Sprintf("execution error: %v", e.Err)
}

// Unwrap exposes the root error.
func (e *ExecutionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ToolError carries a provider error code and HTTP status from a tool call.
// The executor's retry policy classifies transience from Code and HTTPStatus.
type ToolError struct {
	Tool       string
	Code       string
	HTTPStatus int
	Message    string
	Err        error
}

// NewToolError constructs a ToolError.
func NewToolError(tool, code string, httpStatus int, err error) error {
	message := ""
	if err != nil {
		message = err.Error()
	}
	return &ToolError{Tool: tool, Code: code, HTTPStatus: httpStatus, Message: message, Err: err}
}

func (e *ToolError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] %s: %s", e.Tool, e.Code, e.Message)
	}
	return fmt.Sprintf("tool error [%s]: %s", e.Tool, e.Message)
}

// Unwrap exposes the underlying error.
func (e *ToolError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// PlaceholderUnsupportedError is raised when an argument references a prior
// step's raw result (a $step-<n>.* expression). Cross-step data flow must go
// through named variables bound at commit time, so these references fail the
// step immediately and are never retried.
type PlaceholderUnsupportedError struct {
	Expression string
}

// NewPlaceholderUnsupportedError constructs a PlaceholderUnsupportedError.
func NewPlaceholderUnsupportedError(expression string) error {
	return &PlaceholderUnsupportedError{Expression: expression}
}

func (e *PlaceholderUnsupportedError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("unsupported placeholder %q: step result references are not allowed, bind a named variable instead", e.Expression)
}

// ExpansionError indicates a fan-out step whose expansion source did not
// resolve to an array. The affected step is dropped; siblings proceed.
type ExpansionError struct {
	StepID     string
	Expression string
	Err        error
}

// NewExpansionError constructs an ExpansionError.
func NewExpansionError(stepID, expression string, err error) error {
	return &ExpansionError{StepID: stepID, Expression: expression, Err: err}
}

func (e *ExpansionError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("expansion error on step %s: %q did not resolve to an array", e.StepID, e.Expression)
}

// Unwrap exposes the underlying error.
func (e *ExpansionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

package errors

import (
	stderrors "errors"
	"fmt"
)

// ConfigurationError represents bad or missing input detected before any
// execution starts: a bad project path, an unknown runner, a token budget
// below the floor, or an unreachable container runtime. It is never retried
// automatically and is surfaced to the caller immediately.
type ConfigurationError struct {
	Message    string
	Suggestion string
}

func (e *ConfigurationError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%s (%s)", e.Message, e.Suggestion)
	}
	return e.Message
}

// NewConfigurationError creates a new ConfigurationError
func NewConfigurationError(message, suggestion string) *ConfigurationError {
	return &ConfigurationError{Message: message, Suggestion: suggestion}
}

// ConflictError signals that a run is already in flight for the requested
// project path. The caller may retry once that run finishes.
type ConflictError struct {
	ProjectPath string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("a test run is already in flight for %s", e.ProjectPath)
}

// NewConflictError creates a new ConflictError
func NewConflictError(projectPath string) *ConflictError {
	return &ConflictError{ProjectPath: projectPath}
}

// ExecutionError represents a strategy that could not even start the test
// process or container (runner binary missing, container start failure).
type ExecutionError struct {
	Op      string
	Message string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// NewExecutionError creates a new ExecutionError
func NewExecutionError(op, message string) *ExecutionError {
	return &ExecutionError{Op: op, Message: message}
}

// ParseError represents runner output the parser could not make sense of at
// all. The raw output is preserved verbatim alongside the owning record so a
// human can diagnose the parser gap.
type ParseError struct {
	Runner  string
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("cannot parse %s output: %s", e.Runner, e.Message)
}

// NewParseError creates a new ParseError
func NewParseError(runner, message string) *ParseError {
	return &ParseError{Runner: runner, Message: message}
}

// NotFoundError signals a lookup for a run id that was never stored.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("test run not found: %s", e.ID)
}

// NewNotFoundError creates a new NotFoundError
func NewNotFoundError(id string) *NotFoundError {
	return &NotFoundError{ID: id}
}

// IsConfiguration reports whether err is a ConfigurationError.
func IsConfiguration(err error) bool {
	var e *ConfigurationError
	return stderrors.As(err, &e)
}

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	var e *ConflictError
	return stderrors.As(err, &e)
}

// IsExecution reports whether err is an ExecutionError.
func IsExecution(err error) bool {
	var e *ExecutionError
	return stderrors.As(err, &e)
}

// IsParse reports whether err is a ParseError.
func IsParse(err error) bool {
	var e *ParseError
	return stderrors.As(err, &e)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var e *NotFoundError
	return stderrors.As(err, &e)
}

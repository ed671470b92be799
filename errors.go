package veld

import (
	"errors"
	"fmt"
	"strings"
)

// Container errors
var (
	// Registration and startup errors
	ErrComponentAlreadyRegistered = errors.New("component already registered")
	ErrFactoryNil                 = errors.New("component factory is nil")
	ErrAmbiguousPrimary           = errors.New("multiple primary components registered for type")
	ErrMissingDependency          = errors.New("component depends on non-existent component")
	ErrCircularDependency         = errors.New("circular dependency detected")
	ErrContainerNotRefreshed      = errors.New("container has not been refreshed")
	ErrContainerDestroyed         = errors.New("container has been destroyed")

	// Resolution errors
	ErrComponentNotFound = errors.New("component not found")
	ErrAmbiguousType     = errors.New("multiple components match requested type, none primary")
	ErrUnknownScope      = errors.New("no scope registered for scope id")
	ErrScopeNotActive    = errors.New("scope is not active")

	// Resolution target errors
	ErrTargetNotPointer    = errors.New("target must be a non-nil pointer")
	ErrTargetIncompatible  = errors.New("component cannot be assigned to target")
	ErrGraphNodeExists     = errors.New("graph node already exists")
	ErrUnknownExportFormat = errors.New("unknown graph export format")

	// Pipeline and resilience errors
	ErrCircuitOpen       = errors.New("circuit breaker is open")
	ErrBulkheadFull      = errors.New("bulkhead concurrency limit reached")
	ErrInvocationTimeout = errors.New("invocation exceeded configured timeout")
	ErrAccessDenied      = errors.New("access denied")
	ErrValidationFailed  = errors.New("argument validation failed")
	ErrAdviceHandlerNil  = errors.New("advice handler is nil")

	// Worker pool and scheduler errors
	ErrPoolStopped      = errors.New("worker pool is stopped")
	ErrScheduledTaskNil = errors.New("scheduled task function is nil")
)

// CircularDependencyError reports a dependency cycle found in the
// component graph. Path holds the cycle from the first revisited node
// back to itself, inclusive.
type CircularDependencyError struct {
	Path []string
}

// Error implements the error interface.
func (e *CircularDependencyError) Error() string {
	return fmt.Sprintf("%s: %s", ErrCircularDependency, strings.Join(e.Path, " -> "))
}

// Unwrap allows errors.Is(err, ErrCircularDependency).
func (e *CircularDependencyError) Unwrap() error {
	return ErrCircularDependency
}

// Violation is a single validation failure for one argument field.
type Violation struct {
	Field   string
	Rule    string
	Message string
}

// ValidationError aggregates the individual violations found while
// validating a call's arguments.
type ValidationError struct {
	Method     string
	Violations []Violation
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s: %d violation(s)", ErrValidationFailed, e.Method, len(e.Violations))
}

// Unwrap allows errors.Is(err, ErrValidationFailed).
func (e *ValidationError) Unwrap() error {
	return ErrValidationFailed
}

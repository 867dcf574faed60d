// Package util provides utility functions and common error types.
package util

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the reconciliation error taxonomy
var (
	ErrMissingPrerequisite = errors.New("missing prerequisite")
	ErrInUse               = errors.New("resource in use")
	ErrInvalidIntent       = errors.New("invalid intent")
	ErrValidationFailed    = errors.New("validation failed")
	ErrBoundaryFailure     = errors.New("hardware boundary failure")
	ErrReferenceInvariant  = errors.New("reference invariant violation")
	ErrNotFound            = errors.New("resource not found")
)

// ValidationError represents one or more validation failures
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return "validation failed: " + e.Errors[0]
	}
	return fmt.Sprintf("validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidationFailed
}

// NewValidationError creates a validation error from messages
func NewValidationError(messages ...string) *ValidationError {
	return &ValidationError{Errors: messages}
}

// ValidationBuilder helps accumulate validation errors
type ValidationBuilder struct {
	errors []string
}

// Add adds an error message if condition is false
func (v *ValidationBuilder) Add(condition bool, message string) *ValidationBuilder {
	if !condition {
		v.errors = append(v.errors, message)
	}
	return v
}

// AddError adds an error message unconditionally
func (v *ValidationBuilder) AddError(message string) *ValidationBuilder {
	v.errors = append(v.errors, message)
	return v
}

// AddErrorf adds a formatted error message
func (v *ValidationBuilder) AddErrorf(format string, args ...interface{}) *ValidationBuilder {
	v.errors = append(v.errors, fmt.Sprintf(format, args...))
	return v
}

// HasErrors returns true if there are validation errors
func (v *ValidationBuilder) HasErrors() bool {
	return len(v.errors) > 0
}

// Build returns the validation error or nil if no errors
func (v *ValidationBuilder) Build() error {
	if len(v.errors) == 0 {
		return nil
	}
	return &ValidationError{Errors: v.errors}
}

// IntentError marks an intent record as malformed or contradictory.
// The record is dropped; no object mutation is attempted.
type IntentError struct {
	Table string
	Key   string
	Err   error
}

func (e *IntentError) Error() string {
	return fmt.Sprintf("invalid intent %s|%s: %v", e.Table, e.Key, e.Err)
}

func (e *IntentError) Unwrap() []error {
	return []error{ErrInvalidIntent, e.Err}
}

// NewIntentError wraps err (usually a *ValidationError) as an invalid intent.
func NewIntentError(table, key string, err error) *IntentError {
	return &IntentError{Table: table, Key: key, Err: err}
}

// InvalidIntentf is a shorthand for a single-message invalid intent.
func InvalidIntentf(table, key, format string, args ...interface{}) *IntentError {
	return NewIntentError(table, key, NewValidationError(fmt.Sprintf(format, args...)))
}

// DependencyError represents a missing prerequisite
type DependencyError struct {
	Resource      string
	DependsOn     string
	DependsOnType string
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("%s requires %s '%s' to exist", e.Resource, e.DependsOnType, e.DependsOn)
}

func (e *DependencyError) Unwrap() error {
	return ErrMissingPrerequisite
}

// NewDependencyError creates a dependency error
func NewDependencyError(resource, dependsOnType, dependsOn string) *DependencyError {
	return &DependencyError{
		Resource:      resource,
		DependsOn:     dependsOn,
		DependsOnType: dependsOnType,
	}
}

// InUseError represents a resource that cannot be removed because it's in use
type InUseError struct {
	Resource string
	UsedBy   []string
}

func (e *InUseError) Error() string {
	if len(e.UsedBy) == 0 {
		return fmt.Sprintf("%s is in use", e.Resource)
	}
	return fmt.Sprintf("%s is in use by: %s", e.Resource, strings.Join(e.UsedBy, ", "))
}

func (e *InUseError) Unwrap() error {
	return ErrInUse
}

// NewInUseError creates an in-use error
func NewInUseError(resource string, usedBy ...string) *InUseError {
	return &InUseError{
		Resource: resource,
		UsedBy:   usedBy,
	}
}

// BoundaryError reports a failed hardware abstraction call.
//
// Transient failures are retried with bounded backoff. Exhausted failures
// (the hardware ran out of a resource) are fatal and restart the process.
type BoundaryError struct {
	Op        string
	Object    string
	Transient bool
	Exhausted bool
	Err       error
}

func (e *BoundaryError) Error() string {
	kind := "permanent"
	switch {
	case e.Exhausted:
		kind = "exhausted"
	case e.Transient:
		kind = "transient"
	}
	return fmt.Sprintf("%s %s failed (%s): %v", e.Op, e.Object, kind, e.Err)
}

func (e *BoundaryError) Unwrap() []error {
	return []error{ErrBoundaryFailure, e.Err}
}

// NewBoundaryError creates a transient boundary failure.
func NewBoundaryError(op, object string, err error) *BoundaryError {
	return &BoundaryError{Op: op, Object: object, Transient: true, Err: err}
}

// ReferenceError is a reference table contract violation (release of an
// unknown key, release by a non-owner, double free).
type ReferenceError struct {
	Key    string
	Owner  string
	Reason string
}

func (e *ReferenceError) Error() string {
	if e.Owner == "" {
		return fmt.Sprintf("reference %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("reference %s (owner %s): %s", e.Key, e.Owner, e.Reason)
}

func (e *ReferenceError) Unwrap() error {
	return ErrReferenceInvariant
}

// IsDeferrable reports whether err means "try again once something else
// converges": a missing prerequisite or an object still in use.
func IsDeferrable(err error) bool {
	return errors.Is(err, ErrMissingPrerequisite) || errors.Is(err, ErrInUse)
}

// IsTransient reports whether err is a boundary failure worth retrying.
func IsTransient(err error) bool {
	var be *BoundaryError
	if errors.As(err, &be) {
		return be.Transient && !be.Exhausted
	}
	return false
}

// IsFatal reports whether err requires a process restart.
func IsFatal(err error) bool {
	var be *BoundaryError
	return errors.As(err, &be) && be.Exhausted
}

// Package errors provides structured error types for taskara.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
)

// Code represents a unique error code.
type Code string

// Error codes for taskara.
const (
	// Lookup errors
	CodeNotFound Code = "NOT_FOUND"

	// Write errors
	CodeConflict          Code = "CONFLICT"
	CodeInvalidTransition Code = "INVALID_TRANSITION"
	CodeValidation        Code = "VALIDATION"

	// Read errors
	CodeDeserialization Code = "DESERIALIZATION"

	// Backend errors
	CodeStorage Code = "STORAGE"
	CodeTimeout Code = "TIMEOUT"

	// Config errors
	CodeConfigInvalid Code = "CONFIG_INVALID"
)

// Category groups error codes by how a caller should react.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryNotFound
	CategoryBadRequest
	CategoryConflict
	CategoryInternal
	CategoryTimeout
	CategoryUnavailable
)

// codeCategories maps error codes to their categories.
var codeCategories = map[Code]Category{
	CodeNotFound:          CategoryNotFound,
	CodeConflict:          CategoryConflict,
	CodeInvalidTransition: CategoryBadRequest,
	CodeValidation:        CategoryBadRequest,
	CodeDeserialization:   CategoryInternal,
	CodeStorage:           CategoryUnavailable,
	CodeTimeout:           CategoryTimeout,
	CodeConfigInvalid:     CategoryBadRequest,
}

// TaskError is the structured error type for taskara.
type TaskError struct {
	Code      Code   `json:"code"`
	What      string `json:"what"`
	Why       string `json:"why,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
	Cause     error  `json:"-"`

	// From and To are set for INVALID_TRANSITION errors.
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
}

// Error implements the error interface.
func (e *TaskError) Error() string {
	var b strings.Builder
	b.WriteString(e.What)
	if e.Why != "" {
		b.WriteString(": ")
		b.WriteString(e.Why)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *TaskError) Unwrap() error {
	return e.Cause
}

// Category returns the error category.
func (e *TaskError) Category() Category {
	if cat, ok := codeCategories[e.Code]; ok {
		return cat
	}
	return CategoryUnknown
}

// MarshalJSON implements json.Marshaler.
func (e *TaskError) MarshalJSON() ([]byte, error) {
	type alias TaskError
	aux := struct {
		*alias
		CauseMsg string `json:"cause,omitempty"`
	}{
		alias: (*alias)(e),
	}
	if e.Cause != nil {
		aux.CauseMsg = e.Cause.Error()
	}
	return json.Marshal(aux)
}

// Is reports whether target is a TaskError with the same code.
func (e *TaskError) Is(target error) bool {
	t, ok := target.(*TaskError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithCause returns a copy of the error with the given cause.
func (e *TaskError) WithCause(err error) *TaskError {
	cp := *e
	cp.Cause = err
	return &cp
}

// Sentinels for errors.Is checks. Only the code is compared.
var (
	ErrNotFound          = &TaskError{Code: CodeNotFound, What: "not found"}
	ErrConflict          = &TaskError{Code: CodeConflict, What: "conflict"}
	ErrInvalidTransition = &TaskError{Code: CodeInvalidTransition, What: "invalid transition"}
	ErrDeserialization   = &TaskError{Code: CodeDeserialization, What: "deserialization failed"}
	ErrStorage           = &TaskError{Code: CodeStorage, What: "storage failure"}
	ErrTimeout           = &TaskError{Code: CodeTimeout, What: "timeout"}
	ErrValidation        = &TaskError{Code: CodeValidation, What: "validation failed"}
	ErrConfigInvalid     = &TaskError{Code: CodeConfigInvalid, What: "invalid configuration"}
)

// --- Error constructors ---

// NotFound returns an error for a missing entity.
func NotFound(kind, id string) *TaskError {
	return &TaskError{
		Code: CodeNotFound,
		What: fmt.Sprintf("%s %s not found", kind, id),
	}
}

// Conflict returns an error for a uniqueness or optimistic-concurrency violation.
func Conflict(kind, id, why string) *TaskError {
	return &TaskError{
		Code: CodeConflict,
		What: fmt.Sprintf("%s %s conflict", kind, id),
		Why:  why,
	}
}

// UniqueViolation returns a conflict raised by a backend uniqueness constraint.
func UniqueViolation(op string, cause error) *TaskError {
	return &TaskError{
		Code:  CodeConflict,
		What:  op,
		Why:   "unique constraint violated",
		Cause: cause,
	}
}

// StaleVersion returns a conflict for a write carrying an outdated version.
func StaleVersion(kind, id string, expected int64) *TaskError {
	return &TaskError{
		Code: CodeConflict,
		What: fmt.Sprintf("%s %s was modified concurrently", kind, id),
		Why:  fmt.Sprintf("expected version %d is stale; reload and retry", expected),
	}
}

// InvalidTransition returns an error for an illegal status change.
func InvalidTransition(id, from, to string) *TaskError {
	return &TaskError{
		Code: CodeInvalidTransition,
		What: fmt.Sprintf("task %s cannot transition from %s to %s", id, from, to),
		From: from,
		To:   to,
	}
}

// Deserialization returns an error for a stored value that does not match its expected shape.
func Deserialization(kind, id, column string, cause error) *TaskError {
	return &TaskError{
		Code:  CodeDeserialization,
		What:  fmt.Sprintf("decode %s %s column %s", kind, id, column),
		Cause: cause,
	}
}

// Storage returns a backend failure.
func Storage(op string, retryable bool, cause error) *TaskError {
	return &TaskError{
		Code:      CodeStorage,
		What:      op,
		Retryable: retryable,
		Cause:     cause,
	}
}

// Timeout returns an error for a backend operation that exceeded its deadline.
func Timeout(op string, cause error) *TaskError {
	return &TaskError{
		Code:      CodeTimeout,
		What:      op,
		Why:       "backend deadline exceeded",
		Retryable: false,
		Cause:     cause,
	}
}

// Validation returns an error for a rejected input value.
func Validation(field, reason string) *TaskError {
	return &TaskError{
		Code: CodeValidation,
		What: fmt.Sprintf("invalid %s", field),
		Why:  reason,
	}
}

// ConfigInvalid returns an error for invalid configuration.
func ConfigInvalid(field, reason string) *TaskError {
	return &TaskError{
		Code: CodeConfigInvalid,
		What: fmt.Sprintf("invalid configuration: %s", field),
		Why:  reason,
	}
}

// AsTaskError returns the first TaskError in err's chain, or nil.
func AsTaskError(err error) *TaskError {
	var te *TaskError
	if stderrors.As(err, &te) {
		return te
	}
	return nil
}

// CodeOf returns the code of the first TaskError in err's chain.
func CodeOf(err error) Code {
	if te := AsTaskError(err); te != nil {
		return te.Code
	}
	return ""
}

func IsNotFound(err error) bool          { return stderrors.Is(err, ErrNotFound) }
func IsConflict(err error) bool          { return stderrors.Is(err, ErrConflict) }
func IsInvalidTransition(err error) bool { return stderrors.Is(err, ErrInvalidTransition) }
func IsDeserialization(err error) bool   { return stderrors.Is(err, ErrDeserialization) }
func IsStorage(err error) bool           { return stderrors.Is(err, ErrStorage) }
func IsTimeout(err error) bool           { return stderrors.Is(err, ErrTimeout) }
func IsValidation(err error) bool        { return stderrors.Is(err, ErrValidation) }

// IsRetryable reports whether the caller may retry an idempotent operation.
func IsRetryable(err error) bool {
	if te := AsTaskError(err); te != nil {
		return te.Retryable
	}
	return false
}

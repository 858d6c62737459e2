// Package domain defines core types, interfaces, and errors for the access engine.
package domain

import "fmt"

// NotFoundError indicates a resource was not found.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// ValidationError indicates invalid input. Field names the violated field
// when the error is tied to a specific request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return e.Field + ": " + e.Message
	}
	return e.Message
}

// ConflictError indicates a conflict (e.g., duplicate username).
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

// PrincipalNotActiveError indicates an operation requires an active principal
// but the named principal is expired, revoked, or past its validity window.
type PrincipalNotActiveError struct {
	Username string
}

func (e *PrincipalNotActiveError) Error() string {
	return fmt.Sprintf("principal %q is not active", e.Username)
}

// AlreadyRevealedError indicates a credential was already disclosed and the
// reveal policy forbids a second disclosure.
type AlreadyRevealedError struct {
	Message string
}

func (e *AlreadyRevealedError) Error() string { return e.Message }

// KeyNotFoundError indicates a sealed secret references an encryption key
// version that is not loaded. Non-retryable.
type KeyNotFoundError struct {
	Version string
}

func (e *KeyNotFoundError) Error() string {
	return fmt.Sprintf("encryption key version %q is not available", e.Version)
}

// IntegrityError indicates authentication-tag verification failed during
// unsealing. Signals tampering or corruption and is never retried.
type IntegrityError struct {
	Message string
}

func (e *IntegrityError) Error() string { return e.Message }

// DependentObjectsError indicates a database role still owns objects and
// cannot be dropped.
type DependentObjectsError struct {
	Role string
}

func (e *DependentObjectsError) Error() string {
	return fmt.Sprintf("role %q still owns database objects", e.Role)
}

// UnavailableError indicates an infrastructure failure (ledger unreachable,
// target engine timeout). Retryable with a bounded budget.
type UnavailableError struct {
	Message string
}

func (e *UnavailableError) Error() string { return e.Message }

// ErrNotFound creates a NotFoundError with a formatted message.
func ErrNotFound(format string, args ...interface{}) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// ErrValidation creates a ValidationError naming the violated field.
func ErrValidation(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ErrConflict creates a ConflictError with a formatted message.
func ErrConflict(format string, args ...interface{}) *ConflictError {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

// ErrAlreadyRevealed creates an AlreadyRevealedError with a formatted message.
func ErrAlreadyRevealed(format string, args ...interface{}) *AlreadyRevealedError {
	return &AlreadyRevealedError{Message: fmt.Sprintf(format, args...)}
}

// ErrIntegrity creates an IntegrityError with a formatted message.
func ErrIntegrity(format string, args ...interface{}) *IntegrityError {
	return &IntegrityError{Message: fmt.Sprintf(format, args...)}
}

// ErrUnavailable creates an UnavailableError with a formatted message.
func ErrUnavailable(format string, args ...interface{}) *UnavailableError {
	return &UnavailableError{Message: fmt.Sprintf(format, args...)}
}

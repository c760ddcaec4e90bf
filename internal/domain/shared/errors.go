// Package shared contains the error taxonomy used by every domain package.
package shared

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Base error kinds. Callers match them with errors.Is().
var (
	// ErrNotFound is returned when a referenced entity (account, chapter,
	// section) does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrAlreadyExists is returned when a write-once record is already present.
	ErrAlreadyExists = errors.New("entity already exists")

	// ErrIdentityNotResolved is returned when an operation receives something
	// that is not a resolved account id, e.g. a raw platform id.
	ErrIdentityNotResolved = errors.New("identity not resolved")

	// ErrBackendUnavailable is returned when the datastore cannot be reached.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrPersistence is returned when a write is rejected or fails.
	ErrPersistence = errors.New("persistence failure")

	// ErrInvalidInput covers malformed arguments.
	ErrInvalidInput = errors.New("invalid input")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g. "account", "progress", "achievement"
	Op      string // operation that failed, e.g. "Resolve", "RecomputeChapter"
	Kind    error  // base error kind for errors.Is()
	Message string
	Err     error // underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching against both the kind and the cause.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message, Err: err}
}

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsAlreadyExists checks if the error is an "already exists" error.
func IsAlreadyExists(err error) bool { return errors.Is(err, ErrAlreadyExists) }

// IsIdentityNotResolved reports whether err carries ErrIdentityNotResolved.
func IsIdentityNotResolved(err error) bool { return errors.Is(err, ErrIdentityNotResolved) }

// IsBackendUnavailable reports whether err carries ErrBackendUnavailable.
func IsBackendUnavailable(err error) bool { return errors.Is(err, ErrBackendUnavailable) }

// IsPersistence reports whether err carries ErrPersistence.
func IsPersistence(err error) bool { return errors.Is(err, ErrPersistence) }

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool { return errors.Is(err, ErrInvalidInput) }

// IsRetryable reports whether repeating the same call may succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrBackendUnavailable) || errors.Is(err, ErrAlreadyExists)
}

// ConsistencyWarning describes data that disagrees with the catalog or with
// other stored data. It is logged and never returned to callers.
type ConsistencyWarning struct {
	Domain  string
	Op      string
	Message string
	Details map[string]any
}

// String renders the warning with details in a stable order.
func (w ConsistencyWarning) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s.%s: %s", w.Domain, w.Op, w.Message)
	if len(w.Details) == 0 {
		return b.String()
	}
	keys := make([]string, 0, len(w.Details))
	for k := range w.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, w.Details[k])
	}
	return b.String()
}

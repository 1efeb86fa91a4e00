/*
errors.go - Centralized error types for the settlement engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Collaborator packages (store, api) wrap these with additional context.

ERROR CATEGORIES:
  1. Validation errors - Business rule violations; block submission, fully
     recoverable by the user adjusting input. Surfaced as a field-keyed set.
  2. Store errors - Persistence failures, including optimistic-concurrency
     conflicts on shared contract pools.

  Data-unavailable conditions (missing or malformed references) are NOT
  errors: the ledger degrades them to locked/unavailable, because upstream
  loading failures are the persistence collaborator's concern.

USAGE:
  if errors.Is(err, settlement.ErrConcurrentModification) {
      // reload the snapshot and retry the save
  }

SEE ALSO:
  - totals.go: Produces ValidationErrors before any mutation is attempted
  - store/sqlite: Returns ErrConcurrentModification on version mismatch
*/
package settlement

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is the root of every field-keyed validation failure.
	ErrValidation = errors.New("requisition validation failed")

	// ErrConcurrentModification is returned when optimistic locking detects
	// a conflicting write to a contract's shared pools.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrContractNotFound is returned when a referenced contract doesn't exist.
	ErrContractNotFound = errors.New("contract not found")

	// ErrRequisitionNotFound is returned when a referenced requisition doesn't exist.
	ErrRequisitionNotFound = errors.New("requisition not found")

	// ErrAmendmentNotFound is returned when a referenced amendment doesn't exist.
	ErrAmendmentNotFound = errors.New("amendment not found")
)

// =============================================================================
// VALIDATION ERRORS - Field-keyed, recoverable
// =============================================================================

// FieldError is a single validation failure keyed by the field (or concept)
// that caused it.
type FieldError struct {
	Field   string
	Code    string
	Message string
}

// ValidationErrors collects every hard failure found before save. The
// assembler is only ever invoked when this is empty.
type ValidationErrors struct {
	Errors []FieldError
}

func (v *ValidationErrors) Add(field, code, message string) {
	v.Errors = append(v.Errors, FieldError{Field: field, Code: code, Message: message})
}

func (v *ValidationErrors) Empty() bool { return len(v.Errors) == 0 }

// ByField returns failures grouped for the UI collaborator.
func (v *ValidationErrors) ByField() map[string][]FieldError {
	out := make(map[string][]FieldError, len(v.Errors))
	for _, e := range v.Errors {
		out[e.Field] = append(out[e.Field], e)
	}
	return out
}

func (v *ValidationErrors) Error() string {
	if v.Empty() {
		return "requisition validation failed"
	}
	fields := make([]string, 0, len(v.Errors))
	seen := make(map[string]bool)
	for _, e := range v.Errors {
		if !seen[e.Field] {
			seen[e.Field] = true
			fields = append(fields, e.Field)
		}
	}
	sort.Strings(fields)
	return fmt.Sprintf("requisition validation failed: %s", strings.Join(fields, ", "))
}

func (v *ValidationErrors) Unwrap() error { return ErrValidation }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry with a
// fresh snapshot.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrContractNotFound) ||
		errors.Is(err, ErrRequisitionNotFound) ||
		errors.Is(err, ErrAmendmentNotFound)
}

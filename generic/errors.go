/*
errors.go - Centralized error types for the fee engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  The fees package and the stores wrap these with additional context.

ERROR CATEGORIES:
  1. Not-found errors - Missing students, versions, components
  2. Validation errors - Malformed periods, amounts, effective dates
  3. Store errors - Optimistic-lock conflicts, duplicate rows
  4. Run errors - Per-student failures collected by batch runs

USAGE:
  Callers branch with errors.Is / errors.As:

    if errors.Is(err, generic.ErrConcurrentModification) {
        // re-read and recompute
    }

SEE ALSO:
  - fees/generator.go: Retries on ErrConcurrentModification
  - fees/batch.go: Collects StudentError values per student
  - api/handlers.go: Maps errors to HTTP status codes
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrStudentNotFound is returned when the student directory has no such student.
	ErrStudentNotFound = errors.New("student not found")

	// ErrVersionNotFound is returned when a fee version id does not exist.
	ErrVersionNotFound = errors.New("fee version not found")

	// ErrComponentNotFound is returned when a ledger row does not exist.
	ErrComponentNotFound = errors.New("fee component not found")

	// ErrRunNotFound is returned when a generation run record does not exist.
	ErrRunNotFound = errors.New("generation run not found")

	// ErrConcurrentModification is returned when optimistic locking detects a conflict.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrDuplicateComponent is returned when inserting a ledger row whose
	// natural key already exists.
	ErrDuplicateComponent = errors.New("fee component already exists")

	// ErrInvalidPeriod is returned when a period is malformed (end before start).
	ErrInvalidPeriod = errors.New("invalid period: end before start")

	// ErrInvalidAmount is returned for negative fee or payment amounts.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidEffectiveDate is returned when a hike does not start after
	// the current version.
	ErrInvalidEffectiveDate = errors.New("effective date must be after current version start")

	// ErrLockHeld is returned when another run already holds a student's lock.
	ErrLockHeld = errors.New("lock already held")

	// ErrInvalidStrategy is returned for an unknown calculation strategy name.
	ErrInvalidStrategy = errors.New("unknown calculation strategy")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// StudentError is the user-visible failure of a per-student computation.
// The message never includes the cause; Unwrap exposes it for logging.
type StudentError struct {
	StudentID StudentID
	Err       error
}

func (e *StudentError) Error() string {
	return fmt.Sprintf("failed to compute fees for student %s", e.StudentID)
}

func (e *StudentError) Unwrap() error {
	return e.Err
}

// OverpaymentError reports a payment larger than what is still pending.
type OverpaymentError struct {
	Pending   Money
	Requested Money
}

func (e *OverpaymentError) Error() string {
	return fmt.Sprintf("payment %s exceeds pending amount %s", e.Requested, e.Pending)
}

func (e *OverpaymentError) Unwrap() error {
	return ErrInvalidAmount
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrDuplicateComponent)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidEffectiveDate) ||
		errors.Is(err, ErrInvalidStrategy)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrStudentNotFound) ||
		errors.Is(err, ErrVersionNotFound) ||
		errors.Is(err, ErrComponentNotFound) ||
		errors.Is(err, ErrRunNotFound)
}

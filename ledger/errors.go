/*
errors.go - Centralized error types for the cash ledger

ERROR CATEGORIES:
  1. Validation  - rejected before any persistence call (bad amount, same
                   register, unknown register, missing justification)
  2. Not found   - referenced register/movement/closing/posting is missing
  3. Conflict    - state does not allow the operation (already deleted,
                   closing already decided, duplicate business reference)
  4. Persistence - the store failed; the transaction was rolled back and the
                   caller may retry by hand (no automatic retry)
  5. Taxonomy    - a stored movement has a kind this build does not know

The HTTP layer maps categories to status codes with the Is* helpers below.
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrInvalidAmount           = errors.New("amount must be greater than zero")
	ErrAmountTooLarge          = errors.New("amount exceeds the maximum")
	ErrAmountTooPrecise        = errors.New("amount has too many digits")
	ErrSameRegister            = errors.New("origin and destination registers are the same")
	ErrInvalidMovement         = errors.New("movement roles do not match its kind")
	ErrUnknownMovementKind     = errors.New("unknown movement kind")
	ErrUnknownPaymentMethod    = errors.New("unknown payment method")
	ErrMissingReference        = errors.New("business reference is required")
	ErrActorRequired           = errors.New("actor is required")
	ErrJustificationRequired   = errors.New("justification is required when variance is not zero")
	ErrRejectionReasonRequired = errors.New("rejection reason is required")
	ErrInvalidDateRange        = errors.New("invalid date range: end before start")
	ErrFutureDate              = errors.New("date is after the current business day")
	ErrNameRequired            = errors.New("register name is required")

	ErrRegisterNotFound = errors.New("register not found")
	ErrMovementNotFound = errors.New("movement not found")
	ErrClosingNotFound  = errors.New("closing not found")
	ErrPostingNotFound  = errors.New("posting not found")

	ErrRegisterExists         = errors.New("register already exists")
	ErrMovementDeleted        = errors.New("movement already deleted")
	ErrDuplicateReference     = errors.New("business reference already has a movement")
	ErrClosingExists          = errors.New("register already has a closing for this date")
	ErrClosingNotPending      = errors.New("closing is not pending approval")
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrPostingApplied         = errors.New("posting already applied")

	ErrPersistence = errors.New("persistence failure")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError names the offending input field.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// PersistenceError wraps a store failure. The operation had no visible effect.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() []error { return []error{ErrPersistence, e.Err} }

// UnknownKindError reports a stored movement whose kind is not recognized.
type UnknownKindError struct {
	MovementID MovementID
	Kind       MovementKind
}

func (e *UnknownKindError) Error() string {
	return fmt.Sprintf("movement %s: unknown kind %q", e.MovementID, e.Kind)
}

func (e *UnknownKindError) Unwrap() error { return ErrUnknownMovementKind }

// =============================================================================
// ERROR HELPERS
// =============================================================================

func IsValidation(err error) bool {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return true
	}
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrAmountTooLarge) ||
		errors.Is(err, ErrAmountTooPrecise) ||
		errors.Is(err, ErrSameRegister) ||
		errors.Is(err, ErrInvalidMovement) ||
		errors.Is(err, ErrUnknownPaymentMethod) ||
		errors.Is(err, ErrMissingReference) ||
		errors.Is(err, ErrActorRequired) ||
		errors.Is(err, ErrJustificationRequired) ||
		errors.Is(err, ErrRejectionReasonRequired) ||
		errors.Is(err, ErrInvalidDateRange) ||
		errors.Is(err, ErrFutureDate) ||
		errors.Is(err, ErrNameRequired)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrRegisterNotFound) ||
		errors.Is(err, ErrMovementNotFound) ||
		errors.Is(err, ErrClosingNotFound) ||
		errors.Is(err, ErrPostingNotFound)
}

// IsConflict reports errors caused by what is already stored, including a
// stored movement whose kind cannot be reversed.
func IsConflict(err error) bool {
	return errors.Is(err, ErrRegisterExists) ||
		errors.Is(err, ErrMovementDeleted) ||
		errors.Is(err, ErrDuplicateReference) ||
		errors.Is(err, ErrClosingExists) ||
		errors.Is(err, ErrClosingNotPending) ||
		errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrPostingApplied) ||
		errors.Is(err, ErrUnknownMovementKind)
}

// IsRetryable returns true if re-triggering the same operation may succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrPersistence) || errors.Is(err, ErrConcurrentModification)
}

// storeErr keeps domain errors from the store as they are and wraps
// everything else as a PersistenceError.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsValidation(err) || IsNotFound(err) || IsConflict(err) || errors.Is(err, ErrPersistence) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

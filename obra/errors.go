/*
errors.go - Centralized error taxonomy for the engine

PURPOSE:
  All domain error types in one place. Every error here is an expected,
  recoverable-by-caller condition: it is returned synchronously with enough
  context (current status, allowed next states, conflicting id) for the
  caller to retry or present to a user. None of them should be logged as
  unexpected. Infrastructure failures (storage connectivity etc.) propagate
  unchanged; the engine never retries or compensates for them.

ERROR CATEGORIES:
  1. Lifecycle errors    - Illegal transitions, unready budgets
  2. Ledger errors       - Missing or non-editable versions/items
  3. Concurrency errors  - Races on current-version mutation
  4. Validation errors   - Bad quantities/prices, duplicate ticket links

USAGE:
  Callers match with errors.Is / errors.As:

    if errors.Is(err, obra.ErrIllegalTransition) {
        var it *obra.IllegalTransitionError
        errors.As(err, &it)
        // it.Allowed holds the legal next states for display
    }

SEE ALSO:
  - statemachine.go: Produces transition errors
  - versions.go, ledger.go: Produce version/item errors
*/
package obra

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrIllegalTransition is returned when a requested status change is not
	// in the adjacency set for the work order's (status, mode) pair.
	ErrIllegalTransition = errors.New("illegal status transition")

	// ErrBudgetNotReady is returned when entering BUDGETED without at least
	// one line item with positive quantity in the current version.
	ErrBudgetNotReady = errors.New("budget not ready")

	// ErrVersionNotEditable is returned on writes against a non-current
	// version or a version of an invoiced work order.
	ErrVersionNotEditable = errors.New("budget version not editable")

	// ErrVersionNotFound is returned when a referenced version doesn't exist.
	ErrVersionNotFound = errors.New("budget version not found")

	// ErrItemNotFound is returned when a referenced line item doesn't exist.
	ErrItemNotFound = errors.New("line item not found")

	// ErrWorkOrderNotFound is returned when a referenced work order doesn't exist.
	ErrWorkOrderNotFound = errors.New("work order not found")

	// ErrNotOwnedByWorkOrder is returned when a version id and work-order id
	// disagree (cross-aggregate reference mixup).
	ErrNotOwnedByWorkOrder = errors.New("version not owned by work order")

	// ErrConcurrentVersionConflict is returned when two callers race to
	// create or switch the current version. The loser must re-read; the
	// engine never silently overwrites.
	ErrConcurrentVersionConflict = errors.New("concurrent version conflict")

	// ErrInvalidQuantityOrPrice is returned when an item write carries a
	// non-positive quantity, negative cost/price, or empty description.
	ErrInvalidQuantityOrPrice = errors.New("invalid quantity or price")

	// ErrInvalidInput is returned for malformed non-item payloads
	// (work-order creation, expense amounts).
	ErrInvalidInput = errors.New("invalid input")

	// ErrDuplicateTicketLink is returned when a ticket is already bound to
	// another work order.
	ErrDuplicateTicketLink = errors.New("ticket already linked to a work order")

	// ErrWorkOrderImmutable is returned on edits to an invoiced work order.
	ErrWorkOrderImmutable = errors.New("work order is invoiced and immutable")

	// ErrWorkOrderNotDeletable is returned when deleting a work order that
	// has left DRAFT.
	ErrWorkOrderNotDeletable = errors.New("only draft work orders can be deleted")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// IllegalTransitionError reports a rejected transition together with the
// allowed next states so the client can render the legal choices.
type IllegalTransitionError struct {
	From    Status
	To      Status
	Mode    ExecutionMode
	Allowed []Status
	Reason  string // optional, set for the mode-guard special case
}

func (e *IllegalTransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("cannot transition %s -> %s: %s", e.From, e.To, e.Reason)
	}
	return fmt.Sprintf("cannot transition %s -> %s (allowed: %v)", e.From, e.To, e.Allowed)
}

func (e *IllegalTransitionError) Unwrap() error { return ErrIllegalTransition }

// BudgetNotReadyError reports why a work order cannot enter BUDGETED.
type BudgetNotReadyError struct {
	WorkOrderID string
	VersionID   string
}

func (e *BudgetNotReadyError) Error() string {
	return fmt.Sprintf("work order %s: current budget version has no item with positive quantity", e.WorkOrderID)
}

func (e *BudgetNotReadyError) Unwrap() error { return ErrBudgetNotReady }

// VersionNotEditableError reports why a version rejects writes.
type VersionNotEditableError struct {
	VersionID string
	Reason    string // "not current" or "work order invoiced"
}

func (e *VersionNotEditableError) Error() string {
	return fmt.Sprintf("version %s not editable: %s", e.VersionID, e.Reason)
}

func (e *VersionNotEditableError) Unwrap() error { return ErrVersionNotEditable }

// InvalidItemError reports which field of an item write failed validation.
type InvalidItemError struct {
	Field   string
	Message string
}

func (e *InvalidItemError) Error() string {
	return fmt.Sprintf("invalid line item: %s %s", e.Field, e.Message)
}

func (e *InvalidItemError) Unwrap() error { return ErrInvalidQuantityOrPrice }

// ValidationError reports a malformed field on a non-item payload.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

// DuplicateTicketLinkError reports which work order already holds the ticket.
type DuplicateTicketLinkError struct {
	TicketID            string
	ExistingWorkOrderID string
}

func (e *DuplicateTicketLinkError) Error() string {
	return fmt.Sprintf("ticket %s is already linked to work order %s", e.TicketID, e.ExistingWorkOrderID)
}

func (e *DuplicateTicketLinkError) Unwrap() error { return ErrDuplicateTicketLink }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input or
// a guarded business rule, i.e. the caller should see a 4xx.
func IsClientError(err error) bool {
	return errors.Is(err, ErrIllegalTransition) ||
		errors.Is(err, ErrBudgetNotReady) ||
		errors.Is(err, ErrVersionNotEditable) ||
		errors.Is(err, ErrInvalidQuantityOrPrice) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrDuplicateTicketLink) ||
		errors.Is(err, ErrWorkOrderImmutable) ||
		errors.Is(err, ErrWorkOrderNotDeletable) ||
		errors.Is(err, ErrNotOwnedByWorkOrder)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrWorkOrderNotFound) ||
		errors.Is(err, ErrVersionNotFound) ||
		errors.Is(err, ErrItemNotFound)
}

// IsConflict returns true if the error might succeed on retry against
// re-read state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConcurrentVersionConflict)
}

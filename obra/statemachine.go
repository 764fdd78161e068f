/*
statemachine.go - Work-order status lifecycle

PURPOSE:
  Encodes the status graph as data plus one pure function, AllowedNext.
  Guards (the DIRECT_EXECUTION override, budget readiness) are separate
  predicates composed by the aggregate before commit, so the mode-specific
  special case never leaks into unrelated states.

STATUS GRAPH:

  DRAFT ──────▶ BUDGETED ──────▶ APPROVED ──────▶ IN_PROGRESS ──▶ DONE ──▶ INVOICED
    │  ▲            │  │                               ▲
    │  │            │  └────▶ REJECTED ──▶ DRAFT       │
    │  └────────────┘                                  │
    └──────────────────────────────────────────────────┘
         (DIRECT_EXECUTION skips budgeting entirely)

  DIRECT_EXECUTION + DRAFT: the ONLY legal target is IN_PROGRESS.

SIDE EFFECTS (applied by the aggregate on acceptance):
  - entering IN_PROGRESS: stamp ActualStart if unset
  - entering DONE:        stamp ActualEnd if unset
  - entering INVOICED:    stamp InvoiceDate
  - always:               append one StatusHistoryEntry

SEE ALSO:
  - aggregate.go: RequestTransition applies transitions transactionally
*/
package obra

import "time"

// =============================================================================
// ADJACENCY
// =============================================================================

// adjacency is the generic status graph, before any mode-specific override.
var adjacency = map[Status][]Status{
	StatusDraft:      {StatusBudgeted, StatusInProgress},
	StatusBudgeted:   {StatusApproved, StatusRejected, StatusDraft},
	StatusApproved:   {StatusInProgress},
	StatusRejected:   {StatusDraft},
	StatusInProgress: {StatusDone},
	StatusDone:       {StatusInvoiced},
	StatusInvoiced:   {},
}

// AllowedNext returns the legal target statuses for a (status, mode) pair.
// For DIRECT_EXECUTION work orders in DRAFT the budgeting leg is bypassed:
// the only legal target is IN_PROGRESS.
func AllowedNext(status Status, mode ExecutionMode) []Status {
	if mode == ModeDirectExecution && status == StatusDraft {
		return []Status{StatusInProgress}
	}
	next := adjacency[status]
	out := make([]Status, len(next))
	copy(out, next)
	return out
}

// ValidStatus reports whether s is a known status.
func ValidStatus(s Status) bool {
	_, ok := adjacency[s]
	return ok
}

// =============================================================================
// TRANSITION CHECK
// =============================================================================

// CheckTransition validates target against the (status, mode) adjacency.
// Pure: it touches no storage and checks no budget guard. Returns an
// IllegalTransitionError carrying the allowed-next set on rejection.
func CheckTransition(wo *WorkOrder, target Status) error {
	allowed := AllowedNext(wo.Status, wo.Mode)
	for _, s := range allowed {
		if s == target {
			return nil
		}
	}

	// Distinguish the mode override so the client gets a precise message.
	if wo.Mode == ModeDirectExecution && wo.Status == StatusDraft {
		return &IllegalTransitionError{
			From: wo.Status, To: target, Mode: wo.Mode, Allowed: allowed,
			Reason: "direct-execution work orders go straight from DRAFT to IN_PROGRESS",
		}
	}
	return &IllegalTransitionError{From: wo.Status, To: target, Mode: wo.Mode, Allowed: allowed}
}

// applyTransition mutates the work order for an already-validated target:
// sets the status and stamps the mode-independent timestamps. Guards must
// have passed before calling this.
func applyTransition(wo *WorkOrder, target Status, now time.Time) {
	wo.Status = target
	switch target {
	case StatusInProgress:
		if wo.ActualStart == nil {
			t := now
			wo.ActualStart = &t
		}
	case StatusDone:
		if wo.ActualEnd == nil {
			t := now
			wo.ActualEnd = &t
		}
	case StatusInvoiced:
		t := now
		wo.InvoiceDate = &t
	}
	wo.UpdatedAt = now
}

// BudgetReady reports whether a version's items satisfy the readiness guard
// for entering BUDGETED: at least one item with quantity > 0.
func BudgetReady(items []LineItem) bool {
	for _, it := range items {
		if it.Quantity.IsPositive() {
			return true
		}
	}
	return false
}

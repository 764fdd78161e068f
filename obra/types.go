/*
Package obra implements the work-order lifecycle and versioned budget engine.

PURPOSE:
  This package contains the domain core of the operations platform: the
  work-order status state machine, the budget version store with its
  single-current invariant, the line-item ledger, and the aggregate that
  keeps rollup totals consistent across all three.

KEY CONCEPTS IN THIS FILE (types.go):
  - WorkOrder: a billable job tracked through a status lifecycle
  - BudgetVersion: one numbered snapshot of priced line items; exactly one
    version per work order is "current" (editable) at a time
  - LineItem: one priced row inside a budget version
  - StatusHistoryEntry: append-only record of accepted status transitions

DESIGN PRINCIPLES:
  1. Derived values are caches: LineItem.Subtotal, BudgetVersion totals and
     WorkOrder.BudgetedAmount are recomputed by the engine, never hand-set
  2. Precision: all money flows through Money (decimal.Decimal underneath)
  3. Append-only history: transitions are recorded once and never edited
  4. Past versions are read-only: only the current version accepts writes

SEE ALSO:
  - statemachine.go: Status adjacency and transition guards
  - versions.go: Budget version store
  - ledger.go: Line-item mutations
  - aggregate.go: Work-order service and rollup recalculation
*/
package obra

import (
	"time"
)

// =============================================================================
// ENUMS
// =============================================================================

// WorkOrderKind distinguishes large jobs from small service visits.
type WorkOrderKind string

const (
	KindMajorWork    WorkOrderKind = "MAJOR_WORK"
	KindMinorService WorkOrderKind = "MINOR_SERVICE"
)

// ExecutionMode controls whether a work order goes through the budgeting
// leg of the lifecycle or jumps straight to execution.
type ExecutionMode string

const (
	ModeWithBudget      ExecutionMode = "WITH_BUDGET"
	ModeDirectExecution ExecutionMode = "DIRECT_EXECUTION"
)

// Status is a work order's position in the lifecycle. See statemachine.go
// for the adjacency rules.
type Status string

const (
	StatusDraft      Status = "DRAFT"
	StatusBudgeted   Status = "BUDGETED"
	StatusApproved   Status = "APPROVED"
	StatusRejected   Status = "REJECTED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusDone       Status = "DONE"
	StatusInvoiced   Status = "INVOICED" // terminal
)

// ItemKind classifies a budget line.
type ItemKind string

const (
	ItemMaterial   ItemKind = "MATERIAL"
	ItemLabor      ItemKind = "LABOR"
	ItemThirdParty ItemKind = "THIRD_PARTY"
	ItemOther      ItemKind = "OTHER"
)

// =============================================================================
// WORK ORDER
// =============================================================================

// WorkOrder is the parent aggregate. BudgetedAmount and SpentAmount are
// rollups owned by the engine: BudgetedAmount always mirrors the total of
// the current budget version and is written only by recalculation.
type WorkOrder struct {
	ID   string
	Code string // sequential, zero-padded, e.g. "OT-000042"
	Kind WorkOrderKind
	Mode ExecutionMode

	Status      Status
	Title       string
	Description string

	RequestDate    time.Time
	EstimatedStart *time.Time
	EstimatedEnd   *time.Time
	ActualStart    *time.Time // stamped on first entry into IN_PROGRESS
	ActualEnd      *time.Time // stamped on first entry into DONE

	ClientID string // required
	SiteID   string // optional
	TicketID string // optional; at most one work order per ticket

	PaymentTerms string
	ValidityDays int // how long the budget offer stands

	BudgetedAmount Money
	SpentAmount    Money

	InvoiceNumber string
	InvoiceDate   *time.Time // stamped on entry into INVOICED

	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Terminal reports whether the work order has reached its final status.
// Invoiced work orders are immutable except for internal rollup writes.
func (w *WorkOrder) Terminal() bool {
	return w.Status == StatusInvoiced
}

// =============================================================================
// BUDGET VERSION
// =============================================================================

// BudgetVersion is one numbered snapshot of a work order's priced items.
//
// INVARIANT: for a given work order, exactly one version has IsCurrent=true
// (enforced by the version store plus a partial unique index in sqlite).
// Version numbers start at 1 and are never reused or reordered.
//
// Total == Subtotal today; there is no tax layer. The assignment happens in
// a single place (recalculation) so a tax step can slot in later.
type BudgetVersion struct {
	ID          string
	WorkOrderID string
	Number      int
	IsCurrent   bool

	Subtotal Money
	Total    Money

	Notes       string
	DocumentRef string // storage key of the rendered budget document, if any

	CreatedAt time.Time
}

// =============================================================================
// LINE ITEM
// =============================================================================

// LineItem is one priced row inside a budget version.
//
// Subtotal is a cache: recomputed from Quantity and UnitPrice on every
// write, never editable on its own. When MaterialRef is set, UnitCost and
// UnitPrice are a point-in-time snapshot of the catalog taken at creation;
// later catalog changes never rewrite the item.
type LineItem struct {
	ID        string
	VersionID string

	Kind        ItemKind
	Position    int // display order within the version, client-reorderable
	Description string

	Quantity Quantity
	Unit     string

	UnitCost  Money
	UnitPrice Money
	Subtotal  Money

	MaterialRef string // optional catalog material id

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ItemPosition is one (item, position) assignment in a reorder request.
type ItemPosition struct {
	ItemID   string
	Position int
}

// =============================================================================
// STATUS HISTORY
// =============================================================================

// StatusHistoryEntry records one accepted transition. Append-only: entries
// are written exactly once, in the same transaction as the status change,
// and never mutated or deleted.
type StatusHistoryEntry struct {
	ID          string
	WorkOrderID string
	FromStatus  Status
	ToStatus    Status
	ActorID     string
	Note        string
	At          time.Time
}

// =============================================================================
// REGISTRY RECORDS
// =============================================================================

// Client is a registry row referenced by work orders. The registry itself
// is plain CRUD; it exists here because the budget document projection
// needs client and site names.
type Client struct {
	ID        string
	Name      string
	TaxID     string
	Email     string
	CreatedAt time.Time
}

// Site is a client location where work is performed.
type Site struct {
	ID       string
	ClientID string
	Name     string
	Address  string
}

// Material is a catalog row. Items snapshot its cost/price/unit at creation
// time; the catalog is never consulted to rewrite existing items.
type Material struct {
	ID        string
	Code      string
	Name      string
	Unit      string
	UnitCost  Money
	UnitPrice Money
	UpdatedAt time.Time
}

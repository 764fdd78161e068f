/*
store.go - Persistence interfaces for the engine

PURPOSE:
  Defines the boundary between the domain logic and the database. The
  engine holds no in-process state between calls; the store is the only
  shared mutable resource, and every invariant-preserving multi-step write
  runs inside a single WithTx transaction.

KEY INTERFACES:
  Store:    record-level reads/writes for work orders, versions, items,
            history, plus the registry rows the projection needs
  TxStore:  Store plus WithTx for atomic multi-step operations

TRANSACTION CONTRACT:
  WithTx(fn) runs fn against a Store view whose writes commit together or
  not at all. The services in this package wrap every compound operation
  (version flip + insert + item copy; status write + history append; item
  write + recalculation + rollup write) in WithTx, so a partial failure
  leaves prior state unchanged.

CONFLICT MAPPING:
  Implementations must surface unique-constraint violations as the domain
  conflict errors: (work_order_id, number) on versions maps to
  ErrConcurrentVersionConflict, the ticket uniqueness index maps to
  ErrDuplicateTicketLink. That lets the database be the final arbiter of
  races while callers still get taxonomy errors.

MISSING ROWS:
  Single-record getters return (nil, nil) when the row doesn't exist; the
  services translate that into the *NotFound taxonomy errors.

IMPLEMENTATIONS:
  - store/sqlite: production SQLite
  - obra/store:   in-memory, for unit tests

SEE ALSO:
  - versions.go, ledger.go, aggregate.go: The only callers
*/
package obra

import "context"

// =============================================================================
// STORE
// =============================================================================

type Store interface {
	// Work orders
	InsertWorkOrder(ctx context.Context, wo *WorkOrder) error
	GetWorkOrder(ctx context.Context, id string) (*WorkOrder, error)
	FindWorkOrderByTicket(ctx context.Context, ticketID string) (*WorkOrder, error)
	UpdateWorkOrder(ctx context.Context, wo *WorkOrder) error
	// DeleteWorkOrder cascades to versions, items and history.
	DeleteWorkOrder(ctx context.Context, id string) error
	ListWorkOrders(ctx context.Context) ([]WorkOrder, error)
	// NextWorkOrderCode allocates the next sequential human code. Must be
	// called inside the same transaction as the insert that uses it.
	NextWorkOrderCode(ctx context.Context) (string, error)
	// SetBudgetedAmount writes the budget rollup. Called only by
	// recalculation; no other code path sets the field.
	SetBudgetedAmount(ctx context.Context, workOrderID string, amount Money) error
	// SetSpentAmount writes the spend rollup. Called only by RecordExpense.
	SetSpentAmount(ctx context.Context, workOrderID string, amount Money) error

	// Budget versions
	InsertVersion(ctx context.Context, v *BudgetVersion) error
	GetVersion(ctx context.Context, id string) (*BudgetVersion, error)
	CurrentVersion(ctx context.Context, workOrderID string) (*BudgetVersion, error)
	ListVersions(ctx context.Context, workOrderID string) ([]BudgetVersion, error)
	// MarkCurrent flips every version of the work order to is-current=false
	// and the named version to true, as one statement pair. This is the only
	// write path that touches the flag.
	MarkCurrent(ctx context.Context, workOrderID, versionID string) error
	SetVersionTotals(ctx context.Context, versionID string, subtotal, total Money) error
	SetVersionDocument(ctx context.Context, versionID, documentRef string) error

	// Line items
	InsertItem(ctx context.Context, item *LineItem) error
	GetItem(ctx context.Context, id string) (*LineItem, error)
	UpdateItem(ctx context.Context, item *LineItem) error
	DeleteItem(ctx context.Context, id string) error
	ListItems(ctx context.Context, versionID string) ([]LineItem, error)
	SetItemPositions(ctx context.Context, versionID string, positions []ItemPosition) error

	// Status history (append-only; no update or delete exists)
	AppendHistory(ctx context.Context, entry StatusHistoryEntry) error
	ListHistory(ctx context.Context, workOrderID string) ([]StatusHistoryEntry, error)
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction. If fn returns an error the
	// transaction is rolled back, otherwise committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// REGISTRY - Client/site names for projections, catalog for snapshots
// =============================================================================

// Registry provides the lookup reads the engine needs from the client/site
// registries. Registry CRUD itself lives in the store implementations and
// the API layer; the engine only ever reads.
type Registry interface {
	GetClient(ctx context.Context, id string) (*Client, error)
	GetSite(ctx context.Context, id string) (*Site, error)
}

// CatalogLookup resolves a material reference to its current catalog row.
// Consulted exactly once per item, at creation, to seed the price snapshot;
// never used to rewrite existing items.
type CatalogLookup interface {
	GetMaterial(ctx context.Context, id string) (*Material, error)
}

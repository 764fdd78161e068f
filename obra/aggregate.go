/*
aggregate.go - Work-order service and rollup recalculation

PURPOSE:
  The aggregate mediates between the state machine, the version store and
  the item ledger. It owns:

  - work-order creation (code allocation, ticket uniqueness, atomic
    bootstrap of budget version 1 for WITH_BUDGET work orders)
  - status transitions (adjacency + guards + timestamp side effects +
    history append, as one transaction)
  - recalculation: the ONE writer of version totals and the work order's
    BudgetedAmount
  - the spend rollup and the deletion rules

ATOMICITY:
  Every compound operation runs inside a single WithTx transaction.
  A status change without its history entry, or an item write without its
  rollup update, is a correctness bug; the transaction boundary makes
  partial application impossible.

SEE ALSO:
  - statemachine.go: CheckTransition, applyTransition, BudgetReady
  - versions.go, ledger.go: The delegated subsystems
*/
package obra

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// SERVICE
// =============================================================================

// Service is the entry point the transport layer talks to. It composes the
// version store and item ledger over one shared transactional store.
type Service struct {
	store    TxStore
	Versions *VersionStore
	Items    *ItemLedger
}

func NewService(store TxStore, catalog CatalogLookup) *Service {
	return &Service{
		store:    store,
		Versions: NewVersionStore(store),
		Items:    NewItemLedger(store, catalog),
	}
}

// =============================================================================
// WORK ORDER LIFECYCLE
// =============================================================================

// NewWorkOrder is the creation payload. Status, code and rollups are not
// caller-settable: every work order starts in DRAFT with a store-allocated
// code and zero totals.
type NewWorkOrder struct {
	Kind           WorkOrderKind
	Mode           ExecutionMode
	Title          string
	Description    string
	RequestDate    time.Time
	EstimatedStart *time.Time
	EstimatedEnd   *time.Time
	ClientID       string
	SiteID         string
	TicketID       string
	PaymentTerms   string
	ValidityDays   int
	CreatedBy      string
}

// WorkOrderPatch is a partial update of the caller-editable fields.
type WorkOrderPatch struct {
	Title          *string
	Description    *string
	EstimatedStart *time.Time
	EstimatedEnd   *time.Time
	SiteID         *string
	PaymentTerms   *string
	ValidityDays   *int
	InvoiceNumber  *string
}

// CreateWorkOrder creates a work order in DRAFT. For WITH_BUDGET mode an
// empty current budget version 1 is created in the same transaction, so no
// reader ever sees a budgeted-mode work order without a current version.
func (svc *Service) CreateWorkOrder(ctx context.Context, input NewWorkOrder) (*WorkOrder, error) {
	if err := validateNewWorkOrder(input); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	requestDate := input.RequestDate
	if requestDate.IsZero() {
		requestDate = now
	}

	wo := &WorkOrder{
		ID:             uuid.NewString(),
		Kind:           input.Kind,
		Mode:           input.Mode,
		Status:         StatusDraft,
		Title:          input.Title,
		Description:    input.Description,
		RequestDate:    requestDate,
		EstimatedStart: input.EstimatedStart,
		EstimatedEnd:   input.EstimatedEnd,
		ClientID:       input.ClientID,
		SiteID:         input.SiteID,
		TicketID:       input.TicketID,
		PaymentTerms:   input.PaymentTerms,
		ValidityDays:   input.ValidityDays,
		BudgetedAmount: ZeroMoney(),
		SpentAmount:    ZeroMoney(),
		CreatedBy:      input.CreatedBy,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err := svc.store.WithTx(ctx, func(s Store) error {
		if input.TicketID != "" {
			existing, err := s.FindWorkOrderByTicket(ctx, input.TicketID)
			if err != nil {
				return err
			}
			if existing != nil {
				return &DuplicateTicketLinkError{TicketID: input.TicketID, ExistingWorkOrderID: existing.ID}
			}
		}

		code, err := s.NextWorkOrderCode(ctx)
		if err != nil {
			return err
		}
		wo.Code = code

		if err := s.InsertWorkOrder(ctx, wo); err != nil {
			return err
		}

		if wo.Mode == ModeWithBudget {
			v := &BudgetVersion{
				ID:          uuid.NewString(),
				WorkOrderID: wo.ID,
				Number:      1,
				Subtotal:    ZeroMoney(),
				Total:       ZeroMoney(),
				CreatedAt:   now,
			}
			if err := s.InsertVersion(ctx, v); err != nil {
				return err
			}
			if err := s.MarkCurrent(ctx, wo.ID, v.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return wo, nil
}

// UpdateWorkOrder applies a partial update. Invoiced work orders are
// immutable except for internal rollup writes.
func (svc *Service) UpdateWorkOrder(ctx context.Context, id string, patch WorkOrderPatch) (*WorkOrder, error) {
	var updated *WorkOrder

	err := svc.store.WithTx(ctx, func(s Store) error {
		wo, err := s.GetWorkOrder(ctx, id)
		if err != nil {
			return err
		}
		if wo == nil {
			return ErrWorkOrderNotFound
		}
		if wo.Terminal() {
			return ErrWorkOrderImmutable
		}

		if patch.Title != nil {
			wo.Title = *patch.Title
		}
		if patch.Description != nil {
			wo.Description = *patch.Description
		}
		if patch.EstimatedStart != nil {
			wo.EstimatedStart = patch.EstimatedStart
		}
		if patch.EstimatedEnd != nil {
			wo.EstimatedEnd = patch.EstimatedEnd
		}
		if patch.SiteID != nil {
			wo.SiteID = *patch.SiteID
		}
		if patch.PaymentTerms != nil {
			wo.PaymentTerms = *patch.PaymentTerms
		}
		if patch.ValidityDays != nil {
			wo.ValidityDays = *patch.ValidityDays
		}
		if patch.InvoiceNumber != nil {
			wo.InvoiceNumber = *patch.InvoiceNumber
		}
		wo.UpdatedAt = time.Now().UTC()

		if err := s.UpdateWorkOrder(ctx, wo); err != nil {
			return err
		}
		updated = wo
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteWorkOrder removes a work order and cascades to its versions, items
// and history. Only DRAFT work orders are deletable.
func (svc *Service) DeleteWorkOrder(ctx context.Context, id string) error {
	return svc.store.WithTx(ctx, func(s Store) error {
		wo, err := s.GetWorkOrder(ctx, id)
		if err != nil {
			return err
		}
		if wo == nil {
			return ErrWorkOrderNotFound
		}
		if wo.Status != StatusDraft {
			return ErrWorkOrderNotDeletable
		}
		return s.DeleteWorkOrder(ctx, id)
	})
}

func (svc *Service) GetWorkOrder(ctx context.Context, id string) (*WorkOrder, error) {
	wo, err := svc.store.GetWorkOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if wo == nil {
		return nil, ErrWorkOrderNotFound
	}
	return wo, nil
}

func (svc *Service) ListWorkOrders(ctx context.Context) ([]WorkOrder, error) {
	return svc.store.ListWorkOrders(ctx)
}

func (svc *Service) History(ctx context.Context, workOrderID string) ([]StatusHistoryEntry, error) {
	return svc.store.ListHistory(ctx, workOrderID)
}

// =============================================================================
// STATUS TRANSITIONS
// =============================================================================

// RequestTransition validates and applies a status change. On acceptance
// the status write, timestamp stamping and history append commit as one
// unit; on any guard failure the work order is untouched.
func (svc *Service) RequestTransition(ctx context.Context, workOrderID string, target Status, actorID, note string) (*WorkOrder, error) {
	var result *WorkOrder

	err := svc.store.WithTx(ctx, func(s Store) error {
		wo, err := s.GetWorkOrder(ctx, workOrderID)
		if err != nil {
			return err
		}
		if wo == nil {
			return ErrWorkOrderNotFound
		}

		if !ValidStatus(target) {
			return &IllegalTransitionError{
				From: wo.Status, To: target, Mode: wo.Mode,
				Allowed: AllowedNext(wo.Status, wo.Mode),
			}
		}
		if err := CheckTransition(wo, target); err != nil {
			return err
		}

		// Budget-readiness guard: the only read coupling between the state
		// machine and the budget subsystem.
		if target == StatusBudgeted {
			cur, err := s.CurrentVersion(ctx, workOrderID)
			if err != nil {
				return err
			}
			if cur == nil {
				return &BudgetNotReadyError{WorkOrderID: workOrderID}
			}
			items, err := s.ListItems(ctx, cur.ID)
			if err != nil {
				return err
			}
			if !BudgetReady(items) {
				return &BudgetNotReadyError{WorkOrderID: workOrderID, VersionID: cur.ID}
			}
		}

		now := time.Now().UTC()
		from := wo.Status
		applyTransition(wo, target, now)

		if err := s.UpdateWorkOrder(ctx, wo); err != nil {
			return err
		}
		if err := s.AppendHistory(ctx, StatusHistoryEntry{
			ID:          uuid.NewString(),
			WorkOrderID: workOrderID,
			FromStatus:  from,
			ToStatus:    target,
			ActorID:     actorID,
			Note:        note,
			At:          now,
		}); err != nil {
			return err
		}
		result = wo
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// =============================================================================
// ROLLUPS
// =============================================================================

// recalculate recomputes a version's totals from its items and, when the
// version is current, mirrors the total into the parent work order's
// BudgetedAmount. This is the sole writer of both; it runs inside the same
// transaction as whatever mutation triggered it.
func recalculate(ctx context.Context, s Store, versionID string) error {
	v, err := s.GetVersion(ctx, versionID)
	if err != nil {
		return err
	}
	if v == nil {
		return ErrVersionNotFound
	}

	items, err := s.ListItems(ctx, versionID)
	if err != nil {
		return err
	}

	subtotal := SumSubtotals(items)
	total := subtotal // tax/discount seam: nothing between subtotal and total today

	if err := s.SetVersionTotals(ctx, versionID, subtotal, total); err != nil {
		return err
	}
	if v.IsCurrent {
		return s.SetBudgetedAmount(ctx, v.WorkOrderID, total)
	}
	return nil
}

// RecordExpense adds to the work order's spend rollup. Expenses accrue
// during execution; a DRAFT work order has nothing to spend against.
// Terminal status does not block this: invoiced work orders still receive
// late cost postings as internal rollup writes.
func (svc *Service) RecordExpense(ctx context.Context, workOrderID string, amount Money, actorID, note string) (*WorkOrder, error) {
	if !amount.IsPositive() {
		return nil, &ValidationError{Field: "amount", Message: "must be greater than zero"}
	}

	var result *WorkOrder
	err := svc.store.WithTx(ctx, func(s Store) error {
		wo, err := s.GetWorkOrder(ctx, workOrderID)
		if err != nil {
			return err
		}
		if wo == nil {
			return ErrWorkOrderNotFound
		}
		if wo.Status == StatusDraft {
			return &IllegalTransitionError{
				From: wo.Status, To: wo.Status, Mode: wo.Mode,
				Allowed: AllowedNext(wo.Status, wo.Mode),
				Reason:  "cannot record expenses against a draft work order",
			}
		}
		wo.SpentAmount = wo.SpentAmount.Add(amount)
		if err := s.SetSpentAmount(ctx, workOrderID, wo.SpentAmount); err != nil {
			return err
		}
		result = wo
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// =============================================================================
// VALIDATION
// =============================================================================

func validateNewWorkOrder(input NewWorkOrder) error {
	if input.Title == "" {
		return &ValidationError{Field: "title", Message: "must not be empty"}
	}
	if input.ClientID == "" {
		return &ValidationError{Field: "client_id", Message: "is required"}
	}
	switch input.Kind {
	case KindMajorWork, KindMinorService:
	default:
		return &ValidationError{Field: "kind", Message: "must be MAJOR_WORK or MINOR_SERVICE"}
	}
	switch input.Mode {
	case ModeWithBudget, ModeDirectExecution:
	default:
		return &ValidationError{Field: "mode", Message: "must be WITH_BUDGET or DIRECT_EXECUTION"}
	}
	if input.ValidityDays < 0 {
		return &ValidationError{Field: "validity_days", Message: "must not be negative"}
	}
	return nil
}

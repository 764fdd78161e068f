/*
ledger.go - Line-item ledger with write guards

PURPOSE:
  CRUD over the line items of a budget version, with the invariants that
  keep a budget trustworthy:

  1. Writes land only on the CURRENT version of a work order that is not
     INVOICED. Past versions are frozen history.
  2. Subtotal is a cache: recomputed from quantity x unit price on every
     write, from the merged resulting values, never from deltas.
  3. Every mutation triggers recalculation of the version totals and the
     work-order rollup, inside the same transaction.

CATALOG SNAPSHOTS:
  An item created with a material reference snapshots the catalog's
  cost/price/unit at that moment. Later catalog changes never rewrite the
  item; the API exposes current catalog prices alongside the snapshot so a
  UI can flag drift, but reconciliation is a human decision.

REORDERING:
  reorder applies a batch of (item, position) assignments. Every id must
  belong to the target version before anything is applied, so a bad id
  cannot leave a half-reordered list. Positions don't affect totals, so no
  recalculation runs.

SEE ALSO:
  - versions.go: Which version is current
  - aggregate.go: recalculate, the sole writer of rollup totals
*/
package obra

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// INPUTS
// =============================================================================

// NewItem is the payload for adding a line item.
// Position 0 means "append after the last existing item". When MaterialRef
// is set and UnitCost/UnitPrice are zero, they are seeded from the catalog.
type NewItem struct {
	Kind        ItemKind
	Description string
	Quantity    Quantity
	Unit        string
	UnitCost    Money
	UnitPrice   Money
	Position    int
	MaterialRef string
}

// ItemPatch is a partial update; nil fields are left unchanged.
type ItemPatch struct {
	Kind        *ItemKind
	Description *string
	Quantity    *Quantity
	Unit        *string
	UnitCost    *Money
	UnitPrice   *Money
}

// =============================================================================
// ITEM LEDGER
// =============================================================================

type ItemLedger struct {
	store   TxStore
	catalog CatalogLookup // may be nil when no catalog is wired
}

func NewItemLedger(store TxStore, catalog CatalogLookup) *ItemLedger {
	return &ItemLedger{store: store, catalog: catalog}
}

// AddItem inserts a line item into a current, editable version, computes
// its subtotal, and recalculates the version and work-order totals.
func (l *ItemLedger) AddItem(ctx context.Context, versionID string, input NewItem) (*LineItem, error) {
	item := &LineItem{
		ID:          uuid.NewString(),
		VersionID:   versionID,
		Kind:        input.Kind,
		Description: input.Description,
		Quantity:    input.Quantity,
		Unit:        input.Unit,
		UnitCost:    input.UnitCost,
		UnitPrice:   input.UnitPrice,
		Position:    input.Position,
		MaterialRef: input.MaterialRef,
	}

	// Snapshot catalog prices before entering the transaction; the catalog
	// is read-only and the snapshot is part of the item's creation state.
	if input.MaterialRef != "" && l.catalog != nil {
		mat, err := l.catalog.GetMaterial(ctx, input.MaterialRef)
		if err != nil {
			return nil, err
		}
		if mat != nil {
			if item.UnitCost.IsZero() {
				item.UnitCost = mat.UnitCost
			}
			if item.UnitPrice.IsZero() {
				item.UnitPrice = mat.UnitPrice
			}
			if item.Unit == "" {
				item.Unit = mat.Unit
			}
			if item.Description == "" {
				item.Description = mat.Name
			}
		}
	}

	if err := validateItem(item); err != nil {
		return nil, err
	}

	err := l.store.WithTx(ctx, func(s Store) error {
		if _, err := editableVersion(ctx, s, versionID); err != nil {
			return err
		}

		if item.Position == 0 {
			existing, err := s.ListItems(ctx, versionID)
			if err != nil {
				return err
			}
			max := 0
			for _, it := range existing {
				if it.Position > max {
					max = it.Position
				}
			}
			item.Position = max + 1
		}

		now := time.Now().UTC()
		item.CreatedAt = now
		item.UpdatedAt = now
		item.Subtotal = ItemSubtotal(item.Quantity, item.UnitPrice)

		if err := s.InsertItem(ctx, item); err != nil {
			return err
		}
		return recalculate(ctx, s, versionID)
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// UpdateItem applies a partial update. The subtotal is recomputed from the
// merged resulting quantity and unit price, then totals are recalculated.
func (l *ItemLedger) UpdateItem(ctx context.Context, itemID string, patch ItemPatch) (*LineItem, error) {
	var updated *LineItem

	err := l.store.WithTx(ctx, func(s Store) error {
		item, err := s.GetItem(ctx, itemID)
		if err != nil {
			return err
		}
		if item == nil {
			return ErrItemNotFound
		}
		if _, err := editableVersion(ctx, s, item.VersionID); err != nil {
			return err
		}

		if patch.Kind != nil {
			item.Kind = *patch.Kind
		}
		if patch.Description != nil {
			item.Description = *patch.Description
		}
		if patch.Quantity != nil {
			item.Quantity = *patch.Quantity
		}
		if patch.Unit != nil {
			item.Unit = *patch.Unit
		}
		if patch.UnitCost != nil {
			item.UnitCost = *patch.UnitCost
		}
		if patch.UnitPrice != nil {
			item.UnitPrice = *patch.UnitPrice
		}

		if err := validateItem(item); err != nil {
			return err
		}

		item.Subtotal = ItemSubtotal(item.Quantity, item.UnitPrice)
		item.UpdatedAt = time.Now().UTC()

		if err := s.UpdateItem(ctx, item); err != nil {
			return err
		}
		updated = item
		return recalculate(ctx, s, item.VersionID)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteItem physically removes the row and recalculates totals.
func (l *ItemLedger) DeleteItem(ctx context.Context, itemID string) error {
	return l.store.WithTx(ctx, func(s Store) error {
		item, err := s.GetItem(ctx, itemID)
		if err != nil {
			return err
		}
		if item == nil {
			return ErrItemNotFound
		}
		if _, err := editableVersion(ctx, s, item.VersionID); err != nil {
			return err
		}
		if err := s.DeleteItem(ctx, itemID); err != nil {
			return err
		}
		return recalculate(ctx, s, item.VersionID)
	})
}

// ReorderItems applies a batch of position assignments to one version.
// Every id is validated to belong to the version before any assignment is
// applied. Totals are unaffected, so no recalculation runs.
func (l *ItemLedger) ReorderItems(ctx context.Context, versionID string, positions []ItemPosition) error {
	return l.store.WithTx(ctx, func(s Store) error {
		if _, err := editableVersion(ctx, s, versionID); err != nil {
			return err
		}

		items, err := s.ListItems(ctx, versionID)
		if err != nil {
			return err
		}
		owned := make(map[string]bool, len(items))
		for _, it := range items {
			owned[it.ID] = true
		}
		for _, p := range positions {
			if !owned[p.ItemID] {
				return fmt.Errorf("item %s: %w", p.ItemID, ErrItemNotFound)
			}
		}

		return s.SetItemPositions(ctx, versionID, positions)
	})
}

// Items lists a version's items in display order.
func (l *ItemLedger) Items(ctx context.Context, versionID string) ([]LineItem, error) {
	return l.store.ListItems(ctx, versionID)
}

// =============================================================================
// GUARDS
// =============================================================================

// editableVersion loads a version and enforces the write guard: the version
// must be current and its work order must not be invoiced.
func editableVersion(ctx context.Context, s Store, versionID string) (*BudgetVersion, error) {
	v, err := s.GetVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, ErrVersionNotFound
	}
	if !v.IsCurrent {
		return nil, &VersionNotEditableError{VersionID: versionID, Reason: "not the current version"}
	}

	wo, err := s.GetWorkOrder(ctx, v.WorkOrderID)
	if err != nil {
		return nil, err
	}
	if wo == nil {
		return nil, ErrWorkOrderNotFound
	}
	if wo.Terminal() {
		return nil, &VersionNotEditableError{VersionID: versionID, Reason: "work order is invoiced"}
	}
	return v, nil
}

func validateItem(item *LineItem) error {
	switch item.Kind {
	case ItemMaterial, ItemLabor, ItemThirdParty, ItemOther:
	default:
		return &InvalidItemError{Field: "kind", Message: fmt.Sprintf("unknown kind %q", item.Kind)}
	}
	if item.Description == "" {
		return &InvalidItemError{Field: "description", Message: "must not be empty"}
	}
	if !item.Quantity.IsPositive() {
		return &InvalidItemError{Field: "quantity", Message: "must be greater than zero"}
	}
	if item.UnitCost.IsNegative() {
		return &InvalidItemError{Field: "unit_cost", Message: "must not be negative"}
	}
	if item.UnitPrice.IsNegative() {
		return &InvalidItemError{Field: "unit_price", Message: "must not be negative"}
	}
	return nil
}

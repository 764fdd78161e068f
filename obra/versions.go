/*
versions.go - Budget version store

PURPOSE:
  Owns the set of budget versions for a work order and the single-current
  invariant: at all times exactly one version per work order is current.
  The flag is never set ad hoc; every change goes through MarkCurrent
  inside a transaction, so a reader can never observe zero or two current
  versions.

VERSIONING RULES:
  - Numbers are 1-based, strictly increasing, never reused
  - Version 1 is created lazily on first access, idempotently: a unique
    index on (work_order_id, number) makes concurrent first-readers
    collide, and the loser re-reads the winner's row
  - A new version copies totals and deep-copies every item of the prior
    current version under fresh identifiers
  - Non-current versions are read-only (enforced in ledger.go)

CONCURRENCY:
  Two concurrent CreateNextVersion calls for the same work order cannot
  both create version N: the second insert violates the unique index and
  surfaces ErrConcurrentVersionConflict. The caller retries against the
  now-current state or gives up; nothing is silently overwritten.

SEE ALSO:
  - ledger.go: Item mutations scoped to the current version
  - aggregate.go: Budget-readiness reads and rollup recalculation
*/
package obra

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// VERSION STORE
// =============================================================================

type VersionStore struct {
	store TxStore
}

func NewVersionStore(store TxStore) *VersionStore {
	return &VersionStore{store: store}
}

// GetCurrentOrCreate returns the work order's current version, lazily
// creating version 1 (empty, current) on first access. Idempotent under
// concurrent callers: at most one version 1 ever exists per work order.
func (vs *VersionStore) GetCurrentOrCreate(ctx context.Context, workOrderID string) (*BudgetVersion, error) {
	cur, err := vs.store.CurrentVersion(ctx, workOrderID)
	if err != nil {
		return nil, err
	}
	if cur != nil {
		return cur, nil
	}

	wo, err := vs.store.GetWorkOrder(ctx, workOrderID)
	if err != nil {
		return nil, err
	}
	if wo == nil {
		return nil, ErrWorkOrderNotFound
	}

	v := &BudgetVersion{
		ID:          uuid.NewString(),
		WorkOrderID: workOrderID,
		Number:      1,
		Subtotal:    ZeroMoney(),
		Total:       ZeroMoney(),
		CreatedAt:   time.Now().UTC(),
	}

	err = vs.store.WithTx(ctx, func(s Store) error {
		if err := s.InsertVersion(ctx, v); err != nil {
			return err
		}
		return s.MarkCurrent(ctx, workOrderID, v.ID)
	})
	if IsConflict(err) {
		// Lost the race: a concurrent caller created version 1. Re-read.
		cur, rerr := vs.store.CurrentVersion(ctx, workOrderID)
		if rerr != nil {
			return nil, rerr
		}
		if cur == nil {
			return nil, err
		}
		return cur, nil
	}
	if err != nil {
		return nil, err
	}

	v.IsCurrent = true
	return v, nil
}

// CreateNextVersion creates version max+1 as a copy of the current version:
// totals carried over as a starting point, every item deep-copied under a
// fresh identifier. The prior current version becomes read-only history.
// Returns the new version with its copied items.
func (vs *VersionStore) CreateNextVersion(ctx context.Context, workOrderID, notes string) (*BudgetVersion, []LineItem, error) {
	var newVersion *BudgetVersion
	var copied []LineItem

	err := vs.store.WithTx(ctx, func(s Store) error {
		cur, err := s.CurrentVersion(ctx, workOrderID)
		if err != nil {
			return err
		}
		if cur == nil {
			return ErrVersionNotFound
		}

		versions, err := s.ListVersions(ctx, workOrderID)
		if err != nil {
			return err
		}
		next := 0
		for _, v := range versions {
			if v.Number > next {
				next = v.Number
			}
		}
		next++

		now := time.Now().UTC()
		newVersion = &BudgetVersion{
			ID:          uuid.NewString(),
			WorkOrderID: workOrderID,
			Number:      next,
			Subtotal:    cur.Subtotal,
			Total:       cur.Total,
			Notes:       notes,
			CreatedAt:   now,
		}

		// Insert before copying so the unique (work_order_id, number) index
		// settles the race before any item rows exist.
		if err := s.InsertVersion(ctx, newVersion); err != nil {
			return err
		}
		if err := s.MarkCurrent(ctx, workOrderID, newVersion.ID); err != nil {
			return err
		}

		items, err := s.ListItems(ctx, cur.ID)
		if err != nil {
			return err
		}
		copied = make([]LineItem, 0, len(items))
		for _, it := range items {
			dup := it
			dup.ID = uuid.NewString()
			dup.VersionID = newVersion.ID
			dup.CreatedAt = now
			dup.UpdatedAt = now
			if err := s.InsertItem(ctx, &dup); err != nil {
				return fmt.Errorf("copying item %s: %w", it.ID, err)
			}
			copied = append(copied, dup)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	newVersion.IsCurrent = true
	return newVersion, copied, nil
}

// SwitchCurrent moves the current flag to another existing version of the
// same work order. Used to move between historical versions, not by the
// status transitions. Same flip discipline as creation.
func (vs *VersionStore) SwitchCurrent(ctx context.Context, workOrderID, versionID string) (*BudgetVersion, error) {
	var switched *BudgetVersion

	err := vs.store.WithTx(ctx, func(s Store) error {
		v, err := s.GetVersion(ctx, versionID)
		if err != nil {
			return err
		}
		if v == nil {
			return ErrVersionNotFound
		}
		if v.WorkOrderID != workOrderID {
			return ErrNotOwnedByWorkOrder
		}
		if err := s.MarkCurrent(ctx, workOrderID, versionID); err != nil {
			return err
		}
		v.IsCurrent = true
		switched = v

		// The current version changed, so the work order's rollup must
		// follow the newly-current version's total.
		return recalculate(ctx, s, versionID)
	})
	if err != nil {
		return nil, err
	}
	return switched, nil
}

// Versions lists all versions of a work order, newest number first.
func (vs *VersionStore) Versions(ctx context.Context, workOrderID string) ([]BudgetVersion, error) {
	return vs.store.ListVersions(ctx, workOrderID)
}

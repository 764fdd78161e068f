package obra_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldworks/obra-engine/obra"
)

// Note: newTestService and the item/work-order fixtures are defined in
// aggregate_test.go.

// =============================================================================
// ADD ITEM TESTS
// =============================================================================

func TestAddItem_ComputesSubtotalAndRecalculates(t *testing.T) {
	// GIVEN: An empty current version
	// WHEN: Adding 2 x 100.00
	// THEN: The item subtotal, the version totals and the work-order rollup
	//       all read 200.00 after the one call

	svc, _ := newTestService()
	ctx := context.Background()
	wo := createWorkOrder(t, svc, obra.ModeWithBudget)
	v, err := svc.Versions.GetCurrentOrCreate(ctx, wo.ID)
	require.NoError(t, err)

	item, err := svc.Items.AddItem(ctx, v.ID, obra.NewItem{
		Kind: obra.ItemLabor, Description: "Install fixtures",
		Quantity: qty("2"), Unit: "h", UnitPrice: obra.MustMoney("100.00"),
	})
	require.NoError(t, err)
	assert.Equal(t, "200.00", item.Subtotal.String())
	assert.Equal(t, 1, item.Position, "first item appends at position 1")

	vAfter, err := svc.Versions.GetCurrentOrCreate(ctx, wo.ID)
	require.NoError(t, err)
	assert.Equal(t, "200.00", vAfter.Subtotal.String())
	assert.Equal(t, "200.00", vAfter.Total.String())

	woAfter, err := svc.GetWorkOrder(ctx, wo.ID)
	require.NoError(t, err)
	assert.Equal(t, "200.00", woAfter.BudgetedAmount.String())
}

func TestAddItem_AppendsAfterLastPosition(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	wo := createWorkOrder(t, svc, obra.ModeWithBudget)
	v, err := svc.Versions.GetCurrentOrCreate(ctx, wo.ID)
	require.NoError(t, err)

	first := addItem(t, svc, v.ID, "First", "1", "10.00")
	second := addItem(t, svc, v.ID, "Second", "1", "10.00")
	assert.Equal(t, first.Position+1, second.Position)
}

func TestAddItem_MaterialRef_SnapshotsCatalog(t *testing.T) {
	// GIVEN: A catalog material at cost 2.10 / price 3.50
	// WHEN: Adding an item referencing it with zero prices
	// THEN: Cost, price, unit and description are seeded from the catalog

	svc, mem := newTestService()
	ctx := context.Background()
	mem.PutMaterial(obra.Material{
		ID: "mat-1", Code: "MAT-PVC-50", Name: "PVC pipe 50mm", Unit: "m",
		UnitCost: obra.MustMoney("2.10"), UnitPrice: obra.MustMoney("3.50"),
	})
	wo := createWorkOrder(t, svc, obra.ModeWithBudget)
	v, err := svc.Versions.GetCurrentOrCreate(ctx, wo.ID)
	require.NoError(t, err)

	item, err := svc.Items.AddItem(ctx, v.ID, obra.NewItem{
		Kind: obra.ItemMaterial, Quantity: qty("10"), MaterialRef: "mat-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "PVC pipe 50mm", item.Description)
	assert.Equal(t, "m", item.Unit)
	assert.Equal(t, "2.10", item.UnitCost.String())
	assert.Equal(t, "3.50", item.UnitPrice.String())
	assert.Equal(t, "35.00", item.Subtotal.String())
}

func TestAddItem_MaterialRef_ExplicitPriceWins(t *testing.T) {
	// GIVEN: A catalog material at price 3.50
	// WHEN: Adding an item with an explicit price of 4.00
	// THEN: The explicit price is kept; the catalog only fills blanks

	svc, mem := newTestService()
	ctx := context.Background()
	mem.PutMaterial(obra.Material{
		ID: "mat-1", Code: "MAT-PVC-50", Name: "PVC pipe 50mm", Unit: "m",
		UnitCost: obra.MustMoney("2.10"), UnitPrice: obra.MustMoney("3.50"),
	})
	wo := createWorkOrder(t, svc, obra.ModeWithBudget)
	v, err := svc.Versions.GetCurrentOrCreate(ctx, wo.ID)
	require.NoError(t, err)

	item, err := svc.Items.AddItem(ctx, v.ID, obra.NewItem{
		Kind: obra.ItemMaterial, Quantity: qty("10"), MaterialRef: "mat-1",
		UnitPrice: obra.MustMoney("4.00"),
	})
	require.NoError(t, err)
	assert.Equal(t, "4.00", item.UnitPrice.String())
}

func TestAddItem_CatalogChangeDoesNotRewriteSnapshot(t *testing.T) {
	// GIVEN: An item snapshotted at price 3.50
	// WHEN: The catalog price later moves to 5.00
	// THEN: The stored item still carries 3.50

	svc, mem := newTestService()
	ctx := context.Background()
	mat := obra.Material{
		ID: "mat-1", Code: "MAT-PVC-50", Name: "PVC pipe 50mm", Unit: "m",
		UnitCost: obra.MustMoney("2.10"), UnitPrice: obra.MustMoney("3.50"),
	}
	mem.PutMaterial(mat)
	wo := createWorkOrder(t, svc, obra.ModeWithBudget)
	v, err := svc.Versions.GetCurrentOrCreate(ctx, wo.ID)
	require.NoError(t, err)

	item, err := svc.Items.AddItem(ctx, v.ID, obra.NewItem{
		Kind: obra.ItemMaterial, Quantity: qty("1"), MaterialRef: "mat-1",
	})
	require.NoError(t, err)

	mat.UnitPrice = obra.MustMoney("5.00")
	mem.PutMaterial(mat)

	items, err := svc.Items.Items(ctx, v.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "3.50", items[0].UnitPrice.String())
	assert.Equal(t, item.ID, items[0].ID)
}

// =============================================================================
// VALIDATION TESTS
// =============================================================================

func TestAddItem_Validation(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	wo := createWorkOrder(t, svc, obra.ModeWithBudget)
	v, err := svc.Versions.GetCurrentOrCreate(ctx, wo.ID)
	require.NoError(t, err)

	cases := []struct {
		name  string
		input obra.NewItem
	}{
		{"unknown kind", obra.NewItem{Kind: "FREIGHT", Description: "x", Quantity: qty("1")}},
		{"empty description", obra.NewItem{Kind: obra.ItemLabor, Quantity: qty("1")}},
		{"zero quantity", obra.NewItem{Kind: obra.ItemLabor, Description: "x", Quantity: qty("0")}},
		{"negative quantity", obra.NewItem{Kind: obra.ItemLabor, Description: "x", Quantity: qty("-1")}},
		{"negative price", obra.NewItem{Kind: obra.ItemLabor, Description: "x", Quantity: qty("1"), UnitPrice: obra.MustMoney("-5")}},
		{"negative cost", obra.NewItem{Kind: obra.ItemLabor, Description: "x", Quantity: qty("1"), UnitCost: obra.MustMoney("-5")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Items.AddItem(ctx, v.ID, tc.input)
			assert.ErrorIs(t, err, obra.ErrInvalidQuantityOrPrice)
		})
	}
}

func TestAddItem_RejectedInput_LeavesTotalsUntouched(t *testing.T) {
	// GIVEN: A version totaling 200.00
	// WHEN: An invalid item is rejected
	// THEN: Totals are unchanged; the failed write rolled back completely

	svc, _ := newTestService()
	ctx := context.Background()
	wo := createWorkOrder(t, svc, obra.ModeWithBudget)
	v, err := svc.Versions.GetCurrentOrCreate(ctx, wo.ID)
	require.NoError(t, err)
	addItem(t, svc, v.ID, "Base", "2", "100.00")

	_, err = svc.Items.AddItem(ctx, v.ID, obra.NewItem{
		Kind: obra.ItemLabor, Description: "Bad", Quantity: qty("0"),
	})
	require.Error(t, err)

	vAfter, err := svc.Versions.GetCurrentOrCreate(ctx, wo.ID)
	require.NoError(t, err)
	assert.Equal(t, "200.00", vAfter.Total.String())
}

// =============================================================================
// WRITE GUARD TESTS
// =============================================================================

func TestWriteGuard_PastVersionIsFrozen(t *testing.T) {
	// GIVEN: v1 superseded by v2
	// WHEN: Writing an item into v1
	// THEN: Rejected as not editable

	svc, _ := newTestService()
	ctx := context.Background()
	wo := createWorkOrder(t, svc, obra.ModeWithBudget)
	v1, err := svc.Versions.GetCurrentOrCreate(ctx, wo.ID)
	require.NoError(t, err)
	old := addItem(t, svc, v1.ID, "Original", "1", "50.00")

	_, _, err = svc.Versions.CreateNextVersion(ctx, wo.ID, "")
	require.NoError(t, err)

	_, err = svc.Items.AddItem(ctx, v1.ID, obra.NewItem{
		Kind: obra.ItemLabor, Description: "Late add", Quantity: qty("1"),
	})
	assert.ErrorIs(t, err, obra.ErrVersionNotEditable)

	_, err = svc.Items.UpdateItem(ctx, old.ID, obra.ItemPatch{})
	assert.ErrorIs(t, err, obra.ErrVersionNotEditable)

	err = svc.Items.DeleteItem(ctx, old.ID)
	assert.ErrorIs(t, err, obra.ErrVersionNotEditable)
}

func TestWriteGuard_InvoicedWorkOrderIsFrozen(t *testing.T) {
	// GIVEN: A work order driven to INVOICED
	// WHEN: Writing into its current version
	// THEN: Rejected as not editable

	svc, _ := newTestService()
	ctx := context.Background()
	wo := createWorkOrder(t, svc, obra.ModeWithBudget)
	v, err := svc.Versions.GetCurrentOrCreate(ctx, wo.ID)
	require.NoError(t, err)
	addItem(t, svc, v.ID, "Work", "1", "100.00")

	for _, target := range []obra.Status{
		obra.StatusBudgeted, obra.StatusApproved, obra.StatusInProgress,
		obra.StatusDone, obra.StatusInvoiced,
	} {
		_, err := svc.RequestTransition(ctx, wo.ID, target, "tester", "")
		require.NoError(t, err, "transition to %s", target)
	}

	_, err = svc.Items.AddItem(ctx, v.ID, obra.NewItem{
		Kind: obra.ItemLabor, Description: "Too late", Quantity: qty("1"),
	})
	assert.ErrorIs(t, err, obra.ErrVersionNotEditable)
}

// =============================================================================
// UPDATE / DELETE TESTS
// =============================================================================

func TestUpdateItem_RecomputesFromMergedValues(t *testing.T) {
	// GIVEN: An item 2 x 100.00
	// WHEN: Patching only the quantity to 3
	// THEN: Subtotal becomes 300.00 from merged quantity x existing price

	svc, _ := newTestService()
	ctx := context.Background()
	wo := createWorkOrder(t, svc, obra.ModeWithBudget)
	v, err := svc.Versions.GetCurrentOrCreate(ctx, wo.ID)
	require.NoError(t, err)
	item := addItem(t, svc, v.ID, "Work", "2", "100.00")

	newQty := qty("3")
	updated, err := svc.Items.UpdateItem(ctx, item.ID, obra.ItemPatch{Quantity: &newQty})
	require.NoError(t, err)
	assert.Equal(t, "300.00", updated.Subtotal.String())

	woAfter, err := svc.GetWorkOrder(ctx, wo.ID)
	require.NoError(t, err)
	assert.Equal(t, "300.00", woAfter.BudgetedAmount.String())
}

func TestUpdateItem_InvalidMerge_Rejected(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	wo := createWorkOrder(t, svc, obra.ModeWithBudget)
	v, err := svc.Versions.GetCurrentOrCreate(ctx, wo.ID)
	require.NoError(t, err)
	item := addItem(t, svc, v.ID, "Work", "2", "100.00")

	bad := qty("0")
	_, err = svc.Items.UpdateItem(ctx, item.ID, obra.ItemPatch{Quantity: &bad})
	assert.ErrorIs(t, err, obra.ErrInvalidQuantityOrPrice)
}

func TestDeleteItem_Recalculates(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	wo := createWorkOrder(t, svc, obra.ModeWithBudget)
	v, err := svc.Versions.GetCurrentOrCreate(ctx, wo.ID)
	require.NoError(t, err)
	keep := addItem(t, svc, v.ID, "Keep", "1", "50.00")
	drop := addItem(t, svc, v.ID, "Drop", "1", "70.00")

	require.NoError(t, svc.Items.DeleteItem(ctx, drop.ID))

	items, err := svc.Items.Items(ctx, v.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, keep.ID, items[0].ID)

	woAfter, err := svc.GetWorkOrder(ctx, wo.ID)
	require.NoError(t, err)
	assert.Equal(t, "50.00", woAfter.BudgetedAmount.String())
}

func TestDeleteItem_Unknown_NotFound(t *testing.T) {
	svc, _ := newTestService()
	err := svc.Items.DeleteItem(context.Background(), "missing")
	assert.ErrorIs(t, err, obra.ErrItemNotFound)
}

// =============================================================================
// REORDER TESTS
// =============================================================================

func TestReorderItems_AppliesPositions(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	wo := createWorkOrder(t, svc, obra.ModeWithBudget)
	v, err := svc.Versions.GetCurrentOrCreate(ctx, wo.ID)
	require.NoError(t, err)
	a := addItem(t, svc, v.ID, "A", "1", "10.00")
	b := addItem(t, svc, v.ID, "B", "1", "10.00")

	err = svc.Items.ReorderItems(ctx, v.ID, []obra.ItemPosition{
		{ItemID: a.ID, Position: 2},
		{ItemID: b.ID, Position: 1},
	})
	require.NoError(t, err)

	items, err := svc.Items.Items(ctx, v.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, b.ID, items[0].ID, "items list in display order")
	assert.Equal(t, a.ID, items[1].ID)
}

func TestReorderItems_ForeignID_NothingApplied(t *testing.T) {
	// GIVEN: A reorder batch containing an id from another version
	// WHEN: Applying it
	// THEN: The whole batch is rejected and no position changes

	svc, _ := newTestService()
	ctx := context.Background()
	wo := createWorkOrder(t, svc, obra.ModeWithBudget)
	v, err := svc.Versions.GetCurrentOrCreate(ctx, wo.ID)
	require.NoError(t, err)
	a := addItem(t, svc, v.ID, "A", "1", "10.00")
	b := addItem(t, svc, v.ID, "B", "1", "10.00")

	err = svc.Items.ReorderItems(ctx, v.ID, []obra.ItemPosition{
		{ItemID: b.ID, Position: 1},
		{ItemID: "foreign", Position: 2},
	})
	assert.ErrorIs(t, err, obra.ErrItemNotFound)

	items, err := svc.Items.Items(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, items[0].ID, "original order preserved")
	assert.Equal(t, b.ID, items[1].ID)
}

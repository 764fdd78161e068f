package obra_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldworks/obra-engine/obra"
	"github.com/fieldworks/obra-engine/obra/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestService() (*obra.Service, *store.Memory) {
	mem := store.NewMemory()
	return obra.NewService(mem, mem), mem
}

func qty(s string) obra.Quantity {
	return decimal.RequireFromString(s)
}

func createWorkOrder(t *testing.T, svc *obra.Service, mode obra.ExecutionMode) *obra.WorkOrder {
	t.Helper()
	wo, err := svc.CreateWorkOrder(context.Background(), obra.NewWorkOrder{
		Kind:     obra.KindMajorWork,
		Mode:     mode,
		Title:    "Test work order",
		ClientID: "client-1",
	})
	require.NoError(t, err)
	return wo
}

func addItem(t *testing.T, svc *obra.Service, versionID, desc, quantity, unitPrice string) *obra.LineItem {
	t.Helper()
	item, err := svc.Items.AddItem(context.Background(), versionID, obra.NewItem{
		Kind:        obra.ItemLabor,
		Description: desc,
		Quantity:    qty(quantity),
		UnitPrice:   obra.MustMoney(unitPrice),
	})
	require.NoError(t, err)
	return item
}

// =============================================================================
// CREATION TESTS
// =============================================================================

func TestCreateWorkOrder_StartsInDraftWithSequentialCode(t *testing.T) {
	// GIVEN: A fresh engine
	// WHEN: Creating two work orders
	// THEN: Both start in DRAFT with zero rollups and sequential codes

	svc, _ := newTestService()

	first := createWorkOrder(t, svc, obra.ModeWithBudget)
	second := createWorkOrder(t, svc, obra.ModeWithBudget)

	assert.Equal(t, obra.StatusDraft, first.Status)
	assert.Equal(t, "OT-000001", first.Code)
	assert.Equal(t, "OT-000002", second.Code)
	assert.Equal(t, "0.00", first.BudgetedAmount.String())
	assert.Equal(t, "0.00", first.SpentAmount.String())
}

func TestCreateWorkOrder_WithBudget_BootstrapsCurrentV1(t *testing.T) {
	// GIVEN: Nothing
	// WHEN: Creating a WITH_BUDGET work order
	// THEN: An empty current version 1 exists in the same commit

	svc, mem := newTestService()
	wo := createWorkOrder(t, svc, obra.ModeWithBudget)

	cur, err := mem.CurrentVersion(context.Background(), wo.ID)
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.Equal(t, 1, cur.Number)
	assert.True(t, cur.IsCurrent)
}

func TestCreateWorkOrder_Validation(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	cases := []struct {
		name  string
		input obra.NewWorkOrder
	}{
		{"missing title", obra.NewWorkOrder{Kind: obra.KindMajorWork, Mode: obra.ModeWithBudget, ClientID: "c"}},
		{"missing client", obra.NewWorkOrder{Kind: obra.KindMajorWork, Mode: obra.ModeWithBudget, Title: "t"}},
		{"bad kind", obra.NewWorkOrder{Kind: "URGENT", Mode: obra.ModeWithBudget, Title: "t", ClientID: "c"}},
		{"bad mode", obra.NewWorkOrder{Kind: obra.KindMajorWork, Mode: "FREESTYLE", Title: "t", ClientID: "c"}},
		{"negative validity", obra.NewWorkOrder{Kind: obra.KindMajorWork, Mode: obra.ModeWithBudget, Title: "t", ClientID: "c", ValidityDays: -1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreateWorkOrder(ctx, tc.input)
			assert.ErrorIs(t, err, obra.ErrInvalidInput)
		})
	}
}

func TestCreateWorkOrder_DuplicateTicket_Rejected(t *testing.T) {
	// GIVEN: A work order linked to ticket TCK-1
	// WHEN: Creating another work order for TCK-1
	// THEN: Rejected with the existing work order's id

	svc, _ := newTestService()
	ctx := context.Background()

	first, err := svc.CreateWorkOrder(ctx, obra.NewWorkOrder{
		Kind: obra.KindMinorService, Mode: obra.ModeWithBudget,
		Title: "First", ClientID: "c", TicketID: "TCK-1",
	})
	require.NoError(t, err)

	_, err = svc.CreateWorkOrder(ctx, obra.NewWorkOrder{
		Kind: obra.KindMinorService, Mode: obra.ModeWithBudget,
		Title: "Second", ClientID: "c", TicketID: "TCK-1",
	})
	assert.ErrorIs(t, err, obra.ErrDuplicateTicketLink)
	var dup *obra.DuplicateTicketLinkError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, first.ID, dup.ExistingWorkOrderID)
}

// =============================================================================
// TRANSITION TESTS
// =============================================================================

func TestRequestTransition_BudgetedWithItems_Succeeds(t *testing.T) {
	// GIVEN: A WITH_BUDGET work order whose current version has 2 x 100.00
	// WHEN: Requesting DRAFT -> BUDGETED
	// THEN: Accepted; rollup reads 200.00 and history records the step

	svc, _ := newTestService()
	ctx := context.Background()
	wo := createWorkOrder(t, svc, obra.ModeWithBudget)
	v, err := svc.Versions.GetCurrentOrCreate(ctx, wo.ID)
	require.NoError(t, err)
	addItem(t, svc, v.ID, "Fixtures", "2", "100.00")

	after, err := svc.RequestTransition(ctx, wo.ID, obra.StatusBudgeted, "alex", "ready for client")
	require.NoError(t, err)
	assert.Equal(t, obra.StatusBudgeted, after.Status)
	assert.Equal(t, "200.00", after.BudgetedAmount.String())

	history, err := svc.History(ctx, wo.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, obra.StatusDraft, history[0].FromStatus)
	assert.Equal(t, obra.StatusBudgeted, history[0].ToStatus)
	assert.Equal(t, "alex", history[0].ActorID)
	assert.Equal(t, "ready for client", history[0].Note)
}

func TestRequestTransition_BudgetedWithoutItems_Guarded(t *testing.T) {
	// GIVEN: A WITH_BUDGET work order with an empty current version
	// WHEN: Requesting DRAFT -> BUDGETED
	// THEN: Rejected by the readiness guard; status and history untouched

	svc, _ := newTestService()
	ctx := context.Background()
	wo := createWorkOrder(t, svc, obra.ModeWithBudget)

	_, err := svc.RequestTransition(ctx, wo.ID, obra.StatusBudgeted, "alex", "")
	assert.ErrorIs(t, err, obra.ErrBudgetNotReady)

	after, err := svc.GetWorkOrder(ctx, wo.ID)
	require.NoError(t, err)
	assert.Equal(t, obra.StatusDraft, after.Status)

	history, err := svc.History(ctx, wo.ID)
	require.NoError(t, err)
	assert.Empty(t, history, "rejected transitions leave no history")
}

func TestRequestTransition_DirectExecution_DraftToInProgress(t *testing.T) {
	// GIVEN: A DIRECT_EXECUTION work order in DRAFT
	// WHEN: Requesting IN_PROGRESS
	// THEN: Accepted without any budget, and ActualStart is stamped

	svc, _ := newTestService()
	ctx := context.Background()
	wo := createWorkOrder(t, svc, obra.ModeDirectExecution)

	after, err := svc.RequestTransition(ctx, wo.ID, obra.StatusInProgress, "alex", "call-out")
	require.NoError(t, err)
	assert.Equal(t, obra.StatusInProgress, after.Status)
	require.NotNil(t, after.ActualStart)
}

func TestRequestTransition_DirectExecution_BudgetedRejected(t *testing.T) {
	svc, _ := newTestService()
	wo := createWorkOrder(t, svc, obra.ModeDirectExecution)

	_, err := svc.RequestTransition(context.Background(), wo.ID, obra.StatusBudgeted, "alex", "")
	assert.ErrorIs(t, err, obra.ErrIllegalTransition)
}

func TestRequestTransition_UnknownStatus_Rejected(t *testing.T) {
	svc, _ := newTestService()
	wo := createWorkOrder(t, svc, obra.ModeWithBudget)

	_, err := svc.RequestTransition(context.Background(), wo.ID, obra.Status("SHIPPED"), "alex", "")
	assert.ErrorIs(t, err, obra.ErrIllegalTransition)
}

func TestRequestTransition_FullLifecycle_StampsTimestamps(t *testing.T) {
	// GIVEN: A budgeted work order
	// WHEN: Walking BUDGETED -> APPROVED -> IN_PROGRESS -> DONE -> INVOICED
	// THEN: ActualStart, ActualEnd and InvoiceDate are stamped along the way

	svc, _ := newTestService()
	ctx := context.Background()
	wo := createWorkOrder(t, svc, obra.ModeWithBudget)
	v, err := svc.Versions.GetCurrentOrCreate(ctx, wo.ID)
	require.NoError(t, err)
	addItem(t, svc, v.ID, "Work", "1", "500.00")

	var last *obra.WorkOrder
	for _, target := range []obra.Status{
		obra.StatusBudgeted, obra.StatusApproved, obra.StatusInProgress,
		obra.StatusDone, obra.StatusInvoiced,
	} {
		last, err = svc.RequestTransition(ctx, wo.ID, target, "alex", "")
		require.NoError(t, err, "transition to %s", target)
	}

	assert.NotNil(t, last.ActualStart)
	assert.NotNil(t, last.ActualEnd)
	assert.NotNil(t, last.InvoiceDate)
	assert.False(t, last.ActualEnd.Before(*last.ActualStart))

	history, err := svc.History(ctx, wo.ID)
	require.NoError(t, err)
	assert.Len(t, history, 5)
}

func TestRequestTransition_RejectedBudget_BackToDraftAndRevise(t *testing.T) {
	// GIVEN: A BUDGETED work order the client rejects
	// WHEN: Moving to REJECTED then back to DRAFT
	// THEN: Both legs are legal and recorded; the budget survives for revision

	svc, _ := newTestService()
	ctx := context.Background()
	wo := createWorkOrder(t, svc, obra.ModeWithBudget)
	v, err := svc.Versions.GetCurrentOrCreate(ctx, wo.ID)
	require.NoError(t, err)
	addItem(t, svc, v.ID, "Work", "1", "900.00")

	_, err = svc.RequestTransition(ctx, wo.ID, obra.StatusBudgeted, "alex", "")
	require.NoError(t, err)
	_, err = svc.RequestTransition(ctx, wo.ID, obra.StatusRejected, "client", "too expensive")
	require.NoError(t, err)
	after, err := svc.RequestTransition(ctx, wo.ID, obra.StatusDraft, "alex", "revising")
	require.NoError(t, err)

	assert.Equal(t, obra.StatusDraft, after.Status)
	assert.Equal(t, "900.00", after.BudgetedAmount.String(), "budget survives rejection")
}

// =============================================================================
// UPDATE / DELETE TESTS
// =============================================================================

func TestUpdateWorkOrder_InvoicedIsImmutable(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	wo := createWorkOrder(t, svc, obra.ModeDirectExecution)
	for _, target := range []obra.Status{obra.StatusInProgress, obra.StatusDone, obra.StatusInvoiced} {
		_, err := svc.RequestTransition(ctx, wo.ID, target, "alex", "")
		require.NoError(t, err)
	}

	title := "Renamed"
	_, err := svc.UpdateWorkOrder(ctx, wo.ID, obra.WorkOrderPatch{Title: &title})
	assert.ErrorIs(t, err, obra.ErrWorkOrderImmutable)
}

func TestDeleteWorkOrder_OnlyDraft(t *testing.T) {
	// GIVEN: One DRAFT and one IN_PROGRESS work order
	// WHEN: Deleting both
	// THEN: Only the draft goes; the other is rejected

	svc, mem := newTestService()
	ctx := context.Background()
	draft := createWorkOrder(t, svc, obra.ModeWithBudget)
	running := createWorkOrder(t, svc, obra.ModeDirectExecution)
	_, err := svc.RequestTransition(ctx, running.ID, obra.StatusInProgress, "alex", "")
	require.NoError(t, err)

	require.NoError(t, svc.DeleteWorkOrder(ctx, draft.ID))
	assert.ErrorIs(t, svc.DeleteWorkOrder(ctx, running.ID), obra.ErrWorkOrderNotDeletable)

	gone, err := mem.GetWorkOrder(ctx, draft.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestDeleteWorkOrder_CascadesToVersionsAndItems(t *testing.T) {
	svc, mem := newTestService()
	ctx := context.Background()
	wo := createWorkOrder(t, svc, obra.ModeWithBudget)
	v, err := svc.Versions.GetCurrentOrCreate(ctx, wo.ID)
	require.NoError(t, err)
	addItem(t, svc, v.ID, "Work", "1", "10.00")

	require.NoError(t, svc.DeleteWorkOrder(ctx, wo.ID))

	versions, err := mem.ListVersions(ctx, wo.ID)
	require.NoError(t, err)
	assert.Empty(t, versions)
	items, err := mem.ListItems(ctx, v.ID)
	require.NoError(t, err)
	assert.Empty(t, items)
}

// =============================================================================
// SPEND ROLLUP TESTS
// =============================================================================

func TestRecordExpense_AccumulatesSpend(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	wo := createWorkOrder(t, svc, obra.ModeDirectExecution)
	_, err := svc.RequestTransition(ctx, wo.ID, obra.StatusInProgress, "alex", "")
	require.NoError(t, err)

	_, err = svc.RecordExpense(ctx, wo.ID, obra.MustMoney("100.50"), "alex", "materials")
	require.NoError(t, err)
	after, err := svc.RecordExpense(ctx, wo.ID, obra.MustMoney("49.50"), "alex", "fuel")
	require.NoError(t, err)

	assert.Equal(t, "150.00", after.SpentAmount.String())
}

func TestRecordExpense_DraftRejected(t *testing.T) {
	svc, _ := newTestService()
	wo := createWorkOrder(t, svc, obra.ModeWithBudget)

	_, err := svc.RecordExpense(context.Background(), wo.ID, obra.MustMoney("10.00"), "alex", "")
	assert.ErrorIs(t, err, obra.ErrIllegalTransition)
}

func TestRecordExpense_InvoicedStillAccepts(t *testing.T) {
	// GIVEN: An INVOICED work order
	// WHEN: A late cost posting arrives
	// THEN: The spend rollup still moves; it is an internal write, not an edit

	svc, _ := newTestService()
	ctx := context.Background()
	wo := createWorkOrder(t, svc, obra.ModeDirectExecution)
	for _, target := range []obra.Status{obra.StatusInProgress, obra.StatusDone, obra.StatusInvoiced} {
		_, err := svc.RequestTransition(ctx, wo.ID, target, "alex", "")
		require.NoError(t, err)
	}

	after, err := svc.RecordExpense(ctx, wo.ID, obra.MustMoney("25.00"), "alex", "late invoice")
	require.NoError(t, err)
	assert.Equal(t, "25.00", after.SpentAmount.String())
}

func TestRecordExpense_NonPositiveAmount_Rejected(t *testing.T) {
	svc, _ := newTestService()
	wo := createWorkOrder(t, svc, obra.ModeDirectExecution)

	_, err := svc.RecordExpense(context.Background(), wo.ID, obra.ZeroMoney(), "alex", "")
	assert.ErrorIs(t, err, obra.ErrInvalidInput)
	_, err = svc.RecordExpense(context.Background(), wo.ID, obra.MustMoney("-5"), "alex", "")
	assert.ErrorIs(t, err, obra.ErrInvalidInput)
}

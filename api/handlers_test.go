package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldworks/obra-engine/api"
	"github.com/fieldworks/obra-engine/document"
	"github.com/fieldworks/obra-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestServer(t *testing.T) *httptest.Server {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	blobs, err := document.NewDirStore(t.TempDir())
	require.NoError(t, err)

	handler := api.NewHandler(store, document.NewTextRenderer(), blobs)
	srv := httptest.NewServer(api.NewRouter(handler))
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func doJSONList(t *testing.T, url string) (*http.Response, []map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded []map[string]any
	json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func createTestWorkOrder(t *testing.T, base string, body map[string]any) map[string]any {
	t.Helper()
	if body == nil {
		body = map[string]any{
			"kind": "MAJOR_WORK", "mode": "WITH_BUDGET",
			"title": "API test order", "client_id": "client-1",
		}
	}
	resp, wo := doJSON(t, http.MethodPost, base+"/api/workorders", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return wo
}

// =============================================================================
// WORK ORDER ENDPOINT TESTS
// =============================================================================

func TestAPI_CreateWorkOrder_ReturnsDraftWithAllowedNext(t *testing.T) {
	srv := newTestServer(t)

	wo := createTestWorkOrder(t, srv.URL, nil)
	assert.Equal(t, "DRAFT", wo["status"])
	assert.Equal(t, "OT-000001", wo["code"])
	assert.Equal(t, "0.00", wo["budgeted_amount"])
	assert.ElementsMatch(t, []any{"BUDGETED", "IN_PROGRESS"}, wo["allowed_next"])
}

func TestAPI_CreateWorkOrder_InvalidKind_400(t *testing.T) {
	srv := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/workorders", map[string]any{
		"kind": "URGENT", "mode": "WITH_BUDGET", "title": "x", "client_id": "c",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["error"], "kind")
}

func TestAPI_GetWorkOrder_Missing_404(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/api/workorders/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_DuplicateTicket_409(t *testing.T) {
	srv := newTestServer(t)

	createTestWorkOrder(t, srv.URL, map[string]any{
		"kind": "MINOR_SERVICE", "mode": "WITH_BUDGET",
		"title": "First", "client_id": "c", "ticket_id": "TCK-1",
	})
	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/workorders", map[string]any{
		"kind": "MINOR_SERVICE", "mode": "WITH_BUDGET",
		"title": "Second", "client_id": "c", "ticket_id": "TCK-1",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPI_DeleteWorkOrder_OnlyDraft(t *testing.T) {
	srv := newTestServer(t)

	wo := createTestWorkOrder(t, srv.URL, map[string]any{
		"kind": "MINOR_SERVICE", "mode": "DIRECT_EXECUTION",
		"title": "Running", "client_id": "c",
	})
	id := wo["id"].(string)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/workorders/"+id+"/transition",
		map[string]any{"target": "IN_PROGRESS", "actor_id": "alex"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/api/workorders/"+id, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// =============================================================================
// TRANSITION ENDPOINT TESTS
// =============================================================================

func TestAPI_Transition_BudgetNotReady_400(t *testing.T) {
	srv := newTestServer(t)
	wo := createTestWorkOrder(t, srv.URL, nil)
	id := wo["id"].(string)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/workorders/"+id+"/transition",
		map[string]any{"target": "BUDGETED", "actor_id": "alex"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["error"], "budget")
}

func TestAPI_Transition_Illegal_CarriesAllowedSet(t *testing.T) {
	srv := newTestServer(t)
	wo := createTestWorkOrder(t, srv.URL, nil)
	id := wo["id"].(string)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/workorders/"+id+"/transition",
		map[string]any{"target": "DONE", "actor_id": "alex"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.ElementsMatch(t, []any{"BUDGETED", "IN_PROGRESS"}, body["allowed"])
}

func TestAPI_Transition_History(t *testing.T) {
	srv := newTestServer(t)
	wo := createTestWorkOrder(t, srv.URL, map[string]any{
		"kind": "MINOR_SERVICE", "mode": "DIRECT_EXECUTION",
		"title": "Call-out", "client_id": "c",
	})
	id := wo["id"].(string)

	resp, after := doJSON(t, http.MethodPost, srv.URL+"/api/workorders/"+id+"/transition",
		map[string]any{"target": "IN_PROGRESS", "actor_id": "alex", "note": "dispatched"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "IN_PROGRESS", after["status"])
	assert.NotEmpty(t, after["actual_start"])

	respH, history := doJSONList(t, srv.URL+"/api/workorders/"+id+"/history")
	require.Equal(t, http.StatusOK, respH.StatusCode)
	require.Len(t, history, 1)
	assert.Equal(t, "DRAFT", history[0]["from_status"])
	assert.Equal(t, "IN_PROGRESS", history[0]["to_status"])
	assert.Equal(t, "dispatched", history[0]["note"])
}

// =============================================================================
// BUDGET AND ITEM ENDPOINT TESTS
// =============================================================================

func TestAPI_BudgetFlow_ItemsAndRollup(t *testing.T) {
	// GIVEN: A WITH_BUDGET work order
	// WHEN: Adding 2 x 100.00 through the API and requesting BUDGETED
	// THEN: Version totals and the work-order rollup read 200.00

	srv := newTestServer(t)
	wo := createTestWorkOrder(t, srv.URL, nil)
	id := wo["id"].(string)

	resp, version := doJSON(t, http.MethodGet, srv.URL+"/api/workorders/"+id+"/versions/current", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	versionID := version["id"].(string)
	assert.Equal(t, float64(1), version["number"])

	resp, item := doJSON(t, http.MethodPost, srv.URL+"/api/versions/"+versionID+"/items", map[string]any{
		"kind": "LABOR", "description": "Install fixtures",
		"quantity": "2", "unit": "h", "unit_price": "100.00",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "200.00", item["subtotal"])

	resp, after := doJSON(t, http.MethodPost, srv.URL+"/api/workorders/"+id+"/transition",
		map[string]any{"target": "BUDGETED", "actor_id": "alex"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "BUDGETED", after["status"])
	assert.Equal(t, "200.00", after["budgeted_amount"])
}

func TestAPI_AddItem_InvalidQuantity_400(t *testing.T) {
	srv := newTestServer(t)
	wo := createTestWorkOrder(t, srv.URL, nil)
	id := wo["id"].(string)

	_, version := doJSON(t, http.MethodGet, srv.URL+"/api/workorders/"+id+"/versions/current", nil)
	versionID := version["id"].(string)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/versions/"+versionID+"/items", map[string]any{
		"kind": "LABOR", "description": "Bad", "quantity": "0", "unit_price": "10.00",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_NextVersion_CopiesAndFreezesOld(t *testing.T) {
	srv := newTestServer(t)
	wo := createTestWorkOrder(t, srv.URL, nil)
	id := wo["id"].(string)

	_, version := doJSON(t, http.MethodGet, srv.URL+"/api/workorders/"+id+"/versions/current", nil)
	v1ID := version["id"].(string)
	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/versions/"+v1ID+"/items", map[string]any{
		"kind": "MATERIAL", "description": "Pipe", "quantity": "3", "unit_price": "10.00",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, next := doJSON(t, http.MethodPost, srv.URL+"/api/workorders/"+id+"/versions",
		map[string]any{"notes": "revision"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	v2 := next["version"].(map[string]any)
	assert.Equal(t, float64(2), v2["number"])
	assert.Equal(t, "30.00", v2["total"])
	assert.Len(t, next["items"], 1)

	// v1 is frozen now.
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/versions/"+v1ID+"/items", map[string]any{
		"kind": "MATERIAL", "description": "Late", "quantity": "1", "unit_price": "5.00",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Switch back and the rollup follows.
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/workorders/"+id+"/versions/"+v1ID+"/switch", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_, woAfter := doJSON(t, http.MethodGet, srv.URL+"/api/workorders/"+id, nil)
	assert.Equal(t, "30.00", woAfter["budgeted_amount"])
}

// =============================================================================
// CATALOG DRIFT TESTS
// =============================================================================

func TestAPI_MaterialDrift_FlaggedInItemList(t *testing.T) {
	// GIVEN: An item snapshotted from the catalog at 3.50
	// WHEN: The catalog price moves to 5.00
	// THEN: The item listing keeps the snapshot but flags the drift

	srv := newTestServer(t)

	resp, mat := doJSON(t, http.MethodPost, srv.URL+"/api/materials", map[string]any{
		"id": "mat-1", "code": "MAT-PVC", "name": "PVC pipe", "unit": "m",
		"unit_cost": "2.10", "unit_price": "3.50",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, "mat-1", mat["id"])

	wo := createTestWorkOrder(t, srv.URL, nil)
	id := wo["id"].(string)
	_, version := doJSON(t, http.MethodGet, srv.URL+"/api/workorders/"+id+"/versions/current", nil)
	versionID := version["id"].(string)

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/versions/"+versionID+"/items", map[string]any{
		"kind": "MATERIAL", "quantity": "10", "material_ref": "mat-1",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// Catalog price moves; the upsert rewrites the material row only.
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/materials", map[string]any{
		"id": "mat-1", "code": "MAT-PVC", "name": "PVC pipe", "unit": "m",
		"unit_cost": "2.10", "unit_price": "5.00",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	respL, items := doJSONList(t, srv.URL+"/api/versions/"+versionID+"/items")
	require.Equal(t, http.StatusOK, respL.StatusCode)
	require.Len(t, items, 1)
	assert.Equal(t, "3.50", items[0]["unit_price"], "snapshot untouched")
	assert.Equal(t, "5.00", items[0]["catalog_unit_price"])
	assert.Equal(t, true, items[0]["price_drift"])
}

// =============================================================================
// EXPENSE AND DOCUMENT TESTS
// =============================================================================

func TestAPI_RecordExpense(t *testing.T) {
	srv := newTestServer(t)
	wo := createTestWorkOrder(t, srv.URL, map[string]any{
		"kind": "MINOR_SERVICE", "mode": "DIRECT_EXECUTION",
		"title": "Call-out", "client_id": "c",
	})
	id := wo["id"].(string)
	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/workorders/"+id+"/transition",
		map[string]any{"target": "IN_PROGRESS", "actor_id": "alex"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, after := doJSON(t, http.MethodPost, srv.URL+"/api/workorders/"+id+"/expenses",
		map[string]any{"amount": "86.40", "actor_id": "alex", "note": "sealant"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "86.40", after["spent_amount"])
}

func TestAPI_GenerateDocument_AttachesRef(t *testing.T) {
	srv := newTestServer(t)
	wo := createTestWorkOrder(t, srv.URL, nil)
	id := wo["id"].(string)

	_, version := doJSON(t, http.MethodGet, srv.URL+"/api/workorders/"+id+"/versions/current", nil)
	versionID := version["id"].(string)
	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/versions/"+versionID+"/items", map[string]any{
		"kind": "LABOR", "description": "Work", "quantity": "1", "unit_price": "100.00",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, doc := doJSON(t, http.MethodPost, srv.URL+"/api/workorders/"+id+"/document", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	ref := doc["ref"].(string)
	assert.NotEmpty(t, ref)

	_, versionAfter := doJSON(t, http.MethodGet, srv.URL+"/api/workorders/"+id+"/versions/current", nil)
	assert.Equal(t, ref, versionAfter["document_ref"])
}

// =============================================================================
// SCENARIO TESTS
// =============================================================================

func TestAPI_LoadScenario_SeedsDemoData(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/scenarios/load",
		map[string]any{"scenario_id": "demo-day"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	respW, orders := doJSONList(t, srv.URL+"/api/workorders")
	require.Equal(t, http.StatusOK, respW.StatusCode)
	assert.Len(t, orders, 4)

	statuses := map[string]bool{}
	for _, wo := range orders {
		statuses[wo["status"].(string)] = true
	}
	assert.True(t, statuses["DRAFT"])
	assert.True(t, statuses["BUDGETED"])
	assert.True(t, statuses["IN_PROGRESS"])

	respC, clients := doJSONList(t, srv.URL+"/api/clients")
	require.Equal(t, http.StatusOK, respC.StatusCode)
	assert.Len(t, clients, 2)

	respM, materials := doJSONList(t, srv.URL+"/api/materials")
	require.Equal(t, http.StatusOK, respM.StatusCode)
	assert.Len(t, materials, 4)
}

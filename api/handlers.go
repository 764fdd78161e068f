/*
handlers.go - HTTP handlers for the work-order engine

PURPOSE:
  Thin HTTP shims over the domain service: decode, call, encode. All
  business rules live in the obra package; handlers only translate between
  JSON and domain types and map the error taxonomy to HTTP statuses.

ERROR HANDLING:
  - 400: Validation errors, guarded business rules, illegal transitions
  - 404: Missing work orders / versions / items
  - 409: Concurrency conflicts, duplicate ticket links
  - 500: Infrastructure errors (storage failures etc.)

  Domain errors carry their message to the client verbatim; transition
  rejections additionally include the allowed-next set.

SECURITY NOTE:
  The acting user comes from the X-Actor-ID header or the request body.
  Authentication itself is handled upstream; the engine trusts the actor
  id as given.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - scenarios.go: Demo data seeder
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fieldworks/obra-engine/obra"
	"github.com/fieldworks/obra-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     *sqlite.Store
	Service   *obra.Service
	Publisher *obra.DocumentPublisher
}

// NewHandler wires the domain service over the sqlite store. The store
// doubles as registry and catalog.
func NewHandler(store *sqlite.Store, renderer obra.DocumentRenderer, blobs obra.BlobStore) *Handler {
	return &Handler{
		Store:     store,
		Service:   obra.NewService(store, store),
		Publisher: obra.NewDocumentPublisher(store, store, renderer, blobs),
	}
}

// =============================================================================
// WORK ORDER HANDLERS
// =============================================================================

func (h *Handler) ListWorkOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.Service.ListWorkOrders(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list work orders", err)
		return
	}

	dtos := make([]WorkOrderDTO, len(orders))
	for i := range orders {
		dtos[i] = toWorkOrderDTO(&orders[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateWorkOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateWorkOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	input := obra.NewWorkOrder{
		Kind:         obra.WorkOrderKind(req.Kind),
		Mode:         obra.ExecutionMode(req.Mode),
		Title:        req.Title,
		Description:  req.Description,
		ClientID:     req.ClientID,
		SiteID:       req.SiteID,
		TicketID:     req.TicketID,
		PaymentTerms: req.PaymentTerms,
		ValidityDays: req.ValidityDays,
		CreatedBy:    actorID(r, req.CreatedBy),
	}
	if req.RequestDate != "" {
		d, err := time.Parse("2006-01-02", req.RequestDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request_date format (use YYYY-MM-DD)", err)
			return
		}
		input.RequestDate = d
	}
	if t, ok := parseOptionalDate(w, req.EstimatedStart, "estimated_start"); !ok {
		return
	} else {
		input.EstimatedStart = t
	}
	if t, ok := parseOptionalDate(w, req.EstimatedEnd, "estimated_end"); !ok {
		return
	} else {
		input.EstimatedEnd = t
	}

	wo, err := h.Service.CreateWorkOrder(r.Context(), input)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toWorkOrderDTO(wo))
}

func (h *Handler) GetWorkOrder(w http.ResponseWriter, r *http.Request) {
	wo, err := h.Service.GetWorkOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toWorkOrderDTO(wo))
}

func (h *Handler) UpdateWorkOrder(w http.ResponseWriter, r *http.Request) {
	var req UpdateWorkOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	patch := obra.WorkOrderPatch{
		Title:         req.Title,
		Description:   req.Description,
		SiteID:        req.SiteID,
		PaymentTerms:  req.PaymentTerms,
		ValidityDays:  req.ValidityDays,
		InvoiceNumber: req.InvoiceNumber,
	}
	if req.EstimatedStart != nil {
		if t, ok := parseOptionalDate(w, *req.EstimatedStart, "estimated_start"); !ok {
			return
		} else {
			patch.EstimatedStart = t
		}
	}
	if req.EstimatedEnd != nil {
		if t, ok := parseOptionalDate(w, *req.EstimatedEnd, "estimated_end"); !ok {
			return
		} else {
			patch.EstimatedEnd = t
		}
	}

	wo, err := h.Service.UpdateWorkOrder(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toWorkOrderDTO(wo))
}

func (h *Handler) DeleteWorkOrder(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.DeleteWorkOrder(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Transition(w http.ResponseWriter, r *http.Request) {
	var req TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	wo, err := h.Service.RequestTransition(r.Context(), chi.URLParam(r, "id"),
		obra.Status(req.Target), actorID(r, req.ActorID), req.Note)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toWorkOrderDTO(wo))
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Service.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load history", err)
		return
	}

	dtos := make([]StatusHistoryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = StatusHistoryDTO{
			FromStatus: string(e.FromStatus),
			ToStatus:   string(e.ToStatus),
			ActorID:    e.ActorID,
			Note:       e.Note,
			At:         e.At.Format(time.RFC3339),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) RecordExpense(w http.ResponseWriter, r *http.Request) {
	var req ExpenseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	amount, err := obra.MoneyFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount (use a decimal string)", err)
		return
	}

	wo, err := h.Service.RecordExpense(r.Context(), chi.URLParam(r, "id"),
		amount, actorID(r, req.ActorID), req.Note)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toWorkOrderDTO(wo))
}

// =============================================================================
// BUDGET VERSION HANDLERS
// =============================================================================

func (h *Handler) ListVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := h.Service.Versions.Versions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list versions", err)
		return
	}

	dtos := make([]BudgetVersionDTO, len(versions))
	for i := range versions {
		dtos[i] = toVersionDTO(&versions[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetCurrentVersion(w http.ResponseWriter, r *http.Request) {
	v, err := h.Service.Versions.GetCurrentOrCreate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toVersionDTO(v))
}

func (h *Handler) CreateNextVersion(w http.ResponseWriter, r *http.Request) {
	var req CreateVersionRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}

	v, items, err := h.Service.Versions.CreateNextVersion(r.Context(), chi.URLParam(r, "id"), req.Notes)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	itemDTOs := make([]LineItemDTO, len(items))
	for i := range items {
		itemDTOs[i] = toLineItemDTO(&items[i])
	}
	writeJSON(w, http.StatusCreated, struct {
		Version BudgetVersionDTO `json:"version"`
		Items   []LineItemDTO    `json:"items"`
	}{toVersionDTO(v), itemDTOs})
}

func (h *Handler) SwitchVersion(w http.ResponseWriter, r *http.Request) {
	v, err := h.Service.Versions.SwitchCurrent(r.Context(),
		chi.URLParam(r, "id"), chi.URLParam(r, "versionID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toVersionDTO(v))
}

// =============================================================================
// LINE ITEM HANDLERS
// =============================================================================

func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.Service.Items.Items(r.Context(), chi.URLParam(r, "versionID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list items", err)
		return
	}

	dtos := make([]LineItemDTO, len(items))
	for i := range items {
		dtos[i] = toLineItemDTO(&items[i])
		h.flagPriceDrift(r, &items[i], &dtos[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// flagPriceDrift fills the catalog-side fields of an item DTO so the UI
// can show when the catalog price moved since the snapshot was taken.
func (h *Handler) flagPriceDrift(r *http.Request, item *obra.LineItem, dto *LineItemDTO) {
	if item.MaterialRef == "" {
		return
	}
	mat, err := h.Store.GetMaterial(r.Context(), item.MaterialRef)
	if err != nil || mat == nil {
		return
	}
	dto.CatalogUnitPrice = mat.UnitPrice.String()
	dto.PriceDrift = !mat.UnitPrice.Equal(item.UnitPrice)
}

func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req AddItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	input := obra.NewItem{
		Kind:        obra.ItemKind(req.Kind),
		Description: req.Description,
		Unit:        req.Unit,
		Position:    req.Position,
		MaterialRef: req.MaterialRef,
	}
	var ok bool
	if input.Quantity, ok = parseDecimalField(w, req.Quantity, "quantity"); !ok {
		return
	}
	if input.UnitCost, ok = parseMoneyField(w, req.UnitCost, "unit_cost"); !ok {
		return
	}
	if input.UnitPrice, ok = parseMoneyField(w, req.UnitPrice, "unit_price"); !ok {
		return
	}

	item, err := h.Service.Items.AddItem(r.Context(), chi.URLParam(r, "versionID"), input)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toLineItemDTO(item))
}

func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	var req UpdateItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	patch := obra.ItemPatch{
		Description: req.Description,
		Unit:        req.Unit,
	}
	if req.Kind != nil {
		k := obra.ItemKind(*req.Kind)
		patch.Kind = &k
	}
	if req.Quantity != nil {
		q, ok := parseDecimalField(w, *req.Quantity, "quantity")
		if !ok {
			return
		}
		patch.Quantity = &q
	}
	if req.UnitCost != nil {
		m, ok := parseMoneyField(w, *req.UnitCost, "unit_cost")
		if !ok {
			return
		}
		patch.UnitCost = &m
	}
	if req.UnitPrice != nil {
		m, ok := parseMoneyField(w, *req.UnitPrice, "unit_price")
		if !ok {
			return
		}
		patch.UnitPrice = &m
	}

	item, err := h.Service.Items.UpdateItem(r.Context(), chi.URLParam(r, "itemID"), patch)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLineItemDTO(item))
}

func (h *Handler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.Items.DeleteItem(r.Context(), chi.URLParam(r, "itemID")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ReorderItems(w http.ResponseWriter, r *http.Request) {
	var req ReorderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	positions := make([]obra.ItemPosition, len(req.Positions))
	for i, p := range req.Positions {
		positions[i] = obra.ItemPosition{ItemID: p.ItemID, Position: p.Position}
	}

	if err := h.Service.Items.ReorderItems(r.Context(), chi.URLParam(r, "versionID"), positions); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// DOCUMENT HANDLER
// =============================================================================

func (h *Handler) GenerateDocument(w http.ResponseWriter, r *http.Request) {
	var req GenerateDocumentRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}

	ref, err := h.Publisher.Publish(r.Context(), chi.URLParam(r, "id"), req.VersionID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, DocumentDTO{Ref: ref})
}

// =============================================================================
// REGISTRY HANDLERS
// =============================================================================

func (h *Handler) ListClients(w http.ResponseWriter, r *http.Request) {
	clients, err := h.Store.ListClients(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list clients", err)
		return
	}

	dtos := make([]ClientDTO, len(clients))
	for i, c := range clients {
		dtos[i] = ClientDTO{ID: c.ID, Name: c.Name, TaxID: c.TaxID, Email: c.Email}
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateClient(w http.ResponseWriter, r *http.Request) {
	var req ClientDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "Client name is required", nil)
		return
	}

	c := obra.Client{ID: req.ID, Name: req.Name, TaxID: req.TaxID, Email: req.Email}
	if c.ID == "" {
		c.ID = newID()
	}
	if err := h.Store.SaveClient(r.Context(), c); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save client", err)
		return
	}
	writeJSON(w, http.StatusCreated, ClientDTO{ID: c.ID, Name: c.Name, TaxID: c.TaxID, Email: c.Email})
}

func (h *Handler) ListSites(w http.ResponseWriter, r *http.Request) {
	sites, err := h.Store.ListSites(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list sites", err)
		return
	}

	dtos := make([]SiteDTO, len(sites))
	for i, s := range sites {
		dtos[i] = SiteDTO{ID: s.ID, ClientID: s.ClientID, Name: s.Name, Address: s.Address}
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateSite(w http.ResponseWriter, r *http.Request) {
	var req SiteDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "Site name is required", nil)
		return
	}

	s := obra.Site{ID: req.ID, ClientID: chi.URLParam(r, "id"), Name: req.Name, Address: req.Address}
	if s.ID == "" {
		s.ID = newID()
	}
	if err := h.Store.SaveSite(r.Context(), s); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save site", err)
		return
	}
	writeJSON(w, http.StatusCreated, SiteDTO{ID: s.ID, ClientID: s.ClientID, Name: s.Name, Address: s.Address})
}

func (h *Handler) ListMaterials(w http.ResponseWriter, r *http.Request) {
	materials, err := h.Store.ListMaterials(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list materials", err)
		return
	}

	dtos := make([]MaterialDTO, len(materials))
	for i, m := range materials {
		dtos[i] = MaterialDTO{
			ID: m.ID, Code: m.Code, Name: m.Name, Unit: m.Unit,
			UnitCost: m.UnitCost.String(), UnitPrice: m.UnitPrice.String(),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateMaterial(w http.ResponseWriter, r *http.Request) {
	var req MaterialDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Code == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "Material code and name are required", nil)
		return
	}

	m := obra.Material{ID: req.ID, Code: req.Code, Name: req.Name, Unit: req.Unit}
	if m.ID == "" {
		m.ID = newID()
	}
	var ok bool
	if m.UnitCost, ok = parseMoneyField(w, req.UnitCost, "unit_cost"); !ok {
		return
	}
	if m.UnitPrice, ok = parseMoneyField(w, req.UnitPrice, "unit_price"); !ok {
		return
	}

	if err := h.Store.SaveMaterial(r.Context(), m); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save material", err)
		return
	}
	writeJSON(w, http.StatusCreated, MaterialDTO{
		ID: m.ID, Code: m.Code, Name: m.Name, Unit: m.Unit,
		UnitCost: m.UnitCost.String(), UnitPrice: m.UnitPrice.String(),
	})
}

// =============================================================================
// SHARED HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error   string   `json:"error"`
	Detail  string   `json:"detail,omitempty"`
	Allowed []string `json:"allowed,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string, err error) {
	resp := errorResponse{Error: msg}
	if err != nil {
		resp.Detail = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps the error taxonomy to HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case obra.IsNotFound(err):
		status = http.StatusNotFound
	case obra.IsConflict(err), errors.Is(err, obra.ErrDuplicateTicketLink):
		status = http.StatusConflict
	case obra.IsClientError(err):
		status = http.StatusBadRequest
	}

	resp := errorResponse{Error: err.Error()}
	var illegal *obra.IllegalTransitionError
	if errors.As(err, &illegal) {
		for _, s := range illegal.Allowed {
			resp.Allowed = append(resp.Allowed, string(s))
		}
	}
	writeJSON(w, status, resp)
}

// actorID resolves the acting user: body field first, header fallback.
func actorID(r *http.Request, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	return r.Header.Get("X-Actor-ID")
}

func parseMoneyField(w http.ResponseWriter, s, field string) (obra.Money, bool) {
	if s == "" {
		return obra.ZeroMoney(), true
	}
	m, err := obra.MoneyFromString(s)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid "+field+" (use a decimal string)", err)
		return obra.Money{}, false
	}
	return m, true
}

func parseDecimalField(w http.ResponseWriter, s, field string) (obra.Quantity, bool) {
	m, ok := parseMoneyField(w, s, field)
	return m.Value, ok
}

func parseOptionalDate(w http.ResponseWriter, s, field string) (*time.Time, bool) {
	if s == "" {
		return nil, true
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid "+field+" format (use YYYY-MM-DD)", err)
		return nil, false
	}
	return &t, true
}

/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract. Money travels
  as decimal strings ("1234.50"), never as JSON numbers, so clients can't
  lose cents to float parsing.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

DRIFT FLAGGING:
  LineItemDTO carries both the snapshot price (what the budget charges)
  and the catalog's current price for material-backed items. The UI uses
  the pair to flag drift; the engine never reconciles it.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/fieldworks/obra-engine/obra"
)

// =============================================================================
// WORK ORDERS
// =============================================================================

type WorkOrderDTO struct {
	ID             string   `json:"id"`
	Code           string   `json:"code"`
	Kind           string   `json:"kind"`
	Mode           string   `json:"mode"`
	Status         string   `json:"status"`
	AllowedNext    []string `json:"allowed_next"`
	Title          string   `json:"title"`
	Description    string   `json:"description,omitempty"`
	RequestDate    string   `json:"request_date"`
	EstimatedStart string   `json:"estimated_start,omitempty"`
	EstimatedEnd   string   `json:"estimated_end,omitempty"`
	ActualStart    string   `json:"actual_start,omitempty"`
	ActualEnd      string   `json:"actual_end,omitempty"`
	ClientID       string   `json:"client_id"`
	SiteID         string   `json:"site_id,omitempty"`
	TicketID       string   `json:"ticket_id,omitempty"`
	PaymentTerms   string   `json:"payment_terms,omitempty"`
	ValidityDays   int      `json:"validity_days"`
	BudgetedAmount string   `json:"budgeted_amount"`
	SpentAmount    string   `json:"spent_amount"`
	InvoiceNumber  string   `json:"invoice_number,omitempty"`
	InvoiceDate    string   `json:"invoice_date,omitempty"`
	CreatedBy      string   `json:"created_by,omitempty"`
	CreatedAt      string   `json:"created_at"`
	UpdatedAt      string   `json:"updated_at"`
}

func toWorkOrderDTO(wo *obra.WorkOrder) WorkOrderDTO {
	allowed := obra.AllowedNext(wo.Status, wo.Mode)
	next := make([]string, len(allowed))
	for i, s := range allowed {
		next[i] = string(s)
	}

	return WorkOrderDTO{
		ID:             wo.ID,
		Code:           wo.Code,
		Kind:           string(wo.Kind),
		Mode:           string(wo.Mode),
		Status:         string(wo.Status),
		AllowedNext:    next,
		Title:          wo.Title,
		Description:    wo.Description,
		RequestDate:    wo.RequestDate.Format("2006-01-02"),
		EstimatedStart: formatDatePtr(wo.EstimatedStart),
		EstimatedEnd:   formatDatePtr(wo.EstimatedEnd),
		ActualStart:    formatTimePtr(wo.ActualStart),
		ActualEnd:      formatTimePtr(wo.ActualEnd),
		ClientID:       wo.ClientID,
		SiteID:         wo.SiteID,
		TicketID:       wo.TicketID,
		PaymentTerms:   wo.PaymentTerms,
		ValidityDays:   wo.ValidityDays,
		BudgetedAmount: wo.BudgetedAmount.String(),
		SpentAmount:    wo.SpentAmount.String(),
		InvoiceNumber:  wo.InvoiceNumber,
		InvoiceDate:    formatTimePtr(wo.InvoiceDate),
		CreatedBy:      wo.CreatedBy,
		CreatedAt:      wo.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      wo.UpdatedAt.Format(time.RFC3339),
	}
}

type CreateWorkOrderRequest struct {
	Kind           string `json:"kind"`
	Mode           string `json:"mode"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	RequestDate    string `json:"request_date"`
	EstimatedStart string `json:"estimated_start"`
	EstimatedEnd   string `json:"estimated_end"`
	ClientID       string `json:"client_id"`
	SiteID         string `json:"site_id"`
	TicketID       string `json:"ticket_id"`
	PaymentTerms   string `json:"payment_terms"`
	ValidityDays   int    `json:"validity_days"`
	CreatedBy      string `json:"created_by"`
}

type UpdateWorkOrderRequest struct {
	Title          *string `json:"title"`
	Description    *string `json:"description"`
	EstimatedStart *string `json:"estimated_start"`
	EstimatedEnd   *string `json:"estimated_end"`
	SiteID         *string `json:"site_id"`
	PaymentTerms   *string `json:"payment_terms"`
	ValidityDays   *int    `json:"validity_days"`
	InvoiceNumber  *string `json:"invoice_number"`
}

type TransitionRequest struct {
	Target  string `json:"target"`
	ActorID string `json:"actor_id"`
	Note    string `json:"note"`
}

type ExpenseRequest struct {
	Amount  string `json:"amount"`
	ActorID string `json:"actor_id"`
	Note    string `json:"note"`
}

type StatusHistoryDTO struct {
	FromStatus string `json:"from_status"`
	ToStatus   string `json:"to_status"`
	ActorID    string `json:"actor_id,omitempty"`
	Note       string `json:"note,omitempty"`
	At         string `json:"at"`
}

// =============================================================================
// BUDGET VERSIONS
// =============================================================================

type BudgetVersionDTO struct {
	ID          string `json:"id"`
	WorkOrderID string `json:"work_order_id"`
	Number      int    `json:"number"`
	IsCurrent   bool   `json:"is_current"`
	Subtotal    string `json:"subtotal"`
	Total       string `json:"total"`
	Notes       string `json:"notes,omitempty"`
	DocumentRef string `json:"document_ref,omitempty"`
	CreatedAt   string `json:"created_at"`
}

func toVersionDTO(v *obra.BudgetVersion) BudgetVersionDTO {
	return BudgetVersionDTO{
		ID:          v.ID,
		WorkOrderID: v.WorkOrderID,
		Number:      v.Number,
		IsCurrent:   v.IsCurrent,
		Subtotal:    v.Subtotal.String(),
		Total:       v.Total.String(),
		Notes:       v.Notes,
		DocumentRef: v.DocumentRef,
		CreatedAt:   v.CreatedAt.Format(time.RFC3339),
	}
}

type CreateVersionRequest struct {
	Notes string `json:"notes"`
}

// =============================================================================
// LINE ITEMS
// =============================================================================

type LineItemDTO struct {
	ID          string `json:"id"`
	VersionID   string `json:"version_id"`
	Kind        string `json:"kind"`
	Position    int    `json:"position"`
	Description string `json:"description"`
	Quantity    string `json:"quantity"`
	Unit        string `json:"unit,omitempty"`
	UnitCost    string `json:"unit_cost"`
	UnitPrice   string `json:"unit_price"`
	Subtotal    string `json:"subtotal"`
	MaterialRef string `json:"material_ref,omitempty"`

	// Catalog drift display: current catalog price for material-backed
	// items, alongside the snapshot held in UnitPrice.
	CatalogUnitPrice string `json:"catalog_unit_price,omitempty"`
	PriceDrift       bool   `json:"price_drift,omitempty"`
}

func toLineItemDTO(it *obra.LineItem) LineItemDTO {
	return LineItemDTO{
		ID:          it.ID,
		VersionID:   it.VersionID,
		Kind:        string(it.Kind),
		Position:    it.Position,
		Description: it.Description,
		Quantity:    it.Quantity.String(),
		Unit:        it.Unit,
		UnitCost:    it.UnitCost.String(),
		UnitPrice:   it.UnitPrice.String(),
		Subtotal:    it.Subtotal.String(),
		MaterialRef: it.MaterialRef,
	}
}

type AddItemRequest struct {
	Kind        string `json:"kind"`
	Description string `json:"description"`
	Quantity    string `json:"quantity"`
	Unit        string `json:"unit"`
	UnitCost    string `json:"unit_cost"`
	UnitPrice   string `json:"unit_price"`
	Position    int    `json:"position"`
	MaterialRef string `json:"material_ref"`
}

type UpdateItemRequest struct {
	Kind        *string `json:"kind"`
	Description *string `json:"description"`
	Quantity    *string `json:"quantity"`
	Unit        *string `json:"unit"`
	UnitCost    *string `json:"unit_cost"`
	UnitPrice   *string `json:"unit_price"`
}

type ReorderRequest struct {
	Positions []ReorderEntry `json:"positions"`
}

type ReorderEntry struct {
	ItemID   string `json:"item_id"`
	Position int    `json:"position"`
}

// =============================================================================
// REGISTRIES
// =============================================================================

type ClientDTO struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	TaxID string `json:"tax_id,omitempty"`
	Email string `json:"email,omitempty"`
}

type SiteDTO struct {
	ID       string `json:"id"`
	ClientID string `json:"client_id"`
	Name     string `json:"name"`
	Address  string `json:"address,omitempty"`
}

type MaterialDTO struct {
	ID        string `json:"id"`
	Code      string `json:"code"`
	Name      string `json:"name"`
	Unit      string `json:"unit,omitempty"`
	UnitCost  string `json:"unit_cost"`
	UnitPrice string `json:"unit_price"`
}

// =============================================================================
// DOCUMENTS
// =============================================================================

type GenerateDocumentRequest struct {
	VersionID string `json:"version_id"`
}

type DocumentDTO struct {
	Ref string `json:"ref"`
}

// =============================================================================
// HELPERS
// =============================================================================

func formatDatePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}

/*
projection.go - Budget document projection

PURPOSE:
  Assembles the data a printable budget needs (work-order code, title,
  client and site names, validity window, item lines, subtotal, total,
  payment terms) and hands it to pluggable rendering and storage seams.
  The engine never renders a document or touches bytes-at-rest itself;
  those belong to the excluded PDF and file-storage layers.

FLOW:
  Build()    read-only: projects a version into a BudgetDocument
  Publish()  Build -> DocumentRenderer.RenderBudget -> BlobStore.Put ->
             attach the returned ref to the version row

  Only the final attach is a write, so Publish runs Build and the render
  outside any transaction and commits just the ref.

SEE ALSO:
  - store.go: Registry (client/site names)
  - api/handlers.go: The document endpoint
*/
package obra

import (
	"context"
	"fmt"
	"time"
)

// =============================================================================
// DOCUMENT PROJECTION
// =============================================================================

// BudgetDocument is the render-ready projection of one budget version.
type BudgetDocument struct {
	WorkOrderCode string
	Title         string
	ClientName    string
	SiteName      string

	VersionNumber int
	ValidityDays  int
	PaymentTerms  string
	Notes         string

	Lines    []BudgetDocumentLine
	Subtotal Money
	Total    Money

	GeneratedAt time.Time
}

// BudgetDocumentLine is one printed row.
type BudgetDocumentLine struct {
	Position    int
	Kind        ItemKind
	Description string
	Quantity    Quantity
	Unit        string
	UnitPrice   Money
	Subtotal    Money
}

// =============================================================================
// EXTERNAL SEAMS
// =============================================================================

// DocumentRenderer turns a projection into a binary document (PDF today).
type DocumentRenderer interface {
	RenderBudget(ctx context.Context, doc BudgetDocument) ([]byte, error)
}

// BlobStore persists a rendered document and returns a storage ref.
type BlobStore interface {
	Put(ctx context.Context, name string, data []byte) (ref string, err error)
}

// =============================================================================
// PUBLISHER
// =============================================================================

type DocumentPublisher struct {
	store    TxStore
	registry Registry
	renderer DocumentRenderer
	blobs    BlobStore
}

func NewDocumentPublisher(store TxStore, registry Registry, renderer DocumentRenderer, blobs BlobStore) *DocumentPublisher {
	return &DocumentPublisher{store: store, registry: registry, renderer: renderer, blobs: blobs}
}

// Build projects a budget version into a BudgetDocument. An empty versionID
// selects the current version. Read-only.
func (p *DocumentPublisher) Build(ctx context.Context, workOrderID, versionID string) (*BudgetDocument, *BudgetVersion, error) {
	wo, err := p.store.GetWorkOrder(ctx, workOrderID)
	if err != nil {
		return nil, nil, err
	}
	if wo == nil {
		return nil, nil, ErrWorkOrderNotFound
	}

	var v *BudgetVersion
	if versionID == "" {
		v, err = p.store.CurrentVersion(ctx, workOrderID)
	} else {
		v, err = p.store.GetVersion(ctx, versionID)
	}
	if err != nil {
		return nil, nil, err
	}
	if v == nil {
		return nil, nil, ErrVersionNotFound
	}
	if v.WorkOrderID != workOrderID {
		return nil, nil, ErrNotOwnedByWorkOrder
	}

	doc := &BudgetDocument{
		WorkOrderCode: wo.Code,
		Title:         wo.Title,
		VersionNumber: v.Number,
		ValidityDays:  wo.ValidityDays,
		PaymentTerms:  wo.PaymentTerms,
		Notes:         v.Notes,
		Subtotal:      v.Subtotal,
		Total:         v.Total,
		GeneratedAt:   time.Now().UTC(),
	}

	if client, err := p.registry.GetClient(ctx, wo.ClientID); err != nil {
		return nil, nil, err
	} else if client != nil {
		doc.ClientName = client.Name
	}
	if wo.SiteID != "" {
		if site, err := p.registry.GetSite(ctx, wo.SiteID); err != nil {
			return nil, nil, err
		} else if site != nil {
			doc.SiteName = site.Name
		}
	}

	items, err := p.store.ListItems(ctx, v.ID)
	if err != nil {
		return nil, nil, err
	}
	doc.Lines = make([]BudgetDocumentLine, len(items))
	for i, it := range items {
		doc.Lines[i] = BudgetDocumentLine{
			Position:    it.Position,
			Kind:        it.Kind,
			Description: it.Description,
			Quantity:    it.Quantity,
			Unit:        it.Unit,
			UnitPrice:   it.UnitPrice,
			Subtotal:    it.Subtotal,
		}
	}
	return doc, v, nil
}

// Publish renders a version's document, stores it, and attaches the
// storage ref to the version. Returns the ref.
func (p *DocumentPublisher) Publish(ctx context.Context, workOrderID, versionID string) (string, error) {
	doc, v, err := p.Build(ctx, workOrderID, versionID)
	if err != nil {
		return "", err
	}

	data, err := p.renderer.RenderBudget(ctx, *doc)
	if err != nil {
		return "", fmt.Errorf("rendering budget %s v%d: %w", doc.WorkOrderCode, doc.VersionNumber, err)
	}

	name := fmt.Sprintf("%s-v%d.pdf", doc.WorkOrderCode, doc.VersionNumber)
	ref, err := p.blobs.Put(ctx, name, data)
	if err != nil {
		return "", fmt.Errorf("storing budget document %s: %w", name, err)
	}

	if err := p.store.SetVersionDocument(ctx, v.ID, ref); err != nil {
		return "", err
	}
	return ref, nil
}

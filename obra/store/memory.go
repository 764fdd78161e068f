// Package store provides an in-memory TxStore implementation (for testing/dev).
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/fieldworks/obra-engine/obra"
)

// =============================================================================
// MEMORY STORE - In-memory implementation of obra.TxStore
// =============================================================================

// Memory keeps everything in maps under one mutex. WithTx snapshots the
// maps and restores them when fn fails, giving the same all-or-nothing
// semantics as the sqlite store. It also implements obra.Registry and
// obra.CatalogLookup so unit tests need no second fixture.
type Memory struct {
	mu sync.Mutex

	workOrders map[string]obra.WorkOrder
	versions   map[string]obra.BudgetVersion
	items      map[string]obra.LineItem
	history    []obra.StatusHistoryEntry

	clients   map[string]obra.Client
	sites     map[string]obra.Site
	materials map[string]obra.Material

	codeSeq int
}

func NewMemory() *Memory {
	return &Memory{
		workOrders: make(map[string]obra.WorkOrder),
		versions:   make(map[string]obra.BudgetVersion),
		items:      make(map[string]obra.LineItem),
		clients:    make(map[string]obra.Client),
		sites:      make(map[string]obra.Site),
		materials:  make(map[string]obra.Material),
	}
}

// WithTx runs fn against the locked store and rolls the maps back to a
// snapshot if fn returns an error.
func (m *Memory) WithTx(_ context.Context, fn func(obra.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(&memTx{m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memSnapshot struct {
	workOrders map[string]obra.WorkOrder
	versions   map[string]obra.BudgetVersion
	items      map[string]obra.LineItem
	history    []obra.StatusHistoryEntry
	codeSeq    int
}

func (m *Memory) snapshot() memSnapshot {
	s := memSnapshot{
		workOrders: make(map[string]obra.WorkOrder, len(m.workOrders)),
		versions:   make(map[string]obra.BudgetVersion, len(m.versions)),
		items:      make(map[string]obra.LineItem, len(m.items)),
		history:    make([]obra.StatusHistoryEntry, len(m.history)),
		codeSeq:    m.codeSeq,
	}
	for k, v := range m.workOrders {
		s.workOrders[k] = v
	}
	for k, v := range m.versions {
		s.versions[k] = v
	}
	for k, v := range m.items {
		s.items[k] = v
	}
	copy(s.history, m.history)
	return s
}

func (m *Memory) restore(s memSnapshot) {
	m.workOrders = s.workOrders
	m.versions = s.versions
	m.items = s.items
	m.history = s.history
	m.codeSeq = s.codeSeq
}

// memTx exposes the unlocked implementations inside a WithTx callback.
// The parent's mutex is held for the whole transaction.
type memTx struct{ m *Memory }

// =============================================================================
// WORK ORDERS
// =============================================================================

func (m *Memory) InsertWorkOrder(ctx context.Context, wo *obra.WorkOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertWorkOrder(wo)
}
func (t *memTx) InsertWorkOrder(_ context.Context, wo *obra.WorkOrder) error {
	return t.m.insertWorkOrder(wo)
}

func (m *Memory) insertWorkOrder(wo *obra.WorkOrder) error {
	if wo.TicketID != "" {
		for _, existing := range m.workOrders {
			if existing.TicketID == wo.TicketID {
				return &obra.DuplicateTicketLinkError{TicketID: wo.TicketID, ExistingWorkOrderID: existing.ID}
			}
		}
	}
	m.workOrders[wo.ID] = *wo
	return nil
}

func (m *Memory) GetWorkOrder(ctx context.Context, id string) (*obra.WorkOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getWorkOrder(id)
}
func (t *memTx) GetWorkOrder(_ context.Context, id string) (*obra.WorkOrder, error) {
	return t.m.getWorkOrder(id)
}

func (m *Memory) getWorkOrder(id string) (*obra.WorkOrder, error) {
	wo, ok := m.workOrders[id]
	if !ok {
		return nil, nil
	}
	return &wo, nil
}

func (m *Memory) FindWorkOrderByTicket(ctx context.Context, ticketID string) (*obra.WorkOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findWorkOrderByTicket(ticketID)
}
func (t *memTx) FindWorkOrderByTicket(_ context.Context, ticketID string) (*obra.WorkOrder, error) {
	return t.m.findWorkOrderByTicket(ticketID)
}

func (m *Memory) findWorkOrderByTicket(ticketID string) (*obra.WorkOrder, error) {
	for _, wo := range m.workOrders {
		if wo.TicketID == ticketID {
			w := wo
			return &w, nil
		}
	}
	return nil, nil
}

func (m *Memory) UpdateWorkOrder(ctx context.Context, wo *obra.WorkOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateWorkOrder(wo)
}
func (t *memTx) UpdateWorkOrder(_ context.Context, wo *obra.WorkOrder) error {
	return t.m.updateWorkOrder(wo)
}

func (m *Memory) updateWorkOrder(wo *obra.WorkOrder) error {
	if _, ok := m.workOrders[wo.ID]; !ok {
		return obra.ErrWorkOrderNotFound
	}
	m.workOrders[wo.ID] = *wo
	return nil
}

func (m *Memory) DeleteWorkOrder(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteWorkOrder(id)
}
func (t *memTx) DeleteWorkOrder(_ context.Context, id string) error {
	return t.m.deleteWorkOrder(id)
}

func (m *Memory) deleteWorkOrder(id string) error {
	delete(m.workOrders, id)
	for vid, v := range m.versions {
		if v.WorkOrderID == id {
			delete(m.versions, vid)
			for iid, it := range m.items {
				if it.VersionID == vid {
					delete(m.items, iid)
				}
			}
		}
	}
	kept := m.history[:0]
	for _, h := range m.history {
		if h.WorkOrderID != id {
			kept = append(kept, h)
		}
	}
	m.history = kept
	return nil
}

func (m *Memory) ListWorkOrders(ctx context.Context) ([]obra.WorkOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listWorkOrders()
}
func (t *memTx) ListWorkOrders(_ context.Context) ([]obra.WorkOrder, error) {
	return t.m.listWorkOrders()
}

func (m *Memory) listWorkOrders() ([]obra.WorkOrder, error) {
	out := make([]obra.WorkOrder, 0, len(m.workOrders))
	for _, wo := range m.workOrders {
		out = append(out, wo)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (m *Memory) NextWorkOrderCode(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextWorkOrderCode()
}
func (t *memTx) NextWorkOrderCode(_ context.Context) (string, error) {
	return t.m.nextWorkOrderCode()
}

func (m *Memory) nextWorkOrderCode() (string, error) {
	m.codeSeq++
	return fmt.Sprintf("OT-%06d", m.codeSeq), nil
}

func (m *Memory) SetBudgetedAmount(ctx context.Context, workOrderID string, amount obra.Money) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setBudgetedAmount(workOrderID, amount)
}
func (t *memTx) SetBudgetedAmount(_ context.Context, workOrderID string, amount obra.Money) error {
	return t.m.setBudgetedAmount(workOrderID, amount)
}

func (m *Memory) setBudgetedAmount(workOrderID string, amount obra.Money) error {
	wo, ok := m.workOrders[workOrderID]
	if !ok {
		return obra.ErrWorkOrderNotFound
	}
	wo.BudgetedAmount = amount
	m.workOrders[workOrderID] = wo
	return nil
}

func (m *Memory) SetSpentAmount(ctx context.Context, workOrderID string, amount obra.Money) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setSpentAmount(workOrderID, amount)
}
func (t *memTx) SetSpentAmount(_ context.Context, workOrderID string, amount obra.Money) error {
	return t.m.setSpentAmount(workOrderID, amount)
}

func (m *Memory) setSpentAmount(workOrderID string, amount obra.Money) error {
	wo, ok := m.workOrders[workOrderID]
	if !ok {
		return obra.ErrWorkOrderNotFound
	}
	wo.SpentAmount = amount
	m.workOrders[workOrderID] = wo
	return nil
}

// =============================================================================
// BUDGET VERSIONS
// =============================================================================

func (m *Memory) InsertVersion(ctx context.Context, v *obra.BudgetVersion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertVersion(v)
}
func (t *memTx) InsertVersion(_ context.Context, v *obra.BudgetVersion) error {
	return t.m.insertVersion(v)
}

func (m *Memory) insertVersion(v *obra.BudgetVersion) error {
	for _, existing := range m.versions {
		if existing.WorkOrderID == v.WorkOrderID && existing.Number == v.Number {
			return obra.ErrConcurrentVersionConflict
		}
	}
	stored := *v
	stored.IsCurrent = false // only MarkCurrent touches the flag
	m.versions[v.ID] = stored
	return nil
}

func (m *Memory) GetVersion(ctx context.Context, id string) (*obra.BudgetVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getVersion(id)
}
func (t *memTx) GetVersion(_ context.Context, id string) (*obra.BudgetVersion, error) {
	return t.m.getVersion(id)
}

func (m *Memory) getVersion(id string) (*obra.BudgetVersion, error) {
	v, ok := m.versions[id]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (m *Memory) CurrentVersion(ctx context.Context, workOrderID string) (*obra.BudgetVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentVersion(workOrderID)
}
func (t *memTx) CurrentVersion(_ context.Context, workOrderID string) (*obra.BudgetVersion, error) {
	return t.m.currentVersion(workOrderID)
}

func (m *Memory) currentVersion(workOrderID string) (*obra.BudgetVersion, error) {
	for _, v := range m.versions {
		if v.WorkOrderID == workOrderID && v.IsCurrent {
			vv := v
			return &vv, nil
		}
	}
	return nil, nil
}

func (m *Memory) ListVersions(ctx context.Context, workOrderID string) ([]obra.BudgetVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listVersions(workOrderID)
}
func (t *memTx) ListVersions(_ context.Context, workOrderID string) ([]obra.BudgetVersion, error) {
	return t.m.listVersions(workOrderID)
}

func (m *Memory) listVersions(workOrderID string) ([]obra.BudgetVersion, error) {
	out := []obra.BudgetVersion{}
	for _, v := range m.versions {
		if v.WorkOrderID == workOrderID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number > out[j].Number })
	return out, nil
}

func (m *Memory) MarkCurrent(ctx context.Context, workOrderID, versionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.markCurrent(workOrderID, versionID)
}
func (t *memTx) MarkCurrent(_ context.Context, workOrderID, versionID string) error {
	return t.m.markCurrent(workOrderID, versionID)
}

func (m *Memory) markCurrent(workOrderID, versionID string) error {
	target, ok := m.versions[versionID]
	if !ok || target.WorkOrderID != workOrderID {
		return obra.ErrVersionNotFound
	}
	for id, v := range m.versions {
		if v.WorkOrderID == workOrderID && v.IsCurrent {
			v.IsCurrent = false
			m.versions[id] = v
		}
	}
	target.IsCurrent = true
	m.versions[versionID] = target
	return nil
}

func (m *Memory) SetVersionTotals(ctx context.Context, versionID string, subtotal, total obra.Money) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setVersionTotals(versionID, subtotal, total)
}
func (t *memTx) SetVersionTotals(_ context.Context, versionID string, subtotal, total obra.Money) error {
	return t.m.setVersionTotals(versionID, subtotal, total)
}

func (m *Memory) setVersionTotals(versionID string, subtotal, total obra.Money) error {
	v, ok := m.versions[versionID]
	if !ok {
		return obra.ErrVersionNotFound
	}
	v.Subtotal = subtotal
	v.Total = total
	m.versions[versionID] = v
	return nil
}

func (m *Memory) SetVersionDocument(ctx context.Context, versionID, documentRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setVersionDocument(versionID, documentRef)
}
func (t *memTx) SetVersionDocument(_ context.Context, versionID, documentRef string) error {
	return t.m.setVersionDocument(versionID, documentRef)
}

func (m *Memory) setVersionDocument(versionID, documentRef string) error {
	v, ok := m.versions[versionID]
	if !ok {
		return obra.ErrVersionNotFound
	}
	v.DocumentRef = documentRef
	m.versions[versionID] = v
	return nil
}

// =============================================================================
// LINE ITEMS
// =============================================================================

func (m *Memory) InsertItem(ctx context.Context, item *obra.LineItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertItem(item)
}
func (t *memTx) InsertItem(_ context.Context, item *obra.LineItem) error {
	return t.m.insertItem(item)
}

func (m *Memory) insertItem(item *obra.LineItem) error {
	m.items[item.ID] = *item
	return nil
}

func (m *Memory) GetItem(ctx context.Context, id string) (*obra.LineItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getItem(id)
}
func (t *memTx) GetItem(_ context.Context, id string) (*obra.LineItem, error) {
	return t.m.getItem(id)
}

func (m *Memory) getItem(id string) (*obra.LineItem, error) {
	it, ok := m.items[id]
	if !ok {
		return nil, nil
	}
	return &it, nil
}

func (m *Memory) UpdateItem(ctx context.Context, item *obra.LineItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateItem(item)
}
func (t *memTx) UpdateItem(_ context.Context, item *obra.LineItem) error {
	return t.m.updateItem(item)
}

func (m *Memory) updateItem(item *obra.LineItem) error {
	if _, ok := m.items[item.ID]; !ok {
		return obra.ErrItemNotFound
	}
	m.items[item.ID] = *item
	return nil
}

func (m *Memory) DeleteItem(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteItem(id)
}
func (t *memTx) DeleteItem(_ context.Context, id string) error {
	return t.m.deleteItem(id)
}

func (m *Memory) deleteItem(id string) error {
	if _, ok := m.items[id]; !ok {
		return obra.ErrItemNotFound
	}
	delete(m.items, id)
	return nil
}

func (m *Memory) ListItems(ctx context.Context, versionID string) ([]obra.LineItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listItems(versionID)
}
func (t *memTx) ListItems(_ context.Context, versionID string) ([]obra.LineItem, error) {
	return t.m.listItems(versionID)
}

func (m *Memory) listItems(versionID string) ([]obra.LineItem, error) {
	out := []obra.LineItem{}
	for _, it := range m.items {
		if it.VersionID == versionID {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) SetItemPositions(ctx context.Context, versionID string, positions []obra.ItemPosition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setItemPositions(versionID, positions)
}
func (t *memTx) SetItemPositions(_ context.Context, versionID string, positions []obra.ItemPosition) error {
	return t.m.setItemPositions(versionID, positions)
}

func (m *Memory) setItemPositions(versionID string, positions []obra.ItemPosition) error {
	for _, p := range positions {
		it, ok := m.items[p.ItemID]
		if !ok || it.VersionID != versionID {
			return obra.ErrItemNotFound
		}
		it.Position = p.Position
		m.items[p.ItemID] = it
	}
	return nil
}

// =============================================================================
// STATUS HISTORY
// =============================================================================

func (m *Memory) AppendHistory(ctx context.Context, entry obra.StatusHistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendHistory(entry)
}
func (t *memTx) AppendHistory(_ context.Context, entry obra.StatusHistoryEntry) error {
	return t.m.appendHistory(entry)
}

func (m *Memory) appendHistory(entry obra.StatusHistoryEntry) error {
	m.history = append(m.history, entry)
	return nil
}

func (m *Memory) ListHistory(ctx context.Context, workOrderID string) ([]obra.StatusHistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listHistory(workOrderID)
}
func (t *memTx) ListHistory(_ context.Context, workOrderID string) ([]obra.StatusHistoryEntry, error) {
	return t.m.listHistory(workOrderID)
}

func (m *Memory) listHistory(workOrderID string) ([]obra.StatusHistoryEntry, error) {
	out := []obra.StatusHistoryEntry{}
	for _, h := range m.history {
		if h.WorkOrderID == workOrderID {
			out = append(out, h)
		}
	}
	return out, nil
}

// =============================================================================
// REGISTRY + CATALOG (test fixtures)
// =============================================================================

func (m *Memory) PutClient(c obra.Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[c.ID] = c
}

func (m *Memory) PutSite(s obra.Site) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sites[s.ID] = s
}

func (m *Memory) PutMaterial(mat obra.Material) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.materials[mat.ID] = mat
}

func (m *Memory) GetClient(_ context.Context, id string) (*obra.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *Memory) GetSite(_ context.Context, id string) (*obra.Site, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sites[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *Memory) GetMaterial(_ context.Context, id string) (*obra.Material, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mat, ok := m.materials[id]
	if !ok {
		return nil, nil
	}
	return &mat, nil
}

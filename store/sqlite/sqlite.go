/*
Package sqlite provides the SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements obra.TxStore, obra.Registry and obra.CatalogLookup on SQLite.
  In production the same patterns apply to PostgreSQL - only minor SQL
  dialect differences.

INVARIANTS ENFORCED AT THE SCHEMA LEVEL:
  idx_versions_wo_number:       one row per (work_order_id, number); two
                                racing version creators collide here and
                                the loser gets ErrConcurrentVersionConflict
  idx_versions_single_current:  partial unique index - at most one current
                                version per work order, even if a bug in
                                the flip logic slipped through
  idx_work_orders_ticket:       partial unique index - at most one work
                                order per originating ticket

CASCADES:
  Deleting a work order cascades to its versions, items and history via
  foreign keys (the only business rule that deletes child rows in bulk).

CONCURRENCY:
  Uses sync.Mutex around writes plus WAL mode. In production with
  PostgreSQL, database-level concurrency control handles this instead.

USAGE:
  store, err := sqlite.New("./data/obra.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := obra.NewService(store, store)

SEE ALSO:
  - obra/store.go: Interface definitions and the conflict-mapping contract
  - obra/store/memory.go: In-memory implementation for unit tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/fieldworks/obra-engine/obra"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS work_orders (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL UNIQUE,
		kind TEXT NOT NULL,
		mode TEXT NOT NULL,
		status TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		request_date TEXT NOT NULL,
		estimated_start TEXT,
		estimated_end TEXT,
		actual_start TEXT,
		actual_end TEXT,
		client_id TEXT NOT NULL,
		site_id TEXT NOT NULL DEFAULT '',
		ticket_id TEXT NOT NULL DEFAULT '',
		payment_terms TEXT NOT NULL DEFAULT '',
		validity_days INTEGER NOT NULL DEFAULT 0,
		budgeted_amount TEXT NOT NULL DEFAULT '0',
		spent_amount TEXT NOT NULL DEFAULT '0',
		invoice_number TEXT NOT NULL DEFAULT '',
		invoice_date TEXT,
		created_by TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- At most one work order per originating ticket
	CREATE UNIQUE INDEX IF NOT EXISTS idx_work_orders_ticket
		ON work_orders(ticket_id) WHERE ticket_id != '';
	CREATE INDEX IF NOT EXISTS idx_work_orders_client
		ON work_orders(client_id);
	CREATE INDEX IF NOT EXISTS idx_work_orders_status
		ON work_orders(status);

	CREATE TABLE IF NOT EXISTS budget_versions (
		id TEXT PRIMARY KEY,
		work_order_id TEXT NOT NULL REFERENCES work_orders(id) ON DELETE CASCADE,
		number INTEGER NOT NULL,
		is_current INTEGER NOT NULL DEFAULT 0,
		subtotal TEXT NOT NULL DEFAULT '0',
		total TEXT NOT NULL DEFAULT '0',
		notes TEXT NOT NULL DEFAULT '',
		document_ref TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	-- Version numbers are unique per work order; racing creators collide here
	CREATE UNIQUE INDEX IF NOT EXISTS idx_versions_wo_number
		ON budget_versions(work_order_id, number);

	-- CRITICAL: at most one current version per work order
	CREATE UNIQUE INDEX IF NOT EXISTS idx_versions_single_current
		ON budget_versions(work_order_id) WHERE is_current = 1;

	CREATE TABLE IF NOT EXISTS line_items (
		id TEXT PRIMARY KEY,
		version_id TEXT NOT NULL REFERENCES budget_versions(id) ON DELETE CASCADE,
		kind TEXT NOT NULL,
		position INTEGER NOT NULL,
		description TEXT NOT NULL,
		quantity TEXT NOT NULL,
		unit TEXT NOT NULL DEFAULT '',
		unit_cost TEXT NOT NULL DEFAULT '0',
		unit_price TEXT NOT NULL DEFAULT '0',
		subtotal TEXT NOT NULL DEFAULT '0',
		material_ref TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_items_version
		ON line_items(version_id, position);

	CREATE TABLE IF NOT EXISTS status_history (
		id TEXT PRIMARY KEY,
		work_order_id TEXT NOT NULL REFERENCES work_orders(id) ON DELETE CASCADE,
		from_status TEXT NOT NULL,
		to_status TEXT NOT NULL,
		actor_id TEXT NOT NULL DEFAULT '',
		note TEXT NOT NULL DEFAULT '',
		at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_history_work_order
		ON status_history(work_order_id, at);

	-- Single-row counter feeding the sequential human-readable codes
	CREATE TABLE IF NOT EXISTS work_order_codes (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		last_value INTEGER NOT NULL
	);
	INSERT OR IGNORE INTO work_order_codes (id, last_value) VALUES (1, 0);

	CREATE TABLE IF NOT EXISTS clients (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		tax_id TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sites (
		id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL REFERENCES clients(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		address TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS materials (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		unit TEXT NOT NULL DEFAULT '',
		unit_cost TEXT NOT NULL DEFAULT '0',
		unit_price TEXT NOT NULL DEFAULT '0',
		updated_at TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// dbtx is the subset of *sql.DB / *sql.Tx the implementations need.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store obra.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore routes Store calls to an open transaction.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) InsertWorkOrder(ctx context.Context, wo *obra.WorkOrder) error {
	return insertWorkOrder(ctx, ts.tx, wo)
}
func (ts *txStore) GetWorkOrder(ctx context.Context, id string) (*obra.WorkOrder, error) {
	return getWorkOrder(ctx, ts.tx, id)
}
func (ts *txStore) FindWorkOrderByTicket(ctx context.Context, ticketID string) (*obra.WorkOrder, error) {
	return findWorkOrderByTicket(ctx, ts.tx, ticketID)
}
func (ts *txStore) UpdateWorkOrder(ctx context.Context, wo *obra.WorkOrder) error {
	return updateWorkOrder(ctx, ts.tx, wo)
}
func (ts *txStore) DeleteWorkOrder(ctx context.Context, id string) error {
	return deleteWorkOrder(ctx, ts.tx, id)
}
func (ts *txStore) ListWorkOrders(ctx context.Context) ([]obra.WorkOrder, error) {
	return listWorkOrders(ctx, ts.tx)
}
func (ts *txStore) NextWorkOrderCode(ctx context.Context) (string, error) {
	return nextWorkOrderCode(ctx, ts.tx)
}
func (ts *txStore) SetBudgetedAmount(ctx context.Context, workOrderID string, amount obra.Money) error {
	return setBudgetedAmount(ctx, ts.tx, workOrderID, amount)
}
func (ts *txStore) SetSpentAmount(ctx context.Context, workOrderID string, amount obra.Money) error {
	return setSpentAmount(ctx, ts.tx, workOrderID, amount)
}
func (ts *txStore) InsertVersion(ctx context.Context, v *obra.BudgetVersion) error {
	return insertVersion(ctx, ts.tx, v)
}
func (ts *txStore) GetVersion(ctx context.Context, id string) (*obra.BudgetVersion, error) {
	return getVersion(ctx, ts.tx, id)
}
func (ts *txStore) CurrentVersion(ctx context.Context, workOrderID string) (*obra.BudgetVersion, error) {
	return currentVersion(ctx, ts.tx, workOrderID)
}
func (ts *txStore) ListVersions(ctx context.Context, workOrderID string) ([]obra.BudgetVersion, error) {
	return listVersions(ctx, ts.tx, workOrderID)
}
func (ts *txStore) MarkCurrent(ctx context.Context, workOrderID, versionID string) error {
	return markCurrent(ctx, ts.tx, workOrderID, versionID)
}
func (ts *txStore) SetVersionTotals(ctx context.Context, versionID string, subtotal, total obra.Money) error {
	return setVersionTotals(ctx, ts.tx, versionID, subtotal, total)
}
func (ts *txStore) SetVersionDocument(ctx context.Context, versionID, documentRef string) error {
	return setVersionDocument(ctx, ts.tx, versionID, documentRef)
}
func (ts *txStore) InsertItem(ctx context.Context, item *obra.LineItem) error {
	return insertItem(ctx, ts.tx, item)
}
func (ts *txStore) GetItem(ctx context.Context, id string) (*obra.LineItem, error) {
	return getItem(ctx, ts.tx, id)
}
func (ts *txStore) UpdateItem(ctx context.Context, item *obra.LineItem) error {
	return updateItem(ctx, ts.tx, item)
}
func (ts *txStore) DeleteItem(ctx context.Context, id string) error {
	return deleteItem(ctx, ts.tx, id)
}
func (ts *txStore) ListItems(ctx context.Context, versionID string) ([]obra.LineItem, error) {
	return listItems(ctx, ts.tx, versionID)
}
func (ts *txStore) SetItemPositions(ctx context.Context, versionID string, positions []obra.ItemPosition) error {
	return setItemPositions(ctx, ts.tx, versionID, positions)
}
func (ts *txStore) AppendHistory(ctx context.Context, entry obra.StatusHistoryEntry) error {
	return appendHistory(ctx, ts.tx, entry)
}
func (ts *txStore) ListHistory(ctx context.Context, workOrderID string) ([]obra.StatusHistoryEntry, error) {
	return listHistory(ctx, ts.tx, workOrderID)
}

// =============================================================================
// WORK ORDERS
// =============================================================================

func (s *Store) InsertWorkOrder(ctx context.Context, wo *obra.WorkOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertWorkOrder(ctx, s.db, wo)
}

func insertWorkOrder(ctx context.Context, db dbtx, wo *obra.WorkOrder) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO work_orders
		(id, code, kind, mode, status, title, description, request_date,
		 estimated_start, estimated_end, actual_start, actual_end,
		 client_id, site_id, ticket_id, payment_terms, validity_days,
		 budgeted_amount, spent_amount, invoice_number, invoice_date,
		 created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		wo.ID, wo.Code, wo.Kind, wo.Mode, wo.Status, wo.Title, wo.Description,
		formatTime(wo.RequestDate),
		nullableTime(wo.EstimatedStart), nullableTime(wo.EstimatedEnd),
		nullableTime(wo.ActualStart), nullableTime(wo.ActualEnd),
		wo.ClientID, wo.SiteID, wo.TicketID, wo.PaymentTerms, wo.ValidityDays,
		wo.BudgetedAmount.Value.String(), wo.SpentAmount.Value.String(),
		wo.InvoiceNumber, nullableTime(wo.InvoiceDate),
		wo.CreatedBy, formatTime(wo.CreatedAt), formatTime(wo.UpdatedAt),
	)
	if isUniqueConstraintError(err) {
		if strings.Contains(err.Error(), "ticket_id") {
			return &obra.DuplicateTicketLinkError{TicketID: wo.TicketID}
		}
		return fmt.Errorf("%w: work order %s", obra.ErrConcurrentVersionConflict, wo.ID)
	}
	return err
}

const workOrderColumns = `id, code, kind, mode, status, title, description, request_date,
	estimated_start, estimated_end, actual_start, actual_end,
	client_id, site_id, ticket_id, payment_terms, validity_days,
	budgeted_amount, spent_amount, invoice_number, invoice_date,
	created_by, created_at, updated_at`

func (s *Store) GetWorkOrder(ctx context.Context, id string) (*obra.WorkOrder, error) {
	return getWorkOrder(ctx, s.db, id)
}

func getWorkOrder(ctx context.Context, db dbtx, id string) (*obra.WorkOrder, error) {
	return queryWorkOrder(ctx, db, `SELECT `+workOrderColumns+` FROM work_orders WHERE id = ?`, id)
}

func (s *Store) FindWorkOrderByTicket(ctx context.Context, ticketID string) (*obra.WorkOrder, error) {
	return findWorkOrderByTicket(ctx, s.db, ticketID)
}

func findWorkOrderByTicket(ctx context.Context, db dbtx, ticketID string) (*obra.WorkOrder, error) {
	if ticketID == "" {
		return nil, nil
	}
	return queryWorkOrder(ctx, db, `SELECT `+workOrderColumns+` FROM work_orders WHERE ticket_id = ?`, ticketID)
}

func queryWorkOrder(ctx context.Context, db dbtx, query string, args ...any) (*obra.WorkOrder, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	wo, err := scanWorkOrder(rows)
	if err != nil {
		return nil, err
	}
	return &wo, nil
}

func scanWorkOrder(rows *sql.Rows) (obra.WorkOrder, error) {
	var wo obra.WorkOrder
	var requestDate, createdAt, updatedAt string
	var estStart, estEnd, actStart, actEnd, invDate sql.NullString
	var budgeted, spent string

	err := rows.Scan(
		&wo.ID, &wo.Code, &wo.Kind, &wo.Mode, &wo.Status, &wo.Title, &wo.Description,
		&requestDate, &estStart, &estEnd, &actStart, &actEnd,
		&wo.ClientID, &wo.SiteID, &wo.TicketID, &wo.PaymentTerms, &wo.ValidityDays,
		&budgeted, &spent, &wo.InvoiceNumber, &invDate,
		&wo.CreatedBy, &createdAt, &updatedAt,
	)
	if err != nil {
		return wo, err
	}

	wo.RequestDate = parseTime(requestDate)
	wo.EstimatedStart = parseNullableTime(estStart)
	wo.EstimatedEnd = parseNullableTime(estEnd)
	wo.ActualStart = parseNullableTime(actStart)
	wo.ActualEnd = parseNullableTime(actEnd)
	wo.InvoiceDate = parseNullableTime(invDate)
	wo.BudgetedAmount = parseMoney(budgeted)
	wo.SpentAmount = parseMoney(spent)
	wo.CreatedAt = parseTime(createdAt)
	wo.UpdatedAt = parseTime(updatedAt)
	return wo, nil
}

func (s *Store) UpdateWorkOrder(ctx context.Context, wo *obra.WorkOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateWorkOrder(ctx, s.db, wo)
}

func updateWorkOrder(ctx context.Context, db dbtx, wo *obra.WorkOrder) error {
	res, err := db.ExecContext(ctx, `
		UPDATE work_orders SET
			kind = ?, mode = ?, status = ?, title = ?, description = ?,
			request_date = ?, estimated_start = ?, estimated_end = ?,
			actual_start = ?, actual_end = ?, site_id = ?,
			payment_terms = ?, validity_days = ?, invoice_number = ?,
			invoice_date = ?, updated_at = ?
		WHERE id = ?`,
		wo.Kind, wo.Mode, wo.Status, wo.Title, wo.Description,
		formatTime(wo.RequestDate), nullableTime(wo.EstimatedStart), nullableTime(wo.EstimatedEnd),
		nullableTime(wo.ActualStart), nullableTime(wo.ActualEnd), wo.SiteID,
		wo.PaymentTerms, wo.ValidityDays, wo.InvoiceNumber,
		nullableTime(wo.InvoiceDate), formatTime(wo.UpdatedAt),
		wo.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return obra.ErrWorkOrderNotFound
	}
	return nil
}

func (s *Store) DeleteWorkOrder(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteWorkOrder(ctx, s.db, id)
}

func deleteWorkOrder(ctx context.Context, db dbtx, id string) error {
	// Foreign keys cascade to versions, items and history.
	_, err := db.ExecContext(ctx, `DELETE FROM work_orders WHERE id = ?`, id)
	return err
}

func (s *Store) ListWorkOrders(ctx context.Context) ([]obra.WorkOrder, error) {
	return listWorkOrders(ctx, s.db)
}

func listWorkOrders(ctx context.Context, db dbtx) ([]obra.WorkOrder, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+workOrderColumns+` FROM work_orders ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []obra.WorkOrder
	for rows.Next() {
		wo, err := scanWorkOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, wo)
	}
	return out, rows.Err()
}

func (s *Store) NextWorkOrderCode(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return nextWorkOrderCode(ctx, s.db)
}

func nextWorkOrderCode(ctx context.Context, db dbtx) (string, error) {
	if _, err := db.ExecContext(ctx, `UPDATE work_order_codes SET last_value = last_value + 1 WHERE id = 1`); err != nil {
		return "", err
	}
	var v int
	if err := db.QueryRowContext(ctx, `SELECT last_value FROM work_order_codes WHERE id = 1`).Scan(&v); err != nil {
		return "", err
	}
	return fmt.Sprintf("OT-%06d", v), nil
}

func (s *Store) SetBudgetedAmount(ctx context.Context, workOrderID string, amount obra.Money) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return setBudgetedAmount(ctx, s.db, workOrderID, amount)
}

func setBudgetedAmount(ctx context.Context, db dbtx, workOrderID string, amount obra.Money) error {
	return setRollup(ctx, db, workOrderID, "budgeted_amount", amount)
}

func (s *Store) SetSpentAmount(ctx context.Context, workOrderID string, amount obra.Money) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return setSpentAmount(ctx, s.db, workOrderID, amount)
}

func setSpentAmount(ctx context.Context, db dbtx, workOrderID string, amount obra.Money) error {
	return setRollup(ctx, db, workOrderID, "spent_amount", amount)
}

func setRollup(ctx context.Context, db dbtx, workOrderID, column string, amount obra.Money) error {
	res, err := db.ExecContext(ctx,
		`UPDATE work_orders SET `+column+` = ?, updated_at = ? WHERE id = ?`,
		amount.Value.String(), formatTime(time.Now().UTC()), workOrderID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return obra.ErrWorkOrderNotFound
	}
	return nil
}

// =============================================================================
// BUDGET VERSIONS
// =============================================================================

func (s *Store) InsertVersion(ctx context.Context, v *obra.BudgetVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertVersion(ctx, s.db, v)
}

func insertVersion(ctx context.Context, db dbtx, v *obra.BudgetVersion) error {
	// is_current is always inserted as 0; MarkCurrent is the only flag writer.
	_, err := db.ExecContext(ctx, `
		INSERT INTO budget_versions
		(id, work_order_id, number, is_current, subtotal, total, notes, document_ref, created_at)
		VALUES (?, ?, ?, 0, ?, ?, ?, ?, ?)`,
		v.ID, v.WorkOrderID, v.Number,
		v.Subtotal.Value.String(), v.Total.Value.String(),
		v.Notes, v.DocumentRef, formatTime(v.CreatedAt),
	)
	if isUniqueConstraintError(err) {
		return fmt.Errorf("%w: version %d of work order %s already exists",
			obra.ErrConcurrentVersionConflict, v.Number, v.WorkOrderID)
	}
	return err
}

const versionColumns = `id, work_order_id, number, is_current, subtotal, total, notes, document_ref, created_at`

func (s *Store) GetVersion(ctx context.Context, id string) (*obra.BudgetVersion, error) {
	return getVersion(ctx, s.db, id)
}

func getVersion(ctx context.Context, db dbtx, id string) (*obra.BudgetVersion, error) {
	return queryVersion(ctx, db, `SELECT `+versionColumns+` FROM budget_versions WHERE id = ?`, id)
}

func (s *Store) CurrentVersion(ctx context.Context, workOrderID string) (*obra.BudgetVersion, error) {
	return currentVersion(ctx, s.db, workOrderID)
}

func currentVersion(ctx context.Context, db dbtx, workOrderID string) (*obra.BudgetVersion, error) {
	return queryVersion(ctx, db,
		`SELECT `+versionColumns+` FROM budget_versions WHERE work_order_id = ? AND is_current = 1`, workOrderID)
}

func queryVersion(ctx context.Context, db dbtx, query string, args ...any) (*obra.BudgetVersion, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	v, err := scanVersion(rows)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func scanVersion(rows *sql.Rows) (obra.BudgetVersion, error) {
	var v obra.BudgetVersion
	var subtotal, total, createdAt string
	var isCurrent int

	err := rows.Scan(&v.ID, &v.WorkOrderID, &v.Number, &isCurrent,
		&subtotal, &total, &v.Notes, &v.DocumentRef, &createdAt)
	if err != nil {
		return v, err
	}
	v.IsCurrent = isCurrent == 1
	v.Subtotal = parseMoney(subtotal)
	v.Total = parseMoney(total)
	v.CreatedAt = parseTime(createdAt)
	return v, nil
}

func (s *Store) ListVersions(ctx context.Context, workOrderID string) ([]obra.BudgetVersion, error) {
	return listVersions(ctx, s.db, workOrderID)
}

func listVersions(ctx context.Context, db dbtx, workOrderID string) ([]obra.BudgetVersion, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+versionColumns+` FROM budget_versions WHERE work_order_id = ? ORDER BY number DESC`, workOrderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []obra.BudgetVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Store) MarkCurrent(ctx context.Context, workOrderID, versionID string) error {
	// Outside a caller-provided transaction the flip still has to be atomic.
	return s.WithTx(ctx, func(st obra.Store) error {
		return st.MarkCurrent(ctx, workOrderID, versionID)
	})
}

func markCurrent(ctx context.Context, db dbtx, workOrderID, versionID string) error {
	if _, err := db.ExecContext(ctx,
		`UPDATE budget_versions SET is_current = 0 WHERE work_order_id = ? AND is_current = 1`,
		workOrderID); err != nil {
		return err
	}
	res, err := db.ExecContext(ctx,
		`UPDATE budget_versions SET is_current = 1 WHERE id = ? AND work_order_id = ?`,
		versionID, workOrderID)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: current flag for work order %s", obra.ErrConcurrentVersionConflict, workOrderID)
		}
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return obra.ErrVersionNotFound
	}
	return nil
}

func (s *Store) SetVersionTotals(ctx context.Context, versionID string, subtotal, total obra.Money) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return setVersionTotals(ctx, s.db, versionID, subtotal, total)
}

func setVersionTotals(ctx context.Context, db dbtx, versionID string, subtotal, total obra.Money) error {
	res, err := db.ExecContext(ctx,
		`UPDATE budget_versions SET subtotal = ?, total = ? WHERE id = ?`,
		subtotal.Value.String(), total.Value.String(), versionID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return obra.ErrVersionNotFound
	}
	return nil
}

func (s *Store) SetVersionDocument(ctx context.Context, versionID, documentRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return setVersionDocument(ctx, s.db, versionID, documentRef)
}

func setVersionDocument(ctx context.Context, db dbtx, versionID, documentRef string) error {
	res, err := db.ExecContext(ctx,
		`UPDATE budget_versions SET document_ref = ? WHERE id = ?`, documentRef, versionID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return obra.ErrVersionNotFound
	}
	return nil
}

// =============================================================================
// LINE ITEMS
// =============================================================================

func (s *Store) InsertItem(ctx context.Context, item *obra.LineItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertItem(ctx, s.db, item)
}

func insertItem(ctx context.Context, db dbtx, item *obra.LineItem) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO line_items
		(id, version_id, kind, position, description, quantity, unit,
		 unit_cost, unit_price, subtotal, material_ref, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.VersionID, item.Kind, item.Position, item.Description,
		item.Quantity.String(), item.Unit,
		item.UnitCost.Value.String(), item.UnitPrice.Value.String(), item.Subtotal.Value.String(),
		item.MaterialRef, formatTime(item.CreatedAt), formatTime(item.UpdatedAt),
	)
	return err
}

const itemColumns = `id, version_id, kind, position, description, quantity, unit,
	unit_cost, unit_price, subtotal, material_ref, created_at, updated_at`

func (s *Store) GetItem(ctx context.Context, id string) (*obra.LineItem, error) {
	return getItem(ctx, s.db, id)
}

func getItem(ctx context.Context, db dbtx, id string) (*obra.LineItem, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+itemColumns+` FROM line_items WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	item, err := scanItem(rows)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func scanItem(rows *sql.Rows) (obra.LineItem, error) {
	var item obra.LineItem
	var quantity, unitCost, unitPrice, subtotal, createdAt, updatedAt string

	err := rows.Scan(&item.ID, &item.VersionID, &item.Kind, &item.Position, &item.Description,
		&quantity, &item.Unit, &unitCost, &unitPrice, &subtotal,
		&item.MaterialRef, &createdAt, &updatedAt)
	if err != nil {
		return item, err
	}
	item.Quantity = parseDecimal(quantity)
	item.UnitCost = parseMoney(unitCost)
	item.UnitPrice = parseMoney(unitPrice)
	item.Subtotal = parseMoney(subtotal)
	item.CreatedAt = parseTime(createdAt)
	item.UpdatedAt = parseTime(updatedAt)
	return item, nil
}

func (s *Store) UpdateItem(ctx context.Context, item *obra.LineItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateItem(ctx, s.db, item)
}

func updateItem(ctx context.Context, db dbtx, item *obra.LineItem) error {
	res, err := db.ExecContext(ctx, `
		UPDATE line_items SET
			kind = ?, position = ?, description = ?, quantity = ?, unit = ?,
			unit_cost = ?, unit_price = ?, subtotal = ?, updated_at = ?
		WHERE id = ?`,
		item.Kind, item.Position, item.Description, item.Quantity.String(), item.Unit,
		item.UnitCost.Value.String(), item.UnitPrice.Value.String(), item.Subtotal.Value.String(),
		formatTime(item.UpdatedAt), item.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return obra.ErrItemNotFound
	}
	return nil
}

func (s *Store) DeleteItem(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteItem(ctx, s.db, id)
}

func deleteItem(ctx context.Context, db dbtx, id string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM line_items WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return obra.ErrItemNotFound
	}
	return nil
}

func (s *Store) ListItems(ctx context.Context, versionID string) ([]obra.LineItem, error) {
	return listItems(ctx, s.db, versionID)
}

func listItems(ctx context.Context, db dbtx, versionID string) ([]obra.LineItem, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM line_items WHERE version_id = ? ORDER BY position, created_at`, versionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []obra.LineItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (s *Store) SetItemPositions(ctx context.Context, versionID string, positions []obra.ItemPosition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return setItemPositions(ctx, s.db, versionID, positions)
}

func setItemPositions(ctx context.Context, db dbtx, versionID string, positions []obra.ItemPosition) error {
	for _, p := range positions {
		res, err := db.ExecContext(ctx,
			`UPDATE line_items SET position = ? WHERE id = ? AND version_id = ?`,
			p.Position, p.ItemID, versionID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return obra.ErrItemNotFound
		}
	}
	return nil
}

// =============================================================================
// STATUS HISTORY
// =============================================================================

func (s *Store) AppendHistory(ctx context.Context, entry obra.StatusHistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendHistory(ctx, s.db, entry)
}

func appendHistory(ctx context.Context, db dbtx, entry obra.StatusHistoryEntry) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO status_history (id, work_order_id, from_status, to_status, actor_id, note, at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.WorkOrderID, entry.FromStatus, entry.ToStatus,
		entry.ActorID, entry.Note, formatTime(entry.At),
	)
	return err
}

func (s *Store) ListHistory(ctx context.Context, workOrderID string) ([]obra.StatusHistoryEntry, error) {
	return listHistory(ctx, s.db, workOrderID)
}

func listHistory(ctx context.Context, db dbtx, workOrderID string) ([]obra.StatusHistoryEntry, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, work_order_id, from_status, to_status, actor_id, note, at
		FROM status_history WHERE work_order_id = ? ORDER BY at, id`, workOrderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []obra.StatusHistoryEntry
	for rows.Next() {
		var e obra.StatusHistoryEntry
		var at string
		if err := rows.Scan(&e.ID, &e.WorkOrderID, &e.FromStatus, &e.ToStatus, &e.ActorID, &e.Note, &at); err != nil {
			return nil, err
		}
		e.At = parseTime(at)
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullableTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func parseMoney(s string) obra.Money {
	return obra.Money{Value: parseDecimal(s)}
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

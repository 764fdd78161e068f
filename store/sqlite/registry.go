/*
registry.go - Client, site and material registries

PURPOSE:
  Plain CRUD over the registry tables the engine reads: client/site names
  feed the budget document projection, and the material catalog seeds
  line-item price snapshots. Implements obra.Registry and
  obra.CatalogLookup.

SEE ALSO:
  - obra/projection.go: Reads client/site names
  - obra/ledger.go: Snapshots catalog prices at item creation
*/
package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/fieldworks/obra-engine/obra"
)

// =============================================================================
// CLIENTS
// =============================================================================

func (s *Store) SaveClient(ctx context.Context, c obra.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO clients (id, name, tax_id, email, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, tax_id = excluded.tax_id, email = excluded.email`,
		c.ID, c.Name, c.TaxID, c.Email, formatTime(c.CreatedAt))
	return err
}

func (s *Store) GetClient(ctx context.Context, id string) (*obra.Client, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, tax_id, email, created_at FROM clients WHERE id = ?`, id)

	var c obra.Client
	var createdAt string
	if err := row.Scan(&c.ID, &c.Name, &c.TaxID, &c.Email, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	c.CreatedAt = parseTime(createdAt)
	return &c, nil
}

func (s *Store) ListClients(ctx context.Context) ([]obra.Client, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, tax_id, email, created_at FROM clients ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []obra.Client
	for rows.Next() {
		var c obra.Client
		var createdAt string
		if err := rows.Scan(&c.ID, &c.Name, &c.TaxID, &c.Email, &createdAt); err != nil {
			return nil, err
		}
		c.CreatedAt = parseTime(createdAt)
		out = append(out, c)
	}
	return out, rows.Err()
}

// =============================================================================
// SITES
// =============================================================================

func (s *Store) SaveSite(ctx context.Context, site obra.Site) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sites (id, client_id, name, address)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET client_id = excluded.client_id, name = excluded.name, address = excluded.address`,
		site.ID, site.ClientID, site.Name, site.Address)
	return err
}

func (s *Store) GetSite(ctx context.Context, id string) (*obra.Site, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, client_id, name, address FROM sites WHERE id = ?`, id)

	var site obra.Site
	if err := row.Scan(&site.ID, &site.ClientID, &site.Name, &site.Address); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &site, nil
}

func (s *Store) ListSites(ctx context.Context, clientID string) ([]obra.Site, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, client_id, name, address FROM sites WHERE client_id = ? ORDER BY name`, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []obra.Site
	for rows.Next() {
		var site obra.Site
		if err := rows.Scan(&site.ID, &site.ClientID, &site.Name, &site.Address); err != nil {
			return nil, err
		}
		out = append(out, site)
	}
	return out, rows.Err()
}

// =============================================================================
// MATERIAL CATALOG
// =============================================================================

func (s *Store) SaveMaterial(ctx context.Context, m obra.Material) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO materials (id, code, name, unit, unit_cost, unit_price, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			code = excluded.code, name = excluded.name, unit = excluded.unit,
			unit_cost = excluded.unit_cost, unit_price = excluded.unit_price,
			updated_at = excluded.updated_at`,
		m.ID, m.Code, m.Name, m.Unit,
		m.UnitCost.Value.String(), m.UnitPrice.Value.String(),
		formatTime(time.Now().UTC()))
	return err
}

func (s *Store) GetMaterial(ctx context.Context, id string) (*obra.Material, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, code, name, unit, unit_cost, unit_price, updated_at FROM materials WHERE id = ?`, id)

	m, err := scanMaterial(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return m, nil
}

func (s *Store) ListMaterials(ctx context.Context) ([]obra.Material, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, code, name, unit, unit_cost, unit_price, updated_at FROM materials ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []obra.Material
	for rows.Next() {
		var m obra.Material
		var unitCost, unitPrice, updatedAt string
		if err := rows.Scan(&m.ID, &m.Code, &m.Name, &m.Unit, &unitCost, &unitPrice, &updatedAt); err != nil {
			return nil, err
		}
		m.UnitCost = parseMoney(unitCost)
		m.UnitPrice = parseMoney(unitPrice)
		m.UpdatedAt = parseTime(updatedAt)
		out = append(out, m)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMaterial(row rowScanner) (*obra.Material, error) {
	var m obra.Material
	var unitCost, unitPrice, updatedAt string
	if err := row.Scan(&m.ID, &m.Code, &m.Name, &m.Unit, &unitCost, &unitPrice, &updatedAt); err != nil {
		return nil, err
	}
	m.UnitCost = parseMoney(unitCost)
	m.UnitPrice = parseMoney(unitPrice)
	m.UpdatedAt = parseTime(updatedAt)
	return &m, nil
}

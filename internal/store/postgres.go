// Package store provides credential and order persistence for the sync
// engine: a Postgres implementation and an in-memory one for local runs.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/tournevent/tracksync/pkg/carrier"
	"github.com/tournevent/tracksync/pkg/tracking"
)

// Postgres reads credentials and orders from PostgreSQL through the pgx
// database/sql driver. The schema is owned elsewhere:
//
//	correios_credentials(team_id, identifier, access_code, contract, regional_number)
//	orders(id, team_id, tracking_code, shipping_status, updated_at)
type Postgres struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgres opens and pings a connection pool for dsn.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return NewPostgresWithDB(db), nil
}

// NewPostgresWithDB wraps an existing pool.
func NewPostgresWithDB(db *sql.DB) *Postgres {
	return &Postgres{db: db, now: time.Now}
}

// Close closes the pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}

// FindByTenant returns the tenant's Correios credential.
func (p *Postgres) FindByTenant(ctx context.Context, tenantID string) (*carrier.Credential, error) {
	var (
		cred     = carrier.Credential{TenantID: tenantID}
		regional sql.NullInt64
	)
	err := p.db.QueryRowContext(ctx,
		`SELECT identifier, access_code, contract, regional_number FROM correios_credentials WHERE team_id = $1`,
		tenantID,
	).Scan(&cred.Identifier, &cred.AccessCode, &cred.ContractNumber, &regional)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, carrier.ErrCredentialNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying credential: %w", err)
	}
	if regional.Valid {
		dr := int(regional.Int64)
		cred.RegionalCode = &dr
	}
	return &cred, nil
}

// ListTenants returns every team with a Correios credential.
func (p *Postgres) ListTenants(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT team_id FROM correios_credentials ORDER BY team_id`)
	if err != nil {
		return nil, fmt.Errorf("listing tenants: %w", err)
	}
	defer rows.Close()

	var tenants []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning tenant: %w", err)
		}
		tenants = append(tenants, id)
	}
	return tenants, rows.Err()
}

// FindTrackable returns the team's orders with a non-blank tracking code.
func (p *Postgres) FindTrackable(ctx context.Context, tenantID string) ([]carrier.Order, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, tracking_code, shipping_status, updated_at FROM orders
		 WHERE team_id = $1 AND tracking_code IS NOT NULL AND btrim(tracking_code) <> ''
		 ORDER BY id`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying orders: %w", err)
	}
	defer rows.Close()

	var orders []carrier.Order
	for rows.Next() {
		var (
			o      = carrier.Order{TenantID: tenantID}
			code   sql.NullString
			status sql.NullString
		)
		if err := rows.Scan(&o.ID, &code, &status, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning order: %w", err)
		}
		if code.Valid {
			c := code.String
			o.TrackingCode = &c
		}
		if status.Valid {
			o.ShippingStatus = carrier.ParseStatus(status.String)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating orders: %w", err)
	}
	return tracking.FilterTrackable(orders), nil
}

// UpdateStatusMany sets shipping_status on every listed order in a single
// statement. updated_at is bumped with it, as the application's ORM does on
// every write; no other column is touched.
func (p *Postgres) UpdateStatusMany(ctx context.Context, orderIDs []string, status carrier.CanonicalStatus) (int, error) {
	if len(orderIDs) == 0 {
		return 0, nil
	}
	if !status.Valid() {
		return 0, fmt.Errorf("refusing to write non-canonical status %q", status)
	}

	args := make([]any, 0, len(orderIDs)+2)
	args = append(args, string(status), p.now().UTC())
	placeholders := make([]string, len(orderIDs))
	for i, id := range orderIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+3)
		args = append(args, id)
	}

	query := `UPDATE orders SET shipping_status = $1, updated_at = $2 WHERE id IN (` +
		strings.Join(placeholders, ",") + `)`
	res, err := p.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("updating order status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading affected rows: %w", err)
	}
	return int(n), nil
}

var (
	_ tracking.CredentialStore = (*Postgres)(nil)
	_ tracking.OrderStore      = (*Postgres)(nil)
	_ tracking.TenantLister    = (*Postgres)(nil)
)

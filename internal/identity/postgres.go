package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// PostgresDirectory reads users, memberships and reference data from the
// application database.
type PostgresDirectory struct {
	db *sql.DB
}

func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	if db == nil {
		panic("identity: db cannot be nil")
	}
	return &PostgresDirectory{db: db}
}

// The active tenant wins; users without one fall back to their oldest membership.
const resolveMemberQuery = `
	SELECT u.id, u.display_name, t.id, t.name
	FROM users u
	JOIN memberships m ON m.user_id = u.id
	JOIN tenants t ON t.id = m.tenant_id
	WHERE u.phone = $1
	ORDER BY (m.tenant_id = u.active_tenant_id) DESC NULLS LAST, m.created_at ASC
	LIMIT 1
`

func (d *PostgresDirectory) Resolve(ctx context.Context, phone string) (*Actor, error) {
	actor := &Actor{Phone: phone}
	err := d.db.QueryRowContext(ctx, resolveMemberQuery, phone).
		Scan(&actor.UserID, &actor.DisplayName, &actor.TenantID, &actor.TenantName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUnknownPhone
	}
	if err != nil {
		return nil, fmt.Errorf("identity: resolve phone: %w", err)
	}

	if actor.Locations, err = d.locations(ctx, actor.TenantID); err != nil {
		return nil, err
	}
	if actor.Categories, err = d.categories(ctx, actor.TenantID); err != nil {
		return nil, err
	}
	return actor, nil
}

func (d *PostgresDirectory) locations(ctx context.Context, tenantID string) ([]Location, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT id, name FROM locations WHERE tenant_id = $1 AND archived_at IS NULL ORDER BY name`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("identity: list locations: %w", err)
	}
	defer rows.Close()

	var out []Location
	for rows.Next() {
		var l Location
		if err := rows.Scan(&l.ID, &l.Name); err != nil {
			return nil, fmt.Errorf("identity: scan location: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (d *PostgresDirectory) categories(ctx context.Context, tenantID string) ([]Category, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT id, name, aliases FROM categories WHERE tenant_id = $1 ORDER BY name`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("identity: list categories: %w", err)
	}
	defer rows.Close()

	var out []Category
	for rows.Next() {
		var c Category
		var aliases []string
		if err := rows.Scan(&c.ID, &c.Name, pq.Array(&aliases)); err != nil {
			return nil, fmt.Errorf("identity: scan category: %w", err)
		}
		c.Aliases = aliases
		out = append(out, c)
	}
	return out, rows.Err()
}

func (d *PostgresDirectory) ListTenants(ctx context.Context, userID string) ([]Tenant, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT t.id, t.name
		FROM memberships m
		JOIN tenants t ON t.id = m.tenant_id
		WHERE m.user_id = $1
		ORDER BY t.name
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("identity: list tenants: %w", err)
	}
	defer rows.Close()

	var out []Tenant
	for rows.Next() {
		var t Tenant
		if err := rows.Scan(&t.ID, &t.Name); err != nil {
			return nil, fmt.Errorf("identity: scan tenant: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (d *PostgresDirectory) SetActiveTenant(ctx context.Context, userID, tenantID string) error {
	res, err := d.db.ExecContext(ctx, `
		UPDATE users SET active_tenant_id = $2, updated_at = now()
		WHERE id = $1
		  AND EXISTS (SELECT 1 FROM memberships WHERE user_id = $1 AND tenant_id = $2)
	`, userID, tenantID)
	if err != nil {
		return fmt.Errorf("identity: set active tenant: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("identity: set active tenant: %w", err)
	}
	if n == 0 {
		return ErrNotMember
	}
	return nil
}

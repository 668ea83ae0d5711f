package registration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrInviteNotFound = errors.New("registration: invite not found")
	ErrInviteExpired  = errors.New("registration: invite expired")
	ErrInviteRedeemed = errors.New("registration: invite already redeemed")
)

type Invite struct {
	Token      string
	TenantID   string
	TenantName string
	Role       string
	ExpiresAt  time.Time
	RedeemedAt *time.Time
}

// Redemption is what the user supplies to complete an invite.
type Redemption struct {
	Token       string
	Phone       string
	DisplayName string
}

// Invites looks up and redeems invite codes.
type Invites interface {
	Lookup(ctx context.Context, token string) (Invite, error)
	// Redeem creates the user and membership and consumes the invite in one
	// transaction. It returns the user id.
	Redeem(ctx context.Context, r Redemption) (string, error)
}

type pgxConn interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresInvites stores invites in the application database.
type PostgresInvites struct {
	pool pgxConn
	now  func() time.Time
}

func NewPostgresInvites(pool *pgxpool.Pool) *PostgresInvites {
	if pool == nil {
		panic("registration: pgx pool required")
	}
	return &PostgresInvites{pool: pool, now: time.Now}
}

func newPostgresInvitesWithConn(conn pgxConn, now func() time.Time) *PostgresInvites {
	if conn == nil {
		panic("registration: conn required")
	}
	if now == nil {
		now = time.Now
	}
	return &PostgresInvites{pool: conn, now: now}
}

const selectInvite = `
	SELECT i.token, i.tenant_id, t.name, i.role, i.expires_at, i.redeemed_at
	FROM invites i
	JOIN tenants t ON t.id = i.tenant_id
	WHERE i.token = $1
`

func scanInvite(row pgx.Row) (Invite, error) {
	var inv Invite
	if err := row.Scan(&inv.Token, &inv.TenantID, &inv.TenantName, &inv.Role, &inv.ExpiresAt, &inv.RedeemedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invite{}, ErrInviteNotFound
		}
		return Invite{}, fmt.Errorf("registration: load invite: %w", err)
	}
	return inv, nil
}

func (p *PostgresInvites) usable(inv Invite) error {
	if inv.RedeemedAt != nil {
		return ErrInviteRedeemed
	}
	if !inv.ExpiresAt.IsZero() && !p.now().Before(inv.ExpiresAt) {
		return ErrInviteExpired
	}
	return nil
}

// Lookup returns a usable invite or one of the ErrInvite* sentinels.
func (p *PostgresInvites) Lookup(ctx context.Context, token string) (Invite, error) {
	inv, err := scanInvite(p.pool.QueryRow(ctx, selectInvite, NormalizeToken(token)))
	if err != nil {
		return Invite{}, err
	}
	if err := p.usable(inv); err != nil {
		return Invite{}, err
	}
	return inv, nil
}

func (p *PostgresInvites) Redeem(ctx context.Context, r Redemption) (string, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("registration: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	inv, err := scanInvite(tx.QueryRow(ctx, selectInvite+" FOR UPDATE OF i", NormalizeToken(r.Token)))
	if err != nil {
		return "", err
	}
	if err := p.usable(inv); err != nil {
		return "", err
	}

	var userID string
	err = tx.QueryRow(ctx, `
		INSERT INTO users (id, phone, display_name, active_tenant_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (phone) DO UPDATE
		SET display_name = EXCLUDED.display_name,
		    active_tenant_id = EXCLUDED.active_tenant_id,
		    updated_at = now()
		RETURNING id
	`, uuid.NewString(), r.Phone, r.DisplayName, inv.TenantID).Scan(&userID)
	if err != nil {
		return "", fmt.Errorf("registration: upsert user: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO memberships (user_id, tenant_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, tenant_id) DO NOTHING
	`, userID, inv.TenantID, inv.Role); err != nil {
		return "", fmt.Errorf("registration: create membership: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE invites SET redeemed_at = $2, redeemed_by = $3 WHERE token = $1
	`, inv.Token, p.now().UTC(), userID); err != nil {
		return "", fmt.Errorf("registration: consume invite: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("registration: commit: %w", err)
	}
	return userID, nil
}

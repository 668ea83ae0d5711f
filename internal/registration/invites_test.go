package registration

import (
	"context"
	"errors"
	"testing"
	"time"

	pgx "github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

var inviteColumns = []string{"token", "tenant_id", "name", "role", "expires_at", "redeemed_at"}

func fixedNow() time.Time {
	return time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
}

func TestPostgresInvitesLookup(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()
	store := newPostgresInvitesWithConn(mock, fixedNow)

	future := fixedNow().Add(24 * time.Hour)
	mock.ExpectQuery("SELECT i.token").WithArgs("ABCD-EFGH").
		WillReturnRows(pgxmock.NewRows(inviteColumns).AddRow("ABCD-EFGH", "tenant-1", "La Esperanza", "operator", future, (*time.Time)(nil)))
	inv, err := store.Lookup(context.Background(), "abcd-efgh")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if inv.TenantName != "La Esperanza" {
		t.Fatalf("unexpected invite %+v", inv)
	}

	mock.ExpectQuery("SELECT i.token").WithArgs("ZZZZ-ZZZZ").WillReturnError(pgx.ErrNoRows)
	if _, err := store.Lookup(context.Background(), "ZZZZ-ZZZZ"); !errors.Is(err, ErrInviteNotFound) {
		t.Fatalf("expected ErrInviteNotFound, got %v", err)
	}

	past := fixedNow().Add(-time.Hour)
	mock.ExpectQuery("SELECT i.token").WithArgs("EXPD-EXPD").
		WillReturnRows(pgxmock.NewRows(inviteColumns).AddRow("EXPD-EXPD", "tenant-1", "X", "operator", past, (*time.Time)(nil)))
	if _, err := store.Lookup(context.Background(), "EXPD-EXPD"); !errors.Is(err, ErrInviteExpired) {
		t.Fatalf("expected ErrInviteExpired, got %v", err)
	}

	mock.ExpectQuery("SELECT i.token").WithArgs("USED-USED").
		WillReturnRows(pgxmock.NewRows(inviteColumns).AddRow("USED-USED", "tenant-1", "X", "operator", future, &past))
	if _, err := store.Lookup(context.Background(), "USED-USED"); !errors.Is(err, ErrInviteRedeemed) {
		t.Fatalf("expected ErrInviteRedeemed, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresInvitesRedeem(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()
	store := newPostgresInvitesWithConn(mock, fixedNow)

	future := fixedNow().Add(24 * time.Hour)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT i.token").WithArgs("ABCD-EFGH").
		WillReturnRows(pgxmock.NewRows(inviteColumns).AddRow("ABCD-EFGH", "tenant-1", "La Esperanza", "operator", future, (*time.Time)(nil)))
	mock.ExpectQuery("INSERT INTO users").
		WithArgs(pgxmock.AnyArg(), "5491100000000", "Ana", "tenant-1").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("user-1"))
	mock.ExpectExec("INSERT INTO memberships").
		WithArgs("user-1", "tenant-1", "operator").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE invites SET redeemed_at").
		WithArgs("ABCD-EFGH", fixedNow(), "user-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	userID, err := store.Redeem(context.Background(), Redemption{Token: "ABCD-EFGH", Phone: "5491100000000", DisplayName: "Ana"})
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if userID != "user-1" {
		t.Fatalf("expected user-1, got %s", userID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresInvitesRedeemRejectsUsedInvite(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()
	store := newPostgresInvitesWithConn(mock, fixedNow)

	used := fixedNow().Add(-time.Minute)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT i.token").WithArgs("ABCD-EFGH").
		WillReturnRows(pgxmock.NewRows(inviteColumns).AddRow("ABCD-EFGH", "tenant-1", "X", "operator", fixedNow().Add(time.Hour), &used))
	mock.ExpectRollback()

	if _, err := store.Redeem(context.Background(), Redemption{Token: "ABCD-EFGH", Phone: "p", DisplayName: "Ana"}); !errors.Is(err, ErrInviteRedeemed) {
		t.Fatalf("expected ErrInviteRedeemed, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

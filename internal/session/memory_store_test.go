package session

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreSingleContinuationPerPhone(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(TTLs{})

	first, _ := NewPending("p1", &StockEdit{LocationID: "a", LocationName: "North"}, time.Now())
	second, _ := NewPending("p1", &ChooseTenant{Options: []Option{{ID: "t1", Label: "Farm"}}}, time.Now())
	if err := store.Upsert(ctx, first); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := store.Upsert(ctx, second); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := store.Get(ctx, "p1")
	if err != nil || got == nil {
		t.Fatalf("get: %v %v", got, err)
	}
	if got.Tag != TagChooseTenant {
		t.Fatalf("expected last write to win, got %s", got.Tag)
	}

	existed, _ := store.Delete(ctx, "p1")
	if !existed {
		t.Fatal("expected delete to report existing record")
	}
	existed, _ = store.Delete(ctx, "p1")
	if existed {
		t.Fatal("second delete should report nothing")
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := NewMemoryStore(TTLs{Continuation: time.Hour, Registration: time.Hour})
	store.now = func() time.Time { return now }

	pending, _ := NewPending("p1", &StockEdit{LocationID: "a"}, now)
	_ = store.Upsert(ctx, pending)
	_ = store.UpsertRegistration(ctx, PendingRegistration{Phone: "p1", InviteToken: "ABCD-EFGH"})

	now = now.Add(2 * time.Hour)
	if got, _ := store.Get(ctx, "p1"); got != nil {
		t.Fatalf("expected continuation to expire, got %+v", got)
	}
	if got, _ := store.GetRegistration(ctx, "p1"); got != nil {
		t.Fatalf("expected registration to expire, got %+v", got)
	}
	if existed, _ := store.Delete(ctx, "p1"); existed {
		t.Fatal("expired records do not count as existing")
	}
}

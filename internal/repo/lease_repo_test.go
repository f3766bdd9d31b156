package repo

import (
	"context"
	"testing"
	"time"

	"github.com/sofaltaapipoca/pipoca-broadcast/internal/domain"
)

func TestTryAcquireLease_ExclusiveUntilReleased(t *testing.T) {
	db := newTestDB(t, &domain.RunLease{})
	ctx := context.Background()
	now := time.Now()

	ok, err := TryAcquireLease(ctx, db, "telegram-broadcast", "owner-a", time.Minute, now)
	if err != nil || !ok {
		t.Fatalf("owner-a acquire = %v, %v", ok, err)
	}
	ok, err = TryAcquireLease(ctx, db, "telegram-broadcast", "owner-b", time.Minute, now)
	if err != nil || ok {
		t.Fatalf("owner-b acquire while held = %v, %v; want false, nil", ok, err)
	}

	// Releasing with the wrong owner is a no-op.
	if err := ReleaseLease(ctx, db, "telegram-broadcast", "owner-b"); err != nil {
		t.Fatalf("release by non-owner: %v", err)
	}
	if l, err := GetLease(ctx, db, "telegram-broadcast"); err != nil || l.Owner != "owner-a" {
		t.Fatalf("lease = %+v, %v", l, err)
	}

	if err := ReleaseLease(ctx, db, "telegram-broadcast", "owner-a"); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, err = TryAcquireLease(ctx, db, "telegram-broadcast", "owner-b", time.Minute, now)
	if err != nil || !ok {
		t.Fatalf("owner-b acquire after release = %v, %v", ok, err)
	}
}

func TestTryAcquireLease_TakesOverExpired(t *testing.T) {
	db := newTestDB(t, &domain.RunLease{})
	ctx := context.Background()
	now := time.Now()

	if ok, _ := TryAcquireLease(ctx, db, "job", "stale", time.Second, now.Add(-time.Hour)); !ok {
		t.Fatalf("seed lease not acquired")
	}
	ok, err := TryAcquireLease(ctx, db, "job", "fresh", time.Minute, now)
	if err != nil || !ok {
		t.Fatalf("takeover = %v, %v", ok, err)
	}
	l, _ := GetLease(ctx, db, "job")
	if l.Owner != "fresh" {
		t.Fatalf("expected fresh owner, got %q", l.Owner)
	}
}

func TestTryAcquireLease_Error_NoTable(t *testing.T) {
	db := newTestDB(t)
	if _, err := TryAcquireLease(context.Background(), db, "job", "o", time.Minute, time.Now()); err == nil {
		t.Fatalf("expected error when table is missing")
	}
}

func TestExtendLease_OwnerOnly(t *testing.T) {
	db := newTestDB(t, &domain.RunLease{})
	ctx := context.Background()
	now := time.Now()

	if ok, _ := TryAcquireLease(ctx, db, "job", "a", time.Minute, now); !ok {
		t.Fatalf("acquire failed")
	}
	ok, err := ExtendLease(ctx, db, "job", "a", time.Hour, now)
	if err != nil || !ok {
		t.Fatalf("extend by owner = %v, %v", ok, err)
	}
	l, _ := GetLease(ctx, db, "job")
	if got := l.ExpiresAt.Sub(now.UTC()); got < 59*time.Minute {
		t.Fatalf("expiry not moved: %v", got)
	}
	if ok, err := ExtendLease(ctx, db, "job", "b", time.Hour, now); err != nil || ok {
		t.Fatalf("extend by stranger = %v, %v; want false", ok, err)
	}
	_ = ReleaseLease(ctx, db, "job", "a")
	if ok, _ := ExtendLease(ctx, db, "job", "a", time.Hour, now); ok {
		t.Fatalf("extend after release must report false")
	}
}

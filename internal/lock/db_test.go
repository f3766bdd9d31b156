package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sofaltaapipoca/pipoca-broadcast/internal/domain"
)

func newLockDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:lock_%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.RunLease{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func TestDBLocker_ExclusiveAndRelease(t *testing.T) {
	l := NewDBLocker(newLockDB(t))
	ctx := context.Background()

	lease, err := l.Acquire(ctx, "telegram-broadcast", time.Minute)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if _, err := l.Acquire(ctx, "telegram-broadcast", time.Minute); !errors.Is(err, ErrLocked) {
		t.Fatalf("second acquire: expected ErrLocked, got %v", err)
	}
	// Other names are independent.
	other, err := l.Acquire(ctx, "cleanup", time.Minute)
	if err != nil {
		t.Fatalf("other name: %v", err)
	}
	_ = other.Release(ctx)

	if err := lease.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := lease.Release(ctx); err != nil {
		t.Fatalf("double release should be a no-op: %v", err)
	}
	again, err := l.Acquire(ctx, "telegram-broadcast", time.Minute)
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	_ = again.Release(ctx)
}

func TestDBLocker_ExpiredLeaseIsTakenOver(t *testing.T) {
	db := newLockDB(t)
	clock := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	l := &DBLocker{DB: db, Now: func() time.Time { return clock }}
	ctx := context.Background()

	stale, err := l.Acquire(ctx, "job", time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	clock = clock.Add(2 * time.Minute)
	if _, err := l.Acquire(ctx, "job", time.Minute); err != nil {
		t.Fatalf("takeover after expiry: %v", err)
	}
	// The stale holder's release must not free the new lease.
	_ = stale.Release(ctx)
	if _, err := l.Acquire(ctx, "job", time.Minute); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked after stale release, got %v", err)
	}
}

func TestDBLocker_ExtendKeepsLeaseAlive(t *testing.T) {
	db := newLockDB(t)
	clock := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	l := &DBLocker{DB: db, Now: func() time.Time { return clock }}
	ctx := context.Background()

	lease, err := l.Acquire(ctx, "telegram-broadcast", time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	clock = clock.Add(50 * time.Second)
	if err := lease.Extend(ctx, time.Minute); err != nil {
		t.Fatalf("extend: %v", err)
	}
	// Past the original expiry, still inside the extended one.
	clock = clock.Add(50 * time.Second)
	_, err = l.Acquire(ctx, "telegram-broadcast", time.Minute)
	if !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked after extend, got %v", err)
	}
	if want := "until 2025-01-01T09:01:50Z"; !strings.Contains(err.Error(), want) {
		t.Fatalf("error %q should name the expiry %q", err, want)
	}
}

func TestDBLocker_ExtendAfterTakeover_ReportsLost(t *testing.T) {
	db := newLockDB(t)
	clock := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	l := &DBLocker{DB: db, Now: func() time.Time { return clock }}
	ctx := context.Background()

	stale, err := l.Acquire(ctx, "job", time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	clock = clock.Add(2 * time.Minute)
	if _, err := l.Acquire(ctx, "job", time.Minute); err != nil {
		t.Fatalf("takeover: %v", err)
	}
	if err := stale.Extend(ctx, time.Minute); !errors.Is(err, ErrLeaseLost) {
		t.Fatalf("expected ErrLeaseLost, got %v", err)
	}
}

package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sofaltaapipoca/pipoca-broadcast/internal/repo"
)

// DBLocker stores leases in the run_leases table.
type DBLocker struct {
	DB  *gorm.DB
	Now func() time.Time // test seam; defaults to time.Now
}

// NewDBLocker returns a DBLocker on db.
func NewDBLocker(db *gorm.DB) *DBLocker { return &DBLocker{DB: db} }

// Acquire implements Locker.
func (l *DBLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (Lease, error) {
	now := time.Now
	if l.Now != nil {
		now = l.Now
	}
	owner := uuid.NewString()
	ok, err := repo.TryAcquireLease(ctx, l.DB, name, owner, ttl, now())
	if err != nil {
		return nil, err
	}
	if !ok {
		if held, gerr := repo.GetLease(ctx, l.DB, name); gerr == nil {
			return nil, fmt.Errorf("%w until %s", ErrLocked, held.ExpiresAt.UTC().Format(time.RFC3339))
		}
		return nil, ErrLocked
	}
	return &dbLease{db: l.DB, name: name, owner: owner, now: now}, nil
}

type dbLease struct {
	db    *gorm.DB
	name  string
	owner string
	now   func() time.Time
}

func (d *dbLease) Extend(ctx context.Context, ttl time.Duration) error {
	ok, err := repo.ExtendLease(ctx, d.db, d.name, d.owner, ttl, d.now())
	if err != nil {
		return err
	}
	if !ok {
		return ErrLeaseLost
	}
	return nil
}

func (d *dbLease) Release(ctx context.Context) error {
	return repo.ReleaseLease(ctx, d.db, d.name, d.owner)
}

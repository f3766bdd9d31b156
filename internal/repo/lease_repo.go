package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sofaltaapipoca/pipoca-broadcast/internal/domain"
)

// TryAcquireLease takes the named lease for owner until now+ttl. An expired
// lease held by someone else is taken over. It reports false, with no error,
// when a live lease belongs to another owner.
func TryAcquireLease(ctx context.Context, db *gorm.DB, name, owner string, ttl time.Duration, now time.Time) (bool, error) {
	now = now.UTC()
	acquired := false
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("name = ? AND expires_at <= ?", name, now).
			Delete(&domain.RunLease{}).Error; err != nil {
			return err
		}
		res := tx.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "name"}}, DoNothing: true}).
			Create(&domain.RunLease{Name: name, Owner: owner, AcquiredAt: now, ExpiresAt: now.Add(ttl)})
		if res.Error != nil {
			return res.Error
		}
		acquired = res.RowsAffected == 1
		return nil
	})
	if err != nil {
		return false, err
	}
	return acquired, nil
}

// ReleaseLease deletes the named lease if owner still holds it. Releasing a
// lease that expired and was taken over is a no-op.
func ReleaseLease(ctx context.Context, db *gorm.DB, name, owner string) error {
	return db.WithContext(ctx).
		Where("name = ? AND owner = ?", name, owner).
		Delete(&domain.RunLease{}).Error
}

// ExtendLease moves the expiry of the named lease to now+ttl if owner still
// holds it. It reports false when the row is gone or belongs to someone else.
func ExtendLease(ctx context.Context, db *gorm.DB, name, owner string, ttl time.Duration, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Model(&domain.RunLease{}).
		Where("name = ? AND owner = ?", name, owner).
		Update("expires_at", now.UTC().Add(ttl))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// GetLease returns the current lease row for name, live or expired.
func GetLease(ctx context.Context, db *gorm.DB, name string) (*domain.RunLease, error) {
	var l domain.RunLease
	if err := db.WithContext(ctx).Where("name = ?", name).First(&l).Error; err != nil {
		return nil, err
	}
	return &l, nil
}

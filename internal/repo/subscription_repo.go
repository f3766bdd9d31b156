package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/sofaltaapipoca/pipoca-broadcast/internal/domain"
)

// GetSubscription fetches a listing by id, or ErrNotFound.
func GetSubscription(ctx context.Context, db *gorm.DB, id string) (*domain.Subscription, error) {
	var s domain.Subscription
	err := db.WithContext(ctx).Where("id = ?", id).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListVisibleSubscriptions returns every visible listing in broadcast order:
// featured first, then newest first.
func ListVisibleSubscriptions(ctx context.Context, db *gorm.DB) ([]domain.Subscription, error) {
	var out []domain.Subscription
	err := db.WithContext(ctx).
		Where("visible = ?", true).
		Order("featured DESC").
		Order("created_at DESC").
		Find(&out).Error
	return out, err
}

package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sofaltaapipoca/pipoca-broadcast/internal/domain"
)

// GetSetting returns the row for key or ErrNotFound.
func GetSetting(ctx context.Context, db *gorm.DB, key string) (*domain.Setting, error) {
	var s domain.Setting
	err := db.WithContext(ctx).Where("key = ?", key).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// InsertSettingIfMissing inserts key=value unless a row for key already
// exists. It reports whether a row was written. Concurrent callers racing on
// the same key are safe: the loser's insert is a no-op.
func InsertSettingIfMissing(ctx context.Context, db *gorm.DB, key, value string) (bool, error) {
	now := time.Now().UTC()
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "key"}}, DoNothing: true}).
		Create(&domain.Setting{Key: key, Value: value, CreatedAt: now, UpdatedAt: now})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// UpsertSetting writes key=value, replacing any existing value.
func UpsertSetting(ctx context.Context, db *gorm.DB, key, value string) error {
	now := time.Now().UTC()
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&domain.Setting{Key: key, Value: value, CreatedAt: now, UpdatedAt: now}).Error
}

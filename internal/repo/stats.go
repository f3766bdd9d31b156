// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate queries used for
// conditional responses (ETag generation) on the admin list endpoints.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/sofaltaapipoca/pipoca-broadcast/internal/domain"
)

// ActiveMessagesStats returns the number of active ledger rows and the latest
// SentAt among them. When there are no rows, latest is nil.
func ActiveMessagesStats(ctx context.Context, db *gorm.DB) (count int64, latest *time.Time, err error) {
	q := func() *gorm.DB { return db.WithContext(ctx).Model(&domain.TelegramMessage{}) }
	if err = q().Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Avoid MAX() -> TEXT in SQLite.
	var row struct {
		SentAt time.Time
	}
	if err = q().Select("sent_at").Order("sent_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.SentAt, nil
}

// LogsStats returns the number of diagnostic entries and the newest CreatedAt.
func LogsStats(ctx context.Context, db *gorm.DB) (count int64, latest *time.Time, err error) {
	q := func() *gorm.DB { return db.WithContext(ctx).Model(&domain.TelegramLog{}) }
	if err = q().Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}
	var row struct {
		CreatedAt time.Time
	}
	if err = q().Select("created_at").Order("created_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.CreatedAt, nil
}

package repo

import (
	"context"
	"encoding/json"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/sofaltaapipoca/pipoca-broadcast/internal/domain"
)

// AppendLog inserts one diagnostic entry. details is marshalled to JSON; a
// nil details value is stored as an empty object. opErr, when non-nil, is
// stored as the entry's error text.
func AppendLog(ctx context.Context, db *gorm.DB, operation string, details any, success bool, opErr error) (*domain.TelegramLog, error) {
	raw := []byte("{}")
	if details != nil {
		b, err := json.Marshal(details)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	rec := &domain.TelegramLog{
		Operation: operation,
		Details:   datatypes.JSON(raw),
		Success:   success,
	}
	if opErr != nil {
		msg := opErr.Error()
		rec.Error = &msg
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		return nil, err
	}
	return rec, nil
}

// ListLogsPage returns a page of diagnostic entries, newest first. An empty
// operation matches every entry.
func ListLogsPage(ctx context.Context, db *gorm.DB, operation string, offset, limit int) ([]domain.TelegramLog, error) {
	q := db.WithContext(ctx).Model(&domain.TelegramLog{})
	if operation != "" {
		q = q.Where("operation = ?", operation)
	}
	var out []domain.TelegramLog
	err := q.Order("created_at DESC").Order("id DESC").Offset(offset).Limit(limit).Find(&out).Error
	return out, err
}

// CountLogs returns the number of diagnostic entries, optionally filtered by
// operation.
func CountLogs(ctx context.Context, db *gorm.DB, operation string) (int64, error) {
	q := db.WithContext(ctx).Model(&domain.TelegramLog{})
	if operation != "" {
		q = q.Where("operation = ?", operation)
	}
	var n int64
	err := q.Count(&n).Error
	return n, err
}

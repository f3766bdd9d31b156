// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file holds the broadcast message ledger: one row per
// channel message posted for a listing, soft-deleted once the message is
// removed or replaced.
//
// Only rows with deleted_at IS NULL are "active". GORM's soft-delete scope
// applies that filter to every query here, so Unscoped is used only where
// history must be visible.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/sofaltaapipoca/pipoca-broadcast/internal/domain"
)

// GetActiveMessage returns the active ledger row for a listing, or ErrNotFound.
func GetActiveMessage(ctx context.Context, db *gorm.DB, subscriptionID string) (*domain.TelegramMessage, error) {
	var m domain.TelegramMessage
	err := db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Order("sent_at DESC").
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListActiveMessages returns all active rows, oldest first.
func ListActiveMessages(ctx context.Context, db *gorm.DB) ([]domain.TelegramMessage, error) {
	var out []domain.TelegramMessage
	err := db.WithContext(ctx).Order("sent_at ASC").Order("id ASC").Find(&out).Error
	return out, err
}

// ListActiveMessagesPage returns a page of active rows, newest first.
func ListActiveMessagesPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.TelegramMessage, error) {
	var out []domain.TelegramMessage
	err := db.WithContext(ctx).
		Order("sent_at DESC").Order("id DESC").
		Offset(offset).Limit(limit).
		Find(&out).Error
	return out, err
}

// CountActiveMessages returns the number of active rows.
func CountActiveMessages(ctx context.Context, db *gorm.DB) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.TelegramMessage{}).Count(&n).Error
	return n, err
}

// MarkMessageDeleted soft-deletes the row with the given ledger id.
// Returns ErrNotFound if no active row matched.
func MarkMessageDeleted(ctx context.Context, db *gorm.DB, id uint) error {
	res := db.WithContext(ctx).Where("id = ?", id).Delete(&domain.TelegramMessage{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkMessageDeletedByProviderID soft-deletes active rows carrying the given
// provider message id in chatID and reports how many were affected. Zero is
// not an error: the message may never have been recorded.
func MarkMessageDeletedByProviderID(ctx context.Context, db *gorm.DB, chatID string, messageID int) (int64, error) {
	res := db.WithContext(ctx).
		Where("chat_id = ? AND message_id = ?", chatID, messageID).
		Delete(&domain.TelegramMessage{})
	return res.RowsAffected, res.Error
}

// ReplaceActiveMessage records a freshly posted message as the listing's
// active row. In one transaction it soft-deletes any active rows of the
// listing and inserts the new one, so a listing never has two active rows.
func ReplaceActiveMessage(ctx context.Context, db *gorm.DB, subscriptionID, chatID string, messageID int, sentAt time.Time) (*domain.TelegramMessage, error) {
	rec := &domain.TelegramMessage{
		SubscriptionID: subscriptionID,
		ChatID:         chatID,
		MessageID:      messageID,
		SentAt:         sentAt.UTC(),
	}
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("subscription_id = ?", subscriptionID).
			Delete(&domain.TelegramMessage{}).Error; err != nil {
			return err
		}
		return tx.Create(rec).Error
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}

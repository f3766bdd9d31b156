// Package domain defines the persistence models for subscription listings,
// Telegram settings, the broadcast message ledger and the diagnostic log.
// These types are mapped with GORM and form the core data layer of the
// broadcast service.
package domain

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Subscription is a user-submitted subscription-sharing offer. The table is
// owned by the listing-management subsystem; the broadcast workflow only
// reads it.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - Title / Price / PaymentMethod / Status / AccessMethod: display fields.
//   - TelegramUsername: messaging-app handle of the seller (optional).
//   - WhatsappNumber: voice/text contact number of the seller (optional).
//   - Icon: icon tag chosen by the seller (e.g. "streaming", "music").
//   - AddedDate: preformatted "added on" display string.
//   - Visible: only visible listings are broadcast.
//   - Featured: featured listings are sent first.
type Subscription struct {
	ID               string    `json:"id"                gorm:"type:char(36);primaryKey"`
	Title            string    `json:"title"             gorm:"type:varchar(255);not null"`
	Price            string    `json:"price"             gorm:"type:varchar(64);not null;default:''"`
	PaymentMethod    string    `json:"payment_method"    gorm:"type:varchar(64);not null;default:''"`
	Status           string    `json:"status"            gorm:"type:varchar(64);not null;default:''"`
	AccessMethod     string    `json:"access_method"     gorm:"type:varchar(128);not null;default:''"`
	TelegramUsername string    `json:"telegram_username" gorm:"type:varchar(64);not null;default:''"`
	WhatsappNumber   string    `json:"whatsapp_number"   gorm:"type:varchar(32);not null;default:''"`
	Icon             string    `json:"icon"              gorm:"type:varchar(32);not null;default:''"`
	AddedDate        string    `json:"added_date"        gorm:"type:varchar(32);not null;default:''"`
	Visible          bool      `json:"visible"           gorm:"not null;default:false;index:idx_subscriptions_visible,priority:1"`
	Featured         bool      `json:"featured"          gorm:"not null;default:false"`
	CreatedAt        time.Time `json:"created_at"        gorm:"index:idx_subscriptions_visible,priority:2"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// TableName returns the database table name for Subscription.
func (Subscription) TableName() string { return "subscriptions" }

// Setting is a key/value row of the Telegram integration settings.
type Setting struct {
	Key       string    `json:"key"        gorm:"type:varchar(64);primaryKey"`
	Value     string    `json:"value"      gorm:"type:text;not null;default:''"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for Setting.
func (Setting) TableName() string { return "telegram_settings" }

// TelegramMessage is a ledger row recording the channel message that
// currently represents a subscription.
//
// At most one row per subscription may be active (DeletedAt NULL); the
// partial unique index ux_telegram_messages_active enforces it. Rows are
// soft-deleted when the channel message is removed or replaced, never
// hard-deleted.
type TelegramMessage struct {
	ID             uint           `json:"id"              gorm:"primaryKey;autoIncrement"`
	SubscriptionID string         `json:"subscription_id" gorm:"type:char(36);not null;index;uniqueIndex:ux_telegram_messages_active,where:deleted_at IS NULL"`
	ChatID         string         `json:"chat_id"         gorm:"type:varchar(64);not null;default:''"`
	MessageID      int            `json:"message_id"      gorm:"not null;index"`
	SentAt         time.Time      `json:"sent_at"         gorm:"not null"`
	DeletedAt      gorm.DeletedAt `json:"deleted_at"      gorm:"index"`
}

// TableName returns the database table name for TelegramMessage.
func (TelegramMessage) TableName() string { return "telegram_messages" }

// TelegramLog is an append-only diagnostic record of one integration
// operation. It is written for troubleshooting and never read back by the
// broadcast workflow.
type TelegramLog struct {
	ID        uint           `json:"id"         gorm:"primaryKey;autoIncrement"`
	Operation string         `json:"operation"  gorm:"type:varchar(64);not null;index"`
	Details   datatypes.JSON `json:"details"`
	Success   bool           `json:"success"    gorm:"not null"`
	Error     *string        `json:"error,omitempty" gorm:"type:text"`
	CreatedAt time.Time      `json:"created_at" gorm:"index"`
}

// TableName returns the database table name for TelegramLog.
func (TelegramLog) TableName() string { return "telegram_logs" }

// RunLease is a named, expiring lock row. A lease whose ExpiresAt is in the
// past is free to be taken over by another owner.
type RunLease struct {
	Name       string    `gorm:"type:varchar(64);primaryKey"`
	Owner      string    `gorm:"type:char(36);not null"`
	AcquiredAt time.Time `gorm:"not null"`
	ExpiresAt  time.Time `gorm:"not null;index"`
}

// TableName returns the database table name for RunLease.
func (RunLease) TableName() string { return "run_leases" }

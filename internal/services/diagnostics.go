package services

import (
	"context"

	"gorm.io/gorm"

	"github.com/sofaltaapipoca/pipoca-broadcast/internal/domain"
	"github.com/sofaltaapipoca/pipoca-broadcast/internal/repo"
)

// Diagnostic operation names.
const (
	OpRefreshDaily     = "refresh_daily"
	OpDeleteMessage    = "delete_message"
	OpSendMessage      = "send_message"
	OpSendSubscription = "send_subscription"
	OpSendTest         = "send_test"
)

// Diagnostics appends troubleshooting entries to the telegram_logs table.
// A nil *Diagnostics discards everything.
type Diagnostics struct {
	DB *gorm.DB
}

// Record writes one entry; success is derived from opErr. Write failures are
// logged and swallowed so diagnostics never break the caller.
func (d *Diagnostics) Record(ctx context.Context, operation string, details any, opErr error) {
	if d == nil || d.DB == nil {
		return
	}
	// Detached so a canceled run still leaves its trail.
	ctx = context.WithoutCancel(ctx)
	if _, err := repo.AppendLog(ctx, d.DB, operation, details, opErr == nil, opErr); err != nil {
		loggerFrom(ctx).Warn().Err(err).Str("operation", operation).Msg("diagnostics: append failed")
	}
}

// ListPage returns a page of entries (newest first) and the total count.
// page is 1-based.
func (d *Diagnostics) ListPage(ctx context.Context, operation string, page, pageSize int) ([]domain.TelegramLog, int64, error) {
	total, err := repo.CountLogs(ctx, d.DB, operation)
	if err != nil {
		return nil, 0, err
	}
	items, err := repo.ListLogsPage(ctx, d.DB, operation, (page-1)*pageSize, pageSize)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

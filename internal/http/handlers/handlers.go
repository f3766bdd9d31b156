package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sofaltaapipoca/pipoca-broadcast/internal/domain"
	"github.com/sofaltaapipoca/pipoca-broadcast/internal/services"
	"github.com/sofaltaapipoca/pipoca-broadcast/internal/utils"
)

// Broadcaster is the broadcast workflow consumed by the handlers.
// *services.BroadcastService implements it.
type Broadcaster interface {
	RefreshDaily(ctx context.Context) (*services.RefreshReport, error)
	SendSubscription(ctx context.Context, subscriptionID string) (*services.SendResult, error)
	OnSubscriptionApproved(ctx context.Context, subscriptionID string) (*services.SendResult, error)
	SendTest(ctx context.Context, botToken, groupID string) (*services.TestResult, error)
	DeleteMessage(ctx context.Context, messageID int, botToken, groupID string) (*services.DeleteResult, error)
	ListMessages(ctx context.Context, page, pageSize int) ([]domain.TelegramMessage, int64, error)
}

// SettingsStore reads and updates the integration settings.
type SettingsStore interface {
	GetConfig(ctx context.Context) (services.TelegramConfig, error)
	SaveConfig(ctx context.Context, u services.ConfigUpdate) (services.TelegramConfig, error)
}

// LogReader pages through the diagnostic log.
type LogReader interface {
	ListPage(ctx context.Context, operation string, page, pageSize int) ([]domain.TelegramLog, int64, error)
}

// ListStats returns the row count and latest timestamp of a list. It backs
// weak ETags; a nil ListStats disables conditional responses.
type ListStats func(ctx context.Context) (count int64, latest *time.Time, err error)

// Options carries optional handler dependencies.
type Options struct {
	// RefreshTimeout bounds a refresh started over HTTP. The run is detached
	// from the request, so a client disconnect never aborts it halfway.
	RefreshTimeout time.Duration
	MessagesStats  ListStats
	LogsStats      ListStats
}

// Handlers groups the HTTP endpoints of the broadcast service.
type Handlers struct {
	bc       Broadcaster
	settings SettingsStore
	logs     LogReader
	opts     Options
}

// New constructs Handlers bound to the given services.
func New(bc Broadcaster, settings SettingsStore, logs LogReader, opts Options) *Handlers {
	return &Handlers{bc: bc, settings: settings, logs: logs, opts: opts}
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

func clampPagination(c *gin.Context) (page, pageSize int) {
	return utils.ClampPage(c.Query("page"), c.Query("page_size"))
}

func newPagination(page, pageSize int, total int64) Pagination {
	pages := utils.TotalPages(total, pageSize)
	return Pagination{Page: page, PageSize: pageSize, Total: total, TotalPages: pages, HasNext: page < pages}
}

// notModified sets a weak ETag derived from stats and reports whether the
// client copy is current (304 already written). Stats errors are ignored.
func notModified(c *gin.Context, name string, stats ListStats, extra string) bool {
	if stats == nil {
		return false
	}
	count, latest, err := stats(c.Request.Context())
	if err != nil {
		return false
	}
	var ts int64
	if latest != nil {
		ts = latest.UnixNano()
	}
	etag := fmt.Sprintf(`W/"%s:%s:%d:%d"`, name, extra, count, ts)
	c.Header("ETag", etag)
	if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
		c.Status(http.StatusNotModified)
		return true
	}
	return false
}

// Admin REST endpoints.
//
//   - GET  /telegram/settings             effective settings, bot token masked
//   - PUT  /telegram/settings             partial update
//   - GET  /telegram/messages             active ledger rows (paginated, ETag)
//   - GET  /telegram/logs                 diagnostic log (paginated, ETag)
//   - POST /subscriptions/{id}/approved   approval hook, posts when auto-post is on
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/sofaltaapipoca/pipoca-broadcast/internal/domain"
	"github.com/sofaltaapipoca/pipoca-broadcast/internal/services"
	"github.com/sofaltaapipoca/pipoca-broadcast/internal/sysutil"
	"github.com/sofaltaapipoca/pipoca-broadcast/internal/telegram"
)

// SettingsResponse is the admin view of the integration settings.
type SettingsResponse struct {
	BotToken   string `json:"botToken" example:"**********************************wxyz"`
	GroupID    string `json:"groupId" example:"-1001234567890"`
	AutoPost   bool   `json:"autoPost" example:"false"`
	Configured bool   `json:"configured" example:"true"`
}

func settingsResponse(cfg services.TelegramConfig) SettingsResponse {
	return SettingsResponse{
		BotToken:   sysutil.MaskSecret(cfg.BotToken),
		GroupID:    cfg.GroupID,
		AutoPost:   cfg.AutoPost,
		Configured: cfg.Configured(),
	}
}

// Flag is a boolean that also accepts "true"/"false" strings, as stored by
// older admin screens.
type Flag bool

// UnmarshalJSON implements json.Unmarshaler.
func (f *Flag) UnmarshalJSON(b []byte) error {
	var s string
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
	} else {
		s = string(b)
	}
	v, err := sysutil.ParseBool(s)
	if err != nil {
		return err
	}
	*f = Flag(v)
	return nil
}

// UpdateSettingsRequest is a partial settings update; absent fields are kept.
type UpdateSettingsRequest struct {
	BotToken *string `json:"botToken,omitempty" example:"123456789:AAH..."`
	GroupID  *string `json:"groupId,omitempty" example:"-1001234567890"`
	AutoPost *Flag   `json:"autoPost,omitempty" swaggertype:"boolean" example:"true"`
}

// ListMessagesResponse is a page of active ledger rows.
type ListMessagesResponse struct {
	Messages   []domain.TelegramMessage `json:"messages"`
	Pagination Pagination               `json:"pagination"`
}

// ListLogsResponse is a page of diagnostic log entries.
type ListLogsResponse struct {
	Logs       []domain.TelegramLog `json:"logs"`
	Pagination Pagination           `json:"pagination"`
}

// GetSettings godoc
// @ID          getTelegramSettings
// @Summary     Read Telegram settings
// @Tags        Admin
// @Produce     json
// @Success     200  {object}  handlers.SettingsResponse
// @Failure     401  {object}  handlers.InvokeResponse  "Missing or wrong admin key"
// @Router      /telegram/settings [get]
func (h *Handlers) GetSettings(c *gin.Context) {
	cfg, _ := h.settings.GetConfig(c.Request.Context())
	ok(c, http.StatusOK, settingsResponse(cfg))
}

// UpdateSettings godoc
// @ID          updateTelegramSettings
// @Summary     Update Telegram settings
// @Description Partial update; omitted fields keep their stored value.
// @Tags        Admin
// @Accept      json
// @Produce     json
// @Param       body  body      handlers.UpdateSettingsRequest  true  "Fields to change"
// @Success     200   {object}  handlers.SettingsResponse
// @Failure     400   {object}  handlers.ErrorResponse  "Bad request"
// @Failure     500   {object}  handlers.ErrorResponse  "Internal error"
// @Router      /telegram/settings [put]
func (h *Handlers) UpdateSettings(c *gin.Context) {
	var req UpdateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid settings payload")
		return
	}
	u := services.ConfigUpdate{BotToken: req.BotToken, GroupID: req.GroupID}
	if req.AutoPost != nil {
		v := bool(*req.AutoPost)
		u.AutoPost = &v
	}
	cfg, err := h.settings.SaveConfig(c.Request.Context(), u)
	switch {
	case errors.Is(err, services.ErrInvalidSetting):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeUpdateFailed, err.Error())
	default:
		ok(c, http.StatusOK, settingsResponse(cfg))
	}
}

// ListMessages godoc
// @ID          listTelegramMessages
// @Summary     List active channel messages
// @Tags        Admin
// @Produce     json
// @Param       page       query  int  false  "Page number"     minimum(1) default(1)
// @Param       page_size  query  int  false  "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200  {object}  handlers.ListMessagesResponse
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /telegram/messages [get]
func (h *Handlers) ListMessages(c *gin.Context) {
	page, pageSize := clampPagination(c)
	if notModified(c, "messages", h.opts.MessagesStats, fmt.Sprintf("%d:%d", page, pageSize)) {
		return
	}
	items, total, err := h.bc.ListMessages(c.Request.Context(), page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ListMessagesResponse{Messages: items, Pagination: newPagination(page, pageSize, total)})
}

// ListLogs godoc
// @ID          listTelegramLogs
// @Summary     List diagnostic log entries
// @Description Newest first; optionally filtered by operation.
// @Tags        Admin
// @Produce     json
// @Param       operation  query  string  false  "Operation filter"  example(refresh_daily)
// @Param       page       query  int     false  "Page number"       minimum(1) default(1)
// @Param       page_size  query  int     false  "Items per page"    minimum(1) maximum(100) default(20)
// @Success     200  {object}  handlers.ListLogsResponse
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /telegram/logs [get]
func (h *Handlers) ListLogs(c *gin.Context) {
	page, pageSize := clampPagination(c)
	op := strings.TrimSpace(c.Query("operation"))
	if notModified(c, "logs", h.opts.LogsStats, fmt.Sprintf("%s:%d:%d", op, page, pageSize)) {
		return
	}
	items, total, err := h.logs.ListPage(c.Request.Context(), op, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ListLogsResponse{Logs: items, Pagination: newPagination(page, pageSize, total)})
}

// SubscriptionApproved godoc
// @ID          subscriptionApproved
// @Summary     Approval hook for a listing
// @Description Posts the listing to the channel when auto-post is enabled; otherwise reports skipped.
// @Tags        Admin
// @Produce     json
// @Param       id   path      string  true  "Subscription ID"
// @Success     200  {object}  services.SendResult
// @Failure     404  {object}  handlers.ErrorResponse  "Subscription not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Run in progress or not configured"
// @Failure     502  {object}  handlers.ErrorResponse  "Telegram rejected the message"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /subscriptions/{id}/approved [post]
func (h *Handlers) SubscriptionApproved(c *gin.Context) {
	res, err := h.bc.OnSubscriptionApproved(c.Request.Context(), c.Param("id"))
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, res)
}

// failService maps service errors onto REST statuses and codes.
func failService(c *gin.Context, err error) {
	var pe *telegram.ProviderError
	switch {
	case errors.Is(err, services.ErrSubscriptionIDRequired):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, services.ErrSubscriptionNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, services.ErrRunInProgress):
		fail(c, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, services.ErrNotConfigured):
		fail(c, http.StatusConflict, ErrCodeNotConfigured, err.Error())
	case errors.As(err, &pe):
		fail(c, http.StatusBadGateway, ErrCodeProvider, err.Error())
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}

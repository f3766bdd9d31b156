// Telegram integration invocation endpoint.
//
// POST /telegram-integration dispatches one admin action:
//
//	refresh-daily        delete every tracked channel message and re-post all
//	                     visible listings, featured first
//	send-telegram-test   post a test message (optional botToken/groupId override)
//	delete-message       delete one channel message by id
//	send-subscription    post one listing unless it is already in the channel
//
// Every answer is an InvokeResponse. Failures of an action are reported with
// HTTP 200 and success:false; a malformed body, an unknown action or a
// missing required field is a 400.
package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// Recognised actions.
const (
	ActionRefreshDaily     = "refresh-daily"
	ActionSendTest         = "send-telegram-test"
	ActionDeleteMessage    = "delete-message"
	ActionSendSubscription = "send-subscription"
)

// MessageID accepts a JSON number or a numeric string.
type MessageID int

// UnmarshalJSON implements json.Unmarshaler.
func (m *MessageID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*m = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		b = []byte(strings.TrimSpace(s))
		if len(b) == 0 {
			*m = 0
			return nil
		}
	}
	n, err := strconv.Atoi(string(b))
	if err != nil {
		return fmt.Errorf("messageId must be an integer: %w", err)
	}
	*m = MessageID(n)
	return nil
}

// InvokeRequest is the body of the invocation endpoint.
type InvokeRequest struct {
	Action         string    `json:"action" example:"refresh-daily"`
	BotToken       string    `json:"botToken,omitempty" example:"123456789:AAH..."`
	GroupID        string    `json:"groupId,omitempty" example:"-1001234567890"`
	SubscriptionID string    `json:"subscriptionId,omitempty" example:"7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab"`
	MessageID      MessageID `json:"messageId,omitempty" swaggertype:"integer" example:"4242"`
}

var errBadBody = errors.New("invalid JSON body")

// Invoke godoc
// @ID          invokeTelegramIntegration
// @Summary     Run a Telegram integration action
// @Description Dispatches refresh-daily, send-telegram-test, delete-message or send-subscription.
// @Description Action failures answer 200 with success=false. Supports Idempotency-Key.
// @Tags        Telegram
// @Accept      json
// @Produce     json
// @Param       Idempotency-Key  header  string                  false  "Replays the stored response for the same key"
// @Param       body             body    handlers.InvokeRequest  true   "Action and parameters"
// @Success     200  {object}  handlers.InvokeResponse
// @Failure     400  {object}  handlers.InvokeResponse  "Malformed body or unknown action"
// @Failure     500  {object}  handlers.InvokeResponse  "Unexpected failure"
// @Router      /telegram-integration [post]
func (h *Handlers) Invoke(c *gin.Context) {
	var req InvokeRequest
	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		invokeFail(c, http.StatusBadRequest, "", errBadBody, nil)
		return
	}
	action := strings.TrimSpace(req.Action)

	switch action {
	case ActionRefreshDaily:
		h.refreshDaily(c)
	case ActionSendTest:
		res, err := h.bc.SendTest(c.Request.Context(), strings.TrimSpace(req.BotToken), strings.TrimSpace(req.GroupID))
		if err != nil {
			invokeFail(c, http.StatusOK, action, err, nil)
			return
		}
		invokeOK(c, res, nil)
	case ActionDeleteMessage:
		if req.MessageID <= 0 {
			invokeFail(c, http.StatusBadRequest, action, errors.New("messageId is required"), nil)
			return
		}
		res, err := h.bc.DeleteMessage(c.Request.Context(), int(req.MessageID), strings.TrimSpace(req.BotToken), strings.TrimSpace(req.GroupID))
		if err != nil {
			invokeFail(c, http.StatusOK, action, err, nil)
			return
		}
		invokeOK(c, res, nil)
	case ActionSendSubscription:
		id := strings.TrimSpace(req.SubscriptionID)
		if id == "" {
			invokeFail(c, http.StatusBadRequest, action, errors.New("subscriptionId is required"), nil)
			return
		}
		res, err := h.bc.SendSubscription(c.Request.Context(), id)
		if err != nil {
			invokeFail(c, http.StatusOK, action, err, nil)
			return
		}
		invokeOK(c, res, nil)
	default:
		invokeFail(c, http.StatusBadRequest, action, fmt.Errorf("unknown action %q", action), nil)
	}
}

func (h *Handlers) refreshDaily(c *gin.Context) {
	ctx := context.WithoutCancel(c.Request.Context())
	if h.opts.RefreshTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opts.RefreshTimeout)
		defer cancel()
	}

	report, err := h.bc.RefreshDaily(ctx)
	if err != nil {
		var stats any
		if report != nil {
			stats = report.Stats
		}
		invokeFail(c, http.StatusOK, ActionRefreshDaily, err, stats)
		return
	}
	invokeOK(c, report, report.Stats)
}

// Preflight answers CORS preflight requests with an empty 200.
func (h *Handlers) Preflight(c *gin.Context) {
	c.Status(http.StatusOK)
}

// Package telegram wraps the Bot API calls used by the broadcast workflow:
// formatting listings as HTML posts, normalizing destination ids, and
// sending or deleting channel messages.
//
// The client is stateless with respect to credentials. The bot token and
// destination are passed on every call because they live in the settings
// table and may change between runs.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultEndpoint is the public Bot API URL pattern (token, method).
const DefaultEndpoint = tgbotapi.APIEndpoint

const (
	methodSend   = "sendMessage"
	methodDelete = "deleteMessage"
)

var (
	providerReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telegram_provider_requests_total",
			Help: "Bot API calls by method and outcome.",
		},
		[]string{"method", "outcome"},
	)
	providerLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "telegram_provider_request_duration_seconds",
			Help:    "Bot API call latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(providerReqs, providerLat)
}

// ProviderError is returned when the Bot API answers ok=false or the call
// never reached it. Code is the provider's error_code, zero for transport
// failures.
type ProviderError struct {
	Method      string
	Code        int
	Description string
	RetryAfter  int // seconds, from a 429 answer
	Err         error
}

func (e *ProviderError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("telegram %s: %d %s", e.Method, e.Code, e.Description)
	}
	return fmt.Sprintf("telegram %s: %s", e.Method, e.Description)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsMessageGone reports whether err says the target message no longer
// exists, which a delete caller can treat as success.
func IsMessageGone(err error) bool {
	var pe *ProviderError
	if !errors.As(err, &pe) {
		return false
	}
	return strings.Contains(strings.ToLower(pe.Description), "message to delete not found")
}

// Client issues sendMessage and deleteMessage calls. The zero value is not
// usable; construct with NewClient.
type Client struct {
	endpoint string
	http     *http.Client
}

// NewClient returns a client for the given endpoint pattern. An empty
// endpoint selects DefaultEndpoint; a non-positive timeout disables the
// per-call deadline.
func NewClient(endpoint string, timeout time.Duration) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	hc := &http.Client{}
	if timeout > 0 {
		hc.Timeout = timeout
	}
	return &Client{endpoint: endpoint, http: hc}
}

// ctxDoer binds a request context to the bot library's context-free calls.
type ctxDoer struct {
	ctx context.Context
	hc  *http.Client
}

func (d ctxDoer) Do(req *http.Request) (*http.Response, error) {
	return d.hc.Do(req.WithContext(d.ctx))
}

func (c *Client) bot(ctx context.Context, token string) *tgbotapi.BotAPI {
	// Built directly rather than through NewBotAPI, which would spend a
	// getMe round trip on every call.
	api := &tgbotapi.BotAPI{
		Token:  token,
		Client: ctxDoer{ctx: ctx, hc: c.http},
		Buffer: 100,
	}
	api.SetAPIEndpoint(c.endpoint)
	return api
}

// Send posts text (HTML parse mode) with optional one-button rows to chatID
// and returns the provider-assigned message id. chatID is normalized first.
func (c *Client) Send(ctx context.Context, token, chatID, text string, buttons []Button) (int, error) {
	dest := NormalizeChatID(chatID)
	ctx, span := startSpan(ctx, methodSend, dest)
	defer span.End()

	var msg tgbotapi.MessageConfig
	if id, username := ParseChatID(dest); username != "" {
		msg = tgbotapi.NewMessageToChannel(username, text)
	} else {
		msg = tgbotapi.NewMessage(id, text)
	}
	msg.ParseMode = tgbotapi.ModeHTML
	if len(buttons) > 0 {
		rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(buttons))
		for _, b := range buttons {
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL(b.Text, b.URL)))
		}
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	}

	start := time.Now()
	sent, err := c.bot(ctx, token).Send(msg)
	providerLat.WithLabelValues(methodSend).Observe(time.Since(start).Seconds())
	if err != nil {
		return 0, fail(span, methodSend, err)
	}
	providerReqs.WithLabelValues(methodSend, "ok").Inc()
	span.SetAttributes(attribute.Int("telegram.message_id", sent.MessageID))
	return sent.MessageID, nil
}

// Delete removes messageID from chatID. chatID is normalized first.
func (c *Client) Delete(ctx context.Context, token, chatID string, messageID int) error {
	dest := NormalizeChatID(chatID)
	ctx, span := startSpan(ctx, methodDelete, dest)
	defer span.End()
	span.SetAttributes(attribute.Int("telegram.message_id", messageID))

	var cfg tgbotapi.DeleteMessageConfig
	if id, username := ParseChatID(dest); username != "" {
		cfg = tgbotapi.DeleteMessageConfig{ChannelUsername: username, MessageID: messageID}
	} else {
		cfg = tgbotapi.NewDeleteMessage(id, messageID)
	}

	start := time.Now()
	_, err := c.bot(ctx, token).Request(cfg)
	providerLat.WithLabelValues(methodDelete).Observe(time.Since(start).Seconds())
	if err != nil {
		return fail(span, methodDelete, err)
	}
	providerReqs.WithLabelValues(methodDelete, "ok").Inc()
	return nil
}

func startSpan(ctx context.Context, method, dest string) (context.Context, trace.Span) {
	return otel.Tracer("telegram/Client").Start(ctx, method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("telegram.chat_id", dest)),
	)
}

// fail converts a bot library error into a *ProviderError and records it.
func fail(span trace.Span, method string, err error) error {
	pe := &ProviderError{Method: method, Description: err.Error(), Err: err}
	outcome := "transport_error"
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		pe.Code = apiErr.Code
		pe.Description = apiErr.Message
		pe.RetryAfter = apiErr.RetryAfter
		outcome = "api_error"
	}
	providerReqs.WithLabelValues(method, outcome).Inc()
	span.RecordError(pe)
	span.SetStatus(codes.Error, pe.Description)
	return pe
}

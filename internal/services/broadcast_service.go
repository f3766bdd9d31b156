// Package services – BroadcastService
//
// BroadcastService owns the Telegram channel lifecycle of listings:
//
//   - RefreshDaily deletes every message recorded in the ledger and re-posts
//     all visible listings, featured first, so the channel mirrors the
//     current catalogue in display order.
//   - SendSubscription posts a single listing unless it already has an
//     active message.
//   - SendTest and DeleteMessage back the admin integration screen.
//
// Mutating runs hold the "telegram-broadcast" lock for their whole duration,
// renewing it while they work, so a scheduled refresh and an admin action
// never interleave. Provider calls
// are spaced by a token-bucket limiter with burst 1.
//
// Observability: every public method is OpenTelemetry-instrumented and
// counted in broadcast_runs_total; refresh items are counted per phase.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/sofaltaapipoca/pipoca-broadcast/internal/domain"
	"github.com/sofaltaapipoca/pipoca-broadcast/internal/lock"
	"github.com/sofaltaapipoca/pipoca-broadcast/internal/repo"
	"github.com/sofaltaapipoca/pipoca-broadcast/internal/sysutil"
	"github.com/sofaltaapipoca/pipoca-broadcast/internal/telegram"
)

// RunLockName is the lock shared by all mutating broadcast runs.
const RunLockName = "telegram-broadcast"

const defaultLockTTL = 30 * time.Minute

// Refresh phases reported per item.
const (
	PhaseDelete = "delete"
	PhaseSend   = "send"
)

// BotClient is the subset of the Bot API the orchestrators use.
type BotClient interface {
	Send(ctx context.Context, token, chatID, text string, buttons []telegram.Button) (int, error)
	Delete(ctx context.Context, token, chatID string, messageID int) error
}

// ConfigSource yields the effective integration settings for a run.
type ConfigSource interface {
	GetConfig(ctx context.Context) (TelegramConfig, error)
}

// BroadcastService coordinates settings, the ledger and the Bot API.
type BroadcastService struct {
	DB          *gorm.DB
	Settings    ConfigSource
	Bot         BotClient
	Locker      lock.Locker // nil disables run locking
	Diagnostics *Diagnostics

	LockTTL        time.Duration
	SendInterval   time.Duration // minimum spacing between sends
	DeleteInterval time.Duration // minimum spacing between deletes
	Location       *time.Location

	Now func() time.Time // test seam
}

// ItemResult is the outcome of one delete or send during a refresh.
type ItemResult struct {
	Phase          string `json:"phase"`
	SubscriptionID string `json:"subscriptionId"`
	MessageID      int    `json:"messageId,omitempty"`
	OK             bool   `json:"ok"`
	Error          string `json:"error,omitempty"`
}

// RefreshStats aggregates a refresh run.
type RefreshStats struct {
	MessagesDeleted      int `json:"messagesDeleted"`
	MessagesDeleteFailed int `json:"messagesDeleteFailed"`
	MessagesResent       int `json:"messagesResent"`
	MessagesResendFailed int `json:"messagesResendFailed"`
	TotalSubscriptions   int `json:"totalSubscriptions"`
}

// RefreshReport is returned by RefreshDaily. Items are in execution order.
type RefreshReport struct {
	Stats      RefreshStats `json:"stats"`
	Items      []ItemResult `json:"items"`
	StartedAt  time.Time    `json:"startedAt"`
	FinishedAt time.Time    `json:"finishedAt"`
}

func (r *RefreshReport) add(it ItemResult) {
	r.Items = append(r.Items, it)
	switch {
	case it.Phase == PhaseDelete && it.OK:
		r.Stats.MessagesDeleted++
	case it.Phase == PhaseDelete:
		r.Stats.MessagesDeleteFailed++
	case it.OK:
		r.Stats.MessagesResent++
	default:
		r.Stats.MessagesResendFailed++
	}
	outcome := "ok"
	if !it.OK {
		outcome = "error"
	}
	broadcastItems.WithLabelValues(it.Phase, outcome).Inc()
}

// SendResult is returned by the single-listing operations.
type SendResult struct {
	SubscriptionID string `json:"subscriptionId"`
	MessageID      int    `json:"messageId,omitempty"`
	AlreadySent    bool   `json:"alreadySent,omitempty"`
	Skipped        bool   `json:"skipped,omitempty"`
}

// TestResult is returned by SendTest.
type TestResult struct {
	MessageID int    `json:"messageId"`
	ChatID    string `json:"chatId"`
}

// DeleteResult is returned by DeleteMessage. LedgerRows is the number of
// active ledger rows that referenced the message.
type DeleteResult struct {
	MessageID  int    `json:"messageId"`
	ChatID     string `json:"chatId"`
	LedgerRows int64  `json:"ledgerRows"`
}

func (s *BroadcastService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *BroadcastService) tracer() trace.Tracer {
	return otel.Tracer("services/BroadcastService")
}

// withLock runs fn while holding the broadcast lock. The lease is renewed
// every ttl/3 for as long as fn runs; if it is lost, fn's context is
// canceled and the returned error wraps lock.ErrLeaseLost.
func (s *BroadcastService) withLock(ctx context.Context, fn func(context.Context) error) error {
	if s.Locker == nil {
		return fn(ctx)
	}
	ttl := s.LockTTL
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	lease, err := s.Locker.Acquire(ctx, RunLockName, ttl)
	if errors.Is(err, lock.ErrLocked) {
		return ErrRunInProgress
	}
	if err != nil {
		return fmt.Errorf("acquire run lock: %w", err)
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		keepAlive(runCtx, lease, ttl, cancel)
	}()
	defer func() {
		cancel(nil)
		<-done
		if rerr := lease.Release(context.WithoutCancel(ctx)); rerr != nil {
			loggerFrom(ctx).Warn().Err(rerr).Msg("broadcast: releasing run lock failed")
		}
	}()

	err = fn(runCtx)
	if cause := context.Cause(runCtx); err != nil && errors.Is(cause, lock.ErrLeaseLost) {
		return fmt.Errorf("%w: %w", cause, err)
	}
	return err
}

// keepAlive extends lease until ctx ends. A transient store error is retried
// on the next tick; a lost lease cancels the run.
func keepAlive(ctx context.Context, lease lock.Lease, ttl time.Duration, cancel context.CancelCauseFunc) {
	every := ttl / 3
	if every < time.Millisecond {
		every = time.Millisecond
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		err := lease.Extend(ctx, ttl)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return
		case errors.Is(err, lock.ErrLeaseLost):
			loggerFrom(ctx).Error().Err(err).Msg("broadcast: run lock lost, stopping")
			cancel(err)
			return
		default:
			loggerFrom(ctx).Warn().Err(err).Msg("broadcast: extending run lock failed")
		}
	}
}

// pacer spaces provider calls at least interval apart; the first call is
// immediate.
func pacer(interval time.Duration) *rate.Limiter {
	if interval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}

func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// RefreshDaily resynchronizes the channel with the visible listings.
//
// Per-item failures never abort the run; they are reported in the returned
// report. The run stops early only when the lock is busy, the integration is
// not configured, or ctx ends (the partial report is returned with the
// error in that last case).
func (s *BroadcastService) RefreshDaily(ctx context.Context) (report *RefreshReport, err error) {
	ctx, span := s.tracer().Start(ctx, "RefreshDaily")
	start := time.Now()
	defer func() {
		broadcastRunDuration.WithLabelValues("refresh").Observe(time.Since(start).Seconds())
		broadcastRuns.WithLabelValues("refresh", refreshOutcome(report, err)).Inc()
		if report != nil {
			span.SetAttributes(
				attribute.Int("refresh.deleted", report.Stats.MessagesDeleted),
				attribute.Int("refresh.delete_failed", report.Stats.MessagesDeleteFailed),
				attribute.Int("refresh.resent", report.Stats.MessagesResent),
				attribute.Int("refresh.resend_failed", report.Stats.MessagesResendFailed),
			)
		}
		finishSpan(span, err)
	}()

	err = s.withLock(ctx, func(ctx context.Context) error {
		var rerr error
		report, rerr = s.refresh(ctx)
		return rerr
	})
	return report, err
}

func refreshOutcome(r *RefreshReport, err error) string {
	switch {
	case errors.Is(err, ErrRunInProgress):
		return "busy"
	case err != nil:
		return "error"
	case r != nil && (r.Stats.MessagesDeleteFailed > 0 || r.Stats.MessagesResendFailed > 0):
		return "partial"
	default:
		return "ok"
	}
}

func (s *BroadcastService) refresh(ctx context.Context) (*RefreshReport, error) {
	lg := loggerFrom(ctx)
	cfg, _ := s.Settings.GetConfig(ctx)
	if !cfg.Configured() {
		s.Diagnostics.Record(ctx, OpRefreshDaily, map[string]any{"stage": "config"}, ErrNotConfigured)
		return nil, ErrNotConfigured
	}

	report := &RefreshReport{StartedAt: s.now().UTC(), Items: []ItemResult{}}

	// Delete phase.
	rows, err := repo.ListActiveMessages(ctx, s.DB)
	if err != nil {
		lg.Error().Err(err).Msg("refresh: loading active messages failed")
		s.Diagnostics.Record(ctx, OpRefreshDaily, map[string]any{"stage": "load_messages"}, err)
	}
	del := pacer(s.DeleteInterval)
	for _, row := range rows {
		if err := del.Wait(ctx); err != nil {
			return s.finishRefresh(ctx, report, fmt.Errorf("refresh interrupted: %w", err))
		}
		report.add(s.deleteOne(ctx, cfg, row))
	}

	// Fetch phase.
	subs, err := repo.ListVisibleSubscriptions(ctx, s.DB)
	if err != nil {
		lg.Error().Err(err).Msg("refresh: loading visible subscriptions failed")
		s.Diagnostics.Record(ctx, OpRefreshDaily, map[string]any{"stage": "load_subscriptions"}, err)
	}
	report.Stats.TotalSubscriptions = len(subs)

	// Resend phase.
	send := pacer(s.SendInterval)
	for _, sub := range subs {
		if err := send.Wait(ctx); err != nil {
			return s.finishRefresh(ctx, report, fmt.Errorf("refresh interrupted: %w", err))
		}
		report.add(s.sendOne(ctx, cfg, sub))
	}

	return s.finishRefresh(ctx, report, nil)
}

func (s *BroadcastService) finishRefresh(ctx context.Context, report *RefreshReport, runErr error) (*RefreshReport, error) {
	report.FinishedAt = s.now().UTC()
	s.Diagnostics.Record(ctx, OpRefreshDaily, report.Stats, runErr)

	ev := loggerFrom(ctx).Info()
	if runErr != nil {
		ev = loggerFrom(ctx).Warn().Err(runErr)
	}
	ev.Int("deleted", report.Stats.MessagesDeleted).
		Int("delete_failed", report.Stats.MessagesDeleteFailed).
		Int("resent", report.Stats.MessagesResent).
		Int("resend_failed", report.Stats.MessagesResendFailed).
		Int("subscriptions", report.Stats.TotalSubscriptions).
		Dur("took", report.FinishedAt.Sub(report.StartedAt)).
		Msg("refresh: finished")
	return report, runErr
}

func (s *BroadcastService) deleteOne(ctx context.Context, cfg TelegramConfig, row domain.TelegramMessage) ItemResult {
	item := ItemResult{Phase: PhaseDelete, SubscriptionID: row.SubscriptionID, MessageID: row.MessageID}
	chatID := sysutil.FirstNonEmpty(row.ChatID, cfg.GroupID)
	details := map[string]any{"subscription_id": row.SubscriptionID, "message_id": row.MessageID, "chat_id": chatID}

	err := s.Bot.Delete(ctx, cfg.BotToken, chatID, row.MessageID)
	if err != nil && !telegram.IsMessageGone(err) {
		item.Error = err.Error()
		s.Diagnostics.Record(ctx, OpDeleteMessage, details, err)
		return item
	}
	if err := repo.MarkMessageDeleted(ctx, s.DB, row.ID); err != nil && !errors.Is(err, repo.ErrNotFound) {
		item.Error = "ledger: " + err.Error()
		s.Diagnostics.Record(ctx, OpDeleteMessage, details, err)
		return item
	}
	item.OK = true
	return item
}

func (s *BroadcastService) sendOne(ctx context.Context, cfg TelegramConfig, sub domain.Subscription) ItemResult {
	item := ItemResult{Phase: PhaseSend, SubscriptionID: sub.ID}
	msg := telegram.FormatSubscription(sub)

	id, err := s.Bot.Send(ctx, cfg.BotToken, cfg.GroupID, msg.Text, msg.Buttons)
	if err != nil {
		item.Error = err.Error()
		s.Diagnostics.Record(ctx, OpSendMessage, map[string]any{"subscription_id": sub.ID}, err)
		return item
	}
	item.MessageID = id
	if _, err := repo.ReplaceActiveMessage(ctx, s.DB, sub.ID, telegram.NormalizeChatID(cfg.GroupID), id, s.now()); err != nil {
		item.Error = "ledger: " + err.Error()
		s.Diagnostics.Record(ctx, OpSendMessage, map[string]any{"subscription_id": sub.ID, "message_id": id}, err)
		return item
	}
	item.OK = true
	return item
}

// activeResult returns an AlreadySent result when the listing has an active
// ledger row, nil when it has none.
func (s *BroadcastService) activeResult(ctx context.Context, id string) (*SendResult, error) {
	row, err := repo.GetActiveMessage(ctx, s.DB, id)
	switch {
	case err == nil:
		return &SendResult{SubscriptionID: id, MessageID: row.MessageID, AlreadySent: true}, nil
	case errors.Is(err, repo.ErrNotFound):
		return nil, nil
	default:
		return nil, err
	}
}

// SendSubscription posts one listing. When the listing already has an active
// message, no provider call is made and that message id is returned with
// AlreadySent set.
func (s *BroadcastService) SendSubscription(ctx context.Context, subscriptionID string) (res *SendResult, err error) {
	id := strings.TrimSpace(subscriptionID)
	ctx, span := s.tracer().Start(ctx, "SendSubscription",
		trace.WithAttributes(attribute.String("subscription.id", id)))
	defer func() { finishSpan(span, err) }()

	if id == "" {
		return nil, ErrSubscriptionIDRequired
	}
	if res, err = s.activeResult(ctx, id); err != nil || res != nil {
		s.countSend(res, err)
		return res, err
	}

	err = s.withLock(ctx, func(ctx context.Context) error {
		// A concurrent send may have completed before we got the lock.
		r, err := s.activeResult(ctx, id)
		if err != nil || r != nil {
			res = r
			return err
		}

		cfg, _ := s.Settings.GetConfig(ctx)
		if !cfg.Configured() {
			return ErrNotConfigured
		}
		sub, err := repo.GetSubscription(ctx, s.DB, id)
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrSubscriptionNotFound, id)
		}
		if err != nil {
			return err
		}

		msg := telegram.FormatSubscription(*sub)
		mid, err := s.Bot.Send(ctx, cfg.BotToken, cfg.GroupID, msg.Text, msg.Buttons)
		if err != nil {
			return err
		}
		if _, err := repo.ReplaceActiveMessage(ctx, s.DB, id, telegram.NormalizeChatID(cfg.GroupID), mid, s.now()); err != nil {
			return fmt.Errorf("record message %d: %w", mid, err)
		}
		res = &SendResult{SubscriptionID: id, MessageID: mid}
		return nil
	})

	details := map[string]any{"subscription_id": id}
	if res != nil {
		details["message_id"] = res.MessageID
		details["already_sent"] = res.AlreadySent
	}
	s.Diagnostics.Record(ctx, OpSendSubscription, details, err)
	s.countSend(res, err)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *BroadcastService) countSend(res *SendResult, err error) {
	outcome := "ok"
	switch {
	case errors.Is(err, ErrRunInProgress):
		outcome = "busy"
	case err != nil:
		outcome = "error"
	case res != nil && res.AlreadySent:
		outcome = "already_sent"
	}
	broadcastRuns.WithLabelValues("send", outcome).Inc()
}

// OnSubscriptionApproved is the approval hook: it posts the listing when
// auto-post is enabled and reports Skipped otherwise.
func (s *BroadcastService) OnSubscriptionApproved(ctx context.Context, subscriptionID string) (*SendResult, error) {
	id := strings.TrimSpace(subscriptionID)
	if id == "" {
		return nil, ErrSubscriptionIDRequired
	}
	cfg, _ := s.Settings.GetConfig(ctx)
	if !cfg.AutoPost {
		broadcastRuns.WithLabelValues("send", "skipped").Inc()
		return &SendResult{SubscriptionID: id, Skipped: true}, nil
	}
	return s.SendSubscription(ctx, id)
}

// resolve applies per-request overrides on top of the stored settings.
func (s *BroadcastService) resolve(ctx context.Context, botToken, groupID string) (token, group string, err error) {
	cfg, _ := s.Settings.GetConfig(ctx)
	token = strings.TrimSpace(sysutil.FirstNonEmpty(botToken, cfg.BotToken))
	group = strings.TrimSpace(sysutil.FirstNonEmpty(groupID, cfg.GroupID))
	if token == "" || group == "" {
		return "", "", ErrNotConfigured
	}
	return token, group, nil
}

// SendTest posts the integration test message. Empty overrides fall back to
// the stored settings.
func (s *BroadcastService) SendTest(ctx context.Context, botToken, groupID string) (res *TestResult, err error) {
	ctx, span := s.tracer().Start(ctx, "SendTest")
	defer func() { finishSpan(span, err) }()

	token, group, err := s.resolve(ctx, botToken, groupID)
	if err != nil {
		s.Diagnostics.Record(ctx, OpSendTest, nil, err)
		broadcastRuns.WithLabelValues("test", "error").Inc()
		return nil, err
	}

	now := s.now()
	if s.Location != nil {
		now = now.In(s.Location)
	}
	chatID := telegram.NormalizeChatID(group)
	id, err := s.Bot.Send(ctx, token, chatID, telegram.FormatTestMessage(now), nil)
	s.Diagnostics.Record(ctx, OpSendTest, map[string]any{"chat_id": chatID, "message_id": id}, err)
	if err != nil {
		broadcastRuns.WithLabelValues("test", "error").Inc()
		return nil, err
	}
	broadcastRuns.WithLabelValues("test", "ok").Inc()
	return &TestResult{MessageID: id, ChatID: chatID}, nil
}

// DeleteMessage removes one channel message and retires any active ledger
// row that pointed at it. A message the provider reports as already gone
// counts as deleted.
func (s *BroadcastService) DeleteMessage(ctx context.Context, messageID int, botToken, groupID string) (res *DeleteResult, err error) {
	ctx, span := s.tracer().Start(ctx, "DeleteMessage",
		trace.WithAttributes(attribute.Int("telegram.message_id", messageID)))
	defer func() { finishSpan(span, err) }()

	if messageID <= 0 {
		return nil, ErrInvalidMessageID
	}
	token, group, err := s.resolve(ctx, botToken, groupID)
	if err != nil {
		s.Diagnostics.Record(ctx, OpDeleteMessage, map[string]any{"message_id": messageID}, err)
		return nil, err
	}
	chatID := telegram.NormalizeChatID(group)

	err = s.withLock(ctx, func(ctx context.Context) error {
		if derr := s.Bot.Delete(ctx, token, chatID, messageID); derr != nil && !telegram.IsMessageGone(derr) {
			return derr
		}
		n, lerr := repo.MarkMessageDeletedByProviderID(ctx, s.DB, chatID, messageID)
		if lerr != nil {
			return fmt.Errorf("update ledger: %w", lerr)
		}
		res = &DeleteResult{MessageID: messageID, ChatID: chatID, LedgerRows: n}
		return nil
	})

	s.Diagnostics.Record(ctx, OpDeleteMessage, map[string]any{"message_id": messageID, "chat_id": chatID}, err)
	outcome := "ok"
	switch {
	case errors.Is(err, ErrRunInProgress):
		outcome = "busy"
	case err != nil:
		outcome = "error"
	}
	broadcastRuns.WithLabelValues("delete", outcome).Inc()
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ListMessages returns a page of active ledger rows (newest first) and the
// total count. page is 1-based.
func (s *BroadcastService) ListMessages(ctx context.Context, page, pageSize int) ([]domain.TelegramMessage, int64, error) {
	total, err := repo.CountActiveMessages(ctx, s.DB)
	if err != nil {
		return nil, 0, err
	}
	items, err := repo.ListActiveMessagesPage(ctx, s.DB, (page-1)*pageSize, pageSize)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

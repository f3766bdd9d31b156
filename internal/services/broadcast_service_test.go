package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sofaltaapipoca/pipoca-broadcast/internal/domain"
	"github.com/sofaltaapipoca/pipoca-broadcast/internal/lock"
	"github.com/sofaltaapipoca/pipoca-broadcast/internal/repo"
	"github.com/sofaltaapipoca/pipoca-broadcast/internal/telegram"
)

func visible(id, title string, featured bool, created time.Time) domain.Subscription {
	return domain.Subscription{ID: id, Title: title, Price: "R$ 10", Visible: true, Featured: featured, CreatedAt: created}
}

// --- SendSubscription ---

func TestSendSubscription_Twice_SendsOnce(t *testing.T) {
	f := newFixture(t)
	f.seed(t, visible("s1", "Netflix", false, time.Now()))
	ctx := context.Background()

	first, err := f.svc.SendSubscription(ctx, "s1")
	if err != nil || first.AlreadySent || first.MessageID == 0 {
		t.Fatalf("first send = %+v, %v", first, err)
	}
	second, err := f.svc.SendSubscription(ctx, "s1")
	if err != nil {
		t.Fatalf("second send: %v", err)
	}
	if !second.AlreadySent || second.MessageID != first.MessageID {
		t.Fatalf("second send = %+v; want AlreadySent with id %d", second, first.MessageID)
	}
	if n := f.bot.sendCount(); n != 1 {
		t.Fatalf("expected 1 provider send, got %d", n)
	}
	if n := f.activeCount(t); n != 1 {
		t.Fatalf("expected 1 active ledger row, got %d", n)
	}

	row, _ := repo.GetActiveMessage(ctx, f.db, "s1")
	if row.ChatID != "-1001" {
		t.Fatalf("ledger should store the normalized chat id, got %q", row.ChatID)
	}
}

func TestSendSubscription_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.SendSubscription(ctx, "  "); !errors.Is(err, ErrSubscriptionIDRequired) {
		t.Fatalf("blank id: expected ErrSubscriptionIDRequired, got %v", err)
	}

	_, err := f.svc.SendSubscription(ctx, "missing")
	if !errors.Is(err, ErrSubscriptionNotFound) || !strings.Contains(err.Error(), "missing") {
		t.Fatalf("expected ErrSubscriptionNotFound carrying the id, got %v", err)
	}

	f.seed(t, visible("s2", "Max", false, time.Now()))
	f.bot.failSend["Max"] = &telegram.ProviderError{Method: "sendMessage", Code: 403, Description: "Forbidden: bot was kicked"}
	_, err = f.svc.SendSubscription(ctx, "s2")
	var pe *telegram.ProviderError
	if !errors.As(err, &pe) || pe.Code != 403 {
		t.Fatalf("expected provider error, got %v", err)
	}
	if n := f.activeCount(t); n != 0 {
		t.Fatalf("failed send must not create ledger rows, got %d", n)
	}

	var failures int64
	f.db.Model(&domain.TelegramLog{}).Where("operation = ? AND success = ?", OpSendSubscription, false).Count(&failures)
	if failures < 2 {
		t.Fatalf("expected failures in the diagnostic log, got %d", failures)
	}
}

func TestSendSubscription_NotConfigured(t *testing.T) {
	f := newFixture(t)
	f.settings.Defaults = TelegramConfig{}
	f.seed(t, visible("s1", "Netflix", false, time.Now()))
	if _, err := f.svc.SendSubscription(context.Background(), "s1"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestSendSubscription_LockBusy(t *testing.T) {
	f := newFixture(t)
	f.seed(t, visible("s1", "Netflix", false, time.Now()))
	ctx := context.Background()

	lease, err := f.svc.Locker.Acquire(ctx, RunLockName, time.Minute)
	if err != nil {
		t.Fatalf("hold lock: %v", err)
	}
	defer lease.Release(ctx)

	if _, err := f.svc.SendSubscription(ctx, "s1"); !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("expected ErrRunInProgress, got %v", err)
	}
	if f.bot.sendCount() != 0 {
		t.Fatalf("no provider call expected while locked")
	}
}

// --- OnSubscriptionApproved ---

func TestOnSubscriptionApproved_RespectsAutoPost(t *testing.T) {
	f := newFixture(t)
	f.seed(t, visible("s1", "Netflix", false, time.Now()))
	ctx := context.Background()

	res, err := f.svc.OnSubscriptionApproved(ctx, "s1")
	if err != nil || !res.Skipped {
		t.Fatalf("auto-post off: got %+v, %v", res, err)
	}
	if f.bot.sendCount() != 0 {
		t.Fatalf("no send expected with auto-post off")
	}

	on := true
	if _, err := f.settings.SaveConfig(ctx, ConfigUpdate{AutoPost: &on}); err != nil {
		t.Fatalf("enable auto-post: %v", err)
	}
	res, err = f.svc.OnSubscriptionApproved(ctx, "s1")
	if err != nil || res.Skipped || res.MessageID == 0 {
		t.Fatalf("auto-post on: got %+v, %v", res, err)
	}
}

// --- RefreshDaily ---

func TestRefreshDaily_FeaturedFirst_TwoActiveRows(t *testing.T) {
	f := newFixture(t)
	now := time.Now()
	f.seed(t,
		visible("plain", "Spotify", false, now),
		visible("feat", "Netflix", true, now.Add(-time.Hour)),
		domain.Subscription{ID: "hidden", Title: "Hidden", Visible: false},
	)

	report, err := f.svc.RefreshDaily(context.Background())
	if err != nil {
		t.Fatalf("RefreshDaily: %v", err)
	}
	if report.Stats.MessagesResent != 2 || report.Stats.TotalSubscriptions != 2 || report.Stats.MessagesResendFailed != 0 {
		t.Fatalf("unexpected stats: %+v", report.Stats)
	}
	if n := f.activeCount(t); n != 2 {
		t.Fatalf("expected 2 active rows, got %d", n)
	}
	if len(f.bot.sends) != 2 || !strings.Contains(f.bot.sends[0].Text, "Netflix") || !strings.Contains(f.bot.sends[1].Text, "Spotify") {
		t.Fatalf("featured listing must be sent first: %+v", f.bot.sends)
	}
	feat, _ := repo.GetActiveMessage(context.Background(), f.db, "feat")
	if feat.MessageID != f.bot.sends[0].ID {
		t.Fatalf("ledger id %d does not match sent id %d", feat.MessageID, f.bot.sends[0].ID)
	}
}

func TestRefreshDaily_DeleteFailureDoesNotStopRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now()
	f.seed(t, visible("a", "Alpha", false, now), visible("b", "Bravo", false, now), visible("c", "Charlie", false, now))

	// Previous run left three active messages.
	for i, id := range []string{"a", "b", "c"} {
		if _, err := repo.ReplaceActiveMessage(ctx, f.db, id, "-1001", 10+i, now.Add(-24*time.Hour)); err != nil {
			t.Fatalf("seed ledger: %v", err)
		}
	}
	f.bot.failDelete[11] = &telegram.ProviderError{Method: "deleteMessage", Code: 400, Description: "Bad Request: message can't be deleted"}

	report, err := f.svc.RefreshDaily(ctx)
	if err != nil {
		t.Fatalf("RefreshDaily: %v", err)
	}
	st := report.Stats
	if st.MessagesDeleteFailed != 1 || st.MessagesDeleted != 2 {
		t.Fatalf("delete stats = %+v", st)
	}
	if st.MessagesResent != 3 || st.TotalSubscriptions != 3 {
		t.Fatalf("resend must still run for all visible listings: %+v", st)
	}
	if len(report.Items) != 6 {
		t.Fatalf("expected 6 item results, got %d", len(report.Items))
	}
	var failed *ItemResult
	for i := range report.Items {
		if !report.Items[i].OK {
			failed = &report.Items[i]
		}
	}
	if failed == nil || failed.Phase != PhaseDelete || failed.MessageID != 11 || failed.Error == "" {
		t.Fatalf("unexpected failed item: %+v", failed)
	}
	// Each listing ends with exactly one active row.
	if n := f.activeCount(t); n != 3 {
		t.Fatalf("expected 3 active rows, got %d", n)
	}
}

func TestRefreshDaily_MessageGoneCountsAsDeleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	row, _ := repo.ReplaceActiveMessage(ctx, f.db, "gone", "-1001", 7, time.Now())
	f.bot.failDelete[7] = &telegram.ProviderError{Method: "deleteMessage", Code: 400, Description: "Bad Request: message to delete not found"}

	report, err := f.svc.RefreshDaily(ctx)
	if err != nil {
		t.Fatalf("RefreshDaily: %v", err)
	}
	if report.Stats.MessagesDeleted != 1 || report.Stats.MessagesDeleteFailed != 0 {
		t.Fatalf("unexpected stats: %+v", report.Stats)
	}
	var got domain.TelegramMessage
	f.db.Unscoped().First(&got, row.ID)
	if !got.DeletedAt.Valid {
		t.Fatalf("row should be soft-deleted")
	}
}

func TestRefreshDaily_SendFailureIsReported(t *testing.T) {
	f := newFixture(t)
	now := time.Now()
	f.seed(t, visible("a", "Alpha", false, now), visible("b", "Bravo", false, now.Add(-time.Minute)))
	f.bot.failSend["Alpha"] = errors.New("boom")

	report, err := f.svc.RefreshDaily(context.Background())
	if err != nil {
		t.Fatalf("RefreshDaily: %v", err)
	}
	if report.Stats.MessagesResendFailed != 1 || report.Stats.MessagesResent != 1 {
		t.Fatalf("unexpected stats: %+v", report.Stats)
	}
	if _, err := repo.GetActiveMessage(context.Background(), f.db, "a"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("failed listing must not be in the ledger, got %v", err)
	}
}

func TestRefreshDaily_LockBusy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lease, err := f.svc.Locker.Acquire(ctx, RunLockName, time.Minute)
	if err != nil {
		t.Fatalf("hold lock: %v", err)
	}
	defer lease.Release(ctx)

	report, err := f.svc.RefreshDaily(ctx)
	if !errors.Is(err, ErrRunInProgress) || report != nil {
		t.Fatalf("expected (nil, ErrRunInProgress), got (%v, %v)", report, err)
	}
}

func TestRefreshDaily_ReleasesLock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.RefreshDaily(ctx); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if _, err := f.svc.RefreshDaily(ctx); err != nil {
		t.Fatalf("second run should acquire the released lock: %v", err)
	}
}

func TestRefreshDaily_NotConfigured(t *testing.T) {
	f := newFixture(t)
	f.settings.Defaults = TelegramConfig{GroupID: "-1001"}
	if _, err := f.svc.RefreshDaily(context.Background()); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestRefreshDaily_SpacesSends(t *testing.T) {
	f := newFixture(t)
	f.svc.SendInterval = 30 * time.Millisecond
	now := time.Now()
	f.seed(t, visible("a", "A", false, now), visible("b", "B", false, now), visible("c", "C", false, now))

	start := time.Now()
	if _, err := f.svc.RefreshDaily(context.Background()); err != nil {
		t.Fatalf("RefreshDaily: %v", err)
	}
	// Three sends need at least two full intervals.
	if took := time.Since(start); took < 55*time.Millisecond {
		t.Fatalf("sends not spaced: took %v", took)
	}
}

func TestRefreshDaily_CanceledContextReturnsPartialReport(t *testing.T) {
	f := newFixture(t)
	f.svc.SendInterval = time.Hour
	now := time.Now()
	f.seed(t, visible("a", "A", false, now), visible("b", "B", false, now))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	report, err := f.svc.RefreshDaily(ctx)
	if err == nil || report == nil {
		t.Fatalf("expected partial report with error, got (%v, %v)", report, err)
	}
	if report.Stats.MessagesResent != 1 {
		t.Fatalf("expected only the first send before interruption, got %+v", report.Stats)
	}
}

// --- SendTest / DeleteMessage ---

func TestSendTest_OverridesAndFallback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.SendTest(ctx, "", "")
	if err != nil || res.ChatID != "-1001" {
		t.Fatalf("stored config: %+v, %v", res, err)
	}
	res, err = f.svc.SendTest(ctx, "999:override", "555")
	if err != nil || res.ChatID != "-100555" {
		t.Fatalf("overrides: %+v, %v", res, err)
	}
	last := f.bot.sends[len(f.bot.sends)-1]
	if last.Token != "999:override" || !strings.Contains(last.Text, "Teste") {
		t.Fatalf("unexpected test send: %+v", last)
	}

	// Stored rows were seeded from the defaults above; a fresh store has none.
	bare := newFixture(t)
	bare.settings.Defaults = TelegramConfig{}
	if _, err := bare.svc.SendTest(ctx, "", ""); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestDeleteMessage_RetiresLedgerRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _ = repo.ReplaceActiveMessage(ctx, f.db, "s1", "-1001", 321, time.Now())

	res, err := f.svc.DeleteMessage(ctx, 321, "", "1001")
	if err != nil {
		t.Fatalf("DeleteMessage: %v", err)
	}
	if res.LedgerRows != 1 || res.ChatID != "-1001" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if f.activeCount(t) != 0 {
		t.Fatalf("ledger row should be retired")
	}

	if _, err := f.svc.DeleteMessage(ctx, 0, "", ""); !errors.Is(err, ErrInvalidMessageID) {
		t.Fatalf("expected ErrInvalidMessageID, got %v", err)
	}

	f.bot.failDelete[55] = errors.New("network down")
	if _, err := f.svc.DeleteMessage(ctx, 55, "", ""); err == nil {
		t.Fatalf("expected provider error")
	}
}

func TestListMessages_Pagination(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now()
	for i, id := range []string{"a", "b", "c"} {
		_, _ = repo.ReplaceActiveMessage(ctx, f.db, id, "-1001", i+1, now.Add(time.Duration(i)*time.Minute))
	}
	items, total, err := f.svc.ListMessages(ctx, 2, 2)
	if err != nil || total != 3 || len(items) != 1 || items[0].SubscriptionID != "a" {
		t.Fatalf("ListMessages = %+v, %d, %v", items, total, err)
	}
}

// --- run lock renewal ---

func TestRefreshDaily_RenewsLockWhileRunning(t *testing.T) {
	f := newFixture(t)
	if sqlDB, err := f.db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1) // serialize the lease renewals with the run's writes
	}
	f.svc.LockTTL = 50 * time.Millisecond
	f.svc.SendInterval = 100 * time.Millisecond
	now := time.Now()
	f.seed(t,
		visible("a", "Alpha", false, now),
		visible("b", "Bravo", false, now.Add(-time.Minute)),
		visible("c", "Charlie", false, now.Add(-2*time.Minute)),
	)
	ctx := context.Background()

	type outcome struct {
		report *RefreshReport
		err    error
	}
	first := make(chan outcome, 1)
	go func() {
		r, err := f.svc.RefreshDaily(ctx)
		first <- outcome{r, err}
	}()

	// Well past the initial lease, while the first run is between sends.
	time.Sleep(120 * time.Millisecond)
	if _, err := f.svc.RefreshDaily(ctx); !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("overlapping refresh: expected ErrRunInProgress, got %v", err)
	}

	got := <-first
	if got.err != nil || got.report.Stats.MessagesResent != 3 {
		t.Fatalf("first run = %+v, %v", got.report, got.err)
	}
	if n := f.bot.sendCount(); n != 3 {
		t.Fatalf("bot sends = %d; want 3", n)
	}
}

// losingLease is taken over by someone else once the first message is out.
type losingLease struct{ bot *fakeBot }

func (l losingLease) Extend(context.Context, time.Duration) error {
	if l.bot.sendCount() == 0 {
		return nil
	}
	return lock.ErrLeaseLost
}

func (losingLease) Release(context.Context) error { return nil }

type losingLocker struct{ bot *fakeBot }

func (l losingLocker) Acquire(context.Context, string, time.Duration) (lock.Lease, error) {
	return losingLease{bot: l.bot}, nil
}

func TestRefreshDaily_StopsWhenLockIsLost(t *testing.T) {
	f := newFixture(t)
	f.svc.Locker = losingLocker{bot: f.bot}
	f.svc.LockTTL = 30 * time.Millisecond
	f.svc.SendInterval = 500 * time.Millisecond
	now := time.Now()
	f.seed(t,
		visible("a", "Alpha", false, now),
		visible("b", "Bravo", false, now.Add(-time.Minute)),
		visible("c", "Charlie", false, now.Add(-2*time.Minute)),
	)

	report, err := f.svc.RefreshDaily(context.Background())
	if !errors.Is(err, lock.ErrLeaseLost) {
		t.Fatalf("expected ErrLeaseLost, got %v", err)
	}
	if report == nil || len(report.Items) != 1 || report.Stats.TotalSubscriptions != 3 {
		t.Fatalf("expected a partial report with one item, got %+v", report)
	}
	if n := f.bot.sendCount(); n != 1 {
		t.Fatalf("bot sends = %d; want 1", n)
	}
}

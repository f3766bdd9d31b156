package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/sofaltaapipoca/pipoca-broadcast/internal/domain"
	"github.com/sofaltaapipoca/pipoca-broadcast/internal/services"
)

// fakeBroadcaster records calls and returns canned results.
type fakeBroadcaster struct {
	refreshReport *services.RefreshReport
	refreshErr    error
	refreshCtxErr error // ctx.Err() observed by RefreshDaily
	refreshDL     bool  // ctx had a deadline

	sendRes  *services.SendResult
	sendErr  error
	sentIDs  []string
	approved []string

	testRes      *services.TestResult
	testErr      error
	testOverride [2]string

	deleteRes *services.DeleteResult
	deleteErr error
	deletedID int

	messages []domain.TelegramMessage
	listErr  error
	listArgs [2]int
}

func (f *fakeBroadcaster) RefreshDaily(ctx context.Context) (*services.RefreshReport, error) {
	f.refreshCtxErr = ctx.Err()
	_, f.refreshDL = ctx.Deadline()
	return f.refreshReport, f.refreshErr
}

func (f *fakeBroadcaster) SendSubscription(_ context.Context, id string) (*services.SendResult, error) {
	f.sentIDs = append(f.sentIDs, id)
	return f.sendRes, f.sendErr
}

func (f *fakeBroadcaster) OnSubscriptionApproved(_ context.Context, id string) (*services.SendResult, error) {
	f.approved = append(f.approved, id)
	return f.sendRes, f.sendErr
}

func (f *fakeBroadcaster) SendTest(_ context.Context, token, group string) (*services.TestResult, error) {
	f.testOverride = [2]string{token, group}
	return f.testRes, f.testErr
}

func (f *fakeBroadcaster) DeleteMessage(_ context.Context, id int, _, _ string) (*services.DeleteResult, error) {
	f.deletedID = id
	return f.deleteRes, f.deleteErr
}

func (f *fakeBroadcaster) ListMessages(_ context.Context, page, size int) ([]domain.TelegramMessage, int64, error) {
	f.listArgs = [2]int{page, size}
	return f.messages, int64(len(f.messages)), f.listErr
}

type fakeSettings struct {
	cfg     services.TelegramConfig
	saveErr error
	last    services.ConfigUpdate
}

func (f *fakeSettings) GetConfig(context.Context) (services.TelegramConfig, error) { return f.cfg, nil }

func (f *fakeSettings) SaveConfig(_ context.Context, u services.ConfigUpdate) (services.TelegramConfig, error) {
	f.last = u
	if f.saveErr != nil {
		return services.TelegramConfig{}, f.saveErr
	}
	if u.BotToken != nil {
		f.cfg.BotToken = *u.BotToken
	}
	if u.GroupID != nil {
		f.cfg.GroupID = *u.GroupID
	}
	if u.AutoPost != nil {
		f.cfg.AutoPost = *u.AutoPost
	}
	return f.cfg, nil
}

type fakeLogs struct {
	items []domain.TelegramLog
	op    string
}

func (f *fakeLogs) ListPage(_ context.Context, op string, _, _ int) ([]domain.TelegramLog, int64, error) {
	f.op = op
	return f.items, int64(len(f.items)), nil
}

type testEnv struct {
	r        *gin.Engine
	bc       *fakeBroadcaster
	settings *fakeSettings
	logs     *fakeLogs
}

func newEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	env := &testEnv{
		bc:       &fakeBroadcaster{},
		settings: &fakeSettings{cfg: services.TelegramConfig{BotToken: "123456:ABCDEFwxyz", GroupID: "-1001"}},
		logs:     &fakeLogs{},
	}
	h := New(env.bc, env.settings, env.logs, opts)
	r := gin.New()
	r.POST("/telegram-integration", h.Invoke)
	r.OPTIONS("/telegram-integration", h.Preflight)
	r.GET("/telegram/settings", h.GetSettings)
	r.PUT("/telegram/settings", h.UpdateSettings)
	r.GET("/telegram/messages", h.ListMessages)
	r.GET("/telegram/logs", h.ListLogs)
	r.POST("/subscriptions/:id/approved", h.SubscriptionApproved)
	env.r = r
	return env
}

func (e *testEnv) do(method, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.r.ServeHTTP(w, req)
	return w
}

func decodeInvoke(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return m
}

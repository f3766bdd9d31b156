package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sofaltaapipoca/pipoca-broadcast/internal/domain"
	"github.com/sofaltaapipoca/pipoca-broadcast/internal/lock"
	"github.com/sofaltaapipoca/pipoca-broadcast/internal/repo"
	"github.com/sofaltaapipoca/pipoca-broadcast/internal/telegram"
)

func newServiceDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s_%s?mode=memory&cache=shared", t.Name(), uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

type sentMessage struct {
	Token   string
	ChatID  string
	Text    string
	Buttons []telegram.Button
	ID      int
}

// fakeBot is an in-memory BotClient. Sends get increasing ids starting at 101.
type fakeBot struct {
	mu         sync.Mutex
	nextID     int
	sends      []sentMessage
	deletes    []int
	failSend   map[string]error // keyed by a substring of the text
	failDelete map[int]error
}

func newFakeBot() *fakeBot {
	return &fakeBot{nextID: 100, failSend: map[string]error{}, failDelete: map[int]error{}}
}

func (f *fakeBot) Send(ctx context.Context, token, chatID, text string, buttons []telegram.Button) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	for sub, err := range f.failSend {
		if strings.Contains(text, sub) {
			return 0, err
		}
	}
	f.nextID++
	f.sends = append(f.sends, sentMessage{Token: token, ChatID: chatID, Text: text, Buttons: buttons, ID: f.nextID})
	return f.nextID, nil
}

func (f *fakeBot) Delete(ctx context.Context, token, chatID string, messageID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, messageID)
	return f.failDelete[messageID]
}

func (f *fakeBot) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

type fixture struct {
	db       *gorm.DB
	bot      *fakeBot
	settings *SettingsService
	svc      *BroadcastService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := newServiceDB(t)
	bot := newFakeBot()
	settings := &SettingsService{DB: db, Defaults: TelegramConfig{BotToken: "123:abc", GroupID: "-1001"}}
	svc := &BroadcastService{
		DB:          db,
		Settings:    settings,
		Bot:         bot,
		Locker:      lock.NewDBLocker(db),
		Diagnostics: &Diagnostics{DB: db},
		LockTTL:     time.Minute,
	}
	return &fixture{db: db, bot: bot, settings: settings, svc: svc}
}

func (f *fixture) seed(t *testing.T, subs ...domain.Subscription) {
	t.Helper()
	for i := range subs {
		if err := f.db.Create(&subs[i]).Error; err != nil {
			t.Fatalf("seed %s: %v", subs[i].ID, err)
		}
	}
}

func (f *fixture) activeCount(t *testing.T) int64 {
	t.Helper()
	n, err := repo.CountActiveMessages(context.Background(), f.db)
	if err != nil {
		t.Fatalf("count active: %v", err)
	}
	return n
}

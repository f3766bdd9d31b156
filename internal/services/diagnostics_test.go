package services

import (
	"context"
	"errors"
	"testing"

	"github.com/sofaltaapipoca/pipoca-broadcast/internal/domain"
)

func TestDiagnostics_Record(t *testing.T) {
	db := newServiceDB(t)
	d := &Diagnostics{DB: db}
	ctx := context.Background()

	d.Record(ctx, OpSendTest, map[string]any{"chat_id": "-1001"}, nil)
	d.Record(ctx, OpSendTest, nil, errors.New("Unauthorized"))

	items, total, err := d.ListPage(ctx, OpSendTest, 1, 10)
	if err != nil || total != 2 || len(items) != 2 {
		t.Fatalf("ListPage = %d items, total %d, %v", len(items), total, err)
	}
	if items[0].Success || items[0].Error == nil || *items[0].Error != "Unauthorized" {
		t.Fatalf("newest entry should be the failure: %+v", items[0])
	}
}

func TestDiagnostics_RecordNeverFails(t *testing.T) {
	var nilDiag *Diagnostics
	nilDiag.Record(context.Background(), OpSendTest, nil, nil)

	db := newServiceDB(t)
	if err := db.Migrator().DropTable(&domain.TelegramLog{}); err != nil {
		t.Fatalf("drop: %v", err)
	}
	d := &Diagnostics{DB: db}
	d.Record(context.Background(), OpRefreshDaily, nil, nil) // logged, not propagated
}

func TestDiagnostics_RecordOnCanceledContext(t *testing.T) {
	db := newServiceDB(t)
	d := &Diagnostics{DB: db}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Record(ctx, OpRefreshDaily, nil, context.Canceled)

	var n int64
	db.Model(&domain.TelegramLog{}).Count(&n)
	if n != 1 {
		t.Fatalf("entry should be written despite canceled ctx, got %d", n)
	}
}

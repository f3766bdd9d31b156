package telegram

import (
	"strings"
	"testing"
	"time"

	"github.com/sofaltaapipoca/pipoca-broadcast/internal/domain"
)

func TestFormatSubscription_FieldsInOrder(t *testing.T) {
	s := domain.Subscription{
		Title:         "Netflix Premium 4K",
		Price:         "R$ 15,00",
		PaymentMethod: "PIX",
		Status:        "DISPONÍVEL",
		AccessMethod:  "Convite por e-mail",
		Icon:          "streaming",
		AddedDate:     "01/05/2025",
	}
	msg := FormatSubscription(s)

	if !strings.HasPrefix(msg.Text, "🎬 <b>Netflix Premium 4K</b>") {
		t.Fatalf("unexpected heading: %q", msg.Text)
	}
	order := []string{"R$ 15,00", "PIX", "Disponível", "Convite por e-mail", "Adicionado em 01/05/2025"}
	last := -1
	for _, part := range order {
		i := strings.Index(msg.Text, part)
		if i < 0 {
			t.Fatalf("text missing %q:\n%s", part, msg.Text)
		}
		if i < last {
			t.Fatalf("%q out of order:\n%s", part, msg.Text)
		}
		last = i
	}
	if len(msg.Buttons) != 0 {
		t.Fatalf("expected no buttons, got %+v", msg.Buttons)
	}
}

func TestFormatSubscription_EscapesHTML(t *testing.T) {
	msg := FormatSubscription(domain.Subscription{Title: "<Max> & HBO", Price: "R$ <10>"})
	if !strings.Contains(msg.Text, "&lt;Max&gt; &amp; HBO") || !strings.Contains(msg.Text, "R$ &lt;10&gt;") {
		t.Fatalf("fields not escaped: %q", msg.Text)
	}
	if strings.Contains(msg.Text, "Adicionado em") {
		t.Fatalf("trailer must be omitted without an added date")
	}
}

func TestFormatSubscription_ButtonsIffHandles(t *testing.T) {
	cases := []struct {
		name     string
		tg, wa   string
		wantURLs []string
	}{
		{"none", "", "  ", nil},
		{"telegram only", "@vendedor", "", []string{"https://t.me/vendedor"}},
		{"whatsapp only", "", "+55 (11) 98888-7777", []string{"https://wa.me/5511988887777"}},
		{"both", "vendedor", "5511999990000", []string{"https://t.me/vendedor", "https://wa.me/5511999990000"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg := FormatSubscription(domain.Subscription{Title: "T", Price: "P", TelegramUsername: tc.tg, WhatsappNumber: tc.wa})
			if len(msg.Buttons) != len(tc.wantURLs) {
				t.Fatalf("got %d buttons, want %d", len(msg.Buttons), len(tc.wantURLs))
			}
			for i, u := range tc.wantURLs {
				if msg.Buttons[i].URL != u {
					t.Fatalf("button %d url = %q; want %q", i, msg.Buttons[i].URL, u)
				}
			}
		})
	}
}

func TestFormatSubscription_AlwaysHasTitleAndPrice(t *testing.T) {
	for _, s := range []domain.Subscription{
		{Title: "Spotify", Price: "R$ 5"},
		{Title: "YouTube Premium", Price: "grátis", Status: "", Icon: "unknown"},
		{Title: "Disney+", Price: "R$ 9,90", TelegramUsername: "@a", WhatsappNumber: "1"},
	} {
		msg := FormatSubscription(s)
		if !strings.Contains(msg.Text, s.Title) || !strings.Contains(msg.Text, s.Price) {
			t.Fatalf("title/price missing for %+v: %q", s, msg.Text)
		}
	}
}

func TestIconFor(t *testing.T) {
	if IconFor("Music") != "🎵" {
		t.Fatalf("icon lookup should be case-insensitive")
	}
	if IconFor("") != defaultIcon || IconFor("zzz") != defaultIcon {
		t.Fatalf("unknown tags should use the default icon")
	}
}

func TestFormatTestMessage(t *testing.T) {
	now := time.Date(2025, 7, 3, 14, 5, 9, 0, time.UTC)
	got := FormatTestMessage(now)
	if !strings.Contains(got, "03/07/2025 14:05:09") || !strings.Contains(got, "<b>") {
		t.Fatalf("unexpected test message: %q", got)
	}
}

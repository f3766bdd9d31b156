package telegram

import (
	"html"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sofaltaapipoca/pipoca-broadcast/internal/domain"
)

// Button is a single inline-keyboard URL button. Each button is rendered on
// its own row.
type Button struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

// Message is a formatted channel post: HTML text plus contact buttons.
type Message struct {
	Text    string
	Buttons []Button
}

const defaultIcon = "📺"

var icons = map[string]string{
	"streaming": "🎬",
	"music":     "🎵",
	"games":     "🎮",
	"software":  "💻",
	"education": "📚",
	"vpn":       "🔒",
	"cloud":     "☁️",
	"ai":        "🤖",
	"sports":    "⚽",
	"reading":   "📖",
}

var statusCaser = cases.Title(language.BrazilianPortuguese)

// IconFor maps an icon tag to its emoji, falling back to a generic TV.
func IconFor(tag string) string {
	if e, ok := icons[strings.ToLower(strings.TrimSpace(tag))]; ok {
		return e
	}
	return defaultIcon
}

// FormatSubscription renders a listing as an HTML post. Every listing field
// is escaped. A Telegram button is added when the listing has a Telegram
// handle and a WhatsApp button when it has a WhatsApp number.
func FormatSubscription(s domain.Subscription) Message {
	var b strings.Builder
	b.WriteString(IconFor(s.Icon))
	b.WriteString(" <b>")
	b.WriteString(html.EscapeString(strings.TrimSpace(s.Title)))
	b.WriteString("</b>\n\n")

	line(&b, "💰", "Preço", s.Price)
	line(&b, "💳", "Pagamento", s.PaymentMethod)
	line(&b, "📊", "Status", statusCaser.String(strings.ToLower(strings.TrimSpace(s.Status))))
	line(&b, "🔑", "Acesso", s.AccessMethod)

	if d := strings.TrimSpace(s.AddedDate); d != "" {
		b.WriteString("\n📅 Adicionado em ")
		b.WriteString(html.EscapeString(d))
	}

	return Message{
		Text:    strings.TrimRight(b.String(), "\n"),
		Buttons: contactButtons(s),
	}
}

func line(b *strings.Builder, icon, label, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		value = "-"
	}
	b.WriteString(icon)
	b.WriteString(" <b>")
	b.WriteString(label)
	b.WriteString(":</b> ")
	b.WriteString(html.EscapeString(value))
	b.WriteString("\n")
}

func contactButtons(s domain.Subscription) []Button {
	var out []Button
	if h := strings.TrimSpace(s.TelegramUsername); h != "" {
		out = append(out, Button{Text: "💬 Telegram", URL: "https://t.me/" + strings.TrimPrefix(h, "@")})
	}
	if n := strings.TrimSpace(s.WhatsappNumber); n != "" {
		out = append(out, Button{Text: "📱 WhatsApp", URL: "https://wa.me/" + digitsOnly(n)})
	}
	return out
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// FormatTestMessage is the body posted by the integration test action.
func FormatTestMessage(now time.Time) string {
	return "✅ <b>Teste de integração</b>\n\n" +
		"O bot do Só Falta a Pipoca está configurado corretamente.\n" +
		"🕒 " + now.Format("02/01/2006 15:04:05")
}

// Package notify reports run milestones (a completed group, a browser
// restart, a fatal error) to the operator.
package notify

import (
	"context"
	"fmt"
	"html"
	"time"

	"go.uber.org/multierr"
	tele "gopkg.in/telebot.v4"

	. "github.com/Franzelswarnmps/R-AutoBuy/internal/logging"
)

// Kind is the milestone an Event reports.
type Kind string

const (
	KindCompleted Kind = "completed"
	KindRestart   Kind = "restart"
	KindFatal     Kind = "fatal"
)

// Event is one notification.
type Event struct {
	Kind    Kind
	RunID   string
	Group   string
	Message string
	At      time.Time
}

// Notifier delivers events.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Multi delivers to every notifier and reports all failures.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, ev Event) error {
	var err error
	for _, n := range m {
		err = multierr.Append(err, n.Notify(ctx, ev))
	}
	return err
}

// Log writes events to the log.
type Log struct{}

func (Log) Notify(ctx context.Context, ev Event) error {
	L_info("notify: "+string(ev.Kind), "run_id", ev.RunID, "group", ev.Group, "message", ev.Message)
	return nil
}

// Telegram sends events to one chat through the Bot API.
type Telegram struct {
	bot  *tele.Bot
	chat tele.ChatID
}

// NewTelegram creates a send-only bot; it does not poll for updates.
// apiURL overrides the Bot API endpoint when not empty.
func NewTelegram(token string, chatID int64, apiURL string) (*Telegram, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram bot token not configured")
	}

	pref := tele.Settings{
		Token:   token,
		URL:     apiURL,
		Offline: true,
	}
	bot, err := tele.NewBot(pref)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	L_debug("notify: telegram ready", "chat", chatID)
	return &Telegram{bot: bot, chat: tele.ChatID(chatID)}, nil
}

func (t *Telegram) Notify(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := t.bot.Send(t.chat, FormatHTML(ev), &tele.SendOptions{ParseMode: tele.ModeHTML}); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	return nil
}

// FormatHTML renders ev in Telegram's HTML subset.
func FormatHTML(ev Event) string {
	title := map[Kind]string{
		KindCompleted: "✅ Completed",
		KindRestart:   "🔄 Browser restart",
		KindFatal:     "❌ Stopped",
	}[ev.Kind]
	if title == "" {
		title = string(ev.Kind)
	}

	msg := "<b>autobuy: " + html.EscapeString(title) + "</b>"
	if ev.Group != "" {
		msg += "\ngroup: <code>" + html.EscapeString(ev.Group) + "</code>"
	}
	if ev.Message != "" {
		msg += "\n" + html.EscapeString(ev.Message)
	}
	if !ev.At.IsZero() {
		msg += "\n<i>" + ev.At.Format("2006-01-02 15:04:05") + "</i>"
	}
	return msg
}

package notify

import (
	"context"
	"fmt"
	"strings"

	tele "gopkg.in/telebot.v4"
)

type TelegramConfig struct {
	Token  string
	ChatID int64
}

// TelegramSink delivers to a single chat. Telegram has no priority field,
// so urgency is folded into a text prefix.
type TelegramSink struct {
	bot  *tele.Bot
	chat tele.ChatID
}

func NewTelegramSink(cfg TelegramConfig) (*TelegramSink, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("telegram: token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, fmt.Errorf("telegram: chat_id is empty")
	}
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return &TelegramSink{bot: b, chat: tele.ChatID(cfg.ChatID)}, nil
}

func (s *TelegramSink) Name() string { return "telegram" }

func (s *TelegramSink) Send(ctx context.Context, m Message) error {
	text := m.Body
	if m.Title != "" {
		text = m.Title + "\n" + text
	}
	text = priorityPrefix(m.Priority) + text

	done := make(chan error, 1)
	go func() {
		_, err := s.bot.Send(s.chat, text, &tele.SendOptions{DisableWebPagePreview: true})
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func priorityPrefix(p string) string {
	switch p {
	case "urgent":
		return "🚨 "
	case "high":
		return "⚠️ "
	default:
		return ""
	}
}

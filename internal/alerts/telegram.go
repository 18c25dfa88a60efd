package alerts

import (
	"context"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const maxTelegramMessage = 4096

type messageSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier posts alerts to an operator chat.
type TelegramNotifier struct {
	bot    messageSender
	chatID int64
	log    *slog.Logger
}

func NewTelegramNotifier(token string, chatID int64, log *slog.Logger) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("init telegram bot: %w", err)
	}
	log.Info("telegram alerts enabled", "bot", bot.Self.UserName, "chat_id", chatID)
	return &TelegramNotifier{bot: bot, chatID: chatID, log: log}, nil
}

func (n *TelegramNotifier) Notify(_ context.Context, title, body string) error {
	text := fmt.Sprintf("⚠️ %s\n\n%s", title, body)
	if r := []rune(text); len(r) > maxTelegramMessage {
		text = string(r[:maxTelegramMessage-1]) + "…"
	}
	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := n.bot.Send(msg); err != nil {
		return fmt.Errorf("send telegram alert: %w", err)
	}
	return nil
}

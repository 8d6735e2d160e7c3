package alert

import (
	"context"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type TelegramNotifier struct {
	chatID int64
	bot    *tgbotapi.BotAPI
}

func NewTelegramNotifier(botToken string, chatID int64) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, err
	}
	return &TelegramNotifier{chatID: chatID, bot: bot}, nil
}

func (t *TelegramNotifier) Name() string {
	return "telegram"
}

func (t *TelegramNotifier) Notify(_ context.Context, message string) {
	msg := tgbotapi.NewMessage(t.chatID, message)
	if _, err := t.bot.Send(msg); err != nil {
		slog.Error("Failed to send Telegram alert", "chat_id", t.chatID, "error", err)
		return
	}
	slog.Debug("Telegram alert sent", "chat_id", t.chatID)
}

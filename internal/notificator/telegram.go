package notificator

import (
	"context"
	"fmt"

	"github.com/go-telegram/bot"
	tgModels "github.com/go-telegram/bot/models"

	"github.com/thousandfans/fanclub/internal/models"
	"github.com/thousandfans/fanclub/pkg/logger"
)

// TelegramNotificator posts alerts to the operator chat.
type TelegramNotificator struct {
	logger *logger.Logger
	bot    *bot.Bot
	chatID string
}

func NewTelegramNotificator(logger *logger.Logger, token, chatID string, opts ...bot.Option) (*TelegramNotificator, error) {
	provider := &TelegramNotificator{
		logger: logger,
		chatID: chatID,
	}
	opts = append([]bot.Option{bot.WithDefaultHandler(provider.handler)}, opts...)

	b, err := bot.New(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	provider.bot = b
	return provider, nil
}

// Start polls for updates until ctx is done.
func (t *TelegramNotificator) Start(ctx context.Context) {
	t.bot.Start(ctx)
}

func (t *TelegramNotificator) SendAlert(ctx context.Context, alert *models.Alert) error {
	if t.chatID == "" {
		return models.MissingSetting("TELEGRAM_ALERT_CHAT_ID")
	}
	_, err := t.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: t.chatID,
		Text:   alert.String(),
	})
	if err != nil {
		return fmt.Errorf("failed to send telegram alert: %w", err)
	}
	return nil
}

// handler answers /start with the chat id so operators can set TELEGRAM_ALERT_CHAT_ID.
func (t *TelegramNotificator) handler(ctx context.Context, b *bot.Bot, update *tgModels.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}
	t.logger.Debug("Telegram update", "username", update.Message.From.Username, "text", update.Message.Text)
	if update.Message.Text != "/start" {
		return
	}
	chatID := fmt.Sprint(update.Message.Chat.ID)
	_, err := b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   "Alert chat id: " + chatID,
	})
	if err != nil {
		t.logger.Error("Failed to answer /start", "error", err)
	}
}

package notificator

import (
	"context"
	"runtime/debug"

	"github.com/thousandfans/fanclub/internal/models"
	"github.com/thousandfans/fanclub/pkg/logger"
)

// Notificator fans operator alerts out to every configured channel. Either channel may be nil.
type Notificator struct {
	logger *logger.Logger

	TelegramNotificator *TelegramNotificator
	EmailNotificator    *EmailNotificator
}

func NewNotificator(logger *logger.Logger, telNotif *TelegramNotificator, emailNotif *EmailNotificator) *Notificator {
	return &Notificator{logger: logger, TelegramNotificator: telNotif, EmailNotificator: emailNotif}
}

// safeCall runs a function with panic recovery (synchronous, no goroutine spawning)
func (n *Notificator) safeCall(fn func() error, context string) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("Function panicked",
				"context", context,
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()
	if err := fn(); err != nil {
		n.logger.Error("Failed to send alert", "context", context, "error", err)
	}
}

func (n *Notificator) SendAlert(ctx context.Context, alert *models.Alert) {
	if n.TelegramNotificator == nil && n.EmailNotificator == nil {
		n.logger.Warn("No alert channel configured", "subject", alert.Subject, "message", alert.Message)
		return
	}
	if n.TelegramNotificator != nil {
		n.safeCall(func() error { return n.TelegramNotificator.SendAlert(ctx, alert) }, "telegramAlert")
	}
	if n.EmailNotificator != nil {
		n.safeCall(func() error { return n.EmailNotificator.SendAlert(alert) }, "emailAlert")
	}
}

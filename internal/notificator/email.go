package notificator

import (
	"fmt"
	"net/smtp"
	"strconv"

	"github.com/thousandfans/fanclub/internal/models"
	"github.com/thousandfans/fanclub/pkg/logger"
)

type EmailNotificator struct {
	logger *logger.Logger

	SMTPHost   string
	SMTPPort   int
	SMTPSender string
	To         string

	SMTPAuth smtp.Auth

	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewEmailNotificator(logger *logger.Logger, SMTPHost string, SMTPPort int, SMTPUser, SMTPPassword, SMTPSender, to string) *EmailNotificator {
	auth := smtp.PlainAuth(
		"",
		SMTPUser,
		SMTPPassword,
		SMTPHost,
	)

	return &EmailNotificator{
		logger:     logger,
		SMTPAuth:   auth,
		SMTPHost:   SMTPHost,
		SMTPPort:   SMTPPort,
		SMTPSender: SMTPSender,
		To:         to,
		sendMail:   smtp.SendMail,
	}
}

func (e *EmailNotificator) SendAlert(alert *models.Alert) error {
	addr := fmt.Sprintf("%s:%s", e.SMTPHost, strconv.Itoa(e.SMTPPort))
	msg := fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: [fanclub] %s\r\n\r\n%s",
		e.SMTPSender,
		e.To,
		alert.Subject,
		alert.Message,
	)
	if err := e.sendMail(addr, e.SMTPAuth, e.SMTPSender, []string{e.To}, []byte(msg)); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

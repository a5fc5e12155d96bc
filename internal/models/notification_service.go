package models

import "context"

// Alert is an operator notification.
type Alert struct {
	Subject string
	Message string
}

func (a *Alert) String() string {
	return a.Subject + "\n\n" + a.Message
}

type NotificationService interface {
	SendAlert(ctx context.Context, alert *Alert)
}

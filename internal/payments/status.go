package payments

import (
	"strings"

	"github.com/thousandfans/fanclub/internal/models"
)

// StripeReferencePrefix marks on-ramp session ids. Every other reference is a Circle payment.
const StripeReferencePrefix = "cos_"

func IsOnrampReference(reference string) bool {
	return strings.HasPrefix(reference, StripeReferencePrefix)
}

// CirclePaymentStatus maps a Circle payment status onto the stored status.
func CirclePaymentStatus(status string) models.PaymentStatus {
	switch strings.ToLower(status) {
	case "confirmed", "paid":
		return models.PaymentConfirmed
	case "failed":
		return models.PaymentFailed
	case "canceled", "cancelled":
		return models.PaymentCancelled
	case "expired":
		return models.PaymentExpired
	}
	// pending and action_required
	return models.PaymentPending
}

// OnrampStatus maps a Stripe on-ramp session status onto the stored status.
func OnrampStatus(status string) models.PaymentStatus {
	switch strings.ToLower(status) {
	case "fulfillment_complete":
		return models.PaymentFulfillmentComplete
	case "rejected", "canceled", "cancelled":
		return models.PaymentCancelled
	case "expired":
		return models.PaymentExpired
	}
	// initialized, requires_payment and fulfillment_processing
	return models.PaymentPending
}

// Recipient and transfer statuses reported by Circle.
const (
	RecipientActive  = "active"
	TransferPending  = "pending"
	TransferComplete = "complete"
)

package models

import "time"

type PaymentStatus string

const (
	PaymentPending             PaymentStatus = "pending"
	PaymentConfirmed           PaymentStatus = "confirmed"
	PaymentCancelled           PaymentStatus = "cancelled"
	PaymentExpired             PaymentStatus = "expired"
	PaymentFailed              PaymentStatus = "failed"
	PaymentFulfillmentComplete PaymentStatus = "fulfillment_complete"
)

// IsTerminalFailure reports whether the payment can never complete.
func (s PaymentStatus) IsTerminalFailure() bool {
	return s == PaymentCancelled || s == PaymentExpired || s == PaymentFailed
}

// IsSettled reports whether funds were received.
func (s PaymentStatus) IsSettled() bool {
	return s == PaymentConfirmed || s == PaymentFulfillmentComplete
}

const (
	ProviderCircle = "circle"
	ProviderStripe = "stripe"
)

// Payment is a card payment or on-ramp session record.
type Payment struct {
	ID int64 `json:"-" gorm:"column:id;primaryKey;autoIncrement"`
	// Reference is the provider's payment id or on-ramp session id.
	Reference string `json:"paymentId" gorm:"column:reference;uniqueIndex;not null"`
	// Provider is "circle" or "stripe".
	Provider  string `json:"provider" gorm:"column:provider;not null"`
	AccountID string `json:"accountId" gorm:"column:account_id;index"`
	Email     string `json:"email,omitempty" gorm:"column:email"`
	PublicKey string `json:"publicKey,omitempty" gorm:"column:public_key"`
	// Amount is in USD.
	Amount float64       `json:"amount" gorm:"column:amount"`
	Status PaymentStatus `json:"status" gorm:"column:status;index"`
	// ProviderStatus is the raw status string last reported by the provider.
	ProviderStatus     string    `json:"providerStatus,omitempty" gorm:"column:provider_status"`
	PayoutStatus       string    `json:"payoutStatus,omitempty" gorm:"column:payout_status"`
	DestinationAddress string    `json:"destinationAddress,omitempty" gorm:"column:destination_address"`
	TransferID         string    `json:"transferId,omitempty" gorm:"column:transfer_id"`
	CreatedAt          time.Time `json:"createdAt" gorm:"column:created_at"`
	UpdatedAt          time.Time `json:"updatedAt" gorm:"column:updated_at"`
}

// PaymentUpdate is a provider-reported status change.
type PaymentUpdate struct {
	Reference      string
	Status         PaymentStatus
	ProviderStatus string
}

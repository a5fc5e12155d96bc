package models

import "context"

// AccountCheck is the result of an identity lookup.
type AccountCheck struct {
	Exists        bool   `json:"exists"`
	AccountID     string `json:"accountId,omitempty"`
	TokenID       string `json:"tokenId,omitempty"`
	IsGroupMember bool   `json:"isGroupMember,omitempty"`
}

type ProvisionRequest struct {
	AccountID string
	PublicKey string
	Email     string
	PaymentID string
	Amount    float64
}

type ProvisionResult struct {
	RunID     string `json:"-"`
	AccountID string `json:"accountId"`
	TokenID   string `json:"tokenId"`
}

type MembershipStatus struct {
	AccountID     string `json:"accountId"`
	OwnsToken     bool   `json:"ownsToken"`
	TokenID       string `json:"tokenId,omitempty"`
	IsGroupMember bool   `json:"isGroupMember"`
}

// ContentChallenge is a single-use nonce the caller signs with a full access key
// of its account before gated content is released.
type ContentChallenge struct {
	AccountID string `json:"accountId"`
	Nonce     string `json:"nonce"`
	Message   string `json:"message"`
	ExpiresAt int64  `json:"expiresAt"`
}

// ContentRequest asks for one gated object. Signature is the base64 ed25519
// signature of the challenge message made with PublicKey.
type ContentRequest struct {
	AccountID string
	PublicKey string
	Nonce     string
	Signature string
	Key       string
}

type OnrampSessionRequest struct {
	AccountID          string
	Email              string
	Amount             float64
	DestinationAddress string
	CustomerIP         string
}

type CardCheckoutRequest struct {
	AccountID      string
	PublicKey      string
	Email          string
	Amount         float64
	CardNumber     string
	Expiry         string
	CVV            string
	IdempotencyKey string
}

type SweepRequest struct {
	PaymentID          string
	Amount             float64
	DestinationAddress string
	IdempotencyKey     string
}

// FanclubI is the business logic behind the HTTP API.
type FanclubI interface {
	Start()
	Stop()

	CheckForAccount(ctx context.Context, q AccountQuery) (*AccountCheck, error)
	CreateWalletUser(ctx context.Context, accountID, email string) (*Account, bool, error)
	ProvisionAccount(ctx context.Context, req ProvisionRequest) (*ProvisionResult, error)
	Membership(ctx context.Context, accountID string) *MembershipStatus
	ContentChallenge(ctx context.Context, accountID string) (*ContentChallenge, error)
	ContentURL(ctx context.Context, req ContentRequest) (string, error)

	CreateOnrampSession(ctx context.Context, req OnrampSessionRequest) (*OnrampSession, error)
	RefreshOnrampSession(ctx context.Context, sessionID string) (*Payment, error)
	CreateCardPayment(ctx context.Context, req CardCheckoutRequest) (*Payment, error)
	ProcessPayment(ctx context.Context, req CardCheckoutRequest) (*Payment, error)
	RefreshPayment(ctx context.Context, paymentID string) (*Payment, error)
	TransferUSDC(ctx context.Context, req SweepRequest) (string, error)
	HandlePaymentNotification(ctx context.Context, keyID, signature string, body []byte) error
}

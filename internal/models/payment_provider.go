package models

import "context"

// Money is a provider amount. Amount is a decimal string such as "10.00".
type Money struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

type CardRequest struct {
	IdempotencyKey string
	Number         string
	CVV            string
	ExpMonth       int
	ExpYear        int
	Email          string
}

type CardPaymentRequest struct {
	IdempotencyKey string
	CardID         string
	Amount         Money
	Email          string
	Description    string
}

// ProviderPayment is the provider's view of a payment or card.
type ProviderPayment struct {
	ID     string
	Status string
	Amount Money
}

type Recipient struct {
	ID      string
	Status  string
	Address string
}

type TransferRequest struct {
	IdempotencyKey string
	WalletID       string
	RecipientID    string
	Amount         Money
}

type Transfer struct {
	ID     string
	Status string
}

// CardProcessor is the card and stablecoin rail.
type CardProcessor interface {
	CreateCard(ctx context.Context, req CardRequest) (*ProviderPayment, error)
	CreatePayment(ctx context.Context, req CardPaymentRequest) (*ProviderPayment, error)
	GetPayment(ctx context.Context, id string) (*ProviderPayment, error)
	CreateRecipient(ctx context.Context, idempotencyKey, chain, address, email string) (*Recipient, error)
	GetRecipient(ctx context.Context, id string) (*Recipient, error)
	MasterWalletID(ctx context.Context) (string, error)
	CreateTransfer(ctx context.Context, req TransferRequest) (*Transfer, error)
	GetTransfer(ctx context.Context, id string) (*Transfer, error)
	// NotificationPublicKey returns the base64 DER public key used to sign webhooks.
	NotificationPublicKey(ctx context.Context, keyID string) (string, error)
}

type OnrampRequest struct {
	DestinationAddress  string
	DestinationNetwork  string
	DestinationCurrency string
	Amount              string
	Email               string
	CustomerIP          string
}

type OnrampSession struct {
	ID           string `json:"sessionId"`
	ClientSecret string `json:"clientSecret,omitempty"`
	Status       string `json:"status"`
}

type OnrampProvider interface {
	CreateOnrampSession(ctx context.Context, req OnrampRequest) (*OnrampSession, error)
	GetOnrampSession(ctx context.Context, id string) (*OnrampSession, error)
}

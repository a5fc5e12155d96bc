package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/thousandfans/fanclub/internal/models"
	"github.com/thousandfans/fanclub/pkg/logger"
)

// Circle is a client for the Circle payments API.
type Circle struct {
	logger  *logger.Logger
	apiKey  string
	baseURL string
	client  *http.Client

	// Webhook signing keys never change for a key id.
	keyMu sync.RWMutex
	keys  map[string]string
}

func NewCircle(apiKey, baseURL string, logger *logger.Logger) *Circle {
	return &Circle{
		logger:  logger,
		apiKey:  apiKey,
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		keys: make(map[string]string),
	}
}

type circleEnvelope struct {
	Data json.RawMessage `json:"data"`
}

// CircleError is a non-2xx answer from Circle.
type CircleError struct {
	StatusCode int
	Code       int    `json:"code"`
	Message    string `json:"message"`
}

func (e *CircleError) Error() string {
	return fmt.Sprintf("circle error %d: %s", e.StatusCode, e.Message)
}

func (c *Circle) do(ctx context.Context, method, path string, body, out interface{}) error {
	if c.apiKey == "" {
		return models.MissingSetting("CIRCLE_API_KEY")
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("circle request %s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read circle response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		circleErr := &CircleError{StatusCode: resp.StatusCode}
		if json.Unmarshal(raw, circleErr) != nil || circleErr.Message == "" {
			circleErr.Message = string(raw)
		}
		return circleErr
	}

	var envelope circleEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("failed to decode circle response: %w", err)
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("failed to decode circle data: %w", err)
	}
	return nil
}

type circleObject struct {
	ID      string       `json:"id"`
	Status  string       `json:"status"`
	Amount  models.Money `json:"amount"`
	Address string       `json:"address"`
}

func (c *Circle) CreateCard(ctx context.Context, req models.CardRequest) (*models.ProviderPayment, error) {
	body := map[string]interface{}{
		"idempotencyKey": req.IdempotencyKey,
		"expMonth":       req.ExpMonth,
		"expYear":        req.ExpYear,
		"billingDetails": map[string]string{"email": req.Email},
		"metadata": map[string]string{
			"email":     req.Email,
			"sessionId": req.IdempotencyKey,
		},
		"encryptedData": map[string]string{
			"number": req.Number,
			"cvv":    req.CVV,
		},
	}
	var card circleObject
	if err := c.do(ctx, http.MethodPost, "/v1/cards", body, &card); err != nil {
		return nil, fmt.Errorf("failed to create card: %w", err)
	}
	return &models.ProviderPayment{ID: card.ID, Status: card.Status}, nil
}

func (c *Circle) CreatePayment(ctx context.Context, req models.CardPaymentRequest) (*models.ProviderPayment, error) {
	body := map[string]interface{}{
		"idempotencyKey": req.IdempotencyKey,
		"amount":         req.Amount,
		"source":         map[string]string{"id": req.CardID, "type": "card"},
		"description":    req.Description,
		"metadata": map[string]string{
			"email":     req.Email,
			"sessionId": req.IdempotencyKey,
		},
		"verification": "none",
	}
	var payment circleObject
	if err := c.do(ctx, http.MethodPost, "/v1/payments", body, &payment); err != nil {
		return nil, fmt.Errorf("failed to create payment: %w", err)
	}
	return &models.ProviderPayment{ID: payment.ID, Status: payment.Status, Amount: payment.Amount}, nil
}

func (c *Circle) GetPayment(ctx context.Context, id string) (*models.ProviderPayment, error) {
	var payment circleObject
	if err := c.do(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(id), nil, &payment); err != nil {
		return nil, fmt.Errorf("failed to get payment %s: %w", id, err)
	}
	return &models.ProviderPayment{ID: payment.ID, Status: payment.Status, Amount: payment.Amount}, nil
}

func (c *Circle) CreateRecipient(ctx context.Context, idempotencyKey, chain, address, email string) (*models.Recipient, error) {
	body := map[string]interface{}{
		"idempotencyKey": idempotencyKey,
		"chain":          chain,
		"address":        address,
		"metadata": map[string]string{
			"email":    email,
			"nickname": "treasury",
		},
	}
	var recipient circleObject
	if err := c.do(ctx, http.MethodPost, "/v1/addressBook/recipients", body, &recipient); err != nil {
		return nil, fmt.Errorf("failed to create recipient: %w", err)
	}
	return &models.Recipient{ID: recipient.ID, Status: recipient.Status, Address: recipient.Address}, nil
}

func (c *Circle) GetRecipient(ctx context.Context, id string) (*models.Recipient, error) {
	var recipient circleObject
	if err := c.do(ctx, http.MethodGet, "/v1/addressBook/recipients/"+url.PathEscape(id), nil, &recipient); err != nil {
		return nil, fmt.Errorf("failed to get recipient %s: %w", id, err)
	}
	return &models.Recipient{ID: recipient.ID, Status: recipient.Status, Address: recipient.Address}, nil
}

func (c *Circle) MasterWalletID(ctx context.Context) (string, error) {
	var cfg struct {
		Payments struct {
			MasterWalletID string `json:"masterWalletId"`
		} `json:"payments"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/configuration", nil, &cfg); err != nil {
		return "", fmt.Errorf("failed to get configuration: %w", err)
	}
	if cfg.Payments.MasterWalletID == "" {
		return "", fmt.Errorf("circle configuration has no master wallet")
	}
	return cfg.Payments.MasterWalletID, nil
}

func (c *Circle) CreateTransfer(ctx context.Context, req models.TransferRequest) (*models.Transfer, error) {
	body := map[string]interface{}{
		"idempotencyKey": req.IdempotencyKey,
		"source":         map[string]string{"type": "wallet", "id": req.WalletID},
		"destination":    map[string]string{"type": "address_book", "id": req.RecipientID},
		"amount":         req.Amount,
	}
	var transfer circleObject
	if err := c.do(ctx, http.MethodPost, "/v1/transfers", body, &transfer); err != nil {
		return nil, fmt.Errorf("failed to create transfer: %w", err)
	}
	return &models.Transfer{ID: transfer.ID, Status: transfer.Status}, nil
}

func (c *Circle) GetTransfer(ctx context.Context, id string) (*models.Transfer, error) {
	var transfer circleObject
	if err := c.do(ctx, http.MethodGet, "/v1/transfers/"+url.PathEscape(id), nil, &transfer); err != nil {
		return nil, fmt.Errorf("failed to get transfer %s: %w", id, err)
	}
	return &models.Transfer{ID: transfer.ID, Status: transfer.Status}, nil
}

func (c *Circle) NotificationPublicKey(ctx context.Context, keyID string) (string, error) {
	c.keyMu.RLock()
	key, ok := c.keys[keyID]
	c.keyMu.RUnlock()
	if ok {
		return key, nil
	}

	var resp struct {
		ID        string `json:"id"`
		Algorithm string `json:"algorithm"`
		PublicKey string `json:"publicKey"`
	}
	if err := c.do(ctx, http.MethodGet, "/v2/notifications/publicKey/"+url.PathEscape(keyID), nil, &resp); err != nil {
		return "", fmt.Errorf("failed to get notification public key %s: %w", keyID, err)
	}

	c.keyMu.Lock()
	c.keys[keyID] = resp.PublicKey
	c.keyMu.Unlock()
	return resp.PublicKey, nil
}

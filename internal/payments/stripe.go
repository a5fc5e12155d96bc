package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/thousandfans/fanclub/internal/models"
	"github.com/thousandfans/fanclub/pkg/logger"
)

const unsupportedRegionMessage = "Crypto purchases are not available in your region. Please try another payment method."

// Stripe is a client for the Stripe crypto on-ramp API.
type Stripe struct {
	logger    *logger.Logger
	secretKey string
	baseURL   string
	client    *http.Client
}

func NewStripe(secretKey, baseURL string, logger *logger.Logger) *Stripe {
	return &Stripe{
		logger:    logger,
		secretKey: secretKey,
		baseURL:   baseURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// StripeError is a Stripe API error object.
type StripeError struct {
	StatusCode int
	Type       string `json:"type"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *StripeError) Error() string {
	if e.Code == "crypto_onramp_unsupported_country" || e.Code == "crypto_onramp_unsupportable_customer" {
		return unsupportedRegionMessage
	}
	return fmt.Sprintf("stripe error %d: %s", e.StatusCode, e.Message)
}

type onrampSession struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"`
}

// CreateOnrampSession starts an on-ramp session delivering the purchased currency
// to the destination wallet.
func (s *Stripe) CreateOnrampSession(ctx context.Context, req models.OnrampRequest) (*models.OnrampSession, error) {
	if err := checkCustomerIP(req.CustomerIP); err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("customer_ip_address", req.CustomerIP)
	form.Set("wallet_addresses["+req.DestinationNetwork+"]", req.DestinationAddress)
	form.Set("destination_currencies[]", req.DestinationCurrency)
	form.Set("destination_networks[]", req.DestinationNetwork)
	form.Set("destination_currency", req.DestinationCurrency)
	form.Set("destination_network", req.DestinationNetwork)
	form.Set("source_currency", "usd")
	form.Set("source_amount", req.Amount)
	form.Set("lock_wallet_address", "true")
	if req.Email != "" {
		form.Set("customer_information[email]", req.Email)
	}

	var session onrampSession
	if err := s.do(ctx, http.MethodPost, "/v1/crypto/onramp_sessions", form, &session); err != nil {
		return nil, fmt.Errorf("failed to create onramp session: %w", err)
	}
	s.logger.Info("Onramp session created", "session", session.ID, "status", session.Status)
	return &models.OnrampSession{ID: session.ID, ClientSecret: session.ClientSecret, Status: session.Status}, nil
}

func (s *Stripe) GetOnrampSession(ctx context.Context, id string) (*models.OnrampSession, error) {
	var session onrampSession
	if err := s.do(ctx, http.MethodGet, "/v1/crypto/onramp_sessions/"+url.PathEscape(id), nil, &session); err != nil {
		return nil, fmt.Errorf("failed to get onramp session %s: %w", id, err)
	}
	return &models.OnrampSession{ID: session.ID, Status: session.Status}, nil
}

// checkCustomerIP rejects addresses Stripe would refuse to geolocate.
func checkCustomerIP(ip string) error {
	switch strings.TrimSpace(ip) {
	case "", "unknown", "::1", "127.0.0.1":
		return fmt.Errorf("customer IP address is required, got %q", ip)
	}
	return nil
}

func (s *Stripe) do(ctx context.Context, method, path string, form url.Values, out interface{}) error {
	if s.secretKey == "" {
		return models.MissingSetting("STRIPE_SECRET_KEY")
	}

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.secretKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("stripe request %s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read stripe response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var wrapper struct {
			Error *StripeError `json:"error"`
		}
		if json.Unmarshal(raw, &wrapper) == nil && wrapper.Error != nil {
			wrapper.Error.StatusCode = resp.StatusCode
			return wrapper.Error
		}
		return &StripeError{StatusCode: resp.StatusCode, Message: string(raw)}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode stripe response: %w", err)
	}
	return nil
}

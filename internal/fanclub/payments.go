package fanclub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/thousandfans/fanclub/internal/models"
	"github.com/thousandfans/fanclub/internal/payments"
	"github.com/thousandfans/fanclub/pkg/poll"
	"github.com/thousandfans/fanclub/pkg/validation"
)

const (
	onrampNetwork  = "near"
	onrampCurrency = "usdc"
	sweepChain     = "NEAR"
	sweepTimeout   = 3 * time.Minute
)

// idempotencyNamespace derives the per-step idempotency keys of one card checkout or sweep.
var idempotencyNamespace = uuid.MustParse("8c3f6a52-1d4e-4b7a-9f10-6e2b5d9c0a47")

func deriveKey(key, step string) string {
	return uuid.NewSHA1(idempotencyNamespace, []byte(key+":"+step)).String()
}

// CreateOnrampSession starts a Stripe crypto on-ramp session and records it as pending.
func (f *Fanclub) CreateOnrampSession(ctx context.Context, req models.OnrampSessionRequest) (*models.OnrampSession, error) {
	if err := validation.ValidateFundingAmount(req.Amount); err != nil {
		return nil, models.NewValidationError("%s", err)
	}
	if err := validation.ValidateEmail(req.Email); err != nil {
		return nil, models.NewValidationError("%s", err)
	}
	destination := req.DestinationAddress
	if destination == "" {
		destination = req.AccountID
	}
	if err := validation.ValidateNearAccountID(destination); err != nil {
		return nil, models.NewValidationError("invalid destination address: %s", destination)
	}

	session, err := f.onramp.CreateOnrampSession(ctx, models.OnrampRequest{
		DestinationAddress:  destination,
		DestinationNetwork:  onrampNetwork,
		DestinationCurrency: onrampCurrency,
		Amount:              formatUSD(req.Amount),
		Email:               req.Email,
		CustomerIP:          req.CustomerIP,
	})
	if err != nil {
		return nil, err
	}

	payment := &models.Payment{
		Reference:          session.ID,
		Provider:           models.ProviderStripe,
		AccountID:          req.AccountID,
		Email:              req.Email,
		Amount:             req.Amount,
		Status:             payments.OnrampStatus(session.Status),
		ProviderStatus:     session.Status,
		DestinationAddress: destination,
	}
	if err := f.repo.CreatePayment(ctx, payment); err != nil {
		return nil, err
	}
	f.metrics.RecordPaymentStatus(payment.Provider, string(payment.Status))
	return session, nil
}

// RefreshOnrampSession re-reads a session from Stripe and stores its status.
func (f *Fanclub) RefreshOnrampSession(ctx context.Context, sessionID string) (*models.Payment, error) {
	if !payments.IsOnrampReference(sessionID) {
		return nil, models.NewValidationError("invalid onramp session id: %s", sessionID)
	}
	session, err := f.onramp.GetOnrampSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return f.storeStatus(ctx, sessionID, models.ProviderStripe, payments.OnrampStatus(session.Status), session.Status)
}

// RefreshPayment re-reads a payment from its provider and stores its status.
func (f *Fanclub) RefreshPayment(ctx context.Context, paymentID string) (*models.Payment, error) {
	if paymentID == "" {
		return nil, models.NewValidationError("payment id is required")
	}
	if payments.IsOnrampReference(paymentID) {
		return f.RefreshOnrampSession(ctx, paymentID)
	}
	payment, err := f.cards.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	return f.storeStatus(ctx, paymentID, models.ProviderCircle, payments.CirclePaymentStatus(payment.Status), payment.Status)
}

func (f *Fanclub) storeStatus(ctx context.Context, reference, provider string, status models.PaymentStatus, providerStatus string) (*models.Payment, error) {
	payment, err := f.repo.GetPayment(ctx, reference)
	if errors.Is(err, models.ErrNotFound) {
		payment = &models.Payment{Reference: reference, Provider: provider}
	} else if err != nil {
		return nil, err
	}
	payment.Status = status
	payment.ProviderStatus = providerStatus
	payment.UpdatedAt = time.Now()
	if err := f.repo.UpsertPayment(ctx, payment); err != nil {
		return nil, err
	}
	f.metrics.RecordPaymentStatus(provider, string(status))
	return payment, nil
}

// CreateCardPayment charges a card and waits for the payment to settle.
func (f *Fanclub) CreateCardPayment(ctx context.Context, req models.CardCheckoutRequest) (*models.Payment, error) {
	payment, err := f.chargeCard(ctx, req)
	if err != nil {
		return nil, err
	}
	if payment.Status.IsSettled() {
		return payment, nil
	}

	err = poll.Until(ctx, f.polls.payment, func(ctx context.Context) (bool, error) {
		current, err := f.cards.GetPayment(ctx, payment.Reference)
		if err != nil {
			return false, err
		}
		payment.Status = payments.CirclePaymentStatus(current.Status)
		payment.ProviderStatus = current.Status
		payment.UpdatedAt = time.Now()
		if err := f.repo.UpsertPayment(ctx, payment); err != nil {
			return false, err
		}
		return payment.Status != models.PaymentPending, nil
	})
	if err != nil && !errors.Is(err, poll.ErrExhausted) {
		return nil, err
	}
	f.metrics.RecordPaymentStatus(payment.Provider, string(payment.Status))
	if !payment.Status.IsSettled() {
		return nil, fmt.Errorf("payment not confirmed, status: %s", payment.Status)
	}
	return payment, nil
}

// ProcessPayment charges a card for a user that has no account yet. It does not wait
// for confirmation; provisioning resolves the payment status later.
func (f *Fanclub) ProcessPayment(ctx context.Context, req models.CardCheckoutRequest) (*models.Payment, error) {
	if req.AccountID != "" {
		if err := f.accounts.ValidateAccountID(req.AccountID); err != nil {
			return nil, models.NewValidationError("%s", err)
		}
	}
	query := models.AccountQuery{AccountID: req.AccountID, Email: req.Email, PublicKey: req.PublicKey}
	if !query.IsEmpty() {
		existing, err := f.repo.FindAccountByAnyIdentity(ctx, query)
		if err == nil {
			field, value := query.ConflictField(existing)
			return nil, &models.DuplicateError{Field: field, Value: value}
		}
		if !errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("failed to check existing accounts: %w", err)
		}
	}

	payment, err := f.chargeCard(ctx, req)
	if err != nil {
		return nil, err
	}
	f.metrics.RecordPaymentStatus(payment.Provider, string(payment.Status))
	return payment, nil
}

// chargeCard registers the card, creates the payment and stores it.
func (f *Fanclub) chargeCard(ctx context.Context, req models.CardCheckoutRequest) (*models.Payment, error) {
	if err := validation.ValidateFundingAmount(req.Amount); err != nil {
		return nil, models.NewValidationError("%s", err)
	}
	if err := validation.ValidateEmail(req.Email); err != nil {
		return nil, models.NewValidationError("%s", err)
	}
	if err := validation.ValidateCard(req.CardNumber, req.Expiry, req.CVV); err != nil {
		return nil, models.NewValidationError("%s", err)
	}
	month, year, err := parseExpiry(req.Expiry)
	if err != nil {
		return nil, err
	}

	key := req.IdempotencyKey
	if key == "" {
		key = uuid.NewString()
	}
	card, err := f.cards.CreateCard(ctx, models.CardRequest{
		IdempotencyKey: deriveKey(key, "card"),
		Number:         validation.NormalizeCardNumber(req.CardNumber),
		CVV:            req.CVV,
		ExpMonth:       month,
		ExpYear:        year,
		Email:          req.Email,
	})
	if err != nil {
		return nil, err
	}
	charge, err := f.cards.CreatePayment(ctx, models.CardPaymentRequest{
		IdempotencyKey: deriveKey(key, "payment"),
		CardID:         card.ID,
		Amount:         models.Money{Amount: formatUSD(req.Amount), Currency: "USD"},
		Email:          req.Email,
		Description:    f.config.TokenTitle,
	})
	if err != nil {
		return nil, err
	}

	payment := &models.Payment{
		Reference:      charge.ID,
		Provider:       models.ProviderCircle,
		AccountID:      req.AccountID,
		Email:          req.Email,
		PublicKey:      req.PublicKey,
		Amount:         req.Amount,
		Status:         payments.CirclePaymentStatus(charge.Status),
		ProviderStatus: charge.Status,
	}
	if err := f.repo.CreatePayment(ctx, payment); err != nil {
		return nil, err
	}
	f.logger.Info("Card payment created", "payment", payment.Reference, "account", req.AccountID, "status", payment.Status)
	return payment, nil
}

// parseExpiry splits an MM/YY expiry.
func parseExpiry(expiry string) (month, year int, err error) {
	mm, yy, _ := strings.Cut(expiry, "/")
	month, err = strconv.Atoi(mm)
	if err != nil || month < 1 || month > 12 {
		return 0, 0, models.NewValidationError("invalid expiry month: %s", mm)
	}
	year, err = strconv.Atoi(yy)
	if err != nil {
		return 0, 0, models.NewValidationError("invalid expiry year: %s", yy)
	}
	return month, 2000 + year, nil
}

// TransferUSDC sweeps funds from the master wallet to the treasury address.
func (f *Fanclub) TransferUSDC(ctx context.Context, req models.SweepRequest) (string, error) {
	if req.DestinationAddress != "" && req.DestinationAddress != f.config.TreasuryAddress {
		return "", models.NewValidationError("transfers are only allowed to %s", f.config.TreasuryAddress)
	}
	if req.Amount <= 0 {
		return "", models.NewValidationError("amount must be positive")
	}
	key := req.IdempotencyKey
	if key == "" {
		key = uuid.NewString()
	}

	transfer, err := f.sweep(ctx, key, req.Amount)
	if err != nil {
		return "", err
	}
	if req.PaymentID != "" {
		if err := f.repo.SetPaymentTransfer(ctx, req.PaymentID, transfer.ID); err != nil {
			f.logger.Warn("Failed to record transfer on payment", "payment", req.PaymentID, "transfer", transfer.ID, "error", err)
		}
	}
	return transfer.ID, nil
}

// sweep moves amount USD from the master wallet to the treasury through an address book
// recipient, waiting for the recipient to activate and the transfer to complete.
func (f *Fanclub) sweep(ctx context.Context, key string, amount float64) (*models.Transfer, error) {
	treasury := f.config.TreasuryAddress
	if treasury == "" {
		return nil, models.MissingSetting("TREASURY_ADDRESS")
	}

	recipient, err := f.cards.CreateRecipient(ctx, deriveKey(key, "recipient"), sweepChain, treasury, "")
	if err != nil {
		return nil, err
	}
	if recipient.Status != payments.RecipientActive {
		f.logger.Info("Waiting for recipient activation", "recipient", recipient.ID)
		err := poll.Until(ctx, f.polls.recipient, func(ctx context.Context) (bool, error) {
			current, err := f.cards.GetRecipient(ctx, recipient.ID)
			if err != nil {
				return false, err
			}
			return current.Status == payments.RecipientActive, nil
		})
		if errors.Is(err, poll.ErrExhausted) {
			return nil, fmt.Errorf("recipient %s not active", recipient.ID)
		}
		if err != nil {
			return nil, err
		}
	}

	walletID, err := f.cards.MasterWalletID(ctx)
	if err != nil {
		return nil, err
	}
	transfer, err := f.cards.CreateTransfer(ctx, models.TransferRequest{
		IdempotencyKey: deriveKey(key, "transfer"),
		WalletID:       walletID,
		RecipientID:    recipient.ID,
		Amount:         models.Money{Amount: formatUSD(amount), Currency: "USD"},
	})
	if err != nil {
		return nil, err
	}
	if transfer.Status != payments.TransferComplete {
		err := poll.Until(ctx, f.polls.transfer, func(ctx context.Context) (bool, error) {
			current, err := f.cards.GetTransfer(ctx, transfer.ID)
			if err != nil {
				return false, err
			}
			transfer.Status = current.Status
			if current.Status == "failed" {
				return false, fmt.Errorf("transfer %s failed", transfer.ID)
			}
			return current.Status == payments.TransferComplete, nil
		})
		if errors.Is(err, poll.ErrExhausted) {
			return nil, fmt.Errorf("transfer %s not completed", transfer.ID)
		}
		if err != nil {
			return nil, err
		}
	}
	f.logger.Info("Funds swept to treasury", "transfer", transfer.ID, "amount", formatUSD(amount), "treasury", treasury)
	return transfer, nil
}

type notification struct {
	NotificationType string `json:"notificationType"`
	Payment          *struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"payment"`
	Payout *struct {
		ID              string `json:"id"`
		Status          string `json:"status"`
		PaymentIntentID string `json:"paymentIntentId"`
	} `json:"payout"`
}

// HandlePaymentNotification applies a signed Circle notification. Nothing is read or
// written before the signature over the raw body checks out.
func (f *Fanclub) HandlePaymentNotification(ctx context.Context, keyID, signature string, body []byte) error {
	if keyID == "" || signature == "" {
		f.metrics.RecordWebhook("unknown", "rejected")
		return fmt.Errorf("%w: missing signature or key id", models.ErrInvalidSignature)
	}
	publicKey, err := f.cards.NotificationPublicKey(ctx, keyID)
	if err != nil {
		return err
	}
	if err := payments.VerifySignature(publicKey, signature, body); err != nil {
		f.metrics.RecordWebhook("unknown", "rejected")
		f.logger.Warn("Rejected webhook", "keyId", keyID, "error", err)
		if errors.Is(err, models.ErrInvalidSignature) {
			return err
		}
		return fmt.Errorf("%w: %s", models.ErrInvalidSignature, err)
	}

	var n notification
	if err := json.Unmarshal(body, &n); err != nil {
		f.metrics.RecordWebhook("unknown", "malformed")
		return models.NewValidationError("invalid notification body: %s", err)
	}

	switch {
	case n.NotificationType == "payments" && n.Payment != nil:
		err = f.applyPaymentNotification(ctx, n.Payment.ID, n.Payment.Status)
	case n.NotificationType == "payouts" && n.Payout != nil:
		f.logger.Info("Payout notification", "payout", n.Payout.ID, "status", n.Payout.Status)
		err = f.repo.UpdatePayoutStatus(ctx, n.Payout.PaymentIntentID, n.Payout.Status)
		if errors.Is(err, models.ErrNotFound) {
			f.logger.Warn("Payment for payout not found", "payout", n.Payout.ID, "payment", n.Payout.PaymentIntentID)
			err = nil
		}
	default:
		f.logger.Warn("Unhandled notification type", "type", n.NotificationType)
	}
	if err != nil {
		f.metrics.RecordWebhook(n.NotificationType, "error")
		return err
	}
	f.metrics.RecordWebhook(n.NotificationType, "processed")
	return nil
}

func (f *Fanclub) applyPaymentNotification(ctx context.Context, paymentID, providerStatus string) error {
	status := payments.CirclePaymentStatus(providerStatus)
	f.logger.Info("Payment notification", "payment", paymentID, "status", providerStatus)

	err := f.repo.UpdatePaymentStatus(ctx, models.PaymentUpdate{Reference: paymentID, Status: status, ProviderStatus: providerStatus})
	if errors.Is(err, models.ErrNotFound) {
		f.logger.Warn("Payment not found", "payment", paymentID)
		return nil
	}
	if err != nil {
		return err
	}
	f.metrics.RecordPaymentStatus(models.ProviderCircle, string(status))
	if !status.IsSettled() {
		return nil
	}

	payment, err := f.repo.GetPayment(ctx, paymentID)
	if err != nil {
		return err
	}
	if payment.TransferID != "" {
		return nil
	}

	// Circle retries notifications, so the sweep key is derived from the payment id.
	key := uuid.NewSHA1(idempotencyNamespace, []byte("sweep:"+paymentID)).String()
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sweepTimeout)
		defer cancel()

		transfer, err := f.sweep(ctx, key, payment.Amount)
		if err != nil {
			f.logger.Error("Failed to sweep payment", "payment", paymentID, "error", err)
			f.alert(ctx, "Treasury sweep failed", fmt.Sprintf("Payment %s (%s USD): %s", paymentID, formatUSD(payment.Amount), err))
			return
		}
		if err := f.repo.SetPaymentTransfer(ctx, paymentID, transfer.ID); err != nil {
			f.logger.Warn("Failed to record transfer on payment", "payment", paymentID, "transfer", transfer.ID, "error", err)
		}
	}()
	return nil
}

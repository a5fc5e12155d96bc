package fanclub

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/thousandfans/fanclub/internal/models"
	"github.com/thousandfans/fanclub/internal/payments"
	"github.com/thousandfans/fanclub/pkg/keywrap"
	"github.com/thousandfans/fanclub/pkg/validation"
)

// compensationTimeout bounds a compensating delete, which runs even when the request
// context is already cancelled.
const compensationTimeout = 2 * time.Minute

// ProvisionAccount creates a chain account for a custodial-login user, mints its
// membership token, joins it to the group and stores the account record. Every step
// advances the cursor of a persisted run so an interrupted run can be compensated by
// the reconciler.
func (f *Fanclub) ProvisionAccount(ctx context.Context, req models.ProvisionRequest) (*models.ProvisionResult, error) {
	req.Email = validation.NormalizeEmail(req.Email)
	if err := f.validateProvision(req); err != nil {
		return nil, err
	}

	run := &models.ProvisioningRun{
		ID:        uuid.NewString(),
		AccountID: req.AccountID,
		PublicKey: req.PublicKey,
		Email:     req.Email,
		PaymentID: req.PaymentID,
		Cursor:    models.StepStarted,
		State:     models.RunRunning,
	}
	if err := f.repo.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to start provisioning run: %w", err)
	}
	f.logger.Info("Provisioning account", "run", run.ID, "account", req.AccountID, "payment", req.PaymentID, "amount", req.Amount)

	result, err := f.provision(ctx, run, req)
	if err != nil {
		if run.State == models.RunRunning {
			run.State = models.RunFailed
			run.LastError = err.Error()
			f.saveRun(ctx, run)
		}
		f.metrics.RecordProvisioning(string(run.State))
		f.logger.Error("Provisioning failed", "run", run.ID, "account", req.AccountID, "step", run.Cursor.String(), "error", err)
		return nil, err
	}
	f.metrics.RecordProvisioning(string(models.RunCompleted))
	return result, nil
}

func (f *Fanclub) validateProvision(req models.ProvisionRequest) error {
	if err := f.accounts.ValidateAccountID(req.AccountID); err != nil {
		return models.NewValidationError("%s", err)
	}
	if err := validation.ValidatePublicKey(req.PublicKey); err != nil {
		return models.NewValidationError("%s", err)
	}
	if err := validation.ValidateEmail(req.Email); err != nil {
		return models.NewValidationError("%s", err)
	}
	return nil
}

func (f *Fanclub) provision(ctx context.Context, run *models.ProvisioningRun, req models.ProvisionRequest) (*models.ProvisionResult, error) {
	if req.PaymentID != "" {
		status, err := f.paymentStatus(ctx, req.PaymentID)
		if err != nil {
			return nil, err
		}
		if status.IsTerminalFailure() {
			return nil, models.NewValidationError("payment %s is %s", req.PaymentID, status)
		}
	}
	f.advance(ctx, run, models.StepPaymentChecked)

	query := models.AccountQuery{AccountID: req.AccountID, Email: req.Email, PublicKey: req.PublicKey}
	existing, err := f.repo.FindAccountByAnyIdentity(ctx, query)
	switch {
	case err == nil:
		field, value := query.ConflictField(existing)
		return nil, &models.DuplicateError{Field: field, Value: value}
	case !errors.Is(err, models.ErrNotFound):
		return nil, fmt.Errorf("failed to check existing accounts: %w", err)
	}
	f.advance(ctx, run, models.StepIdentityChecked)

	if err := f.checkRelayerBalance(ctx); err != nil {
		return nil, err
	}
	if err := f.chain.CreateAccount(ctx, req.AccountID, req.PublicKey, f.config.InitialBalance); err != nil {
		return nil, err
	}
	f.advance(ctx, run, models.StepAccountCreated)

	tokenID, err := f.chain.MintToken(ctx, req.AccountID, f.tokenMetadata(req.AccountID))
	if err != nil {
		f.compensate(ctx, run, err)
		return nil, err
	}
	run.TokenID = tokenID
	f.advance(ctx, run, models.StepTokenMinted)

	account := &models.Account{
		AccountID: req.AccountID,
		Email:     req.Email,
		PublicKey: req.PublicKey,
		TokenID:   tokenID,
	}
	if f.config.GroupContractID != "" {
		if err := f.chain.AddGroupMember(ctx, req.AccountID); err != nil {
			f.logger.Warn("Failed to add group member", "account", req.AccountID, "error", err)
		} else {
			account.IsGroupMember = true
		}
	}
	f.advance(ctx, run, models.StepGroupJoined)

	if f.config.GroupKey != "" {
		wrapped, err := keywrap.Wrap(f.config.GroupKey, req.PublicKey)
		if err != nil {
			f.logger.Warn("Failed to wrap group key", "account", req.AccountID, "error", err)
		} else {
			account.WrappedKey = wrapped
		}
	}
	if err := f.repo.CreateAccount(ctx, account); err != nil {
		err = fmt.Errorf("failed to save account: %w", err)
		f.compensate(ctx, run, err)
		return nil, err
	}
	f.advance(ctx, run, models.StepRecordPersisted)

	result := &models.ProvisionResult{RunID: run.ID, AccountID: req.AccountID, TokenID: tokenID}
	if err := f.chain.ReleaseCustody(ctx, req.AccountID); err != nil {
		// The run stays running at StepRecordPersisted and the reconciler retries.
		f.logger.Warn("Failed to release custody key", "run", run.ID, "account", req.AccountID, "error", err)
		return result, nil
	}
	run.State = models.RunCompleted
	f.advance(ctx, run, models.StepCustodyReleased)

	f.logger.Info("Account provisioned", "run", run.ID, "account", req.AccountID, "token", tokenID)
	return result, nil
}

// paymentStatus resolves a payment reference from the local record, falling back to
// the provider that issued it.
func (f *Fanclub) paymentStatus(ctx context.Context, reference string) (models.PaymentStatus, error) {
	payment, err := f.repo.GetPayment(ctx, reference)
	if err == nil {
		return payment.Status, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return "", fmt.Errorf("failed to get payment %s: %w", reference, err)
	}

	if payments.IsOnrampReference(reference) {
		session, err := f.onramp.GetOnrampSession(ctx, reference)
		if err != nil {
			return "", err
		}
		return payments.OnrampStatus(session.Status), nil
	}
	circlePayment, err := f.cards.GetPayment(ctx, reference)
	if err != nil {
		return "", err
	}
	return payments.CirclePaymentStatus(circlePayment.Status), nil
}

func (f *Fanclub) checkRelayerBalance(ctx context.Context) error {
	relayer := f.chain.RelayerAccountID()
	balance, err := f.chain.AccountBalance(ctx, relayer)
	if err != nil {
		return fmt.Errorf("failed to check relayer balance: %w", err)
	}
	if balance.Cmp(f.config.MinRelayerBalance) <= 0 {
		f.alert(ctx, "Relayer balance low", fmt.Sprintf("Relayer %s holds %s yoctoNEAR, minimum is %s.", relayer, balance, f.config.MinRelayerBalance))
		return fmt.Errorf("relayer %s balance too low to create accounts", relayer)
	}
	return nil
}

func (f *Fanclub) tokenMetadata(accountID string) models.TokenMetadata {
	return models.TokenMetadata{
		Title:       f.config.TokenTitle,
		Description: "Membership token for " + accountID,
		Media:       f.config.TokenMediaURL,
		Copies:      1,
		IssuedAt:    strconv.FormatInt(time.Now().UnixMilli(), 10),
	}
}

// compensate deletes the chain account of a failed run with the relayer as
// beneficiary. Failures are logged and alerted, never returned.
func (f *Fanclub) compensate(ctx context.Context, run *models.ProvisioningRun, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	run.LastError = cause.Error()
	if err := f.chain.DeleteAccount(ctx, run.AccountID, f.chain.RelayerAccountID()); err != nil {
		run.State = models.RunOrphaned
		f.metrics.RecordCompensation("failed")
		f.logger.Error("Compensating delete failed", "run", run.ID, "account", run.AccountID, "cause", cause, "error", err)
		f.alert(ctx, "Orphaned fan account",
			fmt.Sprintf("Run %s left account %s on chain after %q. Delete failed: %s", run.ID, run.AccountID, run.LastError, err))
	} else {
		run.State = models.RunCompensated
		f.metrics.RecordCompensation("deleted")
		f.logger.Warn("Account deleted after failed provisioning", "run", run.ID, "account", run.AccountID, "cause", cause)
	}
	f.saveRun(ctx, run)
}

// advance moves the run cursor. A failed cursor write is logged and the workflow goes on.
func (f *Fanclub) advance(ctx context.Context, run *models.ProvisioningRun, step models.ProvisioningStep) {
	run.Cursor = step
	f.saveRun(ctx, run)
}

func (f *Fanclub) saveRun(ctx context.Context, run *models.ProvisioningRun) {
	if err := f.repo.UpdateRun(ctx, run); err != nil {
		f.logger.Warn("Failed to update provisioning run", "run", run.ID, "step", run.Cursor.String(), "state", run.State, "error", err)
	}
}

package fanclub

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/thousandfans/fanclub/internal/models"
	"github.com/thousandfans/fanclub/pkg/validation"
)

// CheckForAccount looks an account up by every identity field given.
func (f *Fanclub) CheckForAccount(ctx context.Context, q models.AccountQuery) (*models.AccountCheck, error) {
	q.Email = validation.NormalizeEmail(q.Email)
	if q.IsEmpty() {
		return nil, models.NewValidationError("email, publicKey or accountId is required")
	}
	if q.PublicKey != "" {
		if err := validation.ValidatePublicKey(q.PublicKey); err != nil {
			return nil, models.NewValidationError("%s", err)
		}
	}
	if q.Email != "" {
		if err := validation.ValidateEmail(q.Email); err != nil {
			return nil, models.NewValidationError("%s", err)
		}
	}
	if q.AccountID != "" {
		if err := validation.ValidateNearAccountID(q.AccountID); err != nil {
			return nil, models.NewValidationError("%s", err)
		}
	}

	account, err := f.repo.FindAccount(ctx, q)
	if errors.Is(err, models.ErrNotFound) {
		return &models.AccountCheck{Exists: false}, nil
	}
	if err != nil {
		return nil, err
	}

	check := &models.AccountCheck{
		Exists:        true,
		AccountID:     account.AccountID,
		TokenID:       account.TokenID,
		IsGroupMember: account.IsGroupMember,
	}
	if check.TokenID == "" {
		status := f.Membership(ctx, account.AccountID)
		check.TokenID = status.TokenID
		check.IsGroupMember = check.IsGroupMember || status.IsGroupMember
	}
	return check, nil
}

// CreateWalletUser records a user that signed in with their own wallet. It returns the
// existing record on repeat logins and reports whether a record was created.
func (f *Fanclub) CreateWalletUser(ctx context.Context, accountID, email string) (*models.Account, bool, error) {
	if err := validation.ValidateNearAccountID(accountID); err != nil {
		return nil, false, models.NewValidationError("%s", err)
	}
	email = validation.NormalizeEmail(email)
	if email != "" {
		if err := validation.ValidateEmail(email); err != nil {
			return nil, false, models.NewValidationError("%s", err)
		}
	}

	existing, err := f.repo.FindAccount(ctx, models.AccountQuery{AccountID: accountID})
	if err == nil {
		if email != "" && existing.Email == "" {
			existing.Email = email
			if err := f.repo.SaveAccount(ctx, existing); err != nil {
				return nil, false, err
			}
		}
		return existing, false, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, false, err
	}

	status := f.Membership(ctx, accountID)
	account := &models.Account{
		AccountID:     accountID,
		Email:         email,
		TokenID:       status.TokenID,
		IsGroupMember: status.IsGroupMember,
	}
	if err := f.repo.CreateAccount(ctx, account); err != nil {
		return nil, false, err
	}
	f.logger.Info("Wallet user created", "account", accountID, "ownsToken", status.OwnsToken)
	return account, true, nil
}

// Membership queries token ownership and group membership on chain. A failed query
// counts as not owning and not a member.
func (f *Fanclub) Membership(ctx context.Context, accountID string) *models.MembershipStatus {
	status := &models.MembershipStatus{AccountID: accountID}

	tokens, err := f.chain.TokensForOwner(ctx, accountID, 1)
	if err != nil {
		f.logger.Warn("Failed to query membership token", "account", accountID, "error", err)
	} else if len(tokens) > 0 {
		status.OwnsToken = true
		status.TokenID = tokens[0].TokenID
	}

	member, err := f.chain.IsGroupMember(ctx, accountID)
	if err != nil {
		f.logger.Warn("Failed to query group membership", "account", accountID, "error", err)
	} else {
		status.IsGroupMember = member
	}

	f.metrics.RecordGateCheck(status.OwnsToken)
	return status
}

// ContentURL presigns a gated object for a token holder that signed a fresh challenge.
func (f *Fanclub) ContentURL(ctx context.Context, req models.ContentRequest) (string, error) {
	if req.AccountID == "" {
		return "", models.NewValidationError("account id is required")
	}
	key := strings.TrimPrefix(req.Key, "/")
	if key == "" || path.Clean("/"+key) != "/"+key {
		return "", models.NewValidationError("invalid content key: %s", key)
	}

	if err := f.verifyControl(ctx, req); err != nil {
		return "", err
	}
	if !f.Membership(ctx, req.AccountID).OwnsToken {
		return "", models.ErrNotMember
	}
	url, err := f.storage.PresignGet(ctx, key, f.config.PresignExpiry)
	if err != nil {
		return "", fmt.Errorf("failed to presign %s: %w", key, err)
	}
	return url, nil
}

package fanclub

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thousandfans/fanclub/internal/models"
)

func provisionRequest() models.ProvisionRequest {
	return models.ProvisionRequest{
		AccountID: "fan.1000fans.near",
		PublicKey: testPublicKey,
		Email:     "fan@example.com",
	}
}

func TestProvisionAccount(t *testing.T) {
	env := newTestEnv(t)
	env.fanclub.config.GroupContractID = "group.1000fans.near"

	result, err := env.fanclub.ProvisionAccount(context.Background(), provisionRequest())
	require.NoError(t, err)
	assert.Equal(t, "fan.1000fans.near", result.AccountID)
	assert.Equal(t, "fan001", result.TokenID)

	assert.Equal(t, []string{
		"balance 1000fans.near",
		"create fan.1000fans.near",
		"mint fan.1000fans.near",
		"add_member fan.1000fans.near",
		"release fan.1000fans.near",
	}, env.chain.Calls())

	account, err := env.repo.FindAccount(context.Background(), models.AccountQuery{AccountID: "fan.1000fans.near"})
	require.NoError(t, err)
	assert.Equal(t, "fan001", account.TokenID)
	assert.True(t, account.IsGroupMember)
	assert.Equal(t, "fan@example.com", account.Email)

	run := env.repo.onlyRun(t)
	assert.Equal(t, models.RunCompleted, run.State)
	assert.Equal(t, models.StepCustodyReleased, run.Cursor)
	assert.Equal(t, "fan001", run.TokenID)
}

func TestProvisionAccountRejectsMalformedInput(t *testing.T) {
	env := newTestEnv(t)

	for name, mutate := range map[string]func(*models.ProvisionRequest){
		"short name":    func(r *models.ProvisionRequest) { r.AccountID = "a.1000fans.near" },
		"upper case":    func(r *models.ProvisionRequest) { r.AccountID = "ABC.1000fans.near" },
		"other parent":  func(r *models.ProvisionRequest) { r.AccountID = "fan.near" },
		"key prefix":    func(r *models.ProvisionRequest) { r.PublicKey = "secp256k1:" + testPublicKey[8:] },
		"key length":    func(r *models.ProvisionRequest) { r.PublicKey = testPublicKey + "x" },
		"email":         func(r *models.ProvisionRequest) { r.Email = "not-an-email" },
		"display name":  func(r *models.ProvisionRequest) { r.Email = "Fan <fan@example.com>" },
		"missing email": func(r *models.ProvisionRequest) { r.Email = "" },
	} {
		t.Run(name, func(t *testing.T) {
			req := provisionRequest()
			mutate(&req)
			_, err := env.fanclub.ProvisionAccount(context.Background(), req)
			var validationErr *models.ValidationError
			assert.True(t, errors.As(err, &validationErr), "got %v", err)
		})
	}
	assert.Empty(t, env.chain.Calls())
	assert.Empty(t, env.repo.runs)
}

func TestProvisionAccountEmailSpellingsShareOneAccount(t *testing.T) {
	for _, email := range []string{"Fan <fan@example.com>", "FAN@Example.com", " fan@example.com "} {
		t.Run(email, func(t *testing.T) {
			env := newTestEnv(t)
			env.repo.accounts = append(env.repo.accounts, &models.Account{
				AccountID: "first.1000fans.near",
				Email:     "fan@example.com",
				PublicKey: "ed25519:" + testPublicKey[9:] + "B",
			})

			req := provisionRequest()
			req.Email = email
			result, err := env.fanclub.ProvisionAccount(context.Background(), req)
			require.Error(t, err)
			assert.Nil(t, result)
			assert.Len(t, env.repo.accounts, 1)
			assert.Empty(t, env.chain.Calls())
		})
	}
}

func TestProvisionAccountRejectsCancelledPayment(t *testing.T) {
	env := newTestEnv(t)
	env.repo.payments["pay-1"] = &models.Payment{Reference: "pay-1", Provider: models.ProviderCircle, Status: models.PaymentCancelled}

	req := provisionRequest()
	req.PaymentID = "pay-1"
	_, err := env.fanclub.ProvisionAccount(context.Background(), req)

	var validationErr *models.ValidationError
	require.True(t, errors.As(err, &validationErr), "got %v", err)
	assert.Empty(t, env.chain.Calls())
	assert.Equal(t, models.RunFailed, env.repo.onlyRun(t).State)
}

func TestProvisionAccountResolvesPaymentFromProvider(t *testing.T) {
	env := newTestEnv(t)
	env.onramp.getFn = func(id string) (*models.OnrampSession, error) {
		assert.Equal(t, "cos_1", id)
		return &models.OnrampSession{ID: id, Status: "expired"}, nil
	}
	env.cards.getPaymentFn = func(id string) (*models.ProviderPayment, error) {
		return &models.ProviderPayment{ID: id, Status: "pending"}, nil
	}

	req := provisionRequest()
	req.PaymentID = "cos_1"
	_, err := env.fanclub.ProvisionAccount(context.Background(), req)
	assert.Error(t, err)
	assert.Empty(t, env.chain.Calls())

	// A pending card payment does not block provisioning.
	req = provisionRequest()
	req.AccountID = "fan2.1000fans.near"
	req.Email = "fan2@example.com"
	req.PublicKey = "ed25519:" + testPublicKey[9:] + "A"
	req.PaymentID = "d4d6c0a2-5f1e-4c55-9a5e-9fd0e3b7c111"
	_, err = env.fanclub.ProvisionAccount(context.Background(), req)
	assert.NoError(t, err)
}

func TestProvisionAccountDuplicate(t *testing.T) {
	existing := &models.Account{AccountID: "taken.1000fans.near", Email: "taken@example.com", PublicKey: "ed25519:" + testPublicKey[9:] + "B"}

	for _, tc := range []struct {
		name  string
		req   func() models.ProvisionRequest
		field string
	}{
		{"email", func() models.ProvisionRequest {
			r := provisionRequest()
			r.Email = existing.Email
			return r
		}, "email"},
		{"publicKey", func() models.ProvisionRequest {
			r := provisionRequest()
			r.PublicKey = existing.PublicKey
			return r
		}, "publicKey"},
		{"accountId", func() models.ProvisionRequest {
			r := provisionRequest()
			r.AccountID = existing.AccountID
			return r
		}, "accountId"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.repo.accounts = append(env.repo.accounts, existing)

			_, err := env.fanclub.ProvisionAccount(context.Background(), tc.req())
			var dup *models.DuplicateError
			require.True(t, errors.As(err, &dup), "got %v", err)
			assert.Equal(t, tc.field, dup.Field)
			assert.Empty(t, env.chain.Calls())
		})
	}
}

func TestProvisionAccountLowRelayerBalance(t *testing.T) {
	env := newTestEnv(t)
	env.chain.balance = big.NewInt(100)

	_, err := env.fanclub.ProvisionAccount(context.Background(), provisionRequest())
	assert.Error(t, err)
	assert.Equal(t, []string{"balance 1000fans.near"}, env.chain.Calls())
	assert.Equal(t, 1, env.notifier.count())
}

func TestProvisionAccountMintFailureCompensates(t *testing.T) {
	env := newTestEnv(t)
	mintErr := errors.New("nft_mint failed: Smart contract panicked")
	env.chain.mintFn = func(string) (string, error) { return "", mintErr }

	_, err := env.fanclub.ProvisionAccount(context.Background(), provisionRequest())
	assert.ErrorIs(t, err, mintErr)

	calls := env.chain.Calls()
	assert.Equal(t, "delete fan.1000fans.near -> 1000fans.near", calls[len(calls)-1])
	assert.Empty(t, env.repo.accounts)

	run := env.repo.onlyRun(t)
	assert.Equal(t, models.RunCompensated, run.State)
	assert.Equal(t, models.StepAccountCreated, run.Cursor)
	assert.Contains(t, run.LastError, "Smart contract panicked")
}

func TestProvisionAccountMintFailureDeleteFails(t *testing.T) {
	env := newTestEnv(t)
	mintErr := errors.New("nft_mint failed")
	env.chain.mintFn = func(string) (string, error) { return "", mintErr }
	env.chain.deleteFn = func(string, string) error { return errors.New("access key not found") }

	_, err := env.fanclub.ProvisionAccount(context.Background(), provisionRequest())
	assert.ErrorIs(t, err, mintErr)
	assert.Equal(t, models.RunOrphaned, env.repo.onlyRun(t).State)
	assert.Equal(t, 1, env.notifier.count())
}

func TestProvisionAccountCompensatesAfterCancelledRequest(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	env.chain.mintFn = func(string) (string, error) {
		cancel()
		return "", context.Canceled
	}

	_, err := env.fanclub.ProvisionAccount(ctx, provisionRequest())
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoError(t, env.chain.deleteCtxErr)
	assert.Equal(t, models.RunCompensated, env.repo.onlyRun(t).State)
}

func TestProvisionAccountPersistFailureCompensates(t *testing.T) {
	env := newTestEnv(t)
	env.repo.createAccountErr = errors.New("connection reset")

	_, err := env.fanclub.ProvisionAccount(context.Background(), provisionRequest())
	assert.ErrorContains(t, err, "connection reset")

	calls := env.chain.Calls()
	assert.Equal(t, "delete fan.1000fans.near -> 1000fans.near", calls[len(calls)-1])
	assert.Equal(t, models.RunCompensated, env.repo.onlyRun(t).State)
}

func TestProvisionAccountCustodyReleaseRetriedByReconciler(t *testing.T) {
	env := newTestEnv(t)
	env.chain.releaseFn = func(string) error { return errors.New("timeout") }

	result, err := env.fanclub.ProvisionAccount(context.Background(), provisionRequest())
	require.NoError(t, err)
	assert.Equal(t, "fan001", result.TokenID)

	run := env.repo.onlyRun(t)
	assert.Equal(t, models.RunRunning, run.State)
	assert.Equal(t, models.StepRecordPersisted, run.Cursor)

	env.chain.releaseFn = nil
	run.UpdatedAt = time.Now().Add(-time.Hour)
	require.NoError(t, env.fanclub.Reconcile(context.Background()))

	run = env.repo.onlyRun(t)
	assert.Equal(t, models.RunCompleted, run.State)
	assert.Equal(t, models.StepCustodyReleased, run.Cursor)
}

func TestProvisionAccountGroupJoinIsOptional(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.fanclub.ProvisionAccount(context.Background(), provisionRequest())
	require.NoError(t, err)
	assert.NotContains(t, env.chain.Calls(), "add_member fan.1000fans.near")

	account, err := env.repo.FindAccount(context.Background(), models.AccountQuery{Email: "fan@example.com"})
	require.NoError(t, err)
	assert.False(t, account.IsGroupMember)
}

package fanclub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/thousandfans/fanclub/internal/blockchain"
	"github.com/thousandfans/fanclub/internal/models"
	"github.com/thousandfans/fanclub/pkg/validation"
)

const (
	challengeTTL  = 5 * time.Minute
	maxChallenges = 10000
)

// ChallengeMessage is the exact text a caller signs to unlock gated content.
func ChallengeMessage(accountID, nonce string) string {
	return fmt.Sprintf("1000fans content access\naccount: %s\nnonce: %s", accountID, nonce)
}

type challenge struct {
	accountID string
	expiresAt time.Time
}

// challengeStore keeps issued nonces in memory. Each nonce is bound to one account
// and is deleted on first use, valid or not.
type challengeStore struct {
	mu      sync.Mutex
	entries map[string]challenge
	now     func() time.Time
}

func newChallengeStore() *challengeStore {
	return &challengeStore{
		entries: make(map[string]challenge),
		now:     time.Now,
	}
}

func (s *challengeStore) issue(accountID string) (string, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for nonce, c := range s.entries {
		if !now.Before(c.expiresAt) {
			delete(s.entries, nonce)
		}
	}
	if len(s.entries) >= maxChallenges {
		return "", time.Time{}, fmt.Errorf("too many pending content challenges")
	}

	nonce := uuid.NewString()
	expiresAt := now.Add(challengeTTL)
	s.entries[nonce] = challenge{accountID: accountID, expiresAt: expiresAt}
	return nonce, expiresAt, nil
}

func (s *challengeStore) consume(nonce, accountID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.entries[nonce]
	if !ok {
		return false
	}
	delete(s.entries, nonce)
	return c.accountID == accountID && s.now().Before(c.expiresAt)
}

// ContentChallenge issues a nonce the account must sign before ContentURL releases
// anything to it.
func (f *Fanclub) ContentChallenge(ctx context.Context, accountID string) (*models.ContentChallenge, error) {
	if err := validation.ValidateNearAccountID(accountID); err != nil {
		return nil, models.NewValidationError("%s", err)
	}
	nonce, expiresAt, err := f.challenges.issue(accountID)
	if err != nil {
		return nil, err
	}
	return &models.ContentChallenge{
		AccountID: accountID,
		Nonce:     nonce,
		Message:   ChallengeMessage(accountID, nonce),
		ExpiresAt: expiresAt.Unix(),
	}, nil
}

// verifyControl proves the caller holds a key of req.AccountID: the nonce must be
// outstanding for that account, the signature must verify, and the key must be an
// access key of the account on chain.
func (f *Fanclub) verifyControl(ctx context.Context, req models.ContentRequest) error {
	if req.Nonce == "" || req.Signature == "" || req.PublicKey == "" {
		return fmt.Errorf("signed challenge is required: %w", models.ErrUnauthorized)
	}
	if !f.challenges.consume(req.Nonce, req.AccountID) {
		return fmt.Errorf("unknown or expired challenge: %w", models.ErrUnauthorized)
	}
	message := []byte(ChallengeMessage(req.AccountID, req.Nonce))
	if err := blockchain.VerifyMessage(req.PublicKey, message, req.Signature); err != nil {
		f.logger.Warn("Content challenge signature rejected", "account", req.AccountID, "error", err)
		return fmt.Errorf("%s: %w", err, models.ErrUnauthorized)
	}

	ok, err := f.chain.HasAccessKey(ctx, req.AccountID, req.PublicKey)
	if err != nil {
		return err
	}
	if !ok {
		f.logger.Warn("Content challenge key not on account", "account", req.AccountID, "key", req.PublicKey)
		return fmt.Errorf("key %s is not an access key of %s: %w", req.PublicKey, req.AccountID, models.ErrUnauthorized)
	}
	return nil
}

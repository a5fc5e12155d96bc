package models

import (
	"context"
	"math/big"
)

// TokenMetadata is the NEP-177 token metadata passed to nft_mint.
type TokenMetadata struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Media       string `json:"media,omitempty"`
	Copies      int    `json:"copies,omitempty"`
	IssuedAt    string `json:"issued_at,omitempty"`
}

// NFTToken is a token as returned by nft_tokens_for_owner.
type NFTToken struct {
	TokenID string         `json:"token_id"`
	OwnerID string         `json:"owner_id"`
	Meta    *TokenMetadata `json:"metadata,omitempty"`
}

type BlockchainService interface {
	RelayerAccountID() string
	// AccountBalance returns the available balance in yoctoNEAR, or ErrNotFound when the
	// account does not exist.
	AccountBalance(ctx context.Context, accountID string) (*big.Int, error)
	// CreateAccount creates accountID with publicKey as a full access key, funded by the
	// relayer. The relayer keeps a custody key on the account until ReleaseCustody.
	CreateAccount(ctx context.Context, accountID, publicKey string, initialBalance *big.Int) error
	// DeleteAccount deletes accountID using the relayer custody key.
	DeleteAccount(ctx context.Context, accountID, beneficiaryID string) error
	// ReleaseCustody removes the relayer custody key from accountID.
	ReleaseCustody(ctx context.Context, accountID string) error
	MintToken(ctx context.Context, ownerID string, metadata TokenMetadata) (string, error)
	AddGroupMember(ctx context.Context, accountID string) error

	HasAccessKey(ctx context.Context, accountID, publicKey string) (bool, error)
	TokensForOwner(ctx context.Context, accountID string, limit int) ([]NFTToken, error)
	// IsGroupMember returns false without error when no group contract is configured.
	IsGroupMember(ctx context.Context, accountID string) (bool, error)
}

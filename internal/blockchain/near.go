package blockchain

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/mr-tron/base58"

	"github.com/thousandfans/fanclub/internal/config"
	"github.com/thousandfans/fanclub/internal/models"
	"github.com/thousandfans/fanclub/pkg/logger"
	"github.com/thousandfans/fanclub/pkg/validation"
)

const (
	mintGas      uint64 = 100_000_000_000_000
	addMemberGas uint64 = 30_000_000_000_000
)

// Near is the relayer: it signs and sends transactions with the relayer key and runs
// view calls against the membership and group contracts.
type Near struct {
	logger *logger.Logger
	config *config.Config
	rpc    *RPCClient

	// mu serializes relayer transactions so access key nonces are never reused.
	mu sync.Mutex
}

func NewNear(rpc *RPCClient, logger *logger.Logger, config *config.Config) *Near {
	return &Near{rpc: rpc, logger: logger, config: config}
}

func (n *Near) RelayerAccountID() string {
	return n.config.RelayerAccountID
}

func (n *Near) relayerKey() (*KeyPair, error) {
	if n.config.RelayerPrivateKey == "" {
		return nil, models.MissingSetting("RELAYER_PRIVATE_KEY")
	}
	key, err := ParseKeyPair(n.config.RelayerPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("invalid RELAYER_PRIVATE_KEY: %w", err)
	}
	return key, nil
}

func (n *Near) AccountBalance(ctx context.Context, accountID string) (*big.Int, error) {
	view, err := n.rpc.viewAccount(ctx, accountID)
	if err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) && rpcErr.Cause.Name == "UNKNOWN_ACCOUNT" {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to view account %s: %w", accountID, err)
	}
	balance, ok := new(big.Int).SetString(view.Amount, 10)
	if !ok {
		return nil, fmt.Errorf("invalid balance %q for %s", view.Amount, accountID)
	}
	return balance, nil
}

func (n *Near) CreateAccount(ctx context.Context, accountID, publicKey string, initialBalance *big.Int) error {
	userKey, err := ParsePublicKey(publicKey)
	if err != nil {
		return models.NewValidationError("invalid public key: %s", err)
	}
	relayerKey, err := n.relayerKey()
	if err != nil {
		return err
	}

	var actions []Action
	switch {
	case validation.IsImplicitAccount(accountID):
		// Implicit accounts come into existence on the first transfer and are controlled by
		// the key their id is derived from.
		if hex.EncodeToString(userKey[:]) != accountID {
			return models.NewValidationError("implicit account %s does not match public key", accountID)
		}
		actions = []Action{Transfer{Deposit: initialBalance}}
	case strings.HasSuffix(accountID, "."+n.config.RelayerAccountID):
		actions = []Action{
			CreateAccount{},
			Transfer{Deposit: initialBalance},
			AddFullAccessKey{PublicKey: userKey},
			AddFullAccessKey{PublicKey: relayerKey.PublicKey()},
		}
	default:
		return fmt.Errorf("relayer %s cannot create account %s", n.config.RelayerAccountID, accountID)
	}

	n.logger.Info("Creating account", "account", accountID)
	if _, err := n.signAndSend(ctx, n.config.RelayerAccountID, accountID, actions); err != nil {
		return fmt.Errorf("failed to create account %s: %w", accountID, err)
	}
	return nil
}

func (n *Near) DeleteAccount(ctx context.Context, accountID, beneficiaryID string) error {
	if validation.IsImplicitAccount(accountID) {
		return fmt.Errorf("relayer holds no key for implicit account %s", accountID)
	}
	n.logger.Warn("Deleting account", "account", accountID, "beneficiary", beneficiaryID)
	_, err := n.signAndSend(ctx, accountID, accountID, []Action{DeleteAccount{BeneficiaryID: beneficiaryID}})
	if err != nil {
		return fmt.Errorf("failed to delete account %s: %w", accountID, err)
	}
	return nil
}

func (n *Near) ReleaseCustody(ctx context.Context, accountID string) error {
	if validation.IsImplicitAccount(accountID) {
		return nil
	}
	key, err := n.relayerKey()
	if err != nil {
		return err
	}
	_, err = n.signAndSend(ctx, accountID, accountID, []Action{DeleteKey{PublicKey: key.PublicKey()}})
	if err != nil {
		return fmt.Errorf("failed to remove relayer key from %s: %w", accountID, err)
	}
	return nil
}

func (n *Near) MintToken(ctx context.Context, ownerID string, metadata models.TokenMetadata) (string, error) {
	if n.config.NFTContractID == "" {
		return "", models.MissingSetting("NFT_CONTRACT_ID")
	}
	args, err := json.Marshal(map[string]interface{}{
		"token_owner_id": ownerID,
		"token_metadata": metadata,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode nft_mint args: %w", err)
	}

	outcome, err := n.signAndSend(ctx, n.config.RelayerAccountID, n.config.NFTContractID, []Action{FunctionCall{
		MethodName: "nft_mint",
		Args:       args,
		Gas:        mintGas,
		Deposit:    n.config.MintDeposit,
	}})
	if err != nil {
		return "", fmt.Errorf("nft_mint failed: %w", err)
	}
	tokenID, err := outcome.MintedTokenID()
	if err != nil {
		return "", err
	}
	n.logger.Info("Membership token minted", "owner", ownerID, "token", tokenID)
	return tokenID, nil
}

func (n *Near) AddGroupMember(ctx context.Context, accountID string) error {
	if n.config.GroupContractID == "" {
		return models.MissingSetting("GROUP_CONTRACT_ID")
	}
	args, err := json.Marshal(map[string]string{"account_id": accountID})
	if err != nil {
		return fmt.Errorf("failed to encode add_member args: %w", err)
	}
	_, err = n.signAndSend(ctx, n.config.RelayerAccountID, n.config.GroupContractID, []Action{FunctionCall{
		MethodName: "add_member",
		Args:       args,
		Gas:        addMemberGas,
		Deposit:    big.NewInt(0),
	}})
	if err != nil {
		return fmt.Errorf("add_member failed: %w", err)
	}
	return nil
}

// HasAccessKey reports whether publicKey is currently an access key of accountID.
func (n *Near) HasAccessKey(ctx context.Context, accountID, publicKey string) (bool, error) {
	pk, err := ParsePublicKey(publicKey)
	if err != nil {
		return false, models.NewValidationError("invalid public key: %s", err)
	}
	_, err = n.rpc.viewAccessKey(ctx, accountID, pk)
	if err == nil {
		return true, nil
	}
	var rpcErr *RPCError
	if errors.Is(err, models.ErrNotFound) {
		return false, nil
	}
	if errors.As(err, &rpcErr) {
		switch rpcErr.Cause.Name {
		case "UNKNOWN_ACCESS_KEY", "UNKNOWN_ACCOUNT":
			return false, nil
		}
	}
	return false, fmt.Errorf("failed to view access key of %s: %w", accountID, err)
}

func (n *Near) TokensForOwner(ctx context.Context, accountID string, limit int) ([]models.NFTToken, error) {
	if n.config.NFTContractID == "" {
		return nil, models.MissingSetting("NFT_CONTRACT_ID")
	}
	var tokens []models.NFTToken
	err := n.rpc.callView(ctx, n.config.NFTContractID, "nft_tokens_for_owner", map[string]interface{}{
		"account_id": accountID,
		"from_index": nil,
		"limit":      limit,
	}, &tokens)
	if err != nil {
		return nil, fmt.Errorf("failed to query tokens for %s: %w", accountID, err)
	}
	return tokens, nil
}

func (n *Near) IsGroupMember(ctx context.Context, accountID string) (bool, error) {
	if n.config.GroupContractID == "" {
		return false, nil
	}
	var member bool
	err := n.rpc.callView(ctx, n.config.GroupContractID, "is_member", map[string]string{"account_id": accountID}, &member)
	if err != nil {
		return false, fmt.Errorf("failed to query group membership for %s: %w", accountID, err)
	}
	return member, nil
}

// signAndSend signs actions with the relayer key as signerID and waits for execution.
// The signer is the relayer itself or an account that still carries its custody key.
func (n *Near) signAndSend(ctx context.Context, signerID, receiverID string, actions []Action) (*TxOutcome, error) {
	key, err := n.relayerKey()
	if err != nil {
		return nil, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	accessKey, err := n.rpc.viewAccessKey(ctx, signerID, key.PublicKey())
	if err != nil {
		return nil, fmt.Errorf("failed to get access key nonce for %s: %w", signerID, err)
	}
	hash, err := base58.Decode(accessKey.BlockHash)
	if err != nil || len(hash) != 32 {
		return nil, fmt.Errorf("invalid block hash %q", accessKey.BlockHash)
	}

	tx := &Transaction{
		SignerID:   signerID,
		PublicKey:  key.PublicKey(),
		Nonce:      accessKey.Nonce + 1,
		ReceiverID: receiverID,
		Actions:    actions,
	}
	copy(tx.BlockHash[:], hash)

	n.logger.Debug("Sending transaction", "signer", signerID, "receiver", receiverID, "nonce", tx.Nonce, "actions", len(actions))
	outcome, err := n.rpc.broadcastTxCommit(ctx, tx.Sign(key))
	if err != nil {
		return nil, err
	}
	if err := outcome.Err(); err != nil {
		return outcome, err
	}
	return outcome, nil
}

package blockchain

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

const ed25519Prefix = "ed25519:"

// KeyPair is an ed25519 signing key in NEAR's "ed25519:<base58>" text form.
type KeyPair struct {
	private ed25519.PrivateKey
}

// ParseKeyPair accepts a base58 64 byte expanded key or a 32 byte seed.
func ParseKeyPair(secret string) (*KeyPair, error) {
	encoded, found := strings.CutPrefix(strings.TrimSpace(secret), ed25519Prefix)
	if !found {
		return nil, fmt.Errorf("unsupported key type, expected %s prefix", ed25519Prefix)
	}
	raw, err := base58.Decode(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode private key: %w", err)
	}
	switch len(raw) {
	case ed25519.PrivateKeySize:
		return &KeyPair{private: ed25519.PrivateKey(raw)}, nil
	case ed25519.SeedSize:
		return &KeyPair{private: ed25519.NewKeyFromSeed(raw)}, nil
	}
	return nil, fmt.Errorf("invalid private key length: %d", len(raw))
}

func (k *KeyPair) PublicKey() PublicKey {
	var pk PublicKey
	copy(pk[:], k.private.Public().(ed25519.PublicKey))
	return pk
}

func (k *KeyPair) Sign(message []byte) Signature {
	var sig Signature
	copy(sig[:], ed25519.Sign(k.private, message))
	return sig
}

// PublicKey is a raw ed25519 public key.
type PublicKey [ed25519.PublicKeySize]byte

func ParsePublicKey(s string) (PublicKey, error) {
	var pk PublicKey
	encoded, found := strings.CutPrefix(s, ed25519Prefix)
	if !found {
		return pk, fmt.Errorf("unsupported public key type: %s", s)
	}
	raw, err := base58.Decode(encoded)
	if err != nil {
		return pk, fmt.Errorf("failed to decode public key: %w", err)
	}
	if len(raw) != len(pk) {
		return pk, fmt.Errorf("invalid public key length: %d", len(raw))
	}
	copy(pk[:], raw)
	return pk, nil
}

func (pk PublicKey) String() string {
	return ed25519Prefix + base58.Encode(pk[:])
}

type Signature [ed25519.SignatureSize]byte

// VerifyMessage checks a base64 ed25519 signature of message against an
// "ed25519:<base58>" public key.
func VerifyMessage(publicKey string, message []byte, signature string) error {
	pk, err := ParsePublicKey(publicKey)
	if err != nil {
		return err
	}
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("failed to decode signature: %w", err)
	}
	if len(sig) != ed25519.SignatureSize {
		return fmt.Errorf("invalid signature length: %d", len(sig))
	}
	if !ed25519.Verify(pk[:], message, sig) {
		return fmt.Errorf("signature does not match %s", publicKey)
	}
	return nil
}

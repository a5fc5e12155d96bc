// Package keywrap seals the shared group content key for a single member so the
// member's client can unwrap it with its own secret key.
package keywrap

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/nacl/box"
)

const (
	keySize   = 32
	nonceSize = 24
)

var ErrInvalidWrappedKey = errors.New("invalid wrapped key")

// Wrap seals the base64 group key to the member's "ed25519:<base58>" public key with an
// ephemeral nacl box keypair. The result is base64(ephemeralPublicKey | nonce | ciphertext).
func Wrap(groupKey, memberPublicKey string) (string, error) {
	return wrap(rand.Reader, groupKey, memberPublicKey)
}

func wrap(random io.Reader, groupKey, memberPublicKey string) (string, error) {
	keyBytes, err := base64.StdEncoding.DecodeString(groupKey)
	if err != nil {
		return "", fmt.Errorf("failed to decode group key: %w", err)
	}
	if len(keyBytes) != keySize {
		return "", fmt.Errorf("invalid group key length: %d", len(keyBytes))
	}

	peer, err := decodePublicKey(memberPublicKey)
	if err != nil {
		return "", err
	}

	ephemeralPublic, ephemeralPrivate, err := box.GenerateKey(random)
	if err != nil {
		return "", fmt.Errorf("failed to generate ephemeral key: %w", err)
	}
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(random, nonce[:]); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	out := make([]byte, 0, keySize+nonceSize+len(keyBytes)+box.Overhead)
	out = append(out, ephemeralPublic[:]...)
	out = append(out, nonce[:]...)
	out = box.Seal(out, keyBytes, &nonce, peer, ephemeralPrivate)

	return base64.StdEncoding.EncodeToString(out), nil
}

// Unwrap opens a wrapped key with the member's box secret key and returns the group key in base64.
func Unwrap(wrapped string, memberSecretKey *[keySize]byte) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(wrapped)
	if err != nil {
		return "", fmt.Errorf("failed to decode wrapped key: %w", err)
	}
	if len(raw) < keySize+nonceSize+box.Overhead {
		return "", ErrInvalidWrappedKey
	}
	var ephemeralPublic [keySize]byte
	var nonce [nonceSize]byte
	copy(ephemeralPublic[:], raw[:keySize])
	copy(nonce[:], raw[keySize:keySize+nonceSize])

	plain, ok := box.Open(nil, raw[keySize+nonceSize:], &nonce, &ephemeralPublic, memberSecretKey)
	if !ok {
		return "", ErrInvalidWrappedKey
	}
	return base64.StdEncoding.EncodeToString(plain), nil
}

func decodePublicKey(publicKey string) (*[keySize]byte, error) {
	encoded, found := strings.CutPrefix(publicKey, "ed25519:")
	if !found {
		return nil, fmt.Errorf("invalid public key format: %s", publicKey)
	}
	raw, err := base58.Decode(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode public key: %w", err)
	}
	if len(raw) != keySize {
		return nil, fmt.Errorf("invalid public key length: %d", len(raw))
	}
	var key [keySize]byte
	copy(key[:], raw)
	return &key, nil
}

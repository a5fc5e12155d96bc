package payments

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"fmt"

	"github.com/thousandfans/fanclub/internal/models"
)

// VerifySignature checks a Circle webhook: signature is the base64 ASN.1 ECDSA signature
// of the SHA-256 of the raw body, publicKey is the base64 DER key for the notification key id.
func VerifySignature(publicKey, signature string, body []byte) error {
	der, err := base64.StdEncoding.DecodeString(publicKey)
	if err != nil {
		return fmt.Errorf("failed to decode notification public key: %w", err)
	}
	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return fmt.Errorf("failed to parse notification public key: %w", err)
	}
	key, ok := parsed.(*ecdsa.PublicKey)
	if !ok {
		return fmt.Errorf("notification public key is %T, want ECDSA", parsed)
	}

	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("%w: signature is not base64", models.ErrInvalidSignature)
	}
	digest := sha256.Sum256(body)
	if !ecdsa.VerifyASN1(key, digest[:], sig) {
		return models.ErrInvalidSignature
	}
	return nil
}

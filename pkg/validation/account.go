package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	// DefaultAccountSuffix is the parent account every named fan account lives under.
	DefaultAccountSuffix = "1000fans.near"

	// PublicKeyPrefix is the curve tag NEAR puts in front of a base58 ed25519 key.
	PublicKeyPrefix = "ed25519:"
	// PublicKeyLength is the total length of an encoded key, prefix included.
	PublicKeyLength = 52

	MinFundingAmount = 5
	MaxFundingAmount = 20
)

var (
	implicitAccountRe = regexp.MustCompile(`^[a-f0-9]{64}$`)
	nearAccountRe     = regexp.MustCompile(`^(([a-z\d]+[-_])*[a-z\d]+\.)*([a-z\d]+[-_])*[a-z\d]+$`)
)

// validate is shared; validator caches struct metadata and is safe for concurrent use.
var validate = validator.New(validator.WithRequiredStructEnabled())

// AccountValidator checks account ids against a fixed parent suffix.
type AccountValidator struct {
	suffix string
	named  *regexp.Regexp
}

// NewAccountValidator builds a validator for "<name>.<suffix>" accounts.
// An empty suffix falls back to DefaultAccountSuffix.
func NewAccountValidator(suffix string) *AccountValidator {
	if suffix == "" {
		suffix = DefaultAccountSuffix
	}
	return &AccountValidator{
		suffix: suffix,
		named:  regexp.MustCompile(`^[a-z0-9_-]{2,64}\.` + regexp.QuoteMeta(suffix) + `$`),
	}
}

// Suffix returns the parent account suffix.
func (v *AccountValidator) Suffix() string {
	return v.suffix
}

// ValidateAccountID accepts a named sub-account of the suffix or a 64-hex implicit account.
func (v *AccountValidator) ValidateAccountID(accountID string) error {
	if accountID == "" {
		return fmt.Errorf("account ID cannot be empty")
	}
	if v.named.MatchString(accountID) || implicitAccountRe.MatchString(accountID) {
		return nil
	}
	return fmt.Errorf("invalid account ID format: %s", accountID)
}

// ValidateNearAccountID accepts any well-formed NEAR account id, including accounts
// outside the suffix that users bring from their own wallet.
func ValidateNearAccountID(accountID string) error {
	if len(accountID) < 2 || len(accountID) > 64 || !nearAccountRe.MatchString(accountID) {
		return fmt.Errorf("invalid account ID format: %s", accountID)
	}
	return nil
}

// IsImplicitAccount reports whether the id is a public-key-derived account.
func IsImplicitAccount(accountID string) bool {
	return implicitAccountRe.MatchString(accountID)
}

// ValidatePublicKey checks the "ed25519:<base58>" shape with a fixed total length.
func ValidatePublicKey(publicKey string) error {
	if !strings.HasPrefix(publicKey, PublicKeyPrefix) {
		return fmt.Errorf("invalid public key format: %s", publicKey)
	}
	if len(publicKey) != PublicKeyLength {
		return fmt.Errorf("invalid public key length: expected %d characters, got %d", PublicKeyLength, len(publicKey))
	}
	return nil
}

// ValidateEmail accepts a bare addr-spec. Display-name forms such as
// "Fan <fan@example.com>" are rejected so one mailbox has one spelling.
func ValidateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("email cannot be empty")
	}
	if err := validate.Var(email, "required,email"); err != nil {
		return fmt.Errorf("invalid email: %s", email)
	}
	return nil
}

// ValidateFundingAmount enforces the USD range accepted for funding.
func ValidateFundingAmount(amount float64) error {
	rule := fmt.Sprintf("gte=%d,lte=%d", MinFundingAmount, MaxFundingAmount)
	if err := validate.Var(amount, rule); err != nil {
		return fmt.Errorf("amount must be between %d and %d USD", MinFundingAmount, MaxFundingAmount)
	}
	return nil
}

// ValidateCard checks card number (16 digits, Luhn), MM/YY expiry and CVV formats.
func ValidateCard(number, expiry, cvv string) error {
	if err := validate.Var(NormalizeCardNumber(number), "required,len=16,number,credit_card"); err != nil {
		return fmt.Errorf("invalid card number (16 digits required)")
	}
	if err := validate.Var(expiry, "required,len=5,datetime=01/06"); err != nil {
		return fmt.Errorf("invalid expiry date (MM/YY)")
	}
	if err := validate.Var(cvv, "required,number,min=3,max=4"); err != nil {
		return fmt.Errorf("invalid CVV (3-4 digits required)")
	}
	return nil
}

// NormalizeEmail trims and lower-cases an address so lookups match however it was typed.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizeCardNumber strips whitespace from a card number.
func NormalizeCardNumber(number string) string {
	return strings.Join(strings.Fields(number), "")
}

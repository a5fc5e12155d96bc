package models

import "time"

// Account is a fan account record.
type Account struct {
	// ID is the surrogate primary key.
	ID int64 `json:"-" gorm:"column:id;primaryKey;autoIncrement"`
	// AccountID is the chain account name or the public-key-derived implicit id.
	AccountID string `json:"accountId" gorm:"column:account_id;index;not null"`
	// Email is the address used with the custodial login provider. Empty for wallet users.
	Email string `json:"email,omitempty" gorm:"column:email;index"`
	// PublicKey is the "ed25519:<base58>" key the account was created with.
	PublicKey string `json:"publicKey,omitempty" gorm:"column:public_key;index"`
	// TokenID is the membership token minted to the account.
	TokenID string `json:"tokenId,omitempty" gorm:"column:token_id"`
	// IsGroupMember is set once the account was added to the group contract.
	IsGroupMember bool `json:"isGroupMember" gorm:"column:is_group_member"`
	// WrappedKey is the group content key sealed to PublicKey.
	WrappedKey string `json:"wrappedKey,omitempty" gorm:"column:wrapped_key"`
	CreatedAt  time.Time `json:"createdAt" gorm:"column:created_at"`
	UpdatedAt  time.Time `json:"updatedAt" gorm:"column:updated_at"`
}

// AccountQuery selects accounts by identity. Empty fields are ignored.
type AccountQuery struct {
	AccountID string
	Email     string
	PublicKey string
}

// IsEmpty reports whether no identity field is set.
func (q AccountQuery) IsEmpty() bool {
	return q.AccountID == "" && q.Email == "" && q.PublicKey == ""
}

// ConflictField names the identity field of q that the existing account shares.
func (q AccountQuery) ConflictField(existing *Account) (field, value string) {
	switch {
	case q.Email != "" && existing.Email == q.Email:
		return "email", q.Email
	case q.PublicKey != "" && existing.PublicKey == q.PublicKey:
		return "publicKey", q.PublicKey
	default:
		return "accountId", existing.AccountID
	}
}

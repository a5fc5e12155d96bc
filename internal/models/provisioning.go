package models

import "time"

// ProvisioningStep is the cursor of a provisioning run: the last step that completed.
type ProvisioningStep int

const (
	StepStarted ProvisioningStep = iota
	StepPaymentChecked
	StepIdentityChecked
	StepAccountCreated
	StepTokenMinted
	StepGroupJoined
	StepRecordPersisted
	StepCustodyReleased
)

func (s ProvisioningStep) String() string {
	switch s {
	case StepStarted:
		return "started"
	case StepPaymentChecked:
		return "payment_checked"
	case StepIdentityChecked:
		return "identity_checked"
	case StepAccountCreated:
		return "account_created"
	case StepTokenMinted:
		return "token_minted"
	case StepGroupJoined:
		return "group_joined"
	case StepRecordPersisted:
		return "record_persisted"
	case StepCustodyReleased:
		return "custody_released"
	}
	return "unknown"
}

// MayHoldChainAccount reports whether a run interrupted at this cursor may have left a
// chain account behind that no account record points at. A run at StepIdentityChecked
// may have crashed between sending the create transaction and advancing the cursor.
func (s ProvisioningStep) MayHoldChainAccount() bool {
	return s >= StepIdentityChecked && s < StepRecordPersisted
}

type RunState string

const (
	RunRunning     RunState = "running"
	RunCompleted   RunState = "completed"
	RunFailed      RunState = "failed"
	RunCompensated RunState = "compensated"
	// RunOrphaned means compensation was attempted and failed; the chain account is left behind.
	RunOrphaned RunState = "orphaned"
)

// ProvisioningRun is the persisted log of one provisioning workflow invocation.
type ProvisioningRun struct {
	ID        string           `json:"id" gorm:"column:id;primaryKey;size:36"`
	AccountID string           `json:"accountId" gorm:"column:account_id;index;not null"`
	PublicKey string           `json:"publicKey" gorm:"column:public_key"`
	Email     string           `json:"email" gorm:"column:email"`
	PaymentID string           `json:"paymentId,omitempty" gorm:"column:payment_id"`
	Cursor    ProvisioningStep `json:"cursor" gorm:"column:cursor"`
	State     RunState         `json:"state" gorm:"column:state;index"`
	TokenID   string           `json:"tokenId,omitempty" gorm:"column:token_id"`
	LastError string           `json:"lastError,omitempty" gorm:"column:last_error"`
	CreatedAt time.Time        `json:"createdAt" gorm:"column:created_at"`
	UpdatedAt time.Time        `json:"updatedAt" gorm:"column:updated_at;index"`
}

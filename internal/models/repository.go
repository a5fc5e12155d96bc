package models

import (
	"context"
	"time"
)

type Repository interface {
	// FindAccount returns the account matching every non-empty field of q.
	FindAccount(ctx context.Context, q AccountQuery) (*Account, error)
	// FindAccountByAnyIdentity returns an account matching any non-empty field of q.
	FindAccountByAnyIdentity(ctx context.Context, q AccountQuery) (*Account, error)
	CreateAccount(ctx context.Context, account *Account) error
	SaveAccount(ctx context.Context, account *Account) error

	CreatePayment(ctx context.Context, payment *Payment) error
	GetPayment(ctx context.Context, reference string) (*Payment, error)
	// UpsertPayment inserts the payment or refreshes the status of an existing one.
	UpsertPayment(ctx context.Context, payment *Payment) error
	UpdatePaymentStatus(ctx context.Context, update PaymentUpdate) error
	UpdatePayoutStatus(ctx context.Context, reference, status string) error
	SetPaymentTransfer(ctx context.Context, reference, transferID string) error

	CreateRun(ctx context.Context, run *ProvisioningRun) error
	UpdateRun(ctx context.Context, run *ProvisioningRun) error
	// StaleRuns returns running runs last touched before the given time.
	StaleRuns(ctx context.Context, before time.Time) ([]*ProvisioningRun, error)

	AcquireLock(ctx context.Context, name, instanceID string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, name, instanceID string) error

	Close() error
}

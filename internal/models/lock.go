package models

// AppLock is a lease row in the database. The provisioning reconciler takes one
// before compensating stale runs so that only one instance does it at a time.
type AppLock struct {
	// LockName identifies the guarded job, e.g. "provisioning_reconciler".
	LockName string `gorm:"column:lock_name;primaryKey;size:255"`
	// InstanceID is the holder; a holder may renew its own lease before expiry.
	InstanceID string `gorm:"column:instance_id;size:255;not null"`
	// AcquiredAt and ExpiresAt are unix seconds. Another instance may take the
	// lease once ExpiresAt has passed.
	AcquiredAt int64 `gorm:"column:acquired_at;not null;index"`
	ExpiresAt  int64 `gorm:"column:expires_at;not null;index"`
}

// TableName pins the lease table name.
func (AppLock) TableName() string {
	return "app_locks"
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormLogger "gorm.io/gorm/logger"

	"github.com/thousandfans/fanclub/internal/models"
	"github.com/thousandfans/fanclub/pkg/logger"
)

// PostgresDB is the gorm backed repository. The connection is opened on first use so a
// missing DATABASE_URL fails the request that needs it instead of the process.
type PostgresDB struct {
	logger *logger.Logger
	dsn    string

	mu   sync.Mutex
	conn *gorm.DB
}

func NewPostgresDB(dsn string, logger *logger.Logger) *PostgresDB {
	return &PostgresDB{dsn: dsn, logger: logger}
}

// NewPostgresDBFromConn wraps an already opened connection. Migrations are not run.
func NewPostgresDBFromConn(conn *gorm.DB, logger *logger.Logger) *PostgresDB {
	return &PostgresDB{conn: conn, logger: logger}
}

func (db *PostgresDB) session(ctx context.Context) (*gorm.DB, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.conn != nil {
		return db.conn.WithContext(ctx), nil
	}
	if db.dsn == "" {
		return nil, models.MissingSetting("DATABASE_URL")
	}

	// Configure GORM logger to suppress "record not found" messages
	gormLog := gormLogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	conn, err := gorm.Open(postgres.Open(db.dsn), &gorm.Config{Logger: gormLog, SkipDefaultTransaction: true})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	if err := conn.AutoMigrate(&models.Account{}, &models.Payment{}, &models.ProvisioningRun{}, &models.AppLock{}); err != nil {
		return nil, fmt.Errorf("failed to auto-migrate models: %w", err)
	}
	db.logger.Info("Successfully connected to PostgreSQL")
	db.conn = conn
	return conn.WithContext(ctx), nil
}

func (db *PostgresDB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.conn == nil {
		return nil
	}
	sqlDB, err := db.conn.DB()
	if err != nil {
		return fmt.Errorf("failed to get database connection: %w", err)
	}
	return sqlDB.Close()
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.ErrNotFound
	}
	return err
}

func (db *PostgresDB) FindAccount(ctx context.Context, q models.AccountQuery) (*models.Account, error) {
	if q.IsEmpty() {
		return nil, models.NewValidationError("at least one identity field is required")
	}
	conn, err := db.session(ctx)
	if err != nil {
		return nil, err
	}

	// Struct conditions skip zero values, so only the provided fields are matched.
	var account models.Account
	cond := &models.Account{AccountID: q.AccountID, Email: q.Email, PublicKey: q.PublicKey}
	if err := conn.Where(cond).First(&account).Error; err != nil {
		if err = notFound(err); errors.Is(err, models.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	return &account, nil
}

func (db *PostgresDB) FindAccountByAnyIdentity(ctx context.Context, q models.AccountQuery) (*models.Account, error) {
	if q.IsEmpty() {
		return nil, models.NewValidationError("at least one identity field is required")
	}
	conn, err := db.session(ctx)
	if err != nil {
		return nil, err
	}

	var conds []string
	var args []interface{}
	if q.Email != "" {
		conds = append(conds, "email = ?")
		args = append(args, q.Email)
	}
	if q.PublicKey != "" {
		conds = append(conds, "public_key = ?")
		args = append(args, q.PublicKey)
	}
	if q.AccountID != "" {
		conds = append(conds, "account_id = ?")
		args = append(args, q.AccountID)
	}

	var account models.Account
	if err := conn.Where(strings.Join(conds, " OR "), args...).First(&account).Error; err != nil {
		if err = notFound(err); errors.Is(err, models.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to check existing account: %w", err)
	}
	return &account, nil
}

func (db *PostgresDB) CreateAccount(ctx context.Context, account *models.Account) error {
	conn, err := db.session(ctx)
	if err != nil {
		return err
	}
	if err := conn.Create(account).Error; err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

func (db *PostgresDB) SaveAccount(ctx context.Context, account *models.Account) error {
	conn, err := db.session(ctx)
	if err != nil {
		return err
	}
	if err := conn.Save(account).Error; err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	return nil
}

func (db *PostgresDB) CreatePayment(ctx context.Context, payment *models.Payment) error {
	conn, err := db.session(ctx)
	if err != nil {
		return err
	}
	db.logger.Debug("Adding payment", "reference", payment.Reference, "provider", payment.Provider)
	if err := conn.Create(payment).Error; err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

func (db *PostgresDB) GetPayment(ctx context.Context, reference string) (*models.Payment, error) {
	conn, err := db.session(ctx)
	if err != nil {
		return nil, err
	}
	var payment models.Payment
	if err := conn.Where("reference = ?", reference).First(&payment).Error; err != nil {
		if err = notFound(err); errors.Is(err, models.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return &payment, nil
}

func (db *PostgresDB) UpsertPayment(ctx context.Context, payment *models.Payment) error {
	conn, err := db.session(ctx)
	if err != nil {
		return err
	}
	err = conn.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "reference"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "provider_status", "updated_at"}),
	}).Create(payment).Error
	if err != nil {
		return fmt.Errorf("failed to upsert payment: %w", err)
	}
	return nil
}

func (db *PostgresDB) UpdatePaymentStatus(ctx context.Context, update models.PaymentUpdate) error {
	return db.updatePayment(ctx, update.Reference, map[string]interface{}{
		"status":          update.Status,
		"provider_status": update.ProviderStatus,
	})
}

func (db *PostgresDB) UpdatePayoutStatus(ctx context.Context, reference, status string) error {
	return db.updatePayment(ctx, reference, map[string]interface{}{"payout_status": status})
}

func (db *PostgresDB) SetPaymentTransfer(ctx context.Context, reference, transferID string) error {
	return db.updatePayment(ctx, reference, map[string]interface{}{"transfer_id": transferID})
}

func (db *PostgresDB) updatePayment(ctx context.Context, reference string, values map[string]interface{}) error {
	conn, err := db.session(ctx)
	if err != nil {
		return err
	}
	values["updated_at"] = time.Now()
	res := conn.Model(&models.Payment{}).Where("reference = ?", reference).Updates(values)
	if res.Error != nil {
		return fmt.Errorf("failed to update payment %s: %w", reference, res.Error)
	}
	if res.RowsAffected == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (db *PostgresDB) CreateRun(ctx context.Context, run *models.ProvisioningRun) error {
	conn, err := db.session(ctx)
	if err != nil {
		return err
	}
	if err := conn.Create(run).Error; err != nil {
		return fmt.Errorf("failed to create provisioning run: %w", err)
	}
	return nil
}

func (db *PostgresDB) UpdateRun(ctx context.Context, run *models.ProvisioningRun) error {
	conn, err := db.session(ctx)
	if err != nil {
		return err
	}
	res := conn.Model(&models.ProvisioningRun{}).Where("id = ?", run.ID).Updates(map[string]interface{}{
		"cursor":     run.Cursor,
		"state":      run.State,
		"token_id":   run.TokenID,
		"last_error": run.LastError,
		"updated_at": time.Now(),
	})
	if res.Error != nil {
		return fmt.Errorf("failed to update provisioning run %s: %w", run.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (db *PostgresDB) StaleRuns(ctx context.Context, before time.Time) ([]*models.ProvisioningRun, error) {
	conn, err := db.session(ctx)
	if err != nil {
		return nil, err
	}
	var runs []*models.ProvisioningRun
	if err := conn.Where("state = ? AND updated_at < ?", models.RunRunning, before).Order("updated_at").Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("failed to list stale provisioning runs: %w", err)
	}
	return runs, nil
}

// AcquireLock takes or renews the named lease. It succeeds when the lease is free,
// expired or already held by instanceID.
func (db *PostgresDB) AcquireLock(ctx context.Context, name, instanceID string, ttl time.Duration) (bool, error) {
	conn, err := db.session(ctx)
	if err != nil {
		return false, err
	}
	now := time.Now()
	lock := &models.AppLock{
		LockName:   name,
		InstanceID: instanceID,
		AcquiredAt: now.Unix(),
		ExpiresAt:  now.Add(ttl).Unix(),
	}
	res := conn.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "lock_name"}},
		DoUpdates: clause.AssignmentColumns([]string{"instance_id", "acquired_at", "expires_at"}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Or(
				clause.Lt{Column: clause.Column{Table: "app_locks", Name: "expires_at"}, Value: now.Unix()},
				clause.Eq{Column: clause.Column{Table: "app_locks", Name: "instance_id"}, Value: instanceID},
			),
		}},
	}).Create(lock)
	if res.Error != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", name, res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (db *PostgresDB) ReleaseLock(ctx context.Context, name, instanceID string) error {
	conn, err := db.session(ctx)
	if err != nil {
		return err
	}
	if err := conn.Where("lock_name = ? AND instance_id = ?", name, instanceID).Delete(&models.AppLock{}).Error; err != nil {
		return fmt.Errorf("failed to release lock %s: %w", name, err)
	}
	return nil
}

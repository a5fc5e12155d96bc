package fanclub

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/thousandfans/fanclub/internal/models"
)

const reconcilerLock = "provisioning_reconciler"

// Reconcile finishes or compensates provisioning runs that stopped advancing, e.g.
// because the process died mid-sequence. Only the instance holding the reconciler
// lease does any work.
func (f *Fanclub) Reconcile(ctx context.Context) error {
	acquired, err := f.repo.AcquireLock(ctx, reconcilerLock, f.instanceID, f.config.ReconcileInterval)
	if err != nil {
		return fmt.Errorf("failed to acquire reconciler lock: %w", err)
	}
	if !acquired {
		f.logger.Debug("Reconciler lock held by another instance")
		return nil
	}
	defer func() {
		if err := f.repo.ReleaseLock(context.WithoutCancel(ctx), reconcilerLock, f.instanceID); err != nil {
			f.logger.Warn("Failed to release reconciler lock", "error", err)
		}
	}()

	runs, err := f.repo.StaleRuns(ctx, time.Now().Add(-f.config.ProvisioningStale))
	if err != nil {
		return err
	}
	for _, run := range runs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.reconcileRun(ctx, run)
	}
	return nil
}

func (f *Fanclub) reconcileRun(ctx context.Context, run *models.ProvisioningRun) {
	f.logger.Info("Reconciling stale provisioning run", "run", run.ID, "account", run.AccountID, "step", run.Cursor.String())

	switch {
	case run.Cursor == models.StepRecordPersisted:
		if err := f.chain.ReleaseCustody(ctx, run.AccountID); err != nil {
			f.logger.Warn("Failed to release custody key", "run", run.ID, "account", run.AccountID, "error", err)
			return
		}
		run.Cursor = models.StepCustodyReleased
		run.State = models.RunCompleted
		f.saveRun(ctx, run)

	case run.Cursor.MayHoldChainAccount():
		_, err := f.chain.AccountBalance(ctx, run.AccountID)
		if errors.Is(err, models.ErrNotFound) {
			run.State = models.RunCompensated
			run.LastError = "interrupted at " + run.Cursor.String() + ", no chain account"
			f.saveRun(ctx, run)
			return
		}
		if err != nil {
			f.logger.Warn("Failed to look up chain account", "run", run.ID, "account", run.AccountID, "error", err)
			return
		}
		f.compensate(ctx, run, fmt.Errorf("interrupted at %s", run.Cursor))

	default:
		run.State = models.RunFailed
		run.LastError = "interrupted at " + run.Cursor.String()
		f.saveRun(ctx, run)
	}
}

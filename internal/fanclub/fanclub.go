package fanclub

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/thousandfans/fanclub/internal/config"
	"github.com/thousandfans/fanclub/internal/metrics"
	"github.com/thousandfans/fanclub/internal/models"
	"github.com/thousandfans/fanclub/pkg/logger"
	"github.com/thousandfans/fanclub/pkg/poll"
	"github.com/thousandfans/fanclub/pkg/validation"
)

// pollPolicy holds the bounded polling loops used against the card processor.
type pollPolicy struct {
	payment   poll.Config
	recipient poll.Config
	transfer  poll.Config
}

var defaultPolls = pollPolicy{
	payment:   poll.Config{Attempts: 10, Interval: 2 * time.Second},
	recipient: poll.Config{Attempts: 12, Interval: 5 * time.Second},
	transfer:  poll.Config{Attempts: 12, Interval: 2 * time.Second},
}

// Fanclub is the main struct for the fanclub backend.
// It owns account provisioning, the membership gate and payment tracking,
// and serves all business logic behind the HTTP API.
type Fanclub struct {
	logger *logger.Logger
	config *config.Config

	repo        models.Repository
	chain       models.BlockchainService
	cards       models.CardProcessor
	onramp      models.OnrampProvider
	storage     models.ObjectStorage
	notificator models.NotificationService
	metrics     metrics.MetricsCollector

	accounts   *validation.AccountValidator
	challenges *challengeStore
	instanceID string
	polls      pollPolicy

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewFanclub creates a new Fanclub instance
func NewFanclub(
	repo models.Repository,
	chain models.BlockchainService,
	cards models.CardProcessor,
	onramp models.OnrampProvider,
	storage models.ObjectStorage,
	notificator models.NotificationService,
	metrics metrics.MetricsCollector,
	logger *logger.Logger,
	config *config.Config,
) *Fanclub {
	return &Fanclub{
		repo:        repo,
		chain:       chain,
		cards:       cards,
		onramp:      onramp,
		storage:     storage,
		notificator: notificator,
		metrics:     metrics,
		logger:      logger,
		config:      config,
		accounts:    validation.NewAccountValidator(config.AccountSuffix),
		challenges:  newChallengeStore(),
		instanceID:  uuid.NewString(),
		polls:       defaultPolls,
		stop:        make(chan struct{}),
	}
}

// Start runs the provisioning reconciler until Stop is called.
func (f *Fanclub) Start() {
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		ticker := time.NewTicker(f.config.ReconcileInterval)
		defer ticker.Stop()
		for {
			select {
			case <-f.stop:
				return
			case <-ticker.C:
				f.logger.Debug("Reconciling stale provisioning runs")
				ctx, cancel := context.WithTimeout(context.Background(), f.config.ReconcileInterval)
				if err := f.Reconcile(ctx); err != nil {
					f.logger.Error("Failed to reconcile provisioning runs", "error", err)
				}
				cancel()
			}
		}
	}()
}

// Stop ends the reconciler and waits for background sweeps to finish.
func (f *Fanclub) Stop() {
	f.stopOnce.Do(func() { close(f.stop) })
	f.wg.Wait()
}

func (f *Fanclub) alert(ctx context.Context, subject, message string) {
	f.notificator.SendAlert(ctx, &models.Alert{Subject: subject, Message: message})
}

func formatUSD(amount float64) string {
	return strconv.FormatFloat(amount, 'f', 2, 64)
}

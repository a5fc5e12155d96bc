package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v2"

	"github.com/thousandfans/fanclub/internal/blockchain"
	"github.com/thousandfans/fanclub/internal/catalog"
	"github.com/thousandfans/fanclub/internal/config"
	"github.com/thousandfans/fanclub/internal/fanclub"
	"github.com/thousandfans/fanclub/internal/http_api"
	"github.com/thousandfans/fanclub/internal/metrics"
	"github.com/thousandfans/fanclub/internal/notificator"
	"github.com/thousandfans/fanclub/internal/payments"
	"github.com/thousandfans/fanclub/internal/repository"
	"github.com/thousandfans/fanclub/internal/storage"
	"github.com/thousandfans/fanclub/pkg/logger"
)

func main() {
	app := &cli.App{
		Name:  "fanclub",
		Usage: "fanclub is the 1000fans membership backend",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "database-url", Aliases: []string{"d"}, Usage: "Postgres connection string"},
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Usage: "API port"},
			&cli.StringFlag{Name: "near-rpc-url", Aliases: []string{"r"}, Usage: "NEAR RPC endpoint"},
			&cli.StringFlag{Name: "relayer-account-id", Usage: "Relayer account that creates fan accounts"},
			&cli.StringFlag{Name: "nft-contract-id", Aliases: []string{"n"}, Usage: "Membership NFT contract"},
			&cli.StringFlag{Name: "group-contract-id", Aliases: []string{"g"}, Usage: "Group membership contract"},
			&cli.StringFlag{Name: "treasury-address", Aliases: []string{"t"}, Usage: "Treasury address for swept funds"},
			&cli.StringFlag{Name: "s3-bucket", Aliases: []string{"b"}, Usage: "Media bucket"},
			&cli.BoolFlag{Name: "development", Aliases: []string{"D"}, Usage: "Development mode"},
		},
		Action: func(c *cli.Context) error {
			return run(c)
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) error {
	// Load configuration from environment variables
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %v", err)
	}

	// Override with flags if set
	if c.IsSet("database-url") {
		cfg.DatabaseURL = c.String("database-url")
	}
	if c.IsSet("port") {
		cfg.APIPort = c.Int("port")
	}
	if c.IsSet("near-rpc-url") {
		cfg.NearRPCURL = c.String("near-rpc-url")
	}
	if c.IsSet("relayer-account-id") {
		cfg.RelayerAccountID = c.String("relayer-account-id")
	}
	if c.IsSet("nft-contract-id") {
		cfg.NFTContractID = c.String("nft-contract-id")
	}
	if c.IsSet("group-contract-id") {
		cfg.GroupContractID = c.String("group-contract-id")
	}
	if c.IsSet("treasury-address") {
		cfg.TreasuryAddress = c.String("treasury-address")
	}
	if c.IsSet("s3-bucket") {
		cfg.S3Bucket = c.String("s3-bucket")
	}
	if c.IsSet("development") {
		cfg.Development = c.Bool("development")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %v", err)
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Development)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %v", err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database; the connection is opened by the first request that needs it
	db := repository.NewPostgresDB(cfg.DatabaseURL, log)
	defer db.Close()

	// Initialize blockchain and payment clients
	near := blockchain.NewNear(blockchain.NewRPCClient(cfg.NearRPCURL), log, cfg)
	circle := payments.NewCircle(cfg.CircleAPIKey, cfg.CircleBaseURL, log)
	stripe := payments.NewStripe(cfg.StripeSecretKey, cfg.StripeBaseURL, log)

	// Initialize media storage and catalog
	objects := storage.NewS3Storage(cfg, log)
	media := catalog.NewCatalogService(objects, log, cfg)
	if cfg.S3Bucket != "" {
		media.StartPeriodicUpdate()
		defer media.Stop()
	} else {
		log.Warn("S3_BUCKET is not set, media catalog and gated content are disabled")
	}

	// Initialize notificator
	alerts := newNotificator(ctx, cfg, log)

	// Initialize metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(registry)

	// Create fanclub instance
	app := fanclub.NewFanclub(db, near, circle, stripe, objects, alerts, collector, log, cfg)
	app.Start()
	defer app.Stop()

	apiServer := http_api.NewHTTPServer(app, media, collector, registry, cfg, log)
	go apiServer.Start()

	<-ctx.Done()
	log.Info("Shutdown signal received")
	if err := apiServer.Shutdown(); err != nil {
		log.Error("Failed to shut down HTTP server", "error", err)
	}
	return nil
}

// newNotificator wires every alert channel that has settings.
func newNotificator(ctx context.Context, cfg *config.Config, log *logger.Logger) *notificator.Notificator {
	var telegram *notificator.TelegramNotificator
	if cfg.TelegramBotToken != "" {
		var err error
		telegram, err = notificator.NewTelegramNotificator(log, cfg.TelegramBotToken, cfg.TelegramAlertChatID)
		if err != nil {
			log.Error("Telegram alerts disabled", "error", err)
			telegram = nil
		} else {
			go telegram.Start(ctx)
		}
	}

	var email *notificator.EmailNotificator
	if cfg.SMTPHost != "" && cfg.AlertEmailTo != "" {
		email = notificator.NewEmailNotificator(log, cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword, cfg.SMTPSender, cfg.AlertEmailTo)
	}

	return notificator.NewNotificator(log, telegram, email)
}

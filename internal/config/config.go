package config

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// yoctoPerNear is 10^24, the number of yoctoNEAR in one NEAR.
var yoctoPerNear = new(big.Int).Exp(big.NewInt(10), big.NewInt(24), nil)

type Config struct {
	Development bool
	// API configuration
	APIPort        int
	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int

	// Database configuration
	DatabaseURL string

	// Blockchain configuration
	NearRPCURL          string
	NetworkID           string
	AccountSuffix       string
	RelayerAccountID    string
	RelayerPrivateKey   string
	NFTContractID       string
	GroupContractID     string
	GroupKey            string
	InitialBalance      *big.Int
	MinRelayerBalance   *big.Int
	MintDeposit         *big.Int
	TokenTitle          string
	TokenMediaURL       string
	ProvisioningStale   time.Duration
	ReconcileInterval   time.Duration
	CustodialAuthClient string

	// Payment configuration
	CircleAPIKey    string
	CircleBaseURL   string
	StripeSecretKey string
	StripeBaseURL   string
	TreasuryAddress string

	// Object storage configuration
	S3Bucket          string
	S3Region          string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string
	CatalogRefresh    time.Duration
	PresignExpiry     time.Duration

	// SMTP configuration
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	SMTPSender   string
	AlertEmailTo string

	// Notification configuration
	TelegramBotToken    string
	TelegramAlertChatID string
}

// LoadConfig loads the configuration from environment variables
func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		Development:    getEnvAsBool("DEVELOPMENT", false),
		APIPort:        getEnvAsInt("API_PORT", 3000),
		CORSOrigins:    getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		RateLimitRPS:   getEnvAsFloat("RATE_LIMIT_RPS", 5),
		RateLimitBurst: getEnvAsInt("RATE_LIMIT_BURST", 20),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		NearRPCURL:          getEnv("NEAR_RPC_URL", "https://rpc.mainnet.near.org"),
		NetworkID:           getEnv("NEAR_NETWORK_ID", "mainnet"),
		AccountSuffix:       getEnv("ACCOUNT_SUFFIX", "1000fans.near"),
		RelayerAccountID:    getEnv("RELAYER_ACCOUNT_ID", "1000fans.near"),
		RelayerPrivateKey:   getEnv("RELAYER_PRIVATE_KEY", ""),
		NFTContractID:       getEnv("NFT_CONTRACT_ID", "theosis.1000fans.near"),
		GroupContractID:     getEnv("GROUP_CONTRACT_ID", ""),
		GroupKey:            getEnv("GROUP_KEY", ""),
		InitialBalance:      getEnvAsNear("INITIAL_BALANCE_NEAR", "0.1"),
		MinRelayerBalance:   getEnvAsNear("MIN_RELAYER_BALANCE_NEAR", "1"),
		MintDeposit:         getEnvAsNear("MINT_DEPOSIT_NEAR", "0.1"),
		TokenTitle:          getEnv("TOKEN_TITLE", "1000fans membership"),
		TokenMediaURL:       getEnv("TOKEN_MEDIA_URL", ""),
		ProvisioningStale:   getEnvAsDuration("PROVISIONING_STALE_AFTER", 10*time.Minute),
		ReconcileInterval:   getEnvAsDuration("RECONCILE_INTERVAL", 5*time.Minute),
		CustodialAuthClient: getEnv("WEB3AUTH_CLIENT_ID", ""),

		CircleAPIKey:    getEnv("CIRCLE_API_KEY", ""),
		CircleBaseURL:   getEnv("CIRCLE_BASE_URL", "https://api.circle.com"),
		StripeSecretKey: getEnv("STRIPE_SECRET_KEY", ""),
		StripeBaseURL:   getEnv("STRIPE_BASE_URL", "https://api.stripe.com"),
		TreasuryAddress: getEnv("TREASURY_ADDRESS", "1000fans.near"),

		S3Bucket:          getEnv("S3_BUCKET", ""),
		S3Region:          getEnv("S3_REGION", "eu-north-1"),
		S3Endpoint:        getEnv("S3_ENDPOINT", ""),
		S3AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
		S3SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
		CatalogRefresh:    getEnvAsDuration("CATALOG_REFRESH_INTERVAL", time.Hour),
		PresignExpiry:     getEnvAsDuration("PRESIGN_EXPIRY", 15*time.Minute),

		SMTPHost:     getEnv("SMTP_HOST", ""),
		SMTPPort:     getEnvAsInt("SMTP_PORT", 587),
		SMTPUser:     getEnv("SMTP_USER", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		SMTPSender:   getEnv("SMTP_SENDER", ""),
		AlertEmailTo: getEnv("ALERT_EMAIL_TO", ""),

		TelegramBotToken:    getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramAlertChatID: getEnv("TELEGRAM_ALERT_CHAT_ID", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks only what the process needs to start. Credentials for the database,
// relayer, payment providers and object storage are checked by the request that uses them.
func (c *Config) Validate() error {
	if c.APIPort <= 0 || c.APIPort > 65535 {
		return fmt.Errorf("API_PORT must be between 1 and 65535, got %d", c.APIPort)
	}
	if c.NearRPCURL == "" {
		return fmt.Errorf("NEAR_RPC_URL is required")
	}
	if c.InitialBalance == nil || c.MinRelayerBalance == nil || c.MintDeposit == nil {
		return fmt.Errorf("invalid NEAR amount in configuration")
	}
	if c.ReconcileInterval <= 0 {
		return fmt.Errorf("RECONCILE_INTERVAL must be positive")
	}
	if c.CatalogRefresh <= 0 {
		return fmt.Errorf("CATALOG_REFRESH_INTERVAL must be positive")
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	return nil
}

// ParseNearAmount converts a decimal NEAR string into yoctoNEAR.
func ParseNearAmount(near string) (*big.Int, error) {
	rat, ok := new(big.Rat).SetString(strings.TrimSpace(near))
	if !ok || rat.Sign() < 0 {
		return nil, fmt.Errorf("invalid NEAR amount: %q", near)
	}
	rat.Mul(rat, new(big.Rat).SetInt(yoctoPerNear))
	if !rat.IsInt() {
		return nil, fmt.Errorf("NEAR amount has more than 24 decimals: %q", near)
	}
	return new(big.Int).Set(rat.Num()), nil
}

// Helper functions to read environment variables
func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(name string, defaultValue int) int {
	if valueStr, exists := os.LookupEnv(name); exists {
		if value, err := strconv.Atoi(valueStr); err == nil {
			return value
		}
	}
	return defaultValue
}

func getEnvAsFloat(name string, defaultValue float64) float64 {
	if valueStr, exists := os.LookupEnv(name); exists {
		if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
			return value
		}
	}
	return defaultValue
}

func getEnvAsBool(name string, defaultValue bool) bool {
	if valueStr, exists := os.LookupEnv(name); exists {
		if value, err := strconv.ParseBool(valueStr); err == nil {
			return value
		}
	}
	return defaultValue
}

func getEnvAsDuration(name string, defaultValue time.Duration) time.Duration {
	if valueStr, exists := os.LookupEnv(name); exists {
		if value, err := time.ParseDuration(valueStr); err == nil {
			return value
		}
	}
	return defaultValue
}

func getEnvAsList(name string, defaultValue []string) []string {
	valueStr, exists := os.LookupEnv(name)
	if !exists {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

// getEnvAsNear reads a decimal NEAR amount. An unparsable value yields nil so Validate fails.
func getEnvAsNear(name string, defaultValue string) *big.Int {
	amount, err := ParseNearAmount(getEnv(name, defaultValue))
	if err != nil {
		return nil
	}
	return amount
}

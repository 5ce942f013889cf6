package internal

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Env         string `validate:"oneof=dev prod"`
	LogLevel    string `validate:"oneof=debug info warn error"`
	Port        uint16 `validate:"required"`
	DatabaseURL string
	NATSURL     string
	Stripe      StripeConfig
	Reconcile   ReconcileConfig
}

type StripeConfig struct {
	SecretKey          string `validate:"required"`
	WebhookSecret      string `validate:"required"`
	SignatureTolerance time.Duration
}

// ReconcileConfig tunes the background reconciliation worker.
type ReconcileConfig struct {
	Interval          time.Duration `validate:"min=1s"`
	Staleness         time.Duration `validate:"min=1m"`
	GatewayTimeout    time.Duration `validate:"min=1s"`
	MaxGatewayRetries int           `validate:"min=0,max=10"`
	BatchSize         int           `validate:"min=1,max=1000"`
}

func NewConfig() (*Config, error) {
	// Try to load .env from current directory, then walk up to find it (max 2 levels)
	err := godotenv.Load()
	if err != nil {
		dir, _ := os.Getwd()
		found := false
		for i := 0; i < 2; i++ {
			dir = filepath.Join(dir, "..")
			if err := godotenv.Load(filepath.Join(dir, ".env")); err == nil {
				found = true
				break
			}
		}
		if !found {
			slog.Default().Warn("Warning: .env file not found, using environment variables and defaults")
		}
	}

	cfg := &Config{
		Env:         getEnv("ENV", "dev"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Port:        getEnvInt("PORT", 8080),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		NATSURL:     getEnv("NATS_URL", ""),
		Stripe: StripeConfig{
			SecretKey:          getEnv("STRIPE_SECRET_KEY", "sk_test_your_key_here"),
			WebhookSecret:      getEnv("STRIPE_WEBHOOK_SECRET", "whsec_your_webhook_secret_here"),
			SignatureTolerance: getEnvDuration("STRIPE_SIGNATURE_TOLERANCE", 5*time.Minute),
		},
		Reconcile: ReconcileConfig{
			Interval:          getEnvDuration("RECONCILE_INTERVAL", 5*time.Minute),
			Staleness:         getEnvDuration("RECONCILE_STALENESS", 30*time.Minute),
			GatewayTimeout:    getEnvDuration("RECONCILE_GATEWAY_TIMEOUT", 10*time.Second),
			MaxGatewayRetries: int(getEnvInt("RECONCILE_MAX_GATEWAY_RETRIES", 3)),
			BatchSize:         int(getEnvInt("RECONCILE_BATCH_SIZE", 100)),
		},
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// Placeholder keys are fine in dev, never in prod.
	if cfg.Env == "prod" {
		if cfg.Stripe.SecretKey == "sk_test_your_key_here" {
			return nil, fmt.Errorf("STRIPE_SECRET_KEY must be set in production environment")
		}
		if cfg.Stripe.WebhookSecret == "whsec_your_webhook_secret_here" {
			return nil, fmt.Errorf("STRIPE_WEBHOOK_SECRET must be set in production environment")
		}
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL must be set in production environment")
		}
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue uint16) uint16 {
	if value := os.Getenv(key); value != "" {
		var intValue uint16
		if _, err := fmt.Sscanf(value, "%d", &intValue); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

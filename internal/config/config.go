package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Env         string
	HTTPAddr    string
	DatabaseURL string
	BaseURL     string
	Redis       RedisConfig
	Wave        WaveConfig
	OrangeMoney OrangeMoneyConfig
	Stripe      StripeConfig
	Offline     OfflineConfig
	Scan        ScanConfig
	Reconcile   ReconcileConfig
	S3          S3Config
	Logging     LoggingConfig
	Metrics     MetricsConfig
}

type RedisConfig struct {
	Addr           string
	Password       string
	DB             int
	IdempotencyTTL time.Duration
	LockTTL        time.Duration
}

type WaveConfig struct {
	BaseURL       string
	APIKey        string
	WebhookSecret string
	// RequestsPerSecond caps outbound checkout API calls.
	RequestsPerSecond float64
}

type OrangeMoneyConfig struct {
	BaseURL       string
	TokenURL      string
	AuthHeader    string
	MerchantKey   string
	Country       string
	NotifyURL     string
	Currency      string
	DefaultLocale string
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
}

type OfflineConfig struct {
	CashInstructions         string
	BankTransferInstructions string
}

type ScanConfig struct {
	RateLimit  int
	RateWindow time.Duration
}

type ReconcileConfig struct {
	Interval    time.Duration
	MinAge      time.Duration
	Batch       int
	MaxAttempts int
}

type S3Config struct {
	Endpoint       string
	PublicEndpoint string
	Bucket         string
	AccessKey      string
	SecretKey      string
	Region         string
	UseSSL         bool
}

type LoggingConfig struct {
	Level  string
	Format string
	File   string
}

type MetricsConfig struct {
	Enabled    bool
	Path       string
	// WorkerAddr is where the reconciliation worker serves its metrics.
	WorkerAddr string
}

func Load() (*Config, error) {
	cfg := &Config{
		Env:         getenv("APP_ENV", "dev"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		BaseURL:     strings.TrimRight(getenv("BASE_URL", ""), "/"),
		Redis: RedisConfig{
			Addr:           os.Getenv("REDIS_ADDR"),
			Password:       os.Getenv("REDIS_PASSWORD"),
			DB:             getenvInt("REDIS_DB", 0),
			IdempotencyTTL: getenvDuration("PAYMENT_IDEMPOTENCY_TTL", 24*time.Hour),
			LockTTL:        getenvDuration("PAYMENT_LOCK_TTL", 30*time.Second),
		},
		Wave: WaveConfig{
			BaseURL:           getenv("WAVE_BASE_URL", "https://api.wave.com"),
			APIKey:            os.Getenv("WAVE_API_KEY"),
			WebhookSecret:     os.Getenv("WAVE_WEBHOOK_SECRET"),
			RequestsPerSecond: getenvFloat("WAVE_RPS", 5),
		},
		OrangeMoney: OrangeMoneyConfig{
			BaseURL:       getenv("ORANGE_MONEY_BASE_URL", "https://api.orange.com"),
			TokenURL:      getenv("ORANGE_MONEY_TOKEN_URL", "https://api.orange.com/oauth/v3/token"),
			AuthHeader:    os.Getenv("ORANGE_MONEY_AUTH_HEADER"),
			MerchantKey:   os.Getenv("ORANGE_MONEY_MERCHANT_KEY"),
			Country:       getenv("ORANGE_MONEY_COUNTRY", "dev"),
			NotifyURL:     os.Getenv("ORANGE_MONEY_NOTIFY_URL"),
			Currency:      getenv("ORANGE_MONEY_CURRENCY", "OUV"),
			DefaultLocale: getenv("ORANGE_MONEY_LOCALE", "fr"),
		},
		Stripe: StripeConfig{
			SecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
			WebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		},
		Offline: OfflineConfig{
			CashInstructions:         getenv("CASH_INSTRUCTIONS", "Pay in cash at delivery or at the fair desk. Your order stays pending until the payment is recorded."),
			BankTransferInstructions: getenv("BANK_TRANSFER_INSTRUCTIONS", "Transfer the amount with your order number as reference. Your order stays pending until the transfer is received."),
		},
		Scan: ScanConfig{
			RateLimit:  getenvInt("SCAN_RATE_LIMIT", 120),
			RateWindow: getenvDuration("SCAN_RATE_WINDOW", time.Minute),
		},
		Reconcile: ReconcileConfig{
			Interval:    getenvDuration("RECONCILE_INTERVAL", time.Minute),
			MinAge:      getenvDuration("RECONCILE_MIN_AGE", 2*time.Minute),
			Batch:       getenvInt("RECONCILE_BATCH", 50),
			MaxAttempts: getenvInt("RECONCILE_MAX_ATTEMPTS", 10),
		},
		S3: S3Config{
			Endpoint:       os.Getenv("S3_ENDPOINT"),
			PublicEndpoint: os.Getenv("S3_PUBLIC_ENDPOINT"),
			Bucket:         os.Getenv("S3_BUCKET"),
			AccessKey:      os.Getenv("S3_ACCESS_KEY"),
			SecretKey:      os.Getenv("S3_SECRET_KEY"),
			Region:         getenv("S3_REGION", "us-east-1"),
			UseSSL:         getenvBool("S3_USE_SSL", true),
		},
		Logging: LoggingConfig{
			Level:  getenv("LOG_LEVEL", "info"),
			Format: getenv("LOG_FORMAT", "text"),
			File:   os.Getenv("LOG_FILE"),
		},
		Metrics: MetricsConfig{
			Enabled:    getenvBool("METRICS_ENABLED", true),
			Path:       getenv("METRICS_PATH", "/metrics"),
			WorkerAddr: getenv("WORKER_METRICS_ADDR", ":9091"),
		},
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.Scan.RateLimit <= 0 {
		return nil, fmt.Errorf("SCAN_RATE_LIMIT must be positive")
	}

	return cfg, nil
}

// WaveEnabled reports whether Wave credentials are present.
func (c *Config) WaveEnabled() bool {
	return strings.TrimSpace(c.Wave.APIKey) != ""
}

func (c *Config) OrangeMoneyEnabled() bool {
	return strings.TrimSpace(c.OrangeMoney.AuthHeader) != "" && strings.TrimSpace(c.OrangeMoney.MerchantKey) != ""
}

func (c *Config) StripeEnabled() bool {
	return strings.TrimSpace(c.Stripe.SecretKey) != ""
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return parsed
}

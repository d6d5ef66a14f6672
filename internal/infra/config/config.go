package config

import (
	"fmt"
	"os"
	"strconv"
	"strings" // For LogLevel normalization
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"

	DefaultPeriodAPIURL = "https://api.aladhan.com/v1/gToH"
)

// AppConfig holds all configuration for the application
type AppConfig struct {
	TelegramToken      string
	AdminTelegramID    int64
	AnnounceChatID     int64 // 0 disables announcements
	StoreDriver        string
	DatabaseURL        string
	NotifyChannel      string
	LogLevel           string
	Environment        string
	CronSpecReconcile  string
	PeriodAPIURL       string
	PeriodAPITimeout   time.Duration
	Location           *time.Location // calendar day used for the period lookup
	MetricsAddr        string         // empty disables the metrics server
	ClaimRatePerMinute int
}

// Load reads configuration from environment variables and .env file (if present).
func Load() (*AppConfig, error) {
	// godotenv.Load will not override existing env variables.
	_ = godotenv.Load()

	cfg := &AppConfig{}
	var err error

	cfg.TelegramToken = os.Getenv("TELEGRAM_TOKEN")
	if cfg.TelegramToken == "" {
		return nil, fmt.Errorf("TELEGRAM_TOKEN is not set")
	}

	adminIDStr := os.Getenv("ADMIN_TELEGRAM_ID")
	if adminIDStr == "" {
		return nil, fmt.Errorf("ADMIN_TELEGRAM_ID is not set")
	}
	cfg.AdminTelegramID, err = strconv.ParseInt(adminIDStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid ADMIN_TELEGRAM_ID: %w", err)
	}

	if announceStr := os.Getenv("ANNOUNCE_CHAT_ID"); announceStr != "" {
		cfg.AnnounceChatID, err = strconv.ParseInt(announceStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid ANNOUNCE_CHAT_ID: %w", err)
		}
	}

	cfg.StoreDriver = strings.ToLower(os.Getenv("STORE_DRIVER"))
	if cfg.StoreDriver == "" {
		cfg.StoreDriver = StoreDriverPostgres
	}
	switch cfg.StoreDriver {
	case StoreDriverPostgres:
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is not set")
		}
	case StoreDriverMemory:
	default:
		return nil, fmt.Errorf("invalid STORE_DRIVER %q (want %s or %s)", cfg.StoreDriver, StoreDriverPostgres, StoreDriverMemory)
	}

	cfg.NotifyChannel = os.Getenv("NOTIFY_CHANNEL")
	if cfg.NotifyChannel == "" {
		cfg.NotifyChannel = "khatam_changes"
	}

	cfg.LogLevel = strings.ToLower(os.Getenv("LOG_LEVEL"))
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info" // Default log level
	}

	cfg.Environment = strings.ToLower(os.Getenv("ENVIRONMENT"))
	if cfg.Environment == "" {
		cfg.Environment = "development" // Default environment
	}

	cfg.CronSpecReconcile = os.Getenv("CRON_SPEC_RECONCILE")
	if cfg.CronSpecReconcile == "" {
		cfg.CronSpecReconcile = "*/10 * * * *" // Default: every 10 minutes
	}

	cfg.PeriodAPIURL = os.Getenv("PERIOD_API_URL")
	if cfg.PeriodAPIURL == "" {
		cfg.PeriodAPIURL = DefaultPeriodAPIURL
	}

	cfg.PeriodAPITimeout = 5 * time.Second
	if timeoutStr := os.Getenv("PERIOD_API_TIMEOUT"); timeoutStr != "" {
		cfg.PeriodAPITimeout, err = time.ParseDuration(timeoutStr)
		if err != nil {
			return nil, fmt.Errorf("invalid PERIOD_API_TIMEOUT: %w", err)
		}
	}

	tz := os.Getenv("TIMEZONE")
	if tz == "" {
		tz = "UTC"
	}
	cfg.Location, err = time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE: %w", err)
	}

	cfg.MetricsAddr = ":9090"
	if addr, ok := os.LookupEnv("METRICS_ADDR"); ok {
		cfg.MetricsAddr = addr
	}

	cfg.ClaimRatePerMinute = 6
	if rateStr := os.Getenv("CLAIM_RATE_PER_MINUTE"); rateStr != "" {
		cfg.ClaimRatePerMinute, err = strconv.Atoi(rateStr)
		if err != nil || cfg.ClaimRatePerMinute <= 0 {
			return nil, fmt.Errorf("invalid CLAIM_RATE_PER_MINUTE: %q", rateStr)
		}
	}

	return cfg, nil
}

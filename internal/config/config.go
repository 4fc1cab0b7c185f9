package config

import (
	"os"
	"strconv"
	"strings"
)

// Store modes.
const (
	StoreLocal = "local"
	StoreHTTP  = "http"
)

type Config struct {
	ListenAddr    string
	DataDir       string
	BaseURL       string
	SessionSecret string
	APIKey        string
	LogLevel      string

	StoreMode       string
	StoreURL        string
	StoreAPIKey     string
	StoreBulkDelete bool
	StoreTimeoutSec int

	DownloadDir           string
	DownloadIntervalMs    int
	DownloadRetentionDays int
	CleanupIntervalMins   int

	DiskWarnYellowPct float64
	DiskWarnRedPct    float64
	DiskWarnBlockPct  float64

	PageSize          int
	RefreshAttempts   int
	RefreshBackoffMs  int
	DeleteConcurrency int
	RefreshSchedule   string

	WebhookURL       string
	WebhookSecret    string
	WebhookRetrySecs int
}

func Load() *Config {
	dataDir := envOr("DATA_DIR", "./data")
	return &Config{
		ListenAddr:    envOr("LISTEN_ADDR", ":8080"),
		DataDir:       dataDir,
		BaseURL:       envOr("BASE_URL", "http://localhost:8080"),
		SessionSecret: envOr("SESSION_SECRET", "change-me-in-production-32-bytes!"),
		APIKey:        os.Getenv("API_KEY"),
		LogLevel:      envOr("LOG_LEVEL", "info"),

		StoreMode:       strings.ToLower(envOr("STORE_MODE", StoreLocal)),
		StoreURL:        strings.TrimRight(envOr("STORE_URL", "http://localhost:8080"), "/"),
		StoreAPIKey:     os.Getenv("STORE_API_KEY"),
		StoreBulkDelete: envBoolOr("STORE_BULK_DELETE", false),
		StoreTimeoutSec: envIntOr("STORE_TIMEOUT_SECS", 30),

		DownloadDir:           envOr("DOWNLOAD_DIR", dataDir+"/downloads"),
		DownloadIntervalMs:    envIntOr("DOWNLOAD_INTERVAL_MS", 100),
		DownloadRetentionDays: envIntOr("DOWNLOAD_RETENTION_DAYS", 90),
		CleanupIntervalMins:   envIntOr("CLEANUP_INTERVAL_MINS", 60),

		DiskWarnYellowPct: envFloatOr("DISK_WARN_YELLOW_PCT", 20),
		DiskWarnRedPct:    envFloatOr("DISK_WARN_RED_PCT", 10),
		DiskWarnBlockPct:  envFloatOr("DISK_WARN_BLOCK_PCT", 5),

		PageSize:          envIntOr("PAGE_SIZE", 24),
		RefreshAttempts:   envIntOr("REFRESH_ATTEMPTS", 3),
		RefreshBackoffMs:  envIntOr("REFRESH_BACKOFF_MS", 1000),
		DeleteConcurrency: envIntOr("DELETE_CONCURRENCY", 8),
		RefreshSchedule:   envOr("REFRESH_SCHEDULE", "@every 30s"),

		WebhookURL:       os.Getenv("WEBHOOK_URL"),
		WebhookSecret:    os.Getenv("WEBHOOK_SECRET"),
		WebhookRetrySecs: envIntOr("WEBHOOK_RETRY_SECS", 30),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

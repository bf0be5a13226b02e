package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port          string
	DatabaseURL   string // empty runs the in-memory store
	MetaBaseURL   string
	GoogleBaseURL string
	AccountsFile  string
	OverridesFile string

	HTTPTimeout        time.Duration
	RequestTimeout     time.Duration // bound on vendor work in the request path
	FreshnessThreshold time.Duration
	RefreshInterval    time.Duration
	VendorPacing       time.Duration
	MaxRetries         int

	LogLevel slog.Level
}

// FromEnv loads configuration from the environment, reading a local .env
// file first when one exists.
func FromEnv() Config {
	_ = godotenv.Load()

	lvl := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		lvl = slog.LevelDebug
	}
	return Config{
		Port:          envOr("PORT", "8080"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		MetaBaseURL:   envOr("META_API_URL", "https://graph.facebook.com/v19.0"),
		GoogleBaseURL: envOr("GOOGLE_ADS_API_URL", "https://googleads.googleapis.com/v16"),
		AccountsFile:  os.Getenv("ACCOUNTS_FILE"),
		OverridesFile: os.Getenv("OVERRIDES_FILE"),

		HTTPTimeout:        durationOr("HTTP_TIMEOUT", 15*time.Second),
		RequestTimeout:     durationOr("REQUEST_TIMEOUT", 25*time.Second),
		FreshnessThreshold: durationOr("CACHE_FRESHNESS", 3*time.Hour),
		RefreshInterval:    durationOr("REFRESH_INTERVAL", 3*time.Hour),
		VendorPacing:       durationOr("VENDOR_PACING", 300*time.Millisecond),
		MaxRetries:         intOr("MAX_RETRIES", 2),

		LogLevel: lvl,
	}
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func durationOr(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func intOr(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

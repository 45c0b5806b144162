// Package config loads application configuration from environment variables.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	DatabaseURL string

	MarketDataURL            string
	MarketDataSource         string
	MarketDataRetryMax       int
	MarketDataRetryBaseDelay time.Duration
	MarketDataCoinIDs        map[int64]string
	PreferredPriceSource     string
	BTCAssetID               int64

	LockTimeout        time.Duration
	AccountingInterval time.Duration
	BoundaryInterval   time.Duration
	BackfillInterval   time.Duration

	NotifyRoles []string

	ReportPath            string
	SheetsSpreadsheetID   string
	SheetsCredentialsJSON string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	return Config{
		DatabaseURL: envOrDefaultWarn("DATABASE_URL", ""),

		MarketDataURL:            envOrDefault("MARKET_DATA_URL", "https://api.coingecko.com/api/v3"),
		MarketDataSource:         envOrDefault("MARKET_DATA_SOURCE", "coingecko"),
		MarketDataRetryMax:       envOrDefaultInt("MARKET_DATA_RETRY_MAX", 5),
		MarketDataRetryBaseDelay: envOrDefaultDuration("MARKET_DATA_RETRY_BASE_DELAY", 2*time.Second),
		MarketDataCoinIDs:        envCoinIDs("MARKET_DATA_COIN_IDS"),
		PreferredPriceSource:     envOrDefault("PREFERRED_PRICE_SOURCE", "coingecko"),
		BTCAssetID:               envOrDefaultInt64("BTC_ASSET_ID", 1),

		LockTimeout:        envOrDefaultDuration("ACCOUNTING_LOCK_TIMEOUT", 10*time.Minute),
		AccountingInterval: envOrDefaultDuration("ACCOUNTING_WORKER_INTERVAL", 1*time.Hour),
		BoundaryInterval:   envOrDefaultDuration("BOUNDARY_WORKER_INTERVAL", 6*time.Hour),
		BackfillInterval:   envOrDefaultDuration("BACKFILL_WORKER_INTERVAL", 1*time.Hour),

		NotifyRoles: envList("NOTIFY_ROLES", []string{"admin"}),

		ReportPath:            envOrDefault("REPORT_PATH", "nav-report.xlsx"),
		SheetsSpreadsheetID:   envOrDefault("SHEETS_SPREADSHEET_ID", ""),
		SheetsCredentialsJSON: envOrDefault("SHEETS_CREDENTIALS_JSON", ""),
	}
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrDefaultWarn(key, defaultVal string) string {
	v := envOrDefault(key, defaultVal)
	if v == "" {
		slog.Warn("required env var not set", "key", key)
	}
	return v
}

func envOrDefaultInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			slog.Warn("invalid integer env var, using default", "key", key, "value", v, "default", defaultVal)
			return defaultVal
		}
		return n
	}
	return defaultVal
}

func envOrDefaultInt64(key string, defaultVal int64) int64 {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			slog.Warn("invalid integer env var, using default", "key", key, "value", v, "default", defaultVal)
			return defaultVal
		}
		return n
	}
	return defaultVal
}

func envOrDefaultDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			slog.Warn("invalid duration env var, using default", "key", key, "value", v, "default", defaultVal)
			return defaultVal
		}
		return d
	}
	return defaultVal
}

func envList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}

// envCoinIDs parses "1:bitcoin,2:ethereum" into asset id to provider coin id.
func envCoinIDs(key string) map[int64]string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	out := make(map[int64]string)
	for _, pair := range strings.Split(v, ",") {
		idStr, coin, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok {
			slog.Warn("invalid coin id mapping, skipping", "key", key, "value", pair)
			continue
		}
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			slog.Warn("invalid coin id mapping, skipping", "key", key, "value", pair)
			continue
		}
		out[id] = coin
	}
	return out
}

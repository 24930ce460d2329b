// Package config は環境変数ベースのアプリケーション設定を提供する。
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Snapshot ingest
	ScrapeDir          string
	SnapshotInterval   time.Duration
	MissingThreshold   time.Duration
	ConfirmedThreshold time.Duration
	MaxListingAgeDays  int
	PipelineCron       string

	// KPI
	MinSoldConfidence       float64
	SellThroughWindowDays   int
	ReferenceSellThroughPct float64
	ReferenceDTSDays        float64

	// Rate Limit
	RateLimitGeneral int

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.ScrapeDir = getEnvString("SCRAPE_DIR", "data/scrapes")
	cfg.SnapshotInterval = getEnvDuration("SNAPSHOT_INTERVAL", 48*time.Hour)
	cfg.MissingThreshold = getEnvDuration("MISSING_THRESHOLD", 24*time.Hour)
	cfg.ConfirmedThreshold = getEnvDuration("CONFIRMED_THRESHOLD", 2*cfg.MissingThreshold)
	cfg.MaxListingAgeDays = getEnvInt("MAX_LISTING_AGE_DAYS", 90)
	cfg.PipelineCron = getEnvString("PIPELINE_CRON", "@every 48h")
	cfg.MinSoldConfidence = getEnvFloat("MIN_SOLD_CONFIDENCE", 0.5)
	cfg.SellThroughWindowDays = getEnvInt("SELL_THROUGH_WINDOW_DAYS", 30)
	cfg.ReferenceSellThroughPct = getEnvFloat("REFERENCE_SELL_THROUGH_PCT", 50)
	cfg.ReferenceDTSDays = getEnvFloat("REFERENCE_DTS_DAYS", 30)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

// MaxListingAge は高齢出品カットオフをDurationとして返す。
func (c *Config) MaxListingAge() time.Duration {
	return time.Duration(c.MaxListingAgeDays) * 24 * time.Hour
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

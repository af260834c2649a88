// Package config handles application configuration.
//
// Process-level settings come from environment variables; per-source crawl
// settings (interval, tracking mode, tracking URLs) live in JSON files under
// the config directory, one file per marketplace, with defaults merged in.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/deltaguita/market-tracker/internal/models"
)

// Config holds process-level configuration.
type Config struct {
	// Storage
	DatabaseURL  string
	ScheduleFile string
	ConfigDir    string

	// Notifications
	TelegramBotToken string
	TelegramChatID   string

	// Scraping
	UserAgent      string
	RequestTimeout time.Duration
}

// SourceConfig holds one marketplace's crawl settings.
type SourceConfig struct {
	Source                models.Source       `json:"source"`
	ScheduleIntervalHours int                 `json:"schedule_interval_hours"`
	PriceTrackingMode     models.TrackingMode `json:"price_tracking_mode"`
	TrackingURLs          []TrackingURL       `json:"tracking_urls"`
}

// TrackingURL is one page to crawl, with optional price ceilings used to
// filter observations before they reach the store.
type TrackingURL struct {
	Name   string   `json:"name"`
	URL    string   `json:"url"`
	MaxUSD *float64 `json:"max_usd,omitempty"`
	MaxTWD *int64   `json:"max_ntd,omitempty"`
}

// sourceConfigFiles maps each source to its config file name.
var sourceConfigFiles = map[models.Source]string{
	models.SourceAmazonUS:  "amazon.json",
	models.SourceMercariJP: "mercari.json",
}

// defaultSourceConfigs supplies values for fields the config file omits.
var defaultSourceConfigs = map[models.Source]SourceConfig{
	models.SourceAmazonUS: {
		Source:                models.SourceAmazonUS,
		ScheduleIntervalHours: 8,
		PriceTrackingMode:     models.TrackingFullHistory,
	},
	models.SourceMercariJP: {
		Source:                models.SourceMercariJP,
		ScheduleIntervalHours: 4,
		PriceTrackingMode:     models.TrackingLatestOnly,
	},
}

// Load reads process configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:  getEnv("DATABASE_URL", "file:data/products.db"),
		ScheduleFile: getEnv("SCHEDULE_FILE", "data/schedule_state.json"),
		ConfigDir:    getEnv("CONFIG_DIR", "config"),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),

		UserAgent:      getEnv("SCRAPER_USER_AGENT", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"),
		RequestTimeout: getEnvDuration("SCRAPER_TIMEOUT", 30*time.Second),
	}
	return cfg, nil
}

// NotificationsEnabled returns true if Telegram delivery is configured.
func (c *Config) NotificationsEnabled() bool {
	return c.TelegramBotToken != "" && c.TelegramChatID != ""
}

// LoadSource reads one marketplace's config file from dir, merging defaults
// for anything the file omits. A missing file yields the defaults.
func LoadSource(source models.Source, dir string) (*SourceConfig, error) {
	if err := models.ValidateSource(source); err != nil {
		return nil, err
	}

	cfg := defaultSourceConfigs[source]

	path := filepath.Join(dir, sourceConfigFiles[source])
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read source config %s: %w", path, err)
	}

	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse source config %s: %w", path, err)
	}

	// The file cannot reassign the source, and unknown modes fall back to
	// the conservative default.
	cfg.Source = source
	if cfg.PriceTrackingMode != models.TrackingLatestOnly && cfg.PriceTrackingMode != models.TrackingFullHistory {
		cfg.PriceTrackingMode = models.TrackingLatestOnly
	}
	if cfg.ScheduleIntervalHours <= 0 {
		cfg.ScheduleIntervalHours = defaultSourceConfigs[source].ScheduleIntervalHours
	}

	return &cfg, nil
}

// LoadAllSources reads every supported marketplace's config.
func LoadAllSources(dir string) (map[models.Source]*SourceConfig, error) {
	configs := make(map[models.Source]*SourceConfig, len(sourceConfigFiles))
	for source := range sourceConfigFiles {
		cfg, err := LoadSource(source, dir)
		if err != nil {
			return nil, err
		}
		configs[source] = cfg
	}
	return configs, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

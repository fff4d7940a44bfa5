// Package config provides configuration loading and validation for the CLI
// and server.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Config is the process configuration. It can be loaded from a JSON file,
// overlaid with environment variables, and finally overridden by CLI flags.
type Config struct {
	// Connections
	DatabaseURL string `json:"database_url,omitempty"` // PostgreSQL connection URL
	RedisURL    string `json:"redis_url,omitempty"`    // Redis connection URL for the resume cache

	// Server
	Port int `json:"port,omitempty"` // HTTP listen port

	// Scraper
	ScraperBaseURL  string `json:"scraper_base_url,omitempty"` // Override for the scraping service API
	PollInterval    int    `json:"poll_interval,omitempty"`    // Seconds between actor-run status polls
	MaxPollAttempts int    `json:"max_poll_attempts,omitempty"`

	// CLI runs
	UserID string `json:"user_id,omitempty"` // User UUID for single-run invocations

	// Behavior
	Verbose bool `json:"verbose,omitempty"` // Print detailed debug information
}

// LoadConfig loads configuration from a JSON file.
// Returns an error if the file cannot be read or parsed.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return &cfg, nil
}

// FromEnv builds a Config from environment variables. Call after godotenv
// has loaded any .env file.
func FromEnv() (*Config, error) {
	cfg := &Config{
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisURL:       os.Getenv("REDIS_URL"),
		ScraperBaseURL: os.Getenv("SCRAPER_BASE_URL"),
	}
	if port := os.Getenv("PORT"); port != "" {
		n, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %v", err)
		}
		cfg.Port = n
	}
	if interval := os.Getenv("SCRAPER_POLL_INTERVAL"); interval != "" {
		n, err := strconv.Atoi(interval)
		if err != nil {
			return nil, fmt.Errorf("invalid SCRAPER_POLL_INTERVAL: %v", err)
		}
		cfg.PollInterval = n
	}
	return cfg, nil
}

// Validate checks that the configuration has valid values.
// Note: This doesn't check for required fields since those are handled
// by CLI flag validation after merging.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("config error: 'port' must be between 0 and 65535")
	}
	if c.PollInterval < 0 {
		return fmt.Errorf("config error: 'poll_interval' must be non-negative")
	}
	if c.MaxPollAttempts < 0 {
		return fmt.Errorf("config error: 'max_poll_attempts' must be non-negative")
	}
	return nil
}

// MergeWithDefaults returns a new Config with empty fields filled from
// defaults. This is used to apply config file values as defaults for CLI
// flags.
func (c *Config) MergeWithDefaults(defaults Config) Config {
	result := *c

	if result.DatabaseURL == "" {
		result.DatabaseURL = defaults.DatabaseURL
	}
	if result.RedisURL == "" {
		result.RedisURL = defaults.RedisURL
	}
	if result.ScraperBaseURL == "" {
		result.ScraperBaseURL = defaults.ScraperBaseURL
	}
	if result.UserID == "" {
		result.UserID = defaults.UserID
	}

	if result.Port == 0 {
		result.Port = defaults.Port
	}
	if result.PollInterval == 0 {
		result.PollInterval = defaults.PollInterval
	}
	if result.MaxPollAttempts == 0 {
		result.MaxPollAttempts = defaults.MaxPollAttempts
	}

	// Bool fields: cannot distinguish unset from false, so we don't merge
	// (CLI flags should always win for bools)

	return result
}

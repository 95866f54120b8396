// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string

	// AssessmentAPIURL is the base URL of the assessment REST API.
	AssessmentAPIURL string
	APITimeout       time.Duration

	// SessionIdleTTL is how long a tab session may go untouched before the
	// sweeper treats the tab as closed.
	SessionIdleTTL  time.Duration
	DeviceRetention time.Duration

	Storage  StorageConfig
	AutoSave AutoSaveConfig
}

// StorageConfig controls the session and local stores.
type StorageConfig struct {
	SessionStorageKey  string
	LocalStorageKey    string
	EncryptionEnabled  bool
	EncryptionKey      string
	CompressionEnabled bool
	ExpirationHours    float64
	SessionQuotaBytes  int
}

// AutoSaveConfig controls auto-save timing.
type AutoSaveConfig struct {
	Debounce time.Duration
	Interval time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		FrontendURL:      getEnv("FRONTEND_URL", ""),
		DBPath:           getEnv("DB_PATH", "./data/wizard.db"),
		AssessmentAPIURL: getEnv("ASSESSMENT_API_URL", "http://localhost:3000"),
		APITimeout:       getEnvDuration("API_TIMEOUT", 10*time.Second),
		SessionIdleTTL:   getEnvDuration("SESSION_IDLE_TTL", 60*time.Minute),
		DeviceRetention:  getEnvDuration("DEVICE_RETENTION", 90*24*time.Hour),
		Storage: StorageConfig{
			SessionStorageKey:  getEnv("SESSION_STORAGE_KEY", "assessment_session"),
			LocalStorageKey:    getEnv("LOCAL_STORAGE_KEY", "assessment_cache"),
			EncryptionEnabled:  getEnvBool("STORAGE_ENCRYPTION_ENABLED", false),
			EncryptionKey:      getEnv("STORAGE_ENCRYPTION_KEY", ""),
			CompressionEnabled: getEnvBool("STORAGE_COMPRESSION_ENABLED", false),
			ExpirationHours:    getEnvFloat("STORAGE_EXPIRATION_HOURS", 24),
			SessionQuotaBytes:  getEnvInt("SESSION_STORAGE_QUOTA_BYTES", 5*1024*1024),
		},
		AutoSave: AutoSaveConfig{
			Debounce: getEnvDuration("AUTOSAVE_DEBOUNCE", 1000*time.Millisecond),
			Interval: getEnvDuration("AUTOSAVE_INTERVAL", 5000*time.Millisecond),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.AssessmentAPIURL == "" {
		return fmt.Errorf("ASSESSMENT_API_URL cannot be empty")
	}
	if c.APITimeout <= 0 {
		return fmt.Errorf("API_TIMEOUT must be > 0")
	}
	if c.SessionIdleTTL <= 0 {
		return fmt.Errorf("SESSION_IDLE_TTL must be > 0")
	}
	if c.Storage.SessionStorageKey == "" || c.Storage.LocalStorageKey == "" {
		return fmt.Errorf("SESSION_STORAGE_KEY and LOCAL_STORAGE_KEY cannot be empty")
	}
	if c.Storage.EncryptionEnabled && c.Storage.EncryptionKey == "" {
		return fmt.Errorf("STORAGE_ENCRYPTION_KEY is required when STORAGE_ENCRYPTION_ENABLED is set")
	}
	if c.Storage.ExpirationHours < 0 {
		return fmt.Errorf("STORAGE_EXPIRATION_HOURS must be >= 0")
	}
	if c.AutoSave.Debounce <= 0 || c.AutoSave.Interval <= 0 {
		return fmt.Errorf("AUTOSAVE_DEBOUNCE and AUTOSAVE_INTERVAL must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origins for the configured frontend.
func (c *Config) AllowedOrigins() []string {
	origins := []string{"http://localhost:5173", "http://localhost:3000"}
	if c.FrontendURL != "" {
		origins = append(origins, c.FrontendURL)
	}
	return origins
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

// getEnvDuration accepts Go durations ("1.5s") or bare milliseconds ("1500").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

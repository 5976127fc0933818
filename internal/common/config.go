package common

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Ledger LedgerConfig
	Remote RemoteConfig
	OCR    OCRConfig
	Sync   SyncConfig
}

// LedgerConfig holds local-store configuration
type LedgerConfig struct {
	Path string
}

// RemoteConfig holds backend-related configuration
type RemoteConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// OCRConfig holds OCR-service configuration
type OCRConfig struct {
	BaseURL string
	Timeout time.Duration
}

// SyncConfig holds background sync engine configuration
type SyncConfig struct {
	Interval  time.Duration
	BatchSize int
	FanOut    int
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Ledger: LedgerConfig{
			Path: getEnv("LEDGER_PATH", "zticket.db"),
		},
		Remote: RemoteConfig{
			BaseURL: getEnv("REMOTE_URL", ""),
			Token:   getEnv("REMOTE_TOKEN", ""),
			Timeout: getEnvAsDuration("REMOTE_TIMEOUT", 30*time.Second),
		},
		OCR: OCRConfig{
			BaseURL: getEnv("OCR_URL", ""),
			Timeout: getEnvAsDuration("OCR_TIMEOUT", 45*time.Second),
		},
		Sync: SyncConfig{
			Interval:  getEnvAsDuration("SYNC_INTERVAL", 2*time.Minute),
			BatchSize: getEnvAsInt("SYNC_BATCH_SIZE", 50),
			FanOut:    getEnvAsInt("SYNC_FAN_OUT", 4),
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Validate checks the loaded configuration
func (c *Config) Validate() error {
	if c.Ledger.Path == "" {
		return NewAppError("CONFIG_ERROR", "LEDGER_PATH is required", ErrInvalidInput)
	}
	if c.Remote.BaseURL == "" {
		return NewAppError("CONFIG_ERROR", "REMOTE_URL is required", ErrInvalidInput)
	}
	if c.Sync.Interval <= 0 {
		return NewAppError("CONFIG_ERROR", "SYNC_INTERVAL must be positive", ErrInvalidInput)
	}
	return nil
}

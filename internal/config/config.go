package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config carries every tunable the engine and its HTTP boundary read at
// startup. Ensemble weights are the one exception: they reload at runtime
// from WeightsFile.
type Config struct {
	Host string
	Port string

	// Dispatch scheduler.
	Workers        int
	QueueBound     int
	MaxRetries     int
	AgingThreshold time.Duration

	// Per-request budgets.
	AdapterTimeout time.Duration
	RequestBudget  time.Duration

	// Preprocessor limits.
	LargeImageBytes int64
	MaxImageBytes   int64

	// Classification.
	DefaultThreshold float64

	// Optional integrations.
	WeightsFile      string
	RedisAddr        string
	AzureAccountName string
	AzureAccountKey  string

	// HTTP boundary.
	MaxRequestBodySize int64
	FetchTimeout       time.Duration

	// Operator alerting.
	FatalAlertThreshold int
	FatalAlertWindow    time.Duration
}

// ServerAddress joins host and port for the HTTP listener.
func (c *Config) ServerAddress() string {
	host := strings.TrimSpace(c.Host)
	port := strings.TrimSpace(c.Port)
	return net.JoinHostPort(host, port)
}

// LoadFromEnv reads configuration from the environment, applying defaults
// and validating the result.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Host:                getEnvOrDefault("HOST", "0.0.0.0"),
		Port:                getEnvOrDefault("PORT", "8080"),
		Workers:             int(parseIntOrDefault("DISPATCH_WORKERS", 8)),
		QueueBound:          int(parseIntOrDefault("DISPATCH_QUEUE_BOUND", 256)),
		MaxRetries:          int(parseIntOrDefault("DISPATCH_MAX_RETRIES", 2)),
		AgingThreshold:      parseDurationOrDefault("DISPATCH_AGING_THRESHOLD", 5*time.Second),
		AdapterTimeout:      parseDurationOrDefault("ADAPTER_TIMEOUT", 8*time.Second),
		RequestBudget:       parseDurationOrDefault("REQUEST_BUDGET", 30*time.Second),
		LargeImageBytes:     parseIntOrDefault("LARGE_IMAGE_BYTES", 10*1024*1024),
		MaxImageBytes:       parseIntOrDefault("MAX_IMAGE_BYTES", 32*1024*1024),
		DefaultThreshold:    parseFloatOrDefault("CONFIDENCE_THRESHOLD", 70.0),
		WeightsFile:         os.Getenv("ENSEMBLE_WEIGHTS_FILE"),
		RedisAddr:           os.Getenv("CLIENT_CONFIG_REDIS_ADDR"),
		AzureAccountName:    os.Getenv("AZURE_STORAGE_ACCOUNT"),
		AzureAccountKey:     os.Getenv("AZURE_STORAGE_KEY"),
		MaxRequestBodySize:  parseIntOrDefault("MAX_REQUEST_BODY_SIZE", 48*1024*1024),
		FetchTimeout:        parseDurationOrDefault("IMAGE_FETCH_TIMEOUT", 15*time.Second),
		FatalAlertThreshold: int(parseIntOrDefault("FATAL_ALERT_THRESHOLD", 5)),
		FatalAlertWindow:    parseDurationOrDefault("FATAL_ALERT_WINDOW", time.Minute),
	}

	// Validate port is numeric and in range
	p, err := strconv.Atoi(strings.TrimSpace(cfg.Port))
	if err != nil || p < 1 || p > 65535 {
		return nil, fmt.Errorf("invalid PORT: %q", cfg.Port)
	}
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("DISPATCH_WORKERS must be >= 1 (got %d)", cfg.Workers)
	}
	if cfg.QueueBound < cfg.Workers {
		return nil, fmt.Errorf("DISPATCH_QUEUE_BOUND must be >= DISPATCH_WORKERS (got %d < %d)",
			cfg.QueueBound, cfg.Workers)
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("DISPATCH_MAX_RETRIES must be >= 0 (got %d)", cfg.MaxRetries)
	}
	if cfg.AdapterTimeout <= 0 || cfg.RequestBudget <= 0 || cfg.FetchTimeout <= 0 {
		return nil, fmt.Errorf("timeouts must be > 0 (got adapter=%s, budget=%s, fetch=%s)",
			cfg.AdapterTimeout, cfg.RequestBudget, cfg.FetchTimeout)
	}
	if cfg.AdapterTimeout >= cfg.RequestBudget {
		return nil, fmt.Errorf("ADAPTER_TIMEOUT must be below REQUEST_BUDGET (got %s >= %s)",
			cfg.AdapterTimeout, cfg.RequestBudget)
	}
	if cfg.LargeImageBytes <= 0 || cfg.MaxImageBytes <= 0 {
		return nil, fmt.Errorf("image size limits must be > 0 (got large=%d, max=%d)",
			cfg.LargeImageBytes, cfg.MaxImageBytes)
	}
	if cfg.MaxImageBytes < cfg.LargeImageBytes {
		return nil, fmt.Errorf("MAX_IMAGE_BYTES must be >= LARGE_IMAGE_BYTES (got %d < %d)",
			cfg.MaxImageBytes, cfg.LargeImageBytes)
	}
	if cfg.DefaultThreshold <= 0 || cfg.DefaultThreshold > 100 {
		return nil, fmt.Errorf("CONFIDENCE_THRESHOLD must be in (0,100] (got %g)", cfg.DefaultThreshold)
	}
	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(strings.TrimSpace(value)); err == nil && duration > 0 {
			return duration
		}
	}
	return defaultValue
}

func parseIntOrDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func parseFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

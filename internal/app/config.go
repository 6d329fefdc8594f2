package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"qlir/internal/slice"
)

// Config holds one component's configuration, from env overridden by flags.
type Config struct {
	DataRoot string `validate:"required"`
	BaseURL  string `validate:"required,url"`
	Venue    string `validate:"required"`
	Endpoint string `validate:"required"`

	Symbol   string `validate:"required"`
	Interval string `validate:"required"`
	Limit    int    `validate:"required,min=1"`

	PollInterval   time.Duration `validate:"min=0"`
	RequestTimeout time.Duration `validate:"min=0"`
	ClaimTTL       time.Duration `validate:"min=0"`
	MaxBackoff     time.Duration `validate:"min=0"`
	BatchSlices    int           `validate:"min=1"`

	LogLevel        string
	ManifestLogPath string
	MetricsAddr     string

	// RefreshOnSchemaMismatch enables the NEEDS_REFRESH override for entries
	// whose metadata contract is out of sync.
	RefreshOnSchemaMismatch bool
}

// LoadConfig reads config from environment.
func LoadConfig() *Config {
	return &Config{
		DataRoot:                getEnv("QLIR_DATA_ROOT", defaultDataRoot()),
		BaseURL:                 getEnv("QLIR_BASE_URL", "https://api.binance.com"),
		Venue:                   getEnv("QLIR_VENUE", "binance"),
		Endpoint:                getEnv("QLIR_ENDPOINT", "klines"),
		Symbol:                  os.Getenv("QLIR_SYMBOL"),
		Interval:                os.Getenv("QLIR_INTERVAL"),
		Limit:                   getEnvInt("QLIR_LIMIT", 1000),
		PollInterval:            getEnvDuration("QLIR_POLL_INTERVAL", 30*time.Second),
		RequestTimeout:          getEnvDuration("QLIR_REQUEST_TIMEOUT", 10*time.Second),
		ClaimTTL:                getEnvDuration("QLIR_CLAIM_TTL", 60*time.Second),
		MaxBackoff:              getEnvDuration("QLIR_MAX_BACKOFF", 60*time.Second),
		BatchSlices:             getEnvInt("QLIR_BATCH_SLICES", 100),
		LogLevel:                getEnv("LOG_LEVEL", "info"),
		ManifestLogPath:         os.Getenv("QLIR_MANIFEST_LOG"),
		MetricsAddr:             os.Getenv("QLIR_METRICS_ADDR"),
		RefreshOnSchemaMismatch: os.Getenv("QLIR_REFRESH_ON_METADATA_SCHEMA_MISMATCH") != "",
	}
}

// Validate checks the assembled config. Fatal misconfiguration exits 1 at
// the CLI boundary.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := slice.IntervalMillis(c.Interval); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func defaultDataRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "qlir_data"
	}
	return filepath.Join(home, "qlir_data")
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

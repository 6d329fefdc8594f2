package app

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("QLIR_DATA_ROOT", "/tmp/qlir-test")
	t.Setenv("QLIR_SYMBOL", "BTCUSDT")
	t.Setenv("QLIR_INTERVAL", "1m")

	cfg := LoadConfig()
	assert.Equal(t, "https://api.binance.com", cfg.BaseURL)
	assert.Equal(t, "binance", cfg.Venue)
	assert.Equal(t, "klines", cfg.Endpoint)
	assert.Equal(t, 1000, cfg.Limit)
	assert.Equal(t, 30*time.Second, cfg.PollInterval)
	assert.Equal(t, 60*time.Second, cfg.ClaimTTL)
	assert.Equal(t, 100, cfg.BatchSlices)
	assert.False(t, cfg.RefreshOnSchemaMismatch)

	require.NoError(t, cfg.Validate())
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("QLIR_LIMIT", "500")
	t.Setenv("QLIR_POLL_INTERVAL", "5s")
	t.Setenv("QLIR_REFRESH_ON_METADATA_SCHEMA_MISMATCH", "1")

	cfg := LoadConfig()
	assert.Equal(t, 500, cfg.Limit)
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.True(t, cfg.RefreshOnSchemaMismatch)
}

func TestValidateRejectsBadConfig(t *testing.T) {
	cfg := LoadConfig()
	cfg.Symbol = "BTCUSDT"
	cfg.Interval = "7m" // not in the interval table
	require.Error(t, cfg.Validate())

	cfg.Interval = "1m"
	cfg.Symbol = ""
	require.Error(t, cfg.Validate())

	cfg.Symbol = "BTCUSDT"
	cfg.BaseURL = "not a url"
	require.Error(t, cfg.Validate())
}

func TestDatasetPathsLayout(t *testing.T) {
	p := DatasetPaths{
		Root:     "/data",
		Venue:    "binance",
		Endpoint: "klines",
		Symbol:   "BTCUSDT",
		Interval: "1m",
		Limit:    1000,
	}

	raw := filepath.Join("/data", "binance", "klines", "raw", "BTCUSDT", "1m", "limit=1000")
	assert.Equal(t, raw, p.RawDir())
	assert.Equal(t, filepath.Join(raw, "manifest.json"), p.ManifestPath())
	assert.Equal(t, filepath.Join(raw, "manifest.delta"), p.DeltaPath())
	assert.Equal(t, filepath.Join(raw, "manifest_snapshot", "manifest.snapshot.json"), p.SnapshotDropPath())
	assert.Equal(t, filepath.Join(raw, "responses", "abc123.json"), p.ResponsePath("abc123"))
	assert.Equal(t, filepath.Join("responses", "abc123.json"), p.ResponseRelPath("abc123"))

	agg := filepath.Join("/data", "binance", "klines", "agg", "BTCUSDT", "1m", "limit=1000")
	assert.Equal(t, agg, p.AggDir())
	assert.Equal(t, filepath.Join(agg, "manifest.json"), p.AggManifestPath())
	assert.Equal(t, filepath.Join(agg, "parts"), p.PartsDir())
}

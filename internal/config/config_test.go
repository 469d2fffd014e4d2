package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAppliesDefaults(t *testing.T) {
	t.Setenv("BINANCE_API_KEY", "")
	t.Setenv("BINANCE_API_SECRET", "")
	t.Setenv("TRACKER_DATA_DIR", "")

	cfg, err := Parse([]byte("binance:\n  testnet: true\n"))
	require.NoError(t, err)

	assert.True(t, cfg.Binance.Testnet)
	assert.False(t, cfg.Binance.HasCredentials())
	assert.Equal(t, "1h", cfg.Tracker.Interval)
	assert.Equal(t, 100, cfg.Tracker.BackfillLimit)
	assert.Equal(t, 500, cfg.Tracker.MaxCandles)
	assert.Equal(t, 60, cfg.Tracker.RefreshIntervalSeconds)
	assert.Equal(t, "data", cfg.Data.Directory)
	assert.Equal(t, 0.5, cfg.Strategies.Momentum.Threshold)
	assert.Equal(t, 3, cfg.Strategies.Stick.StickCount)
	assert.Equal(t, "none", cfg.Storage.Type)
}

func TestParseKeepsExplicitValues(t *testing.T) {
	t.Setenv("TRACKER_DATA_DIR", "")
	data := []byte(`
tracker:
  interval: 15m
  backfill_limit: 250
  refresh_interval_seconds: 5
strategies:
  momentum:
    lookback: 6
    momentum: 1.25
data:
  directory: /tmp/tt
`)
	cfg, err := Parse(data)
	require.NoError(t, err)

	assert.Equal(t, "15m", cfg.Tracker.Interval)
	assert.Equal(t, 250, cfg.Tracker.BackfillLimit)
	assert.Equal(t, 5, cfg.Tracker.RefreshIntervalSeconds)
	assert.Equal(t, 6, cfg.Strategies.Momentum.Lookback)
	assert.Equal(t, 1.25, cfg.Strategies.Momentum.Threshold)
	assert.Equal(t, "/tmp/tt", cfg.Data.Directory)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("BINANCE_API_KEY", "key")
	t.Setenv("BINANCE_API_SECRET", "secret")
	t.Setenv("TRACKER_DATA_DIR", "/var/lib/tt")

	cfg, err := Parse([]byte("binance:\n  api_key: file-key\n"))
	require.NoError(t, err)

	assert.Equal(t, "key", cfg.Binance.APIKey)
	assert.True(t, cfg.Binance.HasCredentials())
	assert.Equal(t, "/var/lib/tt", cfg.Data.Directory)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad interval", "tracker:\n  interval: 2h\n"},
		{"backfill too large", "tracker:\n  backfill_limit: 5000\n"},
		{"scalping periods", "strategies:\n  scalping:\n    fast_period: 20\n    slow_period: 10\n"},
		{"unknown storage", "storage:\n  type: redis\n"},
		{"influx without url", "storage:\n  type: influxdb\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tracker:\n  interval: 4h\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "4h", cfg.Tracker.Interval)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

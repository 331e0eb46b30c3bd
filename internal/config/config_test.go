package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 500000, cfg.Historical.BlockSize)
	assert.Equal(t, 1000.0, cfg.Historical.ValueMultiplier)
	assert.Equal(t, "BACI_HS92_Y{year}_V202601.csv", cfg.Historical.Pattern)
	assert.True(t, cfg.Live.Enabled)
	assert.Equal(t, 10, cfg.Analysis.TopN)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
historical:
  dir: /srv/baci
  block_size: 1000
live:
  enabled: false
logging:
  level: debug
`), 0o644))
	t.Setenv("TRADE_HISTORICAL_DIR", "/mnt/baci")
	t.Setenv("TRADE_ANALYSIS_TOP_N", "25")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/mnt/baci", cfg.Historical.Dir, "environment wins over the file")
	assert.Equal(t, 1000, cfg.Historical.BlockSize)
	assert.Equal(t, 4, cfg.Historical.Concurrency, "unset keys keep their defaults")
	assert.False(t, cfg.Live.Enabled)
	assert.Equal(t, 25, cfg.Analysis.TopN)
	assert.Equal(t, "debug", cfg.Logging.Level)

	lc := cfg.LoaderConfig()
	assert.Equal(t, "/mnt/baci", lc.Files.Dir)
	assert.Equal(t, 1000, lc.Options.BlockSize)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	t.Setenv("TRADE_HISTORICAL_CONCURRENCY", "0")
	_, err = Load("")
	assert.ErrorContains(t, err, "Concurrency")

	t.Setenv("TRADE_HISTORICAL_CONCURRENCY", "lots")
	_, err = Load("")
	assert.ErrorContains(t, err, "environment")
}

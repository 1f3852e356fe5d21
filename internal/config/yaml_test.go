package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadYAMLOverrides_MissingFileReturnsEmptyNotError(t *testing.T) {
	fo, err := LoadYAMLOverrides(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Empty(t, fo.Defaults)
	assert.Empty(t, fo.Markets)
}

func TestLoadYAMLOverrides_ParsesDefaultsAndMarkets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
defaults:
  GRID_STEP_PCT: "0.02"
  FEE_BUFFER_PCT: "0.003"
markets:
  - id: BTC-USD
    is_favorite: true
    ranking: 1
    base_increment: "0.0001"
    quote_increment: "0.01"
    settings:
      note: "seeded from config.yaml"
`), 0o644))

	fo, err := LoadYAMLOverrides(path)
	require.NoError(t, err)
	assert.Equal(t, "0.02", fo.Defaults["GRID_STEP_PCT"])
	require.Len(t, fo.Markets, 1)
	assert.Equal(t, "BTC-USD", fo.Markets[0].ID)
	assert.True(t, fo.Markets[0].IsFavorite)

	mkt, err := fo.Markets[0].ToModel()
	require.NoError(t, err)
	assert.True(t, mkt.BaseIncrement.Equal(decimal.NewFromFloat(0.0001)))
	assert.Contains(t, mkt.SettingsJSON, "seeded from config.yaml")
}

func TestLoad_EnvVarWinsOverYAMLDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
defaults:
  GRID_STEP_PCT: "0.02"
`), 0o644))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("GRID_STEP_PCT", "0.05")

	rcfg, err := Load()
	require.NoError(t, err)
	assert.True(t, rcfg.GridStepPct.Equal(decimal.NewFromFloat(0.05)), "an explicit env var must override the config.yaml default")
}

func TestLoad_YAMLDefaultAppliesWhenEnvVarUnset(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
defaults:
  GRID_STEP_PCT: "0.03"
`), 0o644))

	t.Setenv("CONFIG_FILE", path)
	os.Unsetenv("GRID_STEP_PCT")
	t.Cleanup(func() { os.Unsetenv("GRID_STEP_PCT") })

	rcfg, err := Load()
	require.NoError(t, err)
	assert.True(t, rcfg.GridStepPct.Equal(decimal.NewFromFloat(0.03)), "the config.yaml default must apply when no env var is set")
}

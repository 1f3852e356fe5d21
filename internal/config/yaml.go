package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/chidi150c/gridbot/internal/model"
)

// FileOverrides is the optional config.yaml layer: Defaults holds the
// same keys getEnv/getEnvInt/etc. read from the process environment,
// consulted only when the corresponding env var is unset, and Markets
// seeds bot-known markets (with their per-market settings blob, §3
// Market.settings) at boot so an operator doesn't have to re-POST
// /markets/:id after every restart.
type FileOverrides struct {
	Defaults map[string]string `yaml:"defaults"`
	Markets  []MarketOverride  `yaml:"markets"`
}

// MarketOverride seeds one Market row. Settings is an arbitrary blob
// (grid step overrides, notes, exchange metadata) marshaled verbatim
// into Market.SettingsJSON.
type MarketOverride struct {
	ID             string         `yaml:"id"`
	IsFavorite     bool           `yaml:"is_favorite"`
	Ranking        int            `yaml:"ranking"`
	BaseIncrement  string         `yaml:"base_increment"`
	QuoteIncrement string         `yaml:"quote_increment"`
	MinSize        string         `yaml:"min_size"`
	Settings       map[string]any `yaml:"settings"`
}

// LoadYAMLOverrides reads the optional override file at path. A
// missing file is not an error: config.yaml is a layer under env vars,
// never a requirement (mirrors LoadDotEnv's "if present" policy for
// .env).
func LoadYAMLOverrides(path string) (*FileOverrides, error) {
	if path == "" {
		path = "config.yaml"
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &FileOverrides{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var fo FileOverrides
	if err := yaml.Unmarshal(data, &fo); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &fo, nil
}

// ToModel converts one MarketOverride into a model.Market, defaulting
// increments to the exchange-safe "smallest unit" of 0 when unset;
// the reconciler/planner treat a zero increment as "do not round"
// per grid.Planner's roundUpToIncrement.
func (mo MarketOverride) ToModel() (model.Market, error) {
	m := model.Market{ID: mo.ID, IsFavorite: mo.IsFavorite, Ranking: mo.Ranking}
	var err error
	if m.BaseIncrement, err = decimalOrZero(mo.BaseIncrement); err != nil {
		return model.Market{}, fmt.Errorf("market %s: base_increment: %w", mo.ID, err)
	}
	if m.QuoteIncrement, err = decimalOrZero(mo.QuoteIncrement); err != nil {
		return model.Market{}, fmt.Errorf("market %s: quote_increment: %w", mo.ID, err)
	}
	if m.MinSize, err = decimalOrZero(mo.MinSize); err != nil {
		return model.Market{}, fmt.Errorf("market %s: min_size: %w", mo.ID, err)
	}
	if len(mo.Settings) > 0 {
		blob, err := json.Marshal(mo.Settings)
		if err != nil {
			return model.Market{}, fmt.Errorf("market %s: settings: %w", mo.ID, err)
		}
		m.SettingsJSON = string(blob)
	}
	return m, nil
}

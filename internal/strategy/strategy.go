// Package strategy
package strategy

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/defoss123-ai/bot13/internal/db"
)

const configKey = "strategy_config_json"

// BlockConfig configures a single signal block.
type BlockConfig struct {
	Enabled bool           `json:"enabled"`
	Weight  int            `json:"weight"`
	Params  map[string]any `json:"params"`
}

// Config is the composed entry-signal strategy: a set of blocks combined in
// "and" mode (all enabled blocks must pass) or "score" mode (weighted sum
// must reach MinScore).
type Config struct {
	Mode          string                 `json:"mode"`
	MinScore      int                    `json:"min_score"`
	EnabledBlocks map[string]BlockConfig `json:"enabled_blocks"`
}

// DefaultConfig is the stock long-only momentum setup.
func DefaultConfig() Config {
	return Config{
		Mode:     "and",
		MinScore: 2,
		EnabledBlocks: map[string]BlockConfig{
			"trend_ema": {
				Enabled: true,
				Weight:  1,
				Params:  map[string]any{"ema_fast": 50, "ema_slow": 200},
			},
			"impulse_gate": {
				Enabled: true,
				Weight:  1,
				Params:  map[string]any{"lookback": 5, "min_pct": 0.25},
			},
			"volume_filter": {
				Enabled: true,
				Weight:  1,
				Params:  map[string]any{"mult": 1.2, "lookback": 20},
			},
			"pullback_ema": {
				Enabled: true,
				Weight:  1,
				Params:  map[string]any{"ema": 21, "confirm_close": true},
			},
			"breakout_donchian": {
				Enabled: true,
				Weight:  1,
				Params:  map[string]any{"lookback": 30},
			},
			"rsi_filter": {
				Enabled: true,
				Weight:  1,
				Params:  map[string]any{"rsi_min": 35, "rsi_max": 70},
			},
		},
	}
}

// LoadConfig reads the persisted strategy config; an absent or malformed
// value falls back to the default so the engine never stalls on bad JSON.
func LoadConfig(ctx context.Context, storage db.Storage) Config {
	raw, err := storage.GetSetting(ctx, configKey, "")
	if err != nil || raw == "" {
		return DefaultConfig()
	}
	var cfg Config
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return DefaultConfig()
	}
	if cfg.Mode != "and" && cfg.Mode != "score" {
		return DefaultConfig()
	}
	return cfg
}

// SaveConfig persists the strategy config as JSON.
func SaveConfig(ctx context.Context, storage db.Storage, cfg Config) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal strategy config: %w", err)
	}
	if err := storage.SetSetting(ctx, configKey, string(data)); err != nil {
		return fmt.Errorf("failed to save strategy config: %w", err)
	}
	return nil
}

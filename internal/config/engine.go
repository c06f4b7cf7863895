package config

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/comptaflow/ledgercast/internal/engine"
	"github.com/comptaflow/ledgercast/internal/hierarchy"
)

// LoadEngineConfig builds the forecasting pipeline configuration, starting
// from the engine defaults and overriding with any Viper keys that are set.
func LoadEngineConfig() (engine.Config, error) {
	cfg := engine.DefaultConfig()

	if viper.IsSet("engine.horizon") {
		cfg.Horizon = viper.GetInt("engine.horizon")
	}
	if viper.IsSet("engine.workers") {
		cfg.Workers = viper.GetInt("engine.workers")
	}
	if viper.IsSet("engine.trading_day") {
		cfg.TradingDay = viper.GetBool("engine.trading_day")
	}
	if v := viper.GetString("engine.weighting"); v != "" {
		w, err := hierarchy.ParseWeighting(v)
		if err != nil {
			return engine.Config{}, fmt.Errorf("engine.weighting: %w", err)
		}
		cfg.Weighting = w
	}

	if cfg.Horizon <= 0 {
		return engine.Config{}, fmt.Errorf("engine.horizon must be positive, got %d", cfg.Horizon)
	}
	if cfg.Workers <= 0 {
		return engine.Config{}, fmt.Errorf("engine.workers must be positive, got %d", cfg.Workers)
	}

	return cfg, nil
}

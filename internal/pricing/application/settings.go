package application

import (
	"errors"
	"os"

	"gopkg.in/yaml.v3"
)

// PrefetchSettings configures the scheduled day-ahead fetch.
type PrefetchSettings struct {
	Cron          string `yaml:"cron"`
	LookaheadDays int    `yaml:"lookahead_days"`
	// RetentionDays prunes stored days older than this; 0 keeps everything.
	RetentionDays int    `yaml:"retention_days"`
}

// Settings holds optimizer and data-source behavior.
type Settings struct {
	CapacityKWh          float64          `yaml:"capacity_kwh"`
	Efficiency           float64          `yaml:"efficiency"`
	DefaultThreshold     float64          `yaml:"default_threshold"`
	UseTestDataByDefault bool             `yaml:"use_test_data_by_default"`
	MarketLookbackDays   int              `yaml:"market_lookback_days"`
	OptimizeSpanDays     int              `yaml:"optimize_span_days"`
	Prefetch             PrefetchSettings `yaml:"prefetch"`
}

// DefaultSettings returns the built-in settings.
func DefaultSettings() Settings {
	return Settings{
		CapacityKWh:        defaultCapacityKWh,
		Efficiency:         defaultEfficiency,
		MarketLookbackDays: 7,
		OptimizeSpanDays:   30,
		Prefetch: PrefetchSettings{
			Cron:          "0 30 14 * * *",
			LookaheadDays: 1,
		},
	}
}

// LoadSettings reads a yaml file over the defaults. An empty path returns
// the defaults.
func LoadSettings(path string) (Settings, error) {
	cfg := DefaultSettings()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Validate rejects settings the optimizer cannot run with.
func (s Settings) Validate() error {
	if s.CapacityKWh <= 0 {
		return errors.New("settings: capacity_kwh must be positive")
	}
	if s.Efficiency <= 0 || s.Efficiency > 1 {
		return errors.New("settings: efficiency must be in (0, 1]")
	}
	if s.MarketLookbackDays <= 0 || s.OptimizeSpanDays <= 0 {
		return errors.New("settings: day spans must be positive")
	}
	if s.Prefetch.LookaheadDays < 0 || s.Prefetch.RetentionDays < 0 {
		return errors.New("settings: prefetch days must not be negative")
	}
	return nil
}

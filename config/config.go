/*
Package config loads server and threshold configuration.

PURPOSE:
  Central configuration for the reconciliation server: HTTP settings,
  database path, and the variance classification thresholds. Defaults
  work out of the box; a YAML file overlays them.

SOURCES (later wins):
  1. Built-in defaults
  2. YAML file passed via -config (or RECON_CONFIG)

EXAMPLE FILE:
  server:
    port: 8080
    db_path: ./data/recon.db
  thresholds:
    critical_percent: 5
    critical_liters: 200
    high_percent: 3
    medium_percent: 1.5
    low_percent: 0.5

SEE ALSO:
  - cmd/server/main.go:  Flag parsing and wiring
  - engine/classify.go:  How thresholds are applied
*/
package config

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/fuelops/recon-engine/engine"
)

// ServerConfig holds HTTP and storage settings.
type ServerConfig struct {
	Port   int    `yaml:"port"`
	DBPath string `yaml:"db_path"`
}

// ThresholdConfig holds the variance classification boundaries.
// Zero values fall back to the defaults, so a partial file only
// overrides what it names.
type ThresholdConfig struct {
	CriticalPercent float64 `yaml:"critical_percent"`
	CriticalLiters  float64 `yaml:"critical_liters"`
	HighPercent     float64 `yaml:"high_percent"`
	MediumPercent   float64 `yaml:"medium_percent"`
	LowPercent      float64 `yaml:"low_percent"`
}

// Config is the full server configuration.
type Config struct {
	Server     ServerConfig    `yaml:"server"`
	Thresholds ThresholdConfig `yaml:"thresholds"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:   8080,
			DBPath: "recon.db",
		},
		Thresholds: ThresholdConfig{
			CriticalPercent: 5,
			CriticalLiters:  200,
			HighPercent:     3,
			MediumPercent:   1.5,
			LowPercent:      0.5,
		},
	}
}

// Load returns the defaults overlaid with the YAML file at path.
// An empty path returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}

	defaults := Default().Thresholds
	if cfg.Thresholds.CriticalPercent == 0 {
		cfg.Thresholds.CriticalPercent = defaults.CriticalPercent
	}
	if cfg.Thresholds.CriticalLiters == 0 {
		cfg.Thresholds.CriticalLiters = defaults.CriticalLiters
	}
	if cfg.Thresholds.HighPercent == 0 {
		cfg.Thresholds.HighPercent = defaults.HighPercent
	}
	if cfg.Thresholds.MediumPercent == 0 {
		cfg.Thresholds.MediumPercent = defaults.MediumPercent
	}
	if cfg.Thresholds.LowPercent == 0 {
		cfg.Thresholds.LowPercent = defaults.LowPercent
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = Default().Server.Port
	}
	if cfg.Server.DBPath == "" {
		cfg.Server.DBPath = Default().Server.DBPath
	}
	return cfg, nil
}

// EngineThresholds converts the float configuration into the exact
// decimal form the classifier uses.
func (c Config) EngineThresholds() engine.Thresholds {
	return engine.Thresholds{
		CriticalPercent: decimal.NewFromFloat(c.Thresholds.CriticalPercent),
		CriticalLiters:  decimal.NewFromFloat(c.Thresholds.CriticalLiters),
		HighPercent:     decimal.NewFromFloat(c.Thresholds.HighPercent),
		MediumPercent:   decimal.NewFromFloat(c.Thresholds.MediumPercent),
		LowPercent:      decimal.NewFromFloat(c.Thresholds.LowPercent),
	}
}

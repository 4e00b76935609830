// Package config provides configuration types, defaults, and persistence
// for the workflow runtime.
package config

import (
	"os"
	"path/filepath"

	"github.com/jcflow/jc/internal/tracing"
)

// DataDirName is the per-repository data directory holding the event log
// and workflow scratch files.
const DataDirName = ".jc"

// ConfigFileName is the config file looked up inside the data directory
// and under ~/.config/jc/.
const ConfigFileName = "config.yaml"

// StoreConfig tunes the durable log.
type StoreConfig struct {
	// Path overrides the event database location. Empty means
	// <data_dir>/events.db.
	Path string `yaml:"path" mapstructure:"path"`

	// SnapshotEvery is the per-workflow event count interval between
	// auto-snapshots. Values below one disable them.
	SnapshotEvery int `yaml:"snapshot_every" mapstructure:"snapshot_every"`
}

// EvaluatorConfig tunes the grading thresholds.
type EvaluatorConfig struct {
	CostThresholdUSD float64 `yaml:"cost_threshold_usd" mapstructure:"cost_threshold_usd"`
	TimeThresholdMS  float64 `yaml:"time_threshold_ms" mapstructure:"time_threshold_ms"`
}

// ExecutorConfig tunes the agent executor boundary.
type ExecutorConfig struct {
	// Provider selects the registered executor provider.
	Provider string `yaml:"provider" mapstructure:"provider"`

	// Model is passed through to the provider; the core treats it as
	// opaque.
	Model string `yaml:"model" mapstructure:"model"`
}

// TrackerConfig tunes the external task tracker boundary.
type TrackerConfig struct {
	Binary string `yaml:"binary" mapstructure:"binary"`
}

// LogConfig tunes runtime logging.
type LogConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Level   string `yaml:"level" mapstructure:"level"`
	Path    string `yaml:"path" mapstructure:"path"`
}

// Config holds all configuration options for the runtime.
type Config struct {
	DataDir   string          `yaml:"data_dir" mapstructure:"data_dir"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Evaluator EvaluatorConfig `yaml:"evaluator" mapstructure:"evaluator"`
	Executor  ExecutorConfig  `yaml:"executor" mapstructure:"executor"`
	Tracker   TrackerConfig   `yaml:"tracker" mapstructure:"tracker"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Tracing   tracing.Config  `yaml:"tracing" mapstructure:"tracing"`
}

// Defaults returns the default configuration.
func Defaults() Config {
	return Config{
		DataDir: DataDirName,
		Store: StoreConfig{
			SnapshotEvery: 100,
		},
		Evaluator: EvaluatorConfig{
			CostThresholdUSD: 0.5,
			TimeThresholdMS:  120_000,
		},
		Executor: ExecutorConfig{
			Provider: "claude",
		},
		Tracker: TrackerConfig{
			Binary: "bd",
		},
		Log: LogConfig{
			Enabled: false,
			Level:   "info",
		},
		Tracing: tracing.DefaultConfig(),
	}
}

// DatabasePath resolves the event database location.
func (c Config) DatabasePath() string {
	if c.Store.Path != "" {
		return c.Store.Path
	}
	return filepath.Join(c.DataDir, "events.db")
}

// LogPath resolves the debug log location.
func (c Config) LogPath() string {
	if c.Log.Path != "" {
		return c.Log.Path
	}
	return filepath.Join(c.DataDir, "debug.log")
}

// LocalConfigPath is the repository-local config file location.
func LocalConfigPath() string {
	return filepath.Join(DataDirName, ConfigFileName)
}

// UserConfigPath is the per-user config file location, or "" when the home
// directory cannot be determined.
func UserConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "jc", ConfigFileName)
}

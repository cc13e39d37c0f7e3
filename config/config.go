// Package config loads the process configuration file. Secrets never
// live here; they come from the environment through the key vault.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/naoina/toml"
)

// Config is the on-disk TOML shape.
type Config struct {
	// DataDir holds the leveldb store.
	DataDir string `toml:"datadir"`

	// APIListen is the operator API bind address; empty disables it.
	APIListen string `toml:"api_listen"`

	// AdvisorWS is the signal stream websocket URL; empty disables ingest.
	AdvisorWS string `toml:"advisor_ws"`

	Executor ExecutorConfig `toml:"executor"`
	Influx   InfluxConfig   `toml:"influx"`

	// ReconcileInterval between position refresh passes.
	ReconcileInterval duration `toml:"reconcile_interval"`
}

// ExecutorConfig tunes per-step budgets.
type ExecutorConfig struct {
	StepTimeout     duration `toml:"step_timeout"`
	ConfirmInterval duration `toml:"confirm_interval"`
	MaxRetries      int      `toml:"max_retries"`
}

// InfluxConfig names the metrics export target; empty URL disables it.
type InfluxConfig struct {
	URL    string `toml:"url"`
	Token  string `toml:"token"`
	Org    string `toml:"org"`
	Bucket string `toml:"bucket"`
}

// duration parses "30s"/"5m" strings in TOML.
type duration time.Duration

func (d *duration) UnmarshalText(raw []byte) error {
	parsed, err := time.ParseDuration(string(raw))
	if err != nil {
		return err
	}
	*d = duration(parsed)
	return nil
}

func (d duration) Std() time.Duration { return time.Duration(d) }

// Defaults returns the configuration used when no file is given.
func Defaults() *Config {
	return &Config{
		DataDir:           "data",
		APIListen:         "127.0.0.1:8791",
		ReconcileInterval: duration(5 * time.Minute),
		Executor: ExecutorConfig{
			StepTimeout:     duration(120 * time.Second),
			ConfirmInterval: duration(3 * time.Second),
			MaxRetries:      2,
		},
	}
}

// Load reads and validates a config file, applying defaults for absent
// fields.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := toml.NewDecoder(f).Decode(cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("config %s: datadir must be set", path)
	}
	return cfg, nil
}

// ReconcileStd returns the reconcile interval as a time.Duration.
func (c *Config) ReconcileStd() time.Duration { return c.ReconcileInterval.Std() }

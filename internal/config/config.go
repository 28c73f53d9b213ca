// Package config loads scenebridge settings from a YAML file overlaid with
// SCENEBRIDGE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the full process configuration.
type Config struct {
	Pool        PoolConfig        `yaml:"pool"`
	Bridge      BridgeConfig      `yaml:"bridge"`
	Failures    FailureConfig     `yaml:"failures"`
	Journal     JournalConfig     `yaml:"journal"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
	Serve       ServeConfig       `yaml:"serve"`
}

// PoolConfig sizes the shared response buffer pool. Shifts are log2 of the
// smallest and largest pooled buffer.
type PoolConfig struct {
	MinShift int `yaml:"min_shift" env:"SCENEBRIDGE_POOL_MIN_SHIFT"`
	MaxShift int `yaml:"max_shift" env:"SCENEBRIDGE_POOL_MAX_SHIFT"`
	MaxFree  int `yaml:"max_free"  env:"SCENEBRIDGE_POOL_MAX_FREE"`
}

// BridgeConfig controls how a bridge waits on the host world.
type BridgeConfig struct {
	AwaitApply      bool          `yaml:"await_apply"      env:"SCENEBRIDGE_AWAIT_APPLY"`
	FinalizeTimeout time.Duration `yaml:"finalize_timeout" env:"SCENEBRIDGE_FINALIZE_TIMEOUT"`
}

// FailureConfig sets when a scene is suspended for repeated host failures.
// A zero Limit disables suspension.
type FailureConfig struct {
	Limit  int           `yaml:"limit"  env:"SCENEBRIDGE_FAILURE_LIMIT"`
	Window time.Duration `yaml:"window" env:"SCENEBRIDGE_FAILURE_WINDOW"`
}

// JournalConfig enables the SQLite batch journal when Path is set.
type JournalConfig struct {
	Path          string `yaml:"path"           env:"SCENEBRIDGE_JOURNAL_PATH"`
	SnapshotEvery int    `yaml:"snapshot_every" env:"SCENEBRIDGE_SNAPSHOT_EVERY"`
}

// DiagnosticsConfig enables the compressed JSONL failure log when Dir is set.
type DiagnosticsConfig struct {
	Dir string `yaml:"dir" env:"SCENEBRIDGE_DIAG_DIR"`
}

// ServeConfig configures the websocket endpoint.
type ServeConfig struct {
	Addr         string `yaml:"addr"           env:"SCENEBRIDGE_ADDR"`
	MaxFrameSize int64  `yaml:"max_frame_size" env:"SCENEBRIDGE_MAX_FRAME_SIZE"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Pool:     PoolConfig{MinShift: 8, MaxShift: 24, MaxFree: 16},
		Failures: FailureConfig{Limit: 8, Window: 10 * time.Second},
		Journal:  JournalConfig{SnapshotEvery: 64},
		Serve:    ServeConfig{Addr: "127.0.0.1:8765", MaxFrameSize: 16 << 20},
	}
}

// Load reads path (optional) over the defaults, then applies environment
// overrides.
func Load(path string) (Config, error) {
	return load(path, env.Options{})
}

// LoadWithEnv is Load with an explicit environment instead of os.Environ.
func LoadWithEnv(path string, environ map[string]string) (Config, error) {
	return load(path, env.Options{Environment: environ})
}

func load(path string, opts env.Options) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("%s: %w", path, err)
		}
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Normalize fills unset fields with defaults and trims strings.
func (c *Config) Normalize() {
	if c == nil {
		return
	}
	def := Default()
	if c.Pool.MinShift <= 0 {
		c.Pool.MinShift = def.Pool.MinShift
	}
	if c.Pool.MaxShift <= 0 {
		c.Pool.MaxShift = def.Pool.MaxShift
	}
	if c.Pool.MaxFree <= 0 {
		c.Pool.MaxFree = def.Pool.MaxFree
	}
	if c.Failures.Limit > 0 && c.Failures.Window <= 0 {
		c.Failures.Window = def.Failures.Window
	}
	if c.Journal.SnapshotEvery < 0 {
		c.Journal.SnapshotEvery = 0
	}
	if c.Serve.MaxFrameSize <= 0 {
		c.Serve.MaxFrameSize = def.Serve.MaxFrameSize
	}
	c.Journal.Path = strings.TrimSpace(c.Journal.Path)
	c.Diagnostics.Dir = strings.TrimSpace(c.Diagnostics.Dir)
	c.Serve.Addr = strings.TrimSpace(c.Serve.Addr)
	if c.Serve.Addr == "" {
		c.Serve.Addr = def.Serve.Addr
	}
}

// Validate rejects settings the pool or bridge cannot honor.
func (c Config) Validate() error {
	var errs []error
	if c.Pool.MinShift > c.Pool.MaxShift {
		errs = append(errs, fmt.Errorf("pool: min_shift %d exceeds max_shift %d", c.Pool.MinShift, c.Pool.MaxShift))
	}
	if c.Pool.MaxShift > 30 {
		errs = append(errs, fmt.Errorf("pool: max_shift %d exceeds 30", c.Pool.MaxShift))
	}
	if c.Bridge.FinalizeTimeout < 0 {
		errs = append(errs, errors.New("bridge: finalize_timeout must not be negative"))
	}
	if c.Failures.Limit < 0 {
		errs = append(errs, errors.New("failures: limit must not be negative"))
	}
	return errors.Join(errs...)
}

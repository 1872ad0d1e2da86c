// Package config loads the settings of the mlback tools from a YAML file
// and the environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/xyproto/env/v2"
	"gopkg.in/yaml.v3"
)

// Environment variables that override the file.
const (
	EnvThreshold = "MLBACK_INLINE_THRESHOLD"
	EnvMaxPasses = "MLBACK_MAX_PASSES"
	EnvParallel  = "MLBACK_PARALLEL"
	EnvLogLevel  = "MLBACK_LOG_LEVEL"
)

type Simplify struct {
	// Threshold is the largest body size inlined without an always mark.
	Threshold int `yaml:"threshold"`
	MaxPasses int `yaml:"max_passes"`
}

type Codegen struct {
	// Fallback routes functions the generator cannot handle to the
	// general generator. When false they are reported as errors.
	Fallback   bool `yaml:"fallback"`
	CheckStack bool `yaml:"check_stack"`
}

type Pipeline struct {
	// Parallel is the number of functions generated at once.
	Parallel int `yaml:"parallel"`
}

type Log struct {
	Level string `yaml:"level"`
}

// Config is the full configuration.
type Config struct {
	Simplify Simplify `yaml:"simplify"`
	Codegen  Codegen  `yaml:"codegen"`
	Pipeline Pipeline `yaml:"pipeline"`
	Log      Log      `yaml:"log"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Simplify: Simplify{Threshold: 10, MaxPasses: 8},
		Codegen:  Codegen{Fallback: true, CheckStack: true},
		Pipeline: Pipeline{Parallel: 1},
		Log:      Log{Level: "info"},
	}
}

// Load reads path over the defaults, applies the environment and
// validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: %w", err)
		}
		if err := decode(bytes.NewReader(data), &cfg); err != nil {
			return Config{}, fmt.Errorf("config: %s: %w", path, err)
		}
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse is Load for YAML already in memory. The environment is not read.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := decode(bytes.NewReader(data), &cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv overrides fields from the MLBACK_* variables that are set.
func (c *Config) ApplyEnv() {
	if env.Has(EnvThreshold) {
		c.Simplify.Threshold = env.Int(EnvThreshold, c.Simplify.Threshold)
	}
	if env.Has(EnvMaxPasses) {
		c.Simplify.MaxPasses = env.Int(EnvMaxPasses, c.Simplify.MaxPasses)
	}
	if env.Has(EnvParallel) {
		c.Pipeline.Parallel = env.Int(EnvParallel, c.Pipeline.Parallel)
	}
	if env.Has(EnvLogLevel) {
		c.Log.Level = env.Str(EnvLogLevel, c.Log.Level)
	}
}

// Validate reports the first setting out of range.
func (c Config) Validate() error {
	switch {
	case c.Simplify.Threshold < 0:
		return fmt.Errorf("config: simplify.threshold %d is negative", c.Simplify.Threshold)
	case c.Simplify.MaxPasses < 1:
		return fmt.Errorf("config: simplify.max_passes must be at least 1, got %d", c.Simplify.MaxPasses)
	case c.Pipeline.Parallel < 1:
		return fmt.Errorf("config: pipeline.parallel must be at least 1, got %d", c.Pipeline.Parallel)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level converts Log.Level to a slog level.
func (c Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(c.Log.Level))); err != nil {
		return 0, fmt.Errorf("config: log.level: %w", err)
	}
	return l, nil
}

// Package config loads the fwlayout tool configuration.
//
// The file is YAML:
//
//	max_size: 0x100000
//	offline_dir: staging
//	max_passes: 16
//	log_level: info
//	color: auto
//	plugins:
//	  XOR: plugins/xor.wasm
//
// Relative paths are resolved against the directory of the file.
package config

import (
	"bytes"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/wippyai/fwlayout/errors"
	"github.com/wippyai/fwlayout/layout"
)

// Colour modes.
const (
	ColorAuto   = "auto"
	ColorAlways = "always"
	ColorNever  = "never"
)

// Config holds the tool settings. Command line flags override them.
type Config struct {
	Plugins    map[string]string `yaml:"plugins,omitempty"`
	OfflineDir string            `yaml:"offline_dir,omitempty"`
	LogLevel   string            `yaml:"log_level,omitempty"`
	Color      string            `yaml:"color,omitempty"`
	MaxSize    int               `yaml:"max_size,omitempty"`
	MaxPasses  int               `yaml:"max_passes,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		LogLevel: "warn",
		Color:    ColorAuto,
	}
}

// Load reads the configuration file at path. An empty path yields Default.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindNotFound, err, "read config")
	}
	cfg, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	cfg.resolve(filepath.Dir(path))
	return cfg, nil
}

// Parse decodes a configuration document over Default. Unknown keys are
// rejected.
func Parse(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindSyntax, err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) resolve(dir string) {
	if c.OfflineDir != "" && !filepath.IsAbs(c.OfflineDir) {
		c.OfflineDir = filepath.Join(dir, c.OfflineDir)
	}
	for mode, p := range c.Plugins {
		if !filepath.IsAbs(p) {
			c.Plugins[mode] = filepath.Join(dir, p)
		}
	}
}

// Validate checks the value ranges.
func (c *Config) Validate() error {
	if c.MaxSize < 0 {
		return errors.Structural(errors.PhaseConfig, "max_size must not be negative, got %d", c.MaxSize)
	}
	if c.MaxPasses < 0 {
		return errors.Structural(errors.PhaseConfig, "max_passes must not be negative, got %d", c.MaxPasses)
	}
	switch c.Color {
	case ColorAuto, ColorAlways, ColorNever:
	default:
		return errors.Structural(errors.PhaseConfig, "color must be auto, always or never, got %q", c.Color)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	for mode, p := range c.Plugins {
		if mode == "" || p == "" {
			return errors.Structural(errors.PhaseConfig, "plugin entries need a mode and a path")
		}
	}
	return nil
}

// Level returns the configured log level.
func (c *Config) Level() (zapcore.Level, error) {
	lvl, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return lvl, errors.Wrap(errors.PhaseConfig, errors.KindStructural, err, "log_level")
	}
	return lvl, nil
}

// Options converts the configuration into layout options.
func (c *Config) Options() layout.Options {
	return layout.Options{
		Plugins:    c.Plugins,
		OfflineDir: c.OfflineDir,
		MaxSize:    c.MaxSize,
		MaxPasses:  c.MaxPasses,
	}
}

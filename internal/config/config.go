// Package config loads the optional supervisor configuration file and
// resolves the directory layout every other component works from.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/unitherd/unitherd/internal/env"
	"github.com/unitherd/unitherd/internal/logger"
	"github.com/unitherd/unitherd/internal/tlsconf"
)

// ErrConfiguration marks problems that must stop the supervisor before
// it touches any unit: unreadable config, missing services directory.
var ErrConfiguration = errors.New("configuration error")

// DefaultMonitorInterval is the pause between monitor loop passes.
const DefaultMonitorInterval = 10 * time.Second

// Config represents the top-level TOML structure (unitherd.toml).
// Every field has a working zero-config default.
type Config struct {
	// BaseDir anchors the default directory layout. Defaults to the
	// working directory.
	BaseDir     string `toml:"base_dir" mapstructure:"base_dir"`
	ServicesDir string `toml:"services_dir" mapstructure:"services_dir"`
	LogDir      string `toml:"log_dir" mapstructure:"log_dir"`
	RunDir      string `toml:"run_dir" mapstructure:"run_dir"`

	MonitorInterval time.Duration `toml:"monitor_interval" mapstructure:"monitor_interval"`

	// Watch reloads automatically when unit files change.
	Watch bool `toml:"watch" mapstructure:"watch"`

	// Env entries ("KEY=VALUE") and EnvFiles contents become globals
	// visible to every unit. PathPrepend directories are pushed onto
	// PATH for dependency lookups and children.
	Env         []string `toml:"env" mapstructure:"env"`
	EnvFiles    []string `toml:"env_files" mapstructure:"env_files"`
	PathPrepend []string `toml:"path_prepend" mapstructure:"path_prepend"`

	Log     logger.Config `toml:"log" mapstructure:"log"`
	History HistoryConfig `toml:"history" mapstructure:"history"`
	Server  ServerConfig  `toml:"server" mapstructure:"server"`
}

// HistoryConfig lists event sink destinations as DSNs.
type HistoryConfig struct {
	DSNs []string `toml:"dsns" mapstructure:"dsns"`
}

// ServerConfig configures the optional HTTP API.
type ServerConfig struct {
	Listen   string          `toml:"listen" mapstructure:"listen"`
	BasePath string          `toml:"base_path" mapstructure:"base_path"`
	TLS      *tlsconf.Config `toml:"tls" mapstructure:"tls"`
}

// Default returns a config with every knob at its zero-config value.
// Directory fields stay empty until Normalize resolves them.
func Default() *Config {
	return &Config{
		MonitorInterval: DefaultMonitorInterval,
		Server: ServerConfig{
			Listen:   ":8420",
			BasePath: "/unitherd",
		},
	}
}

// Load reads the TOML file at path into a defaulted Config. An empty
// path returns the defaults untouched.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrConfiguration, path, err)
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrConfiguration, path, err)
	}
	return cfg, nil
}

// Normalize fills directory defaults relative to BaseDir and makes all
// paths absolute. Call once after flags have been applied.
func (c *Config) Normalize() error {
	if c.BaseDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("%w: resolve working directory: %v", ErrConfiguration, err)
		}
		c.BaseDir = wd
	}
	abs, err := filepath.Abs(c.BaseDir)
	if err != nil {
		return fmt.Errorf("%w: resolve base dir %s: %v", ErrConfiguration, c.BaseDir, err)
	}
	c.BaseDir = abs

	c.ServicesDir = c.resolveDir(c.ServicesDir, "services")
	c.LogDir = c.resolveDir(c.LogDir, "log")
	c.RunDir = c.resolveDir(c.RunDir, "run")

	if c.MonitorInterval <= 0 {
		c.MonitorInterval = DefaultMonitorInterval
	}
	return nil
}

func (c *Config) resolveDir(dir, sub string) string {
	if dir == "" {
		return filepath.Join(c.BaseDir, sub)
	}
	if !filepath.IsAbs(dir) {
		return filepath.Join(c.BaseDir, dir)
	}
	return dir
}

// Environment builds the shared environment from the config globals:
// OS env as base, then env_files in order, then env entries last.
func (c *Config) Environment() (*env.Env, error) {
	e := env.New()
	e.FromOS()
	for _, p := range c.EnvFiles {
		pairs, err := env.LoadFile(p)
		if err != nil {
			return nil, fmt.Errorf("%w: env file %s: %v", ErrConfiguration, p, err)
		}
		applyPairs(e, pairs)
	}
	applyPairs(e, c.Env)
	e.PathPrepend = append([]string(nil), c.PathPrepend...)
	return e, nil
}

func applyPairs(e *env.Env, pairs []string) {
	for _, kv := range pairs {
		i := strings.IndexByte(kv, '=')
		if i <= 0 {
			slog.Warn("ignoring malformed env entry in config", "entry", kv)
			continue
		}
		e.Set(kv[:i], kv[i+1:])
	}
}

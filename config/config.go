// Package config loads message-port settings from TOML files.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"

	"github.com/Swind/go-message-port/channel"
	"github.com/Swind/go-message-port/core"
)

type Config struct {
	Log     LogConfig
	Loop    LoopConfig
	Port    PortConfig
	Metrics MetricsConfig
}

type LogConfig struct {
	// Level is a zerolog level name: trace, debug, info, warn, error, disabled.
	Level string
	// Format is "console" or "json".
	Format string
}

type LoopConfig struct {
	Name         string
	LockOSThread bool
}

type PortConfig struct {
	// PollTimeout bounds the probe of an unresolved loop future on send.
	// Omitting the key keeps channel.DefaultPollTimeout; "0s" means probe
	// without waiting. Negative values are rejected.
	PollTimeout time.Duration
}

type MetricsConfig struct {
	Enabled      bool
	Namespace    string
	Addr         string
	PollInterval time.Duration
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Log:  LogConfig{Level: "info", Format: "console"},
		Loop: LoopConfig{Name: "main"},
		Port: PortConfig{PollTimeout: channel.DefaultPollTimeout},
		Metrics: MetricsConfig{
			Namespace:    "msgport",
			Addr:         ":2112",
			PollInterval: time.Second,
		},
	}
}

type fileConfig struct {
	Log struct {
		Level  string `toml:"level"`
		Format string `toml:"format"`
	} `toml:"log"`
	Loop struct {
		Name         string `toml:"name"`
		LockOSThread bool   `toml:"lock_os_thread"`
	} `toml:"loop"`
	Port struct {
		PollTimeout string `toml:"poll_timeout"`
	} `toml:"port"`
	Metrics struct {
		Enabled      bool   `toml:"enabled"`
		Namespace    string `toml:"namespace"`
		Addr         string `toml:"addr"`
		PollInterval string `toml:"poll_interval"`
	} `toml:"metrics"`
}

// Load reads path over the defaults. Keys absent from the file keep their
// default values.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("load config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("log", "level") {
		cfg.Log.Level = strings.ToLower(strings.TrimSpace(raw.Log.Level))
	}
	if meta.IsDefined("log", "format") {
		cfg.Log.Format = strings.ToLower(strings.TrimSpace(raw.Log.Format))
	}
	if meta.IsDefined("loop", "name") {
		cfg.Loop.Name = strings.TrimSpace(raw.Loop.Name)
	}
	if meta.IsDefined("loop", "lock_os_thread") {
		cfg.Loop.LockOSThread = raw.Loop.LockOSThread
	}
	if meta.IsDefined("port", "poll_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Port.PollTimeout))
		if err != nil {
			return Config{}, fmt.Errorf("parse port.poll_timeout: %w", err)
		}
		cfg.Port.PollTimeout = d
	}
	if meta.IsDefined("metrics", "enabled") {
		cfg.Metrics.Enabled = raw.Metrics.Enabled
	}
	if meta.IsDefined("metrics", "namespace") {
		cfg.Metrics.Namespace = strings.TrimSpace(raw.Metrics.Namespace)
	}
	if meta.IsDefined("metrics", "addr") {
		cfg.Metrics.Addr = strings.TrimSpace(raw.Metrics.Addr)
	}
	if meta.IsDefined("metrics", "poll_interval") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Metrics.PollInterval))
		if err != nil {
			return Config{}, fmt.Errorf("parse metrics.poll_interval: %w", err)
		}
		cfg.Metrics.PollInterval = d
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log.level %q: %w", c.Log.Level, err)
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("invalid log.format %q", c.Log.Format)
	}
	if c.Port.PollTimeout < 0 {
		return fmt.Errorf("port.poll_timeout must not be negative")
	}
	if c.Metrics.PollInterval < 0 {
		return fmt.Errorf("metrics.poll_interval must not be negative")
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required when metrics are enabled")
	}
	return nil
}

// Logger builds the configured zerolog-backed logger.
func (c Config) Logger() core.Logger {
	level, err := zerolog.ParseLevel(c.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var zl zerolog.Logger
	if c.Log.Format == "json" {
		zl = zerolog.New(os.Stderr)
	} else {
		zl = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	return core.NewZerologLogger(zl.Level(level).With().Timestamp().Logger())
}

// RunnerConfig derives the loop configuration.
func (c Config) RunnerConfig(logger core.Logger, metrics core.Metrics) *core.RunnerConfig {
	return &core.RunnerConfig{
		Name:         c.Loop.Name,
		LockOSThread: c.Loop.LockOSThread,
		Logger:       logger,
		Metrics:      metrics,
	}
}

// ChannelConfig derives the port configuration.
func (c Config) ChannelConfig(logger core.Logger, metrics core.Metrics) *channel.Config {
	cfg := channel.DefaultConfig()
	cfg.PollTimeout = c.Port.PollTimeout
	if cfg.PollTimeout == 0 {
		// zero would be replaced by the default; probe only
		cfg.PollTimeout = -1
	}
	cfg.Logger = logger
	cfg.Metrics = metrics
	return cfg
}

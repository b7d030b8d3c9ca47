// Package config loads the coordinator and worker configuration from YAML.
//
// Example:
//
//	coordinator:
//	  listen_addr: 0.0.0.0:9999
//	  upstream_addr: 127.0.0.1
//	  allowlist_path: whitelist
//	  redundancy: 2
//	  tick_interval: 100ms
//	admin:
//	  enabled: true
//	  addr: 127.0.0.1:50051
//	http:
//	  enabled: true
//	  addr: 127.0.0.1:9090
//	log:
//	  level: info
//	  file: coordinator.log
//	worker:
//	  coordinator_addr: 127.0.0.1:9999
//	  bind_addr: 127.0.0.2
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete configuration file.
type Config struct {
	Coordinator struct {
		ListenAddr    string        `yaml:"listen_addr"`
		UpstreamAddr  string        `yaml:"upstream_addr"`  // host of the front-end peer
		AllowlistPath string        `yaml:"allowlist_path"` // empty disables admission checks
		Redundancy    int           `yaml:"redundancy"`
		TickInterval  time.Duration `yaml:"tick_interval"`
		WriteTimeout  time.Duration `yaml:"write_timeout"`
	} `yaml:"coordinator"`

	Admin struct {
		Enabled bool   `yaml:"enabled"`
		Addr    string `yaml:"addr"`
	} `yaml:"admin"`

	HTTP struct {
		Enabled bool   `yaml:"enabled"`
		Addr    string `yaml:"addr"`
	} `yaml:"http"`

	Log struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"` // appended to in addition to stderr
	} `yaml:"log"`

	Worker struct {
		CoordinatorAddr string `yaml:"coordinator_addr"`
		BindAddr        string `yaml:"bind_addr"` // local source address, optional
	} `yaml:"worker"`
}

var (
	ErrInvalidRedundancy = errors.New("config: coordinator.redundancy must be at least 1")
	ErrInvalidTick       = errors.New("config: coordinator.tick_interval must be positive")
	ErrInvalidAddr       = errors.New("config: invalid address")
	ErrInvalidLogLevel   = errors.New("config: log.level must be debug, info, warn or error")
)

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.Coordinator.ListenAddr = "0.0.0.0:9999"
	cfg.Coordinator.UpstreamAddr = "127.0.0.1"
	cfg.Coordinator.AllowlistPath = "whitelist"
	cfg.Coordinator.Redundancy = 2
	cfg.Coordinator.TickInterval = 100 * time.Millisecond
	cfg.Coordinator.WriteTimeout = 5 * time.Second
	cfg.Admin.Enabled = true
	cfg.Admin.Addr = "127.0.0.1:50051"
	cfg.HTTP.Enabled = true
	cfg.HTTP.Addr = "127.0.0.1:9090"
	cfg.Log.Level = "info"
	cfg.Worker.CoordinatorAddr = "127.0.0.1:9999"
	return cfg
}

// Load reads path over the defaults. A missing file is not an error when
// path is empty; otherwise read and parse failures are returned.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	return cfg, nil
}

// Validate checks the fields the coordinator depends on.
func (c *Config) Validate() error {
	if c.Coordinator.Redundancy < 1 {
		return ErrInvalidRedundancy
	}
	if c.Coordinator.TickInterval <= 0 {
		return ErrInvalidTick
	}
	if _, _, err := net.SplitHostPort(c.Coordinator.ListenAddr); err != nil {
		return fmt.Errorf("%w: coordinator.listen_addr %q: %v", ErrInvalidAddr, c.Coordinator.ListenAddr, err)
	}
	if c.Admin.Enabled {
		if _, _, err := net.SplitHostPort(c.Admin.Addr); err != nil {
			return fmt.Errorf("%w: admin.addr %q: %v", ErrInvalidAddr, c.Admin.Addr, err)
		}
	}
	if c.HTTP.Enabled {
		if _, _, err := net.SplitHostPort(c.HTTP.Addr); err != nil {
			return fmt.Errorf("%w: http.addr %q: %v", ErrInvalidAddr, c.HTTP.Addr, err)
		}
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	return nil
}

// LogLevel parses Log.Level.
func (c *Config) LogLevel() (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.Log.Level)
	}
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/moodsip/internal/device"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	LogLevel       string        `yaml:"log_level" default:"panic"`
	ScanTimeout    time.Duration `yaml:"scan_timeout" default:"10s"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" default:"30s"`

	// Filters selects the bottle by advertised name. Empty selects the built-in set.
	Filters []device.Filter `yaml:"filters"`

	Session   SessionConfig   `yaml:"session"`
	Inference InferenceConfig `yaml:"inference"`
}

// SessionConfig tunes the link session and the activity feed.
type SessionConfig struct {
	WatchdogDeadline time.Duration `yaml:"watchdog_deadline" default:"5s"`
	AckTimeout       time.Duration `yaml:"ack_timeout" default:"2s"`
	EventQueue       int           `yaml:"event_queue" default:"64"`
	DeliveryQueue    int           `yaml:"delivery_queue" default:"4"`
	RawTailSize      int           `yaml:"raw_tail_size" default:"512"`
	HistorySize      int           `yaml:"history_size" default:"5"`
	LiveQueue        int           `yaml:"live_queue" default:"64"`
}

// InferenceConfig points at the mood analysis backend.
type InferenceConfig struct {
	Enabled            bool          `yaml:"enabled" default:"true"`
	BaseURL            string        `yaml:"base_url" default:"http://localhost:8001"`
	Model              string        `yaml:"model" default:"gemini"`
	RequestTimeout     time.Duration `yaml:"request_timeout" default:"30s"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`

	// RatePerSecond caps analysis requests; frames arriving faster are skipped.
	RatePerSecond float64 `yaml:"rate_per_second" default:"1"`
	Burst         int     `yaml:"burst" default:"1"`

	// Breaker opens after BreakerFailures consecutive failures for BreakerCooldown.
	BreakerFailures uint32        `yaml:"breaker_failures" default:"3"`
	BreakerCooldown time.Duration `yaml:"breaker_cooldown" default:"30s"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load returns the defaults overlaid with the YAML file at path. An empty path
// or a missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects values the session cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}

	positive := []struct {
		name string
		ok   bool
	}{
		{"scan_timeout", c.ScanTimeout > 0},
		{"connect_timeout", c.ConnectTimeout > 0},
		{"session.watchdog_deadline", c.Session.WatchdogDeadline > 0},
		{"session.ack_timeout", c.Session.AckTimeout > 0},
		{"session.event_queue", c.Session.EventQueue > 0},
		{"session.delivery_queue", c.Session.DeliveryQueue > 0},
		{"session.raw_tail_size", c.Session.RawTailSize > 0},
		{"session.history_size", c.Session.HistorySize > 0},
		{"session.live_queue", c.Session.LiveQueue > 0},
	}
	if c.Inference.Enabled {
		positive = append(positive, []struct {
			name string
			ok   bool
		}{
			{"inference.request_timeout", c.Inference.RequestTimeout > 0},
			{"inference.rate_per_second", c.Inference.RatePerSecond > 0},
			{"inference.burst", c.Inference.Burst > 0},
			{"inference.breaker_failures", c.Inference.BreakerFailures > 0},
			{"inference.breaker_cooldown", c.Inference.BreakerCooldown > 0},
		}...)
		if !strings.HasPrefix(c.Inference.BaseURL, "http://") && !strings.HasPrefix(c.Inference.BaseURL, "https://") {
			errs = append(errs, fmt.Errorf("inference.base_url must be an http(s) URL, got %q", c.Inference.BaseURL))
		}
	}
	for _, p := range positive {
		if !p.ok {
			errs = append(errs, fmt.Errorf("%s must be positive", p.name))
		}
	}

	for i, f := range c.Filters {
		if f.Name == "" && f.NamePrefix == "" {
			errs = append(errs, fmt.Errorf("filters[%d] must set name or name_prefix", i))
		}
	}

	return errors.Join(errs...)
}

// Level parses LogLevel.
func (c *Config) Level() (logrus.Level, error) {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.PanicLevel, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}

// DeviceFilters returns the configured filters or the built-in set.
func (c *Config) DeviceFilters() []device.Filter {
	if len(c.Filters) == 0 {
		return device.DefaultFilters()
	}
	return c.Filters
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	level, err := c.Level()
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/moodsip/internal/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "panic", cfg.LogLevel)
	assert.Equal(t, 10*time.Second, cfg.ScanTimeout)
	assert.Equal(t, 30*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, SessionConfig{
		WatchdogDeadline: 5 * time.Second,
		AckTimeout:       2 * time.Second,
		EventQueue:       64,
		DeliveryQueue:    4,
		RawTailSize:      512,
		HistorySize:      5,
		LiveQueue:        64,
	}, cfg.Session)
	assert.True(t, cfg.Inference.Enabled)
	assert.Equal(t, "http://localhost:8001", cfg.Inference.BaseURL)
	assert.Equal(t, "gemini", cfg.Inference.Model)
	assert.Equal(t, 1.0, cfg.Inference.RatePerSecond)
	assert.Equal(t, uint32(3), cfg.Inference.BreakerFailures)
	assert.Equal(t, device.DefaultFilters(), cfg.DeviceFilters())
	assert.NoError(t, cfg.Validate(), "defaults MUST be valid")
}

func TestLoadOverlaysYAML(t *testing.T) {
	// GOAL: Verify that a config file overrides only the keys it sets
	//
	// TEST SCENARIO: file sets log level, watchdog, inference URL and one filter → those change,
	// everything else keeps its default

	path := filepath.Join(t.TempDir(), "moodsip.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
session:
  watchdog_deadline: 8s
inference:
  base_url: https://10.0.0.5:8001
  insecure_skip_verify: true
filters:
  - name_prefix: Bottle
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 8*time.Second, cfg.Session.WatchdogDeadline)
	assert.Equal(t, 2*time.Second, cfg.Session.AckTimeout, "unset keys MUST keep defaults")
	assert.Equal(t, "https://10.0.0.5:8001", cfg.Inference.BaseURL)
	assert.True(t, cfg.Inference.InsecureSkipVerify)
	assert.Equal(t, "gemini", cfg.Inference.Model)
	assert.Equal(t, []device.Filter{{NamePrefix: "Bottle"}}, cfg.DeviceFilters())
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadRejectsBadFiles(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errText string
	}{
		{name: "not yaml", content: "log_level: [", errText: "parse config"},
		{name: "zero watchdog", content: "session:\n  watchdog_deadline: 0s\n", errText: "session.watchdog_deadline must be positive"},
		{name: "unknown level", content: "log_level: chatty\n", errText: "log_level"},
		{name: "empty filter", content: "filters:\n  - {}\n", errText: "filters[0]"},
		{name: "bad url", content: "inference:\n  base_url: localhost:8001\n", errText: "inference.base_url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "moodsip.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o600))

			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errText)
		})
	}
}

func TestValidateSkipsDisabledInference(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Inference.Enabled = false
	cfg.Inference.BaseURL = ""
	cfg.Inference.RatePerSecond = 0

	assert.NoError(t, cfg.Validate())
}

func TestConfig_NewLogger(t *testing.T) {
	tests := []struct {
		name     string
		logLevel string
		expected logrus.Level
	}{
		{name: "creates logger with debug level", logLevel: "debug", expected: logrus.DebugLevel},
		{name: "creates logger with warn level", logLevel: "warn", expected: logrus.WarnLevel},
		{name: "default level is silent", logLevel: "panic", expected: logrus.PanicLevel},
		{name: "unparsable level falls back to info", logLevel: "chatty", expected: logrus.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{LogLevel: tt.logLevel}

			logger := cfg.NewLogger()

			assert.Equal(t, tt.expected, logger.GetLevel())
			formatter, ok := logger.Formatter.(*logrus.TextFormatter)
			require.True(t, ok)
			assert.True(t, formatter.FullTimestamp)
			assert.Equal(t, time.RFC3339, formatter.TimestampFormat)
		})
	}
}

package main

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/moodsip/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlagCommand(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("log-level", "", "")
	cmd.Flags().Bool("verbose", false, "")
	require.NoError(t, cmd.ParseFlags(args))
	return cmd
}

func TestConfigureLogger(t *testing.T) {
	// GOAL: Verify log level precedence: --log-level, then --verbose, then the config file
	//
	// TEST SCENARIO: each flag/config combination → expected logrus level

	fromConfig := config.DefaultConfig()
	fromConfig.LogLevel = "warn"

	tests := []struct {
		name     string
		args     []string
		cfg      *config.Config
		expected logrus.Level
	}{
		{name: "silent by default", expected: logrus.PanicLevel},
		{name: "default config is silent", cfg: config.DefaultConfig(), expected: logrus.PanicLevel},
		{name: "config level", cfg: fromConfig, expected: logrus.WarnLevel},
		{name: "verbose beats config", args: []string{"--verbose"}, cfg: fromConfig, expected: logrus.DebugLevel},
		{name: "log-level beats verbose", args: []string{"--verbose", "--log-level", "error"}, expected: logrus.ErrorLevel},
		{name: "log-level info", args: []string{"--log-level", "info"}, cfg: fromConfig, expected: logrus.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := configureLogger(newFlagCommand(t, tt.args...), "verbose", tt.cfg)
			require.NoError(t, err)

			assert.Equal(t, tt.expected, logger.GetLevel())
			formatter, ok := logger.Formatter.(*logrus.TextFormatter)
			require.True(t, ok)
			assert.True(t, formatter.FullTimestamp)
			assert.Equal(t, time.RFC3339, formatter.TimestampFormat)
		})
	}
}

func TestConfigureLoggerRejectsUnknownLevel(t *testing.T) {
	_, err := configureLogger(newFlagCommand(t, "--log-level", "trace"), "verbose", nil)
	assert.EqualError(t, err, "invalid log level: trace (must be debug, info, warn, or error)")
}

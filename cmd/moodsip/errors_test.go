package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/srg/moodsip/internal/device"
	"github.com/srg/moodsip/internal/inference"
	"github.com/stretchr/testify/assert"
)

func TestFormatUserError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{name: "nil", err: nil, expected: ""},
		{
			name:     "adapter off",
			err:      device.NewError(device.AdapterUnavailable, nil, "adapter adapter_off"),
			expected: "Bluetooth not available. Please enable Bluetooth on your device.",
		},
		{
			name:     "no radio",
			err:      device.NewError(device.TransportUnavailable, nil, ""),
			expected: "Bluetooth is not supported on this system",
		},
		{
			name:     "wrapped no device",
			err:      fmt.Errorf("stream: %w", device.NewError(device.NoDeviceFound, nil, "")),
			expected: "No MoodSip device found. Make sure your bottle is powered on and in pairing mode.",
		},
		{
			name:     "connect failure keeps cause",
			err:      device.NewError(device.ConnectFailed, errors.New("le-connection-abort-by-local"), ""),
			expected: "Failed to connect to device GATT server: le-connection-abort-by-local",
		},
		{
			name:     "service unavailable",
			err:      device.NewError(device.ServiceUnavailable, errors.New("service not found"), "image stream unavailable"),
			expected: "Connected but image service unavailable or notifications failed.",
		},
		{name: "connection lost", err: ErrConnectionLost, expected: "MoodSip Bottle disconnected"},
		{
			name:     "backend down",
			err:      fmt.Errorf("%w: dial tcp: connection refused", inference.ErrUnavailable),
			expected: "Backend service unavailable",
		},
		{
			name:     "read failure falls back to error text",
			err:      device.NewError(device.ReadFailed, errors.New("att: read not permitted"), ""),
			expected: "read_error: att: read not permitted",
		},
		{name: "plain error", err: errors.New("invalid format 'xml'"), expected: "invalid format 'xml'"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatUserError(tt.err))
		})
	}
}

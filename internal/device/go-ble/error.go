package goble

import (
	"context"
	"errors"
	"strings"

	"github.com/srg/moodsip/internal/device"
)

// NormalizeError maps known go-ble and platform error strings to LinkError kinds.
// It ensures consistent handling even if the upstream library changes messages slightly.
// Errors that already carry a kind, context errors and unknown errors pass through unchanged.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}
	if device.KindOf(err) != "" || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	msg := err.Error()
	switch {
	case msg == "central manager has invalid state: have=4 want=5: is Bluetooth turned on?":
		return device.NewError(device.AdapterUnavailable, err, "bluetooth is turned off")
	case containsIgnoreCase(msg, "bluetooth is turned off"),
		containsIgnoreCase(msg, "powered off"),
		containsIgnoreCase(msg, "no such device"):
		return device.NewError(device.AdapterUnavailable, err, "bluetooth is turned off")
	case containsIgnoreCase(msg, "not supported"),
		containsIgnoreCase(msg, "unsupported"),
		containsIgnoreCase(msg, "operation not permitted"),
		containsIgnoreCase(msg, "permission denied"):
		return device.NewError(device.TransportUnavailable, err, "")
	case containsIgnoreCase(msg, "device not connected"),
		containsIgnoreCase(msg, "disconnected"):
		return device.NewError(device.NotConnected, err, "")
	default:
		return err
	}
}

// containsIgnoreCase checks the substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// ensureKind normalizes err and tags it with kind unless it already carries one.
func ensureKind(err error, kind device.ErrorKind, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	err = NormalizeError(err)
	if device.KindOf(err) == kind {
		return err
	}
	return device.NewError(kind, err, format, args...)
}

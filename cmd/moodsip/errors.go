package main

import (
	"errors"

	"github.com/srg/moodsip/internal/device"
	"github.com/srg/moodsip/internal/inference"
)

// Command-level errors
var (
	// ErrConnectionLost indicates the bottle dropped the link while streaming.
	ErrConnectionLost = errors.New("connection lost")
)

var userMessages = map[device.ErrorKind]string{
	device.TransportUnavailable: "Bluetooth is not supported on this system",
	device.AdapterUnavailable:   "Bluetooth not available. Please enable Bluetooth on your device.",
	device.NoDeviceFound:        "No MoodSip device found. Make sure your bottle is powered on and in pairing mode.",
	device.UserCancelled:        "Device selection cancelled",
	device.ConnectFailed:        "Failed to connect to device GATT server",
	device.ServiceUnavailable:   "Connected but image service unavailable or notifications failed.",
	device.NotConnected:         "Bottle is not connected",
}

// FormatUserError turns err into the line printed after "ERROR: ".
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, ErrConnectionLost):
		return "MoodSip Bottle disconnected"
	case errors.Is(err, inference.ErrUnavailable):
		return "Backend service unavailable"
	}

	kind := device.KindOf(err)
	msg, ok := userMessages[kind]
	if !ok {
		return err.Error()
	}
	if kind == device.ConnectFailed {
		var le *device.LinkError
		if errors.As(err, &le) && le.Err != nil {
			return msg + ": " + le.Err.Error()
		}
	}
	return msg
}

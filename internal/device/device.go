package device

import (
	"context"
)

// Capability describes what the radio stack reported when the transport was constructed.
type Capability int

const (
	// CapabilityReady means the radio API is present and the adapter is powered.
	CapabilityReady Capability = iota
	// CapabilityUnavailable means the platform has no usable radio API.
	CapabilityUnavailable
	// CapabilityAdapterOff means the radio API is present but the adapter is off.
	CapabilityAdapterOff
)

func (c Capability) String() string {
	switch c {
	case CapabilityReady:
		return "ready"
	case CapabilityUnavailable:
		return "unavailable"
	case CapabilityAdapterOff:
		return "adapter_off"
	default:
		return "unknown"
	}
}

// Peripheral identifies a device chosen during scanning.
type Peripheral interface {
	ID() string
	Name() string
	Address() string
	RSSI() int
}

// Link is an established GATT connection to a peripheral.
type Link interface {
	Peripheral() Peripheral
}

// Service is a discovered GATT service on a link.
type Service interface {
	UUID() string
}

// Characteristic is a discovered GATT characteristic.
type Characteristic interface {
	UUID() string
	ServiceUUID() string
}

// NotifyHandler receives one notification payload. The slice is only valid for the
// duration of the call; handlers that keep it must copy.
type NotifyHandler func(data []byte)

// Transport is the capability port to the underlying radio stack.
//
// Implementations probe availability once at construction time; IsAvailable and
// IsAdapterReady report the result of that probe rather than re-inspecting the platform.
type Transport interface {
	Capability() Capability
	IsAvailable() bool
	IsAdapterReady() bool

	RequestDevice(ctx context.Context, filters []Filter) (Peripheral, error)
	Connect(ctx context.Context, p Peripheral) (Link, error)
	DiscoverService(ctx context.Context, link Link, uuid string) (Service, error)
	DiscoverCharacteristic(ctx context.Context, svc Service, uuid string) (Characteristic, error)

	Subscribe(ctx context.Context, char Characteristic, onNotify NotifyHandler) error
	Unsubscribe(char Characteristic) error
	Write(ctx context.Context, char Characteristic, data []byte) error
	Read(ctx context.Context, char Characteristic) ([]byte, error)

	// OnDisconnected registers handler to be called once when link drops for any reason
	// other than a Disconnect call made by this process.
	OnDisconnected(link Link, handler func())
	Disconnect(link Link) error
}

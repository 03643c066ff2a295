package goble

import (
	"context"

	"github.com/go-ble/ble"
)

// DeviceFactory creates the platform ble.Device (can be overridden in tests).
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = newPlatformDevice

// advert is the part of ble.Advertisement the transport reads.
type advert interface {
	LocalName() string
	RSSI() int
	Addr() ble.Addr
}

// radio is the part of ble.Device the transport drives.
type radio interface {
	Scan(ctx context.Context, allowDup bool, h func(advert)) error
	Dial(ctx context.Context, addr ble.Addr) (gattClient, error)
}

// gattClient is the part of ble.Client the transport drives.
type gattClient interface {
	DiscoverServices(filter []ble.UUID) ([]*ble.Service, error)
	DiscoverCharacteristics(filter []ble.UUID, s *ble.Service) ([]*ble.Characteristic, error)
	DiscoverDescriptors(filter []ble.UUID, c *ble.Characteristic) ([]*ble.Descriptor, error)
	ReadCharacteristic(c *ble.Characteristic) ([]byte, error)
	WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error
	Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error
	Unsubscribe(c *ble.Characteristic, ind bool) error
	CancelConnection() error
	Disconnected() <-chan struct{}
}

// bleRadio adapts ble.Device to radio.
type bleRadio struct {
	dev ble.Device
}

func (r *bleRadio) Scan(ctx context.Context, allowDup bool, h func(advert)) error {
	return r.dev.Scan(ctx, allowDup, func(a ble.Advertisement) {
		h(a)
	})
}

func (r *bleRadio) Dial(ctx context.Context, addr ble.Addr) (gattClient, error) {
	c, err := r.dev.Dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	return &bleClient{Client: c}, nil
}

// bleClient adds a Disconnected channel for backends that do not expose one.
type bleClient struct {
	ble.Client
}

func (c *bleClient) Disconnected() <-chan struct{} {
	if d, ok := c.Client.(interface{ Disconnected() <-chan struct{} }); ok {
		return d.Disconnected()
	}
	return nil
}

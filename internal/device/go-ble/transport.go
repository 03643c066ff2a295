// Package goble implements device.Transport on top of github.com/go-ble/ble.
package goble

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/moodsip/internal/device"
	"github.com/srg/moodsip/internal/groutine"
)

const (
	// DefaultScanTimeout bounds how long RequestDevice listens for advertisements.
	DefaultScanTimeout = 10 * time.Second

	// DefaultConnectTimeout bounds dialing a peripheral.
	DefaultConnectTimeout = 30 * time.Second
)

// Options configures a Transport.
type Options struct {
	ScanTimeout    time.Duration
	ConnectTimeout time.Duration
	Logger         *logrus.Logger
}

// Transport is a device.Transport backed by the platform BLE stack.
type Transport struct {
	radio          radio
	capability     device.Capability
	probeErr       error
	scanTimeout    time.Duration
	connectTimeout time.Duration
	logger         *logrus.Logger
}

// New probes the platform radio once through DeviceFactory. A failed probe does
// not fail construction; it is reported through Capability.
func New(opts Options) *Transport {
	t := newTransport(nil, opts)

	dev, err := DeviceFactory()
	if err != nil {
		t.probeErr = NormalizeError(err)
		t.capability = device.CapabilityUnavailable
		if device.KindOf(t.probeErr) == device.AdapterUnavailable {
			t.capability = device.CapabilityAdapterOff
		}
		t.logger.WithError(err).WithField("capability", t.capability).Warn("BLE radio not usable")
		return t
	}

	t.radio = &bleRadio{dev: dev}
	return t
}

func newTransport(r radio, opts Options) *Transport {
	if opts.ScanTimeout <= 0 {
		opts.ScanTimeout = DefaultScanTimeout
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	return &Transport{
		radio:          r,
		capability:     device.CapabilityReady,
		scanTimeout:    opts.ScanTimeout,
		connectTimeout: opts.ConnectTimeout,
		logger:         opts.Logger,
	}
}

// Capability returns the result of the construction-time probe.
func (t *Transport) Capability() device.Capability { return t.capability }

// IsAvailable reports whether the platform has a usable radio API.
func (t *Transport) IsAvailable() bool { return t.capability != device.CapabilityUnavailable }

// IsAdapterReady reports whether the adapter was powered at construction time.
func (t *Transport) IsAdapterReady() bool { return t.capability == device.CapabilityReady }

// ProbeError returns why the radio is unusable, or nil.
func (t *Transport) ProbeError() error { return t.probeErr }

// Scan listens for advertisements until the scan timeout or ctx ends and returns
// every peripheral whose name satisfies filters, strongest signal first.
func (t *Transport) Scan(ctx context.Context, filters []device.Filter) ([]device.Peripheral, error) {
	if t.radio == nil {
		return nil, t.unusable()
	}

	seen := hashmap.New[string, *peripheral]()
	scanCtx, cancel := context.WithTimeout(ctx, t.scanTimeout)
	defer cancel()

	t.logger.WithFields(logrus.Fields{
		"timeout": t.scanTimeout,
		"filters": len(filters),
	}).Info("Starting BLE scan...")

	err := t.radio.Scan(scanCtx, true, func(a advert) {
		addr := a.Addr().String()
		if p, ok := seen.Get(addr); ok {
			p.update(a)
			return
		}
		if !device.MatchAny(filters, a.LocalName()) {
			return
		}
		p, existing := seen.GetOrInsert(addr, newPeripheral(a))
		if existing {
			p.update(a)
			return
		}
		t.logger.WithFields(logrus.Fields{
			"device":  p.Name(),
			"address": addr,
			"rssi":    p.RSSI(),
		}).Info("Discovered matching device")
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return nil, NormalizeError(fmt.Errorf("scan failed: %w", err))
	}
	if ctx.Err() != nil {
		return nil, device.NewError(device.UserCancelled, ctx.Err(), "scan interrupted")
	}

	found := make([]device.Peripheral, 0, seen.Len())
	seen.Range(func(_ string, p *peripheral) bool {
		found = append(found, p)
		return true
	})
	sort.SliceStable(found, func(i, j int) bool {
		if found[i].RSSI() != found[j].RSSI() {
			return found[i].RSSI() > found[j].RSSI()
		}
		return found[i].Address() < found[j].Address()
	})

	t.logger.WithField("device_count", len(found)).Info("BLE scan completed")
	return found, nil
}

// RequestDevice scans and picks the matching peripheral with the strongest signal.
func (t *Transport) RequestDevice(ctx context.Context, filters []device.Filter) (device.Peripheral, error) {
	found, err := t.Scan(ctx, filters)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, device.NewError(device.NoDeviceFound, nil, "no advertiser matched %d filters within %s", len(filters), t.scanTimeout)
	}
	return found[0], nil
}

// Connect dials p and starts watching the link for a peripheral-side drop.
func (t *Transport) Connect(ctx context.Context, p device.Peripheral) (device.Link, error) {
	if t.radio == nil {
		return nil, t.unusable()
	}

	connCtx, cancel := context.WithTimeout(ctx, t.connectTimeout)
	defer cancel()

	t.logger.WithFields(logrus.Fields{
		"address": p.Address(),
		"timeout": t.connectTimeout,
	}).Debug("Dialing BLE device...")

	client, err := t.radio.Dial(connCtx, ble.NewAddr(p.Address()))
	if err != nil {
		return nil, ensureKind(err, device.ConnectFailed, "failed to connect to device with address %q", p.Address())
	}

	l := newLink(p, client)
	groutine.Go(context.Background(), "ble-link-monitor", func(context.Context) {
		t.monitor(l)
	})

	t.logger.WithField("address", p.Address()).Info("BLE device connected")
	return l, nil
}

func (t *Transport) monitor(l *gattLink) {
	select {
	case <-l.client.Disconnected():
		t.logger.WithField("address", l.p.Address()).Warn("Peripheral dropped the connection")
		for _, h := range l.close(false) {
			h()
		}
	case <-l.closed:
	}
}

// DiscoverService finds uuid on link.
func (t *Transport) DiscoverService(ctx context.Context, link device.Link, uuid string) (device.Service, error) {
	l, err := asLink(link)
	if err != nil {
		return nil, err
	}
	u, err := ble.Parse(uuid)
	if err != nil {
		return nil, device.NewError(device.ServiceUnavailable, err, "invalid service uuid %q", uuid)
	}

	svcs, err := withContext(ctx, func() ([]*ble.Service, error) {
		return l.client.DiscoverServices([]ble.UUID{u})
	})
	if err != nil {
		return nil, ensureKind(err, device.ServiceUnavailable, "service discovery")
	}
	for _, s := range svcs {
		if s.UUID.Equal(u) {
			return &service{link: l, svc: s, uuid: device.NormalizeUUID(uuid)}, nil
		}
	}
	return nil, device.NewError(device.ServiceUnavailable,
		&device.NotFoundError{Resource: "service", UUIDs: []string{uuid}}, "")
}

// DiscoverCharacteristic finds uuid in svc. Descriptors are discovered too for
// characteristics that can notify, since subscribing needs the CCCD handle.
func (t *Transport) DiscoverCharacteristic(ctx context.Context, svc device.Service, uuid string) (device.Characteristic, error) {
	s, ok := svc.(*service)
	if !ok {
		return nil, device.NewError(device.CharacteristicUnavailable, nil, "service %s does not belong to this transport", svc.UUID())
	}
	u, err := ble.Parse(uuid)
	if err != nil {
		return nil, device.NewError(device.CharacteristicUnavailable, err, "invalid characteristic uuid %q", uuid)
	}

	chars, err := withContext(ctx, func() ([]*ble.Characteristic, error) {
		return s.link.client.DiscoverCharacteristics([]ble.UUID{u}, s.svc)
	})
	if err != nil {
		return nil, ensureKind(err, device.CharacteristicUnavailable, "characteristic discovery")
	}

	for _, bc := range chars {
		if !bc.UUID.Equal(u) {
			continue
		}
		c := &characteristic{link: s.link, char: bc, uuid: device.NormalizeUUID(uuid), svcUUID: s.uuid}
		if c.canNotify() {
			if _, err := s.link.client.DiscoverDescriptors(nil, bc); err != nil {
				t.logger.WithError(err).WithField("char_uuid", c.uuid).Debug("Descriptor discovery failed")
			}
		}
		return c, nil
	}
	return nil, device.NewError(device.CharacteristicUnavailable,
		&device.NotFoundError{Resource: "characteristic", UUIDs: []string{s.uuid, uuid}}, "")
}

// Subscribe enables notifications, or indications when the characteristic only indicates.
func (t *Transport) Subscribe(ctx context.Context, char device.Characteristic, onNotify device.NotifyHandler) error {
	c, err := asChar(char)
	if err != nil {
		return err
	}
	if !c.canNotify() {
		return device.NewError(device.SubscribeFailed, nil, "characteristic %s does not support notifications", c.uuid)
	}

	c.indicate = c.char.Property&ble.CharNotify == 0
	_, err = withContext(ctx, func() (struct{}, error) {
		return struct{}{}, c.link.client.Subscribe(c.char, c.indicate, func(data []byte) {
			onNotify(data)
		})
	})
	if err != nil {
		return ensureKind(err, device.SubscribeFailed, "subscribe %s", c.uuid)
	}

	t.logger.WithFields(logrus.Fields{
		"char_uuid": c.uuid,
		"indicate":  c.indicate,
	}).Debug("Subscribed to characteristic")
	return nil
}

// Unsubscribe disables notifications on char.
func (t *Transport) Unsubscribe(char device.Characteristic) error {
	c, err := asChar(char)
	if err != nil {
		return err
	}
	return NormalizeError(c.link.client.Unsubscribe(c.char, c.indicate))
}

// Write writes data, without response when the characteristic only allows that.
func (t *Transport) Write(ctx context.Context, char device.Characteristic, data []byte) error {
	c, err := asChar(char)
	if err != nil {
		return err
	}
	_, err = withContext(ctx, func() (struct{}, error) {
		return struct{}{}, c.link.client.WriteCharacteristic(c.char, data, c.writeWithoutResponse())
	})
	return ensureKind(err, device.WriteFailed, "write %s", c.uuid)
}

// Read reads the current value of char.
func (t *Transport) Read(ctx context.Context, char device.Characteristic) ([]byte, error) {
	c, err := asChar(char)
	if err != nil {
		return nil, err
	}
	data, err := withContext(ctx, func() ([]byte, error) {
		return c.link.client.ReadCharacteristic(c.char)
	})
	if err != nil {
		return nil, ensureKind(err, device.ReadFailed, "read %s", c.uuid)
	}
	return data, nil
}

// OnDisconnected registers handler for a peripheral-side drop of link. A handler
// registered after the peripheral already dropped runs immediately.
func (t *Transport) OnDisconnected(link device.Link, handler func()) {
	l, ok := link.(*gattLink)
	if !ok || l == nil {
		t.logger.Debug("OnDisconnected called with a foreign link, ignoring")
		return
	}
	l.addHandler(handler)
}

// Disconnect closes link. OnDisconnected handlers are not called.
func (t *Transport) Disconnect(link device.Link) error {
	l, ok := link.(*gattLink)
	if !ok || l == nil {
		return device.NewError(device.NotConnected, nil, "link does not belong to this transport")
	}
	l.close(true)

	if err := NormalizeError(l.client.CancelConnection()); err != nil {
		if device.KindOf(err) == device.NotConnected {
			t.logger.WithError(err).Debug("Disconnect called but already disconnected")
			return nil
		}
		return err
	}
	t.logger.WithField("address", l.p.Address()).Info("BLE device disconnected")
	return nil
}

func (t *Transport) unusable() error {
	if t.capability == device.CapabilityAdapterOff {
		return device.NewError(device.AdapterUnavailable, t.probeErr, "")
	}
	return device.NewError(device.TransportUnavailable, t.probeErr, "")
}

func asLink(link device.Link) (*gattLink, error) {
	l, ok := link.(*gattLink)
	if !ok || l == nil {
		return nil, device.NewError(device.NotConnected, nil, "link does not belong to this transport")
	}
	select {
	case <-l.closed:
		return nil, device.NewError(device.NotConnected, nil, "link to %s is closed", l.p.Address())
	default:
		return l, nil
	}
}

func asChar(char device.Characteristic) (*characteristic, error) {
	c, ok := char.(*characteristic)
	if !ok || c == nil {
		return nil, device.NewError(device.CharacteristicUnavailable, nil, "characteristic does not belong to this transport")
	}
	return c, nil
}

// withContext runs fn and stops waiting for it when ctx ends. go-ble calls are
// not cancellable, so fn keeps running in the background in that case.
func withContext[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

var _ device.Transport = (*Transport)(nil)

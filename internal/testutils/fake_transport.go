package testutils

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/srg/moodsip/internal/device"
)

// Op names a FakeTransport operation that can be scripted to fail.
type Op string

const (
	OpRequestDevice Op = "RequestDevice"
	OpScan          Op = "Scan"
	OpConnect       Op = "Connect"
	OpDiscoverSvc   Op = "DiscoverService"
	OpSubscribe     Op = "Subscribe"
	OpUnsubscribe   Op = "Unsubscribe"
	OpWrite         Op = "Write"
	OpRead          Op = "Read"
	OpDisconnect    Op = "Disconnect"
)

// CharacteristicConfig is a characteristic exposed by the fake peripheral.
type CharacteristicConfig struct {
	UUID  string `json:"uuid"`
	Value []byte `json:"value,omitempty"`
}

// ServiceConfig is a service exposed by the fake peripheral.
type ServiceConfig struct {
	UUID            string                 `json:"uuid"`
	Characteristics []CharacteristicConfig `json:"characteristics,omitempty"`
}

// PeripheralConfig is a peripheral visible to RequestDevice.
type PeripheralConfig struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address"`
	RSSI    int    `json:"rssi"`
}

// FakeProfileConfig is the JSON shape accepted by NewFakeTransportFromJSON.
type FakeProfileConfig struct {
	Capability  string             `json:"capability,omitempty"` // ready (default), unavailable, adapter_off
	Peripherals []PeripheralConfig `json:"peripherals"`
	Services    []ServiceConfig    `json:"services"`
}

// FakePeripheral implements device.Peripheral.
type FakePeripheral struct {
	PeripheralConfig
}

func (p *FakePeripheral) ID() string      { return p.PeripheralConfig.ID }
func (p *FakePeripheral) Name() string    { return p.PeripheralConfig.Name }
func (p *FakePeripheral) Address() string { return p.PeripheralConfig.Address }
func (p *FakePeripheral) RSSI() int       { return p.PeripheralConfig.RSSI }

type fakeLink struct{ p device.Peripheral }

func (l *fakeLink) Peripheral() device.Peripheral { return l.p }

type fakeService struct{ uuid string }

func (s *fakeService) UUID() string { return s.uuid }

type fakeChar struct{ uuid, svc string }

func (c *fakeChar) UUID() string        { return c.uuid }
func (c *fakeChar) ServiceUUID() string { return c.svc }

// FakeTransport is a scripted, in-memory device.Transport.
//
// Tests drive the peripheral side with Notify, NotifyStream and DropLink, script
// failures with FailOn and FailCharacteristic, and inspect what the code under test
// did with Writes, Calls and the counters.
type FakeTransport struct {
	mu sync.Mutex

	capability  device.Capability
	peripherals []*FakePeripheral
	services    map[string][]string // service -> characteristics
	values      map[string][]byte
	failures    map[Op]error
	charFails   map[string]error
	blockScan   bool
	dropOnDisc  bool

	handlers        map[string]device.NotifyHandler
	lastHandler     device.NotifyHandler
	onDisconnect    []func()
	linkDown        bool
	writes          [][]byte
	calls           []string
	connects        int
	unsubscribes    int
	disconnects     int
	subscribeCalled chan struct{}
}

// NewFakeTransport returns a transport with one powered-on MoodSip bottle that
// exposes the image and command characteristics.
func NewFakeTransport() *FakeTransport {
	return NewFakeTransportFromJSON(`{
		"peripherals": [
			{"id": "bottle-1", "name": "MoodSip-Bottle", "address": "AA:BB:CC:DD:EE:01", "rssi": -48}
		],
		"services": [
			{
				"uuid": %q,
				"characteristics": [{"uuid": %q}, {"uuid": %q}]
			}
		]
	}`, device.ServiceUUID, device.ImageCharUUID, device.CommandCharUUID)
}

// NewFakeTransportFromJSON builds a transport from a FakeProfileConfig JSON template.
func NewFakeTransportFromJSON(jsonStrFmt string, args ...interface{}) *FakeTransport {
	jsonStr := fmt.Sprintf(jsonStrFmt, args...)

	var cfg FakeProfileConfig
	if err := json.Unmarshal([]byte(jsonStr), &cfg); err != nil {
		panic(fmt.Sprintf("NewFakeTransportFromJSON: failed to unmarshal: %v", err))
	}

	ft := &FakeTransport{
		services:        map[string][]string{},
		values:          map[string][]byte{},
		failures:        map[Op]error{},
		charFails:       map[string]error{},
		handlers:        map[string]device.NotifyHandler{},
		subscribeCalled: make(chan struct{}, 16),
	}

	switch cfg.Capability {
	case "", "ready":
		ft.capability = device.CapabilityReady
	case "unavailable":
		ft.capability = device.CapabilityUnavailable
	case "adapter_off":
		ft.capability = device.CapabilityAdapterOff
	default:
		panic(fmt.Sprintf("NewFakeTransportFromJSON: unknown capability %q", cfg.Capability))
	}

	for _, p := range cfg.Peripherals {
		ft.peripherals = append(ft.peripherals, &FakePeripheral{PeripheralConfig: p})
	}
	for _, svc := range cfg.Services {
		key := device.NormalizeUUID(svc.UUID)
		ft.services[key] = []string{}
		for _, c := range svc.Characteristics {
			ck := device.NormalizeUUID(c.UUID)
			ft.services[key] = append(ft.services[key], ck)
			if c.Value != nil {
				ft.values[ck] = c.Value
			}
		}
	}
	return ft
}

// ----- scripting -----

// FailOn makes every later call of op return err.
func (ft *FakeTransport) FailOn(op Op, err error) *FakeTransport {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	ft.failures[op] = err
	return ft
}

// Heal removes a failure installed with FailOn.
func (ft *FakeTransport) Heal(op Op) *FakeTransport {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	delete(ft.failures, op)
	return ft
}

// FailCharacteristic makes discovery of uuid fail with err.
func (ft *FakeTransport) FailCharacteristic(uuid string, err error) *FakeTransport {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	ft.charFails[device.NormalizeUUID(uuid)] = err
	return ft
}

// DropAfterDiscovery makes the peripheral vanish as soon as a characteristic is
// discovered. Later calls on the dead link still succeed, and disconnect handlers
// registered afterwards run immediately.
func (ft *FakeTransport) DropAfterDiscovery() *FakeTransport {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	ft.dropOnDisc = true
	return ft
}

// BlockRequestDevice makes RequestDevice wait until its context is done,
// like a device chooser the user never answers.
func (ft *FakeTransport) BlockRequestDevice() *FakeTransport {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	ft.blockScan = true
	return ft
}

// SetValue sets what Read returns for uuid.
func (ft *FakeTransport) SetValue(uuid string, value []byte) *FakeTransport {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	ft.values[device.NormalizeUUID(uuid)] = value
	return ft
}

// ----- peripheral side -----

// Notify delivers each chunk to the handler subscribed on the image characteristic,
// reusing one buffer for all of them. It returns false if nothing is subscribed.
func (ft *FakeTransport) Notify(chunks ...[]byte) bool {
	return ft.NotifyOn(device.ImageCharUUID, chunks...)
}

// NotifyOn is Notify for an arbitrary characteristic.
func (ft *FakeTransport) NotifyOn(uuid string, chunks ...[]byte) bool {
	ft.mu.Lock()
	h := ft.handlers[device.NormalizeUUID(uuid)]
	ft.mu.Unlock()
	if h == nil {
		return false
	}

	var buf []byte
	for _, c := range chunks {
		buf = append(buf[:0], c...)
		h(buf)
		// handlers must not keep the slice
		for i := range buf {
			buf[i] = 0xEE
		}
	}
	return true
}

// NotifyStream splits data into chunkSize pieces and delivers them with Notify.
func (ft *FakeTransport) NotifyStream(data []byte, chunkSize int) bool {
	var chunks [][]byte
	for len(data) > 0 {
		n := min(chunkSize, len(data))
		chunks = append(chunks, data[:n])
		data = data[n:]
	}
	return ft.Notify(chunks...)
}

// DropLink simulates the peripheral going away.
func (ft *FakeTransport) DropLink() {
	ft.mu.Lock()
	handlers := ft.onDisconnect
	ft.onDisconnect = nil
	ft.handlers = map[string]device.NotifyHandler{}
	ft.linkDown = true
	ft.calls = append(ft.calls, "DropLink")
	ft.mu.Unlock()

	for _, h := range handlers {
		h()
	}
}

// StaleHandler returns the most recently subscribed handler even after it was
// unsubscribed, to simulate a notification already in flight during teardown.
func (ft *FakeTransport) StaleHandler() device.NotifyHandler {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.lastHandler
}

// SubscribeCalled is signalled on every successful Subscribe.
func (ft *FakeTransport) SubscribeCalled() <-chan struct{} {
	return ft.subscribeCalled
}

// ----- inspection -----

// Writes returns copies of every successful write, in order.
func (ft *FakeTransport) Writes() [][]byte {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	out := make([][]byte, len(ft.writes))
	copy(out, ft.writes)
	return out
}

// Calls returns the names of every transport call made so far, in order.
func (ft *FakeTransport) Calls() []string {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return append([]string(nil), ft.calls...)
}

// Subscribed reports whether a handler is registered on uuid.
func (ft *FakeTransport) Subscribed(uuid string) bool {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.handlers[device.NormalizeUUID(uuid)] != nil
}

func (ft *FakeTransport) Connects() int {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.connects
}

func (ft *FakeTransport) Unsubscribes() int {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.unsubscribes
}

func (ft *FakeTransport) Disconnects() int {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.disconnects
}

// ----- device.Transport -----

func (ft *FakeTransport) Capability() device.Capability {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.capability
}

func (ft *FakeTransport) IsAvailable() bool {
	return ft.Capability() != device.CapabilityUnavailable
}

func (ft *FakeTransport) IsAdapterReady() bool {
	return ft.Capability() == device.CapabilityReady
}

func (ft *FakeTransport) RequestDevice(ctx context.Context, filters []device.Filter) (device.Peripheral, error) {
	found, err := ft.scan(ctx, OpRequestDevice, filters)
	if err != nil {
		return nil, err
	}
	return found[0], nil
}

// Scan lists every matching peripheral, strongest signal first.
func (ft *FakeTransport) Scan(ctx context.Context, filters []device.Filter) ([]device.Peripheral, error) {
	return ft.scan(ctx, OpScan, filters)
}

func (ft *FakeTransport) scan(ctx context.Context, op Op, filters []device.Filter) ([]device.Peripheral, error) {
	ft.mu.Lock()
	err := ft.record(op)
	block := ft.blockScan
	candidates := make([]device.Peripheral, 0, len(ft.peripherals))
	for _, p := range ft.peripherals {
		if device.MatchAny(filters, p.Name()) {
			candidates = append(candidates, p)
		}
	}
	ft.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if block {
		<-ctx.Done()
		return nil, device.NewError(device.UserCancelled, ctx.Err(), "device selection")
	}
	if len(candidates) == 0 {
		return nil, device.NewError(device.NoDeviceFound, nil, "no peripheral matched %d filters", len(filters))
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].RSSI() > candidates[j].RSSI() })
	return candidates, nil
}

func (ft *FakeTransport) Connect(ctx context.Context, p device.Peripheral) (device.Link, error) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	if err := ft.record(OpConnect); err != nil {
		return nil, err
	}
	ft.connects++
	ft.linkDown = false
	return &fakeLink{p: p}, nil
}

func (ft *FakeTransport) DiscoverService(ctx context.Context, link device.Link, uuid string) (device.Service, error) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	if err := ft.record(OpDiscoverSvc); err != nil {
		return nil, err
	}
	key := device.NormalizeUUID(uuid)
	if _, ok := ft.services[key]; !ok {
		return nil, device.NewError(device.ServiceUnavailable,
			&device.NotFoundError{Resource: "service", UUIDs: []string{uuid}}, "")
	}
	return &fakeService{uuid: key}, nil
}

func (ft *FakeTransport) DiscoverCharacteristic(ctx context.Context, svc device.Service, uuid string) (device.Characteristic, error) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	ft.calls = append(ft.calls, "DiscoverCharacteristic")
	key := device.NormalizeUUID(uuid)
	if err := ft.charFails[key]; err != nil {
		return nil, err
	}
	for _, c := range ft.services[svc.UUID()] {
		if c == key {
			if ft.dropOnDisc {
				ft.dropOnDisc = false
				ft.linkDown = true
				ft.calls = append(ft.calls, "DropLink")
			}
			return &fakeChar{uuid: key, svc: svc.UUID()}, nil
		}
	}
	return nil, device.NewError(device.CharacteristicUnavailable,
		&device.NotFoundError{Resource: "characteristic", UUIDs: []string{svc.UUID(), uuid}}, "")
}

func (ft *FakeTransport) Subscribe(ctx context.Context, char device.Characteristic, onNotify device.NotifyHandler) error {
	ft.mu.Lock()
	if err := ft.record(OpSubscribe); err != nil {
		ft.mu.Unlock()
		return err
	}
	ft.handlers[char.UUID()] = onNotify
	ft.lastHandler = onNotify
	ft.mu.Unlock()

	select {
	case ft.subscribeCalled <- struct{}{}:
	default:
	}
	return nil
}

func (ft *FakeTransport) Unsubscribe(char device.Characteristic) error {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	ft.unsubscribes++
	if err := ft.record(OpUnsubscribe); err != nil {
		return err
	}
	delete(ft.handlers, char.UUID())
	return nil
}

func (ft *FakeTransport) Write(ctx context.Context, char device.Characteristic, data []byte) error {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	if err := ft.record(OpWrite); err != nil {
		return err
	}
	ft.writes = append(ft.writes, append([]byte(nil), data...))
	return nil
}

func (ft *FakeTransport) Read(ctx context.Context, char device.Characteristic) ([]byte, error) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	if err := ft.record(OpRead); err != nil {
		return nil, err
	}
	return append([]byte(nil), ft.values[char.UUID()]...), nil
}

func (ft *FakeTransport) OnDisconnected(link device.Link, handler func()) {
	ft.mu.Lock()
	if ft.linkDown {
		ft.mu.Unlock()
		handler()
		return
	}
	ft.onDisconnect = append(ft.onDisconnect, handler)
	ft.mu.Unlock()
}

func (ft *FakeTransport) Disconnect(link device.Link) error {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	ft.disconnects++
	if err := ft.record(OpDisconnect); err != nil {
		return err
	}
	ft.onDisconnect = nil
	ft.handlers = map[string]device.NotifyHandler{}
	return nil
}

// record logs the call and returns the scripted failure for op. Caller holds mu.
func (ft *FakeTransport) record(op Op) error {
	ft.calls = append(ft.calls, string(op))
	return ft.failures[op]
}

var _ device.Transport = (*FakeTransport)(nil)

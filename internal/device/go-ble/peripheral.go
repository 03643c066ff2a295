package goble

import (
	"sync"

	"github.com/go-ble/ble"
	"github.com/srg/moodsip/internal/device"
)

// peripheral is an advertiser seen during a scan.
type peripheral struct {
	mu      sync.RWMutex
	address string
	name    string
	rssi    int
}

func newPeripheral(a advert) *peripheral {
	return &peripheral{
		address: a.Addr().String(),
		name:    a.LocalName(),
		rssi:    a.RSSI(),
	}
}

// update refreshes the peripheral from a repeated advertisement. Scan responses
// often carry the name while the first advertisement does not.
func (p *peripheral) update(a advert) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n := a.LocalName(); n != "" {
		p.name = n
	}
	p.rssi = a.RSSI()
}

func (p *peripheral) ID() string      { return p.address }
func (p *peripheral) Address() string { return p.address }

func (p *peripheral) Name() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.name
}

func (p *peripheral) RSSI() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.rssi
}

// gattLink is a live connection.
type gattLink struct {
	p      device.Peripheral
	client gattClient

	mu       sync.Mutex
	handlers []func()
	closed   chan struct{}
	once     sync.Once
	dropped  bool // closed by the peripheral
}

func newLink(p device.Peripheral, client gattClient) *gattLink {
	return &gattLink{p: p, client: client, closed: make(chan struct{})}
}

func (l *gattLink) Peripheral() device.Peripheral { return l.p }

// addHandler registers h, or runs it right away if the peripheral already dropped.
func (l *gattLink) addHandler(h func()) {
	l.mu.Lock()
	select {
	case <-l.closed:
		dropped := l.dropped
		l.mu.Unlock()
		if dropped {
			h()
		}
		return
	default:
	}
	l.handlers = append(l.handlers, h)
	l.mu.Unlock()
}

// close marks the link down and returns the handlers to run, which is none when
// the link was already closed or the close was requested locally.
func (l *gattLink) close(byUser bool) []func() {
	var handlers []func()
	l.once.Do(func() {
		l.mu.Lock()
		if !byUser {
			handlers = l.handlers
			l.dropped = true
		}
		l.handlers = nil
		close(l.closed)
		l.mu.Unlock()
	})
	return handlers
}

type service struct {
	link *gattLink
	svc  *ble.Service
	uuid string
}

func (s *service) UUID() string { return s.uuid }

type characteristic struct {
	link     *gattLink
	char     *ble.Characteristic
	uuid     string
	svcUUID  string
	indicate bool
}

func (c *characteristic) UUID() string        { return c.uuid }
func (c *characteristic) ServiceUUID() string { return c.svcUUID }

// canNotify reports whether the characteristic supports notify or indicate.
func (c *characteristic) canNotify() bool {
	return c.char.Property&(ble.CharNotify|ble.CharIndicate) != 0
}

// writeWithoutResponse reports whether writes must use write-without-response.
func (c *characteristic) writeWithoutResponse() bool {
	return c.char.Property&ble.CharWrite == 0 && c.char.Property&ble.CharWriteNR != 0
}

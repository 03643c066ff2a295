package goble

import (
	"context"

	"github.com/go-ble/ble"
	"github.com/stretchr/testify/mock"
)

type testAdvert struct {
	addr string
	name string
	rssi int
}

func (a testAdvert) LocalName() string { return a.name }
func (a testAdvert) RSSI() int         { return a.rssi }
func (a testAdvert) Addr() ble.Addr    { return ble.NewAddr(a.addr) }

type mockRadio struct {
	mock.Mock
	adverts []advert
}

func (m *mockRadio) Scan(ctx context.Context, allowDup bool, h func(advert)) error {
	args := m.Called(ctx, allowDup)
	for _, a := range m.adverts {
		h(a)
	}
	return args.Error(0)
}

func (m *mockRadio) Dial(ctx context.Context, addr ble.Addr) (gattClient, error) {
	args := m.Called(addr.String())
	if c, ok := args.Get(0).(gattClient); ok {
		return c, args.Error(1)
	}
	return nil, args.Error(1)
}

type mockClient struct {
	mock.Mock
	dropped chan struct{}
}

func newMockClient() *mockClient {
	return &mockClient{dropped: make(chan struct{})}
}

func (m *mockClient) DiscoverServices(filter []ble.UUID) ([]*ble.Service, error) {
	args := m.Called(filter)
	svcs, _ := args.Get(0).([]*ble.Service)
	return svcs, args.Error(1)
}

func (m *mockClient) DiscoverCharacteristics(filter []ble.UUID, s *ble.Service) ([]*ble.Characteristic, error) {
	args := m.Called(filter, s)
	chars, _ := args.Get(0).([]*ble.Characteristic)
	return chars, args.Error(1)
}

func (m *mockClient) DiscoverDescriptors(filter []ble.UUID, c *ble.Characteristic) ([]*ble.Descriptor, error) {
	args := m.Called(filter, c)
	descs, _ := args.Get(0).([]*ble.Descriptor)
	return descs, args.Error(1)
}

func (m *mockClient) ReadCharacteristic(c *ble.Characteristic) ([]byte, error) {
	args := m.Called(c)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

func (m *mockClient) WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error {
	return m.Called(c, value, noRsp).Error(0)
}

func (m *mockClient) Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error {
	return m.Called(c, ind, h).Error(0)
}

func (m *mockClient) Unsubscribe(c *ble.Characteristic, ind bool) error {
	return m.Called(c, ind).Error(0)
}

func (m *mockClient) CancelConnection() error {
	return m.Called().Error(0)
}

func (m *mockClient) Disconnected() <-chan struct{} {
	return m.dropped
}

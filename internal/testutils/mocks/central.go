// Package mocks holds testify mocks of the go-ble host surface.
package mocks

import (
	"context"

	"github.com/go-ble/ble"
	goble "github.com/srg/potlink/internal/device/go-ble"
	"github.com/stretchr/testify/mock"
)

// MockCentral is a mock of goble.Central
type MockCentral struct {
	mock.Mock
}

func (m *MockCentral) Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error {
	args := m.Called(ctx, allowDup, h)
	return args.Error(0)
}

func (m *MockCentral) Dial(ctx context.Context, a ble.Addr) (goble.GATTClient, error) {
	args := m.Called(ctx, a)
	client, _ := args.Get(0).(goble.GATTClient)
	return client, args.Error(1)
}

func (m *MockCentral) Stop() error {
	args := m.Called()
	return args.Error(0)
}

// MockGATTClient is a mock of goble.GATTClient
type MockGATTClient struct {
	mock.Mock
}

func (m *MockGATTClient) Name() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockGATTClient) DiscoverProfile(force bool) (*ble.Profile, error) {
	args := m.Called(force)
	profile, _ := args.Get(0).(*ble.Profile)
	return profile, args.Error(1)
}

func (m *MockGATTClient) ReadCharacteristic(c *ble.Characteristic) ([]byte, error) {
	args := m.Called(c)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

func (m *MockGATTClient) WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error {
	args := m.Called(c, value, noRsp)
	return args.Error(0)
}

func (m *MockGATTClient) Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error {
	args := m.Called(c, ind, h)
	return args.Error(0)
}

func (m *MockGATTClient) Unsubscribe(c *ble.Characteristic, ind bool) error {
	args := m.Called(c, ind)
	return args.Error(0)
}

func (m *MockGATTClient) CancelConnection() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockGATTClient) Disconnected() <-chan struct{} {
	args := m.Called()
	switch ch := args.Get(0).(type) {
	case chan struct{}:
		return ch
	case <-chan struct{}:
		return ch
	default:
		return nil
	}
}

var (
	_ goble.Central    = (*MockCentral)(nil)
	_ goble.GATTClient = (*MockGATTClient)(nil)
)

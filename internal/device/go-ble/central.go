// Package goble implements device.Radio on top of github.com/go-ble/ble.
//
// go-ble has no power state API: the radio derives power from host errors,
// so a failed central creation is reported as PowerOff rather than as an error.
package goble

import (
	"context"

	"github.com/go-ble/ble"
)

// Central is the subset of ble.Device the radio drives
type Central interface {
	Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error
	Dial(ctx context.Context, a ble.Addr) (GATTClient, error)
	Stop() error
}

// GATTClient is the subset of ble.Client used over an established link
type GATTClient interface {
	Name() string
	DiscoverProfile(force bool) (*ble.Profile, error)
	ReadCharacteristic(c *ble.Characteristic) ([]byte, error)
	WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error
	Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error
	Unsubscribe(c *ble.Characteristic, ind bool) error
	CancelConnection() error
	Disconnected() <-chan struct{}
}

// DeviceFactory creates the host ble.Device (can be overridden in tests)
//
//nolint:revive // name mirrors ble.Device
var DeviceFactory = newHostDevice

// CentralFactory creates the Central a Radio drives (can be overridden in tests)
var CentralFactory = func() (Central, error) {
	dev, err := DeviceFactory()
	if err != nil {
		return nil, err
	}
	return &deviceCentral{dev: dev}, nil
}

// deviceCentral adapts ble.Device to Central
type deviceCentral struct {
	dev ble.Device
}

func (c *deviceCentral) Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error {
	return c.dev.Scan(ctx, allowDup, h)
}

func (c *deviceCentral) Dial(ctx context.Context, a ble.Addr) (GATTClient, error) {
	client, err := c.dev.Dial(ctx, a)
	if err != nil {
		return nil, err
	}
	return clientAdapter{Client: client}, nil
}

func (c *deviceCentral) Stop() error {
	return c.dev.Stop()
}

// clientAdapter exposes the disconnect channel on hosts whose client has one.
// A nil channel never fires; such links are only torn down by CancelConnection.
type clientAdapter struct {
	ble.Client
}

func (c clientAdapter) Disconnected() <-chan struct{} {
	if d, ok := c.Client.(interface{ Disconnected() <-chan struct{} }); ok {
		return d.Disconnected()
	}
	return nil
}

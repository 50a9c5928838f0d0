package goble

import (
	"context"
	"fmt"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/potlink/internal/device"
	"github.com/srg/potlink/internal/groutine"
)

// DiscoverServices discovers the GATT profile of the link behind h
func (r *Radio) DiscoverServices(ctx context.Context, h device.Handle) (device.Handle, error) {
	l, err := r.linkFor(h)
	if err != nil {
		return device.Handle{}, err
	}
	var profile *ble.Profile
	err = r.call(ctx, "ble-discover", func() error {
		var derr error
		profile, derr = l.client.DiscoverProfile(true)
		return derr
	})
	if err != nil {
		return device.Handle{}, fmt.Errorf("failed to discover profile: %w", err)
	}

	l.mu.Lock()
	l.profile = profile
	l.mu.Unlock()

	r.logger.WithFields(logrus.Fields{
		"device_id": h.ID(),
		"services":  len(profile.Services),
	}).Debug("Profile discovered")
	return l.handle(), nil
}

// ReadCharacteristic reads a characteristic and frames its bytes
func (r *Radio) ReadCharacteristic(ctx context.Context, h device.Handle, serviceUUID, charUUID string) (device.Value, error) {
	l, c, err := r.characteristic(h, serviceUUID, charUUID)
	if err != nil {
		return "", err
	}
	var data []byte
	err = r.call(ctx, "ble-read", func() error {
		var rerr error
		data, rerr = l.client.ReadCharacteristic(c)
		return rerr
	})
	if err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", nil
	}
	return device.EncodeValue(data), nil
}

// WriteCharacteristicWithResponse writes the decoded value and waits for the write response
func (r *Radio) WriteCharacteristicWithResponse(ctx context.Context, h device.Handle, serviceUUID, charUUID string, v device.Value) error {
	data, err := v.Bytes()
	if err != nil {
		return err
	}
	l, c, err := r.characteristic(h, serviceUUID, charUUID)
	if err != nil {
		return err
	}
	return r.call(ctx, "ble-write", func() error {
		return l.client.WriteCharacteristic(c, data, false)
	})
}

// MonitorCharacteristic fans notifications out to cb. The first monitor of a
// characteristic subscribes on the host; the last Remove unsubscribes.
func (r *Radio) MonitorCharacteristic(h device.Handle, serviceUUID, charUUID string, cb device.ValueHandler) (device.Subscription, error) {
	l, c, err := r.characteristic(h, serviceUUID, charUUID)
	if err != nil {
		return nil, err
	}
	if c.Property&(ble.CharNotify|ble.CharIndicate) == 0 {
		return nil, device.NewError(device.UnknownRadioError,
			fmt.Sprintf("characteristic %s does not support notifications", charUUID), nil)
	}
	key := device.NormalizeUUID(charUUID)

	l.mu.Lock()
	s, ok := l.streams[key]
	if !ok {
		s = newStream(l, c, key, r.logger)
		l.streams[key] = s
	}
	sub := s.add(cb)
	l.mu.Unlock()

	if ok {
		return sub, nil
	}
	if err := s.subscribe(); err != nil {
		l.mu.Lock()
		if l.streams[key] == s {
			delete(l.streams, key)
		}
		l.mu.Unlock()
		return nil, err
	}
	return sub, nil
}

// characteristic resolves a characteristic from the discovered profile
func (r *Radio) characteristic(h device.Handle, serviceUUID, charUUID string) (*link, *ble.Characteristic, error) {
	l, err := r.linkFor(h)
	if err != nil {
		return nil, nil, err
	}
	l.mu.Lock()
	profile := l.profile
	l.mu.Unlock()
	if profile == nil {
		return nil, nil, device.NewError(device.UnknownRadioError, "services not discovered", nil)
	}
	for _, svc := range profile.Services {
		if !device.SameUUID(svc.UUID.String(), serviceUUID) {
			continue
		}
		for _, c := range svc.Characteristics {
			if device.SameUUID(c.UUID.String(), charUUID) {
				return l, c, nil
			}
		}
		return nil, nil, device.NewError(device.UnknownRadioError,
			fmt.Sprintf("characteristic %s not found in service %s", charUUID, serviceUUID), nil)
	}
	return nil, nil, device.NewError(device.UnknownRadioError, fmt.Sprintf("service %s not found", serviceUUID), nil)
}

// call runs a blocking go-ble operation, giving up when ctx is done.
// go-ble calls take no context; an abandoned call finishes in the background.
func (r *Radio) call(ctx context.Context, name string, fn func() error) error {
	done := make(chan error, 1)
	groutine.Go(ctx, name, func(_ context.Context) {
		done <- fn()
	})
	select {
	case err := <-done:
		return device.NormalizeError(err)
	case <-ctx.Done():
		return device.NormalizeError(ctx.Err())
	}
}

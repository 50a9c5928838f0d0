package sensors

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/potlink/internal/device"
)

// Handler receives decoded snapshots, or a radio error that ended the stream
type Handler func(Snapshot, error)

// Monitor reads the sensor characteristic once and then follows its notifications
type Monitor struct {
	radio  device.GATT
	logger *logrus.Logger
	now    func() time.Time
}

func NewMonitor(radio device.GATT, logger *logrus.Logger) *Monitor {
	if logger == nil {
		logger = logrus.New()
	}
	return &Monitor{radio: radio, logger: logger, now: time.Now}
}

// Start delivers the current snapshot (when the pot has one) and subscribes
// for updates. Malformed reports are logged and skipped.
func (m *Monitor) Start(ctx context.Context, h device.Handle, handler Handler) (device.Subscription, error) {
	logger := m.logger.WithFields(logrus.Fields{
		"device_id": h.ID(),
		"char_uuid": device.ReadCharUUID,
	})

	h, err := m.radio.DiscoverServices(ctx, h)
	if err != nil {
		return nil, fmt.Errorf("failed to discover services: %w", device.NormalizeError(err))
	}

	initial, err := m.radio.ReadCharacteristic(ctx, h, device.ServiceUUID, device.ReadCharUUID)
	if err != nil {
		return nil, fmt.Errorf("failed to read sensors: %w", device.NormalizeError(err))
	}
	if !initial.IsEmpty() {
		m.deliver(logger, initial, handler)
	}

	sub, err := m.radio.MonitorCharacteristic(h, device.ServiceUUID, device.ReadCharUUID, func(v device.Value, err error) {
		if err != nil {
			handler(Snapshot{}, device.NormalizeError(err))
			return
		}
		if v.IsEmpty() {
			return
		}
		m.deliver(logger, v, handler)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to monitor sensors: %w", device.NormalizeError(err))
	}
	logger.Debug("Sensor monitor started")
	return sub, nil
}

func (m *Monitor) deliver(logger *logrus.Entry, v device.Value, handler Handler) {
	snap, err := Decode(v, m.now())
	if err != nil {
		logger.WithError(err).Warn("Skipping malformed sensor report")
		return
	}
	handler(snap, nil)
}

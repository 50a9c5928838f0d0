// Package pot is the process-wide connection manager: it owns the radio,
// the device registry, the scan controller, the single connection session
// and the sync runner, and gives them an explicit Start/Shutdown lifecycle.
package pot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/potlink/internal/device"
	"github.com/srg/potlink/internal/groutine"
	"github.com/srg/potlink/internal/notify"
	"github.com/srg/potlink/internal/provision"
	"github.com/srg/potlink/internal/registry"
	"github.com/srg/potlink/internal/scanner"
	"github.com/srg/potlink/internal/sensors"
	"github.com/srg/potlink/internal/session"
	"github.com/srg/potlink/internal/store"
)

// ErrNotPaired is returned when a settings change targets an unknown record
var ErrNotPaired = errors.New("pot is not paired")

// syncJob tracks the exchange in flight so a reconnect can resume it
type syncJob struct {
	deviceID string
	outcome  chan bool // reconnect result after a drop
}

// Manager wires the lifecycle components together
type Manager struct {
	radio    device.Radio
	paired   store.PairedDevices
	opts     Options
	logger   *logrus.Logger
	registry *registry.Registry
	scanner  *scanner.Controller
	session  *session.Session
	runner   *provision.Runner
	sensors  *sensors.Monitor
	notifier *notify.Channel

	mu         sync.Mutex
	started    bool
	group      *groutine.Group
	powerUnsub func()
	dropUnsub  func()
	job        *syncJob
}

// New builds a manager; nothing touches the radio until Start
func New(radio device.Radio, paired store.PairedDevices, opts *Options, logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.New()
	}
	if opts == nil {
		opts = DefaultOptions()
	}
	o := *opts
	if o.PowerPollInterval <= 0 {
		o.PowerPollInterval = time.Second
	}

	m := &Manager{
		radio:    radio,
		paired:   paired,
		opts:     o,
		logger:   logger,
		notifier: notify.NewChannel(notify.DefaultCapacity, logger),
	}

	sessOpts := o.Session
	sessOpts.Reporter = m.notifier
	m.session = session.New(radio, &sessOpts, logger)

	stale := o.StaleTimeout
	if stale <= 0 {
		stale = o.Scanner.RescanInterval + time.Second
	}
	m.registry = registry.New(stale, logger)
	m.scanner = scanner.New(radio, m.registry, m.session.ActiveDeviceID, &o.Scanner, logger)
	m.scanner.SetStatusListener(func(status scanner.Status, err error) {
		if status == scanner.StatusError && err != nil {
			m.notifier.Report(err)
		}
	})

	m.runner = provision.NewRunner(radio, m.session, paired, &provision.Options{
		AckTimeout: o.AckTimeout,
		Plants:     o.Plants,
		OnStep:     o.OnStep,
	}, logger)
	m.sensors = sensors.NewMonitor(radio, logger)
	return m
}

func (m *Manager) Registry() *registry.Registry { return m.registry }
func (m *Manager) Scanner() *scanner.Controller { return m.scanner }
func (m *Manager) Session() *session.Session    { return m.session }

// Notifications is the user-facing error channel
func (m *Manager) Notifications() <-chan notify.Notification { return m.notifier.C() }

// PendingNotifications drains queued notifications without blocking
func (m *Manager) PendingNotifications() []notify.Notification { return m.notifier.Pending() }

// Start subscribes to power and drop events and begins scanning when the radio is on.
// A powered-off radio is not an error: scanning starts once power returns.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.group = groutine.NewGroup(context.WithoutCancel(ctx))
	m.powerUnsub = m.radio.OnPowerStateChange(m.onPowerChange)
	m.dropUnsub = m.session.SetDropListener(m.onDrop)
	m.mu.Unlock()

	state, err := m.radio.PowerState(ctx)
	if err != nil {
		err = device.NormalizeError(err)
		m.notifier.Report(err)
		return fmt.Errorf("failed to query radio power: %w", err)
	}
	if state != device.PowerOn {
		m.reportPower(state)
		return nil
	}
	m.logger.Info("Radio powered on, starting discovery")
	return m.scanner.Start(m.group.Context())
}

// Shutdown stops scanning, ends background reconnects and releases the session
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = false
	group := m.group
	powerUnsub, dropUnsub := m.powerUnsub, m.dropUnsub
	m.powerUnsub, m.dropUnsub = nil, nil
	m.mu.Unlock()

	if powerUnsub != nil {
		powerUnsub()
	}
	if dropUnsub != nil {
		dropUnsub()
	}
	m.scanner.Stop()
	group.Stop()
	m.signalJob(m.session.ActiveDeviceID(), false)
	err := m.session.Close(ctx)
	// sightings do not outlive the manager; a restart rediscovers from scratch
	m.registry.Clear()
	m.logger.Info("Manager shut down")
	return err
}

// WaitForPower blocks until the radio reports PowerOn, polling at the configured interval
func (m *Manager) WaitForPower(ctx context.Context) error {
	ticker := time.NewTicker(m.opts.PowerPollInterval)
	defer ticker.Stop()
	for {
		state, err := m.radio.PowerState(ctx)
		if err != nil {
			return fmt.Errorf("failed to query radio power: %w", device.NormalizeError(err))
		}
		if state == device.PowerOn {
			return nil
		}
		if state == device.PowerUnsupported || state == device.PowerUnauthorized {
			return device.NewError(device.RadioUnavailable, fmt.Sprintf("radio is %s", state), nil)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: radio is %s", device.ErrRadioUnavailable, state)
		case <-ticker.C:
		}
	}
}

// Devices returns the discovered devices in stable order
func (m *Manager) Devices() []registry.DiscoveredDevice {
	return m.registry.Snapshot()
}

// Connect makes id the active session device
func (m *Manager) Connect(ctx context.Context, id string) (device.Handle, error) {
	if active := m.session.ActiveDeviceID(); active != "" && active != id {
		m.signalJob(active, false)
	}
	return m.session.Connect(ctx, id, nil)
}

// Disconnect ends the session and restarts discovery so the pot reappears quickly
func (m *Manager) Disconnect(ctx context.Context) error {
	active := m.session.ActiveDeviceID()
	if err := m.session.Disconnect(ctx); err != nil {
		return err
	}
	m.signalJob(active, false)
	m.refreshScan(ctx)
	return nil
}

func (m *Manager) refreshScan(ctx context.Context) {
	m.mu.Lock()
	started := m.started
	m.mu.Unlock()
	if !started {
		return
	}
	if state, err := m.radio.PowerState(ctx); err != nil || state != device.PowerOn {
		return
	}
	if err := m.scanner.Refresh(ctx); err != nil {
		m.logger.WithError(err).Warn("Failed to refresh scan")
	}
}

// Pair connects to id and syncs payload, persisting the pot on success
func (m *Manager) Pair(ctx context.Context, id string, payload provision.SyncPayload) (*store.PairedDeviceRecord, error) {
	if _, err := m.Connect(ctx, id); err != nil {
		return nil, err
	}
	return m.sync(ctx, id, payload)
}

// UpdateSettings re-syncs an already paired pot. localID is the paired record's id.
func (m *Manager) UpdateSettings(ctx context.Context, id, localID string, payload provision.SyncPayload) (*store.PairedDeviceRecord, error) {
	if _, err := m.PairedDevice(ctx, localID); err != nil {
		return nil, err
	}
	return m.Pair(ctx, id, payload)
}

// FactoryReset syncs the factory defaults to id
func (m *Manager) FactoryReset(ctx context.Context, id string) (*store.PairedDeviceRecord, error) {
	return m.Pair(ctx, id, provision.FactoryDefaults())
}

// RemoveDevice factory-resets the pot and only then forgets localID
func (m *Manager) RemoveDevice(ctx context.Context, id, localID string) error {
	if _, err := m.FactoryReset(ctx, id); err != nil {
		return fmt.Errorf("factory reset failed, %s kept: %w", localID, err)
	}
	if _, err := store.Remove(ctx, m.paired, localID); err != nil {
		m.notifier.Report(err)
		return fmt.Errorf("failed to forget %s: %w", localID, err)
	}
	m.logger.WithField("local_id", localID).Info("Pot removed")
	return nil
}

// PairedDevices lists persisted pots, oldest first
func (m *Manager) PairedDevices(ctx context.Context) ([]store.PairedDeviceRecord, error) {
	records, err := m.paired.GetPairedDevices(ctx)
	if err != nil {
		return nil, err
	}
	return store.SortedByAddedAt(records), nil
}

// PairedDevice returns one persisted pot
func (m *Manager) PairedDevice(ctx context.Context, localID string) (store.PairedDeviceRecord, error) {
	records, err := m.paired.GetPairedDevices(ctx)
	if err != nil {
		return store.PairedDeviceRecord{}, err
	}
	rec, ok := records[localID]
	if !ok {
		return store.PairedDeviceRecord{}, fmt.Errorf("%w: %s", ErrNotPaired, localID)
	}
	return rec, nil
}

// MonitorSensors connects to id and streams its sensor snapshots to handler
func (m *Manager) MonitorSensors(ctx context.Context, id string, handler sensors.Handler) (device.Subscription, error) {
	h, err := m.Connect(ctx, id)
	if err != nil {
		return nil, err
	}
	sub, err := m.sensors.Start(ctx, h, handler)
	if err != nil {
		m.notifier.Report(err)
		return nil, err
	}
	return sub, nil
}

// sync runs the exchange, resuming it after a drop when the reconnect policy succeeds
func (m *Manager) sync(ctx context.Context, id string, payload provision.SyncPayload) (*store.PairedDeviceRecord, error) {
	job := &syncJob{deviceID: id, outcome: make(chan bool, 1)}
	m.mu.Lock()
	m.job = job
	done := m.doneLocked()
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		if m.job == job {
			m.job = nil
		}
		m.mu.Unlock()
	}()

	for resyncs := 0; ; resyncs++ {
		rec, err := m.runner.Run(ctx, payload)
		if err == nil {
			return rec, nil
		}
		if !device.IsKind(err, device.LinkDropped) || resyncs >= m.opts.Reconnect.Attempts {
			if !device.IsKind(err, device.LinkDropped) {
				m.notifier.Report(err)
			}
			return nil, err
		}

		select {
		case ok := <-job.outcome:
			if !ok {
				return nil, err
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-done:
			return nil, err
		}
		m.logger.WithFields(logrus.Fields{
			"device_id": id,
			"attempt":   resyncs + 1,
		}).Info("Resuming interrupted sync after reconnect")
	}
}

// doneLocked returns a channel closed on shutdown
func (m *Manager) doneLocked() <-chan struct{} {
	if m.group == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return m.group.Context().Done()
}

func (m *Manager) signalJob(id string, ok bool) {
	if id == "" {
		return
	}
	m.mu.Lock()
	job := m.job
	m.mu.Unlock()
	if job == nil || job.deviceID != id {
		return
	}
	select {
	case job.outcome <- ok:
	default:
	}
}

// onDrop is the session drop listener: it runs the bounded reconnect policy off the radio callback
func (m *Manager) onDrop(h device.Handle) {
	m.mu.Lock()
	group := m.group
	started := m.started
	m.mu.Unlock()

	m.notifier.Report(device.NewError(device.LinkDropped, h.ID(), nil))
	if !started || group == nil {
		m.signalJob(h.ID(), false)
		return
	}
	launched := group.Go("reconnect-"+h.ID(), func(ctx context.Context) {
		ok := m.reconnect(ctx, h.ID())
		m.signalJob(h.ID(), ok)
		if !ok && ctx.Err() == nil {
			m.notifier.Publish(notify.Notification{
				Kind:        notify.KindError,
				Message:     "Could not reconnect to the pot.",
				Dismissible: false,
				Redirect:    notify.RedirectDeviceSelection,
				ErrorKind:   string(device.LinkDropped),
			})
			m.refreshScan(ctx)
		}
	})
	if !launched {
		m.signalJob(h.ID(), false)
	}
}

// reconnect makes at most Attempts single-shot reconnects, Backoff apart
func (m *Manager) reconnect(ctx context.Context, id string) bool {
	policy := m.opts.Reconnect
	for attempt := 1; attempt <= policy.Attempts; attempt++ {
		if attempt > 1 && policy.Backoff > 0 {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(policy.Backoff):
			}
		}
		if ctx.Err() != nil {
			return false
		}
		m.logger.WithFields(logrus.Fields{
			"device_id": id,
			"attempt":   attempt,
			"attempts":  policy.Attempts,
		}).Info("Reconnecting after drop")
		if m.session.Reconnect(ctx, id) {
			return true
		}
	}
	m.logger.WithField("device_id", id).Warn("Reconnect attempts exhausted")
	return false
}

func (m *Manager) onPowerChange(state device.PowerState) {
	m.mu.Lock()
	started := m.started
	group := m.group
	m.mu.Unlock()
	if !started {
		return
	}
	m.logger.WithField("state", state).Info("Radio power changed")
	if state != device.PowerOn {
		m.scanner.Stop()
		m.reportPower(state)
		return
	}
	if err := m.scanner.Start(group.Context()); err != nil {
		m.logger.WithError(err).Warn("Failed to resume scanning")
	}
}

func (m *Manager) reportPower(state device.PowerState) {
	m.notifier.Report(device.NewError(device.RadioUnavailable, fmt.Sprintf("radio is %s", state), nil))
}

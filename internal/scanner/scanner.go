package scanner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/potlink/internal/device"
	"github.com/srg/potlink/internal/groutine"
	"github.com/srg/potlink/internal/registry"
	"github.com/srg/potlink/internal/ringchan"
)

// Status is the scan controller state
type Status string

const (
	StatusIdle     Status = "idle"
	StatusScanning Status = "scanning"
	StatusFinished Status = "finished"
	StatusError    Status = "error"
)

// DeviceEventType marks if the device was newly discovered, updated or evicted
type DeviceEventType int

const (
	EventNew DeviceEventType = iota
	EventUpdated
	EventEvicted
)

type DeviceEvent struct {
	Type   DeviceEventType
	Device registry.DiscoveredDevice
}

// Options configures scanning behavior
type Options struct {
	ScanTimeout     time.Duration
	CleanupInterval time.Duration
	// RescanInterval restarts a scan burst periodically; zero disables it
	RescanInterval time.Duration
	ServiceFilter  []string
}

// DefaultOptions returns default scanning options
func DefaultOptions() *Options {
	return &Options{
		ScanTimeout:     10 * time.Second,
		CleanupInterval: 2500 * time.Millisecond,
		RescanInterval:  20 * time.Second,
		ServiceFilter:   []string{device.ServiceUUID},
	}
}

// KeepFunc returns the id of the device that must survive staleness eviction, or ""
type KeepFunc func() string

// StatusListener observes status transitions; err is set for StatusError
type StatusListener func(status Status, err error)

// Controller owns the scan burst and cleanup timers and feeds the registry.
//
// A single epoch counter guards every asynchronous continuation (radio callbacks,
// timer callbacks): results captured under an older epoch are discarded.
type Controller struct {
	radio    device.Scanner
	registry *registry.Registry
	keep     KeepFunc
	opts     Options
	logger   *logrus.Logger
	now      func() time.Time
	events   *ringchan.RingChannel[DeviceEvent]

	mu       sync.Mutex
	status   Status
	lastErr  error
	scanning bool
	epoch    uint64
	deadline *time.Timer
	rescan   *time.Timer
	cleanup  *groutine.Group
	listener StatusListener
}

// New creates a scan controller. keep may be nil.
func New(radio device.Scanner, reg *registry.Registry, keep KeepFunc, opts *Options, logger *logrus.Logger) *Controller {
	if logger == nil {
		logger = logrus.New()
	}
	if opts == nil {
		opts = DefaultOptions()
	}
	o := *opts
	def := DefaultOptions()
	if o.ScanTimeout <= 0 {
		o.ScanTimeout = def.ScanTimeout
	}
	if o.CleanupInterval <= 0 {
		o.CleanupInterval = def.CleanupInterval
	}
	if len(o.ServiceFilter) == 0 {
		o.ServiceFilter = def.ServiceFilter
	}
	if keep == nil {
		keep = func() string { return "" }
	}
	return &Controller{
		radio:    radio,
		registry: reg,
		keep:     keep,
		opts:     o,
		logger:   logger,
		now:      time.Now,
		events:   ringchan.New[DeviceEvent](100),
		status:   StatusIdle,
	}
}

// SetClock overrides the time source used for registry timestamps
func (c *Controller) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// SetStatusListener installs the single status listener, replacing any previous one
func (c *Controller) SetStatusListener(l StatusListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listener = l
}

// Status returns the current status and the error that caused StatusError
func (c *Controller) Status() (Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status, c.lastErr
}

// Events returns a read-only channel of device events
func (c *Controller) Events() <-chan DeviceEvent {
	return c.events.C()
}

// Start begins a scan burst and arms the deadline, cleanup and rescan timers.
// Calling Start while a burst is running is a no-op.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.scanning {
		c.mu.Unlock()
		return nil
	}
	err := c.startBurstLocked(ctx)
	if err == nil {
		c.ensureCleanupLocked()
		c.armRescanLocked()
	}
	notify := c.transitionLocked()
	c.mu.Unlock()

	notify()
	return err
}

// Refresh restarts the scan burst immediately and resets the rescan interval
func (c *Controller) Refresh(ctx context.Context) error {
	c.mu.Lock()
	if c.scanning {
		c.stopBurstLocked()
	}
	err := c.startBurstLocked(ctx)
	if err == nil {
		c.ensureCleanupLocked()
		c.armRescanLocked()
	}
	notify := c.transitionLocked()
	c.mu.Unlock()

	notify()
	return err
}

// Stop cancels the radio scan, clears every timer and sets StatusFinished.
// Safe to call multiple times.
func (c *Controller) Stop() {
	c.mu.Lock()
	c.epoch++
	if c.scanning {
		c.stopBurstLocked()
	}
	if c.rescan != nil {
		c.rescan.Stop()
		c.rescan = nil
	}
	cleanup := c.cleanup
	c.cleanup = nil
	changed := c.status != StatusFinished
	c.status = StatusFinished
	c.lastErr = nil
	l := c.listener
	c.mu.Unlock()

	if cleanup != nil {
		cleanup.Stop()
	}
	if changed && l != nil {
		c.safeNotify(l, StatusFinished, nil)
	}
	c.logger.Debug("Scan controller stopped")
}

// startBurstLocked must be called with c.mu held
func (c *Controller) startBurstLocked(ctx context.Context) error {
	c.epoch++
	epoch := c.epoch

	if ctx == nil {
		ctx = context.Background()
	}
	err := c.radio.StartScan(ctx, c.opts.ServiceFilter, device.ScanOptions{AllowDuplicates: true}, c.handlerFor(epoch))
	if err != nil {
		err = device.NormalizeError(err)
		c.status = StatusError
		c.lastErr = err
		c.logger.WithError(err).Error("Failed to start scan")
		return fmt.Errorf("failed to start scan: %w", err)
	}

	c.scanning = true
	c.status = StatusScanning
	c.lastErr = nil
	c.deadline = time.AfterFunc(c.opts.ScanTimeout, func() { c.finishBurst(epoch) })

	c.logger.WithFields(logrus.Fields{
		"timeout": c.opts.ScanTimeout,
		"filter":  c.opts.ServiceFilter,
	}).Info("Starting BLE scan...")
	return nil
}

// stopBurstLocked must be called with c.mu held
func (c *Controller) stopBurstLocked() {
	if c.deadline != nil {
		c.deadline.Stop()
		c.deadline = nil
	}
	c.scanning = false
	if err := c.radio.StopScan(); err != nil {
		c.logger.WithError(err).Warn("Failed to stop radio scan")
	}
}

func (c *Controller) ensureCleanupLocked() {
	if c.cleanup != nil {
		return
	}
	g := groutine.NewGroup(context.Background())
	interval := c.opts.CleanupInterval
	g.Go("scan-cleanup", func(ctx context.Context) {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.sweep()
			}
		}
	})
	c.cleanup = g
}

func (c *Controller) armRescanLocked() {
	if c.opts.RescanInterval <= 0 {
		return
	}
	if c.rescan != nil {
		c.rescan.Stop()
	}
	epoch := c.epoch
	c.rescan = time.AfterFunc(c.opts.RescanInterval, func() { c.rescanTick(epoch) })
}

// finishBurst runs on the deadline timer
func (c *Controller) finishBurst(epoch uint64) {
	c.mu.Lock()
	if epoch != c.epoch || !c.scanning {
		c.mu.Unlock()
		return
	}
	c.deadline = nil
	c.scanning = false
	if err := c.radio.StopScan(); err != nil {
		c.logger.WithError(err).Warn("Failed to stop radio scan")
	}
	c.status = StatusFinished
	notify := c.transitionLocked()
	c.mu.Unlock()

	c.logger.WithField("device_count", c.registry.Len()).Info("BLE scan burst completed")
	notify()
}

// rescanTick runs on the rescan timer; the epoch it captured is the burst it follows
func (c *Controller) rescanTick(epoch uint64) {
	c.mu.Lock()
	if epoch != c.epoch || c.scanning || c.cleanup == nil {
		c.mu.Unlock()
		return
	}
	err := c.startBurstLocked(context.Background())
	if err == nil {
		c.armRescanLocked()
	}
	notify := c.transitionLocked()
	c.mu.Unlock()

	if err != nil {
		c.logger.WithError(err).Warn("Periodic rescan failed")
	}
	notify()
}

// sweep evicts stale devices, sparing the active session device
func (c *Controller) sweep() {
	c.mu.Lock()
	now := c.now()
	c.mu.Unlock()

	for _, id := range c.registry.EvictStale(now, c.keep()) {
		c.events.Send(DeviceEvent{Type: EventEvicted, Device: registry.DiscoveredDevice{ID: id}})
	}
}

// handlerFor binds a radio callback to a burst epoch
func (c *Controller) handlerFor(epoch uint64) device.AdvertisementHandler {
	return func(adv *device.Advertisement, err error) {
		defer func() {
			if r := recover(); r != nil {
				c.logger.WithField("panic", r).Error("Recovered panic in scan callback")
			}
		}()

		c.mu.Lock()
		if epoch != c.epoch {
			c.mu.Unlock()
			return
		}
		if err != nil {
			cleanup := c.failLocked(err)
			notify := c.transitionLocked()
			c.mu.Unlock()
			if cleanup != nil {
				cleanup.Stop()
			}
			notify()
			return
		}
		now := c.now()
		c.mu.Unlock()

		if adv == nil || adv.ID == "" {
			return
		}
		dev := registry.DiscoveredDevice{
			ID:                  adv.ID,
			DisplayName:         adv.LocalName,
			ManufacturerPayload: adv.ManufacturerData,
			RSSI:                adv.RSSI,
		}
		ev := DeviceEvent{Type: EventUpdated, Device: dev}
		if c.registry.Upsert(dev, now) {
			ev.Type = EventNew
		}
		ev.Device.LastSeen = now
		c.events.Send(ev)
	}
}

// failLocked handles an asynchronous scan error; must be called with c.mu held.
// Every timer is halted; the detached cleanup group is returned for the caller
// to stop once c.mu is released, the sweep itself takes c.mu.
func (c *Controller) failLocked(err error) *groutine.Group {
	err = device.NormalizeError(err)
	c.logger.WithError(err).Error("Scan failed")
	c.epoch++
	if c.scanning {
		c.stopBurstLocked()
	}
	if c.rescan != nil {
		c.rescan.Stop()
		c.rescan = nil
	}
	c.status = StatusError
	c.lastErr = err
	cleanup := c.cleanup
	c.cleanup = nil
	return cleanup
}

// transitionLocked snapshots the listener call for delivery after unlocking
func (c *Controller) transitionLocked() func() {
	l := c.listener
	status, err := c.status, c.lastErr
	if l == nil {
		return func() {}
	}
	return func() { c.safeNotify(l, status, err) }
}

func (c *Controller) safeNotify(l StatusListener, status Status, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.WithField("panic", r).Error("Recovered panic in scan status listener")
		}
	}()
	l(status, err)
}

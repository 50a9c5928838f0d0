package goble

import (
	"context"
	"fmt"
	"sync"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/potlink/internal/device"
)

// Radio is a device.Radio backed by a single go-ble central
type Radio struct {
	logger  *logrus.Logger
	factory func() (Central, error)

	mu        sync.Mutex
	central   Central
	power     device.PowerState
	powerSubs map[uint64]func(device.PowerState)
	token     uint64
	scan      *scanRun

	links     *hashmap.Map[string, *link]
	listeners *hashmap.Map[string, *dropListeners]
}

// New creates a radio; the host central is created lazily on first use
func New(logger *logrus.Logger) *Radio {
	if logger == nil {
		logger = logrus.New()
	}
	return &Radio{
		logger:    logger,
		factory:   CentralFactory,
		power:     device.PowerUnknown,
		powerSubs: make(map[uint64]func(device.PowerState)),
		links:     hashmap.New[string, *link](),
		listeners: hashmap.New[string, *dropListeners](),
	}
}

// acquire returns the central, creating it when needed.
// Creation failures update the derived power state and are not cached.
func (r *Radio) acquire() (Central, error) {
	r.mu.Lock()
	if r.central != nil {
		c := r.central
		r.mu.Unlock()
		return c, nil
	}
	r.mu.Unlock()

	c, err := r.factory()

	r.mu.Lock()
	if err == nil && r.central != nil {
		// lost a creation race; keep the first central
		existing := r.central
		r.mu.Unlock()
		if stopErr := c.Stop(); stopErr != nil {
			r.logger.WithError(stopErr).Debug("Failed to stop redundant central")
		}
		return existing, nil
	}
	if err == nil {
		r.central = c
	}
	r.mu.Unlock()

	state := powerFromError(err)
	r.setPower(state)
	if err != nil {
		if state != device.PowerUnknown {
			return nil, fmt.Errorf("failed to create BLE central: %w: bluetooth is %s: %v", device.ErrRadioUnavailable, state, err)
		}
		return nil, fmt.Errorf("failed to create BLE central: %w", device.NormalizeError(err))
	}
	return c, nil
}

// invalidate drops the central after a power loss so the next call re-creates it
func (r *Radio) invalidate(cause error) {
	r.mu.Lock()
	c := r.central
	r.central = nil
	r.mu.Unlock()
	if c != nil {
		if err := c.Stop(); err != nil {
			r.logger.WithError(err).Debug("Failed to stop central")
		}
	}
	r.setPower(powerFromError(cause))
}

// PowerState queries the host. Unavailable radios report their state, not an error.
func (r *Radio) PowerState(_ context.Context) (device.PowerState, error) {
	if _, err := r.acquire(); err != nil {
		state := powerFromError(err)
		if state == device.PowerUnknown {
			return state, err
		}
		return state, nil
	}
	return device.PowerOn, nil
}

func (r *Radio) OnPowerStateChange(cb func(device.PowerState)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.token++
	tok := r.token
	r.powerSubs[tok] = cb
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.powerSubs, tok)
	}
}

func (r *Radio) setPower(state device.PowerState) {
	r.mu.Lock()
	if r.power == state {
		r.mu.Unlock()
		return
	}
	prev := r.power
	r.power = state
	subs := make([]func(device.PowerState), 0, len(r.powerSubs))
	for _, cb := range r.powerSubs {
		subs = append(subs, cb)
	}
	r.mu.Unlock()

	r.logger.WithFields(logrus.Fields{
		"from": prev,
		"to":   state,
	}).Info("Radio power state changed")
	for _, cb := range subs {
		cb(state)
	}
}

// Close stops scanning, cancels every link and releases the central
func (r *Radio) Close() error {
	if err := r.StopScan(); err != nil {
		r.logger.WithError(err).Debug("Failed to stop scan")
	}
	var ids []string
	r.links.Range(func(id string, _ *link) bool {
		ids = append(ids, id)
		return true
	})
	for _, id := range ids {
		if _, err := r.CancelConnection(context.Background(), id); err != nil {
			r.logger.WithError(err).WithField("device_id", id).Warn("Failed to cancel connection")
		}
	}

	r.mu.Lock()
	c := r.central
	r.central = nil
	r.mu.Unlock()
	if c == nil {
		return nil
	}
	return c.Stop()
}

var _ device.Radio = (*Radio)(nil)

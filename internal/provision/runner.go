// Package provision runs the identity-read, config-write, ack-wait exchange
// that pairs or reconfigures a pot over an established session.
package provision

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/potlink/internal/device"
	"github.com/srg/potlink/internal/plants"
	"github.com/srg/potlink/internal/session"
	"github.com/srg/potlink/internal/store"
)

// DefaultAckTimeout bounds the wait for the pot's acknowledgement
const DefaultAckTimeout = 10 * time.Second

// Step identifies a stage of the exchange for progress reporting
type Step string

const (
	StepPowerCheck   Step = "power_check"
	StepDiscover     Step = "discover"
	StepReadIdentity Step = "read_identity"
	StepArmMonitor   Step = "arm_monitor"
	StepWriteConfig  Step = "write_config"
	StepAwaitAck     Step = "await_ack"
	StepPersist      Step = "persist"
)

// Radio is the part of the radio capability the runner drives
type Radio interface {
	device.PowerStateReader
	device.GATT
}

// Session is the view of the connection session the runner needs
type Session interface {
	Snapshot() session.Snapshot
	IsCurrent(gen uint64) bool
	Lost() <-chan struct{}
}

// Options configures a Runner
type Options struct {
	AckTimeout time.Duration
	Plants     *plants.Table
	// OnStep, when set, is called as each step begins
	OnStep func(Step)
}

// Runner executes sync exchanges one at a time
type Runner struct {
	radio   Radio
	session Session
	store   store.PairedDevices
	opts    Options
	logger  *logrus.Logger
	now     func() time.Time

	runMu  sync.Mutex
	subMu  sync.Mutex
	ackSub device.Subscription
}

// NewRunner creates a runner persisting into records
func NewRunner(radio Radio, sess Session, records store.PairedDevices, opts *Options, logger *logrus.Logger) *Runner {
	if logger == nil {
		logger = logrus.New()
	}
	o := Options{}
	if opts != nil {
		o = *opts
	}
	if o.AckTimeout <= 0 {
		o.AckTimeout = DefaultAckTimeout
	}
	if o.Plants == nil {
		o.Plants = plants.Builtin()
	}
	return &Runner{
		radio:   radio,
		session: sess,
		store:   records,
		opts:    o,
		logger:  logger,
		now:     time.Now,
	}
}

// SetClock overrides the addedAt time source
func (r *Runner) SetClock(now func() time.Time) {
	r.now = now
}

type ackEvent struct {
	value device.Value
	err   error
}

// Run performs one exchange against the connected session and persists the
// resulting record keyed by the pot's identity. Steps are not retried.
func (r *Runner) Run(ctx context.Context, payload SyncPayload) (*store.PairedDeviceRecord, error) {
	if !r.runMu.TryLock() {
		return nil, device.NewError(device.SessionBusy, "sync already in progress", nil)
	}
	defer r.runMu.Unlock()

	if err := payload.Validate(r.opts.Plants); err != nil {
		return nil, err
	}

	r.step(StepPowerCheck)
	power, err := r.radio.PowerState(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query radio power: %w", device.NormalizeError(err))
	}
	if power != device.PowerOn {
		return nil, device.NewError(device.RadioUnavailable, fmt.Sprintf("radio is %s", power), nil)
	}

	snap := r.session.Snapshot()
	lost := r.session.Lost()
	if snap.State != session.Connected || !r.session.IsCurrent(snap.Generation) {
		return nil, device.NewError(device.NotConnected, "no connected device", nil)
	}
	gen := snap.Generation
	logger := r.logger.WithFields(logrus.Fields{
		"device_id":  snap.DeviceID,
		"generation": gen,
	})

	r.step(StepDiscover)
	h, err := r.radio.DiscoverServices(ctx, snap.Handle)
	if err != nil {
		return nil, fmt.Errorf("failed to discover services: %w", device.NormalizeError(err))
	}
	if err := r.checkCurrent(gen); err != nil {
		return nil, err
	}

	r.step(StepReadIdentity)
	raw, err := r.radio.ReadCharacteristic(ctx, h, device.ServiceUUID, device.ReadIDCharUUID)
	if err != nil {
		return nil, fmt.Errorf("failed to read identity: %w", device.NormalizeError(err))
	}
	identity, err := device.DecodeIdentity(raw)
	if err != nil {
		logger.WithError(err).Error("Pot returned no usable identity")
		return nil, err
	}
	if err := r.checkCurrent(gen); err != nil {
		return nil, err
	}
	logger = logger.WithField("identity", identity)

	r.step(StepArmMonitor)
	acks := make(chan ackEvent, 1)
	var writing atomic.Bool
	if err := r.armMonitor(h, acks, &writing, logger); err != nil {
		return nil, fmt.Errorf("failed to monitor acknowledgements: %w", device.NormalizeError(err))
	}
	defer r.releaseMonitor()

	r.step(StepWriteConfig)
	value, err := payload.encode()
	if err != nil {
		return nil, err
	}
	writing.Store(true)
	if err := r.radio.WriteCharacteristicWithResponse(ctx, h, device.ServiceUUID, device.SendConfigCharUUID, value); err != nil {
		return nil, fmt.Errorf("failed to write configuration: %w", device.NormalizeError(err))
	}
	logger.WithFields(logrus.Fields{
		"char_uuid": device.SendConfigCharUUID,
		"plant":     payload.Plant,
	}).Debug("Configuration written, awaiting acknowledgement")

	r.step(StepAwaitAck)
	ackValue, err := r.awaitAck(ctx, acks, lost)
	if err != nil {
		logger.WithError(err).Warn("Acknowledgement wait failed")
		return nil, err
	}
	if err := r.checkCurrent(gen); err != nil {
		return nil, err
	}
	ack, err := decodeAck(ackValue)
	if err != nil {
		return nil, fmt.Errorf("failed to decode acknowledgement: %w", err)
	}
	if !ack.Success {
		logger.Error("Pot rejected configuration")
		return nil, device.NewError(device.DeviceRejectedConfig, "the pot failed to parse the configuration", nil)
	}

	r.step(StepPersist)
	rec := store.PairedDeviceRecord{
		ID:                identity,
		Name:              payload.DeviceName,
		AddedAt:           r.now().UnixMilli(),
		MeasurementSystem: payload.MeasurementSystem,
		Plant:             payload.Plant,
	}
	if err := store.Put(ctx, r.store, rec); err != nil {
		return nil, fmt.Errorf("failed to persist paired device: %w", err)
	}
	logger.Info("Pot configured")
	return &rec, nil
}

func (r *Runner) step(s Step) {
	r.logger.WithField("step", s).Debug("Sync step")
	if r.opts.OnStep != nil {
		r.opts.OnStep(s)
	}
}

// checkCurrent fails when the session moved past gen during an await
func (r *Runner) checkCurrent(gen uint64) error {
	if r.session.IsCurrent(gen) {
		return nil
	}
	return device.NewError(device.LinkDropped, "session changed during sync", nil)
}

// armMonitor releases any previous ack subscription before installing a new one.
// Values delivered before writing is set predate this exchange and are dropped;
// radio errors always pass.
func (r *Runner) armMonitor(h device.Handle, acks chan<- ackEvent, writing *atomic.Bool, logger *logrus.Entry) error {
	r.releaseMonitor()

	sub, err := r.radio.MonitorCharacteristic(h, device.ServiceUUID, device.NotificationCharUUID, func(v device.Value, err error) {
		if err == nil && !writing.Load() {
			logger.Debug("Ignoring notification received before the configuration write")
			return
		}
		select {
		case acks <- ackEvent{value: v, err: err}:
		default:
			// only the first event after the write matters
		}
	})
	if err != nil {
		return err
	}

	r.subMu.Lock()
	r.ackSub = sub
	r.subMu.Unlock()
	return nil
}

func (r *Runner) releaseMonitor() {
	r.subMu.Lock()
	sub := r.ackSub
	r.ackSub = nil
	r.subMu.Unlock()
	if sub != nil {
		sub.Remove()
	}
}

func (r *Runner) awaitAck(ctx context.Context, acks <-chan ackEvent, lost <-chan struct{}) (device.Value, error) {
	timer := time.NewTimer(r.opts.AckTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-timer.C:
		return "", device.NewError(device.AckTimeout, fmt.Sprintf("no acknowledgement within %s", r.opts.AckTimeout), nil)
	case <-lost:
		return "", device.NewError(device.LinkDropped, "connection lost while awaiting acknowledgement", nil)
	case ev := <-acks:
		if ev.err != nil {
			err := device.NormalizeError(ev.err)
			if device.IsKind(err, device.NotConnected) {
				return "", device.NewError(device.LinkDropped, "acknowledgement monitor closed", err)
			}
			return "", fmt.Errorf("acknowledgement failed: %w", err)
		}
		return ev.value, nil
	}
}

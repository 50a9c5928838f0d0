package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/potlink/internal/device"
)

const (
	DefaultConnectTimeout   = 5 * time.Second
	DefaultReconnectTimeout = 15 * time.Second
)

// ErrorReporter receives errors that must reach the user
type ErrorReporter interface {
	Report(err error)
}

// DropListener is invoked once per unsolicited disconnect with the handle that dropped
type DropListener func(h device.Handle)

// Options configures a Session
type Options struct {
	ConnectTimeout   time.Duration
	ReconnectTimeout time.Duration
	Reporter         ErrorReporter
}

// ConnectOptions tunes a single Connect call
type ConnectOptions struct {
	// OnConnected runs after the session reaches Connected
	OnConnected func(h device.Handle)
	// SuppressErrors keeps failures off the user-facing error channel
	SuppressErrors bool
}

// Session is the single logical connection to a pot.
//
// Every connect attempt and every link teardown bumps the generation counter;
// asynchronous continuations compare their captured generation against the
// current one and discard themselves when it moved on.
type Session struct {
	radio  device.Connector
	opts   Options
	logger *logrus.Logger

	mu        sync.Mutex
	state     State
	deviceID  string
	handle    device.Handle
	gen       uint64
	lost      chan struct{}
	dropUnsub func()
	closed    bool

	dropMu       sync.Mutex
	dropToken    uint64
	dropListener DropListener

	observers  *hashmap.Map[uint64, func(Transition)]
	tokens     atomic.Uint64
	pending    []Transition
	dispatchMu sync.Mutex
}

// New creates a session in Disconnected state
func New(radio device.Connector, opts *Options, logger *logrus.Logger) *Session {
	if logger == nil {
		logger = logrus.New()
	}
	o := Options{}
	if opts != nil {
		o = *opts
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.ReconnectTimeout <= 0 {
		o.ReconnectTimeout = DefaultReconnectTimeout
	}
	closedLost := make(chan struct{})
	close(closedLost)
	return &Session{
		radio:     radio,
		opts:      o,
		logger:    logger,
		state:     Disconnected,
		lost:      closedLost,
		observers: hashmap.New[uint64, func(Transition)](),
	}
}

// ----------------------------
// Observation
// ----------------------------

// Observe registers a state observer. Transitions are delivered in order;
// observers must not block. Returns the removal func.
func (s *Session) Observe(fn func(Transition)) (remove func()) {
	tok := s.tokens.Add(1)
	s.observers.Set(tok, fn)
	return func() { s.observers.Del(tok) }
}

// SetDropListener installs the single drop listener, replacing the previous one.
// The returned func clears the slot only while it still holds this listener.
func (s *Session) SetDropListener(l DropListener) (unsubscribe func()) {
	s.dropMu.Lock()
	defer s.dropMu.Unlock()
	s.dropToken++
	tok := s.dropToken
	s.dropListener = l
	return func() {
		s.dropMu.Lock()
		defer s.dropMu.Unlock()
		if s.dropToken == tok {
			s.dropListener = nil
		}
	}
}

// Snapshot returns the current state
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{State: s.state, Handle: s.handle, DeviceID: s.deviceID, Generation: s.gen}
}

// State returns the current state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ActiveDeviceID returns the device the session holds on to, or "".
// A device is held while Connecting, Connected or Disconnecting.
func (s *Session) ActiveDeviceID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case Connecting, Connected, Disconnecting:
		return s.deviceID
	default:
		return ""
	}
}

// IsCurrent reports whether gen is still the live connected generation
func (s *Session) IsCurrent(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == gen && s.state == Connected
}

// Lost returns a channel closed when the current connection ends.
// Outside Connected the returned channel is already closed.
func (s *Session) Lost() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lost
}

// ----------------------------
// Lifecycle
// ----------------------------

// Connect establishes the session to id. Connecting to the device already
// connected returns its handle; a different connected device is released first.
func (s *Session) Connect(ctx context.Context, id string, opts *ConnectOptions) (device.Handle, error) {
	if opts == nil {
		opts = &ConnectOptions{}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return device.Handle{}, device.NewError(device.NotConnected, "session closed", nil)
	}
	if s.state == Connected && s.deviceID == id {
		h := s.handle
		s.mu.Unlock()
		return h, nil
	}
	if s.state == Connected {
		previous := s.deviceID
		s.mu.Unlock()
		s.logger.WithFields(logrus.Fields{
			"device_id": id,
			"previous":  previous,
		}).Info("Releasing previous connection")
		if err := s.Disconnect(ctx); err != nil {
			return device.Handle{}, fmt.Errorf("failed to release %s: %w", previous, err)
		}
		s.mu.Lock()
	}
	if s.state != Disconnected {
		state := s.state
		s.mu.Unlock()
		return device.Handle{}, device.NewError(device.SessionBusy, fmt.Sprintf("session is %s", state), nil)
	}

	gen := s.beginLocked(id)
	s.mu.Unlock()
	s.flush()

	h, err := s.attempt(ctx, gen, id, s.opts.ConnectTimeout)
	if err != nil {
		if !device.IsKind(err, device.StaleResult) && s.failConnect(gen, err) {
			if !opts.SuppressErrors && s.opts.Reporter != nil {
				s.opts.Reporter.Report(err)
			}
		}
		return device.Handle{}, err
	}

	if opts.OnConnected != nil {
		opts.OnConnected(h)
	}
	return h, nil
}

// Reconnect performs exactly one connect attempt with the reconnect timeout.
// Failures return the session to Disconnected without surfacing an error.
func (s *Session) Reconnect(ctx context.Context, id string) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	if s.state == Connected && s.deviceID == id {
		s.mu.Unlock()
		return true
	}
	if s.state != Disconnected {
		s.mu.Unlock()
		return false
	}
	gen := s.beginLocked(id)
	s.mu.Unlock()
	s.flush()

	s.logger.WithField("device_id", id).Info("Reconnecting...")
	_, err := s.attempt(ctx, gen, id, s.opts.ReconnectTimeout)
	if err == nil {
		return true
	}
	if device.IsKind(err, device.StaleResult) {
		return false
	}

	s.mu.Lock()
	if s.gen == gen && s.state == Connecting {
		s.transitionLocked(Disconnected, err)
		s.deviceID = ""
	}
	s.mu.Unlock()
	s.flush()

	s.logger.WithFields(logrus.Fields{
		"device_id": id,
		"error":     err,
	}).Warn("Reconnect attempt failed")
	return false
}

// Disconnect cancels the current connection. A failed cancel leaves the
// session Connected and returns the error. A pending connect is aborted.
func (s *Session) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case Disconnected, Error:
		s.mu.Unlock()
		return nil
	case Disconnecting:
		s.mu.Unlock()
		return device.NewError(device.SessionBusy, "disconnect already in progress", nil)
	case Connecting:
		id := s.deviceID
		s.gen++
		s.transitionLocked(Disconnected, nil)
		s.deviceID = ""
		s.mu.Unlock()
		s.flush()
		s.logger.WithField("device_id", id).Info("Aborted pending connect")
		if _, err := s.radio.CancelConnection(ctx, id); err != nil {
			s.logger.WithError(err).Debug("Cancel of pending connect failed")
		}
		return nil
	}

	id := s.deviceID
	gen := s.gen
	s.transitionLocked(Disconnecting, nil)
	s.mu.Unlock()
	s.flush()

	s.logger.WithField("device_id", id).Info("Disconnecting...")
	_, err := s.radio.CancelConnection(ctx, id)

	s.mu.Lock()
	if s.gen != gen || s.state != Disconnecting {
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		err = device.NormalizeError(err)
		s.transitionLocked(Connected, err)
		s.mu.Unlock()
		s.flush()
		s.logger.WithFields(logrus.Fields{
			"device_id": id,
			"error":     err,
		}).Error("Disconnect failed, link presumed live")
		if s.opts.Reporter != nil {
			s.opts.Reporter.Report(err)
		}
		return fmt.Errorf("failed to disconnect %s: %w", id, err)
	}
	s.transitionLocked(Disconnected, nil)
	unsub := s.endLinkLocked()
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	s.flush()
	s.logger.WithField("device_id", id).Info("Disconnected")
	return nil
}

// Close tears the session down for good. Safe to call multiple times.
func (s *Session) Close(ctx context.Context) error {
	err := s.Disconnect(ctx)

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.dropMu.Lock()
	s.dropToken++
	s.dropListener = nil
	s.dropMu.Unlock()
	return err
}

// ----------------------------
// Internals
// ----------------------------

// beginLocked starts a new generation for id and enters Connecting
func (s *Session) beginLocked(id string) uint64 {
	s.gen++
	s.deviceID = id
	s.transitionLocked(Connecting, nil)
	return s.gen
}

// attempt runs one bounded connect and promotes the session on success
func (s *Session) attempt(ctx context.Context, gen uint64, id string, timeout time.Duration) (device.Handle, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.logger.WithFields(logrus.Fields{
		"device_id":  id,
		"timeout":    timeout,
		"generation": gen,
	}).Debug("Dialing device...")

	h, err := s.radio.Connect(attemptCtx, id, device.ConnectOptions{Timeout: timeout})
	if err != nil {
		return device.Handle{}, classifyConnectError(attemptCtx, err)
	}

	unsub := s.radio.OnDisconnected(id, s.dropHandler(gen))

	alive, err := s.radio.IsConnected(attemptCtx, h)
	if err != nil || !alive {
		unsub()
		if _, cancelErr := s.radio.CancelConnection(ctx, id); cancelErr != nil {
			s.logger.WithError(cancelErr).Debug("Failed to cancel half-open link")
		}
		if err == nil {
			err = device.NewError(device.ConnectFailed, "link not established after connect", nil)
		}
		return device.Handle{}, classifyConnectError(attemptCtx, err)
	}

	s.mu.Lock()
	if s.gen != gen || s.state != Connecting {
		current := s.deviceID
		state := s.state
		s.mu.Unlock()
		unsub()
		// a late success for a device the session no longer wants is released
		if !(state == Connected && current == id) {
			if _, cancelErr := s.radio.CancelConnection(ctx, id); cancelErr != nil {
				s.logger.WithError(cancelErr).Debug("Failed to cancel stale link")
			}
		}
		s.logger.WithFields(logrus.Fields{
			"device_id":  id,
			"generation": gen,
		}).Debug("Discarded stale connect result")
		return device.Handle{}, device.NewError(device.StaleResult, "session moved on during connect", nil)
	}
	s.handle = h
	s.dropUnsub = unsub
	s.lost = make(chan struct{})
	s.transitionLocked(Connected, nil)
	s.mu.Unlock()
	s.flush()

	s.logger.WithFields(logrus.Fields{
		"device_id":  id,
		"generation": gen,
	}).Info("Device connected")
	return h, nil
}

// failConnect walks a failed connect through Error to Disconnected.
// Returns false when the attempt was already superseded.
func (s *Session) failConnect(gen uint64, err error) bool {
	s.mu.Lock()
	if s.gen != gen || s.state != Connecting {
		s.mu.Unlock()
		return false
	}
	id := s.deviceID
	s.transitionLocked(Error, err)
	s.transitionLocked(Disconnected, err)
	s.deviceID = ""
	s.mu.Unlock()
	s.flush()

	s.logger.WithFields(logrus.Fields{
		"device_id": id,
		"error":     err,
	}).Error("Connect failed")
	return true
}

// dropHandler binds the radio disconnect callback to one generation
func (s *Session) dropHandler(gen uint64) func(device.Handle, error) {
	return func(h device.Handle, cause error) {
		s.mu.Lock()
		if s.gen != gen || s.state != Connected {
			s.mu.Unlock()
			return
		}
		dropped := s.handle
		if dropped.IsZero() {
			dropped = h
		}
		s.gen++
		err := cause
		if err == nil {
			err = device.ErrLinkDropped
		}
		s.transitionLocked(Disconnected, err)
		unsub := s.endLinkLocked()
		s.mu.Unlock()

		if unsub != nil {
			unsub()
		}
		s.flush()

		s.logger.WithFields(logrus.Fields{
			"device_id": dropped.ID(),
			"error":     cause,
		}).Warn("Connection dropped")

		s.dropMu.Lock()
		l := s.dropListener
		s.dropMu.Unlock()
		if l != nil {
			s.safeCall(func() { l(dropped) })
		}
	}
}

// endLinkLocked clears the link state and returns the radio unsubscribe to run unlocked
func (s *Session) endLinkLocked() func() {
	close(s.lost)
	closedLost := make(chan struct{})
	close(closedLost)
	s.lost = closedLost
	s.handle = device.Handle{}
	s.deviceID = ""
	unsub := s.dropUnsub
	s.dropUnsub = nil
	return unsub
}

// transitionLocked validates and queues a transition for ordered delivery
func (s *Session) transitionLocked(to State, err error) {
	from := s.state
	if !CanTransition(from, to) {
		s.logger.WithFields(logrus.Fields{
			"from": from,
			"to":   to,
		}).Error("Rejected invalid session transition")
		return
	}
	s.state = to
	s.pending = append(s.pending, Transition{From: from, To: to, DeviceID: s.deviceID, Generation: s.gen, Err: err})
	s.logger.WithFields(logrus.Fields{
		"from":       from,
		"to":         to,
		"device_id":  s.deviceID,
		"generation": s.gen,
	}).Debug("Session state changed")
}

// flush delivers queued transitions in order. When another call is already
// draining the queue it picks up whatever this caller queued.
func (s *Session) flush() {
	for {
		if !s.dispatchMu.TryLock() {
			return
		}
		s.drain()
		s.dispatchMu.Unlock()

		s.mu.Lock()
		more := len(s.pending) > 0
		s.mu.Unlock()
		if !more {
			return
		}
	}
}

// drain must be called with dispatchMu held
func (s *Session) drain() {
	for {
		s.mu.Lock()
		if len(s.pending) == 0 {
			s.mu.Unlock()
			return
		}
		t := s.pending[0]
		s.pending = s.pending[1:]
		s.mu.Unlock()

		s.observers.Range(func(_ uint64, fn func(Transition)) bool {
			s.safeCall(func() { fn(t) })
			return true
		})
	}
}

func (s *Session) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithField("panic", r).Error("Recovered panic in session callback")
		}
	}()
	fn()
}

// classifyConnectError maps connect failures to ConnectTimeout or ConnectFailed
func classifyConnectError(ctx context.Context, err error) error {
	if ctx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("%w: %v", device.ErrConnectTimeout, err)
	}
	err = device.NormalizeError(err)
	switch device.KindOf(err) {
	case device.UnknownRadioError, device.NotConnected, device.LinkDropped:
		return fmt.Errorf("%w: %v", device.ErrConnectFailed, err)
	}
	return err
}

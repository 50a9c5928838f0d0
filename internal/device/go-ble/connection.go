package goble

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/potlink/internal/device"
	"github.com/srg/potlink/internal/groutine"
)

// link is one established go-ble connection
type link struct {
	id     string
	name   string
	client GATTClient
	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool

	mu      sync.Mutex
	profile *ble.Profile
	streams map[string]*stream // keyed by normalized characteristic UUID
}

func (l *link) handle() device.Handle {
	return device.NewHandle(l.id, l.name)
}

// dropListeners holds the disconnect callbacks registered for one peripheral id
type dropListeners struct {
	mu    sync.Mutex
	token uint64
	cbs   map[uint64]func(device.Handle, error)
}

func (d *dropListeners) snapshot() []func(device.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]func(device.Handle, error), 0, len(d.cbs))
	for _, cb := range d.cbs {
		out = append(out, cb)
	}
	return out
}

// Connect dials id. A stale link to the same id is cancelled first.
func (r *Radio) Connect(ctx context.Context, id string, opts device.ConnectOptions) (device.Handle, error) {
	if strings.TrimSpace(id) == "" {
		return device.Handle{}, device.NewError(device.ConnectFailed, "device address is empty", nil)
	}
	central, err := r.acquire()
	if err != nil {
		return device.Handle{}, err
	}
	if old, ok := r.links.Get(id); ok {
		r.logger.WithField("device_id", id).Debug("Replacing stale link")
		if _, err := r.CancelConnection(ctx, old.id); err != nil {
			r.logger.WithError(err).WithField("device_id", id).Warn("Failed to cancel stale link")
		}
	}

	dialCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	r.logger.WithFields(logrus.Fields{
		"device_id": id,
		"timeout":   opts.Timeout,
	}).Info("Dialing BLE device...")
	client, err := central.Dial(dialCtx, ble.NewAddr(id))
	if err != nil {
		if dialCtx.Err() != nil {
			err = dialCtx.Err()
		}
		err = device.NormalizeError(err)
		r.logger.WithError(err).WithField("device_id", id).Warn("Failed to dial BLE device")
		return device.Handle{}, fmt.Errorf("failed to connect to %q: %w", id, err)
	}

	linkCtx, cancel := context.WithCancel(context.Background())
	l := &link{
		id:      id,
		name:    client.Name(),
		client:  client,
		ctx:     linkCtx,
		cancel:  cancel,
		streams: make(map[string]*stream),
	}
	r.links.Set(id, l)

	if dc := client.Disconnected(); dc != nil {
		groutine.Go(context.Background(), "ble-link-monitor-"+id, func(_ context.Context) {
			select {
			case <-dc:
				r.logger.WithField("device_id", id).Warn("Host reported disconnection")
				r.teardown(l, device.NewError(device.LinkDropped, "peripheral disconnected", nil))
			case <-linkCtx.Done():
			}
		})
	}

	r.logger.WithFields(logrus.Fields{
		"device_id": id,
		"name":      l.name,
	}).Info("BLE device connected")
	return l.handle(), nil
}

// IsConnected reports whether the link behind h is still up
func (r *Radio) IsConnected(_ context.Context, h device.Handle) (bool, error) {
	l, ok := r.links.Get(h.ID())
	if !ok || l.closed.Load() {
		return false, nil
	}
	if dc := l.client.Disconnected(); dc != nil {
		select {
		case <-dc:
			return false, nil
		default:
		}
	}
	return true, nil
}

// CancelConnection closes the link to id. A failed cancel leaves the link intact.
// Unknown ids succeed with a bare handle.
func (r *Radio) CancelConnection(_ context.Context, id string) (device.Handle, error) {
	l, ok := r.links.Get(id)
	if !ok {
		return device.NewHandle(id, ""), nil
	}
	if err := l.client.CancelConnection(); err != nil {
		err = device.NormalizeError(err)
		r.logger.WithError(err).WithField("device_id", id).Warn("Failed to cancel BLE connection")
		return device.Handle{}, err
	}
	r.teardown(l, nil)
	r.logger.WithField("device_id", id).Info("BLE device disconnected")
	return l.handle(), nil
}

func (r *Radio) OnDisconnected(id string, cb func(device.Handle, error)) func() {
	set, _ := r.listeners.GetOrInsert(id, &dropListeners{cbs: make(map[uint64]func(device.Handle, error))})
	set.mu.Lock()
	set.token++
	tok := set.token
	set.cbs[tok] = cb
	set.mu.Unlock()
	return func() {
		set.mu.Lock()
		defer set.mu.Unlock()
		delete(set.cbs, tok)
	}
}

// teardown retires l exactly once: fails its streams and fires disconnect listeners.
// cause is nil for a requested disconnect.
func (r *Radio) teardown(l *link, cause error) {
	if !l.closed.CompareAndSwap(false, true) {
		return
	}
	if current, ok := r.links.Get(l.id); ok && current == l {
		r.links.Del(l.id)
	}
	l.cancel()

	l.mu.Lock()
	streams := make([]*stream, 0, len(l.streams))
	for _, s := range l.streams {
		streams = append(streams, s)
	}
	l.streams = make(map[string]*stream)
	l.mu.Unlock()

	streamErr := cause
	if streamErr == nil {
		streamErr = device.NewError(device.NotConnected, "connection cancelled", nil)
	}
	for _, s := range streams {
		s.fail(streamErr)
	}

	if set, ok := r.listeners.Get(l.id); ok {
		for _, cb := range set.snapshot() {
			cb(l.handle(), cause)
		}
	}
}

// linkFor resolves the live link behind h
func (r *Radio) linkFor(h device.Handle) (*link, error) {
	l, ok := r.links.Get(h.ID())
	if !ok || l.closed.Load() {
		return nil, device.NewError(device.NotConnected, h.ID(), nil)
	}
	return l, nil
}

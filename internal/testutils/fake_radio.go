package testutils

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/potlink/internal/device"
)

// FakeWrite records a single write-with-response call
type FakeWrite struct {
	DeviceID    string
	ServiceUUID string
	CharUUID    string
	Value       device.Value
}

// FakePeripheral is a scripted pot served by FakeRadio
type FakePeripheral struct {
	ID     string
	Name   string
	Values map[string]device.Value // keyed by normalized characteristic UUID

	// Ack is emitted on the notification characteristic after every config write
	Ack      *device.Value
	AckDelay time.Duration

	ConnectErr  error
	ConnectGate chan struct{} // when set, Connect blocks until closed or ctx is done
	DeadLink    bool          // IsConnected reports false after a successful connect
	DiscoverErr error
	ReadErr     error
	WriteErr    error
	CancelErr   error
}

type fakeMonitor struct {
	radio    *FakeRadio
	key      string
	token    int
	callback device.ValueHandler
}

func (m *fakeMonitor) Remove() {
	m.radio.mu.Lock()
	defer m.radio.mu.Unlock()
	if subs, ok := m.radio.monitors[m.key]; ok {
		delete(subs, m.token)
	}
}

// FakeRadio is an in-memory device.Radio with failure and drop injection
type FakeRadio struct {
	mu     sync.Mutex
	logger *logrus.Logger
	token  int

	power     device.PowerState
	powerErr  error
	powerSubs map[int]func(device.PowerState)

	scanErr    error
	scanning   bool
	scanFilter []string
	onDevice   device.AdvertisementHandler
	scanStarts int
	scanStops  int

	peripherals    map[string]*FakePeripheral
	links          map[string]bool
	disconnectSubs map[string]map[int]func(device.Handle, error)
	monitors       map[string]map[int]*fakeMonitor

	writes   []FakeWrite
	connects map[string]int
	cancels  map[string]int
}

// NewFakeRadio creates a powered-on fake radio with no peripherals
func NewFakeRadio(logger *logrus.Logger) *FakeRadio {
	if logger == nil {
		logger = logrus.New()
	}
	return &FakeRadio{
		logger:         logger,
		power:          device.PowerOn,
		powerSubs:      make(map[int]func(device.PowerState)),
		peripherals:    make(map[string]*FakePeripheral),
		links:          make(map[string]bool),
		disconnectSubs: make(map[string]map[int]func(device.Handle, error)),
		monitors:       make(map[string]map[int]*fakeMonitor),
		connects:       make(map[string]int),
		cancels:        make(map[string]int),
	}
}

// WithPowerState sets the initial power state
func (r *FakeRadio) WithPowerState(state device.PowerState) *FakeRadio {
	r.power = state
	return r
}

// WithPowerError makes PowerState fail
func (r *FakeRadio) WithPowerError(err error) *FakeRadio {
	r.powerErr = err
	return r
}

// WithScanError makes StartScan fail
func (r *FakeRadio) WithScanError(err error) *FakeRadio {
	r.scanErr = err
	return r
}

// WithPeripheral registers a scripted peripheral
func (r *FakeRadio) WithPeripheral(p *FakePeripheral) *FakeRadio {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peripherals[p.ID] = p
	return r
}

// Peripheral returns the scripted peripheral for id so tests can mutate it
func (r *FakeRadio) Peripheral(id string) *FakePeripheral {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.peripherals[id]
}

func monitorKey(id, charUUID string) string {
	return id + "|" + device.NormalizeUUID(charUUID)
}

// ----------------------------
// Power
// ----------------------------

func (r *FakeRadio) PowerState(_ context.Context) (device.PowerState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.power, r.powerErr
}

func (r *FakeRadio) OnPowerStateChange(cb func(device.PowerState)) func() {
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

// SetPowerState changes the power state and notifies listeners
func (r *FakeRadio) SetPowerState(state device.PowerState) {
	r.mu.Lock()
	r.power = state
	subs := make([]func(device.PowerState), 0, len(r.powerSubs))
	for _, cb := range r.powerSubs {
		subs = append(subs, cb)
	}
	r.mu.Unlock()

	for _, cb := range subs {
		cb(state)
	}
}

// ----------------------------
// Scan
// ----------------------------

func (r *FakeRadio) StartScan(_ context.Context, serviceFilter []string, _ device.ScanOptions, onDevice device.AdvertisementHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.scanErr != nil {
		return r.scanErr
	}
	r.scanning = true
	r.scanFilter = append([]string(nil), serviceFilter...)
	r.onDevice = onDevice
	r.scanStarts++
	return nil
}

func (r *FakeRadio) StopScan() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scanning = false
	r.onDevice = nil
	r.scanStops++
	return nil
}

// Advertise delivers a sighting to the active scan handler.
// Returns false when no scan is running.
func (r *FakeRadio) Advertise(adv device.Advertisement) bool {
	r.mu.Lock()
	h := r.onDevice
	r.mu.Unlock()
	if h == nil {
		return false
	}
	h(&adv, nil)
	return true
}

// HandlerForLateDelivery returns the current scan handler so tests can invoke it after a stop
func (r *FakeRadio) HandlerForLateDelivery() device.AdvertisementHandler {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.onDevice
}

// FailScan reports an asynchronous scan error
func (r *FakeRadio) FailScan(err error) bool {
	r.mu.Lock()
	h := r.onDevice
	r.mu.Unlock()
	if h == nil {
		return false
	}
	h(nil, err)
	return true
}

func (r *FakeRadio) IsScanning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scanning
}

func (r *FakeRadio) ScanFilter() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.scanFilter...)
}

func (r *FakeRadio) ScanStarts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scanStarts
}

func (r *FakeRadio) ScanStops() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scanStops
}

// ----------------------------
// Connection
// ----------------------------

func (r *FakeRadio) Connect(ctx context.Context, id string, opts device.ConnectOptions) (device.Handle, error) {
	r.mu.Lock()
	r.connects[id]++
	p, ok := r.peripherals[id]
	var gate chan struct{}
	var connectErr error
	var name string
	if ok {
		gate, connectErr, name = p.ConnectGate, p.ConnectErr, p.Name
	}
	r.mu.Unlock()

	if !ok {
		return device.Handle{}, device.NewError(device.ConnectFailed, fmt.Sprintf("unknown peripheral %s", id), nil)
	}

	if gate != nil {
		waitCtx := ctx
		if opts.Timeout > 0 {
			var cancel context.CancelFunc
			waitCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
			defer cancel()
		}
		select {
		case <-gate:
		case <-waitCtx.Done():
			return device.Handle{}, device.NormalizeError(waitCtx.Err())
		}
	}

	if connectErr != nil {
		return device.Handle{}, connectErr
	}

	r.mu.Lock()
	r.links[id] = true
	r.mu.Unlock()
	r.logger.WithField("device_id", id).Debug("fake radio connected")
	return device.NewHandle(id, name), nil
}

// SetConnectError changes the connect failure of a registered peripheral
func (r *FakeRadio) SetConnectError(id string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p := r.peripherals[id]; p != nil {
		p.ConnectErr = err
	}
}

// SetAck changes the acknowledgement a registered peripheral emits; nil silences it
func (r *FakeRadio) SetAck(id string, ack *device.Value) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p := r.peripherals[id]; p != nil {
		p.Ack = ack
	}
}

func (r *FakeRadio) IsConnected(_ context.Context, h device.Handle) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.peripherals[h.ID()]
	if p != nil && p.DeadLink {
		return false, nil
	}
	return r.links[h.ID()], nil
}

func (r *FakeRadio) CancelConnection(_ context.Context, id string) (device.Handle, error) {
	r.mu.Lock()
	r.cancels[id]++
	p := r.peripherals[id]
	if p != nil && p.CancelErr != nil {
		r.mu.Unlock()
		return device.Handle{}, p.CancelErr
	}
	wasLinked := r.links[id]
	r.mu.Unlock()

	name := ""
	if p != nil {
		name = p.Name
	}
	h := device.NewHandle(id, name)
	if wasLinked {
		// a cancelled link reports its disconnect like the platform stack does
		r.teardown(id, h, nil)
	}
	return h, nil
}

func (r *FakeRadio) OnDisconnected(id string, cb func(device.Handle, error)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.token++
	tok := r.token
	if r.disconnectSubs[id] == nil {
		r.disconnectSubs[id] = make(map[int]func(device.Handle, error))
	}
	r.disconnectSubs[id][tok] = cb
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.disconnectSubs[id], tok)
	}
}

// Drop simulates an unsolicited link loss
func (r *FakeRadio) Drop(id string) {
	r.mu.Lock()
	name := ""
	if p := r.peripherals[id]; p != nil {
		name = p.Name
	}
	r.mu.Unlock()
	r.teardown(id, device.NewHandle(id, name), device.NewError(device.LinkDropped, "peripheral disconnected", nil))
}

// teardown marks the link down, fails active monitors and fires disconnect listeners
func (r *FakeRadio) teardown(id string, h device.Handle, cause error) {
	r.mu.Lock()
	r.links[id] = false
	var failed []*fakeMonitor
	prefix := id + "|"
	for key, subs := range r.monitors {
		if len(key) < len(prefix) || key[:len(prefix)] != prefix {
			continue
		}
		for _, m := range subs {
			failed = append(failed, m)
		}
		delete(r.monitors, key)
	}
	listeners := make([]func(device.Handle, error), 0, len(r.disconnectSubs[id]))
	for _, cb := range r.disconnectSubs[id] {
		listeners = append(listeners, cb)
	}
	r.mu.Unlock()

	monitorErr := cause
	if monitorErr == nil {
		monitorErr = device.NewError(device.NotConnected, "connection cancelled", nil)
	}
	for _, m := range failed {
		m.callback("", monitorErr)
	}
	for _, cb := range listeners {
		cb(h, cause)
	}
}

func (r *FakeRadio) ConnectCount(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connects[id]
}

func (r *FakeRadio) CancelCount(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancels[id]
}

func (r *FakeRadio) IsLinked(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.links[id]
}

// ----------------------------
// GATT
// ----------------------------

func (r *FakeRadio) linked(id string) (*FakePeripheral, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.links[id] {
		return nil, device.NewError(device.NotConnected, id, nil)
	}
	return r.peripherals[id], nil
}

func (r *FakeRadio) DiscoverServices(_ context.Context, h device.Handle) (device.Handle, error) {
	p, err := r.linked(h.ID())
	if err != nil {
		return device.Handle{}, err
	}
	if p.DiscoverErr != nil {
		return device.Handle{}, p.DiscoverErr
	}
	return h, nil
}

func (r *FakeRadio) ReadCharacteristic(_ context.Context, h device.Handle, _, charUUID string) (device.Value, error) {
	p, err := r.linked(h.ID())
	if err != nil {
		return "", err
	}
	if p.ReadErr != nil {
		return "", p.ReadErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return p.Values[device.NormalizeUUID(charUUID)], nil
}

func (r *FakeRadio) WriteCharacteristicWithResponse(_ context.Context, h device.Handle, serviceUUID, charUUID string, v device.Value) error {
	p, err := r.linked(h.ID())
	if err != nil {
		return err
	}
	if p.WriteErr != nil {
		return p.WriteErr
	}

	r.mu.Lock()
	r.writes = append(r.writes, FakeWrite{DeviceID: h.ID(), ServiceUUID: serviceUUID, CharUUID: charUUID, Value: v})
	ack := p.Ack
	delay := p.AckDelay
	r.mu.Unlock()

	if ack != nil && device.SameUUID(charUUID, device.SendConfigCharUUID) {
		value := *ack
		go func() {
			if delay > 0 {
				time.Sleep(delay)
			}
			r.Notify(h.ID(), device.NotificationCharUUID, value)
		}()
	}
	return nil
}

func (r *FakeRadio) MonitorCharacteristic(h device.Handle, _, charUUID string, cb device.ValueHandler) (device.Subscription, error) {
	if _, err := r.linked(h.ID()); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.token++
	key := monitorKey(h.ID(), charUUID)
	if r.monitors[key] == nil {
		r.monitors[key] = make(map[int]*fakeMonitor)
	}
	m := &fakeMonitor{radio: r, key: key, token: r.token, callback: cb}
	r.monitors[key][m.token] = m
	return m, nil
}

// Notify delivers a notification to every monitor of the characteristic
func (r *FakeRadio) Notify(id, charUUID string, v device.Value) {
	for _, m := range r.monitorsFor(id, charUUID) {
		m.callback(v, nil)
	}
}

// NotifyError delivers an asynchronous error to every monitor of the characteristic
func (r *FakeRadio) NotifyError(id, charUUID string, err error) {
	for _, m := range r.monitorsFor(id, charUUID) {
		m.callback("", err)
	}
}

func (r *FakeRadio) monitorsFor(id, charUUID string) []*fakeMonitor {
	r.mu.Lock()
	defer r.mu.Unlock()
	subs := r.monitors[monitorKey(id, charUUID)]
	out := make([]*fakeMonitor, 0, len(subs))
	for _, m := range subs {
		out = append(out, m)
	}
	return out
}

// ActiveMonitors counts live monitors on a characteristic
func (r *FakeRadio) ActiveMonitors(id, charUUID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.monitors[monitorKey(id, charUUID)])
}

// Writes returns every recorded write
func (r *FakeRadio) Writes() []FakeWrite {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]FakeWrite(nil), r.writes...)
}

var _ device.Radio = (*FakeRadio)(nil)

package device

import (
	"context"
	"time"
)

// PowerState mirrors the host radio power state
type PowerState string

const (
	PowerUnknown      PowerState = "unknown"
	PowerResetting    PowerState = "resetting"
	PowerUnsupported  PowerState = "unsupported"
	PowerUnauthorized PowerState = "unauthorized"
	PowerOff          PowerState = "powered_off"
	PowerOn           PowerState = "powered_on"
)

// Advertisement is a single sighting delivered by a radio scan
type Advertisement struct {
	ID               string
	LocalName        string
	ManufacturerData []byte
	Services         []string
	RSSI             int
}

// Handle identifies a connected (or formerly connected) peripheral.
// Handles are values; the radio keeps the underlying link.
type Handle struct {
	id   string
	name string
}

// NewHandle creates a handle for the given peripheral id
func NewHandle(id, name string) Handle {
	return Handle{id: id, name: name}
}

func (h Handle) ID() string   { return h.id }
func (h Handle) Name() string { return h.name }

// IsZero reports whether the handle refers to no peripheral
func (h Handle) IsZero() bool { return h.id == "" }

// Subscription is an active characteristic monitor
type Subscription interface {
	// Remove stops delivery. Safe to call more than once.
	Remove()
}

// ScanOptions configures a radio scan
type ScanOptions struct {
	AllowDuplicates bool
}

// ConnectOptions configures a single connect attempt
type ConnectOptions struct {
	Timeout time.Duration
}

// AdvertisementHandler receives scan results. A non-nil error reports a scan failure;
// the scan is over once it is delivered.
type AdvertisementHandler func(adv *Advertisement, err error)

// ValueHandler receives characteristic notifications or an asynchronous monitor error
type ValueHandler func(v Value, err error)

// PowerStateReader reports the host radio power state
type PowerStateReader interface {
	PowerState(ctx context.Context) (PowerState, error)
	OnPowerStateChange(cb func(PowerState)) (unsubscribe func())
}

// Scanner starts and stops radio discovery
type Scanner interface {
	StartScan(ctx context.Context, serviceFilter []string, opts ScanOptions, onDevice AdvertisementHandler) error
	StopScan() error
}

// Connector owns link establishment and teardown
type Connector interface {
	Connect(ctx context.Context, id string, opts ConnectOptions) (Handle, error)
	IsConnected(ctx context.Context, h Handle) (bool, error)
	CancelConnection(ctx context.Context, id string) (Handle, error)
	OnDisconnected(id string, cb func(h Handle, err error)) (unsubscribe func())
}

// GATT covers characteristic level operations over an established link
type GATT interface {
	DiscoverServices(ctx context.Context, h Handle) (Handle, error)
	ReadCharacteristic(ctx context.Context, h Handle, serviceUUID, charUUID string) (Value, error)
	WriteCharacteristicWithResponse(ctx context.Context, h Handle, serviceUUID, charUUID string, v Value) error
	MonitorCharacteristic(h Handle, serviceUUID, charUUID string, cb ValueHandler) (Subscription, error)
}

// Radio is the complete capability surface the lifecycle core calls into
type Radio interface {
	PowerStateReader
	Scanner
	Connector
	GATT
}

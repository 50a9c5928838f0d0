// Package notify is the user-facing error channel: dismissible notifications
// for transient failures and setup redirects for fatal ones.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/potlink/internal/device"
	"github.com/srg/potlink/internal/ringchan"
)

// DefaultCapacity is the number of undelivered notifications kept before the oldest is dropped
const DefaultCapacity = 32

type Kind string

const (
	KindInfo    Kind = "info"
	KindWarning Kind = "warning"
	KindError   Kind = "error"
)

// Redirect names the screen the user should be sent back to
type Redirect string

const (
	RedirectNone            Redirect = ""
	RedirectEnableBluetooth Redirect = "enable_bluetooth"
	RedirectRestartSetup    Redirect = "restart_setup"
	RedirectDeviceSelection Redirect = "device_selection"
)

// Notification is one user-visible message
type Notification struct {
	Kind        Kind      `json:"kind"`
	Message     string    `json:"message"`
	Dismissible bool      `json:"dismissible"`
	Redirect    Redirect  `json:"redirect,omitempty"`
	ErrorKind   string    `json:"errorKind,omitempty"`
	At          time.Time `json:"at"`
	Err         error     `json:"-"`
}

// FromError maps a failure onto its user-facing treatment
func FromError(err error) Notification {
	n := Notification{Kind: KindError, Dismissible: true, Err: err, At: time.Now()}
	if err == nil {
		n.Kind = KindInfo
		return n
	}
	if errors.Is(err, context.Canceled) {
		n.Kind = KindInfo
		n.Message = "Operation cancelled."
		return n
	}

	kind := device.KindOf(err)
	n.ErrorKind = string(kind)
	switch kind {
	case device.RadioUnavailable:
		n.Message = "Bluetooth is unavailable. Turn Bluetooth on and allow access to continue."
		n.Dismissible = false
		n.Redirect = RedirectEnableBluetooth
	case device.IdentityMissing:
		n.Message = "No ID found. Please restart your pot and restart the setup process."
		n.Dismissible = false
		n.Redirect = RedirectRestartSetup
	case device.DeviceRejectedConfig:
		n.Message = "The SMARTPot failed to parse data correctly and returned an error."
		n.Dismissible = false
		n.Redirect = RedirectRestartSetup
	case device.LinkDropped:
		n.Kind = KindWarning
		n.Message = "Connection to the pot was lost."
	case device.ConnectTimeout:
		n.Message = "The pot did not respond in time. Make sure it is nearby and try again."
	case device.AckTimeout:
		n.Message = "The pot did not confirm the configuration. Try again."
	default:
		n.Message = err.Error()
	}
	return n
}

// Channel delivers notifications to a single consumer, dropping the oldest when full
type Channel struct {
	ring   *ringchan.RingChannel[Notification]
	logger *logrus.Logger
}

func NewChannel(capacity int, logger *logrus.Logger) *Channel {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Channel{ring: ringchan.New[Notification](capacity), logger: logger}
}

// Report publishes the user-facing notification for err
func (c *Channel) Report(err error) {
	if err == nil {
		return
	}
	c.Publish(FromError(err))
}

// Publish queues n and logs it
func (c *Channel) Publish(n Notification) {
	if n.At.IsZero() {
		n.At = time.Now()
	}
	entry := c.logger.WithFields(logrus.Fields{
		"kind":     n.Kind,
		"redirect": n.Redirect,
	})
	if n.Err != nil {
		entry = entry.WithError(n.Err)
	}
	switch n.Kind {
	case KindError:
		entry.Error(n.Message)
	case KindWarning:
		entry.Warn(n.Message)
	default:
		entry.Info(n.Message)
	}
	if c.ring.Send(n) {
		c.logger.Debug("Notification queue full, dropped oldest")
	}
}

// C returns the receive channel
func (c *Channel) C() <-chan Notification {
	return c.ring.C()
}

// Pending drains whatever is queued without blocking
func (c *Channel) Pending() []Notification {
	var out []Notification
	for {
		n, ok := c.ring.TryReceive()
		if !ok {
			return out
		}
		out = append(out, n)
	}
}

// Close stops delivery; later publishes are dropped.
// No Publish may run concurrently with Close.
func (c *Channel) Close() {
	c.ring.Close()
}

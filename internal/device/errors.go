package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies failures surfaced by the lifecycle core
type ErrorKind string

const (
	RadioUnavailable     ErrorKind = "radio_unavailable"
	ConnectTimeout       ErrorKind = "connect_timeout"
	ConnectFailed        ErrorKind = "connect_failed"
	IdentityMissing      ErrorKind = "identity_missing"
	DeviceRejectedConfig ErrorKind = "device_rejected_config"
	LinkDropped          ErrorKind = "link_dropped"
	UnknownRadioError    ErrorKind = "unknown_radio_error"
	AckTimeout           ErrorKind = "ack_timeout"
	NotConnected         ErrorKind = "not_connected"
	SessionBusy          ErrorKind = "session_busy"
	StaleResult          ErrorKind = "stale_result"
	InvalidPayload       ErrorKind = "invalid_payload"
)

// Error is a typed failure carrying its kind and optional cause
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	s := string(e.Kind)
	if e.Msg != "" {
		s = fmt.Sprintf("%s: %s", s, e.Msg)
	}
	if e.Err != nil {
		s = fmt.Sprintf("%s: %v", s, e.Err)
	}
	return s
}

// Unwrap exposes the cause
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is allows errors.Is to compare Error values by Kind
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Predefined sentinel errors, compare with errors.Is
var (
	ErrRadioUnavailable     = &Error{Kind: RadioUnavailable}
	ErrConnectTimeout       = &Error{Kind: ConnectTimeout}
	ErrConnectFailed        = &Error{Kind: ConnectFailed}
	ErrIdentityMissing      = &Error{Kind: IdentityMissing}
	ErrDeviceRejectedConfig = &Error{Kind: DeviceRejectedConfig}
	ErrLinkDropped          = &Error{Kind: LinkDropped}
	ErrUnknownRadio         = &Error{Kind: UnknownRadioError}
	ErrAckTimeout           = &Error{Kind: AckTimeout}
	ErrNotConnected         = &Error{Kind: NotConnected}
	ErrSessionBusy          = &Error{Kind: SessionBusy}
	ErrStaleResult          = &Error{Kind: StaleResult}
	ErrInvalidPayload       = &Error{Kind: InvalidPayload}
)

// NewError creates a typed error of the given kind wrapping cause
func NewError(kind ErrorKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

// KindOf returns the kind of the first typed error in the chain,
// or UnknownRadioError for untyped failures. Returns "" for nil.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return UnknownRadioError
}

// IsKind reports whether err carries a typed error of the given kind
func IsKind(err error, kind ErrorKind) bool {
	return errors.Is(err, &Error{Kind: kind})
}

// IsRetryable reports whether the caller may restart the failed operation
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case ConnectTimeout, ConnectFailed, LinkDropped, AckTimeout, NotConnected, SessionBusy:
		return true
	default:
		return false
	}
}

// RequiresSetupRestart reports whether the failure should send the user back
// to an earlier setup step rather than offering a retry in place
func RequiresSetupRestart(err error) bool {
	switch KindOf(err) {
	case IdentityMissing, DeviceRejectedConfig:
		return true
	default:
		return false
	}
}

// NormalizeError maps known adapter error strings to the typed taxonomy.
// Returns wrapped errors to preserve original context. Typed errors and
// context errors pass through untouched.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	var typed *Error
	if errors.As(err, &typed) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrConnectTimeout, err)
	}

	msg := err.Error()
	switch {
	case containsIgnoreCase(msg, "is bluetooth turned on"),
		containsIgnoreCase(msg, "bluetooth is turned off"),
		containsIgnoreCase(msg, "powered off"),
		containsIgnoreCase(msg, "unauthorized"),
		containsIgnoreCase(msg, "can't init hci"),
		containsIgnoreCase(msg, "no such device"):
		return fmt.Errorf("%w: %v", ErrRadioUnavailable, err)
	case containsIgnoreCase(msg, "timed out"), containsIgnoreCase(msg, "timeout"):
		return fmt.Errorf("%w: %v", ErrConnectTimeout, err)
	case containsIgnoreCase(msg, "device not connected"),
		containsIgnoreCase(msg, "not connected"):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	case containsIgnoreCase(msg, "disconnected"):
		return fmt.Errorf("%w: %v", ErrLinkDropped, err)
	case containsIgnoreCase(msg, "connection failed"),
		containsIgnoreCase(msg, "can't dial"),
		containsIgnoreCase(msg, "failed to connect"):
		return fmt.Errorf("%w: %v", ErrConnectFailed, err)
	default:
		return fmt.Errorf("%w: %v", ErrUnknownRadio, err)
	}
}

// containsIgnoreCase checks substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

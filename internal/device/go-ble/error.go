package goble

import (
	"regexp"
	"strings"

	"github.com/srg/potlink/internal/device"
)

// CoreBluetooth reports "central manager has invalid state: have=N want=5"
var managerStateRe = regexp.MustCompile(`have=(\d)`)

// coreBluetoothStates indexes CBManagerState values
var coreBluetoothStates = []device.PowerState{
	device.PowerUnknown,
	device.PowerResetting,
	device.PowerUnsupported,
	device.PowerUnauthorized,
	device.PowerOff,
	device.PowerOn,
}

// powerFromError derives the radio power state from a host initialization failure
func powerFromError(err error) device.PowerState {
	if err == nil {
		return device.PowerOn
	}
	msg := strings.ToLower(err.Error())
	if m := managerStateRe.FindStringSubmatch(msg); m != nil {
		if idx := int(m[1][0] - '0'); idx < len(coreBluetoothStates) {
			return coreBluetoothStates[idx]
		}
	}
	switch {
	case strings.Contains(msg, "unauthorized"):
		return device.PowerUnauthorized
	case strings.Contains(msg, "unsupported"), strings.Contains(msg, "no such device"):
		return device.PowerUnsupported
	case strings.Contains(msg, "resetting"):
		return device.PowerResetting
	case device.IsKind(device.NormalizeError(err), device.RadioUnavailable):
		return device.PowerOff
	default:
		return device.PowerUnknown
	}
}

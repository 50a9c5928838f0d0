package provision

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/srg/potlink/internal/device"
	"github.com/srg/potlink/internal/plants"
)

// MaxDeviceNameLength bounds SyncPayload.DeviceName in characters
const MaxDeviceNameLength = 20

// SyncPayload is the configuration synced to a pot in one exchange
type SyncPayload struct {
	DeviceName        string
	Plant             string
	MeasurementSystem plants.MeasurementSystem
}

// FactoryDefaults is the payload a factory reset syncs
func FactoryDefaults() SyncPayload {
	return SyncPayload{
		DeviceName:        "SMARTPot",
		Plant:             plants.DefaultProfile,
		MeasurementSystem: plants.Imperial,
	}
}

// Validate checks the payload against the plant table
func (p SyncPayload) Validate(table *plants.Table) error {
	name := strings.TrimSpace(p.DeviceName)
	if name == "" {
		return device.NewError(device.InvalidPayload, "device name is required", nil)
	}
	if n := utf8.RuneCountInString(p.DeviceName); n > MaxDeviceNameLength {
		return device.NewError(device.InvalidPayload,
			fmt.Sprintf("device name is %d characters, maximum is %d", n, MaxDeviceNameLength), nil)
	}
	if table == nil {
		table = plants.Builtin()
	}
	if !table.Has(p.Plant) {
		return device.NewError(device.InvalidPayload, fmt.Sprintf("unknown plant profile %q", p.Plant), nil)
	}
	if !p.MeasurementSystem.Valid() {
		return device.NewError(device.InvalidPayload, fmt.Sprintf("unknown measurement system %d", int(p.MeasurementSystem)), nil)
	}
	return nil
}

// configMessage is the JSON document written to the send-config characteristic
type configMessage struct {
	DeviceName string `json:"deviceName"`
	Plant      string `json:"plant"`
	MesSys     int    `json:"mes_sys"`
}

func (p SyncPayload) encode() (device.Value, error) {
	return device.EncodeJSON(configMessage{
		DeviceName: p.DeviceName,
		Plant:      p.Plant,
		MesSys:     int(p.MeasurementSystem),
	})
}

// ackMessage is the JSON document the pot notifies after a config write
type ackMessage struct {
	Success bool `json:"success"`
}

func decodeAck(v device.Value) (ackMessage, error) {
	var ack ackMessage
	if v.IsEmpty() {
		return ack, device.NewError(device.InvalidPayload, "no response received", nil)
	}
	if err := v.DecodeJSON(&ack); err != nil {
		return ack, err
	}
	return ack, nil
}

// Package sensors decodes and monitors the pot's sensor snapshot characteristic.
package sensors

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/srg/potlink/internal/device"
	"github.com/srg/potlink/internal/plants"
)

// Sensor record names reported by the pot firmware
const (
	SensorHumidityTemperature = "Humidity and Temperature"
	SensorLight               = "Light"
	SensorSoilMoisture        = "Soil Moisture"
)

// MoistureLevel is the human reading of a raw soil moisture value
type MoistureLevel string

const (
	VeryDry   MoistureLevel = "Very Dry"
	Dry       MoistureLevel = "Dry"
	Damp      MoistureLevel = "Damp"
	Wet       MoistureLevel = "Wet"
	VeryWet   MoistureLevel = "Very Wet"
	Saturated MoistureLevel = "Saturated"
)

// ClassifyMoisture maps a raw soil value onto its level
func ClassifyMoisture(raw float64) MoistureLevel {
	switch {
	case raw <= 200:
		return VeryDry
	case raw <= 700:
		return Dry
	case raw <= 1000:
		return Damp
	case raw <= 1300:
		return Wet
	case raw <= 1600:
		return VeryWet
	default:
		return Saturated
	}
}

// Reading is one measured quantity; Value is nil when the sensor reported nothing usable
type Reading struct {
	Connected bool     `json:"connected"`
	Value     *float64 `json:"value"`
}

// Present reports whether the reading carries a value
func (r Reading) Present() bool {
	return r.Value != nil
}

// Snapshot is one decoded sensor report
type Snapshot struct {
	Temperature   Reading       `json:"temperature"`
	Humidity      Reading       `json:"humidity"`
	Light         Reading       `json:"light"`
	Moisture      Reading       `json:"moisture"`
	MoistureLevel MoistureLevel `json:"moistureLevel,omitempty"`
	ReceivedAt    time.Time     `json:"receivedAt"`
}

type rawRecord struct {
	Name      string          `json:"name"`
	Connected bool            `json:"connected"`
	Data      json.RawMessage `json:"data"`
}

type rawData struct {
	Humidity    *float64 `json:"humidity"`
	Temperature *float64 `json:"temperature"`
	Light       *float64 `json:"light"`
	Moisture    *float64 `json:"moisture"`
}

// Decode parses a framed sensor report. Unknown sensor names are ignored.
// Temperature, humidity and light are rounded up; moisture is kept raw.
func Decode(v device.Value, receivedAt time.Time) (Snapshot, error) {
	var records []rawRecord
	if err := v.DecodeJSON(&records); err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{ReceivedAt: receivedAt}
	for _, rec := range records {
		var data rawData
		if len(rec.Data) > 0 && string(rec.Data) != "null" {
			if err := json.Unmarshal(rec.Data, &data); err != nil {
				return Snapshot{}, device.NewError(device.InvalidPayload, fmt.Sprintf("sensor %q", rec.Name), err)
			}
		}
		switch rec.Name {
		case SensorHumidityTemperature:
			snap.Humidity = reading(rec.Connected, data.Humidity, true)
			snap.Temperature = reading(rec.Connected, data.Temperature, true)
		case SensorLight:
			snap.Light = reading(rec.Connected, data.Light, true)
		case SensorSoilMoisture:
			snap.Moisture = reading(rec.Connected, data.Moisture, false)
			if snap.Moisture.Present() {
				snap.MoistureLevel = ClassifyMoisture(*snap.Moisture.Value)
			}
		}
	}
	return snap, nil
}

func reading(connected bool, v *float64, ceil bool) Reading {
	r := Reading{Connected: connected}
	if v == nil || math.IsNaN(*v) {
		return r
	}
	val := *v
	if ceil {
		val = math.Ceil(val)
	}
	r.Value = &val
	return r
}

// Check compares the snapshot against a plant profile and returns the
// out-of-range findings, empty when the plant is within its thresholds
func (s Snapshot) Check(profile plants.Profile, units plants.MeasurementSystem) []string {
	var findings []string
	if s.Moisture.Present() {
		m := *s.Moisture.Value
		switch {
		case m < profile.Moisture.Min:
			findings = append(findings, fmt.Sprintf("soil is too dry for %s (%s)", profile.Name, s.MoistureLevel))
		case m > profile.Moisture.Max:
			findings = append(findings, fmt.Sprintf("soil is too wet for %s (%s)", profile.Name, s.MoistureLevel))
		}
	}
	if s.Light.Present() {
		l := *s.Light.Value
		switch {
		case l < profile.Light.Min:
			findings = append(findings, fmt.Sprintf("not enough light for %s", profile.Name))
		case l > profile.Light.Max:
			findings = append(findings, fmt.Sprintf("too much light for %s", profile.Name))
		}
	}
	if s.Temperature.Present() {
		c := *s.Temperature.Value
		if units == plants.Imperial {
			c = (c - 32) * 5 / 9
		}
		switch {
		case c < profile.Temperature.Min:
			findings = append(findings, fmt.Sprintf("too cold for %s", profile.Name))
		case c > profile.Temperature.Max:
			findings = append(findings, fmt.Sprintf("too warm for %s", profile.Name))
		}
	}
	return findings
}

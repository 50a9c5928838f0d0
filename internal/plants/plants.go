// Package plants holds the static plant-threshold table and measurement units synced to a pot.
package plants

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// MeasurementSystem is the unit code sent to the pot as mes_sys
type MeasurementSystem int

const (
	Imperial MeasurementSystem = 0
	Metric   MeasurementSystem = 1
)

func (m MeasurementSystem) String() string {
	switch m {
	case Imperial:
		return "imperial"
	case Metric:
		return "metric"
	default:
		return fmt.Sprintf("MeasurementSystem(%d)", int(m))
	}
}

// Valid reports whether m is a known unit code
func (m MeasurementSystem) Valid() bool {
	return m == Imperial || m == Metric
}

// ParseMeasurementSystem accepts imperial/metric (also fahrenheit/celsius) or the numeric code
func ParseMeasurementSystem(s string) (MeasurementSystem, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "imperial", "fahrenheit", "f", "0":
		return Imperial, nil
	case "metric", "celsius", "c", "1":
		return Metric, nil
	default:
		return 0, fmt.Errorf("unknown measurement system %q (must be imperial or metric)", s)
	}
}

// Range is an inclusive threshold band
type Range struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// Contains reports whether v lies inside the band
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// Profile is one entry of the plant-threshold table
type Profile struct {
	Name        string `yaml:"name"`
	Moisture    Range  `yaml:"moisture"`
	Light       Range  `yaml:"light"`
	Temperature Range  `yaml:"temperature"`
}

// DefaultProfile is the profile a factory reset restores
const DefaultProfile = "Generic"

//go:embed plants.yaml
var tableYAML []byte

// Table is an ordered, name-indexed set of profiles
type Table struct {
	profiles []Profile
	byName   map[string]int
}

// Parse decodes a plant table document
func Parse(data []byte) (*Table, error) {
	var doc struct {
		Plants []Profile `yaml:"plants"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse plant table: %w", err)
	}
	t := &Table{byName: make(map[string]int, len(doc.Plants))}
	for _, p := range doc.Plants {
		if p.Name == "" {
			return nil, fmt.Errorf("plant table entry without a name")
		}
		if _, dup := t.byName[p.Name]; dup {
			return nil, fmt.Errorf("duplicate plant profile %q", p.Name)
		}
		t.byName[p.Name] = len(t.profiles)
		t.profiles = append(t.profiles, p)
	}
	return t, nil
}

var builtin = mustParse(tableYAML)

func mustParse(data []byte) *Table {
	t, err := Parse(data)
	if err != nil {
		panic(err)
	}
	return t
}

// Builtin returns the embedded table
func Builtin() *Table {
	return builtin
}

// Get looks up a profile by its exact key
func (t *Table) Get(name string) (Profile, bool) {
	i, ok := t.byName[name]
	if !ok {
		return Profile{}, false
	}
	return t.profiles[i], true
}

// Has reports whether name is a known profile key
func (t *Table) Has(name string) bool {
	_, ok := t.byName[name]
	return ok
}

// Names returns the profile keys in table order
func (t *Table) Names() []string {
	out := make([]string, len(t.profiles))
	for i, p := range t.profiles {
		out[i] = p.Name
	}
	return out
}

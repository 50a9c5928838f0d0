package testutils

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/srg/potlink/internal/device"
)

// DefaultIdentity is the raw identity served by pots built without WithIdentity
var DefaultIdentity = []byte{
	0x6e, 0x40, 0x00, 0x01, 0xb5, 0xa3, 0xf3, 0x93,
	0xe0, 0xa9, 0xe5, 0x0e, 0x24, 0xdc, 0xca, 0x9e,
}

// DefaultIdentityString is the canonical form of DefaultIdentity
const DefaultIdentityString = "6e400001-b5a3-f393-e0a9-e50e24dcca9e"

// FakePotBuilder builds scripted SMARTPot peripherals
type FakePotBuilder struct {
	p *FakePeripheral
}

// NewFakePot starts a pot with the default identity and an accepting ack
func NewFakePot(id string) *FakePotBuilder {
	ack := MustAck(true)
	return &FakePotBuilder{p: &FakePeripheral{
		ID:   id,
		Name: "SMARTPot",
		Values: map[string]device.Value{
			device.NormalizeUUID(device.ReadIDCharUUID): device.EncodeValue(DefaultIdentity),
		},
		Ack: &ack,
	}}
}

func (b *FakePotBuilder) WithName(name string) *FakePotBuilder {
	b.p.Name = name
	return b
}

// WithIdentity sets the raw identity bytes; nil clears the characteristic
func (b *FakePotBuilder) WithIdentity(raw []byte) *FakePotBuilder {
	key := device.NormalizeUUID(device.ReadIDCharUUID)
	if raw == nil {
		delete(b.p.Values, key)
		return b
	}
	b.p.Values[key] = device.EncodeValue(raw)
	return b
}

// WithValue sets a raw characteristic value
func (b *FakePotBuilder) WithValue(charUUID string, v device.Value) *FakePotBuilder {
	b.p.Values[device.NormalizeUUID(charUUID)] = v
	return b
}

// WithSensorsJSON serves a sensor snapshot on the read characteristic
func (b *FakePotBuilder) WithSensorsJSON(jsonStr string) *FakePotBuilder {
	return b.WithValue(device.ReadCharUUID, device.EncodeValue([]byte(jsonStr)))
}

// WithAck sets the acknowledgement emitted after config writes
func (b *FakePotBuilder) WithAck(success bool) *FakePotBuilder {
	ack := MustAck(success)
	b.p.Ack = &ack
	return b
}

// WithRawAck sets an arbitrary acknowledgement value
func (b *FakePotBuilder) WithRawAck(v device.Value) *FakePotBuilder {
	b.p.Ack = &v
	return b
}

// WithoutAck makes the pot stay silent after config writes
func (b *FakePotBuilder) WithoutAck() *FakePotBuilder {
	b.p.Ack = nil
	return b
}

func (b *FakePotBuilder) WithAckDelay(d time.Duration) *FakePotBuilder {
	b.p.AckDelay = d
	return b
}

func (b *FakePotBuilder) WithConnectError(err error) *FakePotBuilder {
	b.p.ConnectErr = err
	return b
}

// WithConnectGate blocks connects until gate is closed
func (b *FakePotBuilder) WithConnectGate(gate chan struct{}) *FakePotBuilder {
	b.p.ConnectGate = gate
	return b
}

func (b *FakePotBuilder) WithDeadLink() *FakePotBuilder {
	b.p.DeadLink = true
	return b
}

func (b *FakePotBuilder) WithWriteError(err error) *FakePotBuilder {
	b.p.WriteErr = err
	return b
}

func (b *FakePotBuilder) WithCancelError(err error) *FakePotBuilder {
	b.p.CancelErr = err
	return b
}

func (b *FakePotBuilder) Build() *FakePeripheral {
	return b.p
}

// MustAck frames an acknowledgement document
func MustAck(success bool) device.Value {
	v, err := device.EncodeJSON(map[string]bool{"success": success})
	if err != nil {
		panic(err)
	}
	return v
}

// DecodeWrite unframes a recorded config write into a generic document
func DecodeWrite(w FakeWrite) map[string]any {
	raw, err := w.Value.Bytes()
	if err != nil {
		panic(fmt.Sprintf("DecodeWrite: %v", err))
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		panic(fmt.Sprintf("DecodeWrite: %v", err))
	}
	return out
}

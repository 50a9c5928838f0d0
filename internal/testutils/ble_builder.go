//go:build test

package testutils

import (
	"sync"

	"github.com/go-ble/ble"
	"github.com/srg/potlink/internal/device"
	"github.com/srg/potlink/internal/testutils/mocks"
	"github.com/stretchr/testify/mock"
)

// AdvertisementBuilder builds mocked go-ble sightings
type AdvertisementBuilder struct {
	address   string
	name      string
	rssi      int
	services  []string
	manufData []byte
}

func NewAdvertisementBuilder() *AdvertisementBuilder {
	return &AdvertisementBuilder{address: "AA:BB:CC:DD:EE:FF", rssi: -60}
}

func (b *AdvertisementBuilder) WithAddress(addr string) *AdvertisementBuilder {
	b.address = addr
	return b
}

func (b *AdvertisementBuilder) WithName(name string) *AdvertisementBuilder {
	b.name = name
	return b
}

func (b *AdvertisementBuilder) WithRSSI(rssi int) *AdvertisementBuilder {
	b.rssi = rssi
	return b
}

func (b *AdvertisementBuilder) WithServices(uuids ...string) *AdvertisementBuilder {
	b.services = append(b.services, uuids...)
	return b
}

func (b *AdvertisementBuilder) WithManufacturerData(data []byte) *AdvertisementBuilder {
	b.manufData = data
	return b
}

// Build creates a MockAdvertisement answering every accessor
func (b *AdvertisementBuilder) Build() *mocks.MockAdvertisement {
	services := make([]ble.UUID, 0, len(b.services))
	for _, s := range b.services {
		services = append(services, ble.MustParse(s))
	}
	adv := &mocks.MockAdvertisement{}
	adv.On("Addr").Return(ble.NewAddr(b.address)).Maybe()
	adv.On("LocalName").Return(b.name).Maybe()
	adv.On("RSSI").Return(b.rssi).Maybe()
	adv.On("ManufacturerData").Return(b.manufData).Maybe()
	adv.On("Services").Return(services).Maybe()
	return adv
}

// BLEPotBuilder builds a mocked go-ble client serving the SMARTPot profile
type BLEPotBuilder struct {
	name     string
	values   map[string][]byte
	readErr  error
	writeErr error
	ack      []byte
}

func NewBLEPot() *BLEPotBuilder {
	return &BLEPotBuilder{name: "SMARTPot", values: make(map[string][]byte)}
}

func (b *BLEPotBuilder) WithValue(charUUID string, data []byte) *BLEPotBuilder {
	b.values[device.NormalizeUUID(charUUID)] = data
	return b
}

func (b *BLEPotBuilder) WithReadError(err error) *BLEPotBuilder {
	b.readErr = err
	return b
}

func (b *BLEPotBuilder) WithWriteError(err error) *BLEPotBuilder {
	b.writeErr = err
	return b
}

// WithAck makes every config write notify data on the notification characteristic
func (b *BLEPotBuilder) WithAck(data []byte) *BLEPotBuilder {
	b.ack = data
	return b
}

// BLEPot is a built mock client plus its profile and disconnect control
type BLEPot struct {
	Client       *mocks.MockGATTClient
	Profile      *ble.Profile
	disconnected chan struct{}
	once         sync.Once

	mu       sync.Mutex
	handlers map[string]ble.NotificationHandler
}

// Char returns the profile characteristic with the given UUID
func (p *BLEPot) Char(charUUID string) *ble.Characteristic {
	for _, svc := range p.Profile.Services {
		for _, c := range svc.Characteristics {
			if device.SameUUID(c.UUID.String(), charUUID) {
				return c
			}
		}
	}
	return nil
}

// Disconnect closes the host disconnect channel
func (p *BLEPot) Disconnect() {
	p.once.Do(func() { close(p.disconnected) })
}

// Notify invokes the subscribed notification handler of a characteristic
func (p *BLEPot) Notify(charUUID string, data []byte) bool {
	p.mu.Lock()
	h := p.handlers[device.NormalizeUUID(charUUID)]
	p.mu.Unlock()
	if h == nil {
		return false
	}
	h(data)
	return true
}

func (b *BLEPotBuilder) Build() *BLEPot {
	props := map[string]ble.Property{
		device.ReadCharUUID:         ble.CharRead | ble.CharNotify,
		device.SendConfigCharUUID:   ble.CharWrite,
		device.NotificationCharUUID: ble.CharNotify,
		device.ReadIDCharUUID:       ble.CharRead,
	}
	svc := &ble.Service{UUID: ble.MustParse(device.ServiceUUID)}
	for _, u := range []string{device.ReadCharUUID, device.SendConfigCharUUID, device.NotificationCharUUID, device.ReadIDCharUUID} {
		svc.Characteristics = append(svc.Characteristics, &ble.Characteristic{UUID: ble.MustParse(u), Property: props[u]})
	}

	pot := &BLEPot{
		Client:       &mocks.MockGATTClient{},
		Profile:      &ble.Profile{Services: []*ble.Service{svc}},
		disconnected: make(chan struct{}),
		handlers:     make(map[string]ble.NotificationHandler),
	}
	client := pot.Client
	client.On("Name").Return(b.name).Maybe()
	client.On("DiscoverProfile", true).Return(pot.Profile, nil).Maybe()
	client.On("CancelConnection").Return(nil).Maybe()
	client.On("Disconnected").Return((<-chan struct{})(pot.disconnected)).Maybe()

	for _, c := range svc.Characteristics {
		key := device.NormalizeUUID(c.UUID.String())
		if b.readErr != nil {
			client.On("ReadCharacteristic", c).Return(nil, b.readErr).Maybe()
		} else {
			client.On("ReadCharacteristic", c).Return(b.values[key], nil).Maybe()
		}
		client.On("Subscribe", c, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
			pot.mu.Lock()
			pot.handlers[key] = args.Get(2).(ble.NotificationHandler)
			pot.mu.Unlock()
		}).Return(nil).Maybe()
		client.On("Unsubscribe", c, mock.Anything).Run(func(mock.Arguments) {
			pot.mu.Lock()
			delete(pot.handlers, key)
			pot.mu.Unlock()
		}).Return(nil).Maybe()
	}

	write := client.On("WriteCharacteristic", pot.Char(device.SendConfigCharUUID), mock.Anything, false)
	if b.writeErr != nil {
		write.Return(b.writeErr).Maybe()
	} else {
		ack := b.ack
		write.Run(func(mock.Arguments) {
			if ack != nil {
				go pot.Notify(device.NotificationCharUUID, ack)
			}
		}).Return(nil).Maybe()
	}
	return pot
}

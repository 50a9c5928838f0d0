package goble

import (
	"github.com/go-ble/ble"
	"github.com/srg/potlink/internal/device"
)

// toAdvertisement converts a go-ble sighting; the address is the peripheral id
func toAdvertisement(adv ble.Advertisement) device.Advertisement {
	services := make([]string, 0, len(adv.Services()))
	for _, u := range adv.Services() {
		services = append(services, u.String())
	}
	return device.Advertisement{
		ID:               adv.Addr().String(),
		LocalName:        adv.LocalName(),
		ManufacturerData: adv.ManufacturerData(),
		Services:         services,
		RSSI:             adv.RSSI(),
	}
}

// matchesFilter reports whether adv advertises any filtered service.
// An empty filter matches everything.
func matchesFilter(adv device.Advertisement, filter []string) bool {
	if len(filter) == 0 {
		return true
	}
	for _, want := range filter {
		for _, got := range adv.Services {
			if device.SameUUID(want, got) {
				return true
			}
		}
	}
	return false
}

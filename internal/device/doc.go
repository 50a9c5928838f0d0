// Package device defines the radio capability surface consumed by the pot
// lifecycle core and the types shared across it.
//
// This package provides:
//   - The Radio interface (power state, scan, connect, GATT read/write/monitor)
//   - Handle, Subscription and Advertisement value types
//   - Base64 characteristic value framing
//   - The SMARTPot protocol constants (vendor service and its characteristics)
//   - The error taxonomy shared by the session, scanner and sync runner
//
// Concrete radios live in sub-packages; see internal/device/go-ble.
package device

//go:build !darwin && !linux

package goble

import (
	"fmt"
	"runtime"

	"github.com/go-ble/ble"
)

func newHostDevice() (ble.Device, error) {
	return nil, fmt.Errorf("bluetooth is unsupported on %s", runtime.GOOS)
}

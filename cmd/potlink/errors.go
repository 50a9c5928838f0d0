package main

import (
	"errors"
	"fmt"

	"github.com/srg/potlink/internal/device"
	"github.com/srg/potlink/internal/notify"
	"github.com/srg/potlink/internal/pot"
)

// ErrInterrupted reports a command stopped by Ctrl+C before it finished
var ErrInterrupted = errors.New("interrupted")

// FormatUserError renders err for the terminal: typed lifecycle failures get
// their user message and the suggested next step, anything else prints as is.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, pot.ErrNotPaired):
		return fmt.Sprintf("%v (run 'potlink devices' to list paired pots)", err)
	case errors.Is(err, ErrInterrupted):
		return "interrupted by user"
	}
	var typed *device.Error
	if !errors.As(err, &typed) {
		return err.Error()
	}
	return notify.Format(notify.FromError(err), false)
}

//go:build test

package notify_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/srg/potlink/internal/device"
	"github.com/srg/potlink/internal/notify"
	"github.com/srg/potlink/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		kind        notify.Kind
		dismissible bool
		redirect    notify.Redirect
	}{
		{"radio", device.ErrRadioUnavailable, notify.KindError, false, notify.RedirectEnableBluetooth},
		{"identity", fmt.Errorf("sync: %w", device.ErrIdentityMissing), notify.KindError, false, notify.RedirectRestartSetup},
		{"rejected", device.ErrDeviceRejectedConfig, notify.KindError, false, notify.RedirectRestartSetup},
		{"dropped", device.ErrLinkDropped, notify.KindWarning, true, notify.RedirectNone},
		{"timeout", device.ErrConnectTimeout, notify.KindError, true, notify.RedirectNone},
		{"unknown", errors.New("boom"), notify.KindError, true, notify.RedirectNone},
		{"cancelled", context.Canceled, notify.KindInfo, true, notify.RedirectNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := notify.FromError(tt.err)
			assert.Equal(t, tt.kind, n.Kind)
			assert.Equal(t, tt.dismissible, n.Dismissible, "dismissible flag MUST match the error class")
			assert.Equal(t, tt.redirect, n.Redirect)
			assert.NotEmpty(t, n.Message)
		})
	}
}

func TestChannelDropsOldest(t *testing.T) {
	ch := notify.NewChannel(2, testutils.NewTestHelper(t).Logger)
	defer ch.Close()

	ch.Report(errors.New("first"))
	ch.Report(nil)
	ch.Report(errors.New("second"))
	ch.Report(errors.New("third"))

	pending := ch.Pending()
	require.Len(t, pending, 2, "channel MUST keep only the newest notifications")
	assert.Equal(t, "second", pending[0].Message)
	assert.Equal(t, "third", pending[1].Message)
	assert.Empty(t, ch.Pending())
}

func TestFormat(t *testing.T) {
	line := notify.Format(notify.FromError(device.ErrIdentityMissing), false)
	assert.Equal(t, "ERROR: No ID found. Please restart your pot and restart the setup process. (next: restart the setup from the first step)", line)

	assert.Equal(t, "WARNING: Connection to the pot was lost.", notify.Format(notify.FromError(device.ErrLinkDropped), false))
}

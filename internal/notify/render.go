package notify

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
)

var redirectHints = map[Redirect]string{
	RedirectEnableBluetooth: "enable Bluetooth and retry",
	RedirectRestartSetup:    "restart the setup from the first step",
	RedirectDeviceSelection: "select the pot again",
}

// Format renders n as a single terminal line
func Format(n Notification, colored bool) string {
	label := strings.ToUpper(string(n.Kind))
	if colored {
		switch n.Kind {
		case KindError:
			label = color.New(color.FgRed, color.Bold).Sprint(label)
		case KindWarning:
			label = color.New(color.FgYellow, color.Bold).Sprint(label)
		default:
			label = color.New(color.FgCyan).Sprint(label)
		}
	}
	line := fmt.Sprintf("%s: %s", label, n.Message)
	if hint, ok := redirectHints[n.Redirect]; ok {
		line += fmt.Sprintf(" (next: %s)", hint)
	}
	return line
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/potlink/internal/registry"
	"github.com/srg/potlink/internal/scanner"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for nearby pots",
	Long: `Scan for SMARTPot pots advertising the vendor service and list them.

Pots are reported as they appear (+) and leave (-) while the scan runs.
Only pots seen recently are listed at the end; entries older than the stale
timeout are evicted while the scan runs.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var (
	scanDuration time.Duration
	scanFormat   string
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 10*time.Second, "How long to scan")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json)")
}

func runScan(cmd *cobra.Command, _ []string) error {
	if err := validateFormat(scanFormat); err != nil {
		return err
	}
	if scanDuration <= 0 {
		return fmt.Errorf("invalid duration %s: must be positive", scanDuration)
	}
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	// the burst must outlast the requested duration
	if a.cfg.ScanTimeout < scanDuration {
		a.cfg.ScanTimeout = scanDuration
	}
	if err := a.withRadio(ctx, nil); err != nil {
		return err
	}
	if err := a.waitForPower(ctx); err != nil {
		a.printNotifications()
		return err
	}

	progress := NewCountdownProgressPrinter(a.out, "Scanning for pots", "scanning", scanDuration, a.colored)
	progress.Start()
	timer := time.NewTimer(scanDuration)
	defer timer.Stop()
	events := a.manager.Scanner().Events()
	for waiting := true; waiting; {
		select {
		case <-timer.C:
			waiting = false
		case <-ctx.Done():
			waiting = false
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			// json output stays a single document
			if line := formatEvent(ev); line != "" && scanFormat == "table" {
				progress.Println(line)
			}
		}
	}
	progress.Stop()
	a.printNotifications()

	if status, cause := a.manager.Scanner().Status(); cause != nil {
		a.logger.WithField("status", status).WithError(cause).Warn("Scan ended with an error")
		return cause
	}
	if err := writeDevices(a.out, a.manager.Devices(), scanFormat); err != nil {
		return err
	}
	if errors.Is(ctx.Err(), context.Canceled) && cmd.Context().Err() == nil {
		fmt.Fprintln(a.out, "Scan interrupted")
	}
	return nil
}

// formatEvent renders arrivals and departures; refreshes of known pots print nothing
func formatEvent(ev scanner.DeviceEvent) string {
	switch ev.Type {
	case scanner.EventNew:
		name := ev.Device.DisplayName
		if name == "" {
			name = "(unnamed)"
		}
		return fmt.Sprintf("+ %s %s (%d dBm)", name, ev.Device.ID, ev.Device.RSSI)
	case scanner.EventEvicted:
		return fmt.Sprintf("- %s out of range", ev.Device.ID)
	default:
		return ""
	}
}

func validateFormat(format string) error {
	switch format {
	case "table", "json":
		return nil
	default:
		return fmt.Errorf("invalid format '%s': must be one of [table json]", format)
	}
}

func writeDevices(w io.Writer, devices []registry.DiscoveredDevice, format string) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(devices)
	}
	if len(devices) == 0 {
		fmt.Fprintln(w, "No pots discovered")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tID\tRSSI\tLAST SEEN")
	fmt.Fprintln(tw, strings.Repeat("-", 60))
	for _, d := range devices {
		name := d.DisplayName
		if name == "" {
			name = "(unnamed)"
		}
		if len(name) > 20 {
			name = name[:17] + "..."
		}
		lastSeen := time.Since(d.LastSeen).Truncate(time.Second)
		fmt.Fprintf(tw, "%s\t%s\t%d dBm\t%s ago\n", name, d.ID, d.RSSI, lastSeen)
	}
	return tw.Flush()
}

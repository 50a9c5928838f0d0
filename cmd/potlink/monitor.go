package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/potlink/internal/config"
	"github.com/srg/potlink/internal/plants"
	"github.com/srg/potlink/internal/pot"
	"github.com/srg/potlink/internal/sensors"
	"github.com/srg/potlink/internal/telemetry"
)

// monitorCmd represents the monitor command
var monitorCmd = &cobra.Command{
	Use:   "monitor <device-id>",
	Short: "Stream live sensor readings",
	Long: `Connect to a pot and print each sensor snapshot together with the findings
of its plant profile. With --local-id the paired pot's plant and unit system
are used, otherwise the Generic profile in metric units.

When an MQTT broker is configured (--mqtt-broker or mqtt.broker in the config
file) every snapshot is also published retained on <prefix>/pots/<id>/sensors.`,
	Example: `  potlink monitor AA:BB:CC:DD:EE:FF --local-id 6e400001-b5a3-f393-e0a9-e50e24dcca9e`,
	Args:    cobra.ExactArgs(1),
	RunE:    runMonitor,
}

var (
	monitorLocalID string
	monitorBroker  string
	monitorCount   int
)

func init() {
	monitorCmd.Flags().StringVar(&monitorLocalID, "local-id", "", "Paired pot whose plant profile is checked")
	monitorCmd.Flags().StringVar(&monitorBroker, "mqtt-broker", "", "MQTT broker URL, e.g. tcp://localhost:1883")
	monitorCmd.Flags().IntVar(&monitorCount, "count", 0, "Stop after this many snapshots (0 runs until Ctrl+C)")
}

// snapshotPublisher is the telemetry surface monitor drives
type snapshotPublisher interface {
	PublishSnapshot(msg telemetry.SnapshotMessage) error
	Close() error
}

// TelemetryFactory connects the snapshot publisher (can be overridden in tests)
var TelemetryFactory = func(cfg config.MQTTConfig, logger *logrus.Logger) (snapshotPublisher, error) {
	return telemetry.Connect(cfg, logger)
}

type monitorTarget struct {
	name    string
	profile plants.Profile
	units   plants.MeasurementSystem
}

func runMonitor(cmd *cobra.Command, args []string) error {
	if monitorCount < 0 {
		return fmt.Errorf("invalid count %d: must not be negative", monitorCount)
	}
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	target, err := resolveTarget(cmd.Context(), a)
	if err != nil {
		return err
	}

	if monitorBroker != "" {
		a.cfg.MQTT.Broker = monitorBroker
	}
	var pub snapshotPublisher
	if a.cfg.MQTT.Enabled() {
		pub, err = TelemetryFactory(a.cfg.MQTT, a.logger)
		if err != nil {
			return fmt.Errorf("failed to start telemetry: %w", err)
		}
		defer func() {
			if err := pub.Close(); err != nil {
				a.logger.WithError(err).Warn("Telemetry close failed")
			}
		}()
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()
	if err := a.withRadio(ctx, nil); err != nil {
		return err
	}
	if err := a.waitForPower(ctx); err != nil {
		a.printNotifications()
		return err
	}

	id := args[0]
	snaps := make(chan sensors.Snapshot, 8)
	failures := make(chan error, 1)
	sub, err := a.manager.MonitorSensors(ctx, id, func(s sensors.Snapshot, err error) {
		if err != nil {
			select {
			case failures <- err:
			default:
			}
			return
		}
		select {
		case snaps <- s:
		default:
			a.logger.Warn("Dropping sensor snapshot, output is behind")
		}
	})
	if err != nil {
		a.printNotifications()
		return err
	}
	defer sub.Remove()

	fmt.Fprintf(a.out, "Monitoring %s (%s, %s)\n", target.name, target.profile.Name, target.units)
	for seen := 0; monitorCount == 0 || seen < monitorCount; seen++ {
		select {
		case <-ctx.Done():
			return nil
		case err := <-failures:
			a.printNotifications()
			return err
		case s := <-snaps:
			findings := s.Check(target.profile, target.units)
			printSnapshot(a, s, target.units, findings)
			if pub != nil {
				msg := telemetry.SnapshotMessage{DeviceID: id, Name: target.name, Sensors: s, Findings: findings}
				if err := pub.PublishSnapshot(msg); err != nil {
					a.logger.WithError(err).Warn("Failed to publish snapshot")
				}
			}
		}
	}
	return nil
}

func resolveTarget(ctx context.Context, a *app) (monitorTarget, error) {
	table := plants.Builtin()
	generic, _ := table.Get(plants.DefaultProfile)
	target := monitorTarget{name: "pot", profile: generic, units: plants.Metric}
	if monitorLocalID == "" {
		return target, nil
	}

	records, err := a.paired.GetPairedDevices(ctx)
	if err != nil {
		return target, err
	}
	rec, ok := records[monitorLocalID]
	if !ok {
		return target, fmt.Errorf("%w: %s", pot.ErrNotPaired, monitorLocalID)
	}
	target.name = rec.Name
	target.units = rec.MeasurementSystem
	if p, ok := table.Get(rec.Plant); ok {
		target.profile = p
	} else {
		a.logger.WithField("plant", rec.Plant).Warn("Unknown plant profile, checking against Generic")
	}
	return target, nil
}

func printSnapshot(a *app, s sensors.Snapshot, units plants.MeasurementSystem, findings []string) {
	unit := "°C"
	if units == plants.Imperial {
		unit = "°F"
	}
	parts := []string{
		"temperature " + formatReading(s.Temperature, unit),
		"humidity " + formatReading(s.Humidity, "%"),
		"light " + formatReading(s.Light, ""),
		"moisture " + formatReading(s.Moisture, ""),
	}
	if s.MoistureLevel != "" {
		parts[3] += fmt.Sprintf(" (%s)", s.MoistureLevel)
	}
	fmt.Fprintf(a.out, "[%s] %s\n", s.ReceivedAt.Format("15:04:05"), strings.Join(parts, ", "))
	for _, f := range findings {
		fmt.Fprintf(a.out, "  %s %s\n", warnMark("!"), f)
	}
}

func formatReading(r sensors.Reading, unit string) string {
	switch {
	case !r.Connected:
		return "disconnected"
	case !r.Present():
		return "n/a"
	default:
		return fmt.Sprintf("%g%s", *r.Value, unit)
	}
}

package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/srg/potlink/internal/plants"
	"github.com/srg/potlink/internal/provision"
	"github.com/srg/potlink/internal/store"
)

// pairCmd represents the pair command
var pairCmd = &cobra.Command{
	Use:   "pair <device-id>",
	Short: "Pair a pot and send it its settings",
	Long: `Connect to a pot, send it a name, plant profile and unit system, and
remember it once the pot acknowledges the settings.

The device id is the one listed by 'potlink scan'.`,
	Example: `  potlink pair AA:BB:CC:DD:EE:FF --name Kitchen --plant Basil --units metric`,
	Args:    cobra.ExactArgs(1),
	RunE:    runPair,
}

// settingsCmd represents the settings command
var settingsCmd = &cobra.Command{
	Use:   "settings <device-id> <local-id>",
	Short: "Update the settings of a paired pot",
	Long: `Send new settings to an already paired pot. The local id is the one
listed by 'potlink devices'.`,
	Args: cobra.ExactArgs(2),
	RunE: runSettings,
}

// resetCmd represents the reset command
var resetCmd = &cobra.Command{
	Use:   "reset <device-id>",
	Short: "Restore a pot's factory settings",
	Args:  cobra.ExactArgs(1),
	RunE:  runReset,
}

// removeCmd represents the remove command
var removeCmd = &cobra.Command{
	Use:   "remove <device-id> <local-id>",
	Short: "Factory reset a pot and forget it",
	Long: `Restore the pot's factory settings and, only once the pot acknowledged
the reset, remove it from the paired list.`,
	Args: cobra.ExactArgs(2),
	RunE: runRemove,
}

// payloadFlags are the settings shared by pair and settings
type payloadFlags struct {
	name  string
	plant string
	units string
}

var (
	pairFlags     payloadFlags
	settingsFlags payloadFlags
	syncFormat    string
)

func (f *payloadFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.name, "name", "n", "SMARTPot", "Pot name (at most 20 characters)")
	cmd.Flags().StringVarP(&f.plant, "plant", "p", plants.DefaultProfile, "Plant profile (see 'potlink plants')")
	cmd.Flags().StringVarP(&f.units, "units", "u", "metric", "Measurement system (metric, imperial)")
}

func (f *payloadFlags) payload() (provision.SyncPayload, error) {
	units, err := plants.ParseMeasurementSystem(f.units)
	if err != nil {
		return provision.SyncPayload{}, err
	}
	p := provision.SyncPayload{DeviceName: f.name, Plant: f.plant, MeasurementSystem: units}
	if err := p.Validate(plants.Builtin()); err != nil {
		return provision.SyncPayload{}, err
	}
	return p, nil
}

func init() {
	pairFlags.register(pairCmd)
	settingsFlags.register(settingsCmd)
	for _, cmd := range []*cobra.Command{pairCmd, settingsCmd, resetCmd} {
		cmd.Flags().StringVarP(&syncFormat, "format", "f", "table", "Output format (table, json)")
	}
}

type syncOp func(ctx context.Context, a *app) (*store.PairedDeviceRecord, error)

// syncWith runs op against a started manager, drawing sync progress, then
// hands the result to report
func syncWith(cmd *cobra.Command, title string, op syncOp, report func(*app, *store.PairedDeviceRecord) error) error {
	if err := validateFormat(syncFormat); err != nil {
		return err
	}
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	progress := NewProgressPrinter(a.out, title, "connecting", a.colored)
	if err := a.withRadio(ctx, progress.StepCallback()); err != nil {
		return err
	}
	if err := a.waitForPower(ctx); err != nil {
		a.printNotifications()
		return err
	}

	progress.Start()
	rec, err := op(ctx, a)
	progress.Stop()
	if err != nil {
		a.printNotifications()
		if ctx.Err() != nil && cmd.Context().Err() == nil {
			return ErrInterrupted
		}
		return err
	}
	return report(a, rec)
}

func writeRecord(a *app, rec *store.PairedDeviceRecord) error {
	if syncFormat == "json" {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	}
	fmt.Fprintf(a.out, "%s %s saved as %s (%s, %s)\n", okMark("✓"), rec.Name, rec.ID, rec.Plant, rec.MeasurementSystem)
	return nil
}

func runPair(cmd *cobra.Command, args []string) error {
	payload, err := pairFlags.payload()
	if err != nil {
		return err
	}
	return syncWith(cmd, "Pairing "+args[0], func(ctx context.Context, a *app) (*store.PairedDeviceRecord, error) {
		return a.manager.Pair(ctx, args[0], payload)
	}, writeRecord)
}

func runSettings(cmd *cobra.Command, args []string) error {
	payload, err := settingsFlags.payload()
	if err != nil {
		return err
	}
	return syncWith(cmd, "Updating "+args[0], func(ctx context.Context, a *app) (*store.PairedDeviceRecord, error) {
		return a.manager.UpdateSettings(ctx, args[0], args[1], payload)
	}, writeRecord)
}

func runReset(cmd *cobra.Command, args []string) error {
	return syncWith(cmd, "Resetting "+args[0], func(ctx context.Context, a *app) (*store.PairedDeviceRecord, error) {
		return a.manager.FactoryReset(ctx, args[0])
	}, writeRecord)
}

func runRemove(cmd *cobra.Command, args []string) error {
	syncFormat = "table"
	return syncWith(cmd, "Removing "+args[0], func(ctx context.Context, a *app) (*store.PairedDeviceRecord, error) {
		return nil, a.manager.RemoveDevice(ctx, args[0], args[1])
	}, func(a *app, _ *store.PairedDeviceRecord) error {
		fmt.Fprintf(a.out, "%s %s reset and removed\n", okMark("✓"), args[1])
		return nil
	})
}

package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/potlink/internal/store"
)

// devicesCmd represents the devices command
var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List paired pots",
	Args:  cobra.NoArgs,
	RunE:  runDevices,
}

var devicesFormat string

func init() {
	devicesCmd.Flags().StringVarP(&devicesFormat, "format", "f", "table", "Output format (table, json)")
}

func runDevices(cmd *cobra.Command, _ []string) error {
	if err := validateFormat(devicesFormat); err != nil {
		return err
	}
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	records, err := a.paired.GetPairedDevices(cmd.Context())
	if err != nil {
		return err
	}
	sorted := store.SortedByAddedAt(records)

	if devicesFormat == "json" {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(sorted)
	}
	if len(sorted) == 0 {
		fmt.Fprintln(a.out, "No paired pots")
		return nil
	}
	tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tLOCAL ID\tPLANT\tUNITS\tADDED")
	fmt.Fprintln(tw, strings.Repeat("-", 80))
	for _, rec := range sorted {
		added := time.UnixMilli(rec.AddedAt).UTC().Format(time.RFC3339)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", rec.Name, rec.ID, rec.Plant, rec.MeasurementSystem, added)
	}
	return tw.Flush()
}

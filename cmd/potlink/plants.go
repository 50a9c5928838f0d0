package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/srg/potlink/internal/plants"
)

// plantsCmd represents the plants command
var plantsCmd = &cobra.Command{
	Use:   "plants",
	Short: "List the built-in plant profiles",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		table := plants.Builtin()
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "PLANT\tMOISTURE\tLIGHT\tTEMPERATURE (°C)")
		fmt.Fprintln(tw, strings.Repeat("-", 60))
		for _, name := range table.Names() {
			p, _ := table.Get(name)
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.Name, formatRange(p.Moisture), formatRange(p.Light), formatRange(p.Temperature))
		}
		return tw.Flush()
	},
}

func formatRange(r plants.Range) string {
	return fmt.Sprintf("%g-%g", r.Min, r.Max)
}

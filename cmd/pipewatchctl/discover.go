package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pipewatch/pipewatch/pkg/discovery"
)

var discoverVerbose bool

var discoverAssetsCmd = &cobra.Command{
	Use:   "discover-assets",
	Short: "Trigger a discovery pass on the server",
	RunE:  runDiscoverAssets,
}

func init() {
	discoverAssetsCmd.Flags().BoolVarP(&discoverVerbose, "verbose", "v", false, "Print per-counter breakdown")
}

func runDiscoverAssets(cmd *cobra.Command, args []string) error {
	var report discovery.Report
	if err := newClient().postJSON("/api/v1/discovery/run", nil, &report); err != nil {
		return err
	}

	if outputFmt != "table" {
		return printOutput(report)
	}

	if !discoverVerbose {
		fmt.Printf("Discovery pass complete: %d added, %d updated, %d missing\n",
			report.Added, report.Updated, report.Missing)
		return nil
	}

	printTable([]string{"Counter", "Value"}, [][]string{
		{"Added", fmt.Sprintf("%d", report.Added)},
		{"Updated", fmt.Sprintf("%d", report.Updated)},
		{"Unchanged", fmt.Sprintf("%d", report.Unchanged)},
		{"Missing", fmt.Sprintf("%d", report.Missing)},
		{"Invalid", fmt.Sprintf("%d", report.Invalid)},
	})
	return nil
}

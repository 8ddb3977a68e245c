package main

import (
	"github.com/spf13/cobra"
)

var (
	serverURL string
	outputFmt string
)

var rootCmd = &cobra.Command{
	Use:   "pipewatchctl",
	Short: "CLI for the pipewatch asset registry",
	Long: `pipewatchctl operates the pipewatch registry server.

It lists and inspects assets, evaluates asset health, triggers discovery
passes, manages alerts, and records pipeline executions. All commands
except "init" talk to a running pipewatch server.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Pipewatch server URL")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table", "Output format: table, json, yaml")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(listAssetsCmd)
	rootCmd.AddCommand(assetDetailsCmd)
	rootCmd.AddCommand(assetHealthCmd)
	rootCmd.AddCommand(discoverAssetsCmd)
	rootCmd.AddCommand(assetInventoryCmd)
	rootCmd.AddCommand(ownershipReportCmd)
	rootCmd.AddCommand(alertsCmd)
	rootCmd.AddCommand(ackCmd)
	rootCmd.AddCommand(recordRunCmd)
	rootCmd.AddCommand(jobsCmd)
}

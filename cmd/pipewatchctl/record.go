package main

import (
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/cobra"
)

var (
	recordDuration time.Duration
	recordRows     int64
	recordFailed   bool
	recordError    string
)

var recordRunCmd = &cobra.Command{
	Use:   "record-run <asset-key>",
	Short: "Record one pipeline execution for an asset",
	Args:  cobra.ExactArgs(1),
	RunE:  runRecordRun,
}

func init() {
	recordRunCmd.Flags().DurationVar(&recordDuration, "duration", 0, "Run duration (e.g. 45s, 3m)")
	recordRunCmd.Flags().Int64Var(&recordRows, "rows", -1, "Row count produced by the run (-1 omits it)")
	recordRunCmd.Flags().BoolVar(&recordFailed, "failed", false, "Mark the run as failed")
	recordRunCmd.Flags().StringVar(&recordError, "error", "", "Error summary for a failed run")
}

func runRecordRun(cmd *cobra.Command, args []string) error {
	key := args[0]
	body := map[string]any{
		"durationMillis": recordDuration.Milliseconds(),
		"succeeded":      !recordFailed,
	}
	if recordRows >= 0 {
		body["rowCount"] = recordRows
	}
	if recordError != "" {
		body["errorSummary"] = recordError
	}

	var created executionResponse
	if err := newClient().postJSON("/api/v1/assets/"+url.PathEscape(key)+"/executions", body, &created); err != nil {
		return err
	}

	if outputFmt != "table" {
		return printOutput(created)
	}
	fmt.Printf("Recorded execution %s for %s\n", created.ID, key)
	return nil
}

package main

import (
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/cobra"
)

var (
	alertsState string
	alertsAsset string
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "List alerts",
	RunE:  runAlerts,
}

var ackCmd = &cobra.Command{
	Use:   "ack <alert-id>",
	Short: "Acknowledge an open alert",
	Args:  cobra.ExactArgs(1),
	RunE:  runAck,
}

func init() {
	alertsCmd.Flags().StringVar(&alertsState, "state", "", "Filter by state: open, acknowledged, resolved")
	alertsCmd.Flags().StringVar(&alertsAsset, "asset", "", "Filter by asset key")
}

func runAlerts(cmd *cobra.Command, args []string) error {
	query := url.Values{}
	if alertsState != "" {
		query.Set("state", alertsState)
	}
	if alertsAsset != "" {
		query.Set("asset", alertsAsset)
	}
	path := "/api/v1/alerts"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var resp alertListResponse
	if err := newClient().getJSON(path, &resp); err != nil {
		return err
	}

	if outputFmt != "table" {
		return printOutput(resp.Alerts)
	}

	headers := []string{"ID", "Asset", "Reason", "Severity", "State", "First Raised", "Last Seen"}
	rows := make([][]string, 0, len(resp.Alerts))
	for _, a := range resp.Alerts {
		rows = append(rows, []string{
			a.ID,
			a.AssetKey,
			string(a.Reason),
			string(a.Severity),
			string(a.State),
			a.FirstRaisedAt.Format(time.RFC3339),
			a.LastSeenAt.Format(time.RFC3339),
		})
	}
	printTable(headers, rows)
	return nil
}

func runAck(cmd *cobra.Command, args []string) error {
	id := args[0]
	if err := newClient().postJSON("/api/v1/alerts/"+url.PathEscape(id)+"/acknowledge", nil, nil); err != nil {
		return err
	}
	fmt.Printf("Alert %s acknowledged\n", id)
	return nil
}

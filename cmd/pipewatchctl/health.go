package main

import (
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pipewatch/pipewatch/pkg/health"
)

var healthKey string

var assetHealthCmd = &cobra.Command{
	Use:   "asset-health",
	Short: "Show asset health verdicts",
	Long: `asset-health shows the latest persisted verdict for every asset.
With --key, the named asset is re-evaluated on demand and the fresh
verdict is shown.`,
	RunE: runAssetHealth,
}

func init() {
	assetHealthCmd.Flags().StringVar(&healthKey, "key", "", "Evaluate a single asset on demand")
}

func runAssetHealth(cmd *cobra.Command, args []string) error {
	client := newClient()

	var verdicts []health.Verdict
	if healthKey != "" {
		var verdict health.Verdict
		if err := client.getJSON("/api/v1/assets/"+url.PathEscape(healthKey)+"/health", &verdict); err != nil {
			return err
		}
		verdicts = []health.Verdict{verdict}
	} else {
		var resp verdictListResponse
		if err := client.getJSON("/api/v1/health", &resp); err != nil {
			return err
		}
		verdicts = resp.Verdicts
	}

	if outputFmt != "table" {
		return printOutput(verdicts)
	}

	headers := []string{"Asset", "Severity", "Reasons", "Evaluated"}
	rows := make([][]string, 0, len(verdicts))
	for _, v := range verdicts {
		reasons := make([]string, 0, len(v.Findings))
		for _, f := range v.Findings {
			reasons = append(reasons, string(f.Reason))
		}
		rows = append(rows, []string{
			v.AssetKey,
			string(v.Severity),
			strings.Join(reasons, ","),
			v.EvaluatedAt.Format(time.RFC3339),
		})
	}
	printTable(headers, rows)
	return nil
}

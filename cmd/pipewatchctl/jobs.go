package main

import (
	"strconv"

	"github.com/spf13/cobra"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Show the server's background job status",
	RunE:  runJobs,
}

func runJobs(cmd *cobra.Command, args []string) error {
	var resp jobListResponse
	if err := newClient().getJSON("/api/v1/jobs", &resp); err != nil {
		return err
	}

	if outputFmt != "table" {
		return printOutput(resp.Jobs)
	}

	headers := []string{"Job", "State", "Interval", "Failures", "Last Error"}
	rows := make([][]string, 0, len(resp.Jobs))
	for _, j := range resp.Jobs {
		rows = append(rows, []string{
			j.Name,
			string(j.State),
			j.Interval.String(),
			strconv.Itoa(j.ConsecutiveFailures),
			truncate(j.LastError, 50),
		})
	}
	printTable(headers, rows)
	return nil
}

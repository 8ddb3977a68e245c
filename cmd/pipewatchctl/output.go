package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"
)

// stdout is a variable so tests can capture command output.
var stdout io.Writer = os.Stdout

func printOutput(v any) error {
	switch outputFmt {
	case "json":
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		return printYAML(v)
	default:
		return fmt.Errorf("unsupported output format for structured data: %s (use json or yaml)", outputFmt)
	}
}

// printYAML round-trips through JSON so the YAML keys match the API's
// json field names.
func printYAML(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var m any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	enc := yaml.NewEncoder(stdout)
	enc.SetIndent(2)
	return enc.Encode(m)
}

func printTable(headers []string, rows [][]string) {
	w := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	writeRow(w, headers, strings.ToUpper)
	for _, row := range rows {
		writeRow(w, row, nil)
	}
	w.Flush()
}

func writeRow(w io.Writer, cells []string, transform func(string) string) {
	for i, cell := range cells {
		if i > 0 {
			fmt.Fprint(w, "\t")
		}
		if transform != nil {
			cell = transform(cell)
		}
		fmt.Fprint(w, cell)
	}
	fmt.Fprintln(w)
}

// truncate shortens s to max bytes, appending "..." when it cuts.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

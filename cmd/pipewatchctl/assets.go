package main

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pipewatch/pipewatch/pkg/registry"
)

var (
	listStatus string
	listGroup  string
	listOwner  string
)

var listAssetsCmd = &cobra.Command{
	Use:   "list-assets",
	Short: "List registered assets",
	RunE:  runListAssets,
}

var assetDetailsCmd = &cobra.Command{
	Use:   "asset-details <asset-key>",
	Short: "Show one asset with its latest execution and verdict",
	Args:  cobra.ExactArgs(1),
	RunE:  runAssetDetails,
}

var assetInventoryCmd = &cobra.Command{
	Use:   "asset-inventory",
	Short: "Summarize assets per group",
	RunE:  runAssetInventory,
}

var ownershipReportCmd = &cobra.Command{
	Use:   "ownership-report",
	Short: "Report which owners hold which assets",
	RunE:  runOwnershipReport,
}

func init() {
	listAssetsCmd.Flags().StringVar(&listStatus, "status", "", "Filter by status: active, stale, retired")
	listAssetsCmd.Flags().StringVar(&listGroup, "group", "", "Filter by group")
	listAssetsCmd.Flags().StringVar(&listOwner, "owner", "", "Filter by owner")
}

func fetchAssets(status, group, owner string) ([]registry.AssetRecord, error) {
	query := url.Values{}
	if status != "" {
		query.Set("status", status)
	}
	if group != "" {
		query.Set("group", group)
	}
	if owner != "" {
		query.Set("owner", owner)
	}
	path := "/api/v1/assets"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var resp assetListResponse
	if err := newClient().getJSON(path, &resp); err != nil {
		return nil, err
	}
	return resp.Assets, nil
}

func runListAssets(cmd *cobra.Command, args []string) error {
	assets, err := fetchAssets(listStatus, listGroup, listOwner)
	if err != nil {
		return err
	}

	if outputFmt != "table" {
		return printOutput(assets)
	}

	headers := []string{"Key", "Group", "Status", "Owners", "Interval", "Version", "Last Discovered"}
	rows := make([][]string, 0, len(assets))
	for _, a := range assets {
		rows = append(rows, []string{
			a.Key,
			a.Group,
			string(a.Status),
			strings.Join(a.Owners, ","),
			(time.Duration(a.UpdateIntervalSeconds) * time.Second).String(),
			strconv.Itoa(a.Version),
			a.LastDiscoveredAt.Format(time.RFC3339),
		})
	}
	printTable(headers, rows)
	return nil
}

func runAssetDetails(cmd *cobra.Command, args []string) error {
	var resp assetDetailResponse
	if err := newClient().getJSON("/api/v1/assets/"+url.PathEscape(args[0]), &resp); err != nil {
		return err
	}

	if outputFmt != "table" {
		return printOutput(resp)
	}

	a := resp.Asset
	rows := [][]string{
		{"Key", a.Key},
		{"Name", a.Name},
		{"Group", a.Group},
		{"Status", string(a.Status)},
		{"Owners", strings.Join(a.Owners, ",")},
		{"Dependencies", strings.Join(a.Dependencies, ",")},
		{"Description", truncate(a.Description, 60)},
		{"Update interval", (time.Duration(a.UpdateIntervalSeconds) * time.Second).String()},
		{"Version", strconv.Itoa(a.Version)},
		{"Missed passes", strconv.Itoa(a.MissedPasses)},
		{"Last discovered", a.LastDiscoveredAt.Format(time.RFC3339)},
		{"Last updated", a.LastUpdatedAt.Format(time.RFC3339)},
	}
	if exec := resp.LatestExecution; exec != nil {
		outcome := "succeeded"
		if !exec.Succeeded {
			outcome = "failed"
		}
		rows = append(rows,
			[]string{"Last run", exec.StartedAt.Format(time.RFC3339)},
			[]string{"Last run outcome", outcome},
		)
	}
	if v := resp.LatestVerdict; v != nil {
		rows = append(rows, []string{"Health", string(v.Severity)})
	}
	printTable([]string{"Field", "Value"}, rows)
	return nil
}

func runAssetInventory(cmd *cobra.Command, args []string) error {
	assets, err := fetchAssets("", "", "")
	if err != nil {
		return err
	}

	type groupSummary struct {
		Group   string `json:"group"`
		Total   int    `json:"total"`
		Active  int    `json:"active"`
		Stale   int    `json:"stale"`
		Retired int    `json:"retired"`
	}

	byGroup := make(map[string]*groupSummary)
	for _, a := range assets {
		g, ok := byGroup[a.Group]
		if !ok {
			g = &groupSummary{Group: a.Group}
			byGroup[a.Group] = g
		}
		g.Total++
		switch a.Status {
		case registry.StatusActive:
			g.Active++
		case registry.StatusStale:
			g.Stale++
		case registry.StatusRetired:
			g.Retired++
		}
	}

	groups := make([]groupSummary, 0, len(byGroup))
	for _, g := range byGroup {
		groups = append(groups, *g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Group < groups[j].Group })

	if outputFmt != "table" {
		return printOutput(groups)
	}

	headers := []string{"Group", "Total", "Active", "Stale", "Retired"}
	rows := make([][]string, 0, len(groups))
	for _, g := range groups {
		rows = append(rows, []string{
			g.Group,
			strconv.Itoa(g.Total),
			strconv.Itoa(g.Active),
			strconv.Itoa(g.Stale),
			strconv.Itoa(g.Retired),
		})
	}
	printTable(headers, rows)
	return nil
}

func runOwnershipReport(cmd *cobra.Command, args []string) error {
	assets, err := fetchAssets("", "", "")
	if err != nil {
		return err
	}

	type ownerSummary struct {
		Owner  string   `json:"owner"`
		Assets []string `json:"assets"`
	}

	byOwner := make(map[string][]string)
	var unowned []string
	for _, a := range assets {
		if len(a.Owners) == 0 {
			unowned = append(unowned, a.Key)
			continue
		}
		for _, owner := range a.Owners {
			byOwner[owner] = append(byOwner[owner], a.Key)
		}
	}

	owners := make([]ownerSummary, 0, len(byOwner))
	for owner, keys := range byOwner {
		sort.Strings(keys)
		owners = append(owners, ownerSummary{Owner: owner, Assets: keys})
	}
	sort.Slice(owners, func(i, j int) bool { return owners[i].Owner < owners[j].Owner })
	if len(unowned) > 0 {
		sort.Strings(unowned)
		owners = append(owners, ownerSummary{Owner: "(unowned)", Assets: unowned})
	}

	if outputFmt != "table" {
		return printOutput(owners)
	}

	headers := []string{"Owner", "Assets", "Count"}
	rows := make([][]string, 0, len(owners))
	for _, o := range owners {
		rows = append(rows, []string{
			o.Owner,
			truncate(strings.Join(o.Assets, ","), 80),
			fmt.Sprintf("%d", len(o.Assets)),
		})
	}
	printTable(headers, rows)
	return nil
}

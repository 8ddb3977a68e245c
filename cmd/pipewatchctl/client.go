package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pipewatch/pipewatch/pkg/alerts"
	"github.com/pipewatch/pipewatch/pkg/health"
	"github.com/pipewatch/pipewatch/pkg/registry"
	"github.com/pipewatch/pipewatch/pkg/scheduler"
)

type pipewatchClient struct {
	baseURL string
	http    *http.Client
}

func newClient() *pipewatchClient {
	return &pipewatchClient{
		baseURL: serverURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// getJSON performs a GET request and decodes the response.
func (c *pipewatchClient) getJSON(path string, v any) error {
	resp, err := c.http.Get(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
	}

	return json.NewDecoder(resp.Body).Decode(v)
}

// postJSON performs a POST request with a JSON body and decodes the response.
func (c *pipewatchClient) postJSON(path string, body any, v any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal error: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	resp, err := c.http.Post(c.baseURL+path, "application/json", reader)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(bodyBytes))
	}

	if v != nil {
		return json.NewDecoder(resp.Body).Decode(v)
	}
	return nil
}

type assetListResponse struct {
	Assets    []registry.AssetRecord `json:"assets"`
	TotalSize int                    `json:"totalSize"`
}

type assetDetailResponse struct {
	Asset           registry.AssetRecord `json:"asset"`
	LatestExecution *executionResponse   `json:"latestExecution"`
	LatestVerdict   *health.Verdict      `json:"latestVerdict"`
}

type executionResponse struct {
	ID             string    `json:"id"`
	AssetKey       string    `json:"assetKey"`
	StartedAt      time.Time `json:"startedAt"`
	DurationMillis int64     `json:"durationMillis"`
	RowCount       *int64    `json:"rowCount,omitempty"`
	Succeeded      bool      `json:"succeeded"`
	ErrorSummary   string    `json:"errorSummary,omitempty"`
}

type verdictListResponse struct {
	Verdicts  []health.Verdict `json:"verdicts"`
	TotalSize int              `json:"totalSize"`
}

type alertListResponse struct {
	Alerts    []alerts.Alert `json:"alerts"`
	TotalSize int            `json:"totalSize"`
}

type jobListResponse struct {
	Jobs []scheduler.JobStatus `json:"jobs"`
}

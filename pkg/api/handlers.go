// Package api exposes the registry over HTTP: asset listing and detail,
// health verdicts, alert management, execution intake, and manual job
// control.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pipewatch/pipewatch/pkg/alerts"
	"github.com/pipewatch/pipewatch/pkg/cache"
	"github.com/pipewatch/pipewatch/pkg/discovery"
	"github.com/pipewatch/pipewatch/pkg/executions"
	"github.com/pipewatch/pipewatch/pkg/health"
	"github.com/pipewatch/pipewatch/pkg/registry"
	"github.com/pipewatch/pipewatch/pkg/scheduler"
)

// JobController is the slice of the scheduler the API needs.
type JobController interface {
	Status() []scheduler.JobStatus
	TriggerNow(ctx context.Context, name string) error
}

// Services bundles the backends the handlers operate on. Jobs may be
// nil when the server runs without a scheduler, and Cache may be nil to
// serve every read from the store.
type Services struct {
	Assets     *registry.MetadataStore
	Executions *executions.ExecutionStore
	Verdicts   *health.VerdictStore
	Monitor    *health.Monitor
	Alerts     *alerts.Manager
	Discovery  *discovery.Engine
	Jobs       JobController
	Cache      *cache.ResponseCache
}

// ListAssetsHandler handles GET /api/v1/assets.
// Query params: status, group, owner.
func ListAssetsHandler(assets *registry.MetadataStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := registry.ListFilter{
			Status: registry.AssetStatus(r.URL.Query().Get("status")),
			Group:  r.URL.Query().Get("group"),
			Owner:  r.URL.Query().Get("owner"),
		}
		records, err := assets.List(filter)
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list assets: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"assets":    records,
			"totalSize": len(records),
		})
	}
}

// GetAssetHandler handles GET /api/v1/assets/{assetKey}. The response
// bundles the record with its latest execution and verdict, when present.
func GetAssetHandler(svc *Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "assetKey")
		record, err := svc.Assets.Get(key)
		if err != nil {
			if errors.Is(err, registry.ErrNotFound) {
				writeError(w, http.StatusNotFound, fmt.Sprintf("asset %q not found", key))
				return
			}
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to get asset: %v", err))
			return
		}

		latest, err := svc.Executions.Latest(key)
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to load executions: %v", err))
			return
		}
		verdict, err := svc.Verdicts.Latest(key)
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to load verdict: %v", err))
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"asset":           record,
			"latestExecution": latest,
			"latestVerdict":   verdict,
		})
	}
}

// GetAssetHealthHandler handles GET /api/v1/assets/{assetKey}/health,
// evaluating the asset on demand.
func GetAssetHealthHandler(monitor *health.Monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "assetKey")
		verdict, err := monitor.Evaluate(r.Context(), key)
		if err != nil {
			if errors.Is(err, registry.ErrNotFound) {
				writeError(w, http.StatusNotFound, fmt.Sprintf("asset %q not found", key))
				return
			}
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to evaluate asset: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, verdict)
	}
}

// ListExecutionsHandler handles GET /api/v1/assets/{assetKey}/executions.
// Query params: limit (default 20), since (RFC 3339).
func ListExecutionsHandler(svc *Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "assetKey")
		if _, err := svc.Assets.Get(key); err != nil {
			if errors.Is(err, registry.ErrNotFound) {
				writeError(w, http.StatusNotFound, fmt.Sprintf("asset %q not found", key))
				return
			}
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to get asset: %v", err))
			return
		}

		limit := 20
		if l := r.URL.Query().Get("limit"); l != "" {
			if v, err := strconv.Atoi(l); err == nil && v > 0 {
				limit = v
			}
		}
		since := time.Time{}
		if s := r.URL.Query().Get("since"); s != "" {
			parsed, err := time.Parse(time.RFC3339, s)
			if err != nil {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid since timestamp: %v", err))
				return
			}
			since = parsed
		}

		records, err := svc.Executions.RecentWindow(key, limit, since)
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list executions: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"executions": records,
			"totalSize":  len(records),
		})
	}
}

// recordExecutionRequest is the intake payload for one pipeline run.
type recordExecutionRequest struct {
	StartedAt      *time.Time `json:"startedAt,omitempty"`
	DurationMillis int64      `json:"durationMillis"`
	RowCount       *int64     `json:"rowCount,omitempty"`
	Succeeded      bool       `json:"succeeded"`
	ErrorSummary   string     `json:"errorSummary,omitempty"`
}

// RecordExecutionHandler handles POST /api/v1/assets/{assetKey}/executions.
func RecordExecutionHandler(svc *Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "assetKey")
		if _, err := svc.Assets.Get(key); err != nil {
			if errors.Is(err, registry.ErrNotFound) {
				writeError(w, http.StatusNotFound, fmt.Sprintf("asset %q not found", key))
				return
			}
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to get asset: %v", err))
			return
		}

		var req recordExecutionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
			return
		}
		if req.DurationMillis < 0 {
			writeError(w, http.StatusBadRequest, "durationMillis must be non-negative")
			return
		}

		record := &executions.ExecutionRecord{
			AssetKey:       key,
			DurationMillis: req.DurationMillis,
			RowCount:       req.RowCount,
			Succeeded:      req.Succeeded,
			ErrorSummary:   req.ErrorSummary,
		}
		if req.StartedAt != nil {
			record.StartedAt = req.StartedAt.UTC()
		}
		if err := svc.Executions.Record(record); err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to record execution: %v", err))
			return
		}
		writeJSON(w, http.StatusCreated, record)
	}
}

// HealthOverviewHandler handles GET /api/v1/health: the latest persisted
// verdict per asset.
func HealthOverviewHandler(verdicts *health.VerdictStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		latest, err := verdicts.LatestAll()
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to load verdicts: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"verdicts":  latest,
			"totalSize": len(latest),
		})
	}
}

// ListAlertsHandler handles GET /api/v1/alerts.
// Query params: state, asset.
func ListAlertsHandler(manager *alerts.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := alerts.ListFilter{
			AssetKey: r.URL.Query().Get("asset"),
			State:    alerts.AlertState(r.URL.Query().Get("state")),
		}
		found, err := manager.List(filter)
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list alerts: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"alerts":    found,
			"totalSize": len(found),
		})
	}
}

// AcknowledgeAlertHandler handles POST /api/v1/alerts/{alertId}/acknowledge.
func AcknowledgeAlertHandler(manager *alerts.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "alertId")
		err := manager.Acknowledge(id)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, map[string]string{"id": id, "state": string(alerts.StateAcknowledged)})
		case errors.Is(err, alerts.ErrNotFound):
			writeError(w, http.StatusNotFound, fmt.Sprintf("alert %q not found", id))
		case errors.Is(err, alerts.ErrNotOpen):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to acknowledge alert: %v", err))
		}
	}
}

// RunDiscoveryHandler handles POST /api/v1/discovery/run. A pass already
// in flight yields 409.
func RunDiscoveryHandler(engine *discovery.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := engine.RunPass(r.Context())
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, report)
		case errors.Is(err, discovery.ErrAlreadyRunning):
			writeError(w, http.StatusConflict, "a discovery pass is already running")
		default:
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("discovery pass failed: %v", err))
		}
	}
}

// ListJobsHandler handles GET /api/v1/jobs.
func ListJobsHandler(jobs JobController) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jobs == nil {
			writeError(w, http.StatusServiceUnavailable, "scheduler is not running")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs.Status()})
	}
}

// LivenessHandler handles GET /healthz.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/pipewatch/pipewatch/pkg/alerts"
	"github.com/pipewatch/pipewatch/pkg/cache"
	"github.com/pipewatch/pipewatch/pkg/discovery"
	"github.com/pipewatch/pipewatch/pkg/executions"
	"github.com/pipewatch/pipewatch/pkg/health"
	"github.com/pipewatch/pipewatch/pkg/registry"
	"github.com/pipewatch/pipewatch/pkg/scheduler"
)

type fakeJobs struct {
	statuses  []scheduler.JobStatus
	triggered []string
}

func (f *fakeJobs) Status() []scheduler.JobStatus { return f.statuses }

func (f *fakeJobs) TriggerNow(_ context.Context, name string) error {
	f.triggered = append(f.triggered, name)
	return nil
}

func newTestServices(t *testing.T, defs ...discovery.Definition) *Services {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	discard := slog.New(slog.NewTextHandler(io.Discard, nil))

	assets := registry.NewMetadataStore(db)
	require.NoError(t, assets.AutoMigrate())
	execs := executions.NewExecutionStore(db)
	require.NoError(t, execs.AutoMigrate())
	verdicts := health.NewVerdictStore(db)
	require.NoError(t, verdicts.AutoMigrate())
	manager := alerts.NewManager(db, discard)
	require.NoError(t, manager.AutoMigrate())

	return &Services{
		Assets:     assets,
		Executions: execs,
		Verdicts:   verdicts,
		Monitor:    health.NewMonitor(assets, execs, verdicts, health.DefaultConfig(), discard),
		Alerts:     manager,
		Discovery:  discovery.NewEngine(assets, discovery.StaticSource(defs), discovery.DefaultConfig(), discard),
		Jobs:       &fakeJobs{},
	}
}

func seedAsset(t *testing.T, svc *Services, key string) {
	t.Helper()
	_, err := svc.Assets.Upsert(&registry.AssetRecord{
		Key:                   key,
		Name:                  key,
		Group:                 "ingest",
		Owners:                registry.JSONStringSlice{"data-eng"},
		UpdateIntervalSeconds: 900,
	})
	require.NoError(t, err)
}

func doRequest(t *testing.T, svc *Services, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	Router(svc).ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestLiveness(t *testing.T) {
	svc := newTestServices(t)
	rec := doRequest(t, svc, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])
}

func TestListAssets(t *testing.T) {
	svc := newTestServices(t)
	seedAsset(t, svc, "orders_raw")
	seedAsset(t, svc, "orders_clean")

	rec := doRequest(t, svc, http.MethodGet, "/api/v1/assets", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), decodeBody(t, rec)["totalSize"])

	rec = doRequest(t, svc, http.MethodGet, "/api/v1/assets?owner=nobody", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), decodeBody(t, rec)["totalSize"])
}

func TestGetAsset(t *testing.T) {
	svc := newTestServices(t)
	seedAsset(t, svc, "orders_raw")

	rec := doRequest(t, svc, http.MethodGet, "/api/v1/assets/orders_raw", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	asset, ok := body["asset"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "orders_raw", asset["key"])

	rec = doRequest(t, svc, http.MethodGet, "/api/v1/assets/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAssetHealth(t *testing.T) {
	svc := newTestServices(t)
	seedAsset(t, svc, "orders_raw")

	rec := doRequest(t, svc, http.MethodGet, "/api/v1/assets/orders_raw/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, string(health.SeverityOK), body["severity"])

	rec = doRequest(t, svc, http.MethodGet, "/api/v1/assets/nope/health", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecordAndListExecutions(t *testing.T) {
	svc := newTestServices(t)
	seedAsset(t, svc, "orders_raw")

	rows := int64(1200)
	rec := doRequest(t, svc, http.MethodPost, "/api/v1/assets/orders_raw/executions", recordExecutionRequest{
		DurationMillis: 4500,
		RowCount:       &rows,
		Succeeded:      true,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, svc, http.MethodGet, "/api/v1/assets/orders_raw/executions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decodeBody(t, rec)["totalSize"])

	// Negative durations and unknown assets are rejected.
	rec = doRequest(t, svc, http.MethodPost, "/api/v1/assets/orders_raw/executions", recordExecutionRequest{
		DurationMillis: -1,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, svc, http.MethodPost, "/api/v1/assets/nope/executions", recordExecutionRequest{})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthOverview(t *testing.T) {
	svc := newTestServices(t)
	seedAsset(t, svc, "orders_raw")

	_, err := svc.Monitor.EvaluateAll(context.Background())
	require.NoError(t, err)

	rec := doRequest(t, svc, http.MethodGet, "/api/v1/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decodeBody(t, rec)["totalSize"])
}

func TestAlertLifecycleOverHTTP(t *testing.T) {
	svc := newTestServices(t)
	seedAsset(t, svc, "orders_raw")

	_, err := svc.Alerts.Process(&health.Verdict{
		AssetKey:    "orders_raw",
		EvaluatedAt: time.Now().UTC(),
		Severity:    health.SeverityCritical,
		Findings: health.Findings{
			{Reason: health.ReasonExecutionFailed, Severity: health.SeverityCritical},
		},
	})
	require.NoError(t, err)

	rec := doRequest(t, svc, http.MethodGet, "/api/v1/alerts?state=open", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, float64(1), body["totalSize"])
	list, ok := body["alerts"].([]any)
	require.True(t, ok)
	id, ok := list[0].(map[string]any)["id"].(string)
	require.True(t, ok)

	rec = doRequest(t, svc, http.MethodPost, "/api/v1/alerts/"+id+"/acknowledge", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Second acknowledge conflicts, unknown ID is not found.
	rec = doRequest(t, svc, http.MethodPost, "/api/v1/alerts/"+id+"/acknowledge", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = doRequest(t, svc, http.MethodPost, "/api/v1/alerts/missing/acknowledge", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunDiscovery(t *testing.T) {
	svc := newTestServices(t, discovery.Definition{
		Key:                   "orders_raw",
		Name:                  "Raw orders",
		Group:                 "ingest",
		UpdateIntervalSeconds: 900,
	})

	rec := doRequest(t, svc, http.MethodPost, "/api/v1/discovery/run", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decodeBody(t, rec)["added"])

	rec = doRequest(t, svc, http.MethodGet, "/api/v1/assets/orders_raw", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestListJobs(t *testing.T) {
	svc := newTestServices(t)
	svc.Jobs = &fakeJobs{statuses: []scheduler.JobStatus{{Name: "discovery", State: scheduler.StateIdle}}}

	rec := doRequest(t, svc, http.MethodGet, "/api/v1/jobs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	jobs, ok := decodeBody(t, rec)["jobs"].([]any)
	require.True(t, ok)
	assert.Len(t, jobs, 1)

	svc.Jobs = nil
	rec = doRequest(t, svc, http.MethodGet, "/api/v1/jobs", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCachedAssetListInvalidatedByDiscovery(t *testing.T) {
	svc := newTestServices(t, discovery.Definition{
		Key:                   "orders_raw",
		UpdateIntervalSeconds: 900,
	})
	svc.Cache = cache.New(16, time.Minute)

	rec := doRequest(t, svc, http.MethodGet, "/api/v1/assets", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	assert.Equal(t, float64(0), decodeBody(t, rec)["totalSize"])

	rec = doRequest(t, svc, http.MethodGet, "/api/v1/assets", nil)
	assert.Equal(t, "HIT", rec.Header().Get("X-Cache"))

	rec = doRequest(t, svc, http.MethodPost, "/api/v1/discovery/run", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// The discovery pass changed the registry, so the next read misses
	// the cache and sees the new asset.
	rec = doRequest(t, svc, http.MethodGet, "/api/v1/assets", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	assert.Equal(t, float64(1), decodeBody(t, rec)["totalSize"])
}

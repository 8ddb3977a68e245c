package health

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/pipewatch/pipewatch/pkg/executions"
	"github.com/pipewatch/pipewatch/pkg/registry"
)

type fixture struct {
	assets   *registry.MetadataStore
	execs    *executions.ExecutionStore
	verdicts *VerdictStore
	monitor  *Monitor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	f := &fixture{
		assets:   registry.NewMetadataStore(db),
		execs:    executions.NewExecutionStore(db),
		verdicts: NewVerdictStore(db),
	}
	require.NoError(t, f.assets.AutoMigrate())
	require.NoError(t, f.execs.AutoMigrate())
	require.NoError(t, f.verdicts.AutoMigrate())
	f.monitor = NewMonitor(f.assets, f.execs, f.verdicts, DefaultConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	return f
}

func (f *fixture) addAsset(t *testing.T, key string, intervalSeconds int) {
	t.Helper()
	_, err := f.assets.Upsert(&registry.AssetRecord{
		Key:                   key,
		Group:                 "ingestion",
		UpdateIntervalSeconds: intervalSeconds,
	})
	require.NoError(t, err)
}

func (f *fixture) addRun(t *testing.T, key string, age time.Duration, durationMs int64, rows *int64, ok bool) {
	t.Helper()
	require.NoError(t, f.execs.Record(&executions.ExecutionRecord{
		AssetKey:       key,
		StartedAt:      time.Now().UTC().Add(-age),
		DurationMillis: durationMs,
		RowCount:       rows,
		Succeeded:      ok,
	}))
}

func rows(v int64) *int64 { return &v }

func TestEvaluate_UnknownAsset(t *testing.T) {
	f := newFixture(t)
	_, err := f.monitor.Evaluate(context.Background(), "nope")
	assert.True(t, errors.Is(err, registry.ErrNotFound))
}

func TestEvaluate_NoHistoryIsOK(t *testing.T) {
	f := newFixture(t)
	f.addAsset(t, "a", 900)

	verdict, err := f.monitor.Evaluate(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, SeverityOK, verdict.Severity)
	assert.Empty(t, verdict.ReasonCodes())
}

func TestEvaluate_LatestFailureIsCritical(t *testing.T) {
	f := newFixture(t)
	f.addAsset(t, "a", 0)
	f.addRun(t, "a", 2*time.Hour, 1000, rows(100), true)
	f.addRun(t, "a", time.Minute, 1000, rows(100), false)

	verdict, err := f.monitor.Evaluate(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, SeverityCritical, verdict.Severity)
	assert.Equal(t, []ReasonCode{ReasonExecutionFailed}, verdict.ReasonCodes())
}

func TestEvaluate_OverdueWarningAndCritical(t *testing.T) {
	f := newFixture(t)
	f.addAsset(t, "warn", 900)
	f.addRun(t, "warn", 2000*time.Second, 1000, nil, true)

	verdict, err := f.monitor.Evaluate(context.Background(), "warn")
	require.NoError(t, err)
	assert.Equal(t, SeverityWarning, verdict.Severity)
	assert.Equal(t, []ReasonCode{ReasonOverdueExecution}, verdict.ReasonCodes())

	// Overdue beyond 4x the interval escalates to critical.
	f.addAsset(t, "crit", 900)
	f.addRun(t, "crit", 4000*time.Second, 1000, nil, true)

	verdict, err = f.monitor.Evaluate(context.Background(), "crit")
	require.NoError(t, err)
	assert.Equal(t, SeverityCritical, verdict.Severity)
	assert.Equal(t, []ReasonCode{ReasonOverdueExecution}, verdict.ReasonCodes())
}

func TestEvaluate_FreshAssetNotOverdue(t *testing.T) {
	f := newFixture(t)
	f.addAsset(t, "a", 900)
	f.addRun(t, "a", 10*time.Minute, 1000, nil, true)

	verdict, err := f.monitor.Evaluate(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, SeverityOK, verdict.Severity)
}

func TestEvaluate_VolumeAnomaly(t *testing.T) {
	f := newFixture(t)
	f.addAsset(t, "a", 0)
	for i := 4; i >= 1; i-- {
		f.addRun(t, "a", time.Duration(i)*time.Hour, 1000, rows(1000), true)
	}
	f.addRun(t, "a", time.Minute, 1000, rows(100), true)

	verdict, err := f.monitor.Evaluate(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, []ReasonCode{ReasonVolumeAnomaly}, verdict.ReasonCodes())
	assert.Equal(t, SeverityWarning, verdict.Severity)
	require.NotNil(t, verdict.Metrics.LatestRowCount)
	assert.Equal(t, int64(100), *verdict.Metrics.LatestRowCount)
	require.NotNil(t, verdict.Metrics.BaselineRowCount)
	assert.InDelta(t, 1000.0, *verdict.Metrics.BaselineRowCount, 0.001)
}

func TestEvaluate_VolumeNeedsMinimumSamples(t *testing.T) {
	f := newFixture(t)
	f.addAsset(t, "a", 0)
	// Only two prior samples: below the minimum of three, no finding.
	f.addRun(t, "a", 2*time.Hour, 1000, rows(1000), true)
	f.addRun(t, "a", time.Hour, 1000, rows(1000), true)
	f.addRun(t, "a", time.Minute, 1000, rows(10), true)

	verdict, err := f.monitor.Evaluate(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, SeverityOK, verdict.Severity)
	assert.Empty(t, verdict.ReasonCodes())
}

func TestEvaluate_SlowExecution(t *testing.T) {
	f := newFixture(t)
	f.addAsset(t, "a", 0)
	for i := 4; i >= 1; i-- {
		f.addRun(t, "a", time.Duration(i)*time.Hour, 1000, nil, true)
	}
	f.addRun(t, "a", time.Minute, 2500, nil, true)

	verdict, err := f.monitor.Evaluate(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, []ReasonCode{ReasonSlowExecution}, verdict.ReasonCodes())

	// A faster-than-baseline run is not anomalous.
	f.addRun(t, "a", time.Second, 100, nil, true)
	verdict, err = f.monitor.Evaluate(context.Background(), "a")
	require.NoError(t, err)
	assert.NotContains(t, verdict.ReasonCodes(), ReasonSlowExecution)
}

func TestEvaluate_CompoundAnomaliesEscalate(t *testing.T) {
	// Asset with a 900s interval, last successful run 2000s ago with a
	// row count 90% below baseline: overdue plus volume anomaly, and the
	// compounding escalates the verdict to critical.
	f := newFixture(t)
	f.addAsset(t, "a", 900)
	for i := 4; i >= 2; i-- {
		f.addRun(t, "a", time.Duration(i)*time.Hour, 1000, rows(1000), true)
	}
	f.addRun(t, "a", 2000*time.Second, 1000, rows(100), true)

	verdict, err := f.monitor.Evaluate(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, SeverityCritical, verdict.Severity)
	assert.Equal(t, []ReasonCode{ReasonOverdueExecution, ReasonVolumeAnomaly}, verdict.ReasonCodes())
}

func TestEvaluate_IsIdempotentOnSameInputs(t *testing.T) {
	f := newFixture(t)
	f.addAsset(t, "a", 0)
	f.addRun(t, "a", time.Minute, 1000, rows(100), false)

	first, err := f.monitor.Evaluate(context.Background(), "a")
	require.NoError(t, err)
	second, err := f.monitor.Evaluate(context.Background(), "a")
	require.NoError(t, err)

	assert.Equal(t, first.Severity, second.Severity)
	assert.Equal(t, first.ReasonCodes(), second.ReasonCodes())
}

func TestEvaluateAll_SkipsRetired(t *testing.T) {
	f := newFixture(t)
	f.addAsset(t, "a", 0)
	f.addAsset(t, "b", 0)
	require.NoError(t, f.assets.MarkRetired("b"))

	verdicts, err := f.monitor.EvaluateAll(context.Background())
	require.NoError(t, err)
	require.Len(t, verdicts, 1)
	assert.Equal(t, "a", verdicts[0].AssetKey)
}

func TestVerdictStore_LatestAll(t *testing.T) {
	f := newFixture(t)
	f.addAsset(t, "a", 0)
	f.addAsset(t, "b", 0)

	_, err := f.monitor.EvaluateAll(context.Background())
	require.NoError(t, err)
	f.addRun(t, "a", time.Minute, 1000, nil, false)
	_, err = f.monitor.EvaluateAll(context.Background())
	require.NoError(t, err)

	latest, err := f.verdicts.LatestAll()
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, "a", latest[0].AssetKey)
	assert.Equal(t, SeverityCritical, latest[0].Severity)
	assert.Equal(t, "b", latest[1].AssetKey)
}

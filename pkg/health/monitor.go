// Package health evaluates recent execution records per asset against
// anomaly heuristics and emits point-in-time health verdicts. Evaluation
// is a pure read-and-derive step: it never mutates execution records,
// and missing data is absence of a finding, not an anomaly.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/pipewatch/pipewatch/pkg/executions"
	"github.com/pipewatch/pipewatch/pkg/registry"
)

// Config holds the anomaly thresholds of the monitor.
type Config struct {
	LookbackRuns        int           // max runs per evaluation window. Default 10.
	LookbackWindow      time.Duration // max age of runs in the window. Default 24h.
	MissedRunMultiplier float64       // overdue threshold = interval × multiplier. Default 2.
	OverdueCriticalMult float64       // critical once overdue by this × interval. Default 4.
	VolumeRatio         float64       // row-count deviation ratio. Default 0.5 (±50%).
	TimingRatio         float64       // duration slowdown ratio. Default 1.0 (+100%).
	MinSamples          int           // prior samples required for anomaly checks. Default 3.
}

// DefaultConfig returns the default monitor configuration.
func DefaultConfig() Config {
	return Config{
		LookbackRuns:        10,
		LookbackWindow:      24 * time.Hour,
		MissedRunMultiplier: 2,
		OverdueCriticalMult: 4,
		VolumeRatio:         0.5,
		TimingRatio:         1.0,
		MinSamples:          3,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.LookbackRuns <= 0 {
		c.LookbackRuns = def.LookbackRuns
	}
	if c.LookbackWindow <= 0 {
		c.LookbackWindow = def.LookbackWindow
	}
	if c.MissedRunMultiplier <= 0 {
		c.MissedRunMultiplier = def.MissedRunMultiplier
	}
	if c.OverdueCriticalMult <= 0 {
		c.OverdueCriticalMult = def.OverdueCriticalMult
	}
	if c.VolumeRatio <= 0 {
		c.VolumeRatio = def.VolumeRatio
	}
	if c.TimingRatio <= 0 {
		c.TimingRatio = def.TimingRatio
	}
	if c.MinSamples <= 0 {
		c.MinSamples = def.MinSamples
	}
	return c
}

// Monitor evaluates asset health from registry state and the execution
// record feed.
type Monitor struct {
	assets   *registry.MetadataStore
	execs    *executions.ExecutionStore
	verdicts *VerdictStore
	cfg      Config
	logger   *slog.Logger
}

// NewMonitor creates a health monitor. verdicts may be nil, in which
// case verdicts are returned but not persisted.
func NewMonitor(assets *registry.MetadataStore, execs *executions.ExecutionStore, verdicts *VerdictStore, cfg Config, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		assets:   assets,
		execs:    execs,
		verdicts: verdicts,
		cfg:      cfg.withDefaults(),
		logger:   logger,
	}
}

// Evaluate produces and persists a verdict for one asset.
func (m *Monitor) Evaluate(ctx context.Context, key string) (*Verdict, error) {
	record, err := m.assets.Get(key)
	if err != nil {
		return nil, err
	}
	return m.evaluateRecord(ctx, record)
}

// EvaluateAll produces a verdict for every non-retired asset.
func (m *Monitor) EvaluateAll(ctx context.Context) ([]Verdict, error) {
	records, err := m.assets.List(registry.ListFilter{})
	if err != nil {
		return nil, err
	}

	verdicts := make([]Verdict, 0, len(records))
	for i := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if records[i].Status == registry.StatusRetired {
			continue
		}
		verdict, err := m.evaluateRecord(ctx, &records[i])
		if err != nil {
			return nil, fmt.Errorf("evaluate %s: %w", records[i].Key, err)
		}
		verdicts = append(verdicts, *verdict)
	}

	m.logger.Info("health evaluation complete", "assets", len(verdicts))
	return verdicts, nil
}

func (m *Monitor) evaluateRecord(ctx context.Context, record *registry.AssetRecord) (*Verdict, error) {
	now := time.Now().UTC()

	window, err := m.execs.RecentWindow(record.Key, m.cfg.LookbackRuns, now.Add(-m.cfg.LookbackWindow))
	if err != nil {
		return nil, err
	}
	latestEver, err := m.execs.Latest(record.Key)
	if err != nil {
		return nil, err
	}

	verdict := &Verdict{
		ID:          uuid.NewString(),
		AssetKey:    record.Key,
		EvaluatedAt: now,
		Severity:    SeverityOK,
		Metrics:     Metrics{SampleCount: len(window)},
	}

	// Findings accumulate in a stable order: failure, staleness, volume,
	// timing. Severity aggregates as the max, escalated to critical when
	// anomalies compound.
	if f := m.checkFailure(window); f != nil {
		verdict.Findings = append(verdict.Findings, *f)
	}
	if f := m.checkStaleness(record, latestEver, now); f != nil {
		verdict.Findings = append(verdict.Findings, *f)
	}
	if f := m.checkVolume(window, &verdict.Metrics); f != nil {
		verdict.Findings = append(verdict.Findings, *f)
	}
	if f := m.checkTiming(window, &verdict.Metrics); f != nil {
		verdict.Findings = append(verdict.Findings, *f)
	}

	for _, f := range verdict.Findings {
		verdict.Severity = MaxSeverity(verdict.Severity, f.Severity)
	}
	if len(verdict.Findings) >= 2 {
		verdict.Severity = SeverityCritical
	}

	if m.verdicts != nil {
		if err := m.verdicts.Save(verdict); err != nil {
			return nil, err
		}
	}
	if verdict.Severity != SeverityOK {
		m.logger.Warn("asset unhealthy",
			"key", record.Key,
			"severity", verdict.Severity,
			"reasons", verdict.ReasonCodes())
	}
	return verdict, nil
}

// checkFailure flags an asset whose most recent run failed.
func (m *Monitor) checkFailure(window []executions.ExecutionRecord) *Finding {
	if len(window) == 0 || window[0].Succeeded {
		return nil
	}
	detail := "most recent execution failed"
	if window[0].ErrorSummary != "" {
		detail = fmt.Sprintf("most recent execution failed: %s", window[0].ErrorSummary)
	}
	return &Finding{Reason: ReasonExecutionFailed, Severity: SeverityCritical, Detail: detail}
}

// checkStaleness flags an asset whose declared update interval has
// lapsed without a run. An asset that has never executed carries no
// staleness reference point and is skipped.
func (m *Monitor) checkStaleness(record *registry.AssetRecord, latest *executions.ExecutionRecord, now time.Time) *Finding {
	if record.UpdateIntervalSeconds <= 0 || latest == nil {
		return nil
	}
	interval := time.Duration(record.UpdateIntervalSeconds) * time.Second
	age := now.Sub(latest.StartedAt)

	warnAfter := time.Duration(float64(interval) * m.cfg.MissedRunMultiplier)
	criticalAfter := time.Duration(float64(interval) * m.cfg.OverdueCriticalMult)
	if age <= warnAfter {
		return nil
	}

	severity := SeverityWarning
	if age > criticalAfter {
		severity = SeverityCritical
	}
	return &Finding{
		Reason:   ReasonOverdueExecution,
		Severity: severity,
		Detail:   fmt.Sprintf("last execution %s ago, declared interval %s", age.Round(time.Second), interval),
	}
}

// checkVolume compares the latest row count to the mean of the prior
// window.
func (m *Monitor) checkVolume(window []executions.ExecutionRecord, metrics *Metrics) *Finding {
	if len(window) == 0 || window[0].RowCount == nil {
		return nil
	}
	latest := *window[0].RowCount
	metrics.LatestRowCount = &latest

	var prior []float64
	for _, rec := range window[1:] {
		if rec.RowCount != nil {
			prior = append(prior, float64(*rec.RowCount))
		}
	}
	if len(prior) < m.cfg.MinSamples {
		return nil
	}

	baseline := mean(prior)
	metrics.BaselineRowCount = &baseline
	if baseline == 0 {
		return nil
	}

	deviation := (float64(latest) - baseline) / baseline
	if math.Abs(deviation) <= m.cfg.VolumeRatio {
		return nil
	}
	return &Finding{
		Reason:   ReasonVolumeAnomaly,
		Severity: SeverityWarning,
		Detail:   fmt.Sprintf("row count %d deviates %+.0f%% from baseline %.0f", latest, deviation*100, baseline),
	}
}

// checkTiming flags runs that are substantially slower than the prior
// window's mean. Only slowdowns are anomalous; a fast run is fine.
func (m *Monitor) checkTiming(window []executions.ExecutionRecord, metrics *Metrics) *Finding {
	if len(window) == 0 {
		return nil
	}
	latest := window[0].DurationMillis
	metrics.LatestDurationMillis = &latest

	var prior []float64
	for _, rec := range window[1:] {
		prior = append(prior, float64(rec.DurationMillis))
	}
	if len(prior) < m.cfg.MinSamples {
		return nil
	}

	baseline := mean(prior)
	metrics.BaselineDurationMillis = &baseline
	if baseline == 0 {
		return nil
	}

	deviation := (float64(latest) - baseline) / baseline
	if deviation <= m.cfg.TimingRatio {
		return nil
	}
	return &Finding{
		Reason:   ReasonSlowExecution,
		Severity: SeverityWarning,
		Detail:   fmt.Sprintf("duration %dms is %+.0f%% over baseline %.0fms", latest, deviation*100, baseline),
	}
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

package health

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Severity of a health finding or verdict.
type Severity string

const (
	SeverityOK       Severity = "ok"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// rank orders severities for max aggregation.
func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 2
	case SeverityWarning:
		return 1
	default:
		return 0
	}
}

// MaxSeverity returns the more severe of a and b.
func MaxSeverity(a, b Severity) Severity {
	if b.rank() > a.rank() {
		return b
	}
	return a
}

// ReasonCode enumerates the anomaly kinds a verdict can carry.
type ReasonCode string

const (
	ReasonExecutionFailed  ReasonCode = "ExecutionFailed"
	ReasonOverdueExecution ReasonCode = "OverdueExecution"
	ReasonVolumeAnomaly    ReasonCode = "VolumeAnomaly"
	ReasonSlowExecution    ReasonCode = "SlowExecution"
)

// Finding is one anomaly detected during evaluation, with its own
// severity. A verdict carries zero or more findings in a stable order.
type Finding struct {
	Reason   ReasonCode `json:"reason"`
	Severity Severity   `json:"severity"`
	Detail   string     `json:"detail,omitempty"`
}

// Findings is a custom GORM type for []Finding stored as JSON.
type Findings []Finding

// Scan implements the sql.Scanner interface for Findings.
func (f *Findings) Scan(value any) error {
	if value == nil {
		*f = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case string:
		bytes = []byte(v)
	case []byte:
		bytes = v
	default:
		return fmt.Errorf("unsupported type for Findings: %T", value)
	}
	return json.Unmarshal(bytes, f)
}

// Value implements the driver.Valuer interface for Findings.
func (f Findings) Value() (driver.Value, error) {
	if f == nil {
		return nil, nil
	}
	b, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Metrics is the snapshot of the observed values and baselines the
// verdict was derived from.
type Metrics struct {
	LatestDurationMillis   *int64   `json:"latestDurationMillis,omitempty"`
	BaselineDurationMillis *float64 `json:"baselineDurationMillis,omitempty"`
	LatestRowCount         *int64   `json:"latestRowCount,omitempty"`
	BaselineRowCount       *float64 `json:"baselineRowCount,omitempty"`
	SampleCount            int      `json:"sampleCount"`
}

// Scan implements the sql.Scanner interface for Metrics.
func (m *Metrics) Scan(value any) error {
	if value == nil {
		*m = Metrics{}
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case string:
		bytes = []byte(v)
	case []byte:
		bytes = v
	default:
		return fmt.Errorf("unsupported type for Metrics: %T", value)
	}
	return json.Unmarshal(bytes, m)
}

// Value implements the driver.Valuer interface for Metrics.
func (m Metrics) Value() (driver.Value, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Verdict is a point-in-time health assessment of one asset. Verdicts
// are append-only facts; re-evaluating the same inputs yields the same
// verdict content.
type Verdict struct {
	ID          string    `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	AssetKey    string    `gorm:"column:asset_key;index:idx_verdict_key_time,priority:1;not null" json:"assetKey"`
	EvaluatedAt time.Time `gorm:"column:evaluated_at;index:idx_verdict_key_time,priority:2;not null" json:"evaluatedAt"`
	Severity    Severity  `gorm:"column:severity;not null" json:"severity"`
	Findings    Findings  `gorm:"column:findings;type:text" json:"findings"`
	Metrics     Metrics   `gorm:"column:metrics;type:text" json:"metrics"`
}

// TableName returns the GORM table name.
func (Verdict) TableName() string { return "health_verdicts" }

// ReasonCodes returns the ordered reason codes of the verdict's findings.
func (v *Verdict) ReasonCodes() []ReasonCode {
	codes := make([]ReasonCode, 0, len(v.Findings))
	for _, f := range v.Findings {
		codes = append(codes, f.Reason)
	}
	return codes
}

// HasReason reports whether the verdict carries the given reason code.
func (v *Verdict) HasReason(reason ReasonCode) bool {
	for _, f := range v.Findings {
		if f.Reason == reason {
			return true
		}
	}
	return false
}

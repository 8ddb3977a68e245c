package executions

import (
	"time"
)

// ExecutionRecord is one observed pipeline run for an asset. Records are
// append-only facts owned by whatever runs the pipelines; the core only
// reads a bounded recent window per asset.
type ExecutionRecord struct {
	ID             string    `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	AssetKey       string    `gorm:"column:asset_key;index:idx_exec_key_time,priority:1;not null" json:"assetKey"`
	StartedAt      time.Time `gorm:"column:started_at;index:idx_exec_key_time,priority:2;not null" json:"startedAt"`
	DurationMillis int64     `gorm:"column:duration_ms" json:"durationMillis"`
	RowCount       *int64    `gorm:"column:row_count" json:"rowCount,omitempty"`
	Succeeded      bool      `gorm:"column:succeeded;not null" json:"succeeded"`
	ErrorSummary   string    `gorm:"column:error_summary" json:"errorSummary,omitempty"`
}

// TableName returns the GORM table name.
func (ExecutionRecord) TableName() string { return "asset_executions" }

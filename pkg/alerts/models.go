package alerts

import (
	"time"

	"github.com/pipewatch/pipewatch/pkg/health"
)

// AlertState is the lifecycle state of an alert.
type AlertState string

const (
	StateOpen         AlertState = "open"
	StateAcknowledged AlertState = "acknowledged"
	StateResolved     AlertState = "resolved"
)

// Alert is a stateful, deduplicated record of a health issue. At most
// one unresolved alert exists per (asset key, reason code) pair;
// re-raising the same condition refreshes LastSeenAt instead of opening
// a duplicate.
type Alert struct {
	ID            string            `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	AssetKey      string            `gorm:"column:asset_key;index:idx_alert_key_state,priority:1;not null" json:"assetKey"`
	Reason        health.ReasonCode `gorm:"column:reason;not null" json:"reason"`
	Severity      health.Severity   `gorm:"column:severity;not null" json:"severity"`
	State         AlertState        `gorm:"column:state;index:idx_alert_key_state,priority:2;index:idx_alert_state;default:open;not null" json:"state"`
	Detail        string            `gorm:"column:detail" json:"detail,omitempty"`
	FirstRaisedAt time.Time         `gorm:"column:first_raised_at;not null" json:"firstRaisedAt"`
	LastSeenAt    time.Time         `gorm:"column:last_seen_at;not null" json:"lastSeenAt"`
	ResolvedAt    *time.Time        `gorm:"column:resolved_at" json:"resolvedAt,omitempty"`
}

// TableName returns the GORM table name.
func (Alert) TableName() string { return "asset_alerts" }

// IsUnresolved reports whether the alert is still live.
func (a *Alert) IsUnresolved() bool {
	return a.State == StateOpen || a.State == StateAcknowledged
}

// Delta summarizes what one Process call changed.
type Delta struct {
	Opened   int `json:"opened"`
	Updated  int `json:"updated"`
	Resolved int `json:"resolved"`
}

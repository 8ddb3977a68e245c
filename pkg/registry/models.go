package registry

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// AssetStatus is the registry lifecycle status of an asset.
type AssetStatus string

const (
	StatusActive  AssetStatus = "active"
	StatusStale   AssetStatus = "stale"
	StatusRetired AssetStatus = "retired"
)

// JSONStringSlice is a custom GORM type for []string stored as JSON.
type JSONStringSlice []string

// Scan implements the sql.Scanner interface for JSONStringSlice.
func (s *JSONStringSlice) Scan(value any) error {
	if value == nil {
		*s = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case string:
		bytes = []byte(v)
	case []byte:
		bytes = v
	default:
		return fmt.Errorf("unsupported type for JSONStringSlice: %T", value)
	}
	return json.Unmarshal(bytes, s)
}

// Value implements the driver.Valuer interface for JSONStringSlice.
func (s JSONStringSlice) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// JSONStringMap is a custom GORM type for map[string]string stored as JSON.
type JSONStringMap map[string]string

// Scan implements the sql.Scanner interface for JSONStringMap.
func (m *JSONStringMap) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case string:
		bytes = []byte(v)
	case []byte:
		bytes = v
	default:
		return fmt.Errorf("unsupported type for JSONStringMap: %T", value)
	}
	return json.Unmarshal(bytes, m)
}

// Value implements the driver.Valuer interface for JSONStringMap.
func (m JSONStringMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// AssetRecord is the canonical registry entry for one pipeline asset.
// Records are never physically deleted; retirement is a status flag so
// history stays available for governance reporting.
type AssetRecord struct {
	Key                   string          `gorm:"primaryKey;column:asset_key;type:varchar(255)" json:"key"`
	Name                  string          `gorm:"column:asset_name" json:"name"`
	Group                 string          `gorm:"column:group_name;index:idx_asset_group" json:"group"`
	Owners                JSONStringSlice `gorm:"column:owners;type:text" json:"owners"`
	Tags                  JSONStringMap   `gorm:"column:tags;type:text" json:"tags"`
	Description           string          `gorm:"column:description" json:"description"`
	Dependencies          JSONStringSlice `gorm:"column:dependencies;type:text" json:"dependencies"`
	UpdateIntervalSeconds int             `gorm:"column:update_interval_seconds;default:0" json:"updateIntervalSeconds"`
	Status                AssetStatus     `gorm:"column:status;index:idx_asset_status;default:active;not null" json:"status"`
	MissedPasses          int             `gorm:"column:missed_passes;default:0" json:"missedPasses"`
	Version               int             `gorm:"column:version;default:1" json:"version"`
	LastDiscoveredAt      time.Time       `gorm:"column:last_discovered_at" json:"lastDiscoveredAt"`
	LastUpdatedAt         time.Time       `gorm:"column:last_updated_at" json:"lastUpdatedAt"`
	CreatedAt             time.Time       `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}

// TableName returns the GORM table name.
func (AssetRecord) TableName() string { return "asset_records" }

// MateriallyEqual reports whether two records carry the same declared
// metadata, ignoring timestamps, version, and registry-managed status
// fields. It decides whether an upsert is a real change or a re-sighting.
func (r *AssetRecord) MateriallyEqual(other *AssetRecord) bool {
	if r.Name != other.Name ||
		r.Group != other.Group ||
		r.Description != other.Description ||
		r.UpdateIntervalSeconds != other.UpdateIntervalSeconds {
		return false
	}
	if !stringSlicesEqual(r.Owners, other.Owners) {
		return false
	}
	if !stringSlicesEqual(r.Dependencies, other.Dependencies) {
		return false
	}
	if len(r.Tags) != len(other.Tags) {
		return false
	}
	for k, v := range r.Tags {
		if ov, ok := other.Tags[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

func stringSlicesEqual(a, b JSONStringSlice) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

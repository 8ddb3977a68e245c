// Package executions stores the append-only execution record feed the
// health monitor evaluates. The feed is produced externally; the write
// path here exists for the pipeline runners (and the simulate-run
// tooling) to publish facts into.
package executions

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ExecutionStore provides access to the execution record feed.
type ExecutionStore struct {
	db *gorm.DB
}

// NewExecutionStore creates an ExecutionStore backed by db.
func NewExecutionStore(db *gorm.DB) *ExecutionStore {
	return &ExecutionStore{db: db}
}

// AutoMigrate creates or updates the asset_executions table.
func (s *ExecutionStore) AutoMigrate() error {
	if err := s.db.AutoMigrate(&ExecutionRecord{}); err != nil {
		return fmt.Errorf("auto-migrate asset_executions: %w", err)
	}
	return nil
}

// Record appends one execution record. A missing ID is assigned.
func (s *ExecutionStore) Record(record *ExecutionRecord) error {
	if record.AssetKey == "" {
		return fmt.Errorf("record execution: empty asset key")
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.StartedAt.IsZero() {
		record.StartedAt = time.Now().UTC()
	}
	if err := s.db.Create(record).Error; err != nil {
		return fmt.Errorf("record execution for %s: %w", record.AssetKey, err)
	}
	return nil
}

// RecentWindow returns up to maxRuns executions for key started at or
// after since, newest first. It is the lookback window the health
// monitor evaluates.
func (s *ExecutionStore) RecentWindow(key string, maxRuns int, since time.Time) ([]ExecutionRecord, error) {
	q := s.db.Where("asset_key = ?", key)
	if !since.IsZero() {
		q = q.Where("started_at >= ?", since)
	}
	var records []ExecutionRecord
	if err := q.Order("started_at DESC").Limit(maxRuns).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("recent executions for %s: %w", key, err)
	}
	return records, nil
}

// Latest returns the most recent execution for key, or nil if none exists.
func (s *ExecutionStore) Latest(key string) (*ExecutionRecord, error) {
	var record ExecutionRecord
	err := s.db.Where("asset_key = ?", key).Order("started_at DESC").First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest execution for %s: %w", key, err)
	}
	return &record, nil
}

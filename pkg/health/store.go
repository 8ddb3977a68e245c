package health

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// VerdictStore persists health verdicts append-only.
type VerdictStore struct {
	db *gorm.DB
}

// NewVerdictStore creates a VerdictStore backed by db.
func NewVerdictStore(db *gorm.DB) *VerdictStore {
	return &VerdictStore{db: db}
}

// AutoMigrate creates or updates the health_verdicts table.
func (s *VerdictStore) AutoMigrate() error {
	if err := s.db.AutoMigrate(&Verdict{}); err != nil {
		return fmt.Errorf("auto-migrate health_verdicts: %w", err)
	}
	return nil
}

// Save appends one verdict.
func (s *VerdictStore) Save(verdict *Verdict) error {
	if err := s.db.Create(verdict).Error; err != nil {
		return fmt.Errorf("save verdict for %s: %w", verdict.AssetKey, err)
	}
	return nil
}

// Latest returns the most recent verdict for key, or nil if the asset
// has never been evaluated.
func (s *VerdictStore) Latest(key string) (*Verdict, error) {
	var verdict Verdict
	err := s.db.Where("asset_key = ?", key).
		Order("evaluated_at DESC").First(&verdict).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest verdict for %s: %w", key, err)
	}
	return &verdict, nil
}

// LatestAll returns the most recent verdict per asset.
func (s *VerdictStore) LatestAll() ([]Verdict, error) {
	var verdicts []Verdict
	err := s.db.Where(`evaluated_at = (
		SELECT MAX(v2.evaluated_at) FROM health_verdicts v2
		WHERE v2.asset_key = health_verdicts.asset_key
	)`).Order("asset_key ASC").Find(&verdicts).Error
	if err != nil {
		return nil, fmt.Errorf("latest verdicts: %w", err)
	}
	return verdicts, nil
}

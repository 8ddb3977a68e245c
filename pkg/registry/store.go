// Package registry holds the canonical asset records and the metadata
// store they live in. The store is the single consistency boundary for
// all registry mutations: writers serialize per asset key, readers never
// observe a half-written record.
package registry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"
)

// ErrNotFound is returned when an asset key is not present in the registry.
var ErrNotFound = errors.New("asset not found")

// UpsertOutcome describes what an Upsert call did.
type UpsertOutcome int

const (
	// UpsertCreated means a new record was inserted.
	UpsertCreated UpsertOutcome = iota
	// UpsertUpdated means an existing record changed materially.
	UpsertUpdated
	// UpsertUnchanged means only discovery timestamps were bumped.
	UpsertUnchanged
)

// ListFilter narrows List results. Zero values match everything.
type ListFilter struct {
	Status AssetStatus
	Group  string
	Owner  string
}

// MetadataStore provides durable keyed storage for asset records.
type MetadataStore struct {
	db *gorm.DB

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewMetadataStore creates a MetadataStore backed by db.
func NewMetadataStore(db *gorm.DB) *MetadataStore {
	return &MetadataStore{
		db:    db,
		locks: make(map[string]*sync.Mutex),
	}
}

// AutoMigrate creates or updates the asset_records table.
func (s *MetadataStore) AutoMigrate() error {
	if err := s.db.AutoMigrate(&AssetRecord{}); err != nil {
		return fmt.Errorf("auto-migrate asset_records: %w", err)
	}
	return nil
}

// keyLock returns the mutex guarding writes for one asset key.
func (s *MetadataStore) keyLock(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

// Get retrieves an asset record by key. Returns ErrNotFound if the key
// has never been discovered.
func (s *MetadataStore) Get(key string) (*AssetRecord, error) {
	var record AssetRecord
	err := s.db.Where("asset_key = ?", key).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("get asset %s: %w", key, err)
	}
	return &record, nil
}

// Upsert inserts or refreshes an asset record, applying the smart-update
// rule: a full write happens only when a declared field changed or the
// record's update interval has elapsed since the last material update.
// Otherwise only LastDiscoveredAt is bumped, so an unchanged definition
// re-discovered on every pass never grows the record's history.
//
// A sighting always resets the missed-pass counter and reactivates the
// record, including records previously marked stale or retired.
func (s *MetadataStore) Upsert(incoming *AssetRecord) (UpsertOutcome, error) {
	if incoming.Key == "" {
		return UpsertUnchanged, fmt.Errorf("upsert: empty asset key")
	}

	lock := s.keyLock(incoming.Key)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now().UTC()
	outcome := UpsertUnchanged

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var existing AssetRecord
		err := tx.Where("asset_key = ?", incoming.Key).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			record := *incoming
			record.Status = StatusActive
			record.MissedPasses = 0
			record.Version = 1
			record.LastDiscoveredAt = now
			record.LastUpdatedAt = now
			if err := tx.Create(&record).Error; err != nil {
				return fmt.Errorf("create asset %s: %w", record.Key, err)
			}
			outcome = UpsertCreated
			return nil
		}
		if err != nil {
			return fmt.Errorf("load asset %s: %w", incoming.Key, err)
		}

		if existing.MateriallyEqual(incoming) {
			updates := map[string]any{
				"last_discovered_at": now,
				"status":             StatusActive,
				"missed_passes":      0,
			}
			// Interval 0 means update on every pass.
			interval := time.Duration(existing.UpdateIntervalSeconds) * time.Second
			if interval == 0 || now.Sub(existing.LastUpdatedAt) >= interval {
				updates["last_updated_at"] = now
			}
			if err := tx.Model(&AssetRecord{}).Where("asset_key = ?", existing.Key).
				Updates(updates).Error; err != nil {
				return fmt.Errorf("refresh asset %s: %w", existing.Key, err)
			}
			outcome = UpsertUnchanged
			return nil
		}

		record := *incoming
		record.Status = StatusActive
		record.MissedPasses = 0
		record.Version = existing.Version + 1
		record.CreatedAt = existing.CreatedAt
		record.LastDiscoveredAt = now
		record.LastUpdatedAt = now
		if err := tx.Model(&AssetRecord{}).Where("asset_key = ?", record.Key).
			Updates(map[string]any{
				"asset_name":              record.Name,
				"group_name":              record.Group,
				"owners":                  record.Owners,
				"tags":                    record.Tags,
				"description":             record.Description,
				"dependencies":            record.Dependencies,
				"update_interval_seconds": record.UpdateIntervalSeconds,
				"status":                  record.Status,
				"missed_passes":           0,
				"version":                 record.Version,
				"last_discovered_at":      now,
				"last_updated_at":         now,
			}).Error; err != nil {
			return fmt.Errorf("update asset %s: %w", record.Key, err)
		}
		outcome = UpsertUpdated
		return nil
	})
	if err != nil {
		return UpsertUnchanged, err
	}
	return outcome, nil
}

// List returns all records matching filter, ordered by key.
func (s *MetadataStore) List(filter ListFilter) ([]AssetRecord, error) {
	q := s.db.Model(&AssetRecord{})
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Group != "" {
		q = q.Where("group_name = ?", filter.Group)
	}

	var records []AssetRecord
	if err := q.Order("asset_key ASC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}

	if filter.Owner == "" {
		return records, nil
	}
	// Owners live in a JSON column; filter in memory rather than relying
	// on dialect-specific JSON operators.
	filtered := records[:0]
	for _, r := range records {
		for _, o := range r.Owners {
			if o == filter.Owner {
				filtered = append(filtered, r)
				break
			}
		}
	}
	return filtered, nil
}

// MarkMissed increments the missed-pass counter for a record absent from
// the latest discovery pass and applies the hysteresis transitions:
// Active records go Stale after staleAfter consecutive misses, and any
// record goes Retired after retireAfter. The updated record is returned.
func (s *MetadataStore) MarkMissed(key string, staleAfter, retireAfter int) (*AssetRecord, error) {
	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	var record AssetRecord
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("asset_key = ?", key).First(&record).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", ErrNotFound, key)
			}
			return fmt.Errorf("load asset %s: %w", key, err)
		}

		record.MissedPasses++
		if retireAfter > 0 && record.MissedPasses >= retireAfter {
			record.Status = StatusRetired
		} else if staleAfter > 0 && record.MissedPasses >= staleAfter && record.Status == StatusActive {
			record.Status = StatusStale
		}

		if err := tx.Model(&AssetRecord{}).Where("asset_key = ?", key).
			Updates(map[string]any{
				"missed_passes": record.MissedPasses,
				"status":        record.Status,
			}).Error; err != nil {
			return fmt.Errorf("mark missed %s: %w", key, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// MarkRetired force-retires a record regardless of its miss counter.
func (s *MetadataStore) MarkRetired(key string) error {
	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	result := s.db.Model(&AssetRecord{}).Where("asset_key = ?", key).
		Update("status", StatusRetired)
	if result.Error != nil {
		return fmt.Errorf("retire asset %s: %w", key, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return nil
}

// Package alerts converts health verdicts into deduplicated, stateful
// alerts. Processing converges: replaying a stable verdict sequence is
// idempotent and a chronic condition never grows the alert count.
package alerts

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pipewatch/pipewatch/pkg/health"
)

// ErrNotFound is returned when an alert ID does not exist.
var ErrNotFound = errors.New("alert not found")

// ErrNotOpen is returned when acknowledging an alert that is not in the
// open state.
var ErrNotOpen = errors.New("alert is not open")

// ListFilter narrows List results. Zero values match everything.
type ListFilter struct {
	AssetKey string
	State    AlertState
}

// Manager owns the alert lifecycle. Only the manager mutates alerts,
// except for the manual acknowledge transition it exposes.
type Manager struct {
	db     *gorm.DB
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager creates an alert manager backed by db.
func NewManager(db *gorm.DB, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		db:     db,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}
}

// AutoMigrate creates or updates the asset_alerts table.
func (m *Manager) AutoMigrate() error {
	if err := m.db.AutoMigrate(&Alert{}); err != nil {
		return fmt.Errorf("auto-migrate asset_alerts: %w", err)
	}
	return nil
}

func (m *Manager) assetLock(key string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[key]
	if !ok {
		l = &sync.Mutex{}
		m.locks[key] = l
	}
	return l
}

// Process reconciles the alert set for one asset against its latest
// verdict. Reasons present in the verdict open or refresh alerts;
// unresolved alerts whose reason disappeared are resolved. Severity only
// escalates automatically; de-escalation happens through resolution
// when the reason clears.
func (m *Manager) Process(verdict *health.Verdict) (*Delta, error) {
	lock := m.assetLock(verdict.AssetKey)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now().UTC()
	delta := &Delta{}

	err := m.db.Transaction(func(tx *gorm.DB) error {
		var unresolved []Alert
		if err := tx.Where("asset_key = ? AND state IN ?", verdict.AssetKey,
			[]AlertState{StateOpen, StateAcknowledged}).Find(&unresolved).Error; err != nil {
			return fmt.Errorf("load alerts for %s: %w", verdict.AssetKey, err)
		}
		byReason := make(map[health.ReasonCode]*Alert, len(unresolved))
		for i := range unresolved {
			byReason[unresolved[i].Reason] = &unresolved[i]
		}

		for _, finding := range verdict.Findings {
			if finding.Severity == health.SeverityOK {
				continue
			}
			existing, ok := byReason[finding.Reason]
			if !ok {
				alert := Alert{
					ID:            uuid.NewString(),
					AssetKey:      verdict.AssetKey,
					Reason:        finding.Reason,
					Severity:      finding.Severity,
					State:         StateOpen,
					Detail:        finding.Detail,
					FirstRaisedAt: now,
					LastSeenAt:    now,
				}
				if err := tx.Create(&alert).Error; err != nil {
					return fmt.Errorf("open alert for %s/%s: %w", verdict.AssetKey, finding.Reason, err)
				}
				delta.Opened++
				m.logger.Info("alert opened",
					"asset", verdict.AssetKey, "reason", finding.Reason, "severity", finding.Severity)
				continue
			}

			updates := map[string]any{
				"last_seen_at": now,
				"detail":       finding.Detail,
			}
			if health.MaxSeverity(existing.Severity, finding.Severity) != existing.Severity {
				updates["severity"] = finding.Severity
			}
			if err := tx.Model(&Alert{}).Where("id = ?", existing.ID).
				Updates(updates).Error; err != nil {
				return fmt.Errorf("refresh alert %s: %w", existing.ID, err)
			}
			delta.Updated++
			delete(byReason, finding.Reason)
		}

		// Whatever remains unresolved had its reason clear: resolve it.
		for _, stale := range byReason {
			if verdict.HasReason(stale.Reason) {
				continue
			}
			if err := tx.Model(&Alert{}).Where("id = ?", stale.ID).
				Updates(map[string]any{
					"state":       StateResolved,
					"resolved_at": now,
				}).Error; err != nil {
				return fmt.Errorf("resolve alert %s: %w", stale.ID, err)
			}
			delta.Resolved++
			m.logger.Info("alert resolved", "asset", verdict.AssetKey, "reason", stale.Reason)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return delta, nil
}

// ProcessAll folds a batch of verdicts into one delta.
func (m *Manager) ProcessAll(verdicts []health.Verdict) (*Delta, error) {
	total := &Delta{}
	for i := range verdicts {
		delta, err := m.Process(&verdicts[i])
		if err != nil {
			return nil, err
		}
		total.Opened += delta.Opened
		total.Updated += delta.Updated
		total.Resolved += delta.Resolved
	}
	return total, nil
}

// Acknowledge transitions an open alert to acknowledged. It is the
// manual, operator-triggered transition; processing never produces it.
func (m *Manager) Acknowledge(id string) error {
	result := m.db.Model(&Alert{}).
		Where("id = ? AND state = ?", id, StateOpen).
		Update("state", StateAcknowledged)
	if result.Error != nil {
		return fmt.Errorf("acknowledge alert %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		var alert Alert
		err := m.db.Where("id = ?", id).First(&alert).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("acknowledge alert %s: %w", id, err)
		}
		return fmt.Errorf("%w: %s is %s", ErrNotOpen, id, alert.State)
	}
	return nil
}

// List returns alerts matching filter, newest first.
func (m *Manager) List(filter ListFilter) ([]Alert, error) {
	q := m.db.Model(&Alert{})
	if filter.AssetKey != "" {
		q = q.Where("asset_key = ?", filter.AssetKey)
	}
	if filter.State != "" {
		q = q.Where("state = ?", filter.State)
	}
	var alerts []Alert
	if err := q.Order("last_seen_at DESC").Find(&alerts).Error; err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	return alerts, nil
}

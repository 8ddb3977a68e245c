package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/pipewatch/pipewatch/pkg/registry"
)

// ErrAlreadyRunning is returned when a discovery pass is requested while
// another is in flight. The request is rejected, never queued.
var ErrAlreadyRunning = errors.New("discovery pass already running")

// Config controls the retirement hysteresis of the engine.
type Config struct {
	StaleAfterMisses  int // consecutive missed passes before Active goes Stale. Default 3.
	RetireAfterMisses int // consecutive missed passes before Retired. Default 10.
}

// DefaultConfig returns the default discovery configuration.
func DefaultConfig() Config {
	return Config{
		StaleAfterMisses:  3,
		RetireAfterMisses: 10,
	}
}

// Report summarizes one discovery pass.
type Report struct {
	Added     int `json:"added"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Missing   int `json:"missing"`
	Invalid   int `json:"invalid"`
}

// Engine diffs the definition feed against the registry.
type Engine struct {
	store  *registry.MetadataStore
	source Source
	cfg    Config
	logger *slog.Logger

	running atomic.Bool
}

// NewEngine creates a discovery engine over store and source.
func NewEngine(store *registry.MetadataStore, source Source, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.StaleAfterMisses <= 0 {
		cfg.StaleAfterMisses = DefaultConfig().StaleAfterMisses
	}
	if cfg.RetireAfterMisses <= 0 {
		cfg.RetireAfterMisses = DefaultConfig().RetireAfterMisses
	}
	return &Engine{
		store:  store,
		source: source,
		cfg:    cfg,
		logger: logger,
	}
}

// RunPass executes one discovery pass: enumerate the feed, upsert every
// valid definition, and mark registry records absent from the feed as
// missed. Only one pass may run at a time; a concurrent request fails
// with ErrAlreadyRunning.
//
// A malformed definition is logged and skipped; it never aborts the
// pass for the remaining assets.
func (e *Engine) RunPass(ctx context.Context) (*Report, error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}
	defer e.running.Store(false)

	definitions, err := e.source.Definitions(ctx)
	if err != nil {
		return nil, fmt.Errorf("enumerate definitions: %w", err)
	}

	report := &Report{}
	seen := mapset.NewSet[string]()

	for _, def := range definitions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := def.Validate(); err != nil {
			e.logger.Warn("skipping invalid asset definition", "key", def.Key, "error", err)
			report.Invalid++
			continue
		}
		if seen.Contains(def.Key) {
			e.logger.Warn("skipping duplicate asset definition", "key", def.Key)
			report.Invalid++
			continue
		}
		seen.Add(def.Key)

		outcome, err := e.store.Upsert(recordFromDefinition(&def))
		if err != nil {
			return nil, fmt.Errorf("upsert asset %s: %w", def.Key, err)
		}
		switch outcome {
		case registry.UpsertCreated:
			report.Added++
		case registry.UpsertUpdated:
			report.Updated++
		default:
			report.Unchanged++
		}
	}

	// Anything still tracked but absent from this pass gets a miss.
	// Retired records already aged out; their counter stays where it is.
	known, err := e.store.List(registry.ListFilter{})
	if err != nil {
		return nil, fmt.Errorf("list registry: %w", err)
	}
	tracked := mapset.NewSet[string]()
	for _, rec := range known {
		if rec.Status != registry.StatusRetired {
			tracked.Add(rec.Key)
		}
	}

	for key := range tracked.Difference(seen).Iter() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := e.store.MarkMissed(key, e.cfg.StaleAfterMisses, e.cfg.RetireAfterMisses)
		if err != nil {
			return nil, fmt.Errorf("mark missed %s: %w", key, err)
		}
		report.Missing++
		if rec.Status != registry.StatusActive {
			e.logger.Info("asset aged by discovery",
				"key", key, "status", rec.Status, "missedPasses", rec.MissedPasses)
		}
	}

	e.logger.Info("discovery pass complete",
		"added", report.Added,
		"updated", report.Updated,
		"unchanged", report.Unchanged,
		"missing", report.Missing,
		"invalid", report.Invalid)
	return report, nil
}

func recordFromDefinition(def *Definition) *registry.AssetRecord {
	name := def.Name
	if name == "" {
		name = def.Key
	}
	return &registry.AssetRecord{
		Key:                   def.Key,
		Name:                  name,
		Group:                 def.Group,
		Owners:                registry.JSONStringSlice(def.Owners),
		Tags:                  registry.JSONStringMap(def.Tags),
		Description:           def.Description,
		Dependencies:          registry.JSONStringSlice(def.Dependencies),
		UpdateIntervalSeconds: def.UpdateIntervalSeconds,
	}
}

// Package discovery scans the declared asset definition feed and keeps
// the registry in sync with it: first sightings create records, changed
// definitions update them, and assets that stop appearing age out
// through stale to retired instead of being deleted.
package discovery

import (
	"context"
	"fmt"
	"strings"
)

// Definition is one declared asset as supplied by the definition feed.
// Definitions are pure metadata; the engine never executes asset logic.
type Definition struct {
	Key                   string            `yaml:"key" json:"key"`
	Name                  string            `yaml:"name" json:"name"`
	Group                 string            `yaml:"group" json:"group"`
	Owners                []string          `yaml:"owners" json:"owners"`
	Tags                  map[string]string `yaml:"tags" json:"tags"`
	Description           string            `yaml:"description" json:"description"`
	Dependencies          []string          `yaml:"dependencies" json:"dependencies"`
	UpdateIntervalSeconds int               `yaml:"updateIntervalSeconds" json:"updateIntervalSeconds"`
}

// Validate reports why a definition is malformed, or nil.
func (d *Definition) Validate() error {
	if strings.TrimSpace(d.Key) == "" {
		return fmt.Errorf("definition has empty key")
	}
	if d.UpdateIntervalSeconds < 0 {
		return fmt.Errorf("definition %s: negative update interval %d", d.Key, d.UpdateIntervalSeconds)
	}
	for _, dep := range d.Dependencies {
		if strings.TrimSpace(dep) == "" {
			return fmt.Errorf("definition %s: empty dependency reference", d.Key)
		}
	}
	return nil
}

// Source supplies the full set of currently declared asset definitions.
// Enumeration must be complete each call; ordering is not significant.
type Source interface {
	Definitions(ctx context.Context) ([]Definition, error)
}

// StaticSource is a Source over a fixed slice, used in tests and for
// programmatic feeds.
type StaticSource []Definition

// Definitions implements Source.
func (s StaticSource) Definitions(_ context.Context) ([]Definition, error) {
	return []Definition(s), nil
}

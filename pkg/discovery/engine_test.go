package discovery

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/pipewatch/pipewatch/pkg/registry"
)

func newTestRegistry(t *testing.T) *registry.MetadataStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	store := registry.NewMetadataStore(db)
	require.NoError(t, store.AutoMigrate())
	return store
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func defs(keys ...string) StaticSource {
	out := make(StaticSource, 0, len(keys))
	for _, k := range keys {
		out = append(out, Definition{
			Key:    k,
			Group:  "ingestion",
			Owners: []string{"data-eng@example.com"},
		})
	}
	return out
}

func TestEngine_FirstPassAddsAll(t *testing.T) {
	store := newTestRegistry(t)
	engine := NewEngine(store, defs("a", "b", "c"), DefaultConfig(), testLogger())

	report, err := engine.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &Report{Added: 3}, report)

	records, err := store.List(registry.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func TestEngine_SecondPassUnchanged(t *testing.T) {
	store := newTestRegistry(t)
	engine := NewEngine(store, defs("a", "b"), DefaultConfig(), testLogger())

	_, err := engine.RunPass(context.Background())
	require.NoError(t, err)

	report, err := engine.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &Report{Unchanged: 2}, report)
}

func TestEngine_ChangedDefinitionUpdates(t *testing.T) {
	store := newTestRegistry(t)
	feed := defs("a")
	engine := NewEngine(store, &mutableSource{defs: feed}, DefaultConfig(), testLogger())

	_, err := engine.RunPass(context.Background())
	require.NoError(t, err)

	changed := defs("a")
	changed[0].Description = "now with documentation"
	engine.source.(*mutableSource).defs = changed

	report, err := engine.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Updated)

	rec, err := store.Get("a")
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Version)
}

func TestEngine_InvalidDefinitionSkippedNotFatal(t *testing.T) {
	store := newTestRegistry(t)
	feed := StaticSource{
		{Key: "good", Group: "ingestion"},
		{Key: "", Group: "ingestion"},                    // empty key
		{Key: "bad.interval", UpdateIntervalSeconds: -5}, // negative interval
		{Key: "good", Group: "ingestion"},                // duplicate
	}
	engine := NewEngine(store, feed, DefaultConfig(), testLogger())

	report, err := engine.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Added)
	assert.Equal(t, 3, report.Invalid)

	_, err = store.Get("good")
	assert.NoError(t, err)
}

func TestEngine_MissingHysteresisToStale(t *testing.T) {
	store := newTestRegistry(t)
	src := &mutableSource{defs: defs("a", "b")}
	cfg := Config{StaleAfterMisses: 3, RetireAfterMisses: 10}
	engine := NewEngine(store, src, cfg, testLogger())

	_, err := engine.RunPass(context.Background())
	require.NoError(t, err)

	// Asset "b" disappears from the feed for three consecutive passes.
	src.defs = defs("a")
	for i := 0; i < 3; i++ {
		report, err := engine.RunPass(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, report.Missing)
	}

	rec, err := store.Get("b")
	require.NoError(t, err)
	assert.Equal(t, registry.StatusStale, rec.Status)
	assert.Equal(t, 3, rec.MissedPasses)

	// Still present and queryable, never deleted.
	all, err := store.List(registry.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestEngine_MissingHysteresisToRetired(t *testing.T) {
	store := newTestRegistry(t)
	src := &mutableSource{defs: defs("a")}
	cfg := Config{StaleAfterMisses: 2, RetireAfterMisses: 4}
	engine := NewEngine(store, src, cfg, testLogger())

	_, err := engine.RunPass(context.Background())
	require.NoError(t, err)

	src.defs = StaticSource{}
	for i := 0; i < 4; i++ {
		_, err := engine.RunPass(context.Background())
		require.NoError(t, err)
	}

	rec, err := store.Get("a")
	require.NoError(t, err)
	assert.Equal(t, registry.StatusRetired, rec.Status)

	// Retired records stop accruing misses.
	report, err := engine.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Missing)
}

func TestEngine_RediscoveryReactivates(t *testing.T) {
	store := newTestRegistry(t)
	src := &mutableSource{defs: defs("a")}
	cfg := Config{StaleAfterMisses: 1, RetireAfterMisses: 2}
	engine := NewEngine(store, src, cfg, testLogger())

	_, err := engine.RunPass(context.Background())
	require.NoError(t, err)

	src.defs = StaticSource{}
	for i := 0; i < 2; i++ {
		_, err := engine.RunPass(context.Background())
		require.NoError(t, err)
	}
	rec, err := store.Get("a")
	require.NoError(t, err)
	require.Equal(t, registry.StatusRetired, rec.Status)

	src.defs = defs("a")
	_, err = engine.RunPass(context.Background())
	require.NoError(t, err)

	rec, err = store.Get("a")
	require.NoError(t, err)
	assert.Equal(t, registry.StatusActive, rec.Status)
	assert.Equal(t, 0, rec.MissedPasses)
}

func TestEngine_ConcurrentPassRejected(t *testing.T) {
	store := newTestRegistry(t)
	release := make(chan struct{})
	started := make(chan struct{})
	src := &blockingSource{release: release, started: started}
	engine := NewEngine(store, src, DefaultConfig(), testLogger())

	done := make(chan error, 1)
	go func() {
		_, err := engine.RunPass(context.Background())
		done <- err
	}()

	<-started
	_, err := engine.RunPass(context.Background())
	assert.True(t, errors.Is(err, ErrAlreadyRunning))

	close(release)
	require.NoError(t, <-done)

	// Once the first pass finishes, a new one is accepted again.
	_, err = engine.RunPass(context.Background())
	assert.NoError(t, err)
}

// mutableSource lets tests swap the feed between passes.
type mutableSource struct {
	defs StaticSource
}

func (m *mutableSource) Definitions(ctx context.Context) ([]Definition, error) {
	return m.defs.Definitions(ctx)
}

// blockingSource blocks enumeration until released.
type blockingSource struct {
	release chan struct{}
	started chan struct{}
	once    bool
}

func (b *blockingSource) Definitions(_ context.Context) ([]Definition, error) {
	if !b.once {
		b.once = true
		close(b.started)
		<-b.release
	}
	return nil, nil
}

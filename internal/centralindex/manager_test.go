package centralindex

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/crosscheck-systems/crosscheck/internal/models"
)

// setupTestManager creates a PostgreSQL testcontainer, runs migrations and
// wires a Manager with primary == replica and no job queue.
func setupTestManager(t *testing.T) *Manager {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:17-alpine",
		postgres.WithDatabase("crosscheck_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("pgx", connStr)
	require.NoError(t, err)
	defer db.Close()
	files, err := filepath.Glob(filepath.Join("..", "..", "migrations", "*.up.sql"))
	require.NoError(t, err)
	sort.Strings(files)
	for _, f := range files {
		data, err := os.ReadFile(f)
		require.NoError(t, err)
		_, err = db.Exec(string(data))
		require.NoError(t, err, fmt.Sprintf("migration %s failed", f))
	}

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return NewManager(pool, nil, nil, nil)
}

func TestResolveSiteIndexIsStable(t *testing.T) {
	m := setupTestManager(t)
	ctx := context.Background()

	first, err := m.ResolveSiteIndex(ctx, "enwiki")
	require.NoError(t, err)
	second, err := m.ResolveSiteIndex(ctx, "dewiki")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	again, err := m.ResolveSiteIndex(ctx, "enwiki")
	require.NoError(t, err)
	assert.Equal(t, first, again, "repeat resolution returns the same index")
}

func TestCentralUserLifecycle(t *testing.T) {
	m := setupTestManager(t)
	ctx := context.Background()

	id, err := m.EnsureCentralUser(ctx, "Alice")
	require.NoError(t, err)
	assert.NotZero(t, id)

	again, err := m.EnsureCentralUser(ctx, "Alice")
	require.NoError(t, err)
	assert.Equal(t, id, again)

	looked, err := m.LookupCentralUser(ctx, "Alice")
	require.NoError(t, err)
	assert.Equal(t, id, looked)

	_, err = m.LookupCentralUser(ctx, "Nobody")
	assert.ErrorIs(t, err, ErrNoCentralIdentity)
}

func TestApplyActivityKeepsMaxTimestamp(t *testing.T) {
	m := setupTestManager(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	userID, err := m.EnsureCentralUser(ctx, "Alice")
	require.NoError(t, err)
	siteIdx, err := m.ResolveSiteIndex(ctx, "enwiki")
	require.NoError(t, err)

	require.NoError(t, m.ApplyActivity(ctx, userID, siteIdx, now))
	// A stale replay must not move last_seen backwards.
	require.NoError(t, m.ApplyActivity(ctx, userID, siteIdx, now.Add(-time.Hour)))

	sites, err := m.ListActiveSites(ctx, userID, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []models.SiteKey{"enwiki"}, sites,
		"entry still inside the window means the stale replay was absorbed")
}

func TestRecordActivityAppliesInline(t *testing.T) {
	m := setupTestManager(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := m.EnsureCentralUser(ctx, "Alice")
	require.NoError(t, err)

	// No job queue wired, so the upsert happens synchronously.
	require.NoError(t, m.RecordActivity(ctx, "Alice", "enwiki", now))

	userID, err := m.LookupCentralUser(ctx, "Alice")
	require.NoError(t, err)
	sites, err := m.ListActiveSites(ctx, userID, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []models.SiteKey{"enwiki"}, sites)

	// Unknown and anonymous performers are silently skipped.
	require.NoError(t, m.RecordActivity(ctx, "Nobody", "enwiki", now))
	require.NoError(t, m.RecordActivity(ctx, "", "enwiki", now))
}

func TestListActiveSitesOrderAndWindow(t *testing.T) {
	m := setupTestManager(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	userID, err := m.EnsureCentralUser(ctx, "Alice")
	require.NoError(t, err)

	for _, s := range []struct {
		key  models.SiteKey
		seen time.Time
	}{
		{"enwiki", now.Add(-time.Hour)},
		{"dewiki", now},
		{"frwiki", now.Add(-200 * 24 * time.Hour)}, // outside any sane lookback
	} {
		idx, err := m.ResolveSiteIndex(ctx, s.key)
		require.NoError(t, err)
		require.NoError(t, m.ApplyActivity(ctx, userID, idx, s.seen))
	}

	sites, err := m.ListActiveSites(ctx, userID, now.Add(-90*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []models.SiteKey{"dewiki", "enwiki"}, sites,
		"most recent first, expired entries excluded")
}

func TestPurgeExpiredIsBounded(t *testing.T) {
	m := setupTestManager(t)
	ctx := context.Background()
	now := time.Now().UTC()
	cutoff := now.Add(-24 * time.Hour)

	siteIdx, err := m.ResolveSiteIndex(ctx, "enwiki")
	require.NoError(t, err)

	var fresh int64
	for i := 0; i < 5; i++ {
		id, err := m.EnsureCentralUser(ctx, fmt.Sprintf("Stale%d", i))
		require.NoError(t, err)
		require.NoError(t, m.ApplyActivity(ctx, id, siteIdx, now.Add(-48*time.Hour)))
	}
	fresh, err = m.EnsureCentralUser(ctx, "Fresh")
	require.NoError(t, err)
	require.NoError(t, m.ApplyActivity(ctx, fresh, siteIdx, now))

	n, err := m.PurgeExpired(ctx, cutoff, "enwiki", 3)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = m.PurgeExpired(ctx, cutoff, "enwiki", 3)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = m.PurgeExpired(ctx, cutoff, "enwiki", 3)
	require.NoError(t, err)
	assert.Zero(t, n)

	sites, err := m.ListActiveSites(ctx, fresh, cutoff)
	require.NoError(t, err)
	assert.Equal(t, []models.SiteKey{"enwiki"}, sites, "fresh entry survives the purge")
}

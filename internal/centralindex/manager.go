// Package centralindex maintains the shared cross-site activity index:
// the site-key mapping and the per-(central user, site) last-seen table
// that federated queries use to discover candidate sites.
package centralindex

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/crosscheck-systems/crosscheck/internal/logging"
	"github.com/crosscheck-systems/crosscheck/internal/models"
)

// ErrNoCentralIdentity is returned when a performer has no entry in the
// central account table. The condition is not transient, so callers skip
// rather than retry.
var ErrNoCentralIdentity = errors.New("no central identity for performer")

// ActivityEnqueuer hands an activity upsert to the background job queue.
// Duplicate enqueues for the same (site, user) must collapse to the one
// carrying the latest timestamp.
type ActivityEnqueuer interface {
	EnqueueActivityUpdate(ctx context.Context, siteIndex int32, centralUserID int64, ts time.Time) error
}

// Manager owns all access to the shared central store. Reads prefer the
// replica pool; writes and read-backs go to the primary.
type Manager struct {
	primary *pgxpool.Pool
	replica *pgxpool.Pool
	jobs    ActivityEnqueuer
	logger  *logging.Logger
}

// NewManager wires a manager. replica may equal primary in single-node
// deployments; jobs may be nil when only the read path is needed.
func NewManager(primary, replica *pgxpool.Pool, jobs ActivityEnqueuer, logger *logging.Logger) *Manager {
	if replica == nil {
		replica = primary
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Manager{primary: primary, replica: replica, jobs: jobs, logger: logger}
}

// ResolveSiteIndex maps a site key to its small integer index, creating
// the mapping on first sight. Concurrent first-writers converge on the
// same index: the insert ignores conflicts and the primary read-back is
// authoritative. The insert auto-commits so it stays visible even if a
// surrounding transaction on the caller's side rolls back.
func (m *Manager) ResolveSiteIndex(ctx context.Context, siteKey models.SiteKey) (int32, error) {
	var idx int32
	err := m.replica.QueryRow(ctx,
		`SELECT site_index FROM cc_sites WHERE site_key = $1`, siteKey).Scan(&idx)
	if err == nil {
		return idx, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("failed to read site index for %q: %w", siteKey, err)
	}

	if _, err := m.primary.Exec(ctx,
		`INSERT INTO cc_sites (site_key) VALUES ($1) ON CONFLICT (site_key) DO NOTHING`,
		siteKey); err != nil {
		return 0, fmt.Errorf("failed to insert site %q: %w", siteKey, err)
	}

	if err := m.primary.QueryRow(ctx,
		`SELECT site_index FROM cc_sites WHERE site_key = $1`, siteKey).Scan(&idx); err != nil {
		return 0, fmt.Errorf("failed to read back site index for %q: %w", siteKey, err)
	}
	return idx, nil
}

// LookupCentralUser resolves a performer name to its central user ID,
// replica first. A replica miss escalates to the primary: the account may
// have been created moments ago and not replicated yet. A primary miss is
// ErrNoCentralIdentity.
func (m *Manager) LookupCentralUser(ctx context.Context, name string) (int64, error) {
	var id int64
	err := m.replica.QueryRow(ctx,
		`SELECT central_user_id FROM cc_global_users WHERE name = $1`, name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("failed replica lookup for %q: %w", name, err)
	}

	err = m.primary.QueryRow(ctx,
		`SELECT central_user_id FROM cc_global_users WHERE name = $1`, name).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w: %q", ErrNoCentralIdentity, name)
	}
	if err != nil {
		return 0, fmt.Errorf("failed primary lookup for %q: %w", name, err)
	}
	return id, nil
}

// EnsureCentralUser registers a global account name, returning the
// existing ID when the name is already taken. Same insert-ignore plus
// read-back shape as ResolveSiteIndex.
func (m *Manager) EnsureCentralUser(ctx context.Context, name string) (int64, error) {
	if _, err := m.primary.Exec(ctx,
		`INSERT INTO cc_global_users (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`,
		name); err != nil {
		return 0, fmt.Errorf("failed to insert central user %q: %w", name, err)
	}

	var id int64
	if err := m.primary.QueryRow(ctx,
		`SELECT central_user_id FROM cc_global_users WHERE name = $1`, name).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to read back central user %q: %w", name, err)
	}
	return id, nil
}

// RecordActivity notes that a performer acted on a site. Anonymous
// performers are a no-op: the index is keyed by durable central identity.
// The actual upsert happens on the background queue so the hot request
// path never blocks on the shared store.
func (m *Manager) RecordActivity(ctx context.Context, performer string, siteKey models.SiteKey, ts time.Time) error {
	if performer == "" {
		return nil
	}

	centralID, err := m.LookupCentralUser(ctx, performer)
	if errors.Is(err, ErrNoCentralIdentity) {
		// Not transient; skip rather than retry.
		m.logger.DebugContext(ctx, "skipping activity record, no central identity",
			"performer", performer)
		return nil
	}
	if err != nil {
		return err
	}

	siteIndex, err := m.ResolveSiteIndex(ctx, siteKey)
	if err != nil {
		return err
	}

	if m.jobs == nil {
		return m.ApplyActivity(ctx, centralID, siteIndex, ts)
	}
	return m.jobs.EnqueueActivityUpdate(ctx, siteIndex, centralID, ts)
}

// ApplyActivity upserts the last-seen entry, keeping the maximum
// timestamp. Safe to re-apply: the merge is last-write-wins-by-max, so
// duplicates and reordered deliveries converge.
func (m *Manager) ApplyActivity(ctx context.Context, centralUserID int64, siteIndex int32, ts time.Time) error {
	_, err := m.primary.Exec(ctx,
		`INSERT INTO cc_global_activity (central_user_id, site_index, last_seen)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (central_user_id, site_index)
		 DO UPDATE SET last_seen = GREATEST(cc_global_activity.last_seen, EXCLUDED.last_seen)`,
		centralUserID, siteIndex, ts)
	if err != nil {
		return fmt.Errorf("failed to apply activity upsert: %w", err)
	}
	return nil
}

// ListActiveSites returns every site the central user acted on since the
// lookback bound, most recent first. This list, not static configuration,
// decides which sites a federated query contacts.
func (m *Manager) ListActiveSites(ctx context.Context, centralUserID int64, since time.Time) ([]models.SiteKey, error) {
	rows, err := m.replica.Query(ctx,
		`SELECT s.site_key
		 FROM cc_global_activity a
		 JOIN cc_sites s ON s.site_index = a.site_index
		 WHERE a.central_user_id = $1 AND a.last_seen >= $2
		 ORDER BY a.last_seen DESC`,
		centralUserID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list active sites: %w", err)
	}
	defer rows.Close()

	var sites []models.SiteKey
	for rows.Next() {
		var key models.SiteKey
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan site key: %w", err)
		}
		sites = append(sites, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("site iteration failed: %w", err)
	}
	return sites, nil
}

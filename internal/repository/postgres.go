package repository

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/crosscheck-systems/crosscheck/internal/models"
	"github.com/crosscheck-systems/crosscheck/internal/target"
)

// PostgresStore implements Store over a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to the local event store.
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 5
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// NewPostgresStoreFromPool wraps an existing pool (tests, shared pools).
func NewPostgresStoreFromPool(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Pool exposes the underlying pool for migrations and tests.
func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

// LookupUser resolves a registered account name to its user ID.
func (s *PostgresStore) LookupUser(ctx context.Context, name string) (int64, bool, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`SELECT user_id FROM cc_local_users WHERE name = $1`, name).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to look up user %q: %w", name, err)
	}
	return id, true, nil
}

// QueryEvents executes an assembled query selecting the normalized shape
// (id, user_id, user_text, actor_id, ip, ip_hex, agent, ts, src).
func (s *PostgresStore) QueryEvents(ctx context.Context, sql string, args []any) ([]models.EventRow, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()
	return scanEventRows(rows)
}

func scanEventRows(rows pgx.Rows) ([]models.EventRow, error) {
	var out []models.EventRow
	for rows.Next() {
		var (
			r   models.EventRow
			src string
		)
		if err := rows.Scan(&r.ID, &r.UserID, &r.UserText, &r.ActorID,
			&r.IP, &r.IPHex, &r.Agent, &r.TS, &src); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		if kind, ok := models.ParseTableKind(src); ok {
			r.Table = kind
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("event row iteration failed: %w", err)
	}
	return out, nil
}

// QueryCompare executes an assembled compare aggregation.
func (s *PostgresStore) QueryCompare(ctx context.Context, sql string, args []any) ([]models.CompareRow, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query compare rows: %w", err)
	}
	defer rows.Close()

	var out []models.CompareRow
	for rows.Next() {
		var r models.CompareRow
		if err := rows.Scan(&r.UserID, &r.UserText, &r.IP, &r.IPHex, &r.Agent,
			&r.FirstTS, &r.LastTS, &r.Total, &r.ActorID); err != nil {
			return nil, fmt.Errorf("failed to scan compare row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("compare row iteration failed: %w", err)
	}
	return out, nil
}

// Exists runs a truncation probe; any returned row means true.
func (s *PostgresStore) Exists(ctx context.Context, sql string, args []any) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx, sql, args...).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("existence probe failed: %w", err)
	}
	return true, nil
}

// RecordEvent inserts one event row. Registered performers get an actor
// link created on first sight; anonymous performers on the private-events
// table are stored without one.
func (s *PostgresStore) RecordEvent(ctx context.Context, req models.RecordEventRequest) (models.EventRow, error) {
	kind, ok := models.ParseTableKind(req.Table)
	if !ok {
		return models.EventRow{}, fmt.Errorf("%w: %q", ErrUnknownTable, req.Table)
	}

	addr, err := netip.ParseAddr(req.IP)
	if err != nil {
		return models.EventRow{}, fmt.Errorf("invalid performer IP %q: %w", req.IP, err)
	}
	ipHex := target.HexForAddr(addr)

	var actorID *int64
	if req.UserName != "" {
		id, err := s.ensureActor(ctx, req.UserName)
		if err != nil {
			return models.EventRow{}, err
		}
		actorID = &id
	} else if kind != models.TablePrivateEvents {
		// Anonymous edits and log actions still carry an actor row named
		// after the IP; only private events may be actor-less.
		id, err := s.ensureAnonActor(ctx, req.IP)
		if err != nil {
			return models.EventRow{}, err
		}
		actorID = &id
	}

	ts := req.TS
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	var table, prefix string
	switch kind {
	case models.TableEdits:
		table, prefix = "cc_edits", "ce"
	case models.TableLogEvents:
		table, prefix = "cc_log_actions", "cl"
	case models.TablePrivateEvents:
		table, prefix = "cc_private_events", "cp"
	}

	var id int64
	insert := fmt.Sprintf(
		`INSERT INTO %s (%s_actor_id, %s_ip, %s_ip_hex, %s_agent, %s_ts)
		 VALUES ($1, $2, $3, $4, $5) RETURNING %s_id`,
		table, prefix, prefix, prefix, prefix, prefix, prefix)
	if err := s.pool.QueryRow(ctx, insert, actorID, req.IP, ipHex, req.Agent, ts).Scan(&id); err != nil {
		return models.EventRow{}, fmt.Errorf("failed to insert %s event: %w", kind, err)
	}

	row := models.EventRow{
		ID:       id,
		UserText: req.UserName,
		ActorID:  actorID,
		IP:       req.IP,
		IPHex:    ipHex,
		Agent:    req.Agent,
		TS:       ts,
		Table:    kind,
	}
	if row.UserText == "" {
		row.UserText = req.IP
	}
	return row, nil
}

// ensureActor creates the local user and actor rows for a registered
// account if missing and returns the actor ID. Concurrent first-writers
// converge via insert-ignore-then-read-back.
func (s *PostgresStore) ensureActor(ctx context.Context, name string) (int64, error) {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO cc_local_users (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, name)
	if err != nil {
		return 0, fmt.Errorf("failed to ensure local user %q: %w", name, err)
	}

	var userID int64
	if err := s.pool.QueryRow(ctx,
		`SELECT user_id FROM cc_local_users WHERE name = $1`, name).Scan(&userID); err != nil {
		return 0, fmt.Errorf("failed to read back local user %q: %w", name, err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO cc_actors (user_id, name) VALUES ($1, $2) ON CONFLICT (name) DO NOTHING`,
		userID, name)
	if err != nil {
		return 0, fmt.Errorf("failed to ensure actor %q: %w", name, err)
	}

	var actorID int64
	if err := s.pool.QueryRow(ctx,
		`SELECT actor_id FROM cc_actors WHERE name = $1`, name).Scan(&actorID); err != nil {
		return 0, fmt.Errorf("failed to read back actor %q: %w", name, err)
	}
	return actorID, nil
}

func (s *PostgresStore) ensureAnonActor(ctx context.Context, ip string) (int64, error) {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO cc_actors (user_id, name) VALUES (NULL, $1) ON CONFLICT (name) DO NOTHING`, ip)
	if err != nil {
		return 0, fmt.Errorf("failed to ensure anonymous actor %q: %w", ip, err)
	}
	var actorID int64
	if err := s.pool.QueryRow(ctx,
		`SELECT actor_id FROM cc_actors WHERE name = $1`, ip).Scan(&actorID); err != nil {
		return 0, fmt.Errorf("failed to read back anonymous actor %q: %w", ip, err)
	}
	return actorID, nil
}

// PurgeEvents deletes up to maxRows rows older than cutoff, locking the
// victims first so concurrent writers are not raced.
func (s *PostgresStore) PurgeEvents(ctx context.Context, kind models.TableKind, cutoff time.Time, maxRows int) (int, error) {
	var table, prefix string
	switch kind {
	case models.TableEdits:
		table, prefix = "cc_edits", "ce"
	case models.TableLogEvents:
		table, prefix = "cc_log_actions", "cl"
	case models.TablePrivateEvents:
		table, prefix = "cc_private_events", "cp"
	default:
		return 0, fmt.Errorf("%w: %d", ErrUnknownTable, kind)
	}

	sql := fmt.Sprintf(
		`DELETE FROM %s WHERE %s_id IN (
			SELECT %s_id FROM %s WHERE %s_ts < $1
			ORDER BY %s_ts LIMIT $2 FOR UPDATE)`,
		table, prefix, prefix, table, prefix, prefix)

	tag, err := s.pool.Exec(ctx, sql, cutoff, maxRows)
	if err != nil {
		return 0, fmt.Errorf("failed to purge %s events: %w", kind, err)
	}
	return int(tag.RowsAffected()), nil
}

// SitePools implements SiteFetcher over lazily opened per-site pools.
type SitePools struct {
	dsns  map[models.SiteKey]string
	local models.SiteKey

	mu    sync.Mutex
	pools map[models.SiteKey]*pgxpool.Pool
}

// NewSitePools builds a fetcher for the given site → DSN map. The local
// site reuses localPool instead of dialing itself.
func NewSitePools(local models.SiteKey, localPool *pgxpool.Pool, dsns map[models.SiteKey]string) *SitePools {
	return &SitePools{
		dsns:  dsns,
		local: local,
		pools: map[models.SiteKey]*pgxpool.Pool{local: localPool},
	}
}

func (sp *SitePools) pool(ctx context.Context, site models.SiteKey) (*pgxpool.Pool, error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	if p, ok := sp.pools[site]; ok {
		return p, nil
	}
	dsn, ok := sp.dsns[site]
	if !ok {
		return nil, fmt.Errorf("no connection configured for site %q", site)
	}
	p, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to site %q: %w", site, err)
	}
	sp.pools[site] = p
	return p, nil
}

// QuerySiteEvents executes an assembled contributions query on one site.
func (sp *SitePools) QuerySiteEvents(ctx context.Context, site models.SiteKey, sql string, args []any) ([]models.EventRow, error) {
	p, err := sp.pool(ctx, site)
	if err != nil {
		return nil, err
	}
	rows, err := p.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query site %q: %w", site, err)
	}
	defer rows.Close()
	return scanEventRows(rows)
}

// Close closes every per-site pool except the shared local one.
func (sp *SitePools) Close() {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	for site, p := range sp.pools {
		if site != sp.local {
			p.Close()
		}
	}
	sp.pools = map[models.SiteKey]*pgxpool.Pool{}
}

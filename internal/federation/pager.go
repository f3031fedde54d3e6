package federation

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/crosscheck-systems/crosscheck/internal/capability"
	"github.com/crosscheck-systems/crosscheck/internal/centralindex"
	"github.com/crosscheck-systems/crosscheck/internal/fragment"
	"github.com/crosscheck-systems/crosscheck/internal/logging"
	"github.com/crosscheck-systems/crosscheck/internal/metrics"
	"github.com/crosscheck-systems/crosscheck/internal/models"
	"github.com/crosscheck-systems/crosscheck/internal/repository"
	"github.com/crosscheck-systems/crosscheck/internal/sites"
	"github.com/crosscheck-systems/crosscheck/internal/target"
)

// ErrUnresolvableTarget is returned when the federated target is neither
// an IP, a range nor a known central account.
var ErrUnresolvableTarget = errors.New("unresolvable federated target")

// Discoverer is the slice of the central index the pager consumes.
type Discoverer interface {
	LookupCentralUser(ctx context.Context, name string) (int64, error)
	ListActiveSites(ctx context.Context, centralUserID int64, since time.Time) ([]models.SiteKey, error)
}

// LocalAuthority evaluates the invoking authority's permission on the
// local site in-process; remote sites go through the capability endpoint.
type LocalAuthority func(authority string) bool

// Config tunes the pager.
type Config struct {
	LocalSite      models.SiteKey
	Lookback       time.Duration
	MaxConcurrency int
	SiteTimeout    time.Duration
	PageDeadline   time.Duration
	Capabilities   []string
	RangeLimits    target.RangeLimits
}

// Pager answers federated contribution queries: discover candidate sites,
// fan out, merge, and hand back reversible cursors.
type Pager struct {
	cfg      Config
	index    Discoverer
	registry *sites.Registry
	fetcher  repository.SiteFetcher
	caps     capability.Checker
	local    LocalAuthority
	opts     fragment.Options
	logger   *logging.Logger
}

// NewPager wires a pager.
func NewPager(cfg Config, index Discoverer, registry *sites.Registry, fetcher repository.SiteFetcher, caps capability.Checker, local LocalAuthority, opts fragment.Options, logger *logging.Logger) *Pager {
	if cfg.Lookback <= 0 {
		cfg.Lookback = 90 * 24 * time.Hour
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 8
	}
	if cfg.SiteTimeout <= 0 {
		cfg.SiteTimeout = 5 * time.Second
	}
	if cfg.PageDeadline <= 0 {
		cfg.PageDeadline = 15 * time.Second
	}
	if len(cfg.Capabilities) == 0 {
		cfg.Capabilities = []string{"investigate"}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Pager{
		cfg:      cfg,
		index:    index,
		registry: registry,
		fetcher:  fetcher,
		caps:     caps,
		local:    local,
		opts:     opts,
		logger:   logger,
	}
}

// Request is one federated page request.
type Request struct {
	Target    string
	Authority string
	Limit     int
	Cursor    string
}

// resolveTarget builds the per-site predicate without consulting any one
// site's local user table: usernames are matched by actor name so the
// same predicate works on every site, and existence is validated against
// the central account table instead.
func (p *Pager) resolveTarget(ctx context.Context, raw string) (*target.Predicate, int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, 0, ErrUnresolvableTarget
	}

	if addr, err := netip.ParseAddr(raw); err == nil {
		return &target.Predicate{Kind: target.KindIP, Hex: target.HexForAddr(addr)}, 0, nil
	}
	if prefix, err := netip.ParsePrefix(raw); err == nil {
		limits := p.cfg.RangeLimits
		min := limits.V4MinPrefix
		if !prefix.Addr().Is4() {
			min = limits.V6MinPrefix
		}
		if prefix.Bits() < min {
			return nil, 0, ErrUnresolvableTarget
		}
		pred, _ := target.NewResolver(nil, limits).Resolve(ctx, raw)
		if pred == nil {
			return nil, 0, ErrUnresolvableTarget
		}
		return pred, 0, nil
	}

	centralID, err := p.index.LookupCentralUser(ctx, raw)
	if errors.Is(err, centralindex.ErrNoCentralIdentity) {
		return nil, 0, ErrUnresolvableTarget
	}
	if err != nil {
		return nil, 0, err
	}
	return &target.Predicate{Kind: target.KindUser, UserText: raw, ByName: true}, centralID, nil
}

// discover lists the candidate sites. For account targets the central
// activity index is the source of truth; a site with no recent activity
// is never contacted. IP and range targets have no central identity, so
// every registered site is a candidate and the per-site query decides.
func (p *Pager) discover(ctx context.Context, pred *target.Predicate, centralID int64) ([]models.SiteKey, error) {
	if pred.Kind != target.KindUser {
		return p.registry.Keys(), nil
	}
	since := time.Now().Add(-p.cfg.Lookback)
	active, err := p.index.ListActiveSites(ctx, centralID, since)
	if err != nil {
		return nil, fmt.Errorf("site discovery failed: %w", err)
	}
	// Only sites present in the registry are reachable.
	var out []models.SiteKey
	for _, key := range active {
		if _, ok := p.registry.Lookup(key); ok {
			out = append(out, key)
		}
	}
	return out, nil
}

// checkCapabilities splits candidates into allowed and skipped. The local
// site is decided in-process; remote sites share one batched endpoint
// call whose answer is cached for the logical query. A failing check
// never fails the page, it only shrinks it.
func (p *Pager) checkCapabilities(ctx context.Context, authority string, candidates []models.SiteKey) (allowed []models.SiteKey, skipped []models.SiteKey) {
	var remote []models.SiteKey
	for _, site := range candidates {
		if site == p.cfg.LocalSite {
			if p.local == nil || p.local(authority) {
				allowed = append(allowed, site)
			} else {
				skipped = append(skipped, site)
			}
			continue
		}
		remote = append(remote, site)
	}
	if len(remote) == 0 {
		return allowed, skipped
	}

	remoteAllowed, err := p.caps.Check(ctx, authority, p.cfg.Capabilities, remote)
	if err != nil {
		p.logger.WarnContext(ctx, "capability check failed, skipping remote sites",
			"sites", len(remote), "error", err)
		return allowed, append(skipped, remote...)
	}
	for _, site := range remote {
		if remoteAllowed[site] {
			allowed = append(allowed, site)
		} else {
			skipped = append(skipped, site)
		}
	}
	return allowed, skipped
}

// buildSiteSQL assembles one site's contributions query. Fragments are
// left unordered and unlimited; the outer select applies the page
// boundary translated into the site's local ordering.
func (p *Pager) buildSiteSQL(pred *target.Predicate, cursor *Cursor, fetch int) (string, []any) {
	opts := p.opts
	opts.OrderedUnions = false

	cutoff := time.Now().Add(-p.cfg.Lookback)
	args := &fragment.Args{}
	var frags []string
	for _, kind := range models.AllTableKinds {
		sql, ok := fragment.Build(pred, nil, &cutoff, kind, 0, opts, args)
		if !ok {
			continue
		}
		frags = append(frags, sql)
	}
	body := strings.Join(frags, " UNION ALL ")

	where := ""
	order := "ORDER BY u.ts DESC, u.id DESC"
	if cursor != nil {
		if cursor.Dir == DirPrev {
			where = fmt.Sprintf(" WHERE u.ts >= %s", args.Add(cursor.TS))
			order = "ORDER BY u.ts ASC, u.id ASC"
		} else {
			where = fmt.Sprintf(" WHERE u.ts <= %s", args.Add(cursor.TS))
		}
	}

	sql := fmt.Sprintf(
		"SELECT u.id, u.user_id, u.user_text, u.actor_id, u.ip, u.ip_hex, u.agent, u.ts, u.src FROM (%s) u%s %s LIMIT %d",
		body, where, order, fetch)
	return sql, args.Values()
}

// fanOut queries every allowed site concurrently under the page deadline.
// A site that errors or misses the deadline contributes nothing; partial
// results beat all-or-nothing for investigators.
func (p *Pager) fanOut(ctx context.Context, allowed []models.SiteKey, pred *target.Predicate, cursor *Cursor, fetch int) ([]siteBatch, []models.SiteResult) {
	batches := make([]siteBatch, len(allowed))
	statuses := make([]models.SiteResult, len(allowed))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.MaxConcurrency)
	for i, site := range allowed {
		g.Go(func() error {
			sctx, cancel := context.WithTimeout(gctx, p.cfg.SiteTimeout)
			defer cancel()

			start := time.Now()
			sql, args := p.buildSiteSQL(pred, cursor, fetch)
			rows, err := p.fetcher.QuerySiteEvents(sctx, site, sql, args)
			metrics.SiteFetchDuration.Observe(time.Since(start).Seconds())
			if err != nil {
				metrics.SiteFetchFailures.WithLabelValues(string(site)).Inc()
				p.logger.WarnContext(ctx, "site fetch failed, degrading to empty",
					"site", site, "error", err)
				batches[i] = siteBatch{Site: site}
				statuses[i] = models.SiteResult{Site: site, Status: "failed"}
				return nil
			}
			batches[i] = siteBatch{Site: site, Rows: rows}
			statuses[i] = models.SiteResult{Site: site, Status: "ok"}
			return nil
		})
	}
	_ = g.Wait() // per-site errors are degraded, never propagated
	return batches, statuses
}

// Contributions serves one federated page.
func (p *Pager) Contributions(ctx context.Context, req Request) (*models.GlobalPage, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.PageDeadline)
	defer cancel()

	var cursor *Cursor
	if req.Cursor != "" {
		c, err := DecodeCursor(req.Cursor)
		if err != nil {
			return nil, err
		}
		cursor = c
	}

	limit := req.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	pred, centralID, err := p.resolveTarget(ctx, req.Target)
	if err != nil {
		return nil, err
	}

	candidates, err := p.discover(ctx, pred, centralID)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return &models.GlobalPage{}, nil
	}

	allowed, skippedSites := p.checkCapabilities(ctx, req.Authority, candidates)
	metrics.FederatedSitesQueried.Observe(float64(len(allowed)))

	fetch := limit + 2
	if cursor != nil {
		fetch += cursor.Offset
	}
	batches, statuses := p.fanOut(ctx, allowed, pred, cursor, fetch)
	for _, site := range skippedSites {
		statuses = append(statuses, models.SiteResult{Site: site, Status: "skipped"})
	}

	page := assemblePage(batches, cursor, limit)
	page.Sites = statuses
	return page, nil
}

// assemblePage merges the per-site buffers and cuts one page with
// reversible cursors. The merge operates purely on the normalized row
// shape; no per-row extensibility hooks run here, since a local site's
// hooks have no business interpreting another site's rows.
func assemblePage(batches []siteBatch, cursor *Cursor, limit int) *models.GlobalPage {
	backward := cursor != nil && cursor.Dir == DirPrev
	stream := merge(batches, backward)

	// Drop the boundary-run rows the previous page already showed.
	skip := 0
	if cursor != nil {
		run := 0
		for run < len(stream) && stream[run].TS.Equal(cursor.TS) {
			run++
		}
		if backward {
			// Offset counts boundary-run rows before the boundary in
			// canonical order; ascending emission meets the run from its
			// far end, so everything beyond that count is already shown.
			skip = run - cursor.Offset
			if skip < 0 {
				skip = 0
			}
		} else {
			skip = cursor.Offset
			if skip > run {
				skip = run
			}
		}
	}

	taken := stream[min(skip, len(stream)):]
	more := len(taken) > limit
	if more {
		taken = taken[:limit]
	}

	page := &models.GlobalPage{}
	if len(taken) == 0 {
		return page
	}

	if backward {
		// Re-reverse into display order and renumber.
		rows := make([]models.GlobalRow, len(taken))
		for i := range taken {
			rows[len(taken)-1-i] = taken[i]
		}
		for i := range rows {
			rows[i].Seq = i
		}
		page.Rows = rows

		// Forward again lands exactly on the boundary that produced this
		// page.
		page.Next = cursor.flip().Encode()

		if more {
			first := rows[0]
			offset := 0
			if first.TS.Equal(cursor.TS) {
				// Still inside the boundary run, counting down.
				offset = cursor.Offset - len(rows)
			} else {
				// The run's untaken remainder sits just past the page in
				// the ascending stream.
				for _, r := range stream[skip+len(taken):] {
					if !r.TS.Equal(first.TS) {
						break
					}
					offset++
				}
			}
			if offset > 0 || hasOlderThan(stream[skip+len(taken):], first.TS) {
				page.Prev = Cursor{TS: first.TS, Offset: offset, Dir: DirPrev}.Encode()
			}
		}
		return page
	}

	page.Rows = taken

	last := taken[len(taken)-1]
	if more {
		count := 0
		for i := len(taken) - 1; i >= 0 && taken[i].TS.Equal(last.TS); i-- {
			count++
		}
		base := 0
		if cursor != nil && cursor.TS.Equal(last.TS) {
			base = cursor.Offset
		}
		page.Next = Cursor{TS: last.TS, Offset: base + count, Dir: DirNext}.Encode()
	}
	if cursor != nil {
		page.Prev = cursor.flip().Encode()
	}
	return page
}

// hasOlderThan reports whether any remaining ascending-stream row has a
// timestamp different from ts (i.e. there is more history above the run).
func hasOlderThan(rest []models.GlobalRow, ts time.Time) bool {
	for _, r := range rest {
		if !r.TS.Equal(ts) {
			return true
		}
	}
	return false
}

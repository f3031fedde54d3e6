// Package service implements the investigation query engine: the union
// assembler behind compare and timeline mode.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/crosscheck-systems/crosscheck/internal/fragment"
	"github.com/crosscheck-systems/crosscheck/internal/logging"
	"github.com/crosscheck-systems/crosscheck/internal/models"
	"github.com/crosscheck-systems/crosscheck/internal/repository"
	"github.com/crosscheck-systems/crosscheck/internal/target"
)

var (
	// ErrNoTargets is returned when no target in the request resolved to
	// anything queryable. Callers are expected to have at least one.
	ErrNoTargets = errors.New("no resolvable targets")

	// ErrReasonRequired is returned when an investigation arrives without
	// a reason; every check is recorded with one.
	ErrReasonRequired = errors.New("investigation reason is required")
)

// CheckRecorder persists one check-log entry per investigation.
type CheckRecorder interface {
	Record(ctx context.Context, investigator, kind string, targets []string, reason string) error
}

// InvestigationService assembles and runs union queries over the three
// event tables.
type InvestigationService struct {
	store    repository.Store
	resolver *target.Resolver
	checks   CheckRecorder
	opts     fragment.Options
	maxLimit int
	logger   *logging.Logger
}

// NewInvestigationService wires the union assembler. checks may be nil in
// tests; maxLimit <= 0 falls back to 5000.
func NewInvestigationService(store repository.Store, resolver *target.Resolver, checks CheckRecorder, opts fragment.Options, maxLimit int, logger *logging.Logger) *InvestigationService {
	if maxLimit <= 0 {
		maxLimit = 5000
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &InvestigationService{
		store:    store,
		resolver: resolver,
		checks:   checks,
		opts:     opts,
		maxLimit: maxLimit,
		logger:   logger,
	}
}

// resolved pairs a raw target with its predicate (nil when unresolvable).
type resolved struct {
	raw  string
	pred *target.Predicate
}

// resolveAll resolves targets and exclusions. Unresolvable entries stay in
// the slice with a nil predicate so per-target status can be reported.
func (s *InvestigationService) resolveAll(ctx context.Context, targets, excludes []string) ([]resolved, []*target.Predicate, error) {
	out := make([]resolved, 0, len(targets))
	count := 0
	for _, raw := range targets {
		p, err := s.resolver.Resolve(ctx, raw)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to resolve target %q: %w", raw, err)
		}
		if p != nil {
			count++
		}
		out = append(out, resolved{raw: raw, pred: p})
	}
	if count == 0 {
		return nil, nil, ErrNoTargets
	}

	var excl []*target.Predicate
	for _, raw := range excludes {
		p, err := s.resolver.Resolve(ctx, raw)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to resolve exclusion %q: %w", raw, err)
		}
		if p != nil {
			excl = append(excl, p)
		}
	}
	return out, excl, nil
}

// applicableTables returns the event tables a predicate can match under
// the current options.
func (s *InvestigationService) applicableTables(p *target.Predicate) []models.TableKind {
	tables := make([]models.TableKind, 0, len(models.AllTableKinds))
	for _, kind := range models.AllTableKinds {
		if p.Kind == target.KindUser && kind == models.TablePrivateEvents && !s.opts.PrivateActor {
			continue
		}
		tables = append(tables, kind)
	}
	return tables
}

// budgetFor divides the total row cap fairly across every (target, table)
// fragment, rounding up so small caps still return something per target.
func budgetFor(limit, fragments int) int {
	if fragments == 0 {
		return 0
	}
	return (limit + fragments - 1) / fragments
}

func (s *InvestigationService) clampLimit(limit int) int {
	if limit <= 0 || limit > s.maxLimit {
		return s.maxLimit
	}
	return limit
}

// buildUnion assembles the UNION ALL body over every resolvable
// (target, table) pair. Returns the body, the shared args, the
// per-fragment budget and the fragment count per resolved target.
func (s *InvestigationService) buildUnion(targets []resolved, excl []*target.Predicate, cutoff *time.Time, limit int) (string, *fragment.Args, int, map[int][]models.TableKind) {
	perTarget := make(map[int][]models.TableKind)
	total := 0
	for i, tr := range targets {
		if tr.pred == nil {
			continue
		}
		tables := s.applicableTables(tr.pred)
		perTarget[i] = tables
		total += len(tables)
	}

	budget := budgetFor(limit, total)
	args := &fragment.Args{}
	var frags []string
	for i, tr := range targets {
		if tr.pred == nil {
			continue
		}
		for _, kind := range perTarget[i] {
			sql, ok := fragment.Build(tr.pred, excl, cutoff, kind, budget, s.opts, args)
			if !ok {
				continue
			}
			frags = append(frags, sql)
		}
	}
	return strings.Join(frags, " UNION ALL "), args, budget, perTarget
}

// truncated probes whether one (target, table) fragment has rows beyond
// the per-fragment budget.
func (s *InvestigationService) truncated(ctx context.Context, p *target.Predicate, excl []*target.Predicate, cutoff *time.Time, kind models.TableKind, budget int) (bool, error) {
	probeOpts := s.opts
	probeOpts.OrderedUnions = false // existence does not need ordering

	args := &fragment.Args{}
	frag, ok := fragment.Build(p, excl, cutoff, kind, 0, probeOpts, args)
	if !ok {
		return false, nil
	}
	sql := fmt.Sprintf("SELECT 1 FROM %s u OFFSET %d LIMIT 1", frag, budget)
	return s.store.Exists(ctx, sql, args.Values())
}

// targetStatuses computes per-target resolution and truncation flags.
func (s *InvestigationService) targetStatuses(ctx context.Context, targets []resolved, excl []*target.Predicate, cutoff *time.Time, perTarget map[int][]models.TableKind, budget int) []models.TargetStatus {
	statuses := make([]models.TargetStatus, len(targets))
	for i, tr := range targets {
		statuses[i] = models.TargetStatus{Target: tr.raw, Resolved: tr.pred != nil}
		if tr.pred == nil {
			continue
		}
		for _, kind := range perTarget[i] {
			trunc, err := s.truncated(ctx, tr.pred, excl, cutoff, kind, budget)
			if err != nil {
				// A failed probe must not sink the whole query; report the
				// data without the flag and log it.
				s.logger.WarnContext(ctx, "truncation probe failed",
					"target", tr.raw, "table", kind.String(), "error", err)
				continue
			}
			if trunc {
				statuses[i].Incomplete = true
				break
			}
		}
	}
	return statuses
}

func (s *InvestigationService) recordCheck(ctx context.Context, investigator, kind string, targets []string, reason string) {
	if s.checks == nil {
		return
	}
	if err := s.checks.Record(ctx, investigator, kind, targets, reason); err != nil {
		s.logger.ErrorContext(ctx, "failed to record check-log entry",
			"kind", kind, "error", err)
	}
}

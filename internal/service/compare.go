package service

import (
	"context"
	"fmt"

	"github.com/crosscheck-systems/crosscheck/internal/models"
)

// Compare runs compare mode: the unioned rows grouped by performer
// identity facets with first/last/total aggregates per group.
func (s *InvestigationService) Compare(ctx context.Context, req models.CompareRequest) (*models.CompareResponse, error) {
	if req.Reason == "" {
		return nil, ErrReasonRequired
	}

	targets, excl, err := s.resolveAll(ctx, req.Targets, req.Excludes)
	if err != nil {
		return nil, err
	}

	limit := s.clampLimit(req.Limit)
	body, args, budget, perTarget := s.buildUnion(targets, excl, req.Cutoff, limit)
	if body == "" {
		return nil, ErrNoTargets
	}

	sql := fmt.Sprintf(
		`SELECT u.user_id, u.user_text, u.ip, u.ip_hex, u.agent,
			MIN(u.ts) AS first_ts, MAX(u.ts) AS last_ts, COUNT(*) AS total,
			MIN(u.actor_id) AS actor_id
		 FROM (%s) u
		 GROUP BY u.user_id, u.user_text, u.ip, u.ip_hex, u.agent
		 ORDER BY first_ts`, body)

	rows, err := s.store.QueryCompare(ctx, sql, args.Values())
	if err != nil {
		return nil, fmt.Errorf("compare query failed: %w", err)
	}

	statuses := s.targetStatuses(ctx, targets, excl, req.Cutoff, perTarget, budget)
	s.recordCheck(ctx, req.Investigator, "compare", req.Targets, req.Reason)

	return &models.CompareResponse{Rows: rows, Targets: statuses}, nil
}

package service

import (
	"context"
	"fmt"

	"github.com/crosscheck-systems/crosscheck/internal/models"
)

// Timeline runs timeline mode: the unioned rows flattened into one
// time-ordered stream.
func (s *InvestigationService) Timeline(ctx context.Context, req models.TimelineRequest) (*models.TimelineResponse, error) {
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
		`SELECT u.id, u.user_id, u.user_text, u.actor_id, u.ip, u.ip_hex, u.agent, u.ts, u.src
		 FROM (%s) u
		 ORDER BY u.ts DESC
		 LIMIT %d`, body, limit)

	rows, err := s.store.QueryEvents(ctx, sql, args.Values())
	if err != nil {
		return nil, fmt.Errorf("timeline query failed: %w", err)
	}

	statuses := s.targetStatuses(ctx, targets, excl, req.Cutoff, perTarget, budget)
	s.recordCheck(ctx, req.Investigator, "timeline", req.Targets, req.Reason)

	return &models.TimelineResponse{Rows: rows, Targets: statuses}, nil
}

package centralindex

import (
	"context"
	"fmt"
	"time"

	"github.com/crosscheck-systems/crosscheck/internal/models"
)

// PurgeExpired deletes up to maxRows activity entries for one site whose
// last-seen timestamp fell behind cutoff. The victim rows are locked
// before deletion so a concurrent max-merge upsert cannot be lost mid
// purge. Callers loop until a call returns 0.
func (m *Manager) PurgeExpired(ctx context.Context, cutoff time.Time, siteKey models.SiteKey, maxRows int) (int, error) {
	siteIndex, err := m.ResolveSiteIndex(ctx, siteKey)
	if err != nil {
		return 0, err
	}

	tx, err := m.primary.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin purge transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx,
		`SELECT central_user_id FROM cc_global_activity
		 WHERE site_index = $1 AND last_seen < $2
		 ORDER BY last_seen
		 LIMIT $3
		 FOR UPDATE`,
		siteIndex, cutoff, maxRows)
	if err != nil {
		return 0, fmt.Errorf("failed to select purge victims: %w", err)
	}

	var victims []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan purge victim: %w", err)
		}
		victims = append(victims, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("purge victim iteration failed: %w", err)
	}

	if len(victims) == 0 {
		return 0, nil
	}

	tag, err := tx.Exec(ctx,
		`DELETE FROM cc_global_activity
		 WHERE site_index = $1 AND central_user_id = ANY($2) AND last_seen < $3`,
		siteIndex, victims, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired activity: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit purge: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

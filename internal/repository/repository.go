// Package repository provides pgx-backed access to the local event store.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/crosscheck-systems/crosscheck/internal/models"
)

var (
	// ErrUnknownTable is returned when a write names a table kind that
	// does not exist.
	ErrUnknownTable = errors.New("unknown event table")
)

// Store is the local event-store surface the investigation services run
// against. SQL text and arguments are assembled by the fragment builder
// and union assembler; the store only executes and scans.
type Store interface {
	// LookupUser resolves a registered account name. found=false is not
	// an error.
	LookupUser(ctx context.Context, name string) (id int64, found bool, err error)

	// QueryEvents executes an assembled event query and scans the
	// normalized row shape.
	QueryEvents(ctx context.Context, sql string, args []any) ([]models.EventRow, error)

	// QueryCompare executes an assembled compare aggregation.
	QueryCompare(ctx context.Context, sql string, args []any) ([]models.CompareRow, error)

	// Exists runs a cheap existence probe (expected to select a single
	// constant column).
	Exists(ctx context.Context, sql string, args []any) (bool, error)

	// RecordEvent inserts one event on the write-side feed path and
	// returns the stored row.
	RecordEvent(ctx context.Context, req models.RecordEventRequest) (models.EventRow, error)

	// PurgeEvents deletes up to maxRows rows older than cutoff from the
	// given table, returning the number deleted.
	PurgeEvents(ctx context.Context, kind models.TableKind, cutoff time.Time, maxRows int) (int, error)

	Close()
}

// SiteFetcher executes an assembled contributions query against one
// federated site's local store. Implementations own per-site connections.
type SiteFetcher interface {
	QuerySiteEvents(ctx context.Context, site models.SiteKey, sql string, args []any) ([]models.EventRow, error)
}

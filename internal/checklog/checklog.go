// Package checklog persists the tamper-evident record of who investigated
// what. Every compare and timeline run writes one entry; entries are
// HMAC-signed at write time so after-the-fact edits to the table are
// detectable.
package checklog

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/crosscheck-systems/crosscheck/internal/models"
)

// Signer computes and checks entry signatures.
type Signer struct {
	secretKey []byte
}

// NewSigner builds a signer over a shared secret.
func NewSigner(secretKey string) *Signer {
	return &Signer{secretKey: []byte(secretKey)}
}

// Sign covers the fields an auditor cares about; targets join with a
// separator that cannot appear in a resolved target.
func (s *Signer) Sign(id string, ts time.Time, investigator, kind string, targets []string, reason string) string {
	payload := id + ts.Format(time.RFC3339Nano) + investigator + kind +
		strings.Join(targets, "\x1f") + reason
	h := hmac.New(sha256.New, s.secretKey)
	h.Write([]byte(payload))
	return hex.EncodeToString(h.Sum(nil))
}

// Verify reports whether an entry still matches its signature.
func (s *Signer) Verify(e models.CheckLogEntry) bool {
	expected := s.Sign(e.ID, e.TS, e.Investigator, e.Kind, e.Targets, e.Reason)
	return hmac.Equal([]byte(expected), []byte(e.Signature))
}

// Store writes and reads check-log entries in Postgres.
type Store struct {
	pool   *pgxpool.Pool
	signer *Signer
}

// NewStore wires a check-log store.
func NewStore(pool *pgxpool.Pool, signer *Signer) *Store {
	return &Store{pool: pool, signer: signer}
}

// Record appends one signed entry. Satisfies the investigation service's
// recorder dependency.
func (s *Store) Record(ctx context.Context, investigator, kind string, targets []string, reason string) error {
	entry := models.CheckLogEntry{
		ID:           uuid.New().String(),
		Investigator: investigator,
		Kind:         kind,
		Targets:      targets,
		Reason:       reason,
		TS:           time.Now().UTC(),
	}
	entry.Signature = s.signer.Sign(entry.ID, entry.TS, entry.Investigator, entry.Kind, entry.Targets, entry.Reason)

	_, err := s.pool.Exec(ctx, `
		INSERT INTO cc_check_log (id, investigator, kind, targets, reason, signature, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, entry.Investigator, entry.Kind, entry.Targets, entry.Reason, entry.Signature, entry.TS)
	if err != nil {
		return fmt.Errorf("failed to record check: %w", err)
	}
	return nil
}

// List returns the most recent entries, optionally filtered by
// investigator, with each entry's signature re-verified on the way out.
// Verified=false rows are returned rather than hidden: a tampered audit
// trail is exactly what the reader needs to see.
func (s *Store) List(ctx context.Context, investigator string, limit int) ([]VerifiedEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := `
		SELECT id, investigator, kind, targets, reason, signature, ts
		FROM cc_check_log`
	args := []any{}
	if investigator != "" {
		query += " WHERE investigator = $1"
		args = append(args, investigator)
	}
	query += fmt.Sprintf(" ORDER BY ts DESC LIMIT %d", limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list checks: %w", err)
	}
	defer rows.Close()

	var out []VerifiedEntry
	for rows.Next() {
		var e models.CheckLogEntry
		if err := rows.Scan(&e.ID, &e.Investigator, &e.Kind, &e.Targets, &e.Reason, &e.Signature, &e.TS); err != nil {
			return nil, fmt.Errorf("failed to scan check entry: %w", err)
		}
		out = append(out, VerifiedEntry{CheckLogEntry: e, Verified: s.signer.Verify(e)})
	}
	return out, rows.Err()
}

// VerifiedEntry pairs an entry with the result of its signature check.
type VerifiedEntry struct {
	models.CheckLogEntry
	Verified bool `json:"verified"`
}

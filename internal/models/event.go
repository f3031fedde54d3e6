// Package models defines the shared data shapes for the crosscheck service.
package models

import "time"

// TableKind identifies one of the three append-only event tables.
// The set is closed; every switch over it must be exhaustive so that
// adding a kind fails loudly at every call site.
type TableKind int

const (
	// TableEdits holds edit and page-action events.
	TableEdits TableKind = iota
	// TableLogEvents holds public log actions.
	TableLogEvents
	// TablePrivateEvents holds private account events (logins, logouts,
	// email sends). Rows here may lack an actor link when the performer
	// was an IP address.
	TablePrivateEvents
)

// AllTableKinds lists every event table in canonical order.
var AllTableKinds = []TableKind{TableEdits, TableLogEvents, TablePrivateEvents}

// String returns the table kind's short name.
func (k TableKind) String() string {
	switch k {
	case TableEdits:
		return "edits"
	case TableLogEvents:
		return "log_events"
	case TablePrivateEvents:
		return "private_events"
	default:
		return "unknown"
	}
}

// ParseTableKind maps a short name back to its TableKind.
func ParseTableKind(s string) (TableKind, bool) {
	switch s {
	case "edits":
		return TableEdits, true
	case "log_events":
		return TableLogEvents, true
	case "private_events":
		return TablePrivateEvents, true
	default:
		return 0, false
	}
}

// EventRow is the normalized row shape shared by all three event tables.
// Columns with different physical names are aliased into this shape by the
// fragment builder, so everything downstream of it is table-agnostic.
type EventRow struct {
	ID       int64     `json:"id"`
	UserID   int64     `json:"user_id"`
	UserText string    `json:"user_text"`
	ActorID  *int64    `json:"actor_id,omitempty"`
	IP       string    `json:"ip"`
	IPHex    string    `json:"ip_hex"`
	Agent    string    `json:"agent"`
	TS       time.Time `json:"ts"`
	Table    TableKind `json:"table"`
}

// CompareRow is one grouped summary row produced by compare mode.
type CompareRow struct {
	UserID   int64     `json:"user_id"`
	UserText string    `json:"user_text"`
	IP       string    `json:"ip"`
	IPHex    string    `json:"ip_hex"`
	Agent    string    `json:"agent"`
	FirstTS  time.Time `json:"first_ts"`
	LastTS   time.Time `json:"last_ts"`
	Total    int64     `json:"total"`
	ActorID  *int64    `json:"actor_id,omitempty"`
}

// SiteKey names one independently stored site participating in federation.
type SiteKey string

// GlobalRow is an event row annotated with the site it came from and the
// intra-batch sequence number the merge step assigns for tie-breaking.
type GlobalRow struct {
	EventRow
	Site SiteKey `json:"site"`
	Seq  int     `json:"-"`
}

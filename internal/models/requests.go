package models

import "time"

// CompareRequest asks for a grouped cross-table summary of one or more targets.
type CompareRequest struct {
	Targets      []string   `json:"targets"`
	Excludes     []string   `json:"excludes,omitempty"`
	Cutoff       *time.Time `json:"cutoff,omitempty"`
	Limit        int        `json:"limit,omitempty"`
	Investigator string     `json:"investigator"`
	Reason       string     `json:"reason"`
}

// TimelineRequest asks for a flat, time-ordered event stream for the targets.
type TimelineRequest struct {
	Targets      []string   `json:"targets"`
	Excludes     []string   `json:"excludes,omitempty"`
	Cutoff       *time.Time `json:"cutoff,omitempty"`
	Limit        int        `json:"limit,omitempty"`
	Investigator string     `json:"investigator"`
	Reason       string     `json:"reason"`
}

// TargetStatus reports per-target resolution and truncation state.
// Unresolvable targets are dropped from the query, not errored; the caller
// needs to know which ones contributed nothing and which were capped.
type TargetStatus struct {
	Target     string `json:"target"`
	Resolved   bool   `json:"resolved"`
	Incomplete bool   `json:"incomplete"`
}

// CompareResponse carries the grouped rows plus per-target status flags.
type CompareResponse struct {
	Rows    []CompareRow   `json:"rows"`
	Targets []TargetStatus `json:"targets"`
}

// TimelineResponse carries the flat rows plus per-target status flags.
type TimelineResponse struct {
	Rows    []EventRow     `json:"rows"`
	Targets []TargetStatus `json:"targets"`
}

// SiteResult describes the outcome of one site's contribution to a
// federated page: "ok", "skipped" (capability denied) or "failed"
// (unreachable or errored, degraded to empty).
type SiteResult struct {
	Site   SiteKey `json:"site"`
	Status string  `json:"status"`
}

// GlobalPage is one page of federated contributions with reversible cursors.
type GlobalPage struct {
	Rows  []GlobalRow  `json:"rows"`
	Sites []SiteResult `json:"sites"`
	Next  string       `json:"next,omitempty"`
	Prev  string       `json:"prev,omitempty"`
}

// RecordEventRequest feeds one event into the local store. This is the
// write-side path that keeps the central activity index populated.
type RecordEventRequest struct {
	Table    string    `json:"table"`
	UserName string    `json:"user_name,omitempty"`
	IP       string    `json:"ip"`
	Agent    string    `json:"agent,omitempty"`
	TS       time.Time `json:"ts"`
}

// ErrorResponse is the uniform error body for every API endpoint.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CheckLogEntry records one investigation for the audit trail.
type CheckLogEntry struct {
	ID           string    `json:"id"`
	Investigator string    `json:"investigator"`
	Kind         string    `json:"kind"`
	Targets      []string  `json:"targets"`
	Reason       string    `json:"reason"`
	Signature    string    `json:"signature"`
	TS           time.Time `json:"ts"`
}

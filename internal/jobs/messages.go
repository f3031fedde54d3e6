// Package jobs defines the background work items that keep the central
// activity index current and the event tables within retention.
package jobs

import (
	"fmt"
	"time"

	"github.com/crosscheck-systems/crosscheck/internal/models"
)

// Job op kinds. Each maps to its own subject under the job stream.
const (
	OpActivityUpdate = "activity.update"
	OpIndexPurge     = "index.purge"
	OpEventsPurge    = "events.purge"
)

// Job is the queue work item. The queue's only contract is "eventually
// applied, duplicates collapse"; every op must therefore be idempotent.
type Job struct {
	Op            string         `json:"op"`
	SiteIndex     int32          `json:"site_index,omitempty"`
	SiteKey       models.SiteKey `json:"site_key,omitempty"`
	CentralUserID int64          `json:"central_user_id,omitempty"`
	TS            time.Time      `json:"ts"`
}

// DedupKey identifies a job for queue-level deduplication. It is a value
// type compared field by field; the wire form is only derived from it, so
// no separator-collision bug can conflate two distinct keys.
type DedupKey struct {
	Op            string
	SiteIndex     int32
	CentralUserID int64
}

// Key returns the job's dedup key.
func (j Job) Key() DedupKey {
	return DedupKey{Op: j.Op, SiteIndex: j.SiteIndex, CentralUserID: j.CentralUserID}
}

// String renders the key for transports that need a string message ID.
// Fields are numeric or from a fixed op set, so the rendering is
// injective.
func (k DedupKey) String() string {
	return fmt.Sprintf("%s/%d/%d", k.Op, k.SiteIndex, k.CentralUserID)
}

// Subject returns the queue subject for the job's op.
func (j Job) Subject() string {
	return "jobs." + j.Op
}

package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/crosscheck-systems/crosscheck/internal/messaging"
	"github.com/crosscheck-systems/crosscheck/internal/metrics"
	"github.com/crosscheck-systems/crosscheck/internal/models"
)

// Publisher enqueues jobs on the JetStream job stream.
type Publisher struct {
	js *messaging.JetStream
}

// NewPublisher wraps a JetStream client.
func NewPublisher(js *messaging.JetStream) *Publisher {
	return &Publisher{js: js}
}

func (p *Publisher) publish(ctx context.Context, job Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	if err := p.js.PublishDedup(ctx, job.Subject(), data, job.Key().String()); err != nil {
		return err
	}
	metrics.JobsEnqueued.WithLabelValues(job.Op).Inc()
	return nil
}

// EnqueueActivityUpdate satisfies centralindex.ActivityEnqueuer. A burst
// of activity from one user on one site collapses to a single upsert.
func (p *Publisher) EnqueueActivityUpdate(ctx context.Context, siteIndex int32, centralUserID int64, ts time.Time) error {
	return p.publish(ctx, Job{
		Op:            OpActivityUpdate,
		SiteIndex:     siteIndex,
		CentralUserID: centralUserID,
		TS:            ts,
	})
}

// EnqueueIndexPurge schedules one bounded purge batch for a site.
func (p *Publisher) EnqueueIndexPurge(ctx context.Context, siteKey models.SiteKey, cutoff time.Time) error {
	return p.publish(ctx, Job{Op: OpIndexPurge, SiteKey: siteKey, TS: cutoff})
}

// EnqueueEventsPurge schedules one bounded purge batch over the local
// event tables.
func (p *Publisher) EnqueueEventsPurge(ctx context.Context, siteKey models.SiteKey, cutoff time.Time) error {
	return p.publish(ctx, Job{Op: OpEventsPurge, SiteKey: siteKey, TS: cutoff})
}

package jobs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/crosscheck-systems/crosscheck/internal/logging"
	"github.com/crosscheck-systems/crosscheck/internal/messaging"
	"github.com/crosscheck-systems/crosscheck/internal/metrics"
	"github.com/crosscheck-systems/crosscheck/internal/models"
)

// IndexApplier is the slice of the central index manager the worker needs.
type IndexApplier interface {
	ApplyActivity(ctx context.Context, centralUserID int64, siteIndex int32, ts time.Time) error
	PurgeExpired(ctx context.Context, cutoff time.Time, siteKey models.SiteKey, maxRows int) (int, error)
}

// EventPurger deletes expired rows from the local event tables.
type EventPurger interface {
	PurgeEvents(ctx context.Context, kind models.TableKind, cutoff time.Time, maxRows int) (int, error)
}

// Worker consumes the job stream and applies each job. Every op is
// idempotent, so a redelivery after a crash is harmless.
type Worker struct {
	index     IndexApplier
	events    EventPurger
	batchSize int
	logger    *logging.Logger
}

// NewWorker builds a job worker. batchSize bounds each purge batch.
func NewWorker(index IndexApplier, events EventPurger, batchSize int, logger *logging.Logger) *Worker {
	if batchSize <= 0 {
		batchSize = 500
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Worker{index: index, events: events, batchSize: batchSize, logger: logger}
}

// Start attaches the worker to the job stream until ctx is cancelled.
func (w *Worker) Start(ctx context.Context, js *messaging.JetStream) (jetstream.ConsumeContext, error) {
	return js.Consume(ctx, w.Handle)
}

// Handle applies one delivered job. Returning an error nacks the message
// for redelivery under the queue's retry policy.
func (w *Worker) Handle(ctx context.Context, subject string, data []byte) error {
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		// Malformed payloads can never succeed; drop instead of retrying.
		w.logger.ErrorContext(ctx, "dropping malformed job", "subject", subject, "error", err)
		return nil
	}

	start := time.Now()
	err := w.apply(ctx, job)
	metrics.JobDuration.WithLabelValues(job.Op).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.JobFailures.WithLabelValues(job.Op).Inc()
		w.logger.ErrorContext(ctx, "job failed", "op", job.Op, "error", err)
		return err
	}
	return nil
}

func (w *Worker) apply(ctx context.Context, job Job) error {
	switch job.Op {
	case OpActivityUpdate:
		return w.index.ApplyActivity(ctx, job.CentralUserID, job.SiteIndex, job.TS)

	case OpIndexPurge:
		for {
			n, err := w.index.PurgeExpired(ctx, job.TS, job.SiteKey, w.batchSize)
			if err != nil {
				return err
			}
			metrics.IndexRowsPurged.Add(float64(n))
			if n == 0 {
				return nil
			}
		}

	case OpEventsPurge:
		for _, kind := range models.AllTableKinds {
			for {
				n, err := w.events.PurgeEvents(ctx, kind, job.TS, w.batchSize)
				if err != nil {
					return err
				}
				metrics.EventRowsPurged.WithLabelValues(kind.String()).Add(float64(n))
				if n == 0 {
					break
				}
			}
		}
		return nil

	default:
		w.logger.WarnContext(ctx, "dropping job with unknown op", "op", job.Op)
		return nil
	}
}

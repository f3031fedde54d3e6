package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

const (
	// JobStream is the durable stream backing the background job queue.
	JobStream = "CROSSCHECK_JOBS"

	// JobSubjectPrefix scopes all job subjects.
	JobSubjectPrefix = "jobs."

	// JobConsumer is the durable queue consumer shared by workers.
	JobConsumer = "crosscheck-workers"

	// dedupWindow is how long JetStream remembers message IDs; duplicate
	// enqueues inside the window collapse to the first.
	dedupWindow = 2 * time.Minute
)

// JetStream layers the job stream on a connected Client.
type JetStream struct {
	*Client
	js jetstream.JetStream
}

// NewJetStream creates the JetStream context and ensures the job stream
// exists with work-queue retention.
func NewJetStream(ctx context.Context, client *Client) (*JetStream, error) {
	js, err := jetstream.New(client.Conn())
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       JobStream,
		Subjects:   []string{JobSubjectPrefix + ">"},
		Retention:  jetstream.WorkQueuePolicy,
		Storage:    jetstream.FileStorage,
		MaxAge:     24 * time.Hour,
		Duplicates: dedupWindow,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create job stream: %w", err)
	}

	return &JetStream{Client: client, js: js}, nil
}

// PublishDedup publishes a job payload with a message ID; JetStream drops
// duplicates carrying the same ID inside the dedup window.
func (s *JetStream) PublishDedup(ctx context.Context, subject string, data []byte, msgID string) error {
	_, err := s.js.Publish(ctx, subject, data, jetstream.WithMsgID(msgID))
	if err != nil {
		return fmt.Errorf("failed to publish job to %s: %w", subject, err)
	}
	return nil
}

// Handler processes one delivered job payload. A returned error nacks the
// message so the queue's own retry policy re-delivers it.
type Handler func(ctx context.Context, subject string, data []byte) error

// Consume attaches a durable consumer to the job stream and dispatches
// messages to the handler until ctx is cancelled.
func (s *JetStream) Consume(ctx context.Context, handler Handler) (jetstream.ConsumeContext, error) {
	cons, err := s.js.CreateOrUpdateConsumer(ctx, JobStream, jetstream.ConsumerConfig{
		Durable:       JobConsumer,
		FilterSubject: JobSubjectPrefix + ">",
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		MaxAckPending: 100,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create job consumer: %w", err)
	}

	cc, err := cons.Consume(func(msg jetstream.Msg) {
		if err := handler(ctx, msg.Subject(), msg.Data()); err != nil {
			_ = msg.Nak()
			return
		}
		_ = msg.Ack()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start job consumer: %w", err)
	}
	return cc, nil
}

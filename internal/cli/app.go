package cli

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/crosscheck-systems/crosscheck/internal/centralindex"
	"github.com/crosscheck-systems/crosscheck/internal/config"
	"github.com/crosscheck-systems/crosscheck/internal/fragment"
	"github.com/crosscheck-systems/crosscheck/internal/jobs"
	"github.com/crosscheck-systems/crosscheck/internal/logging"
	"github.com/crosscheck-systems/crosscheck/internal/messaging"
	"github.com/crosscheck-systems/crosscheck/internal/repository"
)

// app bundles the dependencies shared by every command: the local store,
// the optional replica pool, the optional job queue and the central index
// manager on top of them.
type app struct {
	logger    *logging.Logger
	store     *repository.PostgresStore
	replica   *pgxpool.Pool
	msg       *messaging.Client
	js        *messaging.JetStream
	publisher *jobs.Publisher
	index     *centralindex.Manager
}

// buildApp connects everything the config enables. enqueue selects
// whether activity updates go through the queue (servers) or are applied
// inline (workers and one-shot commands).
func buildApp(ctx context.Context, cfg *config.Config, enqueue bool) (*app, error) {
	a := &app{logger: logging.New(cfg.Logging.Level, cfg.Logging.Format)}

	store, err := repository.NewPostgresStore(ctx, cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	a.store = store

	if cfg.Database.ReplicaDSN != "" {
		replica, err := pgxpool.New(ctx, cfg.Database.ReplicaDSN)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to connect to replica: %w", err)
		}
		a.replica = replica
	}

	if cfg.NATS.Enabled {
		msgCfg := messaging.DefaultConfig()
		msgCfg.URL = cfg.NATS.URL
		msg, err := messaging.Connect(msgCfg)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to connect to nats: %w", err)
		}
		a.msg = msg

		js, err := messaging.NewJetStream(ctx, msg)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to set up job stream: %w", err)
		}
		a.js = js
		a.publisher = jobs.NewPublisher(js)
	}

	var enqueuer centralindex.ActivityEnqueuer
	if enqueue && a.publisher != nil {
		enqueuer = a.publisher
	}
	a.index = centralindex.NewManager(store.Pool(), a.replica, enqueuer, a.logger)
	return a, nil
}

func (a *app) Close() {
	if a.msg != nil {
		a.msg.Close()
	}
	if a.replica != nil {
		a.replica.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
}

func fragmentOptions(cfg *config.Config) fragment.Options {
	opts := fragment.DefaultOptions()
	opts.OrderedUnions = cfg.Investigation.OrderedUnions
	opts.PrivateActor = cfg.Investigation.PrivateActor
	if cfg.Investigation.StrictCast {
		opts.Cast = fragment.StrictCast
	}
	return opts
}

package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/crosscheck-systems/crosscheck/internal/jobs"
	"github.com/crosscheck-systems/crosscheck/internal/models"
)

var purgeInterval time.Duration

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the background job worker",
	Long: `Consumes the job queue: activity index upserts and retention purges.
Also enqueues the periodic purge jobs on a timer, so a single worker
keeps a deployment's data within retention.`,
	RunE: runWorker,
}

func init() {
	workerCmd.Flags().DurationVar(&purgeInterval, "purge-interval", time.Hour, "how often to enqueue retention purges")
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !cfg.NATS.Enabled {
		return fmt.Errorf("worker requires nats.enabled")
	}

	a, err := buildApp(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()
	logger := a.logger

	worker := jobs.NewWorker(a.index, a.store, cfg.Retention.BatchSize, logger)
	cc, err := worker.Start(ctx, a.js)
	if err != nil {
		return fmt.Errorf("failed to start worker: %w", err)
	}
	defer cc.Stop()
	logger.Info("worker consuming jobs", "batch_size", cfg.Retention.BatchSize)

	site := models.SiteKey(cfg.Federation.LocalSite)
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("worker shutting down")
			return nil
		case <-ticker.C:
			now := time.Now().UTC()
			if err := a.publisher.EnqueueEventsPurge(ctx, site, now.Add(-cfg.Retention.EventMaxAge)); err != nil {
				logger.Warn("failed to enqueue events purge", "error", err)
			}
			if err := a.publisher.EnqueueIndexPurge(ctx, site, now.Add(-cfg.Retention.IndexMaxAge)); err != nil {
				logger.Warn("failed to enqueue index purge", "error", err)
			}
		}
	}
}

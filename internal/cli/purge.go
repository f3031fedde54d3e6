package cli

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/crosscheck-systems/crosscheck/internal/models"
)

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Run retention purges once, synchronously",
	Long: `Deletes expired local event rows and expired central activity index
entries in bounded batches. Useful for deployments without a job queue
and for catching up after downtime.`,
	RunE: runPurge,
}

func init() {
	rootCmd.AddCommand(purgeCmd)
}

func runPurge(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()
	logger := a.logger

	now := time.Now().UTC()
	batch := cfg.Retention.BatchSize

	eventCutoff := now.Add(-cfg.Retention.EventMaxAge)
	for _, kind := range models.AllTableKinds {
		total := 0
		for {
			n, err := a.store.PurgeEvents(ctx, kind, eventCutoff, batch)
			if err != nil {
				return err
			}
			total += n
			if n < batch {
				break
			}
		}
		logger.Info("purged expired events", "table", kind.String(), "rows", total)
	}

	site := models.SiteKey(cfg.Federation.LocalSite)
	indexCutoff := now.Add(-cfg.Retention.IndexMaxAge)
	total := 0
	for {
		n, err := a.index.PurgeExpired(ctx, indexCutoff, site, batch)
		if err != nil {
			return err
		}
		total += n
		if n < batch {
			break
		}
	}
	logger.Info("purged expired index entries", "site", site, "rows", total)
	return nil
}

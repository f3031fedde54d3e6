package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/crosscheck-systems/crosscheck/internal/models"
	"github.com/crosscheck-systems/crosscheck/internal/seeder"
)

var (
	seedUsers  int
	seedEvents int
	seedSpread time.Duration
	seedSeed   int64
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Populate the local store with generated investigation data",
	RunE:  runSeed,
}

func init() {
	defaults := seeder.DefaultOptions()
	seedCmd.Flags().IntVar(&seedUsers, "users", defaults.Users, "number of accounts to generate")
	seedCmd.Flags().IntVar(&seedEvents, "events", defaults.Events, "number of events to generate")
	seedCmd.Flags().DurationVar(&seedSpread, "spread", defaults.TimeSpread, "time window the events cover")
	seedCmd.Flags().Int64Var(&seedSeed, "seed", 0, "random seed (0 for nondeterministic)")
	rootCmd.AddCommand(seedCmd)
}

func runSeed(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	a, err := buildApp(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()

	opts := seeder.DefaultOptions()
	opts.Site = models.SiteKey(cfg.Federation.LocalSite)
	opts.Users = seedUsers
	opts.Events = seedEvents
	opts.TimeSpread = seedSpread
	opts.Seed = seedSeed

	return seeder.New(a.store, a.index, a.logger).Run(ctx, opts)
}

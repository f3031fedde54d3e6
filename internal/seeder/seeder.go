// Package seeder populates a development deployment with plausible
// investigation data: a cast of accounts with overlapping IPs and agents,
// their events across all three tables, and matching central identities.
package seeder

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/crosscheck-systems/crosscheck/internal/logging"
	"github.com/crosscheck-systems/crosscheck/internal/models"
	"github.com/crosscheck-systems/crosscheck/internal/repository"
)

// IdentityRegistrar creates the central identities for generated accounts.
type IdentityRegistrar interface {
	EnsureCentralUser(ctx context.Context, name string) (int64, error)
	RecordActivity(ctx context.Context, performer string, siteKey models.SiteKey, ts time.Time) error
}

// Options shapes a seeding run.
type Options struct {
	Site       models.SiteKey
	Users      int
	Events     int
	TimeSpread time.Duration
	// SockRatio is the share of users sharing one "household" of IPs and
	// agents, so compare runs on the seeded data actually correlate.
	SockRatio float64
	Seed      int64
}

// DefaultOptions seeds a small but correlatable data set.
func DefaultOptions() Options {
	return Options{
		Site:       "local",
		Users:      25,
		Events:     1000,
		TimeSpread: 30 * 24 * time.Hour,
		SockRatio:  0.2,
	}
}

type account struct {
	name  string
	ip    string
	agent string
}

// Seeder writes generated events through the normal ingest path so actor
// rows, central identities and activity entries all come out consistent.
type Seeder struct {
	store  repository.Store
	ids    IdentityRegistrar
	logger *logging.Logger
}

// New wires a seeder. ids may be nil when no central store is available;
// generated accounts then stay local-only.
func New(store repository.Store, ids IdentityRegistrar, logger *logging.Logger) *Seeder {
	if logger == nil {
		logger = logging.Default()
	}
	return &Seeder{store: store, ids: ids, logger: logger}
}

// Run generates and inserts one data set.
func (s *Seeder) Run(ctx context.Context, opts Options) error {
	if opts.Users <= 0 || opts.Events <= 0 {
		return fmt.Errorf("users and events must be positive")
	}
	if opts.Seed != 0 {
		gofakeit.Seed(opts.Seed)
	}
	rng := rand.New(rand.NewSource(opts.Seed))

	accounts := s.generateAccounts(ctx, opts, rng)
	tables := []string{"edits", "log_events", "private_events"}
	weights := []int{70, 20, 10}

	inserted := 0
	for i := 0; i < opts.Events; i++ {
		acct := accounts[rng.Intn(len(accounts))]
		ts := spreadTime(i, opts.Events, opts.TimeSpread, rng)

		req := models.RecordEventRequest{
			Table: pickWeighted(tables, weights, rng),
			IP:    acct.ip,
			Agent: acct.agent,
			TS:    ts,
		}
		// A slice of traffic stays anonymous, like real wikis.
		if rng.Float64() > 0.15 {
			req.UserName = acct.name
		}
		// Anonymous private events do not exist; the performer is always
		// an account there.
		if req.Table == "private_events" {
			req.UserName = acct.name
		}

		if _, err := s.store.RecordEvent(ctx, req); err != nil {
			return fmt.Errorf("failed to seed event %d: %w", i, err)
		}
		if req.UserName != "" && s.ids != nil {
			if err := s.ids.RecordActivity(ctx, req.UserName, opts.Site, ts); err != nil {
				return fmt.Errorf("failed to seed activity for %q: %w", req.UserName, err)
			}
		}
		inserted++
	}

	s.logger.Info("seeding complete",
		"site", opts.Site, "users", len(accounts), "events", inserted)
	return nil
}

// generateAccounts builds the cast. The first sockRatio share of accounts
// reuses a single IP and agent pool, giving compare mode something to find.
func (s *Seeder) generateAccounts(ctx context.Context, opts Options, rng *rand.Rand) []account {
	sharedIP := gofakeit.IPv4Address()
	sharedAgent := gofakeit.UserAgent()
	socks := int(float64(opts.Users) * opts.SockRatio)

	accounts := make([]account, 0, opts.Users)
	for i := 0; i < opts.Users; i++ {
		a := account{
			name:  fmt.Sprintf("%s%d", gofakeit.Username(), rng.Intn(1000)),
			ip:    gofakeit.IPv4Address(),
			agent: gofakeit.UserAgent(),
		}
		if i < socks {
			a.ip = sharedIP
			a.agent = sharedAgent
		}
		accounts = append(accounts, a)

		if s.ids != nil {
			if _, err := s.ids.EnsureCentralUser(ctx, a.name); err != nil {
				s.logger.Warn("failed to register central identity", "name", a.name, "error", err)
			}
		}
	}
	return accounts
}

// spreadTime places event i inside the window with jitter, walking
// backwards from now.
func spreadTime(i, total int, spread time.Duration, rng *rand.Rand) time.Time {
	now := time.Now().UTC()
	if spread <= 0 {
		return now
	}
	interval := float64(spread) / float64(total)
	offset := time.Duration(float64(i)*interval + (rng.Float64()*2-1)*interval*0.4)
	if offset < 0 {
		offset = 0
	}
	if offset > spread {
		offset = spread
	}
	return now.Add(-(spread - offset))
}

func pickWeighted(values []string, weights []int, rng *rand.Rand) string {
	total := 0
	for _, w := range weights {
		total += w
	}
	n := rng.Intn(total)
	for i, w := range weights {
		if n < w {
			return values[i]
		}
		n -= w
	}
	return values[len(values)-1]
}

package seeder

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crosscheck-systems/crosscheck/internal/models"
)

type recordingStore struct {
	events []models.RecordEventRequest
}

func (r *recordingStore) LookupUser(context.Context, string) (int64, bool, error) {
	return 0, false, nil
}
func (r *recordingStore) QueryEvents(context.Context, string, []any) ([]models.EventRow, error) {
	return nil, nil
}
func (r *recordingStore) QueryCompare(context.Context, string, []any) ([]models.CompareRow, error) {
	return nil, nil
}
func (r *recordingStore) Exists(context.Context, string, []any) (bool, error) {
	return false, nil
}
func (r *recordingStore) RecordEvent(_ context.Context, req models.RecordEventRequest) (models.EventRow, error) {
	r.events = append(r.events, req)
	return models.EventRow{ID: int64(len(r.events))}, nil
}
func (r *recordingStore) PurgeEvents(context.Context, models.TableKind, time.Time, int) (int, error) {
	return 0, nil
}
func (r *recordingStore) Close() {}

type recordingRegistrar struct {
	users    map[string]bool
	activity int
}

func (r *recordingRegistrar) EnsureCentralUser(_ context.Context, name string) (int64, error) {
	if r.users == nil {
		r.users = make(map[string]bool)
	}
	r.users[name] = true
	return int64(len(r.users)), nil
}

func (r *recordingRegistrar) RecordActivity(context.Context, string, models.SiteKey, time.Time) error {
	r.activity++
	return nil
}

func TestRunGeneratesConsistentDataSet(t *testing.T) {
	store := &recordingStore{}
	ids := &recordingRegistrar{}

	opts := DefaultOptions()
	opts.Users = 10
	opts.Events = 200
	opts.Seed = 1
	opts.TimeSpread = 24 * time.Hour

	require.NoError(t, New(store, ids, nil).Run(context.Background(), opts))
	require.Len(t, store.events, 200)

	now := time.Now().UTC()
	named := 0
	for _, e := range store.events {
		// Private events always carry an account.
		if e.Table == "private_events" {
			assert.NotEmpty(t, e.UserName)
		}
		if e.UserName != "" {
			named++
		}
		assert.False(t, e.TS.After(now.Add(time.Minute)), "events are placed in the past")
		assert.NotEmpty(t, e.IP)
	}
	assert.Greater(t, named, 0)
	assert.Equal(t, named, ids.activity, "every named event refreshes the activity index")

	// Every generated account got a central identity.
	assert.Len(t, ids.users, 10)
}

func TestRunSockGroupSharesInfrastructure(t *testing.T) {
	store := &recordingStore{}

	opts := DefaultOptions()
	opts.Users = 20
	opts.Events = 400
	opts.SockRatio = 0.5
	opts.Seed = 7

	require.NoError(t, New(store, nil, nil).Run(context.Background(), opts))

	byIP := map[string]map[string]bool{}
	for _, e := range store.events {
		if e.UserName == "" {
			continue
		}
		if byIP[e.IP] == nil {
			byIP[e.IP] = map[string]bool{}
		}
		byIP[e.IP][e.UserName] = true
	}

	shared := 0
	for _, users := range byIP {
		if len(users) > 1 {
			shared++
		}
	}
	assert.Greater(t, shared, 0, "the sock cohort must share at least one IP")
}

func TestRunRejectsBadOptions(t *testing.T) {
	s := New(&recordingStore{}, nil, nil)
	assert.Error(t, s.Run(context.Background(), Options{Users: 0, Events: 10}))
	assert.Error(t, s.Run(context.Background(), Options{Users: 10, Events: 0}))
}

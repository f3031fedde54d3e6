package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/crosscheck-systems/crosscheck/internal/fragment"
	"github.com/crosscheck-systems/crosscheck/internal/models"
	"github.com/crosscheck-systems/crosscheck/internal/target"
)

// MockStore is a mock implementation of repository.Store.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) LookupUser(ctx context.Context, name string) (int64, bool, error) {
	args := m.Called(ctx, name)
	return args.Get(0).(int64), args.Bool(1), args.Error(2)
}

func (m *MockStore) QueryEvents(ctx context.Context, sql string, args []any) ([]models.EventRow, error) {
	a := m.Called(ctx, sql, args)
	if a.Get(0) == nil {
		return nil, a.Error(1)
	}
	return a.Get(0).([]models.EventRow), a.Error(1)
}

func (m *MockStore) QueryCompare(ctx context.Context, sql string, args []any) ([]models.CompareRow, error) {
	a := m.Called(ctx, sql, args)
	if a.Get(0) == nil {
		return nil, a.Error(1)
	}
	return a.Get(0).([]models.CompareRow), a.Error(1)
}

func (m *MockStore) Exists(ctx context.Context, sql string, args []any) (bool, error) {
	a := m.Called(ctx, sql, args)
	return a.Bool(0), a.Error(1)
}

func (m *MockStore) RecordEvent(ctx context.Context, req models.RecordEventRequest) (models.EventRow, error) {
	a := m.Called(ctx, req)
	return a.Get(0).(models.EventRow), a.Error(1)
}

func (m *MockStore) PurgeEvents(ctx context.Context, kind models.TableKind, cutoff time.Time, maxRows int) (int, error) {
	a := m.Called(ctx, kind, cutoff, maxRows)
	return a.Int(0), a.Error(1)
}

func (m *MockStore) Close() {
	m.Called()
}

type stubLookup struct {
	users map[string]int64
}

func (s *stubLookup) LookupUser(_ context.Context, name string) (int64, bool, error) {
	id, ok := s.users[name]
	return id, ok, nil
}

func newService(store *MockStore) *InvestigationService {
	resolver := target.NewResolver(&stubLookup{users: map[string]int64{"Suspect": 7}}, target.DefaultRangeLimits())
	return NewInvestigationService(store, resolver, nil, fragment.DefaultOptions(), 5000, nil)
}

func TestBudgetFor(t *testing.T) {
	assert.Equal(t, 9, budgetFor(25, 3), "ceil(25/3)")
	assert.Equal(t, 5, budgetFor(25, 5))
	assert.Equal(t, 1, budgetFor(1, 3))
	assert.Equal(t, 0, budgetFor(10, 0))
}

func TestCompareRequiresReason(t *testing.T) {
	svc := newService(&MockStore{})

	_, err := svc.Compare(context.Background(), models.CompareRequest{
		Targets: []string{"1.2.3.4"},
	})
	assert.ErrorIs(t, err, ErrReasonRequired)
}

func TestCompareNoResolvableTargets(t *testing.T) {
	svc := newService(&MockStore{})

	_, err := svc.Compare(context.Background(), models.CompareRequest{
		Targets: []string{"NoSuchAccount"},
		Reason:  "sock check",
	})
	assert.ErrorIs(t, err, ErrNoTargets)
}

func TestCompareBudgetPerFragment(t *testing.T) {
	store := &MockStore{}
	svc := newService(store)

	var capturedSQL string
	store.On("QueryCompare", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { capturedSQL = args.String(1) }).
		Return([]models.CompareRow{}, nil)
	store.On("Exists", mock.Anything, mock.Anything, mock.Anything).
		Return(false, nil)

	_, err := svc.Compare(context.Background(), models.CompareRequest{
		Targets: []string{"1.2.3.4"},
		Limit:   25,
		Reason:  "sock check",
	})
	require.NoError(t, err)

	// One target across three tables: ceil(25/3) = 9 per fragment.
	assert.Contains(t, capturedSQL, "LIMIT 9")
	assert.Contains(t, capturedSQL, "UNION ALL")
	assert.Contains(t, capturedSQL, "GROUP BY u.user_id, u.user_text, u.ip, u.ip_hex, u.agent")
	assert.Contains(t, capturedSQL, "MIN(u.actor_id)")
}

func TestCompareSetsIncompleteFlag(t *testing.T) {
	store := &MockStore{}
	svc := newService(store)

	store.On("QueryCompare", mock.Anything, mock.Anything, mock.Anything).
		Return([]models.CompareRow{{IP: "1.2.3.4"}}, nil)
	// The edits probe finds a row beyond the budget offset.
	store.On("Exists", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return true
	}), mock.Anything).Return(true, nil).Once()

	resp, err := svc.Compare(context.Background(), models.CompareRequest{
		Targets: []string{"1.2.3.4"},
		Limit:   25,
		Reason:  "sock check",
	})
	require.NoError(t, err)
	require.Len(t, resp.Targets, 1)
	assert.True(t, resp.Targets[0].Resolved)
	assert.True(t, resp.Targets[0].Incomplete)
	assert.Len(t, resp.Rows, 1, "partial data travels with the flag")
}

func TestCompareDropsUnresolvableTargetButAnswers(t *testing.T) {
	store := &MockStore{}
	svc := newService(store)

	store.On("QueryCompare", mock.Anything, mock.Anything, mock.Anything).
		Return([]models.CompareRow{}, nil)
	store.On("Exists", mock.Anything, mock.Anything, mock.Anything).
		Return(false, nil)

	resp, err := svc.Compare(context.Background(), models.CompareRequest{
		Targets: []string{"Suspect", "NoSuchAccount"},
		Limit:   30,
		Reason:  "sock check",
	})
	require.NoError(t, err)
	require.Len(t, resp.Targets, 2)
	assert.True(t, resp.Targets[0].Resolved)
	assert.False(t, resp.Targets[1].Resolved)
}

func TestTimelineOrdersAndCaps(t *testing.T) {
	store := &MockStore{}
	svc := newService(store)

	var capturedSQL string
	var capturedArgs []any
	store.On("QueryEvents", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			capturedSQL = args.String(1)
			capturedArgs = args.Get(2).([]any)
		}).
		Return([]models.EventRow{}, nil)
	store.On("Exists", mock.Anything, mock.Anything, mock.Anything).
		Return(false, nil)

	cutoff := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := svc.Timeline(context.Background(), models.TimelineRequest{
		Targets: []string{"Suspect"},
		Cutoff:  &cutoff,
		Limit:   50,
		Reason:  "timeline review",
	})
	require.NoError(t, err)

	assert.Contains(t, capturedSQL, "ORDER BY u.ts DESC")
	assert.Contains(t, capturedSQL, "LIMIT 50")
	assert.Contains(t, capturedArgs, cutoff)
	assert.Contains(t, capturedArgs, int64(7))
}

type recordedCheck struct {
	kind    string
	targets []string
	reason  string
}

type stubRecorder struct {
	checks []recordedCheck
}

func (s *stubRecorder) Record(_ context.Context, _, kind string, targets []string, reason string) error {
	s.checks = append(s.checks, recordedCheck{kind: kind, targets: targets, reason: reason})
	return nil
}

func TestCompareRecordsCheckLogEntry(t *testing.T) {
	store := &MockStore{}
	rec := &stubRecorder{}
	resolver := target.NewResolver(&stubLookup{}, target.DefaultRangeLimits())
	svc := NewInvestigationService(store, resolver, rec, fragment.DefaultOptions(), 5000, nil)

	store.On("QueryCompare", mock.Anything, mock.Anything, mock.Anything).
		Return([]models.CompareRow{}, nil)
	store.On("Exists", mock.Anything, mock.Anything, mock.Anything).
		Return(false, nil)

	_, err := svc.Compare(context.Background(), models.CompareRequest{
		Targets:      []string{"1.2.3.4"},
		Investigator: "admin",
		Reason:       "abuse report 991",
	})
	require.NoError(t, err)
	require.Len(t, rec.checks, 1)
	assert.Equal(t, "compare", rec.checks[0].kind)
	assert.Equal(t, "abuse report 991", rec.checks[0].reason)
}

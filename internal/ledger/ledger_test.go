package ledger

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/apperrors"
	"github.com/therealutkarshpriyadarshi/captionforge/pkg/models"
)

var rate = decimal.RequireFromString("0.10")

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func freshUser(allowed string) models.User {
	return models.User{
		ID:              "user-1",
		AllowedMinutes:  d(allowed),
		MinutesConsumed: decimal.Zero,
		FreeMinutesUsed: decimal.Zero,
		TotalCost:       decimal.Zero,
	}
}

// memStore is an in-memory Store with version checking
type memStore struct {
	mu      sync.Mutex
	users   map[string]models.User
	charges []models.UsageCharge
	// yield forces interleaving between read and conditional write
	yield bool
	// latency widens the window between read and conditional write
	latency time.Duration
	fail    error
}

func newMemStore(users ...models.User) *memStore {
	s := &memStore{users: make(map[string]models.User)}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

func (s *memStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return nil, s.fail
	}
	u, ok := s.users[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &u, nil
}

func (s *memStore) ApplyCharge(ctx context.Context, user *models.User, expectedVersion int64, charge *models.UsageCharge) (bool, error) {
	if s.yield {
		runtime.Gosched()
	}
	if s.latency > 0 {
		time.Sleep(s.latency)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.users[user.ID]
	if current.Version != expectedVersion {
		return false, nil
	}
	next := *user
	next.Version = expectedVersion + 1
	s.users[user.ID] = next
	s.charges = append(s.charges, *charge)
	return true, nil
}

func assertConservation(t *testing.T, u models.User, billableTotal decimal.Decimal) {
	t.Helper()
	assert.True(t, u.MinutesConsumed.Equal(u.FreeMinutesUsed.Add(billableTotal)),
		"consumed %s != free %s + billed %s", u.MinutesConsumed, u.FreeMinutesUsed, billableTotal)
	assert.True(t, u.TotalCost.Equal(billableTotal.Mul(rate)),
		"total cost %s != %s * %s", u.TotalCost, billableTotal, rate)
	assert.True(t, u.FreeMinutesUsed.LessThanOrEqual(u.AllowedMinutes))
}

func TestReserve(t *testing.T) {
	tests := []struct {
		name         string
		allowed      string
		freeUsed     string
		consumed     string
		minutes      string
		wantFree     string
		wantBillable string
		wantCost     string
	}{
		{"fully free", "30", "0", "0", "10", "10", "0", "0"},
		{"crosses allowance", "30", "10", "10", "25", "20", "5", "0.5"},
		{"allowance exhausted", "30", "30", "40", "2.5", "0", "2.5", "0.25"},
		{"zero minutes", "30", "0", "0", "0", "0", "0", "0"},
		{"fractional", "5", "4.75", "4.75", "0.5", "0.25", "0.25", "0.025"},
		{"allowance lowered below usage", "10", "20", "20", "3", "0", "3", "0.3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user := freshUser(tt.allowed)
			user.FreeMinutesUsed = d(tt.freeUsed)
			user.MinutesConsumed = d(tt.consumed)

			out, err := Reserve(user, d(tt.minutes), rate)
			require.NoError(t, err)

			assert.True(t, out.FreeApplied.Equal(d(tt.wantFree)), "free: got %s", out.FreeApplied)
			assert.True(t, out.Billable.Equal(d(tt.wantBillable)), "billable: got %s", out.Billable)
			assert.True(t, out.CostDelta.Equal(d(tt.wantCost)), "cost: got %s", out.CostDelta)
			assert.True(t, out.User.MinutesConsumed.Equal(d(tt.consumed).Add(d(tt.minutes))))
			// input snapshot untouched
			assert.True(t, user.FreeMinutesUsed.Equal(d(tt.freeUsed)))
		})
	}
}

func TestReserveNegativeMinutes(t *testing.T) {
	_, err := Reserve(freshUser("30"), d("-1"), rate)
	require.Error(t, err)
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindValidation, appErr.Kind)
	assert.Equal(t, "minutes", appErr.Field)
}

func TestReserveSequenceConservation(t *testing.T) {
	user := freshUser("30")
	billed := decimal.Zero
	for _, m := range []string{"10", "25", "0.333", "7.5", "0", "12.125"} {
		out, err := Reserve(user, d(m), rate)
		require.NoError(t, err)
		billed = billed.Add(out.Billable)
		user = out.User
		assertConservation(t, user, billed)
	}
}

func TestServiceScenarios(t *testing.T) {
	store := newMemStore(freshUser("30"))
	svc := NewService(store, rate, 0, 0)
	ctx := context.Background()

	first, err := svc.Reserve(ctx, ChargeRequest{UserID: "user-1", VideoID: "v1", Minutes: d("10"), Reason: models.ChargeReasonTranscription})
	require.NoError(t, err)
	assert.True(t, first.User.FreeMinutesUsed.Equal(d("10")))
	assert.True(t, first.User.TotalCost.IsZero())

	second, err := svc.Reserve(ctx, ChargeRequest{UserID: "user-1", VideoID: "v2", Minutes: d("25"), Reason: models.ChargeReasonTranscription})
	require.NoError(t, err)
	assert.True(t, second.User.FreeMinutesUsed.Equal(d("30")))
	assert.True(t, second.Billable.Equal(d("5")))
	assert.True(t, second.User.TotalCost.Equal(d("5").Mul(rate)))
	assert.Equal(t, int64(2), second.User.Version)

	require.Len(t, store.charges, 2)
	assert.Equal(t, "v2", store.charges[1].VideoID)
	assert.True(t, store.charges[1].FreeMinutes.Equal(d("20")))
}

func TestServiceConcurrentTwentyMinuteReservations(t *testing.T) {
	store := newMemStore(freshUser("30"))
	store.yield = true
	svc := NewService(store, rate, 0, 0)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Reserve(context.Background(), ChargeRequest{UserID: "user-1", Minutes: d("20")})
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	u := store.users["user-1"]
	assert.True(t, u.FreeMinutesUsed.Equal(d("30")), "free used %s", u.FreeMinutesUsed)
	assert.True(t, u.MinutesConsumed.Equal(d("40")))
	assertConservation(t, u, d("10"))
}

func TestServiceFreeTierCapUnderConcurrency(t *testing.T) {
	const n = 40
	store := newMemStore(freshUser("5"))
	store.yield = true
	store.latency = time.Millisecond
	svc := NewService(store, rate, 0, 0)

	var wg sync.WaitGroup
	var mu sync.Mutex
	freeTotal := decimal.Zero
	billTotal := decimal.Zero
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := svc.Reserve(context.Background(), ChargeRequest{UserID: "user-1", Minutes: d("1")})
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			freeTotal = freeTotal.Add(out.FreeApplied)
			billTotal = billTotal.Add(out.Billable)
			mu.Unlock()
		}()
	}
	wg.Wait()

	u := store.users["user-1"]
	assert.True(t, freeTotal.Equal(d("5")), "free applied %s", freeTotal)
	assert.True(t, billTotal.Equal(d("35")), "billed %s", billTotal)
	assert.True(t, u.FreeMinutesUsed.Equal(d("5")))
	assertConservation(t, u, billTotal)
	assert.Len(t, store.charges, n)
}

// conflictStore always loses the version check
type conflictStore struct {
	*memStore
}

func (s *conflictStore) ApplyCharge(ctx context.Context, user *models.User, expectedVersion int64, charge *models.UsageCharge) (bool, error) {
	return false, nil
}

func TestServiceGivesUpAfterMaxAttempts(t *testing.T) {
	store := &conflictStore{memStore: newMemStore(freshUser("30"))}
	svc := NewService(store, rate, 3, 0)

	_, err := svc.Reserve(context.Background(), ChargeRequest{UserID: "user-1", Minutes: d("1")})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindStorage, apperrors.KindOf(err))
}

func TestServiceGivesUpAtDeadline(t *testing.T) {
	store := &conflictStore{memStore: newMemStore(freshUser("30"))}
	svc := NewService(store, rate, 0, 30*time.Millisecond)

	start := time.Now()
	_, err := svc.Reserve(context.Background(), ChargeRequest{UserID: "user-1", Minutes: d("1")})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindStorage, apperrors.KindOf(err))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestServiceStoreErrors(t *testing.T) {
	store := newMemStore(freshUser("30"))
	svc := NewService(store, rate, 3, 0)

	_, err := svc.Reserve(context.Background(), ChargeRequest{UserID: "missing", Minutes: d("1")})
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))

	store.fail = errors.New("connection reset")
	_, err = svc.Reserve(context.Background(), ChargeRequest{UserID: "user-1", Minutes: d("1")})
	assert.Equal(t, apperrors.KindStorage, apperrors.KindOf(err))

	_, err = svc.Reserve(context.Background(), ChargeRequest{UserID: "user-1", Minutes: d("-2")})
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
}

package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/database"
	"github.com/therealutkarshpriyadarshi/captionforge/pkg/models"
)

type fakeStore struct {
	users   map[string]*models.User
	charges []*models.UsageCharge
	applied []string
	closed  bool
}

func (f *fakeStore) Migrate(context.Context) ([]string, error) { return f.applied, nil }

func (f *fakeStore) GetUser(_ context.Context, id string) (*models.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, models.ErrNotFound)
	}
	return u, nil
}

func (f *fakeStore) ListCharges(_ context.Context, _ string, limit int) ([]*models.UsageCharge, error) {
	if limit < len(f.charges) {
		return f.charges[:limit], nil
	}
	return f.charges, nil
}

func (f *fakeStore) SetAllowedMinutes(_ context.Context, id string, minutes decimal.Decimal) (*models.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, models.ErrNotFound)
	}
	if u.FreeMinutesUsed.GreaterThan(minutes) {
		return nil, fmt.Errorf("user %s: %w", id, database.ErrAllowanceBelowUsage)
	}
	u.AllowedMinutes = minutes
	return u, nil
}

func (f *fakeStore) Close() { f.closed = true }

func newFakeStore() *fakeStore {
	return &fakeStore{
		users: map[string]*models.User{
			"user-1": {
				ID:              "user-1",
				Email:           "a@example.com",
				MinutesConsumed: decimal.NewFromInt(35),
				FreeMinutesUsed: decimal.NewFromInt(30),
				AllowedMinutes:  decimal.NewFromInt(30),
				TotalCost:       decimal.RequireFromString("0.5"),
			},
		},
		charges: []*models.UsageCharge{{
			VideoID:         "vid-2",
			Minutes:         decimal.NewFromInt(25),
			FreeMinutes:     decimal.NewFromInt(20),
			BillableMinutes: decimal.NewFromInt(5),
			Cost:            decimal.RequireFromString("0.5"),
			Reason:          models.ChargeReasonTranscription,
			CreatedAt:       time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
		}},
	}
}

func executeCLI(t *testing.T, store *fakeStore, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd(func(context.Context, string) (adminStore, error) { return store, nil })
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(t.Context())
	return out.String(), err
}

func TestUsageCommand(t *testing.T) {
	store := newFakeStore()

	out, err := executeCLI(t, store, "usage", "user-1")
	require.NoError(t, err)

	assert.Contains(t, out, "a@example.com")
	assert.Contains(t, out, "0.50")
	assert.Contains(t, out, "vid-2")
	assert.Contains(t, out, "2026-03-01 09:30")
	assert.True(t, store.closed)
}

func TestUsageCommandUnknownUser(t *testing.T) {
	_, err := executeCLI(t, newFakeStore(), "usage", "ghost")
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestAllowanceCommand(t *testing.T) {
	tests := []struct {
		name    string
		minutes string
		wantErr string
	}{
		{name: "raise allowance", minutes: "60"},
		{name: "below used minutes", minutes: "10", wantErr: "already used"},
		{name: "negative", minutes: "-5", wantErr: "non-negative"},
		{name: "not a number", minutes: "lots", wantErr: "non-negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			out, err := executeCLI(t, store, "allowance", "user-1", tt.minutes)

			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Contains(t, out, "set to 60 minutes (30 remaining)")
			assert.True(t, store.users["user-1"].AllowedMinutes.Equal(decimal.NewFromInt(60)))
		})
	}
}

func TestMigrateCommand(t *testing.T) {
	store := newFakeStore()

	out, err := executeCLI(t, store, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "schema is up to date")

	store.applied = []string{"001_init.sql"}
	out, err = executeCLI(t, store, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "applied 001_init.sql")
}

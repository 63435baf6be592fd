package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/apperrors"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/metrics"
	"github.com/therealutkarshpriyadarshi/captionforge/pkg/models"
)

const (
	// DefaultReserveTimeout bounds how long Service.Reserve keeps retrying
	// lost compare-and-swap rounds
	DefaultReserveTimeout = 10 * time.Second

	minBackoff = time.Millisecond
	maxBackoff = 50 * time.Millisecond
)

// Outcome is the result of applying a reservation to a user snapshot
type Outcome struct {
	User        models.User     `json:"user"`
	Minutes     decimal.Decimal `json:"minutes"`
	FreeApplied decimal.Decimal `json:"free_applied"`
	Billable    decimal.Decimal `json:"billable"`
	CostDelta   decimal.Decimal `json:"cost_delta"`
	Attempts    int             `json:"-"`
}

// Reserve debits minutes against the user's free allowance first and bills the
// remainder at costPerMinute. It is pure: the returned snapshot is a copy.
func Reserve(user models.User, minutes, costPerMinute decimal.Decimal) (Outcome, error) {
	if minutes.IsNegative() {
		return Outcome{}, apperrors.Validation("minutes", "minutes must not be negative")
	}

	freeAvailable := decimal.Max(user.AllowedMinutes.Sub(user.FreeMinutesUsed), decimal.Zero)
	freeApplied := decimal.Min(minutes, freeAvailable)
	billable := minutes.Sub(freeApplied)

	user.FreeMinutesUsed = user.FreeMinutesUsed.Add(freeApplied)
	user.MinutesConsumed = user.MinutesConsumed.Add(minutes)
	// Recomputed from the ledger fields rather than accumulated.
	user.TotalCost = user.BilledMinutes().Mul(costPerMinute)

	return Outcome{
		User:        user,
		Minutes:     minutes,
		FreeApplied: freeApplied,
		Billable:    billable,
		CostDelta:   billable.Mul(costPerMinute),
	}, nil
}

// Store persists ledger state. ApplyCharge must write the user's ledger fields
// only if the stored version still equals expectedVersion, bump the version,
// and record the charge in the same transaction. It reports false when the
// version check fails.
type Store interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	ApplyCharge(ctx context.Context, user *models.User, expectedVersion int64, charge *models.UsageCharge) (bool, error)
}

// ChargeRequest asks the ledger to debit a video's duration
type ChargeRequest struct {
	UserID  string
	VideoID string
	Minutes decimal.Decimal
	Reason  string
}

// Service applies reservations atomically per user
type Service struct {
	store         Store
	costPerMinute decimal.Decimal
	maxAttempts   int
	timeout       time.Duration
}

// NewService creates a ledger service. maxAttempts <= 0 retries until timeout
// elapses; timeout <= 0 uses DefaultReserveTimeout.
func NewService(store Store, costPerMinute decimal.Decimal, maxAttempts int, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = DefaultReserveTimeout
	}
	return &Service{
		store:         store,
		costPerMinute: costPerMinute,
		maxAttempts:   maxAttempts,
		timeout:       timeout,
	}
}

// CostPerMinute returns the configured rate
func (s *Service) CostPerMinute() decimal.Decimal {
	return s.costPerMinute
}

// Reserve reads the user, computes the reservation and writes it back with a
// version check. Every lost round means another writer committed, so retries
// back off with jitter and continue until the deadline.
func (s *Service) Reserve(ctx context.Context, req ChargeRequest) (*Outcome, error) {
	if req.Minutes.IsNegative() {
		return nil, apperrors.Validation("minutes", "minutes must not be negative")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	backoff := minBackoff
	for attempt := 1; s.maxAttempts <= 0 || attempt <= s.maxAttempts; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, rand.N(backoff)+minBackoff); err != nil {
				return nil, apperrors.Storage(apperrors.StageLedger,
					fmt.Errorf("user %s: reservation gave up after %d attempts: %w", req.UserID, attempt-1, err))
			}
			backoff = min(backoff*2, maxBackoff)
		}

		user, err := s.store.GetUser(ctx, req.UserID)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				return nil, apperrors.NotFound("user not found")
			}
			return nil, apperrors.Storage(apperrors.StageLedger, err)
		}

		outcome, err := Reserve(*user, req.Minutes, s.costPerMinute)
		if err != nil {
			return nil, err
		}

		charge := &models.UsageCharge{
			ID:              uuid.New().String(),
			UserID:          req.UserID,
			VideoID:         req.VideoID,
			Minutes:         outcome.Minutes,
			FreeMinutes:     outcome.FreeApplied,
			BillableMinutes: outcome.Billable,
			Cost:            outcome.CostDelta,
			Reason:          req.Reason,
		}

		applied, err := s.store.ApplyCharge(ctx, &outcome.User, user.Version, charge)
		if err != nil {
			return nil, apperrors.Storage(apperrors.StageLedger, err)
		}
		if applied {
			outcome.User.Version = user.Version + 1
			outcome.Attempts = attempt
			metrics.RecordLedgerReservation(outcome.FreeApplied.InexactFloat64(), outcome.Billable.InexactFloat64(), outcome.CostDelta.InexactFloat64())
			return &outcome, nil
		}

		metrics.RecordLedgerConflict()
	}

	return nil, apperrors.Storage(apperrors.StageLedger,
		fmt.Errorf("user %s: reservation lost %d compare-and-swap attempts", req.UserID, s.maxAttempts))
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

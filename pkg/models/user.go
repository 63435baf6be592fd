package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// User represents an account and its usage ledger fields
type User struct {
	ID              string          `json:"id" db:"id"`
	Email           string          `json:"email" db:"email"`
	PasswordHash    string          `json:"-" db:"password_hash"`
	MinutesConsumed decimal.Decimal `json:"minutes_consumed" db:"minutes_consumed"`
	FreeMinutesUsed decimal.Decimal `json:"free_minutes_used" db:"free_minutes_used"`
	AllowedMinutes  decimal.Decimal `json:"allowed_minutes" db:"allowed_minutes"`
	TotalCost       decimal.Decimal `json:"total_cost" db:"total_cost"`
	Version         int64           `json:"-" db:"version"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
}

// BilledMinutes returns the minutes charged at the per-minute rate
func (u User) BilledMinutes() decimal.Decimal {
	return u.MinutesConsumed.Sub(u.FreeMinutesUsed)
}

// FreeMinutesRemaining returns the unused part of the free allowance
func (u User) FreeMinutesRemaining() decimal.Decimal {
	remaining := u.AllowedMinutes.Sub(u.FreeMinutesUsed)
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining
}

// UsageCharge is an audit row written alongside every ledger mutation
type UsageCharge struct {
	ID              string          `json:"id" db:"id"`
	UserID          string          `json:"user_id" db:"user_id"`
	VideoID         string          `json:"video_id" db:"video_id"`
	Minutes         decimal.Decimal `json:"minutes" db:"minutes"`
	FreeMinutes     decimal.Decimal `json:"free_minutes" db:"free_minutes"`
	BillableMinutes decimal.Decimal `json:"billable_minutes" db:"billable_minutes"`
	Cost            decimal.Decimal `json:"cost" db:"cost"`
	Reason          string          `json:"reason" db:"reason"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}

// Charge reasons
const (
	ChargeReasonTranscription    = "transcription"
	ChargeReasonRegenerate       = "regenerate"
	ChargeReasonDubTranscription = "dub_transcription"
)

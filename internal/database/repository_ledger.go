package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/therealutkarshpriyadarshi/captionforge/pkg/models"
)

const uniqueViolation = "23505"

var errVersionMismatch = errors.New("version mismatch")

// ErrAllowanceBelowUsage is returned when an allowance change would leave
// free_minutes_used above allowed_minutes
var ErrAllowanceBelowUsage = errors.New("allowance below free minutes already used")

// Users

// CreateUser creates an account with the given free allowance
func (r *Repository) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}

	query := `
		INSERT INTO users (id, email, password_hash, allowed_minutes)
		VALUES ($1, $2, $3, $4)
		RETURNING minutes_consumed, free_minutes_used, total_cost, version, created_at, updated_at
	`

	err := r.db.Pool.QueryRow(ctx, query,
		user.ID, user.Email, user.PasswordHash, user.AllowedMinutes,
	).Scan(&user.MinutesConsumed, &user.FreeMinutesUsed, &user.TotalCost, &user.Version,
		&user.CreatedAt, &user.UpdatedAt)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("user %s: %w", user.Email, models.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

const userColumns = `id, email, password_hash, minutes_consumed, free_minutes_used,
	allowed_minutes, total_cost, version, created_at, updated_at`

func scanUser(row scanner) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.MinutesConsumed, &u.FreeMinutesUsed,
		&u.AllowedMinutes, &u.TotalCost, &u.Version, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUser retrieves a user by ID
func (r *Repository) GetUser(ctx context.Context, id string) (*models.User, error) {
	user, err := scanUser(r.db.Pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// GetUserByEmail retrieves a user by email
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	user, err := scanUser(r.db.Pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", email, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// SetAllowedMinutes changes a user's free allowance and bumps the ledger version
// so in-flight reservations re-read it. The allowance cannot drop below the
// free minutes already used; that case returns ErrAllowanceBelowUsage.
func (r *Repository) SetAllowedMinutes(ctx context.Context, userID string, minutes decimal.Decimal) (*models.User, error) {
	user, err := scanUser(r.db.Pool.QueryRow(ctx, `
		UPDATE users
		SET allowed_minutes = $2, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND free_minutes_used <= $2
		RETURNING `+userColumns,
		userID, minutes))
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to set allowed minutes: %w", err)
	}

	// Distinguish a missing user from a rejected allowance.
	if _, err := r.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("user %s: %w", userID, ErrAllowanceBelowUsage)
}

// Ledger

// ApplyCharge writes the user's ledger fields if the stored version still
// equals expectedVersion, records the charge and marks the video charged, all
// in one transaction. It returns false when another writer got there first.
func (r *Repository) ApplyCharge(ctx context.Context, user *models.User, expectedVersion int64, charge *models.UsageCharge) (bool, error) {
	err := r.db.withTx(ctx, "apply_charge", func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE users
			SET minutes_consumed = $3, free_minutes_used = $4, total_cost = $5,
			    version = version + 1, updated_at = NOW()
			WHERE id = $1 AND version = $2
		`, user.ID, expectedVersion, user.MinutesConsumed, user.FreeMinutesUsed, user.TotalCost)
		if err != nil {
			return fmt.Errorf("failed to update usage: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return errVersionMismatch
		}

		var videoID any
		if charge.VideoID != "" {
			videoID = charge.VideoID
		}
		err = tx.QueryRow(ctx, `
			INSERT INTO usage_charges (id, user_id, video_id, minutes, free_minutes, billable_minutes, cost, reason)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING created_at
		`, charge.ID, charge.UserID, videoID, charge.Minutes, charge.FreeMinutes,
			charge.BillableMinutes, charge.Cost, charge.Reason,
		).Scan(&charge.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to record charge: %w", err)
		}

		if charge.VideoID != "" {
			if _, err := tx.Exec(ctx, `UPDATE videos SET charged = TRUE, updated_at = NOW() WHERE id = $1`, charge.VideoID); err != nil {
				return fmt.Errorf("failed to mark video charged: %w", err)
			}
		}
		return nil
	})

	if errors.Is(err, errVersionMismatch) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ListCharges returns a user's usage charges, newest first
func (r *Repository) ListCharges(ctx context.Context, userID string, limit int) ([]*models.UsageCharge, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, user_id, COALESCE(video_id::text, ''), minutes, free_minutes,
		       billable_minutes, cost, reason, created_at
		FROM usage_charges
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list charges: %w", err)
	}
	defer rows.Close()

	var charges []*models.UsageCharge
	for rows.Next() {
		var c models.UsageCharge
		if err := rows.Scan(&c.ID, &c.UserID, &c.VideoID, &c.Minutes, &c.FreeMinutes,
			&c.BillableMinutes, &c.Cost, &c.Reason, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan charge: %w", err)
		}
		charges = append(charges, &c)
	}

	return charges, rows.Err()
}

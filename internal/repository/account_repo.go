package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/camly/backend/internal/models"
)

// ErrBalanceConflict is returned when a conditional balance update matched no row.
var ErrBalanceConflict = errors.New("balance precondition failed")

// TxBeginner is satisfied by *pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type AccountRepo struct {
	pool *pgxpool.Pool
}

func NewAccountRepo(pool *pgxpool.Pool) *AccountRepo {
	return &AccountRepo{pool: pool}
}

const accountColumns = `user_id, total_earned, pending_unapproved, approved_claimable, claimed_lifetime,
	COALESCE(hold_reason, ''), held_at, updated_at`

func scanAccount(row pgx.Row) (*models.RewardAccount, error) {
	var a models.RewardAccount
	if err := row.Scan(&a.UserID, &a.TotalEarned, &a.PendingUnapproved, &a.ApprovedClaimable, &a.ClaimedLifetime,
		&a.HoldReason, &a.HeldAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

// GetByUserID returns the account, or a zero account if the user has never earned.
func (r *AccountRepo) GetByUserID(ctx context.Context, userID uuid.UUID) (*models.RewardAccount, error) {
	a, err := scanAccount(r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM reward_accounts WHERE user_id = $1`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return &models.RewardAccount{UserID: userID}, nil
	}
	return a, err
}

// GetForUpdate creates the account row if missing and locks it for the rest of tx.
func (r *AccountRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*models.RewardAccount, error) {
	if _, err := tx.Exec(ctx, `
		INSERT INTO reward_accounts (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING
	`, userID); err != nil {
		return nil, err
	}
	return scanAccount(tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM reward_accounts WHERE user_id = $1 FOR UPDATE`, userID))
}

// Credit books a newly earned, not yet approved amount.
func (r *AccountRepo) Credit(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int64) error {
	tag, err := tx.Exec(ctx, `
		UPDATE reward_accounts
		SET total_earned = total_earned + $1, pending_unapproved = pending_unapproved + $1, updated_at = now()
		WHERE user_id = $2
	`, amount, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBalanceConflict
	}
	return nil
}

// MoveToClaimable moves amount from pending_unapproved to approved_claimable.
func (r *AccountRepo) MoveToClaimable(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int64) error {
	tag, err := tx.Exec(ctx, `
		UPDATE reward_accounts
		SET pending_unapproved = pending_unapproved - $1, approved_claimable = approved_claimable + $1, updated_at = now()
		WHERE user_id = $2 AND pending_unapproved >= $1
	`, amount, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBalanceConflict
	}
	return nil
}

// DebitClaimable moves a paid-out amount from approved_claimable to claimed_lifetime.
func (r *AccountRepo) DebitClaimable(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int64) error {
	tag, err := tx.Exec(ctx, `
		UPDATE reward_accounts
		SET approved_claimable = approved_claimable - $1, claimed_lifetime = claimed_lifetime + $1, updated_at = now()
		WHERE user_id = $2 AND approved_claimable >= $1
	`, amount, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBalanceConflict
	}
	return nil
}

// Overwrite replaces all four buckets. Only reconciliation uses it.
func (r *AccountRepo) Overwrite(ctx context.Context, tx pgx.Tx, a *models.RewardAccount) error {
	_, err := tx.Exec(ctx, `
		UPDATE reward_accounts
		SET total_earned = $2, pending_unapproved = $3, approved_claimable = $4, claimed_lifetime = $5, updated_at = now()
		WHERE user_id = $1
	`, a.UserID, a.TotalEarned, a.PendingUnapproved, a.ApprovedClaimable, a.ClaimedLifetime)
	return err
}

// PlaceHold blocks claims for userID. It runs outside any transaction so it
// still lands when the settlement transaction could not commit. An existing
// hold keeps its original reason.
func (r *AccountRepo) PlaceHold(ctx context.Context, userID uuid.UUID, reason string, now time.Time) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO reward_accounts (user_id, hold_reason, held_at) VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE
		SET hold_reason = COALESCE(reward_accounts.hold_reason, EXCLUDED.hold_reason),
		    held_at = COALESCE(reward_accounts.held_at, EXCLUDED.held_at),
		    updated_at = now()
	`, userID, reason, now)
	return err
}

// ClearHold lifts a hold on a locked account. It reports false if none was set.
func (r *AccountRepo) ClearHold(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE reward_accounts SET hold_reason = NULL, held_at = NULL, updated_at = now()
		WHERE user_id = $1 AND hold_reason IS NOT NULL
	`, userID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

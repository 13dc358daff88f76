package claims

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/camly/backend/internal/apperr"
	"github.com/camly/backend/internal/models"
	"github.com/camly/backend/internal/repository"
)

type Repository struct {
	pool    *pgxpool.Pool
	entries *repository.EntryRepo
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, entries: repository.NewEntryRepo(pool)}
}

const claimColumns = `id, user_id, wallet_address, amount, status, tx_hash, error_message, created_at, processed_at`

func scanClaim(row pgx.Row) (*models.ClaimRequest, error) {
	var c models.ClaimRequest
	err := row.Scan(&c.ID, &c.UserID, &c.WalletAddress, &c.Amount, &c.Status, &c.TxHash, &c.ErrorMessage, &c.CreatedAt, &c.ProcessedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *Repository) ListClaimable(ctx context.Context, tx pgx.Tx, userID uuid.UUID, now time.Time) ([]*models.RewardEntry, error) {
	return r.entries.ListClaimable(ctx, tx, userID, now)
}

func (r *Repository) SumApprovedUnclaimed(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (int64, error) {
	return r.entries.SumApprovedUnclaimed(ctx, tx, userID)
}

func (r *Repository) MarkClaimed(ctx context.Context, tx pgx.Tx, ids []uuid.UUID, claimID uuid.UUID, now time.Time) (int64, error) {
	return r.entries.MarkClaimed(ctx, tx, ids, claimID, now)
}

func (r *Repository) HasPendingClaim(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM claim_requests WHERE user_id = $1 AND status = 'pending')
	`, userID).Scan(&exists)
	return exists, err
}

func (r *Repository) InsertClaim(ctx context.Context, tx pgx.Tx, c *models.ClaimRequest) error {
	return tx.QueryRow(ctx, `
		INSERT INTO claim_requests (id, user_id, wallet_address, amount, status)
		VALUES ($1, $2, $3, $4, 'pending')
		RETURNING created_at
	`, c.ID, c.UserID, c.WalletAddress, c.Amount).Scan(&c.CreatedAt)
}

// MarkClaimSuccess settles a pending claim. It reports false if the claim was
// no longer pending.
func (r *Repository) MarkClaimSuccess(ctx context.Context, tx pgx.Tx, id uuid.UUID, txHash string, now time.Time) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE claim_requests SET status = 'success', tx_hash = $2, processed_at = $3
		WHERE id = $1 AND status = 'pending'
	`, id, txHash, now)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkClaimFailed fails a pending claim outside any transaction.
func (r *Repository) MarkClaimFailed(ctx context.Context, id uuid.UUID, reason string, now time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE claim_requests SET status = 'failed', error_message = $2, processed_at = $3
		WHERE id = $1 AND status = 'pending'
	`, id, reason, now)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) LatestClaim(ctx context.Context, userID uuid.UUID) (*models.ClaimRequest, error) {
	c, err := scanClaim(r.pool.QueryRow(ctx, `
		SELECT `+claimColumns+` FROM claim_requests
		WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1
	`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "no claims yet")
	}
	return c, err
}

// FailStalePending fails every pending claim created before cutoff and
// returns the claims it changed.
func (r *Repository) FailStalePending(ctx context.Context, cutoff time.Time, reason string, now time.Time) ([]*models.ClaimRequest, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE claim_requests SET status = 'failed', error_message = $2, processed_at = $3
		WHERE status = 'pending' AND created_at < $1
		RETURNING `+claimColumns, cutoff, reason, now)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*models.ClaimRequest, error) {
		return scanClaim(row)
	})
}

func (r *Repository) DailyRecord(ctx context.Context, tx pgx.Tx, userID uuid.UUID, day time.Time) (*models.DailyClaimRecord, error) {
	rec := &models.DailyClaimRecord{UserID: userID, Date: day}
	err := tx.QueryRow(ctx, `
		SELECT total_claimed, claim_count FROM daily_claim_records WHERE user_id = $1 AND claim_date = $2
	`, userID, day).Scan(&rec.TotalClaimed, &rec.ClaimCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return rec, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// AddDaily adds amount to the day's total unless it would pass dailyCap.
func (r *Repository) AddDaily(ctx context.Context, tx pgx.Tx, userID uuid.UUID, day time.Time, amount, dailyCap int64) error {
	tag, err := tx.Exec(ctx, `
		INSERT INTO daily_claim_records (user_id, claim_date, total_claimed, claim_count)
		SELECT $1, $2, $3, 1 WHERE $3 <= $4
		ON CONFLICT (user_id, claim_date) DO UPDATE
		SET total_claimed = daily_claim_records.total_claimed + EXCLUDED.total_claimed,
			claim_count = daily_claim_records.claim_count + 1
		WHERE daily_claim_records.total_claimed + EXCLUDED.total_claimed <= $4
	`, userID, day, amount, dailyCap)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrBalanceConflict
	}
	return nil
}

package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/camly/backend/internal/models"
)

type EntryRepo struct {
	pool *pgxpool.Pool
}

func NewEntryRepo(pool *pgxpool.Pool) *EntryRepo {
	return &EntryRepo{pool: pool}
}

const entryColumns = `id, user_id, kind, amount, approved, claimed, escrow_release_at, claim_request_id, created_at, approved_at, claimed_at`

func scanEntries(rows pgx.Rows) ([]*models.RewardEntry, error) {
	defer rows.Close()
	var list []*models.RewardEntry
	for rows.Next() {
		var e models.RewardEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Kind, &e.Amount, &e.Approved, &e.Claimed, &e.EscrowReleaseAt,
			&e.ClaimRequestID, &e.CreatedAt, &e.ApprovedAt, &e.ClaimedAt); err != nil {
			return nil, err
		}
		list = append(list, &e)
	}
	return list, rows.Err()
}

// Insert writes a new entry inside tx.
func (r *EntryRepo) Insert(ctx context.Context, tx pgx.Tx, e *models.RewardEntry) error {
	return tx.QueryRow(ctx, `
		INSERT INTO reward_entries (id, user_id, kind, amount, approved, escrow_release_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, e.ID, e.UserID, e.Kind, e.Amount, e.Approved, e.EscrowReleaseAt).Scan(&e.CreatedAt)
}

// ListClaimable returns approved, unclaimed entries whose escrow has released by now.
func (r *EntryRepo) ListClaimable(ctx context.Context, tx pgx.Tx, userID uuid.UUID, now time.Time) ([]*models.RewardEntry, error) {
	rows, err := tx.Query(ctx, `
		SELECT `+entryColumns+`
		FROM reward_entries
		WHERE user_id = $1 AND approved AND NOT claimed
		  AND (escrow_release_at IS NULL OR escrow_release_at <= $2)
		ORDER BY created_at, id
	`, userID, now)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

// SumApprovedUnclaimed sums every approved, unclaimed entry, in escrow or not.
func (r *EntryRepo) SumApprovedUnclaimed(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (int64, error) {
	var sum int64
	err := tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)::bigint FROM reward_entries WHERE user_id = $1 AND approved AND NOT claimed
	`, userID).Scan(&sum)
	return sum, err
}

// MarkClaimed flips the given entries to claimed and returns how many changed.
func (r *EntryRepo) MarkClaimed(ctx context.Context, tx pgx.Tx, ids []uuid.UUID, claimID uuid.UUID, now time.Time) (int64, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE reward_entries
		SET claimed = true, claimed_at = $3, claim_request_id = $2
		WHERE id = ANY($1) AND approved AND NOT claimed
	`, ids, claimID, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

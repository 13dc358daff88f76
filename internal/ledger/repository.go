package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/camly/backend/internal/models"
	"github.com/camly/backend/internal/repository"
)

// Repository holds the ledger-wide queries over reward_entries. Per-user
// balance updates live in repository.AccountRepo.
type Repository struct {
	pool    *pgxpool.Pool
	entries *repository.EntryRepo
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, entries: repository.NewEntryRepo(pool)}
}

func (r *Repository) InsertEntry(ctx context.Context, tx pgx.Tx, e *models.RewardEntry) error {
	return r.entries.Insert(ctx, tx, e)
}

// ApprovePending approves every unapproved entry of the user and returns their total.
func (r *Repository) ApprovePending(ctx context.Context, tx pgx.Tx, userID uuid.UUID, now time.Time) (total int64, count int, err error) {
	rows, err := tx.Query(ctx, `
		UPDATE reward_entries SET approved = true, approved_at = $2
		WHERE user_id = $1 AND NOT approved
		RETURNING amount
	`, userID, now)
	if err != nil {
		return 0, 0, err
	}
	defer rows.Close()
	for rows.Next() {
		var amount int64
		if err := rows.Scan(&amount); err != nil {
			return 0, 0, err
		}
		total += amount
		count++
	}
	return total, count, rows.Err()
}

// ListUsersWithPending returns users holding at least one unapproved entry.
func (r *Repository) ListUsersWithPending(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT user_id FROM reward_entries WHERE NOT approved`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

// ListEscrowReleased returns claimable entries whose escrow ended in (after, upTo].
func (r *Repository) ListEscrowReleased(ctx context.Context, after, upTo time.Time) ([]*models.RewardEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, kind, amount, escrow_release_at
		FROM reward_entries
		WHERE escrow_release_at > $1 AND escrow_release_at <= $2 AND approved AND NOT claimed
		ORDER BY escrow_release_at
	`, after, upTo)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*models.RewardEntry, error) {
		e := &models.RewardEntry{Approved: true}
		err := row.Scan(&e.ID, &e.UserID, &e.Kind, &e.Amount, &e.EscrowReleaseAt)
		return e, err
	})
}

// DerivedAccount recomputes the four account buckets from entries alone.
func (r *Repository) DerivedAccount(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*models.RewardAccount, error) {
	a := &models.RewardAccount{UserID: userID}
	err := tx.QueryRow(ctx, `
		SELECT
			COALESCE(SUM(amount), 0)::bigint,
			COALESCE(SUM(amount) FILTER (WHERE NOT approved), 0)::bigint,
			COALESCE(SUM(amount) FILTER (WHERE approved AND NOT claimed), 0)::bigint,
			COALESCE(SUM(amount) FILTER (WHERE claimed), 0)::bigint
		FROM reward_entries WHERE user_id = $1
	`, userID).Scan(&a.TotalEarned, &a.PendingUnapproved, &a.ApprovedClaimable, &a.ClaimedLifetime)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ListDriftedUsers returns users whose account buckets disagree with their entries.
func (r *Repository) ListDriftedUsers(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT a.user_id
		FROM reward_accounts a
		LEFT JOIN (
			SELECT user_id,
				SUM(amount) AS total,
				SUM(amount) FILTER (WHERE NOT approved) AS pending,
				SUM(amount) FILTER (WHERE approved AND NOT claimed) AS approved,
				SUM(amount) FILTER (WHERE claimed) AS claimed
			FROM reward_entries GROUP BY user_id
		) e ON e.user_id = a.user_id
		WHERE a.total_earned <> COALESCE(e.total, 0)
		   OR a.pending_unapproved <> COALESCE(e.pending, 0)
		   OR a.approved_claimable <> COALESCE(e.approved, 0)
		   OR a.claimed_lifetime <> COALESCE(e.claimed, 0)
	`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/camly/backend/internal/lightscore"
	"github.com/camly/backend/internal/models"
)

// ActivityRepo reads reward_entries as an activity log for scoring.
type ActivityRepo struct {
	pool *pgxpool.Pool
}

func NewActivityRepo(pool *pgxpool.Pool) *ActivityRepo {
	return &ActivityRepo{pool: pool}
}

func (r *ActivityRepo) Counts(ctx context.Context, userID uuid.UUID) (lightscore.ActivityCounts, error) {
	var c lightscore.ActivityCounts
	err := r.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE kind = 'view'),
			COUNT(*) FILTER (WHERE kind = 'like'),
			COUNT(*) FILTER (WHERE kind = 'comment'),
			COUNT(*) FILTER (WHERE kind = 'share'),
			COUNT(*) FILTER (WHERE kind = 'upload')
		FROM reward_entries WHERE user_id = $1
	`, userID).Scan(&c.Views, &c.Likes, &c.Comments, &c.Shares, &c.Uploads)
	return c, err
}

// Events returns the user's most recent activity, newest first.
func (r *ActivityRepo) Events(ctx context.Context, userID uuid.UUID, limit int) ([]lightscore.Event, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT kind, created_at FROM reward_entries
		WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (lightscore.Event, error) {
		var kind models.RewardKind
		var at time.Time
		if err := row.Scan(&kind, &at); err != nil {
			return lightscore.Event{}, err
		}
		return lightscore.Event{Kind: EventKind(kind), At: at}, nil
	})
}

// ActiveDays returns the distinct UTC days with activity since the given time, newest first.
func (r *ActivityRepo) ActiveDays(ctx context.Context, userID uuid.UUID, since time.Time) ([]time.Time, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT (created_at AT TIME ZONE 'UTC')::date AS day
		FROM reward_entries WHERE user_id = $1 AND created_at >= $2
		ORDER BY day DESC
	`, userID, since)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[time.Time])
}

func (r *ActivityRepo) CountEntriesBetween(ctx context.Context, userID uuid.UUID, from, to time.Time) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM reward_entries WHERE user_id = $1 AND created_at >= $2 AND created_at < $3
	`, userID, from, to).Scan(&n)
	return n, err
}

// EventKind maps a reward kind onto the scoring event vocabulary.
func EventKind(k models.RewardKind) lightscore.EventKind {
	switch k {
	case models.RewardView:
		return lightscore.EventView
	case models.RewardLike:
		return lightscore.EventLike
	case models.RewardComment:
		return lightscore.EventComment
	case models.RewardShare:
		return lightscore.EventShare
	case models.RewardUpload:
		return lightscore.EventUpload
	case models.RewardDonation:
		return lightscore.EventDonation
	default:
		return lightscore.EventEarn
	}
}

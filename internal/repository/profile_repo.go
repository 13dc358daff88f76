package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/camly/backend/internal/apperr"
	"github.com/camly/backend/internal/models"
)

type ProfileRepo struct {
	pool *pgxpool.Pool
}

func NewProfileRepo(pool *pgxpool.Pool) *ProfileRepo {
	return &ProfileRepo{pool: pool}
}

func (r *ProfileRepo) GetByID(ctx context.Context, userID uuid.UUID) (*models.Profile, error) {
	var p models.Profile
	err := r.pool.QueryRow(ctx, `
		SELECT user_id, username, display_name, COALESCE(avatar_url, ''), COALESCE(bio, ''),
			COALESCE(wallet_address, ''), is_verified, reputation_weight, COALESCE(signup_ip_hash, ''),
			suspicion_score, suspicion_reasons, suspicion_checked_at, created_at
		FROM profiles WHERE user_id = $1
	`, userID).Scan(&p.UserID, &p.Username, &p.DisplayName, &p.AvatarURL, &p.Bio,
		&p.WalletAddress, &p.IsVerified, &p.ReputationWeight, &p.SignupIPHash,
		&p.SuspicionScore, &p.SuspicionReasons, &p.SuspicionCheckedAt, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "profile %s not found", userID)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// SaveSuspicion stores the latest abuse assessment on the profile.
func (r *ProfileRepo) SaveSuspicion(ctx context.Context, s *models.SuspicionProfile) error {
	reasons := s.Reasons
	if reasons == nil {
		reasons = []string{}
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE profiles SET suspicion_score = $2, suspicion_reasons = $3, suspicion_checked_at = $4
		WHERE user_id = $1
	`, s.UserID, s.Score, reasons, s.CheckedAt)
	return err
}

// CountAccountsByIPHash counts distinct accounts that signed up from ipHash.
func (r *ProfileRepo) CountAccountsByIPHash(ctx context.Context, ipHash string) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM profiles WHERE signup_ip_hash = $1`, ipHash).Scan(&n)
	return n, err
}

func (r *ProfileRepo) CountSignupsByIPHashSince(ctx context.Context, ipHash string, since time.Time) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM profiles WHERE signup_ip_hash = $1 AND created_at >= $2
	`, ipHash, since).Scan(&n)
	return n, err
}

// CountWalletsByIPHash counts distinct wallets linked from ipHash.
func (r *ProfileRepo) CountWalletsByIPHash(ctx context.Context, ipHash string) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(DISTINCT lower(wallet_address)) FROM wallet_links WHERE ip_hash = $1
	`, ipHash).Scan(&n)
	return n, err
}

// LinkWallet records that userID used wallet from ipHash.
func (r *ProfileRepo) LinkWallet(ctx context.Context, userID uuid.UUID, wallet, ipHash string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO wallet_links (user_id, wallet_address, ip_hash)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, wallet_address, ip_hash) DO NOTHING
	`, userID, wallet, ipHash)
	return err
}

package mint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/camly/backend/internal/apperr"
	"github.com/camly/backend/internal/lightscore"
	"github.com/camly/backend/internal/models"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const mintColumns = `id, user_id, wallet_address, pillar_scores, light_score, unity_score, multipliers,
	mintable_fun, base_reward_atomic::text, calculated_amount_atomic::text, evidence, status,
	reviewed_by, reviewed_at, decision_reason, tx_hash, minted_at, created_at`

func scanMint(row pgx.Row) (*models.MintRequest, error) {
	var (
		m                   models.MintRequest
		pillars, multi, evi []byte
		base, calculated    string
	)
	err := row.Scan(&m.ID, &m.UserID, &m.WalletAddress, &pillars, &m.LightScore, &m.UnityScore, &multi,
		&m.MintableFun, &base, &calculated, &evi, &m.Status,
		&m.ReviewedBy, &m.ReviewedAt, &m.DecisionReason, &m.TxHash, &m.MintedAt, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	if m.PillarScores, err = lightscore.DecodePillarScores(pillars); err != nil {
		return nil, fmt.Errorf("mint request %s: %w", m.ID, err)
	}
	if err := json.Unmarshal(multi, &m.Multipliers); err != nil {
		return nil, fmt.Errorf("mint request %s: multipliers: %w", m.ID, err)
	}
	if m.BaseRewardAtomic, err = decimal.NewFromString(base); err != nil {
		return nil, fmt.Errorf("mint request %s: base reward: %w", m.ID, err)
	}
	if m.CalculatedAmountAtomic, err = decimal.NewFromString(calculated); err != nil {
		return nil, fmt.Errorf("mint request %s: calculated amount: %w", m.ID, err)
	}
	if len(evi) > 0 {
		m.Evidence = evi
	}
	return &m, nil
}

func notFound(err error, id uuid.UUID) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.New(apperr.KindNotFound, "mint request %s not found", id)
	}
	return err
}

func (r *Repository) HasOpenMint(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM mint_requests WHERE user_id = $1 AND status IN ('pending', 'approved'))
	`, userID).Scan(&exists)
	return exists, err
}

func (r *Repository) HasOpenMintRequest(ctx context.Context, userID uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM mint_requests WHERE user_id = $1 AND status IN ('pending', 'approved'))
	`, userID).Scan(&exists)
	return exists, err
}

// SumMintedFun returns the FUN already converted by minted requests.
func (r *Repository) SumMintedFun(ctx context.Context, userID uuid.UUID) (int64, error) {
	var sum int64
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(mintable_fun), 0)::bigint FROM mint_requests WHERE user_id = $1 AND status = 'minted'
	`, userID).Scan(&sum)
	return sum, err
}

func (r *Repository) InsertMint(ctx context.Context, tx pgx.Tx, m *models.MintRequest) error {
	pillars, err := lightscore.EncodePillarScores(m.PillarScores)
	if err != nil {
		return err
	}
	multi, err := json.Marshal(m.Multipliers)
	if err != nil {
		return err
	}
	var evidence []byte
	if len(m.Evidence) > 0 {
		evidence = m.Evidence
	}
	return tx.QueryRow(ctx, `
		INSERT INTO mint_requests (id, user_id, wallet_address, pillar_scores, light_score, unity_score, multipliers,
			mintable_fun, base_reward_atomic, calculated_amount_atomic, evidence, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::numeric, $10::numeric, $11, $12)
		RETURNING created_at
	`, m.ID, m.UserID, m.WalletAddress, pillars, m.LightScore, m.UnityScore, multi,
		m.MintableFun, m.BaseRewardAtomic.String(), m.CalculatedAmountAtomic.String(), evidence, m.Status).Scan(&m.CreatedAt)
}

func (r *Repository) GetMintForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.MintRequest, error) {
	m, err := scanMint(tx.QueryRow(ctx, `SELECT `+mintColumns+` FROM mint_requests WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err, id)
	}
	return m, nil
}

func (r *Repository) GetMint(ctx context.Context, id uuid.UUID) (*models.MintRequest, error) {
	m, err := scanMint(r.pool.QueryRow(ctx, `SELECT `+mintColumns+` FROM mint_requests WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, id)
	}
	return m, nil
}

// UpdateMint writes the mutable lifecycle columns.
func (r *Repository) UpdateMint(ctx context.Context, tx pgx.Tx, m *models.MintRequest) error {
	tag, err := tx.Exec(ctx, `
		UPDATE mint_requests
		SET status = $2, reviewed_by = $3, reviewed_at = $4, decision_reason = $5, tx_hash = $6, minted_at = $7
		WHERE id = $1
	`, m.ID, m.Status, m.ReviewedBy, m.ReviewedAt, m.DecisionReason, m.TxHash, m.MintedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.KindNotFound, "mint request %s not found", m.ID)
	}
	return nil
}

func (r *Repository) ListPendingMints(ctx context.Context) ([]*models.MintRequest, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+mintColumns+` FROM mint_requests WHERE status = 'pending' ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*models.MintRequest, error) {
		return scanMint(row)
	})
}

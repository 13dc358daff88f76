// Package mint runs the mint request lifecycle: submission, admin review and
// the on-chain mint of approved grants.
package mint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/sync/errgroup"

	"github.com/camly/backend/internal/apperr"
	"github.com/camly/backend/internal/chain"
	"github.com/camly/backend/internal/eligibility"
	"github.com/camly/backend/internal/events"
	"github.com/camly/backend/internal/execution"
	"github.com/camly/backend/internal/models"
	"github.com/camly/backend/internal/repository"
	"github.com/camly/backend/internal/validation"
)

type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

type Service interface {
	Submit(ctx context.Context, userID uuid.UUID, wallet string, evidence json.RawMessage) (*SubmitResult, error)
	Review(ctx context.Context, adminID, requestID uuid.UUID, decision Decision, note string) (*models.MintRequest, error)
	Mint(ctx context.Context, requestID uuid.UUID) (*models.MintRequest, error)
	ReviewBulk(ctx context.Context, adminID uuid.UUID) (*BulkReviewReport, error)
	Get(ctx context.Context, requestID uuid.UUID) (*models.MintRequest, error)
}

type Store interface {
	HasOpenMint(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (bool, error)
	InsertMint(ctx context.Context, tx pgx.Tx, m *models.MintRequest) error
	GetMintForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.MintRequest, error)
	UpdateMint(ctx context.Context, tx pgx.Tx, m *models.MintRequest) error
	GetMint(ctx context.Context, id uuid.UUID) (*models.MintRequest, error)
	ListPendingMints(ctx context.Context) ([]*models.MintRequest, error)
}

type AccountLocker interface {
	GetForUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*models.RewardAccount, error)
}

type Eligibility interface {
	Compute(ctx context.Context, userID uuid.UUID) (*eligibility.Eligibility, error)
}

type Assessor interface {
	Compute(ctx context.Context, userID uuid.UUID, ipHash string) (*models.SuspicionProfile, error)
}

// Minter is satisfied by *chain.Client.
type Minter interface {
	Mint(ctx context.Context, req chain.MintRequest) (string, error)
}

// InsertMintJobTxFunc enqueues a mint job within the given transaction. Provided by main using river.Client.InsertTx.
type InsertMintJobTxFunc func(ctx context.Context, tx pgx.Tx, args execution.MintJobArgs) error

type Config struct {
	TokenDecimals   int32
	FunPerToken     int64
	ChainTimeout    time.Duration
	BulkConcurrency int
}

type SubmitResult struct {
	RequestID                 uuid.UUID          `json:"request_id"`
	Status                    models.MintStatus  `json:"status"`
	StatusLabel               string             `json:"status_label"`
	LightScore                int                `json:"light_score"`
	UnityScore                int                `json:"unity_score"`
	Multipliers               models.Multipliers `json:"multipliers"`
	CalculatedAmountAtomic    string             `json:"calculated_amount_atomic"`
	CalculatedAmountFormatted string             `json:"calculated_amount_formatted"`
}

type BulkReviewReport struct {
	Approved int `json:"approved"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

type service struct {
	pool        repository.TxBeginner
	accounts    AccountLocker
	store       Store
	eligibility Eligibility
	assessor    Assessor
	chain       Minter
	validator   *validation.Validator
	insertJob   InsertMintJobTxFunc
	bus         events.Publisher
	cfg         Config
	log         *slog.Logger
	now         func() time.Time
}

func NewService(pool repository.TxBeginner, accounts AccountLocker, store Store, elig Eligibility, assessor Assessor,
	minter Minter, validator *validation.Validator, insertJob InsertMintJobTxFunc, bus events.Publisher, cfg Config, log *slog.Logger) Service {
	if log == nil {
		log = slog.Default()
	}
	if bus == nil {
		bus = events.Nop{}
	}
	if cfg.BulkConcurrency <= 0 {
		cfg.BulkConcurrency = 1
	}
	return &service{
		pool:        pool,
		accounts:    accounts,
		store:       store,
		eligibility: elig,
		assessor:    assessor,
		chain:       minter,
		validator:   validator,
		insertJob:   insertJob,
		bus:         bus,
		cfg:         cfg,
		log:         log,
		now:         time.Now,
	}
}

var _ Service = (*service)(nil)

func (s *service) Submit(ctx context.Context, userID uuid.UUID, wallet string, evidence json.RawMessage) (*SubmitResult, error) {
	wallet, err := validation.NormalizeWallet(wallet)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, err, "invalid wallet address")
	}
	if err := s.validator.ValidateEvidence(evidence); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, err, "invalid evidence")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := s.accounts.GetForUpdate(ctx, tx, userID); err != nil {
		return nil, fmt.Errorf("lock account: %w", err)
	}
	open, err := s.store.HasOpenMint(ctx, tx, userID)
	if err != nil {
		return nil, fmt.Errorf("check open request: %w", err)
	}
	if open {
		return nil, concurrentRequest()
	}

	elig, err := s.eligibility.Compute(ctx, userID)
	if err != nil {
		return nil, err
	}
	res := elig.Result
	if !res.CanMint {
		return nil, apperr.New(apperr.KindValidation, "not eligible to mint: %s", res.MintBlockReason)
	}
	if res.MintableFun <= 0 {
		return nil, apperr.New(apperr.KindValidation, "nothing new to mint")
	}
	suspicion, err := s.assessor.Compute(ctx, userID, "")
	if err != nil {
		return nil, fmt.Errorf("assess user: %w", err)
	}

	multipliers := ComputeMultipliers(elig.Profile.ReputationWeight, res.LightScore, suspicion.Score, res.UnityScore)
	base := BaseRewardAtomic(res.MintableFun, s.cfg.TokenDecimals, s.cfg.FunPerToken)
	m := &models.MintRequest{
		ID:                     uuid.New(),
		UserID:                 userID,
		WalletAddress:          wallet,
		PillarScores:           res.Pillars,
		LightScore:             res.LightScore,
		UnityScore:             res.UnityScore,
		Multipliers:            multipliers,
		MintableFun:            res.MintableFun,
		BaseRewardAtomic:       base,
		CalculatedAmountAtomic: CalculatedAmount(base, multipliers),
		Evidence:               evidence,
		Status:                 models.MintPending,
	}
	if err := s.store.InsertMint(ctx, tx, m); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, concurrentRequest()
		}
		return nil, fmt.Errorf("insert mint request: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	s.log.Info("mint request submitted", "request_id", m.ID, "user_id", userID,
		"light_score", m.LightScore, "amount_atomic", m.CalculatedAmountAtomic.String())
	s.bus.Publish(ctx, events.Event{
		Type:   events.MintSubmitted,
		UserID: userID,
		Data:   map[string]any{"request_id": m.ID, "amount_atomic": m.CalculatedAmountAtomic.String()},
	})
	return &SubmitResult{
		RequestID:                 m.ID,
		Status:                    m.Status,
		StatusLabel:               m.Status.Label(),
		LightScore:                m.LightScore,
		UnityScore:                m.UnityScore,
		Multipliers:               m.Multipliers,
		CalculatedAmountAtomic:    m.CalculatedAmountAtomic.String(),
		CalculatedAmountFormatted: FormatTokens(m.CalculatedAmountAtomic, s.cfg.TokenDecimals),
	}, nil
}

func concurrentRequest() error {
	return apperr.Wrap(apperr.KindState, ErrConcurrentRequest, "you already have a mint request in progress")
}

// Review approves or rejects a pending request. Approval enqueues the mint
// job in the same transaction.
func (s *service) Review(ctx context.Context, adminID, requestID uuid.UUID, decision Decision, note string) (*models.MintRequest, error) {
	var to models.MintStatus
	switch decision {
	case DecisionApprove:
		to = models.MintApproved
	case DecisionReject:
		to = models.MintRejected
	default:
		return nil, apperr.New(apperr.KindValidation, "decision must be approve or reject")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	m, err := s.store.GetMintForUpdate(ctx, tx, requestID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	err = transition(m, to, func(m *models.MintRequest) {
		m.ReviewedBy = &adminID
		m.ReviewedAt = &now
		if note != "" {
			m.DecisionReason = &note
		}
	})
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdateMint(ctx, tx, m); err != nil {
		return nil, fmt.Errorf("update mint request: %w", err)
	}
	if to == models.MintApproved {
		if err := s.insertJob(ctx, tx, execution.MintJobArgs{RequestID: m.ID}); err != nil {
			return nil, fmt.Errorf("enqueue mint job: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	s.log.Info("mint request reviewed", "request_id", m.ID, "admin_id", adminID, "status", m.Status)
	s.bus.Publish(ctx, events.Event{
		Type:   events.MintReviewed,
		UserID: m.UserID,
		Data:   map[string]any{"request_id": m.ID, "status": m.Status, "label": m.Status.Label()},
	})
	return m, nil
}

// Mint submits an approved request to the chain. The request row stays
// locked across the relayer call, so a second Mint waits and then finds the
// request terminal.
func (s *service) Mint(ctx context.Context, requestID uuid.UUID) (*models.MintRequest, error) {
	ctx = context.WithoutCancel(ctx)
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	m, err := s.store.GetMintForUpdate(ctx, tx, requestID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(m.Status, models.MintMinted) {
		return nil, transition(m, models.MintMinted, nil)
	}

	chainCtx, cancel := context.WithTimeout(ctx, s.cfg.ChainTimeout)
	txHash, chainErr := s.chain.Mint(chainCtx, chain.MintRequest{
		IdempotencyKey: m.ID.String(),
		To:             m.WalletAddress,
		AmountAtomic:   m.CalculatedAmountAtomic.String(),
	})
	cancel()

	now := s.now().UTC()
	if chainErr != nil {
		reason := chainErr.Error()
		_ = transition(m, models.MintFailed, func(m *models.MintRequest) { m.DecisionReason = &reason })
	} else {
		_ = transition(m, models.MintMinted, func(m *models.MintRequest) {
			m.TxHash = &txHash
			m.MintedAt = &now
		})
	}
	if err := s.store.UpdateMint(ctx, tx, m); err != nil {
		s.log.Error("mint outcome not recorded", "alert", "operator", "request_id", m.ID,
			"status", m.Status, "tx_hash", txHash, "chain_error", chainErr, "error", err)
		return nil, fmt.Errorf("update mint request: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		s.log.Error("mint outcome not committed", "alert", "operator", "request_id", m.ID,
			"status", m.Status, "tx_hash", txHash, "error", err)
		return nil, err
	}

	if chainErr != nil {
		s.log.Warn("mint failed", "request_id", m.ID, "user_id", m.UserID, "error", chainErr)
		s.bus.Publish(ctx, events.Event{
			Type:   events.MintFailed,
			UserID: m.UserID,
			Data:   map[string]any{"request_id": m.ID, "error": chainErr.Error()},
		})
		return m, apperr.Wrap(apperr.KindChain, chainErr, "mint failed; the request can be resubmitted")
	}
	s.log.Info("mint request minted", "request_id", m.ID, "user_id", m.UserID, "tx_hash", txHash)
	s.bus.Publish(ctx, events.Event{
		Type:   events.MintMinted,
		UserID: m.UserID,
		Data:   map[string]any{"request_id": m.ID, "tx_hash": txHash, "amount_atomic": m.CalculatedAmountAtomic.String()},
	})
	return m, nil
}

// ReviewBulk approves each pending request whose owner the abuse detector
// clears. Requests are reviewed independently.
func (s *service) ReviewBulk(ctx context.Context, adminID uuid.UUID) (*BulkReviewReport, error) {
	pending, err := s.store.ListPendingMints(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pending requests: %w", err)
	}

	var (
		mu     sync.Mutex
		report BulkReviewReport
	)
	count := func(n *int) {
		mu.Lock()
		*n++
		mu.Unlock()
	}
	var g errgroup.Group
	g.SetLimit(s.cfg.BulkConcurrency)
	for _, m := range pending {
		g.Go(func() error {
			sp, err := s.assessor.Compute(ctx, m.UserID, "")
			if err != nil || sp.Recommendation != models.RecommendAutoApprove {
				count(&report.Skipped)
				return nil
			}
			if _, err := s.Review(ctx, adminID, m.ID, DecisionApprove, "auto-approved: low suspicion score"); err != nil {
				if errors.Is(err, apperr.ErrState) {
					count(&report.Skipped)
					return nil
				}
				s.log.Error("bulk mint review", "request_id", m.ID, "error", err)
				count(&report.Failed)
				return nil
			}
			count(&report.Approved)
			return nil
		})
	}
	_ = g.Wait()

	s.log.Info("bulk mint review finished", "admin_id", adminID,
		"approved", report.Approved, "skipped", report.Skipped, "failed", report.Failed)
	return &report, nil
}

func (s *service) Get(ctx context.Context, requestID uuid.UUID) (*models.MintRequest, error) {
	return s.store.GetMint(ctx, requestID)
}

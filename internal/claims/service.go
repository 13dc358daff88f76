// Package claims settles withdrawal claims of approved FUN points against the
// reward ledger.
package claims

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/camly/backend/internal/apperr"
	"github.com/camly/backend/internal/attempts"
	"github.com/camly/backend/internal/chain"
	"github.com/camly/backend/internal/events"
	"github.com/camly/backend/internal/models"
	"github.com/camly/backend/internal/repository"
	"github.com/camly/backend/internal/validation"
)

// StaleReason is recorded on pending claims failed by the sweep.
const StaleReason = "timed out awaiting settlement"

type Service interface {
	SubmitClaim(ctx context.Context, userID uuid.UUID, wallet string) (*Result, error)
	LatestClaim(ctx context.Context, userID uuid.UUID) (*models.ClaimRequest, error)
	SweepStalePending(ctx context.Context, now time.Time) (int, error)
}

type AccountStore interface {
	GetForUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*models.RewardAccount, error)
	DebitClaimable(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int64) error
	PlaceHold(ctx context.Context, userID uuid.UUID, reason string, now time.Time) error
}

type Store interface {
	ListClaimable(ctx context.Context, tx pgx.Tx, userID uuid.UUID, now time.Time) ([]*models.RewardEntry, error)
	SumApprovedUnclaimed(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (int64, error)
	MarkClaimed(ctx context.Context, tx pgx.Tx, ids []uuid.UUID, claimID uuid.UUID, now time.Time) (int64, error)

	HasPendingClaim(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (bool, error)
	InsertClaim(ctx context.Context, tx pgx.Tx, c *models.ClaimRequest) error
	MarkClaimSuccess(ctx context.Context, tx pgx.Tx, id uuid.UUID, txHash string, now time.Time) (bool, error)
	MarkClaimFailed(ctx context.Context, id uuid.UUID, reason string, now time.Time) (bool, error)
	LatestClaim(ctx context.Context, userID uuid.UUID) (*models.ClaimRequest, error)
	FailStalePending(ctx context.Context, cutoff time.Time, reason string, now time.Time) ([]*models.ClaimRequest, error)
	DailyRecord(ctx context.Context, tx pgx.Tx, userID uuid.UUID, day time.Time) (*models.DailyClaimRecord, error)
	AddDaily(ctx context.Context, tx pgx.Tx, userID uuid.UUID, day time.Time, amount, dailyCap int64) error
}

type ProfileStore interface {
	GetByID(ctx context.Context, userID uuid.UUID) (*models.Profile, error)
}

// Transferer is satisfied by *chain.Client.
type Transferer interface {
	Transfer(ctx context.Context, req chain.TransferRequest) (string, error)
}

type Config struct {
	MinThreshold int64
	DailyCap     int64
	PendingTTL   time.Duration
	ChainTimeout time.Duration
}

type Result struct {
	ClaimID uuid.UUID `json:"claim_id"`
	TxHash  string    `json:"tx_hash"`
	Amount  int64     `json:"amount"`
}

type service struct {
	pool     repository.TxBeginner
	accounts AccountStore
	store    Store
	profiles ProfileStore
	chain    Transferer
	attempts attempts.Counter
	bus      events.Publisher
	cfg      Config
	log      *slog.Logger
	now      func() time.Time
}

func NewService(pool repository.TxBeginner, accounts AccountStore, store Store, profiles ProfileStore,
	transferer Transferer, counter attempts.Counter, bus events.Publisher, cfg Config, log *slog.Logger) Service {
	if log == nil {
		log = slog.Default()
	}
	if bus == nil {
		bus = events.Nop{}
	}
	return &service{
		pool:     pool,
		accounts: accounts,
		store:    store,
		profiles: profiles,
		chain:    transferer,
		attempts: counter,
		bus:      bus,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}
}

var _ Service = (*service)(nil)

var printer = message.NewPrinter(language.English)

// SubmitClaim pays out every released, approved entry of userID to wallet.
// The chain call runs detached from ctx so a disconnecting client cannot
// strand a half-settled claim.
func (s *service) SubmitClaim(ctx context.Context, userID uuid.UUID, wallet string) (*Result, error) {
	now := s.now().UTC()
	if _, err := s.attempts.Incr(ctx, userID, now); err != nil {
		s.log.Warn("claim attempt not counted", "user_id", userID, "error", err)
	}

	wallet, err := validation.NormalizeWallet(wallet)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, err, "invalid wallet address")
	}

	claim, entryIDs, err := s.openClaim(ctx, userID, wallet, now)
	if err != nil {
		return nil, err
	}
	s.bus.Publish(ctx, events.Event{
		Type:   events.ClaimPending,
		UserID: userID,
		Data:   map[string]any{"claim_id": claim.ID, "amount": claim.Amount},
	})

	chainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ChainTimeout)
	defer cancel()
	txHash, err := s.chain.Transfer(chainCtx, chain.TransferRequest{
		IdempotencyKey: claim.ID.String(),
		To:             wallet,
		Amount:         claim.Amount,
	})
	if err != nil {
		return nil, s.failClaim(context.WithoutCancel(ctx), claim, err)
	}

	if err := s.settle(context.WithoutCancel(ctx), claim, entryIDs, txHash); err != nil {
		return nil, s.settleFailed(context.WithoutCancel(ctx), claim, txHash, err)
	}
	return &Result{ClaimID: claim.ID, TxHash: txHash, Amount: claim.Amount}, nil
}

// openClaim runs the pre-checks under the account row lock and commits a
// pending claim for the released entries.
func (s *service) openClaim(ctx context.Context, userID uuid.UUID, wallet string, now time.Time) (*models.ClaimRequest, []uuid.UUID, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback(ctx)

	account, err := s.accounts.GetForUpdate(ctx, tx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("lock account: %w", err)
	}
	if account.Held() {
		s.log.Warn("claim refused: account on hold", "user_id", userID, "hold_reason", account.HoldReason)
		return nil, nil, apperr.New(apperr.KindLedgerInconsistency, "your balance is being reviewed; please contact support")
	}
	entries, err := s.store.ListClaimable(ctx, tx, userID, now)
	if err != nil {
		return nil, nil, fmt.Errorf("list claimable entries: %w", err)
	}
	var amount int64
	ids := make([]uuid.UUID, 0, len(entries))
	for _, e := range entries {
		amount += e.Amount
		ids = append(ids, e.ID)
	}

	if amount < s.cfg.MinThreshold {
		return nil, nil, apperr.New(apperr.KindInsufficientBalance,
			"minimum claim is %s points; %s more needed",
			printer.Sprintf("%d", s.cfg.MinThreshold), printer.Sprintf("%d", s.cfg.MinThreshold-amount))
	}

	pending, err := s.store.HasPendingClaim(ctx, tx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("check pending claim: %w", err)
	}
	if pending {
		return nil, nil, apperr.New(apperr.KindConcurrentClaim, "a claim is already being processed")
	}

	day := models.ClaimDay(now)
	daily, err := s.store.DailyRecord(ctx, tx, userID, day)
	if err != nil {
		return nil, nil, fmt.Errorf("load daily record: %w", err)
	}
	if daily.TotalClaimed+amount > s.cfg.DailyCap {
		left := max(s.cfg.DailyCap-daily.TotalClaimed, 0)
		return nil, nil, apperr.New(apperr.KindDailyCapExceeded,
			"you can claim up to %s points per day; %s left today, try again tomorrow",
			printer.Sprintf("%d", s.cfg.DailyCap), printer.Sprintf("%d", left))
	}

	profile, err := s.profiles.GetByID(ctx, userID)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return nil, nil, fmt.Errorf("load profile: %w", err)
	}
	if profile == nil || !profile.HasAvatar() {
		return nil, nil, apperr.New(apperr.KindProfileIncomplete, "add a profile picture before claiming")
	}

	claim := &models.ClaimRequest{
		ID:            uuid.New(),
		UserID:        userID,
		WalletAddress: wallet,
		Amount:        amount,
		Status:        models.ClaimStatusPending,
	}
	if err := s.store.InsertClaim(ctx, tx, claim); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, nil, apperr.New(apperr.KindConcurrentClaim, "a claim is already being processed")
		}
		return nil, nil, fmt.Errorf("insert claim: %w", err)
	}

	sum, err := s.store.SumApprovedUnclaimed(ctx, tx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("sum approved entries: %w", err)
	}
	if sum != account.ApprovedClaimable {
		s.alert(ctx, userID, "approved entries do not match claimable balance",
			"entries_sum", sum, "approved_claimable", account.ApprovedClaimable)
		return nil, nil, apperr.New(apperr.KindLedgerInconsistency, "your balance is being reviewed; please contact support")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}
	return claim, ids, nil
}

func (s *service) failClaim(ctx context.Context, claim *models.ClaimRequest, cause error) error {
	msg := cause.Error()
	changed, err := s.store.MarkClaimFailed(ctx, claim.ID, msg, s.now().UTC())
	if err != nil {
		s.log.Error("mark claim failed", "claim_id", claim.ID, "user_id", claim.UserID, "error", err)
	} else if !changed {
		s.log.Warn("claim already terminal when transfer failed", "claim_id", claim.ID, "user_id", claim.UserID)
	}
	s.log.Warn("claim transfer failed", "claim_id", claim.ID, "user_id", claim.UserID, "amount", claim.Amount, "error", cause)
	s.bus.Publish(ctx, events.Event{
		Type:   events.ClaimFailed,
		UserID: claim.UserID,
		Data:   map[string]any{"claim_id": claim.ID, "error": msg},
	})
	return apperr.Wrap(apperr.KindChain, cause, "transfer failed; your balance was not changed")
}

// settle books a confirmed transfer. Any error means tokens moved that the
// ledger does not show; the caller turns it into a hold.
func (s *service) settle(ctx context.Context, claim *models.ClaimRequest, entryIDs []uuid.UUID, txHash string) error {
	now := s.now().UTC()
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := s.accounts.GetForUpdate(ctx, tx, claim.UserID); err != nil {
		return err
	}
	ok, err := s.store.MarkClaimSuccess(ctx, tx, claim.ID, txHash, now)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("claim was no longer pending")
	}
	n, err := s.store.MarkClaimed(ctx, tx, entryIDs, claim.ID, now)
	if err != nil {
		return err
	}
	if n != int64(len(entryIDs)) {
		return fmt.Errorf("marked %d of %d entries", n, len(entryIDs))
	}
	if err := s.accounts.DebitClaimable(ctx, tx, claim.UserID, claim.Amount); err != nil {
		return err
	}
	if err := s.store.AddDaily(ctx, tx, claim.UserID, models.ClaimDay(claim.CreatedAt.UTC()), claim.Amount, s.cfg.DailyCap); err != nil {
		return fmt.Errorf("daily cap guard: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	s.log.Info("claim settled", "claim_id", claim.ID, "user_id", claim.UserID, "amount", claim.Amount, "tx_hash", txHash)
	s.bus.Publish(ctx, events.Event{
		Type:   events.ClaimSettled,
		UserID: claim.UserID,
		Data:   map[string]any{"claim_id": claim.ID, "amount": claim.Amount, "tx_hash": txHash},
	})
	return nil
}

// settleFailed holds the account so the unrecorded entries cannot be
// claimed a second time under a new idempotency key.
func (s *service) settleFailed(ctx context.Context, claim *models.ClaimRequest, txHash string, cause error) error {
	reason := fmt.Sprintf("claim %s transferred in %s but not recorded: %v", claim.ID, txHash, cause)
	if err := s.accounts.PlaceHold(ctx, claim.UserID, reason, s.now().UTC()); err != nil {
		s.log.Error("place settlement hold", "alert", "operator", "claim_id", claim.ID, "user_id", claim.UserID, "error", err)
	}
	s.alert(ctx, claim.UserID, "transfer confirmed but settlement failed",
		"claim_id", claim.ID, "tx_hash", txHash, "amount", claim.Amount, "error", cause)
	return apperr.Wrap(apperr.KindLedgerInconsistency, cause, "transfer sent but not recorded; support has been notified")
}

func (s *service) LatestClaim(ctx context.Context, userID uuid.UUID) (*models.ClaimRequest, error) {
	return s.store.LatestClaim(ctx, userID)
}

// SweepStalePending fails pending claims older than the configured TTL.
func (s *service) SweepStalePending(ctx context.Context, now time.Time) (int, error) {
	stale, err := s.store.FailStalePending(ctx, now.Add(-s.cfg.PendingTTL), StaleReason, now)
	if err != nil {
		return 0, fmt.Errorf("fail stale claims: %w", err)
	}
	for _, c := range stale {
		s.log.Warn("stale claim failed", "claim_id", c.ID, "user_id", c.UserID, "amount", c.Amount, "created_at", c.CreatedAt)
		s.bus.Publish(ctx, events.Event{
			Type:   events.ClaimFailed,
			UserID: c.UserID,
			Data:   map[string]any{"claim_id": c.ID, "error": StaleReason},
		})
	}
	return len(stale), nil
}

func (s *service) alert(ctx context.Context, userID uuid.UUID, detail string, attrs ...any) {
	args := append([]any{"alert", "operator", "user_id", userID, "detail", detail}, attrs...)
	s.log.Error("ledger inconsistency", args...)
	s.bus.Publish(ctx, events.Event{
		Type:   events.LedgerInconsistency,
		UserID: userID,
		Data:   map[string]any{"detail": detail},
	})
}

package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"golang.org/x/sync/errgroup"

	"github.com/camly/backend/internal/apperr"
	"github.com/camly/backend/internal/events"
	"github.com/camly/backend/internal/models"
	"github.com/camly/backend/internal/repository"
)

type Service interface {
	RecordReward(ctx context.Context, in RecordInput) (*models.RewardEntry, error)
	ApproveUser(ctx context.Context, adminID, userID uuid.UUID) (int64, error)
	BulkApproveAllPending(ctx context.Context, adminID uuid.UUID) (*BulkApproveReport, error)
	ReleaseEscrow(ctx context.Context, after, upTo time.Time) (int, error)
	Reconcile(ctx context.Context) (*ReconcileReport, error)
	Account(ctx context.Context, userID uuid.UUID) (*models.RewardAccount, error)
	ClearHold(ctx context.Context, adminID, userID uuid.UUID) error
}

type AccountStore interface {
	GetByUserID(ctx context.Context, userID uuid.UUID) (*models.RewardAccount, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*models.RewardAccount, error)
	Credit(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int64) error
	MoveToClaimable(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int64) error
	Overwrite(ctx context.Context, tx pgx.Tx, a *models.RewardAccount) error
	ClearHold(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (bool, error)
}

type Store interface {
	InsertEntry(ctx context.Context, tx pgx.Tx, e *models.RewardEntry) error
	ApprovePending(ctx context.Context, tx pgx.Tx, userID uuid.UUID, now time.Time) (int64, int, error)
	ListUsersWithPending(ctx context.Context) ([]uuid.UUID, error)
	ListEscrowReleased(ctx context.Context, after, upTo time.Time) ([]*models.RewardEntry, error)
	DerivedAccount(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*models.RewardAccount, error)
	ListDriftedUsers(ctx context.Context) ([]uuid.UUID, error)
}

// Assessor gates bulk approval on the abuse recommendation.
type Assessor interface {
	Compute(ctx context.Context, userID uuid.UUID, ipHash string) (*models.SuspicionProfile, error)
}

type RecordInput struct {
	UserID      uuid.UUID         `json:"user_id"`
	Kind        models.RewardKind `json:"kind"`
	Amount      int64             `json:"amount"`
	EscrowUntil *time.Time        `json:"escrow_until,omitempty"`
}

type BulkApproveReport struct {
	AffectedUsers int   `json:"affected_users"`
	TotalAmount   int64 `json:"total_amount"`
	SkippedUsers  int   `json:"skipped_users"`
	FailedUsers   int   `json:"failed_users"`
}

type ReconcileReport struct {
	Checked  int `json:"checked"`
	Repaired int `json:"repaired"`
	Failed   int `json:"failed"`
}

type service struct {
	pool        repository.TxBeginner
	accounts    AccountStore
	store       Store
	assessor    Assessor
	bus         events.Publisher
	log         *slog.Logger
	concurrency int
	now         func() time.Time
}

func NewService(pool repository.TxBeginner, accounts AccountStore, store Store, assessor Assessor, bus events.Publisher, log *slog.Logger, concurrency int) Service {
	if log == nil {
		log = slog.Default()
	}
	if bus == nil {
		bus = events.Nop{}
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &service{
		pool:        pool,
		accounts:    accounts,
		store:       store,
		assessor:    assessor,
		bus:         bus,
		log:         log,
		concurrency: concurrency,
		now:         time.Now,
	}
}

var _ Service = (*service)(nil)

// RecordReward books an earned amount as pending approval.
func (s *service) RecordReward(ctx context.Context, in RecordInput) (*models.RewardEntry, error) {
	if !in.Kind.Valid() {
		return nil, apperr.New(apperr.KindValidation, "unknown reward kind %q", in.Kind)
	}
	if in.Amount <= 0 {
		return nil, apperr.New(apperr.KindValidation, "reward amount must be positive")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := s.accounts.GetForUpdate(ctx, tx, in.UserID); err != nil {
		return nil, fmt.Errorf("lock account: %w", err)
	}
	e := &models.RewardEntry{
		ID:              uuid.New(),
		UserID:          in.UserID,
		Kind:            in.Kind,
		Amount:          in.Amount,
		EscrowReleaseAt: in.EscrowUntil,
	}
	if err := s.store.InsertEntry(ctx, tx, e); err != nil {
		return nil, fmt.Errorf("insert entry: %w", err)
	}
	if err := s.accounts.Credit(ctx, tx, in.UserID, in.Amount); err != nil {
		return nil, fmt.Errorf("credit account: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	s.bus.Publish(ctx, events.Event{
		Type:   events.RewardRecorded,
		UserID: in.UserID,
		Data:   map[string]any{"entry_id": e.ID, "kind": e.Kind, "amount": e.Amount},
	})
	return e, nil
}

// ApproveUser approves all of a user's pending entries and returns the amount
// moved to claimable.
func (s *service) ApproveUser(ctx context.Context, adminID, userID uuid.UUID) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	if _, err := s.accounts.GetForUpdate(ctx, tx, userID); err != nil {
		return 0, fmt.Errorf("lock account: %w", err)
	}
	total, count, err := s.store.ApprovePending(ctx, tx, userID, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("approve entries: %w", err)
	}
	if count == 0 {
		return 0, nil
	}
	if err := s.accounts.MoveToClaimable(ctx, tx, userID, total); err != nil {
		if errors.Is(err, repository.ErrBalanceConflict) {
			s.alertInconsistency(ctx, userID, "pending balance below approved entries", total)
			return 0, apperr.Wrap(apperr.KindLedgerInconsistency, err, "pending balance does not cover approved entries")
		}
		return 0, fmt.Errorf("move to claimable: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}

	s.log.Info("rewards approved", "user_id", userID, "admin_id", adminID, "amount", total, "entries", count)
	s.bus.Publish(ctx, events.Event{
		Type:   events.RewardsApproved,
		UserID: userID,
		Data:   map[string]any{"amount": total, "entries": count, "approved_by": adminID},
	})
	return total, nil
}

// ClearHold lets a held account claim again. Operators call it once the
// unrecorded transfer has been booked by hand.
func (s *service) ClearHold(ctx context.Context, adminID, userID uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	account, err := s.accounts.GetForUpdate(ctx, tx, userID)
	if err != nil {
		return fmt.Errorf("lock account: %w", err)
	}
	cleared, err := s.accounts.ClearHold(ctx, tx, userID)
	if err != nil {
		return fmt.Errorf("clear hold: %w", err)
	}
	if !cleared {
		return apperr.New(apperr.KindState, "account has no hold")
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	s.log.Warn("account hold cleared", "user_id", userID, "admin_id", adminID, "hold_reason", account.HoldReason)
	s.bus.Publish(ctx, events.Event{
		Type:   events.HoldCleared,
		UserID: userID,
		Data:   map[string]any{"cleared_by": adminID},
	})
	return nil
}

// BulkApproveAllPending approves every user the abuse detector clears. Users
// commit independently; failures are counted, not rolled back.
func (s *service) BulkApproveAllPending(ctx context.Context, adminID uuid.UUID) (*BulkApproveReport, error) {
	users, err := s.store.ListUsersWithPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pending users: %w", err)
	}

	var (
		mu     sync.Mutex
		report BulkApproveReport
	)
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for _, userID := range users {
		g.Go(func() error {
			outcome, amount := s.approveIfCleared(ctx, adminID, userID)
			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case outcomeApproved:
				report.AffectedUsers++
				report.TotalAmount += amount
			case outcomeSkipped:
				report.SkippedUsers++
			case outcomeFailed:
				report.FailedUsers++
			}
			return nil
		})
	}
	_ = g.Wait()

	s.log.Info("bulk approval finished",
		"admin_id", adminID, "affected_users", report.AffectedUsers, "total_amount", report.TotalAmount,
		"skipped_users", report.SkippedUsers, "failed_users", report.FailedUsers)
	return &report, nil
}

type outcome int

const (
	outcomeNothing outcome = iota
	outcomeApproved
	outcomeSkipped
	outcomeFailed
)

func (s *service) approveIfCleared(ctx context.Context, adminID, userID uuid.UUID) (outcome, int64) {
	if ctx.Err() != nil {
		return outcomeFailed, 0
	}
	sp, err := s.assessor.Compute(ctx, userID, "")
	if err != nil {
		s.log.Warn("bulk approval: assessment failed", "user_id", userID, "error", err)
		return outcomeSkipped, 0
	}
	if sp.Recommendation != models.RecommendAutoApprove {
		return outcomeSkipped, 0
	}
	amount, err := s.ApproveUser(ctx, adminID, userID)
	if err != nil {
		s.log.Error("bulk approval: approve user", "user_id", userID, "error", err)
		return outcomeFailed, 0
	}
	if amount == 0 {
		return outcomeNothing, 0
	}
	return outcomeApproved, amount
}

// ReleaseEscrow announces entries whose escrow ended in (after, upTo]. Claims
// select released entries by timestamp, so nothing is written here.
func (s *service) ReleaseEscrow(ctx context.Context, after, upTo time.Time) (int, error) {
	entries, err := s.store.ListEscrowReleased(ctx, after, upTo)
	if err != nil {
		return 0, fmt.Errorf("list released entries: %w", err)
	}
	byUser := make(map[uuid.UUID]int64)
	var order []uuid.UUID
	for _, e := range entries {
		if _, seen := byUser[e.UserID]; !seen {
			order = append(order, e.UserID)
		}
		byUser[e.UserID] += e.Amount
	}
	for _, userID := range order {
		s.bus.Publish(ctx, events.Event{
			Type:   events.EscrowReleased,
			UserID: userID,
			Data:   map[string]any{"amount": byUser[userID]},
		})
	}
	return len(entries), nil
}

// Reconcile rebuilds drifted accounts from their entries. This is the only
// path that corrects balances; request paths report drift and stop.
func (s *service) Reconcile(ctx context.Context) (*ReconcileReport, error) {
	users, err := s.store.ListDriftedUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list drifted users: %w", err)
	}
	report := &ReconcileReport{Checked: len(users)}
	for _, userID := range users {
		repaired, err := s.reconcileUser(ctx, userID)
		if err != nil {
			report.Failed++
			s.log.Error("reconcile user", "user_id", userID, "error", err)
			continue
		}
		if repaired {
			report.Repaired++
		}
	}
	return report, nil
}

func (s *service) reconcileUser(ctx context.Context, userID uuid.UUID) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	current, err := s.accounts.GetForUpdate(ctx, tx, userID)
	if err != nil {
		return false, err
	}
	derived, err := s.store.DerivedAccount(ctx, tx, userID)
	if err != nil {
		return false, err
	}
	if sameBuckets(current, derived) {
		return false, nil
	}
	if err := s.accounts.Overwrite(ctx, tx, derived); err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}

	s.log.Error("ledger drift repaired",
		"alert", "operator", "user_id", userID,
		"was_total", current.TotalEarned, "was_pending", current.PendingUnapproved,
		"was_claimable", current.ApprovedClaimable, "was_claimed", current.ClaimedLifetime,
		"total", derived.TotalEarned, "pending", derived.PendingUnapproved,
		"claimable", derived.ApprovedClaimable, "claimed", derived.ClaimedLifetime)
	s.bus.Publish(ctx, events.Event{Type: events.LedgerReconciled, UserID: userID, Data: derived})
	return true, nil
}

func (s *service) Account(ctx context.Context, userID uuid.UUID) (*models.RewardAccount, error) {
	return s.accounts.GetByUserID(ctx, userID)
}

func (s *service) alertInconsistency(ctx context.Context, userID uuid.UUID, detail string, amount int64) {
	s.log.Error("ledger inconsistency", "alert", "operator", "user_id", userID, "detail", detail, "amount", amount)
	s.bus.Publish(ctx, events.Event{
		Type:   events.LedgerInconsistency,
		UserID: userID,
		Data:   map[string]any{"detail": detail, "amount": amount},
	})
}

func sameBuckets(a, b *models.RewardAccount) bool {
	return a.TotalEarned == b.TotalEarned &&
		a.PendingUnapproved == b.PendingUnapproved &&
		a.ApprovedClaimable == b.ApprovedClaimable &&
		a.ClaimedLifetime == b.ClaimedLifetime
}

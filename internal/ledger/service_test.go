package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/camly/backend/internal/apperr"
	"github.com/camly/backend/internal/events"
	"github.com/camly/backend/internal/models"
	"github.com/camly/backend/internal/storetest"
)

var now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

// stubAssessor recommends auto-approval unless the user is listed in manual.
type stubAssessor struct {
	manual map[uuid.UUID]bool
	err    map[uuid.UUID]error
}

func (s stubAssessor) Compute(_ context.Context, userID uuid.UUID, _ string) (*models.SuspicionProfile, error) {
	if err := s.err[userID]; err != nil {
		return nil, err
	}
	rec := models.RecommendAutoApprove
	if s.manual[userID] {
		rec = models.RecommendManualReview
	}
	return &models.SuspicionProfile{UserID: userID, Recommendation: rec}, nil
}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(_ context.Context, e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) types() []events.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Type, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func newTestService(mem *storetest.Memory, assessor Assessor, bus events.Publisher) *service {
	mem.Clock = func() time.Time { return now }
	svc := NewService(mem, mem, mem, assessor, bus, nil, 4).(*service)
	svc.now = func() time.Time { return now }
	return svc
}

func checkBalanced(t *testing.T, mem *storetest.Memory, userID uuid.UUID) models.RewardAccount {
	t.Helper()
	a := mem.Account(userID)
	if !a.Balanced() {
		t.Fatalf("account out of balance: %+v", a)
	}
	return a
}

func TestRecordRewardCreditsPending(t *testing.T) {
	mem := storetest.NewMemory()
	bus := &recorder{}
	svc := newTestService(mem, stubAssessor{}, bus)
	user := uuid.New()

	for _, amount := range []int64{10, 500, 50} {
		if _, err := svc.RecordReward(context.Background(), RecordInput{UserID: user, Kind: models.RewardView, Amount: amount}); err != nil {
			t.Fatalf("RecordReward: %v", err)
		}
	}

	a := checkBalanced(t, mem, user)
	if a.TotalEarned != 560 || a.PendingUnapproved != 560 || a.ApprovedClaimable != 0 {
		t.Errorf("unexpected account: %+v", a)
	}
	if got := len(mem.Entries(user)); got != 3 {
		t.Errorf("expected 3 entries, got %d", got)
	}
	if got := bus.types(); len(got) != 3 || got[0] != events.RewardRecorded {
		t.Errorf("expected 3 reward.recorded events, got %v", got)
	}
}

func TestRecordRewardRejectsBadInput(t *testing.T) {
	svc := newTestService(storetest.NewMemory(), stubAssessor{}, nil)
	user := uuid.New()

	cases := []RecordInput{
		{UserID: user, Kind: models.RewardView, Amount: 0},
		{UserID: user, Kind: models.RewardView, Amount: -5},
		{UserID: user, Kind: "gift", Amount: 5},
	}
	for _, in := range cases {
		_, err := svc.RecordReward(context.Background(), in)
		if !errors.Is(err, apperr.ErrValidation) {
			t.Errorf("%+v: expected validation error, got %v", in, err)
		}
	}
}

func TestRecordRewardRollsBackOnFailure(t *testing.T) {
	mem := storetest.NewMemory()
	svc := newTestService(mem, stubAssessor{}, nil)
	user := uuid.New()
	mem.Fail("Credit", errors.New("disk full"))

	if _, err := svc.RecordReward(context.Background(), RecordInput{UserID: user, Kind: models.RewardLike, Amount: 20}); err == nil {
		t.Fatal("expected error")
	}
	if n := len(mem.Entries(user)); n != 0 {
		t.Errorf("entry must be rolled back, found %d", n)
	}
	checkBalanced(t, mem, user)
}

func TestApproveUserMovesPendingToClaimable(t *testing.T) {
	mem := storetest.NewMemory()
	bus := &recorder{}
	svc := newTestService(mem, stubAssessor{}, bus)
	user := uuid.New()
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if _, err := svc.RecordReward(ctx, RecordInput{UserID: user, Kind: models.RewardUpload, Amount: 500}); err != nil {
			t.Fatal(err)
		}
	}
	amount, err := svc.ApproveUser(ctx, uuid.New(), user)
	if err != nil {
		t.Fatalf("ApproveUser: %v", err)
	}
	if amount != 2000 {
		t.Errorf("expected 2000 approved, got %d", amount)
	}
	a := checkBalanced(t, mem, user)
	if a.PendingUnapproved != 0 || a.ApprovedClaimable != 2000 {
		t.Errorf("unexpected account: %+v", a)
	}

	again, err := svc.ApproveUser(ctx, uuid.New(), user)
	if err != nil || again != 0 {
		t.Errorf("second approval should be a no-op, got %d, %v", again, err)
	}
}

func TestApproveUserReportsDrift(t *testing.T) {
	mem := storetest.NewMemory()
	bus := &recorder{}
	svc := newTestService(mem, stubAssessor{}, bus)
	user := uuid.New()

	// An entry with no matching pending balance.
	mem.PutAccount(&models.RewardAccount{UserID: user})
	mem.PutEntry(&models.RewardEntry{ID: uuid.New(), UserID: user, Kind: models.RewardManual, Amount: 300})

	_, err := svc.ApproveUser(context.Background(), uuid.New(), user)
	if !errors.Is(err, apperr.ErrLedgerInconsistency) {
		t.Fatalf("expected ledger inconsistency, got %v", err)
	}
	for _, e := range mem.Entries(user) {
		if e.Approved {
			t.Error("entry approval must be rolled back")
		}
	}
	found := false
	for _, typ := range bus.types() {
		if typ == events.LedgerInconsistency {
			found = true
		}
	}
	if !found {
		t.Error("expected a ledger.inconsistency event")
	}
}

func TestBulkApproveSkipsManualReview(t *testing.T) {
	mem := storetest.NewMemory()
	clean1, clean2, flagged, broken := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	svc := newTestService(mem, stubAssessor{
		manual: map[uuid.UUID]bool{flagged: true},
		err:    map[uuid.UUID]error{broken: errors.New("timeout")},
	}, nil)
	ctx := context.Background()

	for _, u := range []uuid.UUID{clean1, clean2, flagged, broken} {
		if _, err := svc.RecordReward(ctx, RecordInput{UserID: u, Kind: models.RewardComment, Amount: 1000}); err != nil {
			t.Fatal(err)
		}
	}

	report, err := svc.BulkApproveAllPending(ctx, uuid.New())
	if err != nil {
		t.Fatalf("BulkApproveAllPending: %v", err)
	}
	if report.AffectedUsers != 2 || report.TotalAmount != 2000 || report.SkippedUsers != 2 || report.FailedUsers != 0 {
		t.Errorf("unexpected report: %+v", report)
	}
	if a := mem.Account(flagged); a.PendingUnapproved != 1000 {
		t.Errorf("flagged user must stay pending: %+v", a)
	}
	for _, u := range []uuid.UUID{clean1, clean2, flagged, broken} {
		checkBalanced(t, mem, u)
	}
}

func TestBulkApproveCountsFailures(t *testing.T) {
	mem := storetest.NewMemory()
	svc := newTestService(mem, stubAssessor{}, nil)
	ctx := context.Background()
	user := uuid.New()
	if _, err := svc.RecordReward(ctx, RecordInput{UserID: user, Kind: models.RewardShare, Amount: 50}); err != nil {
		t.Fatal(err)
	}
	mem.Fail("MoveToClaimable", errors.New("connection reset"))

	report, err := svc.BulkApproveAllPending(ctx, uuid.New())
	if err != nil {
		t.Fatal(err)
	}
	if report.FailedUsers != 1 || report.AffectedUsers != 0 {
		t.Errorf("unexpected report: %+v", report)
	}
}

func TestReleaseEscrowPublishesPerUser(t *testing.T) {
	mem := storetest.NewMemory()
	bus := &recorder{}
	svc := newTestService(mem, stubAssessor{}, bus)
	a, b := uuid.New(), uuid.New()
	at := func(d time.Duration) *time.Time { ts := now.Add(d); return &ts }

	mem.PutEntry(&models.RewardEntry{ID: uuid.New(), UserID: a, Amount: 100, Approved: true, EscrowReleaseAt: at(-30 * time.Minute)})
	mem.PutEntry(&models.RewardEntry{ID: uuid.New(), UserID: a, Amount: 200, Approved: true, EscrowReleaseAt: at(-10 * time.Minute)})
	mem.PutEntry(&models.RewardEntry{ID: uuid.New(), UserID: b, Amount: 300, Approved: true, EscrowReleaseAt: at(-5 * time.Minute)})
	mem.PutEntry(&models.RewardEntry{ID: uuid.New(), UserID: b, Amount: 400, Approved: true, EscrowReleaseAt: at(-2 * time.Hour)})
	mem.PutEntry(&models.RewardEntry{ID: uuid.New(), UserID: b, Amount: 500, Approved: true, EscrowReleaseAt: at(time.Hour)})

	n, err := svc.ReleaseEscrow(context.Background(), now.Add(-time.Hour), now)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("expected 3 released entries, got %d", n)
	}
	if len(bus.events) != 2 {
		t.Fatalf("expected one event per user, got %d", len(bus.events))
	}
	totals := map[uuid.UUID]int64{}
	for _, e := range bus.events {
		totals[e.UserID] = e.Data.(map[string]any)["amount"].(int64)
	}
	if totals[a] != 300 || totals[b] != 300 {
		t.Errorf("unexpected totals: %v", totals)
	}
}

func TestReconcileRepairsDrift(t *testing.T) {
	mem := storetest.NewMemory()
	bus := &recorder{}
	svc := newTestService(mem, stubAssessor{}, bus)
	drifted, healthy := uuid.New(), uuid.New()

	mem.PutAccount(&models.RewardAccount{UserID: drifted, TotalEarned: 900, PendingUnapproved: 900})
	mem.PutEntry(&models.RewardEntry{ID: uuid.New(), UserID: drifted, Amount: 400, Approved: true})
	mem.PutEntry(&models.RewardEntry{ID: uuid.New(), UserID: drifted, Amount: 100})
	mem.PutAccount(&models.RewardAccount{UserID: healthy, TotalEarned: 50, PendingUnapproved: 50})
	mem.PutEntry(&models.RewardEntry{ID: uuid.New(), UserID: healthy, Amount: 50})

	report, err := svc.Reconcile(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Checked != 1 || report.Repaired != 1 || report.Failed != 0 {
		t.Errorf("unexpected report: %+v", report)
	}
	a := checkBalanced(t, mem, drifted)
	if a.TotalEarned != 500 || a.ApprovedClaimable != 400 || a.PendingUnapproved != 100 {
		t.Errorf("account not rebuilt from entries: %+v", a)
	}
	if got := bus.types(); len(got) != 1 || got[0] != events.LedgerReconciled {
		t.Errorf("expected one ledger.reconciled event, got %v", got)
	}
}

func TestClearHold(t *testing.T) {
	mem := storetest.NewMemory()
	bus := &recorder{}
	svc := newTestService(mem, stubAssessor{}, bus)
	userID, adminID := uuid.New(), uuid.New()

	mem.PutAccount(&models.RewardAccount{UserID: userID, TotalEarned: 300, ApprovedClaimable: 300})
	mem.PutEntry(&models.RewardEntry{ID: uuid.New(), UserID: userID, Amount: 100, Approved: true})
	if err := mem.PlaceHold(context.Background(), userID, "claim transferred but not recorded", now); err != nil {
		t.Fatal(err)
	}

	// Reconciliation rebuilds balances but leaves the hold for an operator.
	if _, err := svc.Reconcile(context.Background()); err != nil {
		t.Fatal(err)
	}
	if a := checkBalanced(t, mem, userID); !a.Held() {
		t.Fatalf("reconcile cleared the hold: %+v", a)
	}

	if err := svc.ClearHold(context.Background(), adminID, userID); err != nil {
		t.Fatal(err)
	}
	if a := mem.Account(userID); a.Held() || a.HeldAt != nil {
		t.Errorf("hold not cleared: %+v", a)
	}
	if got := bus.types(); got[len(got)-1] != events.HoldCleared {
		t.Errorf("expected account.hold_cleared last, got %v", got)
	}

	err := svc.ClearHold(context.Background(), adminID, userID)
	if !errors.Is(err, apperr.ErrState) {
		t.Errorf("expected state error clearing twice, got %v", err)
	}
}

func TestConcurrentRecordsKeepInvariant(t *testing.T) {
	mem := storetest.NewMemory()
	svc := newTestService(mem, stubAssessor{}, nil)
	user := uuid.New()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.RecordReward(ctx, RecordInput{UserID: user, Kind: models.RewardLike, Amount: 20}); err != nil {
				t.Error(err)
			}
		}()
		if i%5 == 0 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := svc.ApproveUser(ctx, uuid.New(), user); err != nil {
					t.Error(err)
				}
			}()
		}
	}
	wg.Wait()

	a := checkBalanced(t, mem, user)
	if a.TotalEarned != 400 {
		t.Errorf("expected 400 earned, got %d", a.TotalEarned)
	}
}

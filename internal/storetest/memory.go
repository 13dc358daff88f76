package storetest

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/camly/backend/internal/apperr"
	"github.com/camly/backend/internal/lightscore"
	"github.com/camly/backend/internal/models"
	"github.com/camly/backend/internal/repository"
)

// Memory is an in-memory stand-in for every Postgres repository. Writes made
// through a *Tx are undone if it rolls back; GetForUpdate and
// GetMintForUpdate block like row locks until the holding Tx ends.
type Memory struct {
	Beginner

	Clock func() time.Time

	mu       sync.Mutex
	accounts map[uuid.UUID]*models.RewardAccount
	entries  []*models.RewardEntry
	claims   []*models.ClaimRequest
	daily    map[dailyKey]*models.DailyClaimRecord
	mints    map[uuid.UUID]*models.MintRequest
	profiles map[uuid.UUID]*models.Profile
	wallets  map[string]map[string]bool
	faults   map[string]error

	accountLocks RowLocks[uuid.UUID]
	mintLocks    RowLocks[uuid.UUID]
}

type dailyKey struct {
	user uuid.UUID
	day  time.Time
}

func NewMemory() *Memory {
	return &Memory{
		Clock:    time.Now,
		accounts: make(map[uuid.UUID]*models.RewardAccount),
		daily:    make(map[dailyKey]*models.DailyClaimRecord),
		mints:    make(map[uuid.UUID]*models.MintRequest),
		profiles: make(map[uuid.UUID]*models.Profile),
		wallets:  make(map[string]map[string]bool),
		faults:   make(map[string]error),
	}
}

// Fail makes the named method return err until cleared with a nil err.
func (m *Memory) Fail(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.faults, method)
		return
	}
	m.faults[method] = err
}

func (m *Memory) fault(method string) error {
	return m.faults[method]
}

// --- seeding and inspection ---

func (m *Memory) PutProfile(p *models.Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.profiles[p.UserID] = &cp
}

func (m *Memory) PutAccount(a *models.RewardAccount) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.accounts[a.UserID] = &cp
}

func (m *Memory) PutEntry(e *models.RewardEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = m.Clock().UTC()
	}
	m.entries = append(m.entries, &cp)
}

func (m *Memory) PutClaim(c *models.ClaimRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.claims = append(m.claims, &cp)
}

func (m *Memory) PutDaily(r *models.DailyClaimRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	cp.Date = models.ClaimDay(r.Date)
	m.daily[dailyKey{r.UserID, cp.Date}] = &cp
}

func (m *Memory) PutMint(r *models.MintRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.mints[r.ID] = &cp
}

func (m *Memory) Account(userID uuid.UUID) models.RewardAccount {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.accounts[userID]; ok {
		return *a
	}
	return models.RewardAccount{UserID: userID}
}

func (m *Memory) Entries(userID uuid.UUID) []models.RewardEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.RewardEntry
	for _, e := range m.entries {
		if e.UserID == userID {
			out = append(out, *e)
		}
	}
	return out
}

func (m *Memory) Claims(userID uuid.UUID) []models.ClaimRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ClaimRequest
	for _, c := range m.claims {
		if c.UserID == userID {
			out = append(out, *c)
		}
	}
	return out
}

func (m *Memory) Daily(userID uuid.UUID, day time.Time) models.DailyClaimRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.daily[dailyKey{userID, models.ClaimDay(day)}]; ok {
		return *r
	}
	return models.DailyClaimRecord{UserID: userID, Date: models.ClaimDay(day)}
}

func (m *Memory) MintRequest(id uuid.UUID) (models.MintRequest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.mints[id]
	if !ok {
		return models.MintRequest{}, false
	}
	return *r, true
}

func (m *Memory) Suspicion(userID uuid.UUID) (score int, reasons []string, checked bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		return 0, nil, false
	}
	return p.SuspicionScore, p.SuspicionReasons, p.SuspicionCheckedAt != nil
}

// --- accounts ---

func (m *Memory) GetByUserID(_ context.Context, userID uuid.UUID) (*models.RewardAccount, error) {
	a := m.Account(userID)
	return &a, nil
}

func (m *Memory) GetForUpdate(_ context.Context, tx pgx.Tx, userID uuid.UUID) (*models.RewardAccount, error) {
	m.accountLocks.Lock(tx, userID)
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("GetForUpdate"); err != nil {
		return nil, err
	}
	a, ok := m.accounts[userID]
	if !ok {
		a = &models.RewardAccount{UserID: userID}
		m.accounts[userID] = a
	}
	cp := *a
	return &cp, nil
}

// updateAccount applies fn to the account if guard passes, recording an undo step.
func (m *Memory) updateAccount(tx pgx.Tx, method string, userID uuid.UUID, guard func(*models.RewardAccount) bool, fn func(*models.RewardAccount)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault(method); err != nil {
		return err
	}
	a, ok := m.accounts[userID]
	if !ok || (guard != nil && !guard(a)) {
		return repository.ErrBalanceConflict
	}
	before := *a
	fn(a)
	a.UpdatedAt = m.Clock().UTC()
	Undo(tx, func() {
		m.mu.Lock()
		*m.accounts[userID] = before
		m.mu.Unlock()
	})
	return nil
}

func (m *Memory) Credit(_ context.Context, tx pgx.Tx, userID uuid.UUID, amount int64) error {
	return m.updateAccount(tx, "Credit", userID, nil, func(a *models.RewardAccount) {
		a.TotalEarned += amount
		a.PendingUnapproved += amount
	})
}

func (m *Memory) MoveToClaimable(_ context.Context, tx pgx.Tx, userID uuid.UUID, amount int64) error {
	return m.updateAccount(tx, "MoveToClaimable", userID,
		func(a *models.RewardAccount) bool { return a.PendingUnapproved >= amount },
		func(a *models.RewardAccount) {
			a.PendingUnapproved -= amount
			a.ApprovedClaimable += amount
		})
}

func (m *Memory) DebitClaimable(_ context.Context, tx pgx.Tx, userID uuid.UUID, amount int64) error {
	return m.updateAccount(tx, "DebitClaimable", userID,
		func(a *models.RewardAccount) bool { return a.ApprovedClaimable >= amount },
		func(a *models.RewardAccount) {
			a.ApprovedClaimable -= amount
			a.ClaimedLifetime += amount
		})
}

func (m *Memory) Overwrite(_ context.Context, tx pgx.Tx, next *models.RewardAccount) error {
	return m.updateAccount(tx, "Overwrite", next.UserID, nil, func(a *models.RewardAccount) {
		a.TotalEarned = next.TotalEarned
		a.PendingUnapproved = next.PendingUnapproved
		a.ApprovedClaimable = next.ApprovedClaimable
		a.ClaimedLifetime = next.ClaimedLifetime
	})
}

func (m *Memory) PlaceHold(_ context.Context, userID uuid.UUID, reason string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("PlaceHold"); err != nil {
		return err
	}
	a, ok := m.accounts[userID]
	if !ok {
		a = &models.RewardAccount{UserID: userID}
		m.accounts[userID] = a
	}
	if a.HoldReason == "" {
		a.HoldReason, a.HeldAt = reason, &now
	}
	return nil
}

func (m *Memory) ClearHold(_ context.Context, tx pgx.Tx, userID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("ClearHold"); err != nil {
		return false, err
	}
	a, ok := m.accounts[userID]
	if !ok || a.HoldReason == "" {
		return false, nil
	}
	reason, at := a.HoldReason, a.HeldAt
	a.HoldReason, a.HeldAt = "", nil
	Undo(tx, func() {
		m.mu.Lock()
		a.HoldReason, a.HeldAt = reason, at
		m.mu.Unlock()
	})
	return true, nil
}

// --- entries ---

func (m *Memory) InsertEntry(_ context.Context, tx pgx.Tx, e *models.RewardEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("InsertEntry"); err != nil {
		return err
	}
	e.CreatedAt = m.Clock().UTC()
	cp := *e
	m.entries = append(m.entries, &cp)
	Undo(tx, func() {
		m.mu.Lock()
		m.entries = slices.DeleteFunc(m.entries, func(x *models.RewardEntry) bool { return x.ID == cp.ID })
		m.mu.Unlock()
	})
	return nil
}

func (m *Memory) ApprovePending(_ context.Context, tx pgx.Tx, userID uuid.UUID, now time.Time) (int64, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("ApprovePending"); err != nil {
		return 0, 0, err
	}
	var total int64
	var changed []*models.RewardEntry
	for _, e := range m.entries {
		if e.UserID == userID && !e.Approved {
			e.Approved = true
			at := now
			e.ApprovedAt = &at
			total += e.Amount
			changed = append(changed, e)
		}
	}
	Undo(tx, func() {
		m.mu.Lock()
		for _, e := range changed {
			e.Approved = false
			e.ApprovedAt = nil
		}
		m.mu.Unlock()
	})
	return total, len(changed), nil
}

func (m *Memory) ListUsersWithPending(context.Context) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("ListUsersWithPending"); err != nil {
		return nil, err
	}
	seen := make(map[uuid.UUID]bool)
	var out []uuid.UUID
	for _, e := range m.entries {
		if !e.Approved && !seen[e.UserID] {
			seen[e.UserID] = true
			out = append(out, e.UserID)
		}
	}
	return out, nil
}

func (m *Memory) ListEscrowReleased(_ context.Context, after, upTo time.Time) ([]*models.RewardEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.RewardEntry
	for _, e := range m.entries {
		if e.EscrowReleaseAt == nil || !e.Approved || e.Claimed {
			continue
		}
		if e.EscrowReleaseAt.After(after) && !e.EscrowReleaseAt.After(upTo) {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].EscrowReleaseAt.Before(*out[j].EscrowReleaseAt) })
	return out, nil
}

func (m *Memory) DerivedAccount(_ context.Context, _ pgx.Tx, userID uuid.UUID) (*models.RewardAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.derived(userID), nil
}

func (m *Memory) derived(userID uuid.UUID) *models.RewardAccount {
	a := &models.RewardAccount{UserID: userID}
	for _, e := range m.entries {
		if e.UserID != userID {
			continue
		}
		a.TotalEarned += e.Amount
		switch {
		case e.Claimed:
			a.ClaimedLifetime += e.Amount
		case e.Approved:
			a.ApprovedClaimable += e.Amount
		default:
			a.PendingUnapproved += e.Amount
		}
	}
	return a
}

func (m *Memory) ListDriftedUsers(context.Context) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []uuid.UUID
	for id, a := range m.accounts {
		d := m.derived(id)
		if a.TotalEarned != d.TotalEarned || a.PendingUnapproved != d.PendingUnapproved ||
			a.ApprovedClaimable != d.ApprovedClaimable || a.ClaimedLifetime != d.ClaimedLifetime {
			out = append(out, id)
		}
	}
	return out, nil
}

func (m *Memory) ListClaimable(_ context.Context, _ pgx.Tx, userID uuid.UUID, now time.Time) ([]*models.RewardEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("ListClaimable"); err != nil {
		return nil, err
	}
	var out []*models.RewardEntry
	for _, e := range m.entries {
		if e.UserID == userID && e.Claimable(now) {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *Memory) SumApprovedUnclaimed(_ context.Context, _ pgx.Tx, userID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum int64
	for _, e := range m.entries {
		if e.UserID == userID && e.Approved && !e.Claimed {
			sum += e.Amount
		}
	}
	return sum, nil
}

func (m *Memory) MarkClaimed(_ context.Context, tx pgx.Tx, ids []uuid.UUID, claimID uuid.UUID, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("MarkClaimed"); err != nil {
		return 0, err
	}
	var changed []*models.RewardEntry
	for _, e := range m.entries {
		if slices.Contains(ids, e.ID) && e.Approved && !e.Claimed {
			e.Claimed = true
			at, cid := now, claimID
			e.ClaimedAt, e.ClaimRequestID = &at, &cid
			changed = append(changed, e)
		}
	}
	Undo(tx, func() {
		m.mu.Lock()
		for _, e := range changed {
			e.Claimed, e.ClaimedAt, e.ClaimRequestID = false, nil, nil
		}
		m.mu.Unlock()
	})
	return int64(len(changed)), nil
}

// --- claims ---

func (m *Memory) HasPendingClaim(_ context.Context, _ pgx.Tx, userID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.claims {
		if c.UserID == userID && c.Status == models.ClaimStatusPending {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) InsertClaim(_ context.Context, tx pgx.Tx, c *models.ClaimRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("InsertClaim"); err != nil {
		return err
	}
	for _, x := range m.claims {
		if x.UserID == c.UserID && x.Status == models.ClaimStatusPending {
			return &pgconn.PgError{Code: "23505", ConstraintName: "claim_requests_one_pending"}
		}
	}
	c.CreatedAt = m.Clock().UTC()
	c.Status = models.ClaimStatusPending
	cp := *c
	m.claims = append(m.claims, &cp)
	Undo(tx, func() {
		m.mu.Lock()
		m.claims = slices.DeleteFunc(m.claims, func(x *models.ClaimRequest) bool { return x.ID == cp.ID })
		m.mu.Unlock()
	})
	return nil
}

func (m *Memory) findClaim(id uuid.UUID) *models.ClaimRequest {
	for _, c := range m.claims {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func (m *Memory) MarkClaimSuccess(_ context.Context, tx pgx.Tx, id uuid.UUID, txHash string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("MarkClaimSuccess"); err != nil {
		return false, err
	}
	c := m.findClaim(id)
	if c == nil || c.Status != models.ClaimStatusPending {
		return false, nil
	}
	before := *c
	c.Status, c.TxHash, c.ProcessedAt = models.ClaimStatusSuccess, &txHash, &now
	Undo(tx, func() {
		m.mu.Lock()
		*c = before
		m.mu.Unlock()
	})
	return true, nil
}

func (m *Memory) MarkClaimFailed(_ context.Context, id uuid.UUID, reason string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("MarkClaimFailed"); err != nil {
		return false, err
	}
	c := m.findClaim(id)
	if c == nil || c.Status != models.ClaimStatusPending {
		return false, nil
	}
	c.Status, c.ErrorMessage, c.ProcessedAt = models.ClaimStatusFailed, &reason, &now
	return true, nil
}

func (m *Memory) LatestClaim(_ context.Context, userID uuid.UUID) (*models.ClaimRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *models.ClaimRequest
	for _, c := range m.claims {
		if c.UserID == userID && (latest == nil || !c.CreatedAt.Before(latest.CreatedAt)) {
			latest = c
		}
	}
	if latest == nil {
		return nil, apperr.New(apperr.KindNotFound, "no claims yet")
	}
	cp := *latest
	return &cp, nil
}

func (m *Memory) FailStalePending(_ context.Context, cutoff time.Time, reason string, now time.Time) ([]*models.ClaimRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.ClaimRequest
	for _, c := range m.claims {
		if c.Status == models.ClaimStatusPending && c.CreatedAt.Before(cutoff) {
			msg, at := reason, now
			c.Status, c.ErrorMessage, c.ProcessedAt = models.ClaimStatusFailed, &msg, &at
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *Memory) DailyRecord(_ context.Context, _ pgx.Tx, userID uuid.UUID, day time.Time) (*models.DailyClaimRecord, error) {
	r := m.Daily(userID, day)
	return &r, nil
}

func (m *Memory) AddDaily(_ context.Context, tx pgx.Tx, userID uuid.UUID, day time.Time, amount, dailyCap int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("AddDaily"); err != nil {
		return err
	}
	k := dailyKey{userID, models.ClaimDay(day)}
	r, ok := m.daily[k]
	if !ok {
		r = &models.DailyClaimRecord{UserID: userID, Date: k.day}
	}
	if r.TotalClaimed+amount > dailyCap {
		return repository.ErrBalanceConflict
	}
	before := *r
	r.TotalClaimed += amount
	r.ClaimCount++
	m.daily[k] = r
	Undo(tx, func() {
		m.mu.Lock()
		if ok {
			*m.daily[k] = before
		} else {
			delete(m.daily, k)
		}
		m.mu.Unlock()
	})
	return nil
}

// --- mint requests ---

func openMint(s models.MintStatus) bool {
	return s == models.MintPending || s == models.MintApproved
}

func (m *Memory) HasOpenMint(ctx context.Context, _ pgx.Tx, userID uuid.UUID) (bool, error) {
	return m.HasOpenMintRequest(ctx, userID)
}

func (m *Memory) HasOpenMintRequest(_ context.Context, userID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.mints {
		if r.UserID == userID && openMint(r.Status) {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) SumMintedFun(_ context.Context, userID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum int64
	for _, r := range m.mints {
		if r.UserID == userID && r.Status == models.MintMinted {
			sum += r.MintableFun
		}
	}
	return sum, nil
}

func (m *Memory) InsertMint(_ context.Context, tx pgx.Tx, r *models.MintRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("InsertMint"); err != nil {
		return err
	}
	for _, x := range m.mints {
		if x.UserID == r.UserID && openMint(x.Status) {
			return &pgconn.PgError{Code: "23505", ConstraintName: "mint_requests_one_open"}
		}
	}
	r.CreatedAt = m.Clock().UTC()
	cp := *r
	m.mints[r.ID] = &cp
	Undo(tx, func() {
		m.mu.Lock()
		delete(m.mints, cp.ID)
		m.mu.Unlock()
	})
	return nil
}

func (m *Memory) GetMintForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.MintRequest, error) {
	m.mintLocks.Lock(tx, id)
	return m.GetMint(ctx, id)
}

func (m *Memory) GetMint(_ context.Context, id uuid.UUID) (*models.MintRequest, error) {
	r, ok := m.MintRequest(id)
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "mint request %s not found", id)
	}
	return &r, nil
}

func (m *Memory) UpdateMint(_ context.Context, tx pgx.Tx, r *models.MintRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("UpdateMint"); err != nil {
		return err
	}
	cur, ok := m.mints[r.ID]
	if !ok {
		return apperr.New(apperr.KindNotFound, "mint request %s not found", r.ID)
	}
	before := *cur
	cur.Status, cur.ReviewedBy, cur.ReviewedAt = r.Status, r.ReviewedBy, r.ReviewedAt
	cur.DecisionReason, cur.TxHash, cur.MintedAt = r.DecisionReason, r.TxHash, r.MintedAt
	Undo(tx, func() {
		m.mu.Lock()
		*m.mints[before.ID] = before
		m.mu.Unlock()
	})
	return nil
}

func (m *Memory) ListPendingMints(context.Context) ([]*models.MintRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.MintRequest
	for _, r := range m.mints {
		if r.Status == models.MintPending {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// --- profiles ---

func (m *Memory) GetByID(_ context.Context, userID uuid.UUID) (*models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("GetByID"); err != nil {
		return nil, err
	}
	p, ok := m.profiles[userID]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "profile %s not found", userID)
	}
	cp := *p
	return &cp, nil
}

func (m *Memory) SaveSuspicion(_ context.Context, s *models.SuspicionProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.profiles[s.UserID]; ok {
		at := s.CheckedAt
		p.SuspicionScore, p.SuspicionReasons, p.SuspicionCheckedAt = s.Score, slices.Clone(s.Reasons), &at
	}
	return nil
}

func (m *Memory) CountAccountsByIPHash(_ context.Context, ipHash string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("CountAccountsByIPHash"); err != nil {
		return 0, err
	}
	var n int64
	for _, p := range m.profiles {
		if p.SignupIPHash == ipHash {
			n++
		}
	}
	return n, nil
}

func (m *Memory) CountSignupsByIPHashSince(_ context.Context, ipHash string, since time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, p := range m.profiles {
		if p.SignupIPHash == ipHash && !p.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *Memory) CountWalletsByIPHash(_ context.Context, ipHash string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.wallets[ipHash])), nil
}

func (m *Memory) LinkWallet(_ context.Context, userID uuid.UUID, wallet, ipHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.wallets[ipHash] == nil {
		m.wallets[ipHash] = make(map[string]bool)
	}
	m.wallets[ipHash][wallet] = true
	if p, ok := m.profiles[userID]; ok && p.WalletAddress == "" {
		p.WalletAddress = wallet
	}
	return nil
}

// --- activity ---

func (m *Memory) Counts(_ context.Context, userID uuid.UUID) (lightscore.ActivityCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var c lightscore.ActivityCounts
	for _, e := range m.entries {
		if e.UserID != userID {
			continue
		}
		switch e.Kind {
		case models.RewardView:
			c.Views++
		case models.RewardLike:
			c.Likes++
		case models.RewardComment:
			c.Comments++
		case models.RewardShare:
			c.Shares++
		case models.RewardUpload:
			c.Uploads++
		}
	}
	return c, nil
}

func (m *Memory) Events(_ context.Context, userID uuid.UUID, limit int) ([]lightscore.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []lightscore.Event
	for _, e := range m.entries {
		if e.UserID == userID {
			out = append(out, lightscore.Event{Kind: repository.EventKind(e.Kind), At: e.CreatedAt})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.After(out[j].At) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) ActiveDays(_ context.Context, userID uuid.UUID, since time.Time) ([]time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[time.Time]bool)
	var out []time.Time
	for _, e := range m.entries {
		if e.UserID != userID || e.CreatedAt.Before(since) {
			continue
		}
		d := models.ClaimDay(e.CreatedAt)
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].After(out[j]) })
	return out, nil
}

func (m *Memory) CountEntriesBetween(_ context.Context, userID uuid.UUID, from, to time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, e := range m.entries {
		if e.UserID == userID && !e.CreatedAt.Before(from) && e.CreatedAt.Before(to) {
			n++
		}
	}
	return n, nil
}

package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camly/backend/internal/apperr"
	"github.com/camly/backend/internal/claims"
	"github.com/camly/backend/internal/events"
	"github.com/camly/backend/internal/ledger"
	"github.com/camly/backend/internal/middleware"
	"github.com/camly/backend/internal/mint"
	"github.com/camly/backend/internal/models"
)

// ---------------------------------------------------------------------------
// Stubs. Embedded interfaces panic on methods a test does not expect.
// ---------------------------------------------------------------------------

type stubClaims struct {
	claims.Service
	res    *claims.Result
	err    error
	wallet string
}

func (s *stubClaims) SubmitClaim(_ context.Context, _ uuid.UUID, wallet string) (*claims.Result, error) {
	s.wallet = wallet
	return s.res, s.err
}

func (s *stubClaims) LatestClaim(_ context.Context, userID uuid.UUID) (*models.ClaimRequest, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &models.ClaimRequest{ID: uuid.New(), UserID: userID, Status: models.ClaimStatusPending}, nil
}

type stubMints struct {
	mint.Service
	req      *models.MintRequest
	err      error
	decision mint.Decision
}

func (s *stubMints) Get(context.Context, uuid.UUID) (*models.MintRequest, error) { return s.req, s.err }

func (s *stubMints) Review(_ context.Context, _, _ uuid.UUID, d mint.Decision, _ string) (*models.MintRequest, error) {
	s.decision = d
	return s.req, s.err
}

func (s *stubMints) Submit(context.Context, uuid.UUID, string, json.RawMessage) (*mint.SubmitResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &mint.SubmitResult{RequestID: uuid.New(), Status: models.MintPending}, nil
}

type stubLedger struct {
	ledger.Service
	approved map[uuid.UUID]uuid.UUID
	in       ledger.RecordInput
	held     map[uuid.UUID]bool
}

func (s *stubLedger) ClearHold(_ context.Context, _, userID uuid.UUID) error {
	if !s.held[userID] {
		return apperr.New(apperr.KindState, "account has no hold")
	}
	delete(s.held, userID)
	return nil
}

func (s *stubLedger) ApproveUser(_ context.Context, adminID, userID uuid.UUID) (int64, error) {
	if s.approved == nil {
		s.approved = map[uuid.UUID]uuid.UUID{}
	}
	s.approved[userID] = adminID
	return 1200, nil
}

func (s *stubLedger) RecordReward(_ context.Context, in ledger.RecordInput) (*models.RewardEntry, error) {
	s.in = in
	if !in.Kind.Valid() {
		return nil, apperr.New(apperr.KindValidation, "unknown reward kind %q", in.Kind)
	}
	return &models.RewardEntry{ID: uuid.New(), UserID: in.UserID, Kind: in.Kind, Amount: in.Amount}, nil
}

type linkRecorder struct {
	mu    sync.Mutex
	links []string
}

func (l *linkRecorder) LinkWallet(_ context.Context, _ uuid.UUID, wallet, ipHash string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.links = append(l.links, wallet+"|"+ipHash)
	return nil
}

const wallet = "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"

func asUser(r *http.Request, id uuid.UUID, role string) *http.Request {
	return r.WithContext(middleware.WithUser(r.Context(), &middleware.User{ID: id, Role: role}))
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

// ---------------------------------------------------------------------------
// Error mapping
// ---------------------------------------------------------------------------

func TestSubmitClaim_ErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		field  string
		value  string
	}{
		{"below threshold", apperr.New(apperr.KindInsufficientBalance, "minimum claim is 200,000 points; 50,000 more needed"), http.StatusUnprocessableEntity, "error", "insufficient_balance"},
		{"bad wallet", apperr.New(apperr.KindValidation, "invalid wallet address"), http.StatusBadRequest, "error", "validation"},
		{"no avatar", apperr.New(apperr.KindProfileIncomplete, "add a profile picture"), http.StatusUnprocessableEntity, "error", "profile_incomplete"},
		{"pending claim", apperr.New(apperr.KindConcurrentClaim, "a claim is already in progress"), http.StatusConflict, "error", "concurrent_claim"},
		{"daily cap", apperr.New(apperr.KindDailyCapExceeded, "0 left today, try again tomorrow"), http.StatusOK, "status", "daily_cap_reached"},
		{"chain", apperr.Wrap(apperr.KindChain, errors.New("nonce too low"), "transfer failed"), http.StatusBadGateway, "error", "chain"},
		{"inconsistent", apperr.New(apperr.KindLedgerInconsistency, "balance mismatch"), http.StatusInternalServerError, "error", "ledger_inconsistency"},
		{"unexpected", errors.New("conn reset"), http.StatusInternalServerError, "error", "internal error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := &RewardHandler{Claims: &stubClaims{err: tc.err}, Logger: slog.Default()}
			req := asUser(httptest.NewRequest(http.MethodPost, "/api/v1/claims", strings.NewReader(`{"wallet_address":"`+wallet+`"}`)), uuid.New(), models.RoleUser)
			rec := httptest.NewRecorder()

			h.SubmitClaim(rec, req)

			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.value, decode(t, rec)[tc.field])
		})
	}
}

func TestSubmitClaim_DailyCapCarriesMessage(t *testing.T) {
	h := &RewardHandler{Claims: &stubClaims{err: apperr.New(apperr.KindDailyCapExceeded, "100,000 left today, try again tomorrow")}, Logger: slog.Default()}
	req := asUser(httptest.NewRequest(http.MethodPost, "/api/v1/claims", strings.NewReader(`{"wallet_address":"`+wallet+`"}`)), uuid.New(), models.RoleUser)
	rec := httptest.NewRecorder()

	h.SubmitClaim(rec, req)

	assert.Equal(t, "100,000 left today, try again tomorrow", decode(t, rec)["message"])
}

// ---------------------------------------------------------------------------
// Claims
// ---------------------------------------------------------------------------

func TestSubmitClaim_SuccessLinksWallet(t *testing.T) {
	links := &linkRecorder{}
	sc := &stubClaims{res: &claims.Result{ClaimID: uuid.New(), TxHash: "0xfeed", Amount: 250_000}}
	h := &RewardHandler{Claims: sc, Wallets: links, IPHashKey: []byte("k"), Logger: slog.Default()}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/claims", strings.NewReader(`{"wallet_address":"`+wallet+`"}`))
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	rec := httptest.NewRecorder()
	h.SubmitClaim(rec, asUser(req, uuid.New(), models.RoleUser))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "0xfeed", body["tx_hash"])
	assert.Equal(t, float64(250_000), body["amount"])
	assert.Equal(t, wallet, sc.wallet)

	require.Len(t, links.links, 1)
	got := strings.SplitN(links.links[0], "|", 2)
	assert.Equal(t, "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", got[0])
	assert.Len(t, got[1], 64, "ip is stored as a hex digest")
	assert.NotContains(t, got[1], "203.0.113.9")
}

func TestSubmitClaim_InvalidJSONAndUnauthenticated(t *testing.T) {
	h := &RewardHandler{Claims: &stubClaims{}, Logger: slog.Default()}

	rec := httptest.NewRecorder()
	h.SubmitClaim(rec, asUser(httptest.NewRequest(http.MethodPost, "/api/v1/claims", strings.NewReader("{")), uuid.New(), models.RoleUser))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.SubmitClaim(rec, httptest.NewRequest(http.MethodPost, "/api/v1/claims", strings.NewReader("{}")))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLatestClaim_NoneYet(t *testing.T) {
	h := &RewardHandler{Claims: &stubClaims{err: apperr.New(apperr.KindNotFound, "no claims yet")}, Logger: slog.Default()}
	rec := httptest.NewRecorder()
	h.LatestClaim(rec, asUser(httptest.NewRequest(http.MethodGet, "/api/v1/claims/latest", nil), uuid.New(), models.RoleUser))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "no claims yet", decode(t, rec)["message"])
}

// ---------------------------------------------------------------------------
// Mint requests
// ---------------------------------------------------------------------------

func TestReviewMintRequest_StateConflict(t *testing.T) {
	sm := &stubMints{err: apperr.New(apperr.KindState, "cannot move request from rejected to approved")}
	h := &RewardHandler{Mints: sm, Logger: slog.Default()}
	id := uuid.New()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/mint-requests/"+id.String()+"/review", strings.NewReader(`{"decision":"approve"}`))
	req.SetPathValue("id", id.String())
	rec := httptest.NewRecorder()
	h.ReviewMintRequest(rec, asUser(req, uuid.New(), models.RoleAdmin))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, mint.DecisionApprove, sm.decision)
}

func TestReviewMintRequest_BadID(t *testing.T) {
	h := &RewardHandler{Mints: &stubMints{}, Logger: slog.Default()}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/mint-requests/x/review", strings.NewReader(`{}`))
	req.SetPathValue("id", "x")
	rec := httptest.NewRecorder()
	h.ReviewMintRequest(rec, asUser(req, uuid.New(), models.RoleAdmin))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetMintRequest_HidesOtherUsers(t *testing.T) {
	owner := uuid.New()
	id := uuid.New()
	h := &RewardHandler{Mints: &stubMints{req: &models.MintRequest{ID: id, UserID: owner}}, Logger: slog.Default()}

	get := func(caller uuid.UUID, role string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/mint-requests/"+id.String(), nil)
		req.SetPathValue("id", id.String())
		rec := httptest.NewRecorder()
		h.GetMintRequest(rec, asUser(req, caller, role))
		return rec.Code
	}
	assert.Equal(t, http.StatusOK, get(owner, models.RoleUser))
	assert.Equal(t, http.StatusNotFound, get(uuid.New(), models.RoleUser))
	assert.Equal(t, http.StatusOK, get(uuid.New(), models.RoleAdmin))
}

func TestSubmitMintRequest_Created(t *testing.T) {
	links := &linkRecorder{}
	h := &RewardHandler{Mints: &stubMints{}, Wallets: links, Logger: slog.Default()}
	body := `{"wallet_address":"` + wallet + `","evidence":{"summary":"weekly streams"}}`
	rec := httptest.NewRecorder()
	h.SubmitMintRequest(rec, asUser(httptest.NewRequest(http.MethodPost, "/api/v1/mint-requests", strings.NewReader(body)), uuid.New(), models.RoleUser))

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "pending", decode(t, rec)["status"])
	assert.Len(t, links.links, 1)
}

// ---------------------------------------------------------------------------
// Ledger admin
// ---------------------------------------------------------------------------

func TestApproveUserRewards(t *testing.T) {
	sl := &stubLedger{}
	h := &RewardHandler{Ledger: sl, Logger: slog.Default()}
	admin, user := uuid.New(), uuid.New()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/users/"+user.String()+"/rewards/approve", nil)
	req.SetPathValue("id", user.String())
	rec := httptest.NewRecorder()
	h.ApproveUserRewards(rec, asUser(req, admin, models.RoleAdmin))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1200), decode(t, rec)["approved_amount"])
	assert.Equal(t, admin, sl.approved[user])
}

func TestClearHold(t *testing.T) {
	user := uuid.New()
	sl := &stubLedger{held: map[uuid.UUID]bool{user: true}}
	h := &RewardHandler{Ledger: sl, Logger: slog.Default()}

	call := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/users/"+user.String()+"/hold/clear", nil)
		req.SetPathValue("id", user.String())
		rec := httptest.NewRecorder()
		h.ClearHold(rec, asUser(req, uuid.New(), models.RoleAdmin))
		return rec
	}

	rec := call()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, decode(t, rec)["hold_cleared"])

	rec = call()
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRecordReward(t *testing.T) {
	sl := &stubLedger{}
	h := &RewardHandler{Ledger: sl, Logger: slog.Default()}
	user := uuid.New()

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/users/"+user.String()+"/rewards", strings.NewReader(body))
		req.SetPathValue("id", user.String())
		rec := httptest.NewRecorder()
		h.RecordReward(rec, asUser(req, uuid.New(), models.RoleAdmin))
		return rec
	}

	rec := post(`{"kind":"upload","amount":500}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, user, sl.in.UserID)
	assert.Equal(t, int64(500), sl.in.Amount)

	assert.Equal(t, http.StatusBadRequest, post(`{"kind":"gift","amount":5}`).Code)
}

// ---------------------------------------------------------------------------
// Event stream
// ---------------------------------------------------------------------------

func TestStreamEvents(t *testing.T) {
	bus := events.NewBus(nil)
	h := &RewardHandler{Events: bus, Heartbeat: time.Hour, Logger: slog.Default()}
	user := uuid.New()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.StreamEvents(w, asUser(r, user, models.RoleUser))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return bus.Subscribers() == 1 }, time.Second, 5*time.Millisecond)
	bus.Publish(context.Background(), events.Event{Type: events.ClaimSettled, UserID: uuid.New()})
	bus.Publish(context.Background(), events.Event{Type: events.ClaimSettled, UserID: user, Data: map[string]any{"tx_hash": "0xfeed"}})

	var lines []string
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, ":") || line == "" {
			continue
		}
		lines = append(lines, line)
		if strings.HasPrefix(line, "data: ") {
			break
		}
	}
	require.Len(t, lines, 3, "id, event and data lines")
	assert.Equal(t, "event: claim.settled", lines[1])
	assert.Contains(t, lines[2], `"tx_hash":"0xfeed"`)
	assert.Contains(t, lines[2], user.String(), "only the caller's events are streamed")

	cancel()
	require.Eventually(t, func() bool { return bus.Subscribers() == 0 }, time.Second, 5*time.Millisecond,
		"disconnect cancels the subscription")
}

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/camly/backend/internal/abuse"
	"github.com/camly/backend/internal/apperr"
	"github.com/camly/backend/internal/claims"
	"github.com/camly/backend/internal/eligibility"
	"github.com/camly/backend/internal/events"
	"github.com/camly/backend/internal/ledger"
	"github.com/camly/backend/internal/middleware"
	"github.com/camly/backend/internal/mint"
	"github.com/camly/backend/internal/models"
	"github.com/camly/backend/internal/validation"
)

// EligibilityComputer is satisfied by *eligibility.Service.
type EligibilityComputer interface {
	Compute(ctx context.Context, userID uuid.UUID) (*eligibility.Eligibility, error)
}

// SuspicionAssessor is satisfied by *abuse.Service.
type SuspicionAssessor interface {
	Compute(ctx context.Context, userID uuid.UUID, ipHash string) (*models.SuspicionProfile, error)
}

// WalletLinker records which wallets were used from which network.
type WalletLinker interface {
	LinkWallet(ctx context.Context, userID uuid.UUID, wallet, ipHash string) error
}

// EventSubscriber is satisfied by *events.Bus.
type EventSubscriber interface {
	Subscribe(userID uuid.UUID, buffer int) (<-chan events.Event, func())
}

// RewardHandler serves the /api/v1 reward, mint and claim endpoints.
type RewardHandler struct {
	Eligibility EligibilityComputer
	Mints       mint.Service
	Claims      claims.Service
	Ledger      ledger.Service
	Suspicion   SuspicionAssessor
	Wallets     WalletLinker
	Events      EventSubscriber
	IPHashKey   []byte
	Heartbeat   time.Duration
	Logger      *slog.Logger
}

// --- GET /api/v1/eligibility ---

func (h *RewardHandler) GetEligibility(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFromCtx(r.Context())
	if u == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	e, err := h.Eligibility.Compute(r.Context(), u.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// --- GET /api/v1/account ---

func (h *RewardHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFromCtx(r.Context())
	if u == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	acc, err := h.Ledger.Account(r.Context(), u.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

// --- POST /api/v1/mint-requests ---

type submitMintRequest struct {
	WalletAddress string          `json:"wallet_address"`
	Evidence      json.RawMessage `json:"evidence"`
}

func (h *RewardHandler) SubmitMintRequest(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFromCtx(r.Context())
	if u == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	var req submitMintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	res, err := h.Mints.Submit(r.Context(), u.ID, req.WalletAddress, req.Evidence)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.linkWallet(r, u.ID, req.WalletAddress)
	writeJSON(w, http.StatusCreated, res)
}

// --- GET /api/v1/mint-requests/{id} ---

func (h *RewardHandler) GetMintRequest(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFromCtx(r.Context())
	if u == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	m, err := h.Mints.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	// Other users' requests are reported as missing.
	if m.UserID != u.ID && !u.IsAdmin() {
		h.writeError(w, r, apperr.New(apperr.KindNotFound, "mint request not found"))
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// --- POST /api/v1/admin/mint-requests/{id}/review ---

type reviewMintRequest struct {
	Decision mint.Decision `json:"decision"`
	Note     string        `json:"note"`
}

func (h *RewardHandler) ReviewMintRequest(w http.ResponseWriter, r *http.Request) {
	admin := middleware.UserFromCtx(r.Context())
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req reviewMintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	m, err := h.Mints.Review(r.Context(), admin.ID, id, req.Decision, req.Note)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// --- POST /api/v1/admin/mint-requests/{id}/mint ---

// MintApprovedRequest runs the mint in the request goroutine. Approval already
// queues a job for this; the endpoint is the manual path.
func (h *RewardHandler) MintApprovedRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	m, err := h.Mints.Mint(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// --- POST /api/v1/admin/mint-requests/review-all ---

func (h *RewardHandler) ReviewAllMintRequests(w http.ResponseWriter, r *http.Request) {
	admin := middleware.UserFromCtx(r.Context())
	report, err := h.Mints.ReviewBulk(r.Context(), admin.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// --- POST /api/v1/claims ---

type submitClaimRequest struct {
	WalletAddress string `json:"wallet_address"`
}

func (h *RewardHandler) SubmitClaim(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFromCtx(r.Context())
	if u == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	var req submitClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	res, err := h.Claims.SubmitClaim(r.Context(), u.ID, req.WalletAddress)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.linkWallet(r, u.ID, req.WalletAddress)
	writeJSON(w, http.StatusOK, res)
}

// --- GET /api/v1/claims/latest ---

func (h *RewardHandler) LatestClaim(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFromCtx(r.Context())
	if u == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	c, err := h.Claims.LatestClaim(r.Context(), u.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// --- GET /api/v1/admin/users/{id}/suspicion ---

func (h *RewardHandler) GetSuspicion(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	s, err := h.Suspicion.Compute(r.Context(), id, r.URL.Query().Get("ip_hash"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// --- POST /api/v1/admin/users/{id}/rewards ---

type recordRewardRequest struct {
	Kind        models.RewardKind `json:"kind"`
	Amount      int64             `json:"amount"`
	EscrowUntil *time.Time        `json:"escrow_until,omitempty"`
}

func (h *RewardHandler) RecordReward(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req recordRewardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	e, err := h.Ledger.RecordReward(r.Context(), ledger.RecordInput{
		UserID:      id,
		Kind:        req.Kind,
		Amount:      req.Amount,
		EscrowUntil: req.EscrowUntil,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

// --- POST /api/v1/admin/users/{id}/rewards/approve ---

func (h *RewardHandler) ApproveUserRewards(w http.ResponseWriter, r *http.Request) {
	admin := middleware.UserFromCtx(r.Context())
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	amount, err := h.Ledger.ApproveUser(r.Context(), admin.ID, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": id, "approved_amount": amount})
}

// --- POST /api/v1/admin/users/{id}/hold/clear ---

func (h *RewardHandler) ClearHold(w http.ResponseWriter, r *http.Request) {
	admin := middleware.UserFromCtx(r.Context())
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if err := h.Ledger.ClearHold(r.Context(), admin.ID, id); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": id, "hold_cleared": true})
}

// --- POST /api/v1/admin/rewards/approve-all ---

func (h *RewardHandler) ApproveAllPending(w http.ResponseWriter, r *http.Request) {
	admin := middleware.UserFromCtx(r.Context())
	report, err := h.Ledger.BulkApproveAllPending(r.Context(), admin.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// --- GET /api/v1/events ---

// StreamEvents sends the caller's ledger events as server-sent events until
// the client disconnects.
func (h *RewardHandler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFromCtx(r.Context())
	if u == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, `{"error":"streaming unsupported"}`, http.StatusInternalServerError)
		return
	}

	ch, cancel := h.Events.Subscribe(u.ID, 32)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	beat := h.Heartbeat
	if beat <= 0 {
		beat = 25 * time.Second
	}
	ticker := time.NewTicker(beat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case e, open := <-ch:
			if !open {
				return
			}
			data, err := json.Marshal(e)
			if err != nil {
				h.Logger.Error("encode event", "type", e.Type, "error", err)
				continue
			}
			fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", e.ID, e.Type, data)
			flusher.Flush()
		}
	}
}

// --- helpers ---

func (h *RewardHandler) linkWallet(r *http.Request, userID uuid.UUID, wallet string) {
	if h.Wallets == nil {
		return
	}
	normalized, err := validation.NormalizeWallet(wallet)
	if err != nil {
		return
	}
	ip := abuse.ClientIP(r.RemoteAddr, r.Header.Get("X-Forwarded-For"))
	if err := h.Wallets.LinkWallet(r.Context(), userID, normalized, abuse.HashIP(h.IPHashKey, ip)); err != nil {
		h.Logger.Warn("link wallet", "user_id", userID, "error", err)
	}
}

type errorResponse struct {
	Error   apperr.Kind `json:"error"`
	Message string      `json:"message"`
}

// writeError maps service errors to HTTP responses. A reached daily cap is an
// expected outcome and is reported with 200.
func (h *RewardHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	msg := apperr.MessageOf(err)
	var status int
	switch kind {
	case apperr.KindValidation:
		status = http.StatusBadRequest
	case apperr.KindInsufficientBalance, apperr.KindProfileIncomplete:
		status = http.StatusUnprocessableEntity
	case apperr.KindConcurrentClaim, apperr.KindState:
		status = http.StatusConflict
	case apperr.KindDailyCapExceeded:
		writeJSON(w, http.StatusOK, map[string]string{"status": "daily_cap_reached", "message": msg})
		return
	case apperr.KindChain:
		h.Logger.Warn("chain call failed", "path", r.URL.Path, "error", err)
		status = http.StatusBadGateway
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindLedgerInconsistency:
		h.Logger.Error("ledger inconsistency", "path", r.URL.Path, "error", err)
		status = http.StatusInternalServerError
	default:
		if errors.Is(err, context.Canceled) {
			return
		}
		h.Logger.Error("request failed", "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, status, errorResponse{Error: kind, Message: msg})
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		http.Error(w, fmt.Sprintf(`{"error":"invalid %s"}`, name), http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

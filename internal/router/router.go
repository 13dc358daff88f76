package router

import (
	"net/http"

	"github.com/camly/backend/internal/handlers"
	"github.com/camly/backend/internal/middleware"
)

type Middleware = func(http.Handler) http.Handler

// New returns an http.Handler that serves the reward API under /api/v1.
// Every route requires a bearer token; /admin routes also require the admin
// role. claimLimit guards POST /claims and may be nil.
func New(h *handlers.RewardHandler, tokens middleware.TokenValidator, claimLimit Middleware) http.Handler {
	mux := http.NewServeMux()
	base := "/api/v1"

	auth := middleware.JWTAuth(tokens)
	user := func(fn http.HandlerFunc) http.Handler { return auth(fn) }
	admin := func(fn http.HandlerFunc) http.Handler { return auth(middleware.RequireAdmin(fn)) }
	if claimLimit == nil {
		claimLimit = func(next http.Handler) http.Handler { return next }
	}

	mux.Handle("GET "+base+"/eligibility", user(h.GetEligibility))
	mux.Handle("GET "+base+"/account", user(h.GetAccount))
	mux.Handle("GET "+base+"/events", user(h.StreamEvents))

	mux.Handle("POST "+base+"/mint-requests", user(h.SubmitMintRequest))
	mux.Handle("GET "+base+"/mint-requests/{id}", user(h.GetMintRequest))

	mux.Handle("POST "+base+"/claims", auth(claimLimit(http.HandlerFunc(h.SubmitClaim))))
	mux.Handle("GET "+base+"/claims/latest", user(h.LatestClaim))

	mux.Handle("POST "+base+"/admin/mint-requests/review-all", admin(h.ReviewAllMintRequests))
	mux.Handle("POST "+base+"/admin/mint-requests/{id}/review", admin(h.ReviewMintRequest))
	mux.Handle("POST "+base+"/admin/mint-requests/{id}/mint", admin(h.MintApprovedRequest))

	mux.Handle("POST "+base+"/admin/rewards/approve-all", admin(h.ApproveAllPending))
	mux.Handle("POST "+base+"/admin/users/{id}/rewards", admin(h.RecordReward))
	mux.Handle("POST "+base+"/admin/users/{id}/rewards/approve", admin(h.ApproveUserRewards))
	mux.Handle("POST "+base+"/admin/users/{id}/hold/clear", admin(h.ClearHold))
	mux.Handle("GET "+base+"/admin/users/{id}/suspicion", admin(h.GetSuspicion))

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return mux
}

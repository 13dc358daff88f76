package main

import (
	"log/slog"
	"net/http"

	"github.com/camly/backend/internal/attempts"
	"github.com/camly/backend/internal/claims"
	"github.com/camly/backend/internal/config"
	"github.com/camly/backend/internal/events"
	"github.com/camly/backend/internal/handlers"
	"github.com/camly/backend/internal/ledger"
	"github.com/camly/backend/internal/middleware"
	"github.com/camly/backend/internal/mint"
	"github.com/camly/backend/internal/router"
)

type routeDeps struct {
	eligibility handlers.EligibilityComputer
	mints       mint.Service
	claims      claims.Service
	ledger      ledger.Service
	suspicion   handlers.SuspicionAssessor
	wallets     handlers.WalletLinker
	bus         *events.Bus
	tokens      middleware.TokenValidator
	counter     attempts.Counter
	cfg         config.Config
	logger      *slog.Logger
}

// newRouter builds the /api/v1 handler.
// Middleware chain: JWTAuth -> (RequireAdmin on /admin, ClaimAttemptLimit on POST /claims) -> handler.
func newRouter(d routeDeps) http.Handler {
	h := &handlers.RewardHandler{
		Eligibility: d.eligibility,
		Mints:       d.mints,
		Claims:      d.claims,
		Ledger:      d.ledger,
		Suspicion:   d.suspicion,
		Wallets:     d.wallets,
		Events:      d.bus,
		IPHashKey:   []byte(d.cfg.IPHashKey),
		Logger:      d.logger,
	}
	claimLimit := middleware.ClaimAttemptLimit(d.counter, d.cfg.MaxDailyClaimAttempts, d.logger)
	return router.New(h, d.tokens, claimLimit)
}

package router

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/camly/backend/internal/handlers"
	"github.com/camly/backend/internal/ledger"
	"github.com/camly/backend/internal/models"
)

type tokenTable map[string]struct {
	id   uuid.UUID
	role string
}

func (t tokenTable) ValidateToken(tok string) (uuid.UUID, string, error) {
	e, ok := t[tok]
	if !ok {
		return uuid.Nil, "", errors.New("unknown token")
	}
	return e.id, e.role, nil
}

type stubLedger struct {
	ledger.Service
}

func (stubLedger) ApproveUser(context.Context, uuid.UUID, uuid.UUID) (int64, error) { return 10, nil }

func (stubLedger) Account(_ context.Context, userID uuid.UUID) (*models.RewardAccount, error) {
	return &models.RewardAccount{UserID: userID}, nil
}

func newTestRouter(limited *int) http.Handler {
	tokens := tokenTable{
		"user-token":  {uuid.New(), models.RoleUser},
		"admin-token": {uuid.New(), models.RoleAdmin},
	}
	h := &handlers.RewardHandler{Ledger: stubLedger{}, Logger: slog.Default()}
	limit := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			*limited++
			w.WriteHeader(http.StatusTooManyRequests)
		})
	}
	return New(h, tokens, limit)
}

func TestRouter(t *testing.T) {
	var limited int
	r := newTestRouter(&limited)
	user := uuid.New().String()

	cases := []struct {
		method, path, token string
		want                int
	}{
		{http.MethodGet, "/api/v1/account", "", http.StatusUnauthorized},
		{http.MethodGet, "/api/v1/account", "user-token", http.StatusOK},
		{http.MethodPost, "/api/v1/account", "user-token", http.StatusMethodNotAllowed},
		{http.MethodPost, "/api/v1/admin/users/" + user + "/rewards/approve", "user-token", http.StatusForbidden},
		{http.MethodPost, "/api/v1/admin/users/" + user + "/rewards/approve", "admin-token", http.StatusOK},
		{http.MethodPost, "/api/v1/admin/users/not-a-uuid/rewards/approve", "admin-token", http.StatusBadRequest},
		{http.MethodPost, "/api/v1/claims", "user-token", http.StatusTooManyRequests},
		{http.MethodGet, "/healthz", "", http.StatusOK},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		if tc.token != "" {
			req.Header.Set("Authorization", "Bearer "+tc.token)
		}
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Errorf("%s %s (%q): expected %d, got %d: %s", tc.method, tc.path, tc.token, tc.want, rec.Code, rec.Body.String())
		}
	}
	if limited != 1 {
		t.Fatalf("claim limiter ran %d times, want 1", limited)
	}
}

package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// AttemptCounter reads today's claim attempts for a user.
type AttemptCounter interface {
	Count(ctx context.Context, userID uuid.UUID, day time.Time) (int64, error)
}

// ClaimAttemptLimit rejects claim submissions once the caller has used up
// today's attempts. The claim service records each attempt; this only reads.
// Counter failures let the request through.
func ClaimAttemptLimit(counter AttemptCounter, max int64, log *slog.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u := UserFromCtx(r.Context())
			if u == nil {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			if max > 0 {
				n, err := counter.Count(r.Context(), u.ID, nowFn().UTC())
				if err != nil {
					log.Warn("claim attempt counter unavailable", "user_id", u.ID, "error", err)
				} else if n >= max {
					w.Header().Set("Retry-After", fmt.Sprint(secondsUntilMidnight(nowFn())))
					http.Error(w, fmt.Sprintf(`{"error":"daily claim attempt limit of %d reached"}`, max), http.StatusTooManyRequests)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// nowFn is replaced in tests.
var nowFn = time.Now

func secondsUntilMidnight(now time.Time) int {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
	return int(next.Sub(now).Seconds())
}

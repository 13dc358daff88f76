package abuse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/camly/backend/internal/apperr"
	"github.com/camly/backend/internal/attempts"
	"github.com/camly/backend/internal/models"
)

type ProfileStore interface {
	GetByID(ctx context.Context, userID uuid.UUID) (*models.Profile, error)
	SaveSuspicion(ctx context.Context, s *models.SuspicionProfile) error
	CountAccountsByIPHash(ctx context.Context, ipHash string) (int64, error)
	CountSignupsByIPHashSince(ctx context.Context, ipHash string, since time.Time) (int64, error)
	CountWalletsByIPHash(ctx context.Context, ipHash string) (int64, error)
}

type ActivityStore interface {
	CountEntriesBetween(ctx context.Context, userID uuid.UUID, from, to time.Time) (int64, error)
}

type Service struct {
	profiles ProfileStore
	activity ActivityStore
	attempts attempts.Counter
	log      *slog.Logger
	now      func() time.Time
}

func NewService(profiles ProfileStore, activity ActivityStore, counter attempts.Counter, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{profiles: profiles, activity: activity, attempts: counter, log: log, now: time.Now}
}

// Compute assesses userID and stores the result as the profile's latest
// snapshot. ipHash overrides the profile's signup IP hash when set. If any
// lookup fails the recommendation is ManualReview.
func (s *Service) Compute(ctx context.Context, userID uuid.UUID, ipHash string) (*models.SuspicionProfile, error) {
	now := s.now().UTC()
	out := &models.SuspicionProfile{UserID: userID, CheckedAt: now}

	profile, err := s.profiles.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, err
		}
		s.log.Warn("suspicion: profile lookup failed", "user_id", userID, "error", err)
		out.Reasons = []string{"profile lookup failed"}
		out.Recommendation = models.RecommendManualReview
		return out, nil
	}
	if ipHash == "" {
		ipHash = profile.SignupIPHash
	}

	sig := Signals{
		Username:    profile.Username,
		DisplayName: profile.DisplayName,
		HasAvatar:   profile.HasAvatar(),
		AccountAge:  now.Sub(profile.CreatedAt),
	}
	var failed []string
	lookup := func(name string, fn func() (int64, error), dst *int64) {
		n, err := fn()
		if err != nil {
			s.log.Warn("suspicion: lookup failed", "user_id", userID, "lookup", name, "error", err)
			failed = append(failed, name)
			return
		}
		*dst = n
	}

	if ipHash != "" {
		lookup("accounts_on_ip", func() (int64, error) {
			return s.profiles.CountAccountsByIPHash(ctx, ipHash)
		}, &sig.AccountsOnIP)
		lookup("wallets_on_ip", func() (int64, error) {
			return s.profiles.CountWalletsByIPHash(ctx, ipHash)
		}, &sig.WalletsOnIP)
		lookup("recent_signups_on_ip", func() (int64, error) {
			return s.profiles.CountSignupsByIPHashSince(ctx, ipHash, now.Add(-time.Hour))
		}, &sig.RecentSignupsOnIP)
	}
	lookup("claim_attempts", func() (int64, error) {
		return s.attempts.Count(ctx, userID, now)
	}, &sig.ClaimAttemptsToday)
	if sig.AccountAge < 24*time.Hour {
		lookup("first_day_events", func() (int64, error) {
			return s.activity.CountEntriesBetween(ctx, userID, profile.CreatedAt, profile.CreatedAt.Add(24*time.Hour))
		}, &sig.FirstDayEvents)
	}

	a := Evaluate(sig)
	out.Score = a.Score
	out.Reasons = a.Reasons
	out.Recommendation = a.Recommendation
	for _, name := range failed {
		out.Reasons = append(out.Reasons, fmt.Sprintf("%s lookup failed", name))
		out.Recommendation = models.RecommendManualReview
	}

	if err := s.profiles.SaveSuspicion(ctx, out); err != nil {
		s.log.Error("suspicion: persist snapshot", "user_id", userID, "error", err)
	}
	return out, nil
}

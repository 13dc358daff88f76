// Package eligibility gathers a user's activity and profile and runs the
// Light Score engine over them.
package eligibility

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/camly/backend/internal/lightscore"
	"github.com/camly/backend/internal/models"
)

const (
	// Sequences are detected over this many recent events.
	sequenceWindow = 500
	streakLookback = 60 * 24 * time.Hour
)

type ProfileStore interface {
	GetByID(ctx context.Context, userID uuid.UUID) (*models.Profile, error)
}

type ActivityStore interface {
	Counts(ctx context.Context, userID uuid.UUID) (lightscore.ActivityCounts, error)
	Events(ctx context.Context, userID uuid.UUID, limit int) ([]lightscore.Event, error)
	ActiveDays(ctx context.Context, userID uuid.UUID, since time.Time) ([]time.Time, error)
}

type MintHistory interface {
	SumMintedFun(ctx context.Context, userID uuid.UUID) (int64, error)
	HasOpenMintRequest(ctx context.Context, userID uuid.UUID) (bool, error)
}

type Eligibility struct {
	UserID          uuid.UUID                 `json:"user_id"`
	Result          lightscore.Result         `json:"result"`
	Activity        lightscore.ActivityCounts `json:"activity"`
	Sequences       lightscore.Sequences      `json:"sequences"`
	ConsistencyDays int                       `json:"consistency_days"`
	ComputedAt      time.Time                 `json:"computed_at"`

	Profile *models.Profile `json:"-"`
}

type Service struct {
	profiles ProfileStore
	activity ActivityStore
	mints    MintHistory
	log      *slog.Logger
	now      func() time.Time
}

func NewService(profiles ProfileStore, activity ActivityStore, mints MintHistory, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{profiles: profiles, activity: activity, mints: mints, log: log, now: time.Now}
}

// Compute returns the current eligibility of userID. Reads are not
// synchronized with writers; callers that act on the result must recheck
// under a lock.
func (s *Service) Compute(ctx context.Context, userID uuid.UUID) (*Eligibility, error) {
	now := s.now().UTC()

	profile, err := s.profiles.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	counts, err := s.activity.Counts(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("activity counts: %w", err)
	}
	evs, err := s.activity.Events(ctx, userID, sequenceWindow)
	if err != nil {
		return nil, fmt.Errorf("activity events: %w", err)
	}
	days, err := s.activity.ActiveDays(ctx, userID, now.Add(-streakLookback))
	if err != nil {
		return nil, fmt.Errorf("active days: %w", err)
	}
	minted, err := s.mints.SumMintedFun(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("minted total: %w", err)
	}
	open, err := s.mints.HasOpenMintRequest(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("open mint request: %w", err)
	}

	seq := lightscore.DetectSequences(evs)
	streak := ConsecutiveDays(days, now)
	res := lightscore.Compute(lightscore.Input{
		Activity:       counts,
		AccountAgeDays: profile.AgeDays(now),
		IsVerified:     profile.IsVerified,
		Profile: lightscore.ProfileCompleteness{
			HasAvatar:       profile.HasAvatar(),
			DisplayName:     profile.DisplayName,
			HasBio:          profile.Bio != "",
			HasLinkedWallet: profile.WalletAddress != "",
		},
		ConsistencyDays:  streak,
		ReputationWeight: profile.ReputationWeight,
		Sequences:        seq,
		AlreadyMintedFun: minted,
		HasPendingMint:   open,
	})

	s.log.Debug("eligibility computed", "user_id", userID, "light_score", res.LightScore, "can_mint", res.CanMint)
	return &Eligibility{
		UserID:          userID,
		Result:          res,
		Activity:        counts,
		Sequences:       seq,
		ConsistencyDays: streak,
		ComputedAt:      now,
		Profile:         profile,
	}, nil
}

// ConsecutiveDays counts the run of consecutive UTC days in days that ends
// today or yesterday. days may be in any order and contain duplicates.
func ConsecutiveDays(days []time.Time, now time.Time) int {
	seen := make(map[time.Time]bool, len(days))
	for _, d := range days {
		seen[models.ClaimDay(d)] = true
	}
	day := models.ClaimDay(now)
	if !seen[day] {
		day = day.AddDate(0, 0, -1)
	}
	n := 0
	for seen[day] {
		n++
		day = day.AddDate(0, 0, -1)
	}
	return n
}

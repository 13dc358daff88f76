package models

import (
	"time"

	"github.com/google/uuid"
)

// Roles carried in identity tokens.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// RewardAccount holds a user's FUN point balances. The four buckets always
// satisfy PendingUnapproved + ApprovedClaimable + ClaimedLifetime == TotalEarned.
//
// HoldReason is set when a transfer went out that the ledger could not
// record. Claims are refused until an operator clears it.
type RewardAccount struct {
	UserID            uuid.UUID  `json:"user_id"`
	TotalEarned       int64      `json:"total_earned"`
	PendingUnapproved int64      `json:"pending_unapproved"`
	ApprovedClaimable int64      `json:"approved_claimable"`
	ClaimedLifetime   int64      `json:"claimed_lifetime"`
	HoldReason        string     `json:"hold_reason,omitempty"`
	HeldAt            *time.Time `json:"held_at,omitempty"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func (a RewardAccount) Held() bool { return a.HoldReason != "" }

func (a RewardAccount) Balanced() bool {
	return a.PendingUnapproved >= 0 && a.ApprovedClaimable >= 0 && a.ClaimedLifetime >= 0 &&
		a.PendingUnapproved+a.ApprovedClaimable+a.ClaimedLifetime == a.TotalEarned
}

type Profile struct {
	UserID             uuid.UUID  `json:"user_id"`
	Username           string     `json:"username"`
	DisplayName        string     `json:"display_name"`
	AvatarURL          string     `json:"avatar_url,omitempty"`
	Bio                string     `json:"bio,omitempty"`
	WalletAddress      string     `json:"wallet_address,omitempty"`
	IsVerified         bool       `json:"is_verified"`
	ReputationWeight   float64    `json:"reputation_weight"`
	SignupIPHash       string     `json:"-"`
	SuspicionScore     int        `json:"suspicion_score"`
	SuspicionReasons   []string   `json:"suspicion_reasons,omitempty"`
	SuspicionCheckedAt *time.Time `json:"suspicion_checked_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

func (p *Profile) HasAvatar() bool { return p.AvatarURL != "" }

// AgeDays returns whole days since signup, as of now.
func (p *Profile) AgeDays(now time.Time) int {
	if now.Before(p.CreatedAt) {
		return 0
	}
	return int(now.Sub(p.CreatedAt).Hours() / 24)
}

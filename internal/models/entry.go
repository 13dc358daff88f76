package models

import (
	"time"

	"github.com/google/uuid"
)

type RewardKind string

const (
	RewardView     RewardKind = "view"
	RewardLike     RewardKind = "like"
	RewardComment  RewardKind = "comment"
	RewardShare    RewardKind = "share"
	RewardUpload   RewardKind = "upload"
	RewardSignup   RewardKind = "signup"
	RewardBounty   RewardKind = "bounty"
	RewardManual   RewardKind = "manual"
	RewardReferral RewardKind = "referral"
	RewardDonation RewardKind = "donation"
)

func (k RewardKind) Valid() bool {
	switch k {
	case RewardView, RewardLike, RewardComment, RewardShare, RewardUpload,
		RewardSignup, RewardBounty, RewardManual, RewardReferral, RewardDonation:
		return true
	}
	return false
}

// RewardEntry is one earned amount. Approval and claim only flip flags
// forward; a claimed entry is never reopened.
type RewardEntry struct {
	ID              uuid.UUID  `json:"id"`
	UserID          uuid.UUID  `json:"user_id"`
	Kind            RewardKind `json:"kind"`
	Amount          int64      `json:"amount"`
	Approved        bool       `json:"approved"`
	Claimed         bool       `json:"claimed"`
	EscrowReleaseAt *time.Time `json:"escrow_release_at,omitempty"`
	ClaimRequestID  *uuid.UUID `json:"claim_request_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	ApprovedAt      *time.Time `json:"approved_at,omitempty"`
	ClaimedAt       *time.Time `json:"claimed_at,omitempty"`
}

// Claimable reports whether the entry can be paid out at now.
func (e *RewardEntry) Claimable(now time.Time) bool {
	if !e.Approved || e.Claimed {
		return false
	}
	return e.EscrowReleaseAt == nil || !e.EscrowReleaseAt.After(now)
}

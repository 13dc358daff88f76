package models

import (
	"time"

	"github.com/google/uuid"
)

type Recommendation string

const (
	RecommendAutoApprove  Recommendation = "auto_approve"
	RecommendManualReview Recommendation = "manual_review"
)

// SuspicionProfile is the latest abuse assessment for a user. It advises
// approval gates; an admin can always override it.
type SuspicionProfile struct {
	UserID         uuid.UUID      `json:"user_id"`
	Score          int            `json:"score"`
	Reasons        []string       `json:"reasons"`
	Recommendation Recommendation `json:"recommendation"`
	CheckedAt      time.Time      `json:"checked_at"`
}

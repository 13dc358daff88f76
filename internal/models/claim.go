package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	ClaimStatusPending = "pending"
	ClaimStatusSuccess = "success"
	ClaimStatusFailed  = "failed"
)

type ClaimRequest struct {
	ID            uuid.UUID  `json:"id"`
	UserID        uuid.UUID  `json:"user_id"`
	WalletAddress string     `json:"wallet_address"`
	Amount        int64      `json:"amount"`
	Status        string     `json:"status"`
	TxHash        *string    `json:"tx_hash,omitempty"`
	ErrorMessage  *string    `json:"error_message,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	ProcessedAt   *time.Time `json:"processed_at,omitempty"`
}

// DailyClaimRecord aggregates one user's claims for one UTC calendar day.
type DailyClaimRecord struct {
	UserID       uuid.UUID `json:"user_id"`
	Date         time.Time `json:"date"`
	TotalClaimed int64     `json:"total_claimed"`
	ClaimCount   int       `json:"claim_count"`
}

// ClaimDay truncates t to its UTC calendar day.
func ClaimDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

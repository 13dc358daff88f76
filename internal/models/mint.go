package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/camly/backend/internal/lightscore"
)

type MintStatus string

const (
	MintPending  MintStatus = "pending"
	MintApproved MintStatus = "approved"
	MintMinted   MintStatus = "minted"
	MintRejected MintStatus = "rejected"
	MintFailed   MintStatus = "failed"
)

// Label is the user-facing name of each mint state.
func (s MintStatus) Label() string {
	switch s {
	case MintPending:
		return "LOCKED"
	case MintApproved:
		return "ACTIVATED"
	case MintMinted:
		return "FLOWING"
	case MintRejected:
		return "REJECTED"
	case MintFailed:
		return "FAILED"
	}
	return string(s)
}

func (s MintStatus) Terminal() bool {
	return s == MintMinted || s == MintRejected || s == MintFailed
}

// Multipliers are combined multiplicatively: reputation, quality, integrity, unity.
type Multipliers struct {
	K  decimal.Decimal `json:"k"`
	Q  decimal.Decimal `json:"q"`
	I  decimal.Decimal `json:"i"`
	UX decimal.Decimal `json:"ux"`
}

func (m Multipliers) Product() decimal.Decimal {
	return m.K.Mul(m.Q).Mul(m.I).Mul(m.UX)
}

type MintRequest struct {
	ID                     uuid.UUID               `json:"id"`
	UserID                 uuid.UUID               `json:"user_id"`
	WalletAddress          string                  `json:"wallet_address"`
	PillarScores           lightscore.PillarScores `json:"pillar_scores"`
	LightScore             int                     `json:"light_score"`
	UnityScore             int                     `json:"unity_score"`
	Multipliers            Multipliers             `json:"multipliers"`
	MintableFun            int64                   `json:"mintable_fun"`
	BaseRewardAtomic       decimal.Decimal         `json:"base_reward_atomic"`
	CalculatedAmountAtomic decimal.Decimal         `json:"calculated_amount_atomic"`
	Evidence               json.RawMessage         `json:"evidence,omitempty"`
	Status                 MintStatus              `json:"status"`
	ReviewedBy             *uuid.UUID              `json:"reviewed_by,omitempty"`
	ReviewedAt             *time.Time              `json:"reviewed_at,omitempty"`
	DecisionReason         *string                 `json:"decision_reason,omitempty"`
	TxHash                 *string                 `json:"tx_hash,omitempty"`
	MintedAt               *time.Time              `json:"minted_at,omitempty"`
	CreatedAt              time.Time               `json:"created_at"`
}

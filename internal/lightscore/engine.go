// Package lightscore turns a user's activity into pillar scores, a composite
// Light Score and a mintable FUN amount. Everything here is pure.
package lightscore

import (
	"fmt"
	"math"
	"unicode/utf8"
)

const (
	MaxTruth     = 20.0
	MaxTrust     = 15.0
	MaxService   = 20.0
	MaxHealing   = 20.0
	MaxCommunity = 15.0
	MaxSequence  = 10.0

	// MinMintScore is the Light Score a user needs before a mint request is accepted.
	MinMintScore = 60

	trustFullDays = 180
)

// Per-action FUN rates.
const (
	RateView    int64 = 10
	RateLike    int64 = 20
	RateComment int64 = 50
	RateShare   int64 = 50
	RateUpload  int64 = 500
)

type ActivityCounts struct {
	Views    int64 `json:"views"`
	Likes    int64 `json:"likes"`
	Comments int64 `json:"comments"`
	Shares   int64 `json:"shares"`
	Uploads  int64 `json:"uploads"`
}

type ProfileCompleteness struct {
	HasAvatar       bool
	DisplayName     string
	HasBio          bool
	HasLinkedWallet bool
}

type Input struct {
	Activity         ActivityCounts
	AccountAgeDays   int
	IsVerified       bool
	Profile          ProfileCompleteness
	ConsistencyDays  int
	ReputationWeight float64 // 0 means unset and is treated as 1.0
	Sequences        Sequences
	AlreadyMintedFun int64
	HasPendingMint   bool
}

type Result struct {
	Pillars               PillarScores `json:"pillars"`
	RawScore              float64      `json:"raw_score"`
	ConsistencyMultiplier float64      `json:"consistency_multiplier"`
	LightScore            int          `json:"light_score"`
	UnityScore            int          `json:"unity_score"`
	TotalFunReward        int64        `json:"total_fun_reward"`
	MintableFun           int64        `json:"mintable_fun"`
	CanMint               bool         `json:"can_mint"`
	MintBlockReason       string       `json:"mint_block_reason,omitempty"`
}

// Compute evaluates in. Without any activity every pillar is zero, however
// old or complete the profile is.
func Compute(in Input) Result {
	a := in.Activity.clamped()
	if a == (ActivityCounts{}) {
		return Result{
			Pillars:               PillarScores{Version: CurrentPillarVersion},
			ConsistencyMultiplier: ConsistencyMultiplier(in.ConsistencyDays),
			MintBlockReason:       "no activity yet",
		}
	}
	age := max(in.AccountAgeDays, 0)

	p := PillarScores{
		Version:   CurrentPillarVersion,
		Truth:     truth(in, age),
		Trust:     clamp(MaxTrust*float64(min(age, trustFullDays))/trustFullDays, 0, MaxTrust),
		Service:   clamp(float64(a.Uploads)*2+float64(a.Comments)*0.5, 0, MaxService),
		Healing:   clamp(float64(a.Views)*0.05+float64(a.Likes)*0.2, 0, MaxHealing),
		Community: clamp(float64(a.distinctKinds())*2+float64(a.Shares)*0.5, 0, MaxCommunity),
		Sequence:  clamp(in.Sequences.Bonus(), 0, MaxSequence),
	}
	p = p.rounded()

	raw := clamp(p.Sum(), 0, 100)

	rep := in.ReputationWeight
	if rep == 0 {
		rep = 1.0
	}
	rep = math.Max(rep, 0)
	cm := ConsistencyMultiplier(in.ConsistencyDays)
	score := int(math.Round(clamp(raw*rep*cm, 0, 100)))

	total := TotalFunReward(a)
	mintable := max(total-max(in.AlreadyMintedFun, 0), 0)

	res := Result{
		Pillars:               p,
		RawScore:              raw,
		ConsistencyMultiplier: cm,
		LightScore:            score,
		UnityScore:            unityScore(p),
		TotalFunReward:        total,
		MintableFun:           mintable,
		CanMint:               true,
	}
	switch {
	case score < MinMintScore:
		res.CanMint = false
		res.MintBlockReason = fmt.Sprintf("Light Score %d is below the required %d", score, MinMintScore)
	case in.HasPendingMint:
		res.CanMint = false
		res.MintBlockReason = "a mint request is already awaiting review"
	case mintable == 0:
		res.CanMint = false
		res.MintBlockReason = "nothing new to mint since the last request"
	}
	return res
}

// ConsistencyMultiplier steps up with the number of consecutive active days.
func ConsistencyMultiplier(days int) float64 {
	switch {
	case days >= 30:
		return 1.5
	case days >= 14:
		return 1.3
	case days >= 7:
		return 1.15
	case days >= 3:
		return 1.05
	default:
		return 1.0
	}
}

func TotalFunReward(a ActivityCounts) int64 {
	a = a.clamped()
	return a.Views*RateView +
		a.Likes*RateLike +
		a.Comments*RateComment +
		a.Shares*RateShare +
		a.Uploads*RateUpload
}

func truth(in Input, ageDays int) float64 {
	var t float64
	if in.IsVerified {
		t += 8
	}
	if in.Profile.HasAvatar {
		t += 2
	}
	if utf8.RuneCountInString(in.Profile.DisplayName) > 1 {
		t += 2
	}
	if in.Profile.HasBio {
		t += 2
	}
	if in.Profile.HasLinkedWallet {
		t += 2
	}
	t += math.Min(4, float64(ageDays)/30)
	return clamp(t, 0, MaxTruth)
}

// unityScore blends breadth of participation and completed chains into 0..100.
func unityScore(p PillarScores) int {
	u := p.Community/MaxCommunity*50 + p.Sequence/MaxSequence*50
	return int(math.Round(clamp(u, 0, 100)))
}

func (a ActivityCounts) clamped() ActivityCounts {
	return ActivityCounts{
		Views:    max(a.Views, 0),
		Likes:    max(a.Likes, 0),
		Comments: max(a.Comments, 0),
		Shares:   max(a.Shares, 0),
		Uploads:  max(a.Uploads, 0),
	}
}

func (a ActivityCounts) distinctKinds() int {
	n := 0
	for _, c := range []int64{a.Views, a.Likes, a.Comments, a.Shares, a.Uploads} {
		if c > 0 {
			n++
		}
	}
	return n
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Min(math.Max(v, lo), hi)
}

package lightscore

import (
	"math"
	"strings"
	"testing"
	"time"
)

func fullProfile() ProfileCompleteness {
	return ProfileCompleteness{HasAvatar: true, DisplayName: "Linh", HasBio: true, HasLinkedWallet: true}
}

func TestComputeZeroActivity(t *testing.T) {
	res := Compute(Input{})

	if res.Pillars.Sum() != 0 {
		t.Errorf("pillars: got %+v, want all zero", res.Pillars)
	}
	if res.LightScore != 0 || res.MintableFun != 0 {
		t.Errorf("score=%d mintable=%d, want 0/0", res.LightScore, res.MintableFun)
	}
	if res.CanMint {
		t.Fatal("zero activity must not be able to mint")
	}
	if res.MintBlockReason == "" {
		t.Error("expected a block reason")
	}
}

func TestComputeNoActivityOnEstablishedAccount(t *testing.T) {
	res := Compute(Input{
		AccountAgeDays:   200,
		IsVerified:       true,
		Profile:          fullProfile(),
		ReputationWeight: 2,
		ConsistencyDays:  30,
		Sequences:        Sequences{CreateEngageReply: true},
	})

	if want := (PillarScores{Version: CurrentPillarVersion}); res.Pillars != want {
		t.Errorf("pillars: got %+v, want all zero", res.Pillars)
	}
	if res.LightScore != 0 || res.RawScore != 0 || res.UnityScore != 0 {
		t.Errorf("score=%d raw=%v unity=%d, want zeros", res.LightScore, res.RawScore, res.UnityScore)
	}
	if res.CanMint || res.MintBlockReason != "no activity yet" {
		t.Errorf("canMint=%v reason=%q", res.CanMint, res.MintBlockReason)
	}
}

func TestComputeNothingNewToMint(t *testing.T) {
	res := Compute(Input{
		Activity:         ActivityCounts{Views: 400, Likes: 10, Comments: 10, Shares: 10, Uploads: 10},
		AccountAgeDays:   200,
		IsVerified:       true,
		Profile:          fullProfile(),
		AlreadyMintedFun: 10200,
	})
	if res.LightScore < MinMintScore {
		t.Fatalf("setup: score %d too low", res.LightScore)
	}
	if res.MintableFun != 0 {
		t.Fatalf("mintable fun: got %d, want 0", res.MintableFun)
	}
	if res.CanMint {
		t.Fatal("nothing left to mint must block")
	}
	if !strings.Contains(res.MintBlockReason, "nothing new to mint") {
		t.Errorf("reason: %q", res.MintBlockReason)
	}
}

func TestComputeMaxedPillars(t *testing.T) {
	in := Input{
		Activity:         ActivityCounts{Views: 400, Likes: 10, Comments: 10, Shares: 10, Uploads: 10},
		AccountAgeDays:   200,
		IsVerified:       true,
		Profile:          fullProfile(),
		Sequences:        Sequences{CreateEngageReply: true, EngageReplyShare: true, EarnDonate: true},
		AlreadyMintedFun: 3000,
	}
	res := Compute(in)

	want := PillarScores{Version: CurrentPillarVersion, Truth: 20, Trust: 15, Service: 20, Healing: 20, Community: 15, Sequence: 10}
	if res.Pillars != want {
		t.Errorf("pillars: got %+v, want %+v", res.Pillars, want)
	}
	if res.LightScore != 100 {
		t.Errorf("light score: got %d, want 100", res.LightScore)
	}
	if res.UnityScore != 100 {
		t.Errorf("unity score: got %d, want 100", res.UnityScore)
	}
	if res.TotalFunReward != 10200 {
		t.Errorf("total fun: got %d, want 10200", res.TotalFunReward)
	}
	if res.MintableFun != 7200 {
		t.Errorf("mintable fun: got %d, want 7200", res.MintableFun)
	}
	if !res.CanMint {
		t.Errorf("expected canMint, reason %q", res.MintBlockReason)
	}
}

func TestComputeMultipliersApplyAfterRawClamp(t *testing.T) {
	base := Input{
		Activity:       ActivityCounts{Views: 100, Uploads: 5},
		AccountAgeDays: 90,
	}
	// T=3, U=7.5, S=10, H=5, C=4 => raw 29.5
	res := Compute(base)
	if res.RawScore != 29.5 {
		t.Fatalf("raw score: got %v, want 29.5", res.RawScore)
	}
	if res.LightScore != 30 {
		t.Errorf("light score without multipliers: got %d, want 30", res.LightScore)
	}

	base.ConsistencyDays = 30
	if got := Compute(base).LightScore; got != 44 {
		t.Errorf("with 1.5x consistency: got %d, want 44", got)
	}

	base.ReputationWeight = 0.5
	if got := Compute(base).LightScore; got != 22 {
		t.Errorf("with 0.5 reputation: got %d, want 22", got)
	}
}

func TestComputeScoreNeverExceeds100(t *testing.T) {
	in := Input{
		Activity:         ActivityCounts{Views: 1e6, Likes: 1e6, Comments: 1e6, Shares: 1e6, Uploads: 1e6},
		AccountAgeDays:   1000,
		IsVerified:       true,
		Profile:          fullProfile(),
		ConsistencyDays:  90,
		ReputationWeight: 3,
	}
	if got := Compute(in).LightScore; got != 100 {
		t.Errorf("got %d, want clamp at 100", got)
	}
}

func TestComputeNegativeInputsClampToZero(t *testing.T) {
	res := Compute(Input{
		Activity:         ActivityCounts{Views: -50, Likes: -1, Uploads: 2},
		AccountAgeDays:   -10,
		AlreadyMintedFun: 5000,
		ReputationWeight: -1,
	})
	if res.TotalFunReward != 1000 {
		t.Errorf("total fun: got %d, want 1000", res.TotalFunReward)
	}
	if res.MintableFun != 0 {
		t.Errorf("mintable fun must clamp to 0, got %d", res.MintableFun)
	}
	if res.LightScore != 0 {
		t.Errorf("negative reputation must clamp score to 0, got %d", res.LightScore)
	}
	if res.Pillars.Trust != 0 || res.Pillars.Healing != 0 {
		t.Errorf("negative derived values leaked: %+v", res.Pillars)
	}
}

func TestComputePendingMintBlocks(t *testing.T) {
	in := Input{
		Activity:       ActivityCounts{Views: 400, Likes: 10, Comments: 10, Shares: 10, Uploads: 10},
		AccountAgeDays: 200,
		IsVerified:     true,
		Profile:        fullProfile(),
		HasPendingMint: true,
	}
	res := Compute(in)
	if res.LightScore < MinMintScore {
		t.Fatalf("setup: score %d too low", res.LightScore)
	}
	if res.CanMint {
		t.Fatal("pending mint request must block")
	}
	if !strings.Contains(res.MintBlockReason, "awaiting review") {
		t.Errorf("reason: %q", res.MintBlockReason)
	}
}

func TestComputeSingleRuneDisplayNameGetsNoCredit(t *testing.T) {
	withName := Compute(Input{Profile: ProfileCompleteness{DisplayName: "An"}})
	oneRune := Compute(Input{Profile: ProfileCompleteness{DisplayName: "A"}})
	if withName.Pillars.Truth != 2 || oneRune.Pillars.Truth != 0 {
		t.Errorf("truth: two-rune=%v one-rune=%v", withName.Pillars.Truth, oneRune.Pillars.Truth)
	}
}

func TestConsistencyMultiplierSteps(t *testing.T) {
	cases := map[int]float64{0: 1.0, 2: 1.0, 3: 1.05, 7: 1.15, 13: 1.15, 14: 1.3, 29: 1.3, 30: 1.5, 365: 1.5}
	for days, want := range cases {
		if got := ConsistencyMultiplier(days); math.Abs(got-want) > 1e-9 {
			t.Errorf("days=%d: got %v, want %v", days, got, want)
		}
	}
}

func TestComputeIsDeterministic(t *testing.T) {
	in := Input{Activity: ActivityCounts{Views: 33, Likes: 7, Comments: 3}, AccountAgeDays: 45, ConsistencyDays: 8}
	first := Compute(in)
	for i := 0; i < 10; i++ {
		if Compute(in) != first {
			t.Fatal("Compute returned different results for identical input")
		}
	}
}

func TestDetectSequences(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	at := func(m int) time.Time { return t0.Add(time.Duration(m) * time.Minute) }

	// Deliberately unsorted.
	events := []Event{
		{Kind: EventComment, At: at(3)},
		{Kind: EventUpload, At: at(1)},
		{Kind: EventLike, At: at(2)},
		{Kind: EventDonation, At: at(4)},
	}
	seq := DetectSequences(events)
	if !seq.CreateEngageReply {
		t.Error("upload -> like -> comment not detected")
	}
	if seq.EngageReplyShare {
		t.Error("no share happened")
	}
	if !seq.EarnDonate {
		t.Error("earn -> donation not detected")
	}
	if got := seq.Bonus(); got != 7 {
		t.Errorf("bonus: got %v, want 7", got)
	}

	if DetectSequences([]Event{{Kind: EventDonation, At: at(0)}, {Kind: EventView, At: at(1)}}).EarnDonate {
		t.Error("donation before any earning must not count")
	}
}

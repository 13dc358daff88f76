// Package abuse scores how likely an account is to be farming rewards. The
// score only advises approval gates; it never bans or approves on its own.
package abuse

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/camly/backend/internal/models"
)

// AutoApproveBelow is the exclusive score ceiling for automatic approval.
const AutoApproveBelow = 3

const (
	weightNamePattern     = 1
	weightNoAvatar        = 1
	weightShortName       = 1
	weightSharedSignupIP  = 2
	weightWalletsOnIP     = 3
	weightClaimAttempts   = 1
	weightSignupBurst     = 2
	weightNewAccountBurst = 2
)

const (
	maxAccountsPerIP      = 2
	minWalletsPerIP       = 3
	maxClaimAttemptsToday = 3
	maxSignupsPerIPHour   = 3
	maxFirstDayEvents     = 50
)

var suspiciousNames = []*regexp.Regexp{
	regexp.MustCompile(`^(user|test|temp|fake|bot|guest|airdrop|claim)[\W_]*\d*$`),
	regexp.MustCompile(`^[a-z]{1,3}\d{5,}$`),
	regexp.MustCompile(`\d{6,}`),
	regexp.MustCompile(`^[^\p{L}]+$`),
}

// Signals are the raw observations about one account. IP-based counts are
// only meaningful when an IP hash was known.
type Signals struct {
	Username           string
	DisplayName        string
	HasAvatar          bool
	AccountAge         time.Duration
	FirstDayEvents     int64
	AccountsOnIP       int64
	WalletsOnIP        int64
	RecentSignupsOnIP  int64
	ClaimAttemptsToday int64
}

type Assessment struct {
	Score          int
	Reasons        []string
	Recommendation models.Recommendation
}

// Evaluate adds up the independent signal weights.
func Evaluate(s Signals) Assessment {
	var a Assessment
	add := func(w int, reason string) {
		a.Score += w
		a.Reasons = append(a.Reasons, reason)
	}

	if suspiciousName(s.Username) || suspiciousName(s.DisplayName) {
		add(weightNamePattern, "username matches a throwaway-account pattern")
	}
	if !s.HasAvatar {
		add(weightNoAvatar, "no avatar")
	}
	if utf8.RuneCountInString(strings.TrimSpace(s.DisplayName)) <= 1 {
		add(weightShortName, "display name too short")
	}
	if s.AccountsOnIP > maxAccountsPerIP {
		add(weightSharedSignupIP, fmt.Sprintf("%d accounts share the signup IP", s.AccountsOnIP))
	}
	if s.WalletsOnIP >= minWalletsPerIP {
		add(weightWalletsOnIP, fmt.Sprintf("%d wallets linked from the same IP", s.WalletsOnIP))
	}
	if s.ClaimAttemptsToday > maxClaimAttemptsToday {
		add(weightClaimAttempts, fmt.Sprintf("%d claim attempts today", s.ClaimAttemptsToday))
	}
	if s.RecentSignupsOnIP > maxSignupsPerIPHour {
		add(weightSignupBurst, fmt.Sprintf("%d signups from the same IP in the last hour", s.RecentSignupsOnIP))
	}
	if s.AccountAge < 24*time.Hour && s.FirstDayEvents > maxFirstDayEvents {
		add(weightNewAccountBurst, fmt.Sprintf("%d reward events within the first day", s.FirstDayEvents))
	}

	a.Recommendation = recommend(a.Score)
	return a
}

func recommend(score int) models.Recommendation {
	if score < AutoApproveBelow {
		return models.RecommendAutoApprove
	}
	return models.RecommendManualReview
}

func suspiciousName(name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return false
	}
	for _, re := range suspiciousNames {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

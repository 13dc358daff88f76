package lightscore

import (
	"sort"
	"time"
)

type EventKind string

const (
	EventView     EventKind = "view"
	EventLike     EventKind = "like"
	EventComment  EventKind = "comment"
	EventShare    EventKind = "share"
	EventUpload   EventKind = "upload"
	EventEarn     EventKind = "earn"
	EventDonation EventKind = "donation"
)

type Event struct {
	Kind EventKind
	At   time.Time
}

// Sequences records which bonus chains a user has completed.
type Sequences struct {
	CreateEngageReply bool `json:"create_engage_reply"` // upload -> like -> comment
	EngageReplyShare  bool `json:"engage_reply_share"`  // like -> comment -> share
	EarnDonate        bool `json:"earn_donate"`         // earn -> donation
}

func (s Sequences) Bonus() float64 {
	var b float64
	if s.CreateEngageReply {
		b += 4
	}
	if s.EngageReplyShare {
		b += 3
	}
	if s.EarnDonate {
		b += 3
	}
	return b
}

var (
	chainCreateEngageReply = []EventKind{EventUpload, EventLike, EventComment}
	chainEngageReplyShare  = []EventKind{EventLike, EventComment, EventShare}
	chainEarnDonate        = []EventKind{EventEarn, EventDonation}
)

// DetectSequences reports which chains appear, in order but not necessarily
// adjacent, in events. Events are sorted by time first; the slice is not modified.
func DetectSequences(events []Event) Sequences {
	sorted := make([]Event, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].At.Before(sorted[j].At) })

	return Sequences{
		CreateEngageReply: hasChain(sorted, chainCreateEngageReply),
		EngageReplyShare:  hasChain(sorted, chainEngageReplyShare),
		EarnDonate:        hasChain(sorted, chainEarnDonate),
	}
}

func hasChain(events []Event, chain []EventKind) bool {
	next := 0
	for _, e := range events {
		if matches(e.Kind, chain[next]) {
			next++
			if next == len(chain) {
				return true
			}
		}
	}
	return false
}

// Any earning activity counts as "earn".
func matches(got, want EventKind) bool {
	if want == EventEarn {
		return got != EventDonation
	}
	return got == want
}

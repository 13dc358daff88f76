// Package events is the typed notification channel the ledger publishes to
// after each committed mutation.
package events

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	RewardRecorded      Type = "reward.recorded"
	RewardsApproved     Type = "reward.approved"
	EscrowReleased      Type = "escrow.released"
	ClaimPending        Type = "claim.pending"
	ClaimSettled        Type = "claim.settled"
	ClaimFailed         Type = "claim.failed"
	MintSubmitted       Type = "mint.submitted"
	MintReviewed        Type = "mint.reviewed"
	MintMinted          Type = "mint.minted"
	MintFailed          Type = "mint.failed"
	LedgerInconsistency Type = "ledger.inconsistency"
	LedgerReconciled    Type = "ledger.reconciled"
	HoldCleared         Type = "account.hold_cleared"
)

type Event struct {
	ID     uuid.UUID `json:"id"`
	Type   Type      `json:"type"`
	UserID uuid.UUID `json:"user_id"`
	At     time.Time `json:"at"`
	Data   any       `json:"data,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}

type subscription struct {
	userID uuid.UUID
	ch     chan Event
}

// Bus fans events out to in-process subscribers and forwards them to any
// external publishers. Slow subscribers lose events rather than block publishers.
type Bus struct {
	mu      sync.RWMutex
	subs    map[uint64]*subscription
	nextID  uint64
	forward []Publisher
	log     *slog.Logger
	dropped atomic.Int64
}

func NewBus(log *slog.Logger, forward ...Publisher) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{subs: make(map[uint64]*subscription), forward: forward, log: log}
}

var _ Publisher = (*Bus)(nil)

func (b *Bus) Publish(ctx context.Context, e Event) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	b.mu.RLock()
	for _, s := range b.subs {
		if s.userID != uuid.Nil && s.userID != e.UserID {
			continue
		}
		select {
		case s.ch <- e:
		default:
			b.dropped.Add(1)
			b.log.Warn("event dropped for slow subscriber", "type", e.Type, "user_id", s.userID)
		}
	}
	b.mu.RUnlock()

	for _, f := range b.forward {
		f.Publish(ctx, e)
	}
}

// Subscribe returns a channel of events for userID (uuid.Nil receives all
// events) and a cancel func that closes it. Cancel is safe to call twice.
func (b *Bus) Subscribe(userID uuid.UUID, buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	s := &subscription{userID: userID, ch: make(chan Event, buffer)}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(s.ch)
		})
	}
	return s.ch, cancel
}

func (b *Bus) Dropped() int64 { return b.dropped.Load() }

func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

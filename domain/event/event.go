package event

import (
	"listing-dm/domain"
	"time"
)

// DomainEvent is anything observable that touches one conversation.
type DomainEvent interface {
	CounterpartID() string
}

// MessageInserted fires after the reconciler added a message to the local
// collection. Replaced is true when the insert confirmed a provisional
// record instead of appending a new one.
type MessageInserted struct {
	Counterpart string
	Message     domain.Message
	Replaced    bool
}

func (e MessageInserted) CounterpartID() string { return e.Counterpart }

// MessageUpdated fires after a mutable field changed in place.
type MessageUpdated struct {
	Counterpart string
	Message     domain.Message
}

func (e MessageUpdated) CounterpartID() string { return e.Counterpart }

// ConversationRead fires when a batch of inbound messages was marked read.
type ConversationRead struct {
	Counterpart string
	MessageIDs  []string
}

func (e ConversationRead) CounterpartID() string { return e.Counterpart }

// TypingChanged mirrors the remote typing indicator for one conversation.
type TypingChanged struct {
	Counterpart string
	IsTyping    bool
	At          time.Time
}

func (e TypingChanged) CounterpartID() string { return e.Counterpart }

// FeedInterrupted and FeedRestored bracket a live feed outage. Events during
// the gap are not replayed, so FeedRestored drives a full re-sync.
type FeedInterrupted struct{}

func (e FeedInterrupted) CounterpartID() string { return "" }

type FeedRestored struct{}

func (e FeedRestored) CounterpartID() string { return "" }

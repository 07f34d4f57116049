package domain

import "time"

// TypingSignal crosses the presence channel between two peers.
type TypingSignal struct {
	UserID   string
	PeerID   string
	IsTyping bool
	At       time.Time
}

// TypingState is the ephemeral remote-typing view for one conversation.
// IsTyping auto-reverts once ExpiresAt passes, with no requirement for an
// explicit remote stop signal.
type TypingState struct {
	CounterpartID string
	IsTyping      bool
	ExpiresAt     time.Time
}

// Package domain contains core concepts of the messaging subsystem.
// This file defines the Message record and its local delivery lifecycle.
// Messages are created by a send operation and mutated only to flip IsRead.
package domain

import (
	"time"
)

// DeliveryState tracks the local lifecycle of an outbound message.
// Remote-confirmed records are always Sent.
type DeliveryState int

const (
	Sent DeliveryState = iota
	Pending
	Failed
)

func (s DeliveryState) String() string {
	switch s {
	case Pending:
		return "pending"
	case Failed:
		return "failed"
	default:
		return "sent"
	}
}

// Message is one direct message between the local user and a counterpart.
// Exactly one of SenderID/ReceiverID equals the local user id for any
// message visible to that user.
type Message struct {
	ID         string
	SenderID   string
	ReceiverID string
	Content    string
	CreatedAt  time.Time
	IsRead     bool

	// ContextID optionally ties the message to a listing, set at send time.
	ContextID string

	// Language is a best-effort ISO 639-3 hint computed at the decode
	// boundary. Empty when detection was inconclusive.
	Language string

	// Delivery and Provisional are local-only: a provisional record is the
	// optimistic insert awaiting its live-feed echo.
	Delivery    DeliveryState
	Provisional bool
}

// CounterpartOf returns the other party relative to localUserID.
func (m Message) CounterpartOf(localUserID string) string {
	if m.ReceiverID == localUserID {
		return m.SenderID
	}
	return m.ReceiverID
}

// InboundFor reports whether the message was received by localUserID.
func (m Message) InboundFor(localUserID string) bool {
	return m.ReceiverID == localUserID
}

// After orders messages by CreatedAt, ties broken by the greater ID so the
// ordering stays deterministic under sender clock skew.
func (m Message) After(other Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.After(other.CreatedAt)
	}
	return m.ID > other.ID
}

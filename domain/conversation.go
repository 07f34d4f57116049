package domain

import "time"

// Conversation is the derived per-counterpart summary shown in the inbox.
// It is recomputed from the Message set, never stored.
type Conversation struct {
	CounterpartID string
	DisplayName   string
	AvatarRef     string
	LastMessageID string
	LastPreview   string
	LastMessageAt time.Time
	UnreadCount   int
	ContextID     string
	ContextLabel  string
	LastFromLocal bool
	LastDelivery  DeliveryState
}

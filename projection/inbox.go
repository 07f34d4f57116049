package projection

import (
	"sort"
	"time"

	"listing-dm/domain"
)

// summary is the O(1)-updatable aggregate behind one inbox row.
type summary struct {
	last      domain.Message
	hasLast   bool
	unread    int
	contextID string
	contextAt time.Time
}

// Inbox folds the full bidirectional message set into one entry per
// distinct counterpart. A single message delta only touches its own entry,
// never the full set.
type Inbox struct {
	localUserID string
	entries     map[string]*summary
}

func NewInbox(localUserID string) *Inbox {
	return &Inbox{
		localUserID: localUserID,
		entries:     make(map[string]*summary),
	}
}

// Apply folds one message mutation into the counterpart's entry. before is
// the record the mutation displaced (nil for a fresh insert), after the
// record now held locally. Commutative over apply order for distinct
// messages, which keeps the fold order-invariant.
func (in *Inbox) Apply(counterpartID string, before *domain.Message, after domain.Message) {
	e, ok := in.entries[counterpartID]
	if !ok {
		e = &summary{}
		in.entries[counterpartID] = e
	}

	if before != nil && in.countsUnread(*before) {
		e.unread--
	}
	if in.countsUnread(after) {
		e.unread++
	}
	if e.unread < 0 {
		e.unread = 0
	}

	switch {
	case !e.hasLast:
		e.last, e.hasLast = after, true
	case before != nil && before.ID == e.last.ID:
		// The displaced record was the preview; refresh it even when the
		// replacement does not sort strictly after.
		e.last = after
	case after.After(e.last):
		e.last = after
	}

	if after.ContextID != "" && (e.contextID == "" || after.CreatedAt.After(e.contextAt)) {
		e.contextID = after.ContextID
		e.contextAt = after.CreatedAt
	}
}

// Rebuild recomputes one entry from scratch, used after a re-sync or a
// collaborator-side deletion. A counterpart left with zero messages drops
// from the inbox entirely.
func (in *Inbox) Rebuild(counterpartID string, msgs []domain.Message) {
	if len(msgs) == 0 {
		delete(in.entries, counterpartID)
		return
	}
	e := &summary{}
	in.entries[counterpartID] = e
	for _, m := range msgs {
		in.Apply(counterpartID, nil, m)
	}
}

// Unread returns the unread count of one entry, zero for unknown ones.
func (in *Inbox) Unread(counterpartID string) int {
	if e, ok := in.entries[counterpartID]; ok {
		return e.unread
	}
	return 0
}

// TotalUnread is always derived from the same flags the entries use,
// never maintained as an independent counter.
func (in *Inbox) TotalUnread() int {
	total := 0
	for _, e := range in.entries {
		total += e.unread
	}
	return total
}

// Snapshot returns the display-ordered conversation list: lastMessageAt
// descending, ties broken by counterpart id for determinism.
func (in *Inbox) Snapshot() []domain.Conversation {
	out := make([]domain.Conversation, 0, len(in.entries))
	for id, e := range in.entries {
		if !e.hasLast {
			continue
		}
		out = append(out, domain.Conversation{
			CounterpartID: id,
			LastMessageID: e.last.ID,
			LastPreview:   e.last.Content,
			LastMessageAt: e.last.CreatedAt,
			UnreadCount:   e.unread,
			ContextID:     e.contextID,
			LastFromLocal: e.last.SenderID == in.localUserID,
			LastDelivery:  e.last.Delivery,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastMessageAt.Equal(out[j].LastMessageAt) {
			return out[i].LastMessageAt.After(out[j].LastMessageAt)
		}
		return out[i].CounterpartID < out[j].CounterpartID
	})
	return out
}

func (in *Inbox) Len() int { return len(in.entries) }

// countsUnread: only unread messages received by the local user from this
// counterpart contribute, outbound messages never do.
func (in *Inbox) countsUnread(m domain.Message) bool {
	return m.InboundFor(in.localUserID) && !m.IsRead
}

// Package projection builds local read models from observed messages.
// Handles ordering, deduplication, and the per-counterpart inbox aggregate.
// Does not emit events or interact with UI directly.
package projection

import (
	"sort"
	"time"

	"listing-dm/domain"
)

// echoTolerance bounds the provisional tuple match used to absorb the
// live-feed echo of an optimistic send whose store id differs.
const echoTolerance = 5 * time.Second

// Thread is the ordered message list of one conversation, ascending by
// (CreatedAt, ID). Out-of-order arrivals are inserted at the correct
// position, never appended.
type Thread struct {
	Counterpart string
	messages    []domain.Message
	byID        map[string]int
}

func NewThread(counterpartID string) *Thread {
	return &Thread{
		Counterpart: counterpartID,
		byID:        make(map[string]int),
	}
}

// Insert applies an insert event exactly once. A record whose id is already
// present replaces the local copy in place; otherwise a provisional record
// matching on (sender, receiver, content) within echoTolerance is confirmed
// by the incoming one. The displaced record, if any, is returned so the
// inbox can apply an O(1) delta.
func (t *Thread) Insert(m domain.Message) (prior *domain.Message, replaced bool) {
	if idx, ok := t.byID[m.ID]; ok {
		old := t.messages[idx]
		t.remove(idx)
		t.insertSorted(m)
		return &old, true
	}

	if idx, ok := t.findProvisional(m); ok {
		old := t.messages[idx]
		t.remove(idx)
		t.insertSorted(m)
		return &old, true
	}

	t.insertSorted(m)
	return nil, false
}

// Update mutates a record in place. IsRead is monotonic: an update trying
// to revert true to false is ignored. Returns the prior record.
func (t *Thread) Update(m domain.Message) (prior *domain.Message, ok bool) {
	idx, found := t.byID[m.ID]
	if !found {
		return nil, false
	}
	old := t.messages[idx]
	next := old
	next.IsRead = old.IsRead || m.IsRead
	t.messages[idx] = next
	return &old, true
}

// SetRead flips IsRead locally for one id. Used by the read-state tracker
// for optimistic flips and their rollbacks; rollback is the only caller
// allowed to revert the flag.
func (t *Thread) SetRead(id string, read bool) (prior *domain.Message, ok bool) {
	idx, found := t.byID[id]
	if !found {
		return nil, false
	}
	old := t.messages[idx]
	next := old
	next.IsRead = read
	t.messages[idx] = next
	return &old, true
}

// SetDelivery updates the local delivery state of an outbound record.
func (t *Thread) SetDelivery(id string, s domain.DeliveryState) (prior *domain.Message, ok bool) {
	idx, found := t.byID[id]
	if !found {
		return nil, false
	}
	old := t.messages[idx]
	next := old
	next.Delivery = s
	t.messages[idx] = next
	return &old, true
}

// Replace swaps the whole thread content, used on a post-outage re-sync.
func (t *Thread) Replace(msgs []domain.Message) {
	t.messages = t.messages[:0]
	t.byID = make(map[string]int, len(msgs))
	for _, m := range msgs {
		t.insertSorted(m)
	}
}

func (t *Thread) Get(id string) (domain.Message, bool) {
	idx, ok := t.byID[id]
	if !ok {
		return domain.Message{}, false
	}
	return t.messages[idx], true
}

// Messages returns a defensive copy of the ordered thread.
func (t *Thread) Messages() []domain.Message {
	out := make([]domain.Message, len(t.messages))
	copy(out, t.messages)
	return out
}

func (t *Thread) Len() int { return len(t.messages) }

// UnreadInboundIDs lists every unread message received by localUserID,
// the batch handed to MarkRead when the conversation becomes visible.
func (t *Thread) UnreadInboundIDs(localUserID string) []string {
	var ids []string
	for _, m := range t.messages {
		if m.InboundFor(localUserID) && !m.IsRead {
			ids = append(ids, m.ID)
		}
	}
	return ids
}

// Remove drops a message by id, returning the removed record. Used when a
// send acknowledgement carries a different id than the provisional insert
// and the echo window already elapsed.
func (t *Thread) Remove(id string) (domain.Message, bool) {
	idx, ok := t.byID[id]
	if !ok {
		return domain.Message{}, false
	}
	removed := t.messages[idx]
	t.remove(idx)
	return removed, true
}

func (t *Thread) insertSorted(m domain.Message) {
	pos := sort.Search(len(t.messages), func(i int) bool {
		return t.messages[i].After(m)
	})
	t.messages = append(t.messages, domain.Message{})
	copy(t.messages[pos+1:], t.messages[pos:])
	t.messages[pos] = m
	t.reindexFrom(pos)
}

func (t *Thread) remove(idx int) {
	delete(t.byID, t.messages[idx].ID)
	t.messages = append(t.messages[:idx], t.messages[idx+1:]...)
	t.reindexFrom(idx)
}

func (t *Thread) reindexFrom(pos int) {
	for i := pos; i < len(t.messages); i++ {
		t.byID[t.messages[i].ID] = i
	}
}

// findProvisional scans for a locally provisional record matching the
// incoming one on the optimistic-send tuple. The scan walks backwards since
// the candidate is almost always at the tail.
func (t *Thread) findProvisional(m domain.Message) (int, bool) {
	for i := len(t.messages) - 1; i >= 0; i-- {
		c := t.messages[i]
		if !c.Provisional {
			continue
		}
		if c.SenderID != m.SenderID || c.ReceiverID != m.ReceiverID || c.Content != m.Content {
			continue
		}
		delta := m.CreatedAt.Sub(c.CreatedAt)
		if delta < 0 {
			delta = -delta
		}
		if delta <= echoTolerance {
			return i, true
		}
	}
	return -1, false
}

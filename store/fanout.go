package store

import (
	"sync"

	"github.com/google/uuid"

	"listing-dm/contract"
	"listing-dm/domain"
)

// Fanout is the in-process event hub behind the Badger store: it plays the
// role the backend's push channel plays in production. Inserts and updates
// reach both participants, presence reaches the addressed peer only.
type Fanout struct {
	mu       sync.RWMutex
	feeds    map[string]map[string]*feedSub
	presence map[string]map[string]*presenceSub
}

func NewFanout() *Fanout {
	return &Fanout{
		feeds:    make(map[string]map[string]*feedSub),
		presence: make(map[string]map[string]*presenceSub),
	}
}

type feedSub struct {
	onInsert func(domain.Message)
	onUpdate func(domain.Message)
	done     chan struct{}
	once     sync.Once
	detach   func()
}

func (s *feedSub) Cancel() {
	s.once.Do(func() {
		s.detach()
		close(s.done)
	})
}

func (s *feedSub) Done() <-chan struct{} { return s.done }

type presenceSub struct {
	onSignal func(domain.TypingSignal)
	done     chan struct{}
	once     sync.Once
	detach   func()
}

func (s *presenceSub) Cancel() {
	s.once.Do(func() {
		s.detach()
		close(s.done)
	})
}

func (s *presenceSub) Done() <-chan struct{} { return s.done }

// SubscribeFeed registers live feed callbacks scoped to one user.
func (f *Fanout) SubscribeFeed(userID string, onInsert, onUpdate func(domain.Message)) contract.Subscription {
	id := uuid.NewString()
	sub := &feedSub{
		onInsert: onInsert,
		onUpdate: onUpdate,
		done:     make(chan struct{}),
	}
	sub.detach = func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if subs, ok := f.feeds[userID]; ok {
			delete(subs, id)
			if len(subs) == 0 {
				delete(f.feeds, userID)
			}
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.feeds[userID]; !ok {
		f.feeds[userID] = make(map[string]*feedSub)
	}
	f.feeds[userID][id] = sub
	return sub
}

// SubscribePresence registers a typing signal callback scoped to one user.
func (f *Fanout) SubscribePresence(userID string, onSignal func(domain.TypingSignal)) contract.Subscription {
	id := uuid.NewString()
	sub := &presenceSub{
		onSignal: onSignal,
		done:     make(chan struct{}),
	}
	sub.detach = func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if subs, ok := f.presence[userID]; ok {
			delete(subs, id)
			if len(subs) == 0 {
				delete(f.presence, userID)
			}
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.presence[userID]; !ok {
		f.presence[userID] = make(map[string]*presenceSub)
	}
	f.presence[userID][id] = sub
	return sub
}

// PublishInsert delivers a stored message to both participants, the sender
// included: the echo is what confirms an optimistic send.
func (f *Fanout) PublishInsert(m domain.Message) {
	for _, sub := range f.feedSubsFor(m.SenderID, m.ReceiverID) {
		sub.onInsert(m)
	}
}

// PublishUpdate delivers an in-place mutation to both participants.
func (f *Fanout) PublishUpdate(m domain.Message) {
	for _, sub := range f.feedSubsFor(m.SenderID, m.ReceiverID) {
		sub.onUpdate(m)
	}
}

// PublishTyping delivers a presence signal to the addressed peer.
func (f *Fanout) PublishTyping(sig domain.TypingSignal) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, sub := range f.presence[sig.PeerID] {
		sub.onSignal(sig)
	}
}

func (f *Fanout) feedSubsFor(userIDs ...string) []*feedSub {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var out []*feedSub
	seen := make(map[string]struct{})
	for _, userID := range userIDs {
		if _, ok := seen[userID]; ok {
			continue
		}
		seen[userID] = struct{}{}
		for _, sub := range f.feeds[userID] {
			out = append(out, sub)
		}
	}
	return out
}

package runtime

import (
	"sync"

	"listing-dm/contract"
)

type Set map[string]struct{}

// Registry tracks which sinks observe which conversation, plus the sinks
// watching the inbox as a whole (conversation list, badge counter).
type Registry struct {
	mu            sync.RWMutex
	sessions      map[string]contract.EventSink // map subscriber -> Sink
	watchers      map[string]Set                // map counterpart -> subscribers
	inboxWatchers Set
}

func NewRegistry() *Registry {
	return &Registry{
		sessions:      make(map[string]contract.EventSink),
		watchers:      make(map[string]Set),
		inboxWatchers: make(Set),
	}
}

// GetSinksFor retrieves all active sinks observing one conversation.
// It performs a two-step lookup: subscriber ids via watchers, then the
// actual EventSinks via sessions. A subscriber watching several
// conversations still has its sink managed in a single place.
// Returns nil when nobody watches the counterpart.
func (r *Registry) GetSinksFor(counterpartID string) []contract.EventSink {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members, ok := r.watchers[counterpartID]
	if !ok {
		return nil
	}
	var activeSinks []contract.EventSink
	for subscriberID := range members {
		if sink, exists := r.sessions[subscriberID]; exists {
			activeSinks = append(activeSinks, sink)
		}
	}
	return activeSinks
}

// GetInboxSinks retrieves the sinks observing the aggregated inbox.
func (r *Registry) GetInboxSinks() []contract.EventSink {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var activeSinks []contract.EventSink
	for subscriberID := range r.inboxWatchers {
		if sink, exists := r.sessions[subscriberID]; exists {
			activeSinks = append(activeSinks, sink)
		}
	}
	return activeSinks
}

// Subscribe registers a subscriber's sink and points it at one counterpart.
// If the counterpart has no watcher set yet, it is initialized on the fly.
func (r *Registry) Subscribe(subscriberID, counterpartID string, sink contract.EventSink) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[subscriberID] = sink

	if _, ok := r.watchers[counterpartID]; !ok {
		r.watchers[counterpartID] = make(Set)
	}
	r.watchers[counterpartID][subscriberID] = struct{}{}
}

// SubscribeInbox registers a subscriber interested in the whole inbox.
func (r *Registry) SubscribeInbox(subscriberID string, sink contract.EventSink) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[subscriberID] = sink
	r.inboxWatchers[subscriberID] = struct{}{}
}

// Unsubscribe removes a subscriber entirely. It cleans up the session and
// leaves no empty watcher sets behind to prevent leaks over time.
func (r *Registry) Unsubscribe(subscriberID, counterpartID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, subscriberID)
	delete(r.inboxWatchers, subscriberID)

	if members, ok := r.watchers[counterpartID]; ok {
		delete(members, subscriberID)

		// If no one watches the counterpart anymore, drop the set entirely
		if len(members) == 0 {
			delete(r.watchers, counterpartID)
		}
	}
}

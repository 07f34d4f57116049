package runtime

import (
	"context"
	"errors"
	"log/slog"

	"github.com/cenkalti/backoff/v4"

	"listing-dm/contract"
	"listing-dm/domain"
	"listing-dm/domain/event"
	dmerrors "listing-dm/errors"
	"listing-dm/observability"
	"listing-dm/projection"
)

// Reconciler applies asynchronous insert/update events to the locally held
// message collection exactly once each, then propagates the delta to the
// inbox aggregate and to the sinks watching the touched conversation, in
// that order. The aggregate must never lag behind what an open thread shows.
type Reconciler struct {
	log         *slog.Logger
	localUserID string
	store       contract.IMessageStore
	loop        *Loop
	registry    *Registry
	inbox       *projection.Inbox
	threads     map[string]*projection.Thread
	permanent   []contract.EventSink
}

func NewReconciler(log *slog.Logger, localUserID string, store contract.IMessageStore,
	loop *Loop, registry *Registry) *Reconciler {
	return &Reconciler{
		log:         log,
		localUserID: localUserID,
		store:       store,
		loop:        loop,
		registry:    registry,
		inbox:       projection.NewInbox(localUserID),
		threads:     make(map[string]*projection.Thread),
	}
}

// AddSinks registers permanent observers (search index, telemetry) that
// receive every event after the per-conversation watchers.
func (r *Reconciler) AddSinks(sinks ...contract.EventSink) {
	r.permanent = append(r.permanent, sinks...)
}

// OnInsert and OnUpdate are the live feed callbacks. They hop onto the
// loop; the feed goroutine never touches shared state directly.
func (r *Reconciler) OnInsert(m domain.Message) {
	r.loop.Dispatch(func() { r.applyInsert(m) })
}

func (r *Reconciler) OnUpdate(m domain.Message) {
	r.loop.Dispatch(func() { r.applyUpdate(m) })
}

// OnFeedInterrupted marks the start of a live feed outage.
func (r *Reconciler) OnFeedInterrupted() {
	observability.FeedInterruptions.Inc()
	r.loop.Dispatch(func() {
		r.notify(event.FeedInterrupted{})
	})
}

// OnFeedRestored triggers the conservative catch-up: events during the
// outage are not replayed, so every known conversation is re-fetched and
// re-aggregated.
func (r *Reconciler) OnFeedRestored(ctx context.Context) {
	r.loop.Dispatch(func() {
		r.notify(event.FeedRestored{})
	})
	for _, counterpartID := range r.Counterparts() {
		if err := r.Resync(ctx, counterpartID); err != nil {
			r.log.Error("Post-outage resync failed", "counterpart", counterpartID, "err", err)
		}
	}
}

// Resync replaces one thread with a fresh history fetch, retrying transient
// store failures with exponential backoff. Blocking; never call it from a
// loop task.
func (r *Reconciler) Resync(ctx context.Context, counterpartID string) error {
	var history []domain.Message
	operation := func() error {
		h, err := r.store.FetchHistory(ctx, counterpartID)
		if err != nil {
			if IsRetriable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		history = h
		return nil
	}
	if err := backoff.Retry(operation, backoff.WithContext(backoff.NewExponentialBackOff(), ctx)); err != nil {
		return err
	}

	observability.Resyncs.Inc()
	r.loop.Call(func() {
		th := r.thread(counterpartID)
		th.Replace(history)
		r.inbox.Rebuild(counterpartID, th.Messages())
		observability.TotalUnread.Set(float64(r.inbox.TotalUnread()))
		if last, ok := lastOf(th); ok {
			r.notify(event.MessageInserted{Counterpart: counterpartID, Message: last, Replaced: true})
		}
	})
	return nil
}

// IsRetriable reports whether an operation should be retried with backoff
// rather than surfaced immediately.
func IsRetriable(err error) bool {
	return errors.Is(err, dmerrors.ErrStoreUnavailable)
}

// SetRead flips IsRead locally, returning false for unknown messages.
// Runs on the loop; only the read-state tracker calls it.
func (r *Reconciler) SetRead(counterpartID, messageID string, read bool) bool {
	th, ok := r.threads[counterpartID]
	if !ok {
		return false
	}
	prior, ok := th.SetRead(messageID, read)
	if !ok {
		return false
	}
	after, _ := th.Get(messageID)
	r.inbox.Apply(counterpartID, prior, after)
	observability.TotalUnread.Set(float64(r.inbox.TotalUnread()))
	r.notify(event.MessageUpdated{Counterpart: counterpartID, Message: after})
	return true
}

// SetDelivery updates the local delivery state of an outbound record.
// Runs on the loop.
func (r *Reconciler) SetDelivery(counterpartID, messageID string, s domain.DeliveryState) bool {
	th, ok := r.threads[counterpartID]
	if !ok {
		return false
	}
	prior, ok := th.SetDelivery(messageID, s)
	if !ok {
		return false
	}
	after, _ := th.Get(messageID)
	r.inbox.Apply(counterpartID, prior, after)
	r.notify(event.MessageUpdated{Counterpart: counterpartID, Message: after})
	return true
}

// ConfirmSend applies the store's acknowledgement of an optimistic send.
// Usually the ack tuple-matches the provisional record and replaces it in
// place; when the retry window outlasted the echo tolerance the provisional
// record survives as a duplicate, so it is dropped explicitly.
func (r *Reconciler) ConfirmSend(counterpartID, provisionalID string, ack domain.Message) {
	r.loop.Dispatch(func() {
		r.applyInsert(ack)
		if provisionalID == ack.ID {
			return
		}
		th, ok := r.threads[counterpartID]
		if !ok {
			return
		}
		if prior, found := th.Get(provisionalID); found && prior.Provisional {
			th.Remove(provisionalID)
			r.inbox.Rebuild(counterpartID, th.Messages())
			observability.TotalUnread.Set(float64(r.inbox.TotalUnread()))
			r.notify(event.MessageUpdated{Counterpart: counterpartID, Message: ack})
		}
	})
}

// Announce publishes an event that did not originate from the live feed,
// such as a typing change or a batched read confirmation.
func (r *Reconciler) Announce(e event.DomainEvent) {
	r.loop.Dispatch(func() { r.notify(e) })
}

// Snapshot accessors, synchronized through the loop.

func (r *Reconciler) Conversations() []domain.Conversation {
	var out []domain.Conversation
	r.loop.Call(func() { out = r.inbox.Snapshot() })
	return out
}

func (r *Reconciler) TotalUnread() int {
	var n int
	r.loop.Call(func() { n = r.inbox.TotalUnread() })
	return n
}

func (r *Reconciler) ThreadMessages(counterpartID string) []domain.Message {
	var out []domain.Message
	r.loop.Call(func() {
		if th, ok := r.threads[counterpartID]; ok {
			out = th.Messages()
		}
	})
	return out
}

func (r *Reconciler) UnreadInboundIDs(counterpartID string) []string {
	var out []string
	r.loop.Call(func() {
		if th, ok := r.threads[counterpartID]; ok {
			out = th.UnreadInboundIDs(r.localUserID)
		}
	})
	return out
}

func (r *Reconciler) Counterparts() []string {
	var out []string
	r.loop.Call(func() {
		for id := range r.threads {
			out = append(out, id)
		}
	})
	return out
}

// applyInsert runs on the loop.
func (r *Reconciler) applyInsert(m domain.Message) {
	counterpartID := m.CounterpartOf(r.localUserID)
	if counterpartID == "" || counterpartID == r.localUserID {
		r.log.Warn("Dropping self-addressed or anonymous message", "id", m.ID)
		return
	}

	th := r.thread(counterpartID)
	prior, replaced := th.Insert(m)
	current, _ := th.Get(m.ID)
	r.inbox.Apply(counterpartID, prior, current)

	observability.FeedInserts.Inc()
	if replaced {
		observability.DuplicatesSuppressed.Inc()
	}
	observability.TotalUnread.Set(float64(r.inbox.TotalUnread()))

	r.notify(event.MessageInserted{Counterpart: counterpartID, Message: current, Replaced: replaced})
}

// applyUpdate runs on the loop. Updates for messages never held locally are
// dropped; the next history fetch will carry their final state anyway.
func (r *Reconciler) applyUpdate(m domain.Message) {
	counterpartID := m.CounterpartOf(r.localUserID)
	th, ok := r.threads[counterpartID]
	if !ok {
		r.log.Debug("Update for unknown conversation ignored", "counterpart", counterpartID)
		return
	}
	prior, ok := th.Update(m)
	if !ok {
		r.log.Debug("Update for unknown message ignored", "id", m.ID)
		return
	}
	after, _ := th.Get(m.ID)
	r.inbox.Apply(counterpartID, prior, after)

	observability.FeedUpdates.Inc()
	observability.TotalUnread.Set(float64(r.inbox.TotalUnread()))

	r.notify(event.MessageUpdated{Counterpart: counterpartID, Message: after})
}

func (r *Reconciler) thread(counterpartID string) *projection.Thread {
	th, ok := r.threads[counterpartID]
	if !ok {
		th = projection.NewThread(counterpartID)
		r.threads[counterpartID] = th
	}
	return th
}

// notify fans an event out: inbox watchers first, then the touched
// conversation's watchers, then permanent sinks. Sink errors are logged,
// never propagated back into the feed.
func (r *Reconciler) notify(e event.DomainEvent) {
	ctx := context.Background()
	for _, sink := range r.registry.GetInboxSinks() {
		if err := sink.Consume(ctx, e); err != nil {
			r.log.Error("Inbox sink rejected event", "err", err)
		}
	}
	if counterpartID := e.CounterpartID(); counterpartID != "" {
		for _, sink := range r.registry.GetSinksFor(counterpartID) {
			if err := sink.Consume(ctx, e); err != nil {
				r.log.Error("Conversation sink rejected event", "err", err)
			}
		}
	}
	for _, sink := range r.permanent {
		if err := sink.Consume(ctx, e); err != nil {
			r.log.Error("Permanent sink rejected event", "err", err)
		}
	}
}

func lastOf(th *projection.Thread) (domain.Message, bool) {
	msgs := th.Messages()
	if len(msgs) == 0 {
		return domain.Message{}, false
	}
	return msgs[len(msgs)-1], true
}

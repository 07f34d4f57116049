// Package readstate marks inbound messages read when their conversation
// becomes visible, tolerating partial store failures without blocking UI.
package readstate

import (
	"context"
	"log/slog"

	"github.com/cenkalti/backoff/v4"

	"listing-dm/contract"
	dmerrors "listing-dm/errors"
	"listing-dm/observability"
	"listing-dm/runtime"
)

// Tracker owns the mark-read flow. Flags are flipped optimistically on the
// loop before the store call resolves; only the flags whose underlying
// markRead failed are rolled back. Unread counters elsewhere always derive
// from these same flags, never from a separate counter.
type Tracker struct {
	log         *slog.Logger
	localUserID string
	store       contract.IMessageStore
	loop        *runtime.Loop
	reconciler  *runtime.Reconciler
}

func NewTracker(log *slog.Logger, localUserID string, store contract.IMessageStore,
	loop *runtime.Loop, reconciler *runtime.Reconciler) *Tracker {
	return &Tracker{
		log:         log,
		localUserID: localUserID,
		store:       store,
		loop:        loop,
		reconciler:  reconciler,
	}
}

// MarkConversationRead selects every unread inbound message of the
// conversation, flips the local flags, and flushes the batch to the store
// in the background. Returns the ids being marked.
func (t *Tracker) MarkConversationRead(ctx context.Context, counterpartID string) []string {
	ids := t.reconciler.UnreadInboundIDs(counterpartID)
	if len(ids) == 0 {
		return nil
	}

	t.setRead(counterpartID, ids, true)

	go func() {
		failed := t.Flush(ctx, counterpartID, ids)
		if len(failed) > 0 {
			t.retryFailed(ctx, counterpartID, failed)
		}
	}()
	return ids
}

// Flush issues one batched MarkRead and rolls back the local flags that
// did not make it. Returns the ids still unconfirmed. Re-marking an
// already-read message on the store side is a no-op, so over-flushing
// after a race is harmless.
func (t *Tracker) Flush(ctx context.Context, counterpartID string, ids []string) []string {
	failed, err := t.store.MarkRead(ctx, ids)
	if err != nil {
		// Batch-level failure: nothing was confirmed.
		t.log.Warn("MarkRead batch failed", "counterpart", counterpartID, "count", len(ids), "err", err)
		t.setRead(counterpartID, ids, false)
		return ids
	}
	if len(failed) > 0 {
		t.log.Warn("MarkRead partially failed", "counterpart", counterpartID, "failed", len(failed))
		t.setRead(counterpartID, failed, false)
	}
	return failed
}

// retryFailed re-attempts the unconfirmed ids opportunistically. A success
// re-flips the flags; exhaustion just logs, the next conversation open
// picks the leftovers up again.
func (t *Tracker) retryFailed(ctx context.Context, counterpartID string, ids []string) {
	operation := func() error {
		observability.MarkReadRetries.Inc()
		failed, err := t.store.MarkRead(ctx, ids)
		if err != nil {
			return err
		}
		confirmed := diff(ids, failed)
		t.setRead(counterpartID, confirmed, true)
		ids = failed
		if len(failed) > 0 {
			return dmerrors.ErrReadPending
		}
		return nil
	}
	if err := backoff.Retry(operation, backoff.WithContext(backoff.NewExponentialBackOff(), ctx)); err != nil {
		t.log.Warn("Giving up on mark-read retries", "counterpart", counterpartID, "pending", len(ids), "err", err)
	}
}

func (t *Tracker) setRead(counterpartID string, ids []string, read bool) {
	t.loop.Call(func() {
		for _, id := range ids {
			t.reconciler.SetRead(counterpartID, id, read)
		}
	})
}

func diff(all, excluded []string) []string {
	if len(excluded) == 0 {
		return all
	}
	skip := make(map[string]struct{}, len(excluded))
	for _, id := range excluded {
		skip[id] = struct{}{}
	}
	var out []string
	for _, id := range all {
		if _, ok := skip[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

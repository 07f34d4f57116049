package workers

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"listing-dm/contract"
	"listing-dm/domain"
	"listing-dm/runtime"
)

// FeedPump owns the long-lived live feed and presence subscriptions. It
// bridges their callbacks onto the reconciler, resubscribes with backoff
// after a drop, and guarantees that no exit path can leak a subscription.
type FeedPump struct {
	log        *slog.Logger
	store      contract.IMessageStore
	presence   contract.ITypingChannel
	reconciler *runtime.Reconciler
	onTyping   func(domain.TypingSignal)
}

func NewFeedPump(log *slog.Logger, store contract.IMessageStore, presence contract.ITypingChannel,
	reconciler *runtime.Reconciler, onTyping func(domain.TypingSignal)) *FeedPump {
	return &FeedPump{
		log:        log,
		store:      store,
		presence:   presence,
		reconciler: reconciler,
		onTyping:   onTyping,
	}
}

// Run keeps a feed session alive until the context dies. The first session
// starts cold; every later one follows an outage, so it triggers the
// conservative re-sync before events flow again.
func (w *FeedPump) Run(ctx context.Context) error {
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 0 // reconnect forever, the feed is the app's spine
	first := true

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := w.session(ctx, !first)
		first = false
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			w.log.Warn("Feed session ended", "err", err)
		} else {
			// The drop came after a healthy subscribe; start the next
			// reconnect ladder from the bottom again.
			policy.Reset()
		}

		w.reconciler.OnFeedInterrupted()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(policy.NextBackOff()):
		}
	}
}

// session acquires both subscriptions and blocks until one of them drops
// or the context is cancelled. Cancellation of the handles is deferred so
// no exit path, including panics recovered by the supervisor, leaks one.
func (w *FeedPump) session(ctx context.Context, afterOutage bool) error {
	feedSub, err := w.store.SubscribeLiveFeed(w.reconciler.OnInsert, w.reconciler.OnUpdate)
	if err != nil {
		return err
	}
	defer feedSub.Cancel()

	presenceSub, err := w.presence.Subscribe(w.onTyping)
	if err != nil {
		return err
	}
	defer presenceSub.Cancel()

	if afterOutage {
		w.reconciler.OnFeedRestored(ctx)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-feedSub.Done():
		return nil
	case <-presenceSub.Done():
		return nil
	}
}

package workers

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"listing-dm/contract"
	"listing-dm/domain"
	"listing-dm/domain/event"
	"listing-dm/mocks"
	"listing-dm/runtime"
)

func startLoop(t *testing.T) *runtime.Loop {
	t.Helper()
	loop := runtime.NewLoop(logs.GetLoggerFromLevel(slog.LevelDebug))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = loop.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return loop
}

// recordingSink collects events for assertion off the loop goroutine.
type recordingSink struct {
	mu     sync.Mutex
	events []event.DomainEvent
}

func (s *recordingSink) Consume(_ context.Context, e event.DomainEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *recordingSink) snapshot() []event.DomainEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]event.DomainEvent(nil), s.events...)
}

func TestFeedPump_CancelsFeedHandleWhenPresenceSubscribeFails(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	loop := startLoop(t)

	store := mocks.NewMockIMessageStore(ctrl)
	presence := mocks.NewMockITypingChannel(ctrl)
	rec := runtime.NewReconciler(log, "me", store, loop, runtime.NewRegistry())

	var cancels atomic.Int32
	feedSub := mocks.NewMockSubscription(ctrl)
	feedSub.EXPECT().Cancel().Do(func() { cancels.Add(1) }).AnyTimes()

	store.EXPECT().SubscribeLiveFeed(gomock.Any(), gomock.Any()).Return(feedSub, nil).AnyTimes()
	presence.EXPECT().Subscribe(gomock.Any()).Return(nil, errors.New("presence channel unavailable")).AnyTimes()

	pump := NewFeedPump(log, store, presence, rec, func(domain.TypingSignal) {})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = pump.Run(ctx)
	}()

	// The feed handle was acquired first; when the presence subscribe fails
	// the session must give it back instead of leaking it.
	req.Eventually(func() bool { return cancels.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestFeedPump_DropTriggersInterruptedThenRestoredResync(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	loop := startLoop(t)

	store := mocks.NewMockIMessageStore(ctrl)
	presence := mocks.NewMockITypingChannel(ctrl)
	registry := runtime.NewRegistry()
	rec := runtime.NewReconciler(log, "me", store, loop, registry)

	sink := &recordingSink{}
	registry.SubscribeInbox("inbox-watch", sink)

	// A known conversation, so the post-outage catch-up has something to
	// re-fetch.
	seeded := msgFrom("alice", "me", "still for sale?")
	rec.OnInsert(seeded)
	loop.Call(func() {})

	drop := make(chan struct{})
	firstFeed := mocks.NewMockSubscription(ctrl)
	firstFeed.EXPECT().Done().Return((<-chan struct{})(drop)).AnyTimes()
	firstFeed.EXPECT().Cancel().AnyTimes()

	steady := make(chan struct{})
	steadyFeed := mocks.NewMockSubscription(ctrl)
	steadyFeed.EXPECT().Done().Return((<-chan struct{})(steady)).AnyTimes()
	steadyFeed.EXPECT().Cancel().AnyTimes()

	subscribed := make(chan struct{})
	store.EXPECT().SubscribeLiveFeed(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_, _ func(domain.Message)) (contract.Subscription, error) {
			close(subscribed)
			return firstFeed, nil
		})
	store.EXPECT().SubscribeLiveFeed(gomock.Any(), gomock.Any()).Return(steadyFeed, nil).AnyTimes()

	idle := make(chan struct{})
	presenceSub := mocks.NewMockSubscription(ctrl)
	presenceSub.EXPECT().Done().Return((<-chan struct{})(idle)).AnyTimes()
	presenceSub.EXPECT().Cancel().AnyTimes()
	presence.EXPECT().Subscribe(gomock.Any()).Return(presenceSub, nil).AnyTimes()

	resynced := make(chan string, 4)
	store.EXPECT().FetchHistory(gomock.Any(), "alice").
		DoAndReturn(func(context.Context, string) ([]domain.Message, error) {
			resynced <- "alice"
			return []domain.Message{seeded}, nil
		}).AnyTimes()

	pump := NewFeedPump(log, store, presence, rec, func(domain.TypingSignal) {})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = pump.Run(ctx)
	}()

	<-subscribed
	close(drop)

	select {
	case id := <-resynced:
		req.Equal("alice", id)
	case <-time.After(3 * time.Second):
		req.Fail("post-outage history fetch never happened")
	}

	// Flush the loop so every notification dispatched so far has landed.
	loop.Call(func() {})

	interrupted, restored := -1, -1
	for i, e := range sink.snapshot() {
		switch e.(type) {
		case event.FeedInterrupted:
			if interrupted == -1 {
				interrupted = i
			}
		case event.FeedRestored:
			if restored == -1 {
				restored = i
			}
		}
	}
	req.NotEqual(-1, interrupted, "no outage notification seen")
	req.NotEqual(-1, restored, "no recovery notification seen")
	req.Less(interrupted, restored)

	cancel()
	<-done
}

func msgFrom(sender, receiver, content string) domain.Message {
	return domain.Message{
		ID:         uuid.New().String(),
		SenderID:   sender,
		ReceiverID: receiver,
		Content:    content,
		CreatedAt:  time.Now().UTC(),
	}
}

package services

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"listing-dm/domain"
	dmerrors "listing-dm/errors"
	"listing-dm/mocks"
	"listing-dm/runtime"
)

const localUser = "me"

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

type fixture struct {
	svc      *MessengerService
	store    *mocks.MockIMessageStore
	presence *mocks.MockITypingChannel
	profiles *mocks.MockIProfileDirectory
	listings *mocks.MockIListingDirectory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	store := mocks.NewMockIMessageStore(ctrl)
	presence := mocks.NewMockITypingChannel(ctrl)
	profiles := mocks.NewMockIProfileDirectory(ctrl)
	listings := mocks.NewMockIListingDirectory(ctrl)

	// Presence broadcasts happen on open/close churn; irrelevant here.
	presence.EXPECT().Broadcast(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

	svc, err := NewMessengerService(logs.GetLoggerFromLevel(slog.LevelDebug), localUser,
		store, presence, profiles, listings, startLoop(t), nil)
	require.NoError(t, err)

	return &fixture{svc: svc, store: store, presence: presence, profiles: profiles, listings: listings}
}

func inbound(id, from, content string, at time.Time, read bool) domain.Message {
	return domain.Message{
		ID: id, SenderID: from, ReceiverID: localUser,
		Content: content, CreatedAt: at, IsRead: read,
	}
}

func TestNewMessengerService_RequiresIdentity(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)

	_, err := NewMessengerService(slog.Default(), "",
		mocks.NewMockIMessageStore(ctrl), mocks.NewMockITypingChannel(ctrl),
		mocks.NewMockIProfileDirectory(ctrl), mocks.NewMockIListingDirectory(ctrl),
		startLoop(t), nil)
	req.ErrorIs(err, dmerrors.ErrNoIdentity)
}

func TestOpenConversation_LoadsHistoryAndMarksRead(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	now := time.Now().UTC()

	f.store.EXPECT().
		FetchHistory(gomock.Any(), "alice").
		Return([]domain.Message{
			inbound("m1", "alice", "Bonjour", now, false),
			inbound("m2", "alice", "Toujours dispo ?", now.Add(time.Minute), false),
		}, nil)

	marked := make(chan []string, 1)
	f.store.EXPECT().
		MarkRead(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, ids []string) ([]string, error) {
			marked <- ids
			return nil, nil
		})

	h, err := f.svc.OpenConversation(context.Background(), "alice")
	req.NoError(err)
	defer h.Close()

	req.Len(h.Messages(), 2)

	select {
	case ids := <-marked:
		req.ElementsMatch([]string{"m1", "m2"}, ids)
	case <-time.After(time.Second):
		req.Fail("MarkRead was never flushed")
	}
	req.Zero(f.svc.TotalUnread())
}

func TestOpenConversation_IsIdempotent(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	f.store.EXPECT().FetchHistory(gomock.Any(), "alice").Return(nil, nil).Times(1)

	h1, err := f.svc.OpenConversation(context.Background(), "alice")
	req.NoError(err)
	defer h1.Close()

	h2, err := f.svc.OpenConversation(context.Background(), "alice")
	req.NoError(err)
	req.Same(h1, h2)
}

func TestOpenConversation_RejectsSelf(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.OpenConversation(context.Background(), localUser)
	require.Error(t, err)
}

func TestSend_OptimisticInsertThenAck(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	f.store.EXPECT().FetchHistory(gomock.Any(), "alice").Return(nil, nil)

	release := make(chan struct{})
	f.store.EXPECT().
		Send(gomock.Any(), "alice", "On visite demain ?", "").
		DoAndReturn(func(_ context.Context, receiverID, content, contextID string) (domain.Message, error) {
			<-release
			return domain.Message{
				ID: "store-1", SenderID: localUser, ReceiverID: receiverID,
				Content: content, CreatedAt: time.Now().UTC(),
			}, nil
		})

	h, err := f.svc.OpenConversation(context.Background(), "alice")
	req.NoError(err)
	defer h.Close()

	provisionalID, err := h.Send(context.Background(), "On visite demain ?")
	req.NoError(err)
	req.NotEmpty(provisionalID)

	// The provisional record is visible immediately.
	msgs := h.Messages()
	req.Len(msgs, 1)
	req.Equal(domain.Pending, msgs[0].Delivery)

	close(release)

	// The ack replaces the provisional record, never duplicates it.
	req.Eventually(func() bool {
		msgs := h.Messages()
		return len(msgs) == 1 && msgs[0].ID == "store-1" && msgs[0].Delivery == domain.Sent
	}, time.Second, 10*time.Millisecond)
}

func TestSend_RejectedThenRetry(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	f.store.EXPECT().FetchHistory(gomock.Any(), "alice").Return(nil, nil)

	f.store.EXPECT().
		Send(gomock.Any(), "alice", "offre", "").
		Return(domain.Message{}, dmerrors.ErrSendRejected)

	h, err := f.svc.OpenConversation(context.Background(), "alice")
	req.NoError(err)
	defer h.Close()

	provisionalID, err := h.Send(context.Background(), "offre")
	req.NoError(err)

	req.Eventually(func() bool {
		msgs := h.Messages()
		return len(msgs) == 1 && msgs[0].Delivery == domain.Failed
	}, time.Second, 10*time.Millisecond)

	// Retry succeeds.
	f.store.EXPECT().
		Send(gomock.Any(), "alice", "offre", "").
		Return(domain.Message{
			ID: "store-2", SenderID: localUser, ReceiverID: "alice",
			Content: "offre", CreatedAt: time.Now().UTC(),
		}, nil)

	req.NoError(h.RetrySend(context.Background(), provisionalID))

	req.Eventually(func() bool {
		msgs := h.Messages()
		return len(msgs) == 1 && msgs[0].ID == "store-2" && msgs[0].Delivery == domain.Sent
	}, time.Second, 10*time.Millisecond)
}

func TestSend_RejectsEmptyContent(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	f.store.EXPECT().FetchHistory(gomock.Any(), "alice").Return(nil, nil)

	h, err := f.svc.OpenConversation(context.Background(), "alice")
	req.NoError(err)
	defer h.Close()

	_, err = h.Send(context.Background(), "")
	req.Error(err)
	req.Empty(h.Messages())
}

func TestRetrySend_UnknownMessage(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	f.store.EXPECT().FetchHistory(gomock.Any(), "alice").Return(nil, nil)

	h, err := f.svc.OpenConversation(context.Background(), "alice")
	req.NoError(err)
	defer h.Close()

	req.ErrorIs(h.RetrySend(context.Background(), "nope"), dmerrors.ErrUnknownMessage)
}

func TestOnTypingSignal_RoutesToOpenConversation(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	f.store.EXPECT().FetchHistory(gomock.Any(), "alice").Return(nil, nil)

	h, err := f.svc.OpenConversation(context.Background(), "alice")
	req.NoError(err)
	defer h.Close()

	f.svc.OnTypingSignal(domain.TypingSignal{
		UserID: "alice", PeerID: localUser, IsTyping: true, At: time.Now().UTC(),
	})

	req.Eventually(h.IsRemoteTyping, time.Second, 10*time.Millisecond)

	// Signals addressed to someone else never leak in.
	f.svc.OnTypingSignal(domain.TypingSignal{
		UserID: "bob", PeerID: "carol", IsTyping: true, At: time.Now().UTC(),
	})
	req.Nil(f.svc.handles["bob"])
}

func TestClosedHandle_RefusesOperations(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	f.store.EXPECT().FetchHistory(gomock.Any(), "alice").Return(nil, nil)

	h, err := f.svc.OpenConversation(context.Background(), "alice")
	req.NoError(err)
	h.Close()

	_, err = h.Send(context.Background(), "trop tard")
	req.ErrorIs(err, dmerrors.ErrHandleClosed)
	req.ErrorIs(h.RetrySend(context.Background(), "x"), dmerrors.ErrHandleClosed)

	// Close released the slot, a re-open builds a fresh handle.
	f.store.EXPECT().FetchHistory(gomock.Any(), "alice").Return(nil, nil)
	h2, err := f.svc.OpenConversation(context.Background(), "alice")
	req.NoError(err)
	req.NotSame(h, h2)
	h2.Close()
}

func TestConversations_DecoratesWithDirectories(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	now := time.Now().UTC()

	f.svc.Reconciler().OnInsert(domain.Message{
		ID: "m1", SenderID: "alice", ReceiverID: localUser,
		Content: "Le garage est libre", CreatedAt: now, ContextID: "listing-7",
	})

	f.profiles.EXPECT().
		Lookup(gomock.Any(), "alice").
		Return(domain.Profile{UserID: "alice", DisplayName: "Alice", AvatarRef: "avatars/alice"}, nil)
	f.listings.EXPECT().
		Label(gomock.Any(), "listing-7").
		Return("Garage - Lyon 3e", nil)

	req.Eventually(func() bool {
		return f.svc.TotalUnread() == 1
	}, time.Second, 10*time.Millisecond)

	convs := f.svc.Conversations(context.Background())
	req.Len(convs, 1)
	req.Equal("Alice", convs[0].DisplayName)
	req.Equal("Garage - Lyon 3e", convs[0].ContextLabel)
	req.Equal(1, convs[0].UnreadCount)
}

func TestConversations_PlaceholderOnLookupFailure(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	now := time.Now().UTC()

	f.svc.Reconciler().OnInsert(domain.Message{
		ID: "m1", SenderID: "ghost", ReceiverID: localUser,
		Content: "?", CreatedAt: now,
	})

	f.profiles.EXPECT().
		Lookup(gomock.Any(), "ghost").
		Return(domain.Profile{}, dmerrors.ErrStoreUnavailable).
		AnyTimes()

	req.Eventually(func() bool {
		return len(f.svc.Conversations(context.Background())) == 1
	}, time.Second, 10*time.Millisecond)

	convs := f.svc.Conversations(context.Background())
	req.Equal("Utilisateur", convs[0].DisplayName)
}

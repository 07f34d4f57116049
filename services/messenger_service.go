package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"listing-dm/contract"
	"listing-dm/domain"
	dmerrors "listing-dm/errors"
	"listing-dm/observability"
	"listing-dm/readstate"
	"listing-dm/runtime"
	"listing-dm/search"
)

// sendDeadline bounds the background delivery of one message, retries
// included. Past it the record flips to Failed and waits for RetrySend.
const sendDeadline = 30 * time.Second

type IMessengerService interface {
	Conversations(ctx context.Context) []domain.Conversation
	TotalUnread() int
	OpenConversation(ctx context.Context, counterpartID string) (*ConversationHandle, error)
	SubscribeInbox(sink contract.EventSink) contract.Subscription
	Search(ctx context.Context, rawQuery string) ([]search.Hit, error)
}

// MessengerService is the exposed surface of the messaging core. It owns
// the reconciler, the registry and the read-state tracker; collaborators
// reach the message store only through it.
type MessengerService struct {
	log         *slog.Logger
	localUserID string
	store       contract.IMessageStore
	presence    contract.ITypingChannel
	profiles    contract.IProfileDirectory
	listings    contract.IListingDirectory
	loop        *runtime.Loop
	registry    *runtime.Registry
	reconciler  *runtime.Reconciler
	tracker     *readstate.Tracker
	index       *search.Index
	validate    *validator.Validate

	mu      sync.Mutex
	handles map[string]*ConversationHandle
}

// NewMessengerService wires the core around an authenticated identity.
// Without one, every downstream decision (counterpart resolution, unread
// attribution) is meaningless, so construction fails terminally and no
// subscription is ever started.
func NewMessengerService(log *slog.Logger, localUserID string, store contract.IMessageStore,
	presence contract.ITypingChannel, profiles contract.IProfileDirectory,
	listings contract.IListingDirectory, loop *runtime.Loop, index *search.Index) (*MessengerService, error) {
	if localUserID == "" {
		return nil, dmerrors.ErrNoIdentity
	}

	registry := runtime.NewRegistry()
	reconciler := runtime.NewReconciler(log, localUserID, store, loop, registry)
	if index != nil {
		reconciler.AddSinks(index)
	}

	return &MessengerService{
		log:         log,
		localUserID: localUserID,
		store:       store,
		presence:    presence,
		profiles:    profiles,
		listings:    listings,
		loop:        loop,
		registry:    registry,
		reconciler:  reconciler,
		tracker:     readstate.NewTracker(log, localUserID, store, loop, reconciler),
		index:       index,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		handles:     make(map[string]*ConversationHandle),
	}, nil
}

// Reconciler exposes the feed-facing half for the pump worker.
func (s *MessengerService) Reconciler() *runtime.Reconciler {
	return s.reconciler
}

// OnTypingSignal routes a presence signal to the open conversation it
// belongs to. Signals for closed conversations or other recipients are
// dropped; presence is ephemeral and never queued.
func (s *MessengerService) OnTypingSignal(sig domain.TypingSignal) {
	if sig.PeerID != s.localUserID || sig.UserID == s.localUserID {
		return
	}
	s.mu.Lock()
	h := s.handles[sig.UserID]
	s.mu.Unlock()
	if h != nil {
		h.typing.OnSignal(sig)
	}
}

// Conversations returns the inbox snapshot decorated with profile and
// listing data. Directory failures degrade to placeholders, never block.
func (s *MessengerService) Conversations(ctx context.Context) []domain.Conversation {
	snapshot := s.reconciler.Conversations()
	return lo.Map(snapshot, func(c domain.Conversation, _ int) domain.Conversation {
		return s.decorate(ctx, c)
	})
}

func (s *MessengerService) TotalUnread() int {
	return s.reconciler.TotalUnread()
}

// OpenConversation activates one conversation: fetches its full history,
// marks the inbound backlog read, and hands back a handle for the thread
// view. Opening an already open conversation returns the same handle.
func (s *MessengerService) OpenConversation(ctx context.Context, counterpartID string) (*ConversationHandle, error) {
	if counterpartID == "" || counterpartID == s.localUserID {
		return nil, fmt.Errorf("invalid counterpart %q", counterpartID)
	}

	s.mu.Lock()
	if h, ok := s.handles[counterpartID]; ok {
		s.mu.Unlock()
		return h, nil
	}
	s.mu.Unlock()

	if err := s.reconciler.Resync(ctx, counterpartID); err != nil {
		return nil, fmt.Errorf("failed to load conversation %s: %w", counterpartID, err)
	}

	h := newConversationHandle(s, counterpartID)

	s.mu.Lock()
	if existing, ok := s.handles[counterpartID]; ok {
		// Lost the race against a concurrent open; keep the winner.
		s.mu.Unlock()
		h.typing.Close()
		return existing, nil
	}
	s.handles[counterpartID] = h
	s.mu.Unlock()

	h.MarkRead(ctx)
	return h, nil
}

// SubscribeInbox registers a sink observing every conversation, for the
// inbox list and the unread badge.
func (s *MessengerService) SubscribeInbox(sink contract.EventSink) contract.Subscription {
	id := uuid.NewString()
	s.registry.SubscribeInbox(id, sink)
	return newCancelSub(func() { s.registry.Unsubscribe(id, "") })
}

// Search runs a full-text query over the local message index.
func (s *MessengerService) Search(ctx context.Context, rawQuery string) ([]search.Hit, error) {
	if s.index == nil {
		return nil, nil
	}
	return s.index.Search(ctx, rawQuery)
}

// decorate resolves counterpart identity and listing label for one entry.
func (s *MessengerService) decorate(ctx context.Context, c domain.Conversation) domain.Conversation {
	profile, err := s.profiles.Lookup(ctx, c.CounterpartID)
	if err != nil {
		s.log.Debug("Profile lookup failed, using placeholder", "counterpart", c.CounterpartID, "err", err)
		profile = domain.PlaceholderProfile(c.CounterpartID)
	}
	c.DisplayName = profile.DisplayName
	c.AvatarRef = profile.AvatarRef

	if c.ContextID != "" && s.listings != nil {
		if label, err := s.listings.Label(ctx, c.ContextID); err == nil {
			c.ContextLabel = label
		} else {
			s.log.Debug("Listing lookup failed, leaving label empty", "listing", c.ContextID, "err", err)
		}
	}
	return c
}

// deliver pushes one provisional message to the store in the background,
// retrying transient failures. The acknowledgement reconciles against the
// provisional record; a definitive failure flips it to Failed so the UI
// can offer a retry.
func (s *MessengerService) deliver(ctx context.Context, counterpartID string, provisional domain.Message) {
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = sendDeadline

	var ack domain.Message
	operation := func() error {
		a, err := s.store.Send(ctx, provisional.ReceiverID, provisional.Content, provisional.ContextID)
		if err != nil {
			if runtime.IsRetriable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		ack = a
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		observability.SendsFailed.Inc()
		s.log.Warn("Send failed", "counterpart", counterpartID, "id", provisional.ID, "err", err)
		s.loop.Dispatch(func() {
			s.reconciler.SetDelivery(counterpartID, provisional.ID, domain.Failed)
		})
		return
	}

	ack.Delivery = domain.Sent
	ack.Provisional = false
	s.reconciler.ConfirmSend(counterpartID, provisional.ID, ack)
}

func (s *MessengerService) dropHandle(counterpartID string) {
	s.mu.Lock()
	delete(s.handles, counterpartID)
	s.mu.Unlock()
}

// cancelSub is the Subscription returned for in-process registrations.
type cancelSub struct {
	once   sync.Once
	cancel func()
	done   chan struct{}
}

func newCancelSub(cancel func()) *cancelSub {
	return &cancelSub{cancel: cancel, done: make(chan struct{})}
}

func (c *cancelSub) Cancel() {
	c.once.Do(func() {
		c.cancel()
		close(c.done)
	})
}

func (c *cancelSub) Done() <-chan struct{} { return c.done }

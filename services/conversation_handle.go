package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"listing-dm/contract"
	"listing-dm/domain"
	"listing-dm/domain/event"
	dmerrors "listing-dm/errors"
	"listing-dm/typing"
)

// sendCommand is the validated input of a send operation.
type sendCommand struct {
	ReceiverID string `validate:"required"`
	Content    string `validate:"required,max=4000"`
}

// ConversationHandle is the per-conversation surface handed to the thread
// view: the ordered messages, the send path, typing presence, and change
// notifications. Closing it tears down presence and every watcher the
// handle registered.
type ConversationHandle struct {
	svc           *MessengerService
	counterpartID string
	typing        *typing.Coordinator

	mu     sync.Mutex
	closed bool
	subIDs []string
}

func newConversationHandle(svc *MessengerService, counterpartID string) *ConversationHandle {
	h := &ConversationHandle{
		svc:           svc,
		counterpartID: counterpartID,
	}
	h.typing = typing.NewCoordinator(svc.log, svc.loop, svc.presence, counterpartID, func(active bool) {
		svc.reconciler.Announce(event.TypingChanged{
			Counterpart: counterpartID,
			IsTyping:    active,
			At:          time.Now().UTC(),
		})
	})
	return h
}

func (h *ConversationHandle) CounterpartID() string { return h.counterpartID }

// Messages returns the thread in ascending creation order.
func (h *ConversationHandle) Messages() []domain.Message {
	return h.svc.reconciler.ThreadMessages(h.counterpartID)
}

// Send validates and optimistically inserts the message, then delivers it
// in the background. The returned id is provisional until the store's
// acknowledgement or live-feed echo confirms the record.
func (h *ConversationHandle) Send(ctx context.Context, content string) (string, error) {
	return h.send(ctx, content, "")
}

// SendAbout sends a message tied to a listing.
func (h *ConversationHandle) SendAbout(ctx context.Context, content, listingID string) (string, error) {
	return h.send(ctx, content, listingID)
}

func (h *ConversationHandle) send(ctx context.Context, content, listingID string) (string, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return "", dmerrors.ErrHandleClosed
	}
	h.mu.Unlock()

	cmd := sendCommand{ReceiverID: h.counterpartID, Content: content}
	if err := h.svc.validate.Struct(cmd); err != nil {
		return "", fmt.Errorf("invalid message: %w", err)
	}

	provisional := domain.Message{
		ID:          uuid.NewString(),
		SenderID:    h.svc.localUserID,
		ReceiverID:  h.counterpartID,
		Content:     content,
		CreatedAt:   time.Now().UTC(),
		ContextID:   listingID,
		Delivery:    domain.Pending,
		Provisional: true,
	}
	h.svc.reconciler.OnInsert(provisional)
	h.typing.MessageSent()

	go h.svc.deliver(context.WithoutCancel(ctx), h.counterpartID, provisional)
	return provisional.ID, nil
}

// RetrySend requeues a failed outbound message. Only locally failed
// records qualify; anything else is ErrUnknownMessage.
func (h *ConversationHandle) RetrySend(ctx context.Context, messageID string) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return dmerrors.ErrHandleClosed
	}
	h.mu.Unlock()

	var target *domain.Message
	for _, m := range h.Messages() {
		if m.ID == messageID {
			target = &m
			break
		}
	}
	if target == nil || target.SenderID != h.svc.localUserID || target.Delivery != domain.Failed {
		return dmerrors.ErrUnknownMessage
	}

	h.svc.loop.Dispatch(func() {
		h.svc.reconciler.SetDelivery(h.counterpartID, messageID, domain.Pending)
	})
	go h.svc.deliver(context.WithoutCancel(ctx), h.counterpartID, *target)
	return nil
}

// SetLocalTyping registers a content-changing keystroke in the composer.
func (h *ConversationHandle) SetLocalTyping() {
	h.typing.Touch()
}

// IsRemoteTyping reports whether the counterpart's indicator is active.
func (h *ConversationHandle) IsRemoteTyping() bool {
	return h.typing.IsRemoteTyping()
}

// MarkRead flips the unread inbound backlog and flushes it to the store.
// Returns the ids being marked; empty when there was nothing to read.
func (h *ConversationHandle) MarkRead(ctx context.Context) []string {
	ids := h.svc.tracker.MarkConversationRead(ctx, h.counterpartID)
	if len(ids) > 0 {
		h.svc.reconciler.Announce(event.ConversationRead{
			Counterpart: h.counterpartID,
			MessageIDs:  ids,
		})
	}
	return ids
}

// OnChange registers a sink observing this conversation's events. The
// returned subscription detaches just that sink; Close detaches them all.
func (h *ConversationHandle) OnChange(sink contract.EventSink) contract.Subscription {
	id := uuid.NewString()

	h.mu.Lock()
	h.subIDs = append(h.subIDs, id)
	h.mu.Unlock()

	h.svc.registry.Subscribe(id, h.counterpartID, sink)
	return newCancelSub(func() { h.svc.registry.Unsubscribe(id, h.counterpartID) })
}

// Close deactivates the conversation: broadcasts a final idle presence,
// detaches every watcher, and releases the handle slot. Idempotent.
func (h *ConversationHandle) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subIDs := h.subIDs
	h.subIDs = nil
	h.mu.Unlock()

	h.typing.Close()
	for _, id := range subIDs {
		h.svc.registry.Unsubscribe(id, h.counterpartID)
	}
	h.svc.dropHandle(h.counterpartID)
}

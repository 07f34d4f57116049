//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"reflect"

	"listing-dm/domain"
	"listing-dm/domain/event"
)

// IMessageStore is the remote store of record, implemented by a collaborator.
// The core never talks to a transport directly.
type IMessageStore interface {
	// FetchHistory returns the full bidirectional history with one
	// counterpart, ascending by CreatedAt. Fails with ErrStoreUnavailable.
	FetchHistory(ctx context.Context, counterpartID string) ([]domain.Message, error)

	// Send inserts a new message. The returned record carries the store's
	// identifier; the live feed later echoes it. Fails with ErrSendRejected
	// or ErrStoreUnavailable.
	Send(ctx context.Context, receiverID, content, contextID string) (domain.Message, error)

	// MarkRead flips IsRead for the given ids. Idempotent: re-marking an
	// already-read message is a no-op. Returns the ids that individually
	// failed; a partial failure is not an error for the rest of the batch.
	MarkRead(ctx context.Context, ids []string) (failed []string, err error)

	// SubscribeLiveFeed delivers insert/update events scoped to the current
	// user, best-effort order, not guaranteed gap-free. Callers reconcile
	// via FetchHistory after a reconnect.
	SubscribeLiveFeed(onInsert, onUpdate func(domain.Message)) (Subscription, error)
}

// ITypingChannel carries ephemeral presence signals between two peers.
type ITypingChannel interface {
	Broadcast(ctx context.Context, counterpartID string, typing bool) error
	Subscribe(onSignal func(domain.TypingSignal)) (Subscription, error)
}

// IProfileDirectory resolves counterpart identity for inbox decoration.
type IProfileDirectory interface {
	Lookup(ctx context.Context, userID string) (domain.Profile, error)
}

// IListingDirectory resolves the label of a listing referenced by a
// message context. Failure degrades to an empty label.
type IListingDirectory interface {
	Label(ctx context.Context, listingID string) (string, error)
}

// Subscription is a cancellable handle on a live feed or presence channel.
// A leaked subscription silently duplicates future event delivery, so every
// acquisition path must pair with Cancel. Done closes when the channel
// drops on its own; events during the gap are lost, not replayed.
type Subscription interface {
	Cancel()
	Done() <-chan struct{}
}

type WorkerName string

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker
// lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// EventSink observes domain events. Sinks run on the loop goroutine and
// must not block.
type EventSink interface {
	Consume(ctx context.Context, e event.DomainEvent) error
}

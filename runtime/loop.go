// Package runtime serializes all mutations of the message collection and
// the derived inbox through a single logical thread, and reconciles live
// feed events into both. It contains no domain rules of its own.
package runtime

import (
	"context"
	"log/slog"
	"sync"
)

// Loop is the single cooperative thread of the messaging core. Every writer
// (reconciler, read-state tracker, send path) dispatches a closure; the
// loop drains them in FIFO order on one goroutine, so handlers never need
// locks but must tolerate new events queued while their own async
// continuations are still pending.
type Loop struct {
	log *slog.Logger

	mu      sync.Mutex
	queue   []func()
	stopped bool
	wake    chan struct{}
}

func NewLoop(log *slog.Logger) *Loop {
	return &Loop{
		log:  log,
		wake: make(chan struct{}, 1),
	}
}

// Dispatch enqueues fn for execution on the loop goroutine. Safe from any
// goroutine, including reentrant calls from a running task; the queue is
// unbounded so a dispatch never blocks and never drops a state mutation.
// After the loop stopped, fn runs inline on the caller, so teardown work
// racing a shutdown still completes instead of waiting forever.
func (l *Loop) Dispatch(fn func()) {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		fn()
		return
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Call dispatches fn and waits for it to complete. Used for synchronous
// snapshot reads; never call it from inside a loop task.
func (l *Loop) Call(fn func()) {
	done := make(chan struct{})
	l.Dispatch(func() {
		defer close(done)
		fn()
	})
	<-done
}

// Run drains the queue until the context is cancelled, then runs whatever
// is still queued before returning so no Call is left blocked and no
// mutation is dropped. Runs under the supervisor like any other worker.
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			l.log.Debug("Event loop stopping")
			l.drainAndStop()
			return ctx.Err()
		case <-l.wake:
		}

		for {
			l.mu.Lock()
			if len(l.queue) == 0 {
				l.mu.Unlock()
				break
			}
			fn := l.queue[0]
			l.queue = l.queue[1:]
			l.mu.Unlock()

			fn()
		}
	}
}

// drainAndStop flushes the backlog and flips the loop into stopped mode,
// where Dispatch executes closures inline. Tasks run here may themselves
// dispatch; those run inline too.
func (l *Loop) drainAndStop() {
	l.mu.Lock()
	l.stopped = true
	remaining := l.queue
	l.queue = nil
	l.mu.Unlock()

	for _, fn := range remaining {
		fn()
	}
}

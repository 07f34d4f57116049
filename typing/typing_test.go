package typing

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"

	"listing-dm/contract"
	"listing-dm/domain"
)

// syncDispatcher runs everything inline: transitions stay serialized
// because the tests drive them from a single goroutine, and timer
// callbacks are tiny.
type syncDispatcher struct{ mu sync.Mutex }

func (d *syncDispatcher) Dispatch(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn()
}

func (d *syncDispatcher) Call(fn func()) { d.Dispatch(fn) }

type recordingChannel struct {
	mu     sync.Mutex
	caught []bool
}

func (r *recordingChannel) Broadcast(_ context.Context, _ string, typing bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.caught = append(r.caught, typing)
	return nil
}

func (r *recordingChannel) Subscribe(func(domain.TypingSignal)) (contract.Subscription, error) {
	return noopSub{}, nil
}

type noopSub struct{}

func (noopSub) Cancel()               {}
func (noopSub) Done() <-chan struct{} { return nil }

func (r *recordingChannel) snapshot() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.caught...)
}

func newTestCoordinator(t *testing.T, onRemote func(bool)) (*Coordinator, *recordingChannel) {
	t.Helper()
	ch := &recordingChannel{}
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	c := NewCoordinator(log, &syncDispatcher{}, ch, "u2", onRemote).
		WithDelays(30*time.Millisecond, 50*time.Millisecond)
	return c, ch
}

func TestCoordinator_Touch_BroadcastsOncePerTypingEntry(t *testing.T) {
	req := require.New(t)
	c, ch := newTestCoordinator(t, nil)
	defer c.Close()

	c.Touch()
	c.Touch()
	c.Touch()

	req.Eventually(func() bool {
		return len(ch.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)
	req.Equal([]bool{true}, ch.snapshot())
}

func TestCoordinator_InactivityExpiryBroadcastsIdle(t *testing.T) {
	req := require.New(t)
	c, ch := newTestCoordinator(t, nil)
	defer c.Close()

	c.Touch()

	req.Eventually(func() bool {
		got := ch.snapshot()
		return len(got) == 2 && got[1] == false
	}, time.Second, 5*time.Millisecond)

	// A fresh keystroke after reverting to idle broadcasts typing again.
	c.Touch()
	req.Eventually(func() bool {
		got := ch.snapshot()
		return len(got) == 3 && got[2] == true
	}, time.Second, 5*time.Millisecond)
}

func TestCoordinator_MessageSentForcesImmediateIdle(t *testing.T) {
	req := require.New(t)
	c, ch := newTestCoordinator(t, nil)
	defer c.Close()

	c.Touch()
	c.MessageSent()

	req.Eventually(func() bool {
		got := ch.snapshot()
		return len(got) == 2 && got[1] == false
	}, time.Second, 5*time.Millisecond)
}

func TestCoordinator_RemoteIndicatorSelfExpires(t *testing.T) {
	req := require.New(t)

	var mu sync.Mutex
	var transitions []bool
	c, _ := newTestCoordinator(t, func(typing bool) {
		mu.Lock()
		defer mu.Unlock()
		transitions = append(transitions, typing)
	})
	defer c.Close()

	c.OnSignal(domain.TypingSignal{UserID: "u2", PeerID: "u1", IsTyping: true})
	req.True(c.IsRemoteTyping())

	// No further network input: the indicator must clear on its own.
	req.Eventually(func() bool {
		return !c.IsRemoteTyping()
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	req.Equal([]bool{true, false}, transitions)
}

func TestCoordinator_RemoteStopSignalClearsImmediately(t *testing.T) {
	req := require.New(t)
	c, _ := newTestCoordinator(t, nil)
	defer c.Close()

	c.OnSignal(domain.TypingSignal{IsTyping: true})
	req.True(c.IsRemoteTyping())

	c.OnSignal(domain.TypingSignal{IsTyping: false})
	req.False(c.IsRemoteTyping())
}

func TestCoordinator_CloseBroadcastsIdleSynchronously(t *testing.T) {
	req := require.New(t)
	c, ch := newTestCoordinator(t, nil)

	c.Touch()
	req.Eventually(func() bool {
		return len(ch.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)

	c.Close()

	req.Eventually(func() bool {
		return len(ch.snapshot()) == 2
	}, time.Second, 5*time.Millisecond)
	req.Equal([]bool{true, false}, ch.snapshot())

	// Touches after close are ignored, no ghost broadcasts.
	c.Touch()
	time.Sleep(50 * time.Millisecond)
	req.Equal([]bool{true, false}, ch.snapshot())
}

func TestCoordinator_StateExposesExpiry(t *testing.T) {
	req := require.New(t)
	c, _ := newTestCoordinator(t, nil)
	defer c.Close()

	c.OnSignal(domain.TypingSignal{IsTyping: true})
	st := c.State()
	req.True(st.IsTyping)
	req.Equal("u2", st.CounterpartID)
	req.False(st.ExpiresAt.IsZero())
}

package runtime

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

func startLoop(t *testing.T) *Loop {
	t.Helper()
	loop := NewLoop(logs.GetLoggerFromLevel(slog.LevelDebug))
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

func TestLoop_TasksRunInFIFOOrder(t *testing.T) {
	req := require.New(t)
	loop := startLoop(t)

	var order []int
	for i := 0; i < 10; i++ {
		i := i
		loop.Dispatch(func() { order = append(order, i) })
	}
	loop.Call(func() {})

	req.Equal([]int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, order)
}

func TestLoop_ReentrantDispatchDoesNotDeadlock(t *testing.T) {
	req := require.New(t)
	loop := startLoop(t)

	done := make(chan struct{})
	loop.Dispatch(func() {
		// A handler queueing follow-up work while running, the way an
		// event arrives while a previous continuation is pending.
		loop.Dispatch(func() { close(done) })
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		req.Fail("nested dispatch never ran")
	}
}

func TestLoop_CallWaitsForCompletion(t *testing.T) {
	req := require.New(t)
	loop := startLoop(t)

	value := 0
	loop.Call(func() { value = 42 })
	req.Equal(42, value)
}

func TestLoop_CallAfterShutdownCompletes(t *testing.T) {
	req := require.New(t)
	loop := NewLoop(logs.GetLoggerFromLevel(slog.LevelDebug))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = loop.Run(ctx)
	}()
	cancel()
	<-done

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		loop.Call(func() {})
	}()

	select {
	case <-finished:
	case <-time.After(time.Second):
		req.Fail("call issued after shutdown never returned")
	}
}

func TestLoop_ShutdownDrainsQueuedTasks(t *testing.T) {
	req := require.New(t)
	loop := NewLoop(logs.GetLoggerFromLevel(slog.LevelDebug))

	ran := 0
	for i := 0; i < 5; i++ {
		loop.Dispatch(func() { ran++ })
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := loop.Run(ctx)

	req.ErrorIs(err, context.Canceled)
	req.Equal(5, ran)
}

// Package typing implements the two halves of the typing-presence
// indicator as an explicit state machine: the local debounced broadcast
// and the self-expiring remote display.
package typing

import (
	"context"
	"log/slog"
	"time"

	"listing-dm/contract"
	"listing-dm/domain"
)

const (
	// localInactivity is the quiet period after the last keystroke before
	// the local half reverts to idle and broadcasts the change.
	localInactivity = 2 * time.Second

	// remoteExpiry is armed independently of the sender's timer so a lost
	// stop signal never leaves a stale indicator.
	remoteExpiry = 5 * time.Second
)

type state int

const (
	stateIdle state = iota
	stateTyping
)

// Dispatcher serializes transitions onto the core's event loop.
type Dispatcher interface {
	Dispatch(fn func())
	Call(fn func())
}

// Coordinator manages typing presence for one conversation. All state
// lives on the dispatcher's thread; timers only ever hop back onto it.
type Coordinator struct {
	log           *slog.Logger
	dispatch      Dispatcher
	channel       contract.ITypingChannel
	counterpartID string

	inactivityDelay time.Duration
	expiryDelay     time.Duration

	local      state
	inactivity *time.Timer

	remote         state
	expiry         *time.Timer
	onRemoteChange func(bool)

	closed bool
}

func NewCoordinator(log *slog.Logger, dispatch Dispatcher, channel contract.ITypingChannel,
	counterpartID string, onRemoteChange func(bool)) *Coordinator {
	return &Coordinator{
		log:             log,
		dispatch:        dispatch,
		channel:         channel,
		counterpartID:   counterpartID,
		inactivityDelay: localInactivity,
		expiryDelay:     remoteExpiry,
		onRemoteChange:  onRemoteChange,
	}
}

// WithDelays overrides the two windows, used by tests.
func (c *Coordinator) WithDelays(inactivity, expiry time.Duration) *Coordinator {
	c.inactivityDelay = inactivity
	c.expiryDelay = expiry
	return c
}

// Touch registers a local content-changing keystroke. Entering the typing
// state broadcasts once; further keystrokes only re-arm the timer, which
// bounds broadcast volume to one per idle-to-typing transition.
func (c *Coordinator) Touch() {
	c.dispatch.Dispatch(c.touch)
}

// MessageSent forces an immediate typing-to-idle transition and broadcast,
// bypassing the inactivity timer.
func (c *Coordinator) MessageSent() {
	c.dispatch.Dispatch(func() {
		if c.closed {
			return
		}
		c.stopInactivity()
		if c.local == stateTyping {
			c.local = stateIdle
			c.broadcast(false)
		}
	})
}

// OnSignal consumes a remote presence broadcast.
func (c *Coordinator) OnSignal(s domain.TypingSignal) {
	c.dispatch.Dispatch(func() {
		if c.closed {
			return
		}
		if s.IsTyping {
			c.remoteStart()
		} else {
			c.remoteClear()
		}
	})
}

// IsRemoteTyping reports the current indicator state.
func (c *Coordinator) IsRemoteTyping() bool {
	var typing bool
	c.dispatch.Call(func() { typing = c.remote == stateTyping })
	return typing
}

// State returns the ephemeral remote view, exposed to the UI layer.
func (c *Coordinator) State() domain.TypingState {
	var out domain.TypingState
	c.dispatch.Call(func() {
		out = domain.TypingState{
			CounterpartID: c.counterpartID,
			IsTyping:      c.remote == stateTyping,
		}
		if c.remote == stateTyping {
			out.ExpiresAt = time.Now().Add(c.expiryDelay)
		}
	})
	return out
}

// Close cancels both timers and, if the local half was still typing,
// synchronously broadcasts idle so no ghost indicator outlives the screen.
func (c *Coordinator) Close() {
	var wasTyping bool
	c.dispatch.Call(func() {
		if c.closed {
			return
		}
		c.closed = true
		c.stopInactivity()
		c.stopExpiry()
		wasTyping = c.local == stateTyping
		c.local = stateIdle
		c.remote = stateIdle
	})
	if wasTyping {
		if err := c.channel.Broadcast(context.Background(), c.counterpartID, false); err != nil {
			c.log.Warn("Final idle broadcast failed", "counterpart", c.counterpartID, "err", err)
		}
	}
}

func (c *Coordinator) touch() {
	if c.closed {
		return
	}
	if c.local == stateIdle {
		c.local = stateTyping
		c.broadcast(true)
	}
	c.stopInactivity()
	c.inactivity = time.AfterFunc(c.inactivityDelay, func() {
		c.dispatch.Dispatch(c.expireLocal)
	})
}

func (c *Coordinator) expireLocal() {
	if c.closed || c.local != stateTyping {
		return
	}
	c.local = stateIdle
	c.broadcast(false)
}

func (c *Coordinator) remoteStart() {
	changed := c.remote != stateTyping
	c.remote = stateTyping
	c.stopExpiry()
	c.expiry = time.AfterFunc(c.expiryDelay, func() {
		c.dispatch.Dispatch(c.expireRemote)
	})
	if changed && c.onRemoteChange != nil {
		c.onRemoteChange(true)
	}
}

func (c *Coordinator) remoteClear() {
	c.stopExpiry()
	if c.remote != stateTyping {
		return
	}
	c.remote = stateIdle
	if c.onRemoteChange != nil {
		c.onRemoteChange(false)
	}
}

func (c *Coordinator) expireRemote() {
	if c.closed {
		return
	}
	c.remoteClear()
}

// broadcast leaves the loop thread: presence is best-effort I/O and must
// not stall event processing.
func (c *Coordinator) broadcast(typing bool) {
	go func() {
		if err := c.channel.Broadcast(context.Background(), c.counterpartID, typing); err != nil {
			c.log.Warn("Typing broadcast failed", "counterpart", c.counterpartID, "typing", typing, "err", err)
		}
	}()
}

func (c *Coordinator) stopInactivity() {
	if c.inactivity != nil {
		c.inactivity.Stop()
		c.inactivity = nil
	}
}

func (c *Coordinator) stopExpiry() {
	if c.expiry != nil {
		c.expiry.Stop()
		c.expiry = nil
	}
}

// Package realtimetest provides an in-memory realtime.Transport for tests.
package realtimetest

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/josecentenodev/crm-aurelia/pkg/realtime"
)

// JoinMode controls how a fake channel reacts to Subscribe.
type JoinMode int

const (
	// JoinImmediately moves the channel to joined inside Subscribe.
	JoinImmediately JoinMode = iota
	// JoinAfterDelay moves the channel to joined after Transport.JoinDelay.
	JoinAfterDelay
	// JoinFail moves the channel to errored.
	JoinFail
	// JoinNever leaves the channel joining.
	JoinNever
)

// Transport is an in-memory realtime.Transport. Channels lists every live
// handle, as a server that has acknowledged all of them would; use
// HideChannels for the opposite. The zero value is not usable; call
// NewTransport.
type Transport struct {
	mu          sync.Mutex
	mode        JoinMode
	joinDelay   time.Duration
	removeErr   error
	unsubErr    error
	channels    []*Channel
	all         []*Channel
	created     int
	removed     int
	hideFromAll bool
}

// NewTransport returns a transport whose channels join immediately.
func NewTransport() *Transport {
	return &Transport{mode: JoinImmediately}
}

// SetJoinMode changes the behaviour of channels subscribed from now on.
func (t *Transport) SetJoinMode(mode JoinMode, delay time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mode = mode
	t.joinDelay = delay
}

// FailTeardown makes Unsubscribe and RemoveChannel return the given errors.
func (t *Transport) FailTeardown(unsubscribe, remove error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.unsubErr = unsubscribe
	t.removeErr = remove
}

// HideChannels makes Channels report nothing, as a transport that lost track
// of its subscriptions would.
func (t *Transport) HideChannels(hide bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hideFromAll = hide
}

// Channel implements realtime.Transport.
func (t *Transport) Channel(name string) realtime.Channel {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch := &Channel{
		name:     name,
		t:        t,
		state:    realtime.StateClosed,
		handlers: make(map[string][]realtime.EventHandler),
		changes:  make(chan struct{}, 1),
	}
	t.channels = append(t.channels, ch)
	t.all = append(t.all, ch)
	t.created++
	return ch
}

// RemoveChannel implements realtime.Transport.
func (t *Transport) RemoveChannel(_ context.Context, c realtime.Channel) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.removeErr != nil {
		return t.removeErr
	}
	for i, ch := range t.channels {
		if realtime.Channel(ch) == c {
			t.channels = append(t.channels[:i], t.channels[i+1:]...)
			t.removed++
			ch.setState(realtime.StateClosed)
			return nil
		}
	}
	return nil
}

// Channels implements realtime.Transport.
func (t *Transport) Channels() []realtime.Channel {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.hideFromAll {
		return nil
	}
	out := make([]realtime.Channel, 0, len(t.channels))
	for _, ch := range t.channels {
		out = append(out, ch)
	}
	return out
}

// Created reports how many channels were handed out.
func (t *Transport) Created() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.created
}

// Removed reports how many channels were removed.
func (t *Transport) Removed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.removed
}

// Live returns the channels still held by the transport.
func (t *Transport) Live() []*Channel {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Channel(nil), t.channels...)
}

// Find returns the newest channel ever created for name, or nil.
func (t *Transport) Find(name string) *Channel {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.all) - 1; i >= 0; i-- {
		if t.all[i].name == name {
			return t.all[i]
		}
	}
	return nil
}

// Channel is a fake realtime.Channel.
type Channel struct {
	name string
	t    *Transport

	mu           sync.Mutex
	state        realtime.ChannelState
	handlers     map[string][]realtime.EventHandler
	subscribes   int
	unsubscribes int
	changes      chan struct{}
}

func (c *Channel) Name() string { return c.name }

func (c *Channel) State() realtime.ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetState forces a state, e.g. to simulate a dropped subscription.
func (c *Channel) SetState(s realtime.ChannelState) {
	c.setState(s)
}

func (c *Channel) setState(s realtime.ChannelState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	select {
	case c.changes <- struct{}{}:
	default:
	}
}

func (c *Channel) StateChanges() <-chan struct{} {
	return c.changes
}

func (c *Channel) Subscribe(cb realtime.StatusCallback) error {
	c.t.mu.Lock()
	mode, delay := c.t.mode, c.t.joinDelay
	c.t.mu.Unlock()

	c.mu.Lock()
	c.subscribes++
	c.mu.Unlock()
	c.setState(realtime.StateJoining)

	notify := func(s realtime.SubscribeStatus, err error) {
		if cb != nil {
			cb(s, err)
		}
	}

	switch mode {
	case JoinImmediately:
		c.setState(realtime.StateJoined)
		notify(realtime.StatusSubscribed, nil)
	case JoinAfterDelay:
		go func() {
			time.Sleep(delay)
			if c.State() == realtime.StateJoining {
				c.setState(realtime.StateJoined)
				notify(realtime.StatusSubscribed, nil)
			}
		}()
	case JoinFail:
		c.setState(realtime.StateErrored)
		notify(realtime.StatusChannelError, errJoinRejected)
	case JoinNever:
	}
	return nil
}

func (c *Channel) Unsubscribe(context.Context) error {
	c.t.mu.Lock()
	err := c.t.unsubErr
	c.t.mu.Unlock()

	c.mu.Lock()
	c.unsubscribes++
	c.mu.Unlock()
	if err != nil {
		return err
	}
	c.setState(realtime.StateClosed)
	return nil
}

func (c *Channel) On(event string, h realtime.EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = append(c.handlers[event], h)
}

// Emit delivers an event to the handlers registered for it and for "*".
func (c *Channel) Emit(event string, payload any) {
	raw, _ := json.Marshal(payload)
	ev := realtime.Event{Channel: c.name, Type: event, Payload: raw}

	c.mu.Lock()
	hs := append([]realtime.EventHandler(nil), c.handlers[event]...)
	if event != "*" {
		hs = append(hs, c.handlers["*"]...)
	}
	c.mu.Unlock()

	for _, h := range hs {
		h(ev)
	}
}

// Subscribes reports how many times Subscribe was called.
func (c *Channel) Subscribes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribes
}

// Unsubscribes reports how many times Unsubscribe was called.
func (c *Channel) Unsubscribes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unsubscribes
}

type joinError string

func (e joinError) Error() string { return string(e) }

const errJoinRejected = joinError("join rejected")

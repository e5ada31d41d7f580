package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/josecentenodev/crm-aurelia/pkg/errors"
	"github.com/josecentenodev/crm-aurelia/pkg/logging"
	"github.com/josecentenodev/crm-aurelia/pkg/realtime"
	"go.uber.org/zap"
)

var (
	_ realtime.Channel       = (*channel)(nil)
	_ realtime.StateNotifier = (*channel)(nil)
)

type channel struct {
	s     *Socket
	name  string
	topic string

	mu       sync.Mutex
	state    realtime.ChannelState
	joinRef  string
	leaveRef string
	left     chan struct{}
	acked    bool
	status   realtime.StatusCallback
	handlers map[string][]realtime.EventHandler

	changes chan struct{}
}

func newChannel(s *Socket, name string) *channel {
	return &channel{
		s:        s,
		name:     name,
		topic:    TopicFor(name),
		state:    realtime.StateClosed,
		handlers: make(map[string][]realtime.EventHandler),
		changes:  make(chan struct{}, 1),
	}
}

func (c *channel) Name() string { return c.name }

func (c *channel) State() realtime.ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *channel) StateChanges() <-chan struct{} {
	return c.changes
}

// acknowledged reports whether the server has ever addressed this handle's
// join, either by replying to it or by sending a frame under its join_ref.
func (c *channel) acknowledged() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acked
}

// Subscribe sends phx_join. The join reply arrives on the read loop and is
// reported through cb. Subscribing a joined or joining channel is a no-op.
func (c *channel) Subscribe(cb realtime.StatusCallback) error {
	c.mu.Lock()
	if c.state == realtime.StateJoined || c.state == realtime.StateJoining {
		c.mu.Unlock()
		return nil
	}
	ref := newRef()
	c.joinRef = ref
	c.status = cb
	c.state = realtime.StateJoining
	c.mu.Unlock()
	c.notify()

	payload, _ := json.Marshal(joinPayload{Config: map[string]any{}, AccessToken: c.s.cfg.APIKey})
	err := c.s.send(Frame{Topic: c.topic, Event: eventJoin, Payload: payload, Ref: ref, JoinRef: ref})
	if err != nil {
		c.terminate(realtime.StateErrored, realtime.StatusChannelError, err)
		return err
	}
	return nil
}

// Unsubscribe sends phx_leave and waits for the server to acknowledge it.
// An unacknowledged leave still closes the channel locally once the write
// timeout or ctx expires.
func (c *channel) Unsubscribe(ctx context.Context) error {
	c.mu.Lock()
	if c.state == realtime.StateClosed || c.state == realtime.StateErrored {
		c.state = realtime.StateClosed
		c.mu.Unlock()
		c.notify()
		return nil
	}
	ref := newRef()
	joinRef := c.joinRef
	c.leaveRef = ref
	c.left = make(chan struct{})
	left := c.left
	c.state = realtime.StateLeaving
	c.mu.Unlock()
	c.notify()

	if err := c.s.send(Frame{Topic: c.topic, Event: eventLeave, Ref: ref, JoinRef: joinRef}); err != nil {
		c.setState(realtime.StateClosed)
		return err
	}

	timer := time.NewTimer(c.s.cfg.WriteTimeout)
	defer timer.Stop()
	select {
	case <-left:
	case <-timer.C:
		c.s.logger.ComponentWarn(logging.ComponentTransport, "leave not acknowledged",
			zap.String("topic", c.topic))
	case <-ctx.Done():
	}
	c.setState(realtime.StateClosed)
	return nil
}

func (c *channel) On(event string, h realtime.EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = append(c.handlers[event], h)
}

func (c *channel) handle(f Frame) {
	c.mu.Lock()
	joinRef, leaveRef := c.joinRef, c.leaveRef
	// Frames addressed to another join of the same topic are not ours.
	if f.JoinRef != "" && joinRef != "" && f.JoinRef != joinRef {
		c.mu.Unlock()
		return
	}
	if joinRef != "" && (f.JoinRef == joinRef || (f.Event == eventReply && f.Ref == joinRef)) {
		c.acked = true
	}
	c.mu.Unlock()

	switch f.Event {
	case eventReply:
		var reply replyPayload
		if err := json.Unmarshal(f.Payload, &reply); err != nil {
			c.s.logger.ComponentWarn(logging.ComponentTransport, "malformed reply",
				zap.String("topic", c.topic), zap.Error(err))
			return
		}
		switch {
		case f.Ref != "" && f.Ref == joinRef:
			c.joinReplied(reply)
		case f.Ref != "" && f.Ref == leaveRef:
			c.mu.Lock()
			if c.left != nil {
				close(c.left)
				c.left = nil
			}
			c.mu.Unlock()
		}
	case eventError:
		c.terminate(realtime.StateErrored, realtime.StatusChannelError,
			errors.NewSubscriptionError(c.name, string(realtime.StateErrored), fmt.Errorf("server reported channel error")))
	case eventClose:
		c.terminate(realtime.StateClosed, realtime.StatusClosed, nil)
	default:
		c.dispatch(f)
	}
}

func (c *channel) joinReplied(reply replyPayload) {
	c.mu.Lock()
	if c.state != realtime.StateJoining {
		c.mu.Unlock()
		return
	}
	cb := c.status
	if reply.Status == "ok" {
		c.state = realtime.StateJoined
		c.mu.Unlock()
		c.notify()
		c.s.logger.ComponentDebug(logging.ComponentTransport, "channel joined",
			zap.String("topic", c.topic))
		if cb != nil {
			cb(realtime.StatusSubscribed, nil)
		}
		return
	}
	c.state = realtime.StateErrored
	c.mu.Unlock()
	c.notify()

	err := errors.NewSubscriptionError(c.name, reply.Status, fmt.Errorf("join refused: %s", string(reply.Response)))
	c.s.logger.ComponentWarn(logging.ComponentTransport, "channel join refused",
		zap.String("topic", c.topic),
		zap.String("status", reply.Status))
	if cb != nil {
		cb(realtime.StatusChannelError, err)
	}
}

func (c *channel) dispatch(f Frame) {
	ev := realtime.Event{Channel: c.name, Type: f.Event, Payload: f.Payload}

	c.mu.Lock()
	hs := append([]realtime.EventHandler(nil), c.handlers[f.Event]...)
	hs = append(hs, c.handlers["*"]...)
	c.mu.Unlock()

	for _, h := range hs {
		h(ev)
	}
}

// terminate moves the channel to a final state and reports it once.
func (c *channel) terminate(state realtime.ChannelState, status realtime.SubscribeStatus, err error) {
	c.mu.Lock()
	if c.state == state {
		c.mu.Unlock()
		return
	}
	c.state = state
	cb := c.status
	if c.left != nil {
		close(c.left)
		c.left = nil
	}
	c.mu.Unlock()
	c.notify()

	if cb != nil {
		cb(status, err)
	}
}

func (c *channel) setState(state realtime.ChannelState) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
	c.notify()
}

func (c *channel) notify() {
	select {
	case c.changes <- struct{}{}:
	default:
	}
}

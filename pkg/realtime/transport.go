package realtime

import (
	"context"
	"encoding/json"
)

// ChannelState is the lifecycle state of a channel handle.
type ChannelState string

const (
	StateClosed  ChannelState = "closed"
	StateJoining ChannelState = "joining"
	StateJoined  ChannelState = "joined"
	StateLeaving ChannelState = "leaving"
	StateErrored ChannelState = "errored"
)

// SubscribeStatus is reported to a StatusCallback as a join progresses.
type SubscribeStatus string

const (
	StatusSubscribed   SubscribeStatus = "SUBSCRIBED"
	StatusChannelError SubscribeStatus = "CHANNEL_ERROR"
	StatusTimedOut     SubscribeStatus = "TIMED_OUT"
	StatusClosed       SubscribeStatus = "CLOSED"
)

// StatusCallback receives join progress. err is set for CHANNEL_ERROR.
type StatusCallback func(status SubscribeStatus, err error)

// Event is a notification delivered on a channel.
type Event struct {
	Channel string          `json:"channel"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// EventHandler handles events registered with Channel.On.
type EventHandler func(Event)

// Channel is one subscription owned by the transport.
type Channel interface {
	Name() string
	State() ChannelState
	// Subscribe sends the join. A nil callback is allowed.
	Subscribe(cb StatusCallback) error
	Unsubscribe(ctx context.Context) error
	// On attaches a listener; "*" receives every event.
	On(event string, h EventHandler)
}

// Transport is the connection that hands out channels.
type Transport interface {
	// Channel returns a new, unsubscribed handle for name.
	Channel(name string) Channel
	RemoveChannel(ctx context.Context, ch Channel) error
	// Channels lists the handles the server has acknowledged at least once.
	// Handles that were only created or sent a join are not included.
	Channels() []Channel
}

// StateNotifier is implemented by channels that can signal state changes.
// The returned channel receives a value after one or more changes.
type StateNotifier interface {
	StateChanges() <-chan struct{}
}

// SetupFunc attaches listeners to a freshly created channel, subscribes it,
// and returns the handle to register.
type SetupFunc func(ch Channel) (Channel, error)

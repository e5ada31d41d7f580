package transport

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Phoenix protocol events.
const (
	eventJoin      = "phx_join"
	eventLeave     = "phx_leave"
	eventReply     = "phx_reply"
	eventError     = "phx_error"
	eventClose     = "phx_close"
	eventHeartbeat = "heartbeat"

	phoenixTopic = "phoenix"
	topicPrefix  = "realtime:"
	protocolVsn  = "1.0.0"
)

// Frame is one message on the socket in both directions.
type Frame struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref,omitempty"`
	JoinRef string          `json:"join_ref,omitempty"`
}

type replyPayload struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response,omitempty"`
}

type joinPayload struct {
	Config      map[string]any `json:"config"`
	AccessToken string         `json:"access_token,omitempty"`
}

// TopicFor returns the wire topic used for a channel name.
func TopicFor(name string) string {
	return topicPrefix + name
}

func newRef() string {
	return uuid.NewString()
}

var emptyPayload = json.RawMessage(`{}`)

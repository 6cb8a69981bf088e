// Package realtime is a client for the backend's Phoenix-channel realtime
// service: channel joins, presence tracking and postgres change feeds over
// one websocket.
package realtime

import (
	"encoding/json"
	"errors"
)

// Phoenix channel events.
const (
	EventJoin      = "phx_join"
	EventReply     = "phx_reply"
	EventLeave     = "phx_leave"
	EventClose     = "phx_close"
	EventError     = "phx_error"
	EventHeartbeat = "heartbeat"
	EventAuth      = "access_token"

	EventPresence        = "presence"
	EventPresenceState   = "presence_state"
	EventPresenceDiff    = "presence_diff"
	EventPostgresChanges = "postgres_changes"
	EventSystem          = "system"
)

const (
	phoenixTopic = "phoenix"
	topicPrefix  = "realtime:"
	protocolVsn  = "1.0.0"
)

// Message is one frame on the socket.
type Message struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref,omitempty"`
	JoinRef string          `json:"join_ref,omitempty"`
}

type replyPayload struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

// SubscribeStatus is reported to Subscribe callbacks.
type SubscribeStatus string

const (
	StatusSubscribed   SubscribeStatus = "SUBSCRIBED"
	StatusTimedOut     SubscribeStatus = "TIMED_OUT"
	StatusClosed       SubscribeStatus = "CLOSED"
	StatusChannelError SubscribeStatus = "CHANNEL_ERROR"
)

var (
	// ErrNotJoined is returned for pushes on a channel that is not joined.
	ErrNotJoined = errors.New("channel not joined")
	// ErrNotConnected is returned when the socket is down.
	ErrNotConnected = errors.New("realtime socket not connected")
	// ErrConnectionLost is reported to channels when the socket drops.
	ErrConnectionLost = errors.New("realtime connection lost")
	// ErrChannel is reported when the server crashes a channel.
	ErrChannel = errors.New("realtime channel error")
)

// BestEffort is the outcome of a fire-and-forget push. Sent means the frame
// reached the socket, not that the server applied it.
type BestEffort struct {
	Sent bool
	Err  error
}

// OK reports whether the frame was written.
func (b BestEffort) OK() bool { return b.Sent && b.Err == nil }

// PostgresChangeFilter subscribes a channel to row changes.
type PostgresChangeFilter struct {
	Event  string `json:"event"`
	Schema string `json:"schema"`
	Table  string `json:"table"`
	Filter string `json:"filter,omitempty"`
}

// ChannelOptions configure a channel's join.
type ChannelOptions struct {
	PresenceKey     string
	PostgresChanges []PostgresChangeFilter
}

type joinConfig struct {
	Broadcast struct {
		Ack  bool `json:"ack"`
		Self bool `json:"self"`
	} `json:"broadcast"`
	Presence struct {
		Key string `json:"key"`
	} `json:"presence"`
	PostgresChanges []PostgresChangeFilter `json:"postgres_changes"`
}

type joinPayload struct {
	Config      joinConfig `json:"config"`
	AccessToken string     `json:"access_token,omitempty"`
}

// Change is one postgres_changes event.
type Change struct {
	Type            string          `json:"type"`
	Schema          string          `json:"schema"`
	Table           string          `json:"table"`
	CommitTimestamp string          `json:"commit_timestamp"`
	Record          json.RawMessage `json:"record"`
	OldRecord       json.RawMessage `json:"old_record,omitempty"`
}

type changesPayload struct {
	IDs  []int64 `json:"ids"`
	Data Change  `json:"data"`
}

type presencePush struct {
	Type    string         `json:"type"`
	Event   string         `json:"event"`
	Payload map[string]any `json:"payload,omitempty"`
}

package bus

import "time"

// Event kinds published by the daemon. Subscribers filter by prefix, so
// every kind is namespaced ("network.", "sync.", "presence.", ...).
const (
	KindNetworkOnline  = "network.online"
	KindNetworkOffline = "network.offline"

	KindSyncState          = "sync.state"
	KindSyncToast          = "sync.toast"
	KindSyncPartialFailure = "sync.partial_failure"

	KindPresenceChanged = "presence.changed"
	KindTypingChanged   = "typing.changed"

	KindChannelStateChanged = "channel.state_changed"

	KindMessageInserted = "realtime.message_inserted"

	KindNotificationShow = "notification.show"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

package store

import "time"

// PendingMessage is a message composed while offline that the backend has
// not acknowledged yet. Entries are immutable once queued; TempID is the
// only handle used to remove one.
type PendingMessage struct {
	Seq              int64
	TempID           string
	ConversationID   string
	Content          *string
	MediaURL         *string
	MediaType        *string
	ReplyToMessageID *string
	CreatedAtLocal   time.Time
}

package outbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/golaco/internal/store"
	"go.uber.org/zap"
)

var (
	ErrNoConversation = errors.New("conversation id is required")
	ErrEmptyMessage   = errors.New("message has no content or media")
)

// Draft is a message the user asked to send.
type Draft struct {
	// TempID is optional; one is generated when empty.
	TempID           string
	ConversationID   string
	Content          *string
	MediaURL         *string
	MediaType        *string
	ReplyToMessageID *string
}

// SendResult tells the caller where the message ended up.
type SendResult struct {
	TempID string
	Sent   bool
	Queued bool
}

// Send inserts the message directly when online and nothing is queued
// ahead of it. Otherwise, and when the backend rejects the direct insert,
// the message joins the queue behind older entries and a drain is
// scheduled if online. Only a queue write failure is returned as an error.
func (s *Syncer) Send(ctx context.Context, d Draft) (SendResult, error) {
	if !s.auth.Authenticated() {
		return SendResult{}, ErrNotAuthenticated
	}
	if d.ConversationID == "" {
		return SendResult{}, ErrNoConversation
	}
	if blank(d.Content) && blank(d.MediaURL) {
		return SendResult{}, ErrEmptyMessage
	}
	if d.TempID == "" {
		d.TempID = uuid.NewString()
	}

	pm := &store.PendingMessage{
		TempID:           d.TempID,
		ConversationID:   d.ConversationID,
		Content:          d.Content,
		MediaURL:         d.MediaURL,
		MediaType:        d.MediaType,
		ReplyToMessageID: d.ReplyToMessageID,
		CreatedAtLocal:   time.Now(),
	}

	online := s.net.IsOnline()
	if online && s.queueEmpty() {
		err := s.backend.InsertMessage(ctx, toNewMessage(*pm, s.auth.UserID()))
		if err == nil {
			return SendResult{TempID: d.TempID, Sent: true}, nil
		}
		s.logger.Warn("direct send failed, queueing", zap.String("temp_id", d.TempID), zap.Error(err))
	}

	if err := s.queue.EnqueuePending(pm); err != nil {
		return SendResult{TempID: d.TempID}, fmt.Errorf("queue message: %w", err)
	}
	s.logger.Info("message queued", zap.String("temp_id", d.TempID), zap.String("conversation_id", d.ConversationID))
	s.publishState(s.syncing.Load())
	if online {
		s.trigger("send")
	}
	return SendResult{TempID: d.TempID, Queued: true}, nil
}

// queueEmpty reports whether no message waits in the queue. An unreadable
// queue counts as non-empty so the message is ordered behind it.
func (s *Syncer) queueEmpty() bool {
	n, err := s.queue.PendingCount()
	if err != nil {
		s.logger.Warn("failed to count pending messages", zap.Error(err))
		return false
	}
	return n == 0
}

func blank(s *string) bool {
	return s == nil || strings.TrimSpace(*s) == ""
}

// Package backend talks to the hosted relational store: message inserts,
// participant checks and profile lookups.
package backend

import (
	"context"
	"errors"
	"fmt"
)

// NewMessage is the row written for every sent message.
type NewMessage struct {
	ConversationID   string  `json:"conversation_id"`
	SenderID         string  `json:"sender_id"`
	Content          *string `json:"content"`
	MediaURL         *string `json:"media_url"`
	MediaType        *string `json:"media_type"`
	ReplyToMessageID *string `json:"reply_to_message_id"`
}

// Profile is a user's public display profile.
type Profile struct {
	ID        string `json:"id,omitempty"`
	FullName  string `json:"full_name"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatar_url"`
}

// DisplayName returns the best human-readable name for the profile.
func (p *Profile) DisplayName() string {
	if p == nil {
		return ""
	}
	if p.FullName != "" {
		return p.FullName
	}
	return p.Username
}

// Backend is the remote store used by the daemon.
type Backend interface {
	InsertMessage(ctx context.Context, m NewMessage) error
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
	GetProfile(ctx context.Context, userID string) (*Profile, error)
	Health(ctx context.Context) error
}

// APIError is a non-2xx response from the REST backend.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend: status %d: %s", e.Status, e.Message)
}

// ErrProfileNotFound is returned by GetProfile for unknown users.
var ErrProfileNotFound = errors.New("profile not found")

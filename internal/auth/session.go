// Package auth holds the signed-in user's access token for the daemon.
//
// Tokens are issued and verified by the backend. The daemon only needs the
// identity inside, so the token is parsed without signature verification.
package auth

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrNoSession is returned when no access token has been set.
	ErrNoSession = errors.New("no active session")
	// ErrNoSubject is returned for tokens without a sub claim.
	ErrNoSubject = errors.New("access token has no subject")
	// ErrExpired is returned by Set for a token whose exp has passed.
	ErrExpired = errors.New("access token has expired")
)

// Claims are the access-token claims the daemon reads.
type Claims struct {
	Email        string       `json:"email,omitempty"`
	UserMetadata UserMetadata `json:"user_metadata"`
	jwt.RegisteredClaims
}

// UserMetadata is the profile blob the auth service embeds in tokens.
type UserMetadata struct {
	Username string `json:"username,omitempty"`
	FullName string `json:"full_name,omitempty"`
}

// Identity is the current user as known to the daemon.
type Identity struct {
	UserID    string
	Email     string
	Username  string
	Token     string
	ExpiresAt time.Time
}

// Expired reports whether the token's exp has passed. Tokens without exp
// never expire.
func (id Identity) Expired(now time.Time) bool {
	return !id.ExpiresAt.IsZero() && !now.Before(id.ExpiresAt)
}

// Store holds the current identity and notifies listeners when it changes.
type Store struct {
	mu        sync.RWMutex
	identity  *Identity
	listeners map[int]func(Identity, bool)
	nextID    int
	now       func() time.Time
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{
		listeners: make(map[int]func(Identity, bool)),
		now:       time.Now,
	}
}

// Parse extracts the identity from an access token.
func Parse(token string) (Identity, error) {
	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return Identity{}, fmt.Errorf("parse access token: %w", err)
	}
	if claims.Subject == "" {
		return Identity{}, ErrNoSubject
	}
	id := Identity{
		UserID:   claims.Subject,
		Email:    claims.Email,
		Username: claims.UserMetadata.Username,
		Token:    token,
	}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
	}
	return id, nil
}

// Set replaces the session with the identity in token. An expired token
// is rejected and leaves the current session untouched.
func (s *Store) Set(token string) (Identity, error) {
	id, err := Parse(token)
	if err != nil {
		return Identity{}, err
	}
	if id.Expired(s.now()) {
		return Identity{}, fmt.Errorf("%w at %s", ErrExpired, id.ExpiresAt.UTC().Format(time.RFC3339))
	}
	s.mu.Lock()
	s.identity = &id
	fns := s.snapshot()
	s.mu.Unlock()

	for _, fn := range fns {
		fn(id, true)
	}
	return id, nil
}

// Clear signs the session out.
func (s *Store) Clear() {
	s.mu.Lock()
	if s.identity == nil {
		s.mu.Unlock()
		return
	}
	s.identity = nil
	fns := s.snapshot()
	s.mu.Unlock()

	for _, fn := range fns {
		fn(Identity{}, false)
	}
}

// Current returns the identity and whether one is set and unexpired.
func (s *Store) Current() (Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.identity == nil || s.identity.Expired(s.now()) {
		return Identity{}, false
	}
	return *s.identity, true
}

// Authenticated reports whether a valid session is present.
func (s *Store) Authenticated() bool {
	_, ok := s.Current()
	return ok
}

// UserID returns the current user id or "" when signed out.
func (s *Store) UserID() string {
	id, _ := s.Current()
	return id.UserID
}

// Token returns the raw access token or ErrNoSession.
func (s *Store) Token() (string, error) {
	id, ok := s.Current()
	if !ok {
		return "", ErrNoSession
	}
	return id.Token, nil
}

// OnChange registers fn to run after every Set or Clear.
func (s *Store) OnChange(fn func(id Identity, signedIn bool)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Store) snapshot() []func(Identity, bool) {
	fns := make([]func(Identity, bool), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	return fns
}

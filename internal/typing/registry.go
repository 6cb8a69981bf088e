package typing

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/matheus3301/golaco/internal/bus"
	"github.com/matheus3301/golaco/internal/realtime"
	"go.uber.org/zap"
)

// ErrNoIdentity is returned when opening a conversation while signed out.
var ErrNoIdentity = errors.New("typing requires a signed-in user")

// IdentityFunc returns the local user, or false when signed out.
type IdentityFunc func() (Self, bool)

type registryEntry struct {
	b    *Broadcaster
	refs int
}

// Registry shares one Broadcaster per open conversation.
type Registry struct {
	open       realtime.ChannelOpener
	identity   IdentityFunc
	staleAfter time.Duration
	bus        *bus.Bus
	logger     *zap.Logger

	mu      sync.Mutex
	entries map[string]*registryEntry
}

// NewRegistry creates an empty registry.
func NewRegistry(open realtime.ChannelOpener, identity IdentityFunc, staleAfter time.Duration, b *bus.Bus, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		open:       open,
		identity:   identity,
		staleAfter: staleAfter,
		bus:        b,
		logger:     logger,
		entries:    make(map[string]*registryEntry),
	}
}

// Open returns the conversation's broadcaster, starting it on first use.
func (r *Registry) Open(conversationID string) (*Broadcaster, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[conversationID]; ok {
		e.refs++
		return e.b, nil
	}
	self, ok := r.identity()
	if !ok {
		return nil, ErrNoIdentity
	}
	b := NewBroadcaster(r.open, conversationID, self, r.staleAfter, r.bus, r.logger)
	b.Start()
	r.entries[conversationID] = &registryEntry{b: b, refs: 1}
	r.logger.Debug("typing channel opened", zap.String("conversation_id", conversationID))
	return b, nil
}

// Get returns an already open broadcaster.
func (r *Registry) Get(conversationID string) (*Broadcaster, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[conversationID]
	if !ok {
		return nil, false
	}
	return e.b, true
}

// Release drops one reference and closes the channel when none remain.
// It reports whether the conversation was open.
func (r *Registry) Release(conversationID string) bool {
	r.mu.Lock()
	e, ok := r.entries[conversationID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	e.refs--
	if e.refs > 0 {
		r.mu.Unlock()
		return true
	}
	delete(r.entries, conversationID)
	r.mu.Unlock()

	e.b.Close()
	r.logger.Debug("typing channel closed", zap.String("conversation_id", conversationID))
	return true
}

// Conversations returns the ids of open conversations, sorted.
func (r *Registry) Conversations() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// CloseAll closes every broadcaster regardless of references.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*registryEntry)
	r.mu.Unlock()

	for _, e := range entries {
		e.b.Close()
	}
}

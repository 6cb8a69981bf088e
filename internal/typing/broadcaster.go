// Package typing broadcasts the local user's "is typing" flag per
// conversation and exposes who else is typing.
package typing

import (
	"sync"
	"time"

	"github.com/matheus3301/golaco/internal/bus"
	"github.com/matheus3301/golaco/internal/realtime"
	"github.com/matheus3301/golaco/internal/status"
	"go.uber.org/zap"
)

// TopicPrefix prefixes per-conversation typing channels.
const TopicPrefix = "typing:"

// Self identifies the local user on typing channels.
type Self struct {
	UserID   string
	Username string
}

// User is another participant currently typing.
type User struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// Changed is the payload of typing.changed.
type Changed struct {
	ConversationID string `json:"conversation_id"`
	Users          []User `json:"users"`
}

type entry struct {
	user      User
	typing    bool
	updatedAt time.Time
}

// Broadcaster owns one conversation's typing channel.
type Broadcaster struct {
	conversationID string
	self           Self
	staleAfter     time.Duration
	ch             realtime.PresenceChannel
	machine        *status.Machine
	bus            *bus.Bus
	logger         *zap.Logger
	now            func() time.Time

	mu      sync.RWMutex
	entries []entry
	shown   []User
	expiry  *time.Timer
	closed  bool
}

// NewBroadcaster opens the typing channel for conversationID. staleAfter,
// when non-zero, hides typing flags not refreshed within that window.
func NewBroadcaster(open realtime.ChannelOpener, conversationID string, self Self, staleAfter time.Duration, b *bus.Bus, logger *zap.Logger) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	topic := TopicPrefix + conversationID
	return &Broadcaster{
		conversationID: conversationID,
		self:           self,
		staleAfter:     staleAfter,
		ch:             open(topic, realtime.ChannelOptions{PresenceKey: self.UserID}),
		machine:        status.NewMachine(topic, b),
		bus:            b,
		logger:         logger.With(zap.String("conversation_id", conversationID)),
		now:            time.Now,
	}
}

// ConversationID returns the conversation this broadcaster serves.
func (b *Broadcaster) ConversationID() string { return b.conversationID }

// State returns the channel lifecycle state.
func (b *Broadcaster) State() status.State { return b.machine.Current() }

// Start subscribes and announces isTyping=false once joined.
func (b *Broadcaster) Start() {
	b.ch.OnPresenceSync(b.rebuild)
	b.ch.OnPresenceJoin(func(string, []realtime.Meta, []realtime.Meta) { b.rebuild() })
	b.ch.OnPresenceLeave(func(string, []realtime.Meta, []realtime.Meta) { b.rebuild() })

	_ = b.machine.Transition(status.Subscribing)
	b.ch.Subscribe(func(st realtime.SubscribeStatus, err error) {
		if st != realtime.StatusSubscribed {
			b.logger.Debug("typing channel not subscribed", zap.String("status", string(st)), zap.Error(err))
			b.machine.Follow(false)
			// Nobody is shown typing while the channel is down.
			b.setEntries(nil)
			return
		}
		b.machine.Follow(true)
		if res := b.track(false); !res.OK() {
			b.logger.Debug("typing track failed", zap.Error(res.Err))
		}
	})
}

// StartTyping announces that the local user is typing. Not retried.
func (b *Broadcaster) StartTyping() realtime.BestEffort {
	return b.track(true)
}

// StopTyping announces that the local user stopped typing. Not retried.
func (b *Broadcaster) StopTyping() realtime.BestEffort {
	return b.track(false)
}

func (b *Broadcaster) track(typing bool) realtime.BestEffort {
	return b.ch.Track(map[string]any{
		"user_id":    b.self.UserID,
		"username":   b.self.Username,
		"isTyping":   typing,
		"updated_at": b.now().UTC().Format(time.RFC3339Nano),
	})
}

// TypingUsers returns the other participants flagged as typing, sorted by
// user id.
func (b *Broadcaster) TypingUsers() []User {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.visibleLocked()
}

// IsAnyoneTyping reports whether TypingUsers is non-empty.
func (b *Broadcaster) IsAnyoneTyping() bool {
	return len(b.TypingUsers()) > 0
}

// Close leaves the channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.entries = nil
	b.shown = nil
	if b.expiry != nil {
		b.expiry.Stop()
		b.expiry = nil
	}
	b.mu.Unlock()

	if res := b.ch.Untrack(); !res.OK() {
		b.logger.Debug("typing untrack not sent", zap.Error(res.Err))
	}
	b.ch.Unsubscribe()
	b.machine.Reset()
}

func (b *Broadcaster) rebuild() {
	state := b.ch.PresenceState()
	entries := make([]entry, 0, len(state))
	for _, key := range state.Keys() {
		metas := state[key]
		if key == b.self.UserID || len(metas) == 0 {
			continue
		}
		// Latest meta wins when a user has several devices.
		m := metas[len(metas)-1]
		if id, _ := m["user_id"].(string); id == b.self.UserID {
			continue
		}
		e := entry{user: User{UserID: key}}
		e.user.Username, _ = m["username"].(string)
		e.typing, _ = m["isTyping"].(bool)
		if ts, ok := m["updated_at"].(string); ok {
			e.updatedAt, _ = time.Parse(time.RFC3339Nano, ts)
		}
		entries = append(entries, e)
	}
	b.setEntries(entries)
}

func (b *Broadcaster) setEntries(entries []entry) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.entries = entries
	b.mu.Unlock()
	b.refresh()
}

// refresh publishes typing.changed when the visible set differs from the
// last one published, and arms a timer for the next flag to go stale.
func (b *Broadcaster) refresh() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	users := b.visibleLocked()
	changed := !sameUsers(b.shown, users)
	b.shown = users
	b.scheduleExpiryLocked()
	b.mu.Unlock()

	if changed {
		b.bus.Emit(bus.KindTypingChanged, Changed{ConversationID: b.conversationID, Users: users})
	}
}

func (b *Broadcaster) scheduleExpiryLocked() {
	if b.expiry != nil {
		b.expiry.Stop()
		b.expiry = nil
	}
	if b.staleAfter <= 0 {
		return
	}
	now := b.now()
	var next time.Time
	for _, e := range b.entries {
		if !e.typing || e.updatedAt.IsZero() {
			continue
		}
		at := e.updatedAt.Add(b.staleAfter)
		if at.Before(now) {
			continue
		}
		if next.IsZero() || at.Before(next) {
			next = at
		}
	}
	if next.IsZero() {
		return
	}
	b.expiry = time.AfterFunc(next.Sub(now)+time.Millisecond, b.refresh)
}

func (b *Broadcaster) visibleLocked() []User {
	now := b.now()
	users := make([]User, 0, len(b.entries))
	for _, e := range b.entries {
		if !e.typing {
			continue
		}
		if b.staleAfter > 0 && !e.updatedAt.IsZero() && now.Sub(e.updatedAt) > b.staleAfter {
			continue
		}
		users = append(users, e.user)
	}
	return users
}

func sameUsers(a, b []User) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

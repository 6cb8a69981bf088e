// Package presence maintains the set of users currently online, fed by the
// global presence channel.
package presence

import (
	"sort"
	"sync"
	"time"

	"github.com/matheus3301/golaco/internal/bus"
	"github.com/matheus3301/golaco/internal/realtime"
	"github.com/matheus3301/golaco/internal/status"
	"go.uber.org/zap"
)

// Topic is the global presence channel every client joins.
const Topic = "online-users"

// Changed is the payload of presence.changed.
type Changed struct {
	Online []string `json:"online"`
}

// Aggregator mirrors the online-users channel into a set of user ids.
type Aggregator struct {
	open    realtime.ChannelOpener
	bus     *bus.Bus
	logger  *zap.Logger
	machine *status.Machine
	now     func() time.Time

	mu     sync.RWMutex
	ch     realtime.PresenceChannel
	userID string
	online map[string]struct{}
}

// New creates an aggregator. Start joins the channel.
func New(open realtime.ChannelOpener, b *bus.Bus, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		open:    open,
		bus:     b,
		logger:  logger.With(zap.String("channel", Topic)),
		machine: status.NewMachine(Topic, b),
		now:     time.Now,
		online:  make(map[string]struct{}),
	}
}

// Start joins the presence channel as userID. Calling Start again switches
// identity.
func (a *Aggregator) Start(userID string) {
	a.Close()

	ch := a.open(Topic, realtime.ChannelOptions{PresenceKey: userID})
	ch.OnPresenceSync(func() { a.rebuild(ch.PresenceState()) })
	ch.OnPresenceJoin(func(key string, _, _ []realtime.Meta) { a.add(key) })
	ch.OnPresenceLeave(func(key string, current, _ []realtime.Meta) {
		if len(current) == 0 {
			a.remove(key)
		}
	})

	a.mu.Lock()
	a.ch = ch
	a.userID = userID
	a.mu.Unlock()

	_ = a.machine.Transition(status.Subscribing)
	ch.Subscribe(func(st realtime.SubscribeStatus, err error) { a.onStatus(ch, userID, st, err) })
}

func (a *Aggregator) onStatus(ch realtime.PresenceChannel, userID string, st realtime.SubscribeStatus, err error) {
	if st != realtime.StatusSubscribed {
		a.logger.Warn("presence channel not subscribed", zap.String("status", string(st)), zap.Error(err))
		a.machine.Follow(false)
		a.clear()
		return
	}
	a.machine.Follow(true)
	res := ch.Track(map[string]any{
		"user_id":   userID,
		"online_at": a.now().UTC().Format(time.RFC3339),
	})
	if !res.OK() {
		a.logger.Warn("presence track failed", zap.Error(res.Err))
	}
}

// Close leaves the channel and forgets every online user.
func (a *Aggregator) Close() {
	a.mu.Lock()
	ch := a.ch
	a.ch = nil
	a.mu.Unlock()

	if ch != nil {
		if res := ch.Untrack(); !res.OK() {
			a.logger.Debug("presence untrack not sent", zap.Error(res.Err))
		}
		ch.Unsubscribe()
	}
	a.machine.Reset()
	a.clear()
}

// clear forgets every online user. The next sync after a rejoin rebuilds
// the set.
func (a *Aggregator) clear() {
	a.mu.Lock()
	hadUsers := len(a.online) > 0
	a.online = make(map[string]struct{})
	a.mu.Unlock()
	if hadUsers {
		a.publish()
	}
}

// State returns the channel lifecycle state.
func (a *Aggregator) State() status.State {
	return a.machine.Current()
}

// OnlineUsers returns the online user ids in sorted order.
func (a *Aggregator) OnlineUsers() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.sortedLocked()
}

// IsUserOnline reports whether userID has at least one live presence.
func (a *Aggregator) IsUserOnline(userID string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.online[userID]
	return ok
}

func (a *Aggregator) rebuild(state realtime.PresenceState) {
	set := make(map[string]struct{}, len(state))
	for key := range state {
		set[key] = struct{}{}
	}
	a.mu.Lock()
	a.online = set
	a.mu.Unlock()
	a.publish()
}

func (a *Aggregator) add(userID string) {
	a.mu.Lock()
	a.online[userID] = struct{}{}
	a.mu.Unlock()
	a.publish()
}

func (a *Aggregator) remove(userID string) {
	a.mu.Lock()
	delete(a.online, userID)
	a.mu.Unlock()
	a.publish()
}

func (a *Aggregator) publish() {
	a.bus.Emit(bus.KindPresenceChanged, Changed{Online: a.OnlineUsers()})
}

func (a *Aggregator) sortedLocked() []string {
	ids := make([]string, 0, len(a.online))
	for id := range a.online {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

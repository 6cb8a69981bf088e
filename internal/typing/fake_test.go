package typing

import (
	"sync"

	"github.com/matheus3301/golaco/internal/realtime"
)

type fakeChannel struct {
	mu           sync.Mutex
	topic        string
	opts         realtime.ChannelOptions
	state        realtime.PresenceState
	status       func(realtime.SubscribeStatus, error)
	onSync       []func()
	tracked      []map[string]any
	untracked    bool
	unsubscribed bool
	ref          int
}

func (f *fakeChannel) Topic() string { return f.topic }

func (f *fakeChannel) Subscribe(cb func(realtime.SubscribeStatus, error)) {
	f.mu.Lock()
	f.status = cb
	f.mu.Unlock()
}

func (f *fakeChannel) Unsubscribe() {
	f.mu.Lock()
	f.unsubscribed = true
	f.mu.Unlock()
}

// Track echoes the payload into the presence state under the presence key,
// the way the server would after a round trip.
func (f *fakeChannel) Track(payload map[string]any) realtime.BestEffort {
	f.mu.Lock()
	f.tracked = append(f.tracked, payload)
	f.ref++
	m := realtime.Meta{"phx_ref": "self"}
	for k, v := range payload {
		m[k] = v
	}
	f.state[f.opts.PresenceKey] = []realtime.Meta{m}
	f.mu.Unlock()
	f.fireSync()
	return realtime.BestEffort{Sent: true}
}

func (f *fakeChannel) Untrack() realtime.BestEffort {
	f.mu.Lock()
	f.untracked = true
	f.mu.Unlock()
	return realtime.BestEffort{Sent: true}
}

func (f *fakeChannel) OnPresenceSync(fn func())           { f.onSync = append(f.onSync, fn) }
func (f *fakeChannel) OnPresenceJoin(realtime.JoinFunc)   {}
func (f *fakeChannel) OnPresenceLeave(realtime.LeaveFunc) {}

func (f *fakeChannel) PresenceState() realtime.PresenceState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state.Clone()
}

func (f *fakeChannel) setStatus(st realtime.SubscribeStatus) {
	f.mu.Lock()
	cb := f.status
	f.mu.Unlock()
	cb(st, nil)
}

// put sets a remote user's single meta and fires sync.
func (f *fakeChannel) put(userID string, meta realtime.Meta) {
	f.mu.Lock()
	f.state[userID] = []realtime.Meta{meta}
	f.mu.Unlock()
	f.fireSync()
}

func (f *fakeChannel) drop(userID string) {
	f.mu.Lock()
	delete(f.state, userID)
	f.mu.Unlock()
	f.fireSync()
}

func (f *fakeChannel) fireSync() {
	for _, fn := range f.onSync {
		fn()
	}
}

type opener struct {
	mu     sync.Mutex
	opened []*fakeChannel
}

func (o *opener) open(name string, opts realtime.ChannelOptions) realtime.PresenceChannel {
	ch := &fakeChannel{topic: name, opts: opts, state: realtime.PresenceState{}}
	o.mu.Lock()
	o.opened = append(o.opened, ch)
	o.mu.Unlock()
	return ch
}

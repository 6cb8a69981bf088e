package presence

import (
	"sync"

	"github.com/matheus3301/golaco/internal/realtime"
)

// fakeChannel is an in-memory PresenceChannel driven by the test.
type fakeChannel struct {
	mu           sync.Mutex
	topic        string
	opts         realtime.ChannelOptions
	state        realtime.PresenceState
	status       func(realtime.SubscribeStatus, error)
	onSync       []func()
	onJoin       []realtime.JoinFunc
	onLeave      []realtime.LeaveFunc
	tracked      []map[string]any
	trackErr     error
	untracked    bool
	unsubscribed bool
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

func (f *fakeChannel) Track(payload map[string]any) realtime.BestEffort {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.trackErr != nil {
		return realtime.BestEffort{Err: f.trackErr}
	}
	f.tracked = append(f.tracked, payload)
	return realtime.BestEffort{Sent: true}
}

func (f *fakeChannel) Untrack() realtime.BestEffort {
	f.mu.Lock()
	f.untracked = true
	f.mu.Unlock()
	return realtime.BestEffort{Sent: true}
}

func (f *fakeChannel) OnPresenceSync(fn func())              { f.onSync = append(f.onSync, fn) }
func (f *fakeChannel) OnPresenceJoin(fn realtime.JoinFunc)   { f.onJoin = append(f.onJoin, fn) }
func (f *fakeChannel) OnPresenceLeave(fn realtime.LeaveFunc) { f.onLeave = append(f.onLeave, fn) }

func (f *fakeChannel) PresenceState() realtime.PresenceState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state.Clone()
}

func (f *fakeChannel) setStatus(st realtime.SubscribeStatus, err error) {
	f.mu.Lock()
	cb := f.status
	f.mu.Unlock()
	cb(st, err)
}

// sync replaces the state and fires sync.
func (f *fakeChannel) sync(state realtime.PresenceState) {
	f.mu.Lock()
	f.state = state
	f.mu.Unlock()
	for _, fn := range f.onSync {
		fn()
	}
}

// leave removes one meta ref from key, then fires leave and sync.
func (f *fakeChannel) leave(key, ref string) {
	f.mu.Lock()
	var remaining, left []realtime.Meta
	for _, m := range f.state[key] {
		if m.Ref() == ref {
			left = append(left, m)
		} else {
			remaining = append(remaining, m)
		}
	}
	if len(remaining) == 0 {
		delete(f.state, key)
	} else {
		f.state[key] = remaining
	}
	f.mu.Unlock()
	for _, fn := range f.onLeave {
		fn(key, remaining, left)
	}
	for _, fn := range f.onSync {
		fn()
	}
}

// join adds a meta under key, then fires join and sync.
func (f *fakeChannel) join(key string, meta realtime.Meta) {
	f.mu.Lock()
	if f.state == nil {
		f.state = realtime.PresenceState{}
	}
	cur := f.state[key]
	f.state[key] = append(append([]realtime.Meta(nil), cur...), meta)
	f.mu.Unlock()
	for _, fn := range f.onJoin {
		fn(key, cur, []realtime.Meta{meta})
	}
	for _, fn := range f.onSync {
		fn()
	}
}

type opener struct {
	opened []*fakeChannel
}

func (o *opener) open(name string, opts realtime.ChannelOptions) realtime.PresenceChannel {
	ch := &fakeChannel{topic: name, opts: opts, state: realtime.PresenceState{}}
	o.opened = append(o.opened, ch)
	return ch
}

func meta(ref string, kv ...any) realtime.Meta {
	m := realtime.Meta{"phx_ref": ref}
	for i := 0; i+1 < len(kv); i += 2 {
		m[kv[i].(string)] = kv[i+1]
	}
	return m
}

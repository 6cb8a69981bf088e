package presence

import (
	"errors"
	"testing"
	"time"

	"github.com/matheus3301/golaco/internal/bus"
	"github.com/matheus3301/golaco/internal/realtime"
	"github.com/matheus3301/golaco/internal/status"
)

func started(t *testing.T, b *bus.Bus) (*Aggregator, *fakeChannel) {
	t.Helper()
	o := &opener{}
	a := New(o.open, b, nil)
	a.Start("me")
	if len(o.opened) != 1 {
		t.Fatalf("opened %d channels, want 1", len(o.opened))
	}
	ch := o.opened[0]
	if ch.topic != Topic || ch.opts.PresenceKey != "me" {
		t.Errorf("channel = %q key %q", ch.topic, ch.opts.PresenceKey)
	}
	return a, ch
}

func TestTracksSelfOnSubscribe(t *testing.T) {
	a, ch := started(t, nil)
	if a.State() != status.Subscribing {
		t.Errorf("state = %s, want SUBSCRIBING", a.State())
	}

	ch.setStatus(realtime.StatusSubscribed, nil)
	if a.State() != status.Subscribed {
		t.Errorf("state = %s, want SUBSCRIBED", a.State())
	}
	if len(ch.tracked) != 1 || ch.tracked[0]["user_id"] != "me" || ch.tracked[0]["online_at"] == "" {
		t.Errorf("tracked = %v", ch.tracked)
	}
}

func TestTrackFailureIsTolerated(t *testing.T) {
	a, ch := started(t, nil)
	ch.trackErr = errors.New("socket closed")

	ch.setStatus(realtime.StatusSubscribed, nil)
	if a.State() != status.Subscribed {
		t.Errorf("state = %s, want SUBSCRIBED despite failed track", a.State())
	}
	ch.sync(realtime.PresenceState{"other": {meta("1")}})
	if !a.IsUserOnline("other") {
		t.Error("aggregator stopped working after a failed track")
	}
}

func TestSyncThenLeaveConverges(t *testing.T) {
	a, ch := started(t, nil)
	ch.setStatus(realtime.StatusSubscribed, nil)

	ch.sync(realtime.PresenceState{"A": {meta("a1")}, "B": {meta("b1")}})
	if !a.IsUserOnline("A") || !a.IsUserOnline("B") {
		t.Fatalf("online = %v, want A and B", a.OnlineUsers())
	}

	ch.leave("A", "a1")
	if a.IsUserOnline("A") {
		t.Error("A still online after leave")
	}
	if !a.IsUserOnline("B") {
		t.Error("B dropped by A's leave")
	}
}

func TestTwoUsersThenOneDisconnects(t *testing.T) {
	a, ch := started(t, nil)
	ch.setStatus(realtime.StatusSubscribed, nil)

	ch.join("A", meta("a1", "user_id", "A"))
	ch.join("B", meta("b1", "user_id", "B"))
	ch.sync(ch.PresenceState())
	if got := a.OnlineUsers(); len(got) != 2 || got[0] != "A" || got[1] != "B" {
		t.Fatalf("online = %v", got)
	}

	ch.leave("B", "b1")
	if a.IsUserOnline("B") || !a.IsUserOnline("A") {
		t.Errorf("online = %v, want [A]", a.OnlineUsers())
	}
}

func TestLeaveKeepsUserWithAnotherDevice(t *testing.T) {
	a, ch := started(t, nil)
	ch.sync(realtime.PresenceState{"A": {meta("phone"), meta("laptop")}})

	ch.leave("A", "phone")
	if !a.IsUserOnline("A") {
		t.Error("A went offline while the laptop is still connected")
	}
	ch.leave("A", "laptop")
	if a.IsUserOnline("A") {
		t.Error("A still online after the last device left")
	}
}

func TestPublishesPresenceChanged(t *testing.T) {
	b := bus.New()
	events, unsub := b.Subscribe(bus.KindPresenceChanged, 10)
	defer unsub()

	_, ch := started(t, b)
	ch.sync(realtime.PresenceState{"B": {meta("1")}, "A": {meta("2")}})

	select {
	case evt := <-events:
		got := evt.Payload.(Changed).Online
		if len(got) != 2 || got[0] != "A" || got[1] != "B" {
			t.Errorf("payload = %v, want sorted [A B]", got)
		}
	case <-time.After(time.Second):
		t.Fatal("no presence.changed event")
	}
}

func TestChannelErrorThenRejoin(t *testing.T) {
	a, ch := started(t, nil)
	ch.setStatus(realtime.StatusSubscribed, nil)

	ch.setStatus(realtime.StatusChannelError, realtime.ErrConnectionLost)
	if a.State() != status.Disconnected {
		t.Errorf("state = %s, want DISCONNECTED", a.State())
	}
	ch.setStatus(realtime.StatusSubscribed, nil)
	if a.State() != status.Subscribed {
		t.Errorf("state = %s, want SUBSCRIBED after rejoin", a.State())
	}
	if len(ch.tracked) != 2 {
		t.Errorf("tracked %d times, want re-track after rejoin", len(ch.tracked))
	}
}

func TestChannelErrorClearsOnlineUsers(t *testing.T) {
	b := bus.New()
	events, unsub := b.Subscribe(bus.KindPresenceChanged, 10)
	defer unsub()

	a, ch := started(t, b)
	ch.setStatus(realtime.StatusSubscribed, nil)
	ch.sync(realtime.PresenceState{"A": {meta("1")}, "B": {meta("2")}})
	<-events

	ch.setStatus(realtime.StatusChannelError, realtime.ErrConnectionLost)
	if a.IsUserOnline("A") || len(a.OnlineUsers()) != 0 {
		t.Errorf("online = %v while disconnected, want none", a.OnlineUsers())
	}
	select {
	case evt := <-events:
		if got := evt.Payload.(Changed).Online; len(got) != 0 {
			t.Errorf("payload = %v, want empty", got)
		}
	case <-time.After(time.Second):
		t.Fatal("no presence.changed event on disconnect")
	}

	ch.setStatus(realtime.StatusSubscribed, nil)
	ch.sync(realtime.PresenceState{"A": {meta("3")}})
	if got := a.OnlineUsers(); len(got) != 1 || got[0] != "A" {
		t.Errorf("online after rejoin = %v, want [A]", got)
	}
}

func TestCloseUnsubscribes(t *testing.T) {
	a, ch := started(t, nil)
	ch.setStatus(realtime.StatusSubscribed, nil)
	ch.sync(realtime.PresenceState{"A": {meta("1")}})

	a.Close()
	if !ch.untracked || !ch.unsubscribed {
		t.Errorf("untracked = %v unsubscribed = %v, want both", ch.untracked, ch.unsubscribed)
	}
	if a.State() != status.Disconnected || len(a.OnlineUsers()) != 0 {
		t.Errorf("after Close: state = %s online = %v", a.State(), a.OnlineUsers())
	}
	a.Close()
}

package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/golaco/internal/backend"
	"github.com/matheus3301/golaco/internal/bus"
)

type fakeLookup struct {
	members     map[string]bool
	memberErr   error
	memberDelay time.Duration
	profiles    map[string]*backend.Profile
}

func (f *fakeLookup) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	if f.memberDelay > 0 {
		select {
		case <-time.After(f.memberDelay):
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	if f.memberErr != nil {
		return false, f.memberErr
	}
	return f.members[conversationID+"/"+userID], nil
}

func (f *fakeLookup) GetProfile(_ context.Context, userID string) (*backend.Profile, error) {
	if p, ok := f.profiles[userID]; ok {
		return p, nil
	}
	return nil, backend.ErrProfileNotFound
}

type recordingSurface struct {
	mu    sync.Mutex
	shown []Notification
}

func (r *recordingSurface) Show(n Notification) {
	r.mu.Lock()
	r.shown = append(r.shown, n)
	r.mu.Unlock()
}

func text(s string) *string { return &s }

func newDispatcher(lookup *fakeLookup, routes *RouteTracker, surface Surface) *Dispatcher {
	return NewDispatcher(nil, lookup, func() string { return "me" }, routes, surface,
		Config{LookupTimeout: 50 * time.Millisecond}, nil)
}

func memberLookup() *fakeLookup {
	return &fakeLookup{
		members:  map[string]bool{"c1/me": true},
		profiles: map[string]*backend.Profile{"u2": {FullName: "Bia Souza", Username: "bia"}},
	}
}

func TestHandleShowsNotification(t *testing.T) {
	surface := &recordingSurface{}
	d := newDispatcher(memberLookup(), NewRouteTracker(), surface)

	got := d.Handle(context.Background(), MessageRecord{ID: "m1", ConversationID: "c1", SenderID: "u2", Content: text("bora treinar?")})
	if got != Shown {
		t.Fatalf("decision = %s", got)
	}
	want := Notification{
		Type:           "SHOW_NOTIFICATION",
		Title:          "Bia Souza",
		Body:           "bora treinar?",
		URL:            "/messages/c1",
		ConversationID: "c1",
	}
	if len(surface.shown) != 1 || surface.shown[0] != want {
		t.Errorf("shown = %+v", surface.shown)
	}
}

func TestHandleSkips(t *testing.T) {
	tests := []struct {
		name   string
		rec    MessageRecord
		route  string
		lookup func(*fakeLookup)
		want   Decision
	}{
		{name: "self authored", rec: MessageRecord{ID: "m1", ConversationID: "c1", SenderID: "me"}, want: SkipSelf},
		{name: "viewing conversation", rec: MessageRecord{ID: "m2", ConversationID: "c1", SenderID: "u2"}, route: "/messages/c1", want: SkipViewing},
		{name: "not a participant", rec: MessageRecord{ID: "m3", ConversationID: "c9", SenderID: "u2"}, want: SkipNotMember},
		{name: "participant check error", rec: MessageRecord{ID: "m4", ConversationID: "c1", SenderID: "u2"},
			lookup: func(f *fakeLookup) { f.memberErr = errors.New("boom") }, want: SkipLookupFail},
		{name: "participant check timeout", rec: MessageRecord{ID: "m5", ConversationID: "c1", SenderID: "u2"},
			lookup: func(f *fakeLookup) { f.memberDelay = time.Second }, want: SkipLookupFail},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lookup := memberLookup()
			if tt.lookup != nil {
				tt.lookup(lookup)
			}
			routes := NewRouteTracker()
			routes.Set(tt.route)
			surface := &recordingSurface{}
			d := newDispatcher(lookup, routes, surface)

			if got := d.Handle(context.Background(), tt.rec); got != tt.want {
				t.Errorf("decision = %s, want %s", got, tt.want)
			}
			if len(surface.shown) != 0 {
				t.Errorf("shown = %+v, want nothing", surface.shown)
			}
		})
	}
}

func TestHandleSuppressesDuplicates(t *testing.T) {
	surface := &recordingSurface{}
	d := newDispatcher(memberLookup(), NewRouteTracker(), surface)
	rec := MessageRecord{ID: "m1", ConversationID: "c1", SenderID: "u2", Content: text("oi")}

	d.Handle(context.Background(), rec)
	if got := d.Handle(context.Background(), rec); got != SkipSeen {
		t.Errorf("second decision = %s, want %s", got, SkipSeen)
	}
	if len(surface.shown) != 1 {
		t.Errorf("shown %d notifications, want 1", len(surface.shown))
	}
}

func TestHandleFallsBackWhenProfileMissing(t *testing.T) {
	surface := &recordingSurface{}
	d := newDispatcher(memberLookup(), NewRouteTracker(), surface)

	d.Handle(context.Background(), MessageRecord{ID: "m1", ConversationID: "c1", SenderID: "ghost", Content: text("oi")})
	if len(surface.shown) != 1 || surface.shown[0].Title != fallbackTitle {
		t.Errorf("shown = %+v", surface.shown)
	}
}

func TestHandleSignedOut(t *testing.T) {
	d := NewDispatcher(nil, memberLookup(), func() string { return "" }, nil, &recordingSurface{}, Config{}, nil)
	if got := d.Handle(context.Background(), MessageRecord{ID: "m1", ConversationID: "c1", SenderID: "u2"}); got != SkipSignedOut {
		t.Errorf("decision = %s", got)
	}
}

func TestPreview(t *testing.T) {
	long := strings.Repeat("é", 150)
	tests := []struct {
		name string
		rec  MessageRecord
		want string
	}{
		{"text", MessageRecord{Content: text("olá")}, "olá"},
		{"long text truncated", MessageRecord{Content: text(long)}, strings.Repeat("é", 100)},
		{"image", MessageRecord{MediaURL: text("u"), MediaType: text("image")}, "📷 Foto"},
		{"video mime", MessageRecord{MediaURL: text("u"), MediaType: text("video/mp4")}, "🎥 Vídeo"},
		{"audio", MessageRecord{MediaURL: text("u"), MediaType: text("audio")}, "🎤 Áudio"},
		{"other media", MessageRecord{MediaURL: text("u"), MediaType: text("application/pdf")}, "📎 Arquivo"},
		{"media without type", MessageRecord{MediaURL: text("u")}, "📎 Arquivo"},
		{"empty", MessageRecord{}, ""},
	}
	for _, tt := range tests {
		if got := Preview(tt.rec); got != tt.want {
			t.Errorf("%s: Preview = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestDispatcherConsumesBusEvents(t *testing.T) {
	b := bus.New()
	shown, unsub := b.Subscribe(bus.KindNotificationShow, 5)
	defer unsub()

	d := NewDispatcher(b, memberLookup(), func() string { return "me" }, NewRouteTracker(), NewBusSurface(b), Config{}, nil)
	d.Start(context.Background())
	defer d.Stop()

	b.Emit(bus.KindMessageInserted, MessageRecord{ID: "m1", ConversationID: "c1", SenderID: "u2", MediaURL: text("u"), MediaType: text("image")})

	select {
	case evt := <-shown:
		n := evt.Payload.(Notification)
		if n.Body != "📷 Foto" || n.URL != "/messages/c1" {
			t.Errorf("notification = %+v", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no notification.show event")
	}
}

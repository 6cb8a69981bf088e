package api

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/matheus3301/golaco/internal/auth"
	"github.com/matheus3301/golaco/internal/bus"
	"github.com/matheus3301/golaco/internal/connectivity"
	"github.com/matheus3301/golaco/internal/notify"
	"github.com/matheus3301/golaco/internal/outbox"
	"github.com/matheus3301/golaco/internal/realtime"
	"github.com/matheus3301/golaco/internal/status"
	"github.com/matheus3301/golaco/internal/store"
	"github.com/matheus3301/golaco/internal/typing"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

type fakeOutbox struct {
	mu     sync.Mutex
	drafts []outbox.Draft
	err    error
	state  outbox.State
}

func (f *fakeOutbox) Send(_ context.Context, d outbox.Draft) (outbox.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return outbox.SendResult{}, f.err
	}
	f.drafts = append(f.drafts, d)
	return outbox.SendResult{TempID: "t-1", Queued: true}, nil
}

func (f *fakeOutbox) SyncPendingMessages(context.Context) outbox.Result {
	return outbox.Result{SuccessCount: 2, FailureRemaining: 1}
}

func (f *fakeOutbox) State() outbox.State { return f.state }

func (f *fakeOutbox) fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeOutbox) sent() []outbox.Draft {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]outbox.Draft(nil), f.drafts...)
}

type fakePending []store.PendingMessage

func (f fakePending) ListPending() ([]store.PendingMessage, error) { return f, nil }

type fakePresence struct{}

func (fakePresence) OnlineUsers() []string           { return []string{"u1", "u2"} }
func (fakePresence) IsUserOnline(userID string) bool { return userID == "u1" }
func (fakePresence) State() status.State             { return status.Subscribed }

type fakeConn bool

func (c fakeConn) Connected() bool { return bool(c) }

// echoChannel accepts every track and reflects nothing back.
type echoChannel struct{ topic string }

func (e *echoChannel) Topic() string                                      { return e.topic }
func (e *echoChannel) Subscribe(cb func(realtime.SubscribeStatus, error)) { cb(realtime.StatusSubscribed, nil) }
func (e *echoChannel) Unsubscribe()                                       {}
func (e *echoChannel) Track(map[string]any) realtime.BestEffort           { return realtime.BestEffort{Sent: true} }
func (e *echoChannel) Untrack() realtime.BestEffort                       { return realtime.BestEffort{Sent: true} }
func (e *echoChannel) OnPresenceSync(func())                              {}
func (e *echoChannel) OnPresenceJoin(realtime.JoinFunc)                   {}
func (e *echoChannel) OnPresenceLeave(realtime.LeaveFunc)                 {}
func (e *echoChannel) PresenceState() realtime.PresenceState              { return realtime.PresenceState{} }

type harness struct {
	client  *Client
	outbox  *fakeOutbox
	auth    *auth.Store
	monitor *connectivity.Monitor
	routes  *notify.RouteTracker
	bus     *bus.Bus
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	// Short path keeps the socket under the 104-byte sun_path limit on macOS.
	dir, err := os.MkdirTemp("/tmp", "golaco-api-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	socketPath := filepath.Join(dir, "d.sock")

	h := &harness{
		outbox: &fakeOutbox{state: outbox.State{Online: true, PendingCount: 3}},
		auth:   auth.NewStore(),
		routes: notify.NewRouteTracker(),
		bus:    bus.New(),
	}
	h.monitor = connectivity.NewMonitor(true, 0, h.bus, nil)

	content := "oi"
	pending := fakePending{{Seq: 1, TempID: "t-0", ConversationID: "c1", Content: &content, CreatedAtLocal: time.UnixMilli(1000)}}
	reg := typing.NewRegistry(
		func(name string, _ realtime.ChannelOptions) realtime.PresenceChannel { return &echoChannel{topic: name} },
		func() (typing.Self, bool) {
			id, ok := h.auth.Current()
			return typing.Self{UserID: id.UserID, Username: id.Username}, ok
		},
		0, h.bus, nil)

	srv := grpc.NewServer()
	for _, r := range []Registrar{
		NewOutboxService(h.outbox, pending),
		NewPresenceService(fakePresence{}, reg, h.routes),
		NewSessionService("test", h.auth, h.monitor, fakeConn(true), h.bus),
	} {
		r.Register(srv)
	}
	lis, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	h.client, err = Dial(socketPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = h.client.Close() })
	return h
}

func (h *harness) call(t *testing.T, service, method string, req map[string]any) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out, err := h.client.Call(ctx, service, method, req)
	if err != nil {
		t.Fatalf("%s/%s: %v", service, method, err)
	}
	return out
}

func (h *harness) callErr(service, method string, req map[string]any) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := h.client.Call(ctx, service, method, req)
	return err
}

func token(t *testing.T, sub, username string) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		UserMetadata: auth.UserMetadata{Username: username},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func TestSendMessage(t *testing.T) {
	h := newHarness(t)

	out := h.call(t, OutboxServiceName, "SendMessage", map[string]any{
		"conversation_id": "c1",
		"content":         "bom dia",
	})
	if out["queued"] != true || out["temp_id"] != "t-1" {
		t.Errorf("response = %v", out)
	}
	drafts := h.outbox.sent()
	if len(drafts) != 1 {
		t.Fatalf("drafts = %+v", drafts)
	}
	d := drafts[0]
	if d.ConversationID != "c1" || d.Content == nil || *d.Content != "bom dia" || d.MediaURL != nil {
		t.Errorf("draft = %+v", d)
	}
}

func TestSendMessageErrorCodes(t *testing.T) {
	tests := []struct {
		err  error
		code codes.Code
	}{
		{outbox.ErrNotAuthenticated, codes.Unauthenticated},
		{outbox.ErrEmptyMessage, codes.InvalidArgument},
		{errors.New("disk full"), codes.Internal},
	}
	for _, tt := range tests {
		h := newHarness(t)
		h.outbox.fail(tt.err)
		err := h.callErr(OutboxServiceName, "SendMessage", map[string]any{"conversation_id": "c1"})
		if got := grpcstatus.Code(err); got != tt.code {
			t.Errorf("%v: code = %v, want %v", tt.err, got, tt.code)
		}
	}
}

func TestOutboxQueries(t *testing.T) {
	h := newHarness(t)

	list := h.call(t, OutboxServiceName, "ListPending", nil)
	msgs := list["messages"].([]any)
	if len(msgs) != 1 {
		t.Fatalf("messages = %v", msgs)
	}
	first := msgs[0].(map[string]any)
	if first["temp_id"] != "t-0" || first["content"] != "oi" || first["seq"] != float64(1) {
		t.Errorf("message = %v", first)
	}
	if _, ok := first["media_url"]; ok {
		t.Error("absent media_url should be omitted")
	}

	st := h.call(t, OutboxServiceName, "GetSyncStatus", nil)
	if st["online"] != true || st["pending_count"] != float64(3) {
		t.Errorf("status = %v", st)
	}

	res := h.call(t, OutboxServiceName, "SyncNow", nil)
	if res["success_count"] != float64(2) || res["failure_remaining"] != float64(1) {
		t.Errorf("sync = %v", res)
	}
}

func TestPresenceQueries(t *testing.T) {
	h := newHarness(t)

	out := h.call(t, PresenceServiceName, "ListOnlineUsers", nil)
	if ids := out["user_ids"].([]any); len(ids) != 2 || out["state"] != "SUBSCRIBED" {
		t.Errorf("online = %v", out)
	}
	if out := h.call(t, PresenceServiceName, "IsUserOnline", map[string]any{"user_id": "u1"}); out["online"] != true {
		t.Errorf("u1 online = %v", out)
	}
	if err := h.callErr(PresenceServiceName, "IsUserOnline", nil); grpcstatus.Code(err) != codes.InvalidArgument {
		t.Errorf("missing user_id: %v", err)
	}
}

func TestTypingRequiresOpenConversation(t *testing.T) {
	h := newHarness(t)
	req := map[string]any{"conversation_id": "c1"}

	if err := h.callErr(PresenceServiceName, "OpenConversation", req); grpcstatus.Code(err) != codes.Unauthenticated {
		t.Fatalf("open while signed out: %v", err)
	}
	if _, err := h.auth.Set(token(t, "me", "eu")); err != nil {
		t.Fatal(err)
	}
	if err := h.callErr(PresenceServiceName, "StartTyping", req); grpcstatus.Code(err) != codes.FailedPrecondition {
		t.Fatalf("typing before open: %v", err)
	}

	if out := h.call(t, PresenceServiceName, "OpenConversation", req); out["state"] != "SUBSCRIBED" {
		t.Errorf("open = %v", out)
	}
	if out := h.call(t, PresenceServiceName, "StartTyping", req); out["sent"] != true {
		t.Errorf("start typing = %v", out)
	}
	if out := h.call(t, PresenceServiceName, "ListTyping", req); out["any_typing"] != false {
		t.Errorf("list typing = %v", out)
	}
	if out := h.call(t, PresenceServiceName, "CloseConversation", req); out["closed"] != true {
		t.Errorf("close = %v", out)
	}
}

func TestSetRoute(t *testing.T) {
	h := newHarness(t)
	h.call(t, PresenceServiceName, "SetRoute", map[string]any{"route": "/messages/c1"})
	if got := h.routes.Current(); got != "/messages/c1" {
		t.Errorf("route = %q", got)
	}
}

func TestSessionLifecycle(t *testing.T) {
	h := newHarness(t)

	st := h.call(t, SessionServiceName, "GetStatus", nil)
	if st["session"] != "test" || st["authenticated"] != false || st["realtime_connected"] != true {
		t.Errorf("status = %v", st)
	}

	out := h.call(t, SessionServiceName, "SetSession", map[string]any{"access_token": token(t, "u9", "nove")})
	if out["user_id"] != "u9" || out["username"] != "nove" {
		t.Errorf("set session = %v", out)
	}
	if st := h.call(t, SessionServiceName, "GetStatus", nil); st["authenticated"] != true || st["user_id"] != "u9" {
		t.Errorf("status after sign in = %v", st)
	}
	if err := h.callErr(SessionServiceName, "SetSession", map[string]any{"access_token": "garbage"}); grpcstatus.Code(err) != codes.InvalidArgument {
		t.Errorf("bad token: %v", err)
	}

	h.call(t, SessionServiceName, "SetSession", map[string]any{"access_token": ""})
	if h.auth.Authenticated() {
		t.Error("empty token should sign out")
	}
}

func TestSetOnline(t *testing.T) {
	h := newHarness(t)

	out := h.call(t, SessionServiceName, "SetOnline", map[string]any{"online": false})
	if out["online"] != false || out["online_overridden"] != true {
		t.Errorf("override = %v", out)
	}
	out = h.call(t, SessionServiceName, "SetOnline", map[string]any{"clear": true})
	if out["online"] != true || out["online_overridden"] != false {
		t.Errorf("clear = %v", out)
	}
	if err := h.callErr(SessionServiceName, "SetOnline", nil); grpcstatus.Code(err) != codes.InvalidArgument {
		t.Errorf("empty request: %v", err)
	}
}

func TestWatchEvents(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan map[string]any, 4)
	done := make(chan error, 1)
	go func() {
		done <- h.client.Watch(ctx, "sync.", func(evt map[string]any) { events <- evt })
	}()

	// The subscription is registered asynchronously; publish until seen.
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case evt := <-events:
			payload := evt["payload"].(map[string]any)
			if evt["kind"] != bus.KindSyncToast || payload["text"] != "2 mensagem(s) sincronizada(s)" || evt["session"] != "test" {
				t.Errorf("event = %v", evt)
			}
			cancel()
			if err := <-done; err != nil {
				t.Errorf("watch returned %v", err)
			}
			return
		case <-tick.C:
			h.bus.Emit(bus.KindNetworkOnline, connectivity.Change{Online: true})
			h.bus.Emit(bus.KindSyncToast, outbox.Toast{Text: outbox.ToastText(2), Count: 2})
		case <-deadline:
			t.Fatal("no event received")
		}
	}
}

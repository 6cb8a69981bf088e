package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/matheus3301/golaco/internal/api"
	"github.com/matheus3301/golaco/internal/auth"
	"github.com/matheus3301/golaco/internal/config"
	"github.com/matheus3301/golaco/internal/session"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// fakeBackend answers the health probe and records message inserts.
type fakeBackend struct {
	mu       sync.Mutex
	inserted []map[string]any
}

func (f *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/auth/v1/health":
		w.WriteHeader(http.StatusOK)
	case "/rest/v1/messages":
		var m map[string]any
		_ = json.NewDecoder(r.Body).Decode(&m)
		f.mu.Lock()
		f.inserted = append(f.inserted, m)
		f.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeBackend) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inserted)
}

func testConfig(backendURL string) *config.Config {
	cfg := config.Defaults()
	cfg.Backend.URL = backendURL
	cfg.Backend.AnonKey = "anon"
	cfg.Connectivity.ProbeInterval = config.D(50 * time.Millisecond)
	cfg.Realtime.ReconnectBaseDelay = config.D(50 * time.Millisecond)
	cfg.Realtime.ReconnectMaxDelay = config.D(200 * time.Millisecond)
	return cfg
}

func accessToken(t *testing.T, sub string) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
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

func shortHome(t *testing.T) string {
	t.Helper()
	// Short path keeps the socket under the 104-byte sun_path limit on macOS.
	dir, err := os.MkdirTemp("/tmp", "golaco-d-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	t.Setenv("GOLACO_HOME", dir)
	return dir
}

func TestDaemonLifecycle(t *testing.T) {
	shortHome(t)
	be := &fakeBackend{}
	srv := httptest.NewServer(be)
	defer srv.Close()

	app := fx.New(
		Module(Params{SessionName: "t", Config: testConfig(srv.URL)}),
		fx.NopLogger,
	)
	startCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.Stop(stopCtx); err != nil {
			t.Errorf("stop: %v", err)
		}
	}()

	client, err := api.Dial(session.SocketPath("t"))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = client.Close() }()

	ctx, cancelCalls := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelCalls()

	st, err := client.Call(ctx, api.SessionServiceName, "GetStatus", nil)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if st["session"] != "t" || st["authenticated"] != false {
		t.Errorf("status = %v", st)
	}

	msg := map[string]any{"conversation_id": "c1", "content": "oi"}
	_, err = client.Call(ctx, api.OutboxServiceName, "SendMessage", msg)
	if grpcstatus.Code(err) != codes.Unauthenticated {
		t.Fatalf("send while signed out: %v", err)
	}

	if _, err := client.Call(ctx, api.SessionServiceName, "SetSession", map[string]any{"access_token": accessToken(t, "me")}); err != nil {
		t.Fatalf("SetSession: %v", err)
	}
	if _, err := client.Call(ctx, api.SessionServiceName, "SetOnline", map[string]any{"online": false}); err != nil {
		t.Fatalf("SetOnline: %v", err)
	}

	out, err := client.Call(ctx, api.OutboxServiceName, "SendMessage", msg)
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if out["queued"] != true {
		t.Fatalf("offline send = %v, want queued", out)
	}
	list, err := client.Call(ctx, api.OutboxServiceName, "ListPending", nil)
	if err != nil {
		t.Fatal(err)
	}
	if n := len(list["messages"].([]any)); n != 1 {
		t.Fatalf("pending = %d, want 1", n)
	}

	// Handing control back to the prober brings the daemon online and
	// drains the queue.
	if _, err := client.Call(ctx, api.SessionServiceName, "SetOnline", map[string]any{"clear": true}); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		list, err := client.Call(ctx, api.OutboxServiceName, "ListPending", nil)
		if err != nil {
			t.Fatal(err)
		}
		if len(list["messages"].([]any)) == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("queue not drained after coming back online")
		}
		time.Sleep(20 * time.Millisecond)
	}
	if be.count() != 1 {
		t.Errorf("backend inserts = %d, want 1", be.count())
	}
}

func TestQueueSurvivesRestart(t *testing.T) {
	shortHome(t)
	// An unhealthy backend keeps the daemon offline across both runs.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	run := func(fn func(c *api.Client)) {
		app := fx.New(Module(Params{SessionName: "r", Config: cfg}), fx.NopLogger)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.Start(ctx); err != nil {
			t.Fatalf("start: %v", err)
		}
		client, err := api.Dial(session.SocketPath("r"))
		if err != nil {
			t.Fatal(err)
		}
		fn(client)
		_ = client.Close()
		if err := app.Stop(ctx); err != nil {
			t.Fatalf("stop: %v", err)
		}
	}

	run(func(c *api.Client) {
		ctx := context.Background()
		if _, err := c.Call(ctx, api.SessionServiceName, "SetSession", map[string]any{"access_token": accessToken(t, "me")}); err != nil {
			t.Fatal(err)
		}
		if _, err := c.Call(ctx, api.SessionServiceName, "SetOnline", map[string]any{"online": false}); err != nil {
			t.Fatal(err)
		}
		if _, err := c.Call(ctx, api.OutboxServiceName, "SendMessage", map[string]any{"conversation_id": "c1", "content": "depois"}); err != nil {
			t.Fatal(err)
		}
	})
	run(func(c *api.Client) {
		list, err := c.Call(context.Background(), api.OutboxServiceName, "ListPending", nil)
		if err != nil {
			t.Fatal(err)
		}
		msgs := list["messages"].([]any)
		if len(msgs) != 1 || msgs[0].(map[string]any)["content"] != "depois" {
			t.Errorf("pending after restart = %v", msgs)
		}
	})
}

func TestFxGraphResolves(t *testing.T) {
	shortHome(t)
	p := Params{SessionName: "fx", Config: testConfig("http://127.0.0.1:1")}
	if err := fx.ValidateApp(Module(p), fx.NopLogger); err != nil {
		t.Fatalf("fx graph: %v", err)
	}
}

func TestProvideConfigValidates(t *testing.T) {
	t.Setenv("GOLACO_BACKEND_URL", "")
	if _, err := provideConfig(Params{Config: config.Defaults()}); err == nil {
		t.Fatal("expected error for config without backend url")
	}

	t.Setenv("GOLACO_BACKEND_URL", "https://example.test")
	t.Setenv("GOLACO_ANON_KEY", "anon")
	cfg, err := provideConfig(Params{Config: config.Defaults()})
	if err != nil {
		t.Fatalf("provideConfig: %v", err)
	}
	if cfg.Backend.URL != "https://example.test" {
		t.Errorf("backend url = %q", cfg.Backend.URL)
	}
}

// Regression: NewServer must take Params, not a bare string fx cannot
// resolve.
func TestNewServerHonorsSocketOverride(t *testing.T) {
	dir := shortHome(t)
	socketPath := filepath.Join(dir, "d.sock")

	srv, err := NewServer(
		Params{SessionName: "fx", SocketPath: socketPath},
		zap.NewNop(),
		api.NewOutboxService(nil, nil),
		api.NewPresenceService(nil, nil, nil),
		api.NewSessionService("fx", auth.NewStore(), nil, nil, nil),
	)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	info, err := os.Stat(socketPath)
	if err != nil {
		t.Fatalf("socket not created at %s: %v", socketPath, err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("socket mode = %o, want 600", perm)
	}
	srv.Stop(context.Background())
	if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
		t.Errorf("socket not removed: %v", err)
	}
}

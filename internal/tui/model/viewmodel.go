package model

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/golaco/internal/api"
	"github.com/matheus3301/golaco/internal/bus"
)

// Caller is the slice of api.Client the view model needs.
type Caller interface {
	Call(ctx context.Context, service, method string, req map[string]any) (map[string]any, error)
}

// Snapshot is a copy of everything the monitor renders.
type Snapshot struct {
	Session           string
	Authenticated     bool
	Username          string
	Online            bool
	Overridden        bool
	RealtimeConnected bool
	Syncing           bool
	Pending           int
	PresenceState     string
	OnlineUsers       []string

	// Conversation is the focused conversation; Typing lists who is typing
	// in it.
	Conversation string
	Typing       []string
}

// ViewModel caches daemon state and folds streamed events into it.
type ViewModel struct {
	mu     sync.RWMutex
	client Caller
	snap   Snapshot
	Flash  Flash

	refreshCh chan struct{}
}

// NewViewModel creates a view model for the named session.
func NewViewModel(c Caller, sessionName string) *ViewModel {
	return &ViewModel{
		client:    c,
		snap:      Snapshot{Session: sessionName},
		refreshCh: make(chan struct{}, 1),
	}
}

// RefreshCh signals that the snapshot changed.
func (vm *ViewModel) RefreshCh() <-chan struct{} {
	return vm.refreshCh
}

func (vm *ViewModel) signalRefresh() {
	select {
	case vm.refreshCh <- struct{}{}:
	default:
	}
}

// Snapshot returns a copy of the current state.
func (vm *ViewModel) Snapshot() Snapshot {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	s := vm.snap
	s.OnlineUsers = slices.Clone(vm.snap.OnlineUsers)
	s.Typing = slices.Clone(vm.snap.Typing)
	return s
}

// Load refreshes the full snapshot from the daemon.
func (vm *ViewModel) Load(ctx context.Context) error {
	st, err := vm.client.Call(ctx, api.SessionServiceName, "GetStatus", nil)
	if err != nil {
		return fmt.Errorf("get status: %w", err)
	}
	syncSt, err := vm.client.Call(ctx, api.OutboxServiceName, "GetSyncStatus", nil)
	if err != nil {
		return fmt.Errorf("get sync status: %w", err)
	}
	users, err := vm.client.Call(ctx, api.PresenceServiceName, "ListOnlineUsers", nil)
	if err != nil {
		return fmt.Errorf("list online users: %w", err)
	}

	vm.mu.Lock()
	vm.snap.Authenticated = boolField(st, "authenticated")
	vm.snap.Username = strField(st, "username")
	vm.snap.Online = boolField(st, "online")
	vm.snap.Overridden = boolField(st, "online_overridden")
	vm.snap.RealtimeConnected = boolField(st, "realtime_connected")
	vm.snap.Syncing = boolField(syncSt, "syncing")
	vm.snap.Pending = intField(syncSt, "pending_count")
	vm.snap.PresenceState = strField(users, "state")
	vm.snap.OnlineUsers = sortedStrings(users["user_ids"])
	vm.mu.Unlock()

	vm.signalRefresh()
	return nil
}

// Apply folds one WatchEvents envelope into the snapshot. It reports
// whether anything visible changed.
func (vm *ViewModel) Apply(evt map[string]any) bool {
	payload, _ := evt["payload"].(map[string]any)

	vm.mu.Lock()
	defer vm.mu.Unlock()

	switch strField(evt, "kind") {
	case bus.KindNetworkOnline, bus.KindNetworkOffline:
		vm.snap.Online = boolField(payload, "online")
		vm.snap.Overridden = boolField(payload, "override")
	case bus.KindSyncState:
		vm.snap.Online = boolField(payload, "online")
		vm.snap.Syncing = boolField(payload, "syncing")
		vm.snap.Pending = intField(payload, "pending_count")
	case bus.KindSyncToast:
		vm.Flash.Info(strField(payload, "text"))
	case bus.KindSyncPartialFailure:
		vm.Flash.Warn(fmt.Sprintf("%d message(s) still pending", intField(payload, "failed")))
	case bus.KindPresenceChanged:
		vm.snap.OnlineUsers = sortedStrings(payload["online"])
	case bus.KindTypingChanged:
		if strField(payload, "conversation_id") != vm.snap.Conversation {
			return false
		}
		vm.snap.Typing = typingNames(payload["users"])
	case bus.KindNotificationShow:
		vm.Flash.Info(strField(payload, "title") + ": " + strField(payload, "body"))
	default:
		return false
	}
	vm.signalRefresh()
	return true
}

// SyncNow asks the daemon to drain the queue and flashes the outcome.
func (vm *ViewModel) SyncNow(ctx context.Context) error {
	res, err := vm.client.Call(ctx, api.OutboxServiceName, "SyncNow", nil)
	if err != nil {
		return err
	}
	switch {
	case boolField(res, "skipped"):
		vm.Flash.Warn("sync skipped: " + strField(res, "skip_reason"))
	case intField(res, "success_count") == 0 && intField(res, "failure_remaining") == 0:
		vm.Flash.Info("nothing to sync")
	}
	vm.signalRefresh()
	return nil
}

// SetOnline pins connectivity ("on", "off") or hands it back to the
// prober ("auto").
func (vm *ViewModel) SetOnline(ctx context.Context, mode string) error {
	var req map[string]any
	switch mode {
	case "on":
		req = map[string]any{"online": true}
	case "off":
		req = map[string]any{"online": false}
	case "auto":
		req = map[string]any{"clear": true}
	default:
		return fmt.Errorf("online: want on, off or auto, got %q", mode)
	}
	res, err := vm.client.Call(ctx, api.SessionServiceName, "SetOnline", req)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.snap.Online = boolField(res, "online")
	vm.snap.Overridden = boolField(res, "online_overridden")
	vm.mu.Unlock()
	vm.signalRefresh()
	return nil
}

// OpenConversation focuses id, releasing the previously focused one.
func (vm *ViewModel) OpenConversation(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("open: conversation id is required")
	}
	if prev := vm.Snapshot().Conversation; prev != "" && prev != id {
		if err := vm.CloseConversation(ctx); err != nil {
			return err
		}
	}
	if _, err := vm.client.Call(ctx, api.PresenceServiceName, "OpenConversation", map[string]any{"conversation_id": id}); err != nil {
		return err
	}
	if _, err := vm.client.Call(ctx, api.PresenceServiceName, "SetRoute", map[string]any{"route": "/messages/" + id}); err != nil {
		return err
	}
	res, err := vm.client.Call(ctx, api.PresenceServiceName, "ListTyping", map[string]any{"conversation_id": id})
	if err != nil {
		return err
	}

	vm.mu.Lock()
	vm.snap.Conversation = id
	vm.snap.Typing = typingNames(res["users"])
	vm.mu.Unlock()
	vm.signalRefresh()
	return nil
}

// CloseConversation releases the focused conversation, if any.
func (vm *ViewModel) CloseConversation(ctx context.Context) error {
	id := vm.Snapshot().Conversation
	if id == "" {
		return nil
	}
	if _, err := vm.client.Call(ctx, api.PresenceServiceName, "CloseConversation", map[string]any{"conversation_id": id}); err != nil {
		return err
	}
	if _, err := vm.client.Call(ctx, api.PresenceServiceName, "SetRoute", map[string]any{"route": ""}); err != nil {
		return err
	}

	vm.mu.Lock()
	vm.snap.Conversation = ""
	vm.snap.Typing = nil
	vm.mu.Unlock()
	vm.signalRefresh()
	return nil
}

func strField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func boolField(m map[string]any, key string) bool {
	b, _ := m[key].(bool)
	return b
}

// Numbers arrive as float64 after the structpb round trip.
func intField(m map[string]any, key string) int {
	f, _ := m[key].(float64)
	return int(f)
}

func sortedStrings(v any) []string {
	items, _ := v.([]any)
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	slices.Sort(out)
	return out
}

func typingNames(v any) []string {
	items, _ := v.([]any)
	var out []string
	for _, it := range items {
		u, _ := it.(map[string]any)
		name := strField(u, "username")
		if name == "" {
			name = strField(u, "user_id")
		}
		if name != "" {
			out = append(out, name)
		}
	}
	return out
}

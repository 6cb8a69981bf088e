package daemon

import (
	"sync"

	"github.com/matheus3301/golaco/internal/auth"
	"github.com/matheus3301/golaco/internal/outbox"
	"github.com/matheus3301/golaco/internal/presence"
	"github.com/matheus3301/golaco/internal/realtime"
	"github.com/matheus3301/golaco/internal/typing"
	"go.uber.org/zap"
)

// sessionWatcher follows sign-in and sign-out. Presence and typing belong
// to one user, so they are torn down whenever the user changes.
type sessionWatcher struct {
	auth   *auth.Store
	rt     *realtime.Client
	agg    *presence.Aggregator
	reg    *typing.Registry
	syncer *outbox.Syncer
	logger *zap.Logger

	mu     sync.Mutex
	userID string
	unsub  func()
}

func newSessionWatcher(a *auth.Store, rt *realtime.Client, agg *presence.Aggregator, reg *typing.Registry, syncer *outbox.Syncer, logger *zap.Logger) *sessionWatcher {
	return &sessionWatcher{auth: a, rt: rt, agg: agg, reg: reg, syncer: syncer, logger: logger}
}

func (w *sessionWatcher) start() {
	unsub := w.auth.OnChange(w.onChange)
	w.mu.Lock()
	w.unsub = unsub
	w.mu.Unlock()
	if id, ok := w.auth.Current(); ok {
		w.signIn(id)
	}
}

func (w *sessionWatcher) stop() {
	w.mu.Lock()
	unsub := w.unsub
	w.unsub = nil
	w.userID = ""
	w.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	w.reg.CloseAll()
	w.agg.Close()
}

func (w *sessionWatcher) onChange(id auth.Identity, signedIn bool) {
	if !signedIn {
		w.signOut()
		return
	}
	w.rt.RefreshAuth()
	w.signIn(id)
	w.syncer.Trigger()
}

func (w *sessionWatcher) signIn(id auth.Identity) {
	w.mu.Lock()
	same := w.userID == id.UserID
	w.userID = id.UserID
	w.mu.Unlock()
	if same {
		return
	}
	w.logger.Info("signed in", zap.String("user_id", id.UserID))
	w.reg.CloseAll()
	w.agg.Start(id.UserID)
}

func (w *sessionWatcher) signOut() {
	w.mu.Lock()
	was := w.userID
	w.userID = ""
	w.mu.Unlock()
	if was == "" {
		return
	}
	w.logger.Info("signed out", zap.String("user_id", was))
	w.reg.CloseAll()
	w.agg.Close()
}

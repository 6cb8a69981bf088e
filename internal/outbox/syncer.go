// Package outbox delivers messages composed offline. Messages go into the
// local queue when the backend cannot be reached and are drained in order
// once connectivity returns.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/matheus3301/golaco/internal/backend"
	"github.com/matheus3301/golaco/internal/bus"
	"github.com/matheus3301/golaco/internal/store"
	"go.uber.org/zap"
)

// ErrNotAuthenticated is returned when sending without a session.
var ErrNotAuthenticated = errors.New("not authenticated")

// Queue is the durable pending-message store.
type Queue interface {
	EnqueuePending(m *store.PendingMessage) error
	ListPending() ([]store.PendingMessage, error)
	RemovePending(tempID string) error
	PendingCount() (int, error)
	SetCheckpoint(key, value string) error
}

// Inserter writes messages to the backend.
type Inserter interface {
	InsertMessage(ctx context.Context, m backend.NewMessage) error
}

// Identity exposes the signed-in user.
type Identity interface {
	Authenticated() bool
	UserID() string
}

// Connectivity reports and announces reachability changes.
type Connectivity interface {
	IsOnline() bool
	OnChange(fn func(online bool)) (unsubscribe func())
}

// Result summarizes one drain attempt.
type Result struct {
	Skipped          bool
	SkipReason       string
	SuccessCount     int
	FailureRemaining int
}

// State is the sync indicator published as sync.state.
type State struct {
	Online       bool `json:"online"`
	Syncing      bool `json:"syncing"`
	PendingCount int  `json:"pending_count"`
}

// Toast is the payload of sync.toast.
type Toast struct {
	Text  string `json:"text"`
	Count int    `json:"count"`
}

// PartialFailure is the payload of sync.partial_failure.
type PartialFailure struct {
	Failed int `json:"failed"`
}

// ToastText formats the one-shot success notice for n synced messages.
func ToastText(n int) string {
	return fmt.Sprintf("%d mensagem(s) sincronizada(s)", n)
}

// Syncer drains the queue when connectivity returns.
type Syncer struct {
	queue   Queue
	backend Inserter
	auth    Identity
	net     Connectivity
	bus     *bus.Bus
	logger  *zap.Logger

	syncing atomic.Bool
	// rerun is set when a drain was requested while one was running.
	rerun atomic.Bool

	mu     sync.Mutex
	state  State
	unsub  func()
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSyncer creates a syncer. Call Start to hook it to connectivity changes.
func NewSyncer(q Queue, ins Inserter, id Identity, net Connectivity, b *bus.Bus, logger *zap.Logger) *Syncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Syncer{
		queue:   q,
		backend: ins,
		auth:    id,
		net:     net,
		bus:     b,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start subscribes to connectivity and drains once if the daemon comes up
// online with queued messages.
func (s *Syncer) Start() {
	unsub := s.net.OnChange(func(online bool) {
		s.publishState(false)
		if online {
			s.trigger("online")
		}
	})
	s.mu.Lock()
	s.unsub = unsub
	s.mu.Unlock()

	s.publishState(false)
	if s.net.IsOnline() {
		if n, err := s.queue.PendingCount(); err == nil && n > 0 {
			s.trigger("startup")
		}
	}
}

// Stop unsubscribes and waits for an in-flight drain.
func (s *Syncer) Stop() {
	s.mu.Lock()
	unsub := s.unsub
	s.unsub = nil
	s.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	s.cancel()
	s.wg.Wait()
}

// State returns the last published sync state.
func (s *Syncer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Trigger starts a background drain.
func (s *Syncer) Trigger() {
	s.trigger("manual")
}

func (s *Syncer) trigger(reason string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		res := s.SyncPendingMessages(s.ctx)
		if res.Skipped {
			s.logger.Debug("sync skipped", zap.String("trigger", reason), zap.String("reason", res.SkipReason))
			return
		}
		s.logger.Info("sync finished",
			zap.String("trigger", reason),
			zap.Int("synced", res.SuccessCount),
			zap.Int("failed", res.FailureRemaining),
		)
	}()
}

// SyncPendingMessages drains the queue in insertion order, one insert at a
// time. Failed entries stay queued for the next trigger. Concurrent calls
// return Skipped without touching the backend.
func (s *Syncer) SyncPendingMessages(ctx context.Context) Result {
	if !s.syncing.CompareAndSwap(false, true) {
		s.rerun.Store(true)
		return Result{Skipped: true, SkipReason: "already syncing"}
	}
	if !s.auth.Authenticated() {
		s.syncing.Store(false)
		return Result{Skipped: true, SkipReason: "not authenticated"}
	}
	if !s.net.IsOnline() {
		s.syncing.Store(false)
		return Result{Skipped: true, SkipReason: "offline"}
	}
	pending, err := s.queue.ListPending()
	if err != nil {
		s.syncing.Store(false)
		s.logger.Error("failed to read pending queue", zap.Error(err))
		return Result{Skipped: true, SkipReason: "queue unreadable"}
	}
	if len(pending) == 0 {
		s.syncing.Store(false)
		return Result{Skipped: true, SkipReason: "queue empty"}
	}

	s.publishState(true)
	userID := s.auth.UserID()

	var res Result
	for _, m := range pending {
		if ctx.Err() != nil {
			res.FailureRemaining += len(pending) - res.SuccessCount - res.FailureRemaining
			break
		}
		if err := s.backend.InsertMessage(ctx, toNewMessage(m, userID)); err != nil {
			s.logger.Warn("pending message not synced", zap.String("temp_id", m.TempID), zap.Error(err))
			res.FailureRemaining++
			continue
		}
		if err := s.queue.RemovePending(m.TempID); err != nil {
			// Already persisted remotely; the next drain will send it again.
			s.logger.Error("failed to remove synced message", zap.String("temp_id", m.TempID), zap.Error(err))
		}
		res.SuccessCount++
	}

	now := time.Now().UTC().Format(time.RFC3339)
	if err := s.queue.SetCheckpoint(store.CheckpointLastSyncAt, now); err != nil {
		s.logger.Warn("failed to write checkpoint", zap.Error(err))
	}
	if res.FailureRemaining == 0 {
		_ = s.queue.SetCheckpoint(store.CheckpointLastSyncSuccess, now)
	}

	if res.SuccessCount > 0 {
		s.bus.Emit(bus.KindSyncToast, Toast{Text: ToastText(res.SuccessCount), Count: res.SuccessCount})
	}
	if res.FailureRemaining > 0 {
		s.bus.Emit(bus.KindSyncPartialFailure, PartialFailure{Failed: res.FailureRemaining})
	}

	s.syncing.Store(false)
	s.publishState(false)
	if s.rerun.Swap(false) && s.ctx.Err() == nil {
		s.trigger("rerun")
	}
	return res
}

func (s *Syncer) publishState(syncing bool) {
	n, err := s.queue.PendingCount()
	if err != nil {
		s.logger.Warn("failed to count pending messages", zap.Error(err))
	}
	st := State{Online: s.net.IsOnline(), Syncing: syncing, PendingCount: n}

	s.mu.Lock()
	changed := st != s.state
	s.state = st
	s.mu.Unlock()

	if changed {
		s.bus.Emit(bus.KindSyncState, st)
	}
}

func toNewMessage(m store.PendingMessage, senderID string) backend.NewMessage {
	return backend.NewMessage{
		ConversationID:   m.ConversationID,
		SenderID:         senderID,
		Content:          m.Content,
		MediaURL:         m.MediaURL,
		MediaType:        m.MediaType,
		ReplyToMessageID: m.ReplyToMessageID,
	}
}

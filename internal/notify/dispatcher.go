package notify

import (
	"context"
	"sync"
	"time"

	"github.com/matheus3301/golaco/internal/backend"
	"github.com/matheus3301/golaco/internal/bus"
	"go.uber.org/zap"
)

const fallbackTitle = "Nova mensagem"

// Lookup answers the backend questions the dispatcher asks.
type Lookup interface {
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
	GetProfile(ctx context.Context, userID string) (*backend.Profile, error)
}

// Decision records why a message did or did not produce a notification.
type Decision string

const (
	Shown          Decision = "shown"
	SkipSelf       Decision = "self"
	SkipSeen       Decision = "seen"
	SkipViewing    Decision = "viewing"
	SkipSignedOut  Decision = "signed_out"
	SkipNotMember  Decision = "not_participant"
	SkipLookupFail Decision = "lookup_failed"
)

// Config tunes the dispatcher.
type Config struct {
	LookupTimeout time.Duration
	RoutePrefix   string
}

// Dispatcher consumes realtime.message_inserted events.
type Dispatcher struct {
	bus     *bus.Bus
	lookup  Lookup
	userID  func() string
	routes  *RouteTracker
	surface Surface
	cfg     Config
	logger  *zap.Logger

	mu     sync.Mutex
	seen   map[string]struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

// NewDispatcher creates a dispatcher. userID returns the signed-in user or
// "" when signed out.
func NewDispatcher(b *bus.Bus, lookup Lookup, userID func() string, routes *RouteTracker, surface Surface, cfg Config, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = 5 * time.Second
	}
	if cfg.RoutePrefix == "" {
		cfg.RoutePrefix = "/messages/"
	}
	return &Dispatcher{
		bus:     b,
		lookup:  lookup,
		userID:  userID,
		routes:  routes,
		surface: surface,
		cfg:     cfg,
		logger:  logger,
		seen:    make(map[string]struct{}),
	}
}

// Start subscribes to message insert events on the bus.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	d.done = make(chan struct{})
	ch, unsub := d.bus.Subscribe(bus.KindMessageInserted, 256)

	go func() {
		defer close(d.done)
		defer unsub()
		for {
			select {
			case evt := <-ch:
				rec, ok := evt.Payload.(MessageRecord)
				if !ok {
					continue
				}
				decision := d.Handle(ctx, rec)
				d.logger.Debug("message event handled",
					zap.String("message_id", rec.ID),
					zap.String("decision", string(decision)),
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the dispatcher and waits for the loop to exit.
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
		<-d.done
		d.cancel = nil
	}
}

// ConversationRoute returns the route that displays conversationID.
func (d *Dispatcher) ConversationRoute(conversationID string) string {
	return d.cfg.RoutePrefix + conversationID
}

// Handle runs one message through the notification pipeline.
func (d *Dispatcher) Handle(ctx context.Context, rec MessageRecord) Decision {
	me := d.userID()
	if me == "" {
		return SkipSignedOut
	}
	if rec.SenderID == me {
		return SkipSelf
	}

	d.mu.Lock()
	_, dup := d.seen[rec.ID]
	d.seen[rec.ID] = struct{}{}
	d.mu.Unlock()
	if dup {
		return SkipSeen
	}

	route := d.ConversationRoute(rec.ConversationID)
	if d.routes != nil && d.routes.Current() == route {
		return SkipViewing
	}

	member, err := d.isParticipant(ctx, rec.ConversationID, me)
	if err != nil {
		d.logger.Debug("participant check failed", zap.String("conversation_id", rec.ConversationID), zap.Error(err))
		return SkipLookupFail
	}
	if !member {
		return SkipNotMember
	}

	d.surface.Show(Notification{
		Type:           NotificationType,
		Title:          d.senderName(ctx, rec.SenderID),
		Body:           Preview(rec),
		URL:            route,
		ConversationID: rec.ConversationID,
	})
	return Shown
}

func (d *Dispatcher) isParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.LookupTimeout)
	defer cancel()
	return d.lookup.IsParticipant(ctx, conversationID, userID)
}

func (d *Dispatcher) senderName(ctx context.Context, senderID string) string {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.LookupTimeout)
	defer cancel()
	p, err := d.lookup.GetProfile(ctx, senderID)
	if err != nil {
		d.logger.Debug("sender profile lookup failed", zap.String("sender_id", senderID), zap.Error(err))
		return fallbackTitle
	}
	if name := p.DisplayName(); name != "" {
		return name
	}
	return fallbackTitle
}

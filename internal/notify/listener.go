// Package notify turns new-message events from the realtime feed into local
// notifications for conversations the user is not looking at.
package notify

import (
	"encoding/json"

	"github.com/matheus3301/golaco/internal/bus"
	"github.com/matheus3301/golaco/internal/realtime"
	"github.com/matheus3301/golaco/internal/status"
	"go.uber.org/zap"
)

// ChannelName is the realtime channel carrying message inserts.
const ChannelName = "messages-notifications"

// MessageRecord is a messages row as delivered by the change feed.
type MessageRecord struct {
	ID             string  `json:"id"`
	ConversationID string  `json:"conversation_id"`
	SenderID       string  `json:"sender_id"`
	Content        *string `json:"content"`
	MediaURL       *string `json:"media_url"`
	MediaType      *string `json:"media_type"`
	CreatedAt      string  `json:"created_at"`
}

// ChangeChannel is a realtime channel with a postgres change feed.
type ChangeChannel interface {
	Subscribe(cb func(realtime.SubscribeStatus, error))
	Unsubscribe()
	OnPostgresChange(event, schema, table string, fn func(realtime.Change))
}

// ChangeOpener opens a change-feed channel.
type ChangeOpener func(name string, opts realtime.ChannelOptions) ChangeChannel

// Listener republishes message inserts on the bus as
// realtime.message_inserted.
type Listener struct {
	open    ChangeOpener
	bus     *bus.Bus
	logger  *zap.Logger
	machine *status.Machine
	ch      ChangeChannel
}

// NewListener creates a listener. Start subscribes.
func NewListener(open ChangeOpener, b *bus.Bus, logger *zap.Logger) *Listener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Listener{
		open:    open,
		bus:     b,
		logger:  logger.With(zap.String("channel", ChannelName)),
		machine: status.NewMachine(ChannelName, b),
	}
}

// Start subscribes to INSERTs on public.messages.
func (l *Listener) Start() {
	if l.ch != nil {
		return
	}
	l.ch = l.open(ChannelName, realtime.ChannelOptions{
		PostgresChanges: []realtime.PostgresChangeFilter{{Event: "INSERT", Schema: "public", Table: "messages"}},
	})
	l.ch.OnPostgresChange("INSERT", "public", "messages", l.handle)
	_ = l.machine.Transition(status.Subscribing)
	l.ch.Subscribe(func(st realtime.SubscribeStatus, err error) {
		if st != realtime.StatusSubscribed {
			l.logger.Warn("message feed not subscribed", zap.String("status", string(st)), zap.Error(err))
		}
		l.machine.Follow(st == realtime.StatusSubscribed)
	})
}

// State returns the channel lifecycle state.
func (l *Listener) State() status.State { return l.machine.Current() }

// Stop unsubscribes.
func (l *Listener) Stop() {
	if l.ch != nil {
		l.ch.Unsubscribe()
		l.ch = nil
	}
	l.machine.Reset()
}

func (l *Listener) handle(c realtime.Change) {
	var rec MessageRecord
	if err := json.Unmarshal(c.Record, &rec); err != nil {
		l.logger.Debug("undecodable message record", zap.Error(err))
		return
	}
	if rec.ID == "" || rec.ConversationID == "" {
		return
	}
	l.bus.Emit(bus.KindMessageInserted, rec)
}

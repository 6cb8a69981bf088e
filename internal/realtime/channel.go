package realtime

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// PresenceChannel is the subset of Channel used by presence consumers.
type PresenceChannel interface {
	Topic() string
	Subscribe(cb func(SubscribeStatus, error))
	Unsubscribe()
	Track(payload map[string]any) BestEffort
	Untrack() BestEffort
	OnPresenceSync(fn func())
	OnPresenceJoin(fn JoinFunc)
	OnPresenceLeave(fn LeaveFunc)
	PresenceState() PresenceState
}

// ChannelOpener opens a presence channel by name.
type ChannelOpener func(name string, opts ChannelOptions) PresenceChannel

type changeHandler struct {
	event, schema, table string
	fn                   func(Change)
}

type presenceEvent struct {
	join           bool
	key            string
	current, delta []Meta
}

// Channel is one Phoenix channel on the client's socket. A channel keeps
// rejoining after reconnects until Unsubscribe is called.
type Channel struct {
	client *Client
	topic  string
	opts   ChannelOptions
	logger *zap.Logger

	mu             sync.Mutex
	wanted         bool
	joined         bool
	joining        bool
	joinRef        string
	joinTimer      *time.Timer
	rejoinTimer    *time.Timer
	onStatus       func(SubscribeStatus, error)
	presence       PresenceState
	presenceSynced bool
	pendingDiffs   []presenceDiff

	onSync   []func()
	onJoin   []JoinFunc
	onLeave  []LeaveFunc
	onChange []changeHandler
}

func newChannel(c *Client, topic string, opts ChannelOptions) *Channel {
	return &Channel{
		client:   c,
		topic:    topic,
		opts:     opts,
		logger:   c.logger.With(zap.String("topic", topic)),
		presence: PresenceState{},
	}
}

// Topic returns the full channel topic, including the realtime: prefix.
func (ch *Channel) Topic() string { return ch.topic }

// Joined reports whether the server acknowledged the join.
func (ch *Channel) Joined() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.joined
}

// Subscribe joins the channel. cb receives every status change, including
// SUBSCRIBED again after each automatic rejoin.
func (ch *Channel) Subscribe(cb func(SubscribeStatus, error)) {
	ch.mu.Lock()
	ch.onStatus = cb
	if ch.wanted {
		ch.mu.Unlock()
		return
	}
	ch.wanted = true
	ch.mu.Unlock()

	ch.client.mu.Lock()
	if _, ok := ch.client.channels[ch.topic]; !ok {
		ch.client.channels[ch.topic] = ch
	}
	ch.client.mu.Unlock()

	if ch.client.Connected() {
		ch.sendJoin()
	}
}

// Unsubscribe leaves the channel and removes it from the client. The leave
// frame is best effort; local teardown always happens.
func (ch *Channel) Unsubscribe() {
	ch.mu.Lock()
	wasJoined := ch.joined
	ch.wanted = false
	ch.joined = false
	ch.joining = false
	ch.onStatus = nil
	stopTimer(ch.joinTimer)
	stopTimer(ch.rejoinTimer)
	joinRef := ch.joinRef
	ch.mu.Unlock()

	if wasJoined {
		err := ch.client.send(Message{
			Topic:   ch.topic,
			Event:   EventLeave,
			Payload: json.RawMessage(`{}`),
			Ref:     ch.client.nextRef(),
			JoinRef: joinRef,
		})
		if err != nil {
			ch.logger.Debug("leave not sent", zap.Error(err))
		}
	}
	ch.client.removeChannel(ch)
}

// Track announces payload as this client's presence under the channel's
// presence key.
func (ch *Channel) Track(payload map[string]any) BestEffort {
	return ch.presencePush("track", payload)
}

// Untrack withdraws this client's presence.
func (ch *Channel) Untrack() BestEffort {
	return ch.presencePush("untrack", nil)
}

func (ch *Channel) presencePush(event string, payload map[string]any) BestEffort {
	if !ch.Joined() {
		return BestEffort{Err: ErrNotJoined}
	}
	err := ch.push(EventPresence, presencePush{Type: "presence", Event: event, Payload: payload})
	return BestEffort{Sent: err == nil, Err: err}
}

// OnPresenceSync registers fn to run after every presence state or diff.
func (ch *Channel) OnPresenceSync(fn func()) {
	ch.mu.Lock()
	ch.onSync = append(ch.onSync, fn)
	ch.mu.Unlock()
}

// OnPresenceJoin registers fn for keys gaining presences.
func (ch *Channel) OnPresenceJoin(fn JoinFunc) {
	ch.mu.Lock()
	ch.onJoin = append(ch.onJoin, fn)
	ch.mu.Unlock()
}

// OnPresenceLeave registers fn for keys losing presences.
func (ch *Channel) OnPresenceLeave(fn LeaveFunc) {
	ch.mu.Lock()
	ch.onLeave = append(ch.onLeave, fn)
	ch.mu.Unlock()
}

// OnPostgresChange registers fn for row changes matching event ("*" for
// all), schema and table.
func (ch *Channel) OnPostgresChange(event, schema, table string, fn func(Change)) {
	ch.mu.Lock()
	ch.onChange = append(ch.onChange, changeHandler{event: event, schema: schema, table: table, fn: fn})
	ch.mu.Unlock()
}

// PresenceState returns a copy of the channel's presence state.
func (ch *Channel) PresenceState() PresenceState {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.presence.Clone()
}

func (ch *Channel) push(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", event, err)
	}
	ch.mu.Lock()
	joinRef := ch.joinRef
	ch.mu.Unlock()
	return ch.client.send(Message{
		Topic:   ch.topic,
		Event:   event,
		Payload: data,
		Ref:     ch.client.nextRef(),
		JoinRef: joinRef,
	})
}

func (ch *Channel) sendJoin() {
	token, err := ch.client.token()
	if err != nil {
		ch.report(StatusChannelError, fmt.Errorf("access token: %w", err))
		return
	}

	ref := ch.client.nextRef()
	ch.mu.Lock()
	if !ch.wanted || ch.joining || ch.joined {
		ch.mu.Unlock()
		return
	}
	ch.joinRef = ref
	ch.joining = true
	ch.presenceSynced = false
	ch.pendingDiffs = nil
	stopTimer(ch.joinTimer)
	ch.joinTimer = time.AfterFunc(ch.client.cfg.JoinTimeout, func() { ch.joinTimedOut(ref) })
	ch.mu.Unlock()

	var p joinPayload
	p.Config.Presence.Key = ch.opts.PresenceKey
	p.Config.PostgresChanges = ch.opts.PostgresChanges
	if p.Config.PostgresChanges == nil {
		p.Config.PostgresChanges = []PostgresChangeFilter{}
	}
	p.AccessToken = token
	data, _ := json.Marshal(p)

	err = ch.client.send(Message{Topic: ch.topic, Event: EventJoin, Payload: data, Ref: ref, JoinRef: ref})
	if err != nil {
		ch.logger.Debug("join not sent", zap.Error(err))
	}
}

func (ch *Channel) rejoin() {
	ch.mu.Lock()
	wanted := ch.wanted
	ch.mu.Unlock()
	if wanted {
		ch.sendJoin()
	}
}

func (ch *Channel) scheduleRejoin(after time.Duration) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if !ch.wanted {
		return
	}
	stopTimer(ch.rejoinTimer)
	ch.rejoinTimer = time.AfterFunc(after, func() {
		if ch.client.Connected() {
			ch.rejoin()
		}
	})
}

func (ch *Channel) joinTimedOut(ref string) {
	ch.mu.Lock()
	stale := ch.joinRef != ref || ch.joined || !ch.wanted
	if !stale {
		ch.joining = false
	}
	ch.mu.Unlock()
	if stale {
		return
	}
	ch.logger.Warn("channel join timed out")
	ch.report(StatusTimedOut, nil)
	ch.scheduleRejoin(ch.client.cfg.ReconnectBaseDelay)
}

func (ch *Channel) connectionLost() {
	ch.mu.Lock()
	wasJoined := ch.joined
	ch.joined = false
	ch.joining = false
	stopTimer(ch.joinTimer)
	wanted := ch.wanted
	ch.mu.Unlock()
	if wanted && wasJoined {
		ch.report(StatusChannelError, ErrConnectionLost)
	}
}

func (ch *Channel) report(status SubscribeStatus, err error) {
	ch.mu.Lock()
	cb := ch.onStatus
	ch.mu.Unlock()
	if cb != nil {
		cb(status, err)
	}
}

func (ch *Channel) handle(msg Message) {
	switch msg.Event {
	case EventReply:
		ch.handleReply(msg)
	case EventClose:
		ch.mu.Lock()
		wanted := ch.wanted
		ch.joined = false
		ch.joining = false
		ch.mu.Unlock()
		if wanted {
			ch.report(StatusClosed, nil)
		}
	case EventError:
		ch.mu.Lock()
		ch.joined = false
		ch.joining = false
		ch.mu.Unlock()
		ch.report(StatusChannelError, ErrChannel)
		ch.scheduleRejoin(ch.client.cfg.ReconnectBaseDelay)
	case EventPresenceState:
		state, err := decodeState(msg.Payload)
		if err != nil {
			ch.logger.Debug("bad presence_state", zap.Error(err))
			return
		}
		ch.applyPresence(&state, nil)
	case EventPresenceDiff:
		diff, err := decodeDiff(msg.Payload)
		if err != nil {
			ch.logger.Debug("bad presence_diff", zap.Error(err))
			return
		}
		ch.applyPresence(nil, &diff)
	case EventPostgresChanges:
		ch.handleChange(msg)
	case EventSystem:
		ch.logger.Debug("system message", zap.ByteString("payload", msg.Payload))
	}
}

func (ch *Channel) handleReply(msg Message) {
	ch.mu.Lock()
	isJoin := msg.Ref != "" && msg.Ref == ch.joinRef && ch.joining
	ch.mu.Unlock()
	if !isJoin {
		return
	}

	var reply replyPayload
	if err := json.Unmarshal(msg.Payload, &reply); err != nil {
		ch.mu.Lock()
		ch.joining = false
		ch.mu.Unlock()
		ch.report(StatusChannelError, fmt.Errorf("decode join reply: %w", err))
		return
	}

	ch.mu.Lock()
	stopTimer(ch.joinTimer)
	ch.joining = false
	if reply.Status == "ok" {
		ch.joined = true
	}
	ch.mu.Unlock()

	if reply.Status == "ok" {
		ch.report(StatusSubscribed, nil)
		return
	}
	ch.logger.Warn("channel join rejected", zap.String("response", string(reply.Response)))
	ch.report(StatusChannelError, fmt.Errorf("join rejected: %s", reply.Response))
	ch.scheduleRejoin(ch.client.cfg.ReconnectMaxDelay)
}

// applyPresence merges a snapshot or diff. Diffs that arrive before the
// first snapshot of a join are buffered and replayed after it.
func (ch *Channel) applyPresence(state *PresenceState, diff *presenceDiff) {
	var events []presenceEvent
	onJoin := func(key string, current, joined []Meta) {
		events = append(events, presenceEvent{join: true, key: key, current: current, delta: joined})
	}
	onLeave := func(key string, current, left []Meta) {
		events = append(events, presenceEvent{key: key, current: current, delta: left})
	}

	ch.mu.Lock()
	if state != nil {
		ch.presence = syncState(ch.presence, *state, onJoin, onLeave)
		for _, d := range ch.pendingDiffs {
			ch.presence = syncDiff(ch.presence, d, onJoin, onLeave)
		}
		ch.pendingDiffs = nil
		ch.presenceSynced = true
	} else if !ch.presenceSynced {
		ch.pendingDiffs = append(ch.pendingDiffs, *diff)
		ch.mu.Unlock()
		return
	} else {
		ch.presence = syncDiff(ch.presence, *diff, onJoin, onLeave)
	}
	joinFns := append([]JoinFunc(nil), ch.onJoin...)
	leaveFns := append([]LeaveFunc(nil), ch.onLeave...)
	syncFns := append([]func(){}, ch.onSync...)
	ch.mu.Unlock()

	for _, e := range events {
		if e.join {
			for _, fn := range joinFns {
				fn(e.key, e.current, e.delta)
			}
			continue
		}
		for _, fn := range leaveFns {
			fn(e.key, e.current, e.delta)
		}
	}
	for _, fn := range syncFns {
		fn()
	}
}

func (ch *Channel) handleChange(msg Message) {
	var p changesPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		ch.logger.Debug("bad postgres_changes", zap.Error(err))
		return
	}
	ch.mu.Lock()
	handlers := append([]changeHandler(nil), ch.onChange...)
	ch.mu.Unlock()

	for _, h := range handlers {
		if (h.event == "*" || h.event == p.Data.Type) && h.schema == p.Data.Schema && h.table == p.Data.Table {
			h.fn(p.Data)
		}
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

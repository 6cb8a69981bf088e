package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/golaco/internal/bus"
)

// State is the lifecycle state of one realtime channel subscription.
type State string

const (
	Disconnected State = "DISCONNECTED"
	Subscribing  State = "SUBSCRIBING"
	Subscribed   State = "SUBSCRIBED"
)

// validTransitions defines allowed state transitions. SUBSCRIBED ->
// SUBSCRIBING happens when the provider rejoins after a socket reconnect.
var validTransitions = map[State][]State{
	Disconnected: {Subscribing},
	Subscribing:  {Subscribed, Disconnected},
	Subscribed:   {Disconnected, Subscribing},
}

// Machine tracks and enforces the state of a single channel.
type Machine struct {
	mu      sync.RWMutex
	topic   string
	current State
	bus     *bus.Bus
}

// NewMachine creates a machine for topic, starting Disconnected.
func NewMachine(topic string, b *bus.Bus) *Machine {
	return &Machine{
		topic:   topic,
		current: Disconnected,
		bus:     b,
	}
}

// Topic returns the channel topic this machine tracks.
func (m *Machine) Topic() string {
	return m.topic
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("channel %s: invalid transition from %s to %s", m.topic, m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Emit(bus.KindChannelStateChanged, StatusChange{
			Topic: m.topic,
			From:  from,
			To:    to,
		})
	}
	return nil
}

// Reset forces the machine back to Disconnected from any state. Teardown
// paths use it so they never fail on an unexpected current state.
func (m *Machine) Reset() {
	m.mu.Lock()
	from := m.current
	m.current = Disconnected
	m.mu.Unlock()
	if from != Disconnected && m.bus != nil {
		m.bus.Emit(bus.KindChannelStateChanged, StatusChange{
			Topic: m.topic,
			From:  from,
			To:    Disconnected,
		})
	}
}

// Follow moves the machine toward SUBSCRIBED when subscribed is true and
// toward DISCONNECTED otherwise, passing through SUBSCRIBING when a channel
// comes back from DISCONNECTED.
func (m *Machine) Follow(subscribed bool) {
	cur := m.Current()
	if !subscribed {
		if cur != Disconnected {
			_ = m.Transition(Disconnected)
		}
		return
	}
	if cur == Subscribed {
		return
	}
	if cur == Disconnected {
		_ = m.Transition(Subscribing)
	}
	_ = m.Transition(Subscribed)
}

// StatusChange is the payload for channel state change events.
type StatusChange struct {
	Topic string `json:"topic"`
	From  State  `json:"from"`
	To    State  `json:"to"`
}

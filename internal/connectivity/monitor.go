// Package connectivity tracks whether the backend is reachable and tells
// interested components when that changes.
package connectivity

import (
	"sync"
	"time"

	"github.com/matheus3301/golaco/internal/bus"
	"go.uber.org/zap"
)

// Change is the payload of network.* bus events.
type Change struct {
	Online   bool `json:"online"`
	Override bool `json:"override"`
}

// Monitor holds the online flag. Listeners are notified at most once per
// real transition; repeated identical signals are ignored.
type Monitor struct {
	mu        sync.Mutex
	signal    bool
	override  *bool
	delivered bool
	debounce  time.Duration
	timer     *time.Timer
	listeners map[int]func(bool)
	nextID    int

	bus    *bus.Bus
	logger *zap.Logger
}

// NewMonitor creates a monitor starting at initial. A non-zero debounce
// delays delivery until the signal has held for that long.
func NewMonitor(initial bool, debounce time.Duration, b *bus.Bus, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		signal:    initial,
		delivered: initial,
		debounce:  debounce,
		listeners: make(map[int]func(bool)),
		bus:       b,
		logger:    logger,
	}
}

// IsOnline returns the last delivered state.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.delivered
}

// Overridden reports whether a manual override is pinning the state.
func (m *Monitor) Overridden() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.override != nil
}

// OnChange registers fn for every delivered transition.
func (m *Monitor) OnChange(fn func(online bool)) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// Set records a platform reachability signal.
func (m *Monitor) Set(online bool) {
	m.mu.Lock()
	m.signal = online
	m.mu.Unlock()
	m.evaluate()
}

// Override pins the state regardless of platform signals.
func (m *Monitor) Override(online bool) {
	m.mu.Lock()
	m.override = &online
	m.mu.Unlock()
	m.logger.Info("connectivity override set", zap.Bool("online", online))
	m.evaluate()
}

// ClearOverride returns control to platform signals.
func (m *Monitor) ClearOverride() {
	m.mu.Lock()
	m.override = nil
	m.mu.Unlock()
	m.logger.Info("connectivity override cleared")
	m.evaluate()
}

// Stop cancels a pending debounced delivery.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.mu.Unlock()
}

func (m *Monitor) effective() bool {
	if m.override != nil {
		return *m.override
	}
	return m.signal
}

func (m *Monitor) evaluate() {
	m.mu.Lock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.effective() == m.delivered {
		m.mu.Unlock()
		return
	}
	if m.debounce > 0 && m.override == nil {
		m.timer = time.AfterFunc(m.debounce, m.deliver)
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	m.deliver()
}

func (m *Monitor) deliver() {
	m.mu.Lock()
	online := m.effective()
	if online == m.delivered {
		m.mu.Unlock()
		return
	}
	m.delivered = online
	override := m.override != nil
	fns := make([]func(bool), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	m.logger.Info("connectivity changed", zap.Bool("online", online), zap.Bool("override", override))
	kind := bus.KindNetworkOffline
	if online {
		kind = bus.KindNetworkOnline
	}
	m.bus.Emit(kind, Change{Online: online, Override: override})

	for _, fn := range fns {
		fn(online)
	}
}

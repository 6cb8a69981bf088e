package connectivity

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// HealthChecker is anything that can tell whether the backend answers.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Prober polls a HealthChecker and feeds the result into a Monitor.
type Prober struct {
	checker  HealthChecker
	monitor  *Monitor
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewProber creates a prober. It does nothing until Start.
func NewProber(checker HealthChecker, monitor *Monitor, interval, timeout time.Duration, logger *zap.Logger) *Prober {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Prober{
		checker:  checker,
		monitor:  monitor,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
	}
}

// Start probes once immediately, then every interval.
func (p *Prober) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.loop(ctx)
}

// Stop halts probing and waits for the loop to exit.
func (p *Prober) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel = nil
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// ProbeOnce runs a single health check and reports the result.
func (p *Prober) ProbeOnce(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	err := p.checker.Health(ctx)
	if err != nil {
		p.logger.Debug("health probe failed", zap.Error(err))
	}
	p.monitor.Set(err == nil)
	return err == nil
}

func (p *Prober) loop(ctx context.Context) {
	defer close(p.done)
	p.ProbeOnce(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.ProbeOnce(ctx)
		}
	}
}

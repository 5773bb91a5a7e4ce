package daemon

import (
	"context"
	"sync"
	"time"
)

// PollState is the poller's lifecycle state.
type PollState int

const (
	PollIdle PollState = iota
	PollPolling
)

// Poller drives a tick function on an interval through an explicit
// start/stop state machine. The enabled predicate is re-evaluated on
// every tick, and Stop halts further polling synchronously: after Stop
// returns, no orphaned tick ever fires.
type Poller struct {
	Interval time.Duration
	Enabled  func() bool
	Tick     func(context.Context)

	mu     sync.Mutex
	state  PollState
	cancel context.CancelFunc
	done   chan struct{}
}

// State returns the current state.
func (p *Poller) State() PollState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Start transitions Idle -> Polling. Starting an already-polling poller
// is a no-op.
func (p *Poller) Start(parent context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == PollPolling {
		return
	}

	ctx, cancel := context.WithCancel(parent)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.state = PollPolling

	go p.loop(ctx, p.done)
}

func (p *Poller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if p.Enabled != nil && !p.Enabled() {
				continue
			}
			p.Tick(ctx)
		}
	}
}

// Stop transitions Polling -> Idle and blocks until the loop has fully
// exited, so no tick can fire after Stop returns.
func (p *Poller) Stop() {
	p.mu.Lock()
	if p.state != PollPolling {
		p.mu.Unlock()
		return
	}
	cancel, done := p.cancel, p.done
	p.state = PollIdle
	p.cancel = nil
	p.done = nil
	p.mu.Unlock()

	cancel()
	<-done
}

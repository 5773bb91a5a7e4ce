package daemon

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestPollerStartStop(t *testing.T) {
	var ticks atomic.Int64
	p := &Poller{
		Interval: 5 * time.Millisecond,
		Tick:     func(context.Context) { ticks.Add(1) },
	}

	if p.State() != PollIdle {
		t.Fatalf("initial state = %v, want idle", p.State())
	}

	p.Start(context.Background())
	if p.State() != PollPolling {
		t.Fatalf("state after Start = %v, want polling", p.State())
	}

	deadline := time.After(2 * time.Second)
	for ticks.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("no tick within deadline")
		case <-time.After(time.Millisecond):
		}
	}

	p.Stop()
	if p.State() != PollIdle {
		t.Fatalf("state after Stop = %v, want idle", p.State())
	}

	// Stop is synchronous: the count must not move afterwards.
	after := ticks.Load()
	time.Sleep(30 * time.Millisecond)
	if got := ticks.Load(); got != after {
		t.Fatalf("ticks advanced from %d to %d after Stop", after, got)
	}
}

func TestPollerStartWhilePollingIsNoop(t *testing.T) {
	p := &Poller{
		Interval: time.Hour,
		Tick:     func(context.Context) {},
	}
	p.Start(context.Background())
	defer p.Stop()

	first := p.done
	p.Start(context.Background())
	if p.done != first {
		t.Fatal("second Start replaced the running loop")
	}
}

func TestPollerStopWhenIdleIsNoop(t *testing.T) {
	p := &Poller{Interval: time.Hour}
	p.Stop()
	if p.State() != PollIdle {
		t.Fatalf("state = %v", p.State())
	}
}

func TestPollerEnabledPredicateGatesTicks(t *testing.T) {
	var ticks atomic.Int64
	var enabled atomic.Bool

	p := &Poller{
		Interval: 5 * time.Millisecond,
		Enabled:  enabled.Load,
		Tick:     func(context.Context) { ticks.Add(1) },
	}
	p.Start(context.Background())
	defer p.Stop()

	time.Sleep(30 * time.Millisecond)
	if got := ticks.Load(); got != 0 {
		t.Fatalf("ticked %d times while disabled", got)
	}

	enabled.Store(true)
	deadline := time.After(2 * time.Second)
	for ticks.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("no tick after enabling")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestPollerParentContextCancelStopsLoop(t *testing.T) {
	var ticks atomic.Int64
	p := &Poller{
		Interval: 5 * time.Millisecond,
		Tick:     func(context.Context) { ticks.Add(1) },
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	cancel()

	time.Sleep(20 * time.Millisecond)
	after := ticks.Load()
	time.Sleep(30 * time.Millisecond)
	if got := ticks.Load(); got != after {
		t.Fatalf("ticks advanced from %d to %d after parent cancel", after, got)
	}
}

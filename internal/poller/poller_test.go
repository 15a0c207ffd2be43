package poller

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestEvery_RunsOnEachTick(t *testing.T) {
	clock := NewFakeClock(time.Unix(0, 0))
	var runs atomic.Int32

	h := Every(context.Background(), 30*time.Second, func(context.Context) {
		runs.Add(1)
	}, WithClock(clock), Immediate())
	defer h.Cancel()

	for i := 0; i < 3; i++ {
		clock.BlockUntil(1)
		clock.Advance(30 * time.Second)
	}
	clock.BlockUntil(1)

	if got := runs.Load(); got != 4 {
		t.Errorf("runs = %d, want 4 (immediate + 3 ticks)", got)
	}
}

func TestEvery_CancelStopsFutureRuns(t *testing.T) {
	clock := NewFakeClock(time.Unix(0, 0))
	var runs atomic.Int32

	h := Every(context.Background(), time.Minute, func(context.Context) {
		runs.Add(1)
	}, WithClock(clock))

	clock.BlockUntil(1)
	h.Cancel()
	h.Cancel()

	clock.Advance(10 * time.Minute)
	select {
	case <-h.Done():
	default:
		t.Fatal("Done not closed after Cancel")
	}
	if got := runs.Load(); got != 0 {
		t.Errorf("runs = %d after cancel, want 0", got)
	}
}

func TestEvery_CancelWaitsForInFlightRun(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var sawCancel atomic.Bool

	h := Every(context.Background(), time.Hour, func(ctx context.Context) {
		close(started)
		<-release
		sawCancel.Store(ctx.Err() != nil)
	}, Immediate())

	<-started
	cancelled := make(chan struct{})
	go func() {
		h.Cancel()
		close(cancelled)
	}()

	select {
	case <-cancelled:
		t.Fatal("Cancel returned while the task was still running")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	<-cancelled
	if !sawCancel.Load() {
		t.Error("task context was not cancelled, results would not be discarded")
	}
}

func TestAfter_FiresOnce(t *testing.T) {
	clock := NewFakeClock(time.Unix(0, 0))
	fired := make(chan struct{}, 2)

	h := After(context.Background(), 2*time.Second, func(context.Context) {
		fired <- struct{}{}
	}, WithClock(clock))

	clock.BlockUntil(1)
	clock.Advance(time.Second)
	select {
	case <-fired:
		t.Fatal("fired before the delay elapsed")
	default:
	}

	clock.Advance(time.Second)
	<-h.Done()
	if len(fired) != 1 {
		t.Errorf("fired %d times, want 1", len(fired))
	}
	if h.Runs() != 1 {
		t.Errorf("Runs = %d, want 1", h.Runs())
	}
}

func TestAfter_CancelledBeforeDelay(t *testing.T) {
	clock := NewFakeClock(time.Unix(0, 0))
	var fired atomic.Bool

	h := After(context.Background(), time.Second, func(context.Context) {
		fired.Store(true)
	}, WithClock(clock))
	clock.BlockUntil(1)
	h.Cancel()
	clock.Advance(time.Minute)

	if fired.Load() {
		t.Error("cancelled one-shot task still ran")
	}
}

func TestGroup_CancelAll(t *testing.T) {
	clock := NewFakeClock(time.Unix(0, 0))
	var g Group
	noop := func(context.Context) {}

	a := g.Add(Every(context.Background(), time.Second, noop, WithClock(clock)))
	b := g.Add(After(context.Background(), time.Hour, noop, WithClock(clock)))
	if g.Len() != 2 {
		t.Fatalf("Len = %d, want 2", g.Len())
	}

	g.Close()
	for _, h := range []*Handle{a, b} {
		select {
		case <-h.Done():
		default:
			t.Errorf("handle %s still running after Close", h.Name())
		}
	}

	late := g.Add(Every(context.Background(), time.Second, noop, WithClock(clock)))
	select {
	case <-late.Done():
	default:
		t.Error("handle added to a closed group was not cancelled")
	}
}

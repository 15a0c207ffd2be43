// Package poller runs cancellable periodic and delayed tasks. Every task is
// owned by a Handle; cancelling the handle stops future runs and waits for
// the one in flight.
package poller

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"algotrader/internal/logging"
)

// Task is the work a scheduled handle runs. The context is cancelled once
// the handle is cancelled; a task that finishes after that point must drop
// its results.
type Task func(ctx context.Context)

// Handle controls one scheduled task.
type Handle struct {
	name   string
	cancel context.CancelFunc
	done   chan struct{}
	runs   int64
	mu     sync.Mutex
}

// Cancel stops the task and waits for an in-flight run to return. It is
// safe to call more than once. Do not call Cancel from inside the task
// itself; use Stop there.
func (h *Handle) Cancel() {
	if h == nil {
		return
	}
	h.cancel()
	<-h.done
}

// Stop stops the task without waiting.
func (h *Handle) Stop() {
	if h == nil {
		return
	}
	h.cancel()
}

// Done is closed once the task has stopped for good.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Name returns the task name used in logs.
func (h *Handle) Name() string {
	return h.name
}

// Runs returns how many times the task has run.
func (h *Handle) Runs() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.runs
}

func (h *Handle) ran() {
	h.mu.Lock()
	h.runs++
	h.mu.Unlock()
}

type options struct {
	name      string
	clock     Clock
	immediate bool
}

// Option configures a scheduled task.
type Option func(*options)

// WithClock sets the time source.
func WithClock(c Clock) Option {
	return func(o *options) { o.clock = c }
}

// Immediate runs the task once right away before the first interval.
func Immediate() Option {
	return func(o *options) { o.immediate = true }
}

// Named labels the task in logs.
func Named(name string) Option {
	return func(o *options) { o.name = name }
}

func buildOptions(opts []Option) options {
	o := options{name: "task", clock: RealClock()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Every runs task every interval until ctx is done or the handle is
// cancelled. Runs never overlap.
func Every(ctx context.Context, interval time.Duration, task Task, opts ...Option) *Handle {
	o := buildOptions(opts)
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{name: o.name, cancel: cancel, done: make(chan struct{})}
	logger := taskLogger(ctx, o.name)

	go func() {
		defer close(h.done)
		logger.Debug().Dur("interval", interval).Msg("Polling started")
		defer logger.Debug().Msg("Polling stopped")

		if o.immediate {
			task(ctx)
			h.ran()
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-o.clock.After(interval):
			}
			if ctx.Err() != nil {
				return
			}
			task(ctx)
			h.ran()
		}
	}()
	return h
}

// After runs task once after delay unless cancelled first.
func After(ctx context.Context, delay time.Duration, task Task, opts ...Option) *Handle {
	o := buildOptions(opts)
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{name: o.name, cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(h.done)
		defer cancel()
		select {
		case <-ctx.Done():
			return
		case <-o.clock.After(delay):
		}
		if ctx.Err() != nil {
			return
		}
		task(ctx)
		h.ran()
	}()
	return h
}

func taskLogger(ctx context.Context, name string) zerolog.Logger {
	return logging.FromContext(ctx).With().Str("task", name).Logger()
}

// Group tracks the handles owned by one view or service.
type Group struct {
	mu      sync.Mutex
	handles []*Handle
	closed  bool
}

// Add registers h. Adding to a cancelled group cancels h at once.
func (g *Group) Add(h *Handle) *Handle {
	if h == nil {
		return nil
	}
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		h.Cancel()
		return h
	}
	g.prune()
	g.handles = append(g.handles, h)
	g.mu.Unlock()
	return h
}

// Len returns the number of live handles.
func (g *Group) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prune()
	return len(g.handles)
}

// CancelAll cancels every handle and waits for them to stop. The group
// accepts new handles afterwards.
func (g *Group) CancelAll() {
	g.mu.Lock()
	handles := g.handles
	g.handles = nil
	g.mu.Unlock()

	for _, h := range handles {
		h.Cancel()
	}
}

// Close cancels every handle and rejects later additions.
func (g *Group) Close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
	g.CancelAll()
}

func (g *Group) prune() {
	live := g.handles[:0]
	for _, h := range g.handles {
		select {
		case <-h.done:
		default:
			live = append(live, h)
		}
	}
	g.handles = live
}

// Package telemetry collects processing events from concurrent workers and
// delivers them, in per-producer order and without loss, to a single sink.
//
// Workers call Record from any goroutine; Record never blocks on I/O and
// never drops an event. A single drain goroutine forwards queued events to
// the sink, so sink implementations need no locking of their own.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultDrainTimeout bounds how long Close waits for the queue to empty
// before force-flushing what remains.
const DefaultDrainTimeout = 10 * time.Second

// drainProgressInterval controls how often Close reports the remaining
// queue depth while waiting.
const drainProgressInterval = 2 * time.Second

// Event is one processing event emitted by the pipeline.
type Event struct {
	Time    time.Time
	Level   slog.Level
	Message string
	Attrs   []slog.Attr
}

// Sink receives drained events one at a time, in queue order.
type Sink interface {
	Emit(Event)
}

// SlogSink forwards events to a slog.Logger.
type SlogSink struct {
	Logger *slog.Logger
}

func (s SlogSink) Emit(e Event) {
	s.Logger.LogAttrs(context.Background(), e.Level, e.Message, e.Attrs...)
}

// Aggregator is the multi-producer, single-consumer event queue. The queue
// is unbounded: producers append under a mutex and never wait on the sink,
// which keeps slow I/O from stalling workers and preserves each producer's
// emission order.
type Aggregator struct {
	sink Sink

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Event
	closed bool

	done chan struct{}
}

// NewAggregator starts the drain goroutine and returns the aggregator.
// Callers must Close it to flush remaining events.
func NewAggregator(sink Sink) *Aggregator {
	a := &Aggregator{
		sink: sink,
		done: make(chan struct{}),
	}
	a.cond = sync.NewCond(&a.mu)
	go a.drain()
	return a
}

// Record enqueues one event. Safe for concurrent use; never blocks on the
// sink. Events recorded after Close are discarded.
func (a *Aggregator) Record(level slog.Level, msg string, attrs ...slog.Attr) {
	e := Event{Time: time.Now(), Level: level, Message: msg, Attrs: attrs}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.queue = append(a.queue, e)
	a.mu.Unlock()
	a.cond.Signal()
}

// Pending returns the number of events not yet delivered to the sink.
func (a *Aggregator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.queue)
}

// drain forwards queued events to the sink until Close marks the queue
// closed and it runs empty. Events are claimed one at a time so a timed-out
// Close can take over everything still queued.
func (a *Aggregator) drain() {
	defer close(a.done)
	for {
		a.mu.Lock()
		for len(a.queue) == 0 && !a.closed {
			a.cond.Wait()
		}
		if len(a.queue) == 0 {
			a.mu.Unlock()
			return
		}
		e := a.queue[0]
		a.queue = a.queue[1:]
		a.mu.Unlock()

		a.sink.Emit(e)
	}
}

// Close stops intake and waits for the drain goroutine to empty the queue,
// up to DefaultDrainTimeout. While waiting it reports remaining depth so a
// stalled sink is visible. On timeout the remaining events are flushed
// best-effort on the calling goroutine and the shortfall is reported.
func (a *Aggregator) Close() error {
	return a.CloseWithTimeout(DefaultDrainTimeout)
}

// CloseWithTimeout is Close with an explicit drain deadline.
func (a *Aggregator) CloseWithTimeout(timeout time.Duration) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		<-a.done
		return nil
	}
	a.closed = true
	a.mu.Unlock()
	a.cond.Signal()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	progress := time.NewTicker(drainProgressInterval)
	defer progress.Stop()

	for {
		select {
		case <-a.done:
			return nil
		case <-progress.C:
			slog.Info("telemetry drain in progress", slog.Int("pending", a.Pending()))
		case <-deadline.C:
			return a.forceFlush()
		}
	}
}

// forceFlush takes over delivery from a drain goroutine that missed the
// deadline. At most one event remains in flight with the drain goroutine;
// everything still queued is delivered inline here. Per-producer ordering
// can interleave at this boundary, which the warning makes visible.
func (a *Aggregator) forceFlush() error {
	a.mu.Lock()
	remaining := a.queue
	a.queue = nil
	a.mu.Unlock()
	a.cond.Signal()

	for _, e := range remaining {
		a.sink.Emit(e)
	}
	if len(remaining) > 0 {
		slog.Warn("telemetry drain deadline exceeded, flushed remaining events inline",
			slog.Int("flushed", len(remaining)))
	}
	return nil
}

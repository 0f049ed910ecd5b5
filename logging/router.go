package logging

import (
	"context"
	"log"
	"math/bits"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

const (
	minSinkBacklog = 32
	maxSinkBacklog = 1024
	maxSinkBackoff = 32 * time.Second
)

type Clock interface {
	Now() time.Time
}

type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time {
	return f()
}

// SystemClock reads wall time.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}

type Sink interface {
	Write(Event) error
	Close(context.Context) error
}

type NamedSink struct {
	Name string
	Sink Sink
}

// RouterStats is a point-in-time view of router throughput. Dropped counts
// events refused by the dispatch queue; per-sink drops are reported per sink.
type RouterStats struct {
	Events  uint64      `json:"events"`
	Dropped uint64      `json:"dropped"`
	Sinks   []SinkStats `json:"sinks"`
}

type SinkStats struct {
	Name     string `json:"name"`
	Written  uint64 `json:"written"`
	Dropped  uint64 `json:"dropped"`
	Failures uint64 `json:"failures"`
}

// Router fans published events out to sinks on background goroutines so
// publishing from the tick loop never blocks on I/O. A sink that fails is
// skipped, not waited on, until its backoff expires.
type Router struct {
	queue    chan Event
	sinks    []*sinkWorker
	clock    Clock
	fallback *log.Logger
	floor    Severity
	fields   map[string]any

	stop   chan struct{}
	done   sync.WaitGroup
	closed atomic.Bool

	events  atomic.Uint64
	dropped atomic.Uint64
}

func NewRouter(cfg Config, clock Clock, fallback *log.Logger, namedSinks []NamedSink) (*Router, error) {
	if clock == nil {
		clock = SystemClock{}
	}
	if fallback == nil {
		fallback = log.New(os.Stderr, "[logging] ", log.LstdFlags)
	}
	size := cfg.BufferSize
	if size <= 0 {
		size = DefaultConfig().BufferSize
	}
	backlog := min(max(size, minSinkBacklog), maxSinkBacklog)

	r := &Router{
		queue:    make(chan Event, size),
		clock:    clock,
		fallback: fallback,
		floor:    cfg.MinimumSeverity,
		fields:   cfg.CloneFields(),
		stop:     make(chan struct{}),
	}
	for _, named := range namedSinks {
		if named.Sink == nil {
			continue
		}
		r.sinks = append(r.sinks, &sinkWorker{
			name:     named.Name,
			sink:     named.Sink,
			floor:    cfg.severityFor(named.Name),
			events:   make(chan Event, backlog),
			clock:    clock,
			fallback: fallback,
		})
	}
	if floor, ok := lowestFloor(r.sinks); ok && floor > r.floor {
		r.floor = floor
	}

	r.done.Add(1 + len(r.sinks))
	go r.dispatch()
	for _, worker := range r.sinks {
		go func() {
			defer r.done.Done()
			worker.run()
		}()
	}
	return r, nil
}

func lowestFloor(workers []*sinkWorker) (Severity, bool) {
	if len(workers) == 0 {
		return 0, false
	}
	floor := workers[0].floor
	for _, w := range workers[1:] {
		floor = min(floor, w.floor)
	}
	return floor, true
}

func (r *Router) dispatch() {
	defer func() {
		for _, worker := range r.sinks {
			close(worker.events)
		}
		r.done.Done()
	}()
	for {
		select {
		case event := <-r.queue:
			r.forward(event)
		case <-r.stop:
			for {
				select {
				case event := <-r.queue:
					r.forward(event)
				default:
					return
				}
			}
		}
	}
}

func (r *Router) forward(event Event) {
	if event.Time.IsZero() {
		event.Time = r.clock.Now()
	}
	event = mergeFields(event, r.fields)
	r.events.Add(1)
	for _, worker := range r.sinks {
		if event.Severity >= worker.floor {
			worker.enqueue(event)
		}
	}
}

// Publish queues event for the sinks. It never blocks: when the dispatch
// queue is full the event is dropped and counted.
func (r *Router) Publish(_ context.Context, event Event) {
	if event.Type == "" || event.Severity < r.floor || r.closed.Load() {
		return
	}
	select {
	case r.queue <- event:
	default:
		if n := r.dropped.Add(1); isPowerOfTwo(n) {
			r.fallback.Printf("dispatch queue full, %d events dropped (last type=%s tick=%d)", n, event.Type, event.Tick)
		}
	}
}

// Close stops dispatch, drains queued events into the sinks and closes them.
func (r *Router) Close(ctx context.Context) error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(r.stop)
	drained := make(chan struct{})
	go func() {
		r.done.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		return ctx.Err()
	}
	var firstErr error
	for _, worker := range r.sinks {
		if err := worker.sink.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Stats is safe to call from any goroutine.
func (r *Router) Stats() RouterStats {
	stats := RouterStats{
		Events:  r.events.Load(),
		Dropped: r.dropped.Load(),
		Sinks:   make([]SinkStats, 0, len(r.sinks)),
	}
	for _, w := range r.sinks {
		stats.Sinks = append(stats.Sinks, SinkStats{
			Name:     w.name,
			Written:  w.written.Load(),
			Dropped:  w.dropped.Load(),
			Failures: w.failures.Load(),
		})
	}
	return stats
}

func (r *Router) Sink(name string) Sink {
	for _, worker := range r.sinks {
		if worker.name == name {
			return worker.sink
		}
	}
	return nil
}

type sinkWorker struct {
	name     string
	sink     Sink
	floor    Severity
	events   chan Event
	clock    Clock
	fallback *log.Logger

	written  atomic.Uint64
	dropped  atomic.Uint64
	failures atomic.Uint64

	// Owned by run.
	streak    int
	nextRetry time.Time
}

func (w *sinkWorker) enqueue(event Event) {
	select {
	case w.events <- cloneEvent(event):
	default:
		w.drop(event, "backlog full")
	}
}

func (w *sinkWorker) drop(event Event, reason string) {
	if n := w.dropped.Add(1); isPowerOfTwo(n) {
		w.fallback.Printf("sink %s %s, %d events dropped (last type=%s)", w.name, reason, n, event.Type)
	}
}

func (w *sinkWorker) run() {
	for event := range w.events {
		if !w.nextRetry.IsZero() && w.clock.Now().Before(w.nextRetry) {
			w.drop(event, "backing off")
			continue
		}
		if err := w.sink.Write(event); err != nil {
			w.fail(err)
			continue
		}
		w.written.Add(1)
		w.streak = 0
		w.nextRetry = time.Time{}
	}
}

func (w *sinkWorker) fail(err error) {
	w.failures.Add(1)
	w.streak++
	delay := min(time.Second<<min(w.streak-1, 5), maxSinkBackoff)
	w.nextRetry = w.clock.Now().Add(delay)
	w.fallback.Printf("sink %s failed: %v (retry in %s)", w.name, err, delay)
}

func isPowerOfTwo(n uint64) bool {
	return n != 0 && bits.OnesCount64(n) == 1
}

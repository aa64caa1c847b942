package logging

import (
	"context"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

type Sink interface {
	Write(Event) error
	Close(context.Context) error
}

type NamedSink struct {
	Name string
	Sink Sink
}

// Router filters, stamps and fans events out to one worker per sink. Publish
// is called from the tick loop and the relay's read loops, so it never blocks:
// a sink whose backlog is full loses the event and logs a throttled warning.
type Router struct {
	cfg      Config
	clock    clockwork.Clock
	fallback *log.Logger
	workers  []*sinkWorker
	wg       sync.WaitGroup

	// mu guards closed against workers' channels being closed mid-send.
	mu     sync.RWMutex
	closed bool

	published atomic.Uint64
	dropped   atomic.Uint64
}

type RouterStats struct {
	EventsTotal  uint64
	DroppedTotal uint64
}

func NewRouter(clock clockwork.Clock, cfg Config, fallback *log.Logger, namedSinks []NamedSink) (*Router, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if fallback == nil {
		fallback = log.New(os.Stderr, "[logging] ", log.LstdFlags)
	}
	if cfg.SinkQueueSize <= 0 {
		cfg.SinkQueueSize = DefaultConfig().SinkQueueSize
	}
	if cfg.DropWarnInterval <= 0 {
		cfg.DropWarnInterval = DefaultConfig().DropWarnInterval
	}
	r := &Router{cfg: cfg, clock: clock, fallback: fallback}
	for _, named := range namedSinks {
		if named.Sink == nil {
			continue
		}
		w := &sinkWorker{
			name:   named.Name,
			sink:   named.Sink,
			events: make(chan Event, cfg.SinkQueueSize),
			router: r,
		}
		r.workers = append(r.workers, w)
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			w.run()
		}()
	}
	return r, nil
}

func (r *Router) Publish(ctx context.Context, event Event) {
	if event.Type == "" || !r.cfg.Allows(event.Category, event.Severity) {
		return
	}
	if event.Time.IsZero() {
		event.Time = r.clock.Now()
	}
	if len(r.cfg.Fields) > 0 {
		event = cloneEvent(event)
		if event.Extra == nil {
			event.Extra = make(map[string]any, len(r.cfg.Fields))
		}
		for k, v := range r.cfg.Fields {
			if _, exists := event.Extra[k]; !exists {
				event.Extra[k] = v
			}
		}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	r.published.Add(1)
	for _, w := range r.workers {
		w.offer(event)
	}
}

// Close stops accepting events, lets every sink drain its backlog and closes
// the sinks. Closing twice is a no-op.
func (r *Router) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	for _, w := range r.workers {
		close(w.events)
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	var firstErr error
	for _, w := range r.workers {
		if err := w.sink.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Router) Stats() RouterStats {
	return RouterStats{
		EventsTotal:  r.published.Load(),
		DroppedTotal: r.dropped.Load(),
	}
}

func (r *Router) Sink(name string) Sink {
	for _, w := range r.workers {
		if w.name == name {
			return w.sink
		}
	}
	return nil
}

type sinkWorker struct {
	name   string
	sink   Sink
	events chan Event
	router *Router

	lastWarn  atomic.Int64
	failures  int
	nextRetry time.Time
}

func (w *sinkWorker) offer(event Event) {
	select {
	case w.events <- cloneEvent(event):
		return
	default:
	}
	w.router.dropped.Add(1)
	now := w.router.clock.Now().UnixNano()
	last := w.lastWarn.Load()
	if last != 0 && now-last < w.router.cfg.DropWarnInterval.Nanoseconds() {
		return
	}
	if w.lastWarn.CompareAndSwap(last, now) {
		w.router.fallback.Printf("sink %s backlog full, dropping %s at tick %d", w.name, event.Type, event.Tick)
	}
}

// run writes until the channel is closed. A failing sink backs off
// exponentially, capped at 32s, so a full disk does not spin the worker.
func (w *sinkWorker) run() {
	clock := w.router.clock
	for event := range w.events {
		if wait := w.nextRetry.Sub(clock.Now()); w.failures > 0 && wait > 0 {
			clock.Sleep(wait)
		}
		if err := w.sink.Write(event); err != nil {
			w.failures++
			delay := time.Duration(1<<min(w.failures, 5)) * time.Second
			w.nextRetry = clock.Now().Add(delay)
			w.router.fallback.Printf("sink %s failed: %v (retry in %s)", w.name, err, delay)
			continue
		}
		w.failures = 0
	}
}

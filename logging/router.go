package logging

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

type Clock interface {
	Now() time.Time
}

type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time {
	return f()
}

// SystemClock reads the wall clock.
var SystemClock Clock = ClockFunc(time.Now)

type Sink interface {
	Write(Event) error
	Close(context.Context) error
}

type NamedSink struct {
	Name string
	Sink Sink
}

const uncategorized = "uncategorized"

// Router fans events out to sinks on background goroutines. Publish never
// blocks; events that do not fit in the buffer are counted and dropped.
type Router struct {
	cfg       Config
	queue     chan Event
	runners   []*sinkRunner
	clock     Clock
	fallback  *log.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	closed    atomic.Bool
	fields    map[string]any
	wg        sync.WaitGroup
	startOnce sync.Once

	// Owned by the dispatch goroutine.
	throttle   map[EventType]time.Duration
	lastSent   map[EventType]time.Time
	suppressed map[EventType]uint64

	statsMu         sync.Mutex
	byCategory      map[string]uint64
	suppressedTotal uint64

	eventsTotal  atomic.Uint64
	droppedTotal atomic.Uint64
	lastDropLog  atomic.Int64
}

type RouterStats struct {
	EventsTotal     uint64            `json:"eventsTotal"`
	DroppedTotal    uint64            `json:"droppedTotal"`
	SuppressedTotal uint64            `json:"suppressedTotal"`
	ByCategory      map[string]uint64 `json:"byCategory,omitempty"`
	SinkDrops       map[string]uint64 `json:"sinkDrops,omitempty"`
}

func NewRouter(clock Clock, cfg Config, namedSinks []NamedSink) (*Router, error) {
	if clock == nil {
		clock = SystemClock
	}
	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = 512
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Router{
		cfg:        cfg,
		queue:      make(chan Event, bufferSize),
		clock:      clock,
		fallback:   log.New(os.Stderr, "[events] ", log.LstdFlags),
		ctx:        ctx,
		cancel:     cancel,
		fields:     cfg.CloneFields(),
		throttle:   cfg.cloneThrottle(),
		lastSent:   make(map[EventType]time.Time),
		suppressed: make(map[EventType]uint64),
		byCategory: make(map[string]uint64),
	}

	sinkBuffer := min(max(bufferSize, 32), 1024)
	seen := make(map[string]bool, len(namedSinks))
	for _, named := range namedSinks {
		if named.Sink == nil {
			continue
		}
		if seen[named.Name] {
			cancel()
			return nil, fmt.Errorf("duplicate sink name %q", named.Name)
		}
		seen[named.Name] = true
		r.runners = append(r.runners, newSinkRunner(named.Name, named.Sink, cfg.SeverityFor(named.Name), sinkBuffer, r.fallback))
	}

	r.start()
	return r, nil
}

func (r *Router) start() {
	r.startOnce.Do(func() {
		r.wg.Add(1)
		go func() {
			defer func() {
				for _, runner := range r.runners {
					close(runner.events)
				}
				r.wg.Done()
			}()
			for {
				select {
				case <-r.ctx.Done():
					r.drain()
					return
				case event := <-r.queue:
					r.forward(event)
				}
			}
		}()

		for _, runner := range r.runners {
			r.wg.Add(1)
			go func(s *sinkRunner) {
				defer r.wg.Done()
				s.run()
			}(runner)
		}
	})
}

func (r *Router) drain() {
	for {
		select {
		case event := <-r.queue:
			r.forward(event)
		default:
			return
		}
	}
}

func (r *Router) forward(event Event) {
	if event.Time.IsZero() {
		event.Time = r.clock.Now()
	}
	event, ok := r.admit(event)
	if !ok {
		return
	}
	event = mergeFields(event, r.fields)
	r.eventsTotal.Add(1)

	category := event.Category
	if category == "" {
		category = uncategorized
	}
	r.statsMu.Lock()
	r.byCategory[category]++
	r.statsMu.Unlock()

	for _, runner := range r.runners {
		runner.offer(event)
	}
}

// admit applies the per-type throttle using the event's own timestamp.
func (r *Router) admit(event Event) (Event, bool) {
	interval, throttled := r.throttle[event.Type]
	if !throttled {
		return event, true
	}
	if last, seen := r.lastSent[event.Type]; seen && event.Time.Sub(last) < interval {
		r.suppressed[event.Type]++
		r.statsMu.Lock()
		r.suppressedTotal++
		r.statsMu.Unlock()
		return event, false
	}
	r.lastSent[event.Type] = event.Time
	if n := r.suppressed[event.Type]; n > 0 {
		delete(r.suppressed, event.Type)
		event = cloneEvent(event).WithExtra("suppressed", n)
	}
	return event, true
}

// Publish queues event for delivery. Events below the configured minimum
// severity and events without a type are ignored.
func (r *Router) Publish(_ context.Context, event Event) {
	if event.Type == "" || event.Severity < r.cfg.MinimumSeverity {
		return
	}
	if r.closed.Load() {
		return
	}
	select {
	case r.queue <- event:
	default:
		r.shed(event)
	}
}

func (r *Router) shed(event Event) {
	r.droppedTotal.Add(1)
	if r.cfg.OnDrop != nil {
		r.cfg.OnDrop(event.Type)
	}
	interval := r.cfg.DropWarnInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	now := r.clock.Now().UnixNano()
	next := r.lastDropLog.Load()
	if next == 0 || now >= next {
		if r.lastDropLog.CompareAndSwap(next, now+interval.Nanoseconds()) {
			r.fallback.Printf("queue full, dropping %s (tick %d, %d dropped so far)", event.Type, event.Tick, r.droppedTotal.Load())
		}
	}
}

// Close flushes queued events to every sink and closes them.
func (r *Router) Close(ctx context.Context) error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	r.cancel()
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
	var errs []error
	for _, runner := range r.runners {
		if err := runner.sink.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close sink %s: %w", runner.name, err))
		}
	}
	return errors.Join(errs...)
}

func (r *Router) Stats() RouterStats {
	stats := RouterStats{
		EventsTotal:  r.eventsTotal.Load(),
		DroppedTotal: r.droppedTotal.Load(),
	}
	r.statsMu.Lock()
	stats.SuppressedTotal = r.suppressedTotal
	if len(r.byCategory) > 0 {
		stats.ByCategory = make(map[string]uint64, len(r.byCategory))
		for category, n := range r.byCategory {
			stats.ByCategory[category] = n
		}
	}
	r.statsMu.Unlock()
	for _, runner := range r.runners {
		if dropped := runner.dropped.Load(); dropped > 0 {
			if stats.SinkDrops == nil {
				stats.SinkDrops = make(map[string]uint64)
			}
			stats.SinkDrops[runner.name] = dropped
		}
	}
	return stats
}

func (r *Router) Sink(name string) Sink {
	for _, runner := range r.runners {
		if runner.name == name {
			return runner.sink
		}
	}
	return nil
}

const maxSinkBackoff = 32 * time.Second

// sinkRunner owns one sink and retries it with exponential backoff after a
// failed write.
type sinkRunner struct {
	name      string
	sink      Sink
	floor     Severity
	events    chan Event
	fallback  *log.Logger
	failures  int
	nextRetry time.Time
	dropped   atomic.Uint64
}

func newSinkRunner(name string, sink Sink, floor Severity, buffer int, fallback *log.Logger) *sinkRunner {
	return &sinkRunner{
		name:     name,
		sink:     sink,
		floor:    floor,
		events:   make(chan Event, buffer),
		fallback: fallback,
	}
}

func (s *sinkRunner) offer(event Event) {
	if event.Severity < s.floor {
		return
	}
	select {
	case s.events <- cloneEvent(event):
	default:
		s.dropped.Add(1)
		s.fallback.Printf("sink %s backlog full, dropping %s", s.name, event.Type)
	}
}

func (s *sinkRunner) run() {
	for event := range s.events {
		if wait := time.Until(s.nextRetry); s.failures > 0 && wait > 0 {
			time.Sleep(wait)
		}
		if err := s.sink.Write(event); err != nil {
			s.backoff(err)
			continue
		}
		s.failures = 0
		s.nextRetry = time.Time{}
	}
}

func (s *sinkRunner) backoff(err error) {
	s.failures++
	delay := min(time.Duration(1<<min(s.failures, 6))*500*time.Millisecond, maxSinkBackoff)
	s.nextRetry = time.Now().Add(delay)
	s.fallback.Printf("sink %s failed: %v (retry in %s)", s.name, err, delay)
}

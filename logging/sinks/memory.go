package sinks

import (
	"context"
	"sync"

	"citynav/logging"
)

// MemorySink keeps events in memory. Tests assert on it directly; the server
// uses a bounded one to expose recent events through diagnostics.
type MemorySink struct {
	mu       sync.RWMutex
	capacity int
	events   []logging.Event
	// next is the ring write position once a bounded sink is full.
	next  int
	total uint64
}

// NewMemorySink returns an unbounded sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{events: make([]logging.Event, 0)}
}

// NewBoundedMemorySink keeps only the most recent capacity events.
func NewBoundedMemorySink(capacity int) *MemorySink {
	if capacity <= 0 {
		return NewMemorySink()
	}
	return &MemorySink{capacity: capacity, events: make([]logging.Event, 0, capacity)}
}

func (s *MemorySink) Write(event logging.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total++
	event = logging.CloneEvent(event)
	if s.capacity == 0 || len(s.events) < s.capacity {
		s.events = append(s.events, event)
		return nil
	}
	s.events[s.next] = event
	s.next = (s.next + 1) % s.capacity
	return nil
}

// Publish lets the sink stand in for a logging.Publisher without a router.
func (s *MemorySink) Publish(_ context.Context, event logging.Event) {
	_ = s.Write(event)
}

// Events returns the retained events oldest first.
func (s *MemorySink) Events() []logging.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ordered := make([]logging.Event, 0, len(s.events))
	ordered = append(ordered, s.events[s.next:]...)
	ordered = append(ordered, s.events[:s.next]...)
	return ordered
}

// Recent returns up to n of the newest events, newest last.
func (s *MemorySink) Recent(n int) []logging.Event {
	events := s.Events()
	if n >= 0 && len(events) > n {
		events = events[len(events)-n:]
	}
	return events
}

// OfType returns the retained events with the given type.
func (s *MemorySink) OfType(eventType logging.EventType) []logging.Event {
	var matched []logging.Event
	for _, event := range s.Events() {
		if event.Type == eventType {
			matched = append(matched, event)
		}
	}
	return matched
}

// Total counts every event written, including ones a bounded sink evicted.
func (s *MemorySink) Total() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.total
}

func (s *MemorySink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = s.events[:0]
	s.next = 0
}

func (s *MemorySink) Close(context.Context) error {
	return nil
}

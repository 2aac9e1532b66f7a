// Package requests holds path requests that could not be answered
// immediately, and the futures their callers wait on.
package requests

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"citynav/internal/geom"
	"citynav/internal/pathcache"
)

const (
	DefaultMaxPerFrame       = 5
	DefaultAgeBoostPerSecond = 0.5
)

// Request is a queued path computation.
type Request struct {
	ID          uuid.UUID
	Start       geom.Point
	End         geom.Point
	Key         pathcache.Key
	Priority    float64
	SubmittedAt time.Time
	Future      *Future

	seq uint64
}

// Priority favours short trips: 1000 divided by the straight-line distance.
func Priority(start, end geom.Point) float64 {
	d := geom.Distance(start, end)
	switch {
	case math.IsNaN(d) || math.IsInf(d, 0):
		return 0
	case d < 1:
		return 1000
	}
	return 1000 / d
}

// Config tunes draining.
type Config struct {
	MaxPerFrame int
	// AgeBoostPerSecond is added to a request's priority for every second it
	// has waited.
	AgeBoostPerSecond float64
}

// Queue orders pending requests by effective priority. It is not safe for
// concurrent use; futures are.
type Queue struct {
	cfg   Config
	items []*Request
	seq   uint64
}

// NewQueue constructs an empty queue.
func NewQueue(cfg Config) *Queue {
	if cfg.MaxPerFrame <= 0 {
		cfg.MaxPerFrame = DefaultMaxPerFrame
	}
	if cfg.AgeBoostPerSecond < 0 || math.IsNaN(cfg.AgeBoostPerSecond) {
		cfg.AgeBoostPerSecond = 0
	}
	return &Queue{cfg: cfg}
}

// MaxPerFrame reports the drain batch size.
func (q *Queue) MaxPerFrame() int { return q.cfg.MaxPerFrame }

// Push enqueues a request and returns it with a pending future.
func (q *Queue) Push(start, end geom.Point, key pathcache.Key, now time.Time) *Request {
	id := uuid.New()
	q.seq++
	r := &Request{
		ID:          id,
		Start:       start,
		End:         end,
		Key:         key,
		Priority:    Priority(start, end),
		SubmittedAt: now,
		Future:      newFuture(id),
		seq:         q.seq,
	}
	q.items = append(q.items, r)
	return r
}

// Len reports the number of queued requests, including canceled ones not yet
// discarded.
func (q *Queue) Len() int { return len(q.items) }

// Effective returns r's priority including the age boost at now.
func (q *Queue) Effective(r *Request, now time.Time) float64 {
	age := now.Sub(r.SubmittedAt).Seconds()
	if age < 0 {
		age = 0
	}
	return r.Priority + q.cfg.AgeBoostPerSecond*age
}

func (q *Queue) sort(now time.Time) {
	live := q.items[:0]
	for _, r := range q.items {
		if !r.Future.IsDone() {
			live = append(live, r)
		}
	}
	clear(q.items[len(live):])
	q.items = live

	sort.SliceStable(q.items, func(i, j int) bool {
		a, b := q.items[i], q.items[j]
		pa, pb := q.Effective(a, now), q.Effective(b, now)
		if pa != pb {
			return pa > pb
		}
		return a.seq < b.seq
	})
}

// Drain discards canceled requests, orders the rest by descending effective
// priority and removes up to MaxPerFrame of them from the front.
func (q *Queue) Drain(now time.Time) []*Request {
	q.sort(now)
	n := min(q.cfg.MaxPerFrame, len(q.items))
	batch := make([]*Request, n)
	copy(batch, q.items[:n])
	remaining := copy(q.items, q.items[n:])
	clear(q.items[remaining:])
	q.items = q.items[:remaining]
	return batch
}

// Remove withdraws the request with the given id.
func (q *Queue) Remove(id uuid.UUID) (*Request, bool) {
	for i, r := range q.items {
		if r.ID != id {
			continue
		}
		q.items = append(q.items[:i], q.items[i+1:]...)
		return r, true
	}
	return nil, false
}

// Find returns the queued request with the given id.
func (q *Queue) Find(id uuid.UUID) (*Request, bool) {
	for _, r := range q.items {
		if r.ID == id {
			return r, true
		}
	}
	return nil, false
}

// Pending returns the queued requests in their current order.
func (q *Queue) Pending() []*Request {
	out := make([]*Request, len(q.items))
	copy(out, q.items)
	return out
}

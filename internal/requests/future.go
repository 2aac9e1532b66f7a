package requests

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"citynav/internal/geom"
)

var (
	// ErrCanceled completes a future whose request was withdrawn.
	ErrCanceled = errors.New("requests: canceled")
	// ErrPending is returned by Result before the future completes.
	ErrPending = errors.New("requests: pending")
)

// Future is the deferred result of a path request. It completes exactly once.
type Future struct {
	id   uuid.UUID
	done chan struct{}
	once sync.Once

	path     []geom.Point
	strategy string
	err      error
}

func newFuture(id uuid.UUID) *Future {
	return &Future{id: id, done: make(chan struct{})}
}

// Completed returns a future that already holds path.
func Completed(path []geom.Point, strategy string) *Future {
	f := newFuture(uuid.New())
	f.Complete(path, strategy)
	return f
}

// ID identifies the request behind the future.
func (f *Future) ID() uuid.UUID { return f.id }

// Done is closed once the future completes.
func (f *Future) Done() <-chan struct{} { return f.done }

// Complete stores path and wakes waiters. It reports false if the future had
// already completed.
func (f *Future) Complete(path []geom.Point, strategy string) bool {
	completed := false
	f.once.Do(func() {
		f.path = geom.ClonePath(path)
		f.strategy = strategy
		close(f.done)
		completed = true
	})
	return completed
}

// Fail completes the future with err.
func (f *Future) Fail(err error) bool {
	completed := false
	f.once.Do(func() {
		f.err = err
		close(f.done)
		completed = true
	})
	return completed
}

// Cancel completes the future with ErrCanceled. A queued request whose future
// was canceled is discarded the next time the queue drains.
func (f *Future) Cancel() bool {
	return f.Fail(ErrCanceled)
}

// IsDone reports whether the future has completed.
func (f *Future) IsDone() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Result returns the path, or ErrPending if the future is not complete.
func (f *Future) Result() ([]geom.Point, error) {
	if !f.IsDone() {
		return nil, ErrPending
	}
	if f.err != nil {
		return nil, f.err
	}
	return geom.ClonePath(f.path), nil
}

// Strategy names how the path was produced. Empty until completion.
func (f *Future) Strategy() string {
	if !f.IsDone() {
		return ""
	}
	return f.strategy
}

// Wait blocks until the future completes or ctx ends.
func (f *Future) Wait(ctx context.Context) ([]geom.Point, error) {
	select {
	case <-f.done:
		return f.Result()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

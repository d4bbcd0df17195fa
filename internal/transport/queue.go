package transport

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned by Fetch after the queue has been closed.
var ErrClosed = errors.New("transport closed")

// Queue buffers events pushed by platform callbacks so they can be consumed
// through Fetch by a single polling worker. Sequence numbers are assigned
// when an event is first handed out, starting at the caller's offset, so a
// persisted cursor from a previous run stays meaningful. Handed-out events
// are redelivered until a Fetch with a greater offset acknowledges them.
type Queue struct {
	mu       sync.Mutex
	next     int64
	inflight []Event // sequenced, not yet acknowledged
	pending  []Event // pushed, not yet sequenced
	notify   chan struct{}
	closed   bool
}

// NewQueue creates an empty Queue.
func NewQueue() *Queue {
	return &Queue{notify: make(chan struct{}, 1)}
}

// Push appends an event. Safe to call from any goroutine.
func (q *Queue) Push(e Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.pending = append(q.pending, e)
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Fetch acknowledges events below offset and returns the rest, waiting up
// to timeout when there are none.
func (q *Queue) Fetch(ctx context.Context, offset int64, timeout time.Duration) ([]Event, error) {
	if batch, err := q.take(offset); err != nil || len(batch) > 0 {
		return batch, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return q.take(offset)
		case <-q.notify:
			if batch, err := q.take(offset); err != nil || len(batch) > 0 {
				return batch, err
			}
		}
	}
}

// Len returns the number of events not yet acknowledged.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inflight) + len(q.pending)
}

// Close stops accepting events and wakes any waiting Fetch.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.notify)
}

func (q *Queue) take(offset int64) ([]Event, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrClosed
	}
	if q.next < offset {
		q.next = offset
	}

	kept := q.inflight[:0]
	for _, e := range q.inflight {
		if e.Sequence >= offset {
			kept = append(kept, e)
		}
	}
	q.inflight = kept

	for _, e := range q.pending {
		e.Sequence = q.next
		q.next++
		q.inflight = append(q.inflight, e)
	}
	q.pending = nil

	if len(q.inflight) == 0 {
		return nil, nil
	}
	out := make([]Event, len(q.inflight))
	copy(out, q.inflight)
	return out, nil
}

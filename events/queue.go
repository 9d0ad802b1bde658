package events

import (
	"sync"
)

type emission struct {
	event string
	args  []interface{}
}

// Queue hands emissions to a Registry from a single goroutine, in the order
// they were queued. Emit never blocks, so producers that must keep reading
// their input can publish without running listener code themselves.
type Queue struct {
	reg *Registry

	mu     sync.Mutex
	items  []emission
	closed bool
	notify chan struct{}

	done chan struct{}
}

// NewQueue creates a queue delivering to reg. Nothing is delivered until Run.
func NewQueue(reg *Registry) *Queue {
	return &Queue{
		reg:    reg,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Emit queues event for delivery. It reports false once the queue is closed.
func (q *Queue) Emit(event string, args ...interface{}) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, emission{event: event, args: args})
	q.mu.Unlock()

	q.signal()
	return true
}

// Run delivers queued emissions until the queue is closed and drained. It
// must be called at most once.
func (q *Queue) Run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			next := q.items[0]
			q.items[0] = emission{}
			q.items = q.items[1:]
			q.mu.Unlock()

			q.reg.Emit(next.event, next.args...)
			continue
		}
		if q.closed {
			q.mu.Unlock()
			return
		}
		q.mu.Unlock()
		<-q.notify
	}
}

// Close stops accepting emissions. Run still delivers what was queued
// before. Close does not wait and may be called from a listener.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

// Done is closed when Run has returned.
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

// Len reports how many emissions await delivery.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

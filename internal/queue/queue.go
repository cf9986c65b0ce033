// Package queue provides the bounded FIFO used between pipeline stages.
package queue

import "time"

// Queue is a bounded FIFO. Push never blocks: when the queue is full the
// oldest element is discarded to make room. Pop waits up to a timeout.
//
// Push is safe for a single producer; Pop is safe for any number of consumers.
type Queue[T any] struct {
	ch chan T
}

func New[T any](depth int) *Queue[T] {
	if depth <= 0 {
		depth = 1
	}
	return &Queue[T]{ch: make(chan T, depth)}
}

// Push enqueues v and returns how many older elements were dropped to fit it.
func (q *Queue[T]) Push(v T) (dropped int) {
	for {
		select {
		case q.ch <- v:
			return dropped
		default:
		}
		select {
		case <-q.ch:
			dropped++
		default:
		}
	}
}

// Pop returns the next element, or false when none arrived within timeout.
func (q *Queue[T]) Pop(timeout time.Duration) (T, bool) {
	select {
	case v := <-q.ch:
		return v, true
	default:
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case v := <-q.ch:
		return v, true
	case <-timer.C:
		var zero T
		return zero, false
	}
}

// TryPop returns the next element without waiting.
func (q *Queue[T]) TryPop() (T, bool) {
	select {
	case v := <-q.ch:
		return v, true
	default:
		var zero T
		return zero, false
	}
}

func (q *Queue[T]) Len() int { return len(q.ch) }

func (q *Queue[T]) Cap() int { return cap(q.ch) }

// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"sync"
)

// Queue is an unbounded FIFO safe for many producers and one consumer.
//
// There is no capacity bound. Loops feeding a queue throttle themselves
// (heartbeat interval, serial read timeout) instead of relying on
// backpressure.
//
// The size-1 signal channel lets Get wait on a context without holding the
// lock; multiple puts coalesce into a single wakeup.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	signal chan struct{}

	beforePut func(T)
	beforeGet func()
}

// QueueOption configures a Queue.
type QueueOption[T any] func(*Queue[T])

// WithBeforePut registers a hook run before each value is enqueued.
func WithBeforePut[T any](fn func(T)) QueueOption[T] {
	return func(q *Queue[T]) { q.beforePut = fn }
}

// WithBeforeGet registers a hook run before each dequeue attempt.
func WithBeforeGet[T any](fn func()) QueueOption[T] {
	return func(q *Queue[T]) { q.beforeGet = fn }
}

// NewQueue creates an empty queue.
func NewQueue[T any](opts ...QueueOption[T]) *Queue[T] {
	q := &Queue[T]{
		items:  make([]T, 0, 16),
		signal: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Put appends v to the back of the queue.
func (q *Queue[T]) Put(v T) {
	if q.beforePut != nil {
		q.beforePut(v)
	}
	q.mu.Lock()
	q.items = append(q.items, v)
	q.mu.Unlock()
	q.notify()
}

// PutAll appends vs in order as one batch: a consumer never observes a
// prefix of the batch without the rest already being queued.
func (q *Queue[T]) PutAll(vs ...T) {
	if len(vs) == 0 {
		return
	}
	if q.beforePut != nil {
		for _, v := range vs {
			q.beforePut(v)
		}
	}
	q.mu.Lock()
	q.items = append(q.items, vs...)
	q.mu.Unlock()
	q.notify()
}

func (q *Queue[T]) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// TryGet removes the front value without blocking.
func (q *Queue[T]) TryGet() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	v := q.items[0]
	// Clear the slot so the backing array does not pin the value.
	q.items[0] = zero
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = q.items[:0:0]
	} else {
		// More work pending: make sure the next Get does not sleep.
		q.notify()
	}
	return v, true
}

// Get removes the front value, blocking while the queue is empty. It
// returns ctx.Err() if ctx ends first.
func (q *Queue[T]) Get(ctx context.Context) (T, error) {
	if q.beforeGet != nil {
		q.beforeGet()
	}
	for {
		if v, ok := q.TryGet(); ok {
			return v, nil
		}
		select {
		case <-q.signal:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// Len returns the number of queued values.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

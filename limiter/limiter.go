// Package limiter bounds the number of simultaneous outbound calls made to
// the attestation service and chain RPCs. Callers over the limit wait in
// submission order.
package limiter

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

const DefaultCapacity = 10

type RequestLimiter struct {
	sem      *semaphore.Weighted
	capacity int64
	active   atomic.Int64
	waiting  atomic.Int64
}

// New returns a limiter admitting capacity concurrent calls. A non-positive
// capacity falls back to DefaultCapacity.
func New(capacity int) *RequestLimiter {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &RequestLimiter{
		sem:      semaphore.NewWeighted(int64(capacity)),
		capacity: int64(capacity),
	}
}

// Do runs fn once a slot is free. Waiters are admitted FIFO; a waiter whose
// ctx is done leaves the queue and gets ctx.Err(). A nil limiter runs fn
// directly.
func (l *RequestLimiter) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if l == nil {
		return fn(ctx)
	}

	l.waiting.Add(1)
	err := l.sem.Acquire(ctx, 1)
	l.waiting.Add(-1)
	if err != nil {
		return err
	}

	l.active.Add(1)
	defer func() {
		l.active.Add(-1)
		l.sem.Release(1)
	}()
	return fn(ctx)
}

func (l *RequestLimiter) Capacity() int64 { return l.capacity }

func (l *RequestLimiter) Active() int64 { return l.active.Load() }

func (l *RequestLimiter) Waiting() int64 { return l.waiting.Load() }

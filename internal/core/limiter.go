package core

// limiter.go bounds the number of engine calls running at once.
//
// The limiter is a semaphore: when every slot is taken, a query waits up to
// maxWait before failing with ErrTooManyQueries. WaitForDrain blocks until
// in-flight queries finish and is used during graceful shutdown.

import (
	"context"
	"sync"
	"time"
)

// DefaultMaxConcurrentQueries is the default limit for parallel engine calls.
const DefaultMaxConcurrentQueries = 4

// DefaultQueryWaitTime is how long to wait for a slot before rejecting.
const DefaultQueryWaitTime = 30 * time.Second

// QueryLimiter controls concurrent query processing using a semaphore.
type QueryLimiter struct {
	semaphore chan struct{}
	maxWait   time.Duration

	mu     sync.RWMutex
	active int
}

// NewQueryLimiter creates a limiter that allows at most maxConcurrent
// simultaneous queries.
func NewQueryLimiter(maxConcurrent int, maxWait time.Duration) *QueryLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentQueries
	}
	if maxWait <= 0 {
		maxWait = DefaultQueryWaitTime
	}

	return &QueryLimiter{
		semaphore: make(chan struct{}, maxConcurrent),
		maxWait:   maxWait,
	}
}

// Acquire takes a slot, waiting up to maxWait.
// The caller MUST call Release() when the query completes (use defer).
func (l *QueryLimiter) Acquire(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()

	select {
	case l.semaphore <- struct{}{}:
		l.mu.Lock()
		l.active++
		l.mu.Unlock()
		return nil

	case <-waitCtx.Done():
		// Distinguish caller cancellation from our own timeout.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrTooManyQueries
	}
}

// Release releases a previously acquired slot.
// Must be called exactly once for each successful Acquire.
func (l *QueryLimiter) Release() {
	l.mu.Lock()
	l.active--
	l.mu.Unlock()

	<-l.semaphore
}

// ActiveCount returns the number of in-flight queries.
func (l *QueryLimiter) ActiveCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.active
}

// Available returns the number of free slots.
func (l *QueryLimiter) Available() int {
	return cap(l.semaphore) - len(l.semaphore)
}

// WaitForDrain blocks until all active queries complete or ctx is done.
func (l *QueryLimiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if l.ActiveCount() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// LimiterStatus is a snapshot of the limiter's state.
type LimiterStatus struct {
	Active        int `json:"active"`
	Available     int `json:"available"`
	MaxConcurrent int `json:"max_concurrent"`
}

// Status returns the current limiter state for monitoring.
func (l *QueryLimiter) Status() LimiterStatus {
	l.mu.RLock()
	active := l.active
	l.mu.RUnlock()

	return LimiterStatus{
		Active:        active,
		Available:     cap(l.semaphore) - len(l.semaphore),
		MaxConcurrent: cap(l.semaphore),
	}
}

// Package continuation implements TimedContinuation, the one-shot result
// slot described in spec.md §4.2: a caller suspends on it, and it completes
// exactly once — with a value, an error, or a timeout — whichever happens
// first.
package continuation

import (
	"sync"
	"time"
)

// outcome is delivered to the waiter exactly once.
type outcome[T any] struct {
	value T
	err   error
}

// TimedContinuation is a one-shot result slot with a timeout. New starts
// an internal timer; exactly one of ResumeReturning, ResumeThrowing, or the
// timer firing completes the slot. Every call after the first completion is
// a no-op — resume is idempotent, per spec.md §4.2 and the single-writer
// state machine in §9.
type TimedContinuation[T any] struct {
	mu         sync.Mutex
	done       bool
	ch         chan outcome[T]
	timer      *time.Timer
	timeoutErr error
}

// New creates a TimedContinuation and starts its timeout timer. timeoutErr
// is delivered to Await if no resume happens within timeout.
func New[T any](timeout time.Duration, timeoutErr error) *TimedContinuation[T] {
	c := &TimedContinuation[T]{
		ch:         make(chan outcome[T], 1),
		timeoutErr: timeoutErr,
	}
	c.timer = time.AfterFunc(timeout, func() {
		c.complete(outcome[T]{err: timeoutErr})
	})
	return c
}

// complete delivers o to the waiter at most once; later calls are no-ops.
// The mutex here is the single critical section through which every
// completion path — reply, explicit throw, timer fire, or cancellation —
// must pass, so "done" and "timer cancelled" are never observed out of sync.
func (c *TimedContinuation[T]) complete(o outcome[T]) {
	c.mu.Lock()
	if c.done {
		c.mu.Unlock()
		return
	}
	c.done = true
	c.timer.Stop()
	c.mu.Unlock()

	// Buffered by one, so this never blocks even if nobody ever calls Await.
	c.ch <- o
}

// ResumeReturning completes the slot with value. A no-op if already
// completed.
func (c *TimedContinuation[T]) ResumeReturning(value T) {
	c.complete(outcome[T]{value: value})
}

// ResumeThrowing completes the slot with err. A no-op if already completed.
func (c *TimedContinuation[T]) ResumeThrowing(err error) {
	c.complete(outcome[T]{err: err})
}

// Cancel completes the slot with cancelErr (typically context.Canceled) if it
// has not already completed, so a late timer fire or reply cannot attempt a
// second delivery into a waiter that has stopped waiting.
func (c *TimedContinuation[T]) Cancel(cancelErr error) {
	c.complete(outcome[T]{err: cancelErr})
}

// Await blocks until the slot completes, returning its value or error.
func (c *TimedContinuation[T]) Await() (T, error) {
	o := <-c.ch
	return o.value, o.err
}

// Package conc provides the concurrency primitives (C1) the rest of
// ioncore's scheduler is built from: a mutex/condvar pair bundled the way
// ion::Mutex + ion::ThreadSynchronizer are used together, an AutoLock
// scope guard, and SPSC/MPSC/MPMC queues. Grounded on
// src/ion/concurrency/{MPMCQueue.h,ThreadSynchronizer.h} and the teacher's
// use of sync.Mutex/sync.Cond throughout its concurrency-facing packages
// (e.g. catrate, microbatch).
package conc

import "sync"

// Synchronizer bundles a mutex with a condition variable, matching
// ion::ThreadSynchronizer's role as the primitive AutoLock and Job::wait
// are built on.
type Synchronizer struct {
	mu   sync.Mutex
	cond *sync.Cond
}

// NewSynchronizer constructs a ready-to-use Synchronizer.
func NewSynchronizer() *Synchronizer {
	s := &Synchronizer{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Lock acquires the underlying mutex.
func (s *Synchronizer) Lock() { s.mu.Lock() }

// Unlock releases the underlying mutex.
func (s *Synchronizer) Unlock() { s.mu.Unlock() }

// Wait blocks on the condition variable; the caller must hold the lock.
func (s *Synchronizer) Wait() { s.cond.Wait() }

// Signal wakes one waiter; the caller must hold the lock.
func (s *Synchronizer) Signal() { s.cond.Signal() }

// Broadcast wakes every waiter; the caller must hold the lock.
func (s *Synchronizer) Broadcast() { s.cond.Broadcast() }

// WaitUntil blocks until cond() reports true, re-checking after each wake.
// The caller must hold the lock; it is held again on return.
func (s *Synchronizer) WaitUntil(cond func() bool) {
	for !cond() {
		s.cond.Wait()
	}
}

// AutoLock is a scope guard mirroring ion::AutoLock<T>: construct it to
// acquire, call Unlock (typically via defer) to release.
type AutoLock struct {
	s        *Synchronizer
	released bool
}

// Lock constructs an AutoLock holding s's mutex.
func Lock(s *Synchronizer) *AutoLock {
	s.Lock()
	return &AutoLock{s: s}
}

// Unlock releases the guarded lock; safe to call multiple times.
func (a *AutoLock) Unlock() {
	if a.released {
		return
	}
	a.released = true
	a.s.Unlock()
}

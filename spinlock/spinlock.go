// Package spinlock implements a test-and-set mutual-exclusion lock intended
// only for critical sections that complete in a handful of instructions —
// the min-index reconciliation and range-map insertion in package lsm's
// parallel search and range controllers. It is not reentrant and makes no
// fairness guarantee.
package spinlock

import "sync/atomic"

// SpinLock is a CAS-based test-and-set lock.
type SpinLock struct {
	state atomic.Bool
}

// Lock spins until the lock is acquired.
func (l *SpinLock) Lock() {
	for !l.state.CompareAndSwap(false, true) {
	}
}

// Unlock releases the lock.
func (l *SpinLock) Unlock() {
	l.state.Store(false)
}

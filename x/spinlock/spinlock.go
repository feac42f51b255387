// Package spinlock provides a non-reentrant busy-wait lock for paths that
// must not sleep.
package spinlock

import (
	"runtime"
	"sync/atomic"
)

// Lock is a test-and-set spinlock. The zero value is unlocked. Locking
// twice from the same caller deadlocks; there is no owner tracking.
type Lock struct {
	v atomic.Uint32
}

func (l *Lock) Lock() {
	for !l.v.CompareAndSwap(0, 1) {
		for l.v.Load() != 0 {
			runtime.Gosched() // stands in for wfe on a real core
		}
	}
}

func (l *Lock) Unlock() {
	if l.v.Swap(0) == 0 {
		panic("spinlock: unlock of unlocked lock")
	}
}

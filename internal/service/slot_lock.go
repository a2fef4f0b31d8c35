package service

import "sync"

// slotPairLocker serialises commit attempts that touch overlapping slots.
// Locks are acquired in sorted ID order so two exchanges over the same pair
// can never deadlock, and entries are refcounted away once released so the
// map does not grow with the slot population.
type slotPairLocker struct {
	mu    sync.Mutex
	locks map[string]*slotLock
}

type slotLock struct {
	mu   sync.Mutex
	refs int
}

func newSlotPairLocker() *slotPairLocker {
	return &slotPairLocker{locks: make(map[string]*slotLock)}
}

func (l *slotPairLocker) acquire(id string) *slotLock {
	l.mu.Lock()
	entry, ok := l.locks[id]
	if !ok {
		entry = &slotLock{}
		l.locks[id] = entry
	}
	entry.refs++
	l.mu.Unlock()
	entry.mu.Lock()
	return entry
}

func (l *slotPairLocker) release(id string, entry *slotLock) {
	entry.mu.Unlock()
	l.mu.Lock()
	entry.refs--
	if entry.refs == 0 {
		delete(l.locks, id)
	}
	l.mu.Unlock()
}

// LockPair locks both slot IDs and returns the release function. A single ID
// appearing twice is locked once.
func (l *slotPairLocker) LockPair(a, b string) func() {
	if a == b {
		entry := l.acquire(a)
		return func() { l.release(a, entry) }
	}
	first, second := a, b
	if second < first {
		first, second = second, first
	}
	firstEntry := l.acquire(first)
	secondEntry := l.acquire(second)
	return func() {
		l.release(second, secondEntry)
		l.release(first, firstEntry)
	}
}

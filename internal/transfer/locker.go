package transfer

import (
	"sync"
)

// txLocker serializes read-modify-write cycles per transaction id. Locks for
// different ids are independent so transactions never block each other.
type txLocker struct {
	mu    sync.Mutex
	locks map[uint64]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newTxLocker() *txLocker {
	return &txLocker{locks: map[uint64]*lockEntry{}}
}

// lock acquires the lock for a transaction id and returns its release
// function. Entries are dropped once the last holder releases.
func (l *txLocker) lock(id uint64) func() {
	l.mu.Lock()
	entry, ok := l.locks[id]
	if !ok {
		entry = &lockEntry{}
		l.locks[id] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}

package position

import "sync"

// positionLocks serializes commit-plus-recalculate per position. Two edits
// to the same position must not interleave (a new write racing the
// recalculation of an earlier one); edits to different positions proceed in
// parallel. Single-instance only — horizontal scaling needs distributed
// locking or database-level serialization instead.
type positionLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newPositionLocks() *positionLocks {
	return &positionLocks{locks: make(map[string]*sync.Mutex)}
}

// acquire locks the given position and returns its unlock func. Lock entries
// are kept for the process lifetime; the universe of positions is small.
func (l *positionLocks) acquire(positionID string) func() {
	l.mu.Lock()
	m, ok := l.locks[positionID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[positionID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

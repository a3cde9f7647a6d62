package account

import "sync"

// Locks serializes the check -> spend -> persist sequence per user.
// Entries are dropped once no goroutine holds or waits for them.
type Locks struct {
	mu      sync.Mutex
	entries map[int64]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// NewLocks creates an empty lock table
func NewLocks() *Locks {
	return &Locks{entries: make(map[int64]*lockEntry)}
}

// Lock acquires the lock of a user and returns its release func.
func (l *Locks) Lock(userID int64) (unlock func()) {
	l.mu.Lock()
	e, ok := l.entries[userID]
	if !ok {
		e = &lockEntry{}
		l.entries[userID] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()

			l.mu.Lock()
			e.refs--
			if e.refs == 0 {
				delete(l.entries, userID)
			}
			l.mu.Unlock()
		})
	}
}

// Len returns the number of users currently holding or waiting for a lock
func (l *Locks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

package subscriptions

import (
	"sync"

	"github.com/google/uuid"
)

// accountLocks serializes billing runs per account within a single process.
// Entries are refcounted so the map does not grow with the account table.
type accountLocks struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newAccountLocks() *accountLocks {
	return &accountLocks{entries: make(map[uuid.UUID]*lockEntry)}
}

// Lock acquires the per-account mutex and returns the matching unlock func.
func (l *accountLocks) Lock(accountID uuid.UUID) func() {
	l.mu.Lock()
	entry, ok := l.entries[accountID]
	if !ok {
		entry = &lockEntry{}
		l.entries[accountID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.entries, accountID)
		}
		l.mu.Unlock()
	}
}

package subscription

import (
	"sort"
	"sync"
)

// keyLocks serialises operations touching the same records. Keys are
// acquired in sorted order so two operations never deadlock.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[string]*keyLock)}
}

// heldKeys is the set acquired by one operation.
type heldKeys map[string]struct{}

func (h heldKeys) holds(key string) bool {
	_, ok := h[key]
	return ok
}

// acquire locks every key and returns the release function.
func (l *keyLocks) acquire(keys []string) (heldKeys, func()) {
	held := make(heldKeys, len(keys))
	for _, key := range keys {
		held[key] = struct{}{}
	}
	ordered := make([]string, 0, len(held))
	for key := range held {
		ordered = append(ordered, key)
	}
	sort.Strings(ordered)

	entries := make([]*keyLock, len(ordered))
	l.mu.Lock()
	for i, key := range ordered {
		entry, ok := l.locks[key]
		if !ok {
			entry = &keyLock{}
			l.locks[key] = entry
		}
		entry.refs++
		entries[i] = entry
	}
	l.mu.Unlock()

	for _, entry := range entries {
		entry.mu.Lock()
	}
	return held, func() {
		for i := len(entries) - 1; i >= 0; i-- {
			entries[i].mu.Unlock()
		}
		l.mu.Lock()
		for i, key := range ordered {
			entries[i].refs--
			if entries[i].refs == 0 {
				delete(l.locks, key)
			}
		}
		l.mu.Unlock()
	}
}

// Package flow provides per-conversation turn serialization.
package flow

import "sync"

// conversationLocker serializes turn processing per key. A second turn
// for the same user must not begin its write sequence until the first
// turn's phase commit has landed, so the detector never reads a
// half-committed phase. Turns for different users proceed in parallel.
type conversationLocker struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newConversationLocker() *conversationLocker {
	return &conversationLocker{locks: make(map[string]*lockEntry)}
}

// Lock acquires the lock for key and returns its release function.
// Entries are reference counted so the map does not grow unboundedly.
func (l *conversationLocker) Lock(key string) func() {
	l.mu.Lock()
	entry, ok := l.locks[key]
	if !ok {
		entry = &lockEntry{}
		l.locks[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}

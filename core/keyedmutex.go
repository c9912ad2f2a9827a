package core

import "sync"

// KeyedMutex serializes read-then-write critical sections per key. The
// engine uses one instance keyed by conversation id: session and handoff
// invariants are conversation-scoped, so operations on different
// conversations proceed in parallel while operations on the same one are
// single-writer.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewKeyedMutex creates an empty keyed mutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for key, creating it on first use, and returns
// the matching unlock function. Entries are retained for the lifetime of
// the KeyedMutex; the per-conversation footprint is one mutex.
func (k *KeyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	k.mu.Unlock()

	l.Lock()
	return l.Unlock
}

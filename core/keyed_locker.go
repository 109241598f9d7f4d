package core

import (
	"context"
	"strings"
	"sync"
)

// MemoryKeyedLocker serializes work per key. Waiters block until the holder
// releases or their context is done. Entries are dropped once no goroutine
// holds or waits on them, so the table only grows with concurrent keys.
type MemoryKeyedLocker struct {
	mu      sync.Mutex
	entries map[string]*keyedLockEntry
}

type keyedLockEntry struct {
	sem  chan struct{}
	refs int
}

func NewMemoryKeyedLocker() *MemoryKeyedLocker {
	return &MemoryKeyedLocker{entries: make(map[string]*keyedLockEntry)}
}

func (l *MemoryKeyedLocker) Lock(ctx context.Context, key string) (func(), error) {
	if l == nil {
		return nil, ErrLockerClosed
	}
	if ctx == nil {
		ctx = context.Background()
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, NewMissingParameterError("lock_key")
	}

	l.mu.Lock()
	entry, ok := l.entries[key]
	if !ok {
		entry = &keyedLockEntry{sem: make(chan struct{}, 1)}
		l.entries[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	select {
	case entry.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(key, entry)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-entry.sem
			l.release(key, entry)
		})
	}, nil
}

// Holders reports how many goroutines hold or wait on key.
func (l *MemoryKeyedLocker) Holders(key string) int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if entry, ok := l.entries[strings.TrimSpace(key)]; ok {
		return entry.refs
	}
	return 0
}

func (l *MemoryKeyedLocker) release(key string, entry *keyedLockEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry.refs--
	if entry.refs <= 0 {
		delete(l.entries, key)
	}
}

var _ KeyedLocker = (*MemoryKeyedLocker)(nil)

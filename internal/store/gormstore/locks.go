package gormstore

import (
	"context"
	"sync"
)

// accountLocks serializes work per card inside one process.
// SQLite ignores SELECT ... FOR UPDATE, so the row lock alone does not exclude concurrent payments there.
type accountLocks struct {
	mu      sync.Mutex
	entries map[string]*accountLock
}

type accountLock struct {
	token   chan struct{}
	holders int
}

func newAccountLocks() *accountLocks {
	return &accountLocks{entries: make(map[string]*accountLock)}
}

// acquire blocks until key is free or ctx ends. The returned func releases the lock.
func (locks *accountLocks) acquire(ctx context.Context, key string) (func(), error) {
	locks.mu.Lock()
	entry, ok := locks.entries[key]
	if !ok {
		entry = &accountLock{token: make(chan struct{}, 1)}
		locks.entries[key] = entry
	}
	entry.holders++
	locks.mu.Unlock()

	select {
	case entry.token <- struct{}{}:
		return func() {
			<-entry.token
			locks.release(key, entry)
		}, nil
	case <-ctx.Done():
		locks.release(key, entry)
		return nil, ctx.Err()
	}
}

func (locks *accountLocks) release(key string, entry *accountLock) {
	locks.mu.Lock()
	defer locks.mu.Unlock()
	entry.holders--
	if entry.holders == 0 {
		delete(locks.entries, key)
	}
}

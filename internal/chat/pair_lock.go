package chat

import (
	"context"
	"log/slog"
	"sync"
)

// PairLockManager serializes work per key, here a (customer, provider) pair.
// Locks are channels so acquisition can give up when the context ends. An entry
// lives only while someone holds or waits for it.
type PairLockManager struct {
	locks map[string]*pairLock
	mu    sync.Mutex
	log   *slog.Logger
}

type pairLock struct {
	ch   chan struct{}
	refs int
}

// NewPairLockManager creates a new PairLockManager
func NewPairLockManager(log *slog.Logger) *PairLockManager {
	return &PairLockManager{
		locks: make(map[string]*pairLock),
		log:   log,
	}
}

// acquireRef returns the lock for a key, creating one if needed, and counts the caller
func (m *PairLockManager) acquireRef(key string) *pairLock {
	m.mu.Lock()
	defer m.mu.Unlock()

	l := m.locks[key]
	if l == nil {
		l = &pairLock{ch: make(chan struct{}, 1)}
		m.locks[key] = l
	}
	l.refs++
	return l
}

// releaseRef drops the caller's reference and forgets the key when nobody is left
func (m *PairLockManager) releaseRef(key string, l *pairLock) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l.refs--
	if l.refs == 0 && m.locks[key] == l {
		delete(m.locks, key)
	}
}

// Lock acquires the lock for key and returns its release function
func (m *PairLockManager) Lock(ctx context.Context, key string) (func(), error) {
	l := m.acquireRef(key)

	select {
	case l.ch <- struct{}{}:
		m.log.Debug("acquired pair lock", "key", key)
	case <-ctx.Done():
		m.releaseRef(key, l)
		m.log.Debug("context cancelled while acquiring pair lock", "key", key)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.ch
			m.releaseRef(key, l)
			m.log.Debug("released pair lock", "key", key)
		})
	}, nil
}

// size reports how many keys are tracked
func (m *PairLockManager) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

func pairKey(customerID, providerID string) string {
	return customerID + "|" + providerID
}

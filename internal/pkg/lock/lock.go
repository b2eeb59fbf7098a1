// Package lock provides per-user locking. A user's mining ticks, stop
// flush, and NFT purchase debit are serialized through the same lock so
// that only one accrual or balance check is in flight per user at a time.
package lock

import (
	"errors"
	"sync"
)

// ErrLockHeld is returned by TryWithLock when the user's lock is taken.
var ErrLockHeld = errors.New("user lock already held")

// UserLock provides per-user mutual exclusion keyed by user id.
type UserLock struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewUserLock creates a new UserLock instance.
func NewUserLock() *UserLock {
	return &UserLock{locks: make(map[string]*sync.Mutex)}
}

func (ul *UserLock) get(userID string) *sync.Mutex {
	ul.mu.Lock()
	defer ul.mu.Unlock()
	m, ok := ul.locks[userID]
	if !ok {
		m = &sync.Mutex{}
		ul.locks[userID] = m
	}
	return m
}

// Lock acquires the lock for a user, blocking until it is available.
func (ul *UserLock) Lock(userID string) {
	ul.get(userID).Lock()
}

// Unlock releases the lock for a user.
func (ul *UserLock) Unlock(userID string) {
	ul.get(userID).Unlock()
}

// WithLock executes fn while holding the user's lock.
func (ul *UserLock) WithLock(userID string, fn func() error) error {
	ul.Lock(userID)
	defer ul.Unlock(userID)
	return fn()
}

// TryWithLock executes fn if the user's lock can be acquired without
// blocking; otherwise it returns ErrLockHeld. Used by the tick loop so a
// slow persist never queues a second accrual behind it.
func (ul *UserLock) TryWithLock(userID string, fn func() error) error {
	m := ul.get(userID)
	if !m.TryLock() {
		return ErrLockHeld
	}
	defer m.Unlock()
	return fn()
}

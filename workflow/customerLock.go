package workflow

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"sync"
	"time"
)

const customerLockPrefix = "customer_lock_"

// CustomerLockKey is the lock scope for one customer. Keys stay within 64 bytes
// (the MySQL GET_LOCK limit); longer customer ids are hashed.
func CustomerLockKey(customerId string) string {
	key := customerLockPrefix + customerId
	if len(key) <= 64 {
		return key
	}
	sum := sha1.Sum([]byte(customerId))
	return customerLockPrefix + hex.EncodeToString(sum[:])
}

// CustomerLocker grants mutual exclusion per customer.
//
// Acquire waits at most wait. Running out of time (or ctx ending) is not an error:
// it returns NotAcquired. Errors are reserved for lock infrastructure failures.
type CustomerLocker interface {
	Acquire(ctx context.Context, customerId string, wait time.Duration) (*LockHandle, error)
}

// LockHandle is either acquired (with a release func) or NotAcquired.
// Release is idempotent and does nothing for NotAcquired, so cleanup paths may
// always call it.
type LockHandle struct {
	acquired bool
	release  func(ctx context.Context) error
	once     sync.Once
}

// NotAcquired is the handle returned when the wait ran out.
var NotAcquired = &LockHandle{}

func acquiredHandle(release func(ctx context.Context) error) *LockHandle {
	return &LockHandle{acquired: true, release: release}
}

func (h *LockHandle) Acquired() bool {
	return h != nil && h.acquired
}

func (h *LockHandle) Release(ctx context.Context) error {
	if !h.Acquired() {
		return nil
	}
	var err error
	h.once.Do(func() {
		err = h.release(ctx)
	})
	return err
}

// LocalCustomerLocker serializes customers inside this process only.
// It backs LOCK_BACKEND=local and DB-free tests.
type LocalCustomerLocker struct {
	mu    sync.Mutex
	slots map[string]*localSlot
}

// localSlot lives while anyone holds or waits for it.
type localSlot struct {
	ch   chan struct{}
	refs int
}

func NewLocalCustomerLocker() *LocalCustomerLocker {
	return &LocalCustomerLocker{slots: map[string]*localSlot{}}
}

func (l *LocalCustomerLocker) ref(key string) *localSlot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[key]
	if !ok {
		s = &localSlot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	return s
}

func (l *LocalCustomerLocker) unref(key string, s *localSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

func (l *LocalCustomerLocker) Acquire(ctx context.Context, customerId string, wait time.Duration) (*LockHandle, error) {
	key := CustomerLockKey(customerId)
	s := l.ref(key)

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case s.ch <- struct{}{}:
		return acquiredHandle(func(context.Context) error {
			<-s.ch
			l.unref(key, s)
			return nil
		}), nil
	case <-timer.C:
	case <-ctx.Done():
	}
	l.unref(key, s)
	return NotAcquired, nil
}

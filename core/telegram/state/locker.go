package state

import (
	"context"
	"sync"
)

// Locker serializes turns per session key. Entries are reference counted and
// dropped once no goroutine holds or waits for them.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

// NewLocker returns an empty Locker.
func NewLocker() *Locker {
	return &Locker{locks: make(map[string]*keyLock)}
}

// Lock blocks until key is free or ctx is done. The returned func releases it.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, kl)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-kl.ch
			l.release(key, kl)
		})
	}, nil
}

func (l *Locker) release(key string, kl *keyLock) {
	l.mu.Lock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
	l.mu.Unlock()
}

// Len reports how many keys are currently tracked.
func (l *Locker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

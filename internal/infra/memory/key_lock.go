package memory

import (
	"context"
	"fmt"
	"sync"

	"school-quiz-service/internal/app"
	"school-quiz-service/internal/domain"
)

// KeyLock is an in-process implementation of app.AttemptLocker. Each key has a
// one-slot channel; idle keys are dropped once no holder or waiter references them.
type KeyLock struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

var _ app.AttemptLocker = (*KeyLock)(nil)

func NewKeyLock() *KeyLock {
	return &KeyLock{slots: make(map[string]*slot)}
}

// Lock blocks until key is free or ctx is done.
func (l *KeyLock) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	sl, ok := l.slots[key]
	if !ok {
		sl = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = sl
	}
	sl.refs++
	l.mu.Unlock()

	select {
	case sl.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, sl)
		return nil, fmt.Errorf("%w: %s is busy: %v", domain.ErrConflict, key, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-sl.ch
			l.release(key, sl)
		})
	}, nil
}

func (l *KeyLock) release(key string, sl *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	sl.refs--
	if sl.refs == 0 {
		delete(l.slots, key)
	}
}

// Len reports how many keys are currently tracked.
func (l *KeyLock) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}

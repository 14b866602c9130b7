package redisclient

import (
	"context"
	"sync"
	"time"
)

// localSlotLocker serialises slot keys inside one process. It backs
// single-instance deployments (LOCK_BACKEND=local) and tests.
type localSlotLocker struct {
	mu    sync.Mutex
	slots map[string]*localSlot
	ttl   time.Duration
	wait  time.Duration
}

type localSlot struct {
	sem  chan struct{}
	refs int
}

func NewLocalSlotLocker(ttl, wait time.Duration) Locker {
	return &localSlotLocker{
		slots: make(map[string]*localSlot),
		ttl:   ttl,
		wait:  wait,
	}
}

func (l *localSlotLocker) WithSlotLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	s := l.ref(key)
	defer l.unref(key)

	if err := l.acquire(ctx, s); err != nil {
		return err
	}
	defer func() { <-s.sem }()

	if l.ttl > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.ttl)
		defer cancel()
	}
	return fn(ctx)
}

func (l *localSlotLocker) acquire(ctx context.Context, s *localSlot) error {
	if l.wait <= 0 {
		select {
		case s.sem <- struct{}{}:
			return nil
		default:
			return ErrLockNotAcquired
		}
	}

	t := time.NewTimer(l.wait)
	defer t.Stop()

	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return ErrLockNotAcquired
	}
}

func (l *localSlotLocker) ref(key string) *localSlot {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.slots[key]
	if !ok {
		s = &localSlot{sem: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	return s
}

func (l *localSlotLocker) unref(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := l.slots[key]
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

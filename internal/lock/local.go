package lock

import (
	"context"
	"sync"

	"gorm.io/gorm"
)

// LocalLocker implements NamedLocker with in-process keyed mutexes. It is
// only correct when a single process writes to the database, which is the
// case for sqlite deployments.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*keyedMutex
}

type keyedMutex struct {
	sem  chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*keyedMutex)}
}

// WithNamedLock takes the key's mutex before opening the transaction so
// that waiters never hold a database connection.
func (l *LocalLocker) WithNamedLock(ctx context.Context, db *gorm.DB, key string, fn TxFunc) error {
	if Held(ctx, key) {
		return fn(ctx, db)
	}
	release, err := l.acquire(ctx, key)
	if err != nil {
		return err
	}
	defer release()

	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(withHeld(ctx, key), tx)
	})
}

func (l *LocalLocker) acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &keyedMutex{sem: make(chan struct{}, 1)}
		l.locks[key] = m
	}
	m.refs++
	l.mu.Unlock()

	select {
	case m.sem <- struct{}{}:
	case <-ctx.Done():
		l.unref(key, m)
		return nil, ctx.Err()
	}
	return func() {
		<-m.sem
		l.unref(key, m)
	}, nil
}

func (l *LocalLocker) unref(key string, m *keyedMutex) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m.refs--
	if m.refs == 0 {
		delete(l.locks, key)
	}
}

// size is the number of keys currently locked or waited on.
func (l *LocalLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

// Package lock provides the two locking primitives used when applying
// partner documents: a named lock that serializes find-or-create of a
// business key, and a row lock with bounded retry that guards the
// read-modify-write of a persisted aggregate.
package lock

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// ErrRetriesExhausted is returned when a row stayed contended for every
// attempt of WithRowLock.
var ErrRetriesExhausted = errors.New("row lock retries exhausted")

// TxFunc runs inside a locked section. tx is the transaction that owns the lock.
type TxFunc func(ctx context.Context, tx *gorm.DB) error

// NamedLocker serializes work on an arbitrary key such as "Order-ACM-1001".
// Implementations are re-entrant: a call made with a context that already
// holds key runs fn directly on the db it was given.
type NamedLocker interface {
	WithNamedLock(ctx context.Context, db *gorm.DB, key string, fn TxFunc) error
}

// Postgres error codes treated as lock contention.
const (
	codeLockNotAvailable     = "55P03"
	codeDeadlockDetected     = "40P01"
	codeSerializationFailure = "40001"
)

// IsContention reports whether err was caused by another session holding a
// lock we asked for.
func IsContention(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeLockNotAvailable, codeDeadlockDetected, codeSerializationFailure:
			return true
		}
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked")
}

type heldKeysCtxKey struct{}

// Held reports whether ctx was derived inside a named lock on key.
func Held(ctx context.Context, key string) bool {
	held, _ := ctx.Value(heldKeysCtxKey{}).(map[string]struct{})
	_, ok := held[key]
	return ok
}

func withHeld(ctx context.Context, key string) context.Context {
	prev, _ := ctx.Value(heldKeysCtxKey{}).(map[string]struct{})
	next := make(map[string]struct{}, len(prev)+1)
	for k := range prev {
		next[k] = struct{}{}
	}
	next[key] = struct{}{}
	return context.WithValue(ctx, heldKeysCtxKey{}, next)
}

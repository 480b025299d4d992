package lock

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// AdvisoryLocker implements NamedLocker with Postgres transaction-scoped
// advisory locks. The lock is released when the transaction opened for fn
// commits or rolls back.
type AdvisoryLocker struct{}

func NewAdvisoryLocker() *AdvisoryLocker {
	return &AdvisoryLocker{}
}

func (l *AdvisoryLocker) WithNamedLock(ctx context.Context, db *gorm.DB, key string, fn TxFunc) error {
	if Held(ctx, key) {
		return fn(ctx, db)
	}
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", key).Error; err != nil {
			return fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		return fn(withHeld(ctx, key), tx)
	})
}

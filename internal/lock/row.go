package lock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RowLocker locks a single row with SELECT ... FOR UPDATE and retries on
// contention.
type RowLocker struct {
	MaxAttempts int
	Backoff     time.Duration
	// OnRetry is called after each contended attempt that will be retried.
	OnRetry func(attempt int, err error)
}

func NewRowLocker(maxAttempts int, backoff time.Duration) *RowLocker {
	return &RowLocker{MaxAttempts: maxAttempts, Backoff: backoff}
}

// WithRowLock opens a transaction, loads dest by id under a row lock and runs
// fn. Every attempt but the last uses NOWAIT so that contention fails fast and
// is retried after a linear backoff; the last attempt waits for the lock.
// fn may run more than once and must derive everything it writes from dest.
func (r *RowLocker) WithRowLock(ctx context.Context, db *gorm.DB, dest any, id uuid.UUID, fn TxFunc) error {
	attempts := max(r.MaxAttempts, 1)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		locking := clause.Locking{Strength: "UPDATE"}
		if attempt < attempts {
			locking.Options = "NOWAIT"
		}

		lastErr = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Clauses(locking).First(dest, "id = ?", id).Error; err != nil {
				return fmt.Errorf("failed to lock row %s: %w", id, err)
			}
			return fn(ctx, tx)
		})
		if lastErr == nil || !IsContention(lastErr) {
			return lastErr
		}
		if attempt == attempts {
			break
		}

		slog.DebugContext(ctx, "row lock contended, retrying", "id", id, "attempt", attempt, "error", lastErr)
		if r.OnRetry != nil {
			r.OnRetry(attempt, lastErr)
		}
		select {
		case <-time.After(r.Backoff * time.Duration(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, attempts, lastErr)
}

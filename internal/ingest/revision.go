package ingest

import (
	"context"
	"fmt"

	"github.com/OpenNSW/edibridge/internal/lock"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Gate admits a document against the stored state of its root entity and
// applies it only when the document is not older than what was last applied.
//
// Admit takes the named lock on LockKey to find or create the root row, so
// two documents for a new key never create it twice. Commit locks that row,
// evaluates Accept again against the freshly read state (another writer may
// have applied a newer document in between) and only then runs apply.
type Gate[T any] struct {
	DB      *gorm.DB
	Named   lock.NamedLocker
	Rows    *lock.RowLocker
	LockKey string

	// Find returns the root row or nil when it does not exist.
	Find   func(ctx context.Context, tx *gorm.DB) (*T, error)
	Create func(ctx context.Context, tx *gorm.DB) (*T, error)
	ID     func(*T) uuid.UUID
	// Accept compares the incoming document with the stored row.
	Accept func(*T) bool
}

// Admit runs phase one. It returns the root row and whether the document
// may proceed.
func (g *Gate[T]) Admit(ctx context.Context) (*T, bool, error) {
	var (
		root     *T
		accepted bool
	)
	err := g.Named.WithNamedLock(ctx, g.DB, g.LockKey, func(ctx context.Context, tx *gorm.DB) error {
		found, err := g.Find(ctx, tx)
		if err != nil {
			return err
		}
		if found == nil {
			if found, err = g.Create(ctx, tx); err != nil {
				return err
			}
		}
		root = found
		accepted = g.Accept(found)
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to admit %s: %w", g.LockKey, err)
	}
	return root, accepted, nil
}

// Commit runs phase two on the row returned by Admit. apply receives the row
// as read under the lock and may run more than once when the lock is
// contended. The returned bool is false when the re-check rejected the
// document.
func (g *Gate[T]) Commit(ctx context.Context, root *T, apply func(ctx context.Context, tx *gorm.DB, locked *T) error) (bool, error) {
	var applied bool
	locked := new(T)
	err := g.Rows.WithRowLock(ctx, g.DB, locked, g.ID(root), func(ctx context.Context, tx *gorm.DB) error {
		applied = false
		if !g.Accept(locked) {
			return nil
		}
		if err := apply(ctx, tx, locked); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	*root = *locked
	return applied, nil
}

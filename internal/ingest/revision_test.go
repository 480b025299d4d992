package ingest

import (
	"context"
	"testing"

	"github.com/OpenNSW/edibridge/internal/model"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func orderGate(f *fixture, orderNumber string, revision int) *Gate[model.Order] {
	return &Gate[model.Order]{
		DB:      f.db,
		Named:   f.deps.Named,
		Rows:    f.deps.Rows,
		LockKey: "Order-" + orderNumber,
		Find: func(ctx context.Context, tx *gorm.DB) (*model.Order, error) {
			return findOne[model.Order](tx, "order_number = ?", orderNumber)
		},
		Create: func(ctx context.Context, tx *gorm.DB) (*model.Order, error) {
			return create(tx, &model.Order{ImporterID: f.importer.ID, OrderNumber: orderNumber})
		},
		ID:     func(o *model.Order) uuid.UUID { return o.ID },
		Accept: func(o *model.Order) bool { return revision >= o.Revision },
	}
}

func TestGate_AdmitCreatesOnce(t *testing.T) {
	f := newFixture(t)

	first, accepted, err := orderGate(f, "G1", 0).Admit(f.ctx)
	require.NoError(t, err)
	assert.True(t, accepted)

	second, accepted, err := orderGate(f, "G1", 0).Admit(f.ctx)
	require.NoError(t, err)
	assert.True(t, accepted)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(1), f.count(t, &model.Order{}))
}

func TestGate_CommitRechecksUnderLock(t *testing.T) {
	f := newFixture(t)
	gate := orderGate(f, "G2", 2)

	order, accepted, err := gate.Admit(f.ctx)
	require.NoError(t, err)
	require.True(t, accepted)

	// A newer revision lands between the two phases.
	require.NoError(t, f.db.Model(&model.Order{}).Where("id = ?", order.ID).Update("revision", 5).Error)

	called := false
	applied, err := gate.Commit(f.ctx, order, func(ctx context.Context, tx *gorm.DB, locked *model.Order) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.False(t, applied)
	assert.False(t, called)
	assert.Equal(t, 5, order.Revision)
}

func TestGate_CommitRollsBackOnError(t *testing.T) {
	f := newFixture(t)
	gate := orderGate(f, "G3", 1)

	order, _, err := gate.Admit(f.ctx)
	require.NoError(t, err)

	applied, err := gate.Commit(f.ctx, order, func(ctx context.Context, tx *gorm.DB, locked *model.Order) error {
		locked.Revision = 1
		if err := tx.Save(locked).Error; err != nil {
			return err
		}
		return businessf("no")
	})
	require.Error(t, err)
	assert.False(t, applied)

	var stored model.Order
	require.NoError(t, f.db.First(&stored, "id = ?", order.ID).Error)
	assert.Equal(t, 0, stored.Revision)
}

func TestGate_RejectsStale(t *testing.T) {
	f := newFixture(t)
	order, _, err := orderGate(f, "G4", 3).Admit(f.ctx)
	require.NoError(t, err)
	require.NoError(t, f.db.Model(order).Update("revision", 3).Error)

	_, accepted, err := orderGate(f, "G4", 2).Admit(f.ctx)
	require.NoError(t, err)
	assert.False(t, accepted)
}

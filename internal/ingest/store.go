package ingest

import (
	"context"
	"errors"

	"github.com/OpenNSW/edibridge/internal/config"
	"github.com/OpenNSW/edibridge/internal/edi"
	"github.com/OpenNSW/edibridge/internal/lock"
	"github.com/OpenNSW/edibridge/internal/model"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Directory resolves reference data by code.
type Directory interface {
	Importer(ctx context.Context, systemCode string) (*model.Company, error)
	Country(ctx context.Context, isoCode string) (*model.Country, error)
	Port(ctx context.Context, unlocode string) (*model.Port, error)
}

// SnapshotWriter records an audit copy of a changed aggregate.
type SnapshotWriter interface {
	Snapshot(ctx context.Context, tx *gorm.DB, recordableType string, id uuid.UUID, sourceFile string, entity any) error
}

// Deps are the collaborators shared by the assemblers.
type Deps struct {
	DB        *gorm.DB
	Named     lock.NamedLocker
	Rows      *lock.RowLocker
	Directory Directory
	Audit     SnapshotWriter
	Partner   config.PartnerConfig
}

// document is one transaction being applied.
type document struct {
	fileName string
	txn      edi.Transaction
	importer *model.Company
}

// findOne returns the first row matching the query, or nil when none does.
func findOne[T any](tx *gorm.DB, query string, args ...any) (*T, error) {
	var row T
	err := tx.Where(query, args...).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func create[T any](tx *gorm.DB, row *T) (*T, error) {
	if err := tx.Create(row).Error; err != nil {
		return nil, err
	}
	return row, nil
}

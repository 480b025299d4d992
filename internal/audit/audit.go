// Package audit records a snapshot of each aggregate changed by EDI processing.
package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/OpenNSW/edibridge/internal/model"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Writer persists entity snapshots inside the caller's transaction.
type Writer struct{}

func NewWriter() *Writer {
	return &Writer{}
}

// Snapshot stores entity as JSON against (recordableType, id). It must be
// called with the transaction that made the change, so the snapshot commits
// or rolls back with it.
func (w *Writer) Snapshot(ctx context.Context, tx *gorm.DB, recordableType string, id uuid.UUID, sourceFile string, entity any) error {
	payload, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("failed to marshal %s snapshot: %w", recordableType, err)
	}
	snapshot := model.EntitySnapshot{
		RecordableType: recordableType,
		RecordableID:   id,
		SourceFile:     sourceFile,
		Payload:        datatypes.JSON(payload),
	}
	if err := tx.WithContext(ctx).Create(&snapshot).Error; err != nil {
		return fmt.Errorf("failed to save %s snapshot: %w", recordableType, err)
	}
	return nil
}

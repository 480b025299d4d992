package model

import (
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// EntitySnapshot is the audit copy of an aggregate written each time EDI
// processing changes it.
type EntitySnapshot struct {
	BaseModel
	RecordableType string         `gorm:"type:varchar(50);column:recordable_type;not null;index:idx_snapshots_recordable" json:"recordableType"`
	RecordableID   uuid.UUID      `gorm:"type:uuid;column:recordable_id;not null;index:idx_snapshots_recordable" json:"recordableId"`
	SourceFile     string         `gorm:"type:varchar(512);column:source_file" json:"sourceFile"`
	Payload        datatypes.JSON `gorm:"type:jsonb;column:payload;not null" json:"payload"`
}

func (s *EntitySnapshot) TableName() string {
	return "entity_snapshots"
}

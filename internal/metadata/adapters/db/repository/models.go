package repository

import (
	"time"

	"github.com/execledger/execledger/internal/domain/metadata"
)

const (
	typeKindExecution = "execution"
	typeKindArtifact  = "artifact"
	typeKindContext   = "context"
)

// TypeRecord stores execution, artifact and context types
type TypeRecord struct {
	ID          int64  `gorm:"primaryKey;autoIncrement"`
	Kind        string `gorm:"not null;uniqueIndex:idx_types_kind_name"`
	Name        string `gorm:"not null;uniqueIndex:idx_types_kind_name"`
	Version     string
	Description string
	CreatedAt   time.Time
}

func (TypeRecord) TableName() string { return "types" }

// ExecutionRecord is the stored form of an execution. Name is the
// registration token; the unique index makes duplicate registrations fail.
type ExecutionRecord struct {
	ID               int64               `gorm:"primaryKey;autoIncrement"`
	TypeID           int64               `gorm:"not null;uniqueIndex:idx_executions_type_name"`
	Name             *string             `gorm:"uniqueIndex:idx_executions_type_name"`
	LastKnownState   string              `gorm:"not null;index"`
	Properties       metadata.Properties `gorm:"serializer:json"`
	CustomProperties metadata.Properties `gorm:"serializer:json"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (ExecutionRecord) TableName() string { return "executions" }

type ArtifactRecord struct {
	ID               int64               `gorm:"primaryKey;autoIncrement"`
	TypeID           int64               `gorm:"not null;index"`
	URI              string              `gorm:"index"`
	Name             *string             `gorm:"size:255"`
	State            string              `gorm:"not null"`
	Properties       metadata.Properties `gorm:"serializer:json"`
	CustomProperties metadata.Properties `gorm:"serializer:json"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (ArtifactRecord) TableName() string { return "artifacts" }

type ContextRecord struct {
	ID         int64               `gorm:"primaryKey;autoIncrement"`
	TypeID     int64               `gorm:"not null;uniqueIndex:idx_contexts_type_name"`
	Name       string              `gorm:"not null;uniqueIndex:idx_contexts_type_name"`
	Properties metadata.Properties `gorm:"serializer:json"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (ContextRecord) TableName() string { return "contexts" }

type EventRecord struct {
	ID          int64  `gorm:"primaryKey;autoIncrement"`
	ArtifactID  int64  `gorm:"not null;index"`
	ExecutionID int64  `gorm:"not null;index"`
	Type        string `gorm:"not null"`
	PathKey     string
	PathIndex   int
	CreatedAt   time.Time
}

func (EventRecord) TableName() string { return "events" }

// AssociationRecord links a context to an execution
type AssociationRecord struct {
	ContextID   int64 `gorm:"primaryKey;autoIncrement:false"`
	ExecutionID int64 `gorm:"primaryKey;autoIncrement:false"`
	CreatedAt   time.Time
}

func (AssociationRecord) TableName() string { return "associations" }

// AttributionRecord links a context to an artifact
type AttributionRecord struct {
	ContextID  int64 `gorm:"primaryKey;autoIncrement:false"`
	ArtifactID int64 `gorm:"primaryKey;autoIncrement:false"`
	CreatedAt  time.Time
}

func (AttributionRecord) TableName() string { return "attributions" }

// Models lists every record for migrations
func Models() []interface{} {
	return []interface{}{
		&TypeRecord{},
		&ExecutionRecord{},
		&ArtifactRecord{},
		&ContextRecord{},
		&EventRecord{},
		&AssociationRecord{},
		&AttributionRecord{},
	}
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (r *ExecutionRecord) toDomain(typeName string) *metadata.Execution {
	return &metadata.Execution{
		ID:               r.ID,
		TypeID:           r.TypeID,
		Type:             typeName,
		Name:             derefString(r.Name),
		LastKnownState:   metadata.ExecutionState(r.LastKnownState),
		Properties:       r.Properties,
		CustomProperties: r.CustomProperties,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}

func newExecutionRecord(e *metadata.Execution, typeID int64) *ExecutionRecord {
	return &ExecutionRecord{
		ID:               e.ID,
		TypeID:           typeID,
		Name:             nullableString(e.Name),
		LastKnownState:   string(e.LastKnownState),
		Properties:       e.Properties,
		CustomProperties: e.CustomProperties,
		CreatedAt:        e.CreatedAt,
	}
}

func (r *ArtifactRecord) toDomain(typeName string) *metadata.Artifact {
	return &metadata.Artifact{
		ID:               r.ID,
		TypeID:           r.TypeID,
		Type:             typeName,
		URI:              r.URI,
		Name:             derefString(r.Name),
		State:            metadata.ArtifactState(r.State),
		Properties:       r.Properties,
		CustomProperties: r.CustomProperties,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}

func newArtifactRecord(a *metadata.Artifact, typeID int64) *ArtifactRecord {
	return &ArtifactRecord{
		ID:               a.ID,
		TypeID:           typeID,
		URI:              a.URI,
		Name:             nullableString(a.Name),
		State:            string(a.State),
		Properties:       a.Properties,
		CustomProperties: a.CustomProperties,
		CreatedAt:        a.CreatedAt,
	}
}

func (r *ContextRecord) toDomain(typeName string) *metadata.Context {
	return &metadata.Context{
		ID:         r.ID,
		TypeID:     r.TypeID,
		Type:       typeName,
		Name:       r.Name,
		Properties: r.Properties,
	}
}

func (r *EventRecord) toDomain() *metadata.Event {
	return &metadata.Event{
		ID:          r.ID,
		ArtifactID:  r.ArtifactID,
		ExecutionID: r.ExecutionID,
		Type:        metadata.EventType(r.Type),
		Path:        metadata.EventPath{Key: r.PathKey, Index: r.PathIndex},
		CreatedAt:   r.CreatedAt,
	}
}

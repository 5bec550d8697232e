package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/execledger/execledger/internal/domain/metadata"
	"github.com/execledger/execledger/internal/metadata/ports"
	"github.com/execledger/execledger/pkg/database"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MetadataRepository is a gorm backed metadata store. Every put runs in a
// single transaction, and ids assigned by the database are written back
// onto the domain objects passed in.
type MetadataRepository struct {
	db *database.DB
}

var _ ports.MetadataStore = (*MetadataRepository)(nil)

func NewMetadataRepository(db *database.DB) *MetadataRepository {
	return &MetadataRepository{db: db}
}

// Migrate creates or updates the store schema
func (r *MetadataRepository) Migrate() error {
	return r.db.Migrate(Models()...)
}

func (r *MetadataRepository) GetExecutionsByID(ctx context.Context, ids []int64) ([]*metadata.Execution, error) {
	if len(ids) == 0 {
		return []*metadata.Execution{}, nil
	}

	var records []*ExecutionRecord
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Order("id ASC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to get executions: %w", err)
	}

	return r.executionsToDomain(r.db.WithContext(ctx), records)
}

func (r *MetadataRepository) GetExecutionByTypeAndName(ctx context.Context, typeName, name string) (*metadata.Execution, error) {
	tx := r.db.WithContext(ctx)

	var typ TypeRecord
	err := tx.Where("kind = ? AND name = ?", typeKindExecution, typeName).First(&typ).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: type %s", metadata.ErrNotFound, typeName)
	} else if err != nil {
		return nil, fmt.Errorf("failed to get execution type: %w", err)
	}

	var record ExecutionRecord
	err = tx.Where("type_id = ? AND name = ?", typ.ID, name).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s/%s", metadata.ErrNotFound, typeName, name)
	} else if err != nil {
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}

	return record.toDomain(typ.Name), nil
}

func (r *MetadataRepository) GetOrCreateExecutionType(ctx context.Context, executionType *metadata.ExecutionType) (*metadata.ExecutionType, error) {
	if executionType == nil || executionType.Name == "" {
		return nil, errors.New("execution type name is required")
	}

	record := TypeRecord{
		Kind:        typeKindExecution,
		Name:        executionType.Name,
		Version:     executionType.Version,
		Description: executionType.Description,
	}
	err := r.db.WithContext(ctx).
		Where(TypeRecord{Kind: typeKindExecution, Name: executionType.Name}).
		Attrs(TypeRecord{Version: executionType.Version, Description: executionType.Description}).
		FirstOrCreate(&record).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get or create execution type: %w", err)
	}

	return &metadata.ExecutionType{
		ID:          record.ID,
		Name:        record.Name,
		Version:     record.Version,
		Description: record.Description,
	}, nil
}

func (r *MetadataRepository) PutExecution(ctx context.Context, req ports.PutExecutionRequest) (*metadata.Execution, error) {
	if req.Execution == nil {
		return nil, errors.New("execution is required")
	}
	outputEventType := req.OutputEventType
	if outputEventType == "" {
		outputEventType = metadata.EventOutput
	}

	err := r.db.Transaction(ctx, func(tx *gorm.DB) error {
		contextIDs, err := r.putContexts(tx, req.Contexts)
		if err != nil {
			return err
		}
		return r.putExecution(tx, req.Execution, contextIDs, req.InputArtifacts, req.OutputArtifacts, outputEventType)
	})
	if err != nil {
		return nil, err
	}

	return req.Execution, nil
}

func (r *MetadataRepository) PutExecutions(ctx context.Context, req ports.PutExecutionsRequest) ([]*metadata.Execution, error) {
	if req.OutputArtifactsMaps != nil && len(req.OutputArtifactsMaps) != len(req.Executions) {
		return nil, fmt.Errorf("got %d output artifact maps for %d executions",
			len(req.OutputArtifactsMaps), len(req.Executions))
	}
	for i, execution := range req.Executions {
		if execution == nil {
			return nil, fmt.Errorf("execution at index %d is nil", i)
		}
	}

	err := r.db.Transaction(ctx, func(tx *gorm.DB) error {
		contextIDs, err := r.putContexts(tx, req.Contexts)
		if err != nil {
			return err
		}
		for i, execution := range req.Executions {
			var outputs metadata.ArtifactMultiMap
			if req.OutputArtifactsMaps != nil {
				outputs = req.OutputArtifactsMaps[i]
			}
			if err := r.putExecution(tx, execution, contextIDs, nil, outputs, metadata.EventOutput); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return req.Executions, nil
}

func (r *MetadataRepository) GetArtifactsByID(ctx context.Context, ids []int64) ([]*metadata.Artifact, error) {
	if len(ids) == 0 {
		return []*metadata.Artifact{}, nil
	}

	tx := r.db.WithContext(ctx)
	var records []*ArtifactRecord
	if err := tx.Where("id IN ?", ids).Order("id ASC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to get artifacts: %w", err)
	}

	typeIDs := make([]int64, 0, len(records))
	for _, rec := range records {
		typeIDs = append(typeIDs, rec.TypeID)
	}
	names, err := typeNames(tx, typeIDs)
	if err != nil {
		return nil, err
	}

	artifacts := make([]*metadata.Artifact, 0, len(records))
	for _, rec := range records {
		artifacts = append(artifacts, rec.toDomain(names[rec.TypeID]))
	}
	return artifacts, nil
}

func (r *MetadataRepository) GetEventsByExecutionIDs(ctx context.Context, ids []int64) ([]*metadata.Event, error) {
	if len(ids) == 0 {
		return []*metadata.Event{}, nil
	}

	var records []*EventRecord
	if err := r.db.WithContext(ctx).Where("execution_id IN ?", ids).Order("id ASC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}

	events := make([]*metadata.Event, 0, len(records))
	for _, rec := range records {
		events = append(events, rec.toDomain())
	}
	return events, nil
}

func (r *MetadataRepository) GetContextsByExecution(ctx context.Context, executionID int64) ([]*metadata.Context, error) {
	tx := r.db.WithContext(ctx)

	var records []*ContextRecord
	err := tx.Model(&ContextRecord{}).
		Joins("JOIN associations ON associations.context_id = contexts.id").
		Where("associations.execution_id = ?", executionID).
		Order("contexts.id ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get contexts: %w", err)
	}

	typeIDs := make([]int64, 0, len(records))
	for _, rec := range records {
		typeIDs = append(typeIDs, rec.TypeID)
	}
	names, err := typeNames(tx, typeIDs)
	if err != nil {
		return nil, err
	}

	contexts := make([]*metadata.Context, 0, len(records))
	for _, rec := range records {
		contexts = append(contexts, rec.toDomain(names[rec.TypeID]))
	}
	return contexts, nil
}

// putExecution writes one execution, its associations and its artifact
// events. It must run inside a transaction.
func (r *MetadataRepository) putExecution(
	tx *gorm.DB,
	execution *metadata.Execution,
	contextIDs []int64,
	inputs, outputs metadata.ArtifactMultiMap,
	outputEventType metadata.EventType,
) error {
	if err := r.saveExecution(tx, execution); err != nil {
		return err
	}

	for _, contextID := range contextIDs {
		association := &AssociationRecord{ContextID: contextID, ExecutionID: execution.ID}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(association).Error; err != nil {
			return fmt.Errorf("failed to associate context %d: %w", contextID, err)
		}
	}

	if err := r.linkArtifacts(tx, execution.ID, contextIDs, inputs, metadata.EventInput); err != nil {
		return err
	}
	return r.linkArtifacts(tx, execution.ID, contextIDs, outputs, outputEventType)
}

func (r *MetadataRepository) saveExecution(tx *gorm.DB, execution *metadata.Execution) error {
	typ, err := resolveType(tx, typeKindExecution, execution.TypeID, execution.Type)
	if err != nil {
		return err
	}

	record := newExecutionRecord(execution, typ.ID)

	if execution.ID == 0 {
		if execution.Name != "" {
			var count int64
			if err := tx.Model(&ExecutionRecord{}).
				Where("type_id = ? AND name = ?", typ.ID, execution.Name).
				Count(&count).Error; err != nil {
				return fmt.Errorf("failed to check execution name: %w", err)
			}
			if count > 0 {
				return fmt.Errorf("%w: %s/%s", metadata.ErrDuplicateRegistration, typ.Name, execution.Name)
			}
		}

		if err := tx.Create(record).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("%w: %s/%s", metadata.ErrDuplicateRegistration, typ.Name, execution.Name)
			}
			return fmt.Errorf("failed to create execution: %w", err)
		}
	} else {
		record.UpdatedAt = time.Now().UTC()
		result := tx.Model(record).
			Select("TypeID", "Name", "LastKnownState", "Properties", "CustomProperties", "UpdatedAt").
			Updates(record)
		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("%w: %s/%s", metadata.ErrDuplicateRegistration, typ.Name, execution.Name)
			}
			return fmt.Errorf("failed to update execution %d: %w", execution.ID, result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: %d", metadata.ErrNotFound, execution.ID)
		}
	}

	execution.ID = record.ID
	execution.TypeID = typ.ID
	execution.Type = typ.Name
	if execution.CreatedAt.IsZero() {
		execution.CreatedAt = record.CreatedAt
	}
	execution.UpdatedAt = record.UpdatedAt
	return nil
}

func (r *MetadataRepository) linkArtifacts(
	tx *gorm.DB,
	executionID int64,
	contextIDs []int64,
	artifacts metadata.ArtifactMultiMap,
	eventType metadata.EventType,
) error {
	for _, key := range artifacts.Keys() {
		for index, artifact := range artifacts[key] {
			if artifact == nil {
				return fmt.Errorf("artifact %s[%d] is nil", key, index)
			}
			if err := r.saveArtifact(tx, artifact); err != nil {
				return fmt.Errorf("failed to save artifact %s[%d]: %w", key, index, err)
			}

			event := &EventRecord{
				ArtifactID:  artifact.ID,
				ExecutionID: executionID,
				Type:        string(eventType),
				PathKey:     key,
				PathIndex:   index,
			}
			if err := tx.Create(event).Error; err != nil {
				return fmt.Errorf("failed to create %s event: %w", eventType, err)
			}

			for _, contextID := range contextIDs {
				attribution := &AttributionRecord{ContextID: contextID, ArtifactID: artifact.ID}
				if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(attribution).Error; err != nil {
					return fmt.Errorf("failed to attribute artifact %d: %w", artifact.ID, err)
				}
			}
		}
	}
	return nil
}

func (r *MetadataRepository) saveArtifact(tx *gorm.DB, artifact *metadata.Artifact) error {
	typ, err := resolveType(tx, typeKindArtifact, artifact.TypeID, artifact.Type)
	if err != nil {
		return err
	}

	record := newArtifactRecord(artifact, typ.ID)
	if artifact.ID == 0 {
		if err := tx.Create(record).Error; err != nil {
			return fmt.Errorf("failed to create artifact: %w", err)
		}
	} else {
		record.UpdatedAt = time.Now().UTC()
		result := tx.Model(record).
			Select("TypeID", "URI", "Name", "State", "Properties", "CustomProperties", "UpdatedAt").
			Updates(record)
		if result.Error != nil {
			return fmt.Errorf("failed to update artifact %d: %w", artifact.ID, result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("artifact %d not found", artifact.ID)
		}
	}

	artifact.ID = record.ID
	artifact.TypeID = typ.ID
	artifact.Type = typ.Name
	if artifact.CreatedAt.IsZero() {
		artifact.CreatedAt = record.CreatedAt
	}
	artifact.UpdatedAt = record.UpdatedAt
	return nil
}

// putContexts resolves contexts without an id by (type, name), creating
// them when missing, and returns the context ids in order.
func (r *MetadataRepository) putContexts(tx *gorm.DB, contexts []*metadata.Context) ([]int64, error) {
	ids := make([]int64, 0, len(contexts))
	for i, c := range contexts {
		if c == nil {
			return nil, fmt.Errorf("context at index %d is nil", i)
		}
		if c.ID != 0 {
			ids = append(ids, c.ID)
			continue
		}
		if c.Name == "" {
			return nil, fmt.Errorf("context at index %d has neither id nor name", i)
		}

		typ, err := resolveType(tx, typeKindContext, c.TypeID, c.Type)
		if err != nil {
			return nil, err
		}

		record := ContextRecord{TypeID: typ.ID, Name: c.Name, Properties: c.Properties}
		err = tx.Where(ContextRecord{TypeID: typ.ID, Name: c.Name}).
			Attrs(ContextRecord{Properties: c.Properties}).
			FirstOrCreate(&record).Error
		if err != nil {
			return nil, fmt.Errorf("failed to put context %s/%s: %w", typ.Name, c.Name, err)
		}

		c.ID = record.ID
		c.TypeID = typ.ID
		c.Type = typ.Name
		ids = append(ids, record.ID)
	}
	return ids, nil
}

// resolveType loads a type by id, or gets or creates it by name
func resolveType(tx *gorm.DB, kind string, id int64, name string) (*TypeRecord, error) {
	var record TypeRecord

	if id != 0 {
		err := tx.Where("id = ? AND kind = ?", id, kind).First(&record).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%s type %d not found", kind, id)
		} else if err != nil {
			return nil, fmt.Errorf("failed to get %s type: %w", kind, err)
		}
		if name != "" && name != record.Name {
			return nil, fmt.Errorf("%s type %d is %s, not %s", kind, id, record.Name, name)
		}
		return &record, nil
	}

	if name == "" {
		return nil, fmt.Errorf("%s type is required", kind)
	}

	if err := tx.Where(TypeRecord{Kind: kind, Name: name}).FirstOrCreate(&record).Error; err != nil {
		return nil, fmt.Errorf("failed to get or create %s type %s: %w", kind, name, err)
	}
	return &record, nil
}

func typeNames(tx *gorm.DB, ids []int64) (map[int64]string, error) {
	names := make(map[int64]string, len(ids))
	if len(ids) == 0 {
		return names, nil
	}

	var records []TypeRecord
	if err := tx.Where("id IN ?", ids).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to get types: %w", err)
	}
	for _, rec := range records {
		names[rec.ID] = rec.Name
	}
	return names, nil
}

func (r *MetadataRepository) executionsToDomain(tx *gorm.DB, records []*ExecutionRecord) ([]*metadata.Execution, error) {
	typeIDs := make([]int64, 0, len(records))
	for _, rec := range records {
		typeIDs = append(typeIDs, rec.TypeID)
	}
	names, err := typeNames(tx, typeIDs)
	if err != nil {
		return nil, err
	}

	executions := make([]*metadata.Execution, 0, len(records))
	for _, rec := range records {
		executions = append(executions, rec.toDomain(names[rec.TypeID]))
	}
	return executions, nil
}

package repository

import (
	"context"
	"fmt"
	"testing"

	"github.com/execledger/execledger/internal/domain/metadata"
	"github.com/execledger/execledger/internal/metadata/ports"
	"github.com/execledger/execledger/pkg/database"
	"github.com/execledger/execledger/pkg/logger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *database.DB {
	t.Helper()

	// Each test gets its own named in-memory database
	db, err := database.New(database.Config{
		Driver: database.DriverSQLite,
		Path:   fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
	}, logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, NewMetadataRepository(db).Migrate())
	return db
}

func newExecution(name string) *metadata.Execution {
	return &metadata.Execution{
		Type:           "Trainer",
		Name:           name,
		LastKnownState: metadata.ExecutionNew,
		Properties:     metadata.Properties{"component_id": metadata.StringValue("trainer")},
	}
}

func pipelineContexts() []*metadata.Context {
	return []*metadata.Context{
		{Type: "pipeline", Name: "my-pipeline"},
		{Type: "pipeline_run", Name: "run-1"},
	}
}

func TestMetadataRepository_PutExecution_Create(t *testing.T) {
	repo := NewMetadataRepository(setupTestDB(t))
	ctx := context.Background()

	execution := newExecution("")
	contexts := pipelineContexts()
	inputs := metadata.ArtifactMultiMap{
		"examples": {{Type: "Examples", URI: "/data/examples", State: metadata.ArtifactPublished}},
	}

	stored, err := repo.PutExecution(ctx, ports.PutExecutionRequest{
		Execution:      execution,
		Contexts:       contexts,
		InputArtifacts: inputs,
	})
	require.NoError(t, err)
	assert.NotZero(t, stored.ID)
	assert.NotZero(t, stored.TypeID)
	assert.Equal(t, "Trainer", stored.Type)
	assert.NotZero(t, contexts[0].ID)
	assert.NotZero(t, contexts[1].ID)
	assert.NotZero(t, inputs["examples"][0].ID)

	executions, err := repo.GetExecutionsByID(ctx, []int64{stored.ID})
	require.NoError(t, err)
	require.Len(t, executions, 1)
	assert.Equal(t, metadata.ExecutionNew, executions[0].LastKnownState)
	assert.Equal(t, "trainer", executions[0].Properties["component_id"].StringValue)

	events, err := repo.GetEventsByExecutionIDs(ctx, []int64{stored.ID})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, metadata.EventInput, events[0].Type)
	assert.Equal(t, metadata.EventPath{Key: "examples", Index: 0}, events[0].Path)

	attached, err := repo.GetContextsByExecution(ctx, stored.ID)
	require.NoError(t, err)
	require.Len(t, attached, 2)
	assert.Equal(t, "my-pipeline", attached[0].Name)
	assert.Equal(t, "pipeline", attached[0].Type)
	assert.Equal(t, "run-1", attached[1].Name)
}

func TestMetadataRepository_PutExecution_ReusesContexts(t *testing.T) {
	repo := NewMetadataRepository(setupTestDB(t))
	ctx := context.Background()

	first := pipelineContexts()
	_, err := repo.PutExecution(ctx, ports.PutExecutionRequest{Execution: newExecution(""), Contexts: first})
	require.NoError(t, err)

	second := pipelineContexts()
	_, err = repo.PutExecution(ctx, ports.PutExecutionRequest{Execution: newExecution(""), Contexts: second})
	require.NoError(t, err)

	assert.Equal(t, first[0].ID, second[0].ID)
	assert.Equal(t, first[1].ID, second[1].ID)
}

func TestMetadataRepository_PutExecution_Update(t *testing.T) {
	repo := NewMetadataRepository(setupTestDB(t))
	ctx := context.Background()

	execution, err := repo.PutExecution(ctx, ports.PutExecutionRequest{
		Execution: newExecution(uuid.NewString()),
		Contexts:  pipelineContexts(),
	})
	require.NoError(t, err)
	id := execution.ID

	execution.LastKnownState = metadata.ExecutionComplete
	execution.SetCustomProperty("attempt", metadata.IntValue(2))
	outputs := metadata.ArtifactMultiMap{
		"model": {
			{Type: "Model", URI: "/out/model/1", State: metadata.ArtifactPublished},
			{Type: "Model", URI: "/out/model/2", State: metadata.ArtifactPublished},
		},
	}

	updated, err := repo.PutExecution(ctx, ports.PutExecutionRequest{
		Execution:       execution,
		Contexts:        pipelineContexts(),
		OutputArtifacts: outputs,
	})
	require.NoError(t, err)
	assert.Equal(t, id, updated.ID)

	executions, err := repo.GetExecutionsByID(ctx, []int64{id})
	require.NoError(t, err)
	require.Len(t, executions, 1)
	assert.Equal(t, metadata.ExecutionComplete, executions[0].LastKnownState)
	assert.Equal(t, int64(2), executions[0].CustomProperties["attempt"].IntValue)
	assert.Equal(t, execution.Name, executions[0].Name)

	events, err := repo.GetEventsByExecutionIDs(ctx, []int64{id})
	require.NoError(t, err)
	require.Len(t, events, 2)
	for i, event := range events {
		assert.Equal(t, metadata.EventOutput, event.Type)
		assert.Equal(t, metadata.EventPath{Key: "model", Index: i}, event.Path)
	}

	artifacts, err := repo.GetArtifactsByID(ctx, []int64{outputs["model"][0].ID, outputs["model"][1].ID})
	require.NoError(t, err)
	require.Len(t, artifacts, 2)
	assert.Equal(t, "/out/model/1", artifacts[0].URI)
	assert.Equal(t, "Model", artifacts[0].Type)
	assert.Equal(t, metadata.ArtifactPublished, artifacts[1].State)

	// contexts are associated once
	attached, err := repo.GetContextsByExecution(ctx, id)
	require.NoError(t, err)
	assert.Len(t, attached, 2)
}

func TestMetadataRepository_PutExecution_InternalOutputEventType(t *testing.T) {
	repo := NewMetadataRepository(setupTestDB(t))
	ctx := context.Background()

	execution, err := repo.PutExecution(ctx, ports.PutExecutionRequest{
		Execution: newExecution(""),
		OutputArtifacts: metadata.ArtifactMultiMap{
			"state": {{Type: "State", URI: "/internal/state"}},
		},
		OutputEventType: metadata.EventInternalOutput,
	})
	require.NoError(t, err)

	events, err := repo.GetEventsByExecutionIDs(ctx, []int64{execution.ID})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, metadata.EventInternalOutput, events[0].Type)
}

func TestMetadataRepository_PutExecution_DuplicateName(t *testing.T) {
	repo := NewMetadataRepository(setupTestDB(t))
	ctx := context.Background()
	name := uuid.NewString()

	_, err := repo.PutExecution(ctx, ports.PutExecutionRequest{Execution: newExecution(name)})
	require.NoError(t, err)

	_, err = repo.PutExecution(ctx, ports.PutExecutionRequest{Execution: newExecution(name)})
	assert.ErrorIs(t, err, metadata.ErrDuplicateRegistration)
}

func TestMetadataRepository_PutExecution_UnknownID(t *testing.T) {
	repo := NewMetadataRepository(setupTestDB(t))

	execution := newExecution("")
	execution.ID = 4242

	_, err := repo.PutExecution(context.Background(), ports.PutExecutionRequest{Execution: execution})
	assert.ErrorIs(t, err, metadata.ErrNotFound)
}

func TestMetadataRepository_PutExecution_RollsBack(t *testing.T) {
	repo := NewMetadataRepository(setupTestDB(t))
	ctx := context.Background()
	name := uuid.NewString()

	_, err := repo.PutExecution(ctx, ports.PutExecutionRequest{
		Execution: newExecution(name),
		OutputArtifacts: metadata.ArtifactMultiMap{
			"model": {{URI: "/out/untyped"}},
		},
	})
	require.Error(t, err)

	_, err = repo.GetExecutionByTypeAndName(ctx, "Trainer", name)
	assert.ErrorIs(t, err, metadata.ErrNotFound)
}

func TestMetadataRepository_GetExecutionByTypeAndName(t *testing.T) {
	repo := NewMetadataRepository(setupTestDB(t))
	ctx := context.Background()
	name := uuid.NewString()

	created, err := repo.PutExecution(ctx, ports.PutExecutionRequest{Execution: newExecution(name)})
	require.NoError(t, err)

	found, err := repo.GetExecutionByTypeAndName(ctx, "Trainer", name)
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)

	_, err = repo.GetExecutionByTypeAndName(ctx, "Trainer", "other")
	assert.ErrorIs(t, err, metadata.ErrNotFound)
}

func TestMetadataRepository_PutExecutions(t *testing.T) {
	repo := NewMetadataRepository(setupTestDB(t))
	ctx := context.Background()

	t.Run("mismatched maps", func(t *testing.T) {
		_, err := repo.PutExecutions(ctx, ports.PutExecutionsRequest{
			Executions:          []*metadata.Execution{newExecution(""), newExecution("")},
			OutputArtifactsMaps: []metadata.ArtifactMultiMap{{}},
		})
		assert.Error(t, err)
	})

	t.Run("with outputs", func(t *testing.T) {
		first, second := newExecution(""), newExecution("")
		first.LastKnownState = metadata.ExecutionCached
		second.LastKnownState = metadata.ExecutionCached

		stored, err := repo.PutExecutions(ctx, ports.PutExecutionsRequest{
			Executions: []*metadata.Execution{first, second},
			Contexts:   pipelineContexts(),
			OutputArtifactsMaps: []metadata.ArtifactMultiMap{
				{"model": {{Type: "Model", URI: "/cached/model"}}},
				nil,
			},
		})
		require.NoError(t, err)
		require.Len(t, stored, 2)
		assert.NotZero(t, stored[0].ID)
		assert.NotZero(t, stored[1].ID)

		events, err := repo.GetEventsByExecutionIDs(ctx, []int64{stored[0].ID, stored[1].ID})
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, stored[0].ID, events[0].ExecutionID)

		for _, execution := range stored {
			attached, err := repo.GetContextsByExecution(ctx, execution.ID)
			require.NoError(t, err)
			assert.Len(t, attached, 2)
		}
	})
}

func TestMetadataRepository_GetOrCreateExecutionType(t *testing.T) {
	repo := NewMetadataRepository(setupTestDB(t))
	ctx := context.Background()

	first, err := repo.GetOrCreateExecutionType(ctx, &metadata.ExecutionType{Name: "Trainer", Version: "1"})
	require.NoError(t, err)
	assert.NotZero(t, first.ID)

	second, err := repo.GetOrCreateExecutionType(ctx, &metadata.ExecutionType{Name: "Trainer"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "1", second.Version)

	_, err = repo.GetOrCreateExecutionType(ctx, &metadata.ExecutionType{})
	assert.Error(t, err)
}

func TestMetadataRepository_EmptyLookups(t *testing.T) {
	repo := NewMetadataRepository(setupTestDB(t))
	ctx := context.Background()

	executions, err := repo.GetExecutionsByID(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, executions)

	executions, err = repo.GetExecutionsByID(ctx, []int64{99})
	require.NoError(t, err)
	assert.Empty(t, executions)

	artifacts, err := repo.GetArtifactsByID(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, artifacts)
}

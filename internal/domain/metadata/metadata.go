package metadata

import (
	"encoding/json"
	"fmt"
	"time"
)

// ExecutionState represents the last known state of an execution
type ExecutionState string

const (
	ExecutionNew      ExecutionState = "NEW"
	ExecutionRunning  ExecutionState = "RUNNING"
	ExecutionComplete ExecutionState = "COMPLETE"
	ExecutionFailed   ExecutionState = "FAILED"
	ExecutionCached   ExecutionState = "CACHED"
	ExecutionCanceled ExecutionState = "CANCELED"
)

// IsValid reports whether s is one of the known execution states
func (s ExecutionState) IsValid() bool {
	switch s {
	case ExecutionNew, ExecutionRunning, ExecutionComplete, ExecutionFailed, ExecutionCached, ExecutionCanceled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is expected from the state
func (s ExecutionState) IsTerminal() bool {
	switch s {
	case ExecutionComplete, ExecutionFailed, ExecutionCached, ExecutionCanceled:
		return true
	}
	return false
}

// EventType represents the role of an artifact in an execution
type EventType string

const (
	EventDeclaredInput  EventType = "DECLARED_INPUT"
	EventDeclaredOutput EventType = "DECLARED_OUTPUT"
	EventInput          EventType = "INPUT"
	EventOutput         EventType = "OUTPUT"
	EventInternalOutput EventType = "INTERNAL_OUTPUT"
)

// ExecutionResultPropertyKey is the custom property holding the execution result
const ExecutionResultPropertyKey = "__execution_result__"

// ExecutionType describes a kind of execution (usually a component)
type ExecutionType struct {
	ID          int64  `json:"id,omitempty"`
	Name        string `json:"name"`
	Version     string `json:"version,omitempty"`
	Description string `json:"description,omitempty"`
}

// Execution is one run of a pipeline node
type Execution struct {
	ID               int64          `json:"id,omitempty"`
	TypeID           int64          `json:"typeId,omitempty"`
	Type             string         `json:"type,omitempty"`
	Name             string         `json:"name,omitempty"`
	LastKnownState   ExecutionState `json:"lastKnownState"`
	Properties       Properties     `json:"properties,omitempty"`
	CustomProperties Properties     `json:"customProperties,omitempty"`
	CreatedAt        time.Time      `json:"createdAt"`
	UpdatedAt        time.Time      `json:"updatedAt"`
}

// SetCustomProperty sets a custom property, allocating the map if needed
func (e *Execution) SetCustomProperty(key string, value Value) {
	if e.CustomProperties == nil {
		e.CustomProperties = make(Properties)
	}
	e.CustomProperties[key] = value
}

// Result decodes the attached execution result. ok is false when none is set.
func (e *Execution) Result() (result ExecutionResult, ok bool, err error) {
	v, exists := e.CustomProperties[ExecutionResultPropertyKey]
	if !exists {
		return result, false, nil
	}
	if err := json.Unmarshal([]byte(v.StringValue), &result); err != nil {
		return result, true, fmt.Errorf("failed to decode execution result: %w", err)
	}
	return result, true, nil
}

// SetResult attaches result as the execution result custom property
func (e *Execution) SetResult(result ExecutionResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode execution result: %w", err)
	}
	e.SetCustomProperty(ExecutionResultPropertyKey, StringValue(string(data)))
	return nil
}

// ExecutionResult is the structured outcome reported by an executor
type ExecutionResult struct {
	Code            int32                    `json:"code,omitempty"`
	ResultMessage   string                   `json:"resultMessage,omitempty"`
	MetadataDetails []map[string]interface{} `json:"metadataDetails,omitempty"`
}

// IsEmpty reports whether the result carries no information
func (r ExecutionResult) IsEmpty() bool {
	return r.Code == 0 && r.ResultMessage == "" && len(r.MetadataDetails) == 0
}

// ExecutorOutput is what the code that ran a node reports back
type ExecutorOutput struct {
	ExecutionProperties Properties       `json:"executionProperties,omitempty"`
	OutputArtifacts     ArtifactMultiMap `json:"outputArtifacts,omitempty"`
	ExecutionResult     ExecutionResult  `json:"executionResult"`
}

// Context groups executions and artifacts under a logical scope
type Context struct {
	ID         int64      `json:"id,omitempty"`
	TypeID     int64      `json:"typeId,omitempty"`
	Type       string     `json:"type"`
	Name       string     `json:"name"`
	Properties Properties `json:"properties,omitempty"`
}

// Event links an artifact to an execution
type Event struct {
	ID          int64     `json:"id,omitempty"`
	ArtifactID  int64     `json:"artifactId"`
	ExecutionID int64     `json:"executionId"`
	Type        EventType `json:"type"`
	Path        EventPath `json:"path"`
	CreatedAt   time.Time `json:"createdAt"`
}

// EventPath locates an artifact inside an ArtifactMultiMap
type EventPath struct {
	Key   string `json:"key"`
	Index int    `json:"index"`
}

// NodeTask identifies the scheduler task that ran a node
type NodeTask struct {
	PipelineID    string `json:"pipelineId"`
	PipelineRunID string `json:"pipelineRunId,omitempty"`
	NodeID        string `json:"nodeId"`
	ExecutionID   int64  `json:"executionId,omitempty"`
}

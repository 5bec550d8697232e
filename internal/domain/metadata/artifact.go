package metadata

import (
	"sort"
	"time"
)

// ArtifactState represents the lifecycle state of an artifact
type ArtifactState string

const (
	ArtifactPending           ArtifactState = "PENDING"
	ArtifactPublished         ArtifactState = "PUBLISHED"
	ArtifactReference         ArtifactState = "REFERENCE"
	ArtifactMarkedForDeletion ArtifactState = "MARKED_FOR_DELETION"
	ArtifactDeleted           ArtifactState = "DELETED"
	ArtifactAbandoned         ArtifactState = "ABANDONED"
)

// Artifact is a unit of data produced or consumed by an execution
type Artifact struct {
	ID               int64         `json:"id,omitempty"`
	TypeID           int64         `json:"typeId,omitempty"`
	Type             string        `json:"type,omitempty"`
	URI              string        `json:"uri,omitempty"`
	Name             string        `json:"name,omitempty"`
	State            ArtifactState `json:"state,omitempty"`
	Properties       Properties    `json:"properties,omitempty"`
	CustomProperties Properties    `json:"customProperties,omitempty"`
	CreatedAt        time.Time     `json:"createdAt"`
	UpdatedAt        time.Time     `json:"updatedAt"`
}

// Clone returns a deep copy of the artifact
func (a *Artifact) Clone() *Artifact {
	if a == nil {
		return nil
	}
	c := *a
	c.Properties = a.Properties.Clone()
	c.CustomProperties = a.CustomProperties.Clone()
	return &c
}

// ArtifactMultiMap maps an output channel key to its ordered artifacts.
// A nil map means the argument was not supplied.
type ArtifactMultiMap map[string][]*Artifact

// Clone deep-copies the map and every artifact in it
func (m ArtifactMultiMap) Clone() ArtifactMultiMap {
	if m == nil {
		return nil
	}
	out := make(ArtifactMultiMap, len(m))
	for key, artifacts := range m {
		cloned := make([]*Artifact, len(artifacts))
		for i, a := range artifacts {
			cloned[i] = a.Clone()
		}
		out[key] = cloned
	}
	return out
}

// Keys returns the channel keys in sorted order
func (m ArtifactMultiMap) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the total number of artifacts across all keys
func (m ArtifactMultiMap) Len() int {
	n := 0
	for _, artifacts := range m {
		n += len(artifacts)
	}
	return n
}

package merge

import (
	"github.com/execledger/execledger/internal/domain/metadata"
)

// UpdatedOutputArtifacts merges executor reported artifacts into the output
// artifacts declared by the system. Neither input is modified.
//
// Constraints on updated:
//   - its keys must be a subset of the declared keys
//   - an update to a key carries the complete list for that key
//   - an updated artifact must keep the declared artifact type
//
// Keys missing from updated are copied through. A nil updated map returns a
// copy of declared.
func UpdatedOutputArtifacts(declared, updated metadata.ArtifactMultiMap) (metadata.ArtifactMultiMap, error) {
	merged := declared.Clone()
	if merged == nil {
		merged = make(metadata.ArtifactMultiMap)
	}
	if updated == nil {
		return merged, nil
	}

	for _, key := range updated.Keys() {
		declaredArtifacts, ok := declared[key]
		if !ok {
			return nil, metadata.NewMergeError(key, "executor output contains a key that was not declared as an output")
		}

		updatedArtifacts := updated[key]
		if len(updatedArtifacts) > 0 && len(declaredArtifacts) == 0 {
			// New artifacts for an empty (intermediate) output key are not supported.
			return nil, metadata.NewMergeError(key, "no declared artifact to derive the artifact type from")
		}

		result := make([]*metadata.Artifact, 0, len(updatedArtifacts))
		for i, update := range updatedArtifacts {
			if update == nil {
				return nil, metadata.NewMergeError(key, "artifact at index %d is nil", i)
			}

			var base *metadata.Artifact
			if i < len(declaredArtifacts) {
				base = declaredArtifacts[i].Clone()
			} else {
				base = typeTemplate(declaredArtifacts[0])
			}

			if err := checkSameType(key, base, update); err != nil {
				return nil, err
			}
			result = append(result, overlay(base, update))
		}
		merged[key] = result
	}

	return merged, nil
}

// checkSameType rejects an update naming any type other than the declared
// one, including a type id when only the declared name is known and the
// reverse.
func checkSameType(key string, declared, update *metadata.Artifact) error {
	if update.TypeID != 0 && update.TypeID != declared.TypeID {
		return metadata.NewMergeError(key, "executor output should not change artifact type id from %d (%s) to %d",
			declared.TypeID, declared.Type, update.TypeID)
	}
	if update.Type != "" && update.Type != declared.Type {
		return metadata.NewMergeError(key, "executor output should not change artifact type from %q to %q",
			declared.Type, update.Type)
	}
	return nil
}

// typeTemplate keeps only the type and state of a declared artifact
func typeTemplate(a *metadata.Artifact) *metadata.Artifact {
	return &metadata.Artifact{
		TypeID: a.TypeID,
		Type:   a.Type,
		State:  a.State,
	}
}

// overlay sets every field present on update onto base, except the type
func overlay(base, update *metadata.Artifact) *metadata.Artifact {
	if update.ID != 0 {
		base.ID = update.ID
	}
	if update.URI != "" {
		base.URI = update.URI
	}
	if update.Name != "" {
		base.Name = update.Name
	}
	if update.State != "" {
		base.State = update.State
	}
	base.Properties = mergeProperties(base.Properties, update.Properties)
	base.CustomProperties = mergeProperties(base.CustomProperties, update.CustomProperties)
	return base
}

func mergeProperties(base, update metadata.Properties) metadata.Properties {
	if len(update) == 0 {
		return base
	}
	if base == nil {
		base = make(metadata.Properties, len(update))
	}
	for k, v := range update {
		base[k] = v
	}
	return base
}

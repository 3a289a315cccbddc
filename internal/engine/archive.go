package engine

import (
	"encoding/json"
	"fmt"

	"forgepad/internal/chat"
	"forgepad/internal/checkpoint"
	"forgepad/internal/snapshot"
	"forgepad/internal/store"
)

// ArchiveVersion identifies the export document format.
const ArchiveVersion = "1.0"

// Archive is the self-describing export document. It round-trips through
// ImportAll into an equivalent store state.
type Archive struct {
	Chats       []chat.Record           `json:"chats"`
	Snapshots   []snapshot.Snapshot     `json:"snapshots"`
	Checkpoints []checkpoint.Checkpoint `json:"checkpoints"`
	ExportDate  string                  `json:"exportDate"`
	Version     string                  `json:"version"`
}

// MarshalArchive serializes an archive to its JSON document form.
func MarshalArchive(a *Archive) ([]byte, error) {
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal archive: %w", err)
	}
	return data, nil
}

// UnmarshalArchive parses an export document, failing with ErrValidation on
// malformed input.
func UnmarshalArchive(data []byte) (*Archive, error) {
	var a Archive
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("%w: parse archive: %v", store.ErrValidation, err)
	}
	return &a, nil
}

package checkpoint

import (
	"forgepad/internal/chat"
	"forgepad/internal/snapshot"
)

// Checkpoint is an immutable, named copy of a chat's messages and file state
// taken at a point in time. Files and messages are deep copies; later
// mutation of the live conversation never reaches a checkpoint. Checkpoints
// have a lifetime independent of their source chat.
type Checkpoint struct {
	ID           string                        `json:"id"`
	ChatID       string                        `json:"chatId"`
	Name         string                        `json:"name"`
	Description  string                        `json:"description,omitempty"`
	Timestamp    string                        `json:"timestamp"`
	Files        map[string]snapshot.FileState `json:"files"`
	Messages     []chat.Message                `json:"messages"`
	MessageCount int                           `json:"messageCount"`
	IsAutoSave   bool                          `json:"isAutoSave"`
}

// RestoreResult is the navigation hint handed back to the UI layer after a
// restore: the chat branched off the checkpoint and its shareable url id.
type RestoreResult struct {
	ChatID string `json:"chatId"`
	URLID  string `json:"urlId"`
}

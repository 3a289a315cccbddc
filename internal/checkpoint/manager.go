// Package checkpoint manages named, timestamped copies of a chat's messages
// and file state, with fork-based restore: restoring never rewrites the
// source conversation, it branches a new one.
package checkpoint

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"forgepad/internal/chat"
	"forgepad/internal/snapshot"
	"forgepad/internal/store"
)

// MaxNameLen caps checkpoint names, mirroring the description cap on chats.
const MaxNameLen = 100

// Manager owns the checkpoints collection.
type Manager struct {
	store  *store.Store
	chats  *chat.Repository
	snaps  *snapshot.Store
	logger *zap.Logger
}

// NewManager creates a Manager over the shared handle and its sibling
// repositories.
func NewManager(s *store.Store, chats *chat.Repository, snaps *snapshot.Store, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{store: s, chats: chats, snaps: snaps, logger: logger}
}

// Create captures a checkpoint of chatID. When messages is nil the chat's
// current transcript is used; files come from the current snapshot when one
// exists, else from the caller-supplied map. Both are deep-copied.
func (m *Manager) Create(chatID, name, description string, messages []chat.Message, files map[string]snapshot.FileState, isAutoSave bool) (*Checkpoint, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: checkpoint name is empty", store.ErrValidation)
	}
	if len(name) > MaxNameLen {
		return nil, fmt.Errorf("%w: checkpoint name exceeds %d characters", store.ErrValidation, MaxNameLen)
	}

	rec, err := m.chats.Get(chatID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: no active chat %q", store.ErrNotFound, chatID)
		}
		return nil, err
	}

	if messages == nil {
		messages = rec.Messages
	}
	if snap, err := m.snaps.Get(chatID); err == nil {
		files = snap.Files
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	cp := &Checkpoint{
		ID:           m.newID(chatID),
		ChatID:       rec.ID,
		Name:         name,
		Description:  description,
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
		Files:        copyFiles(files),
		Messages:     copyMessages(messages),
		MessageCount: len(messages),
		IsAutoSave:   isAutoSave,
	}

	if err := m.WriteIn(m.store.DB(), cp); err != nil {
		return nil, err
	}

	m.logger.Debug("checkpoint created",
		zap.String("id", cp.ID),
		zap.String("chat", cp.ChatID),
		zap.Int("messages", cp.MessageCount),
		zap.Bool("autoSave", cp.IsAutoSave))
	return cp, nil
}

// newID derives a checkpoint id from the chat id and creation time. Two
// checkpoints landing in the same millisecond get a random suffix instead
// of failing the insert.
func (m *Manager) newID(chatID string) string {
	id := fmt.Sprintf("%s-%d", chatID, time.Now().UnixMilli())

	var existing string
	err := m.store.DB().QueryRow(`SELECT id FROM checkpoints WHERE id = ?`, id).Scan(&existing)
	if errors.Is(err, sql.ErrNoRows) {
		return id
	}
	return fmt.Sprintf("%s-%s", id, uuid.NewString()[:8])
}

// List returns every checkpoint for chatID, newest first.
func (m *Manager) List(chatID string) ([]Checkpoint, error) {
	rows, err := m.store.DB().Query(`
		SELECT id, chat_id, name, description, timestamp, message_count, is_auto_save, files, messages
		FROM checkpoints WHERE chat_id = ? ORDER BY timestamp DESC, id DESC`, chatID)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	return m.collect(rows)
}

// Get resolves a checkpoint by id.
func (m *Manager) Get(id string) (*Checkpoint, error) {
	row := m.store.DB().QueryRow(`
		SELECT id, chat_id, name, description, timestamp, message_count, is_auto_save, files, messages
		FROM checkpoints WHERE id = ?`, id)

	cp, err := m.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: checkpoint %q", store.ErrNotFound, id)
	}
	return cp, err
}

// Restore branches a new chat off the checkpoint: a fresh chat id, a url id
// derived from the checkpoint name, the checkpoint's transcript and file
// state. The source chat and the checkpoint itself are untouched, so a
// checkpoint can be restored any number of times.
func (m *Manager) Restore(id string) (*RestoreResult, error) {
	cp, err := m.Get(id)
	if err != nil {
		return nil, err
	}

	newID, err := m.chats.NextID()
	if err != nil {
		return nil, err
	}
	urlID, err := m.chats.UniqueURLID(slugify(cp.Name))
	if err != nil {
		return nil, err
	}

	if _, err := m.chats.Put(newID, copyMessages(cp.Messages), urlID, "Restored: "+cp.Name); err != nil {
		return nil, err
	}
	if err := m.snaps.Put(newID, copyFiles(cp.Files), ""); err != nil {
		return nil, err
	}

	m.logger.Info("checkpoint restored as new chat",
		zap.String("checkpoint", cp.ID),
		zap.String("sourceChat", cp.ChatID),
		zap.String("newChat", newID))
	return &RestoreResult{ChatID: newID, URLID: urlID}, nil
}

// Delete removes a checkpoint unconditionally. No cascading effects.
func (m *Manager) Delete(id string) error {
	if _, err := m.store.DB().Exec(`DELETE FROM checkpoints WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete checkpoint %s: %w", id, err)
	}
	return nil
}

// DeleteByChatIn removes every checkpoint belonging to chatID through q.
// This is an explicit bulk operation, never triggered by chat deletion.
func (m *Manager) DeleteByChatIn(q store.Querier, chatID string) error {
	if _, err := q.Exec(`DELETE FROM checkpoints WHERE chat_id = ?`, chatID); err != nil {
		return fmt.Errorf("delete checkpoints for chat %s: %w", chatID, err)
	}
	return nil
}

// PruneAutoSaves deletes the oldest auto-save checkpoints of chatID until at
// most max checkpoints remain. Manual checkpoints are never pruned.
func (m *Manager) PruneAutoSaves(chatID string, max int) (int, error) {
	if max <= 0 {
		return 0, nil
	}

	var total int
	if err := m.store.DB().QueryRow(`SELECT COUNT(*) FROM checkpoints WHERE chat_id = ?`, chatID).Scan(&total); err != nil {
		return 0, fmt.Errorf("count checkpoints: %w", err)
	}
	excess := total - max
	if excess <= 0 {
		return 0, nil
	}

	res, err := m.store.DB().Exec(`
		DELETE FROM checkpoints WHERE id IN (
			SELECT id FROM checkpoints
			WHERE chat_id = ? AND is_auto_save = 1
			ORDER BY timestamp ASC, id ASC
			LIMIT ?
		)`, chatID, excess)
	if err != nil {
		return 0, fmt.Errorf("prune checkpoints: %w", err)
	}

	pruned, _ := res.RowsAffected()
	if pruned > 0 {
		m.logger.Debug("pruned auto-save checkpoints",
			zap.String("chat", chatID), zap.Int64("pruned", pruned))
	}
	return int(pruned), nil
}

// AllIn reads every checkpoint through q.
func (m *Manager) AllIn(q store.Querier) ([]Checkpoint, error) {
	rows, err := q.Query(`
		SELECT id, chat_id, name, description, timestamp, message_count, is_auto_save, files, messages
		FROM checkpoints ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	return m.collect(rows)
}

// WriteIn writes a checkpoint verbatim through q, payloads compressed.
func (m *Manager) WriteIn(q store.Querier, cp *Checkpoint) error {
	filesJSON, err := json.Marshal(cp.Files)
	if err != nil {
		return fmt.Errorf("marshal checkpoint files: %w", err)
	}
	messagesJSON, err := json.Marshal(cp.Messages)
	if err != nil {
		return fmt.Errorf("marshal checkpoint messages: %w", err)
	}

	codec := m.store.Codec()
	_, err = q.Exec(`
		INSERT OR REPLACE INTO checkpoints
		(id, chat_id, name, description, timestamp, message_count, is_auto_save, files, messages)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cp.ID, cp.ChatID, cp.Name, cp.Description, cp.Timestamp,
		cp.MessageCount, cp.IsAutoSave, codec.Compress(filesJSON), codec.Compress(messagesJSON))
	if err != nil {
		return fmt.Errorf("write checkpoint %s: %w", cp.ID, err)
	}
	return nil
}

// ClearIn removes every checkpoint through q.
func (m *Manager) ClearIn(q store.Querier) error {
	if _, err := q.Exec(`DELETE FROM checkpoints`); err != nil {
		return fmt.Errorf("clear checkpoints: %w", err)
	}
	return nil
}

func (m *Manager) collect(rows *sql.Rows) ([]Checkpoint, error) {
	var checkpoints []Checkpoint
	for rows.Next() {
		cp, err := m.scan(rows)
		if err != nil {
			return nil, err
		}
		checkpoints = append(checkpoints, *cp)
	}
	return checkpoints, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func (m *Manager) scan(row scanner) (*Checkpoint, error) {
	cp := &Checkpoint{}
	var filesBlob, messagesBlob []byte
	err := row.Scan(&cp.ID, &cp.ChatID, &cp.Name, &cp.Description, &cp.Timestamp,
		&cp.MessageCount, &cp.IsAutoSave, &filesBlob, &messagesBlob)
	if err != nil {
		return nil, err
	}

	codec := m.store.Codec()
	filesJSON, err := codec.Decompress(filesBlob)
	if err != nil {
		return nil, fmt.Errorf("checkpoint %s files: %w", cp.ID, err)
	}
	if err := json.Unmarshal(filesJSON, &cp.Files); err != nil {
		return nil, fmt.Errorf("%w: checkpoint %s files: %v", store.ErrValidation, cp.ID, err)
	}

	messagesJSON, err := codec.Decompress(messagesBlob)
	if err != nil {
		return nil, fmt.Errorf("checkpoint %s messages: %w", cp.ID, err)
	}
	if err := json.Unmarshal(messagesJSON, &cp.Messages); err != nil {
		return nil, fmt.Errorf("%w: checkpoint %s messages: %v", store.ErrValidation, cp.ID, err)
	}

	return cp, nil
}

// slugify normalizes a checkpoint name into a url id candidate.
func slugify(name string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	slug := strings.Trim(b.String(), "-")
	if slug == "" {
		return "checkpoint"
	}
	return slug
}

func copyMessages(messages []chat.Message) []chat.Message {
	out := make([]chat.Message, len(messages))
	copy(out, messages)
	return out
}

func copyFiles(files map[string]snapshot.FileState) map[string]snapshot.FileState {
	out := make(map[string]snapshot.FileState, len(files))
	for path, state := range files {
		out[path] = state
	}
	return out
}

// Package snapshot persists the current file state of a project, one
// snapshot per chat. File contents are opaque to the engine; diffing and
// materialization belong to the UI layer.
package snapshot

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"forgepad/internal/store"
)

// FileState is one file in a project build, treated as an opaque payload.
type FileState struct {
	Content  string `json:"content"`
	IsBinary bool   `json:"isBinary,omitempty"`
	Type     string `json:"type,omitempty"`
}

// Snapshot is the current file state associated with one chat. At most one
// snapshot exists per chat id.
type Snapshot struct {
	ChatID  string               `json:"chatId"`
	Files   map[string]FileState `json:"files"`
	Summary string               `json:"summary,omitempty"`
}

// Store owns the snapshots collection.
type Store struct {
	store *store.Store
}

// NewStore creates a Store over the shared handle.
func NewStore(s *store.Store) *Store {
	return &Store{store: s}
}

// Get returns the snapshot for chatID, or ErrNotFound.
func (s *Store) Get(chatID string) (*Snapshot, error) {
	row := s.store.DB().QueryRow(`SELECT chat_id, files, summary FROM snapshots WHERE chat_id = ?`, chatID)

	snap, err := s.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: snapshot for chat %s", store.ErrNotFound, chatID)
	}
	return snap, err
}

// Put overwrites the snapshot for chatID. There is no merge; the caller
// supplies the complete file state.
func (s *Store) Put(chatID string, files map[string]FileState, summary string) error {
	if chatID == "" {
		return fmt.Errorf("%w: chat id is empty", store.ErrValidation)
	}
	if files == nil {
		files = map[string]FileState{}
	}
	return s.WriteIn(s.store.DB(), &Snapshot{ChatID: chatID, Files: files, Summary: summary})
}

// WriteIn writes a snapshot verbatim through q.
func (s *Store) WriteIn(q store.Querier, snap *Snapshot) error {
	data, err := json.Marshal(snap.Files)
	if err != nil {
		return fmt.Errorf("marshal snapshot files: %w", err)
	}

	_, err = q.Exec(`INSERT OR REPLACE INTO snapshots (chat_id, files, summary) VALUES (?, ?, ?)`,
		snap.ChatID, s.store.Codec().Compress(data), snap.Summary)
	if err != nil {
		return fmt.Errorf("write snapshot for chat %s: %w", snap.ChatID, err)
	}
	return nil
}

// Delete removes the snapshot for chatID. Deleting an absent snapshot is
// success, not an error: not every chat has one.
func (s *Store) Delete(chatID string) error {
	return s.DeleteIn(s.store.DB(), chatID)
}

// DeleteIn removes a snapshot through q, tolerating absence.
func (s *Store) DeleteIn(q store.Querier, chatID string) error {
	if _, err := q.Exec(`DELETE FROM snapshots WHERE chat_id = ?`, chatID); err != nil {
		return fmt.Errorf("delete snapshot for chat %s: %w", chatID, err)
	}
	return nil
}

// AllIn reads every snapshot through q.
func (s *Store) AllIn(q store.Querier) ([]Snapshot, error) {
	rows, err := q.Query(`SELECT chat_id, files, summary FROM snapshots ORDER BY chat_id`)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []Snapshot
	for rows.Next() {
		snap, err := s.scan(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, *snap)
	}
	return snaps, rows.Err()
}

// ClearIn removes every snapshot through q.
func (s *Store) ClearIn(q store.Querier) error {
	if _, err := q.Exec(`DELETE FROM snapshots`); err != nil {
		return fmt.Errorf("clear snapshots: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *Store) scan(row scanner) (*Snapshot, error) {
	snap := &Snapshot{}
	var blob []byte
	if err := row.Scan(&snap.ChatID, &blob, &snap.Summary); err != nil {
		return nil, err
	}

	data, err := s.store.Codec().Decompress(blob)
	if err != nil {
		return nil, fmt.Errorf("snapshot for chat %s: %w", snap.ChatID, err)
	}
	if err := json.Unmarshal(data, &snap.Files); err != nil {
		return nil, fmt.Errorf("%w: snapshot for chat %s: %v", store.ErrValidation, snap.ChatID, err)
	}
	return snap, nil
}

// Package chat persists conversation records and allocates their numeric
// and human-shareable identifiers.
package chat

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"forgepad/internal/store"
)

// MaxDescriptionLen caps chat descriptions. Validation happens in the UI
// layer; the repository re-checks defensively at the boundary.
const MaxDescriptionLen = 100

// Repository owns the chats collection.
type Repository struct {
	store *store.Store
}

// NewRepository creates a Repository over the shared store handle.
func NewRepository(s *store.Store) *Repository {
	return &Repository{store: s}
}

// GetAll returns every chat record in insertion order.
func (r *Repository) GetAll() ([]Record, error) {
	return r.AllIn(r.store.DB())
}

// AllIn reads every chat record through q, which may be a transaction.
func (r *Repository) AllIn(q store.Querier) ([]Record, error) {
	rows, err := q.Query(`SELECT id, url_id, description, messages, timestamp FROM chats ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// Get resolves a chat by primary id first, then by url id.
func (r *Repository) Get(idOrURL string) (*Record, error) {
	rec, err := r.getBy("id", idOrURL)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	rec, err = r.getBy("url_id", idOrURL)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: chat %q", store.ErrNotFound, idOrURL)
	}
	return rec, err
}

func (r *Repository) getBy(column, value string) (*Record, error) {
	row := r.store.DB().QueryRow(
		`SELECT id, url_id, description, messages, timestamp FROM chats WHERE `+column+` = ?`, value)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return rec, err
}

// Put upserts a chat record, always refreshing its timestamp. A url id
// already owned by a different chat is rejected; the collision-resolving
// allocator makes that unreachable in practice, but the invariant is
// enforced here as well.
func (r *Repository) Put(id string, messages []Message, urlID, description string) (*Record, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: chat id is empty", store.ErrValidation)
	}

	if urlID != "" {
		var owner string
		err := r.store.DB().QueryRow(`SELECT id FROM chats WHERE url_id = ?`, urlID).Scan(&owner)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("check url id: %w", err)
		}
		if owner != "" && owner != id {
			return nil, fmt.Errorf("%w: url id %q already belongs to chat %s", store.ErrConflict, urlID, owner)
		}
	}

	rec := &Record{
		ID:          id,
		URLID:       urlID,
		Description: description,
		Messages:    messages,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}
	if rec.Messages == nil {
		rec.Messages = []Message{}
	}

	if err := r.WriteIn(r.store.DB(), rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// WriteIn writes a record verbatim through q. The upsert keeps the original
// rowid so insertion order survives updates.
func (r *Repository) WriteIn(q store.Querier, rec *Record) error {
	data, err := json.Marshal(rec.Messages)
	if err != nil {
		return fmt.Errorf("marshal messages: %w", err)
	}

	_, err = q.Exec(`
		INSERT INTO chats (id, url_id, description, messages, timestamp)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			url_id = excluded.url_id,
			description = excluded.description,
			messages = excluded.messages,
			timestamp = excluded.timestamp`,
		rec.ID, rec.URLID, rec.Description, string(data), rec.Timestamp)
	if err != nil {
		return fmt.Errorf("write chat %s: %w", rec.ID, err)
	}
	return nil
}

// NextID allocates the next chat id: max existing numeric id + 1. This is a
// full scan per allocation, acceptable while per-user chat counts stay
// small.
func (r *Repository) NextID() (string, error) {
	rows, err := r.store.DB().Query(`SELECT id FROM chats`)
	if err != nil {
		return "", fmt.Errorf("scan chat ids: %w", err)
	}
	defer rows.Close()

	max := 0
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", err
		}
		if n, err := strconv.Atoi(id); err == nil && n > max {
			max = n
		}
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	return strconv.Itoa(max + 1), nil
}

// UniqueURLID resolves candidate against the existing url ids, appending
// -2, -3, ... until an unused suffix is found.
func (r *Repository) UniqueURLID(candidate string) (string, error) {
	rows, err := r.store.DB().Query(`SELECT url_id FROM chats WHERE url_id != ''`)
	if err != nil {
		return "", fmt.Errorf("scan url ids: %w", err)
	}
	defer rows.Close()

	taken := make(map[string]bool)
	for rows.Next() {
		var urlID string
		if err := rows.Scan(&urlID); err != nil {
			return "", err
		}
		taken[urlID] = true
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	if !taken[candidate] {
		return candidate, nil
	}
	for i := 2; ; i++ {
		next := fmt.Sprintf("%s-%d", candidate, i)
		if !taken[next] {
			return next, nil
		}
	}
}

// UpdateDescription is a read-modify-write of the description. The record
// keeps its messages and url id; the timestamp refreshes like any other put.
func (r *Repository) UpdateDescription(idOrURL, description string) error {
	if description == "" {
		return fmt.Errorf("%w: description is empty", store.ErrValidation)
	}
	if len(description) > MaxDescriptionLen {
		return fmt.Errorf("%w: description exceeds %d characters", store.ErrValidation, MaxDescriptionLen)
	}

	rec, err := r.Get(idOrURL)
	if err != nil {
		return err
	}

	_, err = r.Put(rec.ID, rec.Messages, rec.URLID, description)
	return err
}

// DeleteIn removes a chat through q. Deleting an absent chat is success.
func (r *Repository) DeleteIn(q store.Querier, id string) error {
	if _, err := q.Exec(`DELETE FROM chats WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete chat %s: %w", id, err)
	}
	return nil
}

// ClearIn removes every chat through q.
func (r *Repository) ClearIn(q store.Querier) error {
	if _, err := q.Exec(`DELETE FROM chats`); err != nil {
		return fmt.Errorf("clear chats: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

// scanRecord decodes one chats row, failing fast on a corrupted transcript
// instead of propagating malformed data to the UI layer.
func scanRecord(s scanner) (*Record, error) {
	rec := &Record{}
	var messages string
	if err := s.Scan(&rec.ID, &rec.URLID, &rec.Description, &messages, &rec.Timestamp); err != nil {
		return nil, err
	}
	if rec.ID == "" {
		return nil, fmt.Errorf("%w: chat record has no id", store.ErrValidation)
	}
	if err := json.Unmarshal([]byte(messages), &rec.Messages); err != nil {
		return nil, fmt.Errorf("%w: chat %s transcript: %v", store.ErrValidation, rec.ID, err)
	}
	return rec, nil
}

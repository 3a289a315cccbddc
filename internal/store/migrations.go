package store

import (
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Schema versions:
// v1: chats table + unique url_id index
// v2: snapshots table
// v3: checkpoints table + chat_id/timestamp indexes
const currentSchemaVersion = 3

type migration struct {
	version int
	stmts   []string
}

// Each migration is idempotent: a database that already carries the target
// table or index is skipped via IF NOT EXISTS.
var migrations = []migration{
	{
		version: 1,
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS chats (
				id TEXT PRIMARY KEY,
				url_id TEXT NOT NULL DEFAULT '',
				description TEXT NOT NULL DEFAULT '',
				messages TEXT NOT NULL,
				timestamp TEXT NOT NULL
			)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_chats_url_id ON chats(url_id) WHERE url_id != ''`,
		},
	},
	{
		version: 2,
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS snapshots (
				chat_id TEXT PRIMARY KEY,
				files BLOB NOT NULL,
				summary TEXT NOT NULL DEFAULT ''
			)`,
		},
	},
	{
		version: 3,
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS checkpoints (
				id TEXT PRIMARY KEY,
				chat_id TEXT NOT NULL,
				name TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				timestamp TEXT NOT NULL,
				message_count INTEGER NOT NULL,
				is_auto_save INTEGER NOT NULL DEFAULT 0,
				files BLOB NOT NULL,
				messages BLOB NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_checkpoints_chat_id ON checkpoints(chat_id)`,
			`CREATE INDEX IF NOT EXISTS idx_checkpoints_timestamp ON checkpoints(timestamp)`,
		},
	},
}

// migrate applies every migration whose version exceeds the persisted schema
// version, in ascending order, each inside its own transaction.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	version, err := s.schemaVersion()
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.version <= version {
			continue
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.version, err)
		}
		for _, stmt := range m.stmts {
			if _, err := tx.Exec(stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("migration %d: %w", m.version, err)
			}
		}
		if _, err := tx.Exec(`UPDATE schema_version SET version = ?`, m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: record version: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.version, err)
		}

		s.logger.Info("schema migration applied", zap.Int("version", m.version))
	}

	return nil
}

// schemaVersion reads the persisted schema version, seeding the row on a
// fresh database.
func (s *Store) schemaVersion() (int, error) {
	var version int
	err := s.db.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		if _, err := s.db.Exec(`INSERT INTO schema_version (version) VALUES (0)`); err != nil {
			return 0, fmt.Errorf("seed schema_version: %w", err)
		}
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema_version: %w", err)
	}
	return version, nil
}

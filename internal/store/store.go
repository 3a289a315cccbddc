// Package store owns the embedded SQLite database shared by every
// repository: the schema and its versioned migrations, the error taxonomy,
// the payload codec, and the transaction helper used for operations that
// span more than one collection.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Querier is the subset of database/sql shared by *sql.DB and *sql.Tx.
// Repository methods that must compose into a single transaction accept it.
type Querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// Store wraps the shared SQLite handle. It is opened once at session start
// and passed by reference into each repository; there is no implicit
// reinitialization.
type Store struct {
	db     *sql.DB
	codec  *Codec
	path   string
	logger *zap.Logger
}

// Open creates or opens the engine database at path and brings the schema up
// to the current version. An open failure is permanent for the session and
// is reported as ErrUnavailable.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("%w: create data dir: %v", ErrUnavailable, err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	// A single connection lets SQLite serialize concurrent engine
	// operations instead of surfacing SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	codec, err := NewCodec()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	s := &Store{db: db, codec: codec, path: path, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return s, nil
}

// DB returns the shared handle for single-collection operations.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Codec returns the payload codec for compressed blob columns.
func (s *Store) Codec() *Codec {
	return s.codec
}

// WithTx runs fn inside one transaction. An fn error rolls everything back
// and is returned as-is; begin and commit failures map to ErrTxFailed.
func (s *Store) WithTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ErrTxFailed, err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrTxFailed, err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

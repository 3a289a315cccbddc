package store

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func TestStore_Open(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	s, err := Open(dbPath, zap.NewNop())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Database file was not created")
	}

	version, err := s.schemaVersion()
	if err != nil {
		t.Fatalf("schemaVersion failed: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("Expected schema version %d, got %d", currentSchemaVersion, version)
	}
}

func TestStore_MigrationsIdempotentAcrossReopen(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	s, err := Open(dbPath, zap.NewNop())
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	if _, err := s.db.Exec(`INSERT INTO chats (id, messages, timestamp) VALUES ('1', '[]', '2026-01-01T00:00:00Z')`); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	s.Close()

	// Reopen: no migration re-runs, data survives.
	s, err = Open(dbPath, zap.NewNop())
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s.Close()

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM chats`).Scan(&count); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 chat after reopen, got %d", count)
	}
}

func TestStore_OpenUnavailable(t *testing.T) {
	tmpDir := t.TempDir()
	blocker := filepath.Join(tmpDir, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatalf("write blocker: %v", err)
	}

	// Parent of the db path is a regular file, so the data dir cannot exist.
	_, err := Open(filepath.Join(blocker, "nested", "test.db"), zap.NewNop())
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("Expected ErrUnavailable, got %v", err)
	}
}

func TestStore_WithTxRollsBackOnError(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	boom := errors.New("boom")
	err = s.WithTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO chats (id, messages, timestamp) VALUES ('9', '[]', '2026-01-01T00:00:00Z')`); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Expected fn error to propagate, got %v", err)
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM chats`).Scan(&count); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected rollback to leave 0 chats, got %d", count)
	}
}

func TestCodec_RoundTrip(t *testing.T) {
	codec, err := NewCodec()
	if err != nil {
		t.Fatalf("NewCodec failed: %v", err)
	}

	payload := []byte(`{"messages":[{"id":"m1","role":"user","content":"hello"}]}`)
	out, err := codec.Decompress(codec.Compress(payload))
	if err != nil {
		t.Fatalf("Decompress failed: %v", err)
	}
	if string(out) != string(payload) {
		t.Errorf("Round trip mismatch: got %q", out)
	}
}

func TestCodec_CorruptPayload(t *testing.T) {
	codec, err := NewCodec()
	if err != nil {
		t.Fatalf("NewCodec failed: %v", err)
	}

	_, err = codec.Decompress([]byte("not zstd data"))
	if !errors.Is(err, ErrValidation) {
		t.Errorf("Expected ErrValidation for corrupt payload, got %v", err)
	}
}

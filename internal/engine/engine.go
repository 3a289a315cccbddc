// Package engine wires the persistence components together behind one
// facade and performs the operations that must touch more than one
// collection inside a single transaction. The UI layer constructs one
// Engine at session start and shares it by reference.
package engine

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"forgepad/internal/chat"
	"forgepad/internal/checkpoint"
	"forgepad/internal/config"
	"forgepad/internal/snapshot"
	"forgepad/internal/store"
)

// Engine is the persistence facade consumed by the UI layer. When the
// backing store cannot be opened the engine runs degraded: every operation
// returns store.ErrUnavailable and a single warning is logged at
// construction.
type Engine struct {
	store       *store.Store
	chats       *chat.Repository
	snapshots   *snapshot.Store
	checkpoints *checkpoint.Manager
	logger      *zap.Logger

	mu           sync.Mutex
	policy       config.CheckpointPolicy
	lastAutoSave map[string]int
}

// New opens the store at cfg.DatabasePath and wires the repositories. An
// open failure does not fail construction; it yields a degraded engine.
func New(cfg *config.Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{
		logger:       logger,
		policy:       cfg.Checkpoints,
		lastAutoSave: make(map[string]int),
	}

	s, err := store.Open(cfg.DatabasePath, logger)
	if err != nil {
		logger.Warn("persistence unavailable, chats will not be saved", zap.Error(err))
		return e
	}

	e.store = s
	e.chats = chat.NewRepository(s)
	e.snapshots = snapshot.NewStore(s)
	e.checkpoints = checkpoint.NewManager(s, e.chats, e.snapshots, logger)
	return e
}

// Close releases the store handle. In-flight operations on other goroutines
// are allowed to finish before the caller invokes Close.
func (e *Engine) Close() error {
	if e.store == nil {
		return nil
	}
	return e.store.Close()
}

// Available reports whether the backing store opened.
func (e *Engine) Available() bool {
	return e.store != nil
}

func (e *Engine) available() error {
	if e.store == nil {
		return store.ErrUnavailable
	}
	return nil
}

// ===== Chats =====

// GetAllChats returns every chat in insertion order. History lists filter to
// chats having both a url id and a description.
func (e *Engine) GetAllChats() ([]chat.Record, error) {
	if err := e.available(); err != nil {
		return nil, err
	}
	return e.chats.GetAll()
}

// GetChat resolves a chat by id or url id.
func (e *Engine) GetChat(idOrURL string) (*chat.Record, error) {
	if err := e.available(); err != nil {
		return nil, err
	}
	return e.chats.Get(idOrURL)
}

// SaveChat upserts a chat transcript, refreshing its timestamp.
func (e *Engine) SaveChat(id string, messages []chat.Message, urlID, description string) (*chat.Record, error) {
	if err := e.available(); err != nil {
		return nil, err
	}
	return e.chats.Put(id, messages, urlID, description)
}

// NextChatID allocates the next numeric chat id.
func (e *Engine) NextChatID() (string, error) {
	if err := e.available(); err != nil {
		return "", err
	}
	return e.chats.NextID()
}

// UniqueChatURLID resolves candidate to an unused url id.
func (e *Engine) UniqueChatURLID(candidate string) (string, error) {
	if err := e.available(); err != nil {
		return "", err
	}
	return e.chats.UniqueURLID(candidate)
}

// UpdateChatDescription rewrites a chat's description.
func (e *Engine) UpdateChatDescription(idOrURL, description string) error {
	if err := e.available(); err != nil {
		return err
	}
	return e.chats.UpdateDescription(idOrURL, description)
}

// ===== Snapshots =====

// GetSnapshot returns the file-state snapshot for a chat.
func (e *Engine) GetSnapshot(chatID string) (*snapshot.Snapshot, error) {
	if err := e.available(); err != nil {
		return nil, err
	}
	return e.snapshots.Get(chatID)
}

// TakeSnapshot overwrites the snapshot for a chat with the supplied file
// state.
func (e *Engine) TakeSnapshot(chatID string, files map[string]snapshot.FileState, summary string) error {
	if err := e.available(); err != nil {
		return err
	}
	return e.snapshots.Put(chatID, files, summary)
}

// DeleteSnapshot removes a chat's snapshot; absence is success.
func (e *Engine) DeleteSnapshot(chatID string) error {
	if err := e.available(); err != nil {
		return err
	}
	return e.snapshots.Delete(chatID)
}

// ===== Checkpoints =====

// CreateCheckpoint captures a named checkpoint and applies the retention
// policy afterwards.
func (e *Engine) CreateCheckpoint(chatID, name, description string, messages []chat.Message, files map[string]snapshot.FileState, isAutoSave bool) (*checkpoint.Checkpoint, error) {
	if err := e.available(); err != nil {
		return nil, err
	}

	cp, err := e.checkpoints.Create(chatID, name, description, messages, files, isAutoSave)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	max := e.policy.MaxPerChat
	e.mu.Unlock()
	if max > 0 {
		if _, err := e.checkpoints.PruneAutoSaves(chatID, max); err != nil {
			e.logger.Warn("checkpoint pruning failed", zap.String("chat", chatID), zap.Error(err))
		}
	}
	return cp, nil
}

// ListCheckpoints returns a chat's checkpoints, newest first.
func (e *Engine) ListCheckpoints(chatID string) ([]checkpoint.Checkpoint, error) {
	if err := e.available(); err != nil {
		return nil, err
	}
	return e.checkpoints.List(chatID)
}

// RestoreCheckpoint branches a new chat off a checkpoint and returns the
// navigation hint for the UI layer.
func (e *Engine) RestoreCheckpoint(id string) (*checkpoint.RestoreResult, error) {
	if err := e.available(); err != nil {
		return nil, err
	}
	return e.checkpoints.Restore(id)
}

// DeleteCheckpoint removes one checkpoint.
func (e *Engine) DeleteCheckpoint(id string) error {
	if err := e.available(); err != nil {
		return err
	}
	return e.checkpoints.Delete(id)
}

// DeleteChatCheckpoints removes every checkpoint belonging to a chat. This
// is deliberately separate from DeleteChatCascade: checkpoints outlive
// their source chat unless explicitly purged.
func (e *Engine) DeleteChatCheckpoints(chatID string) error {
	if err := e.available(); err != nil {
		return err
	}
	return e.checkpoints.DeleteByChatIn(e.store.DB(), chatID)
}

// MaybeAutoCheckpoint creates an auto-save checkpoint when the policy is
// enabled and the transcript has grown past the configured interval since
// the last auto-save.
func (e *Engine) MaybeAutoCheckpoint(chatID string, files map[string]snapshot.FileState) (*checkpoint.Checkpoint, error) {
	if err := e.available(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	policy := e.policy
	last := e.lastAutoSave[chatID]
	e.mu.Unlock()

	if !policy.AutoSave || policy.Interval <= 0 {
		return nil, nil
	}

	rec, err := e.chats.Get(chatID)
	if err != nil {
		return nil, err
	}
	if len(rec.Messages)-last < policy.Interval {
		return nil, nil
	}

	name := "Auto-save " + time.Now().UTC().Format("2006-01-02 15:04:05")
	cp, err := e.CreateCheckpoint(chatID, name, "", nil, files, true)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.lastAutoSave[chatID] = len(rec.Messages)
	e.mu.Unlock()
	return cp, nil
}

// SetCheckpointPolicy replaces the auto-checkpoint policy at runtime.
func (e *Engine) SetCheckpointPolicy(policy config.CheckpointPolicy) {
	e.mu.Lock()
	e.policy = policy
	e.mu.Unlock()
}

// CheckpointPolicy returns the current policy.
func (e *Engine) CheckpointPolicy() config.CheckpointPolicy {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.policy
}

// WatchSettings reloads the checkpoint policy whenever the settings file at
// path changes. The caller closes the returned watcher at shutdown.
func (e *Engine) WatchSettings(path string, debounce time.Duration) (*config.Watcher, error) {
	return config.Watch(path, debounce, func(policy config.CheckpointPolicy) {
		e.SetCheckpointPolicy(policy)
		e.logger.Info("checkpoint policy reloaded",
			zap.Bool("autoSave", policy.AutoSave),
			zap.Int("interval", policy.Interval),
			zap.Int("maxPerChat", policy.MaxPerChat))
	})
}

// ===== Cross-collection operations =====

// DeleteChatCascade removes a chat and its snapshot inside one transaction:
// either both are gone afterwards or neither is. A chat without a snapshot
// is fine; the snapshot half deleting nothing is success. Checkpoints are
// not touched.
func (e *Engine) DeleteChatCascade(chatID string) error {
	if err := e.available(); err != nil {
		return err
	}

	return e.store.WithTx(func(tx *sql.Tx) error {
		if err := e.chats.DeleteIn(tx, chatID); err != nil {
			return err
		}
		return e.snapshots.DeleteIn(tx, chatID)
	})
}

// ExportAll reads all three collections in one transaction for a consistent
// point-in-time view and returns the self-describing export document.
func (e *Engine) ExportAll() (*Archive, error) {
	if err := e.available(); err != nil {
		return nil, err
	}

	archive := &Archive{
		ExportDate: time.Now().UTC().Format(time.RFC3339),
		Version:    ArchiveVersion,
	}

	err := e.store.WithTx(func(tx *sql.Tx) error {
		var err error
		if archive.Chats, err = e.chats.AllIn(tx); err != nil {
			return err
		}
		if archive.Snapshots, err = e.snapshots.AllIn(tx); err != nil {
			return err
		}
		archive.Checkpoints, err = e.checkpoints.AllIn(tx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return archive, nil
}

// ImportAll replaces the store contents with the archive. IDs are taken
// verbatim so references between imported chats and their snapshots and
// checkpoints stay intact.
func (e *Engine) ImportAll(archive *Archive) error {
	if err := e.available(); err != nil {
		return err
	}
	if archive == nil {
		return fmt.Errorf("%w: archive is nil", store.ErrValidation)
	}
	if archive.Version != ArchiveVersion {
		return fmt.Errorf("%w: unsupported archive version %q", store.ErrValidation, archive.Version)
	}

	return e.store.WithTx(func(tx *sql.Tx) error {
		if err := e.chats.ClearIn(tx); err != nil {
			return err
		}
		if err := e.snapshots.ClearIn(tx); err != nil {
			return err
		}
		if err := e.checkpoints.ClearIn(tx); err != nil {
			return err
		}

		for i := range archive.Chats {
			if err := e.chats.WriteIn(tx, &archive.Chats[i]); err != nil {
				return err
			}
		}
		for i := range archive.Snapshots {
			if err := e.snapshots.WriteIn(tx, &archive.Snapshots[i]); err != nil {
				return err
			}
		}
		for i := range archive.Checkpoints {
			if err := e.checkpoints.WriteIn(tx, &archive.Checkpoints[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteAll clears all three collections in one transaction. Collections
// that are already empty do not fail the operation.
func (e *Engine) DeleteAll() error {
	if err := e.available(); err != nil {
		return err
	}

	return e.store.WithTx(func(tx *sql.Tx) error {
		if err := e.chats.ClearIn(tx); err != nil {
			return err
		}
		if err := e.snapshots.ClearIn(tx); err != nil {
			return err
		}
		return e.checkpoints.ClearIn(tx)
	})
}

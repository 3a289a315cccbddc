package checkpoint

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"forgepad/internal/chat"
	"forgepad/internal/snapshot"
	"forgepad/internal/store"
)

type fixture struct {
	chats   *chat.Repository
	snaps   *snapshot.Store
	manager *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	chats := chat.NewRepository(s)
	snaps := snapshot.NewStore(s)
	return &fixture{
		chats:   chats,
		snaps:   snaps,
		manager: NewManager(s, chats, snaps, zap.NewNop()),
	}
}

func twoMessages() []chat.Message {
	return []chat.Message{
		{ID: "m1", Role: "user", Content: "add a login page"},
		{ID: "m2", Role: "assistant", Content: "done"},
	}
}

func TestManager_CreateDefaultsFromChatAndSnapshot(t *testing.T) {
	f := newFixture(t)

	_, err := f.chats.Put("1", twoMessages(), "demo", "Demo chat")
	require.NoError(t, err)
	require.NoError(t, f.snaps.Put("1", map[string]snapshot.FileState{
		"index.html": {Content: "<html></html>"},
	}, ""))

	cp, err := f.manager.Create("1", "before-refactor", "", nil, nil, false)
	require.NoError(t, err)

	assert.Equal(t, "1", cp.ChatID)
	assert.Equal(t, 2, cp.MessageCount)
	assert.Len(t, cp.Messages, 2)
	assert.Contains(t, cp.Files, "index.html", "files default to the current snapshot")
	assert.False(t, cp.IsAutoSave)
	assert.NotEmpty(t, cp.Timestamp)
}

func TestManager_CreateUsesCallerFilesWithoutSnapshot(t *testing.T) {
	f := newFixture(t)

	_, err := f.chats.Put("1", twoMessages(), "", "")
	require.NoError(t, err)

	cp, err := f.manager.Create("1", "wip", "", nil, map[string]snapshot.FileState{
		"main.go": {Content: "package main"},
	}, false)
	require.NoError(t, err)
	assert.Contains(t, cp.Files, "main.go")
}

func TestManager_CreateNoActiveChat(t *testing.T) {
	f := newFixture(t)

	_, err := f.manager.Create("42", "nope", "", nil, nil, false)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestManager_CreateValidatesName(t *testing.T) {
	f := newFixture(t)

	_, err := f.chats.Put("1", twoMessages(), "", "")
	require.NoError(t, err)

	_, err = f.manager.Create("1", "", "", nil, nil, false)
	assert.ErrorIs(t, err, store.ErrValidation)
}

func TestManager_CheckpointImmutability(t *testing.T) {
	f := newFixture(t)

	_, err := f.chats.Put("1", twoMessages(), "demo", "Demo")
	require.NoError(t, err)

	cp, err := f.manager.Create("1", "frozen", "", nil, map[string]snapshot.FileState{
		"a.txt": {Content: "v1"},
	}, false)
	require.NoError(t, err)

	// Mutate the live conversation and its snapshot after the checkpoint.
	grown := append(twoMessages(), chat.Message{ID: "m3", Role: "user", Content: "one more thing"})
	_, err = f.chats.Put("1", grown, "demo", "Demo")
	require.NoError(t, err)
	require.NoError(t, f.snaps.Put("1", map[string]snapshot.FileState{
		"a.txt": {Content: "v2"},
	}, ""))

	reread, err := f.manager.Get(cp.ID)
	require.NoError(t, err)
	assert.Len(t, reread.Messages, 2, "checkpoint transcript must not follow the live chat")
	assert.Equal(t, 2, reread.MessageCount)
	assert.Equal(t, "v1", reread.Files["a.txt"].Content)
}

func TestManager_ListNewestFirst(t *testing.T) {
	f := newFixture(t)

	_, err := f.chats.Put("1", twoMessages(), "", "")
	require.NoError(t, err)

	// Write with explicit timestamps to pin the ordering.
	for i, ts := range []string{"2026-08-01T10:00:00Z", "2026-08-02T10:00:00Z", "2026-08-03T10:00:00Z"} {
		require.NoError(t, f.manager.WriteIn(f.manager.store.DB(), &Checkpoint{
			ID:        fmt.Sprintf("1-%d", i),
			ChatID:    "1",
			Name:      fmt.Sprintf("cp-%d", i),
			Timestamp: ts,
			Files:     map[string]snapshot.FileState{},
			Messages:  []chat.Message{},
		}))
	}

	list, err := f.manager.List("1")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "2026-08-03T10:00:00Z", list[0].Timestamp)
	assert.Equal(t, "2026-08-01T10:00:00Z", list[2].Timestamp)
}

func TestManager_RestoreIsBranching(t *testing.T) {
	f := newFixture(t)

	_, err := f.chats.Put("1", twoMessages(), "demo", "Demo chat")
	require.NoError(t, err)
	require.NoError(t, f.snaps.Put("1", map[string]snapshot.FileState{
		"app.tsx": {Content: "v1"},
	}, ""))

	cp, err := f.manager.Create("1", "before-refactor", "", nil, nil, false)
	require.NoError(t, err)

	// The user keeps working after the checkpoint.
	grown := append(twoMessages(), chat.Message{ID: "m3", Role: "assistant", Content: "refactored"})
	_, err = f.chats.Put("1", grown, "demo", "Demo chat")
	require.NoError(t, err)

	result, err := f.manager.Restore(cp.ID)
	require.NoError(t, err)
	assert.Equal(t, "2", result.ChatID)
	assert.Equal(t, "before-refactor", result.URLID)

	branched, err := f.chats.Get(result.ChatID)
	require.NoError(t, err)
	assert.Len(t, branched.Messages, 2)
	assert.Equal(t, "Restored: before-refactor", branched.Description)

	// Source chat is untouched.
	source, err := f.chats.Get("1")
	require.NoError(t, err)
	assert.Len(t, source.Messages, 3)

	branchedSnap, err := f.snaps.Get(result.ChatID)
	require.NoError(t, err)
	assert.Equal(t, "v1", branchedSnap.Files["app.tsx"].Content)

	// Restoring again branches yet another chat; the checkpoint is unchanged.
	again, err := f.manager.Restore(cp.ID)
	require.NoError(t, err)
	assert.Equal(t, "3", again.ChatID)
	assert.Equal(t, "before-refactor-2", again.URLID)
}

func TestManager_RestoreNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.manager.Restore("1-123456")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestManager_Delete(t *testing.T) {
	f := newFixture(t)

	_, err := f.chats.Put("1", twoMessages(), "", "")
	require.NoError(t, err)

	cp, err := f.manager.Create("1", "gone soon", "", nil, nil, false)
	require.NoError(t, err)

	require.NoError(t, f.manager.Delete(cp.ID))
	_, err = f.manager.Get(cp.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	// Unconditional: deleting an absent checkpoint succeeds.
	require.NoError(t, f.manager.Delete(cp.ID))
}

func TestManager_PruneAutoSavesKeepsManual(t *testing.T) {
	f := newFixture(t)

	_, err := f.chats.Put("1", twoMessages(), "", "")
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		auto := i < 3
		require.NoError(t, f.manager.WriteIn(f.manager.store.DB(), &Checkpoint{
			ID:         fmt.Sprintf("1-%d", i),
			ChatID:     "1",
			Name:       fmt.Sprintf("cp-%d", i),
			Timestamp:  fmt.Sprintf("2026-08-0%dT10:00:00Z", i+1),
			Files:      map[string]snapshot.FileState{},
			Messages:   []chat.Message{},
			IsAutoSave: auto,
		}))
	}

	pruned, err := f.manager.PruneAutoSaves("1", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, pruned, "the two oldest auto-saves go")

	list, err := f.manager.List("1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.False(t, list[0].IsAutoSave, "manual checkpoint survives")
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"before-refactor":       "before-refactor",
		"Before Refactor!":      "before-refactor",
		"  API v2 -- rollout  ": "api-v2-rollout",
		"???":                   "checkpoint",
	}
	for in, want := range cases {
		assert.Equal(t, want, slugify(in), "slugify(%q)", in)
	}
}

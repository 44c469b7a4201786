package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/cyberbuddy/backend/internal/config"
	"github.com/zhouzirui/cyberbuddy/backend/internal/model/chat"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		return newTestSQLiteStore(t)
	})
}

func TestSQLiteStoreReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "chat.db")
	ctx := context.Background()

	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	session, err := store.CreateSession(ctx, "owner", "persisted")
	require.NoError(t, err)
	_, err = store.AppendTurn(ctx, session.ID, chat.RoleUser, "hello")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	// 第二次打开时迁移应当是 no-op。
	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, "persisted", got.Title)

	turns, err := reopened.ListTurns(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "hello", turns[0].Content)
}

func TestSQLiteStoreClampsTurnTime(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	store.now = func() time.Time { return clock }

	session, err := store.CreateSession(ctx, "owner", "")
	require.NoError(t, err)
	first, err := store.AppendTurn(ctx, session.ID, chat.RoleUser, "first")
	require.NoError(t, err)

	clock = base.Add(-time.Hour)
	second, err := store.AppendTurn(ctx, session.ID, chat.RoleAssistant, "second")
	require.NoError(t, err)
	assert.True(t, second.CreatedAt.Equal(first.CreatedAt))

	turns, err := store.ListTurns(ctx, session.ID)
	require.NoError(t, err)
	assert.True(t, turns[1].CreatedAt.Equal(turns[0].CreatedAt))
}

func TestOpenSelectsBackend(t *testing.T) {
	ctx := context.Background()

	mem, err := Open(ctx, config.StoreConfig{Driver: config.StoreMemory})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, mem)

	lite, err := Open(ctx, config.StoreConfig{Driver: config.StoreSQLite, SQLitePath: filepath.Join(t.TempDir(), "x.db")})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, lite)
	require.NoError(t, lite.Close())

	_, err = Open(ctx, config.StoreConfig{Driver: "mongo"})
	assert.Error(t, err)
}

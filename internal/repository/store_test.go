package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/cyberbuddy/backend/internal/model/chat"
	"github.com/zhouzirui/cyberbuddy/backend/internal/model/user"
)

// runStoreContract 对任意 Store 实现执行同一组行为检查。
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("create and get session", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		session, err := store.CreateSession(ctx, "owner-a", "")
		require.NoError(t, err)
		assert.NotEmpty(t, session.ID)
		assert.Equal(t, chat.DefaultTitle, session.Title)
		assert.Equal(t, "owner-a", session.OwnerID)

		got, err := store.GetSession(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, session.ID, got.ID)
		assert.Equal(t, "owner-a", got.OwnerID)
		assert.True(t, got.CreatedAt.Equal(session.CreatedAt))
	})

	t.Run("missing session", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		_, err := store.GetSession(ctx, "missing")
		assert.ErrorIs(t, err, ErrSessionNotFound)
		_, err = store.ListTurns(ctx, "missing")
		assert.ErrorIs(t, err, ErrSessionNotFound)
		_, err = store.AppendTurn(ctx, "missing", chat.RoleUser, "hi")
		assert.ErrorIs(t, err, ErrSessionNotFound)
		assert.ErrorIs(t, store.TouchSession(ctx, "missing"), ErrSessionNotFound)
		assert.ErrorIs(t, store.DeleteSession(ctx, "missing"), ErrSessionNotFound)
	})

	t.Run("turns keep append order", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		session, err := store.CreateSession(ctx, "owner-a", "ordering")
		require.NoError(t, err)

		contents := []string{"one", "two", "three", "four", "five"}
		for i, c := range contents {
			role := chat.RoleUser
			if i%2 == 1 {
				role = chat.RoleAssistant
			}
			_, err := store.AppendTurn(ctx, session.ID, role, c)
			require.NoError(t, err)
		}

		turns, err := store.ListTurns(ctx, session.ID)
		require.NoError(t, err)
		require.Len(t, turns, len(contents))
		for i, turn := range turns {
			assert.Equal(t, contents[i], turn.Content)
			assert.Equal(t, session.ID, turn.SessionID)
			if i > 0 {
				assert.False(t, turn.CreatedAt.Before(turns[i-1].CreatedAt), "turn %d goes back in time", i)
			}
		}
		assert.Equal(t, chat.RoleAssistant, turns[1].Role)
	})

	t.Run("invalid role rejected", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		session, err := store.CreateSession(ctx, "owner-a", "")
		require.NoError(t, err)
		_, err = store.AppendTurn(ctx, session.ID, chat.Role("system"), "nope")
		assert.Error(t, err)
	})

	t.Run("list sessions by owner newest first", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		// 后端可能在子测试间共享，使用唯一 owner。
		owner := "owner-" + uuid.NewString()

		older, err := store.CreateSession(ctx, owner, "older")
		require.NoError(t, err)
		newer, err := store.CreateSession(ctx, owner, "newer")
		require.NoError(t, err)
		_, err = store.CreateSession(ctx, "owner-b", "other")
		require.NoError(t, err)

		time.Sleep(2 * time.Millisecond)
		require.NoError(t, store.TouchSession(ctx, older.ID))

		sessions, err := store.ListSessions(ctx, owner)
		require.NoError(t, err)
		require.Len(t, sessions, 2)
		assert.Equal(t, older.ID, sessions[0].ID)
		assert.Equal(t, newer.ID, sessions[1].ID)
		assert.True(t, sessions[0].UpdatedAt.After(older.CreatedAt))

		none, err := store.ListSessions(ctx, "nobody-"+uuid.NewString())
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("delete cascades turns", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		session, err := store.CreateSession(ctx, "owner-a", "")
		require.NoError(t, err)
		_, err = store.AppendTurn(ctx, session.ID, chat.RoleUser, "hello")
		require.NoError(t, err)

		require.NoError(t, store.DeleteSession(ctx, session.ID))
		_, err = store.GetSession(ctx, session.ID)
		assert.ErrorIs(t, err, ErrSessionNotFound)
		_, err = store.ListTurns(ctx, session.ID)
		assert.ErrorIs(t, err, ErrSessionNotFound)
	})

	t.Run("get or create user", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		subject := "uid-" + uuid.NewString()

		first, err := store.GetOrCreateUser(ctx, user.Identity{SubjectID: subject, Email: "alice@example.com"})
		require.NoError(t, err)
		assert.Equal(t, subject, first.ID)
		assert.Equal(t, "alice", first.DisplayName)

		again, err := store.GetOrCreateUser(ctx, user.Identity{SubjectID: subject, Email: "changed@example.com", DisplayName: "Changed"})
		require.NoError(t, err)
		assert.Equal(t, "alice@example.com", again.Email)
		assert.Equal(t, "alice", again.DisplayName)

		_, err = store.GetOrCreateUser(ctx, user.Identity{})
		assert.Error(t, err)
	})

	t.Run("ping", func(t *testing.T) {
		store := newStore(t)
		assert.NoError(t, store.Ping(context.Background()))
	})
}

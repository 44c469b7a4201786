package chat

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/cyberbuddy/backend/internal/model/chat"
)

func TestSessionLocksReclaimEntries(t *testing.T) {
	locks := newSessionLocks()

	unlock, err := locks.lock(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, locks.size())

	unlock()
	assert.Equal(t, 0, locks.size())
}

func TestSessionLocksCancelWhileWaiting(t *testing.T) {
	locks := newSessionLocks()

	unlock, err := locks.lock(context.Background(), "s1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = locks.lock(ctx, "s1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	assert.Equal(t, 0, locks.size())
}

func TestSessionLocksIndependentKeys(t *testing.T) {
	locks := newSessionLocks()

	a, err := locks.lock(context.Background(), "a")
	require.NoError(t, err)
	b, err := locks.lock(context.Background(), "b")
	require.NoError(t, err)
	a()
	b()
}

func TestRecentWindow(t *testing.T) {
	turns := make([]chat.Turn, 15)
	for i := range turns {
		turns[i].Content = string(rune('a' + i))
	}

	window := recentWindow(turns, 10)
	require.Len(t, window, 10)
	assert.Equal(t, "f", window[0].Content)
	assert.Equal(t, "o", window[9].Content)

	assert.Len(t, recentWindow(turns[:3], 10), 3)
	assert.Nil(t, recentWindow(turns, 0))
	assert.Nil(t, recentWindow(nil, 10))
}

func TestTitleFromMessage(t *testing.T) {
	assert.Equal(t, chat.DefaultTitle, titleFromMessage("  "))
	assert.Equal(t, "short", titleFromMessage(" short "))

	title := titleFromMessage(strings.Repeat("漏", 60))
	assert.Equal(t, strings.Repeat("漏", 50)+"...", title)
}

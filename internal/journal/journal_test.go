package journal

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ChatDesk/internal/session"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestJournalRecordsTurnsInOrder(t *testing.T) {
	j := openTestJournal(t)
	store := session.NewStore()
	j.Attach(store)

	require.NoError(t, store.AppendUser("Hi"))
	store.AppendAssistant("Hello")

	entries, err := j.Entries(store.ConversationID())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 0, entries[0].Seq)
	assert.Equal(t, "user", entries[0].Role)
	assert.Equal(t, "Hi", entries[0].Content)
	assert.Equal(t, "assistant", entries[1].Role)
	assert.Equal(t, "Hello", entries[1].Content)
}

func TestJournalStartsNewConversationOnReset(t *testing.T) {
	j := openTestJournal(t)
	store := session.NewStore()
	j.Attach(store)

	first := store.ConversationID()
	require.NoError(t, store.AppendUser("Hi"))
	store.Reset()
	require.NoError(t, store.AppendUser("Fresh start"))

	n, err := j.Conversations()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	old, err := j.Entries(first)
	require.NoError(t, err)
	require.Len(t, old, 1)

	current, err := j.Entries(store.ConversationID())
	require.NoError(t, err)
	require.Len(t, current, 1)
	assert.Equal(t, "Fresh start", current[0].Content)
	assert.Equal(t, 0, current[0].Seq)
}

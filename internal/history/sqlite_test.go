package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"StreamChat/internal/session"
)

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "history.db"), discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_EmptyDatabase(t *testing.T) {
	s := newSQLiteStore(t)
	entries, err := s.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	first := sampleEntry("a", t0, "What is DeepSeek?", "A model family.", "And R1?", "A reasoning model.")
	second := sampleEntry("b", t0.Add(time.Minute), "巴黎有什么好玩的", "卢浮宫。")
	require.NoError(t, s.Save(ctx, first))
	require.NoError(t, s.Save(ctx, second))

	entries, err := s.LoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []session.HistoryEntry{first, second}, entries)
}

func TestSQLiteStore_DuplicateSessionRejected(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, sampleEntry("a", t0, "hi")))

	err := s.Save(ctx, sampleEntry("a", t0, "again"))
	var serr *StorageError
	require.ErrorAs(t, err, &serr)

	// the failed transaction leaves nothing behind
	entries, err := s.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "hi", entries[0].Messages[1].Content)
}

func TestSQLiteStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := NewSQLiteStore(path, discardLogger())
	require.NoError(t, err)
	require.NoError(t, s.Save(context.Background(), sampleEntry("a", t0, "hi")))
	require.NoError(t, s.Close())

	s2, err := NewSQLiteStore(path, discardLogger())
	require.NoError(t, err)
	defer s2.Close()
	entries, err := s2.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

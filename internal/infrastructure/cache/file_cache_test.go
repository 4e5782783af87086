package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doeshing/pcpilot/internal/domain"
)

func TestFileCacheRoundTrip(t *testing.T) {
	c := NewFileCache(filepath.Join(t.TempDir(), "cache"), time.Hour, 10)
	_, ok, err := c.Get("play_tunes")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(domain.CacheEntry{Key: "play_tunes", Action: "launch", Target: "Spotify", Provider: "claude"}))
	got, ok, err := c.Get("play_tunes")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Spotify", got.Target)
	assert.False(t, got.CreatedAt.IsZero())

	entries, err := c.Entries()
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	require.NoError(t, c.Clear())
	_, ok, _ = c.Get("play_tunes")
	assert.False(t, ok)
}

func TestFileCacheExpires(t *testing.T) {
	c := NewFileCache(t.TempDir(), time.Minute, 10)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	require.NoError(t, c.Set(domain.CacheEntry{Key: "k", Action: "launch"}))

	now = now.Add(2 * time.Minute)
	_, ok, err := c.Get("k")
	require.NoError(t, err)
	assert.False(t, ok)
	_, statErr := os.Stat(c.pathFor("k"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestFileCacheEvictsOldest(t *testing.T) {
	c := NewFileCache(t.TempDir(), 0, 2)
	for i, key := range []string{"a", "b", "c"} {
		require.NoError(t, c.Set(domain.CacheEntry{Key: key, Action: "launch"}))
		mod := time.Now().Add(time.Duration(i-10) * time.Minute)
		require.NoError(t, os.Chtimes(c.pathFor(key), mod, mod))
	}
	require.NoError(t, c.Set(domain.CacheEntry{Key: "d", Action: "launch"}))

	_, ok, _ := c.Get("a")
	assert.False(t, ok)
	_, ok, _ = c.Get("b")
	assert.False(t, ok)
	_, ok, _ = c.Get("d")
	assert.True(t, ok)
}

func TestCorruptEntryIsAMiss(t *testing.T) {
	c := NewFileCache(t.TempDir(), 0, 10)
	require.NoError(t, os.MkdirAll(c.Dir(), 0o755))
	require.NoError(t, os.WriteFile(c.pathFor("k"), []byte("{oops"), 0o600))
	_, ok, err := c.Get("k")
	require.NoError(t, err)
	assert.False(t, ok)
}

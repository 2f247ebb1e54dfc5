package store_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"taskbridge/internal/store"
)

func TestStore_SetGetRoundTrip(t *testing.T) {
	s := store.New(filepath.Join(t.TempDir(), "state.json"))

	require.NoError(t, store.Set(s, "currentSessionId", int64(42)))

	got, ok, err := store.Get[int64](s, "currentSessionId")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(42), got)
}

func TestStore_GetMissingKey(t *testing.T) {
	s := store.New(filepath.Join(t.TempDir(), "state.json"))

	got, ok, err := store.Get[string](s, "nope")
	require.NoError(t, err)
	require.False(t, ok)
	require.Empty(t, got)
}

func TestStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	s1 := store.New(path)
	require.NoError(t, store.Set(s1, "currentSessionId", int64(7)))

	// A fresh store over the same file sees the persisted value.
	s2 := store.New(path)
	got, ok, err := store.Get[int64](s2, "currentSessionId")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(7), got)
}

func TestStore_Clear(t *testing.T) {
	s := store.New(filepath.Join(t.TempDir(), "state.json"))

	require.NoError(t, store.Set(s, "key", "value"))
	require.NoError(t, s.Clear("key"))

	_, ok, err := store.Get[string](s, "key")
	require.NoError(t, err)
	require.False(t, ok)

	// Clearing an absent key is a no-op.
	require.NoError(t, s.Clear("key"))
}

func TestStore_KeysAreIndependent(t *testing.T) {
	s := store.New(filepath.Join(t.TempDir(), "state.json"))

	require.NoError(t, store.Set(s, "a", 1))
	require.NoError(t, store.Set(s, "b", "two"))
	require.NoError(t, s.Clear("a"))

	got, ok, err := store.Get[string](s, "b")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "two", got)
}

func TestStore_CorruptFileResets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	s := store.New(path)
	_, ok, err := store.Get[int64](s, "currentSessionId")
	require.NoError(t, err)
	require.False(t, ok)

	// Writing after corruption starts a fresh document.
	require.NoError(t, store.Set(s, "currentSessionId", int64(1)))
	got, ok, err := store.Get[int64](s, "currentSessionId")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(1), got)
}

func TestWatcher_NotifiesOnStateChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	s := store.New(path)
	require.NoError(t, store.Set(s, "k", 1))

	w, err := store.NewWatcher(store.WatcherConfig{
		StatePath:   path,
		DebounceDur: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	onChange, err := w.Start()
	require.NoError(t, err)

	// Rapid writes should coalesce into a single notification.
	for i := 0; i < 5; i++ {
		require.NoError(t, store.Set(s, "k", i))
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case <-onChange:
	case <-time.After(time.Second):
		t.Fatal("expected notification but got timeout")
	}
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0600))

	w, err := store.NewWatcher(store.WatcherConfig{
		StatePath:   path,
		DebounceDur: 30 * time.Millisecond,
	})
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	onChange, err := w.Start()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0600))

	select {
	case <-onChange:
		t.Fatal("unexpected notification for unrelated file")
	case <-time.After(150 * time.Millisecond):
	}
}

package config

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherDebouncesWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sites.toml")
	require.NoError(t, os.WriteFile(path, []byte("a"), 0600))

	var calls atomic.Int32
	w, err := NewWatcher(50*time.Millisecond, func() { calls.Add(1) }, path)
	require.NoError(t, err)
	defer w.Stop()

	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(path, []byte{byte('b' + i)}, 0600))
	}

	assert.Eventually(t, func() bool { return calls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sites.toml")
	require.NoError(t, os.WriteFile(path, []byte("a"), 0600))

	var calls atomic.Int32
	w, err := NewWatcher(20*time.Millisecond, func() { calls.Add(1) }, path)
	require.NoError(t, err)
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.toml"), []byte("x"), 0600))
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())
}

func TestWatcherSeesAtomicReplace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sites.toml")
	require.NoError(t, os.WriteFile(path, []byte("a"), 0600))

	var calls atomic.Int32
	w, err := NewWatcher(20*time.Millisecond, func() { calls.Add(1) }, path)
	require.NoError(t, err)
	defer w.Stop()

	require.NoError(t, AtomicWrite(path, []byte("b"), 0600))
	assert.Eventually(t, func() bool { return calls.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
	assert.NoError(t, w.Stop())
	assert.NoError(t, w.Stop())
}

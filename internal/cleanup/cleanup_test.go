package cleanup_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fetchd/fetchd/internal/cleanup"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeAged(t *testing.T, path string, age time.Duration) {
	t.Helper()

	require.NoError(t, os.WriteFile(path, []byte("partial"), 0644))

	stamp := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, stamp, stamp))
}

func TestDeleteStalePartials(t *testing.T) {
	dir := t.TempDir()

	stale := filepath.Join(dir, "old.bin.tmp")
	fresh := filepath.Join(dir, "new.bin.tmp")
	finished := filepath.Join(dir, "done.bin")

	writeAged(t, stale, 48*time.Hour)
	writeAged(t, fresh, time.Minute)
	writeAged(t, finished, 48*time.Hour)

	err := cleanup.DeleteStalePartials(context.Background(), dir, 24*time.Hour, nil)
	require.NoError(t, err)

	assert.NoFileExists(t, stale)
	assert.FileExists(t, fresh, "recent partials are kept")
	assert.FileExists(t, finished, "finished files are never touched")
}

func TestDeleteStalePartialsSparesTracked(t *testing.T) {
	dir := t.TempDir()

	tracked := filepath.Join(dir, "paused.bin.tmp")
	orphan := filepath.Join(dir, "orphan.bin.tmp")

	writeAged(t, tracked, 48*time.Hour)
	writeAged(t, orphan, 48*time.Hour)

	err := cleanup.DeleteStalePartials(context.Background(), dir, 24*time.Hour, func(path string) bool {
		return path == tracked
	})
	require.NoError(t, err)

	assert.FileExists(t, tracked, "a live download's partial survives the sweep")
	assert.NoFileExists(t, orphan)
}

func TestDeleteStalePartialsMissingDir(t *testing.T) {
	err := cleanup.DeleteStalePartials(context.Background(), filepath.Join(t.TempDir(), "nope"), time.Hour, nil)
	assert.NoError(t, err)
}

func TestDeleteStalePartialsWalksSubdirectories(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "nested")
	require.NoError(t, os.MkdirAll(sub, 0755))

	stale := filepath.Join(sub, "deep.bin.tmp")
	writeAged(t, stale, 48*time.Hour)

	err := cleanup.DeleteStalePartials(context.Background(), dir, 24*time.Hour, nil)
	require.NoError(t, err)

	assert.NoFileExists(t, stale)
}

package local_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pinellas-property-scraper/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("CreatesMissingDir", func(t *testing.T) {
		t.Parallel()
		dir := filepath.Join(t.TempDir(), "snapshots", "nested")
		store, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		assert.NotNil(t, store)
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		t.Parallel()
		_, err := local.New(local.Config{BaseDir: "  "})
		assert.ErrorContains(t, err, "archive.local_dir")
	})

	t.Run("BaseDirIsFile", func(t *testing.T) {
		t.Parallel()
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: file})
		assert.ErrorContains(t, err, "not a directory")
	})

	t.Run("LeavesNoProbeBehind", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		_, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})
}

func TestPutObject(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("WritesSnapshot", func(t *testing.T) {
		t.Parallel()
		path := "snapshots/2025/01/02/abc.html"
		uri, err := store.PutObject(ctx, path, "text/html", strings.NewReader("<html></html>"))
		require.NoError(t, err)
		assert.Equal(t, "file://"+filepath.ToSlash(filepath.Join(dir, path)), uri)

		// #nosec G304 -- test reads from the controlled temp directory.
		got, err := os.ReadFile(filepath.Join(dir, path))
		require.NoError(t, err)
		assert.Equal(t, "<html></html>", string(got))
	})

	t.Run("OverwritesExisting", func(t *testing.T) {
		t.Parallel()
		_, err := store.PutObject(ctx, "same.html", "", strings.NewReader("one"))
		require.NoError(t, err)
		_, err = store.PutObject(ctx, "same.html", "", strings.NewReader("two"))
		require.NoError(t, err)
		// #nosec G304 -- test reads from the controlled temp directory.
		got, err := os.ReadFile(filepath.Join(dir, "same.html"))
		require.NoError(t, err)
		assert.Equal(t, "two", string(got))
	})

	t.Run("EmptyPath", func(t *testing.T) {
		t.Parallel()
		_, err := store.PutObject(ctx, "", "", strings.NewReader("data"))
		assert.Error(t, err)
	})

	t.Run("Traversal", func(t *testing.T) {
		t.Parallel()
		_, err := store.PutObject(ctx, "../escape.html", "", strings.NewReader("data"))
		assert.ErrorContains(t, err, "escapes base directory")
	})

	t.Run("CanceledContext", func(t *testing.T) {
		t.Parallel()
		canceled, cancel := context.WithCancel(ctx)
		cancel()
		_, err := store.PutObject(canceled, "late.html", "", strings.NewReader("data"))
		assert.ErrorIs(t, err, context.Canceled)
	})
}

package local_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/synthesis-engine/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("CreatesMissingDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "snapshots")
		_, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		info, err := os.Stat(dir)
		require.NoError(t, err)
		require.True(t, info.IsDir())
	})
	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{})
		require.Error(t, err)
	})
	t.Run("BaseDirIsFile", func(t *testing.T) {
		f := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(f, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: f})
		require.Error(t, err)
	})
}

func TestPutObject(t *testing.T) {
	dir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)

	uri, err := store.PutObject(context.Background(), "snapshots/7/abc.html", "text/html", []byte("<html></html>"))
	require.NoError(t, err)
	require.Equal(t, "file://"+filepath.Join(dir, "snapshots/7/abc.html"), uri)

	content, err := os.ReadFile(filepath.Join(dir, "snapshots/7/abc.html"))
	require.NoError(t, err)
	require.Equal(t, "<html></html>", string(content))

	_, err = store.PutObject(context.Background(), "../escape.html", "text/html", []byte("x"))
	require.ErrorContains(t, err, "path traversal")
	_, err = store.PutObject(context.Background(), " ", "text/html", nil)
	require.Error(t, err)
}

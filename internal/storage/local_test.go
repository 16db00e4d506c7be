package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/imgidx/internal/config"
	appErr "github.com/xxxsen/imgidx/internal/pkg/errors"
)

func newLocalForTest(t *testing.T, root string, exts []string) Provider {
	t.Helper()
	provider, err := New(context.Background(), config.SourceConfig{
		Name: "photos",
		Type: "local",
		Args: map[string]interface{}{"root": root},
	}, exts)
	require.NoError(t, err)
	return provider
}

func TestLocalListSortedAndFiltered(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub", "deep"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.jpg"), []byte("bb"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.png"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("skip me"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "deep", "c.JPEG"), []byte("ccc"), 0o644))

	provider := newLocalForTest(t, root, []string{"jpg", "jpeg", "png"})
	files, err := provider.List(context.Background())
	require.NoError(t, err)

	paths := make([]string, 0, len(files))
	for _, f := range files {
		paths = append(paths, f.Path)
	}
	require.Equal(t, []string{"a.png", "b.jpg", "sub/deep/c.JPEG"}, paths)
	require.Equal(t, int64(1), files[0].Size)
	require.False(t, files[0].ModTime.IsZero())
}

func TestLocalListUnreachableRoot(t *testing.T) {
	provider := newLocalForTest(t, filepath.Join(t.TempDir(), "missing"), nil)
	_, err := provider.List(context.Background())
	require.Error(t, err)
}

func TestLocalOpenAndStat(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "x.jpg"), []byte("payload"), 0o644))

	provider := newLocalForTest(t, root, nil)

	rc, err := provider.Open(context.Background(), "sub/x.jpg")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	require.Equal(t, "payload", string(data))

	info, err := provider.Stat(context.Background(), "sub/x.jpg")
	require.NoError(t, err)
	require.Equal(t, int64(7), info.Size)

	_, err = provider.Open(context.Background(), "sub/gone.jpg")
	require.ErrorIs(t, err, appErr.ErrNotFound)
	_, err = provider.Stat(context.Background(), "sub/gone.jpg")
	require.ErrorIs(t, err, appErr.ErrNotFound)
}

func TestLocalResolveRejectsEscape(t *testing.T) {
	root := t.TempDir()
	provider := newLocalForTest(t, root, nil)
	_, err := provider.Open(context.Background(), "../outside.jpg")
	require.ErrorIs(t, err, appErr.ErrInvalid)
}

func TestExtFilter(t *testing.T) {
	filter := newExtFilter([]string{".JPG", "png", " webp "})
	require.True(t, filter.match("photos/cat.jpg"))
	require.True(t, filter.match("photos/cat.PNG"))
	require.True(t, filter.match("a.webp"))
	require.False(t, filter.match("document.pdf"))
	require.False(t, filter.match("noext"))

	var empty extFilter
	require.True(t, empty.match("anything.bin"))
}

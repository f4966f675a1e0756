package archive

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"rsynco/internal/model"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireTar(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("tar"); err != nil {
		t.Skip("tar not installed")
	}
}

func makeTree(t *testing.T) string {
	t.Helper()

	dest := filepath.Join(t.TempDir(), "photos")
	require.NoError(t, os.MkdirAll(filepath.Join(dest, "2024"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dest, "2024", "a.jpg"), []byte("jpeg"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dest, "index.txt"), []byte("index"), 0644))

	return dest
}

func TestPathFor(t *testing.T) {
	assert.Equal(t, "/data/photos.tar.gz", PathFor("/data/photos"))
	assert.Equal(t, "/data/photos.tar.gz", PathFor("/data/photos/"))
}

func TestState(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "photos")

	assert.Equal(t, model.StateNone, State(dest))

	require.NoError(t, os.Mkdir(dest, 0755))
	assert.Equal(t, model.StateUncompressed, State(dest))

	require.NoError(t, os.WriteFile(PathFor(dest), []byte("x"), 0644))
	assert.Equal(t, model.StateCompressed, State(dest))
}

func TestCompressAndExtract(t *testing.T) {
	requireTar(t)
	dest := makeTree(t)
	a := New("")

	require.NoError(t, a.Compress(context.Background(), dest))
	assert.NoDirExists(t, dest)
	assert.FileExists(t, PathFor(dest))
	assert.NoFileExists(t, PathFor(dest)+".tmp")
	assert.Equal(t, model.StateCompressed, State(dest))

	require.NoError(t, a.Extract(context.Background(), dest))
	assert.NoFileExists(t, PathFor(dest))
	assert.Equal(t, model.StateUncompressed, State(dest))

	data, err := os.ReadFile(filepath.Join(dest, "2024", "a.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", string(data))
}

func TestExtractWithoutArchiveIsNoop(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "photos")

	assert.NoError(t, New("").Extract(context.Background(), dest))
	assert.NoDirExists(t, dest)
}

func TestCompressMissingDir(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "photos")

	assert.Error(t, New("").Compress(context.Background(), dest))
	assert.NoFileExists(t, PathFor(dest))
}

func TestCompressFailureKeepsDirectory(t *testing.T) {
	dest := makeTree(t)
	bin := filepath.Join(t.TempDir(), "tar")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\necho 'tar: write error' >&2\nexit 2\n"), 0755))

	err := New(bin).Compress(context.Background(), dest)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tar: write error")
	assert.DirExists(t, dest)
	assert.NoFileExists(t, PathFor(dest))
	assert.NoFileExists(t, PathFor(dest)+".tmp")
}

func TestList(t *testing.T) {
	requireTar(t)
	dest := makeTree(t)
	a := New("")
	require.NoError(t, a.Compress(context.Background(), dest))

	entries, err := a.List(context.Background(), dest)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"2024/", "2024/a.jpg", "index.txt"}, entries)
	assert.FileExists(t, PathFor(dest))
}

func TestListFakeTarOutput(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "photos")
	bin := filepath.Join(t.TempDir(), "tar")
	script := "#!/bin/sh\nprintf 'photos/\\nphotos/a.txt\\n./photos/b/\\n'\necho 'noise' >&2\n"
	require.NoError(t, os.WriteFile(bin, []byte(script), 0755))

	entries, err := New(bin).List(context.Background(), dest)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "b/"}, entries)
}

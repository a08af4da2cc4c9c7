package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryFileSystemReadWrite(t *testing.T) {
	t.Parallel()

	m := NewMemoryFileSystem()

	require.NoError(t, m.WriteFile("data/TIC1_S1.csv", []byte("a,b,c\n"), 0o644))

	data, err := m.ReadFile("data/TIC1_S1.csv")
	require.NoError(t, err)
	assert.Equal(t, []byte("a,b,c\n"), data)

	// Reads return a copy; mutating it must not affect the stored file.
	data[0] = 'z'
	again, err := m.ReadFile("data/TIC1_S1.csv")
	require.NoError(t, err)
	assert.Equal(t, []byte("a,b,c\n"), again)

	_, err = m.ReadFile("data/missing.csv")
	assert.Error(t, err)
}

func TestMemoryFileSystemList(t *testing.T) {
	t.Parallel()

	m := NewMemoryFileSystem()
	require.NoError(t, m.WriteFile("data/b.csv", nil, 0o644))
	require.NoError(t, m.WriteFile("data/a.csv", nil, 0o644))
	require.NoError(t, m.WriteFile("data/sub/c.csv", nil, 0o644))

	names, err := m.List("data")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.csv", "b.csv"}, names)

	_, err = m.List("nowhere")
	assert.Error(t, err)
}

func TestMemoryFileSystemExistsAndRemove(t *testing.T) {
	t.Parallel()

	m := NewMemoryFileSystem()
	require.NoError(t, m.MkdirAll("out/event_snippets", 0o755))

	assert.True(t, m.Exists("out"))
	assert.True(t, m.Exists("out/event_snippets"))
	assert.False(t, m.Exists("out/results.csv"))

	require.NoError(t, m.WriteFile("out/results.csv", []byte("x"), 0o644))
	assert.True(t, m.Exists("out/results.csv"))

	require.NoError(t, m.Remove("out/results.csv"))
	assert.False(t, m.Exists("out/results.csv"))
	assert.Error(t, m.Remove("out/results.csv"))
}

func TestOSFileSystem(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	osfs := OSFileSystem{}

	sub := filepath.Join(dir, "nested", "out")
	require.NoError(t, osfs.MkdirAll(sub, 0o755))
	// Idempotent when the directory already exists.
	require.NoError(t, osfs.MkdirAll(sub, 0o755))
	assert.True(t, osfs.Exists(sub))

	path := filepath.Join(sub, "curve.csv")
	require.NoError(t, osfs.WriteFile(path, []byte("1,2,3\n"), 0o644))

	data, err := osfs.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("1,2,3\n"), data)

	require.NoError(t, osfs.WriteFile(filepath.Join(sub, "another.csv"), nil, 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(sub, "skipdir"), 0o755))

	names, err := osfs.List(sub)
	require.NoError(t, err)
	assert.Equal(t, []string{"another.csv", "curve.csv"}, names)

	require.NoError(t, osfs.Remove(path))
	assert.False(t, osfs.Exists(path))
}

package project

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_Local_ReturnsDBDirSiblingOfRoot(t *testing.T) {
	root := t.TempDir()
	path, err := Resolve(root, false)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, LocalDirName), path)
}

func TestResolve_Global_ReturnsStableHashedPath(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	root := t.TempDir()

	first, err := Resolve(root, true)
	require.NoError(t, err)
	second, err := Resolve(root, true)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Contains(t, first, "stores")
}

func TestHash_SamePathAlwaysProducesSameHash(t *testing.T) {
	assert.Equal(t, Hash("/a/b/c"), Hash("/a/b/c"))
	assert.NotEqual(t, Hash("/a/b/c"), Hash("/a/b/d"))
}

func TestRegisterGlobal_ThenListGlobal_ReturnsRecord(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, RegisterGlobal("/some/project", now))

	records, err := ListGlobal()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "/some/project", records[0].Path)
	assert.Equal(t, Hash("/some/project"), records[0].Hash)
}

func TestUnregisterGlobal_RemovesRecord(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	require.NoError(t, RegisterGlobal("/some/project", time.Now()))
	require.NoError(t, UnregisterGlobal("/some/project"))

	records, err := ListGlobal()
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestListGlobal_SortsByPath(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	require.NoError(t, RegisterGlobal("/z/project", time.Now()))
	require.NoError(t, RegisterGlobal("/a/project", time.Now()))

	records, err := ListGlobal()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "/a/project", records[0].Path)
	assert.Equal(t, "/z/project", records[1].Path)
}

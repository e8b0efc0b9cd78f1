package engine

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewVault_CreatesRoot(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "vault")

	v, err := NewVault(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, v.Dir())

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestNewVault_EmptyDir(t *testing.T) {
	_, err := NewVault("")
	assert.Error(t, err)
}

func TestVault_WriteReadRoundTrip(t *testing.T) {
	v, err := NewVault(t.TempDir())
	require.NoError(t, err)

	mtime := time.Date(2025, 5, 1, 9, 30, 0, 0, time.UTC)
	require.NoError(t, v.WriteFile("notes/a.md", []byte("content"), mtime, nil))

	data, err := v.ReadFile("notes/a.md")
	require.NoError(t, err)
	assert.Equal(t, []byte("content"), data)

	info, err := v.Stat("notes/a.md")
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(mtime))
}

func TestVault_WriteFileZeroMTimeLeavesDefault(t *testing.T) {
	v, err := NewVault(t.TempDir())
	require.NoError(t, err)

	before := time.Now().Add(-time.Minute)
	require.NoError(t, v.WriteFile("a.md", []byte("x"), time.Time{}, nil))

	info, err := v.Stat("a.md")
	require.NoError(t, err)
	assert.True(t, info.ModTime().After(before), "zero mtime means keep the write time")
}

func TestVault_WriteFileClampsMTime(t *testing.T) {
	v, err := NewVault(t.TempDir())
	require.NoError(t, err)

	farFuture := time.Date(3000, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, v.WriteFile("a.md", []byte("x"), farFuture, nil))

	info, err := v.Stat("a.md")
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(mtimeMax))

	ancient := time.Date(1970, 1, 2, 0, 0, 0, 0, time.UTC)
	require.NoError(t, v.WriteFile("b.md", []byte("x"), ancient, nil))

	info, err = v.Stat("b.md")
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(mtimeMin))
}

func TestVault_WriteFileRefusesWhenChangedSinceSnapshot(t *testing.T) {
	v, err := NewVault(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, v.WriteFile("a.md", []byte("v1"), time.UnixMilli(1000), nil))

	snapshot, err := v.Stat("a.md")
	require.NoError(t, err)

	// A concurrent edit lands between the snapshot and the download
	// write.
	require.NoError(t, v.WriteFile("a.md", []byte("locally edited"), time.UnixMilli(2000), nil))

	err = v.WriteFile("a.md", []byte("remote version"), time.UnixMilli(3000), snapshot)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "changed locally")

	data, err := v.ReadFile("a.md")
	require.NoError(t, err)
	assert.Equal(t, []byte("locally edited"), data, "the local edit survives")
}

func TestVault_WriteFileSnapshotMatchProceeds(t *testing.T) {
	v, err := NewVault(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, v.WriteFile("a.md", []byte("v1"), time.UnixMilli(1000), nil))

	snapshot, err := v.Stat("a.md")
	require.NoError(t, err)

	require.NoError(t, v.WriteFile("a.md", []byte("v2"), time.UnixMilli(2000), snapshot))

	data, err := v.ReadFile("a.md")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), data)
}

func TestVault_DeleteFileMissingIsNil(t *testing.T) {
	v, err := NewVault(t.TempDir())
	require.NoError(t, err)

	assert.NoError(t, v.DeleteFile("never-existed.md"))
}

func TestVault_DeleteEmptyDir(t *testing.T) {
	v, err := NewVault(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, v.MkdirAll("empty/"))
	require.NoError(t, v.DeleteEmptyDir("empty/"))

	_, err = v.Stat("empty/")
	assert.Error(t, err)
}

func TestVault_DeleteEmptyDirRefusesNonEmpty(t *testing.T) {
	v, err := NewVault(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, v.WriteFile("full/a.md", []byte("x"), time.Time{}, nil))

	assert.Error(t, v.DeleteEmptyDir("full/"))

	data, err := v.ReadFile("full/a.md")
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), data)
}

func TestVault_Rename(t *testing.T) {
	v, err := NewVault(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, v.WriteFile("a.md", []byte("x"), time.Time{}, nil))
	require.NoError(t, v.Rename("a.md", "sub/b.md"))

	_, err = v.Stat("a.md")
	assert.Error(t, err)

	data, err := v.ReadFile("sub/b.md")
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), data)
}

func TestVault_RejectsTraversal(t *testing.T) {
	v, err := NewVault(t.TempDir())
	require.NoError(t, err)

	tests := []struct {
		name string
		key  string
	}{
		{"dotdot", "../escape.md"},
		{"nested dotdot", "notes/../../escape.md"},
		{"windows dotdot", `notes\..\..\escape.md`},
		{"null byte", "a\x00b.md"},
		{"empty", ""},
		{"root itself", "/"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.ReadFile(tt.key)
			assert.Error(t, err)

			assert.Error(t, v.WriteFile(tt.key, []byte("x"), time.Time{}, nil))
		})
	}
}

func TestVault_RejectsSymlinkEscape(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()

	v, err := NewVault(root)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret.md"), []byte("secret"), 0o644))
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "sneaky")))

	_, err = v.ReadFile("sneaky/secret.md")
	assert.Error(t, err, "a symlinked directory must not let reads escape the root")

	assert.Error(t, v.WriteFile("sneaky/new.md", []byte("x"), time.Time{}, nil))
}

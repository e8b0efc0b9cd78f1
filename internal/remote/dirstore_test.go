package remote

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncerrors "github.com/alexjbarnes/remotesync/internal/errors"
)

func newDirStore(t *testing.T) *DirStore {
	t.Helper()

	s, err := NewDirStore(t.TempDir())
	require.NoError(t, err)

	return s
}

func TestNewDirStore_CreatesRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "store")

	s, err := NewDirStore(root)
	require.NoError(t, err)
	assert.Equal(t, root, s.Root())
	assert.DirExists(t, root)
}

func TestNewDirStore_EmptyRoot(t *testing.T) {
	_, err := NewDirStore("")
	assert.Error(t, err)
}

func TestDirStore_PutGetRoundTrip(t *testing.T) {
	s := newDirStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutContent(ctx, "notes/a.md", []byte("content")))

	data, err := s.GetContent(ctx, "notes/a.md")
	require.NoError(t, err)
	assert.Equal(t, []byte("content"), data)
}

func TestDirStore_GetMissing(t *testing.T) {
	s := newDirStore(t)

	_, err := s.GetContent(context.Background(), "nope.md")
	assert.ErrorIs(t, err, syncerrors.ErrObjectNotFound)
}

func TestDirStore_ListAll(t *testing.T) {
	s := newDirStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutContent(ctx, "b.md", []byte("bb")))
	require.NoError(t, s.PutContent(ctx, "sub/a.md", []byte("a")))
	require.NoError(t, s.CreateFolder(ctx, "empty/"))

	// Hidden entries in the backing directory are store internals, never
	// objects.
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), ".internal"), []byte("x"), 0o644))

	entities, err := s.ListAll(ctx)
	require.NoError(t, err)

	keys := make([]string, 0, len(entities))
	for _, e := range entities {
		keys = append(keys, e.Key)
	}

	assert.Equal(t, []string{"b.md", "empty/", "sub/", "sub/a.md"}, keys, "sorted, folders with trailing slash")

	for _, e := range entities {
		if e.Key == "b.md" {
			assert.Equal(t, int64(2), e.Size)
			assert.NotEmpty(t, e.Hash)
			assert.Positive(t, e.MTime)
		}

		if e.Key == "empty/" {
			assert.True(t, e.Folder)
			assert.Empty(t, e.Hash)
		}
	}
}

func TestDirStore_DeleteMissingIsNil(t *testing.T) {
	s := newDirStore(t)

	assert.NoError(t, s.Delete(context.Background(), "never-existed.md"))
}

func TestDirStore_DeleteObjectAndFolder(t *testing.T) {
	s := newDirStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutContent(ctx, "a.md", []byte("x")))
	require.NoError(t, s.CreateFolder(ctx, "dir/"))

	require.NoError(t, s.Delete(ctx, "a.md"))
	require.NoError(t, s.Delete(ctx, "dir/"))

	entities, err := s.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, entities)
}

func TestDirStore_RejectsTraversal(t *testing.T) {
	s := newDirStore(t)
	ctx := context.Background()

	for _, key := range []string{"../escape.md", "a/../../escape.md", "a\x00b", ""} {
		t.Run(key, func(t *testing.T) {
			assert.Error(t, s.PutContent(ctx, key, []byte("x")))

			_, err := s.GetContent(ctx, key)
			assert.Error(t, err)
		})
	}
}

func TestDirStore_StoresEncryptedNamesVerbatim(t *testing.T) {
	s := newDirStore(t)
	ctx := context.Background()

	encName := "deadbeefcafe0123456789abcdef"
	require.NoError(t, s.PutContent(ctx, encName, []byte("ciphertext")))

	assert.FileExists(t, filepath.Join(s.Root(), encName),
		"the backing directory shows only the encrypted name")
}

func TestFactory(t *testing.T) {
	dir := t.TempDir()

	client, err := New(ServiceDirStore, dir)
	require.NoError(t, err)
	assert.IsType(t, &DirStore{}, client)

	client, err = New(ServiceMemory, "")
	require.NoError(t, err)
	assert.IsType(t, &MemStore{}, client)

	_, err = New("s3", "")
	assert.Error(t, err)
}

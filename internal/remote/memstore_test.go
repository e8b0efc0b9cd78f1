package remote

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncerrors "github.com/alexjbarnes/remotesync/internal/errors"
)

func TestMemStore_PutGetRoundTrip(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	require.NoError(t, s.PutContent(ctx, "a.md", []byte("content")))

	data, err := s.GetContent(ctx, "a.md")
	require.NoError(t, err)
	assert.Equal(t, []byte("content"), data)

	// Mutating the returned slice must not corrupt the store.
	data[0] = 'X'

	again, err := s.GetContent(ctx, "a.md")
	require.NoError(t, err)
	assert.Equal(t, []byte("content"), again)
}

func TestMemStore_GetMissing(t *testing.T) {
	s := NewMemStore()

	_, err := s.GetContent(context.Background(), "nope.md")
	assert.ErrorIs(t, err, syncerrors.ErrObjectNotFound)
}

func TestMemStore_ListAll(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	s.Seed("b.md", []byte("bb"), 2000)
	s.Seed("a.md", []byte("a"), 1000)
	s.SeedFolder("dir/")

	entities, err := s.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, entities, 3)

	assert.Equal(t, "a.md", entities[0].Key)
	assert.Equal(t, int64(1000), entities[0].MTime)
	assert.Equal(t, int64(1), entities[0].Size)
	assert.NotEmpty(t, entities[0].Hash)

	assert.Equal(t, "b.md", entities[1].Key)

	assert.Equal(t, "dir/", entities[2].Key)
	assert.True(t, entities[2].Folder)
}

func TestMemStore_DeleteAndHelpers(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	s.Seed("a.md", []byte("x"), 0)
	s.SeedFolder("dir/")

	assert.True(t, s.Has("a.md"))
	assert.True(t, s.HasFolder("dir/"))
	assert.Equal(t, 1, s.Len())

	require.NoError(t, s.Delete(ctx, "a.md"))
	require.NoError(t, s.Delete(ctx, "dir/"))

	assert.False(t, s.Has("a.md"))
	assert.False(t, s.HasFolder("dir/"))
	assert.Zero(t, s.Len())
}

func TestMemStore_FolderKeyNormalization(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	require.NoError(t, s.CreateFolder(ctx, "dir/"))
	assert.True(t, s.HasFolder("dir"), "trailing slash is cosmetic, not identity")

	require.NoError(t, s.Delete(ctx, "dir"))
	assert.False(t, s.HasFolder("dir/"))
}

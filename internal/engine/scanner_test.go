package engine

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scanKeys(entities []Entity) []string {
	keys := make([]string, 0, len(entities))
	for _, e := range entities {
		keys = append(keys, e.Key)
	}

	return keys
}

func entityByKey(t *testing.T, entities []Entity, key string) Entity {
	t.Helper()

	for _, e := range entities {
		if e.Key == key {
			return e
		}
	}

	t.Fatalf("no entity with key %q", key)

	return Entity{}
}

func TestScanLocal(t *testing.T) {
	vault, err := NewVault(t.TempDir())
	require.NoError(t, err)

	mtime := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, vault.WriteFile("a.md", []byte("alpha"), mtime, nil))
	require.NoError(t, vault.WriteFile("sub/b.md", []byte("beta"), mtime, nil))
	require.NoError(t, vault.MkdirAll("empty/"))

	entities, err := ScanLocal(vault, false, ".obsidian", nopLogger())
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"a.md", "sub/", "sub/b.md", "empty/"}, scanKeys(entities))

	a := entityByKey(t, entities, "a.md")
	assert.Equal(t, int64(5), a.Size)
	assert.Equal(t, HashBytes([]byte("alpha")), a.Hash)
	assert.Equal(t, mtime.UnixMilli(), a.MTime)
	assert.False(t, a.Folder)

	sub := entityByKey(t, entities, "sub/")
	assert.True(t, sub.Folder)
	assert.Empty(t, sub.Hash, "folders carry no fingerprint")
}

func TestScanLocal_SkipsHiddenAndNodeModules(t *testing.T) {
	vault, err := NewVault(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, vault.WriteFile("a.md", []byte("x"), time.Time{}, nil))
	require.NoError(t, os.MkdirAll(filepath.Join(vault.Dir(), ".obsidian"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(vault.Dir(), ".obsidian", "app.json"), []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(vault.Dir(), ".hidden"), []byte("h"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(vault.Dir(), ".trash", "123"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(vault.Dir(), "node_modules", "pkg"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(vault.Dir(), "node_modules", "pkg", "x.js"), []byte("js"), 0o644))

	entities, err := ScanLocal(vault, false, ".obsidian", nopLogger())
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"a.md"}, scanKeys(entities))
}

func TestScanLocal_IncludesConfigDirWhenEnabled(t *testing.T) {
	vault, err := NewVault(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, os.MkdirAll(filepath.Join(vault.Dir(), ".obsidian"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(vault.Dir(), ".obsidian", "app.json"), []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(vault.Dir(), ".hidden"), []byte("h"), 0o644))

	entities, err := ScanLocal(vault, true, ".obsidian", nopLogger())
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{".obsidian/", ".obsidian/app.json"}, scanKeys(entities),
		"config dir joins the scan, other hidden entries still do not")
}

func TestScanLocal_SkipsSymlinks(t *testing.T) {
	vault, err := NewVault(t.TempDir())
	require.NoError(t, err)

	outside := filepath.Join(t.TempDir(), "target.md")
	require.NoError(t, os.WriteFile(outside, []byte("outside"), 0o644))
	require.NoError(t, os.Symlink(outside, filepath.Join(vault.Dir(), "link.md")))

	require.NoError(t, vault.WriteFile("real.md", []byte("x"), time.Time{}, nil))

	entities, err := ScanLocal(vault, false, ".obsidian", nopLogger())
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"real.md"}, scanKeys(entities))
}

func TestHashBytes_MatchesStreamedHash(t *testing.T) {
	vault, err := NewVault(t.TempDir())
	require.NoError(t, err)

	content := []byte("the same bytes, hashed two ways")
	require.NoError(t, vault.WriteFile("a.md", content, time.Time{}, nil))

	entities, err := ScanLocal(vault, false, ".obsidian", nopLogger())
	require.NoError(t, err)

	assert.Equal(t, HashBytes(content), entityByKey(t, entities, "a.md").Hash)
}

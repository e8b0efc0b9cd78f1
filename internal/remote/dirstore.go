// Package remote provides RemoteClient implementations the sync engine
// can drive: a directory-backed store for local-disk and mounted
// remotes, and an in-memory store for tests.
package remote

import (
	"context"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/alexjbarnes/remotesync/internal/engine"
	syncerrors "github.com/alexjbarnes/remotesync/internal/errors"
)

const (
	dirStorePerm     = fs.FileMode(0o755)
	dirStoreFilePerm = fs.FileMode(0o644)
)

// DirStore is a RemoteClient backed by a plain directory: a second
// disk, a mounted network share, or a cloud-synced folder. Object keys
// map to relative paths; folder keys carry the trailing slash.
// Encrypted names arrive as hex strings and are stored verbatim, so
// the backing directory never reveals plaintext names.
type DirStore struct {
	root string
}

// NewDirStore opens (creating if needed) a directory-backed store.
func NewDirStore(root string) (*DirStore, error) {
	if root == "" {
		return nil, fmt.Errorf("remote directory must not be empty")
	}

	if err := os.MkdirAll(root, dirStorePerm); err != nil {
		return nil, fmt.Errorf("creating remote directory %s: %w", root, err)
	}

	return &DirStore{root: root}, nil
}

// Root returns the backing directory.
func (s *DirStore) Root() string {
	return s.root
}

// ListAll walks the backing directory. Hashes are BLAKE3 over the
// stored bytes; for encrypted content that is the ciphertext
// fingerprint, which is what the planner's previous-sync records
// expect.
func (s *DirStore) ListAll(ctx context.Context) ([]engine.Entity, error) {
	var entities []engine.Entity

	err := filepath.WalkDir(s.root, func(absPath string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		relPath, err := filepath.Rel(s.root, absPath)
		if err != nil {
			return err
		}

		if relPath == "." {
			return nil
		}

		key := filepath.ToSlash(relPath)

		if strings.HasPrefix(filepath.Base(absPath), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}

			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		if d.IsDir() {
			entities = append(entities, engine.Entity{
				Key:    key + "/",
				Folder: true,
				MTime:  info.ModTime().UnixMilli(),
			})

			return nil
		}

		data, err := os.ReadFile(absPath) //nolint:gosec // G304: path produced by WalkDir under the store root
		if err != nil {
			return err
		}

		h := blake3.New()
		_, _ = h.Write(data)

		entities = append(entities, engine.Entity{
			Key:   key,
			MTime: info.ModTime().UnixMilli(),
			Size:  info.Size(),
			Hash:  hex.EncodeToString(h.Sum(nil)),
		})

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing remote directory: %w", err)
	}

	sort.Slice(entities, func(i, j int) bool { return entities[i].Key < entities[j].Key })

	return entities, nil
}

// GetContent reads one object.
func (s *DirStore) GetContent(_ context.Context, key string) ([]byte, error) {
	absPath, err := s.resolve(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(absPath) //nolint:gosec // G304: absPath validated by resolve
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", syncerrors.ErrObjectNotFound, key)
		}

		return nil, err
	}

	return data, nil
}

// PutContent writes one object, creating parents as needed.
func (s *DirStore) PutContent(_ context.Context, key string, data []byte) error {
	absPath, err := s.resolve(key)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(absPath), dirStorePerm); err != nil {
		return fmt.Errorf("creating parent for %s: %w", key, err)
	}

	return os.WriteFile(absPath, data, dirStoreFilePerm)
}

// Delete removes one object or empty folder. Missing keys are not an
// error.
func (s *DirStore) Delete(_ context.Context, key string) error {
	absPath, err := s.resolve(key)
	if err != nil {
		return err
	}

	err = os.Remove(absPath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %s: %w", key, err)
	}

	return nil
}

// CreateFolder creates a folder marker. Existing folders are fine.
func (s *DirStore) CreateFolder(_ context.Context, key string) error {
	absPath, err := s.resolve(key)
	if err != nil {
		return err
	}

	return os.MkdirAll(absPath, dirStorePerm)
}

// resolve maps an on-remote key to an absolute path under the store
// root, rejecting traversal. Remote keys may be attacker-influenced
// (they come off the wire for real backends) so the same guards as the
// local vault apply.
func (s *DirStore) resolve(key string) (string, error) {
	key = strings.TrimSuffix(key, "/")

	if key == "" {
		return "", fmt.Errorf("empty remote key")
	}

	if strings.ContainsRune(key, 0) {
		return "", fmt.Errorf("remote key contains null byte: %q", key)
	}

	for _, seg := range strings.Split(key, "/") {
		if seg == ".." {
			return "", fmt.Errorf("remote key contains ..: %q", key)
		}
	}

	absPath := filepath.Join(s.root, filepath.FromSlash(key))
	if !strings.HasPrefix(absPath, s.root+string(os.PathSeparator)) {
		return "", fmt.Errorf("remote key %q resolves outside store root", key)
	}

	return absPath, nil
}

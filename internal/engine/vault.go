package engine

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	// vaultDirPerm is the permission mode for directories created inside
	// the sync root.
	vaultDirPerm = fs.FileMode(0o755)

	// vaultFilePerm is the permission mode for files written inside the
	// sync root.
	vaultFilePerm = fs.FileMode(0o644)
)

// mtimeMin and mtimeMax clamp remote-provided modification times to a
// reasonable range, preventing a misbehaving store from setting
// far-future or far-past timestamps that would confuse the planner.
var (
	mtimeMin = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	mtimeMax = time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC)
)

// Vault provides thread-safe filesystem operations on the local sync
// root. All writes are serialized by an exclusive lock; reads take a
// shared lock so they never observe partial writes. The scanner,
// executor, and watcher all go through this type.
type Vault struct {
	dir string
	mu  sync.RWMutex
}

// NewVault creates a Vault rooted at the given directory, creating it
// if it does not exist. The directory must be an absolute path
// (resolved at config load time).
func NewVault(dir string) (*Vault, error) {
	if dir == "" {
		return nil, fmt.Errorf("sync directory must not be empty")
	}

	if err := os.MkdirAll(dir, vaultDirPerm); err != nil {
		return nil, fmt.Errorf("creating sync directory %s: %w", dir, err)
	}

	return &Vault{dir: dir}, nil
}

// Dir returns the root directory of the sync tree.
func (v *Vault) Dir() string {
	return v.dir
}

// ReadFile reads a file by relative key.
func (v *Vault) ReadFile(key string) ([]byte, error) {
	absPath, err := v.resolve(key)
	if err != nil {
		return nil, err
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	return os.ReadFile(absPath) //nolint:gosec // G304: absPath validated by Vault.resolve
}

// WriteFile writes content to a file by relative key, creating parent
// directories as needed. A non-zero mtime is applied after the write so
// downloaded files keep the remote's timestamp. When prePullInfo is
// non-nil, the write is refused if the file changed since that stat:
// the check and write share one lock, closing the window in which a
// concurrent local edit could be silently overwritten.
func (v *Vault) WriteFile(key string, data []byte, mtime time.Time, prePullInfo os.FileInfo) error {
	absPath, err := v.resolve(key)
	if err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if prePullInfo != nil {
		info, err := os.Stat(absPath)
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("stat %s: %w", key, err)
		}

		if err == nil {
			if !info.ModTime().Equal(prePullInfo.ModTime()) || info.Size() != prePullInfo.Size() {
				return fmt.Errorf("write cancelled because %s changed locally during download", key)
			}
		}
		// A deleted file is recreated by the write.
	}

	if err := os.MkdirAll(filepath.Dir(absPath), vaultDirPerm); err != nil {
		return fmt.Errorf("creating directory for %s: %w", key, err)
	}

	if err := os.WriteFile(absPath, data, vaultFilePerm); err != nil {
		return err
	}

	if !mtime.IsZero() {
		mtime = clampMtime(mtime)
		if err := os.Chtimes(absPath, mtime, mtime); err != nil {
			return fmt.Errorf("setting mtime for %s: %w", key, err)
		}
	}

	return nil
}

// DeleteFile removes a file by relative key. Returns nil if the file
// does not exist.
func (v *Vault) DeleteFile(key string) error {
	absPath, err := v.resolve(key)
	if err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	err = os.Remove(absPath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %s: %w", key, err)
	}

	return nil
}

// DeleteEmptyDir removes a directory only if it is empty. Returns nil
// if the directory does not exist or was removed; non-nil when it still
// has children. Folders with children must never be deleted here.
func (v *Vault) DeleteEmptyDir(key string) error {
	absPath, err := v.resolve(key)
	if err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	// os.Remove fails on non-empty directories, which is exactly the
	// behavior we want.
	err = os.Remove(absPath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing directory %s: %w", key, err)
	}

	return nil
}

// MkdirAll creates a directory (and parents) by relative key.
func (v *Vault) MkdirAll(key string) error {
	absPath, err := v.resolve(key)
	if err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	return os.MkdirAll(absPath, vaultDirPerm)
}

// Rename moves a file or directory from one relative key to another
// within the sync root.
func (v *Vault) Rename(oldKey, newKey string) error {
	oldAbs, err := v.resolve(oldKey)
	if err != nil {
		return err
	}

	newAbs, err := v.resolve(newKey)
	if err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(newAbs), vaultDirPerm); err != nil {
		return fmt.Errorf("creating directory for %s: %w", newKey, err)
	}

	return os.Rename(oldAbs, newAbs)
}

// Stat returns file info for a relative key. Takes a read lock so the
// file isn't being written mid-stat.
func (v *Vault) Stat(key string) (os.FileInfo, error) {
	absPath, err := v.resolve(key)
	if err != nil {
		return nil, err
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	return os.Stat(absPath)
}

// resolve converts a relative key to an absolute path within the sync
// root, rejecting path traversal attempts: null bytes, ".." segments,
// and symlinks that escape the root. Decrypted remote names are
// untrusted input and must pass through here before any I/O.
func (v *Vault) resolve(key string) (string, error) {
	key = strings.TrimSuffix(key, "/")

	if key == "" {
		return "", fmt.Errorf("empty path")
	}

	if strings.ContainsRune(key, 0) {
		return "", fmt.Errorf("path contains null byte: %q", key)
	}

	// Normalize backslashes so the ".." segment check below catches
	// Windows-style traversal like "foo\..\..\etc\passwd".
	key = strings.ReplaceAll(key, "\\", "/")

	for _, seg := range strings.Split(key, "/") {
		if seg == ".." {
			return "", fmt.Errorf("path contains ..: %q", key)
		}
	}

	absPath := filepath.Join(v.dir, key)
	if !strings.HasPrefix(absPath, v.dir+string(os.PathSeparator)) {
		return "", fmt.Errorf("path traversal blocked: %q resolves outside sync root", key)
	}

	// Resolve symlinks and verify the real path stays within the root.
	realPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			// New file: check the parent instead. A parent symlink
			// pointing outside is still a traversal.
			parentReal, pErr := filepath.EvalSymlinks(filepath.Dir(absPath))
			if pErr != nil {
				// Parent doesn't exist either; MkdirAll will create it
				// and the prefix check above already passed.
				return absPath, nil //nolint:nilerr // intentional: parent created by MkdirAll
			}

			rootPrefix := v.dir + string(os.PathSeparator)
			if !strings.HasPrefix(parentReal+string(os.PathSeparator), rootPrefix) && parentReal != v.dir {
				return "", fmt.Errorf("symlink traversal blocked: parent of %q resolves to %q outside sync root", key, parentReal)
			}

			return absPath, nil
		}

		return "", fmt.Errorf("resolving symlinks for %q: %w", key, err)
	}

	if !strings.HasPrefix(realPath, v.dir+string(os.PathSeparator)) && realPath != v.dir {
		return "", fmt.Errorf("symlink traversal blocked: %q resolves to %q outside sync root", key, realPath)
	}

	return absPath, nil
}

// clampMtime restricts a timestamp to [2000, 2100).
func clampMtime(t time.Time) time.Time {
	if t.Before(mtimeMin) {
		return mtimeMin
	}

	if t.After(mtimeMax) {
		return mtimeMax
	}

	return t
}

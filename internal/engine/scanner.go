package engine

import (
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/blake3"
)

// ScanLocal walks the sync root and returns one Entity per live file
// and folder. Fingerprints are BLAKE3 over file content. Hidden files
// and directories are skipped, except the config directory when
// includeConfigDir is set; whether config-dir entries ultimately sync
// is the assembler's call, the scanner only avoids hashing trees that
// can never join.
func ScanLocal(vault *Vault, includeConfigDir bool, configDirName string, logger *slog.Logger) ([]Entity, error) {
	var entities []Entity

	dir := vault.Dir()

	err := filepath.WalkDir(dir, func(absPath string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		relPath, err := filepath.Rel(dir, absPath)
		if err != nil {
			return err
		}

		if relPath == "." {
			return nil
		}

		key := NormalizeKey(relPath, d.IsDir())

		base := filepath.Base(absPath)
		if strings.HasPrefix(base, ".") {
			if base == configDirName && includeConfigDir {
				// Config dir stays in the walk.
			} else if d.IsDir() {
				return filepath.SkipDir
			} else {
				return nil
			}
		}

		if base == "node_modules" && d.IsDir() {
			return filepath.SkipDir
		}

		// Skip symlinks: following them could escape the sync root or
		// hang on special files.
		if d.Type()&os.ModeSymlink != 0 {
			logger.Debug("scan: skipping symlink", slog.String("key", key))
			return nil
		}

		info, err := d.Info()
		if err != nil {
			logger.Warn("scan: stat failed", slog.String("key", key), slog.String("error", err.Error()))
			return nil
		}

		if d.IsDir() {
			entities = append(entities, Entity{
				Key:    key,
				Folder: true,
				MTime:  info.ModTime().UnixMilli(),
			})

			return nil
		}

		hash, err := hashLocalFile(absPath)
		if err != nil {
			logger.Warn("scan: hashing file", slog.String("key", key), slog.String("error", err.Error()))

			hash = ""
		}

		entities = append(entities, Entity{
			Key:   key,
			MTime: info.ModTime().UnixMilli(),
			Size:  info.Size(),
			Hash:  hash,
		})

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking sync root: %w", err)
	}

	return entities, nil
}

// hashLocalFile computes the BLAKE3 hash of a file, hex-encoded,
// streaming so large files don't load into memory.
func hashLocalFile(absPath string) (string, error) {
	f, err := os.Open(absPath) //nolint:gosec // G304: path produced by WalkDir under the sync root
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := blake3.New()

	buf := make([]byte, 32*1024)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashBytes returns the hex BLAKE3 fingerprint of a byte slice. Used by
// the executor to record prev-sync fingerprints for content it just
// moved.
func HashBytes(data []byte) string {
	h := blake3.New()
	_, _ = h.Write(data)

	return hex.EncodeToString(h.Sum(nil))
}

package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// defaultDebounce batches a burst of editor writes into one sync
// trigger.
const defaultDebounce = 2 * time.Second

// Watcher monitors the sync root for filesystem changes and fires a
// debounced callback after writes settle. The callback typically calls
// Runner.Sync with a "save" trigger; the runner's in-flight guard makes
// overlapping fires harmless.
type Watcher struct {
	vault    *Vault
	debounce time.Duration
	onChange func()
	logger   *slog.Logger
}

// NewWatcher builds a watcher over a vault. debounce <= 0 selects the
// default of 2s.
func NewWatcher(vault *Vault, debounce time.Duration, onChange func(), logger *slog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = defaultDebounce
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Watcher{vault: vault, debounce: debounce, onChange: onChange, logger: logger}
}

// Watch blocks until the context is cancelled, firing onChange after
// each settled burst of changes.
func (w *Watcher) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	if err := w.addRecursive(watcher); err != nil {
		return fmt.Errorf("adding sync root to watcher: %w", err)
	}

	// The timer starts drained; the first relevant event arms it.
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-timer.C:
			w.onChange()

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("fsnotify events channel closed")
			}

			if w.shouldIgnore(event.Name) {
				continue
			}

			// New directory: start watching it so writes inside it are
			// seen. Lstat avoids following symlinks out of the root.
			if event.Has(fsnotify.Create) {
				if info, err := os.Lstat(event.Name); err == nil && info.IsDir() {
					_ = watcher.Add(event.Name)
				}
			}

			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				_ = watcher.Remove(event.Name)
			}

			w.logger.Debug("change detected", slog.String("path", event.Name), slog.String("op", event.Op.String()))

			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}

			timer.Reset(w.debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("fsnotify errors channel closed")
			}

			// Non-fatal (e.g. too many watches); the affected subtree
			// just won't trigger saves.
			w.logger.Warn("watcher error", slog.String("error", err.Error()))
		}
	}
}

// addRecursive walks the sync root and watches every non-hidden
// directory.
func (w *Watcher) addRecursive(watcher *fsnotify.Watcher) error {
	return filepath.WalkDir(w.vault.Dir(), func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.IsDir() {
			return nil
		}

		name := d.Name()
		if path != w.vault.Dir() && strings.HasPrefix(name, ".") {
			return filepath.SkipDir
		}

		if name == "node_modules" {
			return filepath.SkipDir
		}

		return watcher.Add(path)
	})
}

// shouldIgnore filters events that must never trigger a sync: hidden
// paths (including the trash), and editor temp files.
func (w *Watcher) shouldIgnore(absPath string) bool {
	rel, err := filepath.Rel(w.vault.Dir(), absPath)
	if err != nil {
		return true
	}

	for _, seg := range strings.Split(filepath.ToSlash(rel), "/") {
		if strings.HasPrefix(seg, ".") {
			return true
		}
	}

	name := filepath.Base(absPath)
	if strings.HasSuffix(name, "~") || strings.HasSuffix(name, ".swp") || strings.HasSuffix(name, ".tmp") {
		return true
	}

	return name == "node_modules"
}

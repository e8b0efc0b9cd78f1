package engine

import (
	"log/slog"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// AssembleOptions carries the exclusion policy applied uniformly to all
// three entity sources before joining.
type AssembleOptions struct {
	// SyncConfigDir includes the plugin/config directory (ConfigDirName)
	// in the sync set.
	SyncConfigDir bool
	// ConfigDirName is the config directory name, e.g. ".obsidian".
	ConfigDirName string
	// SyncUnderscoreItems includes top-level items whose name starts
	// with "_". The sync sentinel is excluded regardless.
	SyncUnderscoreItems bool
	// IgnorePaths are doublestar globs; a matching key never syncs.
	IgnorePaths []string
}

// Assemble merges the three entity sources into one mixed view keyed by
// logical path: a full outer join after name decryption, normalization,
// and exclusion. Folders join like files but are compared by presence
// only, so their fingerprints are never consulted. A key present as a
// file on one side and a folder on another survives as-is; resolving
// the clash is the plan generator's job.
//
// A remote name that fails to decrypt is logged and skipped, not fatal:
// one corrupt object must not block the rest of the sync.
func Assemble(local, prev, remote []Entity, cipher Cipher, opts AssembleOptions, logger *slog.Logger) map[string]*MixedEntity {
	mixed := make(map[string]*MixedEntity)

	join := func(e Entity, assign func(m *MixedEntity, e *Entity)) {
		key := NormalizeKey(e.Key, e.Folder)
		if key == "" {
			return
		}

		e.Key = key

		if skip, why := excludedKey(key, opts); skip {
			logger.Debug("assemble: excluding", slog.String("key", key), slog.String("rule", why))
			return
		}

		m, ok := mixed[key]
		if !ok {
			m = &MixedEntity{Key: key}
			mixed[key] = m
		}

		assign(m, &e)
	}

	for _, e := range local {
		join(e, func(m *MixedEntity, e *Entity) { m.Local = e })
	}

	for _, e := range prev {
		join(e, func(m *MixedEntity, e *Entity) { m.Prev = e })
	}

	for _, e := range remote {
		if cipher.Method() == MethodNameAndContent {
			plain, err := cipher.DecryptName(strings.TrimSuffix(e.Key, "/"))
			if err != nil {
				logger.Warn("assemble: skipping undecryptable remote name",
					slog.String("key", e.Key),
					slog.String("error", err.Error()),
				)

				continue
			}

			e.EncryptedKey = e.Key
			e.Encrypted = true
			e.Key = plain
		}

		if IsSentinelKey(strings.TrimSuffix(e.Key, "/")) {
			continue
		}

		join(e, func(m *MixedEntity, e *Entity) { m.Remote = e })
	}

	mergeTypeClashes(mixed)

	return mixed
}

// mergeTypeClashes folds folder observations into a file entry at the
// same logical path. Folder keys carry a trailing slash, so a path that
// is a file in one source and a folder in another lands under two map
// keys; the planner resolves the clash per entry and needs to see both
// sides at once.
func mergeTypeClashes(mixed map[string]*MixedEntity) {
	for key, fm := range mixed {
		if !IsFolderKey(key) {
			continue
		}

		em, ok := mixed[strings.TrimSuffix(key, "/")]
		if !ok {
			continue
		}

		if fm.Local != nil && em.Local == nil {
			em.Local, fm.Local = fm.Local, nil
		}

		if fm.Prev != nil && em.Prev == nil {
			em.Prev, fm.Prev = fm.Prev, nil
		}

		if fm.Remote != nil && em.Remote == nil {
			em.Remote, fm.Remote = fm.Remote, nil
		}

		if fm.Local == nil && fm.Prev == nil && fm.Remote == nil {
			delete(mixed, key)
		}
	}
}

// excludedKey applies the exclusion predicates from opts. Returns the
// matched rule name for logging.
func excludedKey(key string, opts AssembleOptions) (bool, string) {
	bare := strings.TrimSuffix(key, "/")

	if IsSentinelKey(bare) {
		return true, "sentinel"
	}

	if opts.ConfigDirName != "" {
		configPrefix := opts.ConfigDirName + "/"
		if bare == opts.ConfigDirName || strings.HasPrefix(key, configPrefix) {
			if !opts.SyncConfigDir {
				return true, "config-dir"
			}
			// Config dir is in: fall through to ignore globs only, the
			// dot-prefix rule below must not re-exclude it.
			return matchIgnore(key, bare, opts.IgnorePaths)
		}
	}

	top := bare
	if idx := strings.Index(bare, "/"); idx >= 0 {
		top = bare[:idx]
	}

	if strings.HasPrefix(top, "_") && !opts.SyncUnderscoreItems {
		return true, "underscore-item"
	}

	// Hidden files and directories never sync (the config dir is handled
	// above).
	for _, seg := range strings.Split(bare, "/") {
		if strings.HasPrefix(seg, ".") {
			return true, "hidden"
		}
	}

	return matchIgnore(key, bare, opts.IgnorePaths)
}

func matchIgnore(key, bare string, globs []string) (bool, string) {
	for _, g := range globs {
		if g == "" {
			continue
		}

		if ok, err := doublestar.Match(g, bare); err == nil && ok {
			return true, "ignore:" + g
		}

		if ok, err := doublestar.Match(g, key); err == nil && ok {
			return true, "ignore:" + g
		}
	}

	return false, ""
}

package engine

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// SizeUnknown marks an entity whose byte size could not be determined,
// e.g. a remote listing that omits sizes for encrypted objects.
const SizeUnknown int64 = -1

// Entity is one filesystem-like object as observed from a single source
// (local disk, the previous-sync record, or the remote store). Folder
// keys always end with "/". Within one source list, Key is unique.
type Entity struct {
	// Key is the logical path, slash-separated, relative to the sync root.
	Key string `json:"key"`
	// Folder is true for directories. Folders carry no fingerprint and
	// are compared by presence only.
	Folder bool `json:"folder"`
	// Deleted marks a tombstone in the previous-sync record: the path
	// existed at last sync and was removed by a synced delete.
	Deleted bool `json:"deleted,omitempty"`
	// MTime is the last-modified time in unix milliseconds. Zero for
	// folders or when the source does not report one.
	MTime int64 `json:"mtime"`
	// Size is the byte size. 0 for folders, SizeUnknown when unreported.
	Size int64 `json:"size"`
	// Hash is the content fingerprint (hex). Used to detect "same
	// content, different mtime". Empty when unavailable.
	Hash string `json:"hash,omitempty"`
	// Encrypted records that this observation came from an
	// encrypted-name/content remote. Key is always the decrypted form;
	// EncryptedKey preserves the on-remote name for I/O.
	Encrypted    bool   `json:"encrypted,omitempty"`
	EncryptedKey string `json:"encrypted_key,omitempty"`
	// RemoteHash is only set on previous-sync records: the fingerprint
	// the remote listing reported for this key at last sync. It differs
	// from Hash when content is encrypted (the remote hashes ciphertext).
	RemoteHash string `json:"remote_hash,omitempty"`
}

// RemoteKey returns the key to use for remote I/O: the on-remote
// (possibly encrypted) name when present, the logical key otherwise.
func (e *Entity) RemoteKey() string {
	if e.EncryptedKey != "" {
		return e.EncryptedKey
	}

	return e.Key
}

// MixedEntity is the joined view of one logical path across the three
// sources. At least one of Local/Prev/Remote is non-nil; a MixedEntity
// with only Prev present is a path gone from both sides whose history
// row should be dropped.
type MixedEntity struct {
	Key    string
	Local  *Entity
	Prev   *Entity
	Remote *Entity
}

// NormalizeKey canonicalizes a logical path: forward slashes, no
// repeated or leading/trailing separators, non-breaking spaces replaced,
// Unicode NFC. Pass folder=true to re-append the trailing slash that
// identifies folder keys. Every key entering the engine goes through
// this exactly once.
func NormalizeKey(key string, folder bool) string {
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.ReplaceAll(key, "\u00A0", " ")
	key = strings.ReplaceAll(key, "\u202F", " ")

	var b strings.Builder

	prevSlash := false

	for _, r := range key {
		if r == '/' {
			if prevSlash {
				continue
			}

			prevSlash = true
		} else {
			prevSlash = false
		}

		b.WriteRune(r)
	}

	key = strings.Trim(b.String(), "/")
	key = norm.NFC.String(key)

	if folder && key != "" {
		key += "/"
	}

	return key
}

// IsFolderKey reports whether a key names a folder by the trailing-slash
// convention.
func IsFolderKey(key string) bool {
	return strings.HasSuffix(key, "/")
}

// KeyDepth returns the number of path segments in a key. "a/b/c" and
// "a/b/c/" are both depth 3.
func KeyDepth(key string) int {
	key = strings.TrimSuffix(key, "/")
	if key == "" {
		return 0
	}

	return strings.Count(key, "/") + 1
}

// ParentKey returns the folder key containing the given key, or "" for
// top-level keys.
func ParentKey(key string) string {
	key = strings.TrimSuffix(key, "/")

	idx := strings.LastIndex(key, "/")
	if idx < 0 {
		return ""
	}

	return key[:idx+1]
}

// UnderKey reports whether child lies strictly inside the folder key
// parent.
func UnderKey(parent, child string) bool {
	if !IsFolderKey(parent) {
		return false
	}

	return child != parent && strings.HasPrefix(child, parent)
}

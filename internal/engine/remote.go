package engine

import "context"

// RemoteClient is the storage capability the engine drives. Concrete
// implementations (directory store, object store, webdav, ...) live in
// internal/remote; the engine only ever calls this interface.
//
// Keys passed to I/O methods are on-remote names: when names are
// encrypted these are ciphertext, produced via Cipher.EncryptName.
type RemoteClient interface {
	// ListAll enumerates every object and folder on the remote. Keys in
	// the returned entities are on-remote names, not decrypted.
	ListAll(ctx context.Context) ([]Entity, error)
	// GetContent reads one object's bytes.
	GetContent(ctx context.Context, key string) ([]byte, error)
	// PutContent writes one object, creating or overwriting it.
	PutContent(ctx context.Context, key string, data []byte) error
	// Delete removes one object or empty folder. Deleting a missing key
	// is not an error.
	Delete(ctx context.Context, key string) error
	// CreateFolder creates a folder marker. Creating an existing folder
	// is not an error.
	CreateFolder(ctx context.Context, key string) error
}

// Trash is the local deletion capability. Reversible trash is tried
// first so a bad run can be undone; permanent delete is the fallback.
type Trash interface {
	// TrashReversible moves the path to recoverable storage, reporting
	// whether it succeeded.
	TrashReversible(relPath string) bool
	// TrashPermanent deletes the path outright.
	TrashPermanent(relPath string) error
}

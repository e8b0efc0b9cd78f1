package engine

import (
	"fmt"
	"path/filepath"
	"time"
)

// trashDirName is the recoverable-trash directory inside the sync root.
// Hidden, so the scanner and watcher never pick it up.
const trashDirName = ".trash"

// VaultTrash implements Trash by moving files into a timestamped folder
// under the sync root's .trash directory. Reversible: the user can
// recover anything a sync run removed. Permanent delete goes through
// the vault's traversal-checked remove.
type VaultTrash struct {
	vault *Vault
}

// NewVaultTrash creates the trash capability for a sync root.
func NewVaultTrash(vault *Vault) *VaultTrash {
	return &VaultTrash{vault: vault}
}

// TrashReversible moves the key into .trash/<unix-milli>/<key>. Returns
// false when the move fails (cross-device, permissions); the caller
// falls back to TrashPermanent.
func (t *VaultTrash) TrashReversible(key string) bool {
	stamp := fmt.Sprintf("%d", time.Now().UnixMilli())
	dest := filepath.ToSlash(filepath.Join(trashDirName, stamp, key))

	if err := t.vault.Rename(key, dest); err != nil {
		return false
	}

	return true
}

// TrashPermanent deletes the key outright.
func (t *VaultTrash) TrashPermanent(key string) error {
	return t.vault.DeleteFile(key)
}

// DiscardTrash is a Trash that never keeps a recoverable copy. Used
// when the sync root's filesystem cannot host a trash directory, and in
// tests that assert permanent deletion.
type DiscardTrash struct {
	vault *Vault
}

// NewDiscardTrash creates a permanent-only trash for a sync root.
func NewDiscardTrash(vault *Vault) *DiscardTrash {
	return &DiscardTrash{vault: vault}
}

func (t *DiscardTrash) TrashReversible(string) bool { return false }

func (t *DiscardTrash) TrashPermanent(key string) error {
	return t.vault.DeleteFile(key)
}

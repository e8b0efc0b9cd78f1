package engine

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
)

const (
	// sentinelName is the reserved remote object used to verify the
	// configured password before any destructive action. The leading
	// underscore keeps it out of the underscore-item join.
	sentinelName = "_sync-sentinel"

	// sentinelMarker is the plaintext stored (encrypted) in the sentinel
	// object.
	sentinelMarker = "remotesync-sentinel-v1"
)

// KeyCheckResult reports whether the configured password matches the
// remote's encrypted corpus.
type KeyCheckResult struct {
	OK bool
	// Reason is a user-facing explanation when OK is false.
	Reason string
	// SentinelMissing is true when the check passed only because no
	// sentinel exists yet (first-ever sync). The caller is responsible
	// for writing one after a successful run.
	SentinelMissing bool
}

// IsSentinelKey reports whether a decrypted logical key is the reserved
// sentinel object.
func IsSentinelKey(key string) bool {
	return key == sentinelName
}

// CheckRemoteKey validates the configured key against the remote entity
// list before a run. Failure is fatal for the run: no plan is generated.
//
// With name-and-content encryption the sentinel's encrypted name itself
// is the proof: AES-SIV authenticates, so only the matching password
// decrypts any name at all. With content-only encryption the sentinel
// name is plaintext and its content is fetched and decrypted. With no
// encryption there is nothing to validate.
func CheckRemoteKey(ctx context.Context, remote []Entity, client RemoteClient, cipher Cipher, logger *slog.Logger) KeyCheckResult {
	switch cipher.Method() {
	case MethodNone:
		return KeyCheckResult{OK: true}

	case MethodNameAndContent:
		return checkEncryptedNames(remote, cipher, logger)

	case MethodContentOnly:
		return checkSentinelContent(ctx, remote, client, cipher)

	default:
		return KeyCheckResult{OK: false, Reason: fmt.Sprintf("unknown encryption method %q", cipher.Method())}
	}
}

func checkEncryptedNames(remote []Entity, cipher Cipher, logger *slog.Logger) KeyCheckResult {
	if len(remote) == 0 {
		return KeyCheckResult{OK: true, SentinelMissing: true}
	}

	decryptable := 0

	for i := range remote {
		// Folder keys carry their slash outside the ciphertext.
		name, err := cipher.DecryptName(strings.TrimSuffix(remote[i].Key, "/"))
		if err != nil {
			continue
		}

		decryptable++

		if IsSentinelKey(name) {
			return KeyCheckResult{OK: true}
		}
	}

	if decryptable == 0 {
		return KeyCheckResult{OK: false, Reason: "password does not match the remote: no object name decrypts with the configured key"}
	}

	// Names decrypt but no sentinel was found: an older corpus written
	// before the sentinel convention. Accept and let the caller write one.
	logger.Debug("key check: names decrypt but sentinel absent",
		slog.Int("remote_entries", len(remote)),
		slog.Int("decryptable", decryptable),
	)

	return KeyCheckResult{OK: true, SentinelMissing: true}
}

func checkSentinelContent(ctx context.Context, remote []Entity, client RemoteClient, cipher Cipher) KeyCheckResult {
	var sentinel *Entity

	for i := range remote {
		if IsSentinelKey(remote[i].Key) {
			if sentinel != nil {
				return KeyCheckResult{OK: false, Reason: "remote holds more than one sync sentinel"}
			}

			sentinel = &remote[i]
		}
	}

	if sentinel == nil {
		return KeyCheckResult{OK: true, SentinelMissing: true}
	}

	enc, err := client.GetContent(ctx, sentinel.RemoteKey())
	if err != nil {
		return KeyCheckResult{OK: false, Reason: fmt.Sprintf("fetching sync sentinel: %v", err)}
	}

	plain, err := cipher.DecryptContent(enc)
	if err != nil {
		return KeyCheckResult{OK: false, Reason: "password does not match the remote: sentinel fails to decrypt"}
	}

	if !bytes.Equal(plain, []byte(sentinelMarker)) {
		return KeyCheckResult{OK: false, Reason: "sync sentinel decrypts to unexpected content"}
	}

	return KeyCheckResult{OK: true}
}

// WriteSentinel stores the sentinel object after a successful encrypted
// sync so later runs can verify the password up front. No-op when
// encryption is off.
func WriteSentinel(ctx context.Context, client RemoteClient, cipher Cipher) error {
	if cipher.Method() == MethodNone {
		return nil
	}

	name, err := cipher.EncryptName(sentinelName)
	if err != nil {
		return fmt.Errorf("encrypting sentinel name: %w", err)
	}

	content, err := cipher.EncryptContent([]byte(sentinelMarker))
	if err != nil {
		return fmt.Errorf("encrypting sentinel content: %w", err)
	}

	if err := client.PutContent(ctx, name, content); err != nil {
		return fmt.Errorf("writing sync sentinel: %w", err)
	}

	return nil
}

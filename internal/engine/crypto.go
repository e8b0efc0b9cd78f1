package engine

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"

	aessiv "github.com/jedisct1/go-aes-siv"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/scrypt"
	"golang.org/x/text/unicode/norm"
)

const (
	// scryptN is the CPU/memory cost parameter for scrypt key derivation (2^15).
	scryptN = 32768

	// scryptR is the block size parameter for scrypt key derivation.
	scryptR = 8

	// scryptP is the parallelization parameter for scrypt key derivation.
	scryptP = 1

	// scryptKeyLen is the derived key length in bytes.
	scryptKeyLen = 32

	// hkdfKeyLen is the output length for HKDF-derived subkeys.
	hkdfKeyLen = 32

	// sivTagLen is the AES-SIV authentication tag length in bytes.
	sivTagLen = 16
)

// EncryptionMethod selects how much of the remote corpus is encrypted.
type EncryptionMethod string

const (
	// MethodNone stores names and contents in the clear.
	MethodNone EncryptionMethod = "none"
	// MethodNameAndContent encrypts object names (deterministically, so
	// joining works) and contents.
	MethodNameAndContent EncryptionMethod = "name-and-content"
	// MethodContentOnly encrypts contents but leaves names readable.
	MethodContentOnly EncryptionMethod = "content-only"
)

// Cipher is the encryption capability consumed by the assembler,
// executor, and key verification. The engine never touches key material
// directly.
type Cipher interface {
	// Method returns the configured encryption method.
	Method() EncryptionMethod
	// EncryptName encrypts a logical key deterministically and returns a
	// hex string. Identity under MethodNone and MethodContentOnly.
	EncryptName(key string) (string, error)
	// DecryptName reverses EncryptName. Fails on ciphertext produced
	// with a different password.
	DecryptName(enc string) (string, error)
	// EncryptContent encrypts raw content bytes.
	EncryptContent(data []byte) ([]byte, error)
	// DecryptContent reverses EncryptContent.
	DecryptContent(data []byte) ([]byte, error)
}

// NewCipher builds the cipher for the given method. password and salt
// are required for any method other than MethodNone.
func NewCipher(method EncryptionMethod, password, salt string) (Cipher, error) {
	switch method {
	case MethodNone, "":
		return PlainCipher{}, nil
	case MethodNameAndContent, MethodContentOnly:
		key, err := DeriveKey(password, salt)
		if err != nil {
			return nil, err
		}

		defer ZeroKey(key)

		return newSIVCipher(method, key, salt)
	default:
		return nil, fmt.Errorf("unknown encryption method %q", method)
	}
}

// DeriveKey derives a 32-byte encryption key from password and salt
// using scrypt (N=32768, r=8, p=1). Both inputs are normalized to NFKC
// before hashing so the same password typed on different platforms
// derives the same key.
func DeriveKey(password, salt string) ([]byte, error) {
	if password == "" {
		return nil, fmt.Errorf("encryption password must not be empty")
	}

	password = norm.NFKC.String(password)
	salt = norm.NFKC.String(salt)

	key, err := scrypt.Key([]byte(password), []byte(salt), scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("deriving key: %w", err)
	}

	return key, nil
}

// KeyHash returns hex(SHA-256(key)). Recorded in the sentinel payload
// so a later run can tell "wrong password" from "corrupt sentinel".
func KeyHash(key []byte) string {
	h := sha256.Sum256(key)
	return hex.EncodeToString(h[:])
}

// ZeroKey overwrites key material in place. Call immediately after the
// cipher objects are constructed.
func ZeroKey(key []byte) {
	for i := range key {
		key[i] = 0
	}
}

// PlainCipher is the MethodNone capability: every operation is the
// identity.
type PlainCipher struct{}

func (PlainCipher) Method() EncryptionMethod                { return MethodNone }
func (PlainCipher) EncryptName(key string) (string, error)  { return key, nil }
func (PlainCipher) DecryptName(enc string) (string, error)  { return enc, nil }
func (PlainCipher) EncryptContent(d []byte) ([]byte, error) { return d, nil }
func (PlainCipher) DecryptContent(d []byte) ([]byte, error) { return d, nil }

// sivCipher implements name-and-content and content-only encryption.
//
// Name encryption uses AES-SIV-CMAC (RFC 5297): deterministic
// authenticated encryption with no nonce, so the same logical key always
// produces the same remote object name and the assembler can join on it.
// Format: hex([16-byte SIV tag][ciphertext]).
//
// Content encryption uses AES-256-GCM with a random 12-byte IV so
// identical plaintext uploads differently each time.
// Format: [12-byte IV][ciphertext+GCM tag].
//
// Subkeys are derived from the scrypt key via HKDF-SHA256:
//
//	mac_key = HKDF(ikm=key, salt=vaultSalt, info="RemoteSyncSivMac") 32 B
//	enc_key = HKDF(ikm=key, salt=vaultSalt, info="RemoteSyncSivEnc") 32 B
//	siv_key = mac_key ‖ enc_key
//	gcm_key = HKDF(ikm=key, salt=nil, info="RemoteSyncGcm") 32 B
type sivCipher struct {
	method EncryptionMethod
	siv    cipher.AEAD
	gcm    cipher.AEAD
}

func newSIVCipher(method EncryptionMethod, key []byte, salt string) (*sivCipher, error) {
	if len(key) != scryptKeyLen {
		return nil, fmt.Errorf("invalid key length %d: expected %d bytes", len(key), scryptKeyLen)
	}

	saltBytes := []byte(norm.NFKC.String(salt))

	macKey, err := hkdfDeriveKey(key, saltBytes, []byte("RemoteSyncSivMac"), hkdfKeyLen)
	if err != nil {
		return nil, fmt.Errorf("deriving SIV mac key: %w", err)
	}

	encKey, err := hkdfDeriveKey(key, saltBytes, []byte("RemoteSyncSivEnc"), hkdfKeyLen)
	if err != nil {
		return nil, fmt.Errorf("deriving SIV enc key: %w", err)
	}

	// aessiv.New expects a 64-byte composite key: [mac_key(32) || enc_key(32)].
	sivKey := append(macKey, encKey...) //nolint:gocritic

	sivAEAD, err := aessiv.New(sivKey)
	if err != nil {
		return nil, fmt.Errorf("creating AES-SIV cipher: %w", err)
	}

	gcmKey, err := hkdfDeriveKey(key, nil, []byte("RemoteSyncGcm"), hkdfKeyLen)
	if err != nil {
		return nil, fmt.Errorf("deriving GCM key: %w", err)
	}

	block, err := aes.NewCipher(gcmKey)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}

	gcmAEAD, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}

	// Zero the derived key material; the cipher objects retain their own copies.
	subtle.ConstantTimeCopy(1, sivKey, make([]byte, len(sivKey)))
	subtle.ConstantTimeCopy(1, macKey, make([]byte, len(macKey)))
	subtle.ConstantTimeCopy(1, encKey, make([]byte, len(encKey)))
	subtle.ConstantTimeCopy(1, gcmKey, make([]byte, len(gcmKey)))

	return &sivCipher{method: method, siv: sivAEAD, gcm: gcmAEAD}, nil
}

func (c *sivCipher) Method() EncryptionMethod {
	return c.method
}

// EncryptName encrypts a key with AES-SIV-CMAC. Identity when the
// method is content-only.
func (c *sivCipher) EncryptName(key string) (string, error) {
	if c.method == MethodContentOnly {
		return key, nil
	}

	ct := c.siv.Seal(nil, nil, []byte(key), nil)

	return hex.EncodeToString(ct), nil
}

// DecryptName decodes a hex-encoded AES-SIV-CMAC encrypted key. The SIV
// tag authenticates, so a wrong password fails here rather than
// producing garbage.
func (c *sivCipher) DecryptName(enc string) (string, error) {
	if c.method == MethodContentOnly {
		return enc, nil
	}

	data, err := hex.DecodeString(enc)
	if err != nil {
		return "", fmt.Errorf("decoding hex: %w", err)
	}

	if len(data) < sivTagLen {
		return "", fmt.Errorf("ciphertext too short: %d bytes", len(data))
	}

	plain, err := c.siv.Open(nil, nil, data, nil)
	if err != nil {
		return "", fmt.Errorf("decrypting name: %w", err)
	}

	return string(plain), nil
}

// EncryptContent encrypts content with AES-GCM and a random IV.
// Returns [12-byte IV][ciphertext+GCM tag].
func (c *sivCipher) EncryptContent(data []byte) ([]byte, error) {
	iv := make([]byte, c.gcm.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("generating IV: %w", err)
	}

	ct := c.gcm.Seal(nil, iv, data, nil)
	result := make([]byte, len(iv)+len(ct))
	copy(result, iv)
	copy(result[len(iv):], ct)

	return result, nil
}

// DecryptContent decrypts [12-byte IV][ciphertext+GCM tag]. A payload of
// exactly nonce size (no ciphertext, no tag) is treated as empty
// content, matching the empty-file upload format.
func (c *sivCipher) DecryptContent(data []byte) ([]byte, error) {
	nonceSize := c.gcm.NonceSize()
	if len(data) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short: %d bytes", len(data))
	}

	if len(data) == nonceSize {
		return []byte{}, nil
	}

	plain, err := c.gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("decrypting content: %w", err)
	}

	return plain, nil
}

// hkdfDeriveKey derives keyLen bytes using HKDF-SHA256 with the given
// IKM, salt, and info parameters.
func hkdfDeriveKey(ikm, salt, info []byte, keyLen int) ([]byte, error) {
	r := hkdf.New(sha256.New, ikm, salt, info)

	out := make([]byte, keyLen)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}

	return out, nil
}

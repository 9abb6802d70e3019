package cryptoutil

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	gcmTagSize   = 16
	pbkdf2Iters  = 200_000
	diskKeySize  = 16 // AES-128
	saltFileSize = 16
)

// zeroIV is the fixed 12-byte AES-GCM nonce used for all disk blob
// encryption. This is only safe because each blob is sealed under a key
// restricted to a single logical name (§9 design note); see SealWithKey.
var zeroIV = make([]byte, 12)

// SealWithKey encrypts plaintext with AES-GCM-128 under key using the fixed
// zero IV, prepending the 16-byte authentication tag to the ciphertext —
// the wire format original_source/src/enclave/LocalEncryptedIO.cpp uses for
// on-disk page blobs, adapted here from the teacher's random-nonce
// EncryptSecret (pkg/security/secrets.go) to the spec-mandated fixed-IV
// scheme.
func SealWithKey(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithTagSize(block, gcmTagSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	sealed := gcm.Seal(nil, zeroIV, plaintext, nil)
	ciphertext := sealed[:len(sealed)-gcmTagSize]
	tag := sealed[len(sealed)-gcmTagSize:]

	out := make([]byte, 0, len(tag)+len(ciphertext))
	out = append(out, tag...)
	out = append(out, ciphertext...)
	return out, nil
}

// ErrIntegrity indicates the authentication tag failed to verify.
var ErrIntegrity = fmt.Errorf("integrity check failed")

// OpenWithKey reverses SealWithKey, returning ErrIntegrity when the tag does
// not verify.
func OpenWithKey(key, blob []byte) ([]byte, error) {
	if len(blob) < gcmTagSize {
		return nil, fmt.Errorf("blob shorter than authentication tag")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithTagSize(block, gcmTagSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	tag := blob[:gcmTagSize]
	ciphertext := blob[gcmTagSize:]
	sealed := append(append([]byte{}, ciphertext...), tag...)

	plaintext, err := gcm.Open(nil, zeroIV, sealed, nil)
	if err != nil {
		return nil, ErrIntegrity
	}
	return plaintext, nil
}

// SealTagSuffix encrypts plaintext with AES-GCM-128 under key using the
// fixed zero IV, with the 16-byte authentication tag appended after the
// ciphertext — the wire protocol's `encrypted_payload` framing (spec §6),
// distinct from SealWithKey's tag-prepended on-disk blob layout.
func SealTagSuffix(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithTagSize(block, gcmTagSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm.Seal(nil, zeroIV, plaintext, nil), nil
}

// OpenTagSuffix reverses SealTagSuffix.
func OpenTagSuffix(key, blob []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithTagSize(block, gcmTagSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	plaintext, err := gcm.Open(nil, zeroIV, blob, nil)
	if err != nil {
		return nil, ErrIntegrity
	}
	return plaintext, nil
}

// DeriveDiskKey seals the per-blob disk key from an operator passphrase and
// a random salt using PBKDF2-HMAC-SHA256, the sealed-disk-key mechanism
// named in the specification's persistent-state section. golang.org/x/crypto
// was already an indirect dependency of the teacher repo; this promotes it
// to direct via the one sub-package actually exercised.
func DeriveDiskKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iters, diskKeySize, sha256.New)
}

// NewSalt generates a fresh random salt for DeriveDiskKey.
func NewSalt() ([]byte, error) {
	salt := make([]byte, saltFileSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}

// Package crypto provides AES-256-GCM sealing of shared secrets stored at
// rest: signing-key secrets and webhook registration secrets.
//
// Sealed values are base64 strings prefixed with a version tag. Each Seal
// uses a fresh random nonce, so sealing the same secret twice yields
// different ciphertexts.
//
// Example usage:
//
//	box, err := crypto.NewSecretBox(os.Getenv("CONFIG_ENCRYPTION_KEY"))
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	sealed, err := box.Seal("whsec_live_123")
//	secret, err := box.Open(sealed)
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"federation-gateway/internal/common/errors"
)

const (
	sealedPrefix     = "v1:"
	pbkdf2Iterations = 10000
)

var salt = []byte("federation-gateway-secrets")

// SecretBox seals and opens secrets with a key derived from a passphrase.
//
// The box is safe for concurrent use by multiple goroutines.
type SecretBox struct {
	aead cipher.AEAD
}

// NewSecretBox derives a 32-byte AES-256 key from passphrase with PBKDF2.
// The passphrase must not be empty.
func NewSecretBox(passphrase string) (*SecretBox, error) {
	if passphrase == "" {
		return nil, errors.ValidationError("encryption key cannot be empty")
	}

	key := pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, 32, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.InternalError("failed to create cipher", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.InternalError("failed to create GCM", err)
	}

	return &SecretBox{aead: aead}, nil
}

// Seal encrypts plaintext. Empty input is returned unchanged.
func (b *SecretBox) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, b.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", errors.InternalError("failed to create nonce", err)
	}

	sealed := b.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return sealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal. Tampered ciphertexts and values
// sealed under another key fail authentication.
func (b *SecretBox) Open(sealed string) (string, error) {
	if sealed == "" {
		return "", nil
	}
	if !IsSealed(sealed) {
		return "", errors.ValidationError("value is not sealed")
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(sealed, sealedPrefix))
	if err != nil {
		return "", errors.InternalError("failed to decode ciphertext", err)
	}

	nonceSize := b.aead.NonceSize()
	if len(data) < nonceSize {
		return "", errors.ValidationError("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := b.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", errors.InternalError("failed to decrypt", err)
	}
	return string(plaintext), nil
}

// IsSealed reports whether value carries the sealed-value prefix
func IsSealed(value string) bool {
	return strings.HasPrefix(value, sealedPrefix)
}

// Package cipher provides the encryption and integrity-digest capability the
// engine depends on. The engine never touches primitives directly; it only
// sees this boundary.
package cipher

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
)

// Cipher is the crypto collaborator boundary: symmetric encryption for
// sensitive payloads and a content digest for integrity checks.
type Cipher interface {
	Encrypt(plaintext []byte) (string, error)
	Decrypt(ciphertext string) ([]byte, error)
	Hash(data []byte) string
}

// SecretBox implements Cipher with NaCl secretbox under a shared 256-bit key.
type SecretBox struct {
	key [32]byte
}

// NewSecretBox creates a SecretBox cipher. The key must be exactly 32 bytes.
func NewSecretBox(key []byte) (*SecretBox, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("key must be 32 bytes, got %d", len(key))
	}
	var k [32]byte
	copy(k[:], key)
	return &SecretBox{key: k}, nil
}

// KeyFromPassphrase derives a 32-byte key from a shared passphrase.
func KeyFromPassphrase(passphrase string) []byte {
	sum := sha256.Sum256([]byte(passphrase))
	return sum[:]
}

// Encrypt seals plaintext with a random nonce and returns base64 of
// nonce||box.
func (c *SecretBox) Encrypt(plaintext []byte) (string, error) {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], plaintext, &nonce, &c.key)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a ciphertext produced by Encrypt.
func (c *SecretBox) Decrypt(ciphertext string) ([]byte, error) {
	sealed, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}
	if len(sealed) < 24 {
		return nil, errors.New("ciphertext too short")
	}
	var nonce [24]byte
	copy(nonce[:], sealed[:24])
	plain, ok := secretbox.Open(nil, sealed[24:], &nonce, &c.key)
	if !ok {
		return nil, errors.New("decryption failed")
	}
	return plain, nil
}

// Hash returns the hex sha256 digest of data.
func (c *SecretBox) Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Package fieldcrypt encrypts individual at-rest fields (message pointers, timestamps, session
// head/tail pointers, key-store timestamps).
//
// Ciphertexts are XChaCha20-Poly1305 sealed with a random 24-byte nonce and encoded as
// base64url(nonce || ciphertext). Encryption is non-deterministic: equal plaintexts produce
// different ciphertexts, so encrypted columns cannot be used for lookups.
package fieldcrypt

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeyEnv is the env var holding the hex-encoded 32-byte field key.
// #nosec G101 -- env var name, not a credential.
const KeyEnv = "TETHER_FIELD_KEY_HEX"

var (
	// ErrKeyMissing is returned when no key is configured.
	ErrKeyMissing = errors.New("fieldcrypt: key missing")

	// ErrKeyInvalid is returned for keys that are not 32 bytes of hex.
	ErrKeyInvalid = errors.New("fieldcrypt: key must be 32 bytes hex")

	// ErrCiphertext is returned when a value cannot be decoded or authenticated.
	ErrCiphertext = errors.New("fieldcrypt: invalid ciphertext")
)

var b64 = base64.RawURLEncoding

// Cipher seals and opens field values.
type Cipher struct {
	key []byte
}

// New builds a Cipher from a raw 32-byte key.
func New(key []byte) (*Cipher, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, ErrKeyInvalid
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &Cipher{key: k}, nil
}

// NewFromHex builds a Cipher from a hex-encoded key.
func NewFromHex(s string) (*Cipher, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrKeyMissing
	}
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, ErrKeyInvalid
	}
	return New(key)
}

// FromEnv reads KeyEnv.
func FromEnv() (*Cipher, error) {
	return NewFromHex(os.Getenv(KeyEnv))
}

// GenerateKeyHex returns a fresh random key, hex encoded.
func GenerateKeyHex() (string, error) {
	k := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(k); err != nil {
		return "", err
	}
	return hex.EncodeToString(k), nil
}

// Seal encrypts plaintext.
func (c *Cipher) Seal(plaintext string) (string, error) {
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("fieldcrypt: nonce: %w", err)
	}

	out := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return b64.EncodeToString(out), nil
}

// Open decrypts a value produced by Seal.
func (c *Cipher) Open(ciphertext string) (string, error) {
	raw, err := b64.DecodeString(ciphertext)
	if err != nil {
		return "", ErrCiphertext
	}

	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return "", err
	}
	if len(raw) < aead.NonceSize()+aead.Overhead() {
		return "", ErrCiphertext
	}

	nonce, body := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	pt, err := aead.Open(nil, nonce, body, nil)
	if err != nil {
		return "", ErrCiphertext
	}
	return string(pt), nil
}

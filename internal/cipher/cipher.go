// Package cipher encrypts stored text with one process-wide symmetric key.
//
// Keys are 32 random bytes encoded as url-safe base64 (the same shape as a
// Fernet key). Tokens are url-safe base64 of nonce || sealed box, sealed with
// XChaCha20-Poly1305, so any modification or a foreign key fails to open.
package cipher

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

var (
	// ErrInvalidKey reports a missing or malformed key at construction.
	ErrInvalidKey = errors.New("invalid encryption key")
	// ErrIntegrity reports ciphertext that was not produced by this key or was altered.
	ErrIntegrity = errors.New("ciphertext failed authentication")
)

var tokenEncoding = base64.RawURLEncoding

// Cipher is safe for concurrent use.
type Cipher struct {
	key []byte
}

// New parses key and returns a Cipher bound to it.
func New(key string) (*Cipher, error) {
	raw, err := decodeKey(key)
	if err != nil {
		return nil, err
	}
	// Construct once to validate the key length against the AEAD.
	if _, err := chacha20poly1305.NewX(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return &Cipher{key: raw}, nil
}

// GenerateKey returns a new random key in the encoding New accepts.
func GenerateKey() (string, error) {
	raw := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("read random key: %w", err)
	}
	return base64.URLEncoding.EncodeToString(raw), nil
}

// Encrypt seals plaintext. Empty input is returned unchanged.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return plaintext, nil
	}
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return "", fmt.Errorf("init aead: %w", err)
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return tokenEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a token produced by Encrypt. Empty input is returned unchanged.
func (c *Cipher) Decrypt(token string) (string, error) {
	if token == "" {
		return token, nil
	}
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return "", fmt.Errorf("init aead: %w", err)
	}
	raw, err := tokenEncoding.DecodeString(token)
	if err != nil {
		return "", fmt.Errorf("%w: malformed token", ErrIntegrity)
	}
	if len(raw) < aead.NonceSize()+aead.Overhead() {
		return "", fmt.Errorf("%w: token too short", ErrIntegrity)
	}
	nonce, box := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, box, nil)
	if err != nil {
		return "", ErrIntegrity
	}
	return string(plain), nil
}

func decodeKey(key string) ([]byte, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("%w: key is empty", ErrInvalidKey)
	}
	for _, enc := range []*base64.Encoding{
		base64.URLEncoding,
		base64.RawURLEncoding,
		base64.StdEncoding,
		base64.RawStdEncoding,
	} {
		raw, err := enc.DecodeString(key)
		if err != nil {
			continue
		}
		if len(raw) != chacha20poly1305.KeySize {
			return nil, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidKey, chacha20poly1305.KeySize, len(raw))
		}
		return raw, nil
	}
	return nil, fmt.Errorf("%w: not base64", ErrInvalidKey)
}

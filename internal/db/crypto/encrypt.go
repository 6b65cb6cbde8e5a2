// Package crypto seals data-source credentials before they are stored.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ErrEmptyCiphertext is returned when opening an empty value.
var ErrEmptyCiphertext = errors.New("ciphertext is empty")

// Encryptor seals values with AES-256-GCM. The associated data passed to Seal
// must be passed again to Open, which binds a ciphertext to its row.
type Encryptor struct {
	aead cipher.AEAD
}

// NewEncryptor creates an Encryptor from a hex-encoded 32-byte key.
func NewEncryptor(hexKey string) (*Encryptor, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decode encryption key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &Encryptor{aead: aead}, nil
}

// Seal encrypts plaintext and returns hex(nonce || ciphertext).
func (e *Encryptor) Seal(plaintext []byte, associated string) (string, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	return hex.EncodeToString(e.aead.Seal(nonce, nonce, plaintext, []byte(associated))), nil
}

// Open reverses Seal.
func (e *Encryptor) Open(sealed, associated string) ([]byte, error) {
	if sealed == "" {
		return nil, ErrEmptyCiphertext
	}
	raw, err := hex.DecodeString(sealed)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}
	n := e.aead.NonceSize()
	if len(raw) < n {
		return nil, fmt.Errorf("ciphertext too short")
	}
	plaintext, err := e.aead.Open(nil, raw[:n], raw[n:], []byte(associated))
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, nil
}

// SealJSON marshals v and seals the result.
func (e *Encryptor) SealJSON(v any, associated string) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal sealed value: %w", err)
	}
	return e.Seal(raw, associated)
}

// OpenJSON opens sealed and unmarshals the plaintext into v.
func (e *Encryptor) OpenJSON(sealed, associated string, v any) error {
	raw, err := e.Open(sealed, associated)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("unmarshal sealed value: %w", err)
	}
	return nil
}

// Package secrets implements an encrypted secret store for API keys and tokens.
//
// Secrets are encrypted with ChaCha20-Poly1305 AEAD using a random 256-bit key
// persisted at a fixed path with 0600 permissions. The wire format is
// "enc2:" + hex(nonce || ciphertext || tag). A legacy "enc:" XOR format is
// accepted on decrypt only, for migrating values written by an older store.
package secrets

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	keyLen   = chacha20poly1305.KeySize   // 32
	nonceLen = chacha20poly1305.NonceSize // 12

	enc2Prefix = "enc2:"
	encPrefix  = "enc:"
)

// Store manages encrypted storage of secrets (API keys, tokens, etc.).
type Store struct {
	keyPath string
	enabled bool
}

// New creates a secret store rooted at dir. The key file lives at
// dir/.secret_key. When enabled is false, Encrypt is the identity function
// but Decrypt still honors the enc2:/enc: prefixes.
func New(dir string, enabled bool) *Store {
	return &Store{
		keyPath: filepath.Join(dir, ".secret_key"),
		enabled: enabled,
	}
}

// IsEncrypted reports whether value carries a recognized encryption prefix.
func IsEncrypted(value string) bool {
	return len(value) >= len(enc2Prefix) && value[:len(enc2Prefix)] == enc2Prefix ||
		len(value) >= len(encPrefix) && value[:len(encPrefix)] == encPrefix
}

// Encrypt returns "enc2:" + hex(nonce || ciphertext || tag). Returns the
// plaintext unchanged if the store is disabled or plaintext is empty.
func (s *Store) Encrypt(plaintext string) (string, error) {
	if !s.enabled || plaintext == "" {
		return plaintext, nil
	}

	key, err := s.loadOrCreateKey()
	if err != nil {
		return "", err
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}

	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := aead.Seal(nil, nonce, []byte(plaintext), nil)
	blob := make([]byte, 0, nonceLen+len(ciphertext))
	blob = append(blob, nonce...)
	blob = append(blob, ciphertext...)

	return enc2Prefix + hex.EncodeToString(blob), nil
}

// Decrypt reverses Encrypt. Values with no recognized prefix pass through
// unchanged (plaintext configs). The "enc:" legacy XOR format is supported
// read-only for migration.
func (s *Store) Decrypt(value string) (string, error) {
	switch {
	case len(value) >= len(enc2Prefix) && value[:len(enc2Prefix)] == enc2Prefix:
		return s.decryptAEAD(value[len(enc2Prefix):])
	case len(value) >= len(encPrefix) && value[:len(encPrefix)] == encPrefix:
		return s.decryptLegacyXOR(value[len(encPrefix):])
	default:
		return value, nil
	}
}

func (s *Store) decryptAEAD(hexBlob string) (string, error) {
	blob, err := hex.DecodeString(hexBlob)
	if err != nil {
		return "", fmt.Errorf("decode encrypted secret (corrupt hex): %w", err)
	}
	if len(blob) <= nonceLen {
		return "", errors.New("encrypted value too short (missing nonce)")
	}

	nonce, ciphertext := blob[:nonceLen], blob[nonceLen:]

	key, err := s.loadOrCreateKey()
	if err != nil {
		return "", err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", errors.New("decryption failed: wrong key or tampered data")
	}
	return string(plaintext), nil
}

func (s *Store) decryptLegacyXOR(hexBlob string) (string, error) {
	ciphertext, err := hex.DecodeString(hexBlob)
	if err != nil {
		return "", fmt.Errorf("decode legacy encrypted secret (corrupt hex): %w", err)
	}
	key, err := s.loadOrCreateKey()
	if err != nil {
		return "", err
	}
	return string(xorCipher(ciphertext, key)), nil
}

// xorCipher XORs data with a repeating key. Symmetric: same function
// encrypts and decrypts.
func xorCipher(data, key []byte) []byte {
	if len(key) == 0 {
		out := make([]byte, len(data))
		copy(out, data)
		return out
	}
	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = b ^ key[i%len(key)]
	}
	return out
}

func (s *Store) loadOrCreateKey() ([]byte, error) {
	if _, err := os.Stat(s.keyPath); err == nil {
		hexKey, err := os.ReadFile(s.keyPath)
		if err != nil {
			return nil, fmt.Errorf("read secret key file: %w", err)
		}
		key, err := hex.DecodeString(trimNewline(string(hexKey)))
		if err != nil {
			return nil, fmt.Errorf("secret key file is corrupt: %w", err)
		}
		return key, nil
	}

	key := make([]byte, keyLen)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}

	if dir := filepath.Dir(s.keyPath); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create secret key dir: %w", err)
		}
	}
	if err := os.WriteFile(s.keyPath, []byte(hex.EncodeToString(key)), 0o600); err != nil {
		return nil, fmt.Errorf("write secret key file: %w", err)
	}
	if err := os.Chmod(s.keyPath, 0o600); err != nil {
		return nil, fmt.Errorf("set key file permissions: %w", err)
	}

	return key, nil
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

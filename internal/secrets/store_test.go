package secrets

import (
	"encoding/hex"
	"os"
	"strings"
	"testing"
)

func TestEncryptDecryptRoundtrip(t *testing.T) {
	dir := t.TempDir()
	store := New(dir, true)
	secret := "sk-my-secret-api-key-12345"

	encrypted, err := store.Encrypt(secret)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if !strings.HasPrefix(encrypted, enc2Prefix) {
		t.Fatalf("expected enc2: prefix, got %q", encrypted)
	}
	if encrypted == secret {
		t.Fatal("ciphertext should not equal plaintext")
	}

	decrypted, err := store.Decrypt(encrypted)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if decrypted != secret {
		t.Fatalf("roundtrip mismatch: got %q want %q", decrypted, secret)
	}
}

func TestEncryptEmptyReturnsEmpty(t *testing.T) {
	store := New(t.TempDir(), true)
	got, err := store.Encrypt("")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if got != "" {
		t.Fatalf("expected empty result, got %q", got)
	}
}

func TestDecryptPlaintextPassthrough(t *testing.T) {
	store := New(t.TempDir(), true)
	got, err := store.Decrypt("sk-plaintext-key")
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if got != "sk-plaintext-key" {
		t.Fatalf("expected passthrough, got %q", got)
	}
}

func TestDisabledStoreReturnsPlaintext(t *testing.T) {
	store := New(t.TempDir(), false)
	got, err := store.Encrypt("sk-secret")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if got != "sk-secret" {
		t.Fatalf("disabled store should not encrypt, got %q", got)
	}
}

func TestIsEncryptedDetectsPrefix(t *testing.T) {
	cases := map[string]bool{
		"enc2:aabbcc":  true,
		"enc:aabbcc":   true,
		"sk-plaintext": false,
		"":             false,
	}
	for value, want := range cases {
		if got := IsEncrypted(value); got != want {
			t.Errorf("IsEncrypted(%q) = %v, want %v", value, got, want)
		}
	}
}

func TestKeyFileCreatedOnFirstEncrypt(t *testing.T) {
	dir := t.TempDir()
	store := New(dir, true)
	if _, err := os.Stat(store.keyPath); err == nil {
		t.Fatal("key file should not exist yet")
	}

	if _, err := store.Encrypt("test"); err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	info, err := os.Stat(store.keyPath)
	if err != nil {
		t.Fatalf("key file should exist: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("key file perms = %v, want 0600", info.Mode().Perm())
	}

	hexKey, err := os.ReadFile(store.keyPath)
	if err != nil {
		t.Fatalf("read key file: %v", err)
	}
	if len(hexKey) != keyLen*2 {
		t.Fatalf("key hex length = %d, want %d", len(hexKey), keyLen*2)
	}
}

func TestEncryptingSameValueProducesDifferentCiphertext(t *testing.T) {
	store := New(t.TempDir(), true)
	e1, err := store.Encrypt("secret")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	e2, err := store.Encrypt("secret")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if e1 == e2 {
		t.Fatal("AEAD with random nonce should produce different ciphertext each time")
	}

	for _, enc := range []string{e1, e2} {
		dec, err := store.Decrypt(enc)
		if err != nil {
			t.Fatalf("Decrypt: %v", err)
		}
		if dec != "secret" {
			t.Fatalf("Decrypt(%q) = %q, want secret", enc, dec)
		}
	}
}

func TestDifferentStoresSameDirInterop(t *testing.T) {
	dir := t.TempDir()
	s1 := New(dir, true)
	s2 := New(dir, true)

	encrypted, err := s1.Encrypt("cross-store-secret")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	decrypted, err := s2.Decrypt(encrypted)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if decrypted != "cross-store-secret" {
		t.Fatalf("got %q", decrypted)
	}
}

func TestUnicodeSecretRoundtrip(t *testing.T) {
	store := New(t.TempDir(), true)
	secret := "sk-日本語テスト-émojis-🦀"
	encrypted, err := store.Encrypt(secret)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	decrypted, err := store.Decrypt(encrypted)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if decrypted != secret {
		t.Fatalf("got %q want %q", decrypted, secret)
	}
}

func TestCorruptHexReturnsError(t *testing.T) {
	store := New(t.TempDir(), true)
	if _, err := store.Decrypt("enc2:not-valid-hex!!"); err == nil {
		t.Fatal("expected error for corrupt hex")
	}
}

func TestTamperedCiphertextDetected(t *testing.T) {
	store := New(t.TempDir(), true)
	encrypted, err := store.Encrypt("sensitive-data")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	hexPart := encrypted[len(enc2Prefix):]
	blob, err := hex.DecodeString(hexPart)
	if err != nil {
		t.Fatalf("hex decode: %v", err)
	}
	if len(blob) > nonceLen {
		blob[nonceLen] ^= 0xff
	}
	tampered := enc2Prefix + hex.EncodeToString(blob)

	if _, err := store.Decrypt(tampered); err == nil {
		t.Fatal("tampered ciphertext must be rejected")
	}
}

func TestWrongKeyDetected(t *testing.T) {
	s1 := New(t.TempDir(), true)
	s2 := New(t.TempDir(), true)

	encrypted, err := s1.Encrypt("secret-for-store1")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := s2.Decrypt(encrypted); err == nil {
		t.Fatal("decrypting with a different key must fail")
	}
}

func TestTruncatedCiphertextReturnsError(t *testing.T) {
	store := New(t.TempDir(), true)
	if _, err := store.Decrypt("enc2:aabbccdd"); err == nil {
		t.Fatal("too-short ciphertext must be rejected")
	}
}

func TestLegacyXORDecryptStillWorks(t *testing.T) {
	store := New(t.TempDir(), true)
	if _, err := store.Encrypt("setup"); err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	key, err := store.loadOrCreateKey()
	if err != nil {
		t.Fatalf("loadOrCreateKey: %v", err)
	}

	plaintext := "sk-legacy-api-key"
	ciphertext := xorCipher([]byte(plaintext), key)
	legacyValue := encPrefix + hex.EncodeToString(ciphertext)

	decrypted, err := store.Decrypt(legacyValue)
	if err != nil {
		t.Fatalf("Decrypt legacy: %v", err)
	}
	if decrypted != plaintext {
		t.Fatalf("got %q want %q", decrypted, plaintext)
	}
}

func TestXORCipherRoundtrip(t *testing.T) {
	key := []byte("testkey123")
	data := []byte("hello world")
	encrypted := xorCipher(data, key)
	decrypted := xorCipher(encrypted, key)
	if string(decrypted) != string(data) {
		t.Fatalf("got %q want %q", decrypted, data)
	}
}

func TestXORCipherEmptyKey(t *testing.T) {
	data := []byte("passthrough")
	result := xorCipher(data, nil)
	if string(result) != string(data) {
		t.Fatalf("got %q want %q", result, data)
	}
}


// Package secretbox encrypts tenant credentials at rest with AES-256-GCM.
// The master key comes from TENORA_ENCRYPTION_KEY: base64 or hex of 32 bytes
// is used directly, anything else is stretched to 32 bytes with PBKDF2. When
// the variable is unset the registry stores credentials in plaintext; that
// degradation is deliberate and logged by the callers, never silent.
package secretbox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// EnvKey names the environment variable carrying the master key.
	EnvKey = "TENORA_ENCRYPTION_KEY"

	nonceSizeGCM      = 12  // AES-GCM nonce size recomendado (96 bits)
	requiredKeyLength = 32  // 32 bytes => AES-256
	sep               = "|" // nonce|ciphertext (ambos en base64)

	kdfIterations = 10000
	kdfSalt       = "tenora.credentials.v1"
)

var (
	ErrNoKey         = errors.New("secretbox: " + EnvKey + " not set")
	ErrBadCiphertext = errors.New("secretbox: invalid ciphertext format, want base64(nonce)|base64(ciphertext)")
)

var (
	mu        sync.RWMutex
	masterKey []byte
	loaded    bool
	loadErr   error
)

// deriveKey turns the raw env value into a 32-byte AES key. Exact-length
// base64/hex encodings are used verbatim so keys generated with
// `openssl rand -base64 32` keep working; anything else is treated as a
// passphrase and stretched.
func deriveKey(raw string) []byte {
	raw = strings.TrimSpace(raw)
	if b, err := base64.StdEncoding.DecodeString(raw); err == nil && len(b) == requiredKeyLength {
		return b
	}
	if b, err := base64.RawStdEncoding.DecodeString(raw); err == nil && len(b) == requiredKeyLength {
		return b
	}
	if len(raw) == 2*requiredKeyLength {
		if b, err := hex.DecodeString(raw); err == nil {
			return b
		}
	}
	return pbkdf2.Key([]byte(raw), []byte(kdfSalt), kdfIterations, requiredKeyLength, sha256.New)
}

func ensureLoaded() error {
	mu.Lock()
	defer mu.Unlock()
	if loaded {
		return loadErr
	}
	loaded = true
	raw := strings.TrimSpace(os.Getenv(EnvKey))
	if raw == "" {
		loadErr = ErrNoKey
		return loadErr
	}
	masterKey = deriveKey(raw)
	return nil
}

// Ready reports whether a master key is available without attempting a load
// side effect twice.
func Ready() bool {
	return ensureLoaded() == nil
}

// Encrypt seals plaintext and returns base64(nonce)|base64(ciphertext).
func Encrypt(plaintext string) (string, error) {
	if err := ensureLoaded(); err != nil {
		return "", err
	}
	mu.RLock()
	key := append([]byte(nil), masterKey...)
	mu.RUnlock()
	return encryptWith(key, plaintext)
}

// Decrypt opens ciphertext produced by Encrypt using the env-derived key.
func Decrypt(ciphertext string) (string, error) {
	if err := ensureLoaded(); err != nil {
		return "", err
	}
	mu.RLock()
	key := append([]byte(nil), masterKey...)
	mu.RUnlock()
	return decryptWith(key, ciphertext)
}

// DecryptWithKey opens ciphertext with an explicit key value, accepted in the
// same encodings as the environment variable.
func DecryptWithKey(key, ciphertext string) (string, error) {
	return decryptWith(deriveKey(key), ciphertext)
}

func encryptWith(key []byte, plaintext string) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("aes.NewCipher: %w", err)
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("cipher.NewGCM: %w", err)
	}
	nonce := make([]byte, nonceSizeGCM)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("nonce random: %w", err)
	}
	ct := aesgcm.Seal(nil, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(nonce) + sep + base64.StdEncoding.EncodeToString(ct), nil
}

func decryptWith(key []byte, ciphertext string) (string, error) {
	parts := strings.Split(ciphertext, sep)
	if len(parts) != 2 {
		return "", ErrBadCiphertext
	}
	nonce, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("decode nonce: %w", err)
	}
	ct, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	if len(nonce) != nonceSizeGCM {
		return "", fmt.Errorf("secretbox: nonce must be %d bytes, got %d", nonceSizeGCM, len(nonce))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("aes.NewCipher: %w", err)
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("cipher.NewGCM: %w", err)
	}
	pt, err := aesgcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", fmt.Errorf("secretbox: open: %w", err)
	}
	return string(pt), nil
}

// UnsafeResetForTests drops the cached key so tests can switch env values.
func UnsafeResetForTests() {
	mu.Lock()
	defer mu.Unlock()
	masterKey = nil
	loaded = false
	loadErr = nil
}

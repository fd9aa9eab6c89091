package secretbox

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func setKey(t *testing.T, raw []byte) {
	t.Helper()
	UnsafeResetForTests()
	t.Setenv(EnvKey, base64.StdEncoding.EncodeToString(raw))
	t.Cleanup(UnsafeResetForTests)
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = byte(i + 1)
	}
	setKey(t, raw)

	msg := "hunter2 ✓ with unicode"
	ct, err := Encrypt(msg)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if ct == msg {
		t.Fatal("ciphertext equals plaintext")
	}
	pt, err := Decrypt(ct)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if pt != msg {
		t.Fatalf("round trip mismatch: %q", pt)
	}
}

func TestDecrypt_DetectsTamper(t *testing.T) {
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = byte(255 - i)
	}
	setKey(t, raw)

	ct, err := Encrypt("top secret")
	if err != nil {
		t.Fatal(err)
	}
	parts := strings.Split(ct, "|")
	bs, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		t.Fatal(err)
	}
	bs[0] ^= 0xff
	tampered := parts[0] + "|" + base64.StdEncoding.EncodeToString(bs)
	if _, err := Decrypt(tampered); err == nil {
		t.Fatal("tampered ciphertext decrypted")
	}
}

func TestEncrypt_NoKey(t *testing.T) {
	UnsafeResetForTests()
	t.Setenv(EnvKey, "")
	t.Cleanup(UnsafeResetForTests)
	if _, err := Encrypt("x"); !errors.Is(err, ErrNoKey) {
		t.Fatalf("want ErrNoKey, got %v", err)
	}
	if Ready() {
		t.Fatal("Ready should be false without a key")
	}
}

func TestPassphraseDerivation(t *testing.T) {
	UnsafeResetForTests()
	t.Setenv(EnvKey, "correct horse battery staple")
	t.Cleanup(UnsafeResetForTests)

	ct, err := Encrypt("value")
	if err != nil {
		t.Fatalf("Encrypt with passphrase: %v", err)
	}
	pt, err := Decrypt(ct)
	if err != nil {
		t.Fatalf("Decrypt with passphrase: %v", err)
	}
	if pt != "value" {
		t.Fatalf("round trip mismatch: %q", pt)
	}

	// Same passphrase through the explicit-key path.
	pt, err = DecryptWithKey("correct horse battery staple", ct)
	if err != nil || pt != "value" {
		t.Fatalf("DecryptWithKey: %q, %v", pt, err)
	}
}

func TestDecrypt_BadFormat(t *testing.T) {
	raw := make([]byte, 32)
	setKey(t, raw)
	if _, err := Decrypt("not-a-ciphertext"); !errors.Is(err, ErrBadCiphertext) {
		t.Fatalf("want ErrBadCiphertext, got %v", err)
	}
}

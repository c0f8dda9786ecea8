package security

import (
	"bytes"
	"errors"
	"testing"
)

func TestTokenCipher_RoundTrip(t *testing.T) {
	c, err := NewTokenCipher("operator secret")
	if err != nil {
		t.Fatalf("NewTokenCipher: %v", err)
	}
	plaintext := []byte("ya29.a0AfH6-opaque-access-token")

	sealed, err := c.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if bytes.Contains(sealed, plaintext) {
		t.Error("ciphertext contains plaintext")
	}
	got, err := c.Decrypt(sealed)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("Decrypt = %q, want %q", got, plaintext)
	}
}

func TestTokenCipher_NoncePerCall(t *testing.T) {
	c, err := NewTokenCipher("operator secret")
	if err != nil {
		t.Fatalf("NewTokenCipher: %v", err)
	}
	a, _ := c.Encrypt([]byte("same plaintext"))
	b, _ := c.Encrypt([]byte("same plaintext"))
	if bytes.Equal(a, b) {
		t.Error("two encryptions of the same plaintext produced identical ciphertexts")
	}
}

func TestTokenCipher_RejectsTampered(t *testing.T) {
	c, err := NewTokenCipher("operator secret")
	if err != nil {
		t.Fatalf("NewTokenCipher: %v", err)
	}
	sealed, _ := c.Encrypt([]byte("token"))
	sealed[len(sealed)-1] ^= 0x01

	if _, err := c.Decrypt(sealed); !errors.Is(err, ErrCiphertextInvalid) {
		t.Errorf("Decrypt tampered = %v, want ErrCiphertextInvalid", err)
	}
}

func TestTokenCipher_RejectsShortInput(t *testing.T) {
	c, err := NewTokenCipher("operator secret")
	if err != nil {
		t.Fatalf("NewTokenCipher: %v", err)
	}
	if _, err := c.Decrypt([]byte{0x01, 0x02}); !errors.Is(err, ErrCiphertextInvalid) {
		t.Errorf("Decrypt short = %v, want ErrCiphertextInvalid", err)
	}
}

func TestTokenCipher_WrongSecret(t *testing.T) {
	a, _ := NewTokenCipher("secret a")
	b, _ := NewTokenCipher("secret b")
	sealed, _ := a.Encrypt([]byte("token"))

	if _, err := b.Decrypt(sealed); !errors.Is(err, ErrCiphertextInvalid) {
		t.Errorf("Decrypt with wrong secret = %v, want ErrCiphertextInvalid", err)
	}
}

func TestNewTokenCipher_EmptySecret(t *testing.T) {
	if _, err := NewTokenCipher(""); err == nil {
		t.Error("NewTokenCipher with empty secret should fail")
	}
}

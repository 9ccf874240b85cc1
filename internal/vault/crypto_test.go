package vault

import "testing"

func TestCipher_RoundTrip(t *testing.T) {
	c, err := NewCipher("master-key")
	if err != nil {
		t.Fatalf("NewCipher() err=%v", err)
	}

	encrypted, err := c.Encrypt("sk-very-secret")
	if err != nil {
		t.Fatalf("Encrypt() err=%v", err)
	}
	if encrypted == "sk-very-secret" {
		t.Fatalf("ciphertext equals plaintext")
	}

	plaintext, err := c.Decrypt(encrypted)
	if err != nil {
		t.Fatalf("Decrypt() err=%v", err)
	}
	if plaintext != "sk-very-secret" {
		t.Fatalf("plaintext=%q, want sk-very-secret", plaintext)
	}
}

func TestCipher_NonDeterministic(t *testing.T) {
	c, err := NewCipher("master-key")
	if err != nil {
		t.Fatalf("NewCipher() err=%v", err)
	}

	a, err := c.Encrypt("value")
	if err != nil {
		t.Fatalf("Encrypt() err=%v", err)
	}
	b, err := c.Encrypt("value")
	if err != nil {
		t.Fatalf("Encrypt() err=%v", err)
	}
	if a == b {
		t.Fatalf("two encryptions of the same value must differ")
	}
}

func TestCipher_WrongKeyFails(t *testing.T) {
	c1, err := NewCipher("key-one")
	if err != nil {
		t.Fatalf("NewCipher() err=%v", err)
	}
	c2, err := NewCipher("key-two")
	if err != nil {
		t.Fatalf("NewCipher() err=%v", err)
	}

	encrypted, err := c1.Encrypt("value")
	if err != nil {
		t.Fatalf("Encrypt() err=%v", err)
	}
	if _, err := c2.Decrypt(encrypted); err == nil {
		t.Fatalf("decrypt with a different key must fail")
	}
}

func TestNewCipher_EmptyKey(t *testing.T) {
	if _, err := NewCipher("  "); err == nil {
		t.Fatalf("expected error for blank master key")
	}
}

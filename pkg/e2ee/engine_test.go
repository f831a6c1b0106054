package e2ee_test

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/Cr0wn-Gh0ul/GhostChannel/pkg/e2ee"
)

func TestDeriveKeyCommutative(t *testing.T) {
	alice, err := e2ee.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate alice: %v", err)
	}
	bob, err := e2ee.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate bob: %v", err)
	}

	fromAlice, err := e2ee.DeriveKey(alice.Private, bob.Public)
	if err != nil {
		t.Fatalf("derive from alice: %v", err)
	}
	fromBob, err := e2ee.DeriveKey(bob.Private, alice.Public)
	if err != nil {
		t.Fatalf("derive from bob: %v", err)
	}
	if fromAlice != fromBob {
		t.Fatalf("derived keys differ:\n  alice: %x\n  bob:   %x", fromAlice, fromBob)
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	alice, _ := e2ee.GenerateKeyPair()
	bob, _ := e2ee.GenerateKeyPair()
	key, err := e2ee.DeriveKey(alice.Private, bob.Public)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}

	plaintext := []byte("meet me at the usual place")
	ciphertext, nonce, err := e2ee.Encrypt(plaintext, key)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if bytes.Equal(ciphertext, plaintext) {
		t.Fatalf("ciphertext equals plaintext")
	}

	got, err := e2ee.Decrypt(ciphertext, nonce, key)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("round trip mismatch: got %q", got)
	}
}

func TestDecryptWrongKeyFails(t *testing.T) {
	alice, _ := e2ee.GenerateKeyPair()
	bob, _ := e2ee.GenerateKeyPair()
	eve, _ := e2ee.GenerateKeyPair()

	key, _ := e2ee.DeriveKey(alice.Private, bob.Public)
	wrong, _ := e2ee.DeriveKey(eve.Private, bob.Public)

	ciphertext, nonce, err := e2ee.Encrypt([]byte("secret"), key)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	if _, err := e2ee.Decrypt(ciphertext, nonce, wrong); err == nil {
		t.Fatalf("expected decryption failure with wrong key")
	} else if err != e2ee.ErrDecryptionFailed {
		t.Fatalf("expected ErrDecryptionFailed, got %v", err)
	}
}

func TestDecryptRejectsShortNonce(t *testing.T) {
	alice, _ := e2ee.GenerateKeyPair()
	bob, _ := e2ee.GenerateKeyPair()
	key, _ := e2ee.DeriveKey(alice.Private, bob.Public)

	ciphertext, _, err := e2ee.Encrypt([]byte("secret"), key)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := e2ee.Decrypt(ciphertext, []byte("short"), key); err != e2ee.ErrMissingNonce {
		t.Fatalf("expected ErrMissingNonce, got %v", err)
	}
}

func TestEncryptFreshNoncePerMessage(t *testing.T) {
	alice, _ := e2ee.GenerateKeyPair()
	bob, _ := e2ee.GenerateKeyPair()
	key, _ := e2ee.DeriveKey(alice.Private, bob.Public)

	_, n1, err := e2ee.Encrypt([]byte("same plaintext"), key)
	if err != nil {
		t.Fatalf("encrypt 1: %v", err)
	}
	_, n2, err := e2ee.Encrypt([]byte("same plaintext"), key)
	if err != nil {
		t.Fatalf("encrypt 2: %v", err)
	}
	if bytes.Equal(n1, n2) {
		t.Fatalf("nonce reused across messages")
	}
}

func TestDeterministicRandom(t *testing.T) {
	restore := e2ee.UseDeterministicRandom(rand.New(rand.NewSource(42)))
	kp1, err := e2ee.GenerateKeyPair()
	restore()
	if err != nil {
		t.Fatalf("generate 1: %v", err)
	}

	restore = e2ee.UseDeterministicRandom(rand.New(rand.NewSource(42)))
	kp2, err := e2ee.GenerateKeyPair()
	restore()
	if err != nil {
		t.Fatalf("generate 2: %v", err)
	}

	if kp1.Private != kp2.Private || kp1.Public != kp2.Public {
		t.Fatalf("same seed produced different key pairs")
	}
}

func TestKeyEncoding(t *testing.T) {
	kp, _ := e2ee.GenerateKeyPair()
	encoded := e2ee.EncodeKey(kp.Public)
	decoded, err := e2ee.DecodeKey(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded != kp.Public {
		t.Fatalf("encode/decode mismatch")
	}

	if _, err := e2ee.DecodeKey("not base64!!"); err != e2ee.ErrInvalidKey {
		t.Fatalf("expected ErrInvalidKey for garbage, got %v", err)
	}
	if _, err := e2ee.DecodeKey("c2hvcnQ="); err != e2ee.ErrInvalidKey {
		t.Fatalf("expected ErrInvalidKey for wrong length, got %v", err)
	}
}

// Package e2ee is the client-resident encryption engine. The server relays the
// ciphertext this package produces but can never read it: key agreement runs
// between device key pairs whose private halves stay on the clients.
package e2ee

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const hkdfInfoShared = "GhostChannel-E2EE"

var (
	randMu        sync.RWMutex
	randomnessSrc io.Reader = randReader{}
)

// randReader wraps crypto/rand.Reader but keeps the type unexported so tests
// can substitute deterministic sources.
type randReader struct{}

func (randReader) Read(p []byte) (int, error) {
	return rand.Read(p)
}

// UseDeterministicRandom swaps the randomness source for deterministic testing
// and returns a restore function that must be called when the test completes.
func UseDeterministicRandom(r io.Reader) func() {
	randMu.Lock()
	prev := randomnessSrc
	randomnessSrc = r
	randMu.Unlock()
	return func() {
		randMu.Lock()
		randomnessSrc = prev
		randMu.Unlock()
	}
}

func readRandom(b []byte) error {
	randMu.RLock()
	src := randomnessSrc
	randMu.RUnlock()
	_, err := io.ReadFull(src, b)
	return err
}

type KeyPair struct {
	Private [32]byte
	Public  [32]byte
}

// GenerateKeyPair creates a fresh X25519 key-exchange pair for one device.
func GenerateKeyPair() (KeyPair, error) {
	var priv [32]byte
	if err := readRandom(priv[:]); err != nil {
		return KeyPair{}, err
	}
	priv[0] &= 248
	priv[31] &= 127
	priv[31] |= 64
	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return KeyPair{}, err
	}
	var kp KeyPair
	kp.Private = priv
	copy(kp.Public[:], pub)
	return kp, nil
}

// DeriveKey computes the shared symmetric key between a local private key and a
// peer public key. It is commutative: both devices derive byte-identical keys
// from their own private half and the other's public half.
func DeriveKey(private, peerPublic [32]byte) ([32]byte, error) {
	dh, err := curve25519.X25519(private[:], peerPublic[:])
	if err != nil {
		return [32]byte{}, err
	}
	hk := hkdf.New(sha256.New, dh, nil, []byte(hkdfInfoShared))
	var key [32]byte
	if _, err := io.ReadFull(hk, key[:]); err != nil {
		return [32]byte{}, err
	}
	return key, nil
}

// Encrypt seals the plaintext under the shared key. The nonce is generated
// here, at encrypt time, and never cached: reuse with the same key would break
// the AEAD, so there is structurally no path that supplies one.
func Encrypt(plaintext []byte, key [32]byte) (ciphertext, nonce []byte, err error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, nil, err
	}
	nonce = make([]byte, chacha20poly1305.NonceSize)
	if err := readRandom(nonce); err != nil {
		return nil, nil, err
	}
	ciphertext = aead.Seal(nil, nonce, plaintext, nil)
	return ciphertext, nonce, nil
}

// Decrypt opens authenticated ciphertext. A wrong key always fails with
// ErrDecryptionFailed, never silently yields wrong plaintext.
func Decrypt(ciphertext, nonce []byte, key [32]byte) ([]byte, error) {
	if len(nonce) != chacha20poly1305.NonceSize {
		return nil, ErrMissingNonce
	}
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// EncodeKey renders key material the way it crosses the wire.
func EncodeKey(key [32]byte) string {
	return base64.StdEncoding.EncodeToString(key[:])
}

func DecodeKey(s string) ([32]byte, error) {
	var key [32]byte
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return key, ErrInvalidKey
	}
	if len(raw) != 32 {
		return key, ErrInvalidKey
	}
	copy(key[:], raw)
	return key, nil
}

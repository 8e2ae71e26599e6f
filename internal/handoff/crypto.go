package handoff

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/pbkdf2"

	domain "formgate/pkg/domain"
)

const (
	keyIterations = 100000
	keyLength     = 32
	nonceLength   = 12
)

// keySalt is deliberately fixed: uniqueness of derived keys comes from the
// per-session secret, and a stable salt keeps key derivation reproducible
// across instances for the same session.
var keySalt = []byte("formgate/payload-bridge/v2")

// KeyProvider yields the per-session stash secret the envelope key is derived
// from. Returning sentinel.ErrNotFound or an empty secret signals that sealed
// envelopes cannot be produced or opened for this session.
type KeyProvider interface {
	StashSecret(ctx context.Context, sessionID domain.SessionID) ([]byte, error)
}

// deriveKey stretches the per-session secret into an AES-256 key.
func deriveKey(secret []byte) []byte {
	return pbkdf2.Key(secret, keySalt, keyIterations, keyLength, sha256.New)
}

// seal encrypts plaintext with AES-256-GCM under a fresh random nonce.
func seal(key, plaintext []byte) (nonce, ciphertext []byte, err error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, fmt.Errorf("init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, fmt.Errorf("init gcm: %w", err)
	}
	nonce = make([]byte, nonceLength)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("generate nonce: %w", err)
	}
	return nonce, gcm.Seal(nil, nonce, plaintext, nil), nil
}

// open decrypts and authenticates a sealed envelope body. Any tampering with
// nonce or ciphertext fails authentication.
func open(key, nonce, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("bad nonce length %d", len(nonce))
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("open envelope: %w", err)
	}
	return plaintext, nil
}

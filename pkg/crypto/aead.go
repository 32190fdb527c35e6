package crypto

import (
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

var (
	ErrEncryptionFailed = errors.New("encryption failed")
	ErrDecryptionFailed = errors.New("decryption failed")
)

// counterNonce builds a 12-byte ChaCha20-Poly1305 nonce from a packet
// counter. The counter must be unique per encryption under a given key;
// sessions guarantee this by incrementing it for every packet.
func counterNonce(counter uint64) []byte {
	nonce := make([]byte, chacha20poly1305.NonceSize)
	binary.BigEndian.PutUint64(nonce[4:], counter)
	return nonce
}

// Encrypt seals plaintext under key with the given packet counter using
// ChaCha20-Poly1305.
func Encrypt(key []byte, counter uint64, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	return aead.Seal(nil, counterNonce(counter), plaintext, nil), nil
}

// Decrypt opens ciphertext sealed by Encrypt. Any tampering, key
// mismatch, or counter mismatch fails the integrity check and returns
// ErrDecryptionFailed with no partial output.
func Decrypt(key []byte, counter uint64, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	plaintext, err := aead.Open(nil, counterNonce(counter), ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

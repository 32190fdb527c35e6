package crypto

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// ParsePublicKey decodes a hex-encoded public key, the form keys take
// in flags and over the admin API.
func ParsePublicKey(s string) (PublicKey, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return PublicKey{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(raw) != PublicKeySize {
		return PublicKey{}, fmt.Errorf("%w: %d bytes, want %d", ErrInvalidKey, len(raw), PublicKeySize)
	}

	var pub PublicKey
	copy(pub[:], raw)
	return pub, nil
}

// SaveSignKeyPair writes the pair's private key to path, readable only
// by the owner.
func SaveSignKeyPair(kp KeyPair, path string) error {
	if !kp.HasPrivate() {
		return ErrNoPrivateKey
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(hex.EncodeToString(kp.private[:])), 0600)
}

// LoadSignKeyPair reads a private key written by SaveSignKeyPair.
func LoadSignKeyPair(path string) (KeyPair, error) {
	if err := Init(); err != nil {
		return KeyPair{}, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return KeyPair{}, err
	}

	raw, err := hex.DecodeString(string(data))
	if err != nil {
		return KeyPair{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(raw) != PrivateKeySize {
		return KeyPair{}, fmt.Errorf("%w: %d bytes, want %d", ErrInvalidKey, len(raw), PrivateKeySize)
	}

	kp := KeyPair{private: new(PrivateKey)}
	copy(kp.private[:], raw)
	// The Ed25519 private key embeds the public half in its last 32 bytes.
	copy(kp.Public[:], raw[PrivateKeySize-PublicKeySize:])
	return kp, nil
}

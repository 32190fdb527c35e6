package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
)

// Key sizes, fixed by Ed25519.
const (
	PublicKeySize  = ed25519.PublicKeySize
	PrivateKeySize = ed25519.PrivateKeySize
	SignatureSize  = ed25519.SignatureSize
)

var (
	ErrInvalidKey   = errors.New("invalid key")
	ErrNoPrivateKey = errors.New("key pair holds no private key")
)

// PublicKey is a distributable Ed25519 public key.
type PublicKey [PublicKeySize]byte

// PrivateKey is an Ed25519 private key. It never leaves the process
// that generated it.
type PrivateKey [PrivateKeySize]byte

// Signature is an Ed25519 signature.
type Signature [SignatureSize]byte

// KeyPair holds a long-term signing key. A pair built from a public
// key alone (a view of a remote peer's identity) can verify but any
// signing attempt fails with ErrNoPrivateKey.
type KeyPair struct {
	Public  PublicKey
	private *PrivateKey
}

// NewPublicKeyView returns a KeyPair holding only the given public key.
func NewPublicKeyView(pub PublicKey) KeyPair {
	return KeyPair{Public: pub}
}

// HasPrivate reports whether the pair can produce signatures.
func (kp KeyPair) HasPrivate() bool {
	return kp.private != nil
}

// GenerateSignKeyPair generates a new long-term Ed25519 signing key
// pair. It fails if the crypto subsystem failed to initialize.
func GenerateSignKeyPair() (KeyPair, error) {
	if err := Init(); err != nil {
		return KeyPair{}, err
	}
	return generateSignKeyPair()
}

func generateSignKeyPair() (KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, err
	}

	kp := KeyPair{private: new(PrivateKey)}
	copy(kp.Public[:], pub)
	copy(kp.private[:], priv)
	return kp, nil
}

// Sign signs message with the pair's private key.
func Sign(kp KeyPair, message []byte) (Signature, error) {
	if !kp.HasPrivate() {
		return Signature{}, ErrNoPrivateKey
	}

	var sig Signature
	copy(sig[:], ed25519.Sign(kp.private[:], message))
	return sig, nil
}

// Verify reports whether sig is a valid signature of message under pub.
func Verify(pub PublicKey, message []byte, sig Signature) bool {
	return ed25519.Verify(pub[:], message, sig[:])
}

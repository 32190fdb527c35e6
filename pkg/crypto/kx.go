package crypto

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/curve25519"
)

// Key-exchange sizes, fixed by X25519.
const (
	KXKeySize      = 32
	SessionKeySize = 32
)

// KXPublicKey is an ephemeral X25519 public key.
type KXPublicKey [KXKeySize]byte

// KXPrivateKey is an ephemeral X25519 private key.
type KXPrivateKey [KXKeySize]byte

// KXKeyPair is an ephemeral key-exchange pair, generated per handshake
// and discarded once session keys are derived.
type KXKeyPair struct {
	Public  KXPublicKey
	Private KXPrivateKey
}

// SessionKeys holds the directional symmetric keys of one session.
// The client's TX is the server's RX and vice versa.
type SessionKeys struct {
	RX []byte
	TX []byte
}

// Zero wipes the key material in place.
func (k *SessionKeys) Zero() {
	for i := range k.RX {
		k.RX[i] = 0
	}
	for i := range k.TX {
		k.TX[i] = 0
	}
}

// GenerateKXKeyPair generates a new ephemeral X25519 key pair.
func GenerateKXKeyPair() (KXKeyPair, error) {
	if err := Init(); err != nil {
		return KXKeyPair{}, err
	}
	return generateKXKeyPair()
}

func generateKXKeyPair() (KXKeyPair, error) {
	var kp KXKeyPair
	if _, err := rand.Read(kp.Private[:]); err != nil {
		return KXKeyPair{}, err
	}

	pub, err := curve25519.X25519(kp.Private[:], curve25519.Basepoint)
	if err != nil {
		return KXKeyPair{}, err
	}
	copy(kp.Public[:], pub)

	return kp, nil
}

// ClientSessionKeys derives the client side's directional session keys
// from the client's ephemeral pair and the server's ephemeral public
// key.
func ClientSessionKeys(local KXKeyPair, serverPub KXPublicKey) (SessionKeys, error) {
	sum, err := deriveSessionMaterial(local.Private, serverPub, local.Public, serverPub)
	if err != nil {
		return SessionKeys{}, err
	}

	return SessionKeys{
		RX: sum[:SessionKeySize],
		TX: sum[SessionKeySize:],
	}, nil
}

// ServerSessionKeys derives the server side's directional session keys.
// It mirrors ClientSessionKeys: the server's RX equals the client's TX.
func ServerSessionKeys(local KXKeyPair, clientPub KXPublicKey) (SessionKeys, error) {
	sum, err := deriveSessionMaterial(local.Private, clientPub, clientPub, local.Public)
	if err != nil {
		return SessionKeys{}, err
	}

	return SessionKeys{
		RX: sum[SessionKeySize:],
		TX: sum[:SessionKeySize],
	}, nil
}

// deriveSessionMaterial computes BLAKE2b-512(shared || clientPub || serverPub).
// Both sides hash the same transcript, so the 64-byte output splits into
// two mirrored 32-byte directional keys.
func deriveSessionMaterial(private KXPrivateKey, remote KXPublicKey, clientPub, serverPub KXPublicKey) ([]byte, error) {
	shared, err := curve25519.X25519(private[:], remote[:])
	if err != nil {
		return nil, fmt.Errorf("key exchange failed: %w", err)
	}

	h, err := blake2b.New512(nil)
	if err != nil {
		return nil, err
	}
	h.Write(shared)
	h.Write(clientPub[:])
	h.Write(serverPub[:])

	return h.Sum(nil), nil
}

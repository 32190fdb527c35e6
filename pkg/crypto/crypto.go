package crypto

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
)

var ErrInitFailed = errors.New("crypto initialization failed")

var (
	initOnce sync.Once
	initErr  error
)

// Init prepares the process-wide cryptographic state. It runs a
// self-test of every primitive the protocol depends on: sign/verify,
// key exchange with mirrored session-key derivation, and an AEAD
// round trip. The self-test runs once; subsequent calls return the
// cached result. Constructors that produce key material call Init and
// refuse to proceed if it failed.
func Init() error {
	initOnce.Do(func() {
		initErr = selfTest()
	})
	return initErr
}

func selfTest() error {
	message := []byte("obscuraproto crypto self-test")

	// Sign/verify round trip.
	signKeys, err := generateSignKeyPair()
	if err != nil {
		return fmt.Errorf("%w: sign keygen: %v", ErrInitFailed, err)
	}
	sig, err := Sign(signKeys, message)
	if err != nil {
		return fmt.Errorf("%w: sign: %v", ErrInitFailed, err)
	}
	if !Verify(signKeys.Public, message, sig) {
		return fmt.Errorf("%w: signature did not verify", ErrInitFailed)
	}

	// Key exchange: both sides must derive mirrored rx/tx keys.
	clientKX, err := generateKXKeyPair()
	if err != nil {
		return fmt.Errorf("%w: kx keygen: %v", ErrInitFailed, err)
	}
	serverKX, err := generateKXKeyPair()
	if err != nil {
		return fmt.Errorf("%w: kx keygen: %v", ErrInitFailed, err)
	}
	clientKeys, err := ClientSessionKeys(clientKX, serverKX.Public)
	if err != nil {
		return fmt.Errorf("%w: client session keys: %v", ErrInitFailed, err)
	}
	serverKeys, err := ServerSessionKeys(serverKX, clientKX.Public)
	if err != nil {
		return fmt.Errorf("%w: server session keys: %v", ErrInitFailed, err)
	}
	if !bytes.Equal(clientKeys.TX, serverKeys.RX) || !bytes.Equal(clientKeys.RX, serverKeys.TX) {
		return fmt.Errorf("%w: session keys are not mirrored", ErrInitFailed)
	}

	// AEAD round trip under the derived keys.
	ciphertext, err := Encrypt(clientKeys.TX, 1, message)
	if err != nil {
		return fmt.Errorf("%w: encrypt: %v", ErrInitFailed, err)
	}
	plaintext, err := Decrypt(serverKeys.RX, 1, ciphertext)
	if err != nil {
		return fmt.Errorf("%w: decrypt: %v", ErrInitFailed, err)
	}
	if !bytes.Equal(plaintext, message) {
		return fmt.Errorf("%w: AEAD round trip mismatch", ErrInitFailed)
	}

	clientKeys.Zero()
	serverKeys.Zero()
	return nil
}

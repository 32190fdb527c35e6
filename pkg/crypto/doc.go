// Package crypto provides the cryptographic capabilities used by the
// ObscuraProto core: long-term Ed25519 signing keys, ephemeral X25519
// key exchange, directional session-key derivation, and the
// ChaCha20-Poly1305 packet transform.
//
// The package must be initialized once per process with Init before any
// key material is generated. Init self-tests the primitives and its
// failure is fatal to the whole subsystem; there is no degraded mode.
//
// All primitives come from the Go standard library and
// golang.org/x/crypto. Nothing here implements a primitive from
// scratch.
package crypto

// Package network provides the connected endpoints of ObscuraProto:
// a Server that accepts WebSocket connections, a Client that dials one,
// an in-process transport for tests, and the opcode dispatcher that
// routes decrypted payloads to registered handlers.
//
// Both endpoints run the handshake from pkg/protocol on every new
// connection and refuse to carry traffic until it completes. After the
// handshake, each received packet is decrypted, decoded, and enqueued
// in arrival order; a single consumer goroutine per connection invokes
// handlers sequentially, so handlers for one connection never run
// concurrently with each other.
package network

// Package protocol implements the ObscuraProto wire protocol.
//
// The protocol package defines the payload codec, version negotiation,
// the handshake messages, and the session state machine used between an
// ObscuraProto server and its clients.
//
// # Protocol Overview
//
// ObscuraProto is a secure, versioned, opcode-multiplexed messaging
// protocol with the following features:
//   - Self-describing binary payloads: an opcode plus an ordered
//     sequence of typed parameters
//   - A three-message handshake (ClientHello, ServerHello, client
//     finalize) that negotiates a protocol version and derives
//     directional session keys
//   - Server authentication through an Ed25519 signature over the
//     handshake transcript
//   - ChaCha20-Poly1305 packet encryption with a per-packet counter
//
// # Payload Format
//
// Payloads use binary encoding with big-endian byte order:
//
//	[opcode: u16][param_count: u16][param_0]...[param_n]
//
// Each parameter carries a type tag. Integer, unsigned, and float
// parameters additionally carry an explicit byte width (1/2/4/8 for
// integers, 4/8 for floats) chosen as the minimal width that losslessly
// represents the value at encode time. Strings and byte sequences are
// length-prefixed with a u32; booleans are a single byte.
//
// A parameter stored as an N-byte unsigned integer can be read back as
// the two's-complement signed reinterpretation of those N bytes, and
// vice versa. This is a required interoperability property of the
// protocol, not an error condition.
//
// # Handshake
//
// The client offers its supported versions and an ephemeral X25519 key
// in a ClientHello. The server selects the highest mutually supported
// version, derives session keys from the combined ephemeral exchange,
// and returns a ServerHello carrying its own ephemeral key and a
// signature over the transcript made with its long-term identity key.
// The client verifies the signature against the server's known public
// key and derives the mirrored session keys.
//
// # Sessions
//
// A Session is created with a role (client or server) and either a full
// long-term key pair (server) or a public-key view of the server's
// identity (client). It is mutated only by the three handshake calls
// and by EncryptPayload/DecryptPacket, and it is never reset: a failed
// or completed handshake is terminal for that instance. Callers must
// serialize access to a Session; it is not safe for concurrent use.
package protocol

package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/kretoffer/obscuraproto/pkg/crypto"
)

// ProtocolMagic prefixes every handshake message ("OBSC" in ASCII).
const ProtocolMagic uint32 = 0x4F425343

// Handshake message kinds.
const (
	msgClientHello byte = 0x01
	msgServerHello byte = 0x02
)

var (
	ErrInvalidMagic       = errors.New("handshake message carries the wrong magic")
	ErrInvalidHandshake   = errors.New("malformed handshake message")
	ErrUnexpectedHandshake = errors.New("unexpected handshake message kind")
)

// ClientHello is the handshake opener: the client's supported protocol
// versions and its ephemeral key-exchange public key.
type ClientHello struct {
	Versions  []Version
	Ephemeral crypto.KXPublicKey
}

// Encode serializes the hello:
//
//	[magic: u32][kind: u8][version_count: u16][versions: u16 each][ephemeral: 32]
func (h *ClientHello) Encode() []byte {
	buf := make([]byte, 0, 7+2*len(h.Versions)+crypto.KXKeySize)
	buf = binary.BigEndian.AppendUint32(buf, ProtocolMagic)
	buf = append(buf, msgClientHello)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(h.Versions)))
	for _, v := range h.Versions {
		buf = binary.BigEndian.AppendUint16(buf, uint16(v))
	}
	buf = append(buf, h.Ephemeral[:]...)
	return buf
}

// DecodeClientHello deserializes a ClientHello, validating the magic,
// the message kind, and that the message holds exactly the declared
// content.
func DecodeClientHello(buf []byte) (*ClientHello, error) {
	if len(buf) < 7 {
		return nil, fmt.Errorf("%w: %d bytes is too short for a client hello", ErrInvalidHandshake, len(buf))
	}
	if binary.BigEndian.Uint32(buf[0:4]) != ProtocolMagic {
		return nil, ErrInvalidMagic
	}
	if buf[4] != msgClientHello {
		return nil, fmt.Errorf("%w: kind 0x%02x", ErrUnexpectedHandshake, buf[4])
	}

	count := int(binary.BigEndian.Uint16(buf[5:7]))
	if count == 0 {
		return nil, fmt.Errorf("%w: client hello offers no versions", ErrInvalidHandshake)
	}
	want := 7 + 2*count + crypto.KXKeySize
	if len(buf) != want {
		return nil, fmt.Errorf("%w: client hello is %d bytes, want %d for %d versions", ErrInvalidHandshake, len(buf), want, count)
	}

	h := &ClientHello{Versions: make([]Version, count)}
	for i := 0; i < count; i++ {
		h.Versions[i] = Version(binary.BigEndian.Uint16(buf[7+2*i:]))
	}
	copy(h.Ephemeral[:], buf[7+2*count:])
	return h, nil
}

// ServerHello is the handshake response: the selected version, the
// server's ephemeral key-exchange public key, and a signature over the
// handshake transcript made with the server's long-term identity key.
type ServerHello struct {
	Selected  Version
	Ephemeral crypto.KXPublicKey
	Signature crypto.Signature
}

// Encode serializes the hello:
//
//	[magic: u32][kind: u8][selected: u16][ephemeral: 32][signature: 64]
func (h *ServerHello) Encode() []byte {
	buf := make([]byte, 0, 7+crypto.KXKeySize+crypto.SignatureSize)
	buf = binary.BigEndian.AppendUint32(buf, ProtocolMagic)
	buf = append(buf, msgServerHello)
	buf = binary.BigEndian.AppendUint16(buf, uint16(h.Selected))
	buf = append(buf, h.Ephemeral[:]...)
	buf = append(buf, h.Signature[:]...)
	return buf
}

// DecodeServerHello deserializes a ServerHello.
func DecodeServerHello(buf []byte) (*ServerHello, error) {
	want := 7 + crypto.KXKeySize + crypto.SignatureSize
	if len(buf) != want {
		return nil, fmt.Errorf("%w: server hello is %d bytes, want %d", ErrInvalidHandshake, len(buf), want)
	}
	if binary.BigEndian.Uint32(buf[0:4]) != ProtocolMagic {
		return nil, ErrInvalidMagic
	}
	if buf[4] != msgServerHello {
		return nil, fmt.Errorf("%w: kind 0x%02x", ErrUnexpectedHandshake, buf[4])
	}

	h := &ServerHello{Selected: Version(binary.BigEndian.Uint16(buf[5:7]))}
	copy(h.Ephemeral[:], buf[7:7+crypto.KXKeySize])
	copy(h.Signature[:], buf[7+crypto.KXKeySize:])
	return h, nil
}

// handshakeTranscript is the byte sequence the server signs and the
// client verifies. It binds the client's full offer, both ephemeral
// keys, and the selected version, so neither the offer nor the
// selection can be downgraded in flight.
func handshakeTranscript(hello *ClientHello, serverEph crypto.KXPublicKey, selected Version) []byte {
	encoded := hello.Encode()
	out := make([]byte, 0, len(encoded)+crypto.KXKeySize+2)
	out = append(out, encoded...)
	out = append(out, serverEph[:]...)
	out = binary.BigEndian.AppendUint16(out, uint16(selected))
	return out
}

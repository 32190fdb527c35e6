package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// packetHeaderSize is the counter prefix of every encrypted packet.
const packetHeaderSize = 8

var ErrInvalidPacket = errors.New("malformed packet")

// Packet is an encrypted payload in transit: the sender's packet
// counter in the clear, followed by the AEAD ciphertext. The counter is
// authenticated because it feeds the nonce; flipping it on the wire
// fails decryption.
type Packet struct {
	Counter    uint64
	Ciphertext []byte
}

// Encode serializes the packet:
//
//	[counter: u64][ciphertext]
func (p *Packet) Encode() []byte {
	buf := make([]byte, packetHeaderSize+len(p.Ciphertext))
	binary.BigEndian.PutUint64(buf[:packetHeaderSize], p.Counter)
	copy(buf[packetHeaderSize:], p.Ciphertext)
	return buf
}

// DecodePacket deserializes a packet. The ciphertext must at least hold
// an AEAD tag; shorter packets are structurally invalid.
func DecodePacket(buf []byte) (*Packet, error) {
	if len(buf) < packetHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the counter prefix", ErrInvalidPacket, len(buf))
	}

	return &Packet{
		Counter:    binary.BigEndian.Uint64(buf[:packetHeaderSize]),
		Ciphertext: buf[packetHeaderSize:],
	}, nil
}

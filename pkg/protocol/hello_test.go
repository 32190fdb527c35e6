package protocol

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/kretoffer/obscuraproto/pkg/crypto"
)

func TestClientHelloRoundTrip(t *testing.T) {
	kx, err := crypto.GenerateKXKeyPair()
	if err != nil {
		t.Fatalf("GenerateKXKeyPair() error = %v", err)
	}

	hello := &ClientHello{
		Versions:  []Version{V1_0, Version(0x0200)},
		Ephemeral: kx.Public,
	}

	decoded, err := DecodeClientHello(hello.Encode())
	if err != nil {
		t.Fatalf("DecodeClientHello() error = %v", err)
	}
	if len(decoded.Versions) != 2 || decoded.Versions[0] != V1_0 || decoded.Versions[1] != Version(0x0200) {
		t.Errorf("Versions = %v, want %v", decoded.Versions, hello.Versions)
	}
	if decoded.Ephemeral != kx.Public {
		t.Error("ephemeral key did not survive the round trip")
	}
}

func TestServerHelloRoundTrip(t *testing.T) {
	kx, err := crypto.GenerateKXKeyPair()
	if err != nil {
		t.Fatalf("GenerateKXKeyPair() error = %v", err)
	}

	var sig crypto.Signature
	for i := range sig {
		sig[i] = byte(i)
	}

	hello := &ServerHello{Selected: V1_0, Ephemeral: kx.Public, Signature: sig}

	decoded, err := DecodeServerHello(hello.Encode())
	if err != nil {
		t.Fatalf("DecodeServerHello() error = %v", err)
	}
	if decoded.Selected != V1_0 {
		t.Errorf("Selected = %s, want %s", decoded.Selected, V1_0)
	}
	if decoded.Ephemeral != kx.Public || decoded.Signature != sig {
		t.Error("fields did not survive the round trip")
	}
}

func TestDecodeClientHelloRejectsBadMagic(t *testing.T) {
	kx, _ := crypto.GenerateKXKeyPair()
	buf := (&ClientHello{Versions: []Version{V1_0}, Ephemeral: kx.Public}).Encode()
	binary.BigEndian.PutUint32(buf[0:4], 0xDEADBEEF)

	if _, err := DecodeClientHello(buf); !errors.Is(err, ErrInvalidMagic) {
		t.Errorf("DecodeClientHello() error = %v, want %v", err, ErrInvalidMagic)
	}
}

func TestDecodeClientHelloRejectsWrongKind(t *testing.T) {
	kx, _ := crypto.GenerateKXKeyPair()
	buf := (&ClientHello{Versions: []Version{V1_0}, Ephemeral: kx.Public}).Encode()
	buf[4] = msgServerHello

	if _, err := DecodeClientHello(buf); !errors.Is(err, ErrUnexpectedHandshake) {
		t.Errorf("DecodeClientHello() error = %v, want %v", err, ErrUnexpectedHandshake)
	}
}

func TestDecodeClientHelloRejectsTruncation(t *testing.T) {
	kx, _ := crypto.GenerateKXKeyPair()
	buf := (&ClientHello{Versions: []Version{V1_0}, Ephemeral: kx.Public}).Encode()

	for cut := 1; cut < len(buf); cut++ {
		if _, err := DecodeClientHello(buf[:cut]); err == nil {
			t.Fatalf("DecodeClientHello() accepted a hello truncated to %d bytes", cut)
		}
	}
}

func TestDecodeServerHelloRejectsWrongLength(t *testing.T) {
	kx, _ := crypto.GenerateKXKeyPair()
	buf := (&ServerHello{Selected: V1_0, Ephemeral: kx.Public}).Encode()

	if _, err := DecodeServerHello(buf[:len(buf)-1]); !errors.Is(err, ErrInvalidHandshake) {
		t.Errorf("DecodeServerHello() truncated error = %v, want %v", err, ErrInvalidHandshake)
	}
	if _, err := DecodeServerHello(append(buf, 0x00)); !errors.Is(err, ErrInvalidHandshake) {
		t.Errorf("DecodeServerHello() padded error = %v, want %v", err, ErrInvalidHandshake)
	}
}

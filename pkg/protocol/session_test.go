package protocol

import (
	"errors"
	"testing"

	"github.com/kretoffer/obscuraproto/pkg/crypto"
)

func newTestPair(t *testing.T) (*Session, *Session, crypto.KeyPair) {
	t.Helper()

	identity, err := crypto.GenerateSignKeyPair()
	if err != nil {
		t.Fatalf("GenerateSignKeyPair() error = %v", err)
	}

	server, err := NewServerSession(identity)
	if err != nil {
		t.Fatalf("NewServerSession() error = %v", err)
	}
	client := NewClientSession(identity.Public)
	return client, server, identity
}

func completeHandshake(t *testing.T, client, server *Session) {
	t.Helper()

	hello, err := client.ClientInitiateHandshake()
	if err != nil {
		t.Fatalf("ClientInitiateHandshake() error = %v", err)
	}
	response, err := server.ServerRespondToHandshake(hello)
	if err != nil {
		t.Fatalf("ServerRespondToHandshake() error = %v", err)
	}
	if err := client.ClientFinalizeHandshake(response); err != nil {
		t.Fatalf("ClientFinalizeHandshake() error = %v", err)
	}
}

func TestHandshakeSymmetry(t *testing.T) {
	client, server, _ := newTestPair(t)
	completeHandshake(t, client, server)

	if !client.IsHandshakeComplete() || !server.IsHandshakeComplete() {
		t.Fatal("both sides must report handshake-complete")
	}
	if client.SelectedVersion() != server.SelectedVersion() {
		t.Errorf("selected versions differ: client %s, server %s", client.SelectedVersion(), server.SelectedVersion())
	}
	if client.SelectedVersion() != V1_0 {
		t.Errorf("SelectedVersion() = %s, want %s", client.SelectedVersion(), V1_0)
	}
}

func TestHandshakePayloadFlow(t *testing.T) {
	client, server, _ := newTestPair(t)
	completeHandshake(t, client, server)

	sent := NewPayloadBuilder(0x1001).AddString("hello").AddUint(42).Build()
	pkt, err := client.EncryptPayload(sent)
	if err != nil {
		t.Fatalf("EncryptPayload() error = %v", err)
	}

	wire, err := DecodePacket(pkt.Encode())
	if err != nil {
		t.Fatalf("DecodePacket() error = %v", err)
	}

	got, counter, err := server.DecryptPacket(wire)
	if err != nil {
		t.Fatalf("DecryptPacket() error = %v", err)
	}
	if counter != 0 {
		t.Errorf("first packet counter = %d, want 0", counter)
	}
	if got.OpCode() != 0x1001 {
		t.Errorf("OpCode() = 0x%04x, want 0x1001", got.OpCode())
	}

	r := NewPayloadReader(got)
	if s, err := r.ReadString(); err != nil || s != "hello" {
		t.Errorf("ReadString() = %q, %v", s, err)
	}
	if v, err := r.ReadUint(); err != nil || v != 42 {
		t.Errorf("ReadUint() = %d, %v", v, err)
	}

	// Counters advance per packet in each direction independently.
	pkt2, err := client.EncryptPayload(sent)
	if err != nil {
		t.Fatalf("EncryptPayload() second error = %v", err)
	}
	if pkt2.Counter != 1 {
		t.Errorf("second packet counter = %d, want 1", pkt2.Counter)
	}

	reply, err := server.EncryptPayload(NewPayloadBuilder(0x2002).AddString("ack").Build())
	if err != nil {
		t.Fatalf("server EncryptPayload() error = %v", err)
	}
	if reply.Counter != 0 {
		t.Errorf("server first packet counter = %d, want 0", reply.Counter)
	}
	if _, _, err := client.DecryptPacket(reply); err != nil {
		t.Fatalf("client DecryptPacket() error = %v", err)
	}
}

func TestHandshakeDisjointVersions(t *testing.T) {
	client, server, _ := newTestPair(t)

	hello, err := client.ClientInitiateHandshake()
	if err != nil {
		t.Fatalf("ClientInitiateHandshake() error = %v", err)
	}

	// Rewrite the offered version to one the server does not support.
	decoded, err := DecodeClientHello(hello)
	if err != nil {
		t.Fatalf("DecodeClientHello() error = %v", err)
	}
	decoded.Versions = []Version{Version(0x7F00)}

	_, err = server.ServerRespondToHandshake(decoded.Encode())
	if !errors.Is(err, ErrNoCommonVersion) {
		t.Fatalf("ServerRespondToHandshake() error = %v, want %v", err, ErrNoCommonVersion)
	}
	if server.State() != StateFailed {
		t.Errorf("server state = %s, want %s", server.State(), StateFailed)
	}
	if server.IsHandshakeComplete() {
		t.Error("a failed negotiation must never report handshake-complete")
	}
}

func TestHandshakeSignatureFailure(t *testing.T) {
	client, server, _ := newTestPair(t)

	// The client trusts a different identity than the server signs with.
	otherIdentity, err := crypto.GenerateSignKeyPair()
	if err != nil {
		t.Fatalf("GenerateSignKeyPair() error = %v", err)
	}
	client = NewClientSession(otherIdentity.Public)

	hello, err := client.ClientInitiateHandshake()
	if err != nil {
		t.Fatalf("ClientInitiateHandshake() error = %v", err)
	}
	response, err := server.ServerRespondToHandshake(hello)
	if err != nil {
		t.Fatalf("ServerRespondToHandshake() error = %v", err)
	}

	if err := client.ClientFinalizeHandshake(response); !errors.Is(err, ErrSignature) {
		t.Fatalf("ClientFinalizeHandshake() error = %v, want %v", err, ErrSignature)
	}
	if client.State() != StateFailed {
		t.Errorf("client state = %s, want %s", client.State(), StateFailed)
	}
}

func TestHandshakeDowngradeRejected(t *testing.T) {
	client, server, _ := newTestPair(t)

	hello, err := client.ClientInitiateHandshake()
	if err != nil {
		t.Fatalf("ClientInitiateHandshake() error = %v", err)
	}
	response, err := server.ServerRespondToHandshake(hello)
	if err != nil {
		t.Fatalf("ServerRespondToHandshake() error = %v", err)
	}

	// Rewrite the selected version in flight. The transcript signature
	// covers it, so the client must reject the response.
	decoded, err := DecodeServerHello(response)
	if err != nil {
		t.Fatalf("DecodeServerHello() error = %v", err)
	}
	decoded.Selected = Version(0x0001)

	if err := client.ClientFinalizeHandshake(decoded.Encode()); err == nil {
		t.Fatal("ClientFinalizeHandshake() accepted a tampered version selection")
	}
	if client.State() != StateFailed {
		t.Errorf("client state = %s, want %s", client.State(), StateFailed)
	}
}

func TestSessionStateErrors(t *testing.T) {
	client, server, _ := newTestPair(t)

	// Wrong role.
	if _, err := server.ClientInitiateHandshake(); !errors.Is(err, ErrWrongRole) {
		t.Errorf("server ClientInitiateHandshake() error = %v, want %v", err, ErrWrongRole)
	}
	if _, err := client.ServerRespondToHandshake(nil); !errors.Is(err, ErrWrongRole) {
		t.Errorf("client ServerRespondToHandshake() error = %v, want %v", err, ErrWrongRole)
	}

	// Wrong state.
	if err := client.ClientFinalizeHandshake(nil); !errors.Is(err, ErrInvalidState) {
		t.Errorf("ClientFinalizeHandshake() before initiate error = %v, want %v", err, ErrInvalidState)
	}
	payload := NewPayloadBuilder(0x0001).Build()
	if _, err := client.EncryptPayload(payload); !errors.Is(err, ErrInvalidState) {
		t.Errorf("EncryptPayload() before handshake error = %v, want %v", err, ErrInvalidState)
	}
	if _, _, err := client.DecryptPacket(&Packet{}); !errors.Is(err, ErrInvalidState) {
		t.Errorf("DecryptPacket() before handshake error = %v, want %v", err, ErrInvalidState)
	}

	// Initiating twice.
	if _, err := client.ClientInitiateHandshake(); err != nil {
		t.Fatalf("ClientInitiateHandshake() error = %v", err)
	}
	if _, err := client.ClientInitiateHandshake(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second ClientInitiateHandshake() error = %v, want %v", err, ErrInvalidState)
	}
}

func TestDecryptTamperedPacket(t *testing.T) {
	client, server, _ := newTestPair(t)
	completeHandshake(t, client, server)

	pkt, err := client.EncryptPayload(NewPayloadBuilder(0x1001).AddString("hello").Build())
	if err != nil {
		t.Fatalf("EncryptPayload() error = %v", err)
	}

	for i := range pkt.Ciphertext {
		tampered := &Packet{Counter: pkt.Counter, Ciphertext: append([]byte{}, pkt.Ciphertext...)}
		tampered.Ciphertext[i] ^= 0x01

		if _, _, err := server.DecryptPacket(tampered); !errors.Is(err, ErrAuthentication) {
			t.Fatalf("DecryptPacket() of ciphertext tampered at byte %d error = %v, want %v", i, err, ErrAuthentication)
		}
	}

	// A tampered counter changes the nonce and must also fail.
	bad := &Packet{Counter: pkt.Counter + 1, Ciphertext: pkt.Ciphertext}
	if _, _, err := server.DecryptPacket(bad); !errors.Is(err, ErrAuthentication) {
		t.Errorf("DecryptPacket() with rewritten counter error = %v, want %v", err, ErrAuthentication)
	}

	// The untampered packet still decrypts; failures are per packet.
	if _, _, err := server.DecryptPacket(pkt); err != nil {
		t.Errorf("DecryptPacket() of the original packet error = %v", err)
	}
}

func TestServerSessionRequiresPrivateKey(t *testing.T) {
	identity, err := crypto.GenerateSignKeyPair()
	if err != nil {
		t.Fatalf("GenerateSignKeyPair() error = %v", err)
	}

	if _, err := NewServerSession(crypto.NewPublicKeyView(identity.Public)); !errors.Is(err, crypto.ErrNoPrivateKey) {
		t.Errorf("NewServerSession() with a view error = %v, want %v", err, crypto.ErrNoPrivateKey)
	}
}

func TestSessionClose(t *testing.T) {
	client, server, _ := newTestPair(t)
	completeHandshake(t, client, server)

	client.Close()
	client.Close() // idempotent

	if client.IsHandshakeComplete() {
		t.Error("IsHandshakeComplete() = true after Close()")
	}
	if _, err := client.EncryptPayload(NewPayloadBuilder(0x0001).Build()); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("EncryptPayload() after Close() error = %v, want %v", err, ErrSessionClosed)
	}
	if _, _, err := client.DecryptPacket(&Packet{}); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("DecryptPacket() after Close() error = %v, want %v", err, ErrSessionClosed)
	}
}

package protocol

import (
	"errors"
	"fmt"

	"github.com/kretoffer/obscuraproto/pkg/crypto"
)

// Role distinguishes the two ends of a session.
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

func (r Role) String() string {
	switch r {
	case RoleClient:
		return "client"
	case RoleServer:
		return "server"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// State is the handshake state of a session.
type State int

const (
	// StateInit is the state of a freshly created session.
	StateInit State = iota
	// StateHelloSent means the client has produced its ClientHello and
	// is waiting for the server's response.
	StateHelloSent
	// StateHelloReceived is the server-side transient state between
	// accepting a ClientHello and emitting the ServerHello.
	StateHelloReceived
	// StateComplete means keys are established and the session can
	// encrypt and decrypt payloads.
	StateComplete
	// StateFailed is terminal. A failed session is never reset; callers
	// create a fresh one to retry.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateHelloSent:
		return "hello_sent"
	case StateHelloReceived:
		return "hello_received"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	ErrInvalidState  = errors.New("operation not valid in the session's current state")
	ErrWrongRole     = errors.New("operation not valid for the session's role")
	ErrSignature     = errors.New("server hello signature verification failed")
	ErrSessionClosed = errors.New("session is closed")

	// ErrAuthentication is the error DecryptPacket returns when a
	// packet's integrity tag does not verify under the session key.
	ErrAuthentication = crypto.ErrDecryptionFailed
)

// Session drives one end of the handshake and, once complete, encrypts
// and decrypts payloads. A server session is created with the server's
// long-term key pair; a client session is created with a public-key
// view of the server's identity, obtained out of band.
//
// Sessions are single-shot: any handshake failure moves them to
// StateFailed permanently. They are not safe for concurrent use.
type Session struct {
	role     Role
	state    State
	identity crypto.KeyPair

	versions []Version
	selected Version

	ephemeral crypto.KXKeyPair
	sentHello *ClientHello

	keys        crypto.SessionKeys
	sendCounter uint64
	closed      bool
}

// NewClientSession creates a client session that will authenticate the
// server against serverIdentity. The session offers SupportedVersions.
func NewClientSession(serverIdentity crypto.PublicKey) *Session {
	return &Session{
		role:     RoleClient,
		state:    StateInit,
		identity: crypto.NewPublicKeyView(serverIdentity),
		versions: append([]Version(nil), SupportedVersions...),
	}
}

// NewServerSession creates a server session signing with identity.
// The identity pair must hold a private key.
func NewServerSession(identity crypto.KeyPair) (*Session, error) {
	if !identity.HasPrivate() {
		return nil, crypto.ErrNoPrivateKey
	}
	return &Session{
		role:     RoleServer,
		state:    StateInit,
		identity: identity,
		versions: append([]Version(nil), SupportedVersions...),
	}, nil
}

// State returns the session's current handshake state.
func (s *Session) State() State {
	return s.state
}

// Role returns which end of the protocol this session drives.
func (s *Session) Role() Role {
	return s.role
}

// IsHandshakeComplete reports whether payloads can flow.
func (s *Session) IsHandshakeComplete() bool {
	return s.state == StateComplete && !s.closed
}

// SelectedVersion returns the negotiated protocol version. It is only
// meaningful once the handshake is complete.
func (s *Session) SelectedVersion() Version {
	return s.selected
}

// fail moves the session to its terminal failure state and returns err.
func (s *Session) fail(err error) error {
	s.state = StateFailed
	s.keys.Zero()
	return err
}

// ClientInitiateHandshake generates the client's ephemeral key and
// returns the encoded ClientHello to send. Valid only once, on a client
// session in StateInit.
func (s *Session) ClientInitiateHandshake() ([]byte, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}
	if s.role != RoleClient {
		return nil, ErrWrongRole
	}
	if s.state != StateInit {
		return nil, fmt.Errorf("%w: cannot initiate in state %s", ErrInvalidState, s.state)
	}

	eph, err := crypto.GenerateKXKeyPair()
	if err != nil {
		return nil, s.fail(err)
	}
	s.ephemeral = eph

	s.sentHello = &ClientHello{
		Versions:  append([]Version(nil), s.versions...),
		Ephemeral: eph.Public,
	}
	s.state = StateHelloSent
	return s.sentHello.Encode(), nil
}

// ServerRespondToHandshake consumes an encoded ClientHello and returns
// the encoded ServerHello. On success the session is complete and keyed.
// Valid only once, on a server session in StateInit. Any failure,
// including an unparseable hello or a disjoint version set, is terminal.
func (s *Session) ServerRespondToHandshake(helloBytes []byte) ([]byte, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}
	if s.role != RoleServer {
		return nil, ErrWrongRole
	}
	if s.state != StateInit {
		return nil, fmt.Errorf("%w: cannot respond in state %s", ErrInvalidState, s.state)
	}

	hello, err := DecodeClientHello(helloBytes)
	if err != nil {
		return nil, s.fail(err)
	}
	s.state = StateHelloReceived

	selected, err := NegotiateVersion(s.versions, hello.Versions)
	if err != nil {
		return nil, s.fail(err)
	}

	eph, err := crypto.GenerateKXKeyPair()
	if err != nil {
		return nil, s.fail(err)
	}

	keys, err := crypto.ServerSessionKeys(eph, hello.Ephemeral)
	if err != nil {
		return nil, s.fail(err)
	}

	sig, err := crypto.Sign(s.identity, handshakeTranscript(hello, eph.Public, selected))
	if err != nil {
		return nil, s.fail(err)
	}

	response := &ServerHello{
		Selected:  selected,
		Ephemeral: eph.Public,
		Signature: sig,
	}

	s.selected = selected
	s.keys = keys
	s.state = StateComplete
	return response.Encode(), nil
}

// ClientFinalizeHandshake consumes the encoded ServerHello, verifies
// the server's signature over the handshake transcript, and derives the
// session keys. Valid only once, on a client session in StateHelloSent.
func (s *Session) ClientFinalizeHandshake(serverHelloBytes []byte) error {
	if s.closed {
		return ErrSessionClosed
	}
	if s.role != RoleClient {
		return ErrWrongRole
	}
	if s.state != StateHelloSent {
		return fmt.Errorf("%w: cannot finalize in state %s", ErrInvalidState, s.state)
	}

	hello, err := DecodeServerHello(serverHelloBytes)
	if err != nil {
		return s.fail(err)
	}

	if _, err := NegotiateVersion(s.sentHello.Versions, []Version{hello.Selected}); err != nil {
		return s.fail(fmt.Errorf("server selected unoffered version %s: %w", hello.Selected, err))
	}

	transcript := handshakeTranscript(s.sentHello, hello.Ephemeral, hello.Selected)
	if !crypto.Verify(s.identity.Public, transcript, hello.Signature) {
		return s.fail(ErrSignature)
	}

	keys, err := crypto.ClientSessionKeys(s.ephemeral, hello.Ephemeral)
	if err != nil {
		return s.fail(err)
	}

	s.selected = hello.Selected
	s.keys = keys
	s.state = StateComplete
	return nil
}

// EncryptPayload encodes and encrypts a payload into a packet, bumping
// the session's send counter. Valid only on a complete session.
func (s *Session) EncryptPayload(p *Payload) (*Packet, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}
	if s.state != StateComplete {
		return nil, fmt.Errorf("%w: cannot encrypt in state %s", ErrInvalidState, s.state)
	}

	counter := s.sendCounter
	ciphertext, err := crypto.Encrypt(s.keys.TX, counter, p.Encode())
	if err != nil {
		return nil, err
	}
	s.sendCounter++

	return &Packet{Counter: counter, Ciphertext: ciphertext}, nil
}

// DecryptPacket decrypts and decodes a packet, returning the payload
// and the peer's packet counter. Callers that need replay protection
// track the returned counter; the session itself accepts any counter
// the AEAD authenticates.
func (s *Session) DecryptPacket(pkt *Packet) (*Payload, uint64, error) {
	if s.closed {
		return nil, 0, ErrSessionClosed
	}
	if s.state != StateComplete {
		return nil, 0, fmt.Errorf("%w: cannot decrypt in state %s", ErrInvalidState, s.state)
	}

	plaintext, err := crypto.Decrypt(s.keys.RX, pkt.Counter, pkt.Ciphertext)
	if err != nil {
		return nil, 0, err
	}

	payload, err := DecodePayload(plaintext)
	if err != nil {
		return nil, 0, err
	}
	return payload, pkt.Counter, nil
}

// Close wipes the session's key material. A closed session rejects all
// further operations with ErrSessionClosed. Close is idempotent.
func (s *Session) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.keys.Zero()
}

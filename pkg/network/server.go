package network

import (
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kretoffer/obscuraproto/pkg/crypto"
	"github.com/kretoffer/obscuraproto/pkg/protocol"
)

// SecurityEvent describes a rejected handshake or packet. Events are
// delivered to the server's security hook for auditing; the affected
// connection is already handled (closed or packet dropped) by the time
// the hook runs.
type SecurityEvent struct {
	Time   time.Time
	Conn   ConnID
	Remote string
	Kind   SecurityEventKind
	Detail string
}

// SecurityEventKind classifies a SecurityEvent.
type SecurityEventKind string

const (
	EventHandshakeFailed SecurityEventKind = "handshake_failed"
	EventAuthFailed      SecurityEventKind = "auth_failed"
	EventReplayDropped   SecurityEventKind = "replay_dropped"
	EventDecodeFailed    SecurityEventKind = "decode_failed"
)

// Server accepts ObscuraProto connections over WebSocket, runs the
// handshake on each, and routes decrypted payloads through a shared
// Dispatcher. Handlers registered on the dispatcher apply to every
// connection.
type Server struct {
	identity   crypto.KeyPair
	dispatcher *Dispatcher

	listener net.Listener
	httpSrv  *http.Server
	upgrader websocket.Upgrader

	mu     sync.RWMutex
	peers  map[ConnID]*peer
	nextID uint64

	// Callbacks
	OnConnect    func(ConnID)
	OnDisconnect func(ConnID)

	onSecurityEvent func(SecurityEvent)
}

// NewServer creates a server signing handshakes with identity. The
// identity pair must hold a private key.
func NewServer(identity crypto.KeyPair) (*Server, error) {
	if err := crypto.Init(); err != nil {
		return nil, err
	}
	if !identity.HasPrivate() {
		return nil, crypto.ErrNoPrivateKey
	}
	return &Server{
		identity:   identity,
		dispatcher: NewDispatcher(),
		peers:      make(map[ConnID]*peer),
	}, nil
}

// Dispatcher returns the server's shared dispatcher for handler
// registration.
func (s *Server) Dispatcher() *Dispatcher {
	return s.dispatcher
}

// PublicKey returns the server's long-term identity public key, for
// out-of-band distribution to clients.
func (s *Server) PublicKey() crypto.PublicKey {
	return s.identity.Public
}

// SetSecurityEventHandler installs the hook receiving security events.
// Must be called before Start.
func (s *Server) SetSecurityEventHandler(fn func(SecurityEvent)) {
	s.onSecurityEvent = fn
}

// Start listens on addr and accepts WebSocket connections on /ws. It
// returns once the listener is established; accepting runs in the
// background until Stop.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)
	s.httpSrv = &http.Server{Handler: mux}

	log.Printf("server listening on %s", listener.Addr())
	go func() {
		if err := s.httpSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("server stopped: %v", err)
		}
	}()

	return nil
}

// Addr returns the listener address, useful when Start was given
// port 0.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop closes the listener and every live connection.
func (s *Server) Stop() error {
	var err error
	if s.httpSrv != nil {
		err = s.httpSrv.Close()
	}

	s.mu.Lock()
	peers := make([]*peer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.Unlock()

	for _, p := range peers {
		p.close()
	}
	return err
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("upgrade from %s failed: %v", r.RemoteAddr, err)
		return
	}
	go func() {
		if err := s.ServeConn(NewWebSocketConn(ws)); err != nil {
			log.Printf("connection from %s ended: %v", r.RemoteAddr, err)
		}
	}()
}

// ServeConn runs the server side of the protocol on an established
// transport: handshake first, then the receive loop until the peer
// disconnects. It blocks for the connection's lifetime.
func (s *Server) ServeConn(conn Conn) error {
	id := ConnID(atomic.AddUint64(&s.nextID, 1))

	session, err := protocol.NewServerSession(s.identity)
	if err != nil {
		conn.Close()
		return err
	}

	hello, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return fmt.Errorf("reading client hello: %w", err)
	}

	response, err := session.ServerRespondToHandshake(hello)
	if err != nil {
		s.emitSecurityEvent(SecurityEvent{
			Time: time.Now(), Conn: id, Remote: conn.RemoteAddr(),
			Kind: EventHandshakeFailed, Detail: err.Error(),
		})
		conn.Close()
		return fmt.Errorf("handshake with %s: %w", conn.RemoteAddr(), err)
	}
	if err := conn.WriteMessage(response); err != nil {
		conn.Close()
		return fmt.Errorf("writing server hello: %w", err)
	}

	p := newPeer(id, conn, session)
	s.mu.Lock()
	s.peers[id] = p
	s.mu.Unlock()

	log.Printf("conn %d from %s established, version %s", id, conn.RemoteAddr(), session.SelectedVersion())
	if s.OnConnect != nil {
		s.OnConnect(id)
	}

	go p.consumeLoop(s.dispatcher.Dispatch)
	err = runReadLoop(p, s.emitSecurityEvent)

	s.mu.Lock()
	delete(s.peers, id)
	s.mu.Unlock()
	p.close()

	if s.OnDisconnect != nil {
		s.OnDisconnect(id)
	}
	if errors.Is(err, ErrConnClosed) {
		return nil
	}
	return err
}

func (s *Server) emitSecurityEvent(ev SecurityEvent) {
	if s.onSecurityEvent != nil {
		s.onSecurityEvent(ev)
	}
}

// Send encrypts and delivers a payload to one connection.
func (s *Server) Send(id ConnID, payload *protocol.Payload) error {
	s.mu.RLock()
	p, ok := s.peers[id]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: conn %d", ErrConnClosed, id)
	}
	return p.send(payload)
}

// Broadcast delivers a payload to every live connection. The first
// failure is returned but delivery to the remaining peers continues.
func (s *Server) Broadcast(payload *protocol.Payload) error {
	s.mu.RLock()
	peers := make([]*peer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.RUnlock()

	var firstErr error
	for _, p := range peers {
		if err := p.send(payload); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ConnCount returns the number of live connections.
func (s *Server) ConnCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.peers)
}

// Disconnect closes one connection.
func (s *Server) Disconnect(id ConnID) {
	s.mu.RLock()
	p, ok := s.peers[id]
	s.mu.RUnlock()
	if ok {
		p.close()
	}
}

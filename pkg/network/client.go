package network

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kretoffer/obscuraproto/pkg/crypto"
	"github.com/kretoffer/obscuraproto/pkg/protocol"
)

var (
	ErrNotConnected     = errors.New("not connected")
	ErrAlreadyConnected = errors.New("already connected")
)

// Client is one ObscuraProto connection to a server. It authenticates
// the server against a public key obtained out of band, then routes
// decrypted payloads through its own Dispatcher.
//
// A Client is single-shot like the session it wraps: after Disconnect
// or a connection failure, create a new one to reconnect.
type Client struct {
	serverKey  crypto.PublicKey
	dispatcher *Dispatcher
	peer       *peer
	done       chan struct{}

	// Callbacks
	OnReady      func()
	OnDisconnect func()

	onSecurityEvent func(SecurityEvent)
}

// NewClient creates a client that will only talk to the server holding
// the private half of serverKey.
func NewClient(serverKey crypto.PublicKey) *Client {
	return &Client{
		serverKey:  serverKey,
		dispatcher: NewDispatcher(),
	}
}

// Dispatcher returns the client's dispatcher for handler registration.
// Handlers should be registered before Connect.
func (c *Client) Dispatcher() *Dispatcher {
	return c.dispatcher
}

// SetSecurityEventHandler installs the hook receiving security events.
// Must be called before Connect.
func (c *Client) SetSecurityEventHandler(fn func(SecurityEvent)) {
	c.onSecurityEvent = fn
}

// Connect dials the server's WebSocket endpoint (ws://host:port/ws)
// and runs the handshake. It returns once payloads can flow.
func (c *Client) Connect(url string) error {
	if c.peer != nil {
		return ErrAlreadyConnected
	}

	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", url, err)
	}
	return c.ConnectConn(NewWebSocketConn(ws))
}

// ConnectConn runs the client side of the protocol on an established
// transport. It performs the handshake synchronously, then starts the
// receive machinery in the background.
func (c *Client) ConnectConn(conn Conn) error {
	if c.peer != nil {
		return ErrAlreadyConnected
	}

	session := protocol.NewClientSession(c.serverKey)

	hello, err := session.ClientInitiateHandshake()
	if err != nil {
		conn.Close()
		return err
	}
	if err := conn.WriteMessage(hello); err != nil {
		conn.Close()
		return fmt.Errorf("writing client hello: %w", err)
	}

	response, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return fmt.Errorf("reading server hello: %w", err)
	}
	if err := session.ClientFinalizeHandshake(response); err != nil {
		c.emitSecurityEvent(conn, EventHandshakeFailed, err.Error())
		conn.Close()
		return err
	}

	c.peer = newPeer(1, conn, session)
	c.done = make(chan struct{})

	log.Printf("connected to %s, version %s", conn.RemoteAddr(), session.SelectedVersion())

	go c.peer.consumeLoop(c.dispatcher.Dispatch)
	go c.run()

	if c.OnReady != nil {
		c.OnReady()
	}
	return nil
}

func (c *Client) run() {
	defer close(c.done)

	err := runReadLoop(c.peer, func(ev SecurityEvent) {
		if c.onSecurityEvent != nil {
			c.onSecurityEvent(ev)
		}
	})
	c.peer.close()

	if err != nil && !errors.Is(err, ErrConnClosed) {
		log.Printf("connection lost: %v", err)
	}
	if c.OnDisconnect != nil {
		c.OnDisconnect()
	}
}

func (c *Client) emitSecurityEvent(conn Conn, kind SecurityEventKind, detail string) {
	if c.onSecurityEvent != nil {
		c.onSecurityEvent(SecurityEvent{
			Time:   time.Now(),
			Remote: conn.RemoteAddr(),
			Kind:   kind,
			Detail: detail,
		})
	}
}

// Send encrypts and delivers one payload to the server.
func (c *Client) Send(payload *protocol.Payload) error {
	if c.peer == nil {
		return ErrNotConnected
	}
	return c.peer.send(payload)
}

// SelectedVersion returns the negotiated protocol version.
func (c *Client) SelectedVersion() protocol.Version {
	if c.peer == nil {
		return 0
	}
	return c.peer.session.SelectedVersion()
}

// IsConnected reports whether the connection is live.
func (c *Client) IsConnected() bool {
	if c.peer == nil {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// Disconnect closes the connection and waits for the receive machinery
// to stop.
func (c *Client) Disconnect() {
	if c.peer == nil {
		return
	}
	c.peer.close()
	<-c.done
}

package network

import (
	"errors"
	"sync"

	"github.com/gorilla/websocket"
)

var ErrConnClosed = errors.New("connection closed")

// Conn is a message-oriented transport carrying whole frames. The
// protocol never splits a handshake message or packet across frames.
type Conn interface {
	// ReadMessage blocks until the next frame arrives. It returns
	// ErrConnClosed (possibly wrapped) once the peer is gone.
	ReadMessage() ([]byte, error)
	// WriteMessage sends one frame. Safe for concurrent use.
	WriteMessage(data []byte) error
	Close() error
	RemoteAddr() string
}

// wsConn adapts a gorilla WebSocket connection to Conn. Frames travel
// as binary messages. gorilla permits one concurrent writer, so writes
// are serialized with a mutex.
type wsConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

// NewWebSocketConn wraps an established WebSocket connection.
func NewWebSocketConn(ws *websocket.Conn) Conn {
	return &wsConn{ws: ws}
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, ErrConnClosed
			}
			return nil, err
		}
		if msgType == websocket.BinaryMessage {
			return data, nil
		}
		// Ignore text and control frames from non-conforming peers.
	}
}

func (c *wsConn) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteMessage(websocket.BinaryMessage, data)
}

func (c *wsConn) Close() error {
	return c.ws.Close()
}

func (c *wsConn) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}

// pipeConn is one end of an in-process transport. It delivers frames
// over an unbounded queue so writers never block, matching the
// delivery behavior of the real transport closely enough for tests.
type pipeConn struct {
	name string
	peer *pipeConn

	mu     sync.Mutex
	cond   *sync.Cond
	queue  [][]byte
	closed bool
}

// Pipe creates a connected pair of in-process transports. Frames
// written to one end are read from the other in order.
func Pipe() (Conn, Conn) {
	a := &pipeConn{name: "pipe-a"}
	b := &pipeConn{name: "pipe-b"}
	a.cond = sync.NewCond(&a.mu)
	b.cond = sync.NewCond(&b.mu)
	a.peer = b
	b.peer = a
	return a, b
}

func (c *pipeConn) ReadMessage() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for len(c.queue) == 0 {
		if c.closed {
			return nil, ErrConnClosed
		}
		c.cond.Wait()
	}

	data := c.queue[0]
	c.queue = c.queue[1:]
	return data, nil
}

func (c *pipeConn) WriteMessage(data []byte) error {
	peer := c.peer
	peer.mu.Lock()
	defer peer.mu.Unlock()

	if peer.closed {
		return ErrConnClosed
	}

	frame := make([]byte, len(data))
	copy(frame, data)
	peer.queue = append(peer.queue, frame)
	peer.cond.Signal()
	return nil
}

func (c *pipeConn) Close() error {
	for _, end := range []*pipeConn{c, c.peer} {
		end.mu.Lock()
		end.closed = true
		end.cond.Broadcast()
		end.mu.Unlock()
	}
	return nil
}

func (c *pipeConn) RemoteAddr() string {
	return c.peer.name
}

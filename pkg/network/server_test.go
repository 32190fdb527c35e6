package network

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kretoffer/obscuraproto/pkg/crypto"
	"github.com/kretoffer/obscuraproto/pkg/protocol"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	identity, err := crypto.GenerateSignKeyPair()
	require.NoError(t, err)

	srv, err := NewServer(identity)
	require.NoError(t, err)
	return srv
}

// startPipePair wires a client and server over an in-process transport
// and returns once both sides are ready.
func startPipePair(t *testing.T, srv *Server, client *Client) {
	t.Helper()

	serverEnd, clientEnd := Pipe()
	serveDone := make(chan error, 1)
	go func() {
		serveDone <- srv.ServeConn(serverEnd)
	}()

	require.NoError(t, client.ConnectConn(clientEnd))
	t.Cleanup(func() {
		client.Disconnect()
		select {
		case <-serveDone:
		case <-time.After(2 * time.Second):
			t.Error("ServeConn did not return after disconnect")
		}
	})
}

func TestEndToEndHelloAck(t *testing.T) {
	srv := newTestServer(t)

	serverGot := make(chan []interface{}, 1)
	srv.Dispatcher().Handle(0x1001, []ArgType{ArgString, ArgUint}, func(conn ConnID, args []interface{}) {
		serverGot <- args
		err := srv.Send(conn, protocol.NewPayloadBuilder(0x2002).AddString("ack").Build())
		assert.NoError(t, err)
	})

	client := NewClient(srv.PublicKey())
	clientGot := make(chan []interface{}, 1)
	client.Dispatcher().Handle(0x2002, []ArgType{ArgString}, func(conn ConnID, args []interface{}) {
		clientGot <- args
	})

	startPipePair(t, srv, client)
	assert.Equal(t, protocol.V1_0, client.SelectedVersion())

	require.NoError(t, client.Send(protocol.NewPayloadBuilder(0x1001).AddString("hello").AddUint(42).Build()))

	select {
	case args := <-serverGot:
		assert.Equal(t, []interface{}{"hello", uint64(42)}, args)
	case <-time.After(2 * time.Second):
		t.Fatal("server handler was not invoked")
	}

	select {
	case args := <-clientGot:
		assert.Equal(t, []interface{}{"ack"}, args)
	case <-time.After(2 * time.Second):
		t.Fatal("client handler was not invoked")
	}
}

func TestServerDeliversInArrivalOrder(t *testing.T) {
	srv := newTestServer(t)

	const total = 50
	got := make(chan uint64, total)
	srv.Dispatcher().Handle(0x0010, []ArgType{ArgUint}, func(conn ConnID, args []interface{}) {
		got <- args[0].(uint64)
	})

	client := NewClient(srv.PublicKey())
	startPipePair(t, srv, client)

	for i := 0; i < total; i++ {
		require.NoError(t, client.Send(protocol.NewPayloadBuilder(0x0010).AddUint(uint64(i)).Build()))
	}

	for i := 0; i < total; i++ {
		select {
		case v := <-got:
			require.Equal(t, uint64(i), v, "payloads delivered out of order")
		case <-time.After(2 * time.Second):
			t.Fatalf("payload %d never arrived", i)
		}
	}
}

func TestServerRejectsUntrustedIdentity(t *testing.T) {
	srv := newTestServer(t)

	otherIdentity, err := crypto.GenerateSignKeyPair()
	require.NoError(t, err)

	client := NewClient(otherIdentity.Public)
	var events []SecurityEvent
	client.SetSecurityEventHandler(func(ev SecurityEvent) {
		events = append(events, ev)
	})

	serverEnd, clientEnd := Pipe()
	go srv.ServeConn(serverEnd)

	err = client.ConnectConn(clientEnd)
	require.ErrorIs(t, err, protocol.ErrSignature)
	assert.False(t, client.IsConnected())
	require.Len(t, events, 1)
	assert.Equal(t, EventHandshakeFailed, events[0].Kind)
}

func TestServerSecurityEventOnBadHello(t *testing.T) {
	srv := newTestServer(t)

	events := make(chan SecurityEvent, 1)
	srv.SetSecurityEventHandler(func(ev SecurityEvent) {
		events <- ev
	})

	serverEnd, clientEnd := Pipe()
	serveDone := make(chan error, 1)
	go func() {
		serveDone <- srv.ServeConn(serverEnd)
	}()

	require.NoError(t, clientEnd.WriteMessage([]byte("not a hello")))

	select {
	case ev := <-events:
		assert.Equal(t, EventHandshakeFailed, ev.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("no security event for a malformed hello")
	}
	select {
	case err := <-serveDone:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("ServeConn did not return")
	}
}

func TestServerDropsReplayedPacket(t *testing.T) {
	srv := newTestServer(t)

	delivered := make(chan struct{}, 4)
	srv.Dispatcher().HandlePayload(0x0020, func(conn ConnID, p *protocol.Payload) {
		delivered <- struct{}{}
	})
	events := make(chan SecurityEvent, 4)
	srv.SetSecurityEventHandler(func(ev SecurityEvent) {
		events <- ev
	})

	serverEnd, clientEnd := Pipe()
	go srv.ServeConn(serverEnd)

	// Drive the handshake by hand so the same encrypted frame can be
	// written twice.
	session := protocol.NewClientSession(srv.PublicKey())
	hello, err := session.ClientInitiateHandshake()
	require.NoError(t, err)
	require.NoError(t, clientEnd.WriteMessage(hello))
	response, err := clientEnd.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, session.ClientFinalizeHandshake(response))

	pkt, err := session.EncryptPayload(protocol.NewPayloadBuilder(0x0020).Build())
	require.NoError(t, err)

	require.NoError(t, clientEnd.WriteMessage(pkt.Encode()))
	require.NoError(t, clientEnd.WriteMessage(pkt.Encode()))

	select {
	case <-delivered:
	case <-time.After(2 * time.Second):
		t.Fatal("first packet was not delivered")
	}

	select {
	case ev := <-events:
		assert.Equal(t, EventReplayDropped, ev.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("no security event for the replayed packet")
	}
	assert.Empty(t, delivered, "replayed packet must not be dispatched")
}

func TestServerBroadcast(t *testing.T) {
	srv := newTestServer(t)

	const clients = 3
	got := make(chan string, clients)

	for i := 0; i < clients; i++ {
		c := NewClient(srv.PublicKey())
		c.Dispatcher().Handle(0x0030, []ArgType{ArgString}, func(conn ConnID, args []interface{}) {
			got <- args[0].(string)
		})
		startPipePair(t, srv, c)
	}
	require.Equal(t, clients, srv.ConnCount())

	require.NoError(t, srv.Broadcast(protocol.NewPayloadBuilder(0x0030).AddString("all").Build()))

	for i := 0; i < clients; i++ {
		select {
		case v := <-got:
			assert.Equal(t, "all", v)
		case <-time.After(2 * time.Second):
			t.Fatalf("client %d never received the broadcast", i)
		}
	}
}

func TestWebSocketEndToEnd(t *testing.T) {
	srv := newTestServer(t)

	serverGot := make(chan []interface{}, 1)
	srv.Dispatcher().Handle(0x1001, []ArgType{ArgString, ArgUint}, func(conn ConnID, args []interface{}) {
		serverGot <- args
		assert.NoError(t, srv.Send(conn, protocol.NewPayloadBuilder(0x2002).AddString("ack").Build()))
	})

	require.NoError(t, srv.Start("127.0.0.1:0"))
	defer srv.Stop()

	client := NewClient(srv.PublicKey())
	clientGot := make(chan []interface{}, 1)
	client.Dispatcher().Handle(0x2002, []ArgType{ArgString}, func(conn ConnID, args []interface{}) {
		clientGot <- args
	})

	require.NoError(t, client.Connect(fmt.Sprintf("ws://%s/ws", srv.Addr())))
	defer client.Disconnect()

	require.NoError(t, client.Send(protocol.NewPayloadBuilder(0x1001).AddString("hello").AddUint(42).Build()))

	select {
	case args := <-serverGot:
		assert.Equal(t, []interface{}{"hello", uint64(42)}, args)
	case <-time.After(2 * time.Second):
		t.Fatal("server handler was not invoked")
	}
	select {
	case args := <-clientGot:
		assert.Equal(t, []interface{}{"ack"}, args)
	case <-time.After(2 * time.Second):
		t.Fatal("client handler was not invoked")
	}
}

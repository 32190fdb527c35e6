package network

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kretoffer/obscuraproto/pkg/crypto"
	"github.com/kretoffer/obscuraproto/pkg/protocol"
)

// peer is the shared per-connection machinery of Server and Client: a
// keyed session, the transport, and the ordered inbound queue.
//
// Inbound payloads are appended by the connection's read loop and
// consumed by a single goroutine running consumeLoop, which preserves
// arrival order and keeps handler invocations for one connection
// sequential. The queue is unbounded; a slow handler delays later
// payloads on its own connection but never blocks the read loop's
// decrypt path or other connections.
type peer struct {
	id      ConnID
	conn    Conn
	session *protocol.Session

	// sessMu serializes session use between the read loop's decrypts,
	// concurrent sends, and close.
	sessMu sync.Mutex

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []*protocol.Payload
	closed bool
}

func newPeer(id ConnID, conn Conn, session *protocol.Session) *peer {
	p := &peer{id: id, conn: conn, session: session}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// send encrypts a payload on the peer's session and writes the packet.
func (p *peer) send(payload *protocol.Payload) error {
	p.sessMu.Lock()
	pkt, err := p.session.EncryptPayload(payload)
	p.sessMu.Unlock()
	if err != nil {
		return err
	}
	return p.conn.WriteMessage(pkt.Encode())
}

// decrypt opens one inbound packet on the peer's session.
func (p *peer) decrypt(pkt *protocol.Packet) (*protocol.Payload, uint64, error) {
	p.sessMu.Lock()
	defer p.sessMu.Unlock()
	return p.session.DecryptPacket(pkt)
}

// enqueue appends a decoded payload for the consumer goroutine.
// Payloads arriving after close are dropped.
func (p *peer) enqueue(payload *protocol.Payload) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.queue = append(p.queue, payload)
	p.cond.Signal()
}

// consumeLoop drains the queue in order, invoking dispatch for each
// payload. It returns once the peer is closed and the queue is empty.
func (p *peer) consumeLoop(dispatch func(ConnID, *protocol.Payload)) {
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}
		payload := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()

		dispatch(p.id, payload)
	}
}

// runReadLoop receives, decrypts, and enqueues packets for one peer
// until the transport fails. Authentication failures and replays drop
// the packet and raise a security event; decode failures drop the
// packet. None of them end the loop.
func runReadLoop(p *peer, emit func(SecurityEvent)) error {
	var (
		lastCounter uint64
		seenAny     bool
	)

	event := func(kind SecurityEventKind, detail string) {
		emit(SecurityEvent{
			Time:   time.Now(),
			Conn:   p.id,
			Remote: p.conn.RemoteAddr(),
			Kind:   kind,
			Detail: detail,
		})
	}

	for {
		frame, err := p.conn.ReadMessage()
		if err != nil {
			return err
		}

		pkt, err := protocol.DecodePacket(frame)
		if err != nil {
			event(EventDecodeFailed, err.Error())
			continue
		}

		// Counters must move forward; an old counter is a replayed or
		// reordered packet and is never dispatched.
		if seenAny && pkt.Counter <= lastCounter {
			event(EventReplayDropped, fmt.Sprintf("counter %d after %d", pkt.Counter, lastCounter))
			continue
		}

		payload, counter, err := p.decrypt(pkt)
		if err != nil {
			switch {
			case errors.Is(err, crypto.ErrDecryptionFailed):
				event(EventAuthFailed, err.Error())
			case errors.Is(err, protocol.ErrSessionClosed):
				return ErrConnClosed
			default:
				event(EventDecodeFailed, err.Error())
			}
			continue
		}
		lastCounter = counter
		seenAny = true

		p.enqueue(payload)
	}
}

// close tears down the transport, wipes the session keys, and wakes the
// consumer. Queued payloads are still delivered before the consumer
// exits. Idempotent.
func (p *peer) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()

	p.conn.Close()

	p.sessMu.Lock()
	p.session.Close()
	p.sessMu.Unlock()
}

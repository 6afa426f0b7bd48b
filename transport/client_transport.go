// Package transport implements the client-side transport layer with multiplexing and heartbeat.
//
// ClientTransport enables multiple concurrent RPC calls over a single TCP connection.
// The key insight: each request gets a unique sequence ID, and a background goroutine (recvLoop)
// continuously reads responses and routes them to the correct caller via pending channels.
//
//	goroutine-1 ──Send(seq=1)──┐
//	goroutine-2 ──Send(seq=2)──┼──→ single TCP conn ──→ Server
//	goroutine-3 ──Send(seq=3)──┘
//
//	recvLoop:  ←── response(seq=2) → pending[2] chan ← response → goroutine-2 wakes up
//
// ClientTransport itself is adapter-agnostic: Send/recvLoop move already-
// encoded serial.Adapter bytes, tagged with the adapter type byte the
// protocol header carries, across the wire. This package's Call type is
// what turns this into a client.Transport for one logical RPC round trip.
package transport

import (
	"errors"
	"net"
	"sync"
	"time"

	"callrpc/protocol"
)

// ClientTransport manages a single multiplexed TCP connection.
type ClientTransport struct {
	conn        net.Conn   // Underlying TCP connection
	adapterType byte       // Which serial.Adapter this transport's frames carry
	seq         uint32     // Monotonically increasing sequence number (protected by sending mutex)
	pending     sync.Map   // map[uint32]chan []byte — each request waits on its own channel
	sending     sync.Mutex // Write lock — multiple goroutines share one conn, writes must be serialized
	//                        to prevent frame interleaving (req A's header + req B's body = corruption)
}

// NewClientTransport creates a transport for the given connection and starts two background goroutines:
//   - recvLoop: continuously reads responses from the connection and dispatches to pending callers
//   - heartbeatLoop: sends periodic heartbeat frames to detect dead connections
func NewClientTransport(conn net.Conn, adapterType byte) *ClientTransport {
	t := &ClientTransport{
		conn:        conn,
		adapterType: adapterType,
	}
	go t.recvLoop()
	go t.heartbeatLoop(30 * time.Second)
	return t
}

// send writes one request frame and registers a response channel for its
// sequence number. Thread safety: the sending mutex ensures the entire
// frame (header + body) is written atomically — without it, concurrent
// writes would interleave bytes from different requests, corrupting the
// TCP stream.
func (t *ClientTransport) send(data []byte) (uint32, <-chan []byte, error) {
	t.sending.Lock()
	defer t.sending.Unlock()

	t.seq++
	seq := t.seq

	header := protocol.Header{
		AdapterType: t.adapterType,
		MsgType:     protocol.MsgTypeRequest,
		Seq:         seq,
		BodyLen:     uint32(len(data)),
	}

	respChan := make(chan []byte, 1) // Buffered to prevent recvLoop from blocking
	t.pending.Store(seq, respChan)

	if err := protocol.Encode(t.conn, &header, data); err != nil {
		t.pending.Delete(seq)
		return 0, nil, err
	}

	return seq, respChan, nil
}

// NewCall starts a fresh logical RPC round trip over this connection,
// returning a value that implements client.Transport's Send/Receive pair.
// A *ClientTransport is long-lived and has many Calls made against it over
// its lifetime, concurrently if need be; each Call is single-use.
func (t *ClientTransport) NewCall() *Call {
	return &Call{ct: t}
}

// Call is a single logical RPC round trip over a shared ClientTransport.
// It implements client.Transport: Send enqueues the request frame, Receive
// blocks for the matching reply frame. Unlike ClientTransport, a Call is
// used once and discarded — it carries no state beyond the one outstanding
// sequence number it is waiting on.
type Call struct {
	ct     *ClientTransport
	respCh <-chan []byte
}

func (c *Call) Send(data []byte) error {
	_, ch, err := c.ct.send(data)
	if err != nil {
		return err
	}
	c.respCh = ch
	return nil
}

func (c *Call) Receive() ([]byte, error) {
	data, ok := <-c.respCh
	if !ok {
		return nil, errors.New("transport: connection closed while awaiting reply")
	}
	return data, nil
}

// recvLoop runs in a dedicated goroutine, continuously reading responses from the connection.
// For each response, it looks up the sequence number in the pending map, finds the caller's
// channel, and sends the response. This is the core of multiplexing — responses can arrive
// in any order, and each one is routed to the correct waiting goroutine.
//
// Why a single goroutine for reading? TCP is a byte stream — reads must be sequential
// to correctly parse frame boundaries. Multiple readers would corrupt the stream.
func (t *ClientTransport) recvLoop() {
	for {
		header, body, err := protocol.Decode(t.conn)
		if err != nil {
			t.closeAllPending()
			return
		}

		if header.MsgType == protocol.MsgTypeHeartbeat {
			continue
		}

		if channel, ok := t.pending.LoadAndDelete(header.Seq); ok {
			channel.(chan []byte) <- body
		}
	}
}

// closeAllPending is called when the connection breaks. It closes every
// pending caller's channel so Receive returns an error instead of blocking
// forever — this is the "torn read surfaces as ClientReceive" contract from
// spec.md §5 (cancellation: breaking the transport is the only abort path).
func (t *ClientTransport) closeAllPending() {
	t.pending.Range(func(key, value any) bool {
		close(value.(chan []byte))
		t.pending.Delete(key)
		return true
	})
}

// Conn returns the underlying TCP connection.
func (t *ClientTransport) Conn() net.Conn {
	return t.conn
}

// heartbeatLoop sends periodic heartbeat frames to keep the connection alive.
// If the server doesn't receive any data for a long time, it may close the connection.
// Heartbeat frames have MsgType=Heartbeat and no body, so they're very lightweight.
func (t *ClientTransport) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		header := &protocol.Header{
			AdapterType: t.adapterType,
			MsgType:     protocol.MsgTypeHeartbeat,
			BodyLen:     0,
		}
		t.sending.Lock()
		err := protocol.Encode(t.conn, header, nil)
		t.sending.Unlock()
		if err != nil {
			return
		}
	}
}

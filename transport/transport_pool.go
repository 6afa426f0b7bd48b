package transport

import (
	"net"
	"sync"

	"callrpc/protocol"
)

// TransportPool keeps one ConnPool of exclusively-owned TCP connections per
// address, for hosts that talk to many addresses (e.g. behind a load
// balancer) and want connection reuse without ClientTransport's
// multiplexing — each pooled connection serves exactly one in-flight call
// at a time, matching ConnPool's own borrow/return contract.
type TransportPool struct {
	mu          sync.Mutex
	adapterType byte
	maxConns    int
	pools       map[string]*ConnPool
}

// NewTransportPool creates a pool that dials TCP and tags every frame with
// adapterType, keeping at most maxConns live connections per address.
func NewTransportPool(adapterType byte, maxConns int) *TransportPool {
	return &TransportPool{
		adapterType: adapterType,
		maxConns:    maxConns,
		pools:       make(map[string]*ConnPool),
	}
}

func (tp *TransportPool) poolFor(addr string) *ConnPool {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	pool, ok := tp.pools[addr]
	if !ok {
		pool = NewConnPool(addr, tp.maxConns, func() (net.Conn, error) {
			return net.Dial("tcp", addr)
		})
		tp.pools[addr] = pool
	}
	return pool
}

// NewCall checks a connection out of addr's pool (dialing lazily if needed)
// and returns a client.Transport good for one logical RPC round trip. The
// connection returns to the pool once the reply has been read, or is
// discarded if the round trip failed.
func (tp *TransportPool) NewCall(addr string) (*pooledCall, error) {
	pool := tp.poolFor(addr)
	conn, err := pool.Get()
	if err != nil {
		return nil, err
	}
	return &pooledCall{pool: pool, conn: conn, adapterType: tp.adapterType}, nil
}

// Close closes every pooled connection across every address.
func (tp *TransportPool) Close() error {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	for _, pool := range tp.pools {
		pool.Close()
	}
	return nil
}

// pooledCall implements client.Transport over one exclusively-owned,
// non-multiplexed connection checked out of a TransportPool.
type pooledCall struct {
	pool        *ConnPool
	conn        *PoolConn
	adapterType byte
	seq         uint32
}

func (c *pooledCall) Send(data []byte) error {
	c.seq++
	header := protocol.Header{
		AdapterType: c.adapterType,
		MsgType:     protocol.MsgTypeRequest,
		Seq:         c.seq,
		BodyLen:     uint32(len(data)),
	}
	if err := protocol.Encode(c.conn, &header, data); err != nil {
		c.conn.unusable = true
		c.pool.Put(c.conn)
		return err
	}
	return nil
}

func (c *pooledCall) Receive() ([]byte, error) {
	_, body, err := protocol.Decode(c.conn)
	if err != nil {
		c.conn.unusable = true
		c.pool.Put(c.conn)
		return nil, err
	}
	c.pool.Put(c.conn)
	return body, nil
}

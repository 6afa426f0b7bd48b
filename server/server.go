// Package server implements the example TCP host for a dispatch.Server: it
// owns the accept loop, the per-connection frame read/write, the middleware
// chain, and etcd service registration/deregistration. Business dispatch
// itself — name lookup, argument decoding, the bound Go call — belongs
// entirely to dispatch.Server; this package only moves bytes and frames
// them.
//
// Request processing pipeline:
//
//	Accept conn → handleConn (single goroutine reads frames)
//	  → for each request: go handleRequest (parallel processing)
//	    → Middleware Chain → dispatch.Server.Dispatch → write response
package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"callrpc/dispatch"
	"callrpc/middleware"
	"callrpc/protocol"
	"callrpc/registry"
)

// Server hosts a dispatch.Server over TCP, applying a middleware chain to
// every request and optionally registering itself in a service registry.
type Server struct {
	name          string             // Service name used when registering with a registry
	dispatcher    *dispatch.Server   // Where requests are actually resolved and invoked
	adapterType   byte               // protocol.AdapterType* — must match dispatcher's adapter
	listener      net.Listener       // TCP listener
	wg            sync.WaitGroup     // Tracks in-flight requests for graceful shutdown
	shutdown      atomic.Bool        // Set to true during shutdown to suppress Accept errors
	middlewares   []middleware.Middleware
	handler       middleware.HandlerFunc // middleware(middleware(...(dispatcher.Dispatch)))
	registry      registry.Registry      // Service registry (etcd), nil if not using discovery
	advertiseAddr string                 // Address registered in the registry, e.g. "127.0.0.1:8080"
	// Different from the listen address (":8080") because registries need a routable IP.
}

// NewServer wraps dispatcher as a named, network-reachable service.
// adapterType must match the serial.Adapter dispatcher was built with —
// it is stamped on every reply frame's header.
func NewServer(name string, dispatcher *dispatch.Server, adapterType byte) *Server {
	return &Server{name: name, dispatcher: dispatcher, adapterType: adapterType}
}

// Use registers a middleware. Middlewares are applied in the order they are added.
func (svr *Server) Use(mw middleware.Middleware) {
	svr.middlewares = append(svr.middlewares, mw)
}

// Serve starts the server: listens on the given address, optionally registers with the
// registry, and enters the Accept loop to handle incoming connections.
//
// Parameters:
//   - advertiseAddr: the address to register in the registry (e.g. "127.0.0.1:8080").
//     This differs from the listen address because ":8080" resolves to "[::]:8080" locally.
//   - reg: the registry implementation. Pass nil to skip service discovery.
func (svr *Server) Serve(network, address string, advertiseAddr string, reg registry.Registry) error {
	listener, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	svr.listener = listener

	// Build the middleware chain once at startup (not per-request).
	// Chain wraps middlewares in reverse order to create the onion model:
	//   Chain(A, B, C)(handler) → A(B(C(handler)))
	//   Execution order: A.before → B.before → C.before → handler → C.after → B.after → A.after
	svr.handler = middleware.Chain(svr.middlewares...)(func(_ context.Context, req []byte) []byte {
		return svr.dispatcher.Dispatch(req)
	})

	svr.advertiseAddr = advertiseAddr
	if reg != nil {
		svr.registry = reg
		svr.registry.Register(svr.name, registry.ServiceInstance{Addr: advertiseAddr}, 10)
	}

	// Accept loop: one goroutine per connection.
	for {
		conn, err := listener.Accept()
		if err != nil {
			// During shutdown, listener.Close() causes Accept to return an error.
			// Check the shutdown flag to distinguish intentional close from real errors.
			if svr.shutdown.Load() {
				return nil
			}
			return err
		}
		go svr.handleConn(conn)
	}
}

// handleConn processes a single TCP connection.
// It runs a read loop in a single goroutine (reads must be sequential to parse frame boundaries),
// but dispatches each request to its own goroutine for parallel processing.
//
// A per-connection write mutex (writeMu) is shared among all request goroutines on this connection.
// This prevents frame interleaving when multiple goroutines write responses concurrently.
func (svr *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	writeMu := &sync.Mutex{} // Per-connection write lock, shared by all requests on this conn
	for {
		header, body, err := protocol.Decode(conn)
		if err != nil {
			break // Connection closed or protocol error
		}

		if header.MsgType == protocol.MsgTypeHeartbeat {
			continue
		}

		// Dispatch request to a new goroutine for parallel processing. Without `go`,
		// a slow call on request 1 would block every subsequent request on this conn.
		go svr.handleRequest(header, body, conn, writeMu)
	}
}

// handleRequest processes a single RPC request: middleware chain → dispatch → write.
func (svr *Server) handleRequest(header *protocol.Header, body []byte, conn net.Conn, writeMu *sync.Mutex) {
	svr.wg.Add(1)
	defer svr.wg.Done()

	reply := svr.handler(context.Background(), body)

	writeMu.Lock()
	defer writeMu.Unlock()

	replyHeader := protocol.Header{
		AdapterType: svr.adapterType,
		MsgType:     protocol.MsgTypeResponse,
		Seq:         header.Seq, // Same seq as request — this is how multiplexing works
		BodyLen:     uint32(len(reply)),
	}
	if err := protocol.Encode(conn, &replyHeader, reply); err != nil {
		log.Println("failed to write reply frame:", err)
	}
}

// Shutdown performs graceful shutdown:
//  1. Deregister from the registry first — so clients stop routing new requests here.
//  2. Set the shutdown flag before closing the listener (so Accept's resulting error
//     is recognized as intentional rather than propagated to the caller of Serve).
//  3. Close the listener.
//  4. Wait for in-flight requests to finish, bounded by timeout.
func (svr *Server) Shutdown(timeout time.Duration) error {
	if svr.registry != nil {
		svr.registry.Deregister(svr.name, svr.advertiseAddr)
	}

	svr.shutdown.Store(true)
	svr.listener.Close()

	done := make(chan struct{})
	go func() {
		svr.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timeout waiting for ongoing requests to finish")
	}
}

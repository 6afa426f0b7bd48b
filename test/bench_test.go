package test

import (
	"net"
	"testing"
	"time"

	"callrpc/client"
	"callrpc/dispatch"
	"callrpc/pack"
	"callrpc/protocol"
	"callrpc/serial/binaryadapter"
	"callrpc/serial/jsonadapter"
	"callrpc/server"
	"callrpc/transport"
)

func setupServer(b *testing.B, addr string) *server.Server {
	dispatcher := dispatch.NewServer(jsonadapter.New())
	bindArith(dispatcher)
	dispatcher.Freeze()

	svr := server.NewServer("Arith", dispatcher, protocol.AdapterTypeJSON)
	go svr.Serve("tcp", addr, "", nil)
	time.Sleep(100 * time.Millisecond)
	return svr
}

// BenchmarkSerialCall: one goroutine, one connection reused across calls via
// the multiplexed ClientTransport.
func BenchmarkSerialCall(b *testing.B) {
	svr := setupServer(b, "127.0.0.1:29090")
	b.Cleanup(func() { svr.Shutdown(3 * time.Second) })

	conn, err := net.Dial("tcp", "127.0.0.1:29090")
	if err != nil {
		b.Fatal(err)
	}
	ct := transport.NewClientTransport(conn, protocol.AdapterTypeJSON)
	c := client.New(jsonadapter.New())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := client.CallFunc[int](c, ct.NewCall(), "SimpleSum", 1, 2); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkConcurrentCall: many goroutines sharing one multiplexed connection.
func BenchmarkConcurrentCall(b *testing.B) {
	svr := setupServer(b, "127.0.0.1:29091")
	b.Cleanup(func() { svr.Shutdown(3 * time.Second) })

	conn, err := net.Dial("tcp", "127.0.0.1:29091")
	if err != nil {
		b.Fatal(err)
	}
	ct := transport.NewClientTransport(conn, protocol.AdapterTypeJSON)
	c := client.New(jsonadapter.New())

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := client.CallFunc[int](c, ct.NewCall(), "SimpleSum", 1, 2); err != nil {
				b.Error(err)
				return
			}
		}
	})
}

// BenchmarkAdapterJSON measures the JSON serial.Adapter's round trip cost,
// with no network involved.
func BenchmarkAdapterJSON(b *testing.B) {
	adapter := jsonadapter.New()
	call := pack.New("SimpleSum", []any{1, 2})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		obj := adapter.EmptyObject()
		if err := adapter.SerializePack(obj, call); err != nil {
			b.Fatal(err)
		}
		data, err := adapter.ToBytes(obj)
		if err != nil {
			b.Fatal(err)
		}
		if _, ok := adapter.FromBytes(data); !ok {
			b.Fatal("FromBytes failed")
		}
	}
}

// BenchmarkAdapterBinary measures the binary serial.Adapter's round trip
// cost against the same call, for comparison against BenchmarkAdapterJSON.
func BenchmarkAdapterBinary(b *testing.B) {
	adapter := binaryadapter.New()
	call := pack.New("SimpleSum", []any{1, 2})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		obj := adapter.EmptyObject()
		if err := adapter.SerializePack(obj, call); err != nil {
			b.Fatal(err)
		}
		data, err := adapter.ToBytes(obj)
		if err != nil {
			b.Fatal(err)
		}
		if _, ok := adapter.FromBytes(data); !ok {
			b.Fatal("FromBytes failed")
		}
	}
}

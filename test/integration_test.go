// Package test exercises the full callrpc stack end to end: dispatch,
// client, transport, protocol, middleware, server, registry, and
// loadbalance wired together over real TCP connections, covering spec
// scenarios S1, S2, S3 and S5.
package test

import (
	"net"
	"testing"
	"time"

	"callrpc/client"
	"callrpc/dispatch"
	"callrpc/loadbalance"
	"callrpc/middleware"
	"callrpc/protocol"
	"callrpc/registry"
	"callrpc/rpcerr"
	"callrpc/serial/jsonadapter"
	"callrpc/server"
	"callrpc/transport"
)

// mockRegistry is an in-memory registry.Registry, letting these tests
// exercise registry discovery and load balancing without a live etcd.
type mockRegistry struct {
	instances map[string][]registry.ServiceInstance
}

func newMockRegistry() *mockRegistry {
	return &mockRegistry{instances: make(map[string][]registry.ServiceInstance)}
}

func (m *mockRegistry) Register(serviceName string, inst registry.ServiceInstance, ttl int64) error {
	m.instances[serviceName] = append(m.instances[serviceName], inst)
	return nil
}

func (m *mockRegistry) Deregister(serviceName string, addr string) error {
	insts := m.instances[serviceName]
	for i, inst := range insts {
		if inst.Addr == addr {
			m.instances[serviceName] = append(insts[:i], insts[i+1:]...)
			break
		}
	}
	return nil
}

func (m *mockRegistry) Discover(serviceName string) ([]registry.ServiceInstance, error) {
	return m.instances[serviceName], nil
}

func (m *mockRegistry) Watch(serviceName string) <-chan []registry.ServiceInstance {
	return nil
}

func bindArith(dispatcher *dispatch.Server) {
	dispatcher.Bind("SimpleSum", func(a, b int) int { return a + b })
	dispatcher.Bind("Fibonacci", func(n int) int {
		if n < 2 {
			return n
		}
		a, b := 0, 1
		for i := 1; i < n; i++ {
			a, b = b, a+b
		}
		return b
	})
	dispatcher.Bind("AddOneToEachRef", func(arr *[]int) {
		for i := range *arr {
			(*arr)[i]++
		}
	})
}

func dialCall(t *testing.T, addr string) *transport.Call {
	t.Helper()
	var conn net.Conn
	var err error
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		conn, err = net.Dial("tcp", addr)
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("dial %s: %v", addr, err)
	}
	ct := transport.NewClientTransport(conn, protocol.AdapterTypeJSON)
	return ct.NewCall()
}

// TestFullStackSingleServer covers S1 (SimpleSum), S2 (Fibonacci), and S3
// (AddOneToEachRef out-param) against one server reachable directly, with
// the logging middleware wrapping the dispatcher.
func TestFullStackSingleServer(t *testing.T) {
	dispatcher := dispatch.NewServer(jsonadapter.New())
	bindArith(dispatcher)
	dispatcher.Freeze()

	svr := server.NewServer("Arith", dispatcher, protocol.AdapterTypeJSON)
	svr.Use(middleware.LoggingMiddleware(jsonadapter.New()))
	go svr.Serve("tcp", ":19190", "", nil)
	defer svr.Shutdown(3 * time.Second)
	time.Sleep(100 * time.Millisecond)

	c := client.New(jsonadapter.New())

	sum, err := client.CallFunc[int](c, dialCall(t, "127.0.0.1:19190"), "SimpleSum", 3, 5)
	if err != nil || sum != 8 {
		t.Fatalf("SimpleSum: got (%v, %v), want (8, nil)", sum, err)
	}

	fib, err := client.CallFunc[int](c, dialCall(t, "127.0.0.1:19190"), "Fibonacci", 10)
	if err != nil || fib != 55 {
		t.Fatalf("Fibonacci: got (%v, %v), want (55, nil)", fib, err)
	}

	nums := []int{1, 2, 3}
	if err := client.CallVoid(c, dialCall(t, "127.0.0.1:19190"), "AddOneToEachRef", &nums); err != nil {
		t.Fatalf("AddOneToEachRef: %v", err)
	}
	want := []int{2, 3, 4}
	for i := range want {
		if nums[i] != want[i] {
			t.Fatalf("nums = %v, want %v", nums, want)
		}
	}
}

// TestFullStackFunctionNotFound covers S5.
func TestFullStackFunctionNotFound(t *testing.T) {
	dispatcher := dispatch.NewServer(jsonadapter.New())
	dispatcher.Freeze()

	svr := server.NewServer("Empty", dispatcher, protocol.AdapterTypeJSON)
	go svr.Serve("tcp", ":19191", "", nil)
	defer svr.Shutdown(3 * time.Second)
	time.Sleep(100 * time.Millisecond)

	c := client.New(jsonadapter.New())
	_, err := client.CallFunc[int](c, dialCall(t, "127.0.0.1:19191"), "DoesNotExist")
	if rpcerr.KindOf(err, rpcerr.None) != rpcerr.FunctionNotFound {
		t.Fatalf("kind = %v, want FunctionNotFound", rpcerr.KindOf(err, rpcerr.None))
	}
}

// TestFullStackMultiServerLoadBalanced covers load-balanced dispatch across
// two server instances discovered through a registry, round-robin picked.
func TestFullStackMultiServerLoadBalanced(t *testing.T) {
	addrs := []string{"127.0.0.1:19192", "127.0.0.1:19193"}
	for _, addr := range addrs {
		dispatcher := dispatch.NewServer(jsonadapter.New())
		bindArith(dispatcher)
		dispatcher.Freeze()

		svr := server.NewServer("Arith", dispatcher, protocol.AdapterTypeJSON)
		go svr.Serve("tcp", addr, "", nil)
		defer svr.Shutdown(3 * time.Second)
	}
	time.Sleep(100 * time.Millisecond)

	reg := newMockRegistry()
	for _, addr := range addrs {
		reg.Register("Arith", registry.ServiceInstance{Addr: addr, Weight: 10}, 10)
	}
	bal := &loadbalance.RoundRobinBalancer{}

	c := client.New(jsonadapter.New())
	for i := 1; i <= 10; i++ {
		instances, err := reg.Discover("Arith")
		if err != nil {
			t.Fatalf("discover: %v", err)
		}
		inst, err := bal.Pick(instances)
		if err != nil {
			t.Fatalf("pick: %v", err)
		}

		got, err := client.CallFunc[int](c, dialCall(t, inst.Addr), "SimpleSum", i, i*10)
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		if want := i + i*10; got != want {
			t.Fatalf("request %d: got %d, want %d", i, got, want)
		}
	}
}

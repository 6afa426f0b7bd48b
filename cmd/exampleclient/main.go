// Command exampleclient dials an examplesvr instance and calls each of its
// bound example functions once, printing the result — a smoke test for the
// client/transport/protocol stack over a real socket. By default it dials
// -addr; with -etcd set it discovers the instance through the registry and
// picks one via a load balancer instead.
package main

import (
	"flag"
	"fmt"
	"log"
	"net"

	"callrpc/client"
	"callrpc/loadbalance"
	"callrpc/protocol"
	"callrpc/registry"
	"callrpc/serial/jsonadapter"
	"callrpc/transport"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:9000", "examplesvr address to dial directly; ignored when -etcd is set")
	etcdEndpoints := flag.String("etcd", "", "comma-separated etcd endpoints; when set, the target is discovered instead of using -addr")
	service := flag.String("service", "Example", "service name to discover in the registry")
	flag.Parse()

	target, err := resolveTarget(*addr, *etcdEndpoints, *service)
	if err != nil {
		log.Fatalf("resolve target: %v", err)
	}

	conn, err := net.Dial("tcp", target)
	if err != nil {
		log.Fatalf("dial %s: %v", target, err)
	}
	ct := transport.NewClientTransport(conn, protocol.AdapterTypeJSON)
	c := client.New(jsonadapter.New())

	sum, err := client.CallFunc[int](c, ct.NewCall(), "SimpleSum", 3, 5)
	if err != nil {
		log.Fatalf("SimpleSum: %v", err)
	}
	fmt.Printf("SimpleSum(3, 5) = %d\n", sum)

	fib, err := client.CallFunc[int](c, ct.NewCall(), "Fibonacci", 20)
	if err != nil {
		log.Fatalf("Fibonacci: %v", err)
	}
	fmt.Printf("Fibonacci(20) = %d\n", fib)

	nums := []int{1, 2, 3, 4}
	if err := client.CallVoid(c, ct.NewCall(), "AddOneToEachRef", &nums); err != nil {
		log.Fatalf("AddOneToEachRef: %v", err)
	}
	fmt.Printf("AddOneToEachRef(&%v) -> %v\n", []int{1, 2, 3, 4}, nums)

	plusOne, err := client.CallFunc[[]int](c, ct.NewCall(), "AddOneToEachValue", []int{1, 2, 3, 4})
	if err != nil {
		log.Fatalf("AddOneToEachValue: %v", err)
	}
	fmt.Printf("AddOneToEachValue([1 2 3 4]) = %v\n", plusOne)

	root, err := client.CallFunc[float64](c, ct.NewCall(), "SquareRoot", 2.0)
	if err != nil {
		log.Fatalf("SquareRoot: %v", err)
	}
	fmt.Printf("SquareRoot(2) = %v\n", root)

	area, err := client.CallFunc[int](c, ct.NewCall(), "Area", strangeParams{Width: 3, Height: 4})
	if err != nil {
		log.Fatalf("Area: %v", err)
	}
	fmt.Printf("Area(3x4) = %v\n", area)
}

// resolveTarget returns fallback unchanged when etcdEndpoints is empty.
// Otherwise it discovers service's registered instances through an
// EtcdRegistry and picks one with a RoundRobinBalancer, the same discovery
// path a production client behind a load balancer would take instead of a
// hardcoded address.
func resolveTarget(fallback, etcdEndpoints, service string) (string, error) {
	if etcdEndpoints == "" {
		return fallback, nil
	}

	reg, err := registry.NewEtcdRegistry(splitEndpoints(etcdEndpoints))
	if err != nil {
		return "", fmt.Errorf("connect etcd: %w", err)
	}

	instances, err := reg.Discover(service)
	if err != nil {
		return "", fmt.Errorf("discover %s: %w", service, err)
	}

	var balancer loadbalance.RoundRobinBalancer
	instance, err := balancer.Pick(instances)
	if err != nil {
		return "", fmt.Errorf("pick instance for %s: %w", service, err)
	}
	return instance.Addr, nil
}

func splitEndpoints(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

// strangeParams mirrors examplesvr's StrangeParams wire shape ("WxH") so
// the client can exercise the Marshaler hook from its own side too.
type strangeParams struct {
	Width, Height int
}

func (p strangeParams) MarshalRPCValue() (any, error) {
	return fmt.Sprintf("%dx%d", p.Width, p.Height), nil
}
